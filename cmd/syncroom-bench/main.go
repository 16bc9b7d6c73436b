// Command syncroom-bench is a WebSocket load generator for the
// coordinator. Clients join documents in groups, stream edits at a
// fixed rate, and measure edit relay latency end to end.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/syncroom-dev/syncroom/pkg/protocol"
)

type profile struct {
	Name         string
	Clients      int
	Documents    int
	Duration     time.Duration
	RPS          float64
	PayloadBytes int
}

var profiles = map[string]profile{
	"fast": {
		Name:         "fast",
		Clients:      20,
		Documents:    5,
		Duration:     10 * time.Second,
		RPS:          2,
		PayloadBytes: 24,
	},
	"standard": {
		Name:         "standard",
		Clients:      100,
		Documents:    20,
		Duration:     30 * time.Second,
		RPS:          5,
		PayloadBytes: 64,
	},
	"stress": {
		Name:         "stress",
		Clients:      500,
		Documents:    50,
		Duration:     60 * time.Second,
		RPS:          10,
		PayloadBytes: 256,
	},
}

type benchConfig struct {
	Addr         string
	Profile      string
	Clients      int
	Documents    int
	Duration     time.Duration
	RPS          float64
	PayloadBytes int
	JSONOutput   string
}

type benchCounters struct {
	editsSent      atomic.Uint64
	editsDelivered atomic.Uint64
	presenceSeen   atomic.Uint64
	errorsReceived atomic.Uint64
	bytesReceived  atomic.Uint64

	dialFailures  atomic.Uint64
	writeFailures atomic.Uint64
	readFailures  atomic.Uint64
}

// latencyRecorder keeps a bounded sample of relay latencies.
type latencyRecorder struct {
	mu      sync.Mutex
	samples []time.Duration
	limit   int
}

func newLatencyRecorder(limit int) *latencyRecorder {
	return &latencyRecorder{limit: limit}
}

func (l *latencyRecorder) add(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.samples) < l.limit {
		l.samples = append(l.samples, d)
	}
}

func (l *latencyRecorder) percentiles() (p50, p95, p99 time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.samples) == 0 {
		return 0, 0, 0
	}
	sorted := append([]time.Duration(nil), l.samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	at := func(q float64) time.Duration {
		idx := int(math.Ceil(q*float64(len(sorted)))) - 1
		if idx < 0 {
			idx = 0
		}
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		return sorted[idx]
	}
	return at(0.50), at(0.95), at(0.99)
}

func (l *latencyRecorder) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.samples)
}

func main() {
	cfg := parseFlags()

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	counters := &benchCounters{}
	latencies := newLatencyRecorder(100000)

	fmt.Printf("syncroom-bench: %d clients, %d documents, %.1f edits/s per client, %s\n",
		cfg.Clients, cfg.Documents, cfg.RPS, cfg.Duration)

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < cfg.Clients; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			runClient(ctx, cfg, id, counters, latencies)
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)

	report(cfg, counters, latencies, elapsed)
}

func parseFlags() benchConfig {
	var cfg benchConfig
	var profileName string

	flag.StringVar(&cfg.Addr, "addr", "ws://localhost:8080/ws", "WebSocket endpoint")
	flag.StringVar(&profileName, "profile", "fast", "Load profile: fast, standard, stress")
	flag.IntVar(&cfg.Clients, "clients", 0, "Concurrent clients (overrides profile)")
	flag.IntVar(&cfg.Documents, "documents", 0, "Documents clients spread over (overrides profile)")
	flag.DurationVar(&cfg.Duration, "duration", 0, "Run duration (overrides profile)")
	flag.Float64Var(&cfg.RPS, "rps", 0, "Edits per second per client (overrides profile)")
	flag.IntVar(&cfg.PayloadBytes, "payload", 0, "Edit payload size in bytes (overrides profile)")
	flag.StringVar(&cfg.JSONOutput, "json", "", "Write the summary as JSON to this file")
	flag.Parse()

	p, ok := profiles[profileName]
	if !ok {
		log.Fatalf("unknown profile %q (want fast, standard, or stress)", profileName)
	}
	cfg.Profile = p.Name
	if cfg.Clients == 0 {
		cfg.Clients = p.Clients
	}
	if cfg.Documents == 0 {
		cfg.Documents = p.Documents
	}
	if cfg.Duration == 0 {
		cfg.Duration = p.Duration
	}
	if cfg.RPS == 0 {
		cfg.RPS = p.RPS
	}
	if cfg.PayloadBytes == 0 {
		cfg.PayloadBytes = p.PayloadBytes
	}
	if cfg.Documents > cfg.Clients {
		cfg.Documents = cfg.Clients
	}
	return cfg
}

func runClient(ctx context.Context, cfg benchConfig, id int, counters *benchCounters, latencies *latencyRecorder) {
	userID := fmt.Sprintf("bench-%d", id)
	documentID := fmt.Sprintf("bench-doc-%d", id%cfg.Documents)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := dialer.DialContext(ctx, cfg.Addr+"?user_id="+userID, nil)
	if err != nil {
		counters.dialFailures.Add(1)
		return
	}
	defer ws.Close()

	// Tear the socket down when the run ends so the read loop unblocks.
	go func() {
		<-ctx.Done()
		ws.Close()
	}()

	if err := send(ws, protocol.MessageJoinDocument, &protocol.JoinDocumentPayload{
		DocumentID: documentID,
	}); err != nil {
		counters.writeFailures.Add(1)
		return
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		readLoop(ws, counters, latencies)
	}()

	interval := time.Duration(float64(time.Second) / cfg.RPS)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	padding := strings.Repeat("x", cfg.PayloadBytes)
	position := 0

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case <-ticker.C:
			// Send time rides in the content so any recipient can
			// compute the relay latency.
			content := strconv.FormatInt(time.Now().UnixNano(), 10) + "|" + padding
			err := send(ws, protocol.MessageDocumentEdit, &protocol.DocumentEditPayload{
				DocumentID: documentID,
				Operation:  protocol.OpInsert,
				Position:   position,
				Content:    content,
			})
			if err != nil {
				counters.writeFailures.Add(1)
				wg.Wait()
				return
			}
			counters.editsSent.Add(1)
			position += len(content)
		}
	}
}

func readLoop(ws *websocket.Conn, counters *benchCounters, latencies *latencyRecorder) {
	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				counters.readFailures.Add(1)
			}
			return
		}
		counters.bytesReceived.Add(uint64(len(msg)))

		env, err := protocol.Decode(msg)
		if err != nil {
			continue
		}

		switch env.Type {
		case protocol.MessageDocumentEdit:
			counters.editsDelivered.Add(1)
			var p protocol.DocumentEditPayload
			if json.Unmarshal(env.Payload, &p) == nil {
				if idx := strings.IndexByte(p.Content, '|'); idx > 0 {
					if nanos, err := strconv.ParseInt(p.Content[:idx], 10, 64); err == nil {
						latencies.add(time.Since(time.Unix(0, nanos)))
					}
				}
			}
		case protocol.MessageUserPresence:
			counters.presenceSeen.Add(1)
		case protocol.MessageError:
			counters.errorsReceived.Add(1)
		}
	}
}

func send(ws *websocket.Conn, mt protocol.MessageType, payload any) error {
	env, err := protocol.New(mt, payload)
	if err != nil {
		return err
	}
	data, err := env.Encode()
	if err != nil {
		return err
	}
	ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return ws.WriteMessage(websocket.TextMessage, data)
}

type summary struct {
	Profile        string  `json:"profile"`
	Clients        int     `json:"clients"`
	Documents      int     `json:"documents"`
	DurationSec    float64 `json:"durationSec"`
	EditsSent      uint64  `json:"editsSent"`
	EditsDelivered uint64  `json:"editsDelivered"`
	PresenceSeen   uint64  `json:"presenceSeen"`
	ErrorsReceived uint64  `json:"errorsReceived"`
	BytesReceived  uint64  `json:"bytesReceived"`
	DialFailures   uint64  `json:"dialFailures"`
	WriteFailures  uint64  `json:"writeFailures"`
	ReadFailures   uint64  `json:"readFailures"`
	LatencySamples int     `json:"latencySamples"`
	LatencyP50Ms   float64 `json:"latencyP50Ms"`
	LatencyP95Ms   float64 `json:"latencyP95Ms"`
	LatencyP99Ms   float64 `json:"latencyP99Ms"`
}

func report(cfg benchConfig, counters *benchCounters, latencies *latencyRecorder, elapsed time.Duration) {
	p50, p95, p99 := latencies.percentiles()

	s := summary{
		Profile:        cfg.Profile,
		Clients:        cfg.Clients,
		Documents:      cfg.Documents,
		DurationSec:    elapsed.Seconds(),
		EditsSent:      counters.editsSent.Load(),
		EditsDelivered: counters.editsDelivered.Load(),
		PresenceSeen:   counters.presenceSeen.Load(),
		ErrorsReceived: counters.errorsReceived.Load(),
		BytesReceived:  counters.bytesReceived.Load(),
		DialFailures:   counters.dialFailures.Load(),
		WriteFailures:  counters.writeFailures.Load(),
		ReadFailures:   counters.readFailures.Load(),
		LatencySamples: latencies.count(),
		LatencyP50Ms:   float64(p50) / float64(time.Millisecond),
		LatencyP95Ms:   float64(p95) / float64(time.Millisecond),
		LatencyP99Ms:   float64(p99) / float64(time.Millisecond),
	}

	fmt.Printf("\n=== results (%s profile, %.1fs) ===\n", s.Profile, s.DurationSec)
	fmt.Printf("edits sent:       %d (%.1f/s)\n", s.EditsSent, float64(s.EditsSent)/s.DurationSec)
	fmt.Printf("edits delivered:  %d\n", s.EditsDelivered)
	fmt.Printf("presence events:  %d\n", s.PresenceSeen)
	fmt.Printf("error envelopes:  %d\n", s.ErrorsReceived)
	fmt.Printf("bytes received:   %d\n", s.BytesReceived)
	fmt.Printf("failures:         dial=%d write=%d read=%d\n",
		s.DialFailures, s.WriteFailures, s.ReadFailures)
	fmt.Printf("relay latency:    p50=%.2fms p95=%.2fms p99=%.2fms (%d samples)\n",
		s.LatencyP50Ms, s.LatencyP95Ms, s.LatencyP99Ms, s.LatencySamples)

	if cfg.JSONOutput != "" {
		data, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			log.Fatalf("marshal summary: %v", err)
		}
		if err := os.WriteFile(cfg.JSONOutput, data, 0o644); err != nil {
			log.Fatalf("write summary: %v", err)
		}
		fmt.Printf("summary written to %s\n", cfg.JSONOutput)
	}

	if s.DialFailures > 0 || s.WriteFailures > 0 {
		os.Exit(1)
	}
}
