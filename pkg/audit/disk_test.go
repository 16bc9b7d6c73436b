package audit_test

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/syncroom-dev/syncroom/pkg/audit"
)

func TestDiskRecorder_RecordAndRead(t *testing.T) {
	dir := t.TempDir()

	rec, err := audit.NewDiskRecorder(dir)
	if err != nil {
		t.Fatalf("failed to create recorder: %v", err)
	}
	defer rec.Close()

	at := time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC)
	entries := []audit.Entry{
		{MessageID: "m1", Type: "join_document", ConnectionID: "c1", UserID: "u1", DocumentID: "doc-1", Status: "ok", At: at},
		{MessageID: "m2", Type: "document_edit", ConnectionID: "c1", UserID: "u1", DocumentID: "doc-1", Status: "lock_conflict", Error: "document locked", At: at},
	}
	for _, e := range entries {
		if err := rec.Record(e); err != nil {
			t.Fatalf("failed to record: %v", err)
		}
	}

	f, err := os.Open(filepath.Join(dir, "envelopes-20260823.log"))
	if err != nil {
		t.Fatalf("failed to open log: %v", err)
	}
	defer f.Close()

	var got []audit.Entry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e audit.Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("failed to decode line: %v", err)
		}
		got = append(got, e)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan error: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].MessageID != "m1" || got[1].MessageID != "m2" {
		t.Errorf("entry order mismatch: %q, %q", got[0].MessageID, got[1].MessageID)
	}
	if got[1].Status != "lock_conflict" {
		t.Errorf("expected status lock_conflict, got %s", got[1].Status)
	}
	if got[1].Error != "document locked" {
		t.Errorf("expected error message, got %q", got[1].Error)
	}
}

func TestDiskRecorder_Closed(t *testing.T) {
	dir := t.TempDir()
	rec, _ := audit.NewDiskRecorder(dir)

	if err := rec.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	err := rec.Record(audit.Entry{MessageID: "m1", Type: "connect", Status: "ok"})
	if err != audit.ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}

	// Double close is a no-op
	if err := rec.Close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}
}

func TestDiskRecorder_AssignsTimestamp(t *testing.T) {
	dir := t.TempDir()
	rec, _ := audit.NewDiskRecorder(dir)
	defer rec.Close()

	before := time.Now().UTC()
	if err := rec.Record(audit.Entry{MessageID: "m1", Type: "connect", Status: "ok"}); err != nil {
		t.Fatalf("failed to record: %v", err)
	}

	name := "envelopes-" + before.Format("20060102") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("failed to read log: %v", err)
	}

	var e audit.Entry
	if err := json.Unmarshal(data, &e); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if e.At.IsZero() {
		t.Error("expected timestamp to be assigned")
	}
	if e.At.Before(before.Add(-time.Second)) {
		t.Errorf("timestamp too old: %v", e.At)
	}
}

func TestDiskRecorder_DayRotation(t *testing.T) {
	dir := t.TempDir()
	rec, _ := audit.NewDiskRecorder(dir)
	defer rec.Close()

	day1 := time.Date(2026, 8, 22, 23, 59, 0, 0, time.UTC)
	day2 := time.Date(2026, 8, 23, 0, 1, 0, 0, time.UTC)

	rec.Record(audit.Entry{MessageID: "m1", Type: "connect", Status: "ok", At: day1})
	rec.Record(audit.Entry{MessageID: "m2", Type: "connect", Status: "ok", At: day2})

	if _, err := os.Stat(filepath.Join(dir, "envelopes-20260822.log")); err != nil {
		t.Errorf("missing first day file: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "envelopes-20260823.log")); err != nil {
		t.Errorf("missing second day file: %v", err)
	}
}
