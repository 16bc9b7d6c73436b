package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DiskRecorder appends entries as JSON lines, one file per UTC day.
type DiskRecorder struct {
	dir string

	mu     sync.Mutex
	day    string
	f      *os.File
	enc    *json.Encoder
	closed bool
}

// NewDiskRecorder creates a DiskRecorder writing under dir.
// The directory is created if it does not exist.
func NewDiskRecorder(dir string) (*DiskRecorder, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &DiskRecorder{dir: dir}, nil
}

// Record appends e to the file for its day, rotating as needed.
func (r *DiskRecorder) Record(e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}

	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	day := e.At.UTC().Format("20060102")
	if r.f == nil || day != r.day {
		if err := r.rotateLocked(day); err != nil {
			return err
		}
	}

	return r.enc.Encode(e)
}

// Close closes the current file. Further Record calls return ErrClosed.
func (r *DiskRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	r.enc = nil
	return err
}

func (r *DiskRecorder) rotateLocked(day string) error {
	if r.f != nil {
		r.f.Close()
	}

	path := filepath.Join(r.dir, "envelopes-"+day+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		r.f = nil
		r.enc = nil
		return err
	}

	r.day = day
	r.f = f
	r.enc = json.NewEncoder(f)
	return nil
}
