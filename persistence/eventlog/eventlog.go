// Package eventlog stores lifecycle events as zstd-compressed JSON lines.
package eventlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/klauspost/compress/zstd"

	"github.com/pthm-cable/meadow/telemetry"
)

// Writer appends events to one compressed JSONL file. It implements
// telemetry.EventSink and is safe for concurrent use.
type Writer struct {
	path string

	mu     sync.Mutex
	f      *os.File
	enc    *zstd.Encoder
	w      *bufio.Writer
	n      int
	failed atomic.Bool
}

// FileName returns the log file name used for a run.
func FileName(runID string) string {
	return fmt.Sprintf("events-%s.jsonl.zst", runID)
}

// Open creates the event log for runID inside dir.
func Open(dir, runID string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create event log dir: %w", err)
	}
	path := filepath.Join(dir, FileName(runID))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("zstd writer: %w", err)
	}
	return &Writer{
		path: path,
		f:    f,
		enc:  enc,
		w:    bufio.NewWriterSize(enc, 128*1024),
	}, nil
}

// Path returns the log file path.
func (w *Writer) Path() string { return w.path }

// Count returns the number of events written.
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.n
}

// Write appends one event.
func (w *Writer) Write(e telemetry.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.w == nil {
		return os.ErrClosed
	}

	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	w.n++

	// Episode boundaries are flushed so a crash loses at most one episode.
	if e.Type == telemetry.EventEpisodeEnd {
		if err := w.w.Flush(); err != nil {
			return err
		}
		return w.enc.Flush()
	}
	return nil
}

// Record implements telemetry.EventSink. The first write error is logged and
// later events are dropped.
func (w *Writer) Record(e telemetry.Event) {
	if w.failed.Load() {
		return
	}
	if err := w.Write(e); err != nil {
		w.failed.Store(true)
		slog.Error("event_log_write_failed", "path", w.path, "error", err)
	}
}

// Close flushes and closes the log.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.w == nil {
		return nil
	}

	var errs []error
	errs = append(errs, w.w.Flush())
	errs = append(errs, w.enc.Close())
	errs = append(errs, w.f.Close())
	w.w, w.enc, w.f = nil, nil, nil
	return errors.Join(errs...)
}

// Read decodes every event in the log at path and passes it to fn.
// Iteration stops at the first error returned by fn.
func Read(path string, fn func(telemetry.Event) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return fmt.Errorf("zstd reader: %w", err)
	}
	defer dec.Close()

	jd := json.NewDecoder(bufio.NewReader(dec))
	for {
		var e telemetry.Event
		if err := jd.Decode(&e); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("decode event: %w", err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
}

// Summary counts events by type.
type Summary struct {
	Events   int
	Episodes int
	ByType   map[telemetry.EventType]int
	ByClass  map[string]int
	LastTick int64
}

// Summarize reads the log at path and counts its events.
func Summarize(path string) (Summary, error) {
	s := Summary{
		ByType:  make(map[telemetry.EventType]int),
		ByClass: make(map[string]int),
	}
	err := Read(path, func(e telemetry.Event) error {
		s.Events++
		s.ByType[e.Type]++
		if e.Class != "" {
			s.ByClass[e.Class]++
		}
		if e.Type == telemetry.EventEpisodeEnd {
			s.Episodes++
		}
		if e.Tick > s.LastTick {
			s.LastTick = e.Tick
		}
		return nil
	})
	return s, err
}
