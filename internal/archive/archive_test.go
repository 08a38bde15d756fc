package archive

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"wsline/internal/capture"
	"wsline/pkg/envelope"
	"wsline/pkg/exception"
)

func TestNewRequiresClient(t *testing.T) {
	if _, err := New(nil, Config{}); err != exception.ErrNilInstance {
		t.Fatalf("expected ErrNilInstance, got %v", err)
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.Session != "default" {
		t.Fatalf("session = %q, want %q", cfg.Session, "default")
	}
	if cfg.BatchSize != 256 {
		t.Fatalf("batch size = %d, want 256", cfg.BatchSize)
	}
	if cfg.FlushInterval != 2*time.Second {
		t.Fatalf("flush interval = %v, want 2s", cfg.FlushInterval)
	}
	if cfg.QueueSize != 4096 {
		t.Fatalf("queue size = %d, want 4096", cfg.QueueSize)
	}
}

func TestFrameTableName(t *testing.T) {
	if got := (Frame{}).TableName(); got != "ws_frames" {
		t.Fatalf("table name = %q, want %q", got, "ws_frames")
	}
}

func TestFromRecord(t *testing.T) {
	payload := []byte(`4ticker{"price":"42.5"}`)
	rec := capture.Record{
		Direction:  capture.DirInbound,
		Kind:       envelope.TypeApplication,
		Event:      "ticker",
		CapturedAt: 1_000_000_000,
		Payload:    payload,
	}

	f := FromRecord(rec)
	if f.Direction != "in" {
		t.Fatalf("direction = %q, want %q", f.Direction, "in")
	}
	if f.Kind != int16(envelope.TypeApplication) {
		t.Fatalf("kind = %d, want %d", f.Kind, envelope.TypeApplication)
	}
	if f.Event != "ticker" || f.CapturedAt != 1_000_000_000 {
		t.Fatalf("unexpected frame meta: %+v", f)
	}
	if !bytes.Equal(f.Payload, payload) {
		t.Fatalf("payload = %q, want %q", f.Payload, payload)
	}

	// Capture readers reuse their payload buffer between records, so
	// the row must own a copy.
	payload[0] = 'x'
	if f.Payload[0] == 'x' {
		t.Fatal("frame payload aliases the record buffer")
	}
}

func TestTryStoreLifecycle(t *testing.T) {
	a := &Archiver{cfg: Config{}.withDefaults(), ch: make(chan Frame, 1)}
	if err := a.TryStore(Frame{}); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("store before start: expected ErrNotStarted, got %v", err)
	}

	a.started = 1
	if err := a.TryStore(Frame{Event: "a"}); err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := a.TryStore(Frame{Event: "b"}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("store past capacity: expected ErrQueueFull, got %v", err)
	}
	if a.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", a.Dropped())
	}

	a.closed = 1
	if err := a.TryStore(Frame{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("store after close: expected ErrClosed, got %v", err)
	}
}

func TestTryStoreStampsSession(t *testing.T) {
	a := &Archiver{cfg: Config{Session: "replay-7"}.withDefaults(), ch: make(chan Frame, 1)}
	a.started = 1
	if err := a.TryStore(Frame{Session: "caller"}); err != nil {
		t.Fatalf("store: %v", err)
	}
	got := <-a.ch
	if got.Session != "replay-7" {
		t.Fatalf("session = %q, want %q", got.Session, "replay-7")
	}
}
