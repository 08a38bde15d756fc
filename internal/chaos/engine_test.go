package chaos

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"wsline/pkg/wsclient"
)

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"zero", Config{}, true},
		{"full", Config{Seed: 7, DropRate: 0.5, CutRate: 0.1, MaxDelay: time.Second}, true},
		{"drop rate high", Config{DropRate: 1.5}, false},
		{"drop rate negative", Config{DropRate: -0.1}, false},
		{"cut rate high", Config{CutRate: 2}, false},
		{"negative delay", Config{MaxDelay: -time.Second}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.ok && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestEngineDeterministicForSeed(t *testing.T) {
	draw := func() []bool {
		e, err := NewEngine(Config{Seed: 42, DropRate: 0.5})
		if err != nil {
			t.Fatalf("new engine: %v", err)
		}
		out := make([]bool, 100)
		for i := range out {
			out[i] = e.DropFrame()
		}
		return out
	}

	first, second := draw(), draw()
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("decision %d differs across runs with the same seed", i)
		}
	}
}

func TestEngineZeroRatesNeverFire(t *testing.T) {
	e, err := NewEngine(Config{Seed: 1})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	for i := 0; i < 1000; i++ {
		if e.DropFrame() || e.CutConnection() || e.Delay() != 0 {
			t.Fatalf("quiet engine injected a fault on draw %d", i)
		}
	}
}

func TestEngineFullRatesAlwaysFire(t *testing.T) {
	e, err := NewEngine(Config{Seed: 1, DropRate: 1, CutRate: 1})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	for i := 0; i < 100; i++ {
		if !e.DropFrame() || !e.CutConnection() {
			t.Fatalf("full-rate engine skipped a fault on draw %d", i)
		}
	}
	if e.Dropped() != 100 || e.Cuts() != 100 {
		t.Fatalf("counters = %d drops, %d cuts, want 100 each", e.Dropped(), e.Cuts())
	}
}

func TestEngineDelayBounded(t *testing.T) {
	max := 10 * time.Millisecond
	e, err := NewEngine(Config{Seed: 9, MaxDelay: max})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	for i := 0; i < 1000; i++ {
		if d := e.Delay(); d < 0 || d > max {
			t.Fatalf("delay %v outside [0, %v]", d, max)
		}
	}
}

func TestNilEngineIsQuiet(t *testing.T) {
	var e *Engine
	if e.DropFrame() || e.CutConnection() || e.Delay() != 0 || e.Dropped() != 0 || e.Cuts() != 0 {
		t.Fatal("nil engine must never inject")
	}
}

type stubConn struct {
	recv    chan []byte
	sent    [][]byte
	cancels int
}

func (c *stubConn) Resume() error { return nil }

func (c *stubConn) SendFrame(_ context.Context, payload []byte) error {
	c.sent = append(c.sent, payload)
	return nil
}

func (c *stubConn) ReceiveFrame(ctx context.Context) ([]byte, error) {
	select {
	case p, ok := <-c.recv:
		if !ok {
			return nil, io.EOF
		}
		return p, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *stubConn) SendPing(context.Context) error { return nil }

func (c *stubConn) Cancel(wsclient.CloseCode, string) error {
	c.cancels++
	return nil
}

type stubTransport struct {
	conn *stubConn
}

func (t *stubTransport) Open(context.Context, *http.Request) (wsclient.Conn, *http.Response, error) {
	return t.conn, &http.Response{StatusCode: http.StatusSwitchingProtocols}, nil
}

func TestTransportDropsInboundFrames(t *testing.T) {
	e, err := NewEngine(Config{Seed: 3, DropRate: 1})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	inner := &stubConn{recv: make(chan []byte, 3)}
	for _, p := range []string{"4a{}", "4b{}", "4c{}"} {
		inner.recv <- []byte(p)
	}
	close(inner.recv)

	conn, _, err := NewTransport(&stubTransport{conn: inner}, e).Open(context.Background(), nil)
	if err != nil {
		t.Fatalf("open transport: %v", err)
	}
	if _, err := conn.ReceiveFrame(context.Background()); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF after dropping every frame, got %v", err)
	}
	if e.Dropped() != 3 {
		t.Fatalf("dropped = %d, want 3", e.Dropped())
	}
}

func TestTransportCutsConnection(t *testing.T) {
	e, err := NewEngine(Config{Seed: 3, CutRate: 1})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	inner := &stubConn{recv: make(chan []byte, 1)}
	inner.recv <- []byte("4a{}")

	conn, _, err := NewTransport(&stubTransport{conn: inner}, e).Open(context.Background(), nil)
	if err != nil {
		t.Fatalf("open transport: %v", err)
	}
	if _, err := conn.ReceiveFrame(context.Background()); !errors.Is(err, ErrConnectionCut) {
		t.Fatalf("expected ErrConnectionCut, got %v", err)
	}
	if inner.cancels != 1 {
		t.Fatalf("cancels = %d, want 1", inner.cancels)
	}
	if err := conn.SendFrame(context.Background(), []byte("4b{}")); !errors.Is(err, ErrConnectionCut) {
		t.Fatalf("expected ErrConnectionCut on send, got %v", err)
	}
}

func TestTransportPassthroughWhenQuiet(t *testing.T) {
	inner := &stubConn{recv: make(chan []byte, 1)}
	inner.recv <- []byte("4a{}")

	conn, _, err := NewTransport(&stubTransport{conn: inner}, nil).Open(context.Background(), nil)
	if err != nil {
		t.Fatalf("open transport: %v", err)
	}
	payload, err := conn.ReceiveFrame(context.Background())
	if err != nil {
		t.Fatalf("receive frame: %v", err)
	}
	if string(payload) != "4a{}" {
		t.Fatalf("payload = %q, want %q", payload, "4a{}")
	}
	if err := conn.SendFrame(context.Background(), []byte("4b{}")); err != nil {
		t.Fatalf("send frame: %v", err)
	}
	if len(inner.sent) != 1 || string(inner.sent[0]) != "4b{}" {
		t.Fatalf("sent = %q, want one 4b{} frame", inner.sent)
	}
}
