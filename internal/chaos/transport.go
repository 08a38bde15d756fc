package chaos

import (
	"context"
	"errors"
	"net/http"
	"time"

	"wsline/pkg/wsclient"
)

// ErrConnectionCut marks a close forced by fault injection.
var ErrConnectionCut = errors.New("chaos: connection cut")

// Transport decorates another transport with fault injection: inbound
// frames may be dropped, frames in both directions may be delayed, and
// the connection may be cut mid-stream. It exists to exercise the
// client's reconnect and queue-drain paths against a live endpoint.
type Transport struct {
	inner  wsclient.Transport
	engine *Engine
}

// NewTransport wraps inner with the given engine. A nil engine yields a
// pure passthrough.
func NewTransport(inner wsclient.Transport, engine *Engine) *Transport {
	return &Transport{inner: inner, engine: engine}
}

func (t *Transport) Open(ctx context.Context, req *http.Request) (wsclient.Conn, *http.Response, error) {
	conn, resp, err := t.inner.Open(ctx, req)
	if err != nil {
		return nil, resp, err
	}
	return &chaosConn{Conn: conn, engine: t.engine}, resp, nil
}

type chaosConn struct {
	wsclient.Conn
	engine *Engine
}

func (c *chaosConn) SendFrame(ctx context.Context, payload []byte) error {
	if c.engine.CutConnection() {
		_ = c.Conn.Cancel(wsclient.CloseAbnormal, "chaos cut")
		return ErrConnectionCut
	}
	if err := c.sleep(ctx, c.engine.Delay()); err != nil {
		return err
	}
	return c.Conn.SendFrame(ctx, payload)
}

func (c *chaosConn) ReceiveFrame(ctx context.Context) ([]byte, error) {
	for {
		payload, err := c.Conn.ReceiveFrame(ctx)
		if err != nil {
			return nil, err
		}
		if c.engine.CutConnection() {
			_ = c.Conn.Cancel(wsclient.CloseAbnormal, "chaos cut")
			return nil, ErrConnectionCut
		}
		if c.engine.DropFrame() {
			continue
		}
		if err := c.sleep(ctx, c.engine.Delay()); err != nil {
			return nil, err
		}
		return payload, nil
	}
}

func (c *chaosConn) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
