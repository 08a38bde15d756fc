package wsclient

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultWriteWait = 5 * time.Second
	defaultReadLimit = 1 << 20
)

// GorillaOption tunes the gorilla/websocket transport.
type GorillaOption struct {
	// HandshakeTimeout bounds the upgrade handshake. Optional; default 5s.
	HandshakeTimeout time.Duration
	// WriteWait bounds every frame and control write. Optional; default 5s.
	WriteWait time.Duration
	// ReadLimit caps inbound frame size in bytes. Optional; default 1 MiB.
	ReadLimit int64
}

func (opt GorillaOption) withDefaults() GorillaOption {
	if opt.HandshakeTimeout <= 0 {
		opt.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opt.WriteWait <= 0 {
		opt.WriteWait = defaultWriteWait
	}
	if opt.ReadLimit <= 0 {
		opt.ReadLimit = defaultReadLimit
	}
	return opt
}

// GorillaTransport opens connections with github.com/gorilla/websocket.
type GorillaTransport struct {
	opt GorillaOption
}

// NewGorillaTransport creates the standard production transport.
func NewGorillaTransport(opt GorillaOption) *GorillaTransport {
	return &GorillaTransport{opt: opt.withDefaults()}
}

func (t *GorillaTransport) Open(ctx context.Context, req *http.Request) (Conn, *http.Response, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: t.opt.HandshakeTimeout,
	}
	ws, resp, err := dialer.DialContext(ctx, req.URL.String(), req.Header)
	if err != nil {
		// resp still carries the server's answer on rejected upgrades.
		return nil, resp, fmt.Errorf("dial websocket: %w", err)
	}
	return &gorillaConn{ws: ws, opt: t.opt}, resp, nil
}

type gorillaConn struct {
	ws  *websocket.Conn
	opt GorillaOption

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// Resume installs the control-frame handlers and the read limit. Gorilla
// delivers ping/pong handlers only from within ReadMessage, so nothing
// runs before the receive loop starts.
func (c *gorillaConn) Resume() error {
	if c == nil || c.ws == nil {
		return ErrConnectionClosed
	}
	c.ws.SetReadLimit(c.opt.ReadLimit)
	c.ws.SetPingHandler(func(appData string) error {
		return c.writeControl(websocket.PongMessage, []byte(appData))
	})
	c.ws.SetPongHandler(func(string) error { return nil })
	return nil
}

func (c *gorillaConn) SendFrame(ctx context.Context, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(c.opt.WriteWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (c *gorillaConn) ReceiveFrame(ctx context.Context) ([]byte, error) {
	if d, ok := ctx.Deadline(); ok {
		if err := c.ws.SetReadDeadline(d); err != nil {
			return nil, fmt.Errorf("set read deadline: %w", err)
		}
	}
	_, payload, err := c.ws.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	return payload, nil
}

func (c *gorillaConn) SendPing(context.Context) error {
	return c.writeControl(websocket.PingMessage, nil)
}

// Cancel sends a close frame with the given status, then tears the
// socket down. Only the first call does work.
func (c *gorillaConn) Cancel(code CloseCode, reason string) error {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(int(code), reason)
		if err := c.writeControl(websocket.CloseMessage, msg); err != nil {
			c.closeErr = err
		}
		if err := c.ws.Close(); err != nil && c.closeErr == nil {
			c.closeErr = err
		}
	})
	return c.closeErr
}

func (c *gorillaConn) writeControl(messageType int, data []byte) error {
	return c.ws.WriteControl(messageType, data, time.Now().Add(c.opt.WriteWait))
}
