package wsclient

import (
	"context"
	"net/http"
)

// CloseCode is an RFC 6455 close status.
type CloseCode int

const (
	CloseNormal    CloseCode = 1000
	CloseGoingAway CloseCode = 1001
	CloseAbnormal  CloseCode = 1006
)

// Conn is one live transport connection. Implementations own the wire
// protocol; the client only moves opaque frames through them.
type Conn interface {
	// Resume readies the connection for traffic. Called exactly once,
	// before the first send or receive.
	Resume() error
	// SendFrame writes one complete frame.
	SendFrame(ctx context.Context, payload []byte) error
	// ReceiveFrame blocks for the next complete frame. It is single-shot;
	// the caller re-invokes it for each frame.
	ReceiveFrame(ctx context.Context) ([]byte, error)
	// SendPing writes a protocol-level ping control frame.
	SendPing(ctx context.Context) error
	// Cancel closes the connection with the given status. Repeated calls
	// are harmless.
	Cancel(code CloseCode, reason string) error
}

// Transport opens logical connections. The returned response carries the
// upgrade handshake result and is non-nil even for rejected upgrades
// whenever the server answered at all.
type Transport interface {
	Open(ctx context.Context, req *http.Request) (Conn, *http.Response, error)
}
