package capture

import (
	"context"
	"net/http"
	"time"

	"wsline/pkg/envelope"
	"wsline/pkg/wsclient"
)

// Transport decorates another transport and appends every frame that
// crosses it to a Writer. Capture failures never disturb the stream;
// dropped records show up on Writer.Dropped.
type Transport struct {
	inner  wsclient.Transport
	writer *Writer
	codec  envelope.Codec
}

// NewTransport wraps inner so all traffic is captured through w. The
// codec classifies frames; pass the same codec the client uses.
func NewTransport(inner wsclient.Transport, w *Writer, codec envelope.Codec) *Transport {
	return &Transport{inner: inner, writer: w, codec: codec}
}

func (t *Transport) Open(ctx context.Context, req *http.Request) (wsclient.Conn, *http.Response, error) {
	conn, resp, err := t.inner.Open(ctx, req)
	if err != nil {
		return nil, resp, err
	}
	return &captureConn{Conn: conn, t: t}, resp, nil
}

func (t *Transport) record(dir Direction, payload []byte) {
	rec := Record{
		Direction:  dir,
		CapturedAt: time.Now().UnixNano(),
		Payload:    payload,
	}
	// Best effort: an unparsable frame is still worth keeping.
	if env, err := t.codec.ParseHeader(payload); err == nil {
		rec.Kind = env.Type
		rec.Event = env.Event
	}
	_ = t.writer.TryAppend(rec)
}

type captureConn struct {
	wsclient.Conn
	t *Transport
}

func (c *captureConn) SendFrame(ctx context.Context, payload []byte) error {
	if err := c.Conn.SendFrame(ctx, payload); err != nil {
		return err
	}
	c.t.record(DirOutbound, payload)
	return nil
}

func (c *captureConn) ReceiveFrame(ctx context.Context) ([]byte, error) {
	payload, err := c.Conn.ReceiveFrame(ctx)
	if err != nil {
		return nil, err
	}
	c.t.record(DirInbound, payload)
	return payload, nil
}
