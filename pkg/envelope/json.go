package envelope

import (
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"
)

// JSONCodec frames the whole envelope as one JSON document. Unlike the
// compact form it can carry TypeError and non-object bodies.
type JSONCodec struct{}

type jsonFrame struct {
	Type  Type            `json:"type"`
	Event string          `json:"event,omitempty"`
	Body  json.RawMessage `json:"body,omitempty"`
}

func (JSONCodec) Build(t Type, event string, body any) ([]byte, error) {
	if !t.Known() {
		return nil, fmt.Errorf("%w: unknown type: %d", ErrInvalidPayload, t)
	}
	raw, err := marshalBody(body)
	if err != nil {
		return nil, err
	}
	if len(raw) > 0 && !json.Valid(raw) {
		return nil, fmt.Errorf("%w: body is not valid JSON", ErrInvalidPayload)
	}

	frame, err := sonic.ConfigFastest.Marshal(jsonFrame{Type: t, Event: event, Body: raw})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal frame: %v", ErrInvalidPayload, err)
	}
	return frame, nil
}

func (JSONCodec) ParseHeader(payload []byte) (Envelope, error) {
	if len(payload) == 0 {
		return Envelope{}, fmt.Errorf("%w: empty frame", ErrInvalidPayload)
	}
	var frame jsonFrame
	if err := sonic.ConfigFastest.Unmarshal(payload, &frame); err != nil {
		return Envelope{}, fmt.Errorf("%w: unmarshal frame: %v", ErrInvalidPayload, err)
	}
	if !frame.Type.Known() {
		return Envelope{}, fmt.Errorf("%w: unknown type: %d", ErrInvalidPayload, frame.Type)
	}
	return Envelope{Type: frame.Type, Event: frame.Event, Body: frame.Body}, nil
}
