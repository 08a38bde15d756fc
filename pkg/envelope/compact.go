package envelope

import (
	"fmt"

	"wsline/pkg/scanner"
)

// CompactCodec frames an envelope as a single ASCII type digit, the event
// name, and a trailing JSON body. Control frames are the bare digit. The
// event name ends at the first '{' or '[', so bodies must be JSON objects
// or arrays and event names cannot contain those characters.
type CompactCodec struct{}

func (CompactCodec) Build(t Type, event string, body any) ([]byte, error) {
	if !t.Wire() {
		return nil, fmt.Errorf("%w: type %s has no compact form", ErrInvalidPayload, t)
	}
	if idx := scanner.IndexJSONStart([]byte(event)); idx >= 0 {
		return nil, fmt.Errorf("%w: event name contains JSON start: %q", ErrInvalidPayload, event)
	}
	raw, err := marshalBody(body)
	if err != nil {
		return nil, err
	}
	if len(raw) > 0 && raw[0] != '{' && raw[0] != '[' {
		return nil, fmt.Errorf("%w: compact body must be a JSON object or array, got %q", ErrInvalidPayload, raw[0])
	}
	if len(raw) == 0 && event != "" {
		return nil, fmt.Errorf("%w: event %q requires a body", ErrInvalidPayload, event)
	}

	buf := make([]byte, 0, 1+len(event)+len(raw))
	buf = append(buf, byte('0'+t))
	buf = append(buf, event...)
	buf = append(buf, raw...)
	return buf, nil
}

func (CompactCodec) ParseHeader(payload []byte) (Envelope, error) {
	if len(payload) == 0 {
		return Envelope{}, fmt.Errorf("%w: empty frame", ErrInvalidPayload)
	}
	if !scanner.IsDigit(payload[0]) {
		return Envelope{}, fmt.Errorf("%w: type tag is not a digit: %q", ErrInvalidPayload, payload[0])
	}
	t := Type(payload[0] - '0')
	if !t.Wire() {
		return Envelope{}, fmt.Errorf("%w: unknown type digit: %q", ErrInvalidPayload, payload[0])
	}

	rest := payload[1:]
	idx := scanner.IndexJSONStart(rest)
	if idx < 0 {
		// No JSON start means no body, and an event always precedes a
		// body. Trailing bytes without one are dropped.
		return Envelope{Type: t}, nil
	}
	return Envelope{Type: t, Event: string(rest[:idx]), Body: rest[idx:]}, nil
}
