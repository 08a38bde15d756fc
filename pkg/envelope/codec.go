package envelope

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// Codec builds and parses wire frames. Implementations are stateless and
// safe for concurrent use.
type Codec interface {
	// Build serializes an envelope. A nil body yields a zero-payload frame.
	Build(t Type, event string, body any) ([]byte, error)
	// ParseHeader splits a raw frame into its envelope parts without
	// decoding the body.
	ParseHeader(payload []byte) (Envelope, error)
}

// Style selects a wire strategy.
type Style string

const (
	// StyleCompact is the digit-tagged text format. It carries the full
	// control protocol and is the default.
	StyleCompact Style = "compact"
	// StyleJSON frames the whole envelope as one JSON document.
	StyleJSON Style = "json"
)

// New returns the codec for the given style. An empty style selects
// StyleCompact.
func New(style Style) (Codec, error) {
	switch style {
	case StyleCompact, "":
		return CompactCodec{}, nil
	case StyleJSON:
		return JSONCodec{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStyle, style)
	}
}

// Decode unmarshals the envelope body into T.
func Decode[T any](env Envelope) (T, error) {
	var out T
	if len(env.Body) == 0 {
		return out, fmt.Errorf("%w: type %s, event %q", ErrMissingData, env.Type, env.Event)
	}
	if err := sonic.ConfigFastest.Unmarshal(env.Body, &out); err != nil {
		return out, fmt.Errorf("decode envelope body: %w", err)
	}
	return out, nil
}

func marshalBody(body any) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	if raw, ok := body.([]byte); ok {
		return raw, nil
	}
	raw, err := sonic.ConfigFastest.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal body: %v", ErrInvalidPayload, err)
	}
	return raw, nil
}
