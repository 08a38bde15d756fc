package envelope

import "errors"

var (
	ErrInvalidPayload = errors.New("envelope: invalid payload")
	ErrMissingData    = errors.New("envelope: missing data")
	ErrUnknownStyle   = errors.New("envelope: unknown codec style")
)

// Type tags the wire meaning of a frame.
type Type int8

const (
	// TypeError marks peer-reported errors. It is internal to the
	// process: the compact wire form cannot carry it.
	TypeError Type = -1
	// TypeTimeoutConfig carries a server-declared idle timeout.
	TypeTimeoutConfig Type = 1
	// TypePing is a liveness probe.
	TypePing Type = 2
	// TypePong answers a liveness probe.
	TypePong Type = 3
	// TypeApplication carries an event name and a JSON body.
	TypeApplication Type = 4
)

func (t Type) String() string {
	switch t {
	case TypeError:
		return "Error"
	case TypeTimeoutConfig:
		return "TimeoutConfig"
	case TypePing:
		return "Ping"
	case TypePong:
		return "Pong"
	case TypeApplication:
		return "Application"
	default:
		return "Unknown"
	}
}

// Known reports whether t belongs to the closed tag set, TypeError included.
func (t Type) Known() bool {
	switch t {
	case TypeError, TypeTimeoutConfig, TypePing, TypePong, TypeApplication:
		return true
	default:
		return false
	}
}

// Wire reports whether t is representable as a compact type digit.
func (t Type) Wire() bool {
	return t >= TypeTimeoutConfig && t <= TypeApplication
}

// Envelope is the parsed form of one frame. Event and Body are empty for
// zero-payload control frames.
type Envelope struct {
	Type  Type
	Event string
	Body  []byte
}

// TimeoutConfig is the body of a TypeTimeoutConfig envelope. The timeout
// is expressed in milliseconds.
type TimeoutConfig struct {
	Timeout int64 `json:"timeout"`
}
