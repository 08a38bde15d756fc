package feed

import (
	"fmt"

	"github.com/yanun0323/decimal"
	"github.com/yanun0323/errors"

	"wsline/pkg/envelope"
	"wsline/pkg/scanner"
)

// EventTicker is the application event carrying market ticks.
const EventTicker = "ticker"

var (
	keySymbol = []byte(`"symbol"`)
	keyTs     = []byte(`"ts"`)
)

// ErrNotTicker marks frames that are valid but not ticker events.
var ErrNotTicker = errors.New("not a ticker frame")

// Ticker is one market tick as the feed publishes it. Prices arrive as
// JSON strings, so exact decimal text survives the wire.
type Ticker struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	Qty    decimal.Decimal `json:"qty"`
	Ts     int64           `json:"ts"`
}

// Format renders one operator-readable line.
func (t Ticker) Format() string {
	return fmt.Sprintf("%s price=%v qty=%v ts=%d", t.Symbol, t.Price, t.Qty, t.Ts)
}

// DecodeFrame extracts a tick from a raw application frame. Frames
// carrying other events return ErrNotTicker so callers can skip them.
func DecodeFrame(codec envelope.Codec, payload []byte) (Ticker, error) {
	env, err := codec.ParseHeader(payload)
	if err != nil {
		return Ticker{}, errors.Wrap(err, "parse frame header")
	}
	if env.Type != envelope.TypeApplication || env.Event != EventTicker {
		return Ticker{}, ErrNotTicker
	}
	return DecodeTicker(env)
}

// DecodeTicker decodes a parsed envelope into a tick.
func DecodeTicker(env envelope.Envelope) (Ticker, error) {
	t, err := envelope.Decode[Ticker](env)
	if err != nil {
		return Ticker{}, errors.Wrap(err, "decode ticker")
	}
	if t.Symbol == "" {
		return Ticker{}, errors.Errorf("ticker without symbol, body: %s", env.Body)
	}
	return t, nil
}

// PeekSymbol scans the symbol out of a raw ticker body without
// decoding it, for paths that only need the routing key.
func PeekSymbol(body []byte) (string, bool) {
	raw, ok := scanner.ScanStringField(body, keySymbol)
	if !ok || len(raw) == 0 {
		return "", false
	}
	return string(raw), true
}

// PeekTimestamp scans the tick timestamp out of a raw ticker body.
func PeekTimestamp(body []byte) (uint64, bool) {
	return scanner.ScanUintField(body, keyTs)
}
