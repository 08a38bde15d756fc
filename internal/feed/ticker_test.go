package feed

import (
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wsline/pkg/envelope"
)

func TestDecodeFrame(t *testing.T) {
	body := `{"symbol":"BTCUSDT","price":"42.5","qty":"0.25","ts":1700000000000}`
	payload := []byte("4ticker" + body)

	got, err := DecodeFrame(envelope.CompactCodec{}, payload)
	require.NoError(t, err)

	var want Ticker
	require.NoError(t, sonic.Unmarshal([]byte(body), &want))
	assert.Equal(t, want, got)
	assert.Equal(t, "BTCUSDT", got.Symbol)
	assert.Equal(t, int64(1700000000000), got.Ts)
}

func TestDecodeFrameSkipsOtherEvents(t *testing.T) {
	cases := []struct {
		name    string
		payload string
	}{
		{"other event", `4depth{"symbol":"BTCUSDT"}`},
		{"control frame", "2"},
		{"timeout config", `1{"timeout":45000}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeFrame(envelope.CompactCodec{}, []byte(tc.payload))
			assert.Equal(t, ErrNotTicker, err)
		})
	}
}

func TestDecodeFrameBadHeader(t *testing.T) {
	_, err := DecodeFrame(envelope.CompactCodec{}, []byte("zzz"))
	require.Error(t, err)
	assert.NotEqual(t, ErrNotTicker, err)
}

func TestDecodeTickerRequiresSymbol(t *testing.T) {
	env, err := envelope.CompactCodec{}.ParseHeader([]byte(`4ticker{"price":"42.5"}`))
	require.NoError(t, err)

	_, err = DecodeTicker(env)
	require.Error(t, err)
}

func TestDecodeTickerRequiresBody(t *testing.T) {
	env, err := envelope.CompactCodec{}.ParseHeader([]byte("4"))
	require.NoError(t, err)

	_, err = DecodeTicker(env)
	require.Error(t, err)
}

func TestTickerFormat(t *testing.T) {
	body := `{"symbol":"ETHUSDT","price":"3120.42","qty":"1.5","ts":42}`
	var tk Ticker
	require.NoError(t, sonic.Unmarshal([]byte(body), &tk))

	line := tk.Format()
	assert.Contains(t, line, "ETHUSDT")
	assert.Contains(t, line, "ts=42")
}

func TestPeekSymbol(t *testing.T) {
	body := []byte(`{"symbol":"BTCUSDT","price":"42.5","qty":"0.25","ts":1700000000000}`)

	symbol, ok := PeekSymbol(body)
	require.True(t, ok)
	assert.Equal(t, "BTCUSDT", symbol)

	_, ok = PeekSymbol([]byte(`{"price":"42.5"}`))
	assert.False(t, ok)
	_, ok = PeekSymbol([]byte(`{"symbol":""}`))
	assert.False(t, ok)
}

func TestPeekTimestamp(t *testing.T) {
	body := []byte(`{"symbol":"BTCUSDT","price":"42.5","qty":"0.25","ts":1700000000000}`)

	ts, ok := PeekTimestamp(body)
	require.True(t, ok)
	assert.Equal(t, uint64(1700000000000), ts)

	_, ok = PeekTimestamp([]byte(`{"symbol":"BTCUSDT"}`))
	assert.False(t, ok)
}
