package capture

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var ErrChecksumMismatch = errors.New("capture checksum mismatch")

// ReaderOptions tune segment reading.
type ReaderOptions struct {
	// DisableChecksum skips CRC verification.
	DisableChecksum bool

	// MaxPayloadSize rejects records claiming a larger payload, which
	// guards against reading a corrupt length as an allocation size.
	// Zero means no limit.
	MaxPayloadSize int
}

// Reader decodes records from a single segment stream.
type Reader struct {
	r    *bufio.Reader
	opts ReaderOptions

	headerBuf [recordHeaderSize]byte
	event     []byte
	payload   []byte
}

func NewReader(r io.Reader, opts ReaderOptions) *Reader {
	return &Reader{
		r:    bufio.NewReader(r),
		opts: opts,
	}
}

// Next returns the next record, or io.EOF at end of stream. The
// returned payload slice is reused by the following call.
func (r *Reader) Next() (Record, error) {
	n, err := io.ReadFull(r.r, r.headerBuf[:])
	if err != nil {
		if n == 0 && errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("read record header: %w", err)
	}

	rec, eventLen, payloadLen, err := decodeRecordHeader(r.headerBuf[:])
	if err != nil {
		return Record{}, err
	}
	if r.opts.MaxPayloadSize > 0 && payloadLen > uint32(r.opts.MaxPayloadSize) {
		return Record{}, fmt.Errorf("record payload %d exceeds limit %d", payloadLen, r.opts.MaxPayloadSize)
	}

	if cap(r.event) < int(eventLen) {
		r.event = make([]byte, eventLen)
	}
	event := r.event[:eventLen]
	if _, err := io.ReadFull(r.r, event); err != nil {
		return Record{}, fmt.Errorf("read record event: %w", err)
	}

	if cap(r.payload) < int(payloadLen) {
		r.payload = make([]byte, payloadLen)
	}
	payload := r.payload[:payloadLen]
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return Record{}, fmt.Errorf("read record payload: %w", err)
	}

	var crcBuf [recordChecksumSize]byte
	if _, err := io.ReadFull(r.r, crcBuf[:]); err != nil {
		return Record{}, fmt.Errorf("read record checksum: %w", err)
	}
	if !r.opts.DisableChecksum {
		if binary.LittleEndian.Uint32(crcBuf[:]) != checksum(r.headerBuf[:], event, payload) {
			return Record{}, ErrChecksumMismatch
		}
	}

	rec.Event = string(event)
	rec.Payload = payload
	return rec, nil
}
