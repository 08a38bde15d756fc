package capture

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"

	"wsline/pkg/envelope"
)

const (
	recordVersion      uint16 = 1
	recordHeaderSize          = 32
	recordChecksumSize        = 4
)

var (
	recordMagic = [4]byte{'C', 'A', 'P', '1'}
	crcTable    = crc32.MakeTable(crc32.Castagnoli)
)

var (
	ErrInvalidMagic            = errors.New("capture invalid magic")
	ErrUnsupportedRecordVer    = errors.New("capture unsupported record version")
	ErrInvalidRecordHeaderSize = errors.New("capture invalid header size")
)

// Direction marks which way a frame crossed the transport.
type Direction uint8

const (
	DirInbound  Direction = 0
	DirOutbound Direction = 1
)

func (d Direction) String() string {
	switch d {
	case DirInbound:
		return "in"
	case DirOutbound:
		return "out"
	default:
		return "unknown"
	}
}

// Record is one captured frame. Kind and Event come from a best-effort
// envelope parse; a zero Kind means the frame did not parse.
type Record struct {
	Direction  Direction
	Kind       envelope.Type
	Event      string
	CapturedAt int64
	Payload    []byte
}

func encodeHeader(dst []byte, rec Record, eventLen, payloadLen int) {
	_ = dst[recordHeaderSize-1]
	copy(dst[0:4], recordMagic[:])
	binary.LittleEndian.PutUint16(dst[4:6], recordVersion)
	binary.LittleEndian.PutUint16(dst[6:8], uint16(recordHeaderSize))
	dst[8] = byte(rec.Direction)
	dst[9] = byte(rec.Kind)
	binary.LittleEndian.PutUint16(dst[10:12], uint16(eventLen))
	binary.LittleEndian.PutUint32(dst[12:16], uint32(payloadLen))
	binary.LittleEndian.PutUint64(dst[16:24], uint64(rec.CapturedAt))
	binary.LittleEndian.PutUint64(dst[24:32], 0)
}

func checksum(header, event, payload []byte) uint32 {
	crc := crc32.Update(0, crcTable, header)
	crc = crc32.Update(crc, crcTable, event)
	return crc32.Update(crc, crcTable, payload)
}

func decodeRecordHeader(src []byte) (Record, uint16, uint32, error) {
	if len(src) < recordHeaderSize {
		return Record{}, 0, 0, ErrInvalidRecordHeaderSize
	}
	if !bytes.Equal(src[0:4], recordMagic[:]) {
		return Record{}, 0, 0, ErrInvalidMagic
	}
	if ver := binary.LittleEndian.Uint16(src[4:6]); ver != recordVersion {
		return Record{}, 0, 0, ErrUnsupportedRecordVer
	}
	if headerSize := binary.LittleEndian.Uint16(src[6:8]); headerSize != recordHeaderSize {
		return Record{}, 0, 0, ErrInvalidRecordHeaderSize
	}
	eventLen := binary.LittleEndian.Uint16(src[10:12])
	payloadLen := binary.LittleEndian.Uint32(src[12:16])
	rec := Record{
		Direction:  Direction(src[8]),
		Kind:       envelope.Type(int8(src[9])),
		CapturedAt: int64(binary.LittleEndian.Uint64(src[16:24])),
	}
	return rec, eventLen, payloadLen, nil
}
