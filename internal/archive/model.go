package archive

import (
	"wsline/internal/capture"
)

// Frame is one archived websocket frame row.
type Frame struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	CapturedAt int64  `gorm:"index"`
	Session    string `gorm:"size:64;index"`
	Direction  string `gorm:"size:8"`
	Kind       int16  `gorm:"index"`
	Event      string `gorm:"size:128;index"`
	Payload    []byte `gorm:"type:bytea"`
}

func (Frame) TableName() string {
	return "ws_frames"
}

// FromRecord converts a captured record into a row. The payload is
// copied because capture readers reuse their buffers.
func FromRecord(rec capture.Record) Frame {
	return Frame{
		CapturedAt: rec.CapturedAt,
		Direction:  rec.Direction.String(),
		Kind:       int16(rec.Kind),
		Event:      rec.Event,
		Payload:    append([]byte(nil), rec.Payload...),
	}
}
