package capture

import (
	"fmt"
	"time"
)

// Config controls the capture writer.
type Config struct {
	// Dir is the directory segment files are written into.
	Dir string

	// SegmentMaxBytes rotates the segment once it grows past this size.
	// Default 64 MiB.
	SegmentMaxBytes int64

	// SegmentMaxDuration rotates the segment after this much wall time,
	// regardless of size. Zero disables duration rotation.
	SegmentMaxDuration time.Duration

	// QueueSize is the append queue capacity. TryAppend fails with
	// ErrQueueFull once it is exhausted. Default 4096.
	QueueSize int

	// BufferSize is the bufio writer size per segment. Default 256 KiB.
	BufferSize int

	// FilePrefix names segment files "<prefix>-<ts>-<seq>.cap".
	// Default "cap".
	FilePrefix string

	// FlushInterval flushes the buffered writer periodically.
	// Zero leaves flushing to rotation and Close.
	FlushInterval time.Duration

	// SyncInterval fsyncs the segment file periodically. Zero disables.
	SyncInterval time.Duration

	// CopyPayload copies event and payload bytes before queueing. Leave
	// enabled unless the caller guarantees the buffers are never reused.
	CopyPayload bool
}

// DefaultConfig returns a config suitable for capturing a live frame
// stream, with payload copying on.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:             dir,
		SegmentMaxBytes: 64 << 20,
		QueueSize:       4096,
		BufferSize:      256 * 1024,
		FilePrefix:      "cap",
		FlushInterval:   time.Second,
		CopyPayload:     true,
	}
}

func (c Config) withDefaults() Config {
	if c.SegmentMaxBytes <= 0 {
		c.SegmentMaxBytes = 64 << 20
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 4096
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 256 * 1024
	}
	if c.FilePrefix == "" {
		c.FilePrefix = "cap"
	}
	return c
}

func (c Config) Validate() error {
	if c.Dir == "" {
		return fmt.Errorf("invalid capture config: Dir is empty")
	}
	if c.SegmentMaxBytes <= 0 {
		return fmt.Errorf("invalid capture config: SegmentMaxBytes = %d", c.SegmentMaxBytes)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("invalid capture config: QueueSize = %d", c.QueueSize)
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("invalid capture config: BufferSize = %d", c.BufferSize)
	}
	return nil
}
