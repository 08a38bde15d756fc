package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// PlaybackConfig controls replaying captured segments.
type PlaybackConfig struct {
	// Dir holds the segment files.
	Dir string

	// FilePrefix selects which segments to replay. Default "cap".
	FilePrefix string

	// Speed scales pacing: 1 replays at capture speed, 2 at double
	// speed. Zero or negative replays as fast as possible.
	Speed float64

	// DisableChecksum skips CRC verification while reading.
	DisableChecksum bool

	// MaxPayloadSize bounds per-record payload allocation. Zero means
	// no limit.
	MaxPayloadSize int
}

func (c PlaybackConfig) withDefaults() PlaybackConfig {
	if c.FilePrefix == "" {
		c.FilePrefix = "cap"
	}
	return c
}

func (c PlaybackConfig) Validate() error {
	if c.Dir == "" {
		return fmt.Errorf("invalid playback config: Dir is empty")
	}
	return nil
}

// Clock abstracts pacing sleeps so playback is testable.
type Clock interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Playback replays captured segments in file order, pacing records by
// their capture timestamps.
type Playback struct {
	cfg   PlaybackConfig
	clock Clock

	lastTs int64
}

func NewPlayback(cfg PlaybackConfig) (*Playback, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Playback{cfg: cfg, clock: realClock{}}, nil
}

// WithClock swaps the pacing clock.
func (p *Playback) WithClock(c Clock) *Playback {
	if c != nil {
		p.clock = c
	}
	return p
}

// Run replays every matching segment through handler. The payload slice
// passed to handler is only valid for the duration of the call.
func (p *Playback) Run(ctx context.Context, handler func(Record) error) error {
	if handler == nil {
		return fmt.Errorf("playback handler is nil")
	}

	files, err := p.collectFiles()
	if err != nil {
		return err
	}
	p.lastTs = 0

	for _, path := range files {
		if err := p.playFile(ctx, path, handler); err != nil {
			return err
		}
	}
	return nil
}

func (p *Playback) collectFiles() ([]string, error) {
	entries, err := os.ReadDir(p.cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("read capture dir: %w", err)
	}
	var files []string
	prefix := p.cfg.FilePrefix + "-"
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, ".cap") {
			files = append(files, filepath.Join(p.cfg.Dir, name))
		}
	}
	sort.Strings(files)
	return files, nil
}

func (p *Playback) playFile(ctx context.Context, path string, handler func(Record) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open segment %s: %w", path, err)
	}
	defer f.Close()

	r := NewReader(f, ReaderOptions{
		DisableChecksum: p.cfg.DisableChecksum,
		MaxPayloadSize:  p.cfg.MaxPayloadSize,
	})
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := r.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read %s: %w", path, err)
		}
		if err := p.pace(ctx, rec.CapturedAt); err != nil {
			return err
		}
		if err := handler(rec); err != nil {
			return err
		}
	}
}

func (p *Playback) pace(ctx context.Context, ts int64) error {
	if p.cfg.Speed <= 0 || ts <= 0 {
		p.lastTs = ts
		return nil
	}
	if p.lastTs > 0 && ts > p.lastTs {
		delta := time.Duration(float64(ts-p.lastTs) / p.cfg.Speed)
		if err := p.clock.Sleep(ctx, delta); err != nil {
			return err
		}
	}
	p.lastTs = ts
	return nil
}
