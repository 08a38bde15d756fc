package capture

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrQueueFull       = errors.New("capture queue full")
	ErrClosed          = errors.New("capture writer closed")
	ErrNotStarted      = errors.New("capture writer not started")
	ErrAlreadyStarted  = errors.New("capture writer already started")
	ErrEventTooLong    = errors.New("capture event name too long")
	ErrPayloadTooLarge = errors.New("capture payload too large")
)

const (
	maxEventLen   = int(^uint16(0))
	maxPayloadLen = int(^uint32(0))
)

// Writer appends captured frames to rotating segment files. Appends are
// queued through a channel and a single goroutine owns the file, so
// TryAppend is safe from any goroutine and never blocks.
type Writer struct {
	cfg Config

	ch chan Record
	wg sync.WaitGroup

	err     atomic.Value // holds firstErr
	started uint32
	closed  uint32
	dropped atomic.Uint64
}

// firstErr boxes the stored error so every atomic.Value store uses one
// concrete type regardless of the underlying error.
type firstErr struct{ err error }

func NewWriter(cfg Config) (*Writer, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create capture dir: %w", err)
	}
	return &Writer{
		cfg: cfg,
		ch:  make(chan Record, cfg.QueueSize),
	}, nil
}

// Start launches the writer goroutine. The context only interrupts the
// writer; Close is still required to flush and release the segment.
func (w *Writer) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapUint32(&w.started, 0, 1) {
		return ErrAlreadyStarted
	}
	w.wg.Add(1)
	go w.run(ctx)
	return nil
}

// Close stops accepting records, drains the queue and closes the
// current segment. It reports the first write error, if any.
func (w *Writer) Close() error {
	if !atomic.CompareAndSwapUint32(&w.closed, 0, 1) {
		return ErrClosed
	}
	close(w.ch)
	w.wg.Wait()
	return w.Err()
}

// Err reports the first error hit by the writer goroutine. Once set,
// TryAppend fails fast with it.
func (w *Writer) Err() error {
	if v := w.err.Load(); v != nil {
		return v.(firstErr).err
	}
	return nil
}

// Dropped counts records rejected because the queue was full.
func (w *Writer) Dropped() uint64 {
	return w.dropped.Load()
}

// TryAppend queues one record without blocking.
func (w *Writer) TryAppend(rec Record) error {
	if atomic.LoadUint32(&w.closed) == 1 {
		return ErrClosed
	}
	if atomic.LoadUint32(&w.started) == 0 {
		return ErrNotStarted
	}
	if err := w.Err(); err != nil {
		return err
	}
	if len(rec.Event) > maxEventLen {
		return ErrEventTooLong
	}
	if len(rec.Payload) > maxPayloadLen {
		return ErrPayloadTooLarge
	}
	if w.cfg.CopyPayload && rec.Payload != nil {
		p := make([]byte, len(rec.Payload))
		copy(p, rec.Payload)
		rec.Payload = p
	}
	select {
	case w.ch <- rec:
		return nil
	default:
		w.dropped.Add(1)
		return ErrQueueFull
	}
}

func (w *Writer) setErr(err error) {
	if err == nil {
		return
	}
	w.err.CompareAndSwap(nil, firstErr{err})
}

func (w *Writer) run(ctx context.Context) {
	defer w.wg.Done()

	var seg *segmentWriter
	defer func() {
		if seg != nil {
			w.setErr(seg.close())
		}
	}()

	var flushC, syncC <-chan time.Time
	if w.cfg.FlushInterval > 0 {
		t := time.NewTicker(w.cfg.FlushInterval)
		defer t.Stop()
		flushC = t.C
	}
	if w.cfg.SyncInterval > 0 {
		t := time.NewTicker(w.cfg.SyncInterval)
		defer t.Stop()
		syncC = t.C
	}

	for {
		select {
		case <-ctx.Done():
			w.drainNonBlocking(&seg)
			return
		case rec, ok := <-w.ch:
			if !ok {
				return
			}
			if err := w.writeRecord(&seg, rec); err != nil {
				w.setErr(err)
				return
			}
		case <-flushC:
			if seg != nil {
				if err := seg.flush(); err != nil {
					w.setErr(err)
					return
				}
			}
		case <-syncC:
			if seg != nil {
				if err := seg.sync(); err != nil {
					w.setErr(err)
					return
				}
			}
		}
	}
}

func (w *Writer) drainNonBlocking(seg **segmentWriter) {
	for {
		select {
		case rec, ok := <-w.ch:
			if !ok {
				return
			}
			if err := w.writeRecord(seg, rec); err != nil {
				w.setErr(err)
				return
			}
		default:
			return
		}
	}
}

func (w *Writer) writeRecord(seg **segmentWriter, rec Record) error {
	if w.shouldRotate(*seg) {
		if *seg != nil {
			if err := (*seg).close(); err != nil {
				return err
			}
		}
		next, err := w.openSegment()
		if err != nil {
			return err
		}
		*seg = next
	}

	var header [recordHeaderSize]byte
	event := []byte(rec.Event)
	encodeHeader(header[:], rec, len(event), len(rec.Payload))

	var crcBuf [recordChecksumSize]byte
	binary.LittleEndian.PutUint32(crcBuf[:], checksum(header[:], event, rec.Payload))

	s := *seg
	if _, err := s.buf.Write(header[:]); err != nil {
		return fmt.Errorf("write record header: %w", err)
	}
	if _, err := s.buf.Write(event); err != nil {
		return fmt.Errorf("write record event: %w", err)
	}
	if _, err := s.buf.Write(rec.Payload); err != nil {
		return fmt.Errorf("write record payload: %w", err)
	}
	if _, err := s.buf.Write(crcBuf[:]); err != nil {
		return fmt.Errorf("write record checksum: %w", err)
	}
	s.size += int64(recordHeaderSize + len(event) + len(rec.Payload) + recordChecksumSize)
	return nil
}

func (w *Writer) shouldRotate(seg *segmentWriter) bool {
	if seg == nil {
		return true
	}
	if seg.size >= w.cfg.SegmentMaxBytes {
		return true
	}
	if w.cfg.SegmentMaxDuration > 0 && time.Since(seg.openedAt) >= w.cfg.SegmentMaxDuration {
		return true
	}
	return false
}

func (w *Writer) openSegment() (*segmentWriter, error) {
	now := time.Now()
	for segID := 0; ; segID++ {
		name := fmt.Sprintf("%s-%s-%06d.cap", w.cfg.FilePrefix, now.Format("20060102-150405"), segID)
		path := filepath.Join(w.cfg.Dir, name)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("open segment %s: %w", path, err)
		}
		return &segmentWriter{
			file:     f,
			buf:      bufio.NewWriterSize(f, w.cfg.BufferSize),
			openedAt: now,
		}, nil
	}
}

type segmentWriter struct {
	file     *os.File
	buf      *bufio.Writer
	size     int64
	openedAt time.Time
}

func (s *segmentWriter) flush() error {
	if err := s.buf.Flush(); err != nil {
		return fmt.Errorf("flush segment: %w", err)
	}
	return nil
}

func (s *segmentWriter) sync() error {
	if err := s.flush(); err != nil {
		return err
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("sync segment: %w", err)
	}
	return nil
}

func (s *segmentWriter) close() error {
	flushErr := s.buf.Flush()
	closeErr := s.file.Close()
	if flushErr != nil {
		return fmt.Errorf("flush segment: %w", flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close segment: %w", closeErr)
	}
	return nil
}
