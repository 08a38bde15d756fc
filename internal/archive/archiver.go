package archive

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"gorm.io/gorm"

	"wsline/pkg/conn"
	"wsline/pkg/exception"
)

var (
	ErrQueueFull      = errors.New("archive queue full")
	ErrClosed         = errors.New("archive closed")
	ErrNotStarted     = errors.New("archive not started")
	ErrAlreadyStarted = errors.New("archive already started")
)

// Config controls frame archiving.
type Config struct {
	// Session tags every stored row so multiple runs can share a table.
	// Default "default".
	Session string

	// BatchSize is how many rows one insert carries. Default 256.
	BatchSize int

	// FlushInterval bounds how long a partial batch waits. Default 2s.
	FlushInterval time.Duration

	// QueueSize is the store queue capacity. Default 4096.
	QueueSize int
}

func (c Config) withDefaults() Config {
	if c.Session == "" {
		c.Session = "default"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 256
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 2 * time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 4096
	}
	return c
}

func (c Config) Validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("invalid archive config: BatchSize = %d", c.BatchSize)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("invalid archive config: QueueSize = %d", c.QueueSize)
	}
	return nil
}

// Archiver batches frame rows into Postgres. Stores are queued through
// a channel and a single goroutine owns the inserts, so TryStore is
// safe from any goroutine and never blocks.
type Archiver struct {
	db  *gorm.DB
	cfg Config

	ch chan Frame
	wg sync.WaitGroup

	err     atomic.Value // holds firstErr
	started uint32
	closed  uint32
	stored  atomic.Uint64
	dropped atomic.Uint64
}

// firstErr boxes the stored error so every atomic.Value store uses one
// concrete type regardless of the underlying error.
type firstErr struct{ err error }

func New(pg *conn.Client, cfg Config) (*Archiver, error) {
	if pg == nil {
		return nil, exception.ErrNilInstance
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Archiver{
		db:  pg.DB(),
		cfg: cfg,
		ch:  make(chan Frame, cfg.QueueSize),
	}, nil
}

// Start migrates the frame table and launches the insert goroutine.
func (a *Archiver) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapUint32(&a.started, 0, 1) {
		return ErrAlreadyStarted
	}
	if err := a.db.WithContext(ctx).AutoMigrate(&Frame{}); err != nil {
		atomic.StoreUint32(&a.started, 0)
		return fmt.Errorf("migrate frame table: %w", err)
	}
	a.wg.Add(1)
	go a.run(ctx)
	return nil
}

// Close stops accepting rows, drains the queue and flushes the last
// batch. It reports the first insert error, if any.
func (a *Archiver) Close() error {
	if !atomic.CompareAndSwapUint32(&a.closed, 0, 1) {
		return ErrClosed
	}
	close(a.ch)
	a.wg.Wait()
	return a.Err()
}

// Err reports the first error hit by the insert goroutine.
func (a *Archiver) Err() error {
	if v := a.err.Load(); v != nil {
		return v.(firstErr).err
	}
	return nil
}

// Stored counts rows written so far.
func (a *Archiver) Stored() uint64 {
	return a.stored.Load()
}

// Dropped counts rows rejected because the queue was full.
func (a *Archiver) Dropped() uint64 {
	return a.dropped.Load()
}

// TryStore queues one row without blocking. The configured session tag
// overrides whatever the row carries.
func (a *Archiver) TryStore(f Frame) error {
	if atomic.LoadUint32(&a.closed) == 1 {
		return ErrClosed
	}
	if atomic.LoadUint32(&a.started) == 0 {
		return ErrNotStarted
	}
	if err := a.Err(); err != nil {
		return err
	}
	f.Session = a.cfg.Session
	select {
	case a.ch <- f:
		return nil
	default:
		a.dropped.Add(1)
		return ErrQueueFull
	}
}

func (a *Archiver) setErr(err error) {
	if err == nil {
		return
	}
	a.err.CompareAndSwap(nil, firstErr{err})
}

func (a *Archiver) run(ctx context.Context) {
	defer a.wg.Done()

	batch := make([]Frame, 0, a.cfg.BatchSize)
	ticker := time.NewTicker(a.cfg.FlushInterval)
	defer ticker.Stop()

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := a.db.CreateInBatches(batch, a.cfg.BatchSize).Error; err != nil {
			return fmt.Errorf("insert frame batch: %w", err)
		}
		a.stored.Add(uint64(len(batch)))
		batch = batch[:0]
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			a.drainNonBlocking(&batch)
			a.setErr(flush())
			return
		case f, ok := <-a.ch:
			if !ok {
				a.setErr(flush())
				return
			}
			batch = append(batch, f)
			if len(batch) >= a.cfg.BatchSize {
				if err := flush(); err != nil {
					a.setErr(err)
					return
				}
			}
		case <-ticker.C:
			if err := flush(); err != nil {
				a.setErr(err)
				return
			}
		}
	}
}

func (a *Archiver) drainNonBlocking(batch *[]Frame) {
	for {
		select {
		case f, ok := <-a.ch:
			if !ok {
				return
			}
			*batch = append(*batch, f)
		default:
			return
		}
	}
}
