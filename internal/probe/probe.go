package probe

import (
	"context"
	"net/http"
	"time"

	"github.com/yanun0323/errors"
	"nhooyr.io/websocket"

	"wsline/pkg/exception"
)

// Config controls a handshake probe run.
type Config struct {
	// URL is the websocket endpoint to probe.
	URL string

	// Header carries extra handshake headers, typically auth.
	Header http.Header

	// Attempts is how many handshakes to measure. Default 5.
	Attempts int

	// Interval is the pause between attempts. Default 1s.
	Interval time.Duration

	// Timeout bounds each handshake. Default 5s.
	Timeout time.Duration

	// OnSample observes each attempt as it completes. Optional.
	OnSample func(attempt int, latency time.Duration, err error)
}

func (c Config) withDefaults() Config {
	if c.Attempts <= 0 {
		c.Attempts = 5
	}
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	return c
}

// Result summarizes a probe run. Min, Max and Avg cover successful
// handshakes only.
type Result struct {
	Attempts int
	Failures int
	Min      time.Duration
	Max      time.Duration
	Avg      time.Duration
}

// Run measures websocket handshake latency against the endpoint. It
// fails only when the context dies or every attempt fails; partial
// failures show up in the result.
func Run(ctx context.Context, cfg Config) (Result, error) {
	if cfg.URL == "" {
		return Result{}, errors.Wrap(exception.ErrInvalidArgument, "probe url is empty")
	}
	cfg = cfg.withDefaults()

	res := Result{Attempts: cfg.Attempts}
	var total time.Duration
	var lastErr error

	for i := 0; i < cfg.Attempts; i++ {
		if i > 0 {
			if err := sleep(ctx, cfg.Interval); err != nil {
				return res, errors.Wrap(err, "probe interrupted")
			}
		}

		latency, err := dialOnce(ctx, cfg)
		if cfg.OnSample != nil {
			cfg.OnSample(i+1, latency, err)
		}
		if err != nil {
			res.Failures++
			lastErr = err
			continue
		}

		total += latency
		if res.Min == 0 || latency < res.Min {
			res.Min = latency
		}
		if latency > res.Max {
			res.Max = latency
		}
	}

	if succeeded := res.Attempts - res.Failures; succeeded > 0 {
		res.Avg = total / time.Duration(succeeded)
	} else {
		return res, errors.Wrap(lastErr, "all probe attempts failed").With("url", cfg.URL)
	}
	return res, nil
}

func dialOnce(ctx context.Context, cfg Config) (time.Duration, error) {
	dialCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	start := time.Now()
	c, _, err := websocket.Dial(dialCtx, cfg.URL, &websocket.DialOptions{
		HTTPHeader: cfg.Header,
	})
	if err != nil {
		return 0, errors.Wrap(err, "dial probe").With("url", cfg.URL)
	}
	_ = c.Close(websocket.StatusNormalClosure, "probe")
	return time.Since(start), nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
