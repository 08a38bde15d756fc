package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"wsline/internal/archive"
	"wsline/internal/capture"
	"wsline/internal/chaos"
	"wsline/internal/feed"
	"wsline/internal/ops"
	"wsline/internal/probe"
	"wsline/pkg/conn"
	"wsline/pkg/envelope"
	"wsline/pkg/uds"
	"wsline/pkg/wsclient"
)

const statsInterval = 15 * time.Second

func main() {
	if err := run(); err != nil {
		log.Printf("wsline: %v", err)
		os.Exit(1)
	}
}

func run() error {
	configFlag := flag.String("config", "", "YAML config path")
	urlFlag := flag.String("url", "", "websocket endpoint, overrides config")
	codecFlag := flag.String("codec", "", "payload codec: compact or json, overrides config")
	subscribeFlag := flag.String("subscribe", "", "comma-separated symbols to subscribe after connect")
	probeFlag := flag.Bool("probe", false, "measure handshake latency and exit")
	probeAttemptsFlag := flag.Int("probe-attempts", 5, "handshake attempts in probe mode")
	captureFlag := flag.String("capture", "", "capture directory, overrides config")
	sinkFlag := flag.String("sink", "", "unix socket to mirror application frames to, overrides config")
	flag.Parse()

	cfg, err := ops.Load(strings.TrimSpace(*configFlag))
	if err != nil {
		return err
	}
	if u := strings.TrimSpace(*urlFlag); u != "" {
		cfg.Endpoint.URL = u
	}
	if c := strings.TrimSpace(*codecFlag); c != "" {
		cfg.Endpoint.Codec = c
	}
	if dir := strings.TrimSpace(*captureFlag); dir != "" {
		cfg.Capture.Enabled = true
		cfg.Capture.Dir = dir
	}
	if path := strings.TrimSpace(*sinkFlag); path != "" {
		cfg.Sink.Enabled = true
		cfg.Sink.SocketPath = path
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Endpoint.URL == "" {
		return errors.New("missing endpoint url; use -url or the config file")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *probeFlag {
		return runProbe(ctx, cfg, *probeAttemptsFlag)
	}

	if cfg.Profiler.Enabled {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: cfg.Profiler.ApplicationName,
			ServerAddress:   cfg.Profiler.ServerAddress,
			Tags: map[string]string{
				"codec": cfg.Endpoint.Codec,
			},
			Logger: emptyLogger{},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			return fmt.Errorf("start profiler: %w", err)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	codec, err := envelope.New(envelope.Style(cfg.Endpoint.Codec))
	if err != nil {
		return err
	}

	// Transport chain: gorilla, then chaos, then capture. Capture sits
	// outermost so the log holds exactly what the client saw after any
	// injected faults.
	var transport wsclient.Transport = wsclient.NewGorillaTransport(wsclient.GorillaOption{
		HandshakeTimeout: cfg.Endpoint.HandshakeTimeout(),
	})

	if cfg.Chaos.Enabled {
		engine, err := chaos.NewEngine(chaos.Config{
			Seed:     cfg.Chaos.Seed,
			DropRate: cfg.Chaos.DropRate,
			CutRate:  cfg.Chaos.CutRate,
			MaxDelay: cfg.Chaos.MaxDelay(),
		})
		if err != nil {
			return err
		}
		transport = chaos.NewTransport(transport, engine)
		logs.Infof("chaos enabled, drop: %g, cut: %g, max delay: %s",
			cfg.Chaos.DropRate, cfg.Chaos.CutRate, cfg.Chaos.MaxDelay())
	}

	if cfg.Capture.Enabled {
		capCfg := capture.DefaultConfig(cfg.Capture.Dir)
		capCfg.FilePrefix = cfg.Capture.FilePrefix
		capCfg.SegmentMaxBytes = cfg.Capture.SegmentMaxBytes
		capCfg.QueueSize = cfg.Capture.QueueSize
		capCfg.FlushInterval = cfg.Capture.FlushInterval()

		capWriter, err := capture.NewWriter(capCfg)
		if err != nil {
			return err
		}
		if err := capWriter.Start(ctx); err != nil {
			return err
		}
		defer func() {
			if err := capWriter.Close(); err != nil {
				logs.Errorf("close capture writer, err: %+v", err)
			}
			if n := capWriter.Dropped(); n > 0 {
				logs.Errorf("capture dropped %d records", n)
			}
		}()
		transport = capture.NewTransport(transport, capWriter, codec)
		logs.Infof("capturing frames into %s", cfg.Capture.Dir)
	}

	var sink *sinkConn
	if cfg.Sink.Enabled {
		sink, err = dialSink(cfg.Sink.SocketPath)
		if err != nil {
			return err
		}
		defer sink.Close()
		logs.Infof("mirroring application frames to %s", cfg.Sink.SocketPath)
	}

	var arch *archive.Archiver
	if cfg.Archive.Enabled {
		pg, err := conn.New(conn.Option{
			Host:     cfg.Archive.Postgres.Host,
			Port:     cfg.Archive.Postgres.Port,
			User:     cfg.Archive.Postgres.User,
			Password: cfg.Archive.Postgres.Password,
			Database: cfg.Archive.Postgres.Database,
			SSLMode:  cfg.Archive.Postgres.SSLMode,
		})
		if err != nil {
			return err
		}
		defer pg.Close()
		if err := pg.Ping(ctx); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}

		arch, err = archive.New(pg, archive.Config{
			Session:       cfg.Archive.Session,
			BatchSize:     cfg.Archive.BatchSize,
			FlushInterval: cfg.Archive.FlushInterval(),
		})
		if err != nil {
			return err
		}
		if err := arch.Start(ctx); err != nil {
			return err
		}
		defer func() {
			if err := arch.Close(); err != nil {
				logs.Errorf("close archive, err: %+v", err)
			}
			logs.Infof("archive stored %d frames, dropped %d", arch.Stored(), arch.Dropped())
		}()
		logs.Infof("archiving frames as session %q", cfg.Archive.Session)
	}

	tape := feed.NewTape()

	client, err := wsclient.New(wsclient.Config{
		URL:              cfg.Endpoint.URL,
		Header:           headerFrom(cfg.Endpoint.Headers),
		Codec:            codec,
		Transport:        transport,
		Backoff:          wsclient.Backoff{Base: cfg.Backoff.Base, Max: cfg.Backoff.MaxDelay()},
		IdleTimeout:      cfg.Endpoint.IdleTimeout(),
		HandshakeTimeout: cfg.Endpoint.HandshakeTimeout(),
		OnStatusChange: func(connected bool) {
			logs.Infof("connection status: %t", connected)
		},
		OnResponse: func(resp *http.Response) {
			logs.Infof("upgrade response: %s", resp.Status)
		},
		OnUpgradeError: func(resp *http.Response) {
			logs.Errorf("upgrade rejected: %s", resp.Status)
		},
	})
	if err != nil {
		return err
	}

	client.On(wsclient.EventMessage, func(payload []byte) {
		env, err := codec.ParseHeader(payload)
		if err != nil {
			return
		}
		if env.Type == envelope.TypeApplication && env.Event == feed.EventTicker {
			tick, err := feed.DecodeTicker(env)
			if err != nil {
				logs.Errorf("decode tick, err: %+v", err)
			} else {
				tape.Observe(tick)
				logs.Infof("tick %s", tick.Format())
			}
		}
		if sink != nil {
			if err := sink.Forward(payload); err != nil {
				logs.Errorf("forward frame to sink, err: %+v", err)
			}
		}
		if arch != nil {
			rec := capture.Record{
				Direction:  capture.DirInbound,
				Kind:       env.Type,
				Event:      env.Event,
				CapturedAt: time.Now().UnixNano(),
				Payload:    payload,
			}
			if err := arch.TryStore(archive.FromRecord(rec)); err != nil {
				logs.Errorf("archive frame, err: %+v", err)
			}
		}
	})

	if symbols := splitList(*subscribeFlag); len(symbols) > 0 {
		client.On(wsclient.EventConnect, func([]byte) {
			if err := client.Send(ctx, "subscribe", map[string][]string{"symbols": symbols}); err != nil {
				logs.Errorf("send subscribe, err: %+v", err)
			}
		})
	}

	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer func() {
		if err := client.Disconnect(); err != nil {
			logs.Errorf("disconnect, err: %+v", err)
		}
	}()

	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sys.Shutdown():
			logs.Info("shutdown signal received")
			printSummary(client, tape)
			return nil
		case <-ctx.Done():
			logs.Info("shutting down")
			printSummary(client, tape)
			return nil
		case <-ticker.C:
			s := client.Stats()
			logs.Infof("stats in: %d frames / %d bytes, out: %d frames / %d bytes, queued: %d, reconnects: %d, symbols: %d",
				s.FramesIn, s.BytesIn, s.FramesOut, s.BytesOut, client.QueueLen(), s.Reconnects, tape.Len())
		}
	}
}

func runProbe(ctx context.Context, cfg ops.Config, attempts int) error {
	res, err := probe.Run(ctx, probe.Config{
		URL:      cfg.Endpoint.URL,
		Header:   headerFrom(cfg.Endpoint.Headers),
		Attempts: attempts,
		Timeout:  cfg.Endpoint.HandshakeTimeout(),
		OnSample: func(attempt int, latency time.Duration, err error) {
			if err != nil {
				logs.Errorf("probe %d failed, err: %+v", attempt, err)
				return
			}
			logs.Infof("probe %d: %s", attempt, latency)
		},
	})
	if err != nil {
		return err
	}
	logs.Infof("probe done, attempts: %d, failures: %d, min: %s, avg: %s, max: %s",
		res.Attempts, res.Failures, res.Min, res.Avg, res.Max)
	return nil
}

func printSummary(client *wsclient.Client, tape *feed.Tape) {
	s := client.Stats()
	logs.Infof("session summary, frames in: %d, frames out: %d, reconnects: %d, parse errors: %d",
		s.FramesIn, s.FramesOut, s.Reconnects, s.ParseErrors)
	for _, symbol := range tape.Symbols() {
		if tick, ok := tape.Last(symbol); ok {
			logs.Infof("last %s", tick.Format())
		}
	}
}

func headerFrom(m map[string]string) http.Header {
	if len(m) == 0 {
		return nil
	}
	h := make(http.Header, len(m))
	for k, v := range m {
		h.Set(k, v)
	}
	return h
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// sinkConn mirrors application frames to a local unix socket so other
// processes can tail the stream.
type sinkConn struct {
	conn *net.UnixConn
}

func dialSink(path string) (*sinkConn, error) {
	client, err := uds.NewClient(path)
	if err != nil {
		return nil, err
	}
	c, err := client.Dial()
	if err != nil {
		return nil, err
	}
	return &sinkConn{conn: c}, nil
}

func (s *sinkConn) Forward(payload []byte) error {
	return uds.WriteFrame(s.conn, payload)
}

func (s *sinkConn) Close() error {
	return s.conn.Close()
}

type emptyLogger struct{}

func (emptyLogger) Infof(_ string, _ ...interface{})  {}
func (emptyLogger) Debugf(_ string, _ ...interface{}) {}
func (emptyLogger) Errorf(_ string, _ ...interface{}) {}
