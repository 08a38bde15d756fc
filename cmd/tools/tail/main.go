package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"wsline/internal/feed"
	"wsline/pkg/envelope"
	"wsline/pkg/uds"
)

func main() {
	if err := run(); err != nil {
		log.Printf("tail: %v", err)
		os.Exit(1)
	}
}

func run() error {
	socketPath := flag.String("socket", "/tmp/wsline.sock", "unix socket to listen on")
	codecName := flag.String("codec", "compact", "payload codec: compact or json")
	decode := flag.Bool("decode", false, "decode ticker bodies while printing")
	flag.Parse()

	codec, err := envelope.New(envelope.Style(*codecName))
	if err != nil {
		return err
	}

	server, err := uds.NewServer(*socketPath)
	if err != nil {
		return err
	}
	if err := server.Listen(); err != nil {
		return err
	}
	defer server.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("tailing frames on %s", *socketPath)

	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()

	var wg sync.WaitGroup
	for {
		conn, err := server.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			log.Printf("accept error: %v", err)
			continue
		}
		wg.Add(1)
		go func(c *net.UnixConn) {
			defer wg.Done()
			tailConn(ctx, c, codec, *decode)
		}(conn)
	}

	wg.Wait()
	return nil
}

func tailConn(ctx context.Context, conn *net.UnixConn, codec envelope.Codec, decode bool) {
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	defer close(done)

	var index int
	for {
		payload, err := uds.ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && ctx.Err() == nil {
				log.Printf("read frame: %v", err)
			}
			return
		}
		index++

		env, err := codec.ParseHeader(payload)
		if err != nil {
			fmt.Printf("%06d len=%d (unparsed)\n", index, len(payload))
			continue
		}
		fmt.Printf("%06d kind=%s event=%q len=%d\n", index, env.Type, env.Event, len(payload))

		if env.Type != envelope.TypeApplication || env.Event != feed.EventTicker {
			continue
		}
		if decode {
			if tick, err := feed.DecodeTicker(env); err == nil {
				fmt.Printf("  %s\n", tick.Format())
			}
			continue
		}
		// Without -decode, peek the key fields straight off the bytes.
		if symbol, ok := feed.PeekSymbol(env.Body); ok {
			if ts, ok := feed.PeekTimestamp(env.Body); ok {
				fmt.Printf("  %s ts=%d\n", symbol, ts)
			} else {
				fmt.Printf("  %s\n", symbol)
			}
		}
	}
}
