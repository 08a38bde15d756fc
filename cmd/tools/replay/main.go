package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"wsline/internal/capture"
	"wsline/internal/feed"
	"wsline/pkg/envelope"
	"wsline/pkg/uds"
)

func main() {
	dir := flag.String("dir", "testdata/capture", "capture directory")
	prefix := flag.String("prefix", "", "segment file prefix (default: cap)")
	speed := flag.Float64("speed", 0, "playback speed (1=capture speed, 0=no pacing)")
	noChecksum := flag.Bool("no-checksum", false, "disable checksum validation")
	maxPayload := flag.Int("max-payload", 0, "max payload size in bytes (0=unlimited)")
	codecName := flag.String("codec", "compact", "payload codec: compact or json")
	decode := flag.Bool("decode", false, "decode ticker bodies while printing")
	sinkPath := flag.String("sink", "", "re-emit inbound frames to this unix socket")
	flag.Parse()

	pb, err := capture.NewPlayback(capture.PlaybackConfig{
		Dir:             *dir,
		FilePrefix:      *prefix,
		Speed:           *speed,
		DisableChecksum: *noChecksum,
		MaxPayloadSize:  *maxPayload,
	})
	if err != nil {
		log.Fatalf("playback init failed: %v", err)
	}

	codec, err := envelope.New(envelope.Style(*codecName))
	if err != nil {
		log.Fatalf("codec init failed: %v", err)
	}

	var sink *net.UnixConn
	if *sinkPath != "" {
		client, err := uds.NewClient(*sinkPath)
		if err != nil {
			log.Fatalf("sink init failed: %v", err)
		}
		sink, err = client.Dial()
		if err != nil {
			log.Fatalf("sink dial failed: %v", err)
		}
		defer sink.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var index int
	err = pb.Run(ctx, func(rec capture.Record) error {
		index++
		fmt.Printf("%06d dir=%-3s kind=%s event=%q len=%d\n",
			index, rec.Direction, rec.Kind, rec.Event, len(rec.Payload))

		if *decode && rec.Kind == envelope.TypeApplication && rec.Event == feed.EventTicker {
			tick, err := feed.DecodeFrame(codec, rec.Payload)
			if err != nil {
				fmt.Printf("  decode ticker failed: %v\n", err)
			} else {
				fmt.Printf("  %s\n", tick.Format())
			}
		}

		if sink != nil && rec.Direction == capture.DirInbound {
			if err := uds.WriteFrame(sink, rec.Payload); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Fatalf("playback run failed: %v", err)
	}
}
