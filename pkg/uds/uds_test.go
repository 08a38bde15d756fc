package uds

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"wsline/pkg/exception"
)

func TestNewClientEmptyPath(t *testing.T) {
	if _, err := NewClient(""); err != exception.ErrEmptyPathUDS {
		t.Fatalf("expected ErrEmptyPath, got %v", err)
	}
}

func TestNewServerEmptyPath(t *testing.T) {
	if _, err := NewServer(""); err != exception.ErrEmptyPathUDS {
		t.Fatalf("expected ErrEmptyPath, got %v", err)
	}
}

func TestAcceptBeforeListen(t *testing.T) {
	server, err := NewServer(filepath.Join(t.TempDir(), "uds.sock"))
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if _, err := server.Accept(); err != ErrNotListening {
		t.Fatalf("expected ErrNotListening, got %v", err)
	}
}

func TestRemoveIfExistsRejectsNonSocket(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "not-socket")
	if err := os.WriteFile(path, []byte("data"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := RemoveIfExists(path); err != ErrPathNotSocket {
		t.Fatalf("expected ErrPathNotSocket, got %v", err)
	}
}

func TestServerDialAccept(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "uds.sock")

	server, err := NewServer(path)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if err := server.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer server.Close()

	acceptCh := make(chan *net.UnixConn, 1)
	errCh := make(chan error, 1)
	go func() {
		conn, err := server.Accept()
		if err != nil {
			errCh <- err
			return
		}
		acceptCh <- conn
	}()

	client, err := NewClient(path)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	conn, err := client.Dial()
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	timer := time.NewTimer(2 * time.Second)
	defer timer.Stop()

	select {
	case err := <-errCh:
		t.Fatalf("Accept: %v", err)
	case serverConn := <-acceptCh:
		serverConn.Close()
	case <-timer.C:
		t.Fatal("timeout waiting for accept")
	}

	if err := server.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected socket path removed, got %v", err)
	}
}

func TestFrameRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "uds.sock")

	server, err := NewServer(path)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if err := server.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer server.Close()

	frames := [][]byte{
		[]byte(`4ticker{"price":"42.5"}`),
		[]byte("2"),
		{},
	}

	readCh := make(chan [][]byte, 1)
	errCh := make(chan error, 1)
	go func() {
		conn, err := server.Accept()
		if err != nil {
			errCh <- err
			return
		}
		defer conn.Close()
		var got [][]byte
		for range frames {
			frame, err := ReadFrame(conn)
			if err != nil {
				errCh <- err
				return
			}
			got = append(got, frame)
		}
		readCh <- got
	}()

	client, err := NewClient(path)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	conn, err := client.Dial()
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	for _, frame := range frames {
		if err := WriteFrame(conn, frame); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
	}

	timer := time.NewTimer(2 * time.Second)
	defer timer.Stop()

	select {
	case err := <-errCh:
		t.Fatalf("server read: %v", err)
	case got := <-readCh:
		for i, want := range frames {
			if !bytes.Equal(got[i], want) {
				t.Fatalf("frame %d mismatch: got %q want %q", i, got[i], want)
			}
		}
	case <-timer.C:
		t.Fatal("timeout waiting for frames")
	}
}

func BenchmarkFrameTransfer64B(b *testing.B) {
	benchmarkFrameTransfer(b, 64)
}

func BenchmarkFrameTransfer4KB(b *testing.B) {
	benchmarkFrameTransfer(b, 4*1024)
}

func benchmarkFrameTransfer(b *testing.B, payloadSize int) {
	b.Helper()
	if payloadSize <= 0 {
		b.Fatalf("payload size must be positive")
	}

	dir := b.TempDir()
	path := filepath.Join(dir, "uds.sock")

	server, err := NewServer(path)
	if err != nil {
		b.Fatalf("NewServer: %v", err)
	}
	if err := server.Listen(); err != nil {
		b.Fatalf("Listen: %v", err)
	}
	defer server.Close()

	serverErrCh := make(chan error, 1)
	readyCh := make(chan struct{})
	go func() {
		conn, err := server.Accept()
		if err != nil {
			serverErrCh <- err
			return
		}
		defer conn.Close()
		close(readyCh)
		for i := 0; i < b.N; i++ {
			if _, err := ReadFrame(conn); err != nil {
				serverErrCh <- err
				return
			}
		}
		serverErrCh <- nil
	}()

	client, err := NewClient(path)
	if err != nil {
		b.Fatalf("NewClient: %v", err)
	}
	conn, err := client.Dial()
	if err != nil {
		b.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	<-readyCh

	payload := make([]byte, payloadSize)
	for i := range payload {
		payload[i] = byte(i)
	}

	b.ReportAllocs()
	b.SetBytes(int64(payloadSize))
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if err := WriteFrame(conn, payload); err != nil {
			b.Fatalf("write: %v", err)
		}
	}

	b.StopTimer()

	timer := time.NewTimer(5 * time.Second)
	defer timer.Stop()

	select {
	case err := <-serverErrCh:
		if err != nil {
			b.Fatalf("server read: %v", err)
		}
	case <-timer.C:
		b.Fatal("timeout waiting for server read")
	}
}
