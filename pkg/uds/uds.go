package uds

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"wsline/pkg/exception"
)

var (
	// ErrPathNotSocket is returned when the path exists but is not a unix socket.
	ErrPathNotSocket = errors.New("uds: path is not a socket")

	// ErrNotListening is returned when Accept is called before Listen.
	ErrNotListening = errors.New("uds: server not listening")

	// ErrFrameTooLarge is returned for frames above the wire limit.
	ErrFrameTooLarge = errors.New("uds: frame too large")
)

// maxFrameSize bounds a single length-prefixed frame.
const maxFrameSize = 16 << 20

// Client dials a unix domain socket.
type Client struct {
	addr *net.UnixAddr
}

func NewClient(path string) (*Client, error) {
	if path == "" {
		return nil, exception.ErrEmptyPathUDS
	}
	return &Client{addr: &net.UnixAddr{Name: path, Net: "unix"}}, nil
}

func (c *Client) Dial() (*net.UnixConn, error) {
	if c == nil {
		return nil, exception.ErrNilClientUDS
	}
	conn, err := net.DialUnix("unix", nil, c.addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.addr.Name, err)
	}
	return conn, nil
}

// Server listens on a unix domain socket. Close removes the socket file.
type Server struct {
	addr     *net.UnixAddr
	listener *net.UnixListener
}

func NewServer(path string) (*Server, error) {
	if path == "" {
		return nil, exception.ErrEmptyPathUDS
	}
	return &Server{addr: &net.UnixAddr{Name: path, Net: "unix"}}, nil
}

// Listen binds the socket, replacing a stale socket file from a previous
// run. A path occupied by a non-socket file is refused.
func (s *Server) Listen() error {
	if err := RemoveIfExists(s.addr.Name); err != nil {
		return err
	}
	l, err := net.ListenUnix("unix", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr.Name, err)
	}
	s.listener = l
	return nil
}

func (s *Server) Accept() (*net.UnixConn, error) {
	if s.listener == nil {
		return nil, ErrNotListening
	}
	conn, err := s.listener.AcceptUnix()
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	err := s.listener.Close()
	s.listener = nil
	if err != nil {
		return fmt.Errorf("close %s: %w", s.addr.Name, err)
	}
	return nil
}

// RemoveIfExists unlinks a leftover socket file. Missing paths are fine;
// paths holding anything but a socket are refused.
func RemoveIfExists(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Mode()&os.ModeSocket == 0 {
		return ErrPathNotSocket
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

// WriteFrame writes one length-prefixed frame. The prefix is a big-endian
// uint32 byte count.
func WriteFrame(conn *net.UnixConn, payload []byte) error {
	if len(payload) > maxFrameSize {
		return ErrFrameTooLarge
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if err := writeFull(conn, prefix[:]); err != nil {
		return err
	}
	return writeFull(conn, payload)
}

// ReadFrame reads one length-prefixed frame.
func ReadFrame(conn *net.UnixConn) ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(conn, prefix[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(prefix[:])
	if size > maxFrameSize {
		return nil, ErrFrameTooLarge
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(conn, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func writeFull(conn *net.UnixConn, buf []byte) error {
	for len(buf) > 0 {
		n, err := conn.Write(buf)
		if err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}
