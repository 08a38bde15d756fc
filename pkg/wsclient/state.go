package wsclient

import "sync"

// connState is the single mutable connection record. Every access goes
// through its mutex so reads and writes never interleave.
type connState struct {
	mu        sync.Mutex
	connected bool
	queue     [][]byte
	attempts  int
}

func newConnState() *connState {
	return &connState{}
}

func (s *connState) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

func (s *connState) isConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// enqueue appends a serialized frame for the next flush.
func (s *connState) enqueue(frame []byte) {
	s.mu.Lock()
	s.queue = append(s.queue, frame)
	s.mu.Unlock()
}

// drainAll atomically empties the queue and returns it in FIFO order.
func (s *connState) drainAll() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.queue
	s.queue = nil
	return out
}

// requeue puts undelivered frames back at the head, ahead of anything
// enqueued while a flush was running.
func (s *connState) requeue(frames [][]byte) {
	if len(frames) == 0 {
		return
	}
	s.mu.Lock()
	s.queue = append(frames, s.queue...)
	s.mu.Unlock()
}

func (s *connState) queueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *connState) attemptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// bumpAttempts increments the failure streak and returns the new count.
func (s *connState) bumpAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	return s.attempts
}

func (s *connState) resetAttempts() {
	s.mu.Lock()
	s.attempts = 0
	s.mu.Unlock()
}
