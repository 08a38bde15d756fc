package wsclient

import (
	"sync"
	"time"
)

// defaultGrace is the window the peer has to answer a ping before the
// connection is declared dead.
const defaultGrace = 5 * time.Second

// KeepaliveTimer drives periodic ping emission and a pong-deadline
// watchdog. The ping timer fires every idleTimeout minus the grace
// window; each fire sends a ping and arms a one-shot deadline of the
// grace window. Peer activity cancels the deadline. All methods are
// safe for concurrent use and cancellation is idempotent.
type KeepaliveTimer struct {
	mu      sync.Mutex
	idle    time.Duration
	grace   time.Duration
	running bool
	pingT   *time.Timer
	pongT   *time.Timer

	ping   func() error
	expire func()
}

// NewKeepaliveTimer wires the timer to its send and failure callbacks.
// ping sends one ping-class envelope; expire is called when the peer
// missed the deadline or a ping send failed. A non-positive grace falls
// back to the default window.
func NewKeepaliveTimer(idle, grace time.Duration, ping func() error, expire func()) *KeepaliveTimer {
	if grace <= 0 {
		grace = defaultGrace
	}
	return &KeepaliveTimer{idle: idle, grace: grace, ping: ping, expire: expire}
}

// Start arms the ping timer. Restarting an already-running timer resets
// its schedule.
func (k *KeepaliveTimer) Start() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.running = true
	k.armPingLocked()
}

// Stop cancels both timers. Safe to call repeatedly or before Start.
func (k *KeepaliveTimer) Stop() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.running = false
	if k.pingT != nil {
		k.pingT.Stop()
		k.pingT = nil
	}
	k.stopDeadlineLocked()
}

// Activity records liveness proof from the peer and cancels any
// outstanding pong deadline.
func (k *KeepaliveTimer) Activity() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.stopDeadlineLocked()
}

// SetIdleTimeout applies a server-declared idle timeout and, when
// running, restarts the ping timer against the new interval.
func (k *KeepaliveTimer) SetIdleTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.idle = d
	if k.running {
		k.armPingLocked()
	}
}

// IdleTimeout returns the current idle timeout.
func (k *KeepaliveTimer) IdleTimeout() time.Duration {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.idle
}

// interval is the ping period. Idle timeouts at or below the grace
// window fall back to the idle timeout itself.
func (k *KeepaliveTimer) interval() time.Duration {
	p := k.idle - k.grace
	if p <= 0 {
		p = k.idle
	}
	return p
}

// Timer callbacks carry the *time.Timer that scheduled them; comparing
// it against the current field drops fires from replaced timers.

func (k *KeepaliveTimer) armPingLocked() {
	if k.pingT != nil {
		k.pingT.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(k.interval(), func() { k.onPing(t) })
	k.pingT = t
}

func (k *KeepaliveTimer) armDeadlineLocked() {
	k.stopDeadlineLocked()
	var t *time.Timer
	t = time.AfterFunc(k.grace, func() { k.onDeadline(t) })
	k.pongT = t
}

func (k *KeepaliveTimer) stopDeadlineLocked() {
	if k.pongT != nil {
		k.pongT.Stop()
		k.pongT = nil
	}
}

func (k *KeepaliveTimer) onPing(t *time.Timer) {
	k.mu.Lock()
	if !k.running || k.pingT != t {
		k.mu.Unlock()
		return
	}
	ping := k.ping
	k.mu.Unlock()

	if ping != nil {
		if err := ping(); err != nil {
			k.fail()
			return
		}
	}

	k.mu.Lock()
	if !k.running || k.pingT != t {
		k.mu.Unlock()
		return
	}
	k.armDeadlineLocked()
	k.armPingLocked()
	k.mu.Unlock()
}

func (k *KeepaliveTimer) onDeadline(t *time.Timer) {
	k.mu.Lock()
	if !k.running || k.pongT != t {
		k.mu.Unlock()
		return
	}
	k.pongT = nil
	k.mu.Unlock()
	k.fail()
}

func (k *KeepaliveTimer) fail() {
	k.mu.Lock()
	expire := k.expire
	running := k.running
	k.mu.Unlock()
	if running && expire != nil {
		expire()
	}
}
