package wsclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/logs"

	"wsline/pkg/envelope"
)

var (
	ErrBadConfig        = errors.New("wsclient: invalid config")
	ErrConnectionClosed = errors.New("wsclient: connection closed")
	ErrEncodingFailed   = errors.New("wsclient: encoding failed")
	ErrSendFailed       = errors.New("wsclient: send failed")
	ErrUpgradeRejected  = errors.New("wsclient: upgrade rejected")

	errKeepaliveExpired = errors.New("wsclient: keepalive deadline missed")
)

// Fixed event names published on the bus.
const (
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
	EventMessage    = "message"
)

const (
	defaultIdleTimeout      = 60 * time.Second
	defaultHandshakeTimeout = 5 * time.Second
)

// Config wires the client. Zero values pick the documented defaults.
type Config struct {
	// URL is the websocket endpoint. Required.
	URL string
	// Header seeds the upgrade request headers. Optional.
	Header http.Header
	// Codec frames outbound and inbound envelopes. Optional; default CompactCodec.
	Codec envelope.Codec
	// Transport opens connections. Optional; default gorilla transport.
	Transport Transport
	// Backoff shapes reconnect delays. Optional; default DefaultBackoff.
	Backoff Backoff
	// IdleTimeout seeds the keepalive interval until the server overrides it. Optional; default 60s.
	IdleTimeout time.Duration
	// HandshakeTimeout bounds the upgrade handshake and each frame write. Optional; default 5s.
	HandshakeTimeout time.Duration

	// BeforeConnect may mutate the upgrade request, e.g. to attach auth headers. Optional.
	BeforeConnect func(*http.Request) error
	// OnStatusChange observes connectivity flips. Optional.
	OnStatusChange func(connected bool)
	// OnResponse observes every upgrade handshake response. Optional.
	OnResponse func(*http.Response)
	// OnUpgradeError observes authorization-rejected handshakes. The
	// client treats those as terminal and does not reconnect. Optional.
	OnUpgradeError func(*http.Response)
}

func (cfg Config) withDefaults() Config {
	if cfg.Codec == nil {
		cfg.Codec = envelope.CompactCodec{}
	}
	if !cfg.Backoff.valid() {
		cfg.Backoff = DefaultBackoff()
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.Transport == nil {
		cfg.Transport = NewGorillaTransport(GorillaOption{HandshakeTimeout: cfg.HandshakeTimeout})
	}
	return cfg
}

func (cfg Config) validate() error {
	if cfg.URL == "" {
		return ErrBadConfig
	}
	return nil
}

// Client keeps one logical websocket connection alive across transport
// failures. Hooks and bus handlers run synchronously on lifecycle paths
// and must not call Connect or Disconnect themselves.
type Client struct {
	cfg       Config
	codec     envelope.Codec
	transport Transport

	state *connState
	bus   *Bus
	ka    *KeepaliveTimer
	stats *Stats

	// lifecycleMu serializes the check-and-open sequence so concurrent
	// Connect calls create at most one transport.
	lifecycleMu sync.Mutex

	connMu sync.RWMutex
	conn   Conn
	resp   *http.Response
	gen    uint64

	reconnecting  atomic.Bool
	reconnectMu   sync.Mutex
	reconnectStop context.CancelFunc
}

// New builds a client. The connection is not opened until Connect.
func New(cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	c := &Client{
		cfg:       cfg,
		codec:     cfg.Codec,
		transport: cfg.Transport,
		state:     newConnState(),
		bus:       NewBus(),
		stats:     &Stats{},
	}
	c.ka = NewKeepaliveTimer(cfg.IdleTimeout, defaultGrace, func() error {
		return c.sendControl(envelope.TypePing)
	}, c.onKeepaliveExpire)
	return c, nil
}

// Connect opens the transport, starts the receive loop and keepalive,
// emits "connect", then flushes queued frames in the background. It is a
// no-op when already connected; concurrent calls open one transport.
func (c *Client) Connect(ctx context.Context) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	return c.connectLocked(ctx)
}

// Disconnect stops the timers, closes the transport with a normal close
// code and emits "disconnect". Queued frames survive for the next
// Connect. It also aborts any scheduled reconnect.
func (c *Client) Disconnect() error {
	c.cancelScheduledReconnect()
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	return c.teardownLocked(CloseNormal, "client disconnect")
}

// Send frames body as an Application envelope under event. Connected, it
// writes through; disconnected, it queues the serialized frame for the
// next flush. Frames that fail to serialize are reported and never
// queued. A live-transport write failure is returned to the caller and
// additionally triggers an asynchronous reconnect.
func (c *Client) Send(ctx context.Context, event string, body any) error {
	return c.SendEnvelope(ctx, envelope.TypeApplication, event, body)
}

// SendEnvelope frames body under an explicit envelope type, with the
// same queueing behavior as Send. Most callers want Send; the typed
// form exists for custom control exchanges.
func (c *Client) SendEnvelope(ctx context.Context, t envelope.Type, event string, body any) error {
	frame, err := c.codec.Build(t, event, body)
	if err != nil {
		c.stats.incEncodeError()
		return fmt.Errorf("%w: build %s frame: %v", ErrEncodingFailed, t, err)
	}
	return c.deliver(ctx, frame)
}

// Ping writes a transport-level ping control frame, independent of the
// envelope-level keepalive.
func (c *Client) Ping(ctx context.Context) error {
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return ErrConnectionClosed
	}
	if err := conn.SendPing(ctx); err != nil {
		return fmt.Errorf("%w: send ping: %v", ErrSendFailed, err)
	}
	return nil
}

// On subscribes a handler to a bus event. Application frames arrive
// under EventMessage as the raw wire frame; parse them with the codec.
func (c *Client) On(name string, h Handler) {
	c.bus.Subscribe(name, h)
}

// UnsubscribeAll drops every handler registered for name.
func (c *Client) UnsubscribeAll(name string) {
	c.bus.UnsubscribeAll(name)
}

// IsConnected reports current connectivity.
func (c *Client) IsConnected() bool {
	return c.state.isConnected()
}

// QueueLen reports how many serialized frames wait for the next flush.
func (c *Client) QueueLen() int {
	return c.state.queueLen()
}

// AttemptCount reports the consecutive reconnect failure streak.
func (c *Client) AttemptCount() int {
	return c.state.attemptCount()
}

// IdleTimeout returns the keepalive idle timeout currently in force.
func (c *Client) IdleTimeout() time.Duration {
	return c.ka.IdleTimeout()
}

// Stats returns a snapshot of the client counters.
func (c *Client) Stats() Snapshot {
	return c.stats.Snapshot()
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.state.isConnected() {
		return nil
	}
	req, err := c.buildRequest(ctx)
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	defer cancel()
	started := time.Now()
	conn, resp, err := c.transport.Open(dialCtx, req)
	if resp != nil && c.cfg.OnResponse != nil {
		c.cfg.OnResponse(resp)
	}
	if err != nil {
		if upgradeRejected(resp) {
			c.notifyUpgradeError(resp)
			return fmt.Errorf("%w: status %d: %v", ErrUpgradeRejected, resp.StatusCode, err)
		}
		return fmt.Errorf("open transport: %w", err)
	}
	c.stats.connectLatency.Observe(time.Since(started))

	if err := conn.Resume(); err != nil {
		_ = conn.Cancel(CloseAbnormal, "resume failed")
		return fmt.Errorf("resume transport: %w", err)
	}

	c.connMu.Lock()
	c.conn, c.resp = conn, resp
	c.gen++
	gen := c.gen
	c.connMu.Unlock()

	c.state.setConnected(true)
	c.state.resetAttempts()
	c.ka.Start()
	go c.receiveLoop(conn, resp, gen)

	c.notifyStatus(true)
	c.bus.Publish(EventConnect, nil)
	go c.flushQueue(conn, gen)
	logs.Infof("websocket connected: %s", c.cfg.URL)
	return nil
}

func (c *Client) buildRequest(ctx context.Context) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build upgrade request %s: %w", c.cfg.URL, err)
	}
	for key, values := range c.cfg.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if c.cfg.BeforeConnect != nil {
		if err := c.cfg.BeforeConnect(req); err != nil {
			return nil, fmt.Errorf("before-connect hook: %w", err)
		}
	}
	return req, nil
}

// teardownLocked is the single shutdown path. It is idempotent: a second
// call finds no conn and no connected flag and does nothing.
func (c *Client) teardownLocked(code CloseCode, reason string) error {
	c.ka.Stop()

	c.connMu.Lock()
	conn := c.conn
	c.conn, c.resp = nil, nil
	c.gen++
	c.connMu.Unlock()

	var err error
	if conn != nil {
		err = conn.Cancel(code, reason)
	}
	if c.state.isConnected() {
		c.state.setConnected(false)
		c.notifyStatus(false)
		c.bus.Publish(EventDisconnect, nil)
	}
	if err != nil {
		return fmt.Errorf("cancel transport: %w", err)
	}
	return nil
}

func (c *Client) deliver(ctx context.Context, frame []byte) error {
	if !c.state.isConnected() {
		c.state.enqueue(frame)
		c.stats.incQueued()
		return nil
	}

	c.connMu.RLock()
	conn, gen := c.conn, c.gen
	c.connMu.RUnlock()
	if conn == nil {
		// connected flag raced a teardown; keep the frame for the next flush
		c.state.enqueue(frame)
		c.stats.incQueued()
		return nil
	}

	if err := c.sendFrame(ctx, conn, frame); err != nil {
		c.scheduleReconnect(gen, err)
		return err
	}
	return nil
}

func (c *Client) sendFrame(ctx context.Context, conn Conn, frame []byte) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
		defer cancel()
	}
	if err := conn.SendFrame(ctx, frame); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	c.stats.incFrameOut(len(frame))
	return nil
}

func (c *Client) sendControl(t envelope.Type) error {
	frame, err := c.codec.Build(t, "", nil)
	if err != nil {
		return fmt.Errorf("%w: build %s frame: %v", ErrEncodingFailed, t, err)
	}
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return fmt.Errorf("%w: no live transport for %s", ErrConnectionClosed, t)
	}
	return c.sendFrame(context.Background(), conn, frame)
}

// receiveLoop is self-perpetuating: each completed receive dispatches
// and immediately requests the next frame.
func (c *Client) receiveLoop(conn Conn, resp *http.Response, gen uint64) {
	for {
		payload, err := conn.ReceiveFrame(context.Background())
		if err != nil {
			if c.staleGen(gen) {
				return
			}
			if upgradeRejected(resp) {
				logs.Errorf("websocket upgrade unauthorized, status: %d, err: %+v", resp.StatusCode, err)
				c.notifyUpgradeError(resp)
				c.lifecycleMu.Lock()
				_ = c.teardownLocked(CloseAbnormal, "unauthorized")
				c.lifecycleMu.Unlock()
				return
			}
			c.scheduleReconnect(gen, fmt.Errorf("receive frame: %w", err))
			return
		}
		c.stats.incFrameIn(len(payload))
		c.handleFrame(payload)
	}
}

func (c *Client) handleFrame(payload []byte) {
	env, err := c.codec.ParseHeader(payload)
	if err != nil {
		c.stats.incParseError()
		logs.Errorf("drop malformed frame, err: %+v", err)
		return
	}

	switch env.Type {
	case envelope.TypePing:
		c.ka.Activity()
		if err := c.sendControl(envelope.TypePong); err != nil {
			logs.Errorf("answer ping, err: %+v", err)
		}
	case envelope.TypePong:
		c.ka.Activity()
		if err := c.sendControl(envelope.TypePing); err != nil {
			logs.Errorf("answer pong, err: %+v", err)
		}
	case envelope.TypeTimeoutConfig:
		cfg, err := envelope.Decode[envelope.TimeoutConfig](env)
		if err != nil {
			c.stats.incParseError()
			logs.Errorf("decode timeout config, err: %+v", err)
			return
		}
		d := time.Duration(cfg.Timeout) * time.Millisecond
		c.ka.SetIdleTimeout(d)
		logs.Infof("idle timeout updated: %s", d)
	case envelope.TypeApplication:
		c.bus.Publish(EventMessage, payload)
	case envelope.TypeError:
		logs.Errorf("peer error envelope, event: %q, body: %s", env.Event, env.Body)
	}
}

func (c *Client) flushQueue(conn Conn, gen uint64) {
	frames := c.state.drainAll()
	if len(frames) == 0 {
		return
	}
	logs.Infof("flushing %d queued frames", len(frames))
	for i, frame := range frames {
		if err := c.sendFrame(context.Background(), conn, frame); err != nil {
			// undelivered frames go back to the head so order survives
			c.state.requeue(frames[i:])
			c.scheduleReconnect(gen, fmt.Errorf("flush queued frame: %w", err))
			return
		}
		c.stats.incFlushed()
	}
}

// scheduleReconnect starts one background reconnect cycle. Failures
// reported against an already-replaced connection are dropped.
func (c *Client) scheduleReconnect(gen uint64, cause error) {
	if c.staleGen(gen) {
		return
	}
	if !c.reconnecting.CompareAndSwap(false, true) {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.reconnectMu.Lock()
	c.reconnectStop = cancel
	c.reconnectMu.Unlock()
	go c.reconnectLoop(ctx, gen, cause)
}

func (c *Client) reconnectLoop(ctx context.Context, gen uint64, cause error) {
	defer func() {
		c.reconnectMu.Lock()
		if c.reconnectStop != nil {
			c.reconnectStop()
			c.reconnectStop = nil
		}
		c.reconnectMu.Unlock()
		c.reconnecting.Store(false)
	}()

	c.lifecycleMu.Lock()
	if c.staleGen(gen) {
		// a concurrent Disconnect or reconnect already replaced this
		// connection; nothing to recover
		c.lifecycleMu.Unlock()
		return
	}
	_ = c.teardownLocked(CloseAbnormal, "reconnect")
	c.lifecycleMu.Unlock()
	c.stats.incReconnect()
	logs.Errorf("connection lost, reconnecting, err: %+v", cause)

	for {
		attempt := c.state.bumpAttempts()
		logs.Infof("reconnect attempt %d in %s", attempt, c.cfg.Backoff.Delay(attempt))
		if err := sleepBackoff(ctx, c.cfg.Backoff, attempt); err != nil {
			return
		}

		c.lifecycleMu.Lock()
		err := c.connectLocked(ctx)
		c.lifecycleMu.Unlock()
		if err == nil {
			return
		}
		if errors.Is(err, ErrUpgradeRejected) || ctx.Err() != nil {
			return
		}
		logs.Errorf("reconnect attempt %d failed, err: %+v", attempt, err)
	}
}

func (c *Client) cancelScheduledReconnect() {
	c.reconnectMu.Lock()
	if c.reconnectStop != nil {
		c.reconnectStop()
	}
	c.reconnectMu.Unlock()
}

func (c *Client) onKeepaliveExpire() {
	logs.Errorf("keepalive expired, forcing reconnect")
	c.scheduleReconnect(c.currentGen(), errKeepaliveExpired)
}

func (c *Client) staleGen(gen uint64) bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.gen != gen
}

func (c *Client) currentGen() uint64 {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.gen
}

func (c *Client) notifyStatus(connected bool) {
	if c.cfg.OnStatusChange != nil {
		c.cfg.OnStatusChange(connected)
	}
}

func (c *Client) notifyUpgradeError(resp *http.Response) {
	if c.cfg.OnUpgradeError != nil {
		c.cfg.OnUpgradeError(resp)
	}
}

func upgradeRejected(resp *http.Response) bool {
	if resp == nil {
		return false
	}
	return resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden
}
