// Package stream owns the one logical real-time channel between a viewer
// session and the tracking backend: dialing, interest registration,
// degradation detection, and reconnection with capped exponential backoff.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/openfleet/dispatchmap/internal/models"
)

// Callbacks are invoked from the client's internal goroutines. OnMessage is
// called for every validated inbound frame, in arrival order, and must return
// before the next frame is read.
type Callbacks struct {
	OnMessage       func(msg models.InboundMessage)
	OnStateChange   func(from, to models.ConnectionState)
	OnQualityChange func(q models.ConnectionQuality)
	OnError         func(err error)
}

// Options configures a Client. Zero values fall back to the defaults below.
type Options struct {
	URL       string
	Role      models.ViewerRole
	FleetID   string
	ZoneIDs   []string
	DriverIDs []string

	DialTimeout          time.Duration
	ReadTimeout          time.Duration
	PingInterval         time.Duration
	ReconnectDelay       time.Duration // base backoff delay
	MaxReconnectDelay    time.Duration // backoff cap
	MaxReconnectAttempts int           // 0 = retry forever
	QueueCap             int
	RTTWindow            int
	GoodLatency          time.Duration
	PoorLatency          time.Duration
	GapThreshold         time.Duration
}

func (o *Options) withDefaults() {
	if o.DialTimeout == 0 {
		o.DialTimeout = 10 * time.Second
	}
	if o.ReadTimeout == 0 {
		o.ReadTimeout = 60 * time.Second
	}
	if o.PingInterval == 0 {
		o.PingInterval = 5 * time.Second
	}
	if o.ReconnectDelay == 0 {
		o.ReconnectDelay = 1 * time.Second
	}
	if o.MaxReconnectDelay == 0 {
		o.MaxReconnectDelay = 30 * time.Second
	}
	if o.QueueCap == 0 {
		o.QueueCap = 256
	}
	if o.RTTWindow == 0 {
		o.RTTWindow = 10
	}
	if o.GoodLatency == 0 {
		o.GoodLatency = 150 * time.Millisecond
	}
	if o.PoorLatency == 0 {
		o.PoorLatency = 400 * time.Millisecond
	}
	if o.GapThreshold == 0 {
		o.GapThreshold = 15 * time.Second
	}
}

// Client maintains the backend channel for one viewer session. Connection
// errors are never fatal: the client keeps recovering until Disconnect.
type Client struct {
	logger    *zap.Logger
	opts      Options
	machine   *stateMachine
	queue     *outQueue
	quality   *qualityTracker
	callbacks Callbacks

	mu          sync.RWMutex
	conn        *websocket.Conn
	connected   bool
	running     bool
	stopCh      chan struct{}
	reconnectCh chan struct{}

	currentDelay time.Duration
	attempts     int

	pingSeq      int64
	pendingPings map[int64]time.Time
	lastQuality  models.ConnectionQuality
}

// NewClient creates a client; it does not connect.
func NewClient(logger *zap.Logger, opts Options) *Client {
	opts.withDefaults()

	c := &Client{
		logger:       logger,
		opts:         opts,
		queue:        newOutQueue(opts.QueueCap),
		quality:      newQualityTracker(opts.RTTWindow, opts.GoodLatency, opts.PoorLatency, opts.GapThreshold),
		reconnectCh:  make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
		currentDelay: opts.ReconnectDelay,
		pendingPings: make(map[int64]time.Time),
		lastQuality:  models.QualityOffline,
	}
	c.machine = newStateMachine(func(from, to models.ConnectionState) {
		if c.callbacks.OnStateChange != nil {
			c.callbacks.OnStateChange(from, to)
		}
	})
	return c
}

// SetCallbacks installs the callback set. Call before Connect.
func (c *Client) SetCallbacks(cb Callbacks) {
	c.callbacks = cb
}

// State returns the current connection state.
func (c *Client) State() models.ConnectionState {
	return c.machine.Current()
}

// Quality returns the current derived connection quality.
func (c *Client) Quality() models.ConnectionQuality {
	c.mu.RLock()
	connected := c.connected
	c.mu.RUnlock()
	return c.quality.Evaluate(time.Now(), connected)
}

// ReconnectAttempts returns the count of consecutive failed attempts since
// the last successful connection.
func (c *Client) ReconnectAttempts() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.attempts
}

// QueuedMessages returns how many outbound frames are waiting for reconnect.
func (c *Client) QueuedMessages() int {
	return c.queue.Len()
}

// Connect establishes the channel and starts the reconnect supervisor.
// A dial failure is returned but the supervisor keeps retrying; the channel
// only stays down after Disconnect or an exhausted retry budget.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.mu.Unlock()

	if c.machine.Can(eventDial) {
		c.machine.Trigger(eventDial)
	}

	err := c.connectOnce(ctx)
	if err != nil {
		if c.machine.Can(eventDialFailed) {
			c.machine.Trigger(eventDialFailed)
		}
		c.recordFailure(err)
	}

	go c.supervise(ctx)
	return err
}

// Disconnect tears the channel down and stops all retry and ping timers.
// The outbound queue is discarded; call Connect to start over.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stopCh)
	c.mu.Unlock()

	c.closeSocket()
	c.queue.Clear()
	c.quality.Reset()

	if c.machine.Can(eventStop) {
		c.machine.Trigger(eventStop)
	}
	c.notifyQuality()

	c.logger.Info("stream disconnected by caller")
}

// Reconnect is the caller-driven retry: it resets the backoff counter and
// forces a fresh dial, restarting the supervisor if it had given up.
func (c *Client) Reconnect(ctx context.Context) {
	c.mu.Lock()
	c.currentDelay = c.opts.ReconnectDelay
	c.attempts = 0
	running := c.running
	c.mu.Unlock()

	if !running {
		c.Connect(ctx)
		return
	}

	c.closeSocket()
	c.triggerReconnect()
}

// Send marshals and transmits a frame, queueing it while disconnected.
// Queued frames are flushed in order on the next successful connect.
func (c *Client) Send(v any) error {
	frame, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal outbound: %w", err)
	}

	c.mu.RLock()
	conn := c.conn
	connected := c.connected
	c.mu.RUnlock()

	if !connected || conn == nil {
		c.queue.Push(frame)
		return nil
	}

	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		c.queue.Push(frame)
		return &models.TransportError{Op: "write", Err: err}
	}
	return nil
}

// FindNearby sends an explicit nearby-drivers query upstream. The response
// arrives as a nearby_result frame on the inbound stream.
func (c *Client) FindNearby(queryID string, center models.LatLng, radiusMeters float64, limit int) error {
	return c.Send(models.FindNearbyMsg{
		Type:         models.MsgFindNearby,
		QueryID:      queryID,
		Center:       center,
		RadiusMeters: radiusMeters,
		Limit:        limit,
	})
}

// connectOnce performs a single dial + subscribe. On success it flushes the
// queue and starts the read and ping loops.
func (c *Client) connectOnce(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: c.opts.DialTimeout}

	conn, _, err := dialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		return &models.TransportError{Op: "dial", Err: err}
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.currentDelay = c.opts.ReconnectDelay
	c.attempts = 0
	c.pendingPings = make(map[int64]time.Time)
	c.mu.Unlock()

	c.quality.Reset()

	if err := c.subscribe(conn); err != nil {
		c.closeSocket()
		return &models.TransportError{Op: "subscribe", Err: err}
	}

	if c.machine.Can(eventEstablished) {
		c.machine.Trigger(eventEstablished)
	}

	c.flushQueue(conn)

	go c.readLoop(conn)
	go c.pingLoop(conn)

	c.notifyQuality()
	c.logger.Info("stream connected",
		zap.String("fleet", c.opts.FleetID),
		zap.String("role", string(c.opts.Role)))
	return nil
}

// subscribe registers the session's interest scope.
func (c *Client) subscribe(conn *websocket.Conn) error {
	return conn.WriteJSON(models.SubscribeMsg{
		Type:      models.MsgSubscribe,
		Role:      c.opts.Role,
		FleetID:   c.opts.FleetID,
		ZoneIDs:   c.opts.ZoneIDs,
		DriverIDs: c.opts.DriverIDs,
	})
}

// flushQueue writes frames buffered during the outage, oldest first.
func (c *Client) flushQueue(conn *websocket.Conn) {
	frames := c.queue.Drain()
	for _, frame := range frames {
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			c.logger.Warn("flush queued frame failed", zap.Error(err))
			// Put the rest back; they survive to the next reconnect.
			c.queue.Push(frame)
			return
		}
	}
	if len(frames) > 0 {
		c.logger.Debug("flushed outbound queue", zap.Int("frames", len(frames)))
	}
}

// readLoop consumes inbound frames until the connection drops. Store updates
// happen inside OnMessage, so per-driver event ordering is preserved by
// construction: the next frame is not read until the previous one is applied.
func (c *Client) readLoop(conn *websocket.Conn) {
	defer func() {
		c.mu.Lock()
		wasConnected := c.connected && c.conn == conn
		if wasConnected {
			c.connected = false
		}
		running := c.running
		c.mu.Unlock()

		if wasConnected && running {
			if c.machine.Can(eventLost) {
				c.machine.Trigger(eventLost)
			}
			c.notifyQuality()
			c.triggerReconnect()
		}
	}()

	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))

		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.logger.Debug("stream closed normally")
			} else {
				c.logger.Warn("stream read error", zap.Error(err))
				if c.callbacks.OnError != nil {
					c.callbacks.OnError(&models.TransportError{Op: "read", Err: err})
				}
			}
			return
		}

		c.quality.RecordMessage(time.Now())

		msg, err := models.DecodeInbound(frame)
		if err != nil {
			// Drop the single frame and keep going.
			c.logger.Warn("dropping malformed frame", zap.Error(err))
			if c.callbacks.OnError != nil {
				c.callbacks.OnError(err)
			}
			continue
		}

		if pong, ok := msg.(*models.PongMsg); ok {
			c.handlePong(pong)
			continue
		}

		if c.callbacks.OnMessage != nil {
			c.callbacks.OnMessage(msg)
		}
	}
}

// pingLoop measures round-trip latency and re-evaluates quality each tick.
func (c *Client) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		if !c.connected || c.conn != conn {
			c.mu.Unlock()
			return
		}
		c.pingSeq++
		id := c.pingSeq
		now := time.Now()
		c.pendingPings[id] = now
		// An unanswered ping older than three intervals is lost; forget it.
		for pid, sent := range c.pendingPings {
			if now.Sub(sent) > 3*c.opts.PingInterval {
				delete(c.pendingPings, pid)
			}
		}
		c.mu.Unlock()

		ping := models.PingMsg{Type: models.MsgPing, ID: id, SentAt: now.UnixMilli()}
		if err := conn.WriteJSON(ping); err != nil {
			c.logger.Debug("ping write failed", zap.Error(err))
			return
		}

		c.notifyQuality()
	}
}

func (c *Client) handlePong(pong *models.PongMsg) {
	c.mu.Lock()
	sent, ok := c.pendingPings[pong.ID]
	if ok {
		delete(c.pendingPings, pong.ID)
	}
	c.mu.Unlock()

	if !ok {
		return
	}

	c.quality.RecordRTT(time.Since(sent))
	c.notifyQuality()
}

// notifyQuality fires OnQualityChange when the derived quality moves.
func (c *Client) notifyQuality() {
	q := c.Quality()

	c.mu.Lock()
	changed := q != c.lastQuality
	c.lastQuality = q
	c.mu.Unlock()

	if changed && c.callbacks.OnQualityChange != nil {
		c.callbacks.OnQualityChange(q)
	}
}

// supervise retries after unexpected closures with capped exponential
// backoff and jitter, until Disconnect or the attempt budget runs out.
func (c *Client) supervise(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.Disconnect()
			return
		case <-c.stopCh:
			return
		case <-c.reconnectCh:
		case <-c.retryTimer():
			// A prior attempt failed; fall through and try again.
		}

		c.mu.RLock()
		connected := c.connected
		running := c.running
		c.mu.RUnlock()
		if !running {
			return
		}
		if connected {
			continue
		}

		if c.machine.Can(eventRetry) {
			c.machine.Trigger(eventRetry)
		} else if c.machine.Can(eventDial) {
			c.machine.Trigger(eventDial)
		}

		if err := c.connectOnce(ctx); err != nil {
			c.recordFailure(err)

			c.mu.Lock()
			attempts := c.attempts
			c.mu.Unlock()

			if c.opts.MaxReconnectAttempts > 0 && attempts >= c.opts.MaxReconnectAttempts {
				c.logger.Warn("reconnect budget exhausted",
					zap.Int("attempts", attempts))
				if c.machine.Can(eventGiveUp) {
					c.machine.Trigger(eventGiveUp)
				}
				c.mu.Lock()
				c.running = false
				close(c.stopCh)
				c.mu.Unlock()
				return
			}
		}
	}
}

// retryTimer returns a channel that fires after the current backoff delay
// (with jitter) whenever the client is down, and never fires while connected.
func (c *Client) retryTimer() <-chan time.Time {
	c.mu.RLock()
	connected := c.connected
	delay := c.currentDelay
	c.mu.RUnlock()

	if connected {
		return nil
	}
	return time.After(withJitter(delay))
}

// recordFailure increments the attempt counter and doubles the delay up to
// the cap.
func (c *Client) recordFailure(err error) {
	c.mu.Lock()
	c.attempts++
	attempts := c.attempts
	delay := c.currentDelay
	c.currentDelay *= 2
	if c.currentDelay > c.opts.MaxReconnectDelay {
		c.currentDelay = c.opts.MaxReconnectDelay
	}
	c.mu.Unlock()

	c.logger.Warn("stream connect failed",
		zap.Int("attempt", attempts),
		zap.Duration("next_delay", delay),
		zap.Error(err))

	if c.callbacks.OnError != nil {
		c.callbacks.OnError(err)
	}
}

func (c *Client) triggerReconnect() {
	select {
	case c.reconnectCh <- struct{}{}:
	default:
		// A reconnect is already queued.
	}
}

func (c *Client) closeSocket() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// withJitter spreads reconnects so a fleet of viewers does not stampede the
// backend after an outage.
func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	return d + time.Duration(rand.Int63n(int64(d)/4+1))
}
