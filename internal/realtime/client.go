package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rmaffei/crmlink/internal/bus"
	"github.com/rmaffei/crmlink/internal/status"
	"github.com/rmaffei/crmlink/internal/wire"
	"go.uber.org/zap"
)

// TokenSource supplies the auth credential placed on the WebSocket URL.
type TokenSource func() (string, error)

// Options configures the connection manager.
type Options struct {
	// URL is the WebSocket endpoint, e.g. "wss://api.example.com/ws".
	// The auth token is appended as a query parameter on dial.
	URL   string
	Token TokenSource
	// MaxReconnectAttempts bounds automatic reconnects after an
	// unexpected close; beyond it the connection surfaces FAILED.
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	// EmitRetryDelay is the single-retry delay for an emit issued while
	// the socket is still connecting.
	EmitRetryDelay time.Duration
	// DialTimeout bounds each dial attempt.
	DialTimeout time.Duration
}

func (o *Options) defaults() {
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = 5
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = time.Second
	}
	if o.EmitRetryDelay <= 0 {
		o.EmitRetryDelay = time.Second
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 10 * time.Second
	}
}

// ErrNoCredential is recorded when no auth token is available at dial time.
var ErrNoCredential = errors.New("realtime: no auth credential available")

// Client owns one logical WebSocket connection: dial with the session
// credential, publish decoded envelopes on the bus, reconnect with a
// bounded attempt counter after unexpected closes, and send outbound
// envelopes with a single deferred retry while connecting.
//
// Transport errors are reported through the state machine and the bus;
// they are never thrown past the client.
type Client struct {
	opts    Options
	bus     *bus.Bus
	machine *status.Machine
	logger  *zap.Logger

	mu             sync.Mutex
	conn           *websocket.Conn
	cancel         context.CancelFunc
	attempts       int
	manuallyClosed bool
	lastErr        error
	emitPending    bool
}

// ReconnectInfo is the payload of conn.reconnecting events.
type ReconnectInfo struct {
	Attempt int
	Delay   time.Duration
}

// NewClient creates a connection manager. The connection is not opened
// until Connect or the first Emit.
func NewClient(opts Options, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *Client {
	opts.defaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		opts:    opts,
		bus:     b,
		machine: machine,
		logger:  logger,
	}
}

// State returns the current connection state.
func (c *Client) State() status.State {
	return c.machine.Current()
}

// LastError returns the most recent transport error, or nil.
func (c *Client) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Attempts returns the current reconnect attempt counter.
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Connect opens the connection. Idempotent: a call while the connection
// is open or connecting returns immediately. A missing credential
// surfaces as a terminal FAILED state; no retry loop is started for it.
func (c *Client) Connect(ctx context.Context) error {
	switch c.machine.Current() {
	case status.Open, status.Connecting:
		return nil
	}

	c.mu.Lock()
	c.manuallyClosed = false
	c.mu.Unlock()

	if err := c.machine.Transition(status.Connecting); err != nil {
		return err
	}
	return c.dial(ctx, false)
}

// Disconnect marks the closure as intentional so the reconnect path is
// skipped, then closes the socket. Safe to call when not connected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.manuallyClosed = true
	conn := c.conn
	c.conn = nil
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.mu.Unlock()

	if conn != nil {
		_ = c.machine.Transition(status.Closing)
		_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	_ = c.machine.Transition(status.Closed)
	c.logger.Info("disconnected")
}

// SubscribeConversation emits a subscribe envelope for the given
// conversation, asking the server to push its new_message events.
func (c *Client) SubscribeConversation(ctx context.Context, conversationID string) error {
	env, err := wire.NewEnvelope(wire.TypeSubscribe, wire.Subscribe{ConversationID: conversationID})
	if err != nil {
		return err
	}
	return c.Emit(ctx, env)
}

// Emit sends an envelope. Open: send now. Connecting: defer once and
// retry after a fixed delay; a failure past that is reported on the bus,
// not returned. Idle/closed: trigger a lazy Connect, then defer the same
// way. At most one deferred envelope is held at a time.
func (c *Client) Emit(ctx context.Context, env wire.Envelope) error {
	data, err := wire.Encode(env)
	if err != nil {
		return err
	}

	switch c.machine.Current() {
	case status.Open:
		return c.write(ctx, data)
	case status.Connecting:
		c.deferSend(env.Type, data)
		return nil
	default:
		go func() {
			if err := c.Connect(context.Background()); err != nil {
				c.logger.Warn("lazy connect for emit failed", zap.Error(err))
			}
		}()
		c.deferSend(env.Type, data)
		return nil
	}
}

// dial performs one connection attempt. reconnecting distinguishes the
// automatic retry path (errors feed the backoff loop) from an explicit
// Connect (errors also return to the caller).
func (c *Client) dial(ctx context.Context, reconnecting bool) error {
	token, err := c.opts.Token()
	if err != nil || token == "" {
		if err == nil {
			err = ErrNoCredential
		}
		c.recordError(err)
		_ = c.machine.Transition(status.Failed)
		c.publish(bus.KindConnFailed, err.Error())
		c.logger.Error("cannot connect: no credential", zap.Error(err))
		return fmt.Errorf("read credential: %w", err)
	}

	dialCtx, cancelDial := context.WithTimeout(ctx, c.opts.DialTimeout)
	defer cancelDial()

	wsURL := c.opts.URL + "?token=" + url.QueryEscape(token)
	conn, _, err := websocket.Dial(dialCtx, wsURL, nil)
	if err != nil {
		c.recordError(err)
		c.publish(bus.KindConnError, err.Error())
		c.logger.Warn("dial failed", zap.Error(err))
		c.scheduleReconnect()
		return fmt.Errorf("websocket dial: %w", err)
	}

	readCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.conn = conn
	c.cancel = cancel
	c.attempts = 0
	c.lastErr = nil
	c.mu.Unlock()

	if err := c.machine.Transition(status.Open); err != nil {
		// Disconnect raced the dial; drop the fresh connection.
		cancel()
		_ = conn.Close(websocket.StatusNormalClosure, "superseded")
		return nil
	}
	if reconnecting {
		c.logger.Info("reconnected")
	} else {
		c.logger.Info("connected")
	}

	go c.readLoop(readCtx, conn)
	return nil
}

// readLoop publishes decoded envelopes in arrival order until the
// connection drops, then routes the closure to the reconnect path.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.handleClose(err)
			return
		}

		env, err := wire.Decode(data)
		if err != nil {
			c.logger.Debug("dropping malformed frame", zap.Error(err))
			continue
		}
		payload, err := wire.DecodePayload(env)
		if err != nil {
			if errors.Is(err, wire.ErrUnknownType) {
				c.logger.Debug("ignoring unknown event type", zap.String("type", string(env.Type)))
			} else {
				c.logger.Warn("dropping undecodable payload", zap.String("type", string(env.Type)), zap.Error(err))
			}
			continue
		}

		ts := env.TS
		if ts.IsZero() {
			ts = time.Now()
		}
		c.bus.Publish(bus.Event{
			Kind:      bus.NamespaceWS + string(env.Type),
			Timestamp: ts,
			Payload:   payload,
		})
	}
}

func (c *Client) handleClose(err error) {
	c.mu.Lock()
	manual := c.manuallyClosed
	c.conn = nil
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.mu.Unlock()

	if manual {
		_ = c.machine.Transition(status.Closed)
		return
	}

	c.recordError(err)
	c.publish(bus.KindConnError, err.Error())
	c.logger.Warn("connection closed unexpectedly", zap.Error(err))
	_ = c.machine.Transition(status.Connecting)
	c.scheduleReconnect()
}

// scheduleReconnect arms one reconnect timer, or transitions to FAILED
// once the attempt budget is spent. No timer is ever scheduled after a
// manual disconnect.
func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	if c.manuallyClosed {
		c.mu.Unlock()
		return
	}
	if c.attempts >= c.opts.MaxReconnectAttempts {
		lastErr := c.lastErr
		c.mu.Unlock()
		_ = c.machine.Transition(status.Failed)
		msg := "reconnect attempts exhausted"
		if lastErr != nil {
			msg = lastErr.Error()
		}
		c.publish(bus.KindConnFailed, msg)
		c.logger.Error("giving up reconnecting", zap.Int("attempts", c.opts.MaxReconnectAttempts))
		return
	}
	c.attempts++
	attempt := c.attempts
	c.mu.Unlock()

	c.logger.Info("scheduling reconnect", zap.Int("attempt", attempt), zap.Duration("delay", c.opts.ReconnectDelay))
	if c.bus != nil {
		c.bus.Publish(bus.Event{
			Kind:      bus.KindConnReconnecting,
			Timestamp: time.Now(),
			Payload:   ReconnectInfo{Attempt: attempt, Delay: c.opts.ReconnectDelay},
		})
	}

	time.AfterFunc(c.opts.ReconnectDelay, func() {
		c.mu.Lock()
		skip := c.manuallyClosed
		c.mu.Unlock()
		if skip {
			return
		}
		// Dial failures arm the next timer from inside dial.
		_ = c.dial(context.Background(), true)
	})
}

// deferSend holds one outbound frame and retries it once after the
// configured delay. A second deferral while one is pending is dropped
// and reported; there is no unbounded buffering.
func (c *Client) deferSend(t wire.EventType, data []byte) {
	c.mu.Lock()
	if c.emitPending {
		c.mu.Unlock()
		c.logger.Warn("emit dropped: deferred send already pending", zap.String("type", string(t)))
		c.publish(bus.KindConnEmitFailed, fmt.Sprintf("%s dropped: send already pending", t))
		return
	}
	c.emitPending = true
	c.mu.Unlock()

	time.AfterFunc(c.opts.EmitRetryDelay, func() {
		c.mu.Lock()
		c.emitPending = false
		c.mu.Unlock()

		if c.machine.Current() != status.Open {
			c.logger.Warn("deferred emit failed: socket not open", zap.String("type", string(t)))
			c.publish(bus.KindConnEmitFailed, fmt.Sprintf("%s failed: socket not open", t))
			return
		}
		if err := c.write(context.Background(), data); err != nil {
			c.logger.Warn("deferred emit failed", zap.String("type", string(t)), zap.Error(err))
			c.publish(bus.KindConnEmitFailed, fmt.Sprintf("%s failed: %v", t, err))
		}
	})
}

func (c *Client) write(ctx context.Context, data []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.New("realtime: not connected")
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func (c *Client) recordError(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
}

func (c *Client) publish(kind, payload string) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
