package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/nodelink-core/internal/infrastructure/config"
)

// Logger is the subset of logging.Logger the client writes to.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MessageHandler receives one inbound message. A returned error is logged;
// the message is acknowledged either way.
type MessageHandler func(topic string, payload []byte) error

// Stats holds client counters.
type Stats struct {
	Published     uint64
	PublishErrors uint64
	Received      uint64
	HandlerErrors uint64
	Reconnects    uint64
	Subscriptions int
	Connected     bool
}

type hooks struct {
	onConnect    func()
	onDisconnect func(error)
}

// Client is a broker session for the coordinator.
//
// The session announces itself on Topics.SystemStatus: "online" after every
// (re)connect, "offline" with reason "shutdown" from Close, and "offline"
// with reason "lost" via the broker-held will message.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Handlers run on paho goroutines and must not block for long.
type Client struct {
	paho     pahomqtt.Client
	clientID string
	qos      byte

	up       atomic.Bool
	sessions atomic.Uint64

	mu     sync.RWMutex
	subs   map[string]route
	hooks  hooks
	logger Logger

	published     atomic.Uint64
	publishErrors atomic.Uint64
	received      atomic.Uint64
	handlerErrors atomic.Uint64
}

// newClient builds an unconnected client.
func newClient(cfg config.MQTTConfig) *Client {
	c := &Client{
		clientID: cfg.Broker.ClientID,
		qos:      byte(cfg.QoS), //nolint:gosec // validated 0..2 by config
		subs:     make(map[string]route),
		logger:   noopLogger{},
	}
	opts := pahoOptions(cfg).
		SetOnConnectHandler(func(pahomqtt.Client) { c.connected() }).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.lost(err) }).
		SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
			c.log().Info("MQTT reconnecting", "client_id", c.clientID)
		})
	c.paho = pahomqtt.NewClient(opts)
	return c
}

// Connect opens the broker session described by cfg.
//
// Parameters:
//   - cfg: The mqtt config section
//
// Returns:
//   - *Client: Connected client; paho reconnects it on its own afterwards
//   - error: ErrConnectionFailed if the first attempt fails or times out
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := newClient(cfg)

	tok := c.paho.Connect()
	if !tok.WaitTimeout(connectTimeout) {
		c.paho.Disconnect(0)
		return nil, fmt.Errorf("%w: no CONNACK within %v", ErrConnectionFailed, connectTimeout)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, brokerURL(cfg.Broker), err)
	}

	// The on-connect handler runs asynchronously; callers expect
	// IsConnected to hold as soon as Connect returns.
	c.up.Store(true)
	return c, nil
}

func (c *Client) connected() {
	c.up.Store(true)
	if c.sessions.Add(1) > 1 {
		c.log().Info("MQTT session restored", "client_id", c.clientID)
	}

	c.resubscribe()
	c.paho.Publish(Topics{}.SystemStatus(), 1, true, statusPayload(c.clientID, StateOnline, ""))

	c.mu.RLock()
	fn := c.hooks.onConnect
	c.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (c *Client) lost(err error) {
	c.up.Store(false)

	c.mu.RLock()
	fn := c.hooks.onDisconnect
	c.mu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

// Close announces a clean shutdown and disconnects. Calling it on a client
// that never connected is a no-op.
func (c *Client) Close() error {
	if c.paho == nil {
		return nil
	}
	if c.IsConnected() {
		tok := c.paho.Publish(Topics{}.SystemStatus(), 1, true,
			statusPayload(c.clientID, StateOffline, "shutdown"))
		if !tok.WaitTimeout(ackTimeout) {
			c.log().Warn("MQTT offline status not acknowledged", "client_id", c.clientID)
		}
	}
	c.paho.Disconnect(quiesceMillis)
	c.up.Store(false)
	return nil
}

// HealthCheck returns ErrNotConnected while the session is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports the last known session state.
func (c *Client) IsConnected() bool {
	return c.paho != nil && c.up.Load() && c.paho.IsConnectionOpen()
}

// SetOnConnect registers fn to run after every successful (re)connect.
func (c *Client) SetOnConnect(fn func()) {
	c.mu.Lock()
	c.hooks.onConnect = fn
	c.mu.Unlock()
}

// SetOnDisconnect registers fn to run when the session drops unexpectedly.
func (c *Client) SetOnDisconnect(fn func(error)) {
	c.mu.Lock()
	c.hooks.onDisconnect = fn
	c.mu.Unlock()
}

// SetLogger replaces the logger. A nil logger discards output.
func (c *Client) SetLogger(l Logger) {
	if l == nil {
		l = noopLogger{}
	}
	c.mu.Lock()
	c.logger = l
	c.mu.Unlock()
}

func (c *Client) log() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.logger == nil {
		return noopLogger{}
	}
	return c.logger
}

// Stats returns client counters.
func (c *Client) Stats() Stats {
	var reconnects uint64
	if n := c.sessions.Load(); n > 1 {
		reconnects = n - 1
	}
	c.mu.RLock()
	subs := len(c.subs)
	c.mu.RUnlock()

	return Stats{
		Published:     c.published.Load(),
		PublishErrors: c.publishErrors.Load(),
		Received:      c.received.Load(),
		HandlerErrors: c.handlerErrors.Load(),
		Reconnects:    reconnects,
		Subscriptions: subs,
		Connected:     c.IsConnected(),
	}
}
