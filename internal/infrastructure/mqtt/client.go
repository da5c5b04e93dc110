package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/zkgate/zkgate-core/internal/infrastructure/config"
)

// Logger receives handler failures. Satisfied by logging.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// MessageHandler receives one inbound message. Paho invokes handlers on
// its own goroutines, so they must not block on the client itself.
type MessageHandler func(topic string, payload []byte) error

// subscription is remembered so the topic survives a reconnect.
type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// Client is a connection to the site broker. Zero value is unusable
// except for Close; build one with Connect. Safe for concurrent use.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig

	subsMu sync.RWMutex
	subs   map[string]subscription

	stateMu sync.RWMutex
	up      bool

	cbMu         sync.RWMutex
	onConnect    func()
	onDisconnect func(err error)

	logMu  sync.RWMutex
	logger Logger
}

// Connect dials the broker and blocks until the first connection lands
// or the connect timeout expires. The returned client reconnects on its
// own afterwards, re-subscribing and re-announcing the gateway as it
// comes back.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := &Client{
		cfg:  cfg,
		subs: make(map[string]subscription),
	}

	opts := newClientOptions(cfg)
	opts.SetBinaryWill(Topics{}.SystemStatus(), gatewayStatusJSON(cfg.Broker.ClientID, "offline", "unexpected_disconnect"), 1, true)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.brokerUp() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.brokerDown(err) })

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: no broker answer within %v", ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The connect handler runs async and may not have fired yet; mark
	// the link up here so IsConnected holds immediately after Connect.
	c.stateMu.Lock()
	c.up = true
	c.stateMu.Unlock()

	return c, nil
}

// brokerUp fires on every (re)connect. Subscriptions made before the
// drop are replayed and the gateway is re-announced as online.
func (c *Client) brokerUp() {
	c.stateMu.Lock()
	c.up = true
	c.stateMu.Unlock()

	c.subsMu.RLock()
	for _, sub := range c.subs {
		c.client.Subscribe(sub.topic, sub.qos, c.wrapHandler(sub.handler))
	}
	c.subsMu.RUnlock()

	c.client.Publish(Topics{}.SystemStatus(), byte(c.cfg.QoS), true,
		gatewayStatusJSON(c.cfg.Broker.ClientID, "online", ""))

	c.cbMu.RLock()
	cb := c.onConnect
	c.cbMu.RUnlock()
	if cb != nil {
		cb()
	}
}

func (c *Client) brokerDown(err error) {
	c.stateMu.Lock()
	c.up = false
	c.stateMu.Unlock()

	c.cbMu.RLock()
	cb := c.onDisconnect
	c.cbMu.RUnlock()
	if cb != nil {
		cb(err)
	}
}

// Close announces a graceful shutdown, distinguishable from the will
// message the broker emits on a crash, then disconnects. Nil-safe on a
// never-connected client.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.IsConnected() {
		token := c.client.Publish(Topics{}.SystemStatus(), byte(c.cfg.QoS), true,
			gatewayStatusJSON(c.cfg.Broker.ClientID, "offline", "graceful_shutdown"))
		token.WaitTimeout(opTimeout)
	}

	c.client.Disconnect(disconnectQuiesceMs)

	c.stateMu.Lock()
	c.up = false
	c.stateMu.Unlock()
	return nil
}

// HealthCheck reports whether the broker link is usable.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports the last known link state.
func (c *Client) IsConnected() bool {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.up && c.client.IsConnected()
}

// SetOnConnect registers a callback for every successful (re)connect.
func (c *Client) SetOnConnect(callback func()) {
	c.cbMu.Lock()
	c.onConnect = callback
	c.cbMu.Unlock()
}

// SetOnDisconnect registers a callback for lost connections.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.cbMu.Lock()
	c.onDisconnect = callback
	c.cbMu.Unlock()
}

// SetLogger routes handler failures somewhere visible. Without one they
// are dropped.
func (c *Client) SetLogger(logger Logger) {
	c.logMu.Lock()
	c.logger = logger
	c.logMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.logMu.RLock()
	defer c.logMu.RUnlock()
	return c.logger
}

// wrapHandler isolates paho's dispatch goroutines from handler panics
// and surfaces handler errors through the logger.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if l := c.getLogger(); l != nil {
					l.Error("mqtt handler panicked", "topic", msg.Topic(), "panic", r)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if l := c.getLogger(); l != nil {
				l.Warn("mqtt handler failed", "topic", msg.Topic(), "error", err)
			}
		}
	}
}
