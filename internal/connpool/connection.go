package connpool

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// snapshotRequest is published to the device's request topic once a
// connection reaches Ready, prompting the panel to send a full state frame.
const snapshotRequest = `{"method":"GET"}`

// Logger defines the logging interface used by the pool.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// TokenSource supplies the current access token for broker authentication.
// Satisfied by an adapter over the session manager.
type TokenSource interface {
	// Token returns a currently valid access token, refreshing if needed.
	Token(ctx context.Context) (string, error)

	// Invalidate marks the current token as rejected so the next Token
	// call refreshes credentials rather than reusing a stale token.
	Invalidate()
}

// FrameHandler receives every inbound status payload for a device.
// Handlers run on paho's delivery goroutines and must not block for
// extended periods.
type FrameHandler func(deviceID string, payload []byte)

// mqttClient is the subset of pahomqtt.Client a connection uses.
// Narrowed for testing with a fake transport.
type mqttClient interface {
	Connect() pahomqtt.Token
	Subscribe(topic string, qos byte, callback pahomqtt.MessageHandler) pahomqtt.Token
	Publish(topic string, qos byte, retained bool, payload any) pahomqtt.Token
	Disconnect(quiesce uint)
}

// newClientFunc creates the transport for one connect attempt.
// Swapped for a fake in tests.
type newClientFunc func(opts *pahomqtt.ClientOptions) mqttClient

// defaultNewClient wraps the real paho constructor.
func defaultNewClient(opts *pahomqtt.ClientOptions) mqttClient {
	return pahomqtt.NewClient(opts)
}

// Connection is one device's persistent pub/sub connection.
//
// It is a small state machine (see State) driven by a single run
// goroutine: connect, subscribe to the device's status topic, request a
// state snapshot, then hold Ready until the transport drops. Failures at
// any stage tear the attempt down and schedule a retry after a bounded,
// capped-exponential delay. Transport-level authentication refusal
// additionally invalidates the token source so the next attempt uses
// fresh credentials.
//
// Connections are owned by the Pool; callers never hold one directly.
type Connection struct {
	deviceID string
	imei     string
	cfg      Config

	tokens  TokenSource
	handler FrameHandler

	newClient newClientFunc

	// client is the transport for the current attempt. Guarded by mu
	// together with state.
	client mqttClient
	state  State
	mu     sync.RWMutex

	// lost is signalled by paho's connection-lost handler.
	lost chan error

	cancel context.CancelFunc
	done   chan struct{}

	logger Logger
}

// newConnection creates a connection and starts its run loop.
func newConnection(ctx context.Context, deviceID, imei string, cfg Config, tokens TokenSource, handler FrameHandler, newClient newClientFunc, logger Logger) *Connection {
	runCtx, cancel := context.WithCancel(ctx)

	c := &Connection{
		deviceID:  deviceID,
		imei:      imei,
		cfg:       cfg,
		tokens:    tokens,
		handler:   handler,
		newClient: newClient,
		state:     StateDisconnected,
		lost:      make(chan error, 1),
		cancel:    cancel,
		done:      make(chan struct{}),
		logger:    logger,
	}

	go c.run(runCtx)
	return c
}

// State returns the connection's current lifecycle state.
func (c *Connection) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// setState transitions the state machine; no-op once Closed.
func (c *Connection) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return
	}
	c.state = s
}

// Close shuts the connection down and waits for the run loop to exit.
// Closed is terminal; the connection never reconnects afterwards.
func (c *Connection) Close() {
	c.cancel()
	<-c.done
}

// Publish sends a payload on a topic through this connection.
//
// Fails immediately with ErrNotReady if the connection is not Ready; the
// caller decides whether to retry. A successful return means the message
// was acknowledged by the transport at the configured QoS.
func (c *Connection) Publish(topic string, payload []byte) error {
	c.mu.RLock()
	client := c.client
	state := c.state
	c.mu.RUnlock()

	if state != StateReady || client == nil {
		return fmt.Errorf("%w: device %s is %s", ErrNotReady, c.deviceID, state)
	}

	token := client.Publish(topic, c.cfg.QoS, false, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// run drives the connect/subscribe/ready cycle until the context is
// cancelled. Each failed attempt waits for the current backoff delay;
// the delay doubles per consecutive failure up to cfg.MaxDelay and
// resets once Ready is reached.
func (c *Connection) run(ctx context.Context) {
	defer close(c.done)
	defer func() {
		c.mu.Lock()
		c.state = StateClosed
		c.mu.Unlock()
	}()
	defer c.teardown()

	delay := c.cfg.InitialDelay

	for {
		if ctx.Err() != nil {
			return
		}

		if err := c.attempt(ctx); err != nil {
			c.logger.Warn("connection attempt failed",
				"device_id", c.deviceID,
				"error", err,
				"retry_in", delay,
			)
			c.setState(StateReconnecting)
			if !sleepCtx(ctx, delay) {
				return
			}
			delay = minDuration(delay*2, c.cfg.MaxDelay)
			continue
		}

		// Ready: reset backoff, then hold until the transport drops.
		delay = c.cfg.InitialDelay

		select {
		case <-ctx.Done():
			return
		case lostErr := <-c.lost:
			c.logger.Warn("connection lost",
				"device_id", c.deviceID,
				"error", lostErr,
			)
			c.teardown()
			c.setState(StateReconnecting)
			if !sleepCtx(ctx, delay) {
				return
			}
			delay = minDuration(delay*2, c.cfg.MaxDelay)
		}
	}
}

// attempt performs one full connect-subscribe-snapshot cycle.
// On success the connection is Ready.
func (c *Connection) attempt(ctx context.Context) error {
	c.setState(StateConnecting)

	// Fresh credentials for every attempt. A rejected token forces a
	// refresh on the next pass rather than spinning on stale credentials.
	accessToken, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("acquiring token: %w", err)
	}

	opts := buildClientOptions(c.cfg, c.imei, accessToken)
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, lostErr error) {
		select {
		case c.lost <- lostErr:
		default:
		}
	})

	client := c.newClient(opts)

	token := client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		client.Disconnect(0)
		return fmt.Errorf("connect timeout after %v", defaultConnectTimeout)
	}
	if connErr := token.Error(); connErr != nil {
		client.Disconnect(0)
		if isAuthRefusal(connErr) {
			c.tokens.Invalidate()
			return fmt.Errorf("broker rejected credentials: %w", connErr)
		}
		return fmt.Errorf("connecting: %w", connErr)
	}

	c.mu.Lock()
	c.client = client
	c.state = StateConnected
	c.mu.Unlock()

	// Drain any stale lost signal from a previous attempt.
	select {
	case <-c.lost:
	default:
	}

	// Subscribe, then request a snapshot. Both must succeed before the
	// connection is usable; a half-subscribed connection is torn down
	// rather than left Ready without inbound traffic.
	c.setState(StateSubscribing)

	statusTopic := Topics{}.DeviceStatus(c.imei)
	subToken := client.Subscribe(statusTopic, c.cfg.QoS, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.handleMessage(msg.Payload())
	})
	if !subToken.WaitTimeout(defaultPublishTimeout) {
		c.teardown()
		return fmt.Errorf("subscribe timeout on %s", statusTopic)
	}
	if subErr := subToken.Error(); subErr != nil {
		c.teardown()
		return fmt.Errorf("subscribing to %s: %w", statusTopic, subErr)
	}

	reqToken := client.Publish(Topics{}.DeviceRequest(c.imei), c.cfg.QoS, false, []byte(snapshotRequest))
	if !reqToken.WaitTimeout(defaultPublishTimeout) {
		c.teardown()
		return fmt.Errorf("snapshot request timeout")
	}
	if reqErr := reqToken.Error(); reqErr != nil {
		c.teardown()
		return fmt.Errorf("requesting snapshot: %w", reqErr)
	}

	c.setState(StateReady)
	c.logger.Info("connection ready", "device_id", c.deviceID)
	return nil
}

// handleMessage forwards an inbound payload to the frame handler with
// panic recovery, so a bad frame cannot kill paho's delivery goroutine.
func (c *Connection) handleMessage(payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("frame handler panic recovered",
				"device_id", c.deviceID,
				"panic", r,
			)
		}
	}()
	c.handler(c.deviceID, payload)
}

// teardown disconnects the current transport, if any.
func (c *Connection) teardown() {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()

	if client != nil {
		client.Disconnect(defaultDisconnectQuiesce)
	}
}

// isAuthRefusal reports whether a connect error is a credential rejection
// rather than a transport problem. Paho surfaces CONNACK refusals as
// formatted errors, so this matches on the reason text.
func isAuthRefusal(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "bad user name or password") ||
		strings.Contains(msg, "not authorized") ||
		strings.Contains(msg, "not authorised")
}

// sleepCtx waits for d or until the context is cancelled.
// Returns false if the context ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// minDuration returns the smaller of two durations.
func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
