package connpool

import (
	"context"
	"fmt"
	"sync"
)

// Device identifies one alarm communicator for connection purposes.
type Device struct {
	// ID is the vendor device identifier, used as the registry key.
	ID string

	// IMEI is the hardware identifier; topics and the broker client id
	// derive from it.
	IMEI string
}

// Pool owns one persistent pub/sub connection per device.
//
// The pool is the sole owner of connection handles: callers address
// devices by id and never receive the underlying connection, so a
// connection cannot be used after the pool has replaced or closed it.
// One live connection per device id is the only allowed cardinality;
// replacing a connection always tears down the old one first.
//
// Thread Safety: all methods are safe for concurrent use.
type Pool struct {
	cfg     Config
	tokens  TokenSource
	handler FrameHandler

	newClient newClientFunc

	conns  map[string]*Connection
	closed bool
	mu     sync.Mutex

	// ctx parents every connection's run loop so Close cancels all
	// in-flight reconnect timers at once.
	ctx    context.Context
	cancel context.CancelFunc

	logger Logger
}

// NewPool creates a connection pool. Inbound status payloads for every
// device are delivered to handler.
func NewPool(cfg Config, tokens TokenSource, handler FrameHandler) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		cfg:       cfg,
		tokens:    tokens,
		handler:   handler,
		newClient: defaultNewClient,
		conns:     make(map[string]*Connection),
		ctx:       ctx,
		cancel:    cancel,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the pool and its connections.
func (p *Pool) SetLogger(logger Logger) {
	p.mu.Lock()
	p.logger = logger
	p.mu.Unlock()
}

// EnsureConnected creates or reuses a connection for a device.
//
// A connection that is Ready or still working through its initial
// connect/subscribe sequence is reused. Anything else (Reconnecting,
// Disconnected, Closed) is closed and replaced with a fresh connection,
// so there are never two simultaneous live connections for one device.
func (p *Pool) EnsureConnected(device Device) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}

	if existing, ok := p.conns[device.ID]; ok {
		switch existing.State() {
		case StateReady, StateConnecting, StateConnected, StateSubscribing:
			return nil
		default:
			// Stale connection: tear down before replacing.
			p.mu.Unlock()
			existing.Close()
			p.mu.Lock()
			if p.closed {
				return ErrClosed
			}
		}
	}

	p.conns[device.ID] = newConnection(
		p.ctx, device.ID, device.IMEI,
		p.cfg, p.tokens, p.handler, p.newClient, p.logger,
	)
	p.logger.Debug("connection created", "device_id", device.ID)
	return nil
}

// Publish sends a payload on a topic through a device's connection.
//
// Fails with ErrUnknownDevice if the pool holds no connection for the id,
// and with ErrNotReady if the connection exists but is not Ready. No
// retry is attempted; the caller decides.
func (p *Pool) Publish(deviceID, topic string, payload []byte) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	conn, ok := p.conns[deviceID]
	p.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	return conn.Publish(topic, payload)
}

// State returns the connection state for a device, or false if the pool
// holds no connection for the id.
func (p *Pool) State(deviceID string) (State, bool) {
	p.mu.Lock()
	conn, ok := p.conns[deviceID]
	p.mu.Unlock()

	if !ok {
		return StateDisconnected, false
	}
	return conn.State(), true
}

// Remove closes and discards the connection for a device, if any.
// Called when a device disappears from the directory's result set.
func (p *Pool) Remove(deviceID string) {
	p.mu.Lock()
	conn, ok := p.conns[deviceID]
	delete(p.conns, deviceID)
	p.mu.Unlock()

	if ok {
		conn.Close()
		p.logger.Info("connection removed", "device_id", deviceID)
	}
}

// Close shuts down every connection and marks the pool terminal.
// Blocks until all run loops have exited. Safe to call more than once.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	conns := make([]*Connection, 0, len(p.conns))
	for _, c := range p.conns {
		conns = append(conns, c)
	}
	p.conns = make(map[string]*Connection)
	p.mu.Unlock()

	// Cancel all reconnect timers and in-flight attempts, then wait for
	// each run loop to finish its teardown.
	p.cancel()
	for _, c := range conns {
		c.Close()
	}
}

// ConnectionCount returns the number of registered connections.
func (p *Pool) ConnectionCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}
