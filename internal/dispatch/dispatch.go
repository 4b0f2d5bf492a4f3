package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/imprisonedmind/olarmd/internal/connpool"
)

// Action is an area command a caller can issue.
type Action string

const (
	ActionArm    Action = "arm"
	ActionStay   Action = "stay"
	ActionSleep  Action = "sleep"
	ActionDisarm Action = "disarm"
)

// Command returns the wire command string for the action.
//
// Example: ActionDisarm.Command() == "area-disarm"
func (a Action) Command() string {
	return "area-" + string(a)
}

// valid reports whether the action is one of the known commands.
func (a Action) valid() bool {
	switch a {
	case ActionArm, ActionStay, ActionSleep, ActionDisarm:
		return true
	default:
		return false
	}
}

// Request is one area command against one device.
// Transient: it exists only for the duration of a Dispatch call.
type Request struct {
	DeviceID   string
	AreaNumber int
	Action     Action
}

// Publisher publishes a payload on a device's connection.
// Satisfied by *connpool.Pool.
type Publisher interface {
	Publish(deviceID, topic string, payload []byte) error
}

// Tokens supplies a valid access token for the HTTP fallback path.
type Tokens interface {
	Token(ctx context.Context) (string, error)
}

// ActionSender is the HTTP alternate command path.
// Satisfied by *cloud.Client.
type ActionSender interface {
	SendAction(ctx context.Context, accessToken, deviceID, actionCmd string, actionNum int) error
}

// commandPayload is the wire shape published on the control topic.
type commandPayload struct {
	Method string `json:"method"`
	Data   [2]any `json:"data"`
}

// Dispatcher builds and publishes outbound area commands.
//
// The persistent-connection path is primary: commands publish to the
// device's control topic with at-least-once delivery. If an HTTP fallback
// is configured, a command that finds no Ready connection is sent through
// the vendor's device-action endpoint instead.
//
// A successful dispatch means the command was handed to the transport,
// not that the panel changed state. Confirmation arrives later through
// the state store's inbound path, correlated on (deviceID, areaNumber).
//
// Thread Safety: all methods are safe for concurrent use.
type Dispatcher struct {
	pub Publisher

	// devices maps device id to hardware identifier for topic building.
	devices map[string]string
	mu      sync.RWMutex

	// Optional HTTP fallback; nil means connection-only dispatch.
	tokens Tokens
	sender ActionSender
}

// New creates a dispatcher publishing through pub.
func New(pub Publisher) *Dispatcher {
	return &Dispatcher{
		pub:     pub,
		devices: make(map[string]string),
	}
}

// SetHTTPFallback enables the alternate HTTP command path for devices
// without a Ready connection.
func (d *Dispatcher) SetHTTPFallback(tokens Tokens, sender ActionSender) {
	d.mu.Lock()
	d.tokens = tokens
	d.sender = sender
	d.mu.Unlock()
}

// SetDevices replaces the known device set.
// Called after each device enumeration.
func (d *Dispatcher) SetDevices(devices []connpool.Device) {
	next := make(map[string]string, len(devices))
	for _, dev := range devices {
		next[dev.ID] = dev.IMEI
	}

	d.mu.Lock()
	d.devices = next
	d.mu.Unlock()
}

// Dispatch issues one area command.
//
// Fails with ErrDeviceNotFound for an unknown device id and with the
// underlying transport error (connpool.ErrNotReady and friends) when the
// device's connection cannot take the publish. With the HTTP fallback
// configured, ErrNotReady triggers the fallback before surfacing. No retry
// is performed either way; retry policy belongs to the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) error {
	if !req.Action.valid() {
		return fmt.Errorf("%w: action %q", ErrInvalidRequest, req.Action)
	}
	if req.AreaNumber < 1 {
		return fmt.Errorf("%w: area number %d", ErrInvalidRequest, req.AreaNumber)
	}

	d.mu.RLock()
	imei, known := d.devices[req.DeviceID]
	tokens, sender := d.tokens, d.sender
	d.mu.RUnlock()

	if !known {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, req.DeviceID)
	}

	payload, err := json.Marshal(commandPayload{
		Method: "POST",
		Data:   [2]any{req.Action.Command(), req.AreaNumber},
	})
	if err != nil {
		return fmt.Errorf("encoding command: %w", err)
	}

	pubErr := d.pub.Publish(req.DeviceID, connpool.Topics{}.DeviceControl(imei), payload)
	if pubErr == nil {
		return nil
	}

	// No Ready connection and a fallback configured: use the HTTP path.
	if sender != nil && errors.Is(pubErr, connpool.ErrNotReady) {
		return d.sendHTTP(ctx, tokens, sender, req)
	}

	return pubErr
}

// sendHTTP issues the command through the vendor's device-action endpoint.
func (d *Dispatcher) sendHTTP(ctx context.Context, tokens Tokens, sender ActionSender, req Request) error {
	accessToken, err := tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("acquiring token for http dispatch: %w", err)
	}
	if err := sender.SendAction(ctx, accessToken, req.DeviceID, req.Action.Command(), req.AreaNumber); err != nil {
		return fmt.Errorf("http dispatch: %w", err)
	}
	return nil
}
