package connpool

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for the broker's
	// transport acknowledgment.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish and
	// subscribe acknowledgments.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations
	// on disconnect, in milliseconds.
	defaultDisconnectQuiesce = 1000

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 60 * time.Second

	// brokerUsername is the fixed username the vendor broker expects;
	// the password is the current access token.
	brokerUsername = "native_app"

	// clientIDPrefix derives the client identifier from the device IMEI.
	clientIDPrefix = "native-app-oauth-"

	// tlsMinVersion is the minimum TLS version for the websocket transport.
	tlsMinVersion = tls.VersionTLS12
)

// Config contains broker connection settings shared by all device
// connections in a pool.
type Config struct {
	// Host and Port locate the vendor's websocket broker.
	Host string
	Port int

	// QoS is the delivery quality for all publishes and subscriptions.
	// The vendor requires at-least-once (1).
	QoS byte

	// InitialDelay is the minimum interval between connect attempts for a
	// device. The delay doubles per consecutive failure up to MaxDelay.
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// buildClientOptions creates paho options for one device connection.
//
// The vendor broker only speaks MQTT over TLS websockets. Auto-reconnect
// is disabled: the connection's own run loop handles retries so that each
// attempt picks up a fresh access token.
func buildClientOptions(cfg Config, imei, accessToken string) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	opts.AddBroker(fmt.Sprintf("wss://%s:%d/mqtt", cfg.Host, cfg.Port))
	opts.SetClientID(clientIDPrefix + imei)
	opts.SetUsername(brokerUsername)
	opts.SetPassword(accessToken)

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	opts.SetTLSConfig(&tls.Config{
		MinVersion: tlsMinVersion,
	})

	return opts
}
