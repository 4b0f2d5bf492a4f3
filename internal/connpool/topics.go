package connpool

import "fmt"

// Topic prefixes per the vendor's pub/sub scheme.
// Inbound ("so", server-out) topics carry status frames; outbound ("si",
// server-in) topics carry snapshot requests and control commands.
const (
	topicPrefixInbound  = "so/app/v1"
	topicPrefixOutbound = "si/app/v1"
)

// Topics provides builders for the vendor's per-device MQTT topics.
// Using these helpers keeps topic naming consistent across the codebase.
type Topics struct{}

// DeviceStatus returns the inbound status topic for a device.
//
// Example: so/app/v1/356307042441013
func (Topics) DeviceStatus(imei string) string {
	return fmt.Sprintf("%s/%s", topicPrefixInbound, imei)
}

// DeviceRequest returns the outbound topic for state-snapshot requests.
//
// Example: si/app/v1/356307042441013
func (Topics) DeviceRequest(imei string) string {
	return fmt.Sprintf("%s/%s", topicPrefixOutbound, imei)
}

// DeviceControl returns the outbound control topic for area commands.
//
// Example: si/app/v1/356307042441013/control
func (Topics) DeviceControl(imei string) string {
	return fmt.Sprintf("%s/%s/control", topicPrefixOutbound, imei)
}
