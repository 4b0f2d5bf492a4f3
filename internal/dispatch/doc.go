// Package dispatch builds and publishes outbound area commands.
//
// Commands are fire-and-confirm: a successful dispatch only means the
// transport accepted the message at QoS 1 (at-least-once; the panel
// tolerates duplicates idempotently). The authoritative outcome is the
// later state frame arriving through the alarm store, which callers
// correlate on (deviceID, areaNumber); there is no request id.
//
// The persistent-connection path is primary. The vendor's per-device
// action endpoint serves as an equivalent alternate transport and can be
// enabled as a fallback for devices without a Ready connection.
package dispatch
