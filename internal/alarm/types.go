package alarm

import "strings"

// AreaState is the canonical arming state of a single alarm area.
type AreaState string

// Canonical area states. Every inbound vendor state string normalizes
// to exactly one of these values.
const (
	StateArmed      AreaState = "armed"
	StateDisarmed   AreaState = "disarmed"
	StateArmedStay  AreaState = "armed_stay"
	StateArmedSleep AreaState = "armed_sleep"
	StateNotReady   AreaState = "not_ready"
	StateTriggered  AreaState = "triggered"
)

// Area is one independently armable zone within a device's alarm panel.
// Identity is (DeviceID, Number); Number is 1-based, matching the
// panel's own area numbering.
type Area struct {
	DeviceID string    `json:"device_id"`
	Number   int       `json:"number"`
	Name     string    `json:"name"`
	State    AreaState `json:"state"`
}

// stateTable maps lowercased vendor state strings to canonical states.
// The vendor feed is not entirely consistent across firmware revisions,
// hence the variants.
var stateTable = map[string]AreaState{
	"arm":       StateArmed,
	"disarm":    StateDisarmed,
	"stay":      StateArmedStay,
	"sleep":     StateArmedSleep,
	"notready":  StateNotReady,
	"not ready": StateNotReady,
	"activated": StateTriggered,
	"alarm":     StateTriggered,
}

// NormalizeState maps a raw vendor state string to its canonical AreaState.
// Matching is case-insensitive. Unrecognised strings map to StateNotReady;
// the second return value reports whether the string was recognised so
// callers can raise a warning without failing the frame.
func NormalizeState(raw string) (AreaState, bool) {
	state, ok := stateTable[strings.ToLower(raw)]
	if !ok {
		return StateNotReady, false
	}
	return state, true
}
