package alarm

import (
	"encoding/json"
	"fmt"
)

// frameTypeAlarm is the only inbound frame type carrying area state.
// The status topic also carries heartbeat and zone traffic that this
// store ignores.
const frameTypeAlarm = "alarmPayload"

// frame is the wire shape of an inbound status message.
type frame struct {
	Type string    `json:"type"`
	Data frameData `json:"data"`
}

// frameData carries the per-area state list and the optional matching
// name list from the device's profile.
type frameData struct {
	Areas       []string `json:"areas"`
	AreasDetail []string `json:"areasDetail"`
}

// EncodeFrame builds an alarmPayload frame from raw vendor state strings
// and optional area names. The device directory uses this to seed the
// store from the HTTP profile before the first pub/sub frame arrives, so
// seeded and live state flow through the same parsing and diffing path.
func EncodeFrame(states, names []string) []byte {
	raw, _ := json.Marshal(frame{ //nolint:errcheck // struct of strings cannot fail to marshal
		Type: frameTypeAlarm,
		Data: frameData{
			Areas:       states,
			AreasDetail: names,
		},
	})
	return raw
}

// parseFrame decodes a raw status payload into a canonical area list for
// the given device.
//
// Only frames of type "alarmPayload" with a non-empty area list parse;
// anything else returns an error, which ApplyFrame drops and logs rather
// than propagating. Area names come from areasDetail when its length
// matches the state list, otherwise synthetic "Area N" names are used.
//
// The unrecognised return lists raw state strings that did not match the
// normalization table. They still parse (as not_ready) but warrant a
// warning from the caller.
func parseFrame(deviceID string, raw []byte) (areas []Area, unrecognised []string, err error) {
	var f frame
	if jsonErr := json.Unmarshal(raw, &f); jsonErr != nil {
		return nil, nil, fmt.Errorf("decoding frame: %w", jsonErr)
	}

	if f.Type != frameTypeAlarm {
		return nil, nil, fmt.Errorf("ignoring frame type %q", f.Type)
	}
	if len(f.Data.Areas) == 0 {
		return nil, nil, fmt.Errorf("alarm frame has no areas")
	}

	useNames := len(f.Data.AreasDetail) == len(f.Data.Areas)

	areas = make([]Area, 0, len(f.Data.Areas))
	for i, rawState := range f.Data.Areas {
		state, ok := NormalizeState(rawState)
		if !ok {
			unrecognised = append(unrecognised, rawState)
		}

		name := fmt.Sprintf("Area %d", i+1)
		if useNames && f.Data.AreasDetail[i] != "" {
			name = f.Data.AreasDetail[i]
		}

		areas = append(areas, Area{
			DeviceID: deviceID,
			Number:   i + 1,
			Name:     name,
			State:    state,
		})
	}

	return areas, unrecognised, nil
}
