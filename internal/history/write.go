package history

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/imprisonedmind/olarmd/internal/alarm"
)

// RecordChange writes one point per area from a state change notification.
//
// Intended as the StateStore change callback target. The write is
// non-blocking; points are batched and sent asynchronously. Unchanged
// change sets are ignored.
//
// Example:
//
//	store.SetOnChange(func(cs alarm.ChangeSet) { recorder.RecordChange(cs) })
func (r *Recorder) RecordChange(cs alarm.ChangeSet) {
	if !cs.Changed || !r.IsConnected() {
		return
	}

	now := time.Now()
	for _, area := range cs.Areas {
		r.writeAPI.WritePoint(areaPoint(area, now))
	}
}

// WriteAreaState writes a single area state observation.
//
// Use this for one-off writes outside the change callback, such as
// recording the initial state seeded from the device profile.
func (r *Recorder) WriteAreaState(area alarm.Area) {
	if !r.IsConnected() {
		return
	}

	r.writeAPI.WritePoint(areaPoint(area, time.Now()))
}

// areaPoint builds the InfluxDB point for one area observation.
//
// Tags are low cardinality (device and area number); the state lands in
// fields so transitions are queryable over time.
func areaPoint(area alarm.Area, ts time.Time) *write.Point {
	return write.NewPoint(
		"area_state",
		map[string]string{
			"device_id": area.DeviceID,
			"area":      strconv.Itoa(area.Number),
		},
		map[string]interface{}{
			"state":     string(area.State),
			"area_name": area.Name,
		},
		ts,
	)
}
