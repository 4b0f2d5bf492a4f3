// Package history records area state transitions to InfluxDB.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched non-blocking writes, and health monitoring.
//
// # Purpose
//
// Every state change raised by the alarm state store can be recorded as a
// time-series point, giving an arming/disarming history per area without
// the daemon holding any of it in memory.
//
// # Usage
//
//	cfg := config.HistoryConfig{
//	    Enabled: true,
//	    URL:     "http://localhost:8086",
//	    Token:   "your-token",
//	    Org:     "olarmd",
//	    Bucket:  "alarm",
//	}
//
//	recorder, err := history.Connect(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer recorder.Close()
//
//	store.SetOnChange(func(cs alarm.ChangeSet) { recorder.RecordChange(cs) })
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are delivered via the
// SetOnError callback. Connection and health check errors are returned
// directly.
package history
