// Package alarm holds the canonical area-state model for olarmd.
//
// This package manages:
//   - The Area type and its fixed state enumeration
//   - Normalization of raw vendor state strings
//   - Parsing of inbound status frames
//   - The StateStore: per-device diffing and change notification
//
// # Consistency Model
//
// The store is eventually consistent with the remote panel. Each valid
// frame fully replaces the device's previous area list; a single
// consolidated change notification fires per frame when anything
// differed. Commands issued elsewhere are confirmed only when their
// effect arrives back through this inbound path.
//
// # Usage
//
//	store := alarm.NewStateStore()
//	store.SetOnChange(func(cs alarm.ChangeSet) {
//	    log.Printf("device %s changed: %v", cs.DeviceID, cs.Areas)
//	})
//	cs := store.ApplyFrame("device-1", payload)
package alarm
