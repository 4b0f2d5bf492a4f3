package alarm

import (
	"sync"
)

// Logger defines the logging interface used by the StateStore.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ChangeSet is the consolidated result of applying one frame.
//
// Changed is true if the frame altered the device's area list in any way
// (count, name, or state). Areas is the device's full area list after the
// frame was applied; entries are copies, safe for the caller to retain.
type ChangeSet struct {
	DeviceID string
	Changed  bool
	Areas    []Area
}

// StateStore is the canonical in-memory table of per-device area state.
//
// It is the single writer of area state: inbound frames flow through
// ApplyFrame, which parses, diffs against the device's previous snapshot,
// replaces the list wholesale, and raises at most one change notification
// per frame. Readers receive copies, never live references.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Frames for the same device are serialized; frames for different
//     devices parse and diff in parallel.
type StateStore struct {
	// areas holds the current list per device ID.
	areas   map[string][]Area
	areasMu sync.RWMutex

	// deviceMu serializes ApplyFrame per device.
	deviceMu   map[string]*sync.Mutex
	deviceMuMu sync.Mutex

	// onChange, if set, is invoked once per frame that produced a change.
	onChange   func(ChangeSet)
	onChangeMu sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// NewStateStore creates an empty state store.
func NewStateStore() *StateStore {
	return &StateStore{
		areas:    make(map[string][]Area),
		deviceMu: make(map[string]*sync.Mutex),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the store.
func (s *StateStore) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

func (s *StateStore) getLogger() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}

// SetOnChange sets a callback invoked once per frame that changed state.
// The callback runs on the frame-processing goroutine; it should not block
// for extended periods.
func (s *StateStore) SetOnChange(callback func(ChangeSet)) {
	s.onChangeMu.Lock()
	s.onChange = callback
	s.onChangeMu.Unlock()
}

// lockDevice returns the per-device mutex, creating it on first use.
func (s *StateStore) lockDevice(deviceID string) *sync.Mutex {
	s.deviceMuMu.Lock()
	defer s.deviceMuMu.Unlock()

	mu, ok := s.deviceMu[deviceID]
	if !ok {
		mu = &sync.Mutex{}
		s.deviceMu[deviceID] = mu
	}
	return mu
}

// ApplyFrame parses a raw status payload for a device and merges it into
// the store.
//
// Malformed or irrelevant payloads are expected traffic (the status topic
// carries more than area state); they are logged at debug level and
// dropped without error. A valid frame fully replaces the device's
// previous area list; Changed reports whether anything differed from the
// immediately prior snapshot of the same device.
//
// Parameters:
//   - deviceID: The device the payload arrived for
//   - raw: The raw message payload (JSON)
//
// Returns:
//   - ChangeSet: The device's area list after application, with Changed set
func (s *StateStore) ApplyFrame(deviceID string, raw []byte) ChangeSet {
	// Serialize frames per device; other devices proceed in parallel.
	mu := s.lockDevice(deviceID)
	mu.Lock()
	defer mu.Unlock()

	areas, unrecognised, err := parseFrame(deviceID, raw)
	if err != nil {
		s.getLogger().Debug("dropping frame", "device_id", deviceID, "reason", err)
		return ChangeSet{DeviceID: deviceID}
	}
	for _, raw := range unrecognised {
		s.getLogger().Warn("unrecognised area state", "device_id", deviceID, "state", raw)
	}

	s.areasMu.Lock()
	prev := s.areas[deviceID]
	changed := areasDiffer(prev, areas)
	if changed {
		s.areas[deviceID] = areas
	}
	s.areasMu.Unlock()

	cs := ChangeSet{
		DeviceID: deviceID,
		Changed:  changed,
		Areas:    copyAreas(areas),
	}

	if changed {
		s.onChangeMu.RLock()
		callback := s.onChange
		s.onChangeMu.RUnlock()
		if callback != nil {
			callback(cs)
		}
	}

	return cs
}

// areasDiffer reports whether two area lists differ in count, name, or state.
// Lists are positional: area identity within a device is its number, and
// parseFrame always emits areas in number order.
func areasDiffer(prev, next []Area) bool {
	if len(prev) != len(next) {
		return true
	}
	for i := range next {
		if prev[i].Name != next[i].Name || prev[i].State != next[i].State {
			return true
		}
	}
	return false
}

// copyAreas returns an independent copy of an area list.
func copyAreas(areas []Area) []Area {
	if areas == nil {
		return nil
	}
	cpy := make([]Area, len(areas))
	copy(cpy, areas)
	return cpy
}

// Snapshot returns a full copy of every device's areas.
// The result is safe for the caller to retain and mutate.
func (s *StateStore) Snapshot() []Area {
	s.areasMu.RLock()
	defer s.areasMu.RUnlock()

	var all []Area
	for _, areas := range s.areas {
		all = append(all, areas...)
	}
	return all
}

// DeviceAreas returns a copy of one device's areas, or nil if no frame
// has arrived for the device yet.
func (s *StateStore) DeviceAreas(deviceID string) []Area {
	s.areasMu.RLock()
	defer s.areasMu.RUnlock()
	return copyAreas(s.areas[deviceID])
}

// RemoveDevice drops all state for a device. Called when a device
// disappears from the directory's result set.
func (s *StateStore) RemoveDevice(deviceID string) {
	s.areasMu.Lock()
	delete(s.areas, deviceID)
	s.areasMu.Unlock()

	s.deviceMuMu.Lock()
	delete(s.deviceMu, deviceID)
	s.deviceMuMu.Unlock()
}

// DeviceCount returns the number of devices with known state.
func (s *StateStore) DeviceCount() int {
	s.areasMu.RLock()
	defer s.areasMu.RUnlock()
	return len(s.areas)
}
