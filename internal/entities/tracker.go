package entities

import (
	"github.com/locahq/loca-agent/internal/coordinator"
)

// SnapshotSource is the slice of the coordinator entities read from.
type SnapshotSource interface {
	Snapshot() *coordinator.Snapshot
	LastUpdateSuccess() uint64
}

// TrackerState is the derived, host-facing state of one device.
type TrackerState struct {
	DeviceID   string         `json:"device_id"`
	Name       string         `json:"name"`
	Available  bool           `json:"available"`
	Attributes map[string]any `json:"attributes"`
}

// Tracker is the logical entity for one tracked device. Derived state is
// cached against the coordinator's logical clock and recomputed only when
// new data actually arrived.
type Tracker struct {
	deviceID string
	source   SnapshotSource
	state    Cached[TrackerState]
}

// NewTracker creates a tracker entity for the given device.
func NewTracker(deviceID string, source SnapshotSource) *Tracker {
	return &Tracker{
		deviceID: deviceID,
		source:   source,
	}
}

// DeviceID returns the device identifier this entity renders.
func (t *Tracker) DeviceID() string {
	return t.deviceID
}

// Available reports whether the device was present in the last successful
// fetch. A device reporting no optional fields at all is still available.
func (t *Tracker) Available() bool {
	_, ok := t.source.Snapshot().Device(t.deviceID)
	return ok
}

// State derives the publishable state for the device, through the cache.
func (t *Tracker) State() TrackerState {
	return t.state.Get(t.source.LastUpdateSuccess(), t.computeState)
}

func (t *Tracker) computeState() TrackerState {
	record, ok := t.source.Snapshot().Device(t.deviceID)
	if !ok {
		return TrackerState{
			DeviceID:   t.deviceID,
			Available:  false,
			Attributes: map[string]any{},
		}
	}

	attributes := map[string]any{
		"location_source": record.LocationSource,
	}
	if record.Latitude != nil {
		attributes["latitude"] = *record.Latitude
	}
	if record.Longitude != nil {
		attributes["longitude"] = *record.Longitude
	}
	if record.Speed != nil {
		attributes["speed"] = *record.Speed
	}
	if record.BatteryLevel != nil {
		attributes["battery_level"] = *record.BatteryLevel
	}
	if record.GPSAccuracy != nil {
		attributes["gps_accuracy"] = *record.GPSAccuracy
	}
	if record.Satellites != nil {
		attributes["satellites"] = *record.Satellites
	}
	if record.SignalStrength != nil {
		attributes["signal_strength"] = *record.SignalStrength
	}
	if record.LastSeen != nil {
		attributes["last_seen"] = record.LastSeen.UTC()
	}
	if record.Address != nil {
		attributes["address"] = *record.Address
	}
	if record.LocationLabel != nil {
		attributes["location_label"] = *record.LocationLabel
	}
	if record.Asset.GroupName != "" {
		attributes["group_name"] = record.Asset.GroupName
	}

	return TrackerState{
		DeviceID:   t.deviceID,
		Name:       record.Name,
		Available:  true,
		Attributes: attributes,
	}
}
