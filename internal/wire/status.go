package wire

import "strings"

// LightStatus is the flashlight state asked of (or reported by) a camera.
type LightStatus uint8

const (
	LightOff LightStatus = 0
	LightOn  LightStatus = 1
)

// CameraStatus is a bit-flag set over the conditions a camera may be
// in. The zero value (Ok) means no flags are set. Bit layout is fixed
// to the low 6 bits per spec.md §9 Open Question (c): the legacy wire
// format never documented one, so this is the canonical assignment.
type CameraStatus uint8

const (
	StatusOk                 CameraStatus = 0
	StatusLowBattery         CameraStatus = 1 << 0
	StatusDischargingBattery CameraStatus = 1 << 1
	StatusVideoFailure       CameraStatus = 1 << 2
	StatusLightFailure       CameraStatus = 1 << 3
	StatusDisconnected       CameraStatus = 1 << 4
)

// Has reports whether all bits in flag are set.
func (s CameraStatus) Has(flag CameraStatus) bool { return s&flag == flag }

// Set returns s with flag set.
func (s CameraStatus) Set(flag CameraStatus) CameraStatus { return s | flag }

// Clear returns s with flag cleared.
func (s CameraStatus) Clear(flag CameraStatus) CameraStatus { return s &^ flag }

// String renders the set flags for logging, e.g. "LowBattery|VideoFailure".
func (s CameraStatus) String() string {
	if s == StatusOk {
		return "Ok"
	}
	var parts []string
	for _, f := range []struct {
		flag CameraStatus
		name string
	}{
		{StatusLowBattery, "LowBattery"},
		{StatusDischargingBattery, "DischargingBattery"},
		{StatusVideoFailure, "VideoFailure"},
		{StatusLightFailure, "LightFailure"},
		{StatusDisconnected, "Disconnected"},
	} {
		if s.Has(f.flag) {
			parts = append(parts, f.name)
		}
	}
	return strings.Join(parts, "|")
}
