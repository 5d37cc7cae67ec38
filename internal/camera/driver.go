package camera

// OSCameraDriver is the external collaborator named in spec.md §1: it
// owns the physical camera's flashlight and focus controls. The core
// never talks to hardware directly, only through this interface.
type OSCameraDriver interface {
	// SetFlashlight energizes or de-energizes the flashlight. An error
	// here sets wire.StatusLightFailure on the camera (spec.md §4.2,
	// §7 CameraDriverError policy).
	SetFlashlight(enabled bool) error

	// Focus invokes the driver's focus routine for focus_camera()/the
	// station's focus pulse.
	Focus() error

	// FlashlightAvailable reports whether the hardware has a
	// controllable flashlight at all.
	FlashlightAvailable() bool
}

// NoopDriver is a driver that always succeeds and reports no
// flashlight hardware. Useful for tests and for hosts with no
// controllable light.
type NoopDriver struct{}

func (NoopDriver) SetFlashlight(bool) error    { return nil }
func (NoopDriver) Focus() error                { return nil }
func (NoopDriver) FlashlightAvailable() bool   { return false }
