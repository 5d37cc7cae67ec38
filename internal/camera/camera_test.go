package camera

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/qcctv/qcctv/internal/media"
	"github.com/qcctv/qcctv/internal/watchdog"
	"github.com/qcctv/qcctv/internal/wire"
)

type fakeDriver struct {
	mu          sync.Mutex
	focusCalls  int
	flashErr    error
	flashCalled bool
}

func (d *fakeDriver) SetFlashlight(enabled bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.flashCalled = true
	return d.flashErr
}

func (d *fakeDriver) Focus() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.focusCalls++
	return nil
}

func (d *fakeDriver) FlashlightAvailable() bool { return true }

type fakeEncoder struct {
	out []byte
	err error
}

func (e *fakeEncoder) Encode(media.PixelBuffer, int) ([]byte, error) {
	return e.out, e.err
}

type fakeSaver struct {
	mu         sync.Mutex
	calls      int
	photoCalls int
}

func (s *fakeSaver) SaveFrame(string, time.Time, []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return nil
}

func (s *fakeSaver) SavePhoto(string, time.Time, []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.photoCalls++
	return nil
}

func (s *fakeSaver) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func sampleCommand() wire.CommandPacket {
	return wire.CommandPacket{
		FPS:          30,
		Resolution:   wire.VGA,
		Light:        wire.LightOn,
		Focus:        true,
		AutoRegulate: true,
		SavePhotoNow: true,
	}
}

func newTestCamera(driver OSCameraDriver, enc media.Encoder, sv *fakeSaver) *LocalCamera {
	return New(Config{
		Name:              "cam1",
		Group:             "default",
		FPS:               24,
		Resolution:        wire.VGA,
		ResolutionCeiling: wire.HD1080,
		AutoRegulate:      true,
	}, driver, enc, sv, nil)
}

// TestApplyCommandIdempotent is property 5: applying the same command
// datagram twice leaves observable state (here: one-shot side effects)
// unchanged after the first application.
func TestApplyCommandIdempotent(t *testing.T) {
	t.Parallel()

	driver := &fakeDriver{}
	sv := &fakeSaver{}
	c := newTestCamera(driver, &fakeEncoder{}, sv)
	c.frame.store([]byte{0xFF, 0xD8})

	server, client := net.Pipe()
	defer client.Close()
	wheel := watchdog.NewWheel(50 * time.Millisecond)
	defer wheel.Close()
	peer := newPeerSession("1.2.3.4", server, 100*time.Millisecond, wheel)
	defer peer.close()
	c.peersMu.Lock()
	c.peers["1.2.3.4"] = peer
	c.peersMu.Unlock()

	cmd := sampleCommand()
	c.applyCommand("1.2.3.4", cmd)
	c.applyCommand("1.2.3.4", cmd)

	if driver.focusCalls != 1 {
		t.Fatalf("got %d focus calls, want 1 (rising edge only)", driver.focusCalls)
	}
	sv.mu.Lock()
	photos := sv.photoCalls
	sv.mu.Unlock()
	if photos != 1 {
		t.Fatalf("got %d photo saves, want 1 (rising edge only)", photos)
	}
	if c.FPS() != 30 {
		t.Fatalf("got fps %d, want 30", c.FPS())
	}
}

func TestSetFlashlightEnabledDriverFailureSetsStatus(t *testing.T) {
	t.Parallel()

	driver := &fakeDriver{flashErr: errBoom}
	c := newTestCamera(driver, &fakeEncoder{}, &fakeSaver{})

	var events []Event
	var mu sync.Mutex
	c.Subscribe(func(e Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})

	if err := c.SetFlashlightEnabled(true); err == nil {
		t.Fatal("expected an error from a failing driver")
	}

	c.mu.RLock()
	status := c.status
	c.mu.RUnlock()
	if !status.Has(wire.StatusLightFailure) {
		t.Fatalf("got status %v, want StatusLightFailure set", status)
	}

	mu.Lock()
	defer mu.Unlock()
	found := false
	for _, e := range events {
		if e.Kind == EventCameraStatusChanged {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a camera_status_changed event")
	}
}

func TestOnRawFrameEncodesAndStoresFrame(t *testing.T) {
	t.Parallel()

	enc := &fakeEncoder{out: []byte{0xFF, 0xD8, 0xFF, 0xD9}}
	c := newTestCamera(&fakeDriver{}, enc, &fakeSaver{})

	var events []Event
	var mu sync.Mutex
	c.Subscribe(func(e Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})

	c.OnRawFrame(media.RawFrame{
		Pixels: make([]byte, 640*480*3),
		Width:  640,
		Height: 480,
		Format: media.FormatRGB888,
	})

	if got := c.frame.load(); len(got) != len(enc.out) {
		t.Fatalf("got frame len %d, want %d", len(got), len(enc.out))
	}

	mu.Lock()
	defer mu.Unlock()
	found := false
	for _, e := range events {
		if e.Kind == EventImageChanged {
			found = true
		}
	}
	if !found {
		t.Fatal("expected an image_changed event")
	}
}

func TestConnectedHostsAndAvailableResolutions(t *testing.T) {
	t.Parallel()

	c := New(Config{
		Name:              "cam1",
		Group:             "default",
		FPS:               24,
		Resolution:        wire.QVGA,
		ResolutionCeiling: wire.VGA,
	}, &fakeDriver{}, &fakeEncoder{}, &fakeSaver{}, nil)

	if len(c.ConnectedHosts()) != 0 {
		t.Fatal("expected no connected hosts initially")
	}

	server, client := net.Pipe()
	defer client.Close()
	wheel := watchdog.NewWheel(50 * time.Millisecond)
	defer wheel.Close()
	peer := newPeerSession("9.9.9.9", server, 100*time.Millisecond, wheel)
	defer peer.close()
	c.peersMu.Lock()
	c.peers["9.9.9.9"] = peer
	c.peersMu.Unlock()

	hosts := c.ConnectedHosts()
	if len(hosts) != 1 || hosts[0] != "9.9.9.9" {
		t.Fatalf("got %v, want [9.9.9.9]", hosts)
	}

	res := c.AvailableResolutions()
	want := []wire.Resolution{wire.QCIF, wire.CIF, wire.QVGA, wire.VGA}
	if len(res) != len(want) {
		t.Fatalf("got %v, want %v", res, want)
	}
	for i := range want {
		if res[i] != want[i] {
			t.Fatalf("got %v, want %v", res, want)
		}
	}
}

// TestRegulationLoopReactsWithin500ms is spec.md §8 scenario S6:
// two watchdog timeouts within 3s on one peer must drop resolution to
// SVGA within 500ms of the second timeout, not after a full 1s poll.
func TestRegulationLoopReactsWithin500ms(t *testing.T) {
	t.Parallel()

	sv := &fakeSaver{}
	c := newTestCamera(&fakeDriver{}, &fakeEncoder{}, sv)
	c.resolution = wire.XGA

	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()
	peer := newPeerSession("peer", server, time.Second, c.wheel)
	defer peer.close()

	c.peersMu.Lock()
	c.peers["peer"] = peer
	c.peersMu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.regulationLoop(ctx)

	now := time.Now()
	peer.recordTimeout(now)
	peer.recordTimeout(now.Add(time.Second))

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		c.mu.RLock()
		res := c.resolution
		c.mu.RUnlock()
		if res == wire.SVGA {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected resolution to step down to SVGA within 500ms of the second timeout")
}

func TestTakePhotoRequiresAFrame(t *testing.T) {
	t.Parallel()

	c := newTestCamera(&fakeDriver{}, &fakeEncoder{}, &fakeSaver{})
	if err := c.TakePhoto(); err == nil {
		t.Fatal("expected an error when no encoded frame is available yet")
	}
}

func TestTakePhotoCallsSavePhotoNotSaveFrame(t *testing.T) {
	t.Parallel()

	sv := &fakeSaver{}
	enc := &fakeEncoder{out: []byte{0xFF, 0xD8, 0xFF, 0xD9}}
	c := newTestCamera(&fakeDriver{}, enc, sv)
	c.OnRawFrame(media.RawFrame{Width: 4, Height: 4, Pixels: make([]byte, 48), Format: media.FormatRGB888})

	if err := c.TakePhoto(); err != nil {
		t.Fatalf("TakePhoto: %v", err)
	}

	if sv.photoCalls != 1 {
		t.Fatalf("got photoCalls=%d, want 1", sv.photoCalls)
	}
	if sv.calls != 0 {
		t.Fatalf("got calls=%d, want 0 (take_photo must not use the per-frame path)", sv.calls)
	}
}

type boomError string

func (e boomError) Error() string { return string(e) }

const errBoom = boomError("boom")
