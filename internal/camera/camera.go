// Package camera implements the Local Camera (spec.md §4.2): the
// server side of the QCCTV protocol. One LocalCamera accepts Station
// connections on STREAM_PORT, streams encoded frames to each, applies
// incoming commands, and adapts resolution to observed congestion.
package camera

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/qcctv/qcctv/internal/grabber"
	"github.com/qcctv/qcctv/internal/media"
	"github.com/qcctv/qcctv/internal/saver"
	"github.com/qcctv/qcctv/internal/watchdog"
	"github.com/qcctv/qcctv/internal/wire"
)

// broadcastInterval is the camera's discovery announce cadence
// (spec.md §4.2.4).
const broadcastInterval = 3 * time.Second

// handshakeWindow is how long a UDP group-matched request keeps a TCP
// accept slot open for the requester's address (spec.md §4.2.3).
const handshakeWindow = 5 * time.Second

// wheelResolution is the tick granularity for both the per-peer
// watchdog wheel and regulationLoop's poll cadence. spec.md §8
// scenario S6 bounds the reaction to a watchdog expiry at 500ms, so
// regulationLoop has to poll well under that rather than once a
// second.
const wheelResolution = 100 * time.Millisecond

// Config is the set of values LocalCamera is constructed with; it has
// no dependency on internal/config, keeping the engine itself
// configuration-agnostic per spec.md §1.
type Config struct {
	Name              string
	Group             string
	FPS               int
	Resolution        wire.Resolution
	ResolutionCeiling wire.Resolution
	AutoRegulate      bool
	Flashlight        bool

	StreamPort    int
	CommandPort   int
	BroadcastPort int
	RequestPort   int
}

// LocalCamera is the aggregate server-side type. All mutable state is
// guarded by mu except the fields explicitly documented otherwise.
type LocalCamera struct {
	log *slog.Logger

	driver  OSCameraDriver
	encoder media.Encoder
	saver   saver.Saver
	wheel   *watchdog.Wheel

	obs *observers

	mu           sync.RWMutex
	name         string
	group        string
	fps          int
	resolution   wire.Resolution
	ceiling      wire.Resolution
	autoRegulate bool
	flashlight   bool
	light        wire.LightStatus
	status       wire.CameraStatus

	cfg Config

	frame     atomicFrame
	grab      *grabber.FrameGrabber
	regulator *regulator

	peersMu sync.Mutex
	peers   map[string]*peerSession

	pendingMu sync.Mutex
	pending   map[string]time.Time // IP -> handshake deadline

	streamLn net.Listener
}

// atomicFrame holds the single-cell "latest encoded frame" shared
// across all Sessions (spec.md §5).
type atomicFrame struct {
	mu   sync.RWMutex
	data []byte
}

func (f *atomicFrame) store(b []byte) {
	f.mu.Lock()
	f.data = b
	f.mu.Unlock()
}

func (f *atomicFrame) load() []byte {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.data
}

// New constructs a LocalCamera. driver, encoder, and sv are the
// external collaborators named in spec.md §1; any may be nil-safe
// defaults for environments lacking hardware (NoopDriver) but encoder
// and sv are required by the caller (cmd/qcctv-camera wires concrete
// implementations).
func New(cfg Config, driver OSCameraDriver, encoder media.Encoder, sv saver.Saver, log *slog.Logger) *LocalCamera {
	if log == nil {
		log = slog.Default()
	}
	if driver == nil {
		driver = NoopDriver{}
	}
	fps := watchdog.ClampFPS(cfg.FPS)

	c := &LocalCamera{
		log:         log.With("component", "local_camera"),
		driver:      driver,
		encoder:     encoder,
		saver:       sv,
		wheel:       watchdog.NewWheel(wheelResolution),
		obs:         newObservers(),
		name:        wire.TruncateName(cfg.Name),
		group:       wire.TruncateGroup(cfg.Group),
		fps:         fps,
		resolution:  cfg.Resolution,
		ceiling:     cfg.ResolutionCeiling,
		autoRegulate: cfg.AutoRegulate,
		flashlight:  cfg.Flashlight,
		cfg:         cfg,
		grab:        grabber.New(),
		regulator:   newRegulator(time.Now()),
		peers:       make(map[string]*peerSession),
		pending:     make(map[string]time.Time),
	}
	if cfg.Flashlight {
		c.light = wire.LightOn
	}
	return c
}

// Subscribe registers an Observer for the camera's change-notification
// outputs (spec.md §4.2 "observable outputs").
func (c *LocalCamera) Subscribe(fn Observer) (unsubscribe func()) {
	return c.obs.Subscribe(fn)
}

// SetFPS clamps and stores the target frame rate, rescheduling the
// frame-send ticker (spec.md §4.2 set_fps, property 3).
func (c *LocalCamera) SetFPS(n int) {
	n = watchdog.ClampFPS(n)
	c.mu.Lock()
	changed := c.fps != n
	c.fps = n
	c.mu.Unlock()
	if changed {
		c.obs.emit(Event{Kind: EventFPSChanged})
	}
}

// FPS returns the current target frame rate.
func (c *LocalCamera) FPS() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fps
}

// SetName truncates and stores the camera's display name.
func (c *LocalCamera) SetName(s string) {
	c.mu.Lock()
	c.name = wire.TruncateName(s)
	c.mu.Unlock()
}

// SetGroup truncates and stores the camera's discovery group.
func (c *LocalCamera) SetGroup(s string) {
	c.mu.Lock()
	c.group = wire.TruncateGroup(s)
	c.mu.Unlock()
}

// SetResolution sets the encoder's target dimensions directly,
// bypassing adaptive regulation (an explicit operator override).
func (c *LocalCamera) SetResolution(r wire.Resolution) {
	c.mu.Lock()
	c.resolution = r.Clamp(c.ceiling)
	c.mu.Unlock()
}

// SetAutoRegulate toggles the adaptive regulation loop (spec.md §4.2.2).
func (c *LocalCamera) SetAutoRegulate(b bool) {
	c.mu.Lock()
	c.autoRegulate = b
	c.mu.Unlock()
}

// SetFlashlightEnabled forwards to the OS driver; a driver error sets
// StatusLightFailure (spec.md §4.2, §7 CameraDriverError policy).
func (c *LocalCamera) SetFlashlightEnabled(b bool) error {
	err := c.driver.SetFlashlight(b)
	c.mu.Lock()
	if err != nil {
		c.status = c.status.Set(wire.StatusLightFailure)
	} else {
		c.status = c.status.Clear(wire.StatusLightFailure)
		c.flashlight = b
		if b {
			c.light = wire.LightOn
		} else {
			c.light = wire.LightOff
		}
	}
	c.mu.Unlock()
	c.obs.emit(Event{Kind: EventLightStatusChanged})
	if err != nil {
		c.obs.emit(Event{Kind: EventCameraStatusChanged})
		return fmt.Errorf("camera: set flashlight: %w", err)
	}
	return nil
}

// FocusCamera invokes the driver's focus routine (spec.md §4.2
// focus_camera).
func (c *LocalCamera) FocusCamera() error {
	if err := c.driver.Focus(); err != nil {
		c.mu.Lock()
		c.status = c.status.Set(wire.StatusVideoFailure)
		c.mu.Unlock()
		c.obs.emit(Event{Kind: EventCameraStatusChanged})
		return fmt.Errorf("camera: focus: %w", err)
	}
	return nil
}

// TakePhoto atomically saves the last encoded frame to persistent
// storage (spec.md §4.2 take_photo).
func (c *LocalCamera) TakePhoto() error {
	frame := c.frame.load()
	if len(frame) == 0 {
		return fmt.Errorf("camera: no encoded frame available yet")
	}
	c.mu.RLock()
	name := c.name
	c.mu.RUnlock()
	if err := c.saver.SavePhoto(name, time.Now(), frame); err != nil {
		return fmt.Errorf("camera: take photo: %w", err)
	}
	return nil
}

// ConnectedHosts returns the addresses of every currently connected
// Station, restored from original_source/common/src/QCCTV_LocalCamera.h
// (spec.md §9 supplemented feature, not excluded by any Non-goal).
func (c *LocalCamera) ConnectedHosts() []string {
	c.peersMu.Lock()
	defer c.peersMu.Unlock()
	out := make([]string, 0, len(c.peers))
	for addr := range c.peers {
		out = append(out, addr)
	}
	return out
}

// AvailableResolutions returns every Resolution up to the
// administrative ceiling, same provenance as ConnectedHosts.
func (c *LocalCamera) AvailableResolutions() []wire.Resolution {
	c.mu.RLock()
	ceiling := c.ceiling
	c.mu.RUnlock()

	out := make([]wire.Resolution, 0, int(ceiling)+1)
	for r := wire.QCIF; r <= ceiling; r++ {
		out = append(out, r)
	}
	return out
}

// OnRawFrame feeds one driver frame through the grabber and encoder,
// refreshing the shared atomic frame cell. Intended to be called from
// the process's single encoder worker goroutine (spec.md §5: "image
// encoding runs on a dedicated worker").
func (c *LocalCamera) OnRawFrame(raw media.RawFrame) {
	buf, ok := c.grab.OnFrame(raw)
	if !ok {
		return
	}
	encoded, err := c.encoder.Encode(buf, 80)
	if err != nil {
		c.mu.Lock()
		c.status = c.status.Set(wire.StatusVideoFailure)
		c.mu.Unlock()
		c.obs.emit(Event{Kind: EventCameraStatusChanged})
		return
	}
	c.frame.store(encoded)
	c.obs.emit(Event{Kind: EventImageChanged})
}

// Start runs the accept loop, the three UDP listeners, the frame-send
// loop, and the regulation loop as sibling goroutines until ctx is
// canceled, in the shape of cmd/prism/main.go's errgroup wiring of
// sibling servers.
func (c *LocalCamera) Start(ctx context.Context) error {
	streamLn, err := net.Listen("tcp", fmt.Sprintf(":%d", c.cfg.StreamPort))
	if err != nil {
		return fmt.Errorf("camera: listen stream port: %w", err)
	}
	c.streamLn = streamLn

	commandConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: c.cfg.CommandPort})
	if err != nil {
		streamLn.Close()
		return fmt.Errorf("camera: listen command port: %w", err)
	}
	requestConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: c.cfg.RequestPort})
	if err != nil {
		streamLn.Close()
		commandConn.Close()
		return fmt.Errorf("camera: listen request port: %w", err)
	}
	broadcastConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: 0})
	if err != nil {
		streamLn.Close()
		commandConn.Close()
		requestConn.Close()
		return fmt.Errorf("camera: open broadcast socket: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.acceptLoop(gctx, streamLn) })
	g.Go(func() error { return c.commandLoop(gctx, commandConn) })
	g.Go(func() error { return c.requestLoop(gctx, requestConn) })
	g.Go(func() error { return c.broadcastLoop(gctx, broadcastConn) })
	g.Go(func() error { return c.sendLoop(gctx) })
	g.Go(func() error { return c.regulationLoop(gctx) })

	err = g.Wait()
	streamLn.Close()
	commandConn.Close()
	requestConn.Close()
	broadcastConn.Close()
	c.wheel.Close()
	return err
}

// sendLoop implements spec.md §4.2.1: every 1000/fps ms, push the
// latest encoded frame to every connected peer.
func (c *LocalCamera) sendLoop(ctx context.Context) error {
	c.mu.RLock()
	fps := c.fps
	c.mu.RUnlock()
	interval := time.Duration(1000/fps) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.mu.RLock()
			fps = c.fps
			c.mu.RUnlock()
			next := time.Duration(1000/fps) * time.Millisecond
			if next != interval {
				interval = next
				ticker.Reset(interval)
			}
			c.tick()
		}
	}
}

func (c *LocalCamera) tick() {
	frame := c.frame.load()
	if len(frame) == 0 {
		return // nothing ready yet; skip this tick, do not stall
	}

	c.mu.RLock()
	pkt := wire.StreamPacket{
		Name:       c.name,
		Group:      c.group,
		FPS:        uint8(c.fps),
		Resolution: c.resolution,
		Light:      c.light,
		Status:     c.status,
		Image:      frame,
	}
	c.mu.RUnlock()

	encoded := pkt.Encode()

	c.peersMu.Lock()
	peers := make([]*peerSession, 0, len(c.peers))
	for _, p := range c.peers {
		peers = append(peers, p)
	}
	c.peersMu.Unlock()

	for _, p := range peers {
		p.enqueue(encoded)
		p.sampleQueueDepth()
	}
}

// regulationLoop runs spec.md §4.2.2 on the same cadence as the
// watchdog wheel so a timeout is reflected in resolution well inside
// the 500ms bound of spec.md §8 scenario S6.
func (c *LocalCamera) regulationLoop(ctx context.Context) error {
	ticker := time.NewTicker(wheelResolution)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.mu.RLock()
			autoRegulate := c.autoRegulate
			current := c.resolution
			ceiling := c.ceiling
			c.mu.RUnlock()
			if !autoRegulate {
				continue
			}

			now := time.Now()
			c.peersMu.Lock()
			snaps := make([]peerSnapshot, 0, len(c.peers))
			for _, p := range c.peers {
				snaps = append(snaps, peerSnapshot{
					timeouts:   p.timeoutsWithin(now, regulateWindow),
					queueDepth: p.avgQueueDepth(),
					latency:    p.latency(),
				})
			}
			c.peersMu.Unlock()

			next, changed := c.regulator.Evaluate(now, current, ceiling, snaps)
			if changed {
				c.mu.Lock()
				c.resolution = next
				c.mu.Unlock()
				c.log.Info("adaptive regulation stepped resolution", "resolution", next)
			}
		}
	}
}
