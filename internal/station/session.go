package station

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/qcctv/qcctv/internal/saver"
	"github.com/qcctv/qcctv/internal/watchdog"
	"github.com/qcctv/qcctv/internal/wire"
)

const (
	connectTimeout        = 10 * time.Second
	commandInterval       = 500 * time.Millisecond
	focusMaxTransmissions = 4
	focusMaxDuration      = 2000 * time.Millisecond
	fifoCap               = 16
	maxResyncPerSecond    = 10
)

// RemoteCamera is the Station-side object representing one connected
// camera (spec.md §4.3, §2 "Remote Camera"). It owns the TCP socket
// carrying the stream and the UDP socket carrying commands to that
// one camera.
//
// Grounded on ingest/srt/caller.go's per-connection session shape
// (dial, background receive loop, registry bookkeeping on exit) and
// distribution's small observer/stats pattern, adapted to the
// station's own shadow-state command model.
type RemoteCamera struct {
	log *slog.Logger

	id          int
	conn        net.Conn
	commandConn *net.UDPConn
	commandPort int

	wd     *watchdog.Watchdog
	reader *wire.FrameReader

	Saver saver.Saver

	obs *observers

	mu    sync.Mutex
	state State

	name, group string
	fps         uint8
	resolution  wire.Resolution
	light       wire.LightStatus
	status      wire.CameraStatus

	oldFPS, newFPS                   uint8
	oldResolution, newResolution     wire.Resolution
	oldAutoRegulate, newAutoRegulate bool
	oldLight, newLight               wire.LightStatus

	focusRemaining int
	focusDeadline  time.Time

	photoRequested bool

	imageQuality      int
	saveIncomingMedia bool
	recordingsPath    string

	currentImage []byte
	fifo         [][]byte

	lastResyncCount int

	firstPacket chan struct{}
	firstOnce   sync.Once
}

// newRemoteCamera constructs a RemoteCamera around an already-connected TCP
// socket (Station Discovery dials it per spec.md §4.4 before
// constructing the session). commandPort is the camera's UDP command
// port, usually wire.CommandPort.
func newRemoteCamera(id int, conn net.Conn, wheel *watchdog.Wheel, sv saver.Saver, commandPort int, log *slog.Logger) *RemoteCamera {
	if log == nil {
		log = slog.Default()
	}
	r := &RemoteCamera{
		log:            log.With("component", "remote_camera", "id", id),
		id:             id,
		conn:           conn,
		commandPort:    commandPort,
		reader:         wire.NewFrameReader(),
		Saver:          sv,
		obs:            newObservers(),
		state:          StateConnecting,
		fps:            24,
		newFPS:         24,
		oldFPS:         24,
		imageQuality:   80,
		firstPacket:    make(chan struct{}),
	}
	r.wd = watchdog.New(wheel, watchdog.ExpectedInterval(24))
	return r
}

// Subscribe registers an Observer for this session's outputs.
func (r *RemoteCamera) Subscribe(fn Observer) (unsubscribe func()) {
	return r.obs.Subscribe(fn)
}

func (r *RemoteCamera) ID() int { return r.id }

// Address returns the remote camera's network address, restored from
// original_source/common/src/QCCTV_RemoteCamera.h (spec.md §9
// supplemented feature).
func (r *RemoteCamera) Address() string { return r.conn.RemoteAddr().String() }

// IsConnected reports whether the session is in the Connected state,
// same provenance as Address.
func (r *RemoteCamera) IsConnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == StateConnected
}

// StatusString renders the session's state and camera status flags
// for a presenter, same provenance as Address.
func (r *RemoteCamera) StatusString() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fmt.Sprintf("%s/%s", r.state, r.status)
}

// ChangeFPS sets new_fps, clamped to [10,60]; the next command tick
// carries it (spec.md §4.3 change_fps).
func (r *RemoteCamera) ChangeFPS(n int) {
	r.mu.Lock()
	r.newFPS = uint8(watchdog.ClampFPS(n))
	r.mu.Unlock()
}

// ChangeResolution sets new_resolution.
func (r *RemoteCamera) ChangeResolution(res wire.Resolution) {
	r.mu.Lock()
	r.newResolution = res
	r.mu.Unlock()
}

// ChangeAutoRegulate sets new_auto_regulate.
func (r *RemoteCamera) ChangeAutoRegulate(b bool) {
	r.mu.Lock()
	r.newAutoRegulate = b
	r.mu.Unlock()
}

// ChangeFlashlightStatus sets new_light.
func (r *RemoteCamera) ChangeFlashlightStatus(s wire.LightStatus) {
	r.mu.Lock()
	r.newLight = s
	r.mu.Unlock()
}

// RequestFocus sets the focus pulse, cleared after 4 outgoing command
// packets or 2000ms, whichever first (spec.md §4.3 request_focus,
// scenario S5).
func (r *RemoteCamera) RequestFocus() {
	r.mu.Lock()
	r.focusRemaining = focusMaxTransmissions
	r.focusDeadline = time.Now().Add(focusMaxDuration)
	r.mu.Unlock()
}

// RequestPhoto sets the save_photo_now flag for exactly one outgoing
// command packet. Supplemented from the §6.2 wire format's
// save_photo_now bit, which spec.md's §4.3 operation list does not
// name explicitly but the framing section requires a sender for;
// modeled as a single-shot pulse by analogy with RequestFocus, simpler
// since the wire format carries no transmission-count semantics for it.
func (r *RemoteCamera) RequestPhoto() {
	r.mu.Lock()
	r.photoRequested = true
	r.mu.Unlock()
}

// SetImageQuality sets the target encoder quality the Station
// advertises (spec.md §3 image_quality, [0,100]).
func (r *RemoteCamera) SetImageQuality(q int) {
	if q < 0 {
		q = 0
	}
	if q > 100 {
		q = 100
	}
	r.mu.Lock()
	r.imageQuality = q
	r.mu.Unlock()
}

// SetSaveIncomingMedia toggles the persistence side effect (spec.md
// §4.3.4).
func (r *RemoteCamera) SetSaveIncomingMedia(b bool) {
	r.mu.Lock()
	r.saveIncomingMedia = b
	r.mu.Unlock()
}

// SetRecordingsPath sets where persisted frames are attributed to;
// the actual filesystem root is owned by the Saver implementation, so
// this is bookkeeping only (consistent with Saver's own NewFileSaver
// root parameter).
func (r *RemoteCamera) SetRecordingsPath(path string) {
	r.mu.Lock()
	r.recordingsPath = path
	r.mu.Unlock()
}

// CurrentImage returns the most recently decoded frame's bytes.
func (r *RemoteCamera) CurrentImage() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentImage
}

// Start runs the command loop and stream receive loop until ctx is
// canceled, the connect timeout elapses, or the session closes.
func (r *RemoteCamera) Start(ctx context.Context) error {
	host, _, err := net.SplitHostPort(r.conn.RemoteAddr().String())
	if err != nil {
		host = r.conn.RemoteAddr().String()
	}
	commandConn, err := net.Dial("udp", net.JoinHostPort(host, fmt.Sprintf("%d", r.commandPort)))
	if err != nil {
		return fmt.Errorf("station: dial command socket: %w", err)
	}
	r.commandConn = commandConn.(*net.UDPConn)
	defer r.commandConn.Close()
	defer r.wd.Stop()
	defer r.conn.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.commandLoop(gctx) })
	g.Go(func() error { return r.receiveLoop(gctx) })
	g.Go(func() error { return r.watchdogLoop(gctx) })
	g.Go(func() error { return r.connectTimeoutWatcher(gctx) })

	err = g.Wait()
	r.setState(StateClosed)
	return err
}

func (r *RemoteCamera) setState(s State) {
	r.mu.Lock()
	prev := r.state
	r.state = s
	r.mu.Unlock()
	if prev == s {
		return
	}
	if (prev == StateConnecting || prev == StateDisconnected) && s == StateConnected {
		r.obs.emit(Event{Kind: EventConnected, ID: r.id})
	}
	if prev == StateConnected && s == StateDisconnected {
		r.obs.emit(Event{Kind: EventDisconnected, ID: r.id})
	}
}

// connectTimeoutWatcher implements spec.md §4.3.3's
// Connecting--(timeout 10s)-->Failed->Closed edge.
func (r *RemoteCamera) connectTimeoutWatcher(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case <-r.firstPacket:
		return nil
	case <-time.After(connectTimeout):
		r.mu.Lock()
		stillConnecting := r.state == StateConnecting
		r.mu.Unlock()
		if stillConnecting {
			return errors.New("station: connect timeout")
		}
		return nil
	}
}

// watchdogLoop implements spec.md §4.3.3's
// Connected--(watchdog expired)-->Disconnected edge.
func (r *RemoteCamera) watchdogLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.wd.Expired():
			r.mu.Lock()
			wasConnected := r.state == StateConnected
			if wasConnected {
				r.status = r.status.Set(wire.StatusDisconnected)
			}
			r.mu.Unlock()
			if wasConnected {
				r.setState(StateDisconnected)
				r.obs.emit(Event{Kind: EventCameraStatusChanged, ID: r.id})
			}
		}
	}
}

// commandLoop implements spec.md §4.3.1: send one command datagram
// every 500ms, keep-alive or not.
func (r *RemoteCamera) commandLoop(ctx context.Context) error {
	ticker := time.NewTicker(commandInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.sendCommand()
		}
	}
}

func (r *RemoteCamera) sendCommand() {
	r.mu.Lock()
	now := time.Now()
	focusActive := r.focusRemaining > 0 && now.Before(r.focusDeadline)
	cmd := wire.CommandPacket{
		FPS:          r.newFPS,
		Resolution:   r.newResolution,
		Light:        r.newLight,
		Focus:        focusActive,
		AutoRegulate: r.newAutoRegulate,
		SavePhotoNow: r.photoRequested,
	}
	if focusActive {
		r.focusRemaining--
		if r.focusRemaining <= 0 || !now.Before(r.focusDeadline) {
			r.focusRemaining = 0
		}
	}
	r.photoRequested = false
	r.oldFPS = r.newFPS
	r.oldResolution = r.newResolution
	r.oldAutoRegulate = r.newAutoRegulate
	r.oldLight = r.newLight
	r.mu.Unlock()

	if _, err := r.commandConn.Write(cmd.Encode()); err != nil {
		r.log.Warn("command send failed", "error", err)
	}
}

// receiveLoop implements spec.md §4.3.2.
func (r *RemoteCamera) receiveLoop(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		r.conn.Close()
	}()

	buf := make([]byte, 64*1024)
	rateTicker := time.NewTicker(time.Second)
	rateDone := make(chan struct{})
	defer func() {
		rateTicker.Stop()
		close(rateDone)
	}()
	go func() {
		for {
			select {
			case <-rateDone:
				return
			case <-rateTicker.C:
				count := r.reader.ResyncCount()
				if count-r.lastResyncCount > maxResyncPerSecond {
					r.log.Warn("corrupt peer: excessive resync rate, closing session")
					r.conn.Close()
				}
				r.lastResyncCount = count
			}
		}
	}()

	for {
		n, err := r.conn.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return nil // socket error / peer FIN: Connected-or-Disconnected -> Closed, no extra event
		}
		r.reader.Feed(buf[:n])

		for {
			pkt, err := r.reader.Next()
			if err != nil {
				break // wire.ErrNeedMoreData
			}
			r.onPacket(pkt)
		}
	}
}

func (r *RemoteCamera) onPacket(pkt *wire.StreamPacket) {
	r.mu.Lock()
	fpsChanged := r.fps != pkt.FPS
	statusChanged := r.status != pkt.Status
	r.name = pkt.Name
	r.group = pkt.Group
	r.fps = pkt.FPS
	r.resolution = pkt.Resolution
	r.light = pkt.Light
	r.status = pkt.Status
	r.currentImage = pkt.Image
	r.fifo = append(r.fifo, pkt.Image)
	if len(r.fifo) > fifoCap {
		r.fifo = r.fifo[len(r.fifo)-fifoCap:]
	}
	saveIncoming := r.saveIncomingMedia
	r.mu.Unlock()

	r.wd.SetInterval(watchdog.ExpectedInterval(int(pkt.FPS)))
	r.wd.Feed()

	r.firstOnce.Do(func() { close(r.firstPacket) })
	r.setState(StateConnected)

	r.obs.emit(Event{Kind: EventNewImage, ID: r.id})
	if fpsChanged {
		r.obs.emit(Event{Kind: EventFPSChanged, ID: r.id})
	}
	if statusChanged {
		r.obs.emit(Event{Kind: EventCameraStatusChanged, ID: r.id})
	}

	if saveIncoming && r.Saver != nil {
		_ = r.Saver.SaveFrame(fmt.Sprintf("%d", r.id), time.Now(), pkt.Image)
	}
}
