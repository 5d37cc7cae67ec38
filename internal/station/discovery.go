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

// absencePrune is how long a camera may go without a fresh broadcast
// before StationDiscovery prunes it (spec.md §4.4).
const absencePrune = 15 * time.Second

// Config configures a StationDiscovery instance. Like
// internal/camera.Config, this takes plain Go values so the engine
// stays configuration-agnostic.
type Config struct {
	Group string

	StreamPort    int
	CommandPort   int
	BroadcastPort int
	RequestPort   int
}

type cameraEntry struct {
	id       int
	name     string
	group    string
	addr     string
	lastSeen time.Time
	session  *RemoteCamera
	cancel   context.CancelFunc
	pending  bool // subscribe attempt in flight, no session yet
}

// StationDiscovery listens for camera broadcast announcements, filters
// by group, subscribes over UDP-request-then-TCP-dial, and owns every
// resulting RemoteCamera session's lifecycle (spec.md §4.4).
//
// Grounded on internal/stream/manager.go's registry pattern
// (create/remove/list-by-key, a done channel per entry) adapted to
// address-keyed camera discovery with dense id allocation instead of
// manager.go's string stream keys.
type StationDiscovery struct {
	log *slog.Logger
	cfg Config
	sv  saver.Saver

	wheel *watchdog.Wheel
	obs   *observers

	mu     sync.Mutex
	byAddr map[string]*cameraEntry
	byID   map[int]*cameraEntry
	nextID int
}

// New constructs a StationDiscovery. sv is the Image Saver
// collaborator handed down to every spawned RemoteCamera session.
func New(cfg Config, sv saver.Saver, log *slog.Logger) *StationDiscovery {
	if log == nil {
		log = slog.Default()
	}
	return &StationDiscovery{
		log:    log.With("component", "station_discovery"),
		cfg:    cfg,
		sv:     sv,
		wheel:  watchdog.NewWheel(100 * time.Millisecond),
		obs:    newObservers(),
		byAddr: make(map[string]*cameraEntry),
		byID:   make(map[int]*cameraEntry),
	}
}

// Subscribe registers an Observer for camera_added/camera_removed and
// every forwarded per-session event.
func (d *StationDiscovery) Subscribe(fn Observer) (unsubscribe func()) {
	return d.obs.Subscribe(fn)
}

// Cameras returns a snapshot of every subscribed camera's id and
// address, for a presenter's camera list. Cameras whose subscribe
// attempt is still pending have no id yet and are not included.
func (d *StationDiscovery) Cameras() map[int]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[int]string, len(d.byID))
	for id, e := range d.byID {
		out[id] = e.addr
	}
	return out
}

// Session returns the RemoteCamera for id, if subscribed.
func (d *StationDiscovery) Session(id int) (*RemoteCamera, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.byID[id]
	if !ok || e.session == nil {
		return nil, false
	}
	return e.session, true
}

// Run listens for broadcasts and prunes absent cameras until ctx is
// canceled.
func (d *StationDiscovery) Run(ctx context.Context) error {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: d.cfg.BroadcastPort})
	if err != nil {
		return fmt.Errorf("station: listen broadcast port: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.listenLoop(gctx, conn) })
	g.Go(func() error { return d.pruneLoop(gctx) })

	err = g.Wait()
	conn.Close()
	d.wheel.Close()
	return err
}

func (d *StationDiscovery) listenLoop(ctx context.Context, conn *net.UDPConn) error {
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, 512)
	for {
		conn.SetReadDeadline(time.Now().Add(time.Second))
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			continue
		}

		name, group, err := wire.DecodeBroadcast(buf[:n])
		if err != nil || group != d.cfg.Group {
			continue
		}

		d.touch(ctx, addr.IP.String(), name, group)
	}
}

// touch records a fresh sighting of addr and kicks off a subscribe
// attempt the first time it is seen.
func (d *StationDiscovery) touch(ctx context.Context, addr, name, group string) {
	d.mu.Lock()
	e, known := d.byAddr[addr]
	if known {
		e.lastSeen = time.Now()
		e.name, e.group = name, group
		d.mu.Unlock()
		return
	}
	e = &cameraEntry{addr: addr, name: name, group: group, lastSeen: time.Now(), pending: true}
	d.byAddr[addr] = e
	d.mu.Unlock()

	go d.subscribe(ctx, e)
}

// subscribe implements spec.md §4.4's subscribe sequence: a UTF-8
// group request to REQUEST_PORT, then a TCP dial to STREAM_PORT.
func (d *StationDiscovery) subscribe(ctx context.Context, e *cameraEntry) {
	reqConn, err := net.Dial("udp", net.JoinHostPort(e.addr, fmt.Sprintf("%d", d.cfg.RequestPort)))
	if err != nil {
		d.forget(e.addr)
		return
	}
	_, err = reqConn.Write(wire.EncodeRequest(d.cfg.Group))
	reqConn.Close()
	if err != nil {
		d.forget(e.addr)
		return
	}

	dialer := net.Dialer{Timeout: 5 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(e.addr, fmt.Sprintf("%d", d.cfg.StreamPort)))
	if err != nil {
		d.forget(e.addr)
		return
	}

	d.mu.Lock()
	id := d.nextID
	d.nextID++
	sessCtx, cancel := context.WithCancel(ctx)
	session := newRemoteCamera(id, conn, d.wheel, d.sv, d.cfg.CommandPort, d.log)
	e.id = id
	e.session = session
	e.cancel = cancel
	e.pending = false
	d.byID[id] = e
	d.mu.Unlock()

	unsubscribe := session.Subscribe(func(ev Event) {
		d.obs.emit(Event{Kind: ev.Kind, ID: id})
	})

	d.obs.emit(Event{Kind: EventCameraAdded, ID: id})
	d.log.Info("camera subscribed", "id", id, "addr", e.addr)

	if err := session.Start(sessCtx); err != nil {
		d.log.Warn("session ended", "id", id, "error", err)
	}
	unsubscribe()
	d.removeByID(id)
}

func (d *StationDiscovery) forget(addr string) {
	d.mu.Lock()
	delete(d.byAddr, addr)
	d.mu.Unlock()
}

func (d *StationDiscovery) removeByID(id int) {
	d.mu.Lock()
	e, ok := d.byID[id]
	if ok {
		delete(d.byID, id)
		delete(d.byAddr, e.addr)
	}
	d.mu.Unlock()
	if ok {
		d.obs.emit(Event{Kind: EventCameraRemoved, ID: id})
	}
}

// pruneLoop removes cameras absent for more than absencePrune
// (spec.md §4.4).
func (d *StationDiscovery) pruneLoop(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.pruneOnce(time.Now())
		}
	}
}

func (d *StationDiscovery) pruneOnce(now time.Time) {
	d.mu.Lock()
	var stale []*cameraEntry
	for addr, e := range d.byAddr {
		if now.Sub(e.lastSeen) > absencePrune {
			stale = append(stale, e)
			delete(d.byAddr, addr)
			if !e.pending {
				delete(d.byID, e.id)
			}
		}
	}
	d.mu.Unlock()

	for _, e := range stale {
		if e.cancel != nil {
			e.cancel()
		}
		if !e.pending {
			d.obs.emit(Event{Kind: EventCameraRemoved, ID: e.id})
		}
	}
}
