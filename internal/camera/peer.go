package camera

import (
	"net"
	"sync"
	"time"

	"github.com/qcctv/qcctv/internal/watchdog"
	"github.com/qcctv/qcctv/internal/wire"
)

// sendQueueCap is the per-peer bounded send queue depth, spec.md §5:
// "Per-Session send queues are bounded (<= 3 frames); overflow replaces
// the oldest unsent frame." and property 7.
const sendQueueCap = 3

// commandCadenceFPS lets camera-side peer watchdogs reuse
// watchdog.ExpectedInterval: stations send a command datagram every
// 500ms regardless of stream fps (spec.md §4.3.1), the cadence of a
// nominal 2fps periodic signal (1000ms/2 = 500ms). ExpectedInterval
// clamps 2 up to watchdog.MinFPS, so the resulting interval is 1700ms,
// a little over three command periods.
const commandCadenceFPS = 2

// expectedCommandInterval is the station's actual command-send cadence
// (spec.md §4.3.1), used as the zero-jitter baseline for the per-peer
// round-trip-latency EWMA (spec.md §4.2.2).
const expectedCommandInterval = 500 * time.Millisecond

// latencyEWMAAlpha weights each new sample against the running EWMA.
const latencyEWMAAlpha = 0.2

// peerSession is one connected station, camera-side: the TCP socket
// used to push stream packets, a bounded backpressure queue, and the
// liveness/regulation bookkeeping spec.md §4.2.1/§4.2.2 describe.
//
// Grounded on distribution.Relay's per-viewer delivery (bounded queue,
// drop-oldest) and internal/ingest.Stream's atomic counters (per-
// connection bookkeeping fed by a single owning goroutine).
type peerSession struct {
	addr string
	conn net.Conn

	// wd tracks liveness of this peer's command datagrams, fed from
	// commandLoop on every received datagram (spec.md §4.3.1's 500ms
	// cadence, reused as watchdog.ExpectedInterval(commandCadenceFPS)
	// on the camera side).
	wd *watchdog.Watchdog

	queue chan []byte
	done  chan struct{}

	mu            sync.Mutex
	lastCommand   wire.CommandPacket
	haveCommand   bool
	timeoutTimes  []time.Time // pruned to the trailing window on read
	queueDepths   []int       // recent samples, for average depth
	writeInterval time.Duration

	lastCommandAt time.Time
	haveLatency   bool
	latencyEWMA   time.Duration
}

func newPeerSession(addr string, conn net.Conn, frameInterval time.Duration, wheel *watchdog.Wheel) *peerSession {
	p := &peerSession{
		addr:          addr,
		conn:          conn,
		wd:            watchdog.New(wheel, watchdog.ExpectedInterval(commandCadenceFPS)),
		queue:         make(chan []byte, sendQueueCap),
		done:          make(chan struct{}),
		writeInterval: frameInterval,
	}
	go p.writeLoop()
	return p
}

// enqueue pushes an encoded stream packet onto the peer's send queue,
// dropping the oldest queued frame on overflow (spec.md §4.2.1/§5).
func (p *peerSession) enqueue(frame []byte) {
	select {
	case p.queue <- frame:
		return
	default:
	}
	// Queue full: drop the oldest, then push.
	select {
	case <-p.queue:
	default:
	}
	select {
	case p.queue <- frame:
	default:
		// Lost a race with writeLoop draining concurrently; fine to drop.
	}
}

func (p *peerSession) queueDepth() int { return len(p.queue) }

func (p *peerSession) writeLoop() {
	defer close(p.done)
	deadline := 3 * p.writeInterval
	for frame := range p.queue {
		_ = p.conn.SetWriteDeadline(time.Now().Add(deadline))
		if _, err := p.conn.Write(frame); err != nil {
			p.conn.Close()
			return
		}
	}
}

// close stops the writer, the watchdog, and closes the socket. Safe
// to call once.
func (p *peerSession) close() {
	p.wd.Stop()
	close(p.queue)
	p.conn.Close()
}

// recordCommand stores the most recently received command datagram,
// feeds the liveness side of regulation bookkeeping, and folds the gap
// since the previous command into this peer's round-trip-latency EWMA
// (spec.md §4.2.2): any arrival gap beyond expectedCommandInterval is
// jitter/delay on the command path, the only round-trip signal the
// camera side has since commands carry no application-level ack.
func (p *peerSession) recordCommand(cmd wire.CommandPacket, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastCommand = cmd
	p.haveCommand = true

	if !p.lastCommandAt.IsZero() {
		sample := now.Sub(p.lastCommandAt) - expectedCommandInterval
		if sample < 0 {
			sample = 0
		}
		if !p.haveLatency {
			p.latencyEWMA = sample
			p.haveLatency = true
		} else {
			p.latencyEWMA = time.Duration(latencyEWMAAlpha*float64(sample) + (1-latencyEWMAAlpha)*float64(p.latencyEWMA))
		}
	}
	p.lastCommandAt = now
}

// latency returns the current round-trip-latency EWMA estimate.
func (p *peerSession) latency() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latencyEWMA
}

func (p *peerSession) command() (wire.CommandPacket, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastCommand, p.haveCommand
}

// recordTimeout notes a watchdog expiry for regulation's
// timeouts-in-window trigger.
func (p *peerSession) recordTimeout(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timeoutTimes = append(p.timeoutTimes, now)
}

// timeoutsWithin counts watchdog expiries within the trailing window
// ending at now, pruning older entries.
func (p *peerSession) timeoutsWithin(now time.Time, window time.Duration) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	cutoff := now.Add(-window)
	kept := p.timeoutTimes[:0]
	count := 0
	for _, t := range p.timeoutTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
			count++
		}
	}
	p.timeoutTimes = kept
	return count
}

// sampleQueueDepth records the current queue depth for the rolling
// average used by adaptive regulation.
func (p *peerSession) sampleQueueDepth() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queueDepths = append(p.queueDepths, len(p.queue))
	if len(p.queueDepths) > 20 {
		p.queueDepths = p.queueDepths[len(p.queueDepths)-20:]
	}
}

func (p *peerSession) avgQueueDepth() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queueDepths) == 0 {
		return 0
	}
	sum := 0
	for _, d := range p.queueDepths {
		sum += d
	}
	return float64(sum) / float64(len(p.queueDepths))
}
