package camera

import (
	"sync"
	"time"

	"github.com/qcctv/qcctv/internal/wire"
)

// regulateWindow is the trailing window over which watchdog timeouts
// are counted for the step-down trigger (spec.md §4.2.2).
const regulateWindow = 10 * time.Second

// regulateStepInterval is the minimum spacing between resolution
// changes, enforcing property 6 ("at most once per 10s window").
const regulateStepInterval = 10 * time.Second

// regulateUpHold is how long every peer must stay good before the
// camera is allowed to step resolution back up.
const regulateUpHold = 30 * time.Second

// badLatency and goodLatency bound the round-trip-latency EWMA used
// alongside timeouts and queue depth (spec.md §4.2.2). Commands carry
// no application-level ack, so this EWMA is the command-arrival delay
// beyond expectedCommandInterval (peer.go): more than three command
// intervals of extra delay is a peer falling well behind, and at most
// one interval of extra delay counts as good.
const (
	badLatency  = 3 * expectedCommandInterval
	goodLatency = expectedCommandInterval
)

// regulator implements the adaptive resolution control loop of
// spec.md §4.2.2. It holds no reference to the peer set itself — the
// owning LocalCamera calls Evaluate periodically with a snapshot.
//
// Grounded on the teacher's ABR-adjacent bitrate ladder in
// internal/distribution (stream quality steps chosen from observed
// consumption), adapted here to the spec's own down/up thresholds
// instead of the teacher's bitrate heuristics.
type regulator struct {
	mu         sync.Mutex
	lastStepAt time.Time
	goodSince  time.Time
}

func newRegulator(now time.Time) *regulator {
	return &regulator{goodSince: now}
}

// peerSnapshot is the minimal view Evaluate needs per connected peer.
type peerSnapshot struct {
	timeouts   int
	queueDepth float64
	latency    time.Duration
}

// Evaluate applies spec.md §4.2.2 to the current resolution given a
// snapshot of every connected peer's recent liveness and queue depth.
// It returns the resolution to use going forward and whether it
// changed from current.
func (r *regulator) Evaluate(now time.Time, current, ceiling wire.Resolution, peers []peerSnapshot) (wire.Resolution, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bad := false
	for _, p := range peers {
		if p.timeouts >= 2 || p.queueDepth > 2 || p.latency > badLatency {
			bad = true
			break
		}
	}
	// Step-up requires every peer at queue depth <= 1 and latency at or
	// below goodLatency; the down trigger is the looser check
	// above, so anything in between holds the up-hold timer without
	// stepping down.
	allGood := !bad
	if allGood {
		for _, p := range peers {
			if p.queueDepth > 1 || p.latency > goodLatency {
				allGood = false
				break
			}
		}
	}

	if !allGood {
		r.goodSince = time.Time{}
	} else if r.goodSince.IsZero() {
		r.goodSince = now
	}

	if bad {
		if now.Sub(r.lastStepAt) < regulateStepInterval {
			return current, false
		}
		next := current.StepDown()
		if next != current {
			r.lastStepAt = now
			return next, true
		}
		return current, false
	}

	if !allGood {
		return current, false
	}
	if now.Sub(r.goodSince) < regulateUpHold {
		return current, false
	}
	if now.Sub(r.lastStepAt) < regulateStepInterval {
		return current, false
	}

	next := current.StepUp(ceiling)
	if next != current {
		r.lastStepAt = now
		r.goodSince = now
		return next, true
	}
	return current, false
}
