package camera

import (
	"testing"
	"time"

	"github.com/qcctv/qcctv/internal/wire"
)

func TestRegulatorStepsDownOnTimeouts(t *testing.T) {
	t.Parallel()

	now := time.Now()
	r := newRegulator(now)

	next, changed := r.Evaluate(now, wire.XGA, wire.HD1080, []peerSnapshot{{timeouts: 2}})
	if !changed {
		t.Fatal("expected a step-down on >=2 timeouts")
	}
	if next != wire.SVGA {
		t.Fatalf("got %v, want SVGA", next)
	}
}

func TestRegulatorStepsDownOnQueueDepth(t *testing.T) {
	t.Parallel()

	now := time.Now()
	r := newRegulator(now)

	next, changed := r.Evaluate(now, wire.XGA, wire.HD1080, []peerSnapshot{{queueDepth: 2.5}})
	if !changed || next != wire.SVGA {
		t.Fatalf("got (%v, %v), want (SVGA, true)", next, changed)
	}
}

// TestRegulatorMonotonicPer10s is property 6: at most one resolution
// change within any 10-second window.
func TestRegulatorMonotonicPer10s(t *testing.T) {
	t.Parallel()

	now := time.Now()
	r := newRegulator(now)
	current := wire.XGA

	next, changed := r.Evaluate(now, current, wire.HD1080, []peerSnapshot{{timeouts: 5}})
	if !changed {
		t.Fatal("expected first step-down to fire")
	}
	current = next

	// A second bad reading 1s later, still inside the 10s window, must
	// not step again.
	next, changed = r.Evaluate(now.Add(time.Second), current, wire.HD1080, []peerSnapshot{{timeouts: 5}})
	if changed {
		t.Fatalf("expected no second step within 10s window, got change to %v", next)
	}

	// Past the window, a bad reading is free to step again.
	next, changed = r.Evaluate(now.Add(11*time.Second), current, wire.HD1080, []peerSnapshot{{timeouts: 5}})
	if !changed || next != current.StepDown() {
		t.Fatalf("expected a step after the window elapsed, got (%v, %v)", next, changed)
	}
}

// TestRegulatorStepsDownOnLatency covers the round-trip-latency factor
// of spec.md §4.2.2: a peer with no timeouts and a shallow queue still
// forces a step-down once its command-arrival jitter EWMA is too high.
func TestRegulatorStepsDownOnLatency(t *testing.T) {
	t.Parallel()

	now := time.Now()
	r := newRegulator(now)

	next, changed := r.Evaluate(now, wire.XGA, wire.HD1080, []peerSnapshot{{latency: badLatency + time.Millisecond}})
	if !changed || next != wire.SVGA {
		t.Fatalf("got (%v, %v), want (SVGA, true) on high latency alone", next, changed)
	}
}

// TestRegulatorLatencyAtCadenceHoldsStepUp checks that a peer whose
// latency EWMA is exactly goodLatency (one command interval of extra
// delay) still counts as good for the step-up hold;
// TestRegulatorLatencyAboveCadenceBlocksStepUp covers anything above it.
func TestRegulatorLatencyAtCadenceHoldsStepUp(t *testing.T) {
	t.Parallel()

	now := time.Now()
	r := newRegulator(now)
	current := wire.SVGA

	next, changed := r.Evaluate(now.Add(31*time.Second), current, wire.HD1080, []peerSnapshot{{latency: goodLatency}})
	if !changed || next != wire.XGA {
		t.Fatalf("got (%v, %v), want (XGA, true) with latency at cadence", next, changed)
	}
}

func TestRegulatorLatencyAboveCadenceBlocksStepUp(t *testing.T) {
	t.Parallel()

	now := time.Now()
	r := newRegulator(now)
	current := wire.SVGA

	next, changed := r.Evaluate(now.Add(31*time.Second), current, wire.HD1080, []peerSnapshot{{latency: goodLatency + time.Millisecond}})
	if changed {
		t.Fatalf("expected no step-up with latency above cadence, got %v", next)
	}
}

func TestRegulatorStepsUpAfterGoodHold(t *testing.T) {
	t.Parallel()

	now := time.Now()
	r := newRegulator(now)
	current := wire.SVGA

	// All peers good from t=0; nothing happens before the 30s hold.
	next, changed := r.Evaluate(now.Add(20*time.Second), current, wire.HD1080, []peerSnapshot{{}})
	if changed {
		t.Fatalf("expected no step-up before the 30s hold, got %v", next)
	}

	next, changed = r.Evaluate(now.Add(31*time.Second), current, wire.HD1080, []peerSnapshot{{}})
	if !changed || next != wire.XGA {
		t.Fatalf("got (%v, %v), want (XGA, true) after the hold elapses", next, changed)
	}
}

func TestRegulatorStepUpNeverExceedsCeiling(t *testing.T) {
	t.Parallel()

	now := time.Now()
	r := newRegulator(now)

	next, _ := r.Evaluate(now.Add(31*time.Second), wire.HD1080, wire.HD1080, []peerSnapshot{{}})
	if next != wire.HD1080 {
		t.Fatalf("got %v, want HD1080 (already at ceiling)", next)
	}
}

func TestRegulatorNoPeersIsGood(t *testing.T) {
	t.Parallel()

	now := time.Now()
	r := newRegulator(now)

	next, changed := r.Evaluate(now.Add(31*time.Second), wire.QVGA, wire.HD1080, nil)
	if !changed || next != wire.VGA {
		t.Fatalf("got (%v, %v), want (VGA, true) with no connected peers", next, changed)
	}
}
