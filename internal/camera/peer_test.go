package camera

import (
	"net"
	"testing"
	"time"

	"github.com/qcctv/qcctv/internal/watchdog"
)

// TestPeerSessionQueueNeverExceedsCap is property 7: the per-peer send
// queue length never exceeds sendQueueCap, even under sustained
// overflow.
func TestPeerSessionQueueNeverExceedsCap(t *testing.T) {
	t.Parallel()

	server, client := net.Pipe()
	defer client.Close()

	wheel := watchdog.NewWheel(50 * time.Millisecond)
	defer wheel.Close()

	p := newPeerSession("peer", server, 100*time.Millisecond, wheel)
	defer p.close()

	for i := 0; i < 10; i++ {
		p.enqueue([]byte{byte(i)})
		if depth := p.queueDepth(); depth > sendQueueCap {
			t.Fatalf("queue depth %d exceeds cap %d", depth, sendQueueCap)
		}
	}
}

func TestPeerSessionCommandRoundTrip(t *testing.T) {
	t.Parallel()

	server, client := net.Pipe()
	defer client.Close()

	wheel := watchdog.NewWheel(50 * time.Millisecond)
	defer wheel.Close()

	p := newPeerSession("peer", server, 100*time.Millisecond, wheel)
	defer p.close()

	if _, ok := p.command(); ok {
		t.Fatal("expected no command recorded yet")
	}

	cmd := sampleCommand()
	p.recordCommand(cmd, time.Now())

	got, ok := p.command()
	if !ok {
		t.Fatal("expected a recorded command")
	}
	if got.FPS != cmd.FPS {
		t.Fatalf("got FPS %d, want %d", got.FPS, cmd.FPS)
	}
}

// TestPeerSessionLatencyEWMATracksArrivalJitter locks in the round-trip-
// latency proxy used by adaptive regulation (spec.md §4.2.2): since
// commands carry no application-level ack, the gap between consecutive
// command datagrams beyond the station's known 500ms cadence is treated
// as jitter/delay and smoothed into an EWMA.
func TestPeerSessionLatencyEWMATracksArrivalJitter(t *testing.T) {
	t.Parallel()

	server, client := net.Pipe()
	defer client.Close()

	wheel := watchdog.NewWheel(50 * time.Millisecond)
	defer wheel.Close()

	p := newPeerSession("peer", server, 100*time.Millisecond, wheel)
	defer p.close()

	cmd := sampleCommand()
	base := time.Now()

	p.recordCommand(cmd, base)
	if got := p.latency(); got != 0 {
		t.Fatalf("got latency %v after first sample, want 0", got)
	}

	// On-cadence arrival (exactly expectedCommandInterval later): no jitter.
	p.recordCommand(cmd, base.Add(expectedCommandInterval))
	if got := p.latency(); got != 0 {
		t.Fatalf("got latency %v after on-cadence arrival, want 0", got)
	}

	// Late arrival: 500ms of jitter on top of the expected cadence.
	late := base.Add(expectedCommandInterval).Add(expectedCommandInterval + 500*time.Millisecond)
	p.recordCommand(cmd, late)
	if got := p.latency(); got <= 0 {
		t.Fatalf("got latency %v after late arrival, want > 0", got)
	}
}

func TestPeerSessionTimeoutsWithinWindow(t *testing.T) {
	t.Parallel()

	server, client := net.Pipe()
	defer client.Close()

	wheel := watchdog.NewWheel(50 * time.Millisecond)
	defer wheel.Close()

	p := newPeerSession("peer", server, 100*time.Millisecond, wheel)
	defer p.close()

	base := time.Now()
	p.recordTimeout(base)
	p.recordTimeout(base.Add(2 * time.Second))
	p.recordTimeout(base.Add(20 * time.Second))

	count := p.timeoutsWithin(base.Add(20*time.Second), 10*time.Second)
	if count != 1 {
		t.Fatalf("got %d timeouts in window, want 1", count)
	}
}
