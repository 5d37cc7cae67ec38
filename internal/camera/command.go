package camera

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/qcctv/qcctv/internal/watchdog"
	"github.com/qcctv/qcctv/internal/wire"
)

// commandLoop implements the camera side of spec.md §4.3.1: receive
// one command datagram and apply it. Multiple Stations may command
// the same camera; the spec's Open Question (b) resolves this as
// last-writer-wins at command-packet granularity, so commands are
// applied directly with no per-peer shadow reconciliation here (the
// shadow pairs live on the Station side, per spec.md §3).
func (c *LocalCamera) commandLoop(ctx context.Context, conn *net.UDPConn) error {
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, 64)
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

		cmd, err := wire.DecodeCommand(buf[:n])
		if err != nil {
			continue
		}
		c.applyCommand(addr.IP.String(), cmd)
	}
}

// applyCommand mutates camera state per the received command and
// feeds the sending peer's liveness watchdog (spec.md §4.3.1: the
// datagram itself, even unchanged, serves as the keep-alive).
func (c *LocalCamera) applyCommand(ip string, cmd wire.CommandPacket) {
	c.peersMu.Lock()
	peer := c.peers[ip]
	c.peersMu.Unlock()

	var prev wire.CommandPacket
	var havePrev bool
	if peer != nil {
		prev, havePrev = peer.command()
		peer.recordCommand(cmd, time.Now())
		peer.wd.Feed()
	}

	newFPS := watchdog.ClampFPS(int(cmd.FPS))
	c.mu.Lock()
	fpsChanged := c.fps != newFPS
	c.fps = newFPS
	c.resolution = cmd.Resolution.Clamp(c.ceiling)
	lightChanged := c.light != cmd.Light
	c.light = cmd.Light
	c.autoRegulate = cmd.AutoRegulate
	c.mu.Unlock()

	if fpsChanged {
		c.obs.emit(Event{Kind: EventFPSChanged})
	}
	if lightChanged {
		if err := c.driver.SetFlashlight(cmd.Light == wire.LightOn); err != nil {
			c.mu.Lock()
			c.status = c.status.Set(wire.StatusLightFailure)
			c.mu.Unlock()
			c.obs.emit(Event{Kind: EventCameraStatusChanged})
		}
		c.obs.emit(Event{Kind: EventLightStatusChanged})
	}

	// Focus and save-photo-now are one-shot triggers: only act on the
	// rising edge so that re-sending the same datagram (the keep-alive
	// case) stays idempotent, satisfying property 5.
	focusRising := cmd.Focus && !(havePrev && prev.Focus)
	saveRising := cmd.SavePhotoNow && !(havePrev && prev.SavePhotoNow)

	if focusRising {
		_ = c.FocusCamera()
	}
	if saveRising {
		_ = c.TakePhoto()
	}
}
