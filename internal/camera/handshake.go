package camera

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/qcctv/qcctv/internal/wire"
)

// requestLoop implements spec.md §4.2.3's first half: a UDP datagram
// on REQUEST_PORT carrying this camera's group opens a 5 s accept
// window keyed by the sender's IP (port is intentionally ignored,
// since the station's TCP connection will use a different ephemeral
// source port than its UDP request).
func (c *LocalCamera) requestLoop(ctx context.Context, conn *net.UDPConn) error {
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
			return nil
		}

		group := wire.DecodeRequest(buf[:n])
		c.mu.RLock()
		myGroup := c.group
		c.mu.RUnlock()
		if group != myGroup {
			continue
		}

		c.pendingMu.Lock()
		c.pending[addr.IP.String()] = time.Now().Add(handshakeWindow)
		c.pendingMu.Unlock()
	}
}

// acceptLoop implements the second half of spec.md §4.2.3: bind the
// first TCP connection arriving from a pending requester's address as
// a new peer session.
func (c *LocalCamera) acceptLoop(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
		if err != nil {
			conn.Close()
			continue
		}

		if !c.consumePending(host) {
			conn.Close()
			continue
		}

		c.mu.RLock()
		fps := c.fps
		c.mu.RUnlock()
		interval := time.Duration(1000/fps) * time.Millisecond

		peer := newPeerSession(host, conn, interval, c.wheel)

		c.peersMu.Lock()
		if old, ok := c.peers[host]; ok {
			old.close()
		}
		c.peers[host] = peer
		c.peersMu.Unlock()

		c.log.Info("station connected", "addr", host)
		c.obs.emit(Event{Kind: EventHostCountChanged})

		go c.watchPeerLifecycle(ctx, host, peer)
	}
}

// watchPeerLifecycle records command-watchdog expiries for adaptive
// regulation (spec.md §4.2.2's "count of watchdog timeouts") without
// tearing the peer down on a single missed command tick — a peer
// session only disappears on an actual socket failure (detected by
// peer.writeLoop and signaled via peer.done), matching spec.md §7's
// WatchdogTimeout policy being about liveness accounting, not session
// teardown, on this side of the protocol.
func (c *LocalCamera) watchPeerLifecycle(ctx context.Context, host string, peer *peerSession) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-peer.done:
			c.peersMu.Lock()
			if c.peers[host] == peer {
				delete(c.peers, host)
			}
			c.peersMu.Unlock()
			c.log.Info("station disconnected", "addr", host)
			c.obs.emit(Event{Kind: EventHostCountChanged})
			return
		case <-peer.wd.Expired():
			peer.recordTimeout(time.Now())
		}
	}
}

// consumePending reports whether ip has an unexpired handshake
// request pending, consuming it if so (one TCP connection per request).
func (c *LocalCamera) consumePending(ip string) bool {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	deadline, ok := c.pending[ip]
	if !ok || time.Now().After(deadline) {
		delete(c.pending, ip)
		return false
	}
	delete(c.pending, ip)
	return true
}
