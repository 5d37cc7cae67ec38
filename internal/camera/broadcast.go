package camera

import (
	"context"
	"net"
	"syscall"
	"time"

	"github.com/qcctv/qcctv/internal/wire"
)

// broadcastLoop implements spec.md §4.2.4: every 3s, announce this
// camera's name and group on BROADCAST_PORT.
func (c *LocalCamera) broadcastLoop(ctx context.Context, conn *net.UDPConn) error {
	if err := enableBroadcast(conn); err != nil {
		c.log.Warn("enable SO_BROADCAST failed, announcements may not be delivered", "error", err)
	}
	dst := &net.UDPAddr{IP: net.IPv4bcast, Port: c.cfg.BroadcastPort}

	ticker := time.NewTicker(broadcastInterval)
	defer ticker.Stop()

	c.announce(conn, dst)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.announce(conn, dst)
		}
	}
}

func (c *LocalCamera) announce(conn *net.UDPConn, dst *net.UDPAddr) {
	c.mu.RLock()
	name, group := c.name, c.group
	c.mu.RUnlock()

	datagram, err := wire.EncodeBroadcast(name, group)
	if err != nil {
		c.log.Warn("broadcast encode failed", "error", err)
		return
	}
	if _, err := conn.WriteToUDP(datagram, dst); err != nil {
		c.log.Warn("broadcast send failed", "error", err)
	}
}

// enableBroadcast sets SO_BROADCAST on conn's underlying socket. Go's
// net package never sets it automatically, and without it a send to a
// broadcast address fails with EACCES on Linux.
func enableBroadcast(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
