// Package wire implements the QCCTV network framing: the TCP stream
// packet camera→station, the UDP command datagram station→camera, and
// the UDP discovery/request datagrams used to find and subscribe to a
// camera.
package wire

// Fixed port assignments. Production code should use these constants
// directly; internal/config allows overriding them for tests.
const (
	StreamPort    = 1100 // TCP, camera -> station stream packets
	CommandPort   = 1101 // UDP, station -> camera command datagrams
	BroadcastPort = 1102 // UDP, camera -> stations discovery announce
	RequestPort   = 1103 // UDP, station -> camera subscribe request
)
