package wire

import (
	"bytes"
	"fmt"
)

// maxBroadcastLen bounds the broadcast datagram per spec.md §6.4.
const maxBroadcastLen = 512

// EncodeRequest builds the UTF-8 group-request datagram sent by a
// station to REQUEST_PORT, per spec.md §6.3.
func EncodeRequest(group string) []byte {
	return []byte(TruncateGroup(group))
}

// DecodeRequest extracts the group name from a request datagram.
func DecodeRequest(b []byte) string {
	return string(b)
}

// EncodeBroadcast builds the camera discovery announcement datagram,
// per spec.md §6.4: name UTF-8, 0x00, group UTF-8.
func EncodeBroadcast(name, group string) ([]byte, error) {
	name = TruncateName(name)
	group = TruncateGroup(group)

	out := make([]byte, 0, len(name)+1+len(group))
	out = append(out, name...)
	out = append(out, 0x00)
	out = append(out, group...)

	if len(out) > maxBroadcastLen {
		return nil, fmt.Errorf("wire: broadcast datagram exceeds %d bytes", maxBroadcastLen)
	}
	return out, nil
}

// DecodeBroadcast splits a broadcast datagram into camera name and group.
func DecodeBroadcast(b []byte) (name, group string, err error) {
	sep := bytes.IndexByte(b, 0x00)
	if sep < 0 {
		return "", "", fmt.Errorf("wire: broadcast datagram missing NUL separator")
	}
	return string(b[:sep]), string(b[sep+1:]), nil
}
