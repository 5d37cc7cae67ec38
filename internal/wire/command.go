package wire

import "fmt"

// commandPacketSize is the fixed size of a command datagram (spec.md §6.2).
const commandPacketSize = 6

const (
	cmdFlagSavePhotoNow = 1 << 0
)

// CommandPacket is the station->camera control datagram, sent
// unframed over UDP every 500ms (spec.md §4.3.1, §6.2).
type CommandPacket struct {
	FPS           uint8
	Resolution    Resolution
	Light         LightStatus
	Focus         bool
	AutoRegulate  bool
	SavePhotoNow  bool
}

// Encode serializes the fixed 6-byte command datagram.
func (c CommandPacket) Encode() []byte {
	var focus uint8
	if c.Focus {
		focus = 1
	}
	var autoRegulate uint8
	if c.AutoRegulate {
		autoRegulate = 1
	}
	var flags uint8
	if c.SavePhotoNow {
		flags |= cmdFlagSavePhotoNow
	}

	return []byte{
		c.FPS,
		byte(c.Resolution),
		byte(c.Light),
		focus,
		autoRegulate,
		flags,
	}
}

// DecodeCommand parses a command datagram. Trailing bytes beyond the
// fixed 6 are accepted and ignored, per spec.md §6.2 "Cameras must
// accept trailing bytes (forward compatibility)".
func DecodeCommand(b []byte) (CommandPacket, error) {
	if len(b) < commandPacketSize {
		return CommandPacket{}, fmt.Errorf("wire: command datagram too short (%d bytes)", len(b))
	}

	res, err := ParseResolution(b[1])
	if err != nil {
		return CommandPacket{}, err
	}

	return CommandPacket{
		FPS:          b[0],
		Resolution:   res,
		Light:        LightStatus(b[2]),
		Focus:        b[3]&0x01 != 0,
		AutoRegulate: b[4]&0x01 != 0,
		SavePhotoNow: b[5]&cmdFlagSavePhotoNow != 0,
	}, nil
}
