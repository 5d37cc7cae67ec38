package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

const (
	maxNameLen  = 255
	maxGroupLen = 255

	// maxPacketLen bounds the body length FrameReader will wait for. A
	// larger length prefix is treated as junk and resynchronized past.
	maxPacketLen = 8 << 20
)

// StreamPacket is the camera->station packet carried over TCP, framed
// per spec.md §6.1: a 4-byte big-endian length prefix, the body, and a
// 4-byte big-endian CRC32 of the body.
type StreamPacket struct {
	Name       string
	Group      string
	FPS        uint8
	Resolution Resolution
	Light      LightStatus
	Status     CameraStatus
	Image      []byte
}

// TruncateName clamps s to maxNameLen UTF-8 bytes, per spec.md §4.2
// "truncate on overflow". Truncation is byte-length based, not
// codepoint based, and may split a multi-byte rune at the boundary —
// acceptable here since names are operator-supplied labels, not
// re-parsed as UTF-8 on the wire beyond display.
func TruncateName(s string) string {
	if len(s) <= maxNameLen {
		return s
	}
	return s[:maxNameLen]
}

// TruncateGroup clamps s to maxGroupLen bytes, same rule as TruncateName.
func TruncateGroup(s string) string {
	if len(s) <= maxGroupLen {
		return s
	}
	return s[:maxGroupLen]
}

// body serializes the packet body (everything between the length
// prefix and the trailing CRC32) per spec.md §6.1.
func (p StreamPacket) body() []byte {
	name := TruncateName(p.Name)
	group := TruncateGroup(p.Group)

	buf := make([]byte, 0, 1+len(name)+1+len(group)+4+4+len(p.Image))
	buf = append(buf, byte(len(name)))
	buf = append(buf, name...)
	buf = append(buf, byte(len(group)))
	buf = append(buf, group...)
	buf = append(buf, p.FPS)
	buf = append(buf, byte(p.Resolution))
	buf = append(buf, byte(p.Light))
	buf = append(buf, byte(p.Status))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(p.Image)))
	buf = append(buf, p.Image...)
	return buf
}

// Encode frames the packet for the wire: length prefix, body, CRC32.
func (p StreamPacket) Encode() []byte {
	body := p.body()

	out := make([]byte, 0, 4+len(body)+4)
	out = binary.BigEndian.AppendUint32(out, uint32(len(body)))
	out = append(out, body...)
	out = binary.BigEndian.AppendUint32(out, crc32.ChecksumIEEE(body))
	return out
}

// parseBody decodes a validated packet body into a StreamPacket.
func parseBody(body []byte) (StreamPacket, error) {
	var p StreamPacket

	if len(body) < 1 {
		return p, fmt.Errorf("wire: body too short for name_len")
	}
	nameLen := int(body[0])
	body = body[1:]
	if len(body) < nameLen {
		return p, fmt.Errorf("wire: body too short for name")
	}
	p.Name = string(body[:nameLen])
	body = body[nameLen:]

	if len(body) < 1 {
		return p, fmt.Errorf("wire: body too short for group_len")
	}
	groupLen := int(body[0])
	body = body[1:]
	if len(body) < groupLen {
		return p, fmt.Errorf("wire: body too short for group")
	}
	p.Group = string(body[:groupLen])
	body = body[groupLen:]

	if len(body) < 4 {
		return p, fmt.Errorf("wire: body too short for fixed fields")
	}
	p.FPS = body[0]
	res, err := ParseResolution(body[1])
	if err != nil {
		return p, err
	}
	p.Resolution = res
	p.Light = LightStatus(body[2])
	p.Status = CameraStatus(body[3])
	body = body[4:]

	if len(body) < 4 {
		return p, fmt.Errorf("wire: body too short for image_len")
	}
	imageLen := binary.BigEndian.Uint32(body)
	body = body[4:]
	if uint32(len(body)) < imageLen {
		return p, fmt.Errorf("wire: body too short for image")
	}
	p.Image = body[:imageLen]

	return p, nil
}

// ErrNeedMoreData signals that FrameReader has not yet buffered a
// complete frame; the caller should Feed more bytes and try again.
var ErrNeedMoreData = errors.New("wire: need more data")

// FrameReader accumulates bytes read from a single TCP stream and
// parses out complete, CRC-validated StreamPackets, implementing the
// length-prefix-then-CRC resync loop of spec.md §4.3.2: on a bad CRC,
// drop one byte and retry rather than giving up on the whole buffer.
//
// This mirrors the teacher's packetAccumulator discontinuity handling
// (internal/mpegts/accumulator.go): both buffer partial input keyed to
// a single stream and discard/resync rather than erroring out on a
// transient corruption.
type FrameReader struct {
	buf         []byte
	resyncCount int
}

// NewFrameReader creates an empty FrameReader.
func NewFrameReader() *FrameReader {
	return &FrameReader{}
}

// Feed appends newly read bytes to the internal buffer.
func (r *FrameReader) Feed(b []byte) {
	r.buf = append(r.buf, b...)
}

// ResyncCount returns the number of resync events seen so far: one per
// byte dropped for a CRC mismatch or an oversized length prefix, and
// one per CRC-valid frame dropped for a malformed body.
func (r *FrameReader) ResyncCount() int { return r.resyncCount }

// Next attempts to parse one complete packet from the buffered bytes.
// It returns ErrNeedMoreData when the buffer doesn't yet hold a full
// frame. On a CRC mismatch, or a length prefix above maxPacketLen, it
// resynchronizes by dropping one byte and retrying internally, so a
// single Next call may consume more than one byte before either
// succeeding or running out of buffered data. When the prefix claims
// more bytes than are buffered but a complete CRC-valid frame starts
// later in the buffer, the bytes before that frame are dropped, each
// counted as a resync.
func (r *FrameReader) Next() (*StreamPacket, error) {
scan:
	for {
		if len(r.buf) < 4 {
			return nil, ErrNeedMoreData
		}
		packetLen := binary.BigEndian.Uint32(r.buf)
		if packetLen > maxPacketLen {
			r.resyncCount++
			r.buf = r.buf[1:]
			continue
		}
		total := 4 + int(packetLen) + 4
		if total < 0 || len(r.buf) < total {
			// The prefix may be junk that looks plausible: skip ahead to
			// a complete, CRC-valid frame later in the buffer, if any.
			for i := 1; i+8 <= len(r.buf); i++ {
				n := int(binary.BigEndian.Uint32(r.buf[i:]))
				end := i + 4 + n + 4
				if n <= maxPacketLen && end <= len(r.buf) &&
					crc32.ChecksumIEEE(r.buf[i+4:i+4+n]) == binary.BigEndian.Uint32(r.buf[i+4+n:end]) {
					r.resyncCount += i
					r.buf = r.buf[i:]
					continue scan
				}
			}
			return nil, ErrNeedMoreData
		}

		body := r.buf[4 : 4+packetLen]
		trailingCRC := binary.BigEndian.Uint32(r.buf[4+packetLen : total])

		if crc32.ChecksumIEEE(body) != trailingCRC {
			r.resyncCount++
			r.buf = r.buf[1:]
			continue
		}

		pkt, err := parseBody(body)
		r.buf = r.buf[total:]
		if err != nil {
			// A valid CRC over a malformed body is itself a form of
			// corruption (or a protocol mismatch) — treat the same way.
			r.resyncCount++
			continue
		}
		return &pkt, nil
	}
}
