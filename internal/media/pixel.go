// Package media holds the pixel-buffer and encoded-frame types that
// flow between the Frame Grabber, the Local Camera's encoder pipeline,
// and the Station's decode path. It also defines the encoder/decoder
// interfaces the core consumes from the external image-codec
// collaborator named in spec.md §1 — no concrete JPEG implementation
// lives here.
package media

import "time"

// PixelFormat identifies the in-memory layout of a PixelBuffer.
type PixelFormat int

const (
	FormatUnsupported PixelFormat = iota
	FormatRGB888
	FormatYUV420
	FormatGrayscale8
)

// RawFrame is what the OS camera driver hands to the Frame Grabber: a
// decoded pixel buffer plus its dimensions, stride, format, and
// capture timestamp (spec.md §1's description of the driver
// collaborator). The driver owns Pixels for the duration of the
// callback only — the Frame Grabber must copy before returning
// (spec.md §9 design note on buffer ownership).
type RawFrame struct {
	Pixels      []byte
	Width       int
	Height      int
	Stride      int
	Format      PixelFormat
	CapturedAt  time.Time
}

// PixelBuffer is a Frame-Grabber-owned copy of pixel data, ready for
// encoding. Unlike RawFrame it carries no external ownership
// constraints.
type PixelBuffer struct {
	Pixels []byte
	Width  int
	Height int
	Format PixelFormat
}

// Empty reports whether the buffer has zero area, the spec.md §4.1
// edge case for silently dropped frames.
func (p PixelBuffer) Empty() bool {
	return p.Width <= 0 || p.Height <= 0
}

// Encoder compresses a pixel buffer to a still-image byte format (e.g.
// JPEG). It is the external collaborator spec.md §1 calls
// "image encoding... provides encode(pixels)->bytes"; the core never
// implements one.
type Encoder interface {
	Encode(buf PixelBuffer, quality int) ([]byte, error)
}

// Decoder decompresses a still-image byte format back to pixels. The
// symmetric external collaborator to Encoder.
type Decoder interface {
	Decode(data []byte) (PixelBuffer, error)
}
