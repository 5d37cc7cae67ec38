// Package grabber implements the Frame Grabber (spec.md §4.1): it
// accepts raw pixel buffers from the OS camera driver, optionally
// downscales and grayscales them, and emits the result synchronously
// to whoever is feeding the encoder.
package grabber

import (
	"image"

	"gocv.io/x/gocv"

	"github.com/qcctv/qcctv/internal/media"
)

// minOutputWidth and minOutputHeight are the floor spec.md §4.1 step 2
// clamps a downscale to.
const (
	minOutputWidth  = 160
	minOutputHeight = 120
)

// FrameGrabber converts OS-driver raw frames into grabber-owned pixel
// buffers, per spec.md §4.1's per-frame algorithm.
type FrameGrabber struct {
	enabled     bool
	shrinkRatio float64
	grayscale   bool
}

// New creates a FrameGrabber with the pass-through defaults: enabled,
// shrinkRatio=1, grayscale=false.
func New() *FrameGrabber {
	return &FrameGrabber{
		enabled:     true,
		shrinkRatio: 1,
	}
}

// SetEnabled toggles whether OnFrame processes or drops input.
func (g *FrameGrabber) SetEnabled(enabled bool) { g.enabled = enabled }

// SetShrinkRatio sets the output-to-input linear dimension ratio.
// Values outside (0, 1] are clamped to the nearest bound.
func (g *FrameGrabber) SetShrinkRatio(ratio float64) {
	if ratio <= 0 {
		ratio = 0.01
	}
	if ratio > 1 {
		ratio = 1
	}
	g.shrinkRatio = ratio
}

// SetGrayscale toggles the BT.601 luminance conversion step.
func (g *FrameGrabber) SetGrayscale(grayscale bool) { g.grayscale = grayscale }

// OnFrame runs one raw frame through the grabber pipeline, per spec.md
// §4.1: disabled -> drop, zero-sized -> drop, non-RGB888 input ->
// RGB888 first as toRGB888Mat describes (formats it cannot take are
// dropped), then shrink and optionally grayscale. The
// returned buffer is always grabber-owned, never aliasing the driver's
// RawFrame.Pixels.
func (g *FrameGrabber) OnFrame(raw media.RawFrame) (media.PixelBuffer, bool) {
	if !g.enabled {
		return media.PixelBuffer{}, false
	}
	if raw.Width <= 0 || raw.Height <= 0 || len(raw.Pixels) == 0 {
		return media.PixelBuffer{}, false
	}

	// Pass-through fast path: no allocation beyond the mandatory copy
	// out of driver-owned memory.
	if g.shrinkRatio == 1 && !g.grayscale && raw.Format == media.FormatRGB888 {
		out := make([]byte, len(raw.Pixels))
		copy(out, raw.Pixels)
		return media.PixelBuffer{Pixels: out, Width: raw.Width, Height: raw.Height, Format: media.FormatRGB888}, true
	}

	mat, err := toRGB888Mat(raw)
	if err != nil {
		return media.PixelBuffer{}, false
	}
	defer mat.Close()

	if g.shrinkRatio != 1 {
		w := maxInt(minOutputWidth, int(float64(raw.Width)*g.shrinkRatio))
		h := maxInt(minOutputHeight, int(float64(raw.Height)*g.shrinkRatio))
		resized := gocv.NewMat()
		gocv.Resize(mat, &resized, image.Pt(w, h), 0, 0, gocv.InterpolationLinear)
		mat.Close()
		mat = resized
	}

	if g.grayscale {
		gray := gocv.NewMat()
		gocv.CvtColor(mat, &gray, gocv.ColorRGBToGray)
		mat.Close()
		mat = gray

		out := media.PixelBuffer{
			Pixels: append([]byte(nil), mat.ToBytes()...),
			Width:  mat.Cols(),
			Height: mat.Rows(),
			Format: media.FormatGrayscale8,
		}
		return out, true
	}

	out := media.PixelBuffer{
		Pixels: append([]byte(nil), mat.ToBytes()...),
		Width:  mat.Cols(),
		Height: mat.Rows(),
		Format: media.FormatRGB888,
	}
	return out, true
}

// toRGB888Mat copies a RawFrame into an OpenCV Mat in RGB888 layout.
// RGB888 is copied as is and Grayscale8 is expanded to three channels.
// Any other format (including YUV420) is not converted: its bytes are
// taken as RGB888 when their count is width*height*3, and otherwise
// the frame is rejected with errUnsupportedFormat.
func toRGB888Mat(raw media.RawFrame) (gocv.Mat, error) {
	switch raw.Format {
	case media.FormatRGB888:
		return gocv.NewMatFromBytes(raw.Height, raw.Width, gocv.MatTypeCV8UC3, append([]byte(nil), raw.Pixels...))
	case media.FormatGrayscale8:
		gray, err := gocv.NewMatFromBytes(raw.Height, raw.Width, gocv.MatTypeCV8UC1, append([]byte(nil), raw.Pixels...))
		if err != nil {
			return gocv.Mat{}, err
		}
		defer gray.Close()
		rgb := gocv.NewMat()
		gocv.CvtColor(gray, &rgb, gocv.ColorGrayToBGR)
		return rgb, nil
	default:
		// Unknown/unsupported formats are treated as opaque RGB888 if
		// the byte count matches, else rejected.
		if len(raw.Pixels) == raw.Width*raw.Height*3 {
			return gocv.NewMatFromBytes(raw.Height, raw.Width, gocv.MatTypeCV8UC3, append([]byte(nil), raw.Pixels...))
		}
		return gocv.Mat{}, errUnsupportedFormat
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
