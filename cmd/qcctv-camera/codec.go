package main

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	"github.com/qcctv/qcctv/internal/media"
)

// jpegCodec implements media.Encoder/media.Decoder with the stdlib
// image/jpeg package. SPEC_FULL.md keeps every concrete image codec
// out of internal/ — the core only consumes the Encoder/Decoder
// interfaces — and wires a real implementation in at the process
// boundary instead, matching spec.md's framing of image encoding as
// an external collaborator.
type jpegCodec struct{}

// Encode implements media.Encoder.
func (jpegCodec) Encode(buf media.PixelBuffer, quality int) ([]byte, error) {
	img, err := toImage(buf)
	if err != nil {
		return nil, err
	}
	if quality < 1 {
		quality = 1
	}
	if quality > 100 {
		quality = 100
	}
	var out bytes.Buffer
	if err := jpeg.Encode(&out, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("codec: jpeg encode: %w", err)
	}
	return out.Bytes(), nil
}

// Decode implements media.Decoder.
func (jpegCodec) Decode(data []byte) (media.PixelBuffer, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return media.PixelBuffer{}, fmt.Errorf("codec: jpeg decode: %w", err)
	}
	return fromImage(img), nil
}

func toImage(buf media.PixelBuffer) (image.Image, error) {
	switch buf.Format {
	case media.FormatRGB888:
		if len(buf.Pixels) != buf.Width*buf.Height*3 {
			return nil, fmt.Errorf("codec: RGB888 buffer size mismatch")
		}
		img := image.NewNRGBA(image.Rect(0, 0, buf.Width, buf.Height))
		for y := 0; y < buf.Height; y++ {
			for x := 0; x < buf.Width; x++ {
				i := (y*buf.Width + x) * 3
				img.SetNRGBA(x, y, color.NRGBA{R: buf.Pixels[i], G: buf.Pixels[i+1], B: buf.Pixels[i+2], A: 255})
			}
		}
		return img, nil
	case media.FormatGrayscale8:
		if len(buf.Pixels) != buf.Width*buf.Height {
			return nil, fmt.Errorf("codec: Grayscale8 buffer size mismatch")
		}
		img := image.NewGray(image.Rect(0, 0, buf.Width, buf.Height))
		copy(img.Pix, buf.Pixels)
		return img, nil
	default:
		return nil, fmt.Errorf("codec: unsupported pixel format %v for encode", buf.Format)
	}
}

func fromImage(img image.Image) media.PixelBuffer {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := make([]byte, w*h*3)
	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			out[i] = byte(r >> 8)
			out[i+1] = byte(g >> 8)
			out[i+2] = byte(b >> 8)
			i += 3
		}
	}
	return media.PixelBuffer{Pixels: out, Width: w, Height: h, Format: media.FormatRGB888}
}
