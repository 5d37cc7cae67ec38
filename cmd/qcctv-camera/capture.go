package main

import (
	"context"
	"log/slog"
	"time"

	"gocv.io/x/gocv"

	"github.com/qcctv/qcctv/internal/camera"
	"github.com/qcctv/qcctv/internal/media"
)

// captureLoop feeds LocalCamera.OnRawFrame from the host's default
// video device, the OS camera driver collaborator spec.md §1 and §4.1
// describe but leave external. Grounded on
// internal/services/camera/stream_capture.go's VideoCapture read loop,
// trimmed to QCCTV's single-device, single-format case.
func captureLoop(ctx context.Context, cam *camera.LocalCamera) error {
	cap, err := gocv.OpenVideoCapture(0)
	if err != nil {
		slog.Warn("no capture device available, camera will stream nothing", "error", err)
		<-ctx.Done()
		return nil
	}
	defer cap.Close()

	img := gocv.NewMat()
	defer img.Close()

	ticker := time.NewTicker(33 * time.Millisecond) // ~30fps raw read cadence
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !cap.Read(&img) || img.Empty() {
				continue
			}
			cam.OnRawFrame(media.RawFrame{
				Pixels:     append([]byte(nil), img.ToBytes()...),
				Width:      img.Cols(),
				Height:     img.Rows(),
				Stride:     img.Step(),
				Format:     media.FormatRGB888,
				CapturedAt: time.Now(),
			})
		}
	}
}
