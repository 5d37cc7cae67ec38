package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/qcctv/qcctv/internal/camera"
	"github.com/qcctv/qcctv/internal/config"
	"github.com/qcctv/qcctv/internal/saver"
)

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	sv := saver.NewFileSaver(cfg.RecordingsPath)

	cam := camera.New(camera.Config{
		Name:              cfg.CameraName,
		Group:             cfg.CameraGroup,
		FPS:               cfg.StartFPS,
		Resolution:        cfg.StartResolution,
		ResolutionCeiling: cfg.ResolutionCeiling,
		AutoRegulate:      cfg.AutoRegulate,
		Flashlight:        cfg.FlashlightEnabled,
		StreamPort:        cfg.StreamPort,
		CommandPort:       cfg.CommandPort,
		BroadcastPort:     cfg.BroadcastPort,
		RequestPort:       cfg.RequestPort,
	}, camera.NoopDriver{}, jpegCodec{}, sv, log)

	log.Info("qcctv-camera starting",
		"name", cfg.CameraName,
		"group", cfg.CameraGroup,
		"stream_port", cfg.StreamPort,
		"command_port", cfg.CommandPort,
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return cam.Start(ctx) })
	g.Go(func() error { return captureLoop(ctx, cam) })

	if cfg.DebugAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/status", statusHandler(cam, cfg.CameraName, cfg.CameraGroup))
		srv := &http.Server{Addr: cfg.DebugAddr, Handler: mux}

		g.Go(func() error {
			log.Info("debug HTTP API listening", "addr", cfg.DebugAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("debug API server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		log.Error("camera exited with error", "error", err)
		os.Exit(1)
	}
}

type statusResponse struct {
	Name           string   `json:"name"`
	Group          string   `json:"group"`
	FPS            int      `json:"fps"`
	ConnectedHosts []string `json:"connected_hosts"`
}

func statusHandler(cam *camera.LocalCamera, name, group string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(statusResponse{
			Name:           name,
			Group:          group,
			FPS:            cam.FPS(),
			ConnectedHosts: cam.ConnectedHosts(),
		})
	}
}
