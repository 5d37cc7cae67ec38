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

	"github.com/qcctv/qcctv/internal/config"
	"github.com/qcctv/qcctv/internal/saver"
	"github.com/qcctv/qcctv/internal/station"
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

	disc := station.New(station.Config{
		Group:         cfg.StationGroup,
		StreamPort:    cfg.StreamPort,
		CommandPort:   cfg.CommandPort,
		BroadcastPort: cfg.BroadcastPort,
		RequestPort:   cfg.RequestPort,
	}, sv, log)

	disc.Subscribe(func(ev station.Event) {
		log.Debug("station event", "kind", ev.Kind.String(), "id", ev.ID)
	})

	log.Info("qcctv-station starting",
		"group", cfg.StationGroup,
		"broadcast_port", cfg.BroadcastPort,
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return disc.Run(ctx) })

	if cfg.DebugAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/cameras", camerasHandler(disc))
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
		log.Error("station exited with error", "error", err)
		os.Exit(1)
	}
}

type cameraInfo struct {
	ID      int    `json:"id"`
	Address string `json:"address"`
	Status  string `json:"status,omitempty"`
}

func camerasHandler(disc *station.StationDiscovery) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cams := disc.Cameras()
		out := make([]cameraInfo, 0, len(cams))
		for id, addr := range cams {
			info := cameraInfo{ID: id, Address: addr}
			if sess, ok := disc.Session(id); ok {
				info.Status = sess.StatusString()
			}
			out = append(out, info)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}
}
