// Package config loads process configuration for the camera and
// station command binaries. The core protocol packages
// (internal/camera, internal/station, internal/wire, ...) never import
// this package — they take plain Go values — keeping the networking
// core itself configuration-agnostic, per spec.md §1's framing of
// "configuration loading" as an external concern.
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/qcctv/qcctv/internal/wire"
)

// Config holds the settings shared by both command binaries. Not every
// field applies to both roles; cmd/qcctv-camera and cmd/qcctv-station
// each read the subset relevant to them.
type Config struct {
	// Identity / discovery.
	CameraName  string
	CameraGroup string
	StationGroup string

	// Camera-side operating parameters.
	StartFPS          int
	StartResolution   wire.Resolution
	ResolutionCeiling wire.Resolution
	AutoRegulate      bool
	FlashlightEnabled bool

	// Storage.
	RecordingsPath string

	// Ports, overridable for tests; default to the spec.md §6 fixed
	// values in production.
	StreamPort    int
	CommandPort   int
	BroadcastPort int
	RequestPort   int

	// Debug HTTP API bind address, e.g. ":8080". Empty disables it.
	DebugAddr string
}

// Load reads configuration the way shakursmith-artemis/config/config.go
// does: load .env if present (ignoring its absence), then read
// environment variables with typed defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	startRes, err := wire.ParseResolution(uint8(getEnvAsInt("QCCTV_START_RESOLUTION", int(wire.VGA))))
	if err != nil {
		startRes = wire.VGA
	}
	ceiling, err := wire.ParseResolution(uint8(getEnvAsInt("QCCTV_RESOLUTION_CEILING", int(wire.HD1080))))
	if err != nil {
		ceiling = wire.HD1080
	}

	cfg := &Config{
		CameraName:        getEnv("QCCTV_CAMERA_NAME", "camera"),
		CameraGroup:       getEnv("QCCTV_CAMERA_GROUP", "default"),
		StationGroup:      getEnv("QCCTV_STATION_GROUP", "default"),
		StartFPS:          getEnvAsInt("QCCTV_START_FPS", 24),
		StartResolution:   startRes,
		ResolutionCeiling: ceiling,
		AutoRegulate:      getEnvAsBool("QCCTV_AUTO_REGULATE", true),
		FlashlightEnabled: getEnvAsBool("QCCTV_FLASHLIGHT_ENABLED", false),
		RecordingsPath:    getEnv("QCCTV_RECORDINGS_PATH", "./recordings"),
		StreamPort:        getEnvAsInt("QCCTV_STREAM_PORT", wire.StreamPort),
		CommandPort:       getEnvAsInt("QCCTV_COMMAND_PORT", wire.CommandPort),
		BroadcastPort:     getEnvAsInt("QCCTV_BROADCAST_PORT", wire.BroadcastPort),
		RequestPort:       getEnvAsInt("QCCTV_REQUEST_PORT", wire.RequestPort),
		DebugAddr:         getEnv("QCCTV_DEBUG_ADDR", ""),
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultValue
	}
	return b
}

func getEnvAsInt(key string, defaultValue int) int {
	v := getEnv(key, "")
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return n
}
