package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
)

type Config struct {
	Server     ServerConfig
	Collection CollectionConfig
	Map        MapConfig
	Icons      IconConfig
	Popup      PopupConfig
	Snapshot   SnapshotConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Host      string
	Port      int
	RateLimit int // interaction events per second
}

type CollectionConfig struct {
	URL             string
	Timeout         time.Duration
	RefreshInterval time.Duration // 0 disables background refresh
}

type MapConfig struct {
	AccessToken string
	Style       string
	Center      orb.Point
	Zoom        float64
	Bounds      orb.Bound
	LayersFile  string
}

type IconConfig struct {
	Dir     string
	Size    int
	Workers int
}

type PopupConfig struct {
	Debounce time.Duration
	Timezone string
}

type SnapshotConfig struct {
	Path string // empty disables snapshots
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	center, err := parsePoint(getEnv("MAP_CENTER", "13.4,52.5"))
	if err != nil {
		return nil, fmt.Errorf("invalid MAP_CENTER: %w", err)
	}
	bounds, err := parseBound(getEnv("MAP_BOUNDS", "12.9,52.3,13.8,52.7"))
	if err != nil {
		return nil, fmt.Errorf("invalid MAP_BOUNDS: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:      getEnv("SERVER_HOST", "localhost"),
			Port:      getEnvInt("SERVER_PORT", 8080),
			RateLimit: getEnvInt("RATE_LIMIT", 20),
		},
		Collection: CollectionConfig{
			URL:             getEnv("COLLECTION_URL", "https://orga.volksentscheid-transparenz.de/api/collection/"),
			Timeout:         getEnvDuration("COLLECTION_TIMEOUT", 15*time.Second),
			RefreshInterval: getEnvDuration("REFRESH_INTERVAL", 0),
		},
		Map: MapConfig{
			AccessToken: getEnv("MAPBOX_ACCESS_TOKEN", ""),
			Style:       getEnv("MAP_STYLE", "mapbox://styles/mapbox/streets-v9"),
			Center:      center,
			Zoom:        getEnvFloat("MAP_ZOOM", 12),
			Bounds:      bounds,
			LayersFile:  getEnv("LAYERS_FILE", ""),
		},
		Icons: IconConfig{
			Dir:     getEnv("ICON_DIR", "./assets/icons"),
			Size:    getEnvInt("ICON_SIZE", 64),
			Workers: getEnvInt("ICON_WORKERS", 4),
		},
		Popup: PopupConfig{
			Debounce: getEnvDuration("POPUP_DEBOUNCE", 500*time.Millisecond),
			Timezone: getEnv("TIMEZONE", "Europe/Berlin"),
		},
		Snapshot: SnapshotConfig{
			Path: getEnv("SNAPSHOT_DB_PATH", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.RateLimit < 1 {
		return fmt.Errorf("rate limit must be positive: %d", c.Server.RateLimit)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	if c.Collection.URL == "" {
		return fmt.Errorf("COLLECTION_URL is required")
	}
	if c.Collection.Timeout <= 0 {
		return fmt.Errorf("collection timeout must be positive")
	}
	if c.Collection.RefreshInterval != 0 && c.Collection.RefreshInterval < time.Minute {
		return fmt.Errorf("refresh interval must be 0 or at least 1 minute")
	}

	if c.Map.Zoom < 0 || c.Map.Zoom > 24 {
		return fmt.Errorf("invalid map zoom: %v", c.Map.Zoom)
	}
	if !c.Map.Bounds.Contains(c.Map.Center) {
		return fmt.Errorf("map center %v outside bounds %v", c.Map.Center, c.Map.Bounds)
	}

	if c.Icons.Size < 8 || c.Icons.Size > 512 {
		return fmt.Errorf("invalid icon size: %d", c.Icons.Size)
	}
	if c.Icons.Workers < 1 {
		return fmt.Errorf("icon workers must be at least 1")
	}

	if c.Popup.Debounce < 0 {
		return fmt.Errorf("popup debounce must not be negative")
	}
	if _, err := time.LoadLocation(c.Popup.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Popup.Timezone, err)
	}

	return nil
}

// Location resolves the popup time zone. Load has already validated it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Popup.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func parseFloats(s string, n int) ([]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, fmt.Errorf("expected %d comma separated numbers, got %q", n, s)
	}
	out := make([]float64, n)
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}

// parsePoint reads "lng,lat".
func parsePoint(s string) (orb.Point, error) {
	v, err := parseFloats(s, 2)
	if err != nil {
		return orb.Point{}, err
	}
	return orb.Point{v[0], v[1]}, nil
}

// parseBound reads "minLng,minLat,maxLng,maxLat".
func parseBound(s string) (orb.Bound, error) {
	v, err := parseFloats(s, 4)
	if err != nil {
		return orb.Bound{}, err
	}
	if v[0] >= v[2] || v[1] >= v[3] {
		return orb.Bound{}, fmt.Errorf("min corner must be south-west of max corner: %q", s)
	}
	return orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}
