package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	GRPC     GRPCConfig
	Remote   RemoteConfig
	Realtime RealtimeConfig
	Sync     SyncConfig
	DB       DatabaseConfig
	Cache    CacheConfig
	Geofence GeofenceConfig
	Geocode  GeocodeConfig
	Notify   NotifyConfig
	Worker   WorkerConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Host      string
	Port      int
	RateLimit float64 // requests per second, global
}

type GRPCConfig struct {
	Port int
}

type RemoteConfig struct {
	BaseURL   string
	AuthToken string
	Timeout   time.Duration
}

type RealtimeConfig struct {
	Enabled     bool
	URL         string
	Backoff     time.Duration
	MaxAttempts int
}

type SyncConfig struct {
	FetchTimeout    time.Duration
	RefreshInterval time.Duration // 0 disables periodic refresh
	PruneMissing    bool
}

type DatabaseConfig struct {
	Path string
}

type CacheConfig struct {
	MaxAge         time.Duration
	PruneOnStartup bool
}

type GeofenceConfig struct {
	IncludeBoundary bool
}

type GeocodeConfig struct {
	MapboxToken string
	Language    string
	Timeout     time.Duration
	CacheSize   int
	RedisAddr   string
	RedisTTL    time.Duration
}

// Enabled reports whether reverse geocoding is configured.
func (g GeocodeConfig) Enabled() bool { return g.MapboxToken != "" }

type NotifyConfig struct {
	KafkaBrokers []string
	KafkaTopic   string
	MQTTBroker   string
	MQTTTopic    string
	MQTTClientID string
}

type WorkerConfig struct {
	BufferSize int
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:      getEnv("SERVER_HOST", "localhost"),
			Port:      getEnvInt("SERVER_PORT", 8080),
			RateLimit: getEnvFloat("SERVER_RATE_LIMIT", 20),
		},
		GRPC: GRPCConfig{
			Port: getEnvInt("GRPC_PORT", 50051),
		},
		Remote: RemoteConfig{
			BaseURL:   getEnv("REMOTE_BASE_URL", "http://localhost:3000/api"),
			AuthToken: getEnv("REMOTE_AUTH_TOKEN", ""),
			Timeout:   getEnvDuration("REMOTE_TIMEOUT", 15*time.Second),
		},
		Realtime: RealtimeConfig{
			Enabled:     getEnvBool("REALTIME_ENABLED", true),
			URL:         getEnv("REALTIME_URL", "ws://localhost:3000/ws/risk-zones"),
			Backoff:     getEnvDuration("REALTIME_BACKOFF", 5*time.Second),
			MaxAttempts: getEnvInt("REALTIME_MAX_ATTEMPTS", 3),
		},
		Sync: SyncConfig{
			FetchTimeout:    getEnvDuration("SYNC_FETCH_TIMEOUT", 10*time.Second),
			RefreshInterval: getEnvDuration("SYNC_REFRESH_INTERVAL", 0),
			PruneMissing:    getEnvBool("SYNC_PRUNE_MISSING", true),
		},
		DB: DatabaseConfig{
			Path: getEnv("DB_PATH", "./data/hazard-watch.db"),
		},
		Cache: CacheConfig{
			MaxAge:         getEnvDuration("CACHE_MAX_AGE", 720*time.Hour),
			PruneOnStartup: getEnvBool("CACHE_PRUNE_ON_STARTUP", false),
		},
		Geofence: GeofenceConfig{
			IncludeBoundary: getEnvBool("GEOFENCE_INCLUDE_BOUNDARY", false),
		},
		Geocode: GeocodeConfig{
			MapboxToken: getEnv("MAPBOX_TOKEN", ""),
			Language:    getEnv("GEOCODE_LANGUAGE", "es"),
			Timeout:     getEnvDuration("GEOCODE_TIMEOUT", 5*time.Second),
			CacheSize:   getEnvInt("GEOCODE_CACHE_SIZE", 1000),
			RedisAddr:   getEnv("GEOCODE_REDIS_ADDR", ""),
			RedisTTL:    getEnvDuration("GEOCODE_REDIS_TTL", 24*time.Hour),
		},
		Notify: NotifyConfig{
			KafkaBrokers: getEnvList("NOTIFY_KAFKA_BROKERS"),
			KafkaTopic:   getEnv("NOTIFY_KAFKA_TOPIC", "banner-transitions"),
			MQTTBroker:   getEnv("NOTIFY_MQTT_BROKER", ""),
			MQTTTopic:    getEnv("NOTIFY_MQTT_TOPIC", "hazard-watch/banner"),
			MQTTClientID: getEnv("NOTIFY_MQTT_CLIENT_ID", "hazard-watch"),
		},
		Worker: WorkerConfig{
			BufferSize: getEnvInt("WORKER_BUFFER_SIZE", 64),
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
	if c.GRPC.Port < 1 || c.GRPC.Port > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPC.Port)
	}
	if c.Server.RateLimit <= 0 {
		return fmt.Errorf("server rate limit must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	if c.Remote.BaseURL == "" {
		return fmt.Errorf("remote base URL is required")
	}
	if c.Remote.Timeout <= 0 {
		return fmt.Errorf("remote timeout must be positive")
	}

	if c.Realtime.Enabled && c.Realtime.URL == "" {
		return fmt.Errorf("realtime URL is required when realtime is enabled")
	}
	if c.Realtime.Backoff <= 0 {
		return fmt.Errorf("realtime backoff must be positive")
	}
	if c.Realtime.MaxAttempts < 1 {
		return fmt.Errorf("realtime max attempts must be at least 1")
	}

	if c.Sync.FetchTimeout <= 0 {
		return fmt.Errorf("sync fetch timeout must be positive")
	}
	if c.Sync.RefreshInterval < 0 {
		return fmt.Errorf("sync refresh interval cannot be negative")
	}
	if c.Sync.RefreshInterval > 0 && c.Sync.RefreshInterval < time.Minute {
		return fmt.Errorf("sync refresh interval must be at least 1 minute")
	}

	if c.Cache.MaxAge <= 0 {
		return fmt.Errorf("cache max age must be positive")
	}
	if c.Geocode.CacheSize < 1 {
		return fmt.Errorf("geocode cache size must be at least 1")
	}
	if c.Worker.BufferSize < 1 {
		return fmt.Errorf("worker buffer size must be at least 1")
	}

	return nil
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

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
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

// getEnvList splits a comma-separated value, dropping empty items.
func getEnvList(key string) []string {
	var out []string
	for _, s := range strings.Split(os.Getenv(key), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
