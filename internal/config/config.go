/*
Copyright (C) 2026 Tidecast Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// CatalogBackend selects the relational catalog driver.
type CatalogBackend string

const (
	CatalogPostgres CatalogBackend = "postgres"
	CatalogMySQL    CatalogBackend = "mysql"
	CatalogSQLite   CatalogBackend = "sqlite"
)

// EventBusBackend selects the event transport.
type EventBusBackend string

const (
	EventBusState EventBusBackend = "state"
	EventBusNATS  EventBusBackend = "nats"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	MetricsBind string

	// Authentication
	AdminAPITokens   []string // comma-separated admin bearer strings
	InternalAPIToken string   // bearer used by mixer callbacks
	JWTSecret        string   // HS256 signing key

	// Stores
	StateStoreURL  string // redis://host:port/db; empty selects the in-process store
	CatalogBackend CatalogBackend
	CatalogDSN     string

	// Mixer access
	UserQueueAddr     string // queue-playback control socket, user queue
	FallbackQueueAddr string // queue-playback control socket, fallback queue
	MixerTelnetAddr   string // telnet-style command channel for forced disconnect
	MixerHarborID     string // harbor input id addressed by the stop command
	CaptureURL        string // readable capture of the final mixer output

	// Tuning constants
	MaxSongDuration  time.Duration
	MaxFileSize      int64
	DupWindow        int
	WatchdogInterval time.Duration
	PollInterval     time.Duration
	DownloadTimeout  time.Duration

	// Filesystem layout
	RecordingsDir string
	MusicDir      string

	// Event bus
	EventBus EventBusBackend
	NATSURL  string

	// Optional S3 archive for persisted recordings
	S3Bucket          string
	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3UsePathStyle    bool

	// Webhook dispatcher replication. Partitioning is off by default:
	// one dispatcher owns every subscription.
	WebhookPartitionCount int
	WebhookPartitionIndex int
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnvAny([]string{"TIDECAST_ENV", "ENVIRONMENT"}, "development"),
		HTTPBind:    getEnvAny([]string{"TIDECAST_HTTP_BIND", "HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:    getEnvIntAny([]string{"TIDECAST_HTTP_PORT", "HTTP_PORT"}, 8000),
		MetricsBind: getEnvAny([]string{"TIDECAST_METRICS_BIND", "METRICS_BIND"}, "127.0.0.1:9000"),

		AdminAPITokens:   splitTokens(getEnvAny([]string{"TIDECAST_ADMIN_API_TOKEN", "ADMIN_API_TOKEN"}, "")),
		InternalAPIToken: getEnvAny([]string{"TIDECAST_INTERNAL_API_TOKEN", "INTERNAL_API_TOKEN"}, ""),
		JWTSecret:        getEnvAny([]string{"TIDECAST_JWT_SECRET", "JWT_SECRET"}, ""),

		StateStoreURL: getEnvAny([]string{"TIDECAST_STATE_STORE_URL", "STATE_STORE_URL"}, ""),
		CatalogDSN:    getEnvAny([]string{"TIDECAST_CATALOG_STORE_URL", "CATALOG_STORE_URL"}, "tidecast.db"),
		CatalogBackend: CatalogBackend(getEnvAny(
			[]string{"TIDECAST_CATALOG_BACKEND", "CATALOG_BACKEND"}, string(CatalogSQLite))),

		UserQueueAddr:     getEnvAny([]string{"TIDECAST_USER_QUEUE_ADDR", "USER_QUEUE_ADDR"}, "localhost:6600"),
		FallbackQueueAddr: getEnvAny([]string{"TIDECAST_FALLBACK_QUEUE_ADDR", "FALLBACK_QUEUE_ADDR"}, "localhost:6601"),
		MixerTelnetAddr:   getEnvAny([]string{"TIDECAST_MIXER_TELNET_ADDR", "MIXER_TELNET_ADDR"}, "localhost:1234"),
		MixerHarborID:     getEnvAny([]string{"TIDECAST_MIXER_HARBOR_ID", "MIXER_HARBOR_ID"}, "live"),
		CaptureURL:        getEnvAny([]string{"TIDECAST_CAPTURE_URL", "CAPTURE_URL"}, "http://localhost:8001/radio"),

		MaxSongDuration:  time.Duration(getEnvIntAny([]string{"TIDECAST_MAX_SONG_DURATION", "MAX_SONG_DURATION"}, 1800)) * time.Second,
		MaxFileSize:      int64(getEnvIntAny([]string{"TIDECAST_MAX_FILE_SIZE", "MAX_FILE_SIZE"}, 50*1024*1024)),
		DupWindow:        getEnvIntAny([]string{"TIDECAST_DUP_WINDOW", "DUP_WINDOW"}, 5),
		WatchdogInterval: time.Duration(getEnvIntAny([]string{"TIDECAST_WATCHDOG_INTERVAL", "WATCHDOG_INTERVAL"}, 10)) * time.Second,
		PollInterval:     time.Duration(getEnvIntAny([]string{"TIDECAST_POLL_INTERVAL", "POLL_INTERVAL"}, 1)) * time.Second,
		DownloadTimeout:  time.Duration(getEnvIntAny([]string{"TIDECAST_DOWNLOAD_TIMEOUT", "DOWNLOAD_TIMEOUT"}, 120)) * time.Second,

		RecordingsDir: getEnvAny([]string{"TIDECAST_RECORDINGS_DIR", "RECORDINGS_DIR"}, "./data/recordings"),
		MusicDir:      getEnvAny([]string{"TIDECAST_MUSIC_DIR", "MUSIC_DIR"}, "./data/music"),

		EventBus: EventBusBackend(getEnvAny([]string{"TIDECAST_EVENT_BUS", "EVENT_BUS"}, string(EventBusState))),
		NATSURL:  getEnvAny([]string{"TIDECAST_NATS_URL", "NATS_URL"}, "nats://localhost:4222"),

		S3Bucket:          getEnvAny([]string{"TIDECAST_S3_BUCKET", "S3_BUCKET"}, ""),
		S3Region:          getEnvAny([]string{"TIDECAST_S3_REGION", "AWS_REGION"}, "us-east-1"),
		S3Endpoint:        getEnvAny([]string{"TIDECAST_S3_ENDPOINT", "S3_ENDPOINT"}, ""),
		S3AccessKeyID:     getEnvAny([]string{"TIDECAST_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}, ""),
		S3SecretAccessKey: getEnvAny([]string{"TIDECAST_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}, ""),
		S3UsePathStyle:    getEnvBoolAny([]string{"TIDECAST_S3_USE_PATH_STYLE", "S3_USE_PATH_STYLE"}, false),

		WebhookPartitionCount: getEnvIntAny([]string{"TIDECAST_WEBHOOK_PARTITION_COUNT", "WEBHOOK_PARTITION_COUNT"}, 1),
		WebhookPartitionIndex: getEnvIntAny([]string{"TIDECAST_WEBHOOK_PARTITION_INDEX", "WEBHOOK_PARTITION_INDEX"}, 0),
	}

	if cfg.CatalogBackend != CatalogPostgres && cfg.CatalogBackend != CatalogMySQL && cfg.CatalogBackend != CatalogSQLite {
		return nil, fmt.Errorf("unsupported catalog backend %q", cfg.CatalogBackend)
	}

	if cfg.EventBus != EventBusState && cfg.EventBus != EventBusNATS {
		return nil, fmt.Errorf("unsupported event bus backend %q", cfg.EventBus)
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET must be provided")
	}

	if strings.EqualFold(cfg.Environment, "production") {
		if len(cfg.AdminAPITokens) == 0 {
			return nil, fmt.Errorf("ADMIN_API_TOKEN must be set in production")
		}
		if cfg.InternalAPIToken == "" {
			return nil, fmt.Errorf("INTERNAL_API_TOKEN must be set in production")
		}
	}

	if cfg.WebhookPartitionCount < 1 {
		return nil, fmt.Errorf("WEBHOOK_PARTITION_COUNT must be at least 1")
	}
	if cfg.WebhookPartitionIndex < 0 || cfg.WebhookPartitionIndex >= cfg.WebhookPartitionCount {
		return nil, fmt.Errorf("WEBHOOK_PARTITION_INDEX %d out of range for %d partitions",
			cfg.WebhookPartitionIndex, cfg.WebhookPartitionCount)
	}

	return cfg, nil
}

func splitTokens(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	tokens := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}
