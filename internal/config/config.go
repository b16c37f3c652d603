package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultAddr is the default TCP address the chat service listens on.
	DefaultAddr = ":43180"
	// DefaultPingInterval is the base period between heartbeat pings.
	DefaultPingInterval = 30 * time.Second
	// DefaultPingJitter bounds the uniform jitter added to each heartbeat interval.
	DefaultPingJitter = 5 * time.Second
	// DefaultMaxFrameBytes limits inbound chat frame size.
	DefaultMaxFrameBytes int64 = 64 << 10

	// DefaultLogLevel controls verbosity for chat service logs.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "chatservice.log"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 10
	// DefaultLogMaxAgeDays controls how long rotated log files are kept on disk.
	DefaultLogMaxAgeDays = 7
	// DefaultLogCompress toggles gzip compression for rotated log files.
	DefaultLogCompress = true
)

// Config captures all runtime tunables for the chat fan-out service.
type Config struct {
	Address        string
	AllowedOrigins []string
	PingInterval   time.Duration
	PingJitter     time.Duration
	MaxFrameBytes  int64
	NotifyToken    string
	TLSCertPath    string
	TLSKeyPath     string
	Logging        LoggingConfig
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Load reads the chat service configuration from environment variables, applying
// sane defaults and returning descriptive errors for invalid overrides.
func Load() (*Config, error) {
	cfg := &Config{
		Address:        getString("CHAT_ADDR", DefaultAddr),
		AllowedOrigins: parseList(os.Getenv("CHAT_ALLOWED_ORIGINS")),
		PingInterval:   DefaultPingInterval,
		PingJitter:     DefaultPingJitter,
		MaxFrameBytes:  DefaultMaxFrameBytes,
		NotifyToken:    strings.TrimSpace(os.Getenv("CHAT_NOTIFY_TOKEN")),
		TLSCertPath:    strings.TrimSpace(os.Getenv("CHAT_TLS_CERT")),
		TLSKeyPath:     strings.TrimSpace(os.Getenv("CHAT_TLS_KEY")),
		Logging: LoggingConfig{
			Level:      strings.TrimSpace(getString("CHAT_LOG_LEVEL", DefaultLogLevel)),
			Path:       strings.TrimSpace(getString("CHAT_LOG_PATH", DefaultLogPath)),
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
			Compress:   DefaultLogCompress,
		},
	}

	var problems []string

	if raw := strings.TrimSpace(os.Getenv("CHAT_PING_INTERVAL")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("CHAT_PING_INTERVAL must be a positive duration, got %q", raw))
		} else {
			cfg.PingInterval = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("CHAT_PING_JITTER")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration < 0 {
			problems = append(problems, fmt.Sprintf("CHAT_PING_JITTER must be a non-negative duration, got %q", raw))
		} else {
			cfg.PingJitter = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("CHAT_MAX_FRAME_BYTES")); raw != "" {
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("CHAT_MAX_FRAME_BYTES must be a positive integer, got %q", raw))
		} else {
			cfg.MaxFrameBytes = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("CHAT_LOG_MAX_SIZE_MB")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("CHAT_LOG_MAX_SIZE_MB must be a positive integer, got %q", raw))
		} else {
			cfg.Logging.MaxSizeMB = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("CHAT_LOG_MAX_BACKUPS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("CHAT_LOG_MAX_BACKUPS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxBackups = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("CHAT_LOG_MAX_AGE_DAYS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("CHAT_LOG_MAX_AGE_DAYS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxAgeDays = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("CHAT_LOG_COMPRESS")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("CHAT_LOG_COMPRESS must be a boolean value, got %q", raw))
		} else {
			cfg.Logging.Compress = value
		}
	}

	if (cfg.TLSCertPath == "") != (cfg.TLSKeyPath == "") {
		problems = append(problems, "CHAT_TLS_CERT and CHAT_TLS_KEY must be provided together")
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("%s", strings.Join(problems, "; "))
	}

	return cfg, nil
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if item := strings.TrimSpace(part); item != "" {
			values = append(values, item)
		}
	}
	return values
}
