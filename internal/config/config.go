package config

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/alfredjeanlab/beacon/internal/broker"
)

type Config struct {
	DatabaseURL string // BEACON_DATABASE_URL (optional, empty = in-memory store)
	HTTPAddr    string // BEACON_HTTP_ADDR (default ":8989")

	// Broker settings
	Backend         broker.Kind   // BEACON_BACKEND (default "topic-exchange")
	BackendHost     string        // BEACON_BACKEND_HOST (default "localhost")
	BackendPort     int           // BEACON_BACKEND_PORT (default per backend)
	BackendUsername string        // BEACON_BACKEND_USERNAME
	BackendPassword string        // BEACON_BACKEND_PASSWORD
	BackendVHost    string        // BEACON_BACKEND_VHOST (default "beacon")
	BackendDB       int           // BEACON_BACKEND_DB (default 0)
	BackendQueue    string        // BEACON_BACKEND_QUEUE (optional, empty = fan-out)
	PollInterval    time.Duration // BEACON_POLL_INTERVAL (default 10ms)
	ReconnectWait   time.Duration // BEACON_RECONNECT_WAIT (default 5s)

	// Listeners maps event types to listener kinds. Entries come from
	// BEACON_LISTENERS_FILE, then BEACON_LISTENERS ("type=kind,...").
	Listeners     map[string]string
	ListenersFile string

	StoreDays        int     // BEACON_STORE_DAYS (default 7)
	ProgressThrottle float64 // BEACON_PROGRESS_THROTTLE (default 0.1)
	Workers          int     // BEACON_WORKERS (default NumCPU)
	PublishLanes     int     // BEACON_PUBLISH_LANES (default NumCPU; 0 = synchronous publish)

	// Retention settings
	PurgeSchedule     string // BEACON_PURGE_SCHEDULE (default "0 3 * * *"; empty = disabled)
	ArchiveS3Bucket   string // BEACON_ARCHIVE_S3_BUCKET (enables S3 when set)
	ArchiveS3Endpoint string // BEACON_ARCHIVE_S3_ENDPOINT (custom endpoint for MinIO)
	ArchiveS3Region   string // BEACON_ARCHIVE_S3_REGION (default "us-east-1")
	ArchiveS3Key      string // BEACON_ARCHIVE_S3_KEY (default "beacon/archive.jsonl")
	ArchiveGitRepo    string // BEACON_ARCHIVE_GIT_REPO (enables git when set; path to clone)
	ArchiveGitFile    string // BEACON_ARCHIVE_GIT_FILE (default "events.jsonl")
	ArchiveGitBranch  string // BEACON_ARCHIVE_GIT_BRANCH (default "main")

	AllowedOrigins []string // BEACON_ALLOWED_ORIGINS (comma-separated, default "http://localhost:3000")
}

// listenersFile is the shape of BEACON_LISTENERS_FILE.
type listenersFile struct {
	Listeners map[string]string `toml:"listeners"`
}

func Load() (*Config, error) {
	c := &Config{
		DatabaseURL:       os.Getenv("BEACON_DATABASE_URL"),
		HTTPAddr:          envOrDefault("BEACON_HTTP_ADDR", ":8989"),
		BackendHost:       envOrDefault("BEACON_BACKEND_HOST", "localhost"),
		BackendUsername:   os.Getenv("BEACON_BACKEND_USERNAME"),
		BackendPassword:   os.Getenv("BEACON_BACKEND_PASSWORD"),
		BackendVHost:      envOrDefault("BEACON_BACKEND_VHOST", broker.DefaultExchange),
		BackendQueue:      os.Getenv("BEACON_BACKEND_QUEUE"),
		ListenersFile:     os.Getenv("BEACON_LISTENERS_FILE"),
		PurgeSchedule:     envOrDefault("BEACON_PURGE_SCHEDULE", "0 3 * * *"),
		ArchiveS3Bucket:   os.Getenv("BEACON_ARCHIVE_S3_BUCKET"),
		ArchiveS3Endpoint: os.Getenv("BEACON_ARCHIVE_S3_ENDPOINT"),
		ArchiveS3Region:   envOrDefault("BEACON_ARCHIVE_S3_REGION", "us-east-1"),
		ArchiveS3Key:      envOrDefault("BEACON_ARCHIVE_S3_KEY", "beacon/archive.jsonl"),
		ArchiveGitRepo:    os.Getenv("BEACON_ARCHIVE_GIT_REPO"),
		ArchiveGitFile:    envOrDefault("BEACON_ARCHIVE_GIT_FILE", "events.jsonl"),
		ArchiveGitBranch:  envOrDefault("BEACON_ARCHIVE_GIT_BRANCH", "main"),
		AllowedOrigins:    splitList(envOrDefault("BEACON_ALLOWED_ORIGINS", "http://localhost:3000")),
	}
	// An explicitly empty schedule disables the sweep.
	if v, ok := os.LookupEnv("BEACON_PURGE_SCHEDULE"); ok && strings.TrimSpace(v) == "" {
		c.PurgeSchedule = ""
	}

	kind, err := broker.ParseKind(envOrDefault("BEACON_BACKEND", string(broker.KindTopicExchange)))
	if err != nil {
		return nil, fmt.Errorf("BEACON_BACKEND: %w", err)
	}
	c.Backend = kind

	for _, v := range []struct {
		key      string
		fallback int
		dst      *int
	}{
		{"BEACON_BACKEND_PORT", 0, &c.BackendPort},
		{"BEACON_BACKEND_DB", 0, &c.BackendDB},
		{"BEACON_STORE_DAYS", 7, &c.StoreDays},
		{"BEACON_WORKERS", runtime.NumCPU(), &c.Workers},
		{"BEACON_PUBLISH_LANES", runtime.NumCPU(), &c.PublishLanes},
	} {
		n, err := envInt(v.key, v.fallback)
		if err != nil {
			return nil, err
		}
		*v.dst = n
	}
	if c.StoreDays < 1 {
		return nil, fmt.Errorf("BEACON_STORE_DAYS must be positive, got %d", c.StoreDays)
	}

	for _, v := range []struct {
		key      string
		fallback string
		dst      *time.Duration
	}{
		{"BEACON_POLL_INTERVAL", "10ms", &c.PollInterval},
		{"BEACON_RECONNECT_WAIT", "5s", &c.ReconnectWait},
	} {
		d, err := time.ParseDuration(envOrDefault(v.key, v.fallback))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", v.key, err)
		}
		*v.dst = d
	}

	throttle, err := strconv.ParseFloat(envOrDefault("BEACON_PROGRESS_THROTTLE", "0.1"), 64)
	if err != nil {
		return nil, fmt.Errorf("BEACON_PROGRESS_THROTTLE: %w", err)
	}
	if throttle <= 0 {
		return nil, fmt.Errorf("BEACON_PROGRESS_THROTTLE must be positive, got %v", throttle)
	}
	c.ProgressThrottle = throttle

	c.Listeners = make(map[string]string)
	if c.ListenersFile != "" {
		var lf listenersFile
		if _, err := toml.DecodeFile(c.ListenersFile, &lf); err != nil {
			return nil, fmt.Errorf("BEACON_LISTENERS_FILE: %w", err)
		}
		for k, v := range lf.Listeners {
			c.Listeners[k] = v
		}
	}
	for _, pair := range splitList(os.Getenv("BEACON_LISTENERS")) {
		eventType, kind, ok := strings.Cut(pair, "=")
		if !ok || eventType == "" || kind == "" {
			return nil, fmt.Errorf("BEACON_LISTENERS: malformed entry %q (want type=kind)", pair)
		}
		c.Listeners[strings.TrimSpace(eventType)] = strings.TrimSpace(kind)
	}

	return c, nil
}

// BrokerOptions returns the connection options for the configured backend.
func (c *Config) BrokerOptions(logger *slog.Logger) broker.Options {
	return broker.Options{
		Host:          c.BackendHost,
		Port:          c.BackendPort,
		Username:      c.BackendUsername,
		Password:      c.BackendPassword,
		VirtualHost:   c.BackendVHost,
		DB:            c.BackendDB,
		QueueGroup:    c.BackendQueue,
		PollInterval:  c.PollInterval,
		ReconnectWait: c.ReconnectWait,
		Logger:        logger,
	}
}

// Retention is how long viewed, completed events are kept.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.StoreDays) * 24 * time.Hour
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
