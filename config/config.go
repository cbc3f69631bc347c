// Package config loads the server configuration: defaults, then a TOML file,
// then command-line overrides applied by the caller.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

var ErrInvalid = errors.New("config: invalid")

type Config struct {
	Host string
	Port int

	// WorkerNum is accepted for compatibility; I/O goroutines are scheduled
	// by the runtime, one per connection.
	WorkerNum        int
	TaskWorkerNum    int
	TaskQueueSize    int
	PackageMaxLength uint32

	PIDFile   string
	Daemonize bool

	LogLevel  string
	LogFormat string // "console" or "json"

	MetricsAddr     string // empty disables the metrics listener
	ShutdownTimeout time.Duration

	Registry  RegistryConfig
	RateLimit RateLimitConfig
}

// RegistryConfig enables etcd self-registration when Endpoints is set.
type RegistryConfig struct {
	Endpoints []string
	Service   string
	Advertise string // defaults to the listen address
	TTL       int64  // seconds
}

// RateLimitConfig is a token bucket; Rate 0 disables limiting.
type RateLimitConfig struct {
	Rate  float64
	Burst int
}

func Default() Config {
	return Config{
		Host:             "0.0.0.0",
		Port:             9501,
		WorkerNum:        4,
		TaskWorkerNum:    4,
		TaskQueueSize:    1024,
		PackageMaxLength: 2 * 1024 * 1024,
		PIDFile:          "yar-server.pid",
		LogLevel:         "info",
		LogFormat:        "console",
		ShutdownTimeout:  10 * time.Second,
		Registry: RegistryConfig{
			Service: "yar",
			TTL:     10,
		},
	}
}

// Addr is the listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// AdvertiseAddr is what gets published to the registry.
func (c Config) AdvertiseAddr() string {
	if c.Registry.Advertise != "" {
		return c.Registry.Advertise
	}
	return c.Addr()
}

func (c Config) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("%w: port %d", ErrInvalid, c.Port)
	case c.TaskWorkerNum <= 0:
		return fmt.Errorf("%w: task_worker_num must be positive", ErrInvalid)
	case c.TaskQueueSize <= 0:
		return fmt.Errorf("%w: task_queue_size must be positive", ErrInvalid)
	case c.PackageMaxLength < 8:
		return fmt.Errorf("%w: package_max_length must be at least 8", ErrInvalid)
	case c.LogFormat != "console" && c.LogFormat != "json":
		return fmt.Errorf("%w: log_format %q", ErrInvalid, c.LogFormat)
	case c.RateLimit.Rate < 0:
		return fmt.Errorf("%w: rate_limit.rate must not be negative", ErrInvalid)
	case c.RateLimit.Rate > 0 && c.RateLimit.Burst <= 0:
		return fmt.Errorf("%w: rate_limit.burst must be positive", ErrInvalid)
	case len(c.Registry.Endpoints) > 0 && c.Registry.Service == "":
		return fmt.Errorf("%w: registry.service is required", ErrInvalid)
	}
	return nil
}

type fileConfig struct {
	Host             string `toml:"host"`
	Port             int    `toml:"port"`
	WorkerNum        int    `toml:"worker_num"`
	TaskWorkerNum    int    `toml:"task_worker_num"`
	TaskQueueSize    int    `toml:"task_queue_size"`
	PackageMaxLength uint32 `toml:"package_max_length"`
	PIDFile          string `toml:"pid_file"`
	Daemonize        bool   `toml:"daemonize"`
	LogLevel         string `toml:"log_level"`
	LogFormat        string `toml:"log_format"`
	MetricsAddr      string `toml:"metrics_addr"`
	ShutdownTimeout  string `toml:"shutdown_timeout"`

	Registry struct {
		Endpoints []string `toml:"endpoints"`
		Service   string   `toml:"service"`
		Advertise string   `toml:"advertise"`
		TTL       int64    `toml:"ttl"`
	} `toml:"registry"`

	RateLimit struct {
		Rate  float64 `toml:"rate"`
		Burst int     `toml:"burst"`
	} `toml:"rate_limit"`
}

// Load reads path over Default. Keys absent from the file keep their
// defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := apply(&cfg, raw, meta); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse is Load for an in-memory document.
func Parse(data string) (Config, error) {
	cfg := Default()
	var raw fileConfig
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := apply(&cfg, raw, meta); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func apply(cfg *Config, raw fileConfig, meta toml.MetaData) error {
	if meta.IsDefined("host") {
		cfg.Host = strings.TrimSpace(raw.Host)
	}
	if meta.IsDefined("port") {
		cfg.Port = raw.Port
	}
	if meta.IsDefined("worker_num") {
		cfg.WorkerNum = raw.WorkerNum
	}
	if meta.IsDefined("task_worker_num") {
		cfg.TaskWorkerNum = raw.TaskWorkerNum
	}
	if meta.IsDefined("task_queue_size") {
		cfg.TaskQueueSize = raw.TaskQueueSize
	}
	if meta.IsDefined("package_max_length") {
		cfg.PackageMaxLength = raw.PackageMaxLength
	}
	if meta.IsDefined("pid_file") {
		cfg.PIDFile = strings.TrimSpace(raw.PIDFile)
	}
	if meta.IsDefined("daemonize") {
		cfg.Daemonize = raw.Daemonize
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("log_format") {
		cfg.LogFormat = strings.TrimSpace(raw.LogFormat)
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if meta.IsDefined("shutdown_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ShutdownTimeout))
		if err != nil {
			return fmt.Errorf("parse shutdown_timeout: %w", err)
		}
		cfg.ShutdownTimeout = d
	}

	if meta.IsDefined("registry", "endpoints") {
		cfg.Registry.Endpoints = normalizeEndpoints(raw.Registry.Endpoints)
	}
	if meta.IsDefined("registry", "service") {
		cfg.Registry.Service = strings.TrimSpace(raw.Registry.Service)
	}
	if meta.IsDefined("registry", "advertise") {
		cfg.Registry.Advertise = strings.TrimSpace(raw.Registry.Advertise)
	}
	if meta.IsDefined("registry", "ttl") {
		cfg.Registry.TTL = raw.Registry.TTL
	}

	if meta.IsDefined("rate_limit", "rate") {
		cfg.RateLimit.Rate = raw.RateLimit.Rate
	}
	if meta.IsDefined("rate_limit", "burst") {
		cfg.RateLimit.Burst = raw.RateLimit.Burst
	}
	return nil
}

func normalizeEndpoints(in []string) []string {
	out := make([]string, 0, len(in))
	for _, ep := range in {
		if v := strings.TrimSpace(ep); v != "" {
			out = append(out, v)
		}
	}
	return out
}
