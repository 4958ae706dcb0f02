// Package config loads rpcctl and instrumentd settings from TOML or YAML files.
//
// Every key is optional; values present in the file override Default(). Durations
// are strings in time.ParseDuration form ("100ms", "5s").
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"instrument-rpc/logging"
	"instrument-rpc/registry"
	"instrument-rpc/transport"
)

type Config struct {
	Client    ClientConfig
	Server    ServerConfig
	Registry  RegistryConfig
	Retry     RetryConfig
	RateLimit RateLimitConfig
	Log       logging.Config
}

type ClientConfig struct {
	Address          string
	Service          string
	DialTimeout      time.Duration
	IdleTimeout      time.Duration
	FrameTimeout     time.Duration
	WriteTimeout     time.Duration
	MaxAttempts      int
	PollInterval     time.Duration
	WaitStallRetries int
}

type ServerConfig struct {
	Listen    string
	Advertise string
	Service   string
	// HeartbeatSchedule is a cron spec for the heartbeat notification; empty disables it.
	HeartbeatSchedule string
	TTL               int64
}

type RegistryConfig struct {
	Kind        string // "static" or "etcd"
	Endpoints   []string
	Instances   []registry.ServiceInstance
	Balancer    string
	AffinityKey string
}

type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// RateLimitConfig limits outgoing calls per second; Rate 0 disables limiting.
type RateLimitConfig struct {
	Rate  float64
	Burst int
}

// scheduleParser accepts five-field cron specs and descriptors such as "@every 10s".
var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Schedule parses the heartbeat schedule.
func (s ServerConfig) Schedule() (cron.Schedule, error) {
	return scheduleParser.Parse(s.HeartbeatSchedule)
}

func Default() Config {
	tc := transport.DefaultConfig()
	return Config{
		Client: ClientConfig{
			Address:          "127.0.0.1:5000",
			DialTimeout:      tc.DialTimeout,
			IdleTimeout:      tc.IdleTimeout,
			FrameTimeout:     tc.FrameTimeout,
			WriteTimeout:     tc.WriteTimeout,
			MaxAttempts:      50,
			PollInterval:     500 * time.Millisecond,
			WaitStallRetries: 3,
		},
		Server: ServerConfig{
			Listen:            "127.0.0.1:5000",
			Service:           "instrument",
			HeartbeatSchedule: "@every 10s",
			TTL:               10,
		},
		Registry: RegistryConfig{
			Kind:     "static",
			Balancer: "round_robin",
		},
		Retry: RetryConfig{
			MaxRetries: 0,
			BaseDelay:  200 * time.Millisecond,
		},
		Log: logging.DefaultConfig(),
	}
}

// Transport converts the client section to a transport.Config.
func (c ClientConfig) Transport() transport.Config {
	tc := transport.DefaultConfig()
	tc.DialTimeout = c.DialTimeout
	tc.IdleTimeout = c.IdleTimeout
	tc.FrameTimeout = c.FrameTimeout
	tc.WriteTimeout = c.WriteTimeout
	return tc
}

// Load reads path, choosing the decoder by extension (.toml, .yaml, .yml).
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	var format string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		format = "toml"
	case ".yaml", ".yml":
		format = "yaml"
	default:
		return Config{}, fmt.Errorf("load config: unsupported extension %q", filepath.Ext(path))
	}
	cfg, err := Parse(data, format)
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data in the given format over Default() and validates the result.
func Parse(data []byte, format string) (Config, error) {
	var raw fileConfig
	switch format {
	case "toml":
		meta, err := toml.Decode(string(data), &raw)
		if err != nil {
			return Config{}, err
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return Config{}, fmt.Errorf("unknown key %q", undecoded[0].String())
		}
	case "yaml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, err
		}
	default:
		return Config{}, fmt.Errorf("unknown format %q", format)
	}

	cfg := Default()
	if err := raw.apply(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges and enumerations.
func (c Config) Validate() error {
	var errs []error
	if c.Client.Address == "" && c.Client.Service == "" {
		errs = append(errs, errors.New("client: address or service is required"))
	}
	for name, d := range map[string]time.Duration{
		"dial_timeout":  c.Client.DialTimeout,
		"idle_timeout":  c.Client.IdleTimeout,
		"frame_timeout": c.Client.FrameTimeout,
		"write_timeout": c.Client.WriteTimeout,
		"poll_interval": c.Client.PollInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("client: %s must be positive", name))
		}
	}
	if c.Client.MaxAttempts < 1 {
		errs = append(errs, errors.New("client: max_attempts must be at least 1"))
	}
	if c.Client.WaitStallRetries < 0 {
		errs = append(errs, errors.New("client: wait_stall_retries must not be negative"))
	}
	switch c.Registry.Kind {
	case "static":
	case "etcd":
		if len(c.Registry.Endpoints) == 0 {
			errs = append(errs, errors.New("registry: etcd needs endpoints"))
		}
	default:
		errs = append(errs, fmt.Errorf("registry: unknown kind %q", c.Registry.Kind))
	}
	switch c.Registry.Balancer {
	case "round_robin", "weighted_random", "consistent_hash":
	default:
		errs = append(errs, fmt.Errorf("registry: unknown balancer %q", c.Registry.Balancer))
	}
	if c.Retry.MaxRetries < 0 || c.Retry.BaseDelay < 0 {
		errs = append(errs, errors.New("retry: values must not be negative"))
	}
	if c.RateLimit.Rate < 0 || (c.RateLimit.Rate > 0 && c.RateLimit.Burst < 1) {
		errs = append(errs, errors.New("rate_limit: rate must be >= 0 and burst >= 1 when enabled"))
	}
	if c.Server.HeartbeatSchedule != "" {
		if _, err := scheduleParser.Parse(c.Server.HeartbeatSchedule); err != nil {
			errs = append(errs, fmt.Errorf("server: heartbeat_schedule: %w", err))
		}
	}
	if !logging.ValidLevel(c.Log.Level) {
		errs = append(errs, fmt.Errorf("log: unknown level %q", c.Log.Level))
	}
	return errors.Join(errs...)
}
