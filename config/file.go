package config

import (
	"fmt"
	"strings"
	"time"

	"instrument-rpc/registry"
)

// fileConfig mirrors the on-disk layout. Pointer fields tell "absent" from "zero".
type fileConfig struct {
	Client    *fileClient    `toml:"client" yaml:"client"`
	Server    *fileServer    `toml:"server" yaml:"server"`
	Registry  *fileRegistry  `toml:"registry" yaml:"registry"`
	Retry     *fileRetry     `toml:"retry" yaml:"retry"`
	RateLimit *fileRateLimit `toml:"rate_limit" yaml:"rate_limit"`
	Log       *fileLog       `toml:"log" yaml:"log"`
}

type fileClient struct {
	Address          *string `toml:"address" yaml:"address"`
	Service          *string `toml:"service" yaml:"service"`
	DialTimeout      *string `toml:"dial_timeout" yaml:"dial_timeout"`
	IdleTimeout      *string `toml:"idle_timeout" yaml:"idle_timeout"`
	FrameTimeout     *string `toml:"frame_timeout" yaml:"frame_timeout"`
	WriteTimeout     *string `toml:"write_timeout" yaml:"write_timeout"`
	MaxAttempts      *int    `toml:"max_attempts" yaml:"max_attempts"`
	PollInterval     *string `toml:"poll_interval" yaml:"poll_interval"`
	WaitStallRetries *int    `toml:"wait_stall_retries" yaml:"wait_stall_retries"`
}

type fileServer struct {
	Listen            *string `toml:"listen" yaml:"listen"`
	Advertise         *string `toml:"advertise" yaml:"advertise"`
	Service           *string `toml:"service" yaml:"service"`
	HeartbeatSchedule *string `toml:"heartbeat_schedule" yaml:"heartbeat_schedule"`
	TTL               *int64  `toml:"ttl" yaml:"ttl"`
}

type fileRegistry struct {
	Kind        *string                    `toml:"kind" yaml:"kind"`
	Endpoints   []string                   `toml:"endpoints" yaml:"endpoints"`
	Instances   []registry.ServiceInstance `toml:"instances" yaml:"instances"`
	Balancer    *string                    `toml:"balancer" yaml:"balancer"`
	AffinityKey *string                    `toml:"affinity_key" yaml:"affinity_key"`
}

type fileRetry struct {
	MaxRetries *int    `toml:"max_retries" yaml:"max_retries"`
	BaseDelay  *string `toml:"base_delay" yaml:"base_delay"`
}

type fileRateLimit struct {
	Rate  *float64 `toml:"rate" yaml:"rate"`
	Burst *int     `toml:"burst" yaml:"burst"`
}

type fileLog struct {
	Level   *string `toml:"level" yaml:"level"`
	Format  *string `toml:"format" yaml:"format"`
	NoColor *bool   `toml:"no_color" yaml:"no_color"`
}

func (f fileConfig) apply(cfg *Config) error {
	if c := f.Client; c != nil {
		setString(&cfg.Client.Address, c.Address)
		setString(&cfg.Client.Service, c.Service)
		if err := setDuration(&cfg.Client.DialTimeout, c.DialTimeout, "client.dial_timeout"); err != nil {
			return err
		}
		if err := setDuration(&cfg.Client.IdleTimeout, c.IdleTimeout, "client.idle_timeout"); err != nil {
			return err
		}
		if err := setDuration(&cfg.Client.FrameTimeout, c.FrameTimeout, "client.frame_timeout"); err != nil {
			return err
		}
		if err := setDuration(&cfg.Client.WriteTimeout, c.WriteTimeout, "client.write_timeout"); err != nil {
			return err
		}
		if err := setDuration(&cfg.Client.PollInterval, c.PollInterval, "client.poll_interval"); err != nil {
			return err
		}
		setValue(&cfg.Client.MaxAttempts, c.MaxAttempts)
		setValue(&cfg.Client.WaitStallRetries, c.WaitStallRetries)
	}
	if s := f.Server; s != nil {
		setString(&cfg.Server.Listen, s.Listen)
		setString(&cfg.Server.Advertise, s.Advertise)
		setString(&cfg.Server.Service, s.Service)
		setString(&cfg.Server.HeartbeatSchedule, s.HeartbeatSchedule)
		setValue(&cfg.Server.TTL, s.TTL)
	}
	if r := f.Registry; r != nil {
		setString(&cfg.Registry.Kind, r.Kind)
		setString(&cfg.Registry.Balancer, r.Balancer)
		setString(&cfg.Registry.AffinityKey, r.AffinityKey)
		if r.Endpoints != nil {
			cfg.Registry.Endpoints = normalize(r.Endpoints)
		}
		if r.Instances != nil {
			cfg.Registry.Instances = r.Instances
		}
	}
	if r := f.Retry; r != nil {
		setValue(&cfg.Retry.MaxRetries, r.MaxRetries)
		if err := setDuration(&cfg.Retry.BaseDelay, r.BaseDelay, "retry.base_delay"); err != nil {
			return err
		}
	}
	if r := f.RateLimit; r != nil {
		setValue(&cfg.RateLimit.Rate, r.Rate)
		setValue(&cfg.RateLimit.Burst, r.Burst)
	}
	if l := f.Log; l != nil {
		setString(&cfg.Log.Level, l.Level)
		setString(&cfg.Log.Format, l.Format)
		setValue(&cfg.Log.NoColor, l.NoColor)
	}
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}

func setValue[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *string, key string) error {
	if v == nil {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(*v))
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	*dst = d
	return nil
}

func normalize(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if v := strings.TrimSpace(s); v != "" {
			out = append(out, v)
		}
	}
	return out
}
