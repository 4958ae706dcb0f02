// Command instrumentd serves a simulated instrument over the netstring JSON-RPC protocol.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"go.uber.org/zap"

	"instrument-rpc/config"
	"instrument-rpc/instrument"
	"instrument-rpc/logging"
	"instrument-rpc/middleware"
	"instrument-rpc/registry"
	"instrument-rpc/server"
)

const shutdownTimeout = 5 * time.Second

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("instrumentd", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "config file (.toml, .yaml)")
	listen := fs.String("listen", "", "listen address, overrides server.listen")
	advertise := fs.String("advertise", "", "address published to the registry, overrides server.advertise")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
	}
	if *listen != "" {
		cfg.Server.Listen = *listen
	}
	if *advertise != "" {
		cfg.Server.Advertise = *advertise
	}
	logger := logging.Init("instrumentd", cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svr := server.NewServer(server.Options{
		Name:      cfg.Server.Service,
		Logger:    logger,
		Transport: cfg.Client.Transport(),
		TTL:       cfg.Server.TTL,
	})
	svr.Use(middleware.LoggingMiddleware(logger))
	if cfg.RateLimit.Rate > 0 {
		svr.Use(middleware.RateLimitMiddleware(cfg.RateLimit.Rate, cfg.RateLimit.Burst))
	}

	remoteStop := make(chan struct{}, 1)
	sim := instrument.NewSimulator(svr, logger, func() {
		select {
		case remoteStop <- struct{}{}:
		default:
		}
	})
	if err := svr.Register(sim); err != nil {
		logger.Error().Err(err).Msg("register simulator failed")
		return 1
	}

	var reg registry.Registry
	if cfg.Registry.Kind == "etcd" {
		zl := zap.NewNop()
		if cfg.Log.Level == "debug" || cfg.Log.Level == "trace" {
			if dev, err := zap.NewDevelopment(); err == nil {
				zl = dev
			}
		}
		r, closeRegistry, err := cfg.OpenRegistry(ctx, cfg.Server.Service, zl)
		if err != nil {
			logger.Error().Err(err).Msg("open registry failed")
			return 1
		}
		defer closeRegistry()
		reg = r
	}

	if cfg.Server.HeartbeatSchedule != "" {
		sched, err := cfg.Server.Schedule()
		if err != nil {
			logger.Error().Err(err).Msg("bad heartbeat schedule")
			return 1
		}
		c := cron.New(cron.WithLogger(cronLogger{logger.With().Str("component", "cron").Logger()}))
		c.Schedule(sched, cron.FuncJob(func() {
			n, err := sim.Heartbeat()
			if err != nil {
				logger.Warn().Err(err).Msg("heartbeat failed")
				return
			}
			logger.Debug().Int("sessions", n).Msg("heartbeat sent")
		}))
		c.Start()
		defer func() { <-c.Stop().Done() }()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- svr.Serve("tcp", cfg.Server.Listen, cfg.Server.Advertise, reg)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("serve failed")
			return 1
		}
		return 0
	case <-ctx.Done():
		logger.Info().Msg("signal received, shutting down")
	case <-remoteStop:
		logger.Info().Msg("remote shutdown, shutting down")
	}

	if err := svr.Shutdown(shutdownTimeout); err != nil {
		logger.Warn().Err(err).Msg("shutdown incomplete")
	}
	if err := <-errCh; err != nil {
		logger.Warn().Err(err).Msg("serve returned")
	}
	return 0
}

// cronLogger routes cron's own log lines through zerolog.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
