// Command rpcctl talks to an instrument server from the shell.
//
//	rpcctl [-config f] [-addr a | -service s] call <method> [json-params]
//	rpcctl [-config f] [-addr a | -service s] watch <notification>...
//	rpcctl [-config f] [-addr a | -service s] wait [-timeout d]
//	rpcctl [-config f] [-addr a | -service s] info [-states f]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/zap"

	"instrument-rpc/client"
	"instrument-rpc/config"
	"instrument-rpc/instrument"
	"instrument-rpc/logging"
	"instrument-rpc/middleware"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func usage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintln(w, "usage: rpcctl [flags] call <method> [json-params]")
	fmt.Fprintln(w, "       rpcctl [flags] watch <notification>...")
	fmt.Fprintln(w, "       rpcctl [flags] wait [-timeout d]")
	fmt.Fprintln(w, "       rpcctl [flags] info [-states file]")
	fs.PrintDefaults()
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("rpcctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "config file (.toml, .yaml)")
	addr := fs.String("addr", "", "server address, overrides client.address")
	service := fs.String("service", "", "resolve the server through the registry instead of -addr")
	fs.Usage = func() { usage(stderr, fs) }
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
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
	if *addr != "" {
		cfg.Client.Address = *addr
	}
	if *service != "" {
		cfg.Client.Service = *service
	}
	logger := logging.Init("rpcctl", cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, cleanup, err := connect(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("connect failed")
		return 1
	}
	defer cleanup()

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "call":
		err = runCall(ctx, c, rest, stdout)
	case "watch":
		err = runWatch(ctx, c, rest, stdout)
	case "wait":
		err = runWait(ctx, c, rest, stdout, stderr)
	case "info":
		err = runInfo(ctx, c, rest, stdout, stderr)
	default:
		fmt.Fprintf(stderr, "rpcctl: unknown command %q\n", cmd)
		fs.Usage()
		return 2
	}
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 2
		}
		logger.Error().Err(err).Str("command", cmd).Msg("command failed")
		return 1
	}
	return 0
}

// connect builds a client from cfg and connects it either to the fixed address or
// to a registry-resolved instance of cfg.Client.Service.
func connect(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*client.Client, func(), error) {
	opts := client.DefaultOptions()
	opts.Transport = cfg.Client.Transport()
	opts.MaxAttempts = cfg.Client.MaxAttempts
	opts.PollInterval = cfg.Client.PollInterval
	opts.WaitStallRetries = cfg.Client.WaitStallRetries
	opts.Logger = logger

	closeRegistry := func() error { return nil }
	if cfg.Client.Service != "" {
		reg, closeFn, err := cfg.OpenRegistry(ctx, cfg.Client.Service, etcdLogger(cfg))
		if err != nil {
			return nil, nil, err
		}
		lb, err := cfg.Balancer()
		if err != nil {
			closeFn()
			return nil, nil, err
		}
		opts.Registry, opts.Balancer, closeRegistry = reg, lb, closeFn
	}

	c := client.New(opts)
	c.Use(middleware.LoggingMiddleware(logger))
	if cfg.Retry.MaxRetries > 0 {
		c.Use(middleware.RetryMiddleware(cfg.Retry.MaxRetries, cfg.Retry.BaseDelay))
	}
	if cfg.RateLimit.Rate > 0 {
		c.Use(middleware.RateLimitWaitMiddleware(cfg.RateLimit.Rate, cfg.RateLimit.Burst))
	}

	var err error
	if cfg.Client.Service != "" {
		err = c.ConnectService(ctx, cfg.Client.Service)
	} else {
		err = c.Connect(ctx, cfg.Client.Address)
	}
	if err != nil {
		closeRegistry()
		return nil, nil, err
	}

	cleanup := func() {
		c.Close()
		closeRegistry()
	}
	return c, cleanup, nil
}

func etcdLogger(cfg config.Config) *zap.Logger {
	if cfg.Log.Level == "debug" || cfg.Log.Level == "trace" {
		if zl, err := zap.NewDevelopment(); err == nil {
			return zl
		}
	}
	return zap.NewNop()
}

func runCall(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	if len(args) == 0 || len(args) > 2 {
		return errors.New("call needs <method> [json-params]")
	}
	var params any
	if len(args) == 2 {
		if !json.Valid([]byte(args[1])) {
			return fmt.Errorf("params %q are not valid JSON", args[1])
		}
		params = json.RawMessage(args[1])
	}
	result, err := c.CallRaw(ctx, args[0], params)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, string(result))
	return nil
}

func runWatch(ctx context.Context, c *client.Client, names []string, out io.Writer) error {
	if len(names) == 0 {
		return errors.New("watch needs at least one notification name")
	}
	lines := make(chan string, 64)
	for _, name := range names {
		err := c.Subscribe(ctx, name, func(n *client.Notification) {
			select {
			case lines <- fmt.Sprintf("%s %s %s", time.Now().Format(time.RFC3339), n.Method, n.Params):
			default:
			}
		})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", name, err)
		}
	}

	for {
		select {
		case line := <-lines:
			fmt.Fprintln(out, line)
		case <-ctx.Done():
			unsubCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			for _, name := range names {
				if !c.Connected() {
					break
				}
				c.Unsubscribe(unsubCtx, name)
			}
			return nil
		}
	}
}

func runWait(ctx context.Context, c *client.Client, args []string, out, errOut io.Writer) error {
	fs := flag.NewFlagSet("wait", flag.ContinueOnError)
	fs.SetOutput(errOut)
	timeout := fs.Duration("timeout", 0, "give up after this long (default 2h)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var deadline time.Time
	if *timeout > 0 {
		deadline = time.Now().Add(*timeout)
	}
	n, err := c.WaitForNotification(ctx, deadline)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s %s\n", n.Method, n.Params)
	return nil
}

func runInfo(ctx context.Context, c *client.Client, args []string, out, errOut io.Writer) error {
	fs := flag.NewFlagSet("info", flag.ContinueOnError)
	fs.SetOutput(errOut)
	statesPath := fs.String("states", "", "tracker state table (tracker_states.json)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	states := instrument.DefaultTrackerStates
	if *statesPath != "" {
		var err error
		if states, err = instrument.LoadStateTable(*statesPath); err != nil {
			return err
		}
	}

	in := instrument.New(c)
	name, err := in.ProductName(ctx)
	if err != nil {
		return err
	}
	version, err := in.ProductVersion(ctx)
	if err != nil {
		return err
	}
	rpc, err := in.RPCVersion(ctx)
	if err != nil {
		return err
	}
	state, err := in.State(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "product:  %s %s\n", name, version)
	fmt.Fprintf(out, "rpc:      %d.%d\n", rpc.Major, rpc.Minor)
	fmt.Fprintf(out, "state:    %s (%s)\n", states.Describe(int(state)), instrument.EnumValue(int(state)))
	return nil
}
