package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/marmos91/coapfs/internal/logger"
	"github.com/marmos91/coapfs/internal/protocol/coap"
	"github.com/marmos91/coapfs/internal/resource"
	"github.com/marmos91/coapfs/internal/server"
	"github.com/marmos91/coapfs/pkg/config"
	"github.com/marmos91/coapfs/pkg/metrics"
)

const usage = `usage: coapfs [-a address] [-p port] [-d] [-config file] <absolute-root>
       coapfs -init-config [-force] [file]

Serves every file below <absolute-root> as a CoAP resource.
`

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

// run is main without os.Exit. It returns the process exit code.
func run(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("coapfs", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}

	address := fs.String("a", config.DefaultAddress, "Numeric IP address to bind")
	port := fs.Int("p", config.DefaultPort, "UDP port to bind")
	debug := fs.Bool("d", false, "Enable debug logging")
	configPath := fs.String("config", "", "Path to config file (default: $XDG_CONFIG_HOME/coapfs/config.yaml)")
	initConfig := fs.Bool("init-config", false, "Write a default config file and exit")
	force := fs.Bool("force", false, "Overwrite an existing file with -init-config")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	if *initConfig {
		path := fs.Arg(0)
		if path == "" {
			path = *configPath
		}
		written, err := config.InitConfig(path, *force)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintf(stderr, "Configuration written to %s\n", written)
		return 0
	}

	if fs.NArg() != 1 {
		fs.Usage()
		return 1
	}
	root := fs.Arg(0)
	if !filepath.IsAbs(root) {
		fmt.Fprintf(stderr, "Error: root %q must be an absolute path\n", root)
		return 1
	}

	// Only flags given on the command line override file and environment
	overrides := map[string]any{"resources.root": root}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "a":
			overrides["server.address"] = *address
		case "p":
			overrides["server.port"] = *port
		case "d":
			if *debug {
				overrides["logging.level"] = "DEBUG"
			}
		}
	})

	cfg, err := config.Load(*configPath, overrides)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if err := logger.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if err := serve(cfg); err != nil {
		logger.Error("%v", err)
		return 1
	}
	return 0
}

// serve builds the namespace, binds the endpoint and runs the loop until
// SIGINT or SIGTERM.
func serve(cfg *config.Config) error {
	registry, err := resource.Build(resource.Options{
		Root:          cfg.Resources.Root,
		MaxReadSize:   cfg.Resources.MaxReadSize,
		ContentFormat: cfg.Resources.ContentFormat,
		Exclude:       cfg.Resources.Exclude,
	})
	if err != nil {
		return fmt.Errorf("failed to build resource namespace: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var changes <-chan string
	if cfg.Resources.Watch {
		w, err := resource.NewWatcher(cfg.Resources.Root, registry)
		if err != nil {
			return err
		}
		go func() {
			if err := w.Run(ctx); err != nil {
				logger.Error("File watcher stopped: %v", err)
			}
		}()
		changes = w.Changes()
	}

	ep, err := coap.Listen(cfg.Server.Address, cfg.Server.Port, cfg.Transport.MaxDatagramSize)
	if err != nil {
		return err
	}

	coapMetrics := startMetrics(ctx, cfg.Metrics)

	engine := coap.NewEngine(ep, registry, coap.Options{
		MaxWriteSize:      cfg.Resources.MaxWriteSize,
		AckTimeout:        cfg.Transport.AckTimeout,
		AckRandomFactor:   cfg.Transport.AckRandomFactor,
		MaxRetransmit:     cfg.Transport.MaxRetransmit,
		Observe:           cfg.Observe.Enabled,
		ConfirmableNotify: cfg.Observe.Confirmable,
		MaxObservers:      cfg.Observe.MaxObservers,
		Changes:           changes,
		RequestsPerSecond: cfg.Transport.RateLimit.RequestsPerSecond,
		Burst:             cfg.Transport.RateLimit.Burst,
		MaxPeers:          cfg.Transport.RateLimit.MaxPeers,
		Metrics:           coapMetrics,
	})

	logger.Info("coapfs serving %s on %s", cfg.Resources.Root, ep.LocalAddr())
	logger.Info("  Resources: %d", registry.Len())
	logger.Info("  Read limit: %s, write limit: %s",
		humanize.IBytes(uint64(cfg.Resources.MaxReadSize)), humanize.IBytes(uint64(cfg.Resources.MaxWriteSize)))
	logger.Info("  Observe: %v (confirmable: %v, watch: %v)", cfg.Observe.Enabled, cfg.Observe.Confirmable, cfg.Resources.Watch)
	if cfg.Transport.RateLimit.RequestsPerSecond > 0 {
		logger.Info("  Rate limit: %d req/s per peer", cfg.Transport.RateLimit.RequestsPerSecond)
	}
	if cfg.Metrics.Enabled {
		logger.Info("  Metrics: http://localhost:%d/metrics", cfg.Metrics.Port)
	}

	srv := server.New(engine, ep, cfg.Server.HousekeepingInterval)

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Serve(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		logger.Info("Received %v, shutting down", sig)
		cancel()
		if err := <-serverDone; err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		logger.Info("Server stopped")
		return nil

	case err := <-serverDone:
		_ = ep.Close()
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}
}

// startMetrics initializes Prometheus collection and its HTTP endpoint when
// enabled. The endpoint stops with ctx. It returns nil when disabled, which
// the engine treats as no-op.
func startMetrics(ctx context.Context, cfg config.MetricsConfig) metrics.CoAPMetrics {
	if !cfg.Enabled {
		return nil
	}

	metrics.InitRegistry()
	srv := metrics.NewServer(metrics.ServerConfig{Port: cfg.Port})
	go func() {
		if err := srv.Start(ctx); err != nil {
			logger.Error("Metrics server error: %v", err)
		}
	}()

	return metrics.NewCoAPMetrics()
}
