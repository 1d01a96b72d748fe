package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/TritonDataCenter/manta-nfs/internal/logger"
	"github.com/TritonDataCenter/manta-nfs/pkg/config"
	"github.com/TritonDataCenter/manta-nfs/pkg/server"
)

const usage = `manta-nfs - NFSv3 gateway to a remote object store

Usage:
  manta-nfs [flags]          Start the gateway
  manta-nfs init [--force]   Write a sample configuration file

Flags:
`

func main() {
	if len(os.Args) > 1 && os.Args[1] == "init" {
		runInit(os.Args[2:])
		return
	}

	flags := pflag.NewFlagSet("manta-nfs", pflag.ExitOnError)
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flags.PrintDefaults()
	}
	configFile := flags.StringP("config", "f", "", "Path to config file (default: $XDG_CONFIG_HOME/manta-nfs/config.yaml)")
	debug := flags.BoolP("debug", "d", false, "Log at DEBUG level")
	verbose := flags.BoolP("verbose", "v", false, "Log at least at INFO level")
	flags.String("cache-location", "", "Cache directory (overrides cache.location)")
	flags.String("log-format", "", "Log format: text or json (overrides logging.format)")
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.Load(*configFile, flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		if *configFile == "" && !config.ConfigExists() {
			fmt.Fprintf(os.Stderr, "Run 'manta-nfs init' to create %s\n", config.GetDefaultConfigPath())
		}
		os.Exit(1)
	}

	switch {
	case *debug:
		cfg.Logging.Level = "DEBUG"
	case *verbose && cfg.Logging.Level != "DEBUG":
		cfg.Logging.Level = "INFO"
	}

	if err := setupLogging(&cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
}

func runInit(args []string) {
	flags := pflag.NewFlagSet("manta-nfs init", pflag.ExitOnError)
	force := flags.Bool("force", false, "Overwrite an existing config file")
	path := flags.StringP("config", "f", "", "Write to this path instead of the default location")
	_ = flags.Parse(args)

	var err error
	target := *path
	if target == "" {
		target, err = config.InitConfig(*force)
	} else {
		err = config.InitConfigToPath(target, *force)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Configuration written to %s\n", target)
}

func setupLogging(cfg *config.LoggingConfig) error {
	logger.SetLevel(cfg.Level)
	logger.SetFormat(cfg.Format)
	return logger.SetOutput(cfg.Output)
}

// run builds the gateway from cfg and serves until a signal, an adapter
// failure or a metadata store fault.
func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("manta-nfs starting: cache=%s remote=%s", cfg.Cache.Location, cfg.Remote.Type)

	m := config.InitializeMetrics(cfg)

	store, err := config.CreateMetadataStore(ctx, &cfg.Cache.Metadata)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Metadata store close: %v", err)
		}
	}()

	remoteStore, err := config.CreateRemoteStore(ctx, &cfg.Remote, m.RemoteMetrics)
	if err != nil {
		return err
	}

	engine, err := config.CreateEngine(&cfg.Cache, store, m.CacheMetrics)
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.Close(); err != nil {
			logger.Error("Cache engine close: %v", err)
		}
	}()

	if err := engine.WaitReady(ctx); err != nil {
		return fmt.Errorf("cache recovery: %w", err)
	}

	fs := config.CreateFilesystem(engine, remoteStore, &cfg.Attributes)

	reg, err := config.CreateRegistry(fs, cfg.Exports)
	if err != nil {
		return err
	}

	adapters, err := config.CreateAdapters(cfg, reg, m.NFSMetrics)
	if err != nil {
		return err
	}

	srv := server.New(cfg.Server.ShutdownTimeout)
	for _, a := range adapters.List() {
		if err := srv.AddAdapter(a); err != nil {
			return err
		}
	}

	// Registration may need root, so it runs before the drop.
	srv.OnListening(func() error {
		return adapters.Register(ctx)
	})
	srv.OnListening(func() error {
		return dropPrivileges(cfg.Server.User, cfg.Server.Group)
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	faulted := make(chan error, 1)
	go func() {
		select {
		case err := <-engine.Faults():
			logger.Error("Cache metadata fault, shutting down: %v", err)
			faulted <- err
			cancel()
		case <-runCtx.Done():
		}
	}()

	if m.Server != nil {
		go func() {
			if err := m.Server.Start(runCtx); err != nil {
				logger.Error("Metrics server error: %v", err)
			}
		}()
	}

	if cfg.Cache.FlushInterval > 0 {
		go fs.WriteBack(runCtx, cfg.Cache.FlushInterval)
	}

	serveErr := srv.Serve(runCtx)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := adapters.Unregister(shutdownCtx); err != nil {
		logger.Warn("Portmap unregister: %v", err)
	}

	start := time.Now()
	if err := fs.Flush(shutdownCtx); err != nil {
		logger.Error("Final write-back incomplete, dirty entries stay cached for the next start: %v", err)
	} else {
		logger.Info("Final write-back done in %v", time.Since(start))
	}

	select {
	case err := <-faulted:
		return fmt.Errorf("cache metadata fault: %w", err)
	default:
	}
	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		return serveErr
	}

	logger.Info("manta-nfs stopped")
	return nil
}
