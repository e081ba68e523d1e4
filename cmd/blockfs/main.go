package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marmos91/blockfs/internal/logger"
	"github.com/marmos91/blockfs/pkg/config"
	"github.com/marmos91/blockfs/pkg/fs"
	"github.com/marmos91/blockfs/pkg/server"
)

// Version is set at build time with -ldflags "-X main.Version=..."
var Version = "dev"

const usage = `BlockFS - Block-allocated file server

Usage:
  blockfs <command> [flags]

Commands:
  init      Create a sample configuration file
  start     Open the volume and start serving clients
  version   Print the version

Flags:
  --config string   Path to config file (default: $XDG_CONFIG_HOME/blockfs/config.yaml)
  --force           Overwrite an existing config file (init only)

Examples:
  blockfs init
  blockfs start --config /etc/blockfs/config.yaml
  BLOCKFS_LOGGING_LEVEL=DEBUG blockfs start
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	command := os.Args[1]
	flags := flag.NewFlagSet(command, flag.ExitOnError)
	configPath := flags.String("config", "", "Path to config file")
	force := flags.Bool("force", false, "Overwrite an existing config file")
	_ = flags.Parse(os.Args[2:])

	switch command {
	case "init":
		runInit(*configPath, *force)
	case "start":
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		os.Exit(runStart(*configPath, sigChan))
	case "version":
		fmt.Printf("blockfs %s\n", Version)
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n%s", command, usage)
		os.Exit(2)
	}
}

func runInit(configPath string, force bool) {
	path := configPath
	var err error
	if path == "" {
		path, err = config.InitConfig(force)
	} else {
		err = config.InitConfigToPath(path, force)
	}
	if err != nil {
		log.Fatalf("Failed to initialize config: %v", err)
	}

	fmt.Printf("Configuration file created at: %s\n", path)
	fmt.Println("Edit it, then run: blockfs start")
}

// runStart serves until a signal arrives on stop or the server fails, and
// returns the process exit code. Every exit path runs the deferred volume
// Close, so pending device state is synced before the process ends.
func runStart(configPath string, stop <-chan os.Signal) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Printf("Failed to load configuration: %v", err)
		return 1
	}

	if err := configureLogger(cfg.Logging); err != nil {
		log.Printf("Failed to configure logger: %v", err)
		return 1
	}

	fmt.Println("BlockFS - Block-allocated file server")
	logger.Info("Log level set to: %s", cfg.Logging.Level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metrics come first so store backends can register their collectors
	metricsResult := config.InitializeMetrics(cfg)
	if metricsResult.Server != nil {
		go func() {
			if err := metricsResult.Server.Start(ctx); err != nil {
				logger.Error("Metrics server error: %v", err)
			}
		}()
	}

	volume, err := config.OpenVolume(ctx, &cfg.Store)
	if err != nil {
		logger.Error("Failed to open volume: %v", err)
		return 1
	}
	defer func() {
		if err := volume.Close(); err != nil {
			logger.Error("Failed to close volume: %v", err)
		}
	}()
	logVolume(ctx, cfg, volume)

	adapters, err := config.CreateAdapters(cfg, metricsResult.ServerMetrics)
	if err != nil {
		logger.Error("Failed to create adapters: %v", err)
		return 1
	}

	srv := server.New(volume)
	for _, a := range adapters {
		if err := srv.AddAdapter(a); err != nil {
			logger.Error("Failed to add %s adapter: %v", a.Protocol(), err)
			return 1
		}
	}

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Serve(ctx)
	}()

	logger.Info("Server is running on port %d. Press Ctrl+C to stop.", cfg.Adapters.Line.Port)

	select {
	case <-stop:
		logger.Info("Shutdown signal received, initiating graceful shutdown...")
		cancel()

		select {
		case err := <-serverDone:
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Server shutdown error: %v", err)
				return 1
			}
			logger.Info("Server stopped gracefully")
		case <-time.After(cfg.Server.ShutdownTimeout):
			logger.Error("Shutdown timeout (%v) exceeded, exiting", cfg.Server.ShutdownTimeout)
			return 1
		}

	case err := <-serverDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Server error: %v", err)
			return 1
		}
		logger.Info("Server stopped")
	}
	return 0
}

// configureLogger applies the logging section.
func configureLogger(cfg config.LoggingConfig) error {
	logger.SetLevel(cfg.Level)
	logger.SetFormat(cfg.Format)
	return logger.SetOutput(cfg.Output)
}

func logVolume(ctx context.Context, cfg *config.Config, volume *fs.FileSystem) {
	stats := volume.Statistics(ctx)
	logger.Info("Volume opened on %s store", cfg.Store.Type)
	logger.Info("  Files: %d/%d", stats.FilesUsed, stats.FilesTotal)
	logger.Info("  Blocks: %d/%d (%d bytes each)", stats.BlocksUsed, stats.BlocksTotal, fs.BlockSize)
	logger.Info("  Bytes used: %d", stats.BytesUsed)
}
