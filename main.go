package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/hostsentry/agent/config"
	"github.com/hostsentry/agent/pkg/agent"
	"github.com/hostsentry/agent/pkg/logging"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath = flag.String("config", "", "path to the JSON configuration file")
		register   = flag.Bool("register", false, "register with the central service and exit")
		scan       = flag.Bool("scan", false, "run one detection cycle and exit")
		daemon     = flag.Bool("daemon", false, "run as a foreground service")
	)
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		return 1
	}

	logger := logging.New(cfg.LogFilePath, cfg.LogLevel)
	defer logger.Sync()

	identityPath := "agent-identity.json"
	if *configPath != "" {
		identityPath = filepath.Join(filepath.Dir(*configPath), "agent-identity.json")
	}

	a := agent.New(cfg, logger, agent.WithIdentityPath(identityPath))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Initialize(ctx); err != nil {
		logger.Error("initialization failed", zap.Error(err))
		return 1
	}

	switch {
	case *register:
		// Initialize already performed registration; nothing more to do.
		logger.Info("registration complete")
		return 0

	case *scan:
		if err := a.RunOnce(ctx); err != nil {
			logger.Error("detection cycle failed", zap.Error(err))
			return 1
		}
		return 0

	case *daemon:
		if err := a.Start(ctx); err != nil {
			logger.Error("start failed", zap.Error(err))
			return 1
		}

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		if err := a.Stop(); err != nil {
			logger.Error("stop failed", zap.Error(err))
		}
		return 0

	default:
		flag.Usage()
		return 0
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.DefaultConfig()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return config.LoadConfig(path)
}
