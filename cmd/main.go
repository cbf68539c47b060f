package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/peregrein/peregrein/config"
	"github.com/peregrein/peregrein/internal/httpserver"
	"github.com/peregrein/peregrein/internal/metrics"
	"github.com/peregrein/peregrein/pkg/logger"
)

const defaultConfigName = ".peregrein.config"

func main() {
	configPath, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		slog.Error("invalid arguments", slog.Any("err", err))
		os.Exit(2)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	log, logCloser, err := logger.New(logger.Options{
		Level:       cfg.LogLevel(),
		AddSource:   true,
		Environment: cfg.Environment,
		Path:        cfg.LogConfig.LogPath,
	})
	if err != nil {
		slog.Error("failed to open log", slog.Any("err", err))
		os.Exit(1)
	}
	defer logCloser.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go watchHangup(ctx, log)

	if err := run(ctx, cfg, log); err != nil {
		log.Error("Peregrein stopped with error", slog.Any("err", err))
		logCloser.Close()
		os.Exit(1)
	}

	log.Info("Shut down cleanly")
}

func parseFlags(args []string) (string, error) {
	fs := pflag.NewFlagSet("peregrein", pflag.ContinueOnError)
	path := fs.StringP("config", "c", "", "path to config file (default ~/"+defaultConfigName+")")

	if err := fs.Parse(args); err != nil {
		return "", err
	}

	if *path != "" {
		return *path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot find home directory: %w", err)
	}
	return filepath.Join(home, defaultConfigName), nil
}

// watchHangup acknowledges SIGHUP. Reloading is not supported; the running
// configuration is kept.
func watchHangup(ctx context.Context, log *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			log.Info("Received SIGHUP, reload requested; keeping current configuration")
		}
	}
}

// run builds every virtual server, binds all of them before serving any, and
// blocks until ctx ends.
func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	collector := metrics.NewCollector(4096, log)
	collector.Start(ctx)

	servers, err := buildServers(cfg.Servers, collector, log)
	if err != nil {
		return err
	}
	defer closeServers(servers)

	for _, s := range servers {
		if err := s.listener.Bind(); err != nil {
			return err
		}
	}

	startHealthChecks(ctx, cfg, collector, log)

	g, gctx := errgroup.WithContext(ctx)

	for _, s := range servers {
		g.Go(func() error {
			return s.listener.Serve(gctx)
		})
	}

	if cfg.Admin.Address != "" {
		admin, err := httpserver.New(cfg.Admin.Address, setupRouter(collector))
		if err != nil {
			return err
		}

		g.Go(func() error {
			log.Info("Admin server listening", slog.String("addr", cfg.Admin.Address))
			return admin.Start()
		})
		g.Go(func() error {
			<-gctx.Done()
			return admin.Shutdown(context.Background())
		})
	}

	log.Info("Peregrein started", slog.Int("servers", len(servers)))
	<-gctx.Done()
	log.Info("Shutting down gracefully...")

	return g.Wait()
}
