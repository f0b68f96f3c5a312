package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shehryarbajwa/renderpool/internal/api"
	"github.com/shehryarbajwa/renderpool/internal/browser"
	"github.com/shehryarbajwa/renderpool/internal/config"
	"github.com/shehryarbajwa/renderpool/internal/credits"
	"github.com/shehryarbajwa/renderpool/internal/extract"
	"github.com/shehryarbajwa/renderpool/internal/logger"
	"github.com/shehryarbajwa/renderpool/internal/metrics"
	"github.com/shehryarbajwa/renderpool/internal/pool"
	"github.com/shehryarbajwa/renderpool/internal/proxy"
	"github.com/shehryarbajwa/renderpool/internal/ratelimit"
	"github.com/shehryarbajwa/renderpool/internal/storage"
)

const imagePullTimeout = 5 * time.Minute

func main() {
	cfg, err := config.Load(config.Path("config.yml"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log, newLauncher); err != nil {
		log.Fatal("Server exited with error", logger.Error(err))
	}
}

// launcherFactory builds the browser launcher and its cleanup
type launcherFactory func(cfg *config.Config, log logger.Logger) (browser.Launcher, func(), error)

func run(cfg *config.Config, log logger.Logger, newLauncher launcherFactory) error {
	log.Info("Starting renderpool",
		logger.String("browser_driver", cfg.Browser.Driver),
		logger.Int("max_sessions", cfg.Pool.MaxSessions))

	launcher, closeLauncher, err := newLauncher(cfg, log)
	if err != nil {
		return err
	}
	defer closeLauncher()

	store, err := newStore(cfg, log)
	if err != nil {
		return err
	}

	creditTable, err := credits.NewTable(cfg.Credits)
	if err != nil {
		return fmt.Errorf("credits: %w", err)
	}

	// the pool starts after every fallible setup step
	coordinator := pool.New(cfg.PoolConfig(), launcher, log.With(logger.String("component", "pool")))
	startCtx, cancel := context.WithTimeout(context.Background(), cfg.Pool.LaunchTimeout*time.Duration(cfg.Pool.WarmSessions+1))
	err = coordinator.Start(startCtx)
	cancel()
	if err != nil {
		closeCtx, cancelClose := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancelClose()
		_ = coordinator.Close(closeCtx)
		return fmt.Errorf("start pool: %w", err)
	}

	concurrency := ratelimit.NewConcurrencyLimiter(cfg.RateLimit.Concurrency)
	m := metrics.New(coordinator)
	runner := extract.NewRunner(cfg.ExtractConfig(), extract.Deps{
		Pool:        coordinator,
		Fallback:    launcher,
		Store:       store,
		Credits:     creditTable,
		Concurrency: concurrency,
		Metrics:     m,
		Logger:      log.With(logger.String("component", "extract")),
	})

	handler := api.NewHandler(runner, coordinator, log.With(logger.String("component", "api")))
	proxyServer := proxy.NewServer(coordinator, concurrency, log.With(logger.String("component", "proxy")))
	rateLimiter := ratelimit.NewLimiter(cfg.RateLimit.RequestsPerHour, cfg.RateLimit.Burst)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler.SetupRoutes(proxyServer, rateLimiter, m.Handler()),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening",
			logger.String("addr", cfg.Server.Addr),
			logger.Int("rate_limit_per_hour", cfg.RateLimit.RequestsPerHour))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info("Shutting down", logger.String("signal", sig.String()))
	case err := <-serverErr:
		if err != nil {
			log.Error("HTTP server failed", logger.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("HTTP server forced to shutdown", logger.Error(err))
	}
	if err := coordinator.Close(ctx); err != nil {
		log.Warn("Pool did not close cleanly", logger.Error(err))
	}

	log.Info("Server stopped cleanly")
	return nil
}

func newLauncher(cfg *config.Config, log logger.Logger) (browser.Launcher, func(), error) {
	log = log.With(logger.String("component", "browser"))

	if cfg.Browser.Driver == config.DriverDocker {
		d, err := browser.NewDockerLauncher(browser.DockerConfig{
			Image:         cfg.Browser.DockerImage,
			Host:          cfg.Browser.DockerHost,
			LaunchTimeout: cfg.Pool.LaunchTimeout,
		}, log)
		if err != nil {
			return nil, nil, err
		}

		ctx, cancel := context.WithTimeout(context.Background(), imagePullTimeout)
		defer cancel()
		if err := d.EnsureImage(ctx); err != nil {
			_ = d.Close()
			return nil, nil, fmt.Errorf("ensure browser image: %w", err)
		}
		return d, func() { _ = d.Close() }, nil
	}

	l := browser.NewLocalLauncher(browser.LocalConfig{
		Bin:           cfg.Browser.Bin,
		Headless:      cfg.Browser.Headless,
		NoSandbox:     cfg.Browser.NoSandbox,
		UserAgent:     cfg.Browser.UserAgent,
		LaunchTimeout: cfg.Pool.LaunchTimeout,
	}, log)
	return l, func() {}, nil
}

func newStore(cfg *config.Config, log logger.Logger) (storage.Store, error) {
	switch cfg.Storage.Driver {
	case config.StorageFilesystem:
		fs, err := storage.NewFileStore(cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("filesystem store: %w", err)
		}
		log.Info("Artifact store ready", logger.String("driver", "filesystem"), logger.String("path", cfg.Storage.Path))
		return fs, nil
	case config.StorageMinio:
		ms, err := storage.NewMinioStore(cfg.Storage.Minio, log.With(logger.String("component", "storage")))
		if err != nil {
			return nil, fmt.Errorf("minio store: %w", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := ms.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("minio bucket: %w", err)
		}
		log.Info("Artifact store ready", logger.String("driver", "minio"), logger.String("bucket", cfg.Storage.Minio.Bucket))
		return ms, nil
	default:
		return nil, nil
	}
}
