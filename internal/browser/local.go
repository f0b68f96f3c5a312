package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod/lib/launcher"

	"github.com/shehryarbajwa/renderpool/internal/logger"
)

// LocalConfig configures browsers launched as child processes
type LocalConfig struct {
	Bin           string
	Headless      bool
	NoSandbox     bool
	UserAgent     string
	LaunchTimeout time.Duration
}

// LocalLauncher starts Chromium as a child process of this service
type LocalLauncher struct {
	cfg LocalConfig
	log logger.Logger
}

// NewLocalLauncher creates a launcher for local browser processes
func NewLocalLauncher(cfg LocalConfig, log logger.Logger) *LocalLauncher {
	if cfg.LaunchTimeout <= 0 {
		cfg.LaunchTimeout = DefaultLaunchTimeout
	}
	return &LocalLauncher{cfg: cfg, log: log}
}

// newLauncher builds a fresh rod launcher; a launcher can only launch once
func (l *LocalLauncher) newLauncher() *launcher.Launcher {
	ln := launcher.New().
		Headless(l.cfg.Headless).
		NoSandbox(l.cfg.NoSandbox)

	if l.cfg.Bin != "" {
		ln = ln.Bin(l.cfg.Bin)
	}

	// container-safe, low-noise defaults
	ln = ln.Set("disable-dev-shm-usage").
		Set("disable-gpu").
		Set("disable-background-networking").
		Set("disable-default-apps").
		Set("disable-extensions").
		Set("disable-sync").
		Set("disable-translate").
		Set("metrics-recording-only").
		Set("mute-audio").
		Set("no-first-run").
		Set("disable-renderer-backgrounding").
		Set("window-size", "1920,1080")

	if l.cfg.UserAgent != "" {
		ln = ln.Set("user-agent", l.cfg.UserAgent)
	}
	return ln
}

// Launch starts a browser and connects to it. The process is killed if it
// does not become ready within the launch timeout.
func (l *LocalLauncher) Launch(ctx context.Context, sessionID string) (Handle, error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.LaunchTimeout)
	defer cancel()

	ln := l.newLauncher()

	type launched struct {
		url string
		err error
	}
	done := make(chan launched, 1)
	go func() {
		u, err := ln.Launch()
		done <- launched{url: u, err: err}
	}()

	var controlURL string
	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("failed to launch browser: %w", r.err)
		}
		controlURL = r.url
	case <-ctx.Done():
		ln.Kill()
		return nil, fmt.Errorf("browser did not start within %s: %w", l.cfg.LaunchTimeout, ctx.Err())
	}

	b, err := connect(ctx, controlURL)
	if err != nil {
		ln.Kill()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	l.log.Debug("Browser launched",
		logger.String("session_id", sessionID),
		logger.Int("pid", ln.PID()))

	return newRodHandle(b, controlURL, func() {
		ln.Kill()
		ln.Cleanup()
	}), nil
}
