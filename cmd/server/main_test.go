package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shehryarbajwa/renderpool/internal/browser"
	"github.com/shehryarbajwa/renderpool/internal/browser/browsertest"
	"github.com/shehryarbajwa/renderpool/internal/config"
	"github.com/shehryarbajwa/renderpool/internal/logger"
)

func TestRun_StoreFailureLaunchesNoBrowsers(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	cfg := config.Default()
	cfg.Pool.MaxSessions = 2
	cfg.Pool.WarmSessions = 2
	cfg.Storage.Driver = config.StorageFilesystem
	cfg.Storage.Path = filepath.Join(blocker, "artifacts")

	launcher := &browsertest.Launcher{}
	cleaned := false
	factory := func(*config.Config, logger.Logger) (browser.Launcher, func(), error) {
		return launcher, func() { cleaned = true }, nil
	}

	err := run(cfg, logger.NewNop(), factory)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "filesystem store")
	assert.Equal(t, 0, launcher.Launches())
	assert.True(t, cleaned)
}
