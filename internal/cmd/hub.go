package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/roster/internal/config"
	"github.com/Iron-Ham/roster/internal/coordination"
	"github.com/Iron-Ham/roster/internal/errors"
	"github.com/Iron-Ham/roster/internal/logging"
)

// SessionEnv is exported to commands started by `roster session run` and
// read by every command that acts on behalf of a session.
const SessionEnv = "ROSTER_SESSION_ID"

// logDirName sits inside the store directory. Dot directories are skipped
// by the store and by watchers, so log writes never look like mutations.
const logDirName = ".logs"

// withHub loads the configuration, opens a hub over the configured store
// and runs fn with it. The hub is closed when fn returns.
func withHub(cmd *cobra.Command, fn func(ctx context.Context, hub *coordination.Hub) error, opts ...coordination.Option) (err error) {
	settings, err := config.Load()
	if err != nil {
		return err
	}
	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}

	logger, err := newLogger(settings, wd)
	if err != nil {
		return err
	}
	defer logger.Close()

	hub, err := coordination.NewHub(coordination.Config{
		Settings: settings,
		BaseDir:  wd,
		Logger:   logger,
	}, opts...)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		err = errors.Join(err, hub.Close())
	}()

	return fn(cmd.Context(), hub)
}

func newLogger(settings *config.Config, baseDir string) (*logging.Logger, error) {
	if !settings.Logging.Enabled {
		return logging.NopLogger(), nil
	}
	dir := filepath.Join(settings.Store.ResolveStoreDir(baseDir), logDirName)
	logger, err := logging.NewLoggerWithRotation(dir, settings.Logging.Level, logging.RotationConfig{
		MaxSizeMB:  settings.Logging.MaxSizeMB,
		MaxBackups: settings.Logging.MaxBackups,
		Compress:   settings.Logging.Compress,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open log: %w", err)
	}
	return logger.With("pid", os.Getpid()), nil
}

// resolveSession returns the explicit --session value or falls back to
// $ROSTER_SESSION_ID.
func resolveSession(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if id := os.Getenv(SessionEnv); id != "" {
		return id, nil
	}
	return "", fmt.Errorf("no session: pass --session or set %s", SessionEnv)
}

func jsonOutput() bool {
	return outputFormat == formatJSON
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
