package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/retrace-app/retrace/internal/config"
	"github.com/retrace-app/retrace/internal/store"
)

// resolveConfigPath honors --config, then RETRACE_CONFIG, then the default.
func resolveConfigPath() string {
	if flagConfig != "" {
		return flagConfig
	}
	if env := os.Getenv("RETRACE_CONFIG"); env != "" {
		return env
	}
	return config.DefaultPath()
}

// loadConfig loads the config file, falling back to built-in defaults
// when none exists yet.
func loadConfig() *config.Config {
	path := resolveConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return config.Default()
		}
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// storePath returns the keyword store location under the data dir.
func storePath(cfg *config.Config) string {
	return filepath.Join(cfg.ResolvedDataDir(), "retrace.db")
}

// vectorPath returns the vector collection location under the data dir.
func vectorPath(cfg *config.Config) string {
	return filepath.Join(cfg.ResolvedDataDir(), "vectors.db")
}

// openStore opens the keyword store for query subcommands, exiting on
// failure.
func openStore(cfg *config.Config) *store.SQLiteStore {
	s, err := store.Open(storePath(cfg))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
		os.Exit(1)
	}
	return s
}

// formatTS renders epoch millis for table output.
func formatTS(millis int64) string {
	if millis == 0 {
		return "-"
	}
	return time.UnixMilli(millis).Format("2006-01-02 15:04:05")
}
