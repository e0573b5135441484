// Command robi runs the home-robot conversational backend and its
// maintenance tooling.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/scrypster/robi/internal/config"
	"github.com/scrypster/robi/internal/storage"
	"github.com/scrypster/robi/internal/storage/postgres"
	"github.com/scrypster/robi/internal/storage/sqlite"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// rootOptions are the flags shared by every subcommand.
type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "robi",
		Short:         "Home-robot conversational backend",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to a YAML config file (ROBI_ environment variables override it)")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newZonesCmd(opts))
	cmd.AddCommand(newBackupCmd(opts))
	return cmd
}

// loadConfig reads the config file (if any) and the environment.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFile(o.configPath)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// openStore opens the configured storage backend. SQLite databases live
// under DataPath, which is created if missing.
func openStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.StorageEngine {
	case "postgres":
		store, err := postgres.NewStore(cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		return store, nil
	case "sqlite", "":
		if err := os.MkdirAll(cfg.Storage.DataPath, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		store, err := sqlite.NewStore(cfg.SQLitePath())
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported storage engine %q", cfg.Storage.StorageEngine)
	}
}
