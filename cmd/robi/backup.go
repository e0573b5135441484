package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/scrypster/robi/internal/backup"
	"github.com/scrypster/robi/internal/config"
)

func newSnapshotter(cfg *config.Config) (*backup.Snapshotter, error) {
	if cfg.Storage.StorageEngine != "sqlite" {
		return nil, fmt.Errorf("snapshots are only supported for the sqlite engine (use pg_dump for postgres)")
	}
	return backup.New(backup.Config{
		DBPath: cfg.SQLitePath(),
		Dir:    cfg.BackupDir(),
		Keep:   cfg.Backup.Keep,
		Verify: cfg.Backup.Verify,
	})
}

func newBackupCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Snapshot the SQLite database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			s, err := newSnapshotter(cfg)
			if err != nil {
				return err
			}
			snap, err := s.Take(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes, verified=%v)\n", snap.Path, snap.Size, snap.Verified)
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			s, err := newSnapshotter(cfg)
			if err != nil {
				return err
			}
			snaps, err := s.List()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TAKEN\tSIZE\tPATH")
			for _, snap := range snaps {
				fmt.Fprintf(w, "%s\t%d\t%s\n", snap.Timestamp.Format("2006-01-02 15:04:05"), snap.Size, snap.Path)
			}
			return w.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "verify <snapshot>",
		Short: "Run an integrity check on a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := backup.Verify(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", args[0])
			return nil
		},
	})

	return cmd
}
