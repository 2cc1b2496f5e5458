package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func runsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Manage persisted runs",
	}
	cmd.AddCommand(runsListCmd())
	cmd.AddCommand(runsPruneCmd())
	return cmd
}

func runsListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, _, closeFn, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			runs, err := store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			for _, rec := range runs {
				fmt.Printf("%-36s %-20s %-10s %-26s %s\n",
					rec.RunID, rec.CreatedAt, rec.Status, rec.Outcome, truncate(rec.Task, 60))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum runs to list")
	return cmd
}

func runsPruneCmd() *cobra.Command {
	var keepLast int
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Prune old runs from the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			keep := keepLast
			if keep <= 0 {
				keep = cfg.Retention.KeepLast
			}
			if keep <= 0 {
				return fmt.Errorf("set --keep-last (or configure retention in config)")
			}
			store, _, closeFn, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			deleted, err := store.PruneRuns(cmd.Context(), keep)
			if err != nil {
				return err
			}
			log.Info().Msgf("deleted %d runs (kept newest %d)", deleted, keep)
			return nil
		},
	}
	cmd.Flags().IntVar(&keepLast, "keep-last", 0, "number of newest runs to keep")
	return cmd
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
