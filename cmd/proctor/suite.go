package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/metalagman/proctor/internal/suite"
)

func suiteCmd() *cobra.Command {
	var workers int
	cmd := &cobra.Command{
		Use:   "suite <tasks.yaml>",
		Short: "Run a task suite in parallel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			specs, err := suite.LoadTasks(args[0])
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, _, closeFn, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			completer, err := newCompleter(cfg)
			if err != nil {
				return err
			}
			runner := suite.NewRunner(cfg, completer, store, loadRulebook(cfg))

			reports, err := runner.RunSuite(cmd.Context(), specs, workers)
			if err != nil {
				return err
			}
			completed := 0
			for _, rep := range reports {
				if rep.Result.Outcome.Completed() {
					completed++
				}
				fmt.Printf("%-24s %-10s %-26s %s\n",
					rep.Name, rep.Result.Status, rep.Result.Outcome, rep.RunID)
			}
			log.Info().Int("tasks", len(reports)).Int("completed", completed).Msg("suite finished")
			return nil
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 0, "parallel workers (default from config)")
	return cmd
}
