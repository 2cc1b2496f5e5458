package main

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/metalagman/proctor/internal/suite"
)

func runCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "run <task>",
		Short: "Run a single task through the agent loop",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task := strings.TrimSpace(strings.Join(args, " "))
			if task == "" {
				return fmt.Errorf("task text is required")
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

			report, err := runner.RunTask(cmd.Context(), suite.TaskSpec{Name: name, Task: task})
			if err != nil {
				return err
			}
			log.Info().Str("run_id", report.RunID).Str("status", string(report.Result.Status)).
				Str("outcome", string(report.Result.Outcome)).Int("nodes", report.NodeCount).
				Dur("elapsed", report.Elapsed).Msg("run finished")
			fmt.Println(report.Result.Message)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "task", "task name used in reports")
	return cmd
}
