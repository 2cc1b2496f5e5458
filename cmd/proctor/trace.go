package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/metalagman/proctor/internal/trace"
)

func traceCmd() *cobra.Command {
	var out string
	var asTree bool
	cmd := &cobra.Command{
		Use:   "trace <run-id>",
		Short: "Export the execution trace of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := args[0]
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, _, closeFn, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			nodes, err := store.LoadTrace(cmd.Context(), runID)
			if err != nil {
				return err
			}
			if len(nodes) == 0 {
				return fmt.Errorf("no trace for run %s", runID)
			}

			if asTree {
				tree, err := trace.Rebuild(nodes)
				if err != nil {
					return err
				}
				for _, root := range tree.Roots {
					printTree(cmd.OutOrStdout(), root, 0)
				}
				return nil
			}

			raw, err := json.MarshalIndent(nodes, "", "  ")
			if err != nil {
				return err
			}
			if out == "" {
				fmt.Fprintln(cmd.OutOrStdout(), string(raw))
				return nil
			}
			if err := os.WriteFile(out, raw, 0o644); err != nil {
				return fmt.Errorf("write trace: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "trace written to %s (%d nodes)\n", out, len(nodes))
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "write the flat trace JSON to a file")
	cmd.Flags().BoolVar(&asTree, "tree", false, "print the reconstructed tree instead of JSON")
	return cmd
}

func printTree(w io.Writer, n *trace.TreeNode, indent int) {
	for node := n; node != nil; node = node.Next {
		pad := strings.Repeat("  ", indent)
		fmt.Fprintf(w, "%s%s [%s] %s (%.2fs)\n", pad, node.ID, node.Kind, node.Role, node.TimingSec)
		for _, ann := range node.Annotations {
			verdict := "rejected"
			if ann.Passed != nil && *ann.Passed {
				verdict = "passed"
			}
			fmt.Fprintf(w, "%s  ~ %s validator %s\n", pad, ann.ID, verdict)
		}
		for _, child := range node.Children {
			printTree(w, child, indent+1)
		}
	}
}
