package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/srinidhi621/knowledge-atlas/internal/agent/core"
)

func traceCMD(load loader) *cobra.Command {
	var notebookID string
	var limit int

	trace := &cobra.Command{
		Use:   "trace [trace-id]",
		Short: "Show a run's trace, or list a notebook's runs with --notebook",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && notebookID == "" {
				return fmt.Errorf("trace id or --notebook required")
			}
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			a, err := buildApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			if len(args) == 0 {
				list, err := a.orch.ListTraces(ctx, notebookID, limit)
				if err != nil {
					return err
				}
				for _, s := range list {
					fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %-32s  %s\n", s.TraceID, s.StartedAt.Format("2006-01-02 15:04:05"), s.Outcome, s.Query)
				}
				return nil
			}

			t, err := a.orch.Trace(ctx, args[0])
			if errors.Is(err, core.ErrTraceNotFound) {
				t, err = a.orch.Recover(ctx, args[0])
				if err == nil {
					fmt.Fprintln(cmd.ErrOrStderr(), "trace was not sealed; showing journal replay")
				}
			}
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), t)
		},
	}
	trace.Flags().StringVarP(&notebookID, "notebook", "n", "", "list runs of this notebook")
	trace.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")
	return trace
}
