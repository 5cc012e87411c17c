package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/srinidhi621/knowledge-atlas/internal/agent/core"
	"github.com/srinidhi621/knowledge-atlas/internal/synthesis"
	"github.com/srinidhi621/knowledge-atlas/models"
)

func askCMD(load loader) *cobra.Command {
	var notebookID, summary, prior string
	var asJSON bool

	ask := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask one question against a notebook",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			resp, err := a.orch.Ask(cmd.Context(), core.Request{
				Query:        strings.Join(args, " "),
				Notebook:     models.Notebook{ID: notebookID, Description: summary},
				PriorTraceID: prior,
			})
			if err != nil {
				for _, warn := range resp.WarningMessages() {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", warn)
				}
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), resp)
			}
			printAnswer(cmd.OutOrStdout(), resp)
			return nil
		},
	}
	ask.Flags().StringVarP(&notebookID, "notebook", "n", "", "notebook id")
	ask.Flags().StringVar(&summary, "summary", "", "short description of the notebook's contents")
	ask.Flags().StringVar(&prior, "prior", "", "trace id of the run this question follows up on")
	ask.Flags().BoolVar(&asJSON, "json", false, "print the response as JSON")
	_ = ask.MarkFlagRequired("notebook")
	return ask
}

func printAnswer(w io.Writer, resp core.Response) {
	fmt.Fprintln(w, resp.Answer)
	if refs := synthesis.FormatCitations(resp.Citations); len(refs) > 0 {
		fmt.Fprintln(w, "\nReferences:")
		for _, r := range refs {
			fmt.Fprintf(w, "  %s\n", r)
		}
	}
	fmt.Fprintf(w, "\ntrace %s (%s)\n", resp.TraceID, resp.Outcome)
	for _, warn := range resp.WarningMessages() {
		fmt.Fprintf(w, "warning: %s\n", warn)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
