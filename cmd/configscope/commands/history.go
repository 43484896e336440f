package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/openfroyo/configscope/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded runs",
		Long: `Inspect runs recorded with --db.

Every run stores its entries, final configuration and fingerprint, the
summary of each entry, and any schema or policy findings.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				return errors.New("--db is required")
			}
			return nil
		},
	}

	cmd.AddCommand(newHistoryListCommand())
	cmd.AddCommand(newHistoryShowCommand())
	cmd.AddCommand(newHistoryDeleteCommand())

	return cmd
}

func newHistoryListCommand() *cobra.Command {
	var (
		source string
		status string
		limit  int
	)

	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List recent runs",
		Example: `  configscope history list --db history.db --source config.star --status rejected`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(cmd.Context(), stores.RunFilter{
				Source: source,
				Status: stores.RunStatus(status),
				Limit:  limit,
			})
			if err != nil {
				return err
			}

			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), runs)
			}

			renderRuns(cmd.OutOrStdout(), runs)
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "only runs of this source")
	cmd.Flags().StringVar(&status, "status", "", "only runs with this status")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs")

	return cmd
}

func renderRuns(w io.Writer, runs []*stores.Run) {
	if len(runs) == 0 {
		_, _ = fmt.Fprintln(w, "(0 runs)")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Started", "Status", "Source", "Entries", "Fingerprint"})
	for _, run := range runs {
		fp := "-"
		if run.Fingerprint != nil {
			fp = shortFingerprint(*run.Fingerprint)
		}
		t.AppendRow(table.Row{
			run.ID, run.StartedAt.Local().Format("2006-01-02 15:04:05"), run.Status, run.Source, run.Entries, fp,
		})
	}
	t.Render()
	_, _ = fmt.Fprintf(w, "(%d runs)\n", len(runs))
}

func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}

// runDetail is a run with everything recorded for it.
type runDetail struct {
	*stores.Run
	Summaries []json.RawMessage `json:"summaries"`
	Findings  []*stores.Finding `json:"findings"`
}

func newHistoryShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a run with its summaries and findings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			run, err := store.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			summaries, err := store.ListSummaries(ctx, run.ID)
			if err != nil {
				return err
			}
			findings, err := store.ListFindings(ctx, run.ID)
			if err != nil {
				return err
			}

			detail := runDetail{Run: run, Findings: findings}
			for _, s := range summaries {
				detail.Summaries = append(detail.Summaries, json.RawMessage(s.Summary))
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), detail)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Run:      %s\n", run.ID)
			fmt.Fprintf(out, "Source:   %s\n", run.Source)
			fmt.Fprintf(out, "Entries:  %s\n", run.Entries)
			fmt.Fprintf(out, "Status:   %s\n", run.Status)
			fmt.Fprintf(out, "Started:  %s\n", run.StartedAt.Local().Format("2006-01-02 15:04:05"))
			if run.Error != nil {
				fmt.Fprintf(out, "Error:    %s\n", *run.Error)
			}
			if run.Fingerprint != nil {
				fmt.Fprintf(out, "Config:   %s\n", *run.Fingerprint)
			}
			for _, s := range summaries {
				fmt.Fprintf(out, "  [%d] %s: %d added, %d blocked, %d type changes, %d fallback writes\n",
					s.Position, s.Entry, s.AddedCount, s.ModifiedCount, s.TypeChangeCount, s.FallbackWriteCount)
			}
			for _, f := range findings {
				fmt.Fprintf(out, "  %s %s [%s]: %s\n", f.Kind, f.Rule, f.Severity, f.Message)
			}
			return nil
		},
	}
	return cmd
}

func newHistoryDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.DeleteRun(cmd.Context(), args[0]); err != nil {
				if errors.Is(err, stores.ErrNotFound) {
					return fmt.Errorf("run %s not found", args[0])
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted run %s\n", args[0])
			return nil
		},
	}
}
