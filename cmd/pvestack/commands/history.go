package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ftschopp/pve-scripts/pkg/engine"
	"github.com/ftschopp/pve-scripts/pkg/output"
	"github.com/ftschopp/pve-scripts/pkg/stores"
)

func newHistoryCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded start and stop runs",
		Long: `Every start, stop and restart is recorded in the history database
(history.path, --db) unless history is disabled. These commands read it.`,
	}

	cmd.AddCommand(
		newHistoryListCommand(a),
		newHistoryShowCommand(a),
		newHistoryEventsCommand(a),
		newHistoryPruneCommand(a),
	)
	return cmd
}

func newHistoryListCommand(a *app) *cobra.Command {
	var filter stores.RunFilter

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.historyStore(cmd.Context())
			if err != nil {
				return err
			}

			runs, err := store.ListRuns(cmd.Context(), filter)
			if err != nil {
				return errorf("failed to list runs: %w", err)
			}
			return a.printer.Print(output.RunsView(runs))
		},
	}

	cmd.Flags().IntVarP(&filter.Limit, "limit", "n", 20, "maximum number of runs to show (0 for all)")
	cmd.Flags().StringVar(&filter.Operation, "operation", "", "only show runs of this operation (start or stop)")
	cmd.Flags().StringVar(&filter.Status, "status", "", "only show runs with this status")
	return cmd
}

func newHistoryShowCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the per-resource results of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := a.historyStore(ctx)
			if err != nil {
				return err
			}

			run, err := store.GetRun(ctx, args[0])
			if err != nil {
				return runError(err)
			}
			results, err := store.ListResourceResults(ctx, run.ID)
			if err != nil {
				return errorf("failed to load results: %w", err)
			}

			md, err := run.DecodeMetadata()
			if err != nil {
				a.logger.Warn().Err(err).Str("run_id", run.ID).Msg("ignoring run metadata")
			}

			if a.printer.Structured() {
				return a.printer.Print(struct {
					*stores.Run
					Phases    []engine.PhaseTiming     `json:"phases,omitempty"`
					Resources []*stores.ResourceResult `json:"resources"`
				}{run, md.Phases, results})
			}

			a.printer.Printf("%s %s %s (%s)\n", run.ID, run.Operation, run.Status, run.StartedAt.Local().Format(time.RFC3339))
			if len(md.Phases) > 0 {
				phases := make([]string, 0, len(md.Phases))
				for _, ph := range md.Phases {
					phases = append(phases, fmt.Sprintf("%s %s", ph.Phase, ph.Duration.Round(time.Millisecond)))
				}
				a.printer.Printf("phases: %s\n", strings.Join(phases, ", "))
			}
			if run.Error != nil {
				a.printer.Error(*run.Error)
			}
			return a.printer.Print(output.ResultsView(results))
		},
	}
}

func newHistoryEventsCommand(a *app) *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "events <run-id>",
		Short: "Show the event timeline of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := a.historyStore(ctx)
			if err != nil {
				return err
			}

			if _, err := store.GetRun(ctx, args[0]); err != nil {
				return runError(err)
			}
			events, err := store.GetEvents(ctx, args[0], limit, offset)
			if err != nil {
				return errorf("failed to load events: %w", err)
			}
			return a.printer.Print(output.EventsView(events))
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of events (0 for all)")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of events to skip")
	return cmd
}

func newHistoryPruneCommand(a *app) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete runs older than a given age",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThan <= 0 {
				return errorf("--older-than must be positive")
			}
			store, err := a.historyStore(cmd.Context())
			if err != nil {
				return err
			}

			n, err := store.DeleteRunsBefore(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return errorf("failed to prune runs: %w", err)
			}
			if !a.printer.Structured() {
				a.printer.Success(fmt.Sprintf("deleted %d runs", n))
				return nil
			}
			return a.printer.Print(map[string]int64{"deleted": n})
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "delete runs started before this age")
	return cmd
}

// historyStore opens the history database for the history commands, which
// cannot work without it.
func (a *app) historyStore(ctx context.Context) (*stores.SQLiteStore, error) {
	if !a.settings.History.Enabled {
		return nil, errorf("run history is disabled (history.enabled)")
	}
	store, err := a.openStore(ctx)
	if err != nil {
		return nil, errorf("failed to open run history %s: %w", a.settings.History.Path, err)
	}
	return store, nil
}

func runError(err error) error {
	if errors.Is(err, stores.ErrRunNotFound) {
		return errorf("%w", err)
	}
	return errorf("failed to load run: %w", err)
}
