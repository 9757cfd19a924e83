package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/TungSeven30/henrii-sub000/internal/models"
)

func NewEventsCommand(opts *RootOptions) *cobra.Command {
	var table string
	var limit int
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List recent events from the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			events, err := newAPI(opts.Config.Sync).ListEvents(ctx, table, limit)
			if err != nil {
				return err
			}
			return emit(opts, cmd.OutOrStdout(), events, func(w io.Writer) {
				for _, e := range events {
					fmt.Fprintf(w, "%s  %s at %s by %s  updated_at=%s\n", e.ID, e.Table,
						models.FormatTime(e.HappenedAt), e.LoggedBy, models.FormatTime(e.UpdatedAt))
				}
			})
		},
	}
	cmd.Flags().StringVar(&table, "table", "feedings", "event table or type")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of events")
	return cmd
}

func NewConflictsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "conflicts",
		Short: "List open conflicts for the active baby",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			resp, err := newAPI(opts.Config.Sync).ListConflicts(ctx)
			if err != nil {
				return err
			}
			return emit(opts, cmd.OutOrStdout(), resp, func(w io.Writer) {
				if len(resp.EventConflicts)+len(resp.MutationConflicts) == 0 {
					fmt.Fprintln(w, "no open conflicts")
					return
				}
				for _, c := range resp.EventConflicts {
					fmt.Fprintf(w, "event     %s  %s: %s (%s) vs %s (%s)\n", c.ID, c.EventTable,
						c.EventAID, c.EventABy, c.EventBID, c.EventBBy)
				}
				for _, c := range resp.MutationConflicts {
					fmt.Fprintf(w, "mutation  %s  %s %s %s by %s\n", c.ID, c.Operation, c.EventTable, c.EventID, c.ReportedBy)
				}
			})
		},
	}
}
