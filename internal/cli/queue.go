package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/TungSeven30/henrii-sub000/internal/models"
	"github.com/TungSeven30/henrii-sub000/internal/queue"
)

func NewQueueCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the offline queue",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List pending entries in replay order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(cmd.Context(), opts, func(ctx context.Context, q queue.Store) error {
				entries, err := q.ListQueuedEvents(ctx)
				if err != nil {
					return err
				}
				return emit(opts, cmd.OutOrStdout(), entries, func(w io.Writer) {
					if len(entries) == 0 {
						fmt.Fprintln(w, "queue is empty")
						return
					}
					for _, e := range entries {
						fmt.Fprintf(w, "%s  %-6s %s  %s\n", e.ID, e.Kind, models.FormatTime(e.EnqueuedAt), e.Body)
					}
				})
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "count",
		Short: "Print the number of pending entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(cmd.Context(), opts, func(ctx context.Context, q queue.Store) error {
				n, err := q.CountQueuedEvents(ctx)
				if err != nil {
					return err
				}
				return emit(opts, cmd.OutOrStdout(), map[string]int{"pending": n}, func(w io.Writer) {
					fmt.Fprintln(w, n)
				})
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "remove <id>",
		Short: "Drop one entry without sending it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(cmd.Context(), opts, func(ctx context.Context, q queue.Store) error {
				if err := q.RemoveQueuedEvent(ctx, args[0]); err != nil {
					return err
				}
				return emit(opts, cmd.OutOrStdout(), map[string]string{"removed": args[0]}, func(w io.Writer) {
					fmt.Fprintf(w, "removed %s\n", args[0])
				})
			})
		},
	})
	return cmd
}

func withQueue(ctx context.Context, opts *RootOptions, fn func(ctx context.Context, q queue.Store) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	q, err := queue.Open(opts.Config.Sync.QueueDSN)
	if err != nil {
		return fmt.Errorf("open queue: %w", err)
	}
	defer q.Close()
	return fn(ctx, q)
}
