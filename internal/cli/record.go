package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/TungSeven30/henrii-sub000/internal/connectivity"
	"github.com/TungSeven30/henrii-sub000/internal/recorder"
)

type RecordOptions struct {
	*RootOptions
	At       string
	Fields   []string
	Expected string
}

func NewLogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecordOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "log <feeding|sleep|diaper>",
		Short: "Record an event, queueing it when the server is unreachable",
		Long: `Record an event for the active baby.

Examples:
  henrii log feeding --field feeding_type=bottle --field amount_ml=120
  henrii log diaper --field diaper_kind=wet --at 2026-05-04T07:30:00Z`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLog(cmd.Context(), opts, cmd.OutOrStdout(), args[0])
		},
	}
	cmd.Flags().StringVar(&opts.At, "at", "", "when it happened (RFC 3339, default now)")
	cmd.Flags().StringArrayVar(&opts.Fields, "field", nil, "event field as key=value (repeatable)")
	return cmd
}

func NewEditCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecordOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "edit <table> <id>",
		Short: "Update fields of a logged event",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch, err := parseAssignments(opts.Fields)
			if err != nil {
				return err
			}
			return runMutation(cmd.Context(), opts, cmd.OutOrStdout(), func(ctx context.Context, r *recorder.Recorder) (*recorder.MutationResult, error) {
				return r.UpdateEvent(ctx, args[0], args[1], opts.Expected, patch)
			})
		},
	}
	cmd.Flags().StringArrayVar(&opts.Fields, "set", nil, "field to change as key=value (repeatable)")
	cmd.Flags().StringVar(&opts.Expected, "expected", "", "updated_at the edit was based on")
	return cmd
}

func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecordOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "delete <table> <id>",
		Short: "Delete a logged event",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMutation(cmd.Context(), opts, cmd.OutOrStdout(), func(ctx context.Context, r *recorder.Recorder) (*recorder.MutationResult, error) {
				return r.DeleteEvent(ctx, args[0], args[1], opts.Expected)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Expected, "expected", "", "updated_at the delete was based on")
	return cmd
}

// withRecorder opens the client state, probes the server once and hands a
// recorder to fn.
func withRecorder(ctx context.Context, opts *RootOptions, fn func(ctx context.Context, r *recorder.Recorder) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := opts.Config.Sync
	env, err := openClientEnv(cfg)
	if err != nil {
		return err
	}
	defer env.Close()

	mon := connectivity.New(env.api, cfg.ProbeInterval(), nil, opts.Log)
	mon.Probe(ctx)
	rec, err := recorder.New(recorder.Options{
		API:    env.api,
		Queue:  env.queue,
		Flags:  env.flags,
		Online: mon,
		Window: opts.Config.Server.DuplicateWindow(),
		Logger: opts.Log,
	})
	if err != nil {
		return err
	}
	return fn(ctx, rec)
}

func runLog(ctx context.Context, opts *RecordOptions, w io.Writer, eventType string) error {
	in := recorder.LogInput{Type: eventType}
	if opts.At != "" {
		at, err := time.Parse(time.RFC3339Nano, opts.At)
		if err != nil {
			return fmt.Errorf("invalid --at: %w", err)
		}
		in.HappenedAt = at
	}
	fields, err := parseAssignments(opts.Fields)
	if err != nil {
		return err
	}
	in.Fields = fields

	return withRecorder(ctx, opts.RootOptions, func(ctx context.Context, r *recorder.Recorder) error {
		res, err := r.LogEvent(ctx, in)
		if err != nil {
			return err
		}
		return emit(opts.RootOptions, w, res, func(w io.Writer) {
			if res.Queued {
				fmt.Fprintf(w, "queued %s (%s), will sync when online\n", res.Table, res.QueueID)
			} else {
				fmt.Fprintf(w, "logged %s %s", res.Table, res.EventID)
				if res.Duplicate {
					fmt.Fprint(w, " (already recorded)")
				}
				fmt.Fprintln(w)
			}
			if res.Flag != nil {
				fmt.Fprintf(w, "possible duplicate of %d recent %s entr(ies), flag %s\n", len(res.Flag.NearbyIDs), res.Table, res.Flag.ID)
			}
		})
	})
}

func runMutation(ctx context.Context, opts *RecordOptions, w io.Writer, apply func(ctx context.Context, r *recorder.Recorder) (*recorder.MutationResult, error)) error {
	return withRecorder(ctx, opts.RootOptions, func(ctx context.Context, r *recorder.Recorder) error {
		res, err := apply(ctx, r)
		if err != nil {
			return err
		}
		return emit(opts.RootOptions, w, res, func(w io.Writer) {
			if res.Queued {
				fmt.Fprintf(w, "queued (%s), will sync when online\n", res.QueueID)
				return
			}
			fmt.Fprintf(w, "%s %s %s", res.Response.Operation, res.Response.EventTable, res.Response.EventID)
			if res.Response.UpdatedAt != "" {
				fmt.Fprintf(w, " updated_at=%s", res.Response.UpdatedAt)
			}
			fmt.Fprintln(w)
		})
	})
}
