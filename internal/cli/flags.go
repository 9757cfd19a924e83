package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/TungSeven30/henrii-sub000/internal/dupflags"
	"github.com/TungSeven30/henrii-sub000/internal/models"
)

func NewFlagsCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flags",
		Short: "Review possible duplicates recorded on this device",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List unresolved duplicate flags",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFlags(cmd.Context(), opts, func(ctx context.Context, s dupflags.Store) error {
				flags, err := s.GetUnresolved(ctx)
				if err != nil {
					return err
				}
				return emit(opts, cmd.OutOrStdout(), flags, func(w io.Writer) {
					if len(flags) == 0 {
						fmt.Fprintln(w, "no open flags")
						return
					}
					for _, f := range flags {
						fmt.Fprintf(w, "%s  %s %s at %s near %s\n", f.ID, f.TableName, f.EventID,
							models.FormatTime(f.Timestamp), strings.Join(f.NearbyIDs, ","))
					}
				})
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "resolve <id>",
		Short: "Mark a flag as reviewed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFlags(cmd.Context(), opts, func(ctx context.Context, s dupflags.Store) error {
				if err := s.ResolveFlag(ctx, args[0]); err != nil {
					return err
				}
				return emit(opts, cmd.OutOrStdout(), map[string]string{"resolved": args[0]}, func(w io.Writer) {
					fmt.Fprintf(w, "resolved %s\n", args[0])
				})
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete resolved flags",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFlags(cmd.Context(), opts, func(ctx context.Context, s dupflags.Store) error {
				n, err := s.ClearResolved(ctx)
				if err != nil {
					return err
				}
				return emit(opts, cmd.OutOrStdout(), map[string]int{"cleared": n}, func(w io.Writer) {
					fmt.Fprintf(w, "cleared %d\n", n)
				})
			})
		},
	})
	return cmd
}

func withFlags(ctx context.Context, opts *RootOptions, fn func(ctx context.Context, s dupflags.Store) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := dupflags.Open(opts.Config.Sync.FlagsDSN)
	if err != nil {
		return fmt.Errorf("open flags: %w", err)
	}
	defer s.Close()
	return fn(ctx, s)
}
