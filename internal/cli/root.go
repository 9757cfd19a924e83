// Package cli wires the henrii packages into the henrii command.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/TungSeven30/henrii-sub000/internal/config"
	"github.com/TungSeven30/henrii-sub000/internal/logging"
)

// RootOptions holds global flags and the loaded configuration.
type RootOptions struct {
	Format   string
	LogLevel string

	Config config.Config
	Log    *logging.Logger

	// loadConfig is swapped in tests.
	loadConfig func() (config.Config, error)
}

var ValidFormats = []string{"text", "json"}

func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{loadConfig: config.Load})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "henrii",
		Short: "henrii - shared child-care log",
		Long: `Server and offline-first client for a shared child-care log.

Configuration comes from HENRII_* environment variables, optionally layered
over the YAML file named by HENRII_CONFIG.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if opts.LogLevel != "" {
				cfg.LogLevel = opts.LogLevel
			}
			opts.Config = cfg
			opts.Log = logging.NewWithWriter(cfg.LogLevel, cmd.ErrOrStderr())
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override the configured log level")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewLogCommand(opts))
	cmd.AddCommand(NewEditCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewDaemonCommand(opts))
	cmd.AddCommand(NewQueueCommand(opts))
	cmd.AddCommand(NewFlagsCommand(opts))
	cmd.AddCommand(NewEventsCommand(opts))
	cmd.AddCommand(NewConflictsCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// emit writes v as indented JSON when --format json is set and calls text
// otherwise.
func emit(opts *RootOptions, w io.Writer, v any, text func(w io.Writer)) error {
	if opts.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}
