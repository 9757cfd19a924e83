package cli

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/TungSeven30/henrii-sub000/internal/connectivity"
	"github.com/TungSeven30/henrii-sub000/internal/syncengine"
)

type syncReport struct {
	Pass   passReport        `json:"pass"`
	Status syncengine.Status `json:"status"`
}

type passReport struct {
	Trigger   syncengine.Trigger `json:"trigger"`
	Skipped   bool               `json:"skipped"`
	Attempted int                `json:"attempted"`
	Succeeded int                `json:"succeeded"`
	Dropped   int                `json:"dropped"`
	Retrying  int                `json:"retrying"`
	Stuck     int                `json:"stuck"`
	Remaining int                `json:"remaining"`
	Refreshed bool               `json:"refreshed"`
	Error     string             `json:"error,omitempty"`
}

func toPassReport(r syncengine.PassResult) passReport {
	out := passReport{
		Trigger:   r.Trigger,
		Skipped:   r.Skipped,
		Attempted: r.Attempted,
		Succeeded: r.Succeeded,
		Dropped:   r.Dropped,
		Retrying:  r.Retrying,
		Stuck:     r.Stuck,
		Remaining: r.Remaining,
		Refreshed: r.Refreshed,
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return out
}

func NewSyncCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay the local queue once",
		Long: `Attempt every queued entry once, in order, and report the outcome.

Retry backoff and stuck markers live in a running engine only, so this
command starts fresh: entries the daemon has given up on are attempted
again. Run "henrii daemon" for paced retries.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}
}

func NewDaemonCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Replay the local queue in the background until interrupted",
		Long: `Run the sync engine on its timer and replay immediately whenever the
server becomes reachable again.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), opts)
		},
	}
}

func newEngine(env *clientEnv, opts *RootOptions) (*syncengine.Engine, error) {
	cfg := opts.Config.Sync
	log := opts.Log
	return syncengine.New(syncengine.Options{
		Queue:  env.queue,
		Sender: env.api,
		Refresher: syncengine.RefresherFunc(func(ctx context.Context) error {
			resp, err := env.api.ListConflicts(ctx)
			if err != nil {
				return err
			}
			if n := len(resp.EventConflicts) + len(resp.MutationConflicts); n > 0 {
				log.Warnf("%d open conflict(s) need review", n)
			}
			return nil
		}),
		Policy:          enginePolicy(cfg),
		Interval:        cfg.Interval(),
		RefreshDebounce: cfg.RefreshDebounce(),
		Log:             log,
	})
}

func runSync(ctx context.Context, opts *RootOptions, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	env, err := openClientEnv(opts.Config.Sync)
	if err != nil {
		return err
	}
	defer env.Close()

	eng, err := newEngine(env, opts)
	if err != nil {
		return err
	}
	res := eng.SyncNow(ctx, syncengine.TriggerManual)
	report := syncReport{Pass: toPassReport(res), Status: eng.Status(ctx)}
	return emit(opts, w, report, func(w io.Writer) {
		p := report.Pass
		fmt.Fprintf(w, "attempted %d, sent %d, dropped %d, retrying %d, stuck %d\n",
			p.Attempted, p.Succeeded, p.Dropped, p.Retrying, p.Stuck)
		fmt.Fprintf(w, "%d pending\n", report.Status.Pending)
		if p.Error != "" {
			fmt.Fprintf(w, "last error: %s\n", p.Error)
		}
	})
}

func runDaemon(ctx context.Context, opts *RootOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := opts.Config.Sync
	env, err := openClientEnv(cfg)
	if err != nil {
		return err
	}
	defer env.Close()

	eng, err := newEngine(env, opts)
	if err != nil {
		return err
	}
	mon := connectivity.New(env.api, cfg.ProbeInterval(), func() {
		eng.Notify(syncengine.TriggerOnline)
	}, opts.Log)

	opts.Log.Infof("sync daemon started against %s", cfg.BaseURL)
	eng.Start(ctx)
	go mon.Run(ctx)
	<-ctx.Done()
	eng.Stop()

	st := eng.Status(context.Background())
	opts.Log.WithFields(map[string]any{"pending": st.Pending, "stuck": st.Stuck}).Infof("sync daemon stopped")
	return nil
}
