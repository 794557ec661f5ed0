package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyike/CortexConsensus/internal/debug"
	"github.com/dyike/CortexConsensus/internal/display"
	"github.com/dyike/CortexConsensus/internal/events"
	"github.com/dyike/CortexConsensus/internal/storage/sqlite"
	"github.com/dyike/CortexConsensus/internal/trading"
	"github.com/dyike/CortexConsensus/pkg/app"
	"github.com/dyike/CortexConsensus/pkg/bridge"
)

type runOptions struct {
	date        string
	force       bool
	yes         bool
	interactive bool
	asJSON      bool
	events      bool
	einoDebug   bool
}

func newRunCmd(st *appState) *cobra.Command {
	opts := runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the debate and store the consensus for a date",
		Long: `Run the three-round analyst debate and persist the ranked top five.
Without --force an existing verdict for the date is returned unchanged.
Example: cortexconsensus run --date=2025-03-03`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runConsensus(ctx, cmd, st, opts)
		},
	}

	cmd.Flags().StringVar(&opts.date, "date", "", "Consensus date in YYYY-MM-DD format (today if not provided)")
	cmd.Flags().BoolVar(&opts.force, "force", false, "Replace an existing verdict for the date")
	cmd.Flags().BoolVarP(&opts.yes, "yes", "y", false, "Do not ask before replacing a verdict")
	cmd.Flags().BoolVarP(&opts.interactive, "interactive", "i", false, "Ask for the date")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "Print the summary as JSON")
	cmd.Flags().BoolVar(&opts.events, "events", false, "Stream run events as JSON lines to stderr")
	cmd.Flags().BoolVar(&opts.einoDebug, "eino-debug", false, "Start the eino visual debug server")
	return cmd
}

func runConsensus(ctx context.Context, cmd *cobra.Command, st *appState, opts runOptions) error {
	cfg := st.cfg
	logger := st.logger
	if opts.einoDebug {
		cfg.EinoDebugEnabled = true
	}

	if problems := cfg.Problems(); len(problems) > 0 {
		display.NewRenderer(cmd.ErrOrStderr()).Problems(problems)
		return fmt.Errorf("configuration incomplete: %d problem(s)", len(problems))
	}

	if err := debug.NewEinoDebugger(&cfg, logger).Initialize(ctx); err != nil {
		return err
	}

	engine, err := app.BuildEngine(cfg)
	if err != nil {
		return err
	}
	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	emitters := []events.Emitter{events.LogEmitter{Logger: logger}}
	if opts.events {
		errOut := cmd.ErrOrStderr()
		emitters = append(emitters, bridge.NewNotifier(func(topic, payload string) {
			fmt.Fprintln(errOut, payload)
		}))
	}
	session := engine.Session(store, logger, trading.WithEmitter(events.Multi(emitters...)))

	date := opts.date
	if date == "" {
		date = session.Today()
	}
	if opts.interactive {
		if date, err = PromptForDate(date); err != nil {
			return err
		}
	}

	if opts.force && !opts.yes {
		existing, err := store.FindVerdict(ctx, date)
		if err != nil {
			return err
		}
		if existing != nil {
			ok, err := ConfirmForce(date)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "Aborted, stored verdict kept.")
				return nil
			}
		}
	}

	summary, err := session.Execute(ctx, date, opts.force)
	if err != nil {
		return fmt.Errorf("consensus run failed: %w", err)
	}
	if opts.asJSON {
		return writeJSON(cmd.OutOrStdout(), summary)
	}
	display.NewRenderer(cmd.OutOrStdout()).Summary(summary)
	return nil
}

func newShowCmd(st *appState) *cobra.Command {
	var date string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the stored verdict for a date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if date == "" {
				date = time.Now().In(st.cfg.Location()).Format(trading.DateLayout)
			}
			store, err := sqlite.Open(st.cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer store.Close()

			v, err := store.FindVerdict(cmd.Context(), date)
			if err != nil {
				return err
			}
			if v == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "No verdict stored for %s.\n", date)
				return nil
			}
			preds, err := store.ListPredictions(cmd.Context(), date)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"verdict": v, "predictions": preds})
			}
			r := display.NewRenderer(cmd.OutOrStdout())
			r.Verdict(v)
			r.Predictions(preds)
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Verdict date in YYYY-MM-DD format (today if not provided)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

func newHistoryCmd(st *appState) *cobra.Command {
	var limit int
	var cursor int64
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := sqlite.Open(st.cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer store.Close()

			runs, err := store.ListRuns(cmd.Context(), cursor, limit)
			if err != nil {
				return err
			}
			display.NewRenderer(cmd.OutOrStdout()).Runs(runs)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum runs to list")
	cmd.Flags().Int64Var(&cursor, "before", 0, "Only list runs older than this row id")
	return cmd
}

func newScheduleCmd(st *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Run the consensus job on the configured cron schedule",
		Long: `Stay in the foreground and run the consensus job at every tick of the
configured schedule. Edits to the config file are picked up without a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := st.logger
			rt, err := app.NewRuntime(st.mgr,
				app.WithLogger(logger),
				app.WithNotifier(func(topic, payload string) {
					logger.Info("runtime event", "topic", topic, "payload", payload)
				}),
				app.WithSessionOptions(trading.WithEmitter(events.LogEmitter{Logger: logger})),
			)
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.StartSchedule(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Scheduled %q, next run %s. Press Ctrl+C to stop.\n",
				rt.ScheduleSpec(), rt.NextRun().Format(time.RFC3339))
			<-ctx.Done()
			return nil
		},
	}
}
