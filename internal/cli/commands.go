package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"piggysaving/internal/aggregate"
	"piggysaving/internal/amqp"
	"piggysaving/internal/backend"
	"piggysaving/internal/config"
	"piggysaving/internal/core"
	"piggysaving/internal/datastore"
	"piggysaving/internal/log"
	"piggysaving/internal/services"
)

// Env is what every command needs. Tests swap the writers and the clock.
type Env struct {
	Config  *config.Config
	Logger  *log.Logger
	Factory backend.Factory
	Out     io.Writer
	Err     io.Writer
	Now     func() time.Time
}

// NewEnv wires an Env for the real process.
func NewEnv(cfg *config.Config, logger *log.Logger) *Env {
	return &Env{
		Config:  cfg,
		Logger:  logger,
		Factory: backend.NewFactory(logger),
		Out:     os.Stdout,
		Err:     os.Stderr,
		Now:     time.Now,
	}
}

// NewRootCmd builds the piggy command tree.
func NewRootCmd(env *Env) *cobra.Command {
	root := &cobra.Command{
		Use:           "piggy",
		Short:         "Track daily savings and withdrawals",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newRefreshCmd(env),
		newListCmd(env),
		newConfirmCmd(env),
		newWithdrawCmd(env),
		newSummaryCmd(env),
		newTodayCmd(env),
		newWatchCmd(env),
	)
	return root
}

// withBackend opens the configured backend, runs fn and releases it.
func (e *Env) withBackend(ctx context.Context, fn func(res *backend.BackendResult) error) error {
	bcfg, err := backend.FromAppConfig(e.Config)
	if err != nil {
		return err
	}
	res, err := e.Factory.CreateBackend(ctx, bcfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := res.Cleanup(); err != nil {
			e.Logger.Warn("Failed to release backend", log.FieldError, err)
		}
	}()
	return fn(res)
}

// load refreshes the store and prints guidance for every failed fetch. The
// returned error joins those failures; callers that can work with a partial
// model ignore it.
func (e *Env) load(ctx context.Context, store *datastore.Store, desc bool) error {
	errs := store.Refresh(ctx, desc)
	for _, err := range errs {
		var ue *datastore.UserError
		if errors.As(err, &ue) {
			fmt.Fprintf(e.Err, "warning: %s\n  %s\n", ue.Error(), ue.Guidance)
			continue
		}
		fmt.Fprintf(e.Err, "warning: %v\n", err)
	}
	return errors.Join(errs...)
}

func (e *Env) today() core.Date {
	return core.DateOf(e.Now())
}

func newRefreshCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Reload savings, costs and the sum from the configured backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return env.withBackend(cmd.Context(), func(res *backend.BackendResult) error {
				if err := env.load(cmd.Context(), res.Store, true); err != nil {
					return fmt.Errorf("refresh incomplete: %w", err)
				}
				snap := res.Store.Snapshot()
				fmt.Fprintf(env.Out, "Loaded %d savings and %d costs\n", len(snap.Savings), len(snap.Costs))
				return nil
			})
		},
	}
}

func newListCmd(env *Env) *cobra.Command {
	var costs, asc, expand bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List records grouped by year and month",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return env.withBackend(cmd.Context(), func(res *backend.BackendResult) error {
				_ = env.load(cmd.Context(), res.Store, !asc)

				kind := core.KindSaving
				if costs {
					kind = core.KindCost
				}
				if expand {
					if err := expandAll(res.Store, kind); err != nil {
						return err
					}
				}

				tw := tabwriter.NewWriter(env.Out, 0, 4, 2, ' ', 0)
				if costs {
					printBuckets(tw, res.Store.CostBuckets(), func(c core.CostRecord) string { return "" })
				} else {
					printBuckets(tw, res.Store.SavingBuckets(), func(s core.SavingRecord) string {
						if s.Confirmed {
							return "saved"
						}
						return "pending"
					})
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&costs, "costs", false, "List withdrawals instead of savings")
	cmd.Flags().BoolVar(&asc, "asc", false, "Fetch in ascending date order")
	cmd.Flags().BoolVarP(&expand, "expand", "e", false, "Show the records inside each month")
	return cmd
}

func expandAll(store *datastore.Store, kind core.RecordKind) error {
	var keys []string
	if kind == core.KindCost {
		for _, b := range store.CostBuckets() {
			keys = append(keys, b.Key())
		}
	} else {
		for _, b := range store.SavingBuckets() {
			keys = append(keys, b.Key())
		}
	}
	for _, k := range keys {
		if _, err := store.ToggleExpanded(kind, k); err != nil {
			return err
		}
	}
	return nil
}

func printBuckets[R aggregate.Record](w io.Writer, buckets []aggregate.Bucket[R], status func(R) string) {
	if len(buckets) == 0 {
		fmt.Fprintln(w, "No records")
		return
	}
	for _, b := range buckets {
		fmt.Fprintf(w, "%s\t%d records\t%s\n", b.Key(), len(b.Records), core.FormatAmount(b.Subtotal))
		if !b.Expanded {
			continue
		}
		for _, r := range b.Records {
			fmt.Fprintf(w, "  %s\t%s\t%s\n", r.RecordDate(), core.FormatAmount(r.RecordAmount()), status(r))
		}
	}
}

func newConfirmCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "confirm DATE",
		Short: "Mark the saving for DATE (YYYY-MM-DD) as done",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			date, err := core.ParseDate(args[0])
			if err != nil {
				return err
			}
			return env.withBackend(cmd.Context(), func(res *backend.BackendResult) error {
				_ = env.load(cmd.Context(), res.Store, true)
				if err := res.Store.ConfirmSaving(cmd.Context(), date); err != nil {
					return describe(err)
				}
				res.Store.Wait()
				fmt.Fprintf(env.Out, "Confirmed %s\n", date)
				printTotals(env.Out, res.Store.Totals())
				return nil
			})
		},
	}
}

func newWithdrawCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "withdraw AMOUNT [DATE]",
		Short: "Record money taken out of the savings",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := core.ParseAmount(args[0])
			if err != nil {
				return fmt.Errorf("amount %q: %w", args[0], err)
			}
			date := env.today()
			if len(args) == 2 {
				if date, err = core.ParseDate(args[1]); err != nil {
					return err
				}
			}
			return env.withBackend(cmd.Context(), func(res *backend.BackendResult) error {
				_ = env.load(cmd.Context(), res.Store, true)
				if err := res.Store.RecordWithdrawal(cmd.Context(), amount, date); err != nil {
					return describe(err)
				}
				fmt.Fprintf(env.Out, "Withdrew %s on %s\n", core.FormatAmount(amount), date)
				printTotals(env.Out, res.Store.Totals())
				return nil
			})
		},
	}
}

func newSummaryCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Show cumulative totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return env.withBackend(cmd.Context(), func(res *backend.BackendResult) error {
				_ = env.load(cmd.Context(), res.Store, true)
				printTotals(env.Out, res.Store.Totals())
				return nil
			})
		},
	}
}

func printTotals(w io.Writer, t core.Totals) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Saved\t%s\n", core.FormatAmount(t.CumulativeSaved))
	fmt.Fprintf(tw, "Withdrawn\t%s\n", core.FormatAmount(t.CumulativeCost))
	fmt.Fprintf(tw, "Balance\t%s\n", core.FormatAmount(t.Balance()))
	if t.ServerReportedSum.Valid {
		fmt.Fprintf(tw, "Server sum\t%s\n", core.FormatAmount(t.ServerReportedSum.Decimal))
	}
	tw.Flush()
}

func newTodayCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "today",
		Short: "Show today's proposal, creating it in local mode if needed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return env.withBackend(cmd.Context(), func(res *backend.BackendResult) error {
				if res.Remote != nil {
					last, err := res.Remote.FetchLast(cmd.Context(), env.Config.RemoteBaseURL)
					if err != nil {
						return fmt.Errorf("fetch last saving: %w", err)
					}
					fmt.Fprintf(env.Out, "Latest proposal: %s (%s)\n", core.FormatAmount(last.Amount), state(last.Confirmed))
					return nil
				}

				lo, hi := env.Config.SeedRange()
				proposer, err := services.NewProposer(lo, hi, nil)
				if err != nil {
					return err
				}
				rec, created, err := services.NewSeedProcessor(res.Local, proposer, env.Logger).
					SeedToday(cmd.Context(), env.today())
				if err != nil {
					return err
				}
				verb := "Today's proposal"
				if created {
					verb = "New proposal"
				}
				fmt.Fprintf(env.Out, "%s for %s: %s (%s)\n", verb, rec.Date, core.FormatAmount(rec.Amount), state(rec.Confirmed))
				return nil
			})
		},
	}
}

func state(confirmed bool) string {
	if confirmed {
		return "saved"
	}
	return "pending"
}

func newWatchCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print model change notifications from the broker until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if env.Config.AMQPURL == "" {
				return errors.New("watch needs AMQP_URL")
			}
			client, err := amqp.NewClient(env.Config.AMQPURL, env.Config.AMQPExchange, env.Config.AMQPQueue, env.Logger)
			if err != nil {
				return err
			}
			defer client.Close()

			err = client.ConsumeModelChanged(cmd.Context(), func(msg *amqp.ModelChangedMessage) error {
				fmt.Fprintf(env.Out, "%s\t%s\t%s\tsaved=%s withdrawn=%s\n",
					msg.Timestamp.Format(time.RFC3339), msg.Event, msg.Date, msg.CumulativeSaved, msg.CumulativeCost)
				return nil
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}

// describe prefers the guidance text of a UserError over the raw cause.
func describe(err error) error {
	var ue *datastore.UserError
	if errors.As(err, &ue) && ue.Guidance != "" {
		return fmt.Errorf("%w\n%s", err, ue.Guidance)
	}
	return err
}
