package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/dig"

	"github.com/davidbz/tally/internal/app"
	"github.com/davidbz/tally/internal/domain"
	"github.com/davidbz/tally/internal/observability"
)

const (
	version          = "0.1.0"
	dateLayout       = "2006-01-02"
	defaultWindow    = 30 * 24 * time.Hour
	defaultTimeout   = 30 * time.Second
	defaultBatchSize = 100
)

var errQueueDisabled = errors.New("reconciliation queue is not configured (set REDIS_ADDR)")

type cli struct {
	build     func() (*dig.Container, error)
	container *dig.Container
	timeout   time.Duration
}

func newRootCmd(build func() (*dig.Container, error)) *cobra.Command {
	c := &cli{build: build}

	rootCmd := &cobra.Command{
		Use:           "tallyctl",
		Short:         "Administer tally balances, usage and pending charges",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			container, err := c.build()
			if err != nil {
				return fmt.Errorf("failed to build container: %w", err)
			}
			c.container = container
			return nil
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if c.container == nil {
				return
			}
			_ = c.container.Invoke(func(closers *app.Closers) { closers.Close() })
		},
	}
	rootCmd.PersistentFlags().DurationVar(&c.timeout, "timeout", defaultTimeout, "Timeout for the whole command")

	rootCmd.AddCommand(
		c.accountCmd(),
		c.balanceCmd(),
		c.usageCmd(),
		c.verifyCmd(),
		c.reconcileCmd(),
		c.reservationsCmd(),
		c.pricingCmd(),
	)
	return rootCmd
}

type params struct {
	dig.In

	Accumulator *domain.Accumulator
	Reporter    *domain.UsageReporter
	Controller  *domain.AdmissionController
	Store       domain.MeteringStore
	Pricing     domain.PricingTable
	Queue       domain.ReconciliationQueue `optional:"true"`
}

// run invokes fn with the resolved services and a context bounded by --timeout.
func (c *cli) run(cmd *cobra.Command, fn func(context.Context, params) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), c.timeout)
	defer cancel()

	return c.container.Invoke(func(p params) error {
		return fn(ctx, p)
	})
}

func (c *cli) accountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Account management",
	}

	createCmd := &cobra.Command{
		Use:   "create <user-id>",
		Short: "Create an account with a spend ceiling",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, _ := cmd.Flags().GetString("ceiling")
			ceiling, err := domain.ParseMoney(raw)
			if err != nil {
				return fmt.Errorf("invalid ceiling: %w", err)
			}

			return c.run(cmd, func(ctx context.Context, p params) error {
				balance, err := p.Accumulator.CreateAccount(ctx, args[0], ceiling)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), balanceView(balance))
			})
		},
	}
	createCmd.Flags().String("ceiling", "0", "Spend ceiling in USD")

	ceilingCmd := &cobra.Command{
		Use:   "ceiling <user-id> <amount>",
		Short: "Replace the spend ceiling of an account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ceiling, err := domain.ParseMoney(args[1])
			if err != nil {
				return fmt.Errorf("invalid ceiling: %w", err)
			}

			return c.run(cmd, func(ctx context.Context, p params) error {
				balance, err := p.Accumulator.SetCeiling(ctx, args[0], ceiling)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), balanceView(balance))
			})
		},
	}

	cmd.AddCommand(createCmd, ceilingCmd)
	return cmd
}

func (c *cli) balanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Balance operations",
	}

	getCmd := &cobra.Command{
		Use:   "get <user-id>",
		Short: "Show cumulative spend against the ceiling",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, p params) error {
				balance, err := p.Accumulator.GetBalance(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), balanceView(balance))
			})
		},
	}

	cmd.AddCommand(getCmd)
	return cmd
}

func (c *cli) usageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Usage reporting",
	}

	summaryCmd := &cobra.Command{
		Use:   "summary <user-id>",
		Short: "Summarize usage per day and per model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fromRaw, _ := cmd.Flags().GetString("from")
			toRaw, _ := cmd.Flags().GetString("to")

			to := time.Now().UTC()
			if toRaw != "" {
				parsed, err := parseTime(toRaw)
				if err != nil {
					return fmt.Errorf("invalid --to: %w", err)
				}
				to = parsed
			}
			from := to.Add(-defaultWindow)
			if fromRaw != "" {
				parsed, err := parseTime(fromRaw)
				if err != nil {
					return fmt.Errorf("invalid --from: %w", err)
				}
				from = parsed
			}
			if !from.Before(to) {
				return errors.New("--from must be before --to")
			}

			return c.run(cmd, func(ctx context.Context, p params) error {
				summary, err := p.Reporter.Summary(ctx, args[0], from, to)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), summary)
			})
		},
	}
	summaryCmd.Flags().String("from", "", "Start of the range (YYYY-MM-DD or RFC3339, default 30 days before --to)")
	summaryCmd.Flags().String("to", "", "End of the range, exclusive (YYYY-MM-DD or RFC3339, default now)")

	cmd.AddCommand(summaryCmd)
	return cmd
}

func (c *cli) verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <user-id>...",
		Short: "Check that cumulative spend equals the ledger total",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, p params) error {
				reports := make([]*domain.IntegrityReport, 0, len(args))
				inconsistent := 0
				for _, userID := range args {
					report, err := p.Accumulator.Verify(ctx, userID)
					if err != nil {
						return fmt.Errorf("failed to verify %s: %w", userID, err)
					}
					if !report.Consistent {
						inconsistent++
					}
					reports = append(reports, report)
				}

				if err := printJSON(cmd.OutOrStdout(), reports); err != nil {
					return err
				}
				if inconsistent > 0 {
					return fmt.Errorf("balance mismatch detected for %d account(s)", inconsistent)
				}
				return nil
			})
		},
	}
}

type reconcileResult struct {
	Replayed   int `json:"replayed"`
	Duplicates int `json:"duplicates"`
	Failed     int `json:"failed"`
}

func (c *cli) reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Replay charges that failed after a successful generation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt64("limit")
			if limit <= 0 {
				return errors.New("--limit must be positive")
			}

			return c.run(cmd, func(ctx context.Context, p params) error {
				if p.Queue == nil {
					return errQueueDisabled
				}

				logger := observability.FromContext(ctx)
				var result reconcileResult
				after := ""
				for {
					pending, next, err := p.Queue.Pending(ctx, after, limit)
					if err != nil {
						return err
					}
					if next == "" {
						break
					}
					after = next

					for _, charge := range pending {
						replayed, err := p.Controller.Replay(ctx, charge)
						if err != nil {
							// Left in the queue for the next run; the cursor moves past it.
							logger.Error("failed to replay charge",
								observability.String("id", charge.ID),
								observability.String("message_id", charge.Record.MessageID),
								observability.Error(err))
							result.Failed++
							continue
						}

						if err := p.Queue.Ack(ctx, charge.ID); err != nil {
							return err
						}
						if replayed.BillingStatus == domain.BillingDuplicate {
							result.Duplicates++
						} else {
							result.Replayed++
						}
					}
				}

				if err := printJSON(cmd.OutOrStdout(), result); err != nil {
					return err
				}
				if result.Failed > 0 {
					return fmt.Errorf("%d charge(s) could not be replayed", result.Failed)
				}
				return nil
			})
		},
	}
	cmd.Flags().Int64("limit", defaultBatchSize, "Number of pending charges read per batch")
	return cmd
}

func (c *cli) reservationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reservations",
		Short: "Reservation maintenance",
	}

	purgeCmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete reservations that expired before now minus --older-than",
		RunE: func(cmd *cobra.Command, _ []string) error {
			olderThan, _ := cmd.Flags().GetDuration("older-than")

			return c.run(cmd, func(ctx context.Context, p params) error {
				purged, err := p.Store.PurgeExpiredReservations(ctx, time.Now().UTC().Add(-olderThan))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]int64{"purged": purged})
			})
		},
	}
	purgeCmd.Flags().Duration("older-than", 0, "Only purge reservations expired for at least this long")

	cmd.AddCommand(purgeCmd)
	return cmd
}

type priceView struct {
	Model  string `json:"model"`
	Input  string `json:"input"`
	Output string `json:"output"`
}

func (c *cli) pricingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pricing",
		Short: "Pricing table",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List per-token prices of every known model",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.run(cmd, func(ctx context.Context, p params) error {
				models := p.Pricing.Models(ctx)
				prices := make([]priceView, 0, len(models))
				for _, model := range models {
					entry, err := p.Pricing.Lookup(ctx, model)
					if err != nil {
						return err
					}
					prices = append(prices, priceView{
						Model:  model,
						Input:  domain.FormatMoney(entry.InputUnitCost),
						Output: domain.FormatMoney(entry.OutputUnitCost),
					})
				}
				return printJSON(cmd.OutOrStdout(), prices)
			})
		},
	}

	cmd.AddCommand(listCmd)
	return cmd
}

type accountView struct {
	UserID          string `json:"user_id"`
	CumulativeSpend string `json:"cumulative_spend"`
	SpendCeiling    string `json:"spend_ceiling"`
	Remaining       string `json:"remaining"`
	UnderCeiling    bool   `json:"under_ceiling"`
}

func balanceView(b *domain.UserBalance) accountView {
	remaining := b.SpendCeiling.Sub(b.CumulativeSpend)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}

	return accountView{
		UserID:          b.UserID,
		CumulativeSpend: domain.FormatMoney(b.CumulativeSpend),
		SpendCeiling:    domain.FormatMoney(b.SpendCeiling),
		Remaining:       domain.FormatMoney(remaining),
		UnderCeiling:    b.CumulativeSpend.LessThan(b.SpendCeiling),
	}
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
