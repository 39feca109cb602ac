// Command creditctl is the operator CLI for the credit ledger: top-ups,
// balance lookups, history and hint reconciliation against Postgres.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/mbd888/customsdesk/internal/ledger"
	"github.com/mbd888/customsdesk/internal/logging"
)

var Version = "dev"

func main() {
	_ = godotenv.Load()
	if err := newRootCmd(&app{open: openLedger}).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app carries what the commands share. open is swapped in tests.
type app struct {
	open func(ctx context.Context) (*ledger.Ledger, func(), error)
}

// openLedger connects to DATABASE_URL, and to REDIS_URL when set so grants
// and reconciliation refresh the same hints the API reads.
func openLedger(ctx context.Context) (*ledger.Ledger, func(), error) {
	logger := logging.New(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	closers := []func() error{db.Close}

	var cache ledger.BalanceCache
	if raw := os.Getenv("REDIS_URL"); raw != "" {
		opts, err := redis.ParseURL(raw)
		if err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		closers = append(closers, client.Close)
		cache = ledger.NewRedisBalanceCache(client, "customsdesk:", 10*time.Minute, logger)
	}

	closeAll := func() {
		for _, c := range closers {
			_ = c()
		}
	}
	return ledger.New(ledger.NewPostgresStore(db), cache, logger), closeAll, nil
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "creditctl",
		Short:         "Operate the customsdesk credit ledger",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().Duration("timeout", 30*time.Second, "Overall command timeout")

	root.AddCommand(a.grantCmd())
	root.AddCommand(a.balanceCmd())
	root.AddCommand(a.historyCmd())
	root.AddCommand(a.reconcileCmd())
	return root
}

// withLedger runs fn with an open ledger under the --timeout deadline.
func (a *app) withLedger(cmd *cobra.Command, fn func(ctx context.Context, l *ledger.Ledger) error) error {
	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	l, closeFn, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(ctx, l)
}

func scopeFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("scope", "s", "user", "Scope type (user or org)")
	cmd.Flags().String("id", "", "User or organization id")
	_ = cmd.MarkFlagRequired("id")
}

func scopeFromFlags(cmd *cobra.Command) (ledger.Scope, error) {
	raw, _ := cmd.Flags().GetString("scope")
	id, _ := cmd.Flags().GetString("id")
	st, ok := ledger.ParseScopeType(raw)
	if !ok {
		return ledger.Scope{}, fmt.Errorf("invalid scope %q: want user or org", raw)
	}
	return ledger.Scope{Type: st, ID: id}, nil
}

func (a *app) grantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Append a top-up or adjustment entry",
		Example: `  creditctl grant --id u_123 --credits 500
  creditctl grant --scope org --id o_42 --credits 100 --reason adjustment --ref ticket-881`,
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := scopeFromFlags(cmd)
			if err != nil {
				return err
			}
			credits, _ := cmd.Flags().GetInt64("credits")
			reasonRaw, _ := cmd.Flags().GetString("reason")
			ref, _ := cmd.Flags().GetString("ref")

			reason := ledger.Reason(reasonRaw)
			if reason != ledger.ReasonTopUp && reason != ledger.ReasonAdjustment {
				return fmt.Errorf("invalid reason %q: want top_up or adjustment", reasonRaw)
			}

			return a.withLedger(cmd, func(ctx context.Context, l *ledger.Ledger) error {
				e, err := l.Grant(ctx, scope, credits, reason, ref)
				if err != nil {
					return err
				}
				bal, err := l.Balance(ctx, scope)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "granted %d to %s (entry %s), balance %d\n", credits, scope, e.ID, bal)
				return nil
			})
		},
	}
	scopeFlags(cmd)
	cmd.Flags().Int64("credits", 0, "Credits to add (positive)")
	cmd.Flags().String("reason", string(ledger.ReasonTopUp), "top_up or adjustment")
	cmd.Flags().String("ref", "", "External reference, e.g. an invoice number")
	_ = cmd.MarkFlagRequired("credits")
	return cmd
}

func (a *app) balanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Print the authoritative balance of a scope",
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := scopeFromFlags(cmd)
			if err != nil {
				return err
			}
			return a.withLedger(cmd, func(ctx context.Context, l *ledger.Ledger) error {
				bal, err := l.Balance(ctx, scope)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", scope, bal)
				return nil
			})
		},
	}
	scopeFlags(cmd)
	return cmd
}

func (a *app) historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List ledger entries, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := scopeFromFlags(cmd)
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")
			cursor, _ := cmd.Flags().GetString("cursor")

			return a.withLedger(cmd, func(ctx context.Context, l *ledger.Ledger) error {
				page, err := l.History(ctx, scope, limit, cursor)
				if err != nil {
					return err
				}
				printEntries(cmd.OutOrStdout(), page.Entries)
				if page.HasMore {
					fmt.Fprintf(cmd.OutOrStdout(), "next: --cursor %s\n", page.NextCursor)
				}
				return nil
			})
		},
	}
	scopeFlags(cmd)
	cmd.Flags().IntP("limit", "n", 20, "Maximum entries")
	cmd.Flags().String("cursor", "", "Continue after this cursor")
	return cmd
}

func printEntries(w io.Writer, entries []*ledger.Entry) {
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%+d\t%s\t%s\n",
			e.CreatedAt.UTC().Format(time.RFC3339), e.ID, e.Quantity, e.Reason, e.ResourceRef)
	}
}

func (a *app) reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Rebuild balance hints from the ledger and report drift",
		Long: `Recomputes every scope's balance from its entries (or only the scope
given with --id) and rewrites the Redis hint. Scopes whose hint disagreed
are listed. Exits non-zero with --fail-on-drift when any were found.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var scopes []ledger.Scope
			if id, _ := cmd.Flags().GetString("id"); id != "" {
				scope, err := scopeFromFlags(cmd)
				if err != nil {
					return err
				}
				scopes = append(scopes, scope)
			}
			failOnDrift, _ := cmd.Flags().GetBool("fail-on-drift")

			return a.withLedger(cmd, func(ctx context.Context, l *ledger.Ledger) error {
				drift, err := l.Reconcile(ctx, scopes...)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, d := range drift {
					fmt.Fprintf(out, "drift\t%s\tcached=%d\tactual=%d\n", d.Scope, d.Cached, d.Actual)
				}
				fmt.Fprintf(out, "reconciled, %d drifted\n", len(drift))
				if failOnDrift && len(drift) > 0 {
					return fmt.Errorf("%d scopes had stale hints", len(drift))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringP("scope", "s", "user", "Scope type (user or org)")
	cmd.Flags().String("id", "", "Only this scope")
	cmd.Flags().Bool("fail-on-drift", false, "Exit non-zero when drift is found")
	return cmd
}
