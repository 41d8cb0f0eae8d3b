package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/dmehra2102/payment-aggregator/internal/config"
	"github.com/dmehra2102/payment-aggregator/internal/payment/bootstrap"
	"github.com/dmehra2102/payment-aggregator/internal/payment/domain"
	"github.com/dmehra2102/payment-aggregator/internal/payment/providers/simulator"
	"github.com/dmehra2102/payment-aggregator/pkg/logging"
	"github.com/spf13/cobra"
)

// env is what every subcommand needs: configuration, a logger and the stores.
type env struct {
	cfg    *config.Config
	log    *slog.Logger
	stores bootstrap.Stores
}

func open(cmd *cobra.Command) (*env, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	log := logging.New("payctl", cfg.LogLevel)
	stores, err := bootstrap.OpenStores(cmd.Context(), log, cfg.Postgres)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, log: log, stores: stores}, nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the ledger tables in Postgres",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := open(cmd)
			if err != nil {
				return err
			}
			defer e.stores.Close()
			if e.stores.Pool == nil {
				return errors.New("migrate needs a postgres url (pg.url or MONOPAY_PG_URL)")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			return nil
		},
	}
}

func reconcileCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Refresh every pending payment from its provider",
		Long: `Walks the ledger and asks the owning provider for the current state of
every pending payment, persisting whatever changed.

Examples:
  payctl reconcile
  payctl reconcile --timeout 2m --config configs/aggregator.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := open(cmd)
			if err != nil {
				return err
			}
			defer e.stores.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			sched := simulator.NewScheduler(ctx)
			defer sched.Close()

			svc, err := bootstrap.NewService(e.log, e.cfg, sched, e.stores)
			if err != nil {
				return err
			}
			res, err := svc.ReconcilePending(ctx)
			if err != nil {
				return fmt.Errorf("reconcile: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "checked %d, settled %d, failed %d\n", res.Checked, res.Settled, res.Failed)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "abort the sweep after this long")
	return cmd
}

func paymentsCmd() *cobra.Command {
	var (
		status string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "payments",
		Short: "List ledger payments, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var filter domain.Status
			if status != "" {
				s, ok := domain.ParseStatus(status)
				if !ok {
					return fmt.Errorf("unknown status %q", status)
				}
				filter = s
			}

			e, err := open(cmd)
			if err != nil {
				return err
			}
			defer e.stores.Close()

			all, err := e.stores.Ledger.FindAll(cmd.Context())
			if err != nil {
				return err
			}
			payments := all[:0]
			for _, p := range all {
				if filter == "" || p.Status == filter {
					payments = append(payments, p)
				}
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(payments)
			}
			return printPayments(cmd, payments)
		},
	}
	cmd.Flags().StringVarP(&status, "status", "s", "", "only show payments with this status")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func printPayments(cmd *cobra.Command, payments []domain.PaymentResponse) error {
	if len(payments) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no payments")
		return nil
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tMETHOD\tSTATUS\tAMOUNT\tCREATED")
	for _, p := range payments {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s %s\t%s\n", p.ID, p.PaymentMethod, p.Status, p.Amount.StringFixed(2), p.Currency, p.CreatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}
