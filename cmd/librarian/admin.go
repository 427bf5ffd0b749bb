package main

import (
	"fmt"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"library-system/internal/audit"
	"library-system/internal/seed"
	"library-system/internal/session"
)

func newSchemaCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "schema", Short: "Database schema"}
	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create the tables if they do not exist",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := session.Bootstrap(cmd.Context(), a.db); err != nil {
				return err
			}
			return a.out.message(map[string]bool{"ok": true}, "Schema initialised")
		},
	})
	return cmd
}

func newSeedCmd(a *app) *cobra.Command {
	var opts seed.Options
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Generate fake books, patrons and borrows",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.LoanDays <= 0 {
				opts.LoanDays = a.cfg.Loan.Days
			}
			sum, err := seed.Run(cmd.Context(), a.svc, opts)
			if err != nil {
				return err
			}
			return a.out.message(sum, fmt.Sprintf("Seeded %d books, %d patrons, %d/%d borrows",
				sum.Books, sum.Patrons, sum.BorrowsOK, sum.BorrowsAttempts))
		},
	}
	f := cmd.Flags()
	f.IntVar(&opts.Books, "books", 100, "number of books")
	f.IntVar(&opts.Patrons, "users", 50, "number of patrons")
	f.IntVar(&opts.Borrows, "borrows", 30, "number of borrow attempts")
	f.IntVar(&opts.LoanDays, "days", 0, "loan period (default: configured)")
	f.Int64Var(&opts.Seed, "seed", 0, "random seed, 0 for random")
	return cmd
}

func newAuditCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Check that the denormalized views agree",
		RunE: func(cmd *cobra.Command, _ []string) error {
			drifts, err := a.auditor.Check(cmd.Context())
			if err != nil && len(drifts) == 0 {
				return err
			}
			rows := lo.Map(drifts, func(d audit.Drift, _ int) []string {
				return []string{d.Kind, d.Key, d.Detail}
			})
			if err := a.out.emit(drifts, []string{"Kind", "Key", "Detail"}, rows); err != nil {
				return err
			}
			if len(drifts) > 0 {
				return fmt.Errorf("%d inconsistencies found", len(drifts))
			}
			return nil
		},
	}
}
