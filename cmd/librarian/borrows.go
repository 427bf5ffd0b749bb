package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"library-system/internal/services"
)

func newBorrowsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "borrows", Short: "Borrow and return books"}
	cmd.AddCommand(newBorrowCmd(a), newReturnCmd(a))
	return cmd
}

func newBorrowCmd(a *app) *cobra.Command {
	var (
		patron patronFlags
		isbn   string
		days   int
	)
	cmd := &cobra.Command{
		Use:   "borrow",
		Short: "Lend a copy of a book to a patron",
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := patron.resolve(cmd, a)
			if err != nil {
				return err
			}
			return a.report(a.svc.BorrowBook(cmd.Context(), id, isbn, days))
		},
	}
	patron.register(cmd)
	cmd.Flags().StringVar(&isbn, "isbn", "", "ISBN")
	cmd.Flags().IntVar(&days, "days", 0, "loan period in days (default: configured)")
	_ = cmd.MarkFlagRequired("isbn")
	return cmd
}

func newReturnCmd(a *app) *cobra.Command {
	var (
		patron patronFlags
		isbn   string
	)
	cmd := &cobra.Command{
		Use:   "return",
		Short: "Take back a patron's copy of a book",
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := patron.resolve(cmd, a)
			if err != nil {
				return err
			}
			return a.report(a.svc.ReturnBook(cmd.Context(), id, isbn))
		},
	}
	patron.register(cmd)
	cmd.Flags().StringVar(&isbn, "isbn", "", "ISBN")
	_ = cmd.MarkFlagRequired("isbn")
	return cmd
}

// errRefused marks a borrow or return that was refused or failed after its
// result was printed.
var errRefused = errors.New("refused")

// report prints the result and turns a refusal into a non-zero exit.
func (a *app) report(res services.Result) error {
	if err := a.out.message(res, res.Message); err != nil {
		return err
	}
	if res.OK {
		return nil
	}
	return fmt.Errorf("%w: %s", errRefused, res.Message)
}
