package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"library-system/internal/models"
	"library-system/internal/services"
)

// patronFlags lets a command take either --user-id or --email.
type patronFlags struct {
	userID string
	email  string
}

func (p *patronFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&p.userID, "user-id", "", "patron id")
	cmd.Flags().StringVar(&p.email, "email", "", "patron email")
	cmd.MarkFlagsOneRequired("user-id", "email")
	cmd.MarkFlagsMutuallyExclusive("user-id", "email")
}

func (p *patronFlags) resolve(cmd *cobra.Command, a *app) (uuid.UUID, error) {
	if p.userID != "" {
		id, err := uuid.Parse(p.userID)
		if err != nil {
			return uuid.Nil, fmt.Errorf("invalid --user-id: %w", err)
		}
		return id, nil
	}
	id, err := a.svc.FindPatronIDByEmail(cmd.Context(), p.email)
	if errors.Is(err, services.ErrPatronNotFound) {
		return uuid.Nil, fmt.Errorf("no patron with email %s", p.email)
	}
	return id, err
}

func newUsersCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "users", Short: "Manage patrons"}
	cmd.AddCommand(
		newUsersRegisterCmd(a),
		newUsersProfileCmd(a),
		newUsersActiveCmd(a),
		newUsersHistoryCmd(a),
	)
	return cmd
}

func newUsersRegisterCmd(a *app) *cobra.Command {
	var in services.PatronInput
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a patron",
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := a.svc.CreatePatron(cmd.Context(), in)
			if err != nil {
				return fmt.Errorf("register: %w", err)
			}
			return a.out.message(map[string]any{"user_id": id}, "Patron registered: "+id.String())
		},
	}
	f := cmd.Flags()
	f.StringVar(&in.Email, "email", "", "email")
	f.StringVar(&in.FirstName, "first-name", "", "first name")
	f.StringVar(&in.LastName, "last-name", "", "last name")
	f.StringVar(&in.Phone, "phone", "", "phone")
	f.StringVar(&in.Address, "address", "", "address")
	for _, name := range []string{"email", "first-name", "last-name"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func newUsersProfileCmd(a *app) *cobra.Command {
	var patron patronFlags
	cmd := &cobra.Command{
		Use:     "profile",
		Aliases: []string{"show"},
		Short:   "Show a patron",
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := patron.resolve(cmd, a)
			if err != nil {
				return err
			}
			user, err := a.svc.GetPatron(cmd.Context(), id)
			if err != nil {
				return err
			}
			return a.out.record(user, [][2]string{
				{"ID", user.UserID.String()},
				{"Name", user.FullName()},
				{"Email", user.Email},
				{"Registered", user.RegistrationDate.UTC().Format("2006-01-02 15:04:05")},
				{"Total borrows", strconv.Itoa(user.TotalBorrows)},
				{"Active borrows", strconv.Itoa(user.ActiveBorrows)},
			})
		},
	}
	patron.register(cmd)
	return cmd
}

func newUsersActiveCmd(a *app) *cobra.Command {
	var patron patronFlags
	cmd := &cobra.Command{
		Use:   "active-borrows",
		Short: "List a patron's open loans",
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := patron.resolve(cmd, a)
			if err != nil {
				return err
			}
			loans, err := a.svc.GetActiveLoans(cmd.Context(), id)
			if err != nil {
				return err
			}
			rows := lo.Map(loans, func(l services.ActiveLoan, _ int) []string {
				overdue := ""
				if l.Overdue {
					overdue = "OVERDUE"
				}
				return []string{l.Title, l.ISBN, day(l.BorrowDate), day(l.DueDate), overdue}
			})
			return a.out.emit(loans, []string{"Title", "ISBN", "Borrowed", "Due", ""}, rows)
		},
	}
	patron.register(cmd)
	return cmd
}

func newUsersHistoryCmd(a *app) *cobra.Command {
	var patron patronFlags
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List every loan of a patron, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := patron.resolve(cmd, a)
			if err != nil {
				return err
			}
			loans, err := a.svc.PatronLoanHistory(cmd.Context(), id)
			if err != nil {
				return err
			}
			rows := lo.Map(loans, func(l models.BorrowByUser, _ int) []string {
				return []string{l.BookTitle, l.ISBN, string(l.Status), day(l.BorrowDate), day(l.DueDate), stamp(l.ReturnDate)}
			})
			return a.out.emit(loans, []string{"Title", "ISBN", "Status", "Borrowed", "Due", "Returned"}, rows)
		},
	}
	patron.register(cmd)
	return cmd
}
