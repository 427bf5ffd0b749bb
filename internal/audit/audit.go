// Package audit detects drift between the denormalized views. It only reads;
// repairing drift is left to an operator.
package audit

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/samber/lo"

	"library-system/internal/logger"
	"library-system/internal/models"
	"library-system/internal/repositories"
)

// Drift describes one inconsistency.
type Drift struct {
	Kind   string `json:"kind"`
	Key    string `json:"key"`
	Detail string `json:"detail"`
}

func (d Drift) Error() string {
	return fmt.Sprintf("%s %s: %s", d.Kind, d.Key, d.Detail)
}

const (
	KindCopyBounds     = "copy_bounds"
	KindCategoryView   = "category_view"
	KindAuthorView     = "author_view"
	KindActiveCounter  = "active_counter"
	KindHistoryMissing = "history_missing"
	KindHistoryNotOpen = "history_not_open"
	KindActiveOrphan   = "active_orphan_book"
	KindLoanCount      = "loan_count"
)

type Auditor struct {
	books repositories.BookRepository
	users repositories.UserRepository
	loans repositories.LoanRepository
}

func New(books repositories.BookRepository, users repositories.UserRepository, loans repositories.LoanRepository) *Auditor {
	return &Auditor{books: books, users: users, loans: loans}
}

// Check scans every book and every patron. The returned error is a
// *multierror.Error of Drift values, or nil when the views agree. A storage
// error aborts the scan and is returned as is.
func (a *Auditor) Check(ctx context.Context) ([]Drift, error) {
	var result *multierror.Error

	books, err := a.books.List(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	for _, book := range books {
		drifts, err := a.checkBook(ctx, book)
		if err != nil {
			return nil, err
		}
		for _, d := range drifts {
			result = multierror.Append(result, d)
		}
	}

	users, err := a.users.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	for _, user := range users {
		drifts, err := a.checkUser(ctx, user)
		if err != nil {
			return nil, err
		}
		for _, d := range drifts {
			result = multierror.Append(result, d)
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		logger.GetLogger(ctx).WithField("drifts", result.Len()).Warn("Audit: views disagree")
		return toDrifts(result), err
	}
	logger.GetLogger(ctx).WithFields(map[string]any{"books": len(books), "users": len(users)}).Info("Audit: views agree")
	return nil, nil
}

func toDrifts(merr *multierror.Error) []Drift {
	return lo.FilterMap(merr.Errors, func(err error, _ int) (Drift, bool) {
		d, ok := err.(Drift)
		return d, ok
	})
}

func (a *Auditor) checkBook(ctx context.Context, book models.Book) ([]Drift, error) {
	var drifts []Drift
	if book.AvailableCopies < 0 || book.AvailableCopies > book.TotalCopies {
		drifts = append(drifts, Drift{
			Kind:   KindCopyBounds,
			Key:    book.ISBN,
			Detail: fmt.Sprintf("available %d outside [0, %d]", book.AvailableCopies, book.TotalCopies),
		})
	}

	history, err := a.loans.HistoryByBook(ctx, book.ISBN)
	if err != nil {
		return nil, fmt.Errorf("history of book %s: %w", book.ISBN, err)
	}
	out := lo.CountBy(history, func(h models.BorrowByBook) bool { return h.Status == models.LoanStatusBorrowed })
	if book.AvailableCopies != book.TotalCopies-out {
		drifts = append(drifts, Drift{
			Kind:   KindLoanCount,
			Key:    book.ISBN,
			Detail: fmt.Sprintf("available %d, total %d with %d open loans", book.AvailableCopies, book.TotalCopies, out),
		})
	}

	byCategory, err := a.books.ListByCategory(ctx, book.Category)
	if err != nil {
		return nil, fmt.Errorf("list category %q: %w", book.Category, err)
	}
	row, ok := lo.Find(byCategory, func(b models.BookByCategory) bool { return b.ISBN == book.ISBN && b.Title == book.Title })
	switch {
	case !ok:
		drifts = append(drifts, Drift{Kind: KindCategoryView, Key: book.ISBN, Detail: "row missing"})
	case row.AvailableCopies != book.AvailableCopies:
		drifts = append(drifts, Drift{
			Kind:   KindCategoryView,
			Key:    book.ISBN,
			Detail: fmt.Sprintf("available %d, books_by_id has %d", row.AvailableCopies, book.AvailableCopies),
		})
	}

	byAuthor, err := a.books.ListByAuthor(ctx, book.Author)
	if err != nil {
		return nil, fmt.Errorf("list author %q: %w", book.Author, err)
	}
	arow, ok := lo.Find(byAuthor, func(b models.BookByAuthor) bool { return b.ISBN == book.ISBN && b.Title == book.Title })
	switch {
	case !ok:
		drifts = append(drifts, Drift{Kind: KindAuthorView, Key: book.ISBN, Detail: "row missing"})
	case arow.AvailableCopies != book.AvailableCopies:
		drifts = append(drifts, Drift{
			Kind:   KindAuthorView,
			Key:    book.ISBN,
			Detail: fmt.Sprintf("available %d, books_by_id has %d", arow.AvailableCopies, book.AvailableCopies),
		})
	}
	return drifts, nil
}

func (a *Auditor) checkUser(ctx context.Context, user models.User) ([]Drift, error) {
	var drifts []Drift
	key := user.UserID.String()

	active, err := a.loans.ActiveByUser(ctx, user.UserID)
	if err != nil {
		return nil, fmt.Errorf("active loans of %s: %w", key, err)
	}
	if len(active) != user.ActiveBorrows {
		drifts = append(drifts, Drift{
			Kind:   KindActiveCounter,
			Key:    key,
			Detail: fmt.Sprintf("active_borrows %d, active-loan rows %d", user.ActiveBorrows, len(active)),
		})
	}
	if len(active) == 0 {
		return drifts, nil
	}

	history, err := a.loans.HistoryByUser(ctx, user.UserID)
	if err != nil {
		return nil, fmt.Errorf("history of %s: %w", key, err)
	}
	for _, loan := range active {
		loanKey := fmt.Sprintf("%s/%s/%s", key, loan.BorrowDate.UTC().Format("2006-01-02T15:04:05.000Z"), loan.ISBN)

		row, ok := lo.Find(history, func(h models.BorrowByUser) bool {
			return h.ISBN == loan.ISBN && h.BorrowDate.Equal(loan.BorrowDate)
		})
		switch {
		case !ok:
			drifts = append(drifts, Drift{Kind: KindHistoryMissing, Key: loanKey, Detail: "no borrows_by_user row"})
		case row.Status != models.LoanStatusBorrowed:
			drifts = append(drifts, Drift{Kind: KindHistoryNotOpen, Key: loanKey, Detail: "borrows_by_user status " + string(row.Status)})
		}

		byBook, err := a.loans.HistoryByBook(ctx, loan.ISBN)
		if err != nil {
			return nil, fmt.Errorf("history of book %s: %w", loan.ISBN, err)
		}
		brow, ok := lo.Find(byBook, func(h models.BorrowByBook) bool {
			return h.UserID == user.UserID && h.BorrowDate.Equal(loan.BorrowDate)
		})
		switch {
		case !ok:
			drifts = append(drifts, Drift{Kind: KindHistoryMissing, Key: loanKey, Detail: "no borrows_by_book row"})
		case brow.Status != models.LoanStatusBorrowed:
			drifts = append(drifts, Drift{Kind: KindHistoryNotOpen, Key: loanKey, Detail: "borrows_by_book status " + string(brow.Status)})
		}

		if _, err := a.books.GetByISBN(ctx, loan.ISBN); repositories.IsNotFound(err) {
			drifts = append(drifts, Drift{Kind: KindActiveOrphan, Key: loanKey, Detail: "book no longer exists"})
		} else if err != nil {
			return nil, fmt.Errorf("book %s: %w", loan.ISBN, err)
		}
	}
	return drifts, nil
}
