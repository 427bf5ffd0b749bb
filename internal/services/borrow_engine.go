package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"library-system/internal/logger"
	"library-system/internal/models"
	"library-system/internal/repositories"
	"library-system/internal/session"
)

// ─── Result ───────────────────────────────────────────────────────────────────

// Result is the outcome of a borrow or return. Expected refusals (missing
// book, no copies, ...) are results, not Go errors; Err carries the sentinel
// so callers can branch with errors.Is.
//
// When a write fails part-way, Completed lists the steps already applied and
// Failed names the step that raised. Nothing is rolled back.
type Result struct {
	OK        bool     `json:"ok"`
	Message   string   `json:"message"`
	Err       error    `json:"-"`
	Completed []string `json:"completed,omitempty"`
	Failed    string   `json:"failed,omitempty"`
	Attempts  int      `json:"attempts,omitempty"`
}

func failure(err error, message string) Result {
	return Result{OK: false, Message: message, Err: err}
}

// Partial reports whether a failed result left some writes applied.
func (r Result) Partial() bool {
	return !r.OK && len(r.Completed) > 0
}

// ─── Engine ───────────────────────────────────────────────────────────────────

// BorrowEngine owns the full write fan-out of a borrow and a return.
//
// Write order for both: book copy counts (books_by_id, books_by_category,
// books_by_author), then loan history, then the active-loan view, then patron
// counters. A crash part-way therefore under-counts availability rather than
// promising copies that do not exist.
//
// Concurrent calls are not coordinated: two borrows of the last copy can both
// read available_copies = 1 and both succeed. WithConditionalCopies closes
// that window by guarding the books_by_id write and retrying on conflict.
type BorrowEngine struct {
	sess  session.Session
	books repositories.BookRepository
	users repositories.UserRepository
	loans repositories.LoanRepository

	loanDays    int
	now         func() time.Time
	conditional bool
	retry       retryConfig
}

type EngineOption func(*BorrowEngine) error

// WithLoanPeriod sets the loan length used when Borrow gets loanDays <= 0.
func WithLoanPeriod(days int) EngineOption {
	return func(e *BorrowEngine) error {
		if days <= 0 {
			return fmt.Errorf("loan period must be positive, got %d", days)
		}
		e.loanDays = days
		return nil
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) EngineOption {
	return func(e *BorrowEngine) error {
		e.now = now
		return nil
	}
}

// WithConditionalCopies makes the books_by_id copy update a compare-and-set
// against the value read at the start of the operation. A lost race is
// detected before any other write and the whole operation is retried.
func WithConditionalCopies(options ...RetryOption) EngineOption {
	return func(e *BorrowEngine) error {
		for _, option := range options {
			if err := option(&e.retry); err != nil {
				return err
			}
		}
		e.conditional = true
		return nil
	}
}

func NewBorrowEngine(
	sess session.Session,
	books repositories.BookRepository,
	users repositories.UserRepository,
	loans repositories.LoanRepository,
	options ...EngineOption,
) (*BorrowEngine, error) {
	e := &BorrowEngine{
		sess:     sess,
		books:    books,
		users:    users,
		loans:    loans,
		loanDays: LoanPeriodDays,
		now:      time.Now,
		retry:    defaultRetryConfig(),
	}
	for _, option := range options {
		if err := option(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// timestamp returns the current time at the precision stored in loan keys.
func (e *BorrowEngine) timestamp() time.Time {
	return e.now().UTC().Truncate(time.Millisecond)
}

// ─── Borrow ───────────────────────────────────────────────────────────────────

// Borrow lends one copy of isbn to patronID for loanDays days (the configured
// period when loanDays <= 0).
//
// Checks, first failure wins: the book exists, it has a copy available, the
// patron exists.
func (e *BorrowEngine) Borrow(ctx context.Context, patronID uuid.UUID, isbn string, loanDays int) Result {
	if loanDays <= 0 {
		loanDays = e.loanDays
	}
	return e.run(ctx, "Borrow", func(ctx context.Context) Result {
		return e.borrowOnce(ctx, patronID, isbn, loanDays)
	})
}

func (e *BorrowEngine) borrowOnce(ctx context.Context, patronID uuid.UUID, isbn string, loanDays int) Result {
	log := logger.GetLogger(ctx).WithFields(logrus.Fields{"user_id": patronID, "isbn": isbn})

	book, err := e.books.GetByISBN(ctx, isbn)
	if err != nil {
		if repositories.IsNotFound(err) {
			log.Info("Borrow: book not found")
			return failure(ErrBookNotFound, "Book not found")
		}
		log.WithError(err).Error("Borrow: failed to read book")
		return failure(fmt.Errorf("%w: %w", ErrReadFailure, err), fmt.Sprintf("Borrow failed: %v", err))
	}

	if book.AvailableCopies <= 0 {
		log.Info("Borrow: no copies available")
		return failure(ErrNoCopies, "No copies available")
	}

	user, err := e.users.GetByID(ctx, patronID)
	if err != nil {
		if repositories.IsNotFound(err) {
			log.Info("Borrow: patron not found")
			return failure(ErrPatronNotFound, "Patron not found")
		}
		log.WithError(err).Error("Borrow: failed to read patron")
		return failure(fmt.Errorf("%w: %w", ErrReadFailure, err), fmt.Sprintf("Borrow failed: %v", err))
	}

	now := e.timestamp()
	due := now.AddDate(0, 0, loanDays)

	plan := e.books.AvailableCopiesPlan(*book, book.AvailableCopies-1, e.conditional).
		Then(e.loans.BorrowPlan(repositories.NewLoan{
			UserID:     user.UserID,
			UserName:   user.FullName(),
			ISBN:       book.ISBN,
			BookTitle:  book.Title,
			BorrowDate: now,
			DueDate:    due,
		})).
		Then(e.users.CountersPlan(user.UserID, user.TotalBorrows+1, user.ActiveBorrows+1))

	report := plan.Apply(ctx, e.sess)
	if res, failed := e.planFailure(log, "Borrow", report); failed {
		return res
	}

	log.WithField("due", due.Format("2006-01-02")).Infof("Borrow: lent %q", book.Title)
	return Result{
		OK:        true,
		Message:   fmt.Sprintf("Borrowed %q, due %s", book.Title, due.Format("2006-01-02")),
		Completed: report.Completed,
	}
}

// ─── Return ───────────────────────────────────────────────────────────────────

// Return closes patronID's open loan on isbn. The loan is found by scanning
// the patron's active-loan partition; its borrow date is the key component
// needed to update both history rows.
//
// Re-running a return that failed after borrows_by_user was marked RETURNED
// skips the copy-count writes. A failure earlier than that, inside the copy
// writes or at borrows_by_user.return itself, cannot be told apart from a
// fresh return and the re-run adds the copy again; audit reports the
// resulting loan_count drift.
func (e *BorrowEngine) Return(ctx context.Context, patronID uuid.UUID, isbn string) Result {
	return e.run(ctx, "Return", func(ctx context.Context) Result {
		return e.returnOnce(ctx, patronID, isbn)
	})
}

func (e *BorrowEngine) returnOnce(ctx context.Context, patronID uuid.UUID, isbn string) Result {
	log := logger.GetLogger(ctx).WithFields(logrus.Fields{"user_id": patronID, "isbn": isbn})

	active, err := e.loans.ActiveByUser(ctx, patronID)
	if err != nil {
		log.WithError(err).Error("Return: failed to read active loans")
		return failure(fmt.Errorf("%w: %w", ErrReadFailure, err), fmt.Sprintf("Return failed: %v", err))
	}
	loan, ok := lo.Find(active, func(a models.ActiveBorrow) bool { return a.ISBN == isbn })
	if !ok {
		log.Info("Return: no active loan")
		return failure(ErrActiveLoanNotFound, "No active loan found for this book")
	}

	book, err := e.books.GetByISBN(ctx, isbn)
	if err != nil {
		if repositories.IsNotFound(err) {
			log.Warn("Return: active loan points at a missing book")
			return failure(ErrBookNotFound, "Book not found")
		}
		log.WithError(err).Error("Return: failed to read book")
		return failure(fmt.Errorf("%w: %w", ErrReadFailure, err), fmt.Sprintf("Return failed: %v", err))
	}

	user, err := e.users.GetByID(ctx, patronID)
	if err != nil {
		if repositories.IsNotFound(err) {
			log.Warn("Return: patron not found")
			return failure(ErrPatronNotFound, "Patron not found")
		}
		log.WithError(err).Error("Return: failed to read patron")
		return failure(fmt.Errorf("%w: %w", ErrReadFailure, err), fmt.Sprintf("Return failed: %v", err))
	}

	// A RETURNED history row under an open active loan means an earlier
	// return stopped after its copy writes; resume it without adding the copy
	// back a second time.
	entry, err := e.loans.UserLoan(ctx, patronID, loan.BorrowDate, isbn)
	if err != nil && !repositories.IsNotFound(err) {
		log.WithError(err).Error("Return: failed to read loan history")
		return failure(fmt.Errorf("%w: %w", ErrReadFailure, err), fmt.Sprintf("Return failed: %v", err))
	}
	resumed := err == nil && entry.Status == models.LoanStatusReturned

	now := e.timestamp()
	var plan repositories.WritePlan
	if resumed {
		log.Warn("Return: resuming an interrupted return, copy count already restored")
		if entry.ReturnDate != nil {
			now = *entry.ReturnDate
		}
	} else {
		// Clamp guards against double returns and counter drift.
		available := min(book.AvailableCopies+1, book.TotalCopies)
		if available != book.AvailableCopies+1 {
			log.WithFields(logrus.Fields{"available": book.AvailableCopies, "total": book.TotalCopies}).
				Warn("Return: available copies already at total, clamping")
		}
		plan = e.books.AvailableCopiesPlan(*book, available, e.conditional)
	}
	plan = plan.
		Then(e.loans.ReturnPlan(patronID, isbn, loan.BorrowDate, now)).
		Then(e.users.CountersPlan(user.UserID, user.TotalBorrows, max(0, user.ActiveBorrows-1)))

	report := plan.Apply(ctx, e.sess)
	if res, failed := e.planFailure(log, "Return", report); failed {
		return res
	}

	log.Infof("Return: received %q", book.Title)
	return Result{
		OK:        true,
		Message:   fmt.Sprintf("Returned %q", book.Title),
		Completed: report.Completed,
	}
}

// ─── Internal Helpers ─────────────────────────────────────────────────────────

// run executes op once, or under the retry loop when conditional copy
// updates are enabled.
func (e *BorrowEngine) run(ctx context.Context, op string, once func(context.Context) Result) Result {
	if !e.conditional {
		res := once(ctx)
		res.Attempts = 1
		return res
	}

	var res Result
	meta, err := retry(ctx, func(ctx context.Context) error {
		res = once(ctx)
		if errors.Is(res.Err, ErrConcurrencyConflict) {
			return res.Err
		}
		return nil
	}, e.retry)
	res.Attempts = meta.Attempts

	switch {
	case meta.RetriesExhausted:
		logger.GetLogger(ctx).WithField("attempts", meta.Attempts).
			Warnf("%s: copy count kept changing, giving up", op)
		res.Message = fmt.Sprintf("%s failed: copy count changed concurrently, retries exhausted", op)
	case err != nil && !errors.Is(err, ErrConcurrencyConflict):
		// Context ended between attempts; the last attempt wrote nothing.
		res = failure(err, fmt.Sprintf("%s aborted: %v", op, err))
		res.Attempts = meta.Attempts
	}
	return res
}

func (e *BorrowEngine) planFailure(log *logrus.Entry, op string, report repositories.PlanReport) (Result, bool) {
	if report.OK() {
		return Result{}, false
	}

	if errors.Is(report.Err, repositories.ErrConditionNotMet) {
		log.WithField("step", report.Failed).Info(op + ": copy count changed since read")
		res := failure(fmt.Errorf("%w: %w", ErrConcurrencyConflict, report.Err), op+" failed: copy count changed concurrently")
		res.Completed = report.Completed
		res.Failed = report.Failed
		return res, true
	}

	log.WithFields(logrus.Fields{"step": report.Failed, "completed": report.Completed}).
		WithError(report.Err).Error(op + ": write failed, earlier writes left in place")
	res := failure(report.Err, fmt.Sprintf("%s failed at %s: %v", op, report.Failed, report.Err))
	res.Completed = report.Completed
	res.Failed = report.Failed
	return res, true
}
