package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"library-system/internal/logger"
	"library-system/internal/models"
	"library-system/internal/repositories"
)

// ─── Loan Constants ───────────────────────────────────────────────────────────

// LoanPeriodDays is the default number of days a patron may keep a book.
const LoanPeriodDays = 14

// ─── Sentinel Errors ──────────────────────────────────────────────────────────

var (
	// ErrNotFound is the root of every "entity absent" error.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable is the root of every "request cannot be served now" error.
	ErrUnavailable = errors.New("unavailable")

	// ErrWriteFailure is returned when a storage write raised during a fan-out.
	// Writes applied before it are not undone.
	ErrWriteFailure = repositories.ErrWriteFailure

	// ErrReadFailure is returned when a storage read raised before any write.
	ErrReadFailure = errors.New("read failure")

	// ErrConcurrencyConflict is returned when a conditional copy update lost a race.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	ErrBookNotFound       = fmt.Errorf("%w: book", ErrNotFound)
	ErrPatronNotFound     = fmt.Errorf("%w: patron", ErrNotFound)
	ErrActiveLoanNotFound = fmt.Errorf("%w: active loan", ErrNotFound)
	ErrNoCopies           = fmt.Errorf("%w: no copies", ErrUnavailable)

	// ErrEmailTaken is returned when registering an email that already has a patron.
	ErrEmailTaken = errors.New("email already in use")

	// ErrInvalidInput wraps validation failures on book and patron input.
	ErrInvalidInput = errors.New("invalid input")
)

// ─── Service Interface ────────────────────────────────────────────────────────

// PatronInput is what a caller supplies to register a patron.
type PatronInput struct {
	Email     string `validate:"required,email"`
	FirstName string `validate:"required"`
	LastName  string `validate:"required"`
	Phone     string
	Address   string
}

// ActiveLoan is one open loan as shown to a patron.
type ActiveLoan struct {
	ISBN       string    `json:"isbn"`
	Title      string    `json:"title"`
	BorrowDate time.Time `json:"borrow_date"`
	DueDate    time.Time `json:"due_date"`
	Overdue    bool      `json:"overdue"`
}

// LibraryService defines the application-level operations of the library system.
type LibraryService interface {
	AddBook(ctx context.Context, book models.Book) error
	GetBook(ctx context.Context, isbn string) (*models.Book, error)
	ListBooks(ctx context.Context, limit int) ([]models.Book, error)
	ListBooksByCategory(ctx context.Context, category string) ([]models.BookByCategory, error)
	ListBooksByAuthor(ctx context.Context, author string) ([]models.BookByAuthor, error)
	BookLoanHistory(ctx context.Context, isbn string) ([]models.BorrowByBook, error)

	CreatePatron(ctx context.Context, in PatronInput) (uuid.UUID, error)
	GetPatron(ctx context.Context, id uuid.UUID) (*models.User, error)
	FindPatronIDByEmail(ctx context.Context, email string) (uuid.UUID, error)
	PatronLoanHistory(ctx context.Context, id uuid.UUID) ([]models.BorrowByUser, error)
	GetActiveLoans(ctx context.Context, id uuid.UUID) ([]ActiveLoan, error)

	BorrowBook(ctx context.Context, patronID uuid.UUID, isbn string, loanDays int) Result
	ReturnBook(ctx context.Context, patronID uuid.UUID, isbn string) Result
}

// ─── Implementation ───────────────────────────────────────────────────────────

type libraryService struct {
	bookRepo repositories.BookRepository
	userRepo repositories.UserRepository
	loanRepo repositories.LoanRepository
	engine   *BorrowEngine
	validate *validator.Validate
}

// NewLibraryService wires up all dependencies and returns a LibraryService.
func NewLibraryService(
	bookRepo repositories.BookRepository,
	userRepo repositories.UserRepository,
	loanRepo repositories.LoanRepository,
	engine *BorrowEngine,
) LibraryService {
	return &libraryService{
		bookRepo: bookRepo,
		userRepo: userRepo,
		loanRepo: loanRepo,
		engine:   engine,
		validate: validator.New(),
	}
}

// ─── Book Management ──────────────────────────────────────────────────────────

// AddBook validates the book and writes it to its three views.
// 0 <= available_copies <= total_copies must hold on input.
func (s *libraryService) AddBook(ctx context.Context, book models.Book) error {
	book.ISBN = strings.TrimSpace(book.ISBN)
	if err := s.validate.Struct(book); err != nil {
		logger.GetLogger(ctx).WithError(err).Warn("AddBook: rejected invalid book")
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return s.bookRepo.Add(ctx, book)
}

func (s *libraryService) GetBook(ctx context.Context, isbn string) (*models.Book, error) {
	book, err := s.bookRepo.GetByISBN(ctx, isbn)
	if err != nil {
		if repositories.IsNotFound(err) {
			return nil, ErrBookNotFound
		}
		return nil, err
	}
	return book, nil
}

// ListBooks returns at most limit books, all of them when limit <= 0. Without
// a partition key this is a full scan.
func (s *libraryService) ListBooks(ctx context.Context, limit int) ([]models.Book, error) {
	return s.bookRepo.List(ctx, limit)
}

func (s *libraryService) ListBooksByCategory(ctx context.Context, category string) ([]models.BookByCategory, error) {
	return s.bookRepo.ListByCategory(ctx, category)
}

func (s *libraryService) ListBooksByAuthor(ctx context.Context, author string) ([]models.BookByAuthor, error) {
	return s.bookRepo.ListByAuthor(ctx, author)
}

func (s *libraryService) BookLoanHistory(ctx context.Context, isbn string) ([]models.BorrowByBook, error) {
	return s.loanRepo.HistoryByBook(ctx, isbn)
}

// ─── Patrons ──────────────────────────────────────────────────────────────────

// CreatePatron registers a patron and returns the generated id. Two
// registrations of the same email at the same moment are settled by the
// users_by_email key, not here.
func (s *libraryService) CreatePatron(ctx context.Context, in PatronInput) (uuid.UUID, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	if err := s.validate.Struct(in); err != nil {
		logger.GetLogger(ctx).WithError(err).Warn("CreatePatron: rejected invalid patron")
		return uuid.Nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	user := &models.User{
		Email:     in.Email,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Phone:     in.Phone,
		Address:   in.Address,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repositories.ErrDuplicateEmail) {
			return uuid.Nil, ErrEmailTaken
		}
		return uuid.Nil, err
	}
	return user.UserID, nil
}

func (s *libraryService) GetPatron(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		if repositories.IsNotFound(err) {
			return nil, ErrPatronNotFound
		}
		return nil, err
	}
	return user, nil
}

func (s *libraryService) FindPatronIDByEmail(ctx context.Context, email string) (uuid.UUID, error) {
	id, err := s.userRepo.GetIDByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if repositories.IsNotFound(err) {
			return uuid.Nil, ErrPatronNotFound
		}
		return uuid.Nil, err
	}
	return id, nil
}

// ─── Loans ────────────────────────────────────────────────────────────────────

func (s *libraryService) PatronLoanHistory(ctx context.Context, id uuid.UUID) ([]models.BorrowByUser, error) {
	return s.loanRepo.HistoryByUser(ctx, id)
}

// GetActiveLoans reads the patron's active-loan partition, oldest loan first.
// Overdue is judged against the engine clock.
func (s *libraryService) GetActiveLoans(ctx context.Context, id uuid.UUID) ([]ActiveLoan, error) {
	rows, err := s.loanRepo.ActiveByUser(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.engine.timestamp()
	return lo.Map(rows, func(r models.ActiveBorrow, _ int) ActiveLoan {
		return ActiveLoan{
			ISBN:       r.ISBN,
			Title:      r.BookTitle,
			BorrowDate: r.BorrowDate,
			DueDate:    r.DueDate,
			Overdue:    r.Overdue(now),
		}
	}), nil
}

func (s *libraryService) BorrowBook(ctx context.Context, patronID uuid.UUID, isbn string, loanDays int) Result {
	return s.engine.Borrow(ctx, patronID, strings.TrimSpace(isbn), loanDays)
}

func (s *libraryService) ReturnBook(ctx context.Context, patronID uuid.UUID, isbn string) Result {
	return s.engine.Return(ctx, patronID, strings.TrimSpace(isbn))
}
