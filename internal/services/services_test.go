package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"library-system/internal/config"
	"library-system/internal/models"
	"library-system/internal/repositories"
	"library-system/internal/session"
)

// fixture is a library over a throwaway sqlite file.
type fixture struct {
	sess   session.Session
	books  repositories.BookRepository
	users  repositories.UserRepository
	loans  repositories.LoanRepository
	engine *BorrowEngine
	svc    LibraryService
}

// tick is a clock that moves one second per call, so every loan gets its own
// borrow_date.
func tick() func() time.Time {
	var mu sync.Mutex
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		at = at.Add(time.Second)
		return at
	}
}

func newFixture(t *testing.T, wrap func(session.Session) session.Session, opts ...EngineOption) *fixture {
	t.Helper()
	base, db, err := session.Open(config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "library.db"),
	})
	require.NoError(t, err)
	require.NoError(t, session.Bootstrap(context.Background(), db))
	t.Cleanup(func() { _ = base.Close() })

	sess := base
	if wrap != nil {
		sess = wrap(base)
	}
	f := &fixture{
		sess:  base,
		books: repositories.NewBookRepository(base),
		users: repositories.NewUserRepository(base),
		loans: repositories.NewLoanRepository(base),
	}
	f.engine, err = NewBorrowEngine(sess, f.books, f.users, f.loans, append([]EngineOption{WithClock(tick())}, opts...)...)
	require.NoError(t, err)
	f.svc = NewLibraryService(f.books, f.users, f.loans, f.engine)
	return f
}

func (f *fixture) addBook(t *testing.T, isbn string, copies int) models.Book {
	t.Helper()
	book := models.Book{
		ISBN: isbn, Title: "Title " + isbn, Author: "Author " + isbn, Category: "Fiction",
		PublicationYear: 2001, TotalCopies: copies, AvailableCopies: copies,
	}
	require.NoError(t, f.svc.AddBook(context.Background(), book))
	return book
}

func (f *fixture) addPatron(t *testing.T, email string) uuid.UUID {
	t.Helper()
	id, err := f.svc.CreatePatron(context.Background(), PatronInput{Email: email, FirstName: "Pat", LastName: "Ron"})
	require.NoError(t, err)
	return id
}

// copies returns available_copies as seen by each of the three book views.
func (f *fixture) copies(t *testing.T, book models.Book) (byID, byCategory, byAuthor int) {
	t.Helper()
	ctx := context.Background()
	got, err := f.books.GetByISBN(ctx, book.ISBN)
	require.NoError(t, err)

	cats, err := f.books.ListByCategory(ctx, book.Category)
	require.NoError(t, err)
	byCategory = -1
	for _, c := range cats {
		if c.ISBN == book.ISBN {
			byCategory = c.AvailableCopies
		}
	}

	auths, err := f.books.ListByAuthor(ctx, book.Author)
	require.NoError(t, err)
	byAuthor = -1
	for _, a := range auths {
		if a.ISBN == book.ISBN {
			byAuthor = a.AvailableCopies
		}
	}
	return got.AvailableCopies, byCategory, byAuthor
}

// requireCopies asserts the three views agree on want.
func (f *fixture) requireCopies(t *testing.T, book models.Book, want int) {
	t.Helper()
	byID, byCategory, byAuthor := f.copies(t, book)
	require.Equal(t, []int{want, want, want}, []int{byID, byCategory, byAuthor})
}

// requireCounters asserts active_borrows matches the active-loan partition.
func (f *fixture) requireCounters(t *testing.T, patron uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	user, err := f.users.GetByID(ctx, patron)
	require.NoError(t, err)
	active, err := f.loans.ActiveByUser(ctx, patron)
	require.NoError(t, err)
	require.Equal(t, len(active), user.ActiveBorrows)
}

// failingSession raises on the first Exec of the named statement.
type failingSession struct {
	session.Session
	failOn string
}

func (s *failingSession) Exec(ctx context.Context, stmt session.Statement, args ...any) (int64, error) {
	if stmt.Name == s.failOn {
		return 0, errors.New("write timeout")
	}
	return s.Session.Exec(ctx, stmt, args...)
}

// racingSession takes one copy of the book behind the engine's back right
// before each of the first `races` books_by_id copy writes.
type racingSession struct {
	session.Session
	isbn  string
	races int
	seen  int
}

var stealCopy = session.Statement{
	Name:  "test.steal_copy",
	Query: `UPDATE books_by_id SET available_copies = available_copies - 1 WHERE isbn = ?`,
}

func (s *racingSession) Exec(ctx context.Context, stmt session.Statement, args ...any) (int64, error) {
	if stmt.Name == repositories.StepBookCopiesByID && s.seen < s.races {
		s.seen++
		if _, err := s.Session.Exec(ctx, stealCopy, s.isbn); err != nil {
			return 0, err
		}
	}
	return s.Session.Exec(ctx, stmt, args...)
}
