package audit

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-system/internal/config"
	"library-system/internal/models"
	"library-system/internal/repositories"
	"library-system/internal/services"
	"library-system/internal/session"
)

type library struct {
	sess    session.Session
	books   repositories.BookRepository
	users   repositories.UserRepository
	svc     services.LibraryService
	auditor *Auditor
}

func newLibrary(t *testing.T) *library {
	t.Helper()
	sess, db, err := session.Open(config.DatabaseConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "library.db")})
	require.NoError(t, err)
	require.NoError(t, session.Bootstrap(context.Background(), db))
	t.Cleanup(func() { _ = sess.Close() })

	books := repositories.NewBookRepository(sess)
	users := repositories.NewUserRepository(sess)
	loans := repositories.NewLoanRepository(sess)
	engine, err := services.NewBorrowEngine(sess, books, users, loans)
	require.NoError(t, err)
	return &library{
		sess:    sess,
		books:   books,
		users:   users,
		svc:     services.NewLibraryService(books, users, loans, engine),
		auditor: New(books, users, loans),
	}
}

func (l *library) seed(t *testing.T) (models.Book, uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	book := models.Book{ISBN: "X", Title: "Dune", Author: "Herbert", Category: "SF", TotalCopies: 2, AvailableCopies: 2}
	require.NoError(t, l.svc.AddBook(ctx, book))
	id, err := l.svc.CreatePatron(ctx, services.PatronInput{Email: "a@x.com", FirstName: "A", LastName: "B"})
	require.NoError(t, err)
	require.True(t, l.svc.BorrowBook(ctx, id, "X", 0).OK)
	return book, id
}

func TestCheckConsistentLibrary(t *testing.T) {
	l := newLibrary(t)
	_, id := l.seed(t)
	require.True(t, l.svc.ReturnBook(context.Background(), id, "X").OK)

	drifts, err := l.auditor.Check(context.Background())
	require.NoError(t, err)
	assert.Empty(t, drifts)
}

func TestCheckFindsCopyDrift(t *testing.T) {
	ctx := context.Background()
	l := newLibrary(t)
	book, _ := l.seed(t)

	// Only books_by_id moves: the other two views now disagree.
	_, err := l.sess.Exec(ctx, session.Statement{Name: "drift", Query: `UPDATE books_by_id SET available_copies = 2 WHERE isbn = ?`}, book.ISBN)
	require.NoError(t, err)

	drifts, err := l.auditor.Check(ctx)
	require.Error(t, err)
	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	assert.Len(t, merr.Errors, 3)

	kinds := make([]string, 0, len(drifts))
	for _, d := range drifts {
		kinds = append(kinds, d.Kind)
		assert.Equal(t, "X", d.Key)
	}
	assert.ElementsMatch(t, []string{KindLoanCount, KindCategoryView, KindAuthorView}, kinds)
}

func TestCheckFindsCounterAndHistoryDrift(t *testing.T) {
	ctx := context.Background()
	l := newLibrary(t)
	_, id := l.seed(t)

	report := l.users.CountersPlan(id, 1, 0).Apply(ctx, l.sess)
	require.True(t, report.OK(), report.Err)
	_, err := l.sess.Exec(ctx, session.Statement{Name: "drift", Query: `DELETE FROM borrows_by_book`})
	require.NoError(t, err)

	drifts, err := l.auditor.Check(ctx)
	require.Error(t, err)
	kinds := make([]string, 0, len(drifts))
	for _, d := range drifts {
		kinds = append(kinds, d.Kind)
	}
	// With the borrows_by_book row gone the book looks fully available.
	assert.ElementsMatch(t, []string{KindLoanCount, KindActiveCounter, KindHistoryMissing}, kinds)
}

func TestCheckFindsOutOfBoundsCopies(t *testing.T) {
	ctx := context.Background()
	l := newLibrary(t)
	book, _ := l.seed(t)

	report := l.books.AvailableCopiesPlan(book, 5, false).Apply(ctx, l.sess)
	require.True(t, report.OK(), report.Err)

	drifts, err := l.auditor.Check(ctx)
	require.Error(t, err)
	require.Len(t, drifts, 2)
	assert.Equal(t, KindCopyBounds, drifts[0].Kind)
	assert.Contains(t, drifts[0].Error(), "outside [0, 2]")
	assert.Equal(t, KindLoanCount, drifts[1].Kind)
}

func TestCheckFindsCopyHandedOutTwice(t *testing.T) {
	ctx := context.Background()
	l := newLibrary(t)
	book, _ := l.seed(t)

	// All three views agree, but one copy is still out on loan.
	report := l.books.AvailableCopiesPlan(book, 2, false).Apply(ctx, l.sess)
	require.True(t, report.OK(), report.Err)

	drifts, err := l.auditor.Check(ctx)
	require.Error(t, err)
	require.Len(t, drifts, 1)
	assert.Equal(t, KindLoanCount, drifts[0].Kind)
	assert.Equal(t, "X", drifts[0].Key)
	assert.Contains(t, drifts[0].Detail, "1 open loans")
}
