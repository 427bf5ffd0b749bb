package seed

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-system/internal/audit"
	"library-system/internal/config"
	"library-system/internal/repositories"
	"library-system/internal/services"
	"library-system/internal/session"
)

func TestRunLeavesConsistentViews(t *testing.T) {
	ctx := context.Background()
	sess, db, err := session.Open(config.DatabaseConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "library.db")})
	require.NoError(t, err)
	require.NoError(t, session.Bootstrap(ctx, db))
	t.Cleanup(func() { _ = sess.Close() })

	books := repositories.NewBookRepository(sess)
	users := repositories.NewUserRepository(sess)
	loans := repositories.NewLoanRepository(sess)
	engine, err := services.NewBorrowEngine(sess, books, users, loans)
	require.NoError(t, err)
	svc := services.NewLibraryService(books, users, loans, engine)

	sum, err := Run(ctx, svc, Options{Books: 10, Patrons: 5, Borrows: 15, LoanDays: 7, Seed: 42})
	require.NoError(t, err)
	assert.Equal(t, 10, sum.Books)
	assert.Equal(t, 5, sum.Patrons)
	assert.Equal(t, 15, sum.BorrowsAttempts)
	assert.Positive(t, sum.BorrowsOK)

	all, err := svc.ListBooks(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 10)

	drifts, err := audit.New(books, users, loans).Check(ctx)
	require.NoError(t, err)
	assert.Empty(t, drifts)
}

func TestRunWithoutBooksSkipsBorrows(t *testing.T) {
	ctx := context.Background()
	sess, db, err := session.Open(config.DatabaseConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "library.db")})
	require.NoError(t, err)
	require.NoError(t, session.Bootstrap(ctx, db))
	t.Cleanup(func() { _ = sess.Close() })

	books := repositories.NewBookRepository(sess)
	users := repositories.NewUserRepository(sess)
	loans := repositories.NewLoanRepository(sess)
	engine, err := services.NewBorrowEngine(sess, books, users, loans)
	require.NoError(t, err)

	sum, err := Run(ctx, services.NewLibraryService(books, users, loans, engine), Options{Patrons: 2, Borrows: 5, Seed: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Patrons)
	assert.Zero(t, sum.BorrowsAttempts)
}
