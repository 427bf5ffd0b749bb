package session

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-system/internal/config"
	"library-system/internal/models"
)

func openTemp(t *testing.T) Session {
	t.Helper()
	sess, db, err := Open(config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "library.db"),
	})
	require.NoError(t, err)
	require.NoError(t, Bootstrap(context.Background(), db))
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

func TestOpenUnsupportedDriver(t *testing.T) {
	_, _, err := Open(config.DatabaseConfig{Driver: "cassandra", DSN: "x"})
	assert.ErrorIs(t, err, ErrUnsupportedDriver)
}

func TestExecOneAll(t *testing.T) {
	ctx := context.Background()
	sess := openTemp(t)

	insert := Statement{Name: "books_by_id.insert", Query: `INSERT INTO books_by_id (isbn, title, author, category, total_copies, available_copies) VALUES (?, ?, ?, ?, ?, ?)`}
	n, err := sess.Exec(ctx, insert, "111", "Dune", "Herbert", "SF", 2, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	_, err = sess.Exec(ctx, insert, "222", "Emma", "Austen", "Romance", 1, 1)
	require.NoError(t, err)

	var book models.Book
	found, err := sess.One(ctx, Statement{Name: "get", Query: `SELECT * FROM books_by_id WHERE isbn = ?`}, &book, "111")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "Dune", book.Title)

	var missing models.Book
	found, err = sess.One(ctx, Statement{Name: "get", Query: `SELECT * FROM books_by_id WHERE isbn = ?`}, &missing, "999")
	require.NoError(t, err)
	assert.False(t, found)

	var books []models.Book
	require.NoError(t, sess.All(ctx, Statement{Name: "list", Query: `SELECT * FROM books_by_id ORDER BY isbn`}, &books))
	require.Len(t, books, 2)
	assert.Equal(t, "222", books[1].ISBN)
}

func TestExecErrorNamesStatement(t *testing.T) {
	sess := openTemp(t)
	_, err := sess.Exec(context.Background(), Statement{Name: "broken.insert", Query: `INSERT INTO no_such_table VALUES (1)`})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.insert")
}

func TestBootstrapIsIdempotent(t *testing.T) {
	_, db, err := Open(config.DatabaseConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "library.db")})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, Bootstrap(ctx, db))
	require.NoError(t, Bootstrap(ctx, db))

	for _, table := range []string{
		models.TableBooksByID, models.TableBooksByCategory, models.TableBooksByAuthor,
		models.TableUsersByID, models.TableUsersByEmail, models.TableBorrowsByUser,
		models.TableBorrowsByBook, models.TableActiveBorrowsByUser,
	} {
		assert.True(t, db.Migrator().HasTable(table), table)
	}
}
