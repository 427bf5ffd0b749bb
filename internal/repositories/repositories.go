package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"library-system/internal/logger"
	"library-system/internal/models"
	"library-system/internal/session"
)

var (
	ErrRecordNotFound = errors.New("record not found")
	ErrDuplicateEmail = errors.New("email already registered")
)

// Plan step names, shared with the engine and reported back to callers.
const (
	StepBookCopiesByID       = "books_by_id.available_copies"
	StepBookCopiesByCategory = "books_by_category.available_copies"
	StepBookCopiesByAuthor   = "books_by_author.available_copies"
	StepBookInsertByID       = "books_by_id.insert"
	StepBookInsertByCategory = "books_by_category.insert"
	StepBookInsertByAuthor   = "books_by_author.insert"
	StepUserInsertByEmail    = "users_by_email.insert"
	StepUserInsertByID       = "users_by_id.insert"
	StepUserCounters         = "users_by_id.counters"
	StepBorrowByUserInsert   = "borrows_by_user.insert"
	StepBorrowByBookInsert   = "borrows_by_book.insert"
	StepActiveInsert         = "active_borrows_by_user.insert"
	StepBorrowByUserReturn   = "borrows_by_user.return"
	StepBorrowByBookReturn   = "borrows_by_book.return"
	StepActiveDelete         = "active_borrows_by_user.delete"
)

type BookRepository interface {
	Add(ctx context.Context, book models.Book) error
	GetByISBN(ctx context.Context, isbn string) (*models.Book, error)
	ListByCategory(ctx context.Context, category string) ([]models.BookByCategory, error)
	ListByAuthor(ctx context.Context, author string) ([]models.BookByAuthor, error)
	// List returns at most limit books; limit <= 0 returns all of them.
	List(ctx context.Context, limit int) ([]models.Book, error)
	AvailableCopiesPlan(book models.Book, available int, conditional bool) WritePlan
}

type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetIDByEmail(ctx context.Context, email string) (uuid.UUID, error)
	List(ctx context.Context) ([]models.User, error)
	CountersPlan(id uuid.UUID, totalBorrows, activeBorrows int) WritePlan
}

// NewLoan carries everything written when a loan opens.
type NewLoan struct {
	UserID     uuid.UUID
	UserName   string
	ISBN       string
	BookTitle  string
	BorrowDate time.Time
	DueDate    time.Time
}

type LoanRepository interface {
	ActiveByUser(ctx context.Context, userID uuid.UUID) ([]models.ActiveBorrow, error)
	HistoryByUser(ctx context.Context, userID uuid.UUID) ([]models.BorrowByUser, error)
	HistoryByBook(ctx context.Context, isbn string) ([]models.BorrowByBook, error)
	// UserLoan reads one borrows_by_user row by its full key.
	UserLoan(ctx context.Context, userID uuid.UUID, borrowDate time.Time, isbn string) (*models.BorrowByUser, error)
	BorrowPlan(loan NewLoan) WritePlan
	ReturnPlan(userID uuid.UUID, isbn string, borrowDate, returnedAt time.Time) WritePlan
}

// concrete implementations

var (
	insBookByID = session.Statement{Name: "books_by_id.insert", Query: `
		INSERT INTO books_by_id (isbn, title, author, category, publisher, publication_year,
			total_copies, available_copies, description)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (isbn) DO UPDATE SET
			title = excluded.title, author = excluded.author, category = excluded.category,
			publisher = excluded.publisher, publication_year = excluded.publication_year,
			total_copies = excluded.total_copies, available_copies = excluded.available_copies,
			description = excluded.description`}

	insBookByCategory = session.Statement{Name: "books_by_category.insert", Query: `
		INSERT INTO books_by_category (category, title, isbn, author, publication_year,
			available_copies, total_copies)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (category, title, isbn) DO UPDATE SET
			author = excluded.author, publication_year = excluded.publication_year,
			available_copies = excluded.available_copies, total_copies = excluded.total_copies`}

	insBookByAuthor = session.Statement{Name: "books_by_author.insert", Query: `
		INSERT INTO books_by_author (author, title, isbn, category, publication_year,
			available_copies, total_copies)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (author, title, isbn) DO UPDATE SET
			category = excluded.category, publication_year = excluded.publication_year,
			available_copies = excluded.available_copies, total_copies = excluded.total_copies`}

	selBookByISBN = session.Statement{Name: "books_by_id.select",
		Query: `SELECT * FROM books_by_id WHERE isbn = ? LIMIT 1`}
	selBooksByCategory = session.Statement{Name: "books_by_category.select",
		Query: `SELECT * FROM books_by_category WHERE category = ? ORDER BY title, isbn`}
	selBooksByAuthor = session.Statement{Name: "books_by_author.select",
		Query: `SELECT * FROM books_by_author WHERE author = ? ORDER BY title, isbn`}
	listBooks = session.Statement{Name: "books_by_id.list",
		Query: `SELECT * FROM books_by_id ORDER BY isbn LIMIT ?`}
	listAllBooks = session.Statement{Name: "books_by_id.list_all",
		Query: `SELECT * FROM books_by_id ORDER BY isbn`}

	updBookCopies = session.Statement{Name: StepBookCopiesByID,
		Query: `UPDATE books_by_id SET available_copies = ? WHERE isbn = ?`}
	updBookCopiesIf = session.Statement{Name: StepBookCopiesByID,
		Query: `UPDATE books_by_id SET available_copies = ? WHERE isbn = ? AND available_copies = ?`}
	updBookCategoryCopies = session.Statement{Name: StepBookCopiesByCategory,
		Query: `UPDATE books_by_category SET available_copies = ? WHERE category = ? AND title = ? AND isbn = ?`}
	updBookAuthorCopies = session.Statement{Name: StepBookCopiesByAuthor,
		Query: `UPDATE books_by_author SET available_copies = ? WHERE author = ? AND title = ? AND isbn = ?`}
)

type bookRepository struct {
	sess session.Session
}

func NewBookRepository(sess session.Session) BookRepository {
	return &bookRepository{sess: sess}
}

// Add writes the book to its three views. A failure part-way leaves the
// earlier views written.
func (r *bookRepository) Add(ctx context.Context, book models.Book) error {
	plan := WritePlan{
		{Step: StepBookInsertByID, Stmt: insBookByID, Args: []any{
			book.ISBN, book.Title, book.Author, book.Category, book.Publisher,
			book.PublicationYear, book.TotalCopies, book.AvailableCopies, book.Description,
		}},
		{Step: StepBookInsertByCategory, Stmt: insBookByCategory, Args: []any{
			book.Category, book.Title, book.ISBN, book.Author, book.PublicationYear,
			book.AvailableCopies, book.TotalCopies,
		}},
		{Step: StepBookInsertByAuthor, Stmt: insBookByAuthor, Args: []any{
			book.Author, book.Title, book.ISBN, book.Category, book.PublicationYear,
			book.AvailableCopies, book.TotalCopies,
		}},
	}

	log := logger.GetLogger(ctx).WithField("isbn", book.ISBN)
	report := plan.Apply(ctx, r.sess)
	if !report.OK() {
		log.WithFields(logrus.Fields{"step": report.Failed, "completed": report.Completed}).
			WithError(report.Err).Error("AddBook: write failed")
		return report.Err
	}
	log.Infof("AddBook: added %q", book.Title)
	return nil
}

func (r *bookRepository) GetByISBN(ctx context.Context, isbn string) (*models.Book, error) {
	var book models.Book
	found, err := r.sess.One(ctx, selBookByISBN, &book, isbn)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrRecordNotFound
	}
	return &book, nil
}

func (r *bookRepository) ListByCategory(ctx context.Context, category string) ([]models.BookByCategory, error) {
	var books []models.BookByCategory
	if err := r.sess.All(ctx, selBooksByCategory, &books, category); err != nil {
		return nil, err
	}
	return books, nil
}

func (r *bookRepository) ListByAuthor(ctx context.Context, author string) ([]models.BookByAuthor, error) {
	var books []models.BookByAuthor
	if err := r.sess.All(ctx, selBooksByAuthor, &books, author); err != nil {
		return nil, err
	}
	return books, nil
}

func (r *bookRepository) List(ctx context.Context, limit int) ([]models.Book, error) {
	var (
		books []models.Book
		err   error
	)
	if limit <= 0 {
		err = r.sess.All(ctx, listAllBooks, &books)
	} else {
		err = r.sess.All(ctx, listBooks, &books, limit)
	}
	if err != nil {
		return nil, err
	}
	return books, nil
}

// AvailableCopiesPlan sets available_copies on all three views. The category
// and author views are addressed with the title/category/author read from
// books_by_id; those columns never change once a book exists. When
// conditional is set the books_by_id write only applies if the column still
// holds book.AvailableCopies.
func (r *bookRepository) AvailableCopiesPlan(book models.Book, available int, conditional bool) WritePlan {
	byID := Write{Step: StepBookCopiesByID, Stmt: updBookCopies, Args: []any{available, book.ISBN}}
	if conditional {
		byID = Write{
			Step:        StepBookCopiesByID,
			Stmt:        updBookCopiesIf,
			Args:        []any{available, book.ISBN, book.AvailableCopies},
			Conditional: true,
		}
	}
	return WritePlan{
		byID,
		{Step: StepBookCopiesByCategory, Stmt: updBookCategoryCopies, Args: []any{available, book.Category, book.Title, book.ISBN}},
		{Step: StepBookCopiesByAuthor, Stmt: updBookAuthorCopies, Args: []any{available, book.Author, book.Title, book.ISBN}},
	}
}

var (
	insUserByEmail = session.Statement{Name: StepUserInsertByEmail, Query: `
		INSERT INTO users_by_email (email, user_id, first_name, last_name, registration_date)
		VALUES (?, ?, ?, ?, ?)`}

	insUserByID = session.Statement{Name: StepUserInsertByID, Query: `
		INSERT INTO users_by_id (user_id, email, first_name, last_name, phone, address,
			registration_date, total_borrows, active_borrows)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			email = excluded.email, first_name = excluded.first_name, last_name = excluded.last_name,
			phone = excluded.phone, address = excluded.address,
			registration_date = excluded.registration_date,
			total_borrows = excluded.total_borrows, active_borrows = excluded.active_borrows`}

	selUserByID = session.Statement{Name: "users_by_id.select",
		Query: `SELECT * FROM users_by_id WHERE user_id = ? LIMIT 1`}
	selUserByEmail = session.Statement{Name: "users_by_email.select",
		Query: `SELECT * FROM users_by_email WHERE email = ? LIMIT 1`}
	listUsers = session.Statement{Name: "users_by_id.list",
		Query: `SELECT * FROM users_by_id ORDER BY user_id`}

	updUserCounters = session.Statement{Name: StepUserCounters,
		Query: `UPDATE users_by_id SET total_borrows = ?, active_borrows = ? WHERE user_id = ?`}
)

type userRepository struct {
	sess session.Session
}

func NewUserRepository(sess session.Session) UserRepository {
	return &userRepository{sess: sess}
}

// Create assigns a fresh id and registration date, then claims the email row
// before writing users_by_id. The email insert is a plain INSERT so two
// registrations racing on one address cannot both own it.
func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	log := logger.GetLogger(ctx).WithField("email", user.Email)

	if _, err := r.GetIDByEmail(ctx, user.Email); err == nil {
		log.Warn("CreateUser: email already registered")
		return ErrDuplicateEmail
	} else if !errors.Is(err, ErrRecordNotFound) {
		return err
	}

	user.UserID = uuid.New()
	user.RegistrationDate = time.Now().UTC().Truncate(time.Millisecond)
	user.TotalBorrows = 0
	user.ActiveBorrows = 0

	plan := WritePlan{
		{Step: StepUserInsertByEmail, Stmt: insUserByEmail, Args: []any{
			user.Email, user.UserID, user.FirstName, user.LastName, user.RegistrationDate,
		}},
		{Step: StepUserInsertByID, Stmt: insUserByID, Args: []any{
			user.UserID, user.Email, user.FirstName, user.LastName, user.Phone, user.Address,
			user.RegistrationDate, user.TotalBorrows, user.ActiveBorrows,
		}},
	}

	report := plan.Apply(ctx, r.sess)
	if !report.OK() {
		if report.Failed == StepUserInsertByEmail && errors.Is(report.Err, gorm.ErrDuplicatedKey) {
			log.Warn("CreateUser: email claimed concurrently")
			return ErrDuplicateEmail
		}
		log.WithFields(logrus.Fields{"step": report.Failed, "completed": report.Completed}).
			WithError(report.Err).Error("CreateUser: write failed")
		return report.Err
	}
	log.WithField("user_id", user.UserID).Info("CreateUser: registered")
	return nil
}

func (r *userRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	found, err := r.sess.One(ctx, selUserByID, &user, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrRecordNotFound
	}
	return &user, nil
}

func (r *userRepository) GetIDByEmail(ctx context.Context, email string) (uuid.UUID, error) {
	var row models.UserByEmail
	found, err := r.sess.One(ctx, selUserByEmail, &row, email)
	if err != nil {
		return uuid.Nil, err
	}
	if !found {
		return uuid.Nil, ErrRecordNotFound
	}
	return row.UserID, nil
}

// List scans every partition of users_by_id. Only the audit uses it.
func (r *userRepository) List(ctx context.Context) ([]models.User, error) {
	var users []models.User
	if err := r.sess.All(ctx, listUsers, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (r *userRepository) CountersPlan(id uuid.UUID, totalBorrows, activeBorrows int) WritePlan {
	return WritePlan{
		{Step: StepUserCounters, Stmt: updUserCounters, Args: []any{totalBorrows, activeBorrows, id}},
	}
}

var (
	insBorrowByUser = session.Statement{Name: StepBorrowByUserInsert, Query: `
		INSERT INTO borrows_by_user (user_id, borrow_date, isbn, book_title, status, due_date, return_date)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, borrow_date, isbn) DO UPDATE SET
			book_title = excluded.book_title, status = excluded.status,
			due_date = excluded.due_date, return_date = excluded.return_date`}

	insBorrowByBook = session.Statement{Name: StepBorrowByBookInsert, Query: `
		INSERT INTO borrows_by_book (isbn, borrow_date, user_id, user_name, status, due_date, return_date, book_title)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (isbn, borrow_date, user_id) DO UPDATE SET
			user_name = excluded.user_name, status = excluded.status, due_date = excluded.due_date,
			return_date = excluded.return_date, book_title = excluded.book_title`}

	insActiveBorrow = session.Statement{Name: StepActiveInsert, Query: `
		INSERT INTO active_borrows_by_user (user_id, borrow_date, isbn, book_title, due_date)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, borrow_date, isbn) DO UPDATE SET
			book_title = excluded.book_title, due_date = excluded.due_date`}

	delActiveBorrow = session.Statement{Name: StepActiveDelete,
		Query: `DELETE FROM active_borrows_by_user WHERE user_id = ? AND borrow_date = ? AND isbn = ?`}

	updBorrowByUserReturn = session.Statement{Name: StepBorrowByUserReturn,
		Query: `UPDATE borrows_by_user SET status = ?, return_date = ? WHERE user_id = ? AND borrow_date = ? AND isbn = ?`}
	updBorrowByBookReturn = session.Statement{Name: StepBorrowByBookReturn,
		Query: `UPDATE borrows_by_book SET status = ?, return_date = ? WHERE isbn = ? AND borrow_date = ? AND user_id = ?`}

	selActiveByUser = session.Statement{Name: "active_borrows_by_user.select",
		Query: `SELECT * FROM active_borrows_by_user WHERE user_id = ? ORDER BY borrow_date, isbn`}
	selHistoryByUser = session.Statement{Name: "borrows_by_user.select",
		Query: `SELECT * FROM borrows_by_user WHERE user_id = ? ORDER BY borrow_date DESC, isbn`}
	selUserLoan = session.Statement{Name: "borrows_by_user.select_one",
		Query: `SELECT * FROM borrows_by_user WHERE user_id = ? AND borrow_date = ? AND isbn = ? LIMIT 1`}
	selHistoryByBook = session.Statement{Name: "borrows_by_book.select",
		Query: `SELECT * FROM borrows_by_book WHERE isbn = ? ORDER BY borrow_date DESC, user_id`}
)

type loanRepository struct {
	sess session.Session
}

func NewLoanRepository(sess session.Session) LoanRepository {
	return &loanRepository{sess: sess}
}

// ActiveByUser reads one patron's active-loan partition, oldest loan first.
func (r *loanRepository) ActiveByUser(ctx context.Context, userID uuid.UUID) ([]models.ActiveBorrow, error) {
	var rows []models.ActiveBorrow
	if err := r.sess.All(ctx, selActiveByUser, &rows, userID); err != nil {
		return nil, err
	}
	return rows, nil
}

// HistoryByUser returns every loan of a patron, newest first.
func (r *loanRepository) HistoryByUser(ctx context.Context, userID uuid.UUID) ([]models.BorrowByUser, error) {
	var rows []models.BorrowByUser
	if err := r.sess.All(ctx, selHistoryByUser, &rows, userID); err != nil {
		return nil, err
	}
	return rows, nil
}

// HistoryByBook returns every loan of a book, newest first.
func (r *loanRepository) HistoryByBook(ctx context.Context, isbn string) ([]models.BorrowByBook, error) {
	var rows []models.BorrowByBook
	if err := r.sess.All(ctx, selHistoryByBook, &rows, isbn); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *loanRepository) UserLoan(ctx context.Context, userID uuid.UUID, borrowDate time.Time, isbn string) (*models.BorrowByUser, error) {
	var row models.BorrowByUser
	found, err := r.sess.One(ctx, selUserLoan, &row, userID, borrowDate, isbn)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrRecordNotFound
	}
	return &row, nil
}

// BorrowPlan inserts the BORROWED history rows, then the active-loan row.
func (r *loanRepository) BorrowPlan(loan NewLoan) WritePlan {
	status := string(models.LoanStatusBorrowed)
	return WritePlan{
		{Step: StepBorrowByUserInsert, Stmt: insBorrowByUser, Args: []any{
			loan.UserID, loan.BorrowDate, loan.ISBN, loan.BookTitle, status, loan.DueDate, nil,
		}},
		{Step: StepBorrowByBookInsert, Stmt: insBorrowByBook, Args: []any{
			loan.ISBN, loan.BorrowDate, loan.UserID, loan.UserName, status, loan.DueDate, nil, loan.BookTitle,
		}},
		{Step: StepActiveInsert, Stmt: insActiveBorrow, Args: []any{
			loan.UserID, loan.BorrowDate, loan.ISBN, loan.BookTitle, loan.DueDate,
		}},
	}
}

// ReturnPlan marks both history rows RETURNED, then deletes the active-loan
// row. borrowDate must be the loan-start timestamp read back from the
// active-loan view; it is part of every key touched here.
func (r *loanRepository) ReturnPlan(userID uuid.UUID, isbn string, borrowDate, returnedAt time.Time) WritePlan {
	status := string(models.LoanStatusReturned)
	return WritePlan{
		{Step: StepBorrowByUserReturn, Stmt: updBorrowByUserReturn, Args: []any{
			status, returnedAt, userID, borrowDate, isbn,
		}},
		{Step: StepBorrowByBookReturn, Stmt: updBorrowByBookReturn, Args: []any{
			status, returnedAt, isbn, borrowDate, userID,
		}},
		{Step: StepActiveDelete, Stmt: delActiveBorrow, Args: []any{userID, borrowDate, isbn}},
	}
}

// IsNotFound reports whether err is a missing-row result from any repository.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound)
}
