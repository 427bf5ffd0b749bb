package models

import (
	"time"

	"github.com/google/uuid"
)

// Table names. Each table serves exactly one access pattern; the primary key
// columns are the partition key followed by the clustering columns.
const (
	TableBooksByID           = "books_by_id"
	TableBooksByCategory     = "books_by_category"
	TableBooksByAuthor       = "books_by_author"
	TableUsersByID           = "users_by_id"
	TableUsersByEmail        = "users_by_email"
	TableBorrowsByUser       = "borrows_by_user"
	TableBorrowsByBook       = "borrows_by_book"
	TableActiveBorrowsByUser = "active_borrows_by_user"
)

type LoanStatus string

const (
	LoanStatusBorrowed LoanStatus = "BORROWED"
	LoanStatusReturned LoanStatus = "RETURNED"
)

// Book is the books_by_id row and the canonical book record.
type Book struct {
	ISBN            string `gorm:"column:isbn;primaryKey;size:32" json:"isbn" validate:"required,max=32"`
	Title           string `gorm:"column:title;size:255" json:"title" validate:"required"`
	Author          string `gorm:"column:author;size:255" json:"author" validate:"required"`
	Category        string `gorm:"column:category;size:255" json:"category" validate:"required"`
	Publisher       string `gorm:"column:publisher;size:255" json:"publisher"`
	PublicationYear int    `gorm:"column:publication_year" json:"publication_year" validate:"gte=0"`
	TotalCopies     int    `gorm:"column:total_copies" json:"total_copies" validate:"gte=0"`
	AvailableCopies int    `gorm:"column:available_copies" json:"available_copies" validate:"gte=0,ltefield=TotalCopies"`
	Description     string `gorm:"column:description" json:"description"`
}

func (Book) TableName() string { return TableBooksByID }

// BookByCategory is partitioned by category, clustered by (title, isbn).
type BookByCategory struct {
	Category        string `gorm:"column:category;primaryKey;size:255" json:"category"`
	Title           string `gorm:"column:title;primaryKey;size:255" json:"title"`
	ISBN            string `gorm:"column:isbn;primaryKey;size:32" json:"isbn"`
	Author          string `gorm:"column:author;size:255" json:"author"`
	PublicationYear int    `gorm:"column:publication_year" json:"publication_year"`
	AvailableCopies int    `gorm:"column:available_copies" json:"available_copies"`
	TotalCopies     int    `gorm:"column:total_copies" json:"total_copies"`
}

func (BookByCategory) TableName() string { return TableBooksByCategory }

// BookByAuthor is partitioned by author, clustered by (title, isbn).
type BookByAuthor struct {
	Author          string `gorm:"column:author;primaryKey;size:255" json:"author"`
	Title           string `gorm:"column:title;primaryKey;size:255" json:"title"`
	ISBN            string `gorm:"column:isbn;primaryKey;size:32" json:"isbn"`
	Category        string `gorm:"column:category;size:255" json:"category"`
	PublicationYear int    `gorm:"column:publication_year" json:"publication_year"`
	AvailableCopies int    `gorm:"column:available_copies" json:"available_copies"`
	TotalCopies     int    `gorm:"column:total_copies" json:"total_copies"`
}

func (BookByAuthor) TableName() string { return TableBooksByAuthor }

// User is the users_by_id row.
type User struct {
	UserID           uuid.UUID `gorm:"column:user_id;type:uuid;primaryKey" json:"user_id"`
	Email            string    `gorm:"column:email;size:255" json:"email"`
	FirstName        string    `gorm:"column:first_name;size:255" json:"first_name"`
	LastName         string    `gorm:"column:last_name;size:255" json:"last_name"`
	Phone            string    `gorm:"column:phone;size:64" json:"phone"`
	Address          string    `gorm:"column:address" json:"address"`
	RegistrationDate time.Time `gorm:"column:registration_date" json:"registration_date"`
	TotalBorrows     int       `gorm:"column:total_borrows" json:"total_borrows"`
	ActiveBorrows    int       `gorm:"column:active_borrows" json:"active_borrows"`
}

func (User) TableName() string { return TableUsersByID }

func (u User) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// UserByEmail only exists to resolve an email to a user id.
type UserByEmail struct {
	Email            string    `gorm:"column:email;primaryKey;size:255" json:"email"`
	UserID           uuid.UUID `gorm:"column:user_id;type:uuid" json:"user_id"`
	FirstName        string    `gorm:"column:first_name;size:255" json:"first_name"`
	LastName         string    `gorm:"column:last_name;size:255" json:"last_name"`
	RegistrationDate time.Time `gorm:"column:registration_date" json:"registration_date"`
}

func (UserByEmail) TableName() string { return TableUsersByEmail }

// BorrowByUser is the patron history view. (user_id, borrow_date, isbn)
// identifies one loan.
type BorrowByUser struct {
	UserID     uuid.UUID  `gorm:"column:user_id;type:uuid;primaryKey" json:"user_id"`
	BorrowDate time.Time  `gorm:"column:borrow_date;primaryKey" json:"borrow_date"`
	ISBN       string     `gorm:"column:isbn;primaryKey;size:32" json:"isbn"`
	BookTitle  string     `gorm:"column:book_title;size:255" json:"book_title"`
	Status     LoanStatus `gorm:"column:status;size:16" json:"status"`
	DueDate    time.Time  `gorm:"column:due_date" json:"due_date"`
	ReturnDate *time.Time `gorm:"column:return_date" json:"return_date"`
}

func (BorrowByUser) TableName() string { return TableBorrowsByUser }

// BorrowByBook is the book history view, partitioned by isbn.
type BorrowByBook struct {
	ISBN       string     `gorm:"column:isbn;primaryKey;size:32" json:"isbn"`
	BorrowDate time.Time  `gorm:"column:borrow_date;primaryKey" json:"borrow_date"`
	UserID     uuid.UUID  `gorm:"column:user_id;type:uuid;primaryKey" json:"user_id"`
	UserName   string     `gorm:"column:user_name;size:255" json:"user_name"`
	Status     LoanStatus `gorm:"column:status;size:16" json:"status"`
	DueDate    time.Time  `gorm:"column:due_date" json:"due_date"`
	ReturnDate *time.Time `gorm:"column:return_date" json:"return_date"`
	BookTitle  string     `gorm:"column:book_title;size:255" json:"book_title"`
}

func (BorrowByBook) TableName() string { return TableBorrowsByBook }

// ActiveBorrow holds a row only while the loan is open; its presence is the status.
type ActiveBorrow struct {
	UserID     uuid.UUID `gorm:"column:user_id;type:uuid;primaryKey" json:"user_id"`
	BorrowDate time.Time `gorm:"column:borrow_date;primaryKey" json:"borrow_date"`
	ISBN       string    `gorm:"column:isbn;primaryKey;size:32" json:"isbn"`
	BookTitle  string    `gorm:"column:book_title;size:255" json:"book_title"`
	DueDate    time.Time `gorm:"column:due_date" json:"due_date"`
}

func (ActiveBorrow) TableName() string { return TableActiveBorrowsByUser }

// Overdue reports whether the loan is past due at now.
func (a ActiveBorrow) Overdue(now time.Time) bool {
	return now.After(a.DueDate)
}

// AllTables lists one value per table, in bootstrap order.
func AllTables() []any {
	return []any{
		&Book{},
		&BookByCategory{},
		&BookByAuthor{},
		&User{},
		&UserByEmail{},
		&BorrowByUser{},
		&BorrowByBook{},
		&ActiveBorrow{},
	}
}
