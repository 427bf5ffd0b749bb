package main

import (
	"fmt"
	"strconv"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"library-system/internal/models"
)

func newBooksCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "books", Short: "Manage the catalogue"}
	cmd.AddCommand(
		newBooksAddCmd(a),
		newBooksSearchCmd(a),
		newBooksListCmd(a),
		newBooksByCategoryCmd(a),
		newBooksByAuthorCmd(a),
		newBooksHistoryCmd(a),
	)
	return cmd
}

func newBooksAddCmd(a *app) *cobra.Command {
	var book models.Book
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a book with all its copies available",
		RunE: func(cmd *cobra.Command, _ []string) error {
			book.AvailableCopies = book.TotalCopies
			if err := a.svc.AddBook(cmd.Context(), book); err != nil {
				return fmt.Errorf("add book: %w", err)
			}
			return a.out.message(book, fmt.Sprintf("Book added: %s (%s)", book.Title, book.ISBN))
		},
	}
	f := cmd.Flags()
	f.StringVar(&book.ISBN, "isbn", "", "ISBN")
	f.StringVar(&book.Title, "title", "", "title")
	f.StringVar(&book.Author, "author", "", "author")
	f.StringVar(&book.Category, "category", "", "category")
	f.StringVar(&book.Publisher, "publisher", "", "publisher")
	f.IntVar(&book.PublicationYear, "year", 0, "publication year")
	f.IntVar(&book.TotalCopies, "copies", 1, "total copies")
	f.StringVar(&book.Description, "description", "", "description")
	for _, name := range []string{"isbn", "title", "author", "category"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func newBooksSearchCmd(a *app) *cobra.Command {
	var isbn string
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Show one book by ISBN",
		RunE: func(cmd *cobra.Command, _ []string) error {
			book, err := a.svc.GetBook(cmd.Context(), isbn)
			if err != nil {
				return err
			}
			return a.out.record(book, [][2]string{
				{"ISBN", book.ISBN},
				{"Title", book.Title},
				{"Author", book.Author},
				{"Category", book.Category},
				{"Publisher", book.Publisher},
				{"Year", strconv.Itoa(book.PublicationYear)},
				{"Available", fmt.Sprintf("%d/%d", book.AvailableCopies, book.TotalCopies)},
			})
		},
	}
	cmd.Flags().StringVar(&isbn, "isbn", "", "ISBN")
	_ = cmd.MarkFlagRequired("isbn")
	return cmd
}

func newBooksListCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List books (full scan; 0 means no limit)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			books, err := a.svc.ListBooks(cmd.Context(), limit)
			if err != nil {
				return err
			}
			rows := lo.Map(books, func(b models.Book, _ int) []string {
				return []string{b.ISBN, b.Title, b.Author, b.Category, fmt.Sprintf("%d/%d", b.AvailableCopies, b.TotalCopies)}
			})
			return a.out.emit(books, []string{"ISBN", "Title", "Author", "Category", "Available"}, rows)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum number of books")
	return cmd
}

func newBooksByCategoryCmd(a *app) *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "list-by-category",
		Short: "List the books of one category",
		RunE: func(cmd *cobra.Command, _ []string) error {
			books, err := a.svc.ListBooksByCategory(cmd.Context(), category)
			if err != nil {
				return err
			}
			rows := lo.Map(books, func(b models.BookByCategory, _ int) []string {
				return []string{b.ISBN, b.Title, b.Author, fmt.Sprintf("%d/%d", b.AvailableCopies, b.TotalCopies)}
			})
			return a.out.emit(books, []string{"ISBN", "Title", "Author", "Available"}, rows)
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "category")
	_ = cmd.MarkFlagRequired("category")
	return cmd
}

func newBooksByAuthorCmd(a *app) *cobra.Command {
	var author string
	cmd := &cobra.Command{
		Use:   "list-by-author",
		Short: "List the books of one author",
		RunE: func(cmd *cobra.Command, _ []string) error {
			books, err := a.svc.ListBooksByAuthor(cmd.Context(), author)
			if err != nil {
				return err
			}
			rows := lo.Map(books, func(b models.BookByAuthor, _ int) []string {
				return []string{b.ISBN, b.Title, b.Category, fmt.Sprintf("%d/%d", b.AvailableCopies, b.TotalCopies)}
			})
			return a.out.emit(books, []string{"ISBN", "Title", "Category", "Available"}, rows)
		},
	}
	cmd.Flags().StringVar(&author, "author", "", "author")
	_ = cmd.MarkFlagRequired("author")
	return cmd
}

func newBooksHistoryCmd(a *app) *cobra.Command {
	var isbn string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show who borrowed a book, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			loans, err := a.svc.BookLoanHistory(cmd.Context(), isbn)
			if err != nil {
				return err
			}
			rows := lo.Map(loans, func(l models.BorrowByBook, _ int) []string {
				return []string{l.UserName, l.UserID.String(), string(l.Status), day(l.BorrowDate), day(l.DueDate), stamp(l.ReturnDate)}
			})
			return a.out.emit(loans, []string{"Patron", "User ID", "Status", "Borrowed", "Due", "Returned"}, rows)
		},
	}
	cmd.Flags().StringVar(&isbn, "isbn", "", "ISBN")
	_ = cmd.MarkFlagRequired("isbn")
	return cmd
}
