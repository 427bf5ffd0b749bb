// Package seed fills an empty keyspace with fake books, patrons and loans.
// Loans go through the borrow engine so every view stays consistent.
package seed

import (
	"context"
	"fmt"
	"strings"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"

	"library-system/internal/logger"
	"library-system/internal/models"
	"library-system/internal/services"
)

var (
	categories = []string{
		"Science Fiction", "Fantasy", "Thriller", "Romance",
		"History", "Science", "Biography", "Philosophy", "Horror",
	}
	publishers = []string{"Gallimard", "Flammarion", "Hachette", "Albin Michel", "Seuil", "Actes Sud"}
)

type Options struct {
	Books    int
	Patrons  int
	Borrows  int
	LoanDays int
	// Seed makes the generated data reproducible; 0 picks a random seed.
	Seed int64
}

type Summary struct {
	Books           int `json:"books"`
	Patrons         int `json:"patrons"`
	BorrowsAttempts int `json:"borrow_attempts"`
	BorrowsOK       int `json:"borrows_ok"`
}

// Run generates the data. Individual failures are logged and skipped; the
// borrows are best effort, like any other borrow.
func Run(ctx context.Context, svc services.LibraryService, opts Options) (Summary, error) {
	faker := gofakeit.New(opts.Seed)
	log := logger.GetLogger(ctx)
	var sum Summary

	isbns := make([]string, 0, opts.Books)
	log.Infof("Seed: generating %d books", opts.Books)
	for i := 0; i < opts.Books; i++ {
		total := faker.Number(1, 5)
		book := models.Book{
			ISBN:            fmt.Sprintf("978-%d-%06d-%02d-%d", faker.Number(0, 9), faker.Number(100000, 999999), faker.Number(10, 99), faker.Number(0, 9)),
			Title:           strings.TrimSuffix(faker.Sentence(4), "."),
			Author:          faker.Name(),
			Category:        faker.RandomString(categories),
			Publisher:       faker.RandomString(publishers),
			PublicationYear: faker.Number(1950, 2025),
			TotalCopies:     total,
			AvailableCopies: total,
			Description:     faker.Paragraph(1, 2, 12, " "),
		}
		if err := svc.AddBook(ctx, book); err != nil {
			log.WithError(err).WithField("isbn", book.ISBN).Warn("Seed: book skipped")
			continue
		}
		isbns = append(isbns, book.ISBN)
	}
	sum.Books = len(isbns)

	patrons := make([]uuid.UUID, 0, opts.Patrons)
	log.Infof("Seed: generating %d patrons", opts.Patrons)
	for i := 0; i < opts.Patrons; i++ {
		person := faker.Person()
		addr := person.Address
		id, err := svc.CreatePatron(ctx, services.PatronInput{
			Email:     fmt.Sprintf("%s.%s.%d@%s", strings.ToLower(person.FirstName), strings.ToLower(person.LastName), i, faker.DomainName()),
			FirstName: person.FirstName,
			LastName:  strings.ToUpper(person.LastName),
			Phone:     person.Contact.Phone,
			Address:   fmt.Sprintf("%s, %s %s", addr.Street, addr.Zip, addr.City),
		})
		if err != nil {
			log.WithError(err).Warn("Seed: patron skipped")
			continue
		}
		patrons = append(patrons, id)
	}
	sum.Patrons = len(patrons)

	if len(isbns) == 0 || len(patrons) == 0 {
		if opts.Borrows > 0 {
			log.Warn("Seed: no books or no patrons, skipping borrows")
		}
		return sum, nil
	}

	log.Infof("Seed: attempting %d borrows", opts.Borrows)
	for i := 0; i < opts.Borrows; i++ {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		patron := patrons[faker.Number(0, len(patrons)-1)]
		isbn := isbns[faker.Number(0, len(isbns)-1)]
		res := svc.BorrowBook(ctx, patron, isbn, opts.LoanDays)
		sum.BorrowsAttempts++
		if res.OK {
			sum.BorrowsOK++
		}
	}

	log.WithField("borrows_ok", sum.BorrowsOK).Info("Seed: done")
	return sum, nil
}
