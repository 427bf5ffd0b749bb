package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"library-system/internal/audit"
	"library-system/internal/config"
	"library-system/internal/logger"
	"library-system/internal/repositories"
	"library-system/internal/services"
	"library-system/internal/session"
)

// app holds what every subcommand needs. It is built once per invocation,
// after flags are parsed, and the session is closed when the command ends.
type app struct {
	cfg     *config.Config
	sess    session.Session
	db      *gorm.DB
	svc     services.LibraryService
	auditor *audit.Auditor
	out     *printer
}

func newRootCmd() *cobra.Command {
	var (
		configFile string
		output     string
		a          = &app{}
	)
	v := config.New()

	root := &cobra.Command{
		Use:           "librarian",
		Short:         "Library system: books, patrons, borrows and returns",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v, configFile)
			if err != nil {
				return err
			}
			if err := logger.Setup(os.Stderr, cfg.Log.Level, cfg.Log.Format); err != nil {
				return err
			}
			out, err := newPrinter(cmd.OutOrStdout(), output)
			if err != nil {
				return err
			}
			return a.open(cfg, out)
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			return a.close()
		},
	}

	root.PersistentFlags().StringVar(&configFile, "config", "", "config file (yaml, toml or json)")
	root.PersistentFlags().StringVarP(&output, "output", "o", "auto", "output format: auto, table or json")
	root.PersistentFlags().String("driver", "", "database driver: postgres or sqlite")
	root.PersistentFlags().String("dsn", "", "database DSN")
	_ = v.BindPFlag("database.driver", root.PersistentFlags().Lookup("driver"))
	_ = v.BindPFlag("database.dsn", root.PersistentFlags().Lookup("dsn"))

	root.AddCommand(
		newBooksCmd(a),
		newUsersCmd(a),
		newBorrowsCmd(a),
		newSchemaCmd(a),
		newSeedCmd(a),
		newAuditCmd(a),
	)
	return root
}

func (a *app) open(cfg *config.Config, out *printer) error {
	sess, db, err := session.Open(cfg.Database)
	if err != nil {
		return err
	}

	bookRepo := repositories.NewBookRepository(sess)
	userRepo := repositories.NewUserRepository(sess)
	loanRepo := repositories.NewLoanRepository(sess)

	opts := []services.EngineOption{services.WithLoanPeriod(cfg.Loan.Days)}
	if cfg.Loan.ConditionalCopies {
		opts = append(opts, services.WithConditionalCopies())
	}
	engine, err := services.NewBorrowEngine(sess, bookRepo, userRepo, loanRepo, opts...)
	if err != nil {
		_ = sess.Close()
		return err
	}

	a.cfg = cfg
	a.sess = sess
	a.db = db
	a.svc = services.NewLibraryService(bookRepo, userRepo, loanRepo, engine)
	a.auditor = audit.New(bookRepo, userRepo, loanRepo)
	a.out = out
	return nil
}

func (a *app) close() error {
	if a.sess == nil {
		return nil
	}
	err := a.sess.Close()
	a.sess = nil
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	return nil
}
