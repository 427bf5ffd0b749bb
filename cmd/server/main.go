package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"library-system/internal/audit"
	"library-system/internal/config"
	"library-system/internal/handlers"
	"library-system/internal/logger"
	"library-system/internal/repositories"
	"library-system/internal/services"
	"library-system/internal/session"
)

func main() {
	configFile := flag.String("config", "", "optional config file (yaml, toml or json)")
	flag.Parse()

	cfg, err := config.Load(config.New(), *configFile)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := logger.Setup(os.Stdout, cfg.Log.Level, cfg.Log.Format); err != nil {
		log.Fatalf("failed to set up logging: %v", err)
	}

	sess, _, err := session.Open(cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	defer func() {
		if err := sess.Close(); err != nil {
			log.WithError(err).Error("failed to close database session")
		}
	}()

	bookRepo := repositories.NewBookRepository(sess)
	userRepo := repositories.NewUserRepository(sess)
	loanRepo := repositories.NewLoanRepository(sess)

	engineOpts := []services.EngineOption{services.WithLoanPeriod(cfg.Loan.Days)}
	if cfg.Loan.ConditionalCopies {
		engineOpts = append(engineOpts, services.WithConditionalCopies())
	}
	engine, err := services.NewBorrowEngine(sess, bookRepo, userRepo, loanRepo, engineOpts...)
	if err != nil {
		log.Fatalf("failed to build borrow engine: %v", err)
	}

	libraryService := services.NewLibraryService(bookRepo, userRepo, loanRepo, engine)
	auditor := audit.New(bookRepo, userRepo, loanRepo)

	router := gin.Default()

	handlers.RegisterRoutes(router, libraryService, auditor)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Starting server on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server shutdown")
	}
}
