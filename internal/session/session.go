// Package session owns the single database session shared by every request
// handler. Callers execute named, parameterized statements through the Session
// interface; the session is opened at process start and closed at shutdown.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"library-system/internal/config"
)

var ErrUnsupportedDriver = errors.New("unsupported database driver")

// Statement is a prepared-style query. Placeholders are '?', rewritten by the
// dialect. Name identifies the statement in logs and write plans.
type Statement struct {
	Name  string
	Query string
}

func (s Statement) String() string { return s.Name }

// Session executes parameterized statements. One returns found=false when the
// query produced no rows; All scans every row into dest (a pointer to a slice).
type Session interface {
	Exec(ctx context.Context, stmt Statement, args ...any) (rowsAffected int64, err error)
	One(ctx context.Context, stmt Statement, dest any, args ...any) (found bool, err error)
	All(ctx context.Context, stmt Statement, dest any, args ...any) error
	Close() error
}

type gormSession struct {
	db *gorm.DB
}

// New wraps an already opened gorm handle.
func New(db *gorm.DB) Session {
	return &gormSession{db: db}
}

// Open connects using the database section of the config.
func Open(cfg config.DatabaseConfig) (Session, *gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, fmt.Errorf("get generic DB: %w", err)
	}
	if cfg.Driver == "sqlite" {
		// SQLite allows a single writer; serialize through one connection.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(orDefault(cfg.MaxOpenConns, 20))
		sqlDB.SetMaxIdleConns(orDefault(cfg.MaxIdleConns, 10))
	}
	lifetime := cfg.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = time.Hour
	}
	sqlDB.SetConnMaxLifetime(lifetime)

	return New(db), db, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func (s *gormSession) Exec(ctx context.Context, stmt Statement, args ...any) (int64, error) {
	res := s.db.WithContext(ctx).Exec(stmt.Query, args...)
	if res.Error != nil {
		return 0, fmt.Errorf("%s: %w", stmt.Name, res.Error)
	}
	return res.RowsAffected, nil
}

func (s *gormSession) One(ctx context.Context, stmt Statement, dest any, args ...any) (bool, error) {
	res := s.db.WithContext(ctx).Raw(stmt.Query, args...).Scan(dest)
	if res.Error != nil {
		return false, fmt.Errorf("%s: %w", stmt.Name, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *gormSession) All(ctx context.Context, stmt Statement, dest any, args ...any) error {
	if err := s.db.WithContext(ctx).Raw(stmt.Query, args...).Scan(dest).Error; err != nil {
		return fmt.Errorf("%s: %w", stmt.Name, err)
	}
	return nil
}

func (s *gormSession) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
