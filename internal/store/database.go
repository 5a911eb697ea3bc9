package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/satonic/nftledger/internal/config"
)

// Database represents a database connection
type Database struct {
	db *sqlx.DB
}

// NewDatabase creates a new database connection
func NewDatabase(ctx context.Context, cfg config.DatabaseConfig) (*Database, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Database{db: db}, nil
}

// WrapDB wraps an existing connection, for tests and tools that manage their own pool
func WrapDB(db *sqlx.DB) *Database {
	return &Database{db: db}
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// GetDB returns the sqlx.DB instance
func (d *Database) GetDB() *sqlx.DB {
	return d.db
}

// Transaction executes a function within a transaction
func (d *Database) Transaction(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p) // re-throw panic after rollback
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}
