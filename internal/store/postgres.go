package store

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// PostgresRepository implements Repository on top of sqlx and lib/pq
type PostgresRepository struct {
	db *Database
	q  sqlx.ExtContext // *sqlx.DB, or *sqlx.Tx inside WithTx
}

// NewPostgresRepository creates a new PostgresRepository
func NewPostgresRepository(db *Database) *PostgresRepository {
	return &PostgresRepository{
		db: db,
		q:  db.GetDB(),
	}
}

// WithTx runs fn inside a database transaction. Nested calls reuse the
// enclosing transaction.
func (r *PostgresRepository) WithTx(ctx context.Context, fn func(Repository) error) error {
	if _, ok := r.q.(*sqlx.Tx); ok {
		return fn(r)
	}

	return r.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		return fn(&PostgresRepository{db: r.db, q: tx})
	})
}
