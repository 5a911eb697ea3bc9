package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/satonic/nftledger/internal/models"
)

const collectionColumns = `id, name, symbol, description, creator, max_supply, total_supply, created_at`

const tokenColumns = `id, collection_id, token_id, owner, creator, metadata, royalty_bps, minted_at`

// transferRow is a token_transfers row
type transferRow struct {
	CollectionID string `db:"collection_id"`
	TokenID      int64  `db:"token_id"`
	Seq          int    `db:"seq"`
	models.Transfer
}

// GetCollection retrieves a collection by ID
func (r *PostgresRepository) GetCollection(ctx context.Context, id string) (*models.Collection, error) {
	c := &models.Collection{}
	query := `SELECT ` + collectionColumns + ` FROM collections WHERE id = $1`

	err := sqlx.GetContext(ctx, r.q, c, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return c, nil
}

// PutCollection inserts a collection or updates its mutable fields
func (r *PostgresRepository) PutCollection(ctx context.Context, c *models.Collection) error {
	query := `INSERT INTO collections (` + collectionColumns + `)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			  ON CONFLICT (id) DO UPDATE SET total_supply = EXCLUDED.total_supply,
			  description = EXCLUDED.description`

	_, err := r.q.ExecContext(ctx, query,
		c.ID, c.Name, c.Symbol, c.Description, c.Creator,
		c.MaxSupply, c.TotalSupply, c.CreatedAt)

	return err
}

// ListCollections retrieves all collections
func (r *PostgresRepository) ListCollections(ctx context.Context) ([]models.Collection, error) {
	collections := []models.Collection{}
	query := `SELECT ` + collectionColumns + ` FROM collections ORDER BY created_at, id`

	if err := sqlx.SelectContext(ctx, r.q, &collections, query); err != nil {
		return nil, err
	}

	return collections, nil
}

// GetToken retrieves a token with its transfer history
func (r *PostgresRepository) GetToken(ctx context.Context, collectionID string, tokenID int64) (*models.Token, error) {
	t := &models.Token{}
	query := `SELECT ` + tokenColumns + ` FROM tokens WHERE collection_id = $1 AND token_id = $2`

	err := sqlx.GetContext(ctx, r.q, t, query, collectionID, tokenID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	rows := []transferRow{}
	query = `SELECT collection_id, token_id, seq, from_account, to_account, price, transferred_at
			 FROM token_transfers
			 WHERE collection_id = $1 AND token_id = $2
			 ORDER BY seq`
	if err := sqlx.SelectContext(ctx, r.q, &rows, query, collectionID, tokenID); err != nil {
		return nil, err
	}

	t.History = make([]models.Transfer, 0, len(rows))
	for _, row := range rows {
		t.History = append(t.History, row.Transfer)
	}

	return t, nil
}

// PutToken upserts a token and appends any history entries not yet stored
func (r *PostgresRepository) PutToken(ctx context.Context, t *models.Token) error {
	query := `INSERT INTO tokens (` + tokenColumns + `)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			  ON CONFLICT (collection_id, token_id) DO UPDATE SET owner = EXCLUDED.owner`

	_, err := r.q.ExecContext(ctx, query,
		t.ID, t.CollectionID, t.TokenID, t.Owner, t.Creator,
		t.Metadata, t.RoyaltyBps, t.MintedAt)
	if err != nil {
		return err
	}

	// History is append-only, so existing sequence numbers are left untouched
	query = `INSERT INTO token_transfers (collection_id, token_id, seq, from_account, to_account, price, transferred_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (collection_id, token_id, seq) DO NOTHING`
	for seq, tr := range t.History {
		_, err := r.q.ExecContext(ctx, query,
			t.CollectionID, t.TokenID, seq, tr.From, tr.To, tr.Price, tr.Timestamp)
		if err != nil {
			return err
		}
	}

	return nil
}

// DeleteToken removes a token and, by cascade, its history
func (r *PostgresRepository) DeleteToken(ctx context.Context, collectionID string, tokenID int64) error {
	query := `DELETE FROM tokens WHERE collection_id = $1 AND token_id = $2`
	_, err := r.q.ExecContext(ctx, query, collectionID, tokenID)
	return err
}

// ListTokens retrieves all tokens of a collection with their histories
func (r *PostgresRepository) ListTokens(ctx context.Context, collectionID string) ([]models.Token, error) {
	tokens := []models.Token{}
	query := `SELECT ` + tokenColumns + ` FROM tokens WHERE collection_id = $1 ORDER BY token_id`

	if err := sqlx.SelectContext(ctx, r.q, &tokens, query, collectionID); err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return tokens, nil
	}

	rows := []transferRow{}
	query = `SELECT collection_id, token_id, seq, from_account, to_account, price, transferred_at
			 FROM token_transfers
			 WHERE collection_id = $1
			 ORDER BY token_id, seq`
	if err := sqlx.SelectContext(ctx, r.q, &rows, query, collectionID); err != nil {
		return nil, err
	}

	history := make(map[int64][]models.Transfer)
	for _, row := range rows {
		history[row.TokenID] = append(history[row.TokenID], row.Transfer)
	}
	for i := range tokens {
		tokens[i].History = history[tokens[i].TokenID]
		if tokens[i].History == nil {
			tokens[i].History = []models.Transfer{}
		}
	}

	return tokens, nil
}
