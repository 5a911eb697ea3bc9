package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/satonic/nftledger/internal/models"
)

const listingColumns = `id, nft_id, collection_id, token_id, seller, price, currency, listing_type, start_time, end_time, status`

// bidRow is a bids row
type bidRow struct {
	ListingID string `db:"listing_id"`
	Seq       int    `db:"seq"`
	models.Bid
}

// GetListing retrieves a listing by ID with its bids
func (r *PostgresRepository) GetListing(ctx context.Context, id string) (*models.Listing, error) {
	l := &models.Listing{}
	query := `SELECT ` + listingColumns + ` FROM listings WHERE id = $1`

	err := sqlx.GetContext(ctx, r.q, l, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	if l.IsAuction() {
		rows := []bidRow{}
		query = `SELECT listing_id, seq, bidder, amount, placed_at FROM bids WHERE listing_id = $1 ORDER BY seq`
		if err := sqlx.SelectContext(ctx, r.q, &rows, query, id); err != nil {
			return nil, err
		}

		l.Bids = make([]models.Bid, 0, len(rows))
		for _, row := range rows {
			l.Bids = append(l.Bids, row.Bid)
		}
	}

	return l, nil
}

// PutListing upserts a listing and appends any bids not yet stored
func (r *PostgresRepository) PutListing(ctx context.Context, l *models.Listing) error {
	query := `INSERT INTO listings (` + listingColumns + `)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			  ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status`

	_, err := r.q.ExecContext(ctx, query,
		l.ID, l.NFTID, l.CollectionID, l.TokenID, l.Seller, l.Price, l.Currency,
		l.Type, l.StartTime, l.EndTime, l.Status)
	if err != nil {
		return err
	}

	query = `INSERT INTO bids (listing_id, seq, bidder, amount, placed_at)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (listing_id, seq) DO NOTHING`
	for seq, bid := range l.Bids {
		if _, err := r.q.ExecContext(ctx, query, l.ID, seq, bid.Bidder, bid.Amount, bid.Timestamp); err != nil {
			return err
		}
	}

	return nil
}

// ListListings retrieves listings matching the filter
func (r *PostgresRepository) ListListings(ctx context.Context, filter models.ListingFilter) ([]models.Listing, error) {
	listings := []models.Listing{}

	conds := []string{}
	args := []interface{}{}
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.CollectionID != "" {
		add("collection_id = $%d", filter.CollectionID)
	}
	if filter.Seller != "" {
		add("seller = $%d", filter.Seller)
	}
	if filter.TokenID != nil {
		add("token_id = $%d", *filter.TokenID)
	}

	query := `SELECT ` + listingColumns + ` FROM listings`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY start_time, id`

	if err := sqlx.SelectContext(ctx, r.q, &listings, query, args...); err != nil {
		return nil, err
	}

	ids := []string{}
	for _, l := range listings {
		if l.IsAuction() {
			ids = append(ids, l.ID)
		}
	}
	if len(ids) == 0 {
		return listings, nil
	}

	rows := []bidRow{}
	query = `SELECT listing_id, seq, bidder, amount, placed_at
			 FROM bids
			 WHERE listing_id = ANY($1)
			 ORDER BY listing_id, seq`
	if err := sqlx.SelectContext(ctx, r.q, &rows, query, pq.Array(ids)); err != nil {
		return nil, err
	}

	bids := make(map[string][]models.Bid)
	for _, row := range rows {
		bids[row.ListingID] = append(bids[row.ListingID], row.Bid)
	}
	for i := range listings {
		if listings[i].IsAuction() {
			listings[i].Bids = bids[listings[i].ID]
			if listings[i].Bids == nil {
				listings[i].Bids = []models.Bid{}
			}
		}
	}

	return listings, nil
}
