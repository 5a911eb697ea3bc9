package store

import (
	"context"

	"github.com/satonic/nftledger/internal/models"
)

// Repository is the storage contract of the marketplace. Getters return
// (nil, nil) when the record does not exist. List results are ordered:
// collections by creation time, tokens by token id, listings by start time.
type Repository interface {
	GetCollection(ctx context.Context, id string) (*models.Collection, error)
	PutCollection(ctx context.Context, c *models.Collection) error
	ListCollections(ctx context.Context) ([]models.Collection, error)

	GetToken(ctx context.Context, collectionID string, tokenID int64) (*models.Token, error)
	PutToken(ctx context.Context, t *models.Token) error
	DeleteToken(ctx context.Context, collectionID string, tokenID int64) error
	ListTokens(ctx context.Context, collectionID string) ([]models.Token, error)

	GetListing(ctx context.Context, id string) (*models.Listing, error)
	PutListing(ctx context.Context, l *models.Listing) error
	ListListings(ctx context.Context, filter models.ListingFilter) ([]models.Listing, error)

	// WithTx runs fn against a transactional view of the repository. Writes
	// made through that view are committed together if fn returns nil and
	// discarded otherwise.
	WithTx(ctx context.Context, fn func(Repository) error) error
}
