package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/satonic/nftledger/internal/metrics"
	"github.com/satonic/nftledger/internal/models"
	"github.com/satonic/nftledger/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// EventPublisher receives events after the mutation that produced them commits
type EventPublisher interface {
	Publish(ctx context.Context, e models.Event) error
}

// Option configures a Marketplace
type Option func(*Marketplace)

// WithPlatformFee sets the platform fee in basis points
func WithPlatformFee(bps int64) Option {
	return func(m *Marketplace) { m.platformFeeBps = bps }
}

// WithDefaultRoyalty sets the royalty applied when a mint does not name one
func WithDefaultRoyalty(bps int64) Option {
	return func(m *Marketplace) { m.defaultRoyaltyBps = bps }
}

// WithDefaultCurrency sets the currency tag used when a listing does not name one
func WithDefaultCurrency(currency string) Option {
	return func(m *Marketplace) { m.currency = currency }
}

func WithLogger(sugar *zap.SugaredLogger) Option {
	return func(m *Marketplace) { m.sugar = sugar }
}

func WithPublisher(p EventPublisher) Option {
	return func(m *Marketplace) { m.publisher = p }
}

// WithClock overrides time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(m *Marketplace) { m.now = now }
}

// Marketplace is the registry of collections, tokens and listings. All
// mutations go through a single writer lock, so checks such as the
// strictly-increasing bid rule never race. Events are published after the
// lock is released.
type Marketplace struct {
	mu   sync.RWMutex
	repo store.Repository

	platformFeeBps    int64
	defaultRoyaltyBps int64
	currency          string

	sugar     *zap.SugaredLogger
	publisher EventPublisher
	now       func() time.Time
}

// NewMarketplace creates a Marketplace backed by repo
func NewMarketplace(repo store.Repository, opts ...Option) *Marketplace {
	m := &Marketplace{
		repo:              repo,
		platformFeeBps:    DefaultPlatformFeeBps,
		defaultRoyaltyBps: DefaultRoyaltyBps,
		currency:          "AETH",
		sugar:             zap.NewNop().Sugar(),
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// PlatformFeeBps returns the configured platform fee
func (m *Marketplace) PlatformFeeBps() int64 {
	return m.platformFeeBps
}

// write runs fn in a transaction under the writer lock
func (m *Marketplace) write(ctx context.Context, fn func(tx store.Repository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.repo.WithTx(ctx, fn)
}

func (m *Marketplace) clock() time.Time {
	return m.now().UTC()
}

// publish delivers events. Delivery is best effort: the state change has
// already committed, so failures are only logged.
func (m *Marketplace) publish(ctx context.Context, events ...models.Event) {
	if m.publisher == nil {
		return
	}
	for _, e := range events {
		if err := m.publisher.Publish(ctx, e); err != nil {
			m.sugar.Warnf("publish %s event: %s", e.Type, err)
		}
	}
}

// invariant logs and returns an internal inconsistency
func (m *Marketplace) invariant(format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	m.sugar.Errorw("invariant violation", "detail", msg)
	metrics.RecordInvariantViolation()
	return fmt.Errorf("%w: %s", models.ErrInvariantViolation, msg)
}

func requireAccount(role, account string) error {
	if account == "" {
		return fmt.Errorf("%w: %s is required", models.ErrInvalidAccount, role)
	}
	return nil
}

func loadCollection(ctx context.Context, repo store.Repository, id string) (*models.Collection, error) {
	c, err := repo.GetCollection(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("%w: %s", models.ErrCollectionNotFound, id)
	}
	return c, nil
}

func loadToken(ctx context.Context, repo store.Repository, collectionID string, tokenID int64) (*models.Token, error) {
	t, err := repo.GetToken(ctx, collectionID, tokenID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("%w: %s/%d", models.ErrTokenNotFound, collectionID, tokenID)
	}
	return t, nil
}

func loadListing(ctx context.Context, repo store.Repository, id string) (*models.Listing, error) {
	l, err := repo.GetListing(ctx, id)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, fmt.Errorf("%w: %s", models.ErrListingNotFound, id)
	}
	return l, nil
}

// activeListings returns the active listings of one token
func activeListings(ctx context.Context, repo store.Repository, collectionID string, tokenID int64) ([]models.Listing, error) {
	return repo.ListListings(ctx, models.ListingFilter{
		Status:       models.ListingStatusActive,
		CollectionID: collectionID,
		TokenID:      &tokenID,
	})
}

// SearchNFTs returns tokens whose name or description contains query,
// ignoring case, ordered by collection and then token id
func (m *Marketplace) SearchNFTs(ctx context.Context, query string) ([]models.Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	collections, err := m.repo.ListCollections(ctx)
	if err != nil {
		return nil, err
	}

	results := []models.Token{}
	for _, c := range collections {
		tokens, err := m.repo.ListTokens(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		for _, t := range tokens {
			if t.Metadata.Matches(query) {
				results = append(results, t)
			}
		}
	}

	return results, nil
}

// GetStats aggregates marketplace activity. Volume and sales are derived
// from the transfer history of tokens that still exist.
func (m *Marketplace) GetStats(ctx context.Context) (*models.Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	collections, err := m.repo.ListCollections(ctx)
	if err != nil {
		return nil, err
	}

	stats := &models.Stats{
		TotalCollections: len(collections),
		AveragePrice:     decimal.Zero,
	}

	for _, c := range collections {
		stats.TotalNFTs += c.TotalSupply

		tokens, err := m.repo.ListTokens(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		for _, t := range tokens {
			for _, tr := range t.History {
				if tr.Price != nil {
					stats.TotalVolume += *tr.Price
					stats.TotalSales++
				}
			}
		}
	}

	listings, err := m.repo.ListListings(ctx, models.ListingFilter{})
	if err != nil {
		return nil, err
	}
	stats.TotalListings = len(listings)
	for _, l := range listings {
		if l.IsActive() {
			stats.ActiveListings++
		}
	}

	if stats.TotalSales > 0 {
		stats.AveragePrice = decimal.NewFromInt(stats.TotalVolume).Div(decimal.NewFromInt(stats.TotalSales))
	}

	return stats, nil
}
