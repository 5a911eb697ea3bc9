package store

import (
	"context"
	"maps"
	"sort"
	"sync"

	"github.com/satonic/nftledger/internal/models"
)

type tokenKey struct {
	collectionID string
	tokenID      int64
}

// memoryState holds stored records. Values are private copies and are never
// mutated after being stored, so a shallow map copy is a valid snapshot.
type memoryState struct {
	collections map[string]*models.Collection
	tokens      map[tokenKey]*models.Token
	listings    map[string]*models.Listing
}

func newMemoryState() *memoryState {
	return &memoryState{
		collections: make(map[string]*models.Collection),
		tokens:      make(map[tokenKey]*models.Token),
		listings:    make(map[string]*models.Listing),
	}
}

func (s *memoryState) snapshot() *memoryState {
	return &memoryState{
		collections: maps.Clone(s.collections),
		tokens:      maps.Clone(s.tokens),
		listings:    maps.Clone(s.listings),
	}
}

// MemoryRepository keeps all state in process memory
type MemoryRepository struct {
	mu    sync.RWMutex
	state *memoryState
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{state: newMemoryState()}
}

func (r *MemoryRepository) GetCollection(ctx context.Context, id string) (*models.Collection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.getCollection(id), nil
}

func (r *MemoryRepository) PutCollection(ctx context.Context, c *models.Collection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.collections[c.ID] = c.Clone()
	return nil
}

func (r *MemoryRepository) ListCollections(ctx context.Context) ([]models.Collection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.listCollections(), nil
}

func (r *MemoryRepository) GetToken(ctx context.Context, collectionID string, tokenID int64) (*models.Token, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.getToken(collectionID, tokenID), nil
}

func (r *MemoryRepository) PutToken(ctx context.Context, t *models.Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.tokens[tokenKey{t.CollectionID, t.TokenID}] = t.Clone()
	return nil
}

func (r *MemoryRepository) DeleteToken(ctx context.Context, collectionID string, tokenID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.state.tokens, tokenKey{collectionID, tokenID})
	return nil
}

func (r *MemoryRepository) ListTokens(ctx context.Context, collectionID string) ([]models.Token, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.listTokens(collectionID), nil
}

func (r *MemoryRepository) GetListing(ctx context.Context, id string) (*models.Listing, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.getListing(id), nil
}

func (r *MemoryRepository) PutListing(ctx context.Context, l *models.Listing) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.listings[l.ID] = l.Clone()
	return nil
}

func (r *MemoryRepository) ListListings(ctx context.Context, filter models.ListingFilter) ([]models.Listing, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.listListings(filter), nil
}

// WithTx runs fn on a snapshot of the state and swaps it in on success.
// Other callers are blocked until fn returns.
func (r *MemoryRepository) WithTx(ctx context.Context, fn func(Repository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx := &memoryTx{state: r.state.snapshot()}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.state = tx.state
	return nil
}

// memoryTx is the unlocked view handed to WithTx callbacks
type memoryTx struct {
	state *memoryState
}

func (t *memoryTx) GetCollection(ctx context.Context, id string) (*models.Collection, error) {
	return t.state.getCollection(id), nil
}

func (t *memoryTx) PutCollection(ctx context.Context, c *models.Collection) error {
	t.state.collections[c.ID] = c.Clone()
	return nil
}

func (t *memoryTx) ListCollections(ctx context.Context) ([]models.Collection, error) {
	return t.state.listCollections(), nil
}

func (t *memoryTx) GetToken(ctx context.Context, collectionID string, tokenID int64) (*models.Token, error) {
	return t.state.getToken(collectionID, tokenID), nil
}

func (t *memoryTx) PutToken(ctx context.Context, tok *models.Token) error {
	t.state.tokens[tokenKey{tok.CollectionID, tok.TokenID}] = tok.Clone()
	return nil
}

func (t *memoryTx) DeleteToken(ctx context.Context, collectionID string, tokenID int64) error {
	delete(t.state.tokens, tokenKey{collectionID, tokenID})
	return nil
}

func (t *memoryTx) ListTokens(ctx context.Context, collectionID string) ([]models.Token, error) {
	return t.state.listTokens(collectionID), nil
}

func (t *memoryTx) GetListing(ctx context.Context, id string) (*models.Listing, error) {
	return t.state.getListing(id), nil
}

func (t *memoryTx) PutListing(ctx context.Context, l *models.Listing) error {
	t.state.listings[l.ID] = l.Clone()
	return nil
}

func (t *memoryTx) ListListings(ctx context.Context, filter models.ListingFilter) ([]models.Listing, error) {
	return t.state.listListings(filter), nil
}

func (t *memoryTx) WithTx(ctx context.Context, fn func(Repository) error) error {
	return fn(t)
}

func (s *memoryState) getCollection(id string) *models.Collection {
	c, ok := s.collections[id]
	if !ok {
		return nil
	}
	return c.Clone()
}

func (s *memoryState) listCollections() []models.Collection {
	out := make([]models.Collection, 0, len(s.collections))
	for _, c := range s.collections {
		out = append(out, *c.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *memoryState) getToken(collectionID string, tokenID int64) *models.Token {
	t, ok := s.tokens[tokenKey{collectionID, tokenID}]
	if !ok {
		return nil
	}
	return t.Clone()
}

func (s *memoryState) listTokens(collectionID string) []models.Token {
	out := []models.Token{}
	for k, t := range s.tokens {
		if k.collectionID == collectionID {
			out = append(out, *t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenID < out[j].TokenID })
	return out
}

func (s *memoryState) getListing(id string) *models.Listing {
	l, ok := s.listings[id]
	if !ok {
		return nil
	}
	return l.Clone()
}

func (s *memoryState) listListings(filter models.ListingFilter) []models.Listing {
	out := []models.Listing{}
	for _, l := range s.listings {
		if filter.Match(l) {
			out = append(out, *l.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
