package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/satonic/nftledger/internal/metrics"
	"github.com/satonic/nftledger/internal/models"
	"github.com/satonic/nftledger/internal/store"
)

// CreateCollection creates a new collection owned by creator
func (m *Marketplace) CreateCollection(ctx context.Context, req models.CreateCollectionRequest, creator string) (*models.Collection, error) {
	if err := requireAccount("creator", creator); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Symbol) == "" {
		return nil, fmt.Errorf("%w: collection name and symbol are required", models.ErrInvalidMetadata)
	}
	if req.MaxSupply != nil && *req.MaxSupply < 0 {
		return nil, fmt.Errorf("%w: max supply must not be negative", models.ErrInvalidMetadata)
	}

	c := models.NewCollection(req.Name, req.Symbol, req.Description, creator, req.MaxSupply, m.clock())

	err := m.write(ctx, func(tx store.Repository) error {
		existing, err := tx.GetCollection(ctx, c.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: %s", models.ErrCollectionExists, c.ID)
		}
		return tx.PutCollection(ctx, c)
	})
	if err != nil {
		return nil, err
	}

	m.sugar.Infof("collection %s (%s) created by %s", c.ID, c.Symbol, creator)
	m.publish(ctx, models.Event{
		Type:         models.EventCollectionCreated,
		CollectionID: c.ID,
		Actor:        creator,
		Timestamp:    c.CreatedAt,
	})

	return c, nil
}

// GetCollection retrieves a collection by ID. It returns nil if none exists.
func (m *Marketplace) GetCollection(ctx context.Context, id string) (*models.Collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.repo.GetCollection(ctx, id)
}

// GetAllCollections retrieves every collection in creation order
func (m *Marketplace) GetAllCollections(ctx context.Context) ([]models.Collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.repo.ListCollections(ctx)
}

// MintNFT mints one token into a collection. A nil royalty uses the default.
func (m *Marketplace) MintNFT(ctx context.Context, collectionID, owner string, meta models.Metadata, royaltyBps *int64) (*models.Token, error) {
	tokens, err := m.BatchMintNFTs(ctx, collectionID, owner, []models.Metadata{meta}, royaltyBps)
	if err != nil {
		return nil, err
	}
	return &tokens[0], nil
}

// BatchMintNFTs mints one token per metadata entry. Either every token is
// minted or none is.
func (m *Marketplace) BatchMintNFTs(ctx context.Context, collectionID, owner string, metas []models.Metadata, royaltyBps *int64) ([]models.Token, error) {
	if err := requireAccount("owner", owner); err != nil {
		return nil, err
	}
	if len(metas) == 0 {
		return nil, fmt.Errorf("%w: nothing to mint", models.ErrInvalidMetadata)
	}

	royalty := m.defaultRoyaltyBps
	if royaltyBps != nil {
		royalty = *royaltyBps
	}
	if err := ValidateRoyalty(royalty, m.platformFeeBps); err != nil {
		return nil, err
	}

	now := m.clock()
	minted := make([]models.Token, 0, len(metas))

	err := m.write(ctx, func(tx store.Repository) error {
		c, err := loadCollection(ctx, tx, collectionID)
		if err != nil {
			return err
		}

		for _, meta := range metas {
			t, err := c.Mint(owner, meta, royalty, now)
			if err != nil {
				return err
			}
			if err := tx.PutToken(ctx, t); err != nil {
				return err
			}
			minted = append(minted, *t)
		}

		return tx.PutCollection(ctx, c)
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordMint(len(minted))
	events := make([]models.Event, 0, len(minted))
	for i := range minted {
		tokenID := minted[i].TokenID
		events = append(events, models.Event{
			Type:         models.EventMinted,
			CollectionID: collectionID,
			TokenID:      &tokenID,
			Actor:        owner,
			Timestamp:    now,
		})
	}
	m.sugar.Infof("minted %d token(s) in %s for %s", len(minted), collectionID, owner)
	m.publish(ctx, events...)

	return minted, nil
}

// BurnNFT destroys a token along with its history. Only the current owner
// may burn; any active listing of the token is cancelled in the same step.
// The collection's token counter is not decremented.
func (m *Marketplace) BurnNFT(ctx context.Context, collectionID string, tokenID int64, caller string) error {
	var cancelled []models.Listing

	err := m.write(ctx, func(tx store.Repository) error {
		if _, err := loadCollection(ctx, tx, collectionID); err != nil {
			return err
		}
		t, err := loadToken(ctx, tx, collectionID, tokenID)
		if err != nil {
			return err
		}
		if t.Owner != caller {
			return fmt.Errorf("%w: %s does not own token %d", models.ErrNotOwner, caller, tokenID)
		}

		listings, err := activeListings(ctx, tx, collectionID, tokenID)
		if err != nil {
			return err
		}
		for i := range listings {
			l := &listings[i]
			if err := l.Close(models.ListingStatusCancelled); err != nil {
				return err
			}
			if err := tx.PutListing(ctx, l); err != nil {
				return err
			}
			cancelled = append(cancelled, *l)
		}

		return tx.DeleteToken(ctx, collectionID, tokenID)
	})
	if err != nil {
		return err
	}

	now := m.clock()
	metrics.RecordBurn()
	m.sugar.Infof("token %s/%d burned by %s, %d listing(s) cancelled", collectionID, tokenID, caller, len(cancelled))

	events := []models.Event{{
		Type:         models.EventBurned,
		CollectionID: collectionID,
		TokenID:      &tokenID,
		Actor:        caller,
		Timestamp:    now,
	}}
	for _, l := range cancelled {
		events = append(events, models.Event{
			Type:         models.EventListingCancelled,
			CollectionID: collectionID,
			TokenID:      &tokenID,
			ListingID:    l.ID,
			Actor:        caller,
			Timestamp:    now,
		})
	}
	m.publish(ctx, events...)

	return nil
}

// TransferNFT gives a token to another account without a sale. Listed
// tokens must be delisted first.
func (m *Marketplace) TransferNFT(ctx context.Context, collectionID string, tokenID int64, from, to string) (*models.Token, error) {
	if err := requireAccount("recipient", to); err != nil {
		return nil, err
	}

	now := m.clock()
	var token *models.Token

	err := m.write(ctx, func(tx store.Repository) error {
		t, err := loadToken(ctx, tx, collectionID, tokenID)
		if err != nil {
			return err
		}

		listings, err := activeListings(ctx, tx, collectionID, tokenID)
		if err != nil {
			return err
		}
		if len(listings) > 0 {
			return fmt.Errorf("%w: listing %s", models.ErrAlreadyListed, listings[0].ID)
		}

		if err := t.Transfer(from, to, nil, now); err != nil {
			return err
		}
		token = t
		return tx.PutToken(ctx, t)
	})
	if err != nil {
		return nil, err
	}

	m.publish(ctx, models.Event{
		Type:         models.EventTransferred,
		CollectionID: collectionID,
		TokenID:      &tokenID,
		Actor:        from,
		Counterparty: to,
		Timestamp:    now,
	})

	return token, nil
}

// GetNFT retrieves a token. It returns nil if none exists.
func (m *Marketplace) GetNFT(ctx context.Context, collectionID string, tokenID int64) (*models.Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.repo.GetToken(ctx, collectionID, tokenID)
}

// GetAllNFTs retrieves the live tokens of a collection ordered by token id
func (m *Marketplace) GetAllNFTs(ctx context.Context, collectionID string) ([]models.Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.repo.ListTokens(ctx, collectionID)
}

// GetNFTsByOwner retrieves the tokens of a collection held by owner
func (m *Marketplace) GetNFTsByOwner(ctx context.Context, collectionID, owner string) ([]models.Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tokens, err := m.repo.ListTokens(ctx, collectionID)
	if err != nil {
		return nil, err
	}

	owned := []models.Token{}
	for _, t := range tokens {
		if t.Owner == owner {
			owned = append(owned, t)
		}
	}
	return owned, nil
}
