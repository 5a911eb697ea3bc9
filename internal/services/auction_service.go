package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/satonic/nftledger/internal/metrics"
	"github.com/satonic/nftledger/internal/models"
	"github.com/satonic/nftledger/internal/store"
)

// ListNFT offers a token for sale. The seller must own the token and the
// token must not already have an active listing.
func (m *Marketplace) ListNFT(ctx context.Context, req models.CreateListingRequest, seller string) (*models.Listing, error) {
	if err := requireAccount("seller", seller); err != nil {
		return nil, err
	}
	if req.Type == "" {
		req.Type = models.ListingTypeFixed
	}
	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidListingType, req.Type)
	}
	if req.Price <= 0 {
		return nil, fmt.Errorf("%w: price must be positive, got %d", models.ErrInvalidPrice, req.Price)
	}
	if req.DurationSecs < 0 {
		return nil, fmt.Errorf("%w: %ds", models.ErrInvalidDuration, req.DurationSecs)
	}
	if req.Currency == "" {
		req.Currency = m.currency
	}

	now := m.clock()
	var listing *models.Listing

	err := m.write(ctx, func(tx store.Repository) error {
		if _, err := loadCollection(ctx, tx, req.CollectionID); err != nil {
			return err
		}
		t, err := loadToken(ctx, tx, req.CollectionID, req.TokenID)
		if err != nil {
			return err
		}
		if t.Owner != seller {
			return fmt.Errorf("%w: %s does not own token %d", models.ErrNotOwner, seller, req.TokenID)
		}

		existing, err := activeListings(ctx, tx, req.CollectionID, req.TokenID)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return fmt.Errorf("%w: listing %s", models.ErrAlreadyListed, existing[0].ID)
		}

		listing = &models.Listing{
			ID:           models.NewListingID(),
			NFTID:        t.ID,
			CollectionID: req.CollectionID,
			TokenID:      req.TokenID,
			Seller:       seller,
			Price:        req.Price,
			Currency:     req.Currency,
			Type:         req.Type,
			StartTime:    now,
			Status:       models.ListingStatusActive,
		}
		if listing.IsAuction() {
			listing.Bids = []models.Bid{}
			if req.DurationSecs > 0 {
				end := now.Add(time.Duration(req.DurationSecs) * time.Second)
				listing.EndTime = &end
			}
		}

		return tx.PutListing(ctx, listing)
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordListing(string(listing.Type))
	m.sugar.Infof("listing %s: %s/%d by %s, %s at %d %s", listing.ID, listing.CollectionID, listing.TokenID, seller, listing.Type, listing.Price, listing.Currency)
	m.publish(ctx, models.Event{
		Type:         models.EventListed,
		CollectionID: listing.CollectionID,
		TokenID:      &listing.TokenID,
		ListingID:    listing.ID,
		Actor:        seller,
		Amount:       listing.Price,
		Timestamp:    now,
	})

	return listing, nil
}

// BuyNFT completes a fixed-price sale once the buyer's payment is confirmed.
// The token moves at the listing price; any overpayment is reported for
// refund.
func (m *Marketplace) BuyNFT(ctx context.Context, listingID, buyer string, payment int64) (*models.SaleResult, error) {
	if err := requireAccount("buyer", buyer); err != nil {
		return nil, err
	}

	now := m.clock()
	var result *models.SaleResult

	err := m.write(ctx, func(tx store.Repository) error {
		l, err := loadListing(ctx, tx, listingID)
		if err != nil {
			return err
		}
		if !l.IsActive() {
			return fmt.Errorf("%w: %s is %s", models.ErrListingNotActive, l.ID, l.Status)
		}
		if l.IsAuction() {
			return fmt.Errorf("%w: %s", models.ErrNotFixedPrice, l.ID)
		}
		if payment < l.Price {
			return fmt.Errorf("%w: paid %d, price is %d", models.ErrInsufficientPayment, payment, l.Price)
		}

		t, err := m.sellableToken(ctx, tx, l)
		if err != nil {
			return err
		}

		split, err := SplitSale(l.Price, m.platformFeeBps, t, l.Seller, l.Currency)
		if err != nil {
			return err
		}
		if err := m.settle(ctx, tx, l, t, buyer, l.Price, now); err != nil {
			return err
		}

		result = &models.SaleResult{
			Listing:     l,
			Token:       t,
			Split:       split,
			Overpayment: payment - l.Price,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	l := result.Listing
	metrics.RecordSale(string(l.Type), l.Currency, l.Price)
	m.sugar.Infof("listing %s sold to %s for %d %s", l.ID, buyer, l.Price, l.Currency)
	m.publish(ctx, models.Event{
		Type:         models.EventSold,
		CollectionID: l.CollectionID,
		TokenID:      &l.TokenID,
		ListingID:    l.ID,
		Actor:        buyer,
		Counterparty: l.Seller,
		Amount:       l.Price,
		Timestamp:    now,
	})

	return result, nil
}

// PlaceBid records a bid on an active auction. The opening bid must meet
// the reserve price and each later bid must exceed the highest so far.
func (m *Marketplace) PlaceBid(ctx context.Context, listingID, bidder string, amount int64) (*models.Bid, error) {
	if err := requireAccount("bidder", bidder); err != nil {
		return nil, err
	}

	var (
		bid     *models.Bid
		listing *models.Listing
	)

	err := m.write(ctx, func(tx store.Repository) error {
		l, err := loadListing(ctx, tx, listingID)
		if err != nil {
			return err
		}
		if l.IsActive() {
			if _, err := loadToken(ctx, tx, l.CollectionID, l.TokenID); err != nil {
				return err
			}
		}

		b, err := l.AddBid(bidder, amount, m.clock())
		if err != nil {
			return err
		}
		bid, listing = b, l
		return tx.PutListing(ctx, l)
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordBid()
	m.sugar.Debugf("bid %d by %s on %s", amount, bidder, listingID)
	m.publish(ctx, models.Event{
		Type:         models.EventBidPlaced,
		CollectionID: listing.CollectionID,
		TokenID:      &listing.TokenID,
		ListingID:    listing.ID,
		Actor:        bidder,
		Amount:       amount,
		Timestamp:    bid.Timestamp,
	})

	return bid, nil
}

// EndAuction settles an auction. The highest bid wins, ties going to the
// earliest. An auction without bids is cancelled: the outcome is still
// returned, together with ErrNoBids.
func (m *Marketplace) EndAuction(ctx context.Context, listingID string) (*models.AuctionOutcome, error) {
	return m.endAuction(ctx, listingID)
}

func (m *Marketplace) endAuction(ctx context.Context, listingID string) (*models.AuctionOutcome, error) {
	now := m.clock()
	var outcome *models.AuctionOutcome

	err := m.write(ctx, func(tx store.Repository) error {
		l, err := loadListing(ctx, tx, listingID)
		if err != nil {
			return err
		}
		if !l.IsAuction() {
			return fmt.Errorf("%w: %s", models.ErrNotAuction, l.ID)
		}
		if !l.IsActive() {
			return fmt.Errorf("%w: %s is %s", models.ErrListingNotActive, l.ID, l.Status)
		}

		winner := l.HighestBid()
		if winner == nil {
			if err := l.Close(models.ListingStatusCancelled); err != nil {
				return err
			}
			outcome = &models.AuctionOutcome{Listing: l}
			return tx.PutListing(ctx, l)
		}
		w := *winner

		t, err := m.sellableToken(ctx, tx, l)
		if err != nil {
			return err
		}
		split, err := SplitSale(w.Amount, m.platformFeeBps, t, l.Seller, l.Currency)
		if err != nil {
			return err
		}
		if err := m.settle(ctx, tx, l, t, w.Bidder, w.Amount, now); err != nil {
			return err
		}

		outcome = &models.AuctionOutcome{
			Listing: l,
			Token:   t,
			Winner:  &w,
			Split:   &split,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	l := outcome.Listing
	if outcome.Winner == nil {
		metrics.RecordAuctionSettled("no_bids")
		m.sugar.Infof("auction %s ended without bids", l.ID)
		m.publish(ctx, models.Event{
			Type:         models.EventAuctionCancelled,
			CollectionID: l.CollectionID,
			TokenID:      &l.TokenID,
			ListingID:    l.ID,
			Actor:        l.Seller,
			Timestamp:    now,
		})
		return outcome, fmt.Errorf("%w: auction %s", models.ErrNoBids, l.ID)
	}

	metrics.RecordAuctionSettled("sold")
	metrics.RecordSale(string(l.Type), l.Currency, outcome.Winner.Amount)
	m.sugar.Infof("auction %s won by %s at %d %s", l.ID, outcome.Winner.Bidder, outcome.Winner.Amount, l.Currency)
	m.publish(ctx, models.Event{
		Type:         models.EventSold,
		CollectionID: l.CollectionID,
		TokenID:      &l.TokenID,
		ListingID:    l.ID,
		Actor:        outcome.Winner.Bidder,
		Counterparty: l.Seller,
		Amount:       outcome.Winner.Amount,
		Timestamp:    now,
	})

	return outcome, nil
}

// CancelListing withdraws an active listing. Only the seller may cancel.
func (m *Marketplace) CancelListing(ctx context.Context, listingID, seller string) (*models.Listing, error) {
	var listing *models.Listing

	err := m.write(ctx, func(tx store.Repository) error {
		l, err := loadListing(ctx, tx, listingID)
		if err != nil {
			return err
		}
		if l.Seller != seller {
			return fmt.Errorf("%w: %s did not list %s", models.ErrNotSeller, seller, l.ID)
		}
		if err := l.Close(models.ListingStatusCancelled); err != nil {
			return err
		}
		listing = l
		return tx.PutListing(ctx, l)
	})
	if err != nil {
		return nil, err
	}

	m.publish(ctx, models.Event{
		Type:         models.EventListingCancelled,
		CollectionID: listing.CollectionID,
		TokenID:      &listing.TokenID,
		ListingID:    listing.ID,
		Actor:        seller,
		Timestamp:    m.clock(),
	})

	return listing, nil
}

// SettleExpiredAuctions ends every active auction whose end time has passed
// and returns how many were settled, with or without a winner
func (m *Marketplace) SettleExpiredAuctions(ctx context.Context) (int, error) {
	active, err := m.GetActiveListings(ctx)
	if err != nil {
		return 0, err
	}

	now := m.clock()
	settled := 0
	var errs []error

	for _, l := range active {
		if !l.IsAuction() || !l.Expired(now) {
			continue
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		_, err := m.endAuction(ctx, l.ID)
		switch {
		case err == nil, errors.Is(err, models.ErrNoBids):
			settled++
		case errors.Is(err, models.ErrListingNotActive):
			// ended or cancelled since the scan
		default:
			m.sugar.Errorf("settle auction %s: %s", l.ID, err)
			errs = append(errs, fmt.Errorf("auction %s: %w", l.ID, err))
		}
	}

	return settled, errors.Join(errs...)
}

// GetListing retrieves a listing by ID. It returns nil if none exists.
func (m *Marketplace) GetListing(ctx context.Context, id string) (*models.Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.repo.GetListing(ctx, id)
}

// GetActiveListings retrieves every active listing
func (m *Marketplace) GetActiveListings(ctx context.Context) ([]models.Listing, error) {
	return m.listings(ctx, models.ListingFilter{Status: models.ListingStatusActive})
}

// GetListingsByCollection retrieves all listings of a collection, in any status
func (m *Marketplace) GetListingsByCollection(ctx context.Context, collectionID string) ([]models.Listing, error) {
	return m.listings(ctx, models.ListingFilter{CollectionID: collectionID})
}

// GetListingsBySeller retrieves all listings created by seller, in any status
func (m *Marketplace) GetListingsBySeller(ctx context.Context, seller string) ([]models.Listing, error) {
	return m.listings(ctx, models.ListingFilter{Seller: seller})
}

func (m *Marketplace) listings(ctx context.Context, filter models.ListingFilter) ([]models.Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.repo.ListListings(ctx, filter)
}

// sellableToken loads the token a listing sells and checks that the listing
// still refers to a consistent state
func (m *Marketplace) sellableToken(ctx context.Context, tx store.Repository, l *models.Listing) (*models.Token, error) {
	c, err := tx.GetCollection(ctx, l.CollectionID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, m.invariant("listing %s references missing collection %s", l.ID, l.CollectionID)
	}

	t, err := loadToken(ctx, tx, l.CollectionID, l.TokenID)
	if err != nil {
		return nil, err
	}
	if t.ID != l.NFTID {
		return nil, m.invariant("listing %s was made for token instance %s, found %s", l.ID, l.NFTID, t.ID)
	}
	if t.Owner != l.Seller {
		return nil, m.invariant("listing %s seller %s no longer owns %s/%d", l.ID, l.Seller, l.CollectionID, l.TokenID)
	}
	return t, nil
}

// settle moves the token to buyer at price and marks the listing sold
func (m *Marketplace) settle(ctx context.Context, tx store.Repository, l *models.Listing, t *models.Token, buyer string, price int64, at time.Time) error {
	if err := t.Transfer(l.Seller, buyer, &price, at); err != nil {
		return err
	}
	if err := tx.PutToken(ctx, t); err != nil {
		return err
	}
	if err := l.Close(models.ListingStatusSold); err != nil {
		return err
	}
	return tx.PutListing(ctx, l)
}
