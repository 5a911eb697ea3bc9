package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ListingStatus represents the lifecycle state of a listing
type ListingStatus string

const (
	ListingStatusActive    ListingStatus = "active"
	ListingStatusSold      ListingStatus = "sold"
	ListingStatusCancelled ListingStatus = "cancelled"
)

// ListingType selects how a listing is sold
type ListingType string

const (
	ListingTypeFixed   ListingType = "fixed"
	ListingTypeAuction ListingType = "auction"
)

// Valid reports whether the listing type is known
func (t ListingType) Valid() bool {
	return t == ListingTypeFixed || t == ListingTypeAuction
}

// Bid represents a bid on an auction listing
type Bid struct {
	Bidder    string    `json:"bidder" db:"bidder"`
	Amount    int64     `json:"amount" db:"amount"` // in minor units
	Timestamp time.Time `json:"timestamp" db:"placed_at"`
}

// Listing represents an offer to sell one token
type Listing struct {
	ID           string        `json:"id" db:"id"`
	NFTID        string        `json:"nft_id" db:"nft_id"`
	CollectionID string        `json:"collection_id" db:"collection_id"`
	TokenID      int64         `json:"token_id" db:"token_id"`
	Seller       string        `json:"seller" db:"seller"`
	Price        int64         `json:"price" db:"price"` // asking price, or reserve for auctions
	Currency     string        `json:"currency" db:"currency"`
	Type         ListingType   `json:"listing_type" db:"listing_type"`
	StartTime    time.Time     `json:"start_time" db:"start_time"`
	EndTime      *time.Time    `json:"end_time,omitempty" db:"end_time"`
	Status       ListingStatus `json:"status" db:"status"`
	Bids         []Bid         `json:"bids,omitempty" db:"-"`
}

// NewListingID returns a random, unguessable listing identifier
func NewListingID() string {
	return uuid.New().String()
}

// IsActive reports whether the listing can still be acted on
func (l *Listing) IsActive() bool {
	return l.Status == ListingStatusActive
}

// IsAuction reports whether the listing is an auction
func (l *Listing) IsAuction() bool {
	return l.Type == ListingTypeAuction
}

// Expired reports whether an auction's end time has passed at now
func (l *Listing) Expired(now time.Time) bool {
	return l.EndTime != nil && now.After(*l.EndTime)
}

// HighestBid returns the winning bid so far. Ties go to the earliest bid.
func (l *Listing) HighestBid() *Bid {
	var best *Bid
	for i := range l.Bids {
		if best == nil || l.Bids[i].Amount > best.Amount {
			best = &l.Bids[i]
		}
	}
	return best
}

// AddBid validates and records a bid. Every bid must strictly exceed the
// current highest bid, or the reserve price while there are no bids.
func (l *Listing) AddBid(bidder string, amount int64, at time.Time) (*Bid, error) {
	if !l.IsAuction() {
		return nil, fmt.Errorf("%w: %s", ErrNotAuction, l.ID)
	}
	if !l.IsActive() {
		return nil, fmt.Errorf("%w: %s is %s", ErrListingNotActive, l.ID, l.Status)
	}
	if l.Expired(at) {
		return nil, fmt.Errorf("%w: %s ended at %s", ErrAuctionEnded, l.ID, l.EndTime.Format(time.RFC3339))
	}

	if highest := l.HighestBid(); highest != nil {
		if amount <= highest.Amount {
			return nil, fmt.Errorf("%w: must exceed %d", ErrBidTooLow, highest.Amount)
		}
	} else if amount <= l.Price {
		return nil, fmt.Errorf("%w: must exceed reserve %d", ErrBidTooLow, l.Price)
	}

	bid := Bid{Bidder: bidder, Amount: amount, Timestamp: at}
	l.Bids = append(l.Bids, bid)
	return &bid, nil
}

// Close moves an active listing into a terminal status
func (l *Listing) Close(status ListingStatus) error {
	if !l.IsActive() {
		return fmt.Errorf("%w: %s is %s", ErrListingNotActive, l.ID, l.Status)
	}
	l.Status = status
	return nil
}

// Clone returns a deep copy of the listing
func (l *Listing) Clone() *Listing {
	c := *l
	if l.EndTime != nil {
		end := *l.EndTime
		c.EndTime = &end
	}
	if l.Bids != nil {
		c.Bids = append([]Bid{}, l.Bids...)
	}
	return &c
}

// ListingFilter selects listings. Zero-valued fields match everything.
type ListingFilter struct {
	Status       ListingStatus
	CollectionID string
	Seller       string
	TokenID      *int64
}

// Match reports whether the listing satisfies the filter
func (f ListingFilter) Match(l *Listing) bool {
	if f.Status != "" && l.Status != f.Status {
		return false
	}
	if f.CollectionID != "" && l.CollectionID != f.CollectionID {
		return false
	}
	if f.Seller != "" && l.Seller != f.Seller {
		return false
	}
	if f.TokenID != nil && l.TokenID != *f.TokenID {
		return false
	}
	return true
}
