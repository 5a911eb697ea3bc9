package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func int64p(v int64) *int64 { return &v }

// =============================================================================
// Token
// =============================================================================

func TestTokenTransfer(t *testing.T) {
	tok := &Token{TokenID: 0, Owner: "alice", Creator: "alice"}

	require.NoError(t, tok.Transfer("alice", "bob", int64p(100), t0))
	assert.Equal(t, "bob", tok.Owner)
	require.Len(t, tok.History, 1)
	assert.Equal(t, Transfer{From: "alice", To: "bob", Timestamp: t0, Price: int64p(100)}, tok.History[0])

	err := tok.Transfer("alice", "carol", nil, t0)
	assert.ErrorIs(t, err, ErrNotOwner)
	assert.Equal(t, "bob", tok.Owner)
	assert.Len(t, tok.History, 1)

	require.NoError(t, tok.Transfer("bob", "carol", nil, t0.Add(time.Minute)))
	assert.Len(t, tok.History, 2)
	assert.Nil(t, tok.History[1].Price)
	assert.Equal(t, "alice", tok.Creator)
}

func TestTokenCloneIsDeep(t *testing.T) {
	tok := &Token{Owner: "alice", Metadata: Metadata{Name: "a", Attributes: []Attribute{{TraitType: "k", Value: "v"}}}}
	require.NoError(t, tok.Transfer("alice", "bob", int64p(5), t0))

	c := tok.Clone()
	*c.History[0].Price = 99
	c.Metadata.Attributes[0].Value = "changed"
	c.History = append(c.History, Transfer{})

	assert.Equal(t, int64(5), *tok.History[0].Price)
	assert.Equal(t, "v", tok.Metadata.Attributes[0].Value)
	assert.Len(t, tok.History, 1)
}

func TestDeriveTokenID(t *testing.T) {
	a := DeriveTokenID("c1", 0, "alice", t0)
	b := DeriveTokenID("c1", 1, "alice", t0)

	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, DeriveTokenID("c1", 0, "alice", t0))
}

func TestMetadataMatches(t *testing.T) {
	m := Metadata{Name: "Sunset Over Water", Description: "An oil painting"}

	assert.True(t, m.Matches("sunset"))
	assert.True(t, m.Matches("OIL"))
	assert.False(t, m.Matches("portrait"))
}

// =============================================================================
// Collection
// =============================================================================

func TestCollectionMintRespectsMaxSupply(t *testing.T) {
	c := NewCollection("Art", "ART", "", "alice", int64p(2), t0)
	meta := Metadata{Name: "piece"}

	first, err := c.Mint("alice", meta, 1000, t0)
	require.NoError(t, err)
	second, err := c.Mint("bob", meta, 1000, t0)
	require.NoError(t, err)

	_, err = c.Mint("alice", meta, 1000, t0)
	assert.ErrorIs(t, err, ErrSupplyExceeded)

	assert.Equal(t, int64(0), first.TokenID)
	assert.Equal(t, int64(1), second.TokenID)
	assert.Equal(t, "bob", second.Owner)
	assert.Equal(t, "alice", second.Creator)
	assert.Equal(t, c.ID, second.CollectionID)
	assert.Equal(t, int64(2), c.TotalSupply)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestCollectionMintRejectsEmptyName(t *testing.T) {
	c := NewCollection("Art", "ART", "", "alice", nil, t0)

	_, err := c.Mint("alice", Metadata{}, 0, t0)
	assert.ErrorIs(t, err, ErrInvalidMetadata)
	assert.Equal(t, int64(0), c.TotalSupply)
}

func TestNewCollectionDerivesID(t *testing.T) {
	a := NewCollection("Art", "ART", "", "alice", nil, t0)
	b := NewCollection("Art", "ART", "", "alice", nil, t0.Add(time.Nanosecond))

	assert.Len(t, a.ID, 64)
	assert.NotEqual(t, a.ID, b.ID)
}

// =============================================================================
// Listing
// =============================================================================

func newAuction(end *time.Time) *Listing {
	return &Listing{
		ID:        "l1",
		Seller:    "alice",
		Price:     10,
		Type:      ListingTypeAuction,
		StartTime: t0,
		EndTime:   end,
		Status:    ListingStatusActive,
		Bids:      []Bid{},
	}
}

func TestAddBidRules(t *testing.T) {
	l := newAuction(nil)

	_, err := l.AddBid("bob", 9, t0)
	assert.ErrorIs(t, err, ErrBidTooLow)

	_, err = l.AddBid("bob", 10, t0)
	assert.ErrorIs(t, err, ErrBidTooLow, "a bid at the reserve is rejected")

	_, err = l.AddBid("bob", 11, t0)
	require.NoError(t, err)

	_, err = l.AddBid("carol", 11, t0)
	assert.ErrorIs(t, err, ErrBidTooLow, "equal bids are rejected")

	_, err = l.AddBid("carol", 25, t0)
	require.NoError(t, err)

	_, err = l.AddBid("dave", 15, t0)
	assert.ErrorIs(t, err, ErrBidTooLow)

	require.Len(t, l.Bids, 2)
	assert.Equal(t, "carol", l.HighestBid().Bidder)
	assert.Equal(t, int64(25), l.HighestBid().Amount)
}

func TestAddBidAfterEnd(t *testing.T) {
	end := t0.Add(time.Hour)
	l := newAuction(&end)

	_, err := l.AddBid("bob", 11, end)
	require.NoError(t, err, "bids at exactly the end time are accepted")

	_, err = l.AddBid("bob", 20, end.Add(time.Second))
	assert.ErrorIs(t, err, ErrAuctionEnded)
}

func TestAddBidRequiresActiveAuction(t *testing.T) {
	fixed := &Listing{ID: "f", Type: ListingTypeFixed, Status: ListingStatusActive}
	_, err := fixed.AddBid("bob", 100, t0)
	assert.ErrorIs(t, err, ErrNotAuction)

	l := newAuction(nil)
	require.NoError(t, l.Close(ListingStatusCancelled))
	_, err = l.AddBid("bob", 100, t0)
	assert.ErrorIs(t, err, ErrListingNotActive)
}

func TestHighestBidTieGoesToEarliest(t *testing.T) {
	l := newAuction(nil)
	l.Bids = []Bid{
		{Bidder: "bob", Amount: 30, Timestamp: t0},
		{Bidder: "carol", Amount: 30, Timestamp: t0.Add(time.Second)},
	}

	assert.Equal(t, "bob", l.HighestBid().Bidder)
	assert.Nil(t, newAuction(nil).HighestBid())
}

func TestListingCloseIsTerminal(t *testing.T) {
	l := newAuction(nil)

	require.NoError(t, l.Close(ListingStatusSold))
	assert.ErrorIs(t, l.Close(ListingStatusCancelled), ErrListingNotActive)
	assert.Equal(t, ListingStatusSold, l.Status)
}

func TestListingFilter(t *testing.T) {
	l := &Listing{CollectionID: "c", Seller: "alice", TokenID: 3, Status: ListingStatusActive}

	assert.True(t, ListingFilter{}.Match(l))
	assert.True(t, ListingFilter{Status: ListingStatusActive, Seller: "alice", TokenID: int64p(3)}.Match(l))
	assert.False(t, ListingFilter{CollectionID: "other"}.Match(l))
	assert.False(t, ListingFilter{TokenID: int64p(4)}.Match(l))
	assert.False(t, ListingFilter{Status: ListingStatusSold}.Match(l))
}
