package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/satonic/nftledger/internal/models"
	"github.com/satonic/nftledger/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, e models.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []models.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type testMarket struct {
	*Marketplace
	repo   *store.MemoryRepository
	clock  *fakeClock
	events *recordingPublisher
}

func newTestMarket(t *testing.T, opts ...Option) *testMarket {
	t.Helper()
	tm := &testMarket{
		repo:   store.NewMemoryRepository(),
		clock:  newFakeClock(),
		events: &recordingPublisher{},
	}
	opts = append([]Option{WithClock(tm.clock.Now), WithPublisher(tm.events)}, opts...)
	tm.Marketplace = NewMarketplace(tm.repo, opts...)
	return tm
}

func (tm *testMarket) collection(t *testing.T, creator string, maxSupply *int64) *models.Collection {
	t.Helper()
	c, err := tm.CreateCollection(context.Background(), models.CreateCollectionRequest{
		Name:      "Art",
		Symbol:    "ART",
		MaxSupply: maxSupply,
	}, creator)
	require.NoError(t, err)
	// distinct creation times keep collection ids distinct
	tm.clock.Advance(time.Millisecond)
	return c
}

func (tm *testMarket) mint(t *testing.T, collectionID, owner, name string) *models.Token {
	t.Helper()
	tok, err := tm.MintNFT(context.Background(), collectionID, owner, models.Metadata{Name: name}, nil)
	require.NoError(t, err)
	return tok
}

func (tm *testMarket) list(t *testing.T, tok *models.Token, seller string, price int64, typ models.ListingType, duration int64) *models.Listing {
	t.Helper()
	l, err := tm.ListNFT(context.Background(), models.CreateListingRequest{
		CollectionID: tok.CollectionID,
		TokenID:      tok.TokenID,
		Price:        price,
		Type:         typ,
		DurationSecs: duration,
	}, seller)
	require.NoError(t, err)
	return l
}

func int64p(v int64) *int64 { return &v }

func TestEndToEndFixedPriceSale(t *testing.T) {
	ctx := context.Background()
	tm := newTestMarket(t)

	c := tm.collection(t, "alice", nil)
	tok := tm.mint(t, c.ID, "alice", "Sunset")
	assert.Equal(t, int64(0), tok.TokenID)
	assert.Equal(t, int64(1000), tok.RoyaltyBps)

	l := tm.list(t, tok, "alice", 10000, models.ListingTypeFixed, 0)
	assert.Equal(t, "AETH", l.Currency)
	assert.Equal(t, tok.ID, l.NFTID)

	res, err := tm.BuyNFT(ctx, l.ID, "bob", 10000)
	require.NoError(t, err)

	assert.Equal(t, int64(8750), res.Split.SellerAmount)
	assert.Equal(t, "alice", res.Split.Seller)
	assert.Equal(t, int64(1000), res.Split.Royalty)
	assert.Equal(t, "alice", res.Split.RoyaltyRecipient)
	assert.Equal(t, int64(250), res.Split.PlatformFee)
	assert.Equal(t, int64(0), res.Overpayment)

	owned, err := tm.GetNFT(ctx, c.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, "bob", owned.Owner)
	require.Len(t, owned.History, 1)
	assert.Equal(t, "alice", owned.History[0].From)
	require.NotNil(t, owned.History[0].Price)
	assert.Equal(t, int64(10000), *owned.History[0].Price)

	sold, err := tm.GetListing(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ListingStatusSold, sold.Status)

	stats, err := tm.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalCollections)
	assert.Equal(t, int64(1), stats.TotalNFTs)
	assert.Equal(t, 1, stats.TotalListings)
	assert.Equal(t, 0, stats.ActiveListings)
	assert.Equal(t, int64(10000), stats.TotalVolume)
	assert.Equal(t, int64(1), stats.TotalSales)
	assert.True(t, decimal.NewFromInt(10000).Equal(stats.AveragePrice))

	assert.Equal(t, []models.EventType{
		models.EventCollectionCreated,
		models.EventMinted,
		models.EventListed,
		models.EventSold,
	}, tm.events.types())
}

func TestCreateCollectionValidation(t *testing.T) {
	ctx := context.Background()
	tm := newTestMarket(t)

	_, err := tm.CreateCollection(ctx, models.CreateCollectionRequest{Name: "Art", Symbol: "ART"}, "")
	assert.ErrorIs(t, err, models.ErrInvalidAccount)

	_, err = tm.CreateCollection(ctx, models.CreateCollectionRequest{Name: " ", Symbol: "ART"}, "alice")
	assert.ErrorIs(t, err, models.ErrInvalidMetadata)

	_, err = tm.CreateCollection(ctx, models.CreateCollectionRequest{Name: "Art", Symbol: "ART", MaxSupply: int64p(-1)}, "alice")
	assert.ErrorIs(t, err, models.ErrInvalidMetadata)

	// same parameters at the same instant derive the same id
	_, err = tm.CreateCollection(ctx, models.CreateCollectionRequest{Name: "Art", Symbol: "ART"}, "alice")
	require.NoError(t, err)
	_, err = tm.CreateCollection(ctx, models.CreateCollectionRequest{Name: "Art", Symbol: "ART"}, "alice")
	assert.ErrorIs(t, err, models.ErrCollectionExists)

	all, err := tm.GetAllCollections(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	missing, err := tm.GetCollection(ctx, "nope")
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSupplyCap(t *testing.T) {
	ctx := context.Background()
	tm := newTestMarket(t)
	c := tm.collection(t, "alice", int64p(3))

	for i := 0; i < 3; i++ {
		tm.mint(t, c.ID, "alice", "piece")
	}
	_, err := tm.MintNFT(ctx, c.ID, "alice", models.Metadata{Name: "one too many"}, nil)
	assert.ErrorIs(t, err, models.ErrSupplyExceeded)

	tokens, err := tm.GetAllNFTs(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, tokens, 3)
}

func TestBatchMintIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	tm := newTestMarket(t)
	c := tm.collection(t, "alice", int64p(2))

	metas := []models.Metadata{{Name: "a"}, {Name: "b"}, {Name: "c"}}
	_, err := tm.BatchMintNFTs(ctx, c.ID, "alice", metas, nil)
	assert.ErrorIs(t, err, models.ErrSupplyExceeded)

	tokens, err := tm.GetAllNFTs(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, tokens)

	stored, err := tm.GetCollection(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stored.TotalSupply)

	minted, err := tm.BatchMintNFTs(ctx, c.ID, "alice", metas[:2], int64p(500))
	require.NoError(t, err)
	require.Len(t, minted, 2)
	assert.Equal(t, int64(0), minted[0].TokenID)
	assert.Equal(t, int64(1), minted[1].TokenID)
	assert.Equal(t, int64(500), minted[1].RoyaltyBps)

	_, err = tm.BatchMintNFTs(ctx, c.ID, "alice", nil, nil)
	assert.ErrorIs(t, err, models.ErrInvalidMetadata)
}

func TestMintValidation(t *testing.T) {
	ctx := context.Background()
	tm := newTestMarket(t)
	c := tm.collection(t, "alice", nil)

	_, err := tm.MintNFT(ctx, "nope", "alice", models.Metadata{Name: "x"}, nil)
	assert.ErrorIs(t, err, models.ErrCollectionNotFound)

	_, err = tm.MintNFT(ctx, c.ID, "alice", models.Metadata{}, nil)
	assert.ErrorIs(t, err, models.ErrInvalidMetadata)

	_, err = tm.MintNFT(ctx, c.ID, "alice", models.Metadata{Name: "x"}, int64p(-1))
	assert.ErrorIs(t, err, models.ErrInvalidRoyalty)

	// fee is 250, so the royalty may use the remaining 9750
	_, err = tm.MintNFT(ctx, c.ID, "alice", models.Metadata{Name: "x"}, int64p(9751))
	assert.ErrorIs(t, err, models.ErrInvalidRoyalty)

	tok, err := tm.MintNFT(ctx, c.ID, "alice", models.Metadata{Name: "x"}, int64p(9750))
	require.NoError(t, err)
	assert.Equal(t, int64(9750), tok.RoyaltyBps)
}

func TestTokenIDsAreNeverReused(t *testing.T) {
	ctx := context.Background()
	tm := newTestMarket(t)
	c := tm.collection(t, "alice", nil)

	tm.mint(t, c.ID, "alice", "a")
	tm.mint(t, c.ID, "alice", "b")

	require.NoError(t, tm.BurnNFT(ctx, c.ID, 1, "alice"))
	gone, err := tm.GetNFT(ctx, c.ID, 1)
	require.NoError(t, err)
	assert.Nil(t, gone)

	next := tm.mint(t, c.ID, "alice", "c")
	assert.Equal(t, int64(2), next.TokenID)

	stats, err := tm.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalNFTs)
}

func TestBurn(t *testing.T) {
	ctx := context.Background()
	tm := newTestMarket(t)
	c := tm.collection(t, "alice", nil)
	tok := tm.mint(t, c.ID, "alice", "a")

	assert.ErrorIs(t, tm.BurnNFT(ctx, c.ID, tok.TokenID, "bob"), models.ErrNotOwner)
	assert.ErrorIs(t, tm.BurnNFT(ctx, c.ID, 42, "alice"), models.ErrTokenNotFound)
	assert.ErrorIs(t, tm.BurnNFT(ctx, "nope", 0, "alice"), models.ErrCollectionNotFound)

	l := tm.list(t, tok, "alice", 100, models.ListingTypeFixed, 0)
	require.NoError(t, tm.BurnNFT(ctx, c.ID, tok.TokenID, "alice"))

	cancelled, err := tm.GetListing(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ListingStatusCancelled, cancelled.Status)

	_, err = tm.BuyNFT(ctx, l.ID, "bob", 100)
	assert.ErrorIs(t, err, models.ErrListingNotActive)

	types := tm.events.types()
	assert.Equal(t, []models.EventType{models.EventBurned, models.EventListingCancelled}, types[len(types)-2:])
}

func TestTransferNFT(t *testing.T) {
	ctx := context.Background()
	tm := newTestMarket(t)
	c := tm.collection(t, "alice", nil)
	tok := tm.mint(t, c.ID, "alice", "a")

	_, err := tm.TransferNFT(ctx, c.ID, tok.TokenID, "bob", "carol")
	assert.ErrorIs(t, err, models.ErrNotOwner)

	_, err = tm.TransferNFT(ctx, c.ID, tok.TokenID, "alice", "")
	assert.ErrorIs(t, err, models.ErrInvalidAccount)

	moved, err := tm.TransferNFT(ctx, c.ID, tok.TokenID, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", moved.Owner)
	require.Len(t, moved.History, 1)
	assert.Nil(t, moved.History[0].Price)

	tm.list(t, moved, "bob", 100, models.ListingTypeFixed, 0)
	_, err = tm.TransferNFT(ctx, c.ID, tok.TokenID, "bob", "carol")
	assert.ErrorIs(t, err, models.ErrAlreadyListed)

	byOwner, err := tm.GetNFTsByOwner(ctx, c.ID, "bob")
	require.NoError(t, err)
	assert.Len(t, byOwner, 1)

	none, err := tm.GetNFTsByOwner(ctx, c.ID, "alice")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestListNFTValidation(t *testing.T) {
	ctx := context.Background()
	tm := newTestMarket(t)
	c := tm.collection(t, "alice", nil)
	tok := tm.mint(t, c.ID, "alice", "a")

	base := models.CreateListingRequest{CollectionID: c.ID, TokenID: tok.TokenID, Price: 100}

	tests := []struct {
		name   string
		mutate func(r *models.CreateListingRequest)
		seller string
		err    error
	}{
		{"missing collection", func(r *models.CreateListingRequest) { r.CollectionID = "nope" }, "alice", models.ErrCollectionNotFound},
		{"missing token", func(r *models.CreateListingRequest) { r.TokenID = 9 }, "alice", models.ErrTokenNotFound},
		{"not owner", func(r *models.CreateListingRequest) {}, "bob", models.ErrNotOwner},
		{"zero price", func(r *models.CreateListingRequest) { r.Price = 0 }, "alice", models.ErrInvalidPrice},
		{"negative price", func(r *models.CreateListingRequest) { r.Price = -5 }, "alice", models.ErrInvalidPrice},
		{"unknown type", func(r *models.CreateListingRequest) { r.Type = "raffle" }, "alice", models.ErrInvalidListingType},
		{"negative duration", func(r *models.CreateListingRequest) { r.DurationSecs = -1 }, "alice", models.ErrInvalidDuration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			tt.mutate(&req)
			_, err := tm.ListNFT(ctx, req, tt.seller)
			assert.ErrorIs(t, err, tt.err)
		})
	}

	l := tm.list(t, tok, "alice", 100, "", 3600)
	assert.Equal(t, models.ListingTypeFixed, l.Type)
	assert.Nil(t, l.EndTime, "fixed listings have no end time")
	assert.Nil(t, l.Bids)

	_, err := tm.ListNFT(ctx, base, "alice")
	assert.ErrorIs(t, err, models.ErrAlreadyListed)
}

func TestBuyNFT(t *testing.T) {
	ctx := context.Background()
	tm := newTestMarket(t)
	c := tm.collection(t, "alice", nil)
	tok := tm.mint(t, c.ID, "alice", "a")
	l := tm.list(t, tok, "alice", 1000, models.ListingTypeFixed, 0)

	_, err := tm.BuyNFT(ctx, "nope", "bob", 1000)
	assert.ErrorIs(t, err, models.ErrListingNotFound)

	_, err = tm.BuyNFT(ctx, l.ID, "bob", 999)
	assert.ErrorIs(t, err, models.ErrInsufficientPayment)

	res, err := tm.BuyNFT(ctx, l.ID, "bob", 1200)
	require.NoError(t, err)
	assert.Equal(t, int64(200), res.Overpayment)
	assert.Equal(t, int64(1000), res.Split.Price)
	assert.Equal(t, res.Split.Price, res.Split.PlatformFee+res.Split.Royalty+res.Split.SellerAmount)
	require.NotNil(t, res.Token.History[0].Price)
	assert.Equal(t, int64(1000), *res.Token.History[0].Price, "token moves at the listing price")

	_, err = tm.BuyNFT(ctx, l.ID, "carol", 1000)
	assert.ErrorIs(t, err, models.ErrListingNotActive)

	auctionTok := tm.mint(t, c.ID, "alice", "b")
	auction := tm.list(t, auctionTok, "alice", 10, models.ListingTypeAuction, 60)
	_, err = tm.BuyNFT(ctx, auction.ID, "bob", 1000)
	assert.ErrorIs(t, err, models.ErrNotFixedPrice)
}

func TestAuctionHighestBidWins(t *testing.T) {
	ctx := context.Background()
	tm := newTestMarket(t)
	c := tm.collection(t, "alice", nil)
	tok := tm.mint(t, c.ID, "alice", "a")
	l := tm.list(t, tok, "alice", 10, models.ListingTypeAuction, 3600)
	require.NotNil(t, l.EndTime)
	assert.Equal(t, tm.clock.Now().Add(time.Hour), *l.EndTime)

	_, err := tm.PlaceBid(ctx, l.ID, "bob", 9)
	assert.ErrorIs(t, err, models.ErrBidTooLow)

	_, err = tm.PlaceBid(ctx, l.ID, "bob", 10)
	assert.ErrorIs(t, err, models.ErrBidTooLow, "the opening bid must exceed the reserve")

	_, err = tm.PlaceBid(ctx, l.ID, "bob", 11)
	require.NoError(t, err)
	_, err = tm.PlaceBid(ctx, l.ID, "carol", 25)
	require.NoError(t, err)
	_, err = tm.PlaceBid(ctx, l.ID, "dave", 15)
	assert.ErrorIs(t, err, models.ErrBidTooLow)

	stored, err := tm.GetListing(ctx, l.ID)
	require.NoError(t, err)
	require.Len(t, stored.Bids, 2)
	assert.Equal(t, models.ListingStatusActive, stored.Status)

	out, err := tm.EndAuction(ctx, l.ID)
	require.NoError(t, err)
	require.NotNil(t, out.Winner)
	assert.Equal(t, "carol", out.Winner.Bidder)
	assert.Equal(t, int64(25), out.Winner.Amount)
	assert.Equal(t, models.ListingStatusSold, out.Listing.Status)

	// 25 × 2.5% = 0.625 → 1, 25 × 10% = 2.5 → 2 (half to even)
	require.NotNil(t, out.Split)
	assert.Equal(t, int64(1), out.Split.PlatformFee)
	assert.Equal(t, int64(2), out.Split.Royalty)
	assert.Equal(t, int64(22), out.Split.SellerAmount)

	owned, err := tm.GetNFT(ctx, c.ID, tok.TokenID)
	require.NoError(t, err)
	assert.Equal(t, "carol", owned.Owner)
	require.NotNil(t, owned.History[0].Price)
	assert.Equal(t, int64(25), *owned.History[0].Price)

	_, err = tm.PlaceBid(ctx, l.ID, "erin", 100)
	assert.ErrorIs(t, err, models.ErrListingNotActive)

	_, err = tm.EndAuction(ctx, l.ID)
	assert.ErrorIs(t, err, models.ErrListingNotActive)
}

func TestAuctionWithoutBidsIsCancelled(t *testing.T) {
	ctx := context.Background()
	tm := newTestMarket(t)
	c := tm.collection(t, "alice", nil)
	tok := tm.mint(t, c.ID, "alice", "a")
	l := tm.list(t, tok, "alice", 10, models.ListingTypeAuction, 0)
	assert.Nil(t, l.EndTime)

	out, err := tm.EndAuction(ctx, l.ID)
	assert.ErrorIs(t, err, models.ErrNoBids)
	require.NotNil(t, out)
	assert.Equal(t, models.ListingStatusCancelled, out.Listing.Status)
	assert.Nil(t, out.Winner)

	owned, err := tm.GetNFT(ctx, c.ID, tok.TokenID)
	require.NoError(t, err)
	assert.Equal(t, "alice", owned.Owner)
	assert.Empty(t, owned.History)

	types := tm.events.types()
	assert.Equal(t, models.EventAuctionCancelled, types[len(types)-1])
}

func TestEndAuctionOnFixedListing(t *testing.T) {
	tm := newTestMarket(t)
	c := tm.collection(t, "alice", nil)
	l := tm.list(t, tm.mint(t, c.ID, "alice", "a"), "alice", 10, models.ListingTypeFixed, 0)

	_, err := tm.EndAuction(context.Background(), l.ID)
	assert.ErrorIs(t, err, models.ErrNotAuction)

	_, err = tm.PlaceBid(context.Background(), l.ID, "bob", 10)
	assert.ErrorIs(t, err, models.ErrNotAuction)
}

func TestBidTiming(t *testing.T) {
	ctx := context.Background()
	tm := newTestMarket(t)
	c := tm.collection(t, "alice", nil)
	l := tm.list(t, tm.mint(t, c.ID, "alice", "a"), "alice", 10, models.ListingTypeAuction, 60)

	tm.clock.Advance(60 * time.Second)
	_, err := tm.PlaceBid(ctx, l.ID, "bob", 11)
	require.NoError(t, err, "a bid at the end time is accepted")

	tm.clock.Advance(time.Nanosecond)
	_, err = tm.PlaceBid(ctx, l.ID, "carol", 50)
	assert.ErrorIs(t, err, models.ErrAuctionEnded)
}

func TestCancelListing(t *testing.T) {
	ctx := context.Background()
	tm := newTestMarket(t)
	c := tm.collection(t, "alice", nil)
	tok := tm.mint(t, c.ID, "alice", "a")
	l := tm.list(t, tok, "alice", 10, models.ListingTypeFixed, 0)

	_, err := tm.CancelListing(ctx, l.ID, "bob")
	assert.ErrorIs(t, err, models.ErrNotSeller)

	cancelled, err := tm.CancelListing(ctx, l.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.ListingStatusCancelled, cancelled.Status)

	_, err = tm.CancelListing(ctx, l.ID, "alice")
	assert.ErrorIs(t, err, models.ErrListingNotActive)

	_, err = tm.CancelListing(ctx, "nope", "alice")
	assert.ErrorIs(t, err, models.ErrListingNotFound)

	// the token can be listed again once delisted
	tm.list(t, tok, "alice", 20, models.ListingTypeFixed, 0)
}

func TestListingQueries(t *testing.T) {
	ctx := context.Background()
	tm := newTestMarket(t)
	c1 := tm.collection(t, "alice", nil)
	c2 := tm.collection(t, "bob", nil)

	a := tm.list(t, tm.mint(t, c1.ID, "alice", "a"), "alice", 10, models.ListingTypeFixed, 0)
	tm.clock.Advance(time.Second)
	b := tm.list(t, tm.mint(t, c2.ID, "bob", "b"), "bob", 10, models.ListingTypeFixed, 0)
	tm.clock.Advance(time.Second)
	cc := tm.list(t, tm.mint(t, c1.ID, "carol", "c"), "carol", 10, models.ListingTypeFixed, 0)
	_, err := tm.CancelListing(ctx, cc.ID, "carol")
	require.NoError(t, err)

	active, err := tm.GetActiveListings(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, a.ID, active[0].ID)
	assert.Equal(t, b.ID, active[1].ID)

	byCollection, err := tm.GetListingsByCollection(ctx, c1.ID)
	require.NoError(t, err)
	assert.Len(t, byCollection, 2)

	bySeller, err := tm.GetListingsBySeller(ctx, "carol")
	require.NoError(t, err)
	require.Len(t, bySeller, 1)
	assert.Equal(t, models.ListingStatusCancelled, bySeller[0].Status)

	none, err := tm.GetListingsBySeller(ctx, "zed")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSearchNFTs(t *testing.T) {
	ctx := context.Background()
	tm := newTestMarket(t)
	c1 := tm.collection(t, "alice", nil)
	c2 := tm.collection(t, "bob", nil)

	tm.mint(t, c2.ID, "bob", "Blue Moon")
	_, err := tm.MintNFT(ctx, c1.ID, "alice", models.Metadata{Name: "Dawn", Description: "a MOONlit sky"}, nil)
	require.NoError(t, err)
	tm.mint(t, c1.ID, "alice", "Sun")
	tm.mint(t, c1.ID, "alice", "moonstone")

	results, err := tm.SearchNFTs(ctx, "moon")
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, c1.ID, results[0].CollectionID)
	assert.Equal(t, int64(0), results[0].TokenID)
	assert.Equal(t, c1.ID, results[1].CollectionID)
	assert.Equal(t, int64(2), results[1].TokenID)
	assert.Equal(t, c2.ID, results[2].CollectionID)

	none, err := tm.SearchNFTs(ctx, "nothing")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStatsAveragePrice(t *testing.T) {
	ctx := context.Background()
	tm := newTestMarket(t)

	stats, err := tm.GetStats(ctx)
	require.NoError(t, err)
	assert.True(t, stats.AveragePrice.IsZero())

	c := tm.collection(t, "alice", nil)
	for _, price := range []int64{100, 200} {
		tok := tm.mint(t, c.ID, "alice", "a")
		l := tm.list(t, tok, "alice", price, models.ListingTypeFixed, 0)
		_, err := tm.BuyNFT(ctx, l.ID, "bob", price)
		require.NoError(t, err)
	}
	tok := tm.mint(t, c.ID, "alice", "gift")
	_, err = tm.TransferNFT(ctx, c.ID, tok.TokenID, "alice", "bob")
	require.NoError(t, err)

	stats, err = tm.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(300), stats.TotalVolume)
	assert.Equal(t, int64(2), stats.TotalSales, "gifts are not sales")
	assert.True(t, decimal.NewFromInt(150).Equal(stats.AveragePrice))
}

func TestSettleExpiredAuctions(t *testing.T) {
	ctx := context.Background()
	tm := newTestMarket(t)
	c := tm.collection(t, "alice", nil)

	withBids := tm.list(t, tm.mint(t, c.ID, "alice", "a"), "alice", 10, models.ListingTypeAuction, 60)
	empty := tm.list(t, tm.mint(t, c.ID, "alice", "b"), "alice", 10, models.ListingTypeAuction, 60)
	later := tm.list(t, tm.mint(t, c.ID, "alice", "c"), "alice", 10, models.ListingTypeAuction, 600)
	open := tm.list(t, tm.mint(t, c.ID, "alice", "d"), "alice", 10, models.ListingTypeAuction, 0)

	_, err := tm.PlaceBid(ctx, withBids.ID, "bob", 30)
	require.NoError(t, err)

	n, err := tm.SettleExpiredAuctions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	tm.clock.Advance(2 * time.Minute)
	n, err = tm.SettleExpiredAuctions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for id, want := range map[string]models.ListingStatus{
		withBids.ID: models.ListingStatusSold,
		empty.ID:    models.ListingStatusCancelled,
		later.ID:    models.ListingStatusActive,
		open.ID:     models.ListingStatusActive,
	} {
		l, err := tm.GetListing(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, l.Status, id)
	}
}

func TestInvariantViolationIsLogged(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zapcore.ErrorLevel)
	tm := newTestMarket(t, WithLogger(zap.New(core).Sugar()))

	ghost := &models.Listing{
		ID:           "ghost",
		CollectionID: "missing",
		Seller:       "alice",
		Price:        10,
		Type:         models.ListingTypeFixed,
		StartTime:    tm.clock.Now(),
		Status:       models.ListingStatusActive,
	}
	require.NoError(t, tm.repo.PutListing(ctx, ghost))

	_, err := tm.BuyNFT(ctx, "ghost", "bob", 10)
	assert.ErrorIs(t, err, models.ErrInvariantViolation)
	assert.Equal(t, 1, logs.FilterMessage("invariant violation").Len())

	l, err := tm.GetListing(ctx, "ghost")
	require.NoError(t, err)
	assert.Equal(t, models.ListingStatusActive, l.Status, "failed purchase leaves the listing untouched")
}

func TestConcurrentBidsSerialize(t *testing.T) {
	ctx := context.Background()
	tm := newTestMarket(t)
	c := tm.collection(t, "alice", nil)
	l := tm.list(t, tm.mint(t, c.ID, "alice", "a"), "alice", 1, models.ListingTypeAuction, 0)

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(amount int64) {
			defer wg.Done()
			_, _ = tm.PlaceBid(ctx, l.ID, "bidder", amount)
		}(int64(i))
	}
	wg.Wait()

	stored, err := tm.GetListing(ctx, l.ID)
	require.NoError(t, err)
	require.NotEmpty(t, stored.Bids)
	for i := 1; i < len(stored.Bids); i++ {
		assert.Greater(t, stored.Bids[i].Amount, stored.Bids[i-1].Amount)
	}
}

type blockingPublisher struct {
	entered chan struct{}
	release chan struct{}
}

func (p *blockingPublisher) Publish(ctx context.Context, e models.Event) error {
	p.entered <- struct{}{}
	<-p.release
	return nil
}

func TestSlowPublisherDoesNotBlockReads(t *testing.T) {
	ctx := context.Background()
	pub := &blockingPublisher{entered: make(chan struct{}, 1), release: make(chan struct{})}
	tm := newTestMarket(t, WithPublisher(pub))

	done := make(chan error, 1)
	go func() {
		_, err := tm.CreateCollection(ctx, models.CreateCollectionRequest{Name: "Art", Symbol: "ART"}, "alice")
		done <- err
	}()

	select {
	case <-pub.entered:
	case <-time.After(time.Second):
		t.Fatal("publish was never called")
	}

	stats := make(chan *models.Stats, 1)
	go func() {
		s, err := tm.GetStats(ctx)
		assert.NoError(t, err)
		stats <- s
	}()
	select {
	case s := <-stats:
		assert.Equal(t, 1, s.TotalCollections)
	case <-time.After(time.Second):
		t.Fatal("GetStats blocked behind a pending publish")
	}

	close(pub.release)
	require.NoError(t, <-done)
}

func TestSaleAfterPlatformFeeRaise(t *testing.T) {
	ctx := context.Background()
	tm := newTestMarket(t)
	c := tm.collection(t, "alice", nil)

	fixed, err := tm.MintNFT(ctx, c.ID, "alice", models.Metadata{Name: "a"}, int64p(9750))
	require.NoError(t, err)
	auctioned, err := tm.MintNFT(ctx, c.ID, "alice", models.Metadata{Name: "b"}, int64p(9750))
	require.NoError(t, err)
	sale := tm.list(t, fixed, "alice", 10000, models.ListingTypeFixed, 0)
	auction := tm.list(t, auctioned, "alice", 100, models.ListingTypeAuction, 60)
	_, err = tm.PlaceBid(ctx, auction.ID, "carol", 1000)
	require.NoError(t, err)

	raised := NewMarketplace(tm.repo, WithPlatformFee(500), WithClock(tm.clock.Now))

	res, err := raised.BuyNFT(ctx, sale.ID, "bob", 10000)
	require.NoError(t, err)
	assert.Equal(t, int64(500), res.Split.PlatformFee)
	assert.Equal(t, int64(9500), res.Split.Royalty)
	assert.Equal(t, int64(0), res.Split.SellerAmount)

	tm.clock.Advance(61 * time.Second)
	n, err := raised.SettleExpiredAuctions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	tok, err := raised.GetNFT(ctx, c.ID, auctioned.TokenID)
	require.NoError(t, err)
	assert.Equal(t, "carol", tok.Owner)
}
