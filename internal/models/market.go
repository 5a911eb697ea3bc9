package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SaleSplit is the division of a sale price between the platform, the
// token's creator and the seller. The three amounts always sum to Price.
type SaleSplit struct {
	Price            int64  `json:"price"`
	PlatformFee      int64  `json:"platform_fee"`
	Royalty          int64  `json:"royalty"`
	RoyaltyRecipient string `json:"royalty_recipient"`
	SellerAmount     int64  `json:"seller_amount"`
	Seller           string `json:"seller"`
	Currency         string `json:"currency"`
}

// SaleResult is returned from a successful fixed-price purchase
type SaleResult struct {
	Listing     *Listing  `json:"listing"`
	Token       *Token    `json:"nft"`
	Split       SaleSplit `json:"split"`
	Overpayment int64     `json:"overpayment"` // to be refunded by the payment provider
}

// AuctionOutcome is the result of settling an auction. Winner and Split are
// nil when the auction closed without bids.
type AuctionOutcome struct {
	Listing *Listing   `json:"listing"`
	Token   *Token     `json:"nft,omitempty"`
	Winner  *Bid       `json:"winner,omitempty"`
	Split   *SaleSplit `json:"split,omitempty"`
}

// Stats aggregates marketplace activity
type Stats struct {
	TotalCollections int             `json:"total_collections"`
	TotalNFTs        int64           `json:"total_nfts"` // lifetime mints
	TotalListings    int             `json:"total_listings"`
	ActiveListings   int             `json:"active_listings"`
	TotalVolume      int64           `json:"total_volume"`
	TotalSales       int64           `json:"total_sales"`
	AveragePrice     decimal.Decimal `json:"average_price"`
}

// EventType names a marketplace state change
type EventType string

const (
	EventCollectionCreated EventType = "collection_created"
	EventMinted            EventType = "minted"
	EventBurned            EventType = "burned"
	EventTransferred       EventType = "transferred"
	EventListed            EventType = "listed"
	EventSold              EventType = "sold"
	EventBidPlaced         EventType = "bid_placed"
	EventAuctionCancelled  EventType = "auction_cancelled"
	EventListingCancelled  EventType = "listing_cancelled"
)

// Event is published after a mutation commits
type Event struct {
	Type         EventType `json:"type"`
	CollectionID string    `json:"collection_id,omitempty"`
	TokenID      *int64    `json:"token_id,omitempty"`
	ListingID    string    `json:"listing_id,omitempty"`
	Actor        string    `json:"actor,omitempty"`
	Counterparty string    `json:"counterparty,omitempty"`
	Amount       int64     `json:"amount,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}
