package models

import (
	"time"
)

// AuthToken represents an issued bearer token
type AuthToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Subject   string    `json:"subject"`
}

// CreateCollectionRequest represents a request to create a collection
type CreateCollectionRequest struct {
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Description string `json:"description"`
	MaxSupply   *int64 `json:"max_supply,omitempty"`
}

// MintRequest represents a request to mint one token
type MintRequest struct {
	Owner      string   `json:"owner"` // defaults to the caller
	Metadata   Metadata `json:"metadata"`
	RoyaltyBps *int64   `json:"royalty_bps,omitempty"`
}

// BatchMintRequest represents a request to mint several tokens at once
type BatchMintRequest struct {
	Owner      string     `json:"owner"`
	Metadata   []Metadata `json:"metadata"`
	RoyaltyBps *int64     `json:"royalty_bps,omitempty"`
}

// TransferRequest represents a request to give a token to another account
type TransferRequest struct {
	To string `json:"to"`
}

// CreateListingRequest represents a request to list a token for sale
type CreateListingRequest struct {
	CollectionID string      `json:"collection_id"`
	TokenID      int64       `json:"token_id"`
	Price        int64       `json:"price"`
	Currency     string      `json:"currency,omitempty"`
	Type         ListingType `json:"listing_type,omitempty"`
	DurationSecs int64       `json:"duration_seconds,omitempty"` // auctions only; zero means no end time
}

// PaymentConfirmation is the signal from the external payment provider that
// the buyer has paid Amount for a listing
type PaymentConfirmation struct {
	ListingID string `json:"listing_id"`
	Payer     string `json:"payer"`
	Amount    int64  `json:"amount"`
	Signature string `json:"signature,omitempty"` // hex schnorr signature from the provider
}

// BuyRequest represents a request to buy a fixed-price listing
type BuyRequest struct {
	Payment PaymentConfirmation `json:"payment"`
}

// PlaceBidRequest represents a request to bid on an auction
type PlaceBidRequest struct {
	Amount int64 `json:"amount"`
}

// ListResponse wraps a collection of results
type ListResponse[T any] struct {
	Items      []T `json:"items"`
	TotalCount int `json:"total_count"`
}
