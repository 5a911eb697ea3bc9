package models

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Collection is a creator-owned namespace of tokens
type Collection struct {
	ID          string    `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Symbol      string    `json:"symbol" db:"symbol"`
	Description string    `json:"description" db:"description"`
	Creator     string    `json:"creator" db:"creator"`
	MaxSupply   *int64    `json:"max_supply,omitempty" db:"max_supply"`
	TotalSupply int64     `json:"total_supply" db:"total_supply"` // lifetime mints, never decremented
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// NewCollection builds a collection and derives its identifier
func NewCollection(name, symbol, description, creator string, maxSupply *int64, at time.Time) *Collection {
	c := &Collection{
		Name:        name,
		Symbol:      symbol,
		Description: description,
		Creator:     creator,
		MaxSupply:   copyPrice(maxSupply),
		CreatedAt:   at,
	}
	seed := fmt.Sprintf("%s-%s-%s-%d", name, symbol, creator, at.UnixNano())
	c.ID = hex.EncodeToString(chainhash.HashB([]byte(seed)))
	return c
}

// SupplyReached reports whether the collection has hit its cap
func (c *Collection) SupplyReached() bool {
	return c.MaxSupply != nil && c.TotalSupply >= *c.MaxSupply
}

// Mint allocates the next token id and returns the new token. The caller is
// responsible for persisting both the token and the updated collection.
func (c *Collection) Mint(owner string, meta Metadata, royaltyBps int64, at time.Time) (*Token, error) {
	if c.SupplyReached() {
		return nil, fmt.Errorf("%w: %s is capped at %d", ErrSupplyExceeded, c.ID, *c.MaxSupply)
	}
	if err := meta.Validate(); err != nil {
		return nil, err
	}

	tokenID := c.TotalSupply
	token := &Token{
		ID:           DeriveTokenID(c.ID, tokenID, c.Creator, at),
		CollectionID: c.ID,
		TokenID:      tokenID,
		Owner:        owner,
		Creator:      c.Creator,
		Metadata:     meta,
		RoyaltyBps:   royaltyBps,
		MintedAt:     at,
		History:      []Transfer{},
	}
	c.TotalSupply++

	return token, nil
}

// Clone returns a copy of the collection
func (c *Collection) Clone() *Collection {
	cp := *c
	cp.MaxSupply = copyPrice(c.MaxSupply)
	return &cp
}
