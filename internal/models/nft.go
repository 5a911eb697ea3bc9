package models

import (
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Attribute is a single free-form trait attached to a token
type Attribute struct {
	TraitType string      `json:"trait_type"`
	Value     interface{} `json:"value"`
}

// Metadata describes what a token represents
type Metadata struct {
	Name            string      `json:"name"`
	Description     string      `json:"description"`
	Image           string      `json:"image"`
	Attributes      []Attribute `json:"attributes"`
	ExternalURL     string      `json:"external_url,omitempty"`
	AnimationURL    string      `json:"animation_url,omitempty"`
	BackgroundColor string      `json:"background_color,omitempty"`
}

// Validate checks the fields a token cannot be minted without
func (m Metadata) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidMetadata)
	}
	return nil
}

// Value stores metadata as JSON
func (m Metadata) Value() (driver.Value, error) {
	return json.Marshal(m)
}

// Scan reads metadata stored as JSON
func (m *Metadata) Scan(src interface{}) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	case nil:
		*m = Metadata{}
		return nil
	default:
		return fmt.Errorf("cannot scan %T into Metadata", src)
	}
}

// Matches reports whether query occurs in the name or description, ignoring case
func (m Metadata) Matches(query string) bool {
	q := strings.ToLower(query)
	return strings.Contains(strings.ToLower(m.Name), q) ||
		strings.Contains(strings.ToLower(m.Description), q)
}

// Transfer is one entry of a token's ownership history. Price is nil for
// transfers that were not sales.
type Transfer struct {
	From      string    `json:"from" db:"from_account"`
	To        string    `json:"to" db:"to_account"`
	Timestamp time.Time `json:"timestamp" db:"transferred_at"`
	Price     *int64    `json:"price,omitempty" db:"price"`
}

// Token represents a single collectible minted into a collection
type Token struct {
	ID           string     `json:"id" db:"id"`
	CollectionID string     `json:"collection_id" db:"collection_id"`
	TokenID      int64      `json:"token_id" db:"token_id"`
	Owner        string     `json:"owner" db:"owner"`
	Creator      string     `json:"creator" db:"creator"`
	Metadata     Metadata   `json:"metadata" db:"metadata"`
	RoyaltyBps   int64      `json:"royalty_bps" db:"royalty_bps"` // basis points of each sale paid to Creator
	MintedAt     time.Time  `json:"minted_at" db:"minted_at"`
	History      []Transfer `json:"transfer_history" db:"-"`
}

// Transfer moves the token from one account to another and appends the move
// to the history. A nil price records a transfer that was not a sale.
func (t *Token) Transfer(from, to string, price *int64, at time.Time) error {
	if t.Owner != from {
		return fmt.Errorf("%w: %s does not own token %d", ErrNotOwner, from, t.TokenID)
	}

	t.Owner = to
	t.History = append(t.History, Transfer{
		From:      from,
		To:        to,
		Timestamp: at,
		Price:     copyPrice(price),
	})
	return nil
}

// Clone returns a deep copy of the token
func (t *Token) Clone() *Token {
	c := *t
	c.Metadata.Attributes = append([]Attribute(nil), t.Metadata.Attributes...)
	c.History = make([]Transfer, len(t.History))
	for i, tr := range t.History {
		tr.Price = copyPrice(tr.Price)
		c.History[i] = tr
	}
	return &c
}

// DeriveTokenID hashes the mint parameters into the token's global identifier
func DeriveTokenID(collectionID string, tokenID int64, creator string, mintedAt time.Time) string {
	seed := fmt.Sprintf("%s-%d-%s-%d", collectionID, tokenID, creator, mintedAt.UnixNano())
	return hex.EncodeToString(chainhash.HashB([]byte(seed)))
}

func copyPrice(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
