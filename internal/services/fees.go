package services

import (
	"fmt"

	"github.com/satonic/nftledger/internal/models"
	"github.com/shopspring/decimal"
)

// Fee-related constants.
const (
	// MaxBps is 100% expressed in basis points.
	MaxBps int64 = 10000

	// DefaultPlatformFeeBps is 250 basis points (2.5%).
	DefaultPlatformFeeBps int64 = 250

	// DefaultRoyaltyBps is 1000 basis points (10%).
	DefaultRoyaltyBps int64 = 1000
)

// bpsOf returns amount × bps / 10000 rounded half to even.
func bpsOf(amount, bps int64) int64 {
	return decimal.NewFromInt(amount).
		Mul(decimal.NewFromInt(bps)).
		Shift(-4).
		RoundBank(0).
		IntPart()
}

// SplitSale divides price between the platform, the token creator and the
// seller. The platform fee and royalty are each rounded half to even; the
// seller receives the remainder, so the three parts always sum to price.
//
// Royalties are validated at mint against the fee of the time. A fee raised
// since then can push fee + royalty past the price; the royalty is clamped
// to what the platform leaves, and the seller receives nothing.
func SplitSale(price, platformFeeBps int64, token *models.Token, seller, currency string) (models.SaleSplit, error) {
	if price < 0 {
		return models.SaleSplit{}, fmt.Errorf("%w: %d", models.ErrInvalidPrice, price)
	}

	platform := clamp(bpsOf(price, platformFeeBps), 0, price)
	royalty := clamp(bpsOf(price, token.RoyaltyBps), 0, price-platform)

	return models.SaleSplit{
		Price:            price,
		PlatformFee:      platform,
		Royalty:          royalty,
		RoyaltyRecipient: token.Creator,
		SellerAmount:     price - platform - royalty,
		Seller:           seller,
		Currency:         currency,
	}, nil
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ValidateRoyalty checks that a royalty leaves the seller a non-negative share
// once the platform fee is taken.
func ValidateRoyalty(royaltyBps, platformFeeBps int64) error {
	if royaltyBps < 0 || royaltyBps > MaxBps-platformFeeBps {
		return fmt.Errorf("%w: %d bps must be within [0, %d]", models.ErrInvalidRoyalty, royaltyBps, MaxBps-platformFeeBps)
	}
	return nil
}
