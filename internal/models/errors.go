package models

import "errors"

// Business-rule failures. Callers wrap these with fmt.Errorf("%w: ...") to add
// detail and match them with errors.Is.
var (
	ErrCollectionNotFound  = errors.New("collection not found")
	ErrCollectionExists    = errors.New("collection already exists")
	ErrTokenNotFound       = errors.New("token not found")
	ErrSupplyExceeded      = errors.New("max supply reached")
	ErrNotOwner            = errors.New("not the owner")
	ErrNotSeller           = errors.New("not the seller")
	ErrListingNotFound     = errors.New("listing not found")
	ErrListingNotActive    = errors.New("listing not active")
	ErrAlreadyListed       = errors.New("token already has an active listing")
	ErrInsufficientPayment = errors.New("insufficient payment")
	ErrNotAuction          = errors.New("listing is not an auction")
	ErrNotFixedPrice       = errors.New("listing is not fixed price")
	ErrBidTooLow           = errors.New("bid too low")
	ErrAuctionEnded        = errors.New("auction ended")
	ErrNoBids              = errors.New("no bids")
	ErrInvalidRoyalty      = errors.New("invalid royalty")
	ErrInvalidPrice        = errors.New("invalid price")
	ErrInvalidListingType  = errors.New("invalid listing type")
	ErrInvalidMetadata     = errors.New("invalid metadata")
	ErrInvalidAccount      = errors.New("invalid account")
	ErrInvalidDuration     = errors.New("invalid duration")
	ErrPaymentUnverified   = errors.New("payment not verified")
)

// ErrInvariantViolation marks internal inconsistencies, such as a listing that
// references a collection which no longer exists. It is never an expected
// outcome and is always logged before being returned.
var ErrInvariantViolation = errors.New("invariant violation")
