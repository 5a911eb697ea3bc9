package services

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/satonic/nftledger/internal/models"
)

// PaymentVerifier checks payment confirmations signed by the external
// payment provider. Without a configured key every confirmation is trusted.
type PaymentVerifier struct {
	pubKey *btcec.PublicKey
}

// NewPaymentVerifier parses the provider's hex public key, either 32-byte
// x-only or 33-byte compressed. An empty key disables verification.
func NewPaymentVerifier(pubKeyHex string) (*PaymentVerifier, error) {
	if pubKeyHex == "" {
		return &PaymentVerifier{}, nil
	}

	raw, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid public key format: %w", err)
	}

	var pubKey *btcec.PublicKey
	if len(raw) == schnorr.PubKeyBytesLen {
		pubKey, err = schnorr.ParsePubKey(raw)
	} else {
		pubKey, err = btcec.ParsePubKey(raw)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	return &PaymentVerifier{pubKey: pubKey}, nil
}

// Enabled reports whether signatures are checked
func (v *PaymentVerifier) Enabled() bool {
	return v.pubKey != nil
}

// PaymentDigest is the message the provider signs for a confirmation
func PaymentDigest(c models.PaymentConfirmation) []byte {
	return chainhash.HashB([]byte(fmt.Sprintf("%s|%s|%d", c.ListingID, c.Payer, c.Amount)))
}

// Verify checks that the confirmation is for listingID, was paid by payer
// and, when a key is configured, carries a valid schnorr signature
func (v *PaymentVerifier) Verify(c models.PaymentConfirmation, listingID, payer string) error {
	if c.ListingID != listingID {
		return fmt.Errorf("%w: confirmation is for listing %q", models.ErrPaymentUnverified, c.ListingID)
	}
	if c.Payer != payer {
		return fmt.Errorf("%w: confirmation is for payer %q", models.ErrPaymentUnverified, c.Payer)
	}
	if c.Amount < 0 {
		return fmt.Errorf("%w: negative amount", models.ErrPaymentUnverified)
	}
	if !v.Enabled() {
		return nil
	}

	sigBytes, err := hex.DecodeString(c.Signature)
	if err != nil {
		return fmt.Errorf("%w: invalid signature format: %s", models.ErrPaymentUnverified, err)
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return fmt.Errorf("%w: failed to parse schnorr signature: %s", models.ErrPaymentUnverified, err)
	}
	if !sig.Verify(PaymentDigest(c), v.pubKey) {
		return fmt.Errorf("%w: bad signature", models.ErrPaymentUnverified)
	}

	return nil
}
