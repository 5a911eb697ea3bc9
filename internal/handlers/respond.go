package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/satonic/nftledger/internal/models"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// errorStatus maps a marketplace error to an HTTP status code
func errorStatus(err error) int {
	switch {
	case errors.Is(err, models.ErrCollectionNotFound),
		errors.Is(err, models.ErrTokenNotFound),
		errors.Is(err, models.ErrListingNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrNotOwner),
		errors.Is(err, models.ErrNotSeller):
		return http.StatusForbidden
	case errors.Is(err, models.ErrInsufficientPayment),
		errors.Is(err, models.ErrPaymentUnverified):
		return http.StatusPaymentRequired
	case errors.Is(err, models.ErrCollectionExists),
		errors.Is(err, models.ErrAlreadyListed),
		errors.Is(err, models.ErrListingNotActive),
		errors.Is(err, models.ErrSupplyExceeded),
		errors.Is(err, models.ErrBidTooLow),
		errors.Is(err, models.ErrAuctionEnded),
		errors.Is(err, models.ErrNoBids):
		return http.StatusConflict
	case errors.Is(err, models.ErrNotAuction),
		errors.Is(err, models.ErrNotFixedPrice),
		errors.Is(err, models.ErrInvalidRoyalty),
		errors.Is(err, models.ErrInvalidPrice),
		errors.Is(err, models.ErrInvalidListingType),
		errors.Is(err, models.ErrInvalidMetadata),
		errors.Is(err, models.ErrInvalidAccount),
		errors.Is(err, models.ErrInvalidDuration):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
