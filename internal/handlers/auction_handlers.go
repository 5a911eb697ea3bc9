package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/satonic/nftledger/internal/models"
	"github.com/satonic/nftledger/internal/services"
)

// GetListingsHandler lists listings. Without a seller it returns the active
// listings; with one it returns that seller's listings, filtered to active
// ones when active=true.
func GetListingsHandler(market *services.Marketplace) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		seller := r.URL.Query().Get("seller")

		var (
			listings []models.Listing
			err      error
		)
		if seller == "" {
			listings, err = market.GetActiveListings(r.Context())
		} else {
			listings, err = market.GetListingsBySeller(r.Context(), seller)
		}
		if err != nil {
			writeError(w, errorStatus(err), err.Error())
			return
		}

		if seller != "" && r.URL.Query().Get("active") == "true" {
			active := []models.Listing{}
			for _, l := range listings {
				if l.IsActive() {
					active = append(active, l)
				}
			}
			listings = active
		}

		writeJSON(w, http.StatusOK, models.ListResponse[models.Listing]{Items: listings, TotalCount: len(listings)})
	}
}

// GetCollectionListingsHandler lists every listing of a collection
func GetCollectionListingsHandler(market *services.Marketplace) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		listings, err := market.GetListingsByCollection(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, errorStatus(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, models.ListResponse[models.Listing]{Items: listings, TotalCount: len(listings)})
	}
}

// CreateListingHandler lists a token owned by the caller
func CreateListingHandler(market *services.Marketplace) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, ok := AccountFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		var req models.CreateListingRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		listing, err := market.ListNFT(r.Context(), req, account)
		if err != nil {
			writeError(w, errorStatus(err), err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, listing)
	}
}

// GetListingHandler returns a listing with its bids
func GetListingHandler(market *services.Marketplace) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		listing, err := market.GetListing(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, errorStatus(err), err.Error())
			return
		}
		if listing == nil {
			writeError(w, http.StatusNotFound, "Listing not found")
			return
		}
		writeJSON(w, http.StatusOK, listing)
	}
}

// BuyListingHandler buys a fixed-price listing. The payment confirmation
// must name the listing and the caller, and be signed when a verifier key
// is configured.
func BuyListingHandler(market *services.Marketplace, payments *services.PaymentVerifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, ok := AccountFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		var req models.BuyRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		id := chi.URLParam(r, "id")
		if err := payments.Verify(req.Payment, id, account); err != nil {
			writeError(w, errorStatus(err), err.Error())
			return
		}

		result, err := market.BuyNFT(r.Context(), id, account, req.Payment.Amount)
		if err != nil {
			writeError(w, errorStatus(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// PlaceBidHandler bids on an auction as the caller
func PlaceBidHandler(market *services.Marketplace) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, ok := AccountFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		var req models.PlaceBidRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		bid, err := market.PlaceBid(r.Context(), chi.URLParam(r, "id"), account, req.Amount)
		if err != nil {
			writeError(w, errorStatus(err), err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, bid)
	}
}

// EndAuctionHandler settles an auction. The seller may end it at any time,
// anyone else only once its end time has passed. An auction without bids is
// cancelled and reported with 409 and the cancelled outcome.
func EndAuctionHandler(market *services.Marketplace, now func() time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, ok := AccountFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		id := chi.URLParam(r, "id")
		listing, err := market.GetListing(r.Context(), id)
		if err != nil {
			writeError(w, errorStatus(err), err.Error())
			return
		}
		if listing == nil {
			writeError(w, http.StatusNotFound, "Listing not found")
			return
		}
		if listing.Seller != account && !listing.Expired(now()) {
			writeError(w, http.StatusForbidden, "Only the seller can end an auction before its end time")
			return
		}

		outcome, err := market.EndAuction(r.Context(), id)
		if errors.Is(err, models.ErrNoBids) {
			writeJSON(w, http.StatusConflict, struct {
				Error   string                 `json:"error"`
				Outcome *models.AuctionOutcome `json:"outcome"`
			}{err.Error(), outcome})
			return
		}
		if err != nil {
			writeError(w, errorStatus(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, outcome)
	}
}

// CancelListingHandler withdraws a listing owned by the caller
func CancelListingHandler(market *services.Marketplace) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, ok := AccountFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		listing, err := market.CancelListing(r.Context(), chi.URLParam(r, "id"), account)
		if err != nil {
			writeError(w, errorStatus(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, listing)
	}
}
