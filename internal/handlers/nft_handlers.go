package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/satonic/nftledger/internal/models"
	"github.com/satonic/nftledger/internal/services"
)

func tokenIDParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "tokenID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("invalid token id %q", raw)
	}
	return id, nil
}

// HealthHandler reports liveness
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// StatsHandler returns marketplace statistics
func StatsHandler(market *services.Marketplace) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := market.GetStats(r.Context())
		if err != nil {
			writeError(w, errorStatus(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

// SearchHandler finds tokens by name or description
func SearchHandler(market *services.Marketplace) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("q")
		if query == "" {
			writeError(w, http.StatusBadRequest, "query parameter q is required")
			return
		}

		tokens, err := market.SearchNFTs(r.Context(), query)
		if err != nil {
			writeError(w, errorStatus(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, models.ListResponse[models.Token]{Items: tokens, TotalCount: len(tokens)})
	}
}

// GetCollectionsHandler lists every collection
func GetCollectionsHandler(market *services.Marketplace) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		collections, err := market.GetAllCollections(r.Context())
		if err != nil {
			writeError(w, errorStatus(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, models.ListResponse[models.Collection]{Items: collections, TotalCount: len(collections)})
	}
}

// CreateCollectionHandler creates a collection owned by the caller
func CreateCollectionHandler(market *services.Marketplace) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, ok := AccountFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		var req models.CreateCollectionRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		collection, err := market.CreateCollection(r.Context(), req, account)
		if err != nil {
			writeError(w, errorStatus(err), err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, collection)
	}
}

// GetCollectionHandler returns a single collection
func GetCollectionHandler(market *services.Marketplace) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		collection, err := market.GetCollection(r.Context(), id)
		if err != nil {
			writeError(w, errorStatus(err), err.Error())
			return
		}
		if collection == nil {
			writeError(w, http.StatusNotFound, "Collection not found")
			return
		}
		writeJSON(w, http.StatusOK, collection)
	}
}

// GetCollectionNFTsHandler lists the tokens of a collection, optionally
// restricted to one owner
func GetCollectionNFTsHandler(market *services.Marketplace) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		collection, err := market.GetCollection(r.Context(), id)
		if err != nil {
			writeError(w, errorStatus(err), err.Error())
			return
		}
		if collection == nil {
			writeError(w, http.StatusNotFound, "Collection not found")
			return
		}

		var tokens []models.Token
		if owner := r.URL.Query().Get("owner"); owner != "" {
			tokens, err = market.GetNFTsByOwner(r.Context(), id, owner)
		} else {
			tokens, err = market.GetAllNFTs(r.Context(), id)
		}
		if err != nil {
			writeError(w, errorStatus(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, models.ListResponse[models.Token]{Items: tokens, TotalCount: len(tokens)})
	}
}

// requireCreator checks that the caller created the collection. Only the
// creator may mint into it.
func requireCreator(w http.ResponseWriter, r *http.Request, market *services.Marketplace, collectionID, account string) bool {
	collection, err := market.GetCollection(r.Context(), collectionID)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return false
	}
	if collection == nil {
		writeError(w, http.StatusNotFound, "Collection not found")
		return false
	}
	if collection.Creator != account {
		writeError(w, http.StatusForbidden, "Only the collection creator can mint")
		return false
	}
	return true
}

// MintNFTHandler mints a token. The owner defaults to the caller.
func MintNFTHandler(market *services.Marketplace) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, ok := AccountFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		var req models.MintRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if req.Owner == "" {
			req.Owner = account
		}

		id := chi.URLParam(r, "id")
		if !requireCreator(w, r, market, id, account) {
			return
		}

		token, err := market.MintNFT(r.Context(), id, req.Owner, req.Metadata, req.RoyaltyBps)
		if err != nil {
			writeError(w, errorStatus(err), err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, token)
	}
}

// BatchMintNFTsHandler mints several tokens at once
func BatchMintNFTsHandler(market *services.Marketplace) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, ok := AccountFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		var req models.BatchMintRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if req.Owner == "" {
			req.Owner = account
		}

		id := chi.URLParam(r, "id")
		if !requireCreator(w, r, market, id, account) {
			return
		}

		tokens, err := market.BatchMintNFTs(r.Context(), id, req.Owner, req.Metadata, req.RoyaltyBps)
		if err != nil {
			writeError(w, errorStatus(err), err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, models.ListResponse[models.Token]{Items: tokens, TotalCount: len(tokens)})
	}
}

// GetNFTHandler returns one token with its transfer history
func GetNFTHandler(market *services.Marketplace) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenID, err := tokenIDParam(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		token, err := market.GetNFT(r.Context(), chi.URLParam(r, "id"), tokenID)
		if err != nil {
			writeError(w, errorStatus(err), err.Error())
			return
		}
		if token == nil {
			writeError(w, http.StatusNotFound, "NFT not found")
			return
		}
		writeJSON(w, http.StatusOK, token)
	}
}

// BurnNFTHandler destroys a token owned by the caller
func BurnNFTHandler(market *services.Marketplace) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, ok := AccountFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		tokenID, err := tokenIDParam(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		if err := market.BurnNFT(r.Context(), chi.URLParam(r, "id"), tokenID, account); err != nil {
			writeError(w, errorStatus(err), err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// TransferNFTHandler gives a token owned by the caller to another account
func TransferNFTHandler(market *services.Marketplace) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, ok := AccountFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		tokenID, err := tokenIDParam(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		var req models.TransferRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		token, err := market.TransferNFT(r.Context(), chi.URLParam(r, "id"), tokenID, account, req.To)
		if err != nil {
			writeError(w, errorStatus(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, token)
	}
}
