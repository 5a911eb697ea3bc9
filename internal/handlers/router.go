package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/satonic/nftledger/internal/metrics"
	"github.com/satonic/nftledger/internal/services"
	"go.uber.org/zap"
)

// Dependencies are the collaborators the HTTP surface is built from.
// Limiter and Payments are optional.
type Dependencies struct {
	Market         *services.Marketplace
	Auth           TokenValidator
	Payments       *services.PaymentVerifier
	Hub            *Hub
	Limiter        *RateLimiter
	AllowedOrigins []string
	Sugar          *zap.SugaredLogger

	// Now is the clock used to decide whether an auction may be ended by
	// someone other than its seller. Defaults to time.Now.
	Now func() time.Time
}

// NewRouter builds the chi router for the marketplace API
func NewRouter(deps Dependencies) http.Handler {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Sugar == nil {
		deps.Sugar = zap.NewNop().Sugar()
	}
	if deps.Payments == nil {
		deps.Payments = &services.PaymentVerifier{}
	}
	market := deps.Market
	requireAuth := AuthMiddleware(deps.Auth)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(deps.Sugar))
	r.Use(middleware.Recoverer)
	r.Use(metrics.InstrumentHandler)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	// a valid token makes the account available to the limiter and /ws
	r.Use(OptionalAuth(deps.Auth))
	if deps.Limiter != nil {
		r.Use(deps.Limiter.Handler)
	}

	r.Get("/health", HealthHandler())
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	if deps.Hub != nil {
		r.Get("/ws", ServeWs(deps.Hub))
	}

	r.Get("/stats", StatsHandler(market))
	r.Get("/search", SearchHandler(market))

	r.Route("/collections", func(r chi.Router) {
		r.Get("/", GetCollectionsHandler(market))
		r.With(requireAuth).Post("/", CreateCollectionHandler(market))

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", GetCollectionHandler(market))
			r.Get("/listings", GetCollectionListingsHandler(market))
			r.Get("/nfts", GetCollectionNFTsHandler(market))
			r.Get("/nfts/{tokenID}", GetNFTHandler(market))

			r.Group(func(r chi.Router) {
				r.Use(requireAuth)
				r.Post("/nfts", MintNFTHandler(market))
				r.Post("/nfts/batch", BatchMintNFTsHandler(market))
				r.Delete("/nfts/{tokenID}", BurnNFTHandler(market))
				r.Post("/nfts/{tokenID}/transfer", TransferNFTHandler(market))
			})
		})
	})

	r.Route("/listings", func(r chi.Router) {
		r.Get("/", GetListingsHandler(market))
		r.Get("/{id}", GetListingHandler(market))

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Post("/", CreateListingHandler(market))
			r.Post("/{id}/buy", BuyListingHandler(market, deps.Payments))
			r.Post("/{id}/bids", PlaceBidHandler(market))
			r.Post("/{id}/end", EndAuctionHandler(market, deps.Now))
			r.Post("/{id}/cancel", CancelListingHandler(market))
		})
	})

	return r
}
