package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/satonic/nftledger/internal/config"
	"github.com/satonic/nftledger/internal/events"
	"github.com/satonic/nftledger/internal/handlers"
	"github.com/satonic/nftledger/internal/logging"
	"github.com/satonic/nftledger/internal/models"
	"github.com/satonic/nftledger/internal/services"
	"github.com/satonic/nftledger/internal/store"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

var (
	serveCommand = &cli.Command{
		Action: serve,
		Name:   "serve",
		Usage:  "Serve the marketplace API, websocket feed and auction sweeper",
	}
	migrateCommand = &cli.Command{
		Action: migrateDB,
		Name:   "migrate",
		Usage:  "Apply the database schema",
		Flags: []cli.Flag{
			MigrateDownFlag,
		},
	}
	eventsCommand = &cli.Command{
		Action: watchEvents,
		Name:   "events",
		Usage:  "Print marketplace events published on Redis",
	}
	tokenCommand = &cli.Command{
		Action: issueToken,
		Name:   "token",
		Usage:  "Issue a bearer token for an account",
		Flags: []cli.Flag{
			TokenSubjectFlag,
		},
	}
)

func loadConfig(c *cli.Context) (*config.Config, error) {
	if path := c.String(ConfigFlag.Name); path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

func serve(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	sugar, err := logging.NewSugar(cfg.Log)
	if err != nil {
		return err
	}
	defer sugar.Sync()

	ctx := c.Context

	repo, closeRepo, err := openRepository(ctx, cfg, sugar)
	if err != nil {
		return err
	}
	defer closeRepo()

	hub := handlers.NewHub(cfg.Server.AllowedOrigins, sugar)
	publishers := events.Multi{hub}
	if cfg.Redis.Addr != "" {
		redisPub := events.NewRedisPublisher(cfg.Redis)
		defer redisPub.Close()
		if err := redisPub.Ping(ctx); err != nil {
			// events are best effort, so an unreachable broker is not fatal
			sugar.Warnf("redis %s unreachable: %s", cfg.Redis.Addr, err)
		}
		publishers = append(publishers, redisPub)
	}

	market := services.NewMarketplace(repo,
		services.WithPlatformFee(cfg.Marketplace.PlatformFeeBps),
		services.WithDefaultRoyalty(cfg.Marketplace.DefaultRoyaltyBps),
		services.WithDefaultCurrency(cfg.Marketplace.DefaultCurrency),
		services.WithLogger(sugar),
		services.WithPublisher(publishers),
	)
	hub.SetBidPlacer(market)

	payments, err := services.NewPaymentVerifier(cfg.Payment.VerifierPubKey)
	if err != nil {
		return err
	}
	if !payments.Enabled() {
		sugar.Warn("no payment verifier key configured, payment confirmations are trusted")
	}

	interval, err := cfg.Marketplace.SweepEvery()
	if err != nil {
		return err
	}
	sweeper := services.NewAuctionSweeper(market, interval, sugar)
	if err := sweeper.Start(ctx); err != nil {
		return err
	}
	defer sweeper.Stop()

	go hub.Run(ctx)

	limiter := handlers.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, sugar)
	stopCleanup := make(chan struct{})
	defer close(stopCleanup)
	limiter.StartCleanup(10*time.Minute, stopCleanup)

	router := handlers.NewRouter(handlers.Dependencies{
		Market:         market,
		Auth:           services.NewAuthService(cfg.Auth),
		Payments:       payments,
		Hub:            hub,
		Limiter:        limiter,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Sugar:          sugar,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		sugar.Infof("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	sugar.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openRepository returns the configured storage backend and its closer
func openRepository(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (store.Repository, func(), error) {
	if cfg.Database.Driver == "memory" {
		sugar.Info("using in-memory storage, state is lost on exit")
		return store.NewMemoryRepository(), func() {}, nil
	}

	db, err := store.NewDatabase(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	if err := store.Migrate(db, false); err != nil {
		db.Close()
		return nil, nil, err
	}
	sugar.Infof("connected to postgres %s:%d/%s", cfg.Database.Host, cfg.Database.Port, cfg.Database.Name)

	return store.NewPostgresRepository(db), func() { db.Close() }, nil
}

func migrateDB(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if cfg.Database.Driver != "postgres" {
		return fmt.Errorf("migrate needs the postgres driver, configured %q", cfg.Database.Driver)
	}
	sugar, err := logging.NewSugar(cfg.Log)
	if err != nil {
		return err
	}
	defer sugar.Sync()

	db, err := store.NewDatabase(c.Context, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	down := c.Bool(MigrateDownFlag.Name)
	if err := store.Migrate(db, down); err != nil {
		return err
	}
	if down {
		sugar.Info("migrations rolled back")
	} else {
		sugar.Info("migrations applied")
	}
	return nil
}

func issueToken(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	if cfg.Auth.SecretGenerated {
		return errors.New("jwt secret is not configured: set JWT_SECRET or auth.jwt_secret so the server can verify the token")
	}

	tok, err := services.NewAuthService(cfg.Auth).IssueToken(c.String(TokenSubjectFlag.Name))
	if err != nil {
		return err
	}

	fmt.Printf("%s\nexpires %s\n", tok.Token, tok.ExpiresAt.Format(time.RFC3339))
	return nil
}

func watchEvents(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if cfg.Redis.Addr == "" {
		return errors.New("redis is not configured")
	}
	sugar, err := logging.NewSugar(cfg.Log)
	if err != nil {
		return err
	}
	defer sugar.Sync()

	pub := events.NewRedisPublisher(cfg.Redis)
	defer pub.Close()

	sugar.Infof("watching %s on %s", cfg.Redis.Channel, cfg.Redis.Addr)
	return pub.Watch(c.Context, func(e models.Event) {
		sugar.Infow(string(e.Type),
			"collection", e.CollectionID,
			"token", e.TokenID,
			"listing", e.ListingID,
			"actor", e.Actor,
			"counterparty", e.Counterparty,
			"amount", e.Amount,
			"at", e.Timestamp,
		)
	})
}
