package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// AuctionSweeper periodically settles auctions whose end time has passed
type AuctionSweeper struct {
	market   *Marketplace
	interval time.Duration
	cron     *cron.Cron
	sugar    *zap.SugaredLogger
}

// NewAuctionSweeper creates a sweeper running every interval
func NewAuctionSweeper(market *Marketplace, interval time.Duration, sugar *zap.SugaredLogger) *AuctionSweeper {
	if sugar == nil {
		sugar = zap.NewNop().Sugar()
	}
	return &AuctionSweeper{
		market:   market,
		interval: interval,
		// a sweep that overruns the interval is not started twice
		cron:  cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		sugar: sugar,
	}
}

// Start schedules the sweep. It runs until Stop is called or ctx is done.
func (s *AuctionSweeper) Start(ctx context.Context) error {
	if s.interval <= 0 {
		return fmt.Errorf("sweep interval must be positive, got %s", s.interval)
	}
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), func() { s.Sweep(ctx) }); err != nil {
		return fmt.Errorf("schedule auction sweep: %w", err)
	}

	s.cron.Start()
	s.sugar.Infof("auction sweeper started, interval %s", s.interval)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Sweep settles expired auctions once and returns how many were settled
func (s *AuctionSweeper) Sweep(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	n, err := s.market.SettleExpiredAuctions(ctx)
	if err != nil {
		s.sugar.Errorf("auction sweep: %s", err)
	}
	if n > 0 {
		s.sugar.Infof("auction sweep settled %d auction(s)", n)
	}
	return n
}

// Stop stops scheduling and waits for a running sweep to finish
func (s *AuctionSweeper) Stop() {
	<-s.cron.Stop().Done()
}
