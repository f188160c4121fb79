// Package bot runs the copy-trade orchestration loop: settle pending
// trades, enforce the daily risk gate, poll wallet signals, size and
// dispatch new copies, and persist state.
package bot

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/polycopy/copybot/pkg/models"
	"github.com/polycopy/copybot/pkg/state"
	"github.com/polycopy/copybot/pkg/trader"
)

const (
	// blockedRetryDelay is how long to wait when the risk gate refuses.
	blockedRetryDelay = 30 * time.Second
	// errorBackoff is applied after a failed loop iteration.
	errorBackoff = 10 * time.Second
	// copyConfidence is the default confidence stamped on copied trades.
	copyConfidence = 0.6
	// bankrollCapFraction caps a single bet at this share of bankroll.
	bankrollCapFraction = 0.10
	// recentDisplayCount is how many signals per wallet to print at startup.
	recentDisplayCount = 3
)

// MarketLookup resolves a 5-minute market by its epoch key. A nil market
// with nil error means the venue has no such market.
type MarketLookup interface {
	GetMarket(ctx context.Context, ts int64) (*models.Market, error)
}

// SignalSource produces copy signals from monitored wallets.
type SignalSource interface {
	Poll(ctx context.Context) ([]models.CopySignal, error)
	Recent(ctx context.Context, wallet string, limit int) ([]models.CopySignal, error)
}

// PriceCache serves cached market prices for pending-trade mark-to-market.
// Optional; the loop runs fine without one.
type PriceCache interface {
	Subscribe(tokenIDs []string) error
	LastPrice(tokenID string) (float64, bool)
}

// Config is the loop's tuning.
type Config struct {
	BetAmount    float64
	MinBet       float64
	PollInterval time.Duration
	Wallets      []string
}

// CopyBot is the process-wide control loop. Single-threaded: all state is
// owned by the goroutine running Run.
type CopyBot struct {
	store   *state.Store
	exec    trader.Trader
	markets MarketLookup
	signals SignalSource
	prices  PriceCache
	cfg     Config
	log     *logrus.Logger

	copied        map[state.Pair]struct{}
	pending       []*models.Trade
	pendingTokens map[*models.Trade]string
	retries       []models.CopySignal

	sleep func(ctx context.Context, d time.Duration)
	now   func() time.Time
}

// New creates the loop. prices may be nil.
func New(store *state.Store, exec trader.Trader, markets MarketLookup,
	signals SignalSource, prices PriceCache, cfg Config, log *logrus.Logger) *CopyBot {

	if log == nil {
		log = logrus.New()
	}
	return &CopyBot{
		store:         store,
		exec:          exec,
		markets:       markets,
		signals:       signals,
		prices:        prices,
		cfg:           cfg,
		log:           log,
		copied:        make(map[state.Pair]struct{}),
		pendingTokens: make(map[*models.Trade]string),
		sleep:         sleepCtx,
		now:           time.Now,
	}
}

// Run executes the loop until ctx is cancelled, then persists state once
// more and logs a session summary.
func (b *CopyBot) Run(ctx context.Context) error {
	// Seed dedup and the pending list from persisted state so a restart
	// neither re-copies a market nor forgets an open position.
	for pair := range b.store.HandledPairs() {
		b.copied[pair] = struct{}{}
	}
	b.pending = b.store.PendingTrades()

	b.log.Infof("Copying %d wallet(s), bet amount $%.2f, bankroll $%.2f, poll interval %s",
		len(b.cfg.Wallets), b.cfg.BetAmount, b.store.Bankroll(), b.cfg.PollInterval)
	b.printRecentSignals(ctx)

	for ctx.Err() == nil {
		if err := b.iterate(ctx); err != nil {
			b.log.WithError(err).Error("Loop iteration failed")
			b.sleep(ctx, errorBackoff)
		}
	}

	if err := b.store.Save(); err != nil {
		b.log.WithError(err).Error("Final state save failed")
	}
	b.log.Infof("State saved. Bankroll: $%.2f", b.store.Bankroll())
	b.log.Infof("Session: %d bets, PnL: $%+.2f", b.store.DailyBets(), b.store.DailyPnL())
	return nil
}

// iterate is one pass of the loop. Settlement always runs before new
// signals are considered, so the bankroll reflects the latest outcomes
// before the next risk-gate decision.
func (b *CopyBot) iterate(ctx context.Context) error {
	b.settlePending(ctx)

	if ok, reason := b.store.CanTrade(); !ok {
		b.log.Infof("Cannot trade: %s", reason)
		b.sleep(ctx, blockedRetryDelay)
		return nil
	}

	signals, err := b.signals.Poll(ctx)
	if err != nil {
		return fmt.Errorf("poll signals: %w", err)
	}
	// The poller's watermark has already moved past these signals, so they
	// only exist here: carry over any deferred retries and, on a failure
	// mid-batch, requeue the untouched remainder instead of dropping it.
	batch := append(b.retries, signals...)
	b.retries = nil
	for i, sig := range batch {
		if err := b.handleSignal(ctx, sig); err != nil {
			b.retries = append(b.retries, batch[i+1:]...)
			return err
		}
	}

	b.refreshPending()
	b.heartbeat()
	b.sleep(ctx, b.cfg.PollInterval)
	return nil
}

// settlePending queries each pending trade's market and settles the ones
// that have resolved. Lookup failures are transient: log and move on.
func (b *CopyBot) settlePending(ctx context.Context) {
	remaining := b.pending[:0]
	for _, t := range b.pending {
		market, err := b.markets.GetMarket(ctx, t.Timestamp)
		if err != nil {
			b.log.WithError(err).WithField("market", t.MarketSlug).
				Warn("Settlement market lookup failed")
			remaining = append(remaining, t)
			continue
		}
		if market == nil || !market.Resolved() {
			remaining = append(remaining, t)
			continue
		}

		if err := b.store.SettleTrade(t, *market.Outcome); err != nil {
			b.log.WithError(err).WithField("market", t.MarketSlug).
				Warn("Settlement rejected, dropping from pending")
			delete(b.pendingTokens, t)
			continue
		}
		delete(b.pendingTokens, t)

		tag := "-"
		if t.PnL > 0 {
			tag = "+"
		}
		b.log.Infof("[%s] Settled: %s @ %s -> %s | PnL: $%+.2f | Bankroll: $%.2f",
			tag, t.Direction, t.MarketSlug, *market.Outcome, t.PnL, b.store.Bankroll())

		if err := b.store.Save(); err != nil {
			b.log.WithError(err).Error("State save after settlement failed")
		}
	}
	b.pending = remaining
}

// handleSignal runs the dedup and filter chain for one signal and, when it
// survives, sizes and dispatches the copy.
func (b *CopyBot) handleSignal(ctx context.Context, sig models.CopySignal) error {
	key := state.Pair{Wallet: sig.Wallet, MarketTS: sig.MarketTS}
	if _, dup := b.copied[key]; dup {
		// Quiet on purpose: the first classification already logged.
		return nil
	}

	if sig.Side != models.SideBuy {
		b.log.Infof("[skip] %s %s %s (only copying BUYs)", sig.TraderName, sig.Side, sig.Direction)
		b.copied[key] = struct{}{}
		return nil
	}

	market, err := b.markets.GetMarket(ctx, sig.MarketTS)
	if err != nil {
		// Transient: leave the pair unmarked and retry next iteration. A
		// market that closes in the meantime is skipped there.
		b.log.WithError(err).Warnf("Market lookup failed for ts=%d, retrying next pass", sig.MarketTS)
		b.retries = append(b.retries, sig)
		return nil
	}
	if market == nil {
		b.log.Infof("[skip] Market not found for ts=%d", sig.MarketTS)
		b.copied[key] = struct{}{}
		return nil
	}
	if market.Closed {
		b.log.Infof("[skip] Market already closed: %s", market.Slug)
		b.copied[key] = struct{}{}
		return nil
	}
	if !market.AcceptingOrders {
		b.log.Infof("[skip] Market not accepting orders: %s", market.Slug)
		b.copied[key] = struct{}{}
		return nil
	}

	amount := math.Min(b.cfg.BetAmount, b.store.Bankroll()*bankrollCapFraction)
	if b.cfg.MinBet > amount {
		// The floor is applied after the percentage cap, so a configured
		// minimum can exceed 10% of bankroll. Kept as observed behavior.
		b.log.Warnf("Minimum bet $%.2f overrides bankroll cap $%.2f", b.cfg.MinBet, amount)
		amount = b.cfg.MinBet
	}

	delayMs := b.now().UnixMilli() - sig.TradeTS*1000
	meta := &models.CopyMeta{
		Wallet:          sig.Wallet,
		TraderName:      sig.TraderName,
		TraderDirection: sig.Direction,
		TraderAmount:    sig.USDCAmount,
		TraderPrice:     sig.Price,
		TraderTimestamp: sig.TradeTS,
		CopyDelayMs:     delayMs,
	}

	b.log.Infof("[COPY] %s -> %s %s @ %.2f | Copying with $%.2f | Delay: %dms",
		sig.TraderName, sig.Side, sig.Direction, sig.Price, amount, delayMs)

	trade, err := b.exec.PlaceBet(ctx, market, sig.Direction, amount, copyConfidence, 0, meta)
	if err != nil {
		return fmt.Errorf("place bet: %w", err)
	}

	if err := b.store.RecordTrade(trade); err != nil {
		return err
	}
	b.copied[key] = struct{}{}

	if trade.Status != models.ExecFailed {
		b.pending = append(b.pending, trade)
		if token := market.TokenFor(sig.Direction); token != "" {
			b.pendingTokens[trade] = token
			b.subscribe(token)
		}
	}

	if err := b.store.Save(); err != nil {
		return err
	}

	b.log.Infof("Daily: %d bets, PnL: $%+.2f | Bankroll: $%.2f | Pending: %d",
		b.store.DailyBets(), b.store.DailyPnL(), b.store.Bankroll(), len(b.pending))
	return nil
}

// refreshPending marks pending trades to the cached market price, filling
// the transient fields that are stripped again at settlement.
func (b *CopyBot) refreshPending() {
	if b.prices == nil {
		return
	}
	for _, t := range b.pending {
		token, ok := b.pendingTokens[t]
		if !ok {
			continue
		}
		price, ok := b.prices.LastPrice(token)
		if !ok {
			continue
		}
		b.store.MarkToMarket(t, price)
	}
}

func (b *CopyBot) subscribe(tokenID string) {
	if b.prices == nil {
		return
	}
	if err := b.prices.Subscribe([]string{tokenID}); err != nil {
		b.log.WithError(err).Debug("Price stream subscribe failed")
	}
}

// heartbeat logs a coarse once-a-minute liveness line, scheduled by wall
// clock modulo rather than a precise timer.
func (b *CopyBot) heartbeat() {
	interval := int64(b.cfg.PollInterval / time.Second)
	if interval <= 0 {
		interval = 1
	}
	if b.now().Unix()%60 < interval {
		b.log.Infof("Watching... Pending: %d | Copied: %d", len(b.pending), len(b.copied))
	}
}

// printRecentSignals shows the latest activity per wallet at startup, for
// operator visibility only.
func (b *CopyBot) printRecentSignals(ctx context.Context) {
	b.log.Info("Recent BTC 5-min trades from copied wallets:")
	for _, wallet := range b.cfg.Wallets {
		signals, err := b.signals.Recent(ctx, wallet, recentDisplayCount)
		if err != nil {
			b.log.WithError(err).WithField("wallet", wallet).Warn("Recent signals fetch failed")
			continue
		}
		for _, sig := range signals {
			b.log.Infof("  %s: %s %s @ %.2f ($%.2f)",
				sig.TraderName, sig.Side, sig.Direction, sig.Price, sig.USDCAmount)
		}
	}
}

// sleepCtx sleeps for d or until ctx is cancelled, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
