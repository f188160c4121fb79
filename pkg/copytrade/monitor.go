// Package copytrade watches monitored wallets on the venue's trade feed and
// turns their 5-minute BTC bets into copy signals.
package copytrade

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/polycopy/copybot/pkg/models"
	"github.com/polycopy/copybot/pkg/polymarket"
)

// pollLimit is how many recent trades to pull per wallet per poll.
const pollLimit = 50

// TradeFeed is the slice of the venue client the monitor needs.
type TradeFeed interface {
	RecentTrades(ctx context.Context, wallet string, limit int) ([]polymarket.WalletTrade, error)
}

// Monitor polls monitored wallets and emits signals for trades newer than a
// per-wallet watermark. The watermark starts at monitor creation time, so
// only activity after startup is ever copied.
type Monitor struct {
	feed     TradeFeed
	wallets  []string
	lastSeen map[string]int64
	log      *logrus.Logger
}

// NewMonitor creates a monitor for the given wallet set.
func NewMonitor(feed TradeFeed, wallets []string, log *logrus.Logger) *Monitor {
	if log == nil {
		log = logrus.New()
	}
	lastSeen := make(map[string]int64, len(wallets))
	now := time.Now().Unix()
	for _, w := range wallets {
		lastSeen[w] = now
	}
	return &Monitor{
		feed:     feed,
		wallets:  wallets,
		lastSeen: lastSeen,
		log:      log,
	}
}

// Poll returns the copy signals that appeared since the last call, oldest
// first per wallet.
func (m *Monitor) Poll(ctx context.Context) ([]models.CopySignal, error) {
	var signals []models.CopySignal

	for _, wallet := range m.wallets {
		trades, err := m.feed.RecentTrades(ctx, wallet, pollLimit)
		if err != nil {
			return nil, err
		}

		watermark := m.lastSeen[wallet]
		// Feed is newest first; walk backwards so signals come out in
		// chronological order.
		for i := len(trades) - 1; i >= 0; i-- {
			t := trades[i]
			if t.Timestamp <= watermark {
				continue
			}
			sig, ok := signalFromTrade(wallet, t)
			if !ok {
				continue
			}
			signals = append(signals, sig)
			if t.Timestamp > m.lastSeen[wallet] {
				m.lastSeen[wallet] = t.Timestamp
			}
		}
	}
	return signals, nil
}

// Recent returns the wallet's most recent 5-minute BTC signals, newest
// first, for operator display.
func (m *Monitor) Recent(ctx context.Context, wallet string, limit int) ([]models.CopySignal, error) {
	trades, err := m.feed.RecentTrades(ctx, wallet, pollLimit)
	if err != nil {
		return nil, err
	}

	var signals []models.CopySignal
	for _, t := range trades {
		sig, ok := signalFromTrade(wallet, t)
		if !ok {
			continue
		}
		signals = append(signals, sig)
		if len(signals) >= limit {
			break
		}
	}
	return signals, nil
}

// signalFromTrade converts a feed entry into a copy signal, filtering out
// anything that is not a 5-minute BTC up/down market.
func signalFromTrade(wallet string, t polymarket.WalletTrade) (models.CopySignal, bool) {
	marketTS, ok := marketTimestamp(t.Slug)
	if !ok {
		return models.CopySignal{}, false
	}

	var direction models.Direction
	switch strings.ToLower(t.Outcome) {
	case "up":
		direction = models.DirectionUp
	case "down":
		direction = models.DirectionDown
	default:
		return models.CopySignal{}, false
	}

	return models.CopySignal{
		Wallet:     wallet,
		TraderName: t.TraderName,
		Side:       t.Side,
		Direction:  direction,
		Price:      t.Price,
		USDCAmount: t.USDCAmount,
		TradeTS:    t.Timestamp,
		MarketTS:   marketTS,
	}, true
}

// marketTimestamp extracts the 5-minute epoch key from a market slug.
func marketTimestamp(slug string) (int64, bool) {
	if !strings.HasPrefix(slug, polymarket.SlugPrefix) {
		return 0, false
	}
	ts, err := strconv.ParseInt(strings.TrimPrefix(slug, polymarket.SlugPrefix), 10, 64)
	if err != nil {
		return 0, false
	}
	return ts, true
}
