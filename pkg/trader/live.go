package trader

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/polycopy/copybot/pkg/models"
)

// OrderSubmitter is the slice of the venue client live execution needs.
type OrderSubmitter interface {
	PostOrder(ctx context.Context, tokenID string, price, size float64) (string, error)
	CanTrade() bool
}

// LiveTrader submits real buy orders to the venue's order book. A failed
// submission does not abort the iteration: the trade comes back with
// ExecFailed and a FAILED: sentinel order id, and never enters settlement.
type LiveTrader struct {
	client OrderSubmitter
	log    *logrus.Logger
}

// NewLiveTrader creates a live execution backend. Missing credentials are a
// configuration error, fatal before the loop starts.
func NewLiveTrader(client OrderSubmitter, log *logrus.Logger) (*LiveTrader, error) {
	if !client.CanTrade() {
		return nil, fmt.Errorf("live trading requires CLOB API credentials")
	}
	if log == nil {
		log = logrus.New()
	}
	return &LiveTrader{client: client, log: log}, nil
}

// PlaceBet resolves the token for the requested side and submits a buy
// order sized as amount/entry_price shares, rounded to the venue's two
// decimal places.
func (l *LiveTrader) PlaceBet(ctx context.Context, market *models.Market, direction models.Direction,
	amount, confidence float64, streakLength int, meta *models.CopyMeta) (*models.Trade, error) {

	if amount <= 0 {
		return nil, fmt.Errorf("bet amount must be positive, got %.2f", amount)
	}

	tokenID := market.TokenFor(direction)
	if tokenID == "" {
		return nil, fmt.Errorf("no token ID for %s side of %s", direction, market.Slug)
	}

	trade := newTrade(market, direction, amount, confidence, streakLength, false,
		time.Now().UnixMilli(), meta)

	size := math.Round(amount/trade.EntryPrice*100) / 100

	orderID, err := l.client.PostOrder(ctx, tokenID, trade.EntryPrice, size)
	if err != nil {
		l.log.WithError(err).Errorf("[LIVE] Order failed: %s %s", market.Slug, direction)
		sentinel := "FAILED:" + err.Error()
		trade.OrderID = &sentinel
		trade.Status = models.ExecFailed
		return trade, nil
	}

	trade.OrderID = &orderID
	if meta != nil {
		l.log.Infof("[LIVE] Copied %s: $%.2f on %s @ %.2f | order=%s",
			meta.TraderName, amount, strings.ToUpper(string(direction)), trade.EntryPrice, orderID)
	} else {
		l.log.Infof("[LIVE] Bet $%.2f on %s @ %.2f | %s | order=%s",
			amount, strings.ToUpper(string(direction)), trade.EntryPrice, market.Title, orderID)
	}
	return trade, nil
}
