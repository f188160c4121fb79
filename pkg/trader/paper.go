package trader

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/polycopy/copybot/pkg/models"
)

// PaperTrader records trades without touching the venue. Never fails beyond
// input validation.
type PaperTrader struct {
	log *logrus.Logger
}

// NewPaperTrader creates a simulated execution backend.
func NewPaperTrader(log *logrus.Logger) *PaperTrader {
	if log == nil {
		log = logrus.New()
	}
	return &PaperTrader{log: log}
}

// PlaceBet constructs the trade from the market's quoted side and logs it.
func (p *PaperTrader) PlaceBet(ctx context.Context, market *models.Market, direction models.Direction,
	amount, confidence float64, streakLength int, meta *models.CopyMeta) (*models.Trade, error) {

	if amount <= 0 {
		return nil, fmt.Errorf("bet amount must be positive, got %.2f", amount)
	}

	trade := newTrade(market, direction, amount, confidence, streakLength, true,
		time.Now().UnixMilli(), meta)

	if meta != nil {
		p.log.Infof("[PAPER] Copied %s: $%.2f on %s @ %.2f | Trader bet $%.2f | Delay: %dms",
			meta.TraderName, amount, strings.ToUpper(string(direction)), trade.EntryPrice,
			meta.TraderAmount, meta.CopyDelayMs)
	} else {
		p.log.Infof("[PAPER] Bet $%.2f on %s @ %.2f | %s | streak=%d conf=%.0f%%",
			amount, strings.ToUpper(string(direction)), trade.EntryPrice,
			market.Title, streakLength, confidence*100)
	}
	return trade, nil
}
