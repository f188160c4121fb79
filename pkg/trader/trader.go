// Package trader is the execution capability: turning a bet intent into a
// recorded Trade, on paper or against the live order book.
package trader

import (
	"context"

	"github.com/polycopy/copybot/pkg/models"
)

// Trader places a bet on one side of a 5-minute market and returns the
// resulting trade record. Implementations are interchangeable so the
// orchestration loop never knows which is active.
type Trader interface {
	PlaceBet(ctx context.Context, market *models.Market, direction models.Direction,
		amount, confidence float64, streakLength int, meta *models.CopyMeta) (*models.Trade, error)
}

// newTrade builds the common trade record shared by both variants.
func newTrade(market *models.Market, direction models.Direction, amount, confidence float64,
	streakLength int, paper bool, executedAt int64, meta *models.CopyMeta) *models.Trade {

	quoted := market.PriceFor(direction)
	entry := models.NormalizeEntryPrice(quoted)

	t := &models.Trade{
		Timestamp:    market.Timestamp,
		MarketSlug:   market.Slug,
		Direction:    direction,
		Amount:       amount,
		EntryPrice:   entry,
		StreakLength: streakLength,
		Confidence:   confidence,
		Paper:        paper,
		Strategy:     models.StrategyStreak,
		Status:       models.ExecSubmitted,
		ExecutedAt:   &executedAt,
	}
	price := quoted
	t.MarketPriceAtCopy = &price
	meta.Apply(t)
	return t
}
