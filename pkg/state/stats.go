package state

import (
	"github.com/polycopy/copybot/pkg/models"
)

// Statistics aggregates over all trades currently held by the store. Win
// rate and the averages guard their denominators, returning 0 when there is
// nothing to average.
func (s *Store) Statistics() models.Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := models.Statistics{
		TotalTrades: len(s.state.Trades),
		Bankroll:    s.state.Bankroll,
	}

	var (
		winSum, lossSum         float64
		feePctSum               float64
		feePctN                 int
		slipPctSum, delayPctSum float64
		slipN, delayN           int
	)

	for _, t := range s.state.Trades {
		if t.Status == models.ExecFailed {
			stats.FailedTrades++
			continue
		}

		if !t.Settled() {
			stats.PendingTrades++
			if t.CurrentPrice != nil && t.EntryPrice > 0 {
				current := *t.CurrentPrice
				stats.UnrealizedPnL += t.Shares()*current - t.Amount
			}
			continue
		}

		stats.SettledTrades++
		stats.RealizedPnL += t.PnL
		stats.TotalFeesPaid += t.Fee
		if t.Amount > 0 {
			feePctSum += t.Fee / t.Amount * 100
			feePctN++
		}

		if t.Won() {
			stats.Wins++
			winSum += t.PnL
			stats.TotalGrossProfit += t.PnL
			if t.PnL > stats.LargestWin {
				stats.LargestWin = t.PnL
			}
		} else {
			stats.Losses++
			lossSum += t.PnL
			if t.PnL < stats.LargestLoss {
				stats.LargestLoss = t.PnL
			}
		}

		if t.TraderPrice != nil && *t.TraderPrice > 0 {
			slipPctSum += (t.EntryPrice - *t.TraderPrice) / *t.TraderPrice * 100
			slipN++
			if t.MarketPriceAtCopy != nil {
				delayPctSum += (*t.MarketPriceAtCopy - *t.TraderPrice) / *t.TraderPrice * 100
				delayN++
			}
		}
	}

	stats.TotalPnL = stats.RealizedPnL + stats.UnrealizedPnL
	if stats.SettledTrades > 0 {
		stats.WinRate = float64(stats.Wins) / float64(stats.SettledTrades) * 100
	}
	if stats.Wins > 0 {
		stats.AvgWin = winSum / float64(stats.Wins)
	}
	if stats.Losses > 0 {
		stats.AvgLoss = lossSum / float64(stats.Losses)
	}
	if feePctN > 0 {
		stats.AvgFeePct = feePctSum / float64(feePctN)
	}
	if slipN > 0 {
		stats.AvgSlippagePct = slipPctSum / float64(slipN)
	}
	if delayN > 0 {
		stats.AvgDelayImpactPct = delayPctSum / float64(delayN)
	}
	return stats
}
