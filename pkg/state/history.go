package state

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/polycopy/copybot/pkg/models"
)

// MarketLookup is the narrow market-metadata contract backfill needs.
type MarketLookup interface {
	GetMarket(ts int64) (*models.Market, error)
}

// appendHistory appends one trade to the unbounded full-history file.
func (s *Store) appendHistory(t *models.Trade) error {
	history, err := s.readHistory()
	if err != nil {
		return err
	}
	history = append(history, t)
	return s.writeHistory(history)
}

// readHistory loads the full-history file, treating a missing file as empty.
func (s *Store) readHistory() ([]*models.Trade, error) {
	data, err := os.ReadFile(s.historyPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read history file: %w", err)
	}
	var history []*models.Trade
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("parse history file: %w", err)
	}
	return history, nil
}

func (s *Store) writeHistory(history []*models.Trade) error {
	data, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	if err := os.WriteFile(s.historyPath, data, 0o644); err != nil {
		return fmt.Errorf("write history file: %w", err)
	}
	return nil
}

// LoadFullHistory replaces the in-memory trade list with the unbounded full
// history, for the reporting path. Bankroll and counters keep their loaded
// values.
func (s *Store) LoadFullHistory() error {
	history, err := s.readHistory()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.state.Trades = history
	s.mu.Unlock()
	return nil
}

// BackfillSettlements scans the full history for unsettled trades,
// re-queries each trade's market, and settles the ones whose market is now
// closed with a known outcome. It returns how many entries were updated and
// how many remain pending, so a caller can loop until remaining is zero.
// Only the history file is touched; the working-state bankroll belongs to
// the live loop.
func (s *Store) BackfillSettlements(lookup MarketLookup) (updated, remaining int, err error) {
	history, err := s.readHistory()
	if err != nil {
		return 0, 0, err
	}

	for _, t := range history {
		if t.Settled() || t.Status == models.ExecFailed {
			continue
		}
		market, err := lookup.GetMarket(t.Timestamp)
		if err != nil {
			s.log.WithError(err).WithField("timestamp", t.Timestamp).
				Warn("Backfill market lookup failed")
			remaining++
			continue
		}
		if market == nil || !market.Resolved() {
			remaining++
			continue
		}

		outcome := *market.Outcome
		out := outcome
		t.Outcome = &out
		if t.Direction == outcome {
			t.PnL = t.Amount/t.EntryPrice - t.Amount
			fp := 1.0
			t.FinalPrice = &fp
		} else {
			t.PnL = -t.Amount
			fp := 0.0
			t.FinalPrice = &fp
		}
		t.ClearTransient()
		updated++

		s.log.WithFields(map[string]interface{}{
			"market":  t.MarketSlug,
			"outcome": outcome,
			"pnl":     t.PnL,
		}).Info("Backfilled settlement")
	}

	if updated > 0 {
		if err := s.writeHistory(history); err != nil {
			return updated, remaining, err
		}
	}
	return updated, remaining, nil
}

// ExportJSON writes the full trade sequence to path as a JSON array.
func (s *Store) ExportJSON(path string) error {
	s.mu.RLock()
	data, err := json.MarshalIndent(s.state.Trades, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal trades: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	return nil
}

// ExportCSV writes the full trade sequence to path, one flattened row per
// trade.
func (s *Store) ExportCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create export: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{
		"timestamp", "market_slug", "direction", "amount", "entry_price",
		"confidence", "strategy", "status", "paper", "outcome", "pnl",
		"final_price", "order_id", "copied_from", "trader_name",
		"trader_direction", "trader_amount", "trader_price",
		"trader_timestamp", "executed_at", "copy_delay_ms",
		"market_price_at_copy",
	}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	s.mu.RLock()
	trades := s.state.Trades
	s.mu.RUnlock()

	for _, t := range trades {
		row := []string{
			strconv.FormatInt(t.Timestamp, 10),
			t.MarketSlug,
			string(t.Direction),
			formatFloat(t.Amount),
			formatFloat(t.EntryPrice),
			formatFloat(t.Confidence),
			t.Strategy,
			string(t.Status),
			strconv.FormatBool(t.Paper),
			directionString(t.Outcome),
			formatFloat(t.PnL),
			floatString(t.FinalPrice),
			stringOr(t.OrderID),
			stringOr(t.CopiedFrom),
			stringOr(t.TraderName),
			directionString(t.TraderDirection),
			floatString(t.TraderAmount),
			floatString(t.TraderPrice),
			intString(t.TraderTimestamp),
			intString(t.ExecutedAt),
			intString(t.CopyDelayMs),
			floatString(t.MarketPriceAtCopy),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func floatString(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}

func intString(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}

func stringOr(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func directionString(d *models.Direction) string {
	if d == nil {
		return ""
	}
	return string(*d)
}
