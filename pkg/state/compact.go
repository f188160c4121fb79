package state

import (
	"encoding/json"
	"fmt"
	"os"
)

// deadFields were declared by earlier versions of the trade record but never
// populated; the compact pass strips them from old history files.
var deadFields = []string{
	"trader_recent_trades",
	"trader_recent_wins",
	"trader_win_rate",
	"actual_price_impact_pct",
	"gas_price_gwei",
	"tx_status",
}

// transientFields are only valid while a trade is pending.
var transientFields = []string{
	"current_price",
	"unrealized_pnl",
	"implied_outcome",
}

// CompactResult reports what the migration pass changed.
type CompactResult struct {
	Trades               int
	DeadRemoved          int
	TransientRemoved     int
	FinalPriceBackfilled int
}

// CompactHistory runs the one-time migration over the full-history file:
// dead fields are removed, transient fields are stripped from settled
// entries, and final_price is backfilled for settled entries. Older files
// may carry a literal "won" flag; when present it is honored, otherwise
// won-ness is derived from direction == outcome. Operates on raw records so
// unknown fields in old files survive untouched.
func (s *Store) CompactHistory() (*CompactResult, error) {
	data, err := os.ReadFile(s.historyPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no history file found: %s", s.historyPath)
		}
		return nil, fmt.Errorf("read history file: %w", err)
	}

	var history []map[string]interface{}
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("parse history file: %w", err)
	}

	res := &CompactResult{Trades: len(history)}
	for _, entry := range history {
		for _, field := range deadFields {
			if _, ok := entry[field]; ok {
				delete(entry, field)
				res.DeadRemoved++
			}
		}

		settled := entry["outcome"] != nil
		if settled {
			for _, field := range transientFields {
				if _, ok := entry[field]; ok {
					delete(entry, field)
					res.TransientRemoved++
				}
			}
		}

		if entry["final_price"] == nil {
			won, known := wonFlag(entry)
			if known {
				if won {
					entry["final_price"] = 1.0
				} else {
					entry["final_price"] = 0.0
				}
				res.FinalPriceBackfilled++
			}
		}
	}

	out, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal compacted history: %w", err)
	}
	if err := os.WriteFile(s.historyPath, out, 0o644); err != nil {
		return nil, fmt.Errorf("write compacted history: %w", err)
	}
	return res, nil
}

// wonFlag resolves whether a raw history entry was a winning trade. A
// literal "won" key wins; otherwise it is derived for settled entries.
func wonFlag(entry map[string]interface{}) (won, known bool) {
	if v, ok := entry["won"].(bool); ok {
		return v, true
	}
	outcome, ok := entry["outcome"].(string)
	if !ok {
		return false, false
	}
	direction, ok := entry["direction"].(string)
	if !ok {
		return false, false
	}
	return direction == outcome, true
}
