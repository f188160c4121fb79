// Package state owns the persistent trading state: bankroll, daily risk
// counters, and the trade history, with the settlement and reporting logic
// built on top of it.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/polycopy/copybot/pkg/models"
)

// WorkingTradeCap bounds the trade list kept in the working state file. The
// full-history file is unbounded.
const WorkingTradeCap = 200

// DefaultBankroll is the starting bankroll for a fresh state.
const DefaultBankroll = 100.0

// Limits are the daily risk-gate thresholds.
type Limits struct {
	MaxDailyBets int
	MaxDailyLoss float64
	BetAmount    float64
}

// TradingState is the persisted aggregate, one per running bot.
type TradingState struct {
	Trades        []*models.Trade `json:"trades"`
	DailyBets     int             `json:"daily_bets"`
	DailyPnL      float64         `json:"daily_pnl"`
	LastResetDate string          `json:"last_reset_date"`
	Bankroll      float64         `json:"bankroll"`
}

// LoadResult tells the caller how state hydration went, so an operator is
// never silently reset to defaults.
type LoadResult int

const (
	// Loaded means the working file was read successfully.
	Loaded LoadResult = iota
	// Recovered means the working file existed but was malformed; defaults
	// were used instead.
	Recovered
	// Absent means no working file existed; defaults were used.
	Absent
)

func (r LoadResult) String() string {
	switch r {
	case Loaded:
		return "loaded"
	case Recovered:
		return "recovered"
	default:
		return "absent"
	}
}

// Pair identifies one (wallet, market) combination that has already been
// handled, for copy deduplication.
type Pair struct {
	Wallet   string
	MarketTS int64
}

// ErrAlreadySettled is returned when settlement is attempted twice on the
// same trade.
var ErrAlreadySettled = errors.New("trade already settled")

// ErrFailedExecution is returned when settlement is attempted on a trade
// whose order never executed.
var ErrFailedExecution = errors.New("trade execution failed, not settleable")

// Store wraps TradingState behind a lock. The orchestration loop is the only
// writer; the HTTP status server reads concurrently.
type Store struct {
	mu          sync.RWMutex
	state       TradingState
	statePath   string
	historyPath string
	limits      Limits
	log         *logrus.Logger
	now         func() time.Time
}

// NewStore creates a store with default (unloaded) state.
func NewStore(statePath, historyPath string, limits Limits, log *logrus.Logger) *Store {
	if log == nil {
		log = logrus.New()
	}
	return &Store{
		state:       TradingState{Bankroll: DefaultBankroll},
		statePath:   statePath,
		historyPath: historyPath,
		limits:      limits,
		log:         log,
		now:         time.Now,
	}
}

// Load hydrates the store from the working file. Missing or malformed
// storage degrades to defaults; the result tells the caller which path was
// taken.
func (s *Store) Load() LoadResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.statePath)
	if err != nil {
		s.state = TradingState{Bankroll: DefaultBankroll}
		return Absent
	}

	var loaded TradingState
	if err := json.Unmarshal(data, &loaded); err != nil {
		s.log.WithError(err).WithField("path", s.statePath).
			Warn("State file malformed, starting from defaults")
		s.state = TradingState{Bankroll: DefaultBankroll}
		return Recovered
	}
	// Default the bankroll only when the key is absent from the file; a
	// persisted zero is a real (busted) bankroll and must survive a reload.
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err == nil {
		if _, ok := keys["bankroll"]; !ok {
			loaded.Bankroll = DefaultBankroll
		}
	}
	s.state = loaded
	return Loaded
}

// Save writes the working file, truncating the trade list to the most recent
// WorkingTradeCap entries. A full-state overwrite, so each write is
// idempotent.
func (s *Store) Save() error {
	s.mu.RLock()
	snapshot := s.state
	if len(snapshot.Trades) > WorkingTradeCap {
		snapshot.Trades = snapshot.Trades[len(snapshot.Trades)-WorkingTradeCap:]
	}
	data, err := json.MarshalIndent(&snapshot, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := os.WriteFile(s.statePath, data, 0o644); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	return nil
}

// CanTrade runs the daily risk gate. It first lazily resets the daily
// counters on a UTC date change, then returns the first failing check in
// order: bet cap, loss cap, bankroll floor.
func (s *Store) CanTrade() (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.resetDailyIfNeeded()

	if s.state.DailyBets >= s.limits.MaxDailyBets {
		return false, fmt.Sprintf("max daily bets reached (%d)", s.limits.MaxDailyBets)
	}
	if s.state.DailyPnL <= -s.limits.MaxDailyLoss {
		return false, fmt.Sprintf("max daily loss reached ($%.2f)", s.limits.MaxDailyLoss)
	}
	if s.state.Bankroll < s.limits.BetAmount {
		return false, fmt.Sprintf("bankroll too low ($%.2f)", s.state.Bankroll)
	}
	return true, "OK"
}

// resetDailyIfNeeded zeroes the daily counters the first time any risk check
// runs after the UTC date changes. Caller holds the write lock.
func (s *Store) resetDailyIfNeeded() {
	today := s.now().UTC().Format("2006-01-02")
	if s.state.LastResetDate != today {
		s.state.DailyBets = 0
		s.state.DailyPnL = 0
		s.state.LastResetDate = today
	}
}

// RecordTrade appends a placed trade and increments the daily bet counter.
// Bankroll and daily PnL are only touched at settlement. The trade is also
// appended to the unbounded full-history file.
func (s *Store) RecordTrade(t *models.Trade) error {
	s.mu.Lock()
	s.state.Trades = append(s.state.Trades, t)
	s.state.DailyBets++
	s.mu.Unlock()

	if err := s.appendHistory(t); err != nil {
		return fmt.Errorf("append full history: %w", err)
	}
	return nil
}

// SettleTrade finalizes a trade's outcome and PnL and applies the PnL to the
// bankroll and daily counter. A winning share pays out $1, so holding
// amount/entry_price shares yields that many dollars net of the stake.
// Settling twice, or settling a failed execution, is rejected.
func (s *Store) SettleTrade(t *models.Trade, outcome models.Direction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.Outcome != nil {
		return ErrAlreadySettled
	}
	if t.Status == models.ExecFailed {
		return ErrFailedExecution
	}

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

	s.state.DailyPnL += t.PnL
	s.state.Bankroll += t.PnL
	return nil
}

// MarkToMarket fills the transient pricing fields on a pending trade from
// the latest traded price. Holds the write lock so concurrent readers never
// see a half-written refresh. No-op for settled or failed trades.
func (s *Store) MarkToMarket(t *models.Trade, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.Outcome != nil || t.Status == models.ExecFailed {
		return
	}
	current := price
	unrealized := t.Shares()*price - t.Amount
	implied := t.Direction
	if price < 0.5 {
		implied = t.Direction.Opposite()
	}
	t.CurrentPrice = &current
	t.UnrealizedPnL = &unrealized
	t.ImpliedOutcome = &implied
}

// SetBankroll applies an operator override, used at startup after load.
func (s *Store) SetBankroll(v float64) {
	s.mu.Lock()
	s.state.Bankroll = v
	s.mu.Unlock()
}

// Bankroll returns the current tracked equity.
func (s *Store) Bankroll() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Bankroll
}

// DailyBets returns today's bet count.
func (s *Store) DailyBets() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.DailyBets
}

// DailyPnL returns today's realized PnL.
func (s *Store) DailyPnL() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.DailyPnL
}

// Trades returns the in-memory trade list. The caller must not mutate it.
func (s *Store) Trades() []*models.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Trades
}

// PendingTrades returns the trades awaiting settlement: outcome unknown and
// execution not failed. Used to rebuild the loop's pending list after a
// restart.
func (s *Store) PendingTrades() []*models.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var pending []*models.Trade
	for _, t := range s.state.Trades {
		if !t.Settled() && t.Status != models.ExecFailed {
			pending = append(pending, t)
		}
	}
	return pending
}

// PendingSnapshot returns value copies of the pending trades, taken under
// the read lock so they are safe to serialize after it is released.
func (s *Store) PendingSnapshot() []models.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot := make([]models.Trade, 0, len(s.state.Trades))
	for _, t := range s.state.Trades {
		if !t.Settled() && t.Status != models.ExecFailed {
			snapshot = append(snapshot, *t)
		}
	}
	return snapshot
}

// HandledPairs derives the already-copied (wallet, market) pairs from the
// provenance fields of persisted trades, so deduplication survives restarts.
func (s *Store) HandledPairs() map[Pair]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pairs := make(map[Pair]struct{})
	for _, t := range s.state.Trades {
		if t.CopiedFrom != nil {
			pairs[Pair{Wallet: *t.CopiedFrom, MarketTS: t.Timestamp}] = struct{}{}
		}
	}
	return pairs
}
