package state

import (
	"io"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/polycopy/copybot/pkg/models"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s := NewStore(
		filepath.Join(dir, "trades.json"),
		filepath.Join(dir, "trade_history_full.json"),
		Limits{MaxDailyBets: 20, MaxDailyLoss: 30, BetAmount: 10},
		testLogger(),
	)
	return s
}

func makeTrade(ts int64, direction models.Direction, amount, entry float64) *models.Trade {
	return &models.Trade{
		Timestamp:  ts,
		MarketSlug: "btc-up-or-down-5m-" + strconv.FormatInt(ts, 10),
		Direction:  direction,
		Amount:     amount,
		EntryPrice: entry,
		Confidence: 0.6,
		Paper:      true,
		Strategy:   models.StrategyCopytrade,
		Status:     models.ExecSubmitted,
	}
}

func TestSettleTradeMath(t *testing.T) {
	s := newTestStore(t)

	win := makeTrade(1000, models.DirectionUp, 10, 0.5)
	if err := s.SettleTrade(win, models.DirectionUp); err != nil {
		t.Fatalf("settle win: %v", err)
	}
	if win.PnL != 10.0 {
		t.Errorf("win pnl = %v, want 10.0", win.PnL)
	}
	if win.FinalPrice == nil || *win.FinalPrice != 1.0 {
		t.Errorf("win final_price = %v, want 1.0", win.FinalPrice)
	}

	loss := makeTrade(1300, models.DirectionUp, 10, 0.5)
	if err := s.SettleTrade(loss, models.DirectionDown); err != nil {
		t.Fatalf("settle loss: %v", err)
	}
	if loss.PnL != -10.0 {
		t.Errorf("loss pnl = %v, want -10.0", loss.PnL)
	}
	if loss.FinalPrice == nil || *loss.FinalPrice != 0.0 {
		t.Errorf("loss final_price = %v, want 0.0", loss.FinalPrice)
	}

	if got := s.Bankroll(); got != 100.0 {
		t.Errorf("bankroll = %v, want 100.0 (win +10, loss -10)", got)
	}
}

func TestSettleTradeRejectsDoubleSettlement(t *testing.T) {
	s := newTestStore(t)

	tr := makeTrade(1000, models.DirectionUp, 10, 0.5)
	if err := s.SettleTrade(tr, models.DirectionUp); err != nil {
		t.Fatalf("first settle: %v", err)
	}
	before := s.Bankroll()

	if err := s.SettleTrade(tr, models.DirectionUp); err != ErrAlreadySettled {
		t.Errorf("second settle err = %v, want ErrAlreadySettled", err)
	}
	if s.Bankroll() != before {
		t.Errorf("bankroll changed on double settlement: %v -> %v", before, s.Bankroll())
	}
}

func TestSettleTradeRejectsFailedExecution(t *testing.T) {
	s := newTestStore(t)

	tr := makeTrade(1000, models.DirectionUp, 10, 0.5)
	tr.Status = models.ExecFailed

	if err := s.SettleTrade(tr, models.DirectionUp); err != ErrFailedExecution {
		t.Errorf("settle failed trade err = %v, want ErrFailedExecution", err)
	}
	if s.Bankroll() != 100.0 {
		t.Errorf("bankroll = %v, want untouched 100.0", s.Bankroll())
	}
}

func TestSettleClearsTransientFields(t *testing.T) {
	s := newTestStore(t)

	tr := makeTrade(1000, models.DirectionUp, 10, 0.5)
	price := 0.7
	unrealized := 4.0
	implied := models.DirectionUp
	tr.CurrentPrice = &price
	tr.UnrealizedPnL = &unrealized
	tr.ImpliedOutcome = &implied

	if err := s.SettleTrade(tr, models.DirectionUp); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if tr.CurrentPrice != nil || tr.UnrealizedPnL != nil || tr.ImpliedOutcome != nil {
		t.Error("transient fields survived settlement")
	}
}

func TestCanTradeFirstFailingCheckWins(t *testing.T) {
	s := newTestStore(t)
	s.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	s.state.LastResetDate = "2026-03-01"

	// Both the bet cap and the loss cap are breached; the bet cap is
	// checked first and must win.
	s.state.DailyBets = 20
	s.state.DailyPnL = -50

	ok, reason := s.CanTrade()
	if ok {
		t.Fatal("expected trading blocked")
	}
	if reason != "max daily bets reached (20)" {
		t.Errorf("reason = %q, want bet-cap reason", reason)
	}

	s.state.DailyBets = 0
	ok, reason = s.CanTrade()
	if ok || reason != "max daily loss reached ($30.00)" {
		t.Errorf("ok=%v reason=%q, want loss-cap reason", ok, reason)
	}

	s.state.DailyPnL = 0
	s.state.Bankroll = 5
	ok, reason = s.CanTrade()
	if ok || reason != "bankroll too low ($5.00)" {
		t.Errorf("ok=%v reason=%q, want bankroll reason", ok, reason)
	}

	s.state.Bankroll = 100
	ok, reason = s.CanTrade()
	if !ok || reason != "OK" {
		t.Errorf("ok=%v reason=%q, want allowed", ok, reason)
	}
}

func TestCanTradeLazyDailyReset(t *testing.T) {
	s := newTestStore(t)

	now := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	s.state.LastResetDate = "2026-03-01"
	s.state.DailyBets = 20
	s.state.DailyPnL = -12

	if ok, _ := s.CanTrade(); ok {
		t.Fatal("expected blocked before midnight")
	}

	// Same day: counters must not reset mid-day.
	now = time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	if ok, _ := s.CanTrade(); ok {
		t.Fatal("counters reset mid-day")
	}

	// Next UTC day: the first check resets both counters.
	now = time.Date(2026, 3, 2, 0, 1, 0, 0, time.UTC)
	ok, reason := s.CanTrade()
	if !ok {
		t.Fatalf("expected allowed after reset, got %q", reason)
	}
	if s.DailyBets() != 0 || s.DailyPnL() != 0 {
		t.Errorf("daily counters = (%d, %v), want zeroed", s.DailyBets(), s.DailyPnL())
	}
	if s.state.LastResetDate != "2026-03-02" {
		t.Errorf("last_reset_date = %q, want 2026-03-02", s.state.LastResetDate)
	}
}

func TestRecordTradeOnlyTouchesDailyBets(t *testing.T) {
	s := newTestStore(t)

	if err := s.RecordTrade(makeTrade(1000, models.DirectionUp, 10, 0.5)); err != nil {
		t.Fatalf("record: %v", err)
	}
	if s.DailyBets() != 1 {
		t.Errorf("daily_bets = %d, want 1", s.DailyBets())
	}
	if s.Bankroll() != 100.0 || s.DailyPnL() != 0 {
		t.Error("record_trade must not touch bankroll or daily pnl")
	}
}

func TestBankrollConservation(t *testing.T) {
	s := newTestStore(t)

	outcomes := []models.Direction{
		models.DirectionUp, models.DirectionDown, models.DirectionUp,
		models.DirectionDown, models.DirectionUp,
	}
	var sum float64
	for i, out := range outcomes {
		tr := makeTrade(int64(1000+i*300), models.DirectionUp, 10, 0.4)
		if err := s.RecordTrade(tr); err != nil {
			t.Fatalf("record: %v", err)
		}
		if err := s.SettleTrade(tr, out); err != nil {
			t.Fatalf("settle: %v", err)
		}
		sum += tr.PnL
	}

	want := 100.0 + sum
	if got := s.Bankroll(); got != want {
		t.Errorf("bankroll = %v, want starting + settled pnl = %v", got, want)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	s.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	s.CanTrade() // stamp last_reset_date

	first := makeTrade(1000, models.DirectionUp, 10, 0.4)
	second := makeTrade(1300, models.DirectionDown, 5, 0.6)
	wallet := "0xabc"
	first.CopiedFrom = &wallet
	for _, tr := range []*models.Trade{first, second} {
		if err := s.RecordTrade(tr); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if err := s.SettleTrade(first, models.DirectionUp); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if err := s.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded := NewStore(s.statePath, s.historyPath, s.limits, testLogger())
	if res := loaded.Load(); res != Loaded {
		t.Fatalf("load result = %v, want Loaded", res)
	}

	if loaded.Bankroll() != s.Bankroll() {
		t.Errorf("bankroll = %v, want %v", loaded.Bankroll(), s.Bankroll())
	}
	if loaded.DailyBets() != 2 || loaded.DailyPnL() != first.PnL {
		t.Errorf("counters = (%d, %v), want (2, %v)", loaded.DailyBets(), loaded.DailyPnL(), first.PnL)
	}
	if loaded.state.LastResetDate != "2026-03-01" {
		t.Errorf("last_reset_date = %q", loaded.state.LastResetDate)
	}

	trades := loaded.Trades()
	if len(trades) != 2 {
		t.Fatalf("trade count = %d, want 2", len(trades))
	}
	if trades[0].Timestamp != 1000 || trades[1].Timestamp != 1300 {
		t.Error("trade order not preserved")
	}
	if trades[0].Outcome == nil || *trades[0].Outcome != models.DirectionUp {
		t.Error("settled outcome lost in round trip")
	}

	pairs := loaded.HandledPairs()
	if _, ok := pairs[Pair{Wallet: "0xabc", MarketTS: 1000}]; !ok {
		t.Error("handled pair not derived from provenance after reload")
	}
}

func TestSaveTruncatesWorkingFile(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < WorkingTradeCap+5; i++ {
		s.state.Trades = append(s.state.Trades, makeTrade(int64(1000+i*300), models.DirectionUp, 1, 0.5))
	}
	if err := s.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded := NewStore(s.statePath, s.historyPath, s.limits, testLogger())
	loaded.Load()

	trades := loaded.Trades()
	if len(trades) != WorkingTradeCap {
		t.Fatalf("loaded %d trades, want %d", len(trades), WorkingTradeCap)
	}
	// The oldest five must be gone, the newest kept in order.
	if trades[0].Timestamp != int64(1000+5*300) {
		t.Errorf("first kept trade ts = %d, want %d", trades[0].Timestamp, 1000+5*300)
	}
	if trades[len(trades)-1].Timestamp != int64(1000+(WorkingTradeCap+4)*300) {
		t.Error("newest trade missing after truncation")
	}
}

func TestLoadMissingAndCorruptFiles(t *testing.T) {
	s := newTestStore(t)
	if res := s.Load(); res != Absent {
		t.Errorf("load result = %v, want Absent", res)
	}
	if s.Bankroll() != DefaultBankroll {
		t.Errorf("bankroll = %v, want default %v", s.Bankroll(), DefaultBankroll)
	}

	if err := os.WriteFile(s.statePath, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if res := s.Load(); res != Recovered {
		t.Errorf("load result = %v, want Recovered", res)
	}
	if s.Bankroll() != DefaultBankroll || len(s.Trades()) != 0 {
		t.Error("recovered state not defaulted")
	}
}

func TestLoadPreservesPersistedZeroBankroll(t *testing.T) {
	s := newTestStore(t)

	// An operator who went bust persists bankroll 0; a reload must not
	// silently refund the default.
	busted := []byte(`{"trades": [], "daily_bets": 0, "daily_pnl": 0, "last_reset_date": "2026-03-01", "bankroll": 0}`)
	if err := os.WriteFile(s.statePath, busted, 0o644); err != nil {
		t.Fatal(err)
	}
	if res := s.Load(); res != Loaded {
		t.Fatalf("load result = %v, want Loaded", res)
	}
	if s.Bankroll() != 0 {
		t.Errorf("bankroll = %v, want persisted 0", s.Bankroll())
	}
	if ok, reason := s.CanTrade(); ok || reason != "bankroll too low ($0.00)" {
		t.Errorf("ok=%v reason=%q, want busted bankroll blocked", ok, reason)
	}

	// A file that predates the bankroll field gets the default.
	legacy := []byte(`{"trades": [], "daily_bets": 0, "daily_pnl": 0, "last_reset_date": "2026-03-01"}`)
	if err := os.WriteFile(s.statePath, legacy, 0o644); err != nil {
		t.Fatal(err)
	}
	if res := s.Load(); res != Loaded {
		t.Fatalf("load result = %v, want Loaded", res)
	}
	if s.Bankroll() != DefaultBankroll {
		t.Errorf("bankroll = %v, want default for absent key", s.Bankroll())
	}
}

func TestMarkToMarket(t *testing.T) {
	s := newTestStore(t)

	tr := makeTrade(1000, models.DirectionUp, 10, 0.4)
	s.MarkToMarket(tr, 0.7)
	if tr.CurrentPrice == nil || *tr.CurrentPrice != 0.7 {
		t.Fatalf("current price = %v, want 0.7", tr.CurrentPrice)
	}
	// 25 shares at 0.70 against a $10 stake.
	if *tr.UnrealizedPnL != 7.5 {
		t.Errorf("unrealized = %v, want 7.5", *tr.UnrealizedPnL)
	}
	if *tr.ImpliedOutcome != models.DirectionUp {
		t.Errorf("implied = %v, want up", *tr.ImpliedOutcome)
	}

	// Below 0.5 the market is leaning against the position.
	s.MarkToMarket(tr, 0.3)
	if *tr.ImpliedOutcome != models.DirectionDown {
		t.Errorf("implied = %v, want down", *tr.ImpliedOutcome)
	}
}

func TestMarkToMarketSkipsSettledAndFailed(t *testing.T) {
	s := newTestStore(t)

	settled := makeTrade(1000, models.DirectionUp, 10, 0.4)
	if err := s.SettleTrade(settled, models.DirectionUp); err != nil {
		t.Fatal(err)
	}
	s.MarkToMarket(settled, 0.7)
	if settled.CurrentPrice != nil {
		t.Error("settled trade got transient fields back")
	}

	failed := makeTrade(1300, models.DirectionUp, 10, 0.4)
	failed.Status = models.ExecFailed
	s.MarkToMarket(failed, 0.7)
	if failed.CurrentPrice != nil {
		t.Error("failed trade marked to market")
	}
}

func TestPendingSnapshotIsolatedFromMutation(t *testing.T) {
	s := newTestStore(t)

	tr := makeTrade(1000, models.DirectionUp, 10, 0.4)
	if err := s.RecordTrade(tr); err != nil {
		t.Fatal(err)
	}

	snapshot := s.PendingSnapshot()
	if len(snapshot) != 1 {
		t.Fatalf("snapshot = %d trades, want 1", len(snapshot))
	}

	// Settling the live record must not reach into the copy.
	if err := s.SettleTrade(tr, models.DirectionDown); err != nil {
		t.Fatal(err)
	}
	if snapshot[0].Settled() || snapshot[0].PnL != 0 {
		t.Error("snapshot shares mutable state with the live record")
	}

	if got := s.PendingSnapshot(); len(got) != 0 {
		t.Errorf("snapshot after settlement = %d trades, want 0", len(got))
	}
}

func TestPendingTradesExcludesSettledAndFailed(t *testing.T) {
	s := newTestStore(t)

	pending := makeTrade(1000, models.DirectionUp, 10, 0.5)
	settled := makeTrade(1300, models.DirectionUp, 10, 0.5)
	failed := makeTrade(1600, models.DirectionUp, 10, 0.5)
	failed.Status = models.ExecFailed

	for _, tr := range []*models.Trade{pending, settled, failed} {
		if err := s.RecordTrade(tr); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.SettleTrade(settled, models.DirectionDown); err != nil {
		t.Fatal(err)
	}

	got := s.PendingTrades()
	if len(got) != 1 || got[0] != pending {
		t.Errorf("pending = %v, want only the open submitted trade", got)
	}
}
