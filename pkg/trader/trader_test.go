package trader

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/polycopy/copybot/pkg/models"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testMarket() *models.Market {
	return &models.Market{
		Timestamp:       1700000100,
		Slug:            "btc-up-or-down-5m-1700000100",
		Title:           "Bitcoin Up or Down - 5 Minute",
		AcceptingOrders: true,
		UpPrice:         0.4,
		DownPrice:       0.6,
		UpTokenID:       "token-up",
		DownTokenID:     "token-down",
	}
}

func TestPaperTraderPlaceBet(t *testing.T) {
	p := NewPaperTrader(testLogger())

	trade, err := p.PlaceBet(context.Background(), testMarket(), models.DirectionUp, 10, 0.6, 0, nil)
	if err != nil {
		t.Fatalf("place bet: %v", err)
	}
	if trade.EntryPrice != 0.4 {
		t.Errorf("entry price = %v, want quoted 0.4", trade.EntryPrice)
	}
	if !trade.Paper || trade.Status != models.ExecSubmitted {
		t.Errorf("paper=%v status=%v", trade.Paper, trade.Status)
	}
	if trade.Strategy != models.StrategyStreak {
		t.Errorf("strategy = %q, want streak without copy provenance", trade.Strategy)
	}
	if trade.MarketPriceAtCopy == nil || *trade.MarketPriceAtCopy != 0.4 {
		t.Error("quoted price at placement not recorded")
	}
}

func TestPaperTraderEntryPriceFallback(t *testing.T) {
	p := NewPaperTrader(testLogger())
	market := testMarket()
	market.UpPrice = 0 // no quote yet

	trade, err := p.PlaceBet(context.Background(), market, models.DirectionUp, 10, 0.6, 0, nil)
	if err != nil {
		t.Fatalf("place bet: %v", err)
	}
	if trade.EntryPrice != 0.5 {
		t.Errorf("entry price = %v, want 0.5 fallback", trade.EntryPrice)
	}
	// The raw quote is kept separately so the fallback is visible later.
	if trade.MarketPriceAtCopy == nil || *trade.MarketPriceAtCopy != 0 {
		t.Error("raw quote not preserved alongside the fallback entry price")
	}
}

func TestPaperTraderCopyProvenance(t *testing.T) {
	p := NewPaperTrader(testLogger())
	meta := &models.CopyMeta{
		Wallet:          "0xabc",
		TraderName:      "whale",
		TraderDirection: models.DirectionUp,
		TraderAmount:    250,
		TraderPrice:     0.38,
		TraderTimestamp: 1700000050,
		CopyDelayMs:     4200,
	}

	trade, err := p.PlaceBet(context.Background(), testMarket(), models.DirectionUp, 10, 0.6, 0, meta)
	if err != nil {
		t.Fatalf("place bet: %v", err)
	}
	if trade.Strategy != models.StrategyCopytrade {
		t.Errorf("strategy = %q, want copytrade", trade.Strategy)
	}
	if trade.CopiedFrom == nil || *trade.CopiedFrom != "0xabc" {
		t.Error("copied_from not stamped")
	}
	if trade.TraderPrice == nil || *trade.TraderPrice != 0.38 {
		t.Error("trader price not stamped")
	}
	if trade.CopyDelayMs == nil || *trade.CopyDelayMs != 4200 {
		t.Error("copy delay not stamped")
	}
}

func TestPaperTraderRejectsNonPositiveAmount(t *testing.T) {
	p := NewPaperTrader(testLogger())
	if _, err := p.PlaceBet(context.Background(), testMarket(), models.DirectionUp, 0, 0.6, 0, nil); err == nil {
		t.Error("expected error for zero amount")
	}
}

// fakeSubmitter stands in for the venue client in live execution tests.
type fakeSubmitter struct {
	canTrade bool
	orderID  string
	err      error

	gotToken string
	gotPrice float64
	gotSize  float64
}

func (f *fakeSubmitter) PostOrder(ctx context.Context, tokenID string, price, size float64) (string, error) {
	f.gotToken = tokenID
	f.gotPrice = price
	f.gotSize = size
	if f.err != nil {
		return "", f.err
	}
	return f.orderID, nil
}

func (f *fakeSubmitter) CanTrade() bool { return f.canTrade }

func TestNewLiveTraderRequiresCredentials(t *testing.T) {
	if _, err := NewLiveTrader(&fakeSubmitter{canTrade: false}, testLogger()); err == nil {
		t.Error("expected error without credentials")
	}
}

func TestLiveTraderPlaceBet(t *testing.T) {
	sub := &fakeSubmitter{canTrade: true, orderID: "ord-123"}
	l, err := NewLiveTrader(sub, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	trade, err := l.PlaceBet(context.Background(), testMarket(), models.DirectionDown, 10, 0.6, 0, nil)
	if err != nil {
		t.Fatalf("place bet: %v", err)
	}
	if sub.gotToken != "token-down" {
		t.Errorf("token = %q, want token-down", sub.gotToken)
	}
	// $10 at 0.60 is 16.666... shares, rounded to two decimals.
	if sub.gotSize != 16.67 {
		t.Errorf("size = %v, want 16.67", sub.gotSize)
	}
	if trade.OrderID == nil || *trade.OrderID != "ord-123" {
		t.Error("order id not recorded")
	}
	if trade.Paper || trade.Status != models.ExecSubmitted {
		t.Errorf("paper=%v status=%v", trade.Paper, trade.Status)
	}
}

func TestLiveTraderFailedSubmission(t *testing.T) {
	sub := &fakeSubmitter{canTrade: true, err: errors.New("insufficient balance")}
	l, err := NewLiveTrader(sub, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	trade, err := l.PlaceBet(context.Background(), testMarket(), models.DirectionUp, 10, 0.6, 0, nil)
	if err != nil {
		t.Fatalf("failed submission must not error the iteration: %v", err)
	}
	if trade.Status != models.ExecFailed {
		t.Errorf("status = %v, want failed", trade.Status)
	}
	if trade.OrderID == nil || !strings.HasPrefix(*trade.OrderID, "FAILED:") {
		t.Errorf("order id = %v, want FAILED: sentinel", trade.OrderID)
	}
}

func TestLiveTraderMissingToken(t *testing.T) {
	sub := &fakeSubmitter{canTrade: true, orderID: "ord-1"}
	l, err := NewLiveTrader(sub, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	market := testMarket()
	market.UpTokenID = ""
	if _, err := l.PlaceBet(context.Background(), market, models.DirectionUp, 10, 0.6, 0, nil); err == nil {
		t.Error("expected error when the side has no token")
	}
	if sub.gotToken != "" {
		t.Error("order submitted despite missing token")
	}
}
