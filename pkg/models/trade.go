package models

// Direction is the side of a 5-minute binary market.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// Opposite returns the other side of the market.
func (d Direction) Opposite() Direction {
	if d == DirectionUp {
		return DirectionDown
	}
	return DirectionUp
}

// ExecStatus records whether the order behind a trade actually reached the
// book. Failed trades stay in history for the audit trail but never enter
// the settlement pipeline.
type ExecStatus string

const (
	ExecSubmitted ExecStatus = "submitted"
	ExecFailed    ExecStatus = "failed"
)

// Strategy labels for Trade.Strategy.
const (
	StrategyStreak    = "streak"
	StrategyCopytrade = "copytrade"
)

// Trade is the record of a single bet, paper or live. A trade is pending
// until Outcome is set; the transient fields (CurrentPrice, UnrealizedPnL,
// ImpliedOutcome) are only meaningful while pending and are stripped at
// settlement.
type Trade struct {
	// Identity and economics
	Timestamp    int64      `json:"timestamp"` // market 5-minute epoch key
	MarketSlug   string     `json:"market_slug"`
	Direction    Direction  `json:"direction"`
	Amount       float64    `json:"amount"`      // USD staked
	EntryPrice   float64    `json:"entry_price"` // price paid per share, (0,1]
	StreakLength int        `json:"streak_length"`
	Confidence   float64    `json:"confidence"`
	Paper        bool       `json:"paper"`
	Strategy     string     `json:"strategy"`
	Status       ExecStatus `json:"status"`

	// Resolution
	Outcome    *Direction `json:"outcome"`
	PnL        float64    `json:"pnl"`
	OrderID    *string    `json:"order_id"`
	FinalPrice *float64   `json:"final_price,omitempty"` // 1.0 win, 0.0 loss
	Fee        float64    `json:"fee,omitempty"`

	// Copytrade provenance (set together or not at all)
	CopiedFrom        *string    `json:"copied_from,omitempty"`
	TraderName        *string    `json:"trader_name,omitempty"`
	TraderDirection   *Direction `json:"trader_direction,omitempty"`
	TraderAmount      *float64   `json:"trader_amount,omitempty"`
	TraderPrice       *float64   `json:"trader_price,omitempty"`
	TraderTimestamp   *int64     `json:"trader_timestamp,omitempty"`
	ExecutedAt        *int64     `json:"executed_at,omitempty"` // unix ms
	CopyDelayMs       *int64     `json:"copy_delay_ms,omitempty"`
	MarketPriceAtCopy *float64   `json:"market_price_at_copy,omitempty"`

	// Transient fields, pending trades only
	CurrentPrice   *float64   `json:"current_price,omitempty"`
	UnrealizedPnL  *float64   `json:"unrealized_pnl,omitempty"`
	ImpliedOutcome *Direction `json:"implied_outcome,omitempty"`
}

// Settled reports whether the trade's market outcome has been finalized.
func (t *Trade) Settled() bool {
	return t.Outcome != nil
}

// Won reports whether a settled trade was on the winning side. False for
// pending trades.
func (t *Trade) Won() bool {
	return t.Outcome != nil && t.Direction == *t.Outcome
}

// Shares is the position size implied by the stake and entry price.
func (t *Trade) Shares() float64 {
	if t.EntryPrice <= 0 {
		return 0
	}
	return t.Amount / t.EntryPrice
}

// ClearTransient strips the pending-only fields. Called at settlement so a
// persisted record is either pending (transients optional) or settled
// (transients absent).
func (t *Trade) ClearTransient() {
	t.CurrentPrice = nil
	t.UnrealizedPnL = nil
	t.ImpliedOutcome = nil
}

// NormalizeEntryPrice returns the defensive default of 0.5 when a binary
// market quote is non-positive.
func NormalizeEntryPrice(p float64) float64 {
	if p <= 0 {
		return 0.5
	}
	return p
}

// CopyMeta carries the provenance of a copied trade through to the Trade
// record.
type CopyMeta struct {
	Wallet          string
	TraderName      string
	TraderDirection Direction
	TraderAmount    float64
	TraderPrice     float64
	TraderTimestamp int64 // unix seconds, the trader's own trade time
	CopyDelayMs     int64
}

// Apply stamps the provenance fields onto a trade and tags it as a copy.
func (m *CopyMeta) Apply(t *Trade) {
	if m == nil {
		return
	}
	t.Strategy = StrategyCopytrade
	t.CopiedFrom = &m.Wallet
	t.TraderName = &m.TraderName
	dir := m.TraderDirection
	t.TraderDirection = &dir
	amt := m.TraderAmount
	t.TraderAmount = &amt
	price := m.TraderPrice
	t.TraderPrice = &price
	ts := m.TraderTimestamp
	t.TraderTimestamp = &ts
	delay := m.CopyDelayMs
	t.CopyDelayMs = &delay
}
