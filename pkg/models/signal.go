package models

// Signal sides as reported by the venue's trade feed.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// CopySignal is a detected trade by a monitored wallet, eligible for
// replication.
type CopySignal struct {
	Wallet     string
	TraderName string
	Side       string // BUY or SELL
	Direction  Direction
	Price      float64
	USDCAmount float64
	TradeTS    int64 // unix seconds, when the trader placed the bet
	MarketTS   int64 // the 5-minute market epoch key
}

// Statistics aggregates the full trade history for reporting.
type Statistics struct {
	TotalTrades   int `json:"total_trades"`
	SettledTrades int `json:"settled_trades"`
	PendingTrades int `json:"pending_trades"`
	FailedTrades  int `json:"failed_trades"`
	Wins          int `json:"wins"`
	Losses        int `json:"losses"`

	WinRate          float64 `json:"win_rate"` // percent
	RealizedPnL      float64 `json:"realized_pnl"`
	UnrealizedPnL    float64 `json:"unrealized_pnl"`
	TotalPnL         float64 `json:"total_pnl"`
	TotalGrossProfit float64 `json:"total_gross_profit"`
	TotalFeesPaid    float64 `json:"total_fees_paid"`

	AvgWin      float64 `json:"avg_win"`
	AvgLoss     float64 `json:"avg_loss"`
	LargestWin  float64 `json:"largest_win"`
	LargestLoss float64 `json:"largest_loss"`

	AvgFeePct         float64 `json:"avg_fee_pct"`
	AvgSlippagePct    float64 `json:"avg_slippage_pct"`
	AvgDelayImpactPct float64 `json:"avg_delay_impact_pct"`

	Bankroll float64 `json:"bankroll"`
}
