package models

import "time"

// PositionStatus is the lifecycle of an open lot.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "OPEN"
	PositionClosed PositionStatus = "CLOSED"
)

// Position is one open lot created by a BUY. Partial sells reduce Quantity in
// place; a full sell flips Status to CLOSED. StopPrice is derived from the ATR
// at entry and only ever ratchets upward afterwards.
type Position struct {
	OpenedAt   time.Time      `json:"opened_at"`
	EntryPrice float64        `json:"entry_price"`
	Quantity   float64        `json:"quantity"`
	ATRAtEntry float64        `json:"atr_at_entry"`
	StopPrice  float64        `json:"stop_price"` // zero when no stop is armed
	Status     PositionStatus `json:"status"`
}

// TradeRecord is one append-only audit log entry. Suppressed and downgraded
// actions are recorded as HOLD with the reason, so a cycle always leaves a
// trace of why something (or nothing) happened.
type TradeRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Type      Action    `json:"type"`
	Price     float64   `json:"price"`
	Quantity  float64   `json:"quantity"`
	USDAmount float64   `json:"usd_amount"`

	// Balances after the operation.
	CashAfter    float64 `json:"cash_after"`
	BTCAfter     float64 `json:"btc_after"`
	SecuredAfter float64 `json:"secured_after"`

	// RealizedPnL is meaningful for SELL and PROFIT records only.
	RealizedPnL float64 `json:"realized_pnl,omitempty"`

	// DailyPnL is backtest attribution: every record of the same UTC day
	// carries that day's portfolio value change.
	DailyPnL float64 `json:"daily_pnl,omitempty"`

	Reason string `json:"reason,omitempty"`
}
