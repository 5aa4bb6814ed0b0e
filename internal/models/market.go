package models

import "time"

// Candle is one OHLCV bar. Series handed to the indicator builder must be
// ascending by timestamp.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Indicator is an optional indicator value. A value computed from fewer bars
// than its window is invalid, and an invalid indicator must never be read as
// zero: triggers that depend on it simply cannot fire.
type Indicator struct {
	Value float64 `json:"value"`
	Valid bool    `json:"valid"`
}

func NewIndicator(v float64) Indicator {
	return Indicator{Value: v, Valid: true}
}

// MarketSnapshot is the immutable per-cycle feature vector: one bar plus the
// trailing-window indicator set computed up to and including that bar.
type MarketSnapshot struct {
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"` // close of the snapshot bar
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`

	ATR14          Indicator `json:"atr_14"`
	RSI14          Indicator `json:"rsi_14"`
	SMA20          Indicator `json:"sma_20"`
	SMA50          Indicator `json:"sma_50"`
	EMA12          Indicator `json:"ema_12"`
	EMA26          Indicator `json:"ema_26"`
	MACD           Indicator `json:"macd"`
	MACDSignal     Indicator `json:"macd_signal"`
	BollingerUpper Indicator `json:"bollinger_upper"`
	BollingerMid   Indicator `json:"bollinger_mid"`
	BollingerLower Indicator `json:"bollinger_lower"`
	VolumeSMA20    Indicator `json:"volume_sma_20"`
}
