// Package strategy contains the trigger evaluator and the per-cycle decision
// engine. Everything here is synchronous and free of I/O; the oracle call is
// the only external dependency and it is failure-proof by contract.
package strategy

import (
	"fmt"

	"dcapilot/config"
	"dcapilot/internal/models"
	"dcapilot/internal/portfolio"
)

// Trigger is one evaluated condition with its audit reason.
type Trigger struct {
	Fired  bool
	Reason string
}

// StopHit reports an open lot whose stop level has been breached.
type StopHit struct {
	Position models.Position
	Reason   string
}

// DCADrop fires when the price has dropped at least the configured
// percentage below the reference price. The reference is the last buy price,
// or SMA20 before any purchase so that a first entry is judged against a
// smoothed baseline instead of the instantaneous price.
func DCADrop(snap models.MarketSnapshot, led *portfolio.Ledger, s config.Strategy) Trigger {
	if !s.EnableDCA {
		return Trigger{Reason: "dca disabled"}
	}
	reference, ok := led.LastBuyPrice()
	source := "last buy"
	if !ok {
		if !snap.SMA20.Valid {
			return Trigger{Reason: "no reference price: no prior buy and sma20 unavailable"}
		}
		reference = snap.SMA20.Value
		source = "sma20"
	}
	if reference <= 0 {
		return Trigger{Reason: "reference price is zero"}
	}
	drop := (reference - snap.Price) / reference * 100
	if drop >= s.DCAPercentage {
		return Trigger{
			Fired:  true,
			Reason: fmt.Sprintf("price %.2f is %.2f%% below %s reference %.2f (trigger %.2f%%)", snap.Price, drop, source, reference, s.DCAPercentage),
		}
	}
	return Trigger{Reason: fmt.Sprintf("drop %.2f%% below %s reference %.2f under trigger %.2f%%", drop, source, reference, s.DCAPercentage)}
}

// RSIOversold fires when RSI(14) is at or below the oversold threshold. An
// unavailable RSI cannot fire.
func RSIOversold(snap models.MarketSnapshot, s config.Strategy) Trigger {
	if !snap.RSI14.Valid {
		return Trigger{Reason: "rsi14 unavailable"}
	}
	if snap.RSI14.Value <= s.RSIOversold {
		return Trigger{Fired: true, Reason: fmt.Sprintf("rsi %.1f at or below oversold %.1f", snap.RSI14.Value, s.RSIOversold)}
	}
	return Trigger{Reason: fmt.Sprintf("rsi %.1f above oversold %.1f", snap.RSI14.Value, s.RSIOversold)}
}

// StopLossHits returns every open lot whose armed stop is at or above the
// current price. Lots without an armed stop never fire.
func StopLossHits(snap models.MarketSnapshot, led *portfolio.Ledger, s config.Strategy) []StopHit {
	if !s.EnableATRStops {
		return nil
	}
	var hits []StopHit
	for _, p := range led.OpenPositions() {
		if p.StopPrice <= 0 {
			continue
		}
		if snap.Price <= p.StopPrice {
			hits = append(hits, StopHit{
				Position: p,
				Reason:   fmt.Sprintf("price %.2f at or below stop %.2f (entry %.2f)", snap.Price, p.StopPrice, p.EntryPrice),
			})
		}
	}
	return hits
}

// DrawdownSafeguard fires when the tradable portfolio value has fallen below
// the configured share of the budget. While fired, every BUY and PROFIT is
// suppressed for the cycle.
func DrawdownSafeguard(snap models.MarketSnapshot, led *portfolio.Ledger, s config.Strategy) Trigger {
	floor := s.Budget * (1 - s.MaxDrawdownPct/100)
	value := led.TotalValue(snap.Price)
	if value < floor {
		return Trigger{Fired: true, Reason: fmt.Sprintf("portfolio value %.2f below drawdown floor %.2f (%.1f%% of budget)", value, floor, 100-s.MaxDrawdownPct)}
	}
	return Trigger{Reason: fmt.Sprintf("portfolio value %.2f above drawdown floor %.2f", value, floor)}
}
