// Package oracle wraps the external decision recommendation behind a narrow
// contract: Evaluate never fails and never blocks past its timeout. Whatever
// goes wrong downstream (transport, malformed JSON, out-of-range fields), the
// caller sees a typed result or the deterministic HOLD fallback.
package oracle

import (
	"context"
	"errors"
	"time"

	"dcapilot/internal/models"
)

// ErrOracleUnavailable marks transport or parse failures inside adapters. It
// never escapes Evaluate; it exists for logging and tests.
var ErrOracleUnavailable = errors.New("oracle: unavailable")

// Context is everything an oracle may look at for one cycle.
type Context struct {
	Snapshot        models.MarketSnapshot
	Cash            float64
	BTC             float64
	SecuredProfit   float64
	ProfitThreshold float64
	TotalValue      float64
	LastBuyPrice    float64
	HasLastBuy      bool
	Positions       []models.Position
	RecentTrades    []models.TradeRecord
}

// Oracle produces one recommendation per cycle. Implementations must be
// failure-proof: on any internal error they return Fallback().
type Oracle interface {
	Evaluate(ctx context.Context, octx Context) models.OracleResult
	Name() string
}

// Fallback is the deterministic result used whenever the oracle cannot be
// consulted.
func Fallback() models.OracleResult {
	return models.OracleResult{
		Action:     models.ActionHold,
		Confidence: 0,
		Rationale:  "oracle unavailable",
	}
}

// Sanitize clamps a raw result into its declared ranges. Only the action is
// coerced (to HOLD); everything else is clamped, never rejected.
func Sanitize(raw models.OracleResult) models.OracleResult {
	out := raw
	out.Action = models.ParseAction(string(raw.Action))
	out.Confidence = clampInt(raw.Confidence, 0, 100)
	if out.BuyAmount < 0 {
		out.BuyAmount = 0
	}
	if out.Quantity < 0 {
		out.Quantity = 0
	}
	if out.ProfitAmount < 0 {
		out.ProfitAmount = 0
	}
	// Zero out sizing fields that don't belong to the action.
	switch out.Action {
	case models.ActionBuy:
		out.Quantity, out.ProfitAmount = 0, 0
	case models.ActionSell:
		out.BuyAmount, out.ProfitAmount = 0, 0
	case models.ActionProfit:
		out.BuyAmount, out.Quantity = 0, 0
	default:
		out.BuyAmount, out.Quantity, out.ProfitAmount = 0, 0, 0
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// withTimeout bounds an oracle call; a zero timeout means no bound.
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}
