package oracle

import (
	"context"
	"fmt"

	"dcapilot/config"
	"dcapilot/internal/models"
)

// RuleOracle is the deterministic stand-in used when the LLM is disabled and
// as the default oracle for backtests. It mirrors the trigger family with
// conservative sizing and leaves final caps to the engine.
type RuleOracle struct {
	strategy config.Strategy
}

func NewRuleOracle(strategy config.Strategy) *RuleOracle {
	return &RuleOracle{strategy: strategy}
}

func (r *RuleOracle) Name() string { return "rules" }

func (r *RuleOracle) Evaluate(_ context.Context, octx Context) models.OracleResult {
	snap := octx.Snapshot

	// Lock in gains first: above the profit threshold there is realized
	// headroom worth securing.
	if excess := octx.TotalValue - octx.ProfitThreshold; excess > 0 && octx.Cash > 0 {
		amount := excess * r.strategy.ProfitSecurePct / 100
		if amount > octx.Cash {
			amount = octx.Cash
		}
		if amount > 0 {
			return Sanitize(models.OracleResult{
				Action:       models.ActionProfit,
				ProfitAmount: amount,
				Confidence:   70,
				Rationale:    fmt.Sprintf("tradable value %.2f exceeds threshold %.2f", octx.TotalValue, octx.ProfitThreshold),
			})
		}
	}

	// Overbought with holdings: trim the position.
	if snap.RSI14.Valid && snap.RSI14.Value >= r.strategy.RSIOverbought && octx.BTC > 0 {
		return Sanitize(models.OracleResult{
			Action:     models.ActionSell,
			Quantity:   octx.BTC / 2,
			Confidence: 65,
			Rationale:  fmt.Sprintf("rsi %.1f overbought (>= %.1f)", snap.RSI14.Value, r.strategy.RSIOverbought),
		})
	}

	// Oversold or a configured dip: accumulate.
	oversold := snap.RSI14.Valid && snap.RSI14.Value <= r.strategy.RSIOversold
	dip := false
	reference := 0.0
	if octx.HasLastBuy {
		reference = octx.LastBuyPrice
	} else if snap.SMA20.Valid {
		reference = snap.SMA20.Value
	}
	if reference > 0 {
		drop := (reference - snap.Price) / reference * 100
		dip = drop >= r.strategy.DCAPercentage
	}
	if oversold || dip {
		confidence := 60
		if oversold && dip {
			confidence = 80
		}
		return Sanitize(models.OracleResult{
			Action:     models.ActionBuy,
			BuyAmount:  r.strategy.Budget * r.strategy.PositionSizePct / 100,
			Confidence: confidence,
			Rationale:  fmt.Sprintf("dip/oversold entry (rsi oversold=%v, dca dip=%v)", oversold, dip),
		})
	}

	return Sanitize(models.OracleResult{
		Action:     models.ActionHold,
		Confidence: 55,
		Rationale:  "no rule fired",
	})
}
