package strategy

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"dcapilot/config"
	"dcapilot/internal/models"
	"dcapilot/internal/oracle"
	"dcapilot/internal/portfolio"
)

// Engine merges the mechanical triggers and the oracle recommendation into
// one final decision per cycle. Precedence, highest first: drawdown
// safeguard, stop-loss sells, the confident oracle action, trigger-driven
// entries, HOLD.
type Engine struct {
	strategy config.Strategy
	oracle   oracle.Oracle
	log      *logrus.Logger
}

func NewEngine(strategy config.Strategy, orc oracle.Oracle, log *logrus.Logger) *Engine {
	return &Engine{strategy: strategy, oracle: orc, log: log}
}

// Decide produces the decision for one cycle. It ratchets the ATR stops as a
// side effect but never moves balances; Apply does that.
func (e *Engine) Decide(ctx context.Context, snap models.MarketSnapshot, led *portfolio.Ledger) models.TradeDecision {
	s := e.strategy

	// Stops trail upward before they are checked. The candidate stop sits
	// below the current price, so a ratchet can never fire on the same bar
	// that raised it.
	if s.EnableATRStops && snap.ATR14.Valid {
		led.RatchetStops(snap.Price, snap.ATR14.Value, s.ATRMultiplier)
	}

	if guard := DrawdownSafeguard(snap, led, s); guard.Fired {
		if s.SafeguardLiquidate && led.BTC() >= s.MinLotBTC {
			return models.TradeDecision{
				Action:     models.ActionSell,
				Quantity:   led.BTC(),
				Confidence: 100,
				Rationale:  "safeguard liquidation: " + guard.Reason,
			}
		}
		return models.TradeDecision{
			Action:     models.ActionHold,
			Confidence: 100,
			Rationale:  "safeguard active: " + guard.Reason,
		}
	}

	if hits := StopLossHits(snap, led, s); len(hits) > 0 {
		quantity := 0.0
		reasons := make([]string, 0, len(hits))
		for _, h := range hits {
			quantity += h.Position.Quantity
			reasons = append(reasons, h.Reason)
		}
		return e.capSell(led, models.TradeDecision{
			Action:     models.ActionSell,
			Quantity:   quantity,
			Confidence: 100,
			Rationale:  "stop loss: " + strings.Join(reasons, "; "),
		})
	}

	dca := DCADrop(snap, led, s)
	rsi := RSIOversold(snap, s)

	rec := e.consult(ctx, snap, led)
	if rec.Action != models.ActionHold && rec.Confidence >= s.MinConfidence {
		return e.cap(snap, led, e.fromOracle(snap, led, rec))
	}

	if dca.Fired || rsi.Fired {
		reasons := make([]string, 0, 2)
		if dca.Fired {
			reasons = append(reasons, "dca: "+dca.Reason)
		}
		if rsi.Fired {
			reasons = append(reasons, "rsi: "+rsi.Reason)
		}
		return e.cap(snap, led, models.TradeDecision{
			Action:     models.ActionBuy,
			BuyAmount:  s.Budget * s.PositionSizePct / 100,
			Confidence: 60,
			Rationale:  strings.Join(reasons, "; "),
		})
	}

	rationale := "no trigger fired"
	if rec.Rationale != "" {
		rationale = fmt.Sprintf("no trigger fired; oracle %s (confidence %d): %s", rec.Action, rec.Confidence, rec.Rationale)
	}
	return models.TradeDecision{
		Action:     models.ActionHold,
		Confidence: rec.Confidence,
		Rationale:  rationale,
	}
}

func (e *Engine) consult(ctx context.Context, snap models.MarketSnapshot, led *portfolio.Ledger) models.OracleResult {
	if e.oracle == nil {
		return oracle.Fallback()
	}
	lastBuy, hasLastBuy := led.LastBuyPrice()
	rec := e.oracle.Evaluate(ctx, oracle.Context{
		Snapshot:        snap,
		Cash:            led.Cash(),
		BTC:             led.BTC(),
		SecuredProfit:   led.SecuredProfit(),
		ProfitThreshold: led.ProfitThreshold(),
		TotalValue:      led.TotalValue(snap.Price),
		LastBuyPrice:    lastBuy,
		HasLastBuy:      hasLastBuy,
		Positions:       led.OpenPositions(),
		RecentTrades:    led.RecentTrades(10),
	})
	if e.log != nil {
		e.log.WithFields(logrus.Fields{
			"oracle":     e.oracle.Name(),
			"action":     rec.Action,
			"confidence": rec.Confidence,
		}).Debug("oracle consulted")
	}
	return rec
}

// fromOracle turns an adopted recommendation into a sized decision. Missing
// sizes get sensible defaults: a BUY at the configured position size, a SELL
// of the whole holding, a PROFIT of the full securable excess.
func (e *Engine) fromOracle(snap models.MarketSnapshot, led *portfolio.Ledger, rec models.OracleResult) models.TradeDecision {
	dec := models.TradeDecision{
		Action:     rec.Action,
		Confidence: rec.Confidence,
		Rationale:  "oracle: " + rec.Rationale,
	}
	switch rec.Action {
	case models.ActionBuy:
		dec.BuyAmount = rec.BuyAmount
		if dec.BuyAmount <= 0 {
			dec.BuyAmount = e.strategy.Budget * e.strategy.PositionSizePct / 100
		}
	case models.ActionSell:
		dec.Quantity = rec.Quantity
		if dec.Quantity <= 0 {
			dec.Quantity = led.BTC()
		}
	case models.ActionProfit:
		dec.ProfitAmount = rec.ProfitAmount
		if dec.ProfitAmount <= 0 {
			excess := led.TotalValue(snap.Price) - led.ProfitThreshold()
			dec.ProfitAmount = excess * e.strategy.ProfitSecurePct / 100
		}
	}
	return dec
}

// cap enforces the sizing limits that apply regardless of who proposed the
// action. A decision that caps down to nothing degrades to HOLD with the
// limit named in the rationale.
func (e *Engine) cap(snap models.MarketSnapshot, led *portfolio.Ledger, dec models.TradeDecision) models.TradeDecision {
	s := e.strategy
	switch dec.Action {
	case models.ActionBuy:
		amount := dec.BuyAmount
		if maxSpend := led.Cash() * s.BuyCashCapPct / 100; amount > maxSpend {
			amount = maxSpend
			dec.Rationale += fmt.Sprintf(" [capped to %.0f%% of cash]", s.BuyCashCapPct)
		}
		if reserve := s.Budget * s.CashReservePct / 100; led.Cash()-amount < reserve {
			amount = led.Cash() - reserve
			dec.Rationale += fmt.Sprintf(" [scaled down to keep %.0f%% budget reserve]", s.CashReservePct)
		}
		if amount <= 0 {
			return hold(dec, "buy blocked: cash reserve floor reached")
		}
		if snap.Price <= 0 || amount/snap.Price < s.MinLotBTC {
			return hold(dec, "buy blocked: below exchange minimum")
		}
		dec.BuyAmount = amount
		return dec

	case models.ActionSell:
		return e.capSell(led, dec)

	case models.ActionProfit:
		amount := dec.ProfitAmount
		excess := led.TotalValue(snap.Price) - led.ProfitThreshold()
		if excess <= 0 {
			return hold(dec, "profit blocked: no excess above threshold")
		}
		if maxSecure := excess * s.ProfitSecurePct / 100; amount > maxSecure {
			amount = maxSecure
			dec.Rationale += fmt.Sprintf(" [capped to %.0f%% of excess]", s.ProfitSecurePct)
		}
		if amount > led.Cash() {
			amount = led.Cash()
			dec.Rationale += " [capped to available cash]"
		}
		if reserve := s.Budget * s.CashReservePct / 100; led.Cash()-amount < reserve {
			amount = led.Cash() - reserve
			dec.Rationale += fmt.Sprintf(" [scaled down to keep %.0f%% budget reserve]", s.CashReservePct)
		}
		if amount <= 0 {
			return hold(dec, "profit blocked: nothing securable")
		}
		dec.ProfitAmount = amount
		return dec
	}
	return dec
}

func (e *Engine) capSell(led *portfolio.Ledger, dec models.TradeDecision) models.TradeDecision {
	if dec.Quantity > led.BTC() {
		dec.Quantity = led.BTC()
		dec.Rationale += " [capped to holdings]"
	}
	if dec.Quantity < e.strategy.MinLotBTC {
		return hold(dec, "sell blocked: below exchange minimum")
	}
	return dec
}

func hold(dec models.TradeDecision, reason string) models.TradeDecision {
	return models.TradeDecision{
		Action:     models.ActionHold,
		Confidence: dec.Confidence,
		Rationale:  reason + "; wanted: " + dec.Rationale,
	}
}
