package strategy

import (
	"dcapilot/internal/models"
	"dcapilot/internal/portfolio"
)

// Apply executes a decision against the ledger and returns the resulting
// record. The live engine and the backtest share this so the books move
// identically in both. A ledger rejection is downgraded to a HOLD record
// carrying the rejection, never an error; a decision cycle always leaves an
// audit entry behind.
func (e *Engine) Apply(led *portfolio.Ledger, snap models.MarketSnapshot, dec models.TradeDecision) models.TradeRecord {
	s := e.strategy
	switch dec.Action {
	case models.ActionBuy:
		atrAtEntry := 0.0
		if s.EnableATRStops && snap.ATR14.Valid {
			atrAtEntry = snap.ATR14.Value
		}
		rec, err := led.ApplyBuy(snap.Timestamp, dec.BuyAmount, snap.Price, s.MinLotBTC, atrAtEntry, s.ATRMultiplier, dec.Rationale)
		if err != nil {
			return led.RecordHold(snap.Timestamp, snap.Price, "buy rejected: "+err.Error())
		}
		return rec

	case models.ActionSell:
		rec, err := led.ApplySell(snap.Timestamp, dec.Quantity, snap.Price, s.MinLotBTC, dec.Rationale)
		if err != nil {
			return led.RecordHold(snap.Timestamp, snap.Price, "sell rejected: "+err.Error())
		}
		return rec

	case models.ActionProfit:
		rec, err := led.SecureProfit(snap.Timestamp, dec.ProfitAmount, snap.Price, dec.Rationale)
		if err != nil {
			return led.RecordHold(snap.Timestamp, snap.Price, "profit rejected: "+err.Error())
		}
		return rec
	}
	return led.RecordHold(snap.Timestamp, snap.Price, dec.Rationale)
}
