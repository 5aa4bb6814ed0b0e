// Package portfolio holds the cash/BTC/secured-profit balances, the open
// lots and the append-only trade log for one trading session or one backtest
// run. A Ledger is owned by exactly one run and is not safe for concurrent
// use; the cycle loop is single-threaded by design.
package portfolio

import (
	"errors"
	"fmt"
	"time"

	"dcapilot/internal/models"
)

var (
	ErrInsufficientFunds    = errors.New("portfolio: insufficient funds")
	ErrInsufficientHoldings = errors.New("portfolio: insufficient holdings")
	ErrBelowMinLot          = errors.New("portfolio: below exchange minimum lot")
)

type Ledger struct {
	initialBudget   float64
	cash            float64
	btc             float64
	securedProfit   float64
	profitThreshold float64
	lastBuyPrice    float64

	positions []models.Position
	trades    []models.TradeRecord
}

// NewLedger starts a ledger with the full budget in cash. The profit
// threshold starts at the budget and only ever rises.
func NewLedger(budget float64) *Ledger {
	return &Ledger{
		initialBudget:   budget,
		cash:            budget,
		profitThreshold: budget,
	}
}

func (l *Ledger) Cash() float64            { return l.cash }
func (l *Ledger) BTC() float64             { return l.btc }
func (l *Ledger) SecuredProfit() float64   { return l.securedProfit }
func (l *Ledger) ProfitThreshold() float64 { return l.profitThreshold }
func (l *Ledger) InitialBudget() float64   { return l.initialBudget }

// LastBuyPrice reports the price of the most recent BUY, if any. It is the
// DCA drop trigger's reference price.
func (l *Ledger) LastBuyPrice() (float64, bool) {
	return l.lastBuyPrice, l.lastBuyPrice > 0
}

// TotalValue is the tradable portfolio value. Secured profit is walled off
// from trading and deliberately excluded.
func (l *Ledger) TotalValue(currentPrice float64) float64 {
	return l.cash + l.btc*currentPrice
}

// OpenPositions returns a copy of the open lots, oldest first.
func (l *Ledger) OpenPositions() []models.Position {
	var out []models.Position
	for _, p := range l.positions {
		if p.Status == models.PositionOpen {
			out = append(out, p)
		}
	}
	return out
}

// Trades returns the full audit log, oldest first.
func (l *Ledger) Trades() []models.TradeRecord {
	out := make([]models.TradeRecord, len(l.trades))
	copy(out, l.trades)
	return out
}

// RecentTrades returns up to n of the newest records, oldest first.
func (l *Ledger) RecentTrades(n int) []models.TradeRecord {
	if n <= 0 || len(l.trades) == 0 {
		return nil
	}
	start := len(l.trades) - n
	if start < 0 {
		start = 0
	}
	out := make([]models.TradeRecord, len(l.trades)-start)
	copy(out, l.trades[start:])
	return out
}

// ApplyBuy debits cash, credits BTC and opens a new lot. atrAtEntry may be
// zero when the ATR was unavailable at entry; the lot then carries no stop
// until a later ratchet arms one.
func (l *Ledger) ApplyBuy(ts time.Time, usdAmount, price, minLot, atrAtEntry, atrMultiplier float64, reason string) (models.TradeRecord, error) {
	if usdAmount <= 0 || price <= 0 {
		return models.TradeRecord{}, fmt.Errorf("%w: non-positive amount or price", ErrInsufficientFunds)
	}
	if usdAmount > l.cash {
		return models.TradeRecord{}, fmt.Errorf("%w: need %.2f, have %.2f", ErrInsufficientFunds, usdAmount, l.cash)
	}
	quantity := usdAmount / price
	if quantity < minLot {
		return models.TradeRecord{}, fmt.Errorf("%w: %.8f < %.8f BTC", ErrBelowMinLot, quantity, minLot)
	}

	l.cash -= usdAmount
	l.btc += quantity
	l.lastBuyPrice = price

	stop := 0.0
	if atrAtEntry > 0 && atrMultiplier > 0 {
		stop = price - atrAtEntry*atrMultiplier
	}
	l.positions = append(l.positions, models.Position{
		OpenedAt:   ts,
		EntryPrice: price,
		Quantity:   quantity,
		ATRAtEntry: atrAtEntry,
		StopPrice:  stop,
		Status:     models.PositionOpen,
	})

	return l.append(models.TradeRecord{
		Timestamp: ts,
		Type:      models.ActionBuy,
		Price:     price,
		Quantity:  quantity,
		USDAmount: usdAmount,
		Reason:    reason,
	}), nil
}

// ApplySell credits cash, debits BTC and realizes P&L against the open lots
// in FIFO order. Partial fills reduce the oldest lot in place.
func (l *Ledger) ApplySell(ts time.Time, quantity, price, minLot float64, reason string) (models.TradeRecord, error) {
	if quantity <= 0 || price <= 0 {
		return models.TradeRecord{}, fmt.Errorf("%w: non-positive quantity or price", ErrInsufficientHoldings)
	}
	if quantity > l.btc {
		return models.TradeRecord{}, fmt.Errorf("%w: need %.8f, have %.8f BTC", ErrInsufficientHoldings, quantity, l.btc)
	}
	if quantity < minLot {
		return models.TradeRecord{}, fmt.Errorf("%w: %.8f < %.8f BTC", ErrBelowMinLot, quantity, minLot)
	}

	realized := l.consumeLots(quantity, price)
	l.btc -= quantity
	l.cash += quantity * price

	rec := l.append(models.TradeRecord{
		Timestamp:   ts,
		Type:        models.ActionSell,
		Price:       price,
		Quantity:    quantity,
		USDAmount:   quantity * price,
		RealizedPnL: realized,
		Reason:      reason,
	})
	return rec, nil
}

func (l *Ledger) consumeLots(quantity, price float64) float64 {
	realized := 0.0
	remaining := quantity
	for i := range l.positions {
		p := &l.positions[i]
		if p.Status != models.PositionOpen || remaining <= 0 {
			continue
		}
		take := p.Quantity
		if take > remaining {
			take = remaining
		}
		realized += (price - p.EntryPrice) * take
		p.Quantity -= take
		remaining -= take
		if p.Quantity <= 0 {
			p.Quantity = 0
			p.Status = models.PositionClosed
		}
	}
	return realized
}

// SecureProfit moves cash into the secured bucket and raises the profit
// threshold so the same gain is never secured twice.
func (l *Ledger) SecureProfit(ts time.Time, usdAmount, price float64, reason string) (models.TradeRecord, error) {
	if usdAmount <= 0 {
		return models.TradeRecord{}, fmt.Errorf("%w: non-positive amount", ErrInsufficientFunds)
	}
	if usdAmount > l.cash {
		return models.TradeRecord{}, fmt.Errorf("%w: need %.2f, have %.2f", ErrInsufficientFunds, usdAmount, l.cash)
	}

	l.cash -= usdAmount
	l.securedProfit += usdAmount
	l.profitThreshold += usdAmount

	return l.append(models.TradeRecord{
		Timestamp:   ts,
		Type:        models.ActionProfit,
		Price:       price,
		USDAmount:   usdAmount,
		RealizedPnL: usdAmount,
		Reason:      reason,
	}), nil
}

// RecordHold logs a cycle that changed nothing, with the reason it didn't.
func (l *Ledger) RecordHold(ts time.Time, price float64, reason string) models.TradeRecord {
	return l.append(models.TradeRecord{
		Timestamp: ts,
		Type:      models.ActionHold,
		Price:     price,
		Reason:    reason,
	})
}

// RatchetStops recomputes the ATR stop for every open lot at the current
// price and adopts it only when it is higher than the armed stop. Stops never
// move down.
func (l *Ledger) RatchetStops(price, atr, atrMultiplier float64) {
	if price <= 0 || atr <= 0 || atrMultiplier <= 0 {
		return
	}
	candidate := price - atr*atrMultiplier
	for i := range l.positions {
		p := &l.positions[i]
		if p.Status != models.PositionOpen {
			continue
		}
		if candidate > p.StopPrice {
			p.StopPrice = candidate
		}
	}
}

func (l *Ledger) append(rec models.TradeRecord) models.TradeRecord {
	rec.CashAfter = l.cash
	rec.BTCAfter = l.btc
	rec.SecuredAfter = l.securedProfit
	l.trades = append(l.trades, rec)
	return rec
}

// Clone deep-copies the ledger so a backtest can run against its own copy.
func (l *Ledger) Clone() *Ledger {
	out := &Ledger{
		initialBudget:   l.initialBudget,
		cash:            l.cash,
		btc:             l.btc,
		securedProfit:   l.securedProfit,
		profitThreshold: l.profitThreshold,
		lastBuyPrice:    l.lastBuyPrice,
		positions:       make([]models.Position, len(l.positions)),
		trades:          make([]models.TradeRecord, len(l.trades)),
	}
	copy(out.positions, l.positions)
	copy(out.trades, l.trades)
	return out
}

// State is the serializable form of a ledger, round-tripped losslessly
// through persistence between process restarts.
type State struct {
	InitialBudget   float64              `json:"initial_budget"`
	Cash            float64              `json:"cash"`
	BTC             float64              `json:"btc"`
	SecuredProfit   float64              `json:"secured_profit"`
	ProfitThreshold float64              `json:"profit_threshold"`
	LastBuyPrice    float64              `json:"last_buy_price"`
	Positions       []models.Position    `json:"positions"`
	Trades          []models.TradeRecord `json:"trades"`
}

func (l *Ledger) State() State {
	s := State{
		InitialBudget:   l.initialBudget,
		Cash:            l.cash,
		BTC:             l.btc,
		SecuredProfit:   l.securedProfit,
		ProfitThreshold: l.profitThreshold,
		LastBuyPrice:    l.lastBuyPrice,
		Positions:       make([]models.Position, len(l.positions)),
		Trades:          make([]models.TradeRecord, len(l.trades)),
	}
	copy(s.Positions, l.positions)
	copy(s.Trades, l.trades)
	return s
}

// FromState rebuilds a ledger from a persisted snapshot.
func FromState(s State) (*Ledger, error) {
	if s.Cash < 0 || s.BTC < 0 {
		return nil, fmt.Errorf("portfolio: corrupt state: negative balances (cash=%.2f btc=%.8f)", s.Cash, s.BTC)
	}
	if s.ProfitThreshold < s.InitialBudget {
		return nil, fmt.Errorf("portfolio: corrupt state: threshold %.2f below budget %.2f", s.ProfitThreshold, s.InitialBudget)
	}
	l := &Ledger{
		initialBudget:   s.InitialBudget,
		cash:            s.Cash,
		btc:             s.BTC,
		securedProfit:   s.SecuredProfit,
		profitThreshold: s.ProfitThreshold,
		lastBuyPrice:    s.LastBuyPrice,
		positions:       make([]models.Position, len(s.Positions)),
		trades:          make([]models.TradeRecord, len(s.Trades)),
	}
	copy(l.positions, s.Positions)
	copy(l.trades, s.Trades)
	return l, nil
}
