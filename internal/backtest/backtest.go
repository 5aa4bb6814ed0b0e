// Package backtest replays a snapshot series through the decision engine,
// strictly in order, against a private clone of the starting ledger. Two runs
// over the same series with a deterministic oracle produce identical results.
package backtest

import (
	"context"
	"errors"
	"sort"
	"time"

	"dcapilot/internal/models"
	"dcapilot/internal/portfolio"
	"dcapilot/internal/strategy"
)

var ErrEmptySeries = errors.New("backtest: empty snapshot series")

// Point is one step of the equity trajectory.
type Point struct {
	Timestamp  time.Time `json:"timestamp"`
	Price      float64   `json:"price"`
	Cash       float64   `json:"cash"`
	BTC        float64   `json:"btc"`
	Secured    float64   `json:"secured"`
	TotalValue float64   `json:"total_value"` // tradable value plus secured
}

// DayPnL is the change in total value over one UTC calendar day.
type DayPnL struct {
	Date string  `json:"date"` // YYYY-MM-DD, UTC
	PnL  float64 `json:"pnl"`
}

// Result is everything a run produced. Trades carry their day's PnL; the
// source ledger is never touched.
type Result struct {
	Trades         []models.TradeRecord `json:"trades"`
	Trajectory     []Point              `json:"trajectory"`
	DailyPnL       []DayPnL             `json:"daily_pnl"`
	InitialValue   float64              `json:"initial_value"`
	FinalValue     float64              `json:"final_value"`
	FinalCash      float64              `json:"final_cash"`
	FinalBTC       float64              `json:"final_btc"`
	SecuredProfit  float64              `json:"secured_profit"`
	NetProfit      float64              `json:"net_profit"`
	MaxDrawdownPct float64              `json:"max_drawdown_pct"`
	Cycles         int                  `json:"cycles"`
}

// Run replays snaps through the engine against a clone of led. Snapshots are
// processed one at a time; cycle N+1 sees every balance change cycle N made.
func Run(ctx context.Context, eng *strategy.Engine, led *portfolio.Ledger, snaps []models.MarketSnapshot) (*Result, error) {
	if len(snaps) == 0 {
		return nil, ErrEmptySeries
	}

	book := led.Clone()
	priorTrades := len(book.Trades())

	initial := book.TotalValue(snaps[0].Price) + book.SecuredProfit()
	peak := initial
	maxDrawdown := 0.0

	res := &Result{
		InitialValue: initial,
		Trajectory:   make([]Point, 0, len(snaps)),
		Cycles:       len(snaps),
	}

	// dayEnd holds the last observed total value per UTC date, in series
	// order. The series is already ordering-checked upstream.
	dayEnd := map[string]float64{}
	var days []string

	for _, snap := range snaps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		dec := eng.Decide(ctx, snap, book)
		eng.Apply(book, snap, dec)

		total := book.TotalValue(snap.Price) + book.SecuredProfit()
		res.Trajectory = append(res.Trajectory, Point{
			Timestamp:  snap.Timestamp,
			Price:      snap.Price,
			Cash:       book.Cash(),
			BTC:        book.BTC(),
			Secured:    book.SecuredProfit(),
			TotalValue: total,
		})

		if total > peak {
			peak = total
		}
		if peak > 0 {
			if dd := (peak - total) / peak * 100; dd > maxDrawdown {
				maxDrawdown = dd
			}
		}

		date := snap.Timestamp.UTC().Format("2006-01-02")
		if _, seen := dayEnd[date]; !seen {
			days = append(days, date)
		}
		dayEnd[date] = total
	}

	sort.Strings(days)
	pnlByDate := make(map[string]float64, len(days))
	prev := initial
	for _, date := range days {
		pnl := dayEnd[date] - prev
		pnlByDate[date] = pnl
		res.DailyPnL = append(res.DailyPnL, DayPnL{Date: date, PnL: pnl})
		prev = dayEnd[date]
	}

	// The ledger log is append-only; daily PnL is attached to result copies
	// only, never written back.
	all := book.Trades()
	res.Trades = make([]models.TradeRecord, len(all)-priorTrades)
	copy(res.Trades, all[priorTrades:])
	for i := range res.Trades {
		res.Trades[i].DailyPnL = pnlByDate[res.Trades[i].Timestamp.UTC().Format("2006-01-02")]
	}

	last := snaps[len(snaps)-1]
	res.FinalCash = book.Cash()
	res.FinalBTC = book.BTC()
	res.SecuredProfit = book.SecuredProfit()
	res.FinalValue = book.TotalValue(last.Price) + book.SecuredProfit()
	res.NetProfit = res.FinalValue - res.InitialValue
	res.MaxDrawdownPct = maxDrawdown
	return res, nil
}
