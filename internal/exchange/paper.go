package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"dcapilot/internal/models"
)

// PaperExecutor fills instantly at the order's reference price. Quantities
// are rounded down to the exchange step size with decimal arithmetic so the
// rounding matches what a real venue would accept.
type PaperExecutor struct {
	stepSize decimal.Decimal // base currency quantity step, e.g. 0.00001 BTC
	minLot   decimal.Decimal
	feeRate  decimal.Decimal // taker fee, e.g. 0.001
	now      func() time.Time
}

func NewPaperExecutor(stepSize, minLot, feeRate float64) *PaperExecutor {
	return &PaperExecutor{
		stepSize: decimal.NewFromFloat(stepSize),
		minLot:   decimal.NewFromFloat(minLot),
		feeRate:  decimal.NewFromFloat(feeRate),
		now:      time.Now,
	}
}

func (p *PaperExecutor) Name() string { return "paper" }

func (p *PaperExecutor) Execute(_ context.Context, order Order) (Fill, error) {
	if order.Price <= 0 {
		return Fill{}, fmt.Errorf("%w: no reference price", ErrRejected)
	}
	price := decimal.NewFromFloat(order.Price)

	var qty decimal.Decimal
	switch order.Side {
	case models.ActionBuy:
		if order.USDAmount <= 0 {
			return Fill{}, fmt.Errorf("%w: buy without usd amount", ErrRejected)
		}
		qty = decimal.NewFromFloat(order.USDAmount).Div(price)
	case models.ActionSell:
		if order.Quantity <= 0 {
			return Fill{}, fmt.Errorf("%w: sell without quantity", ErrRejected)
		}
		qty = decimal.NewFromFloat(order.Quantity)
	default:
		return Fill{}, fmt.Errorf("%w: side %s is not executable", ErrRejected, order.Side)
	}

	qty = roundToStep(qty, p.stepSize)
	if qty.LessThan(p.minLot) {
		return Fill{}, fmt.Errorf("%w: quantity %s below minimum lot %s", ErrRejected, qty, p.minLot)
	}

	gross := qty.Mul(price)
	fee := gross.Mul(p.feeRate)

	qtyF, _ := qty.Float64()
	grossF, _ := gross.Float64()
	feeF, _ := fee.Float64()
	return Fill{
		Timestamp: p.now().UTC(),
		Symbol:    order.Symbol,
		Side:      order.Side,
		Price:     order.Price,
		Quantity:  qtyF,
		USDGross:  grossF,
		Fee:       feeF,
	}, nil
}

// roundToStep floors qty to a multiple of step. A zero step means no
// rounding.
func roundToStep(qty, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return qty
	}
	return qty.Div(step).Floor().Mul(step)
}
