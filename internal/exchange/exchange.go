// Package exchange abstracts order execution. The live trader and the
// simulator both go through Executor; only the paper implementation exists,
// which fills at the requested price minus fees.
package exchange

import (
	"context"
	"errors"
	"time"

	"dcapilot/internal/models"
)

var ErrRejected = errors.New("exchange: order rejected")

// Order is a market order sized either in quote currency (BUY, USDAmount) or
// in base currency (SELL, Quantity).
type Order struct {
	Symbol    string
	Side      models.Action // ActionBuy or ActionSell
	USDAmount float64
	Quantity  float64
	Price     float64 // reference price for paper fills
}

// Fill is the executed result after rounding and fees.
type Fill struct {
	Timestamp time.Time
	Symbol    string
	Side      models.Action
	Price     float64
	Quantity  float64 // base filled, after step rounding
	USDGross  float64 // quantity * price
	Fee       float64 // quote currency
}

type Executor interface {
	Execute(ctx context.Context, order Order) (Fill, error)
	Name() string
}
