// Package trader runs the live decision loop: fetch candles, build the
// snapshot, decide, execute, move the books, persist. One cycle per interval,
// strictly sequential.
package trader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"dcapilot/config"
	"dcapilot/internal/exchange"
	"dcapilot/internal/indicators"
	"dcapilot/internal/marketdata"
	"dcapilot/internal/models"
	"dcapilot/internal/portfolio"
	"dcapilot/internal/storage"
	"dcapilot/internal/strategy"
)

const (
	klineInterval = "1h"
	klineLimit    = 200
	// Streamed prices older than this are ignored in favor of the candle
	// close.
	streamFreshness = 2 * time.Minute
)

// Trader owns one live session.
type Trader struct {
	cfg      *config.Config
	log      *logrus.Logger
	engine   *strategy.Engine
	executor exchange.Executor
	client   *marketdata.BinanceClient
	stream   *marketdata.PriceStream
	store    *storage.Store
	ledger   *portfolio.Ledger
	runID    int64
}

// New restores the ledger from the state file when one exists, otherwise
// starts fresh from the configured budget.
func New(cfg *config.Config, eng *strategy.Engine, executor exchange.Executor, store *storage.Store, log *logrus.Logger) (*Trader, error) {
	led, err := restoreLedger(cfg, log)
	if err != nil {
		return nil, err
	}
	return &Trader{
		cfg:      cfg,
		log:      log,
		engine:   eng,
		executor: executor,
		client:   marketdata.NewBinanceClient(),
		stream:   marketdata.NewPriceStream(cfg.Symbol, log),
		store:    store,
		ledger:   led,
	}, nil
}

func restoreLedger(cfg *config.Config, log *logrus.Logger) (*portfolio.Ledger, error) {
	state, err := storage.LoadState(cfg.StateFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Infof("no saved state at %s, starting with budget %.2f", cfg.StateFile, cfg.Strategy.Budget)
			return portfolio.NewLedger(cfg.Strategy.Budget), nil
		}
		return nil, err
	}
	led, err := portfolio.FromState(state)
	if err != nil {
		return nil, err
	}
	log.Infof("restored ledger: cash %.2f, btc %.8f, secured %.2f", led.Cash(), led.BTC(), led.SecuredProfit())
	return led, nil
}

// Ledger exposes the live books for the status command.
func (t *Trader) Ledger() *portfolio.Ledger { return t.ledger }

// Run blocks until ctx is cancelled. The first cycle fires immediately, then
// one per decision interval.
func (t *Trader) Run(ctx context.Context) error {
	price, err := t.client.TickerPrice(ctx, t.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("trader: initial price check: %w", err)
	}
	initial := t.ledger.TotalValue(price) + t.ledger.SecuredProfit()

	runID, err := t.store.CreateRun(ctx, storage.RunKindLive, t.cfg.Symbol, time.Now().UTC(), initial)
	if err != nil {
		return err
	}
	t.runID = runID

	go t.stream.Run(ctx)

	t.log.WithFields(logrus.Fields{
		"run":      runID,
		"symbol":   t.cfg.Symbol,
		"interval": t.cfg.DecisionInterval,
		"dry_run":  t.cfg.DryRun,
	}).Info("live session started")

	ticker := time.NewTicker(time.Duration(t.cfg.DecisionInterval) * time.Second)
	defer ticker.Stop()

	for {
		if err := t.cycle(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			// A failed cycle is logged and skipped; the next tick retries.
			t.log.WithError(err).Error("cycle failed")
		}
		select {
		case <-ctx.Done():
			return t.finish(price)
		case <-ticker.C:
		}
	}
	return t.finish(price)
}

func (t *Trader) cycle(ctx context.Context) error {
	candles, err := t.client.Klines(ctx, t.cfg.Symbol, klineInterval, klineLimit)
	if err != nil {
		return err
	}
	snap, err := indicators.Latest(candles)
	if err != nil {
		return err
	}

	// A fresh streamed tick beats the last candle close as the cycle price.
	if streamed, at, ok := t.stream.LastPrice(); ok && time.Since(at) < streamFreshness {
		snap.Price = streamed
		snap.Timestamp = at
	} else {
		snap.Timestamp = time.Now().UTC()
	}

	dec := t.engine.Decide(ctx, snap, t.ledger)

	if dec.Action == models.ActionBuy || dec.Action == models.ActionSell {
		if t.cfg.DryRun {
			t.log.WithFields(logrus.Fields{"action": dec.Action, "rationale": dec.Rationale}).
				Info("dry run: order not sent")
		} else {
			fill, err := t.executor.Execute(ctx, exchange.Order{
				Symbol:    t.cfg.Symbol,
				Side:      dec.Action,
				USDAmount: dec.BuyAmount,
				Quantity:  dec.Quantity,
				Price:     snap.Price,
			})
			if err != nil {
				t.ledger.RecordHold(snap.Timestamp, snap.Price, "order rejected: "+err.Error())
				return t.persist(ctx)
			}
			// The books track the rounded fill, not the requested size.
			switch dec.Action {
			case models.ActionBuy:
				dec.BuyAmount = fill.USDGross
			case models.ActionSell:
				dec.Quantity = fill.Quantity
			}
		}
	}

	rec := t.engine.Apply(t.ledger, snap, dec)
	t.log.WithFields(logrus.Fields{
		"action":   rec.Type,
		"price":    rec.Price,
		"quantity": rec.Quantity,
		"usd":      rec.USDAmount,
		"cash":     rec.CashAfter,
		"btc":      rec.BTCAfter,
		"reason":   rec.Reason,
	}).Info("cycle complete")

	if err := t.store.InsertTrade(ctx, t.runID, rec); err != nil {
		return err
	}
	return t.persist(ctx)
}

func (t *Trader) persist(_ context.Context) error {
	return storage.SaveState(t.cfg.StateFile, t.ledger.State())
}

func (t *Trader) finish(lastPrice float64) error {
	final := t.ledger.TotalValue(lastPrice) + t.ledger.SecuredProfit()
	net := final - t.ledger.InitialBudget()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.store.FinishRun(ctx, t.runID, time.Now().UTC(), final, net); err != nil {
		t.log.WithError(err).Warn("could not finalize run record")
	}
	t.log.Infof("live session finished: final value %.2f, net %.2f", final, net)
	return nil
}
