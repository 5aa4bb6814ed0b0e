package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const binanceWSBase = "wss://stream.binance.com:9443/ws"

// PriceStream subscribes to the Binance miniTicker websocket and keeps the
// latest trade price available to the decision loop without a REST round
// trip. It reconnects with backoff until its context is cancelled.
type PriceStream struct {
	symbol string
	log    *logrus.Logger

	mu        sync.RWMutex
	lastPrice float64
	lastAt    time.Time
}

func NewPriceStream(symbol string, log *logrus.Logger) *PriceStream {
	return &PriceStream{symbol: symbol, log: log}
}

// LastPrice returns the most recent streamed price and its arrival time.
// ok is false until the first tick lands.
func (p *PriceStream) LastPrice() (price float64, at time.Time, ok bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastPrice, p.lastAt, p.lastPrice > 0
}

// Run blocks until ctx is cancelled, reconnecting on any read error.
func (p *PriceStream) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if err := p.consume(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			p.log.WithError(err).Warnf("price stream dropped, reconnecting in %s", backoff)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (p *PriceStream) consume(ctx context.Context) error {
	url := fmt.Sprintf("%s/%s@miniTicker", binanceWSBase, strings.ToLower(p.symbol))
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("marketdata: dial %s: %w", url, err)
	}
	defer conn.Close()

	// Close the socket when the context dies so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	p.log.Infof("price stream connected: %s", p.symbol)
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("marketdata: stream read: %w", err)
		}
		var tick struct {
			EventTime int64  `json:"E"`
			Close     string `json:"c"`
		}
		if err := json.Unmarshal(payload, &tick); err != nil {
			p.log.WithError(err).Debug("skipping unparseable ticker frame")
			continue
		}
		price, err := decimal.NewFromString(tick.Close)
		if err != nil {
			continue
		}
		f, _ := price.Float64()
		p.mu.Lock()
		p.lastPrice = f
		p.lastAt = time.UnixMilli(tick.EventTime).UTC()
		p.mu.Unlock()
	}
}
