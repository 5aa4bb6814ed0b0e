// Package marketdata fetches and stores BTC candles. The Binance REST API is
// the primary source, Yahoo Finance the daily fallback, and CSV files the
// offline backtest input.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"dcapilot/internal/models"
)

const (
	binanceBaseURL  = "https://api.binance.com"
	binanceMaxLimit = 1000
)

// BinanceClient reads public spot market data. No API key is needed for
// klines and tickers.
type BinanceClient struct {
	http *resty.Client
}

func NewBinanceClient() *BinanceClient {
	client := resty.New().
		SetBaseURL(binanceBaseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond)
	return &BinanceClient{http: client}
}

// Klines fetches up to limit closed candles for the interval ("1d", "1h",
// "5m"), oldest first.
func (b *BinanceClient) Klines(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	if limit <= 0 || limit > binanceMaxLimit {
		limit = binanceMaxLimit
	}

	resp, err := b.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol":   symbol,
			"interval": interval,
			"limit":    fmt.Sprintf("%d", limit),
		}).
		Get("/api/v3/klines")
	if err != nil {
		return nil, fmt.Errorf("marketdata: fetch klines: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("marketdata: klines status %d: %s", resp.StatusCode(), resp.String())
	}

	var rows [][]json.RawMessage
	if err := json.Unmarshal(resp.Body(), &rows); err != nil {
		return nil, fmt.Errorf("marketdata: decode klines: %w", err)
	}

	candles := make([]models.Candle, 0, len(rows))
	for i, row := range rows {
		c, err := parseKline(row)
		if err != nil {
			return nil, fmt.Errorf("marketdata: kline row %d: %w", i, err)
		}
		candles = append(candles, c)
	}
	return candles, nil
}

// TickerPrice fetches the latest trade price.
func (b *BinanceClient) TickerPrice(ctx context.Context, symbol string) (float64, error) {
	var out struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	resp, err := b.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetResult(&out).
		Get("/api/v3/ticker/price")
	if err != nil {
		return 0, fmt.Errorf("marketdata: fetch ticker: %w", err)
	}
	if resp.IsError() {
		return 0, fmt.Errorf("marketdata: ticker status %d: %s", resp.StatusCode(), resp.String())
	}
	price, err := decimal.NewFromString(out.Price)
	if err != nil {
		return 0, fmt.Errorf("marketdata: ticker price %q: %w", out.Price, err)
	}
	f, _ := price.Float64()
	return f, nil
}

// parseKline decodes one kline row. Binance sends open time as a number and
// every price as a string; decimals keep the string parse exact before the
// float conversion.
func parseKline(row []json.RawMessage) (models.Candle, error) {
	if len(row) < 6 {
		return models.Candle{}, fmt.Errorf("short row (%d fields)", len(row))
	}

	var openMillis int64
	if err := json.Unmarshal(row[0], &openMillis); err != nil {
		return models.Candle{}, fmt.Errorf("open time: %w", err)
	}

	vals := make([]float64, 5)
	for i := 1; i <= 5; i++ {
		var s string
		if err := json.Unmarshal(row[i], &s); err != nil {
			return models.Candle{}, fmt.Errorf("field %d: %w", i, err)
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return models.Candle{}, fmt.Errorf("field %d value %q: %w", i, s, err)
		}
		vals[i-1], _ = d.Float64()
	}

	return models.Candle{
		Timestamp: time.UnixMilli(openMillis).UTC(),
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
	}, nil
}
