package marketdata

import (
	"fmt"
	"sort"
	"time"

	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"

	"dcapilot/internal/models"
)

// YahooClient is the daily-candle fallback source. Yahoo serves BTC under a
// dashed symbol ("BTC-USD") and only daily resolution is used here.
type YahooClient struct {
	symbol string
}

func NewYahooClient(symbol string) *YahooClient {
	if symbol == "" {
		symbol = "BTC-USD"
	}
	return &YahooClient{symbol: symbol}
}

// DailyCandles fetches daily candles covering [start, end], oldest first.
func (y *YahooClient) DailyCandles(start, end time.Time) ([]models.Candle, error) {
	iter := chart.Get(&chart.Params{
		Symbol:   y.symbol,
		Start:    datetime.New(&start),
		End:      datetime.New(&end),
		Interval: datetime.OneDay,
	})

	var candles []models.Candle
	for iter.Next() {
		bar := iter.Bar()
		open, _ := bar.Open.Float64()
		high, _ := bar.High.Float64()
		low, _ := bar.Low.Float64()
		closePx, _ := bar.Close.Float64()
		candles = append(candles, models.Candle{
			Timestamp: time.Unix(int64(bar.Timestamp), 0).UTC(),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePx,
			Volume:    float64(bar.Volume),
		})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("marketdata: yahoo chart %s: %w", y.symbol, err)
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("marketdata: yahoo chart %s: no bars in range", y.symbol)
	}

	sort.Slice(candles, func(i, j int) bool {
		return candles[i].Timestamp.Before(candles[j].Timestamp)
	})
	return candles, nil
}
