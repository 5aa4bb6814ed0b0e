// Package indicators turns an ordered OHLCV series into point-in-time
// indicator snapshots. All computation is pure; indicators whose trailing
// window is not yet filled are marked invalid rather than zero-filled.
package indicators

import (
	"errors"
	"fmt"
	"math"

	"dcapilot/internal/models"
)

const (
	atrPeriod        = 14
	rsiPeriod        = 14
	smaShortPeriod   = 20
	smaLongPeriod    = 50
	emaFastPeriod    = 12
	emaSlowPeriod    = 26
	macdSignalPeriod = 9
	bollingerPeriod  = 20
	bollingerWidth   = 2.0
	volumeSMAPeriod  = 20
)

var (
	ErrEmptySeries        = errors.New("indicators: empty candle series")
	ErrDuplicateTimestamp = errors.New("indicators: duplicate timestamp in series")
	ErrOutOfOrder         = errors.New("indicators: series not ascending by timestamp")
)

// BuildSeries computes a snapshot for every bar of the series. Bar i carries
// only indicators whose full window fits into bars [0..i].
func BuildSeries(candles []models.Candle) ([]models.MarketSnapshot, error) {
	if len(candles) == 0 {
		return nil, ErrEmptySeries
	}
	if err := checkOrdering(candles); err != nil {
		return nil, err
	}

	n := len(candles)
	atr := rollingATR(candles)
	rsi := wilderRSI(candles)
	sma20 := rollingSMA(closes(candles), smaShortPeriod)
	sma50 := rollingSMA(closes(candles), smaLongPeriod)
	ema12 := exponentialMA(closes(candles), emaFastPeriod)
	ema26 := exponentialMA(closes(candles), emaSlowPeriod)
	macd, macdSignal := macdLines(ema12, ema26)
	bollUp, bollMid, bollLow := bollingerBands(closes(candles))
	volSMA := rollingSMA(volumes(candles), volumeSMAPeriod)

	snapshots := make([]models.MarketSnapshot, n)
	for i, c := range candles {
		snapshots[i] = models.MarketSnapshot{
			Timestamp: c.Timestamp,
			Price:     c.Close,
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    c.Volume,

			ATR14:          atr[i],
			RSI14:          rsi[i],
			SMA20:          sma20[i],
			SMA50:          sma50[i],
			EMA12:          ema12[i],
			EMA26:          ema26[i],
			MACD:           macd[i],
			MACDSignal:     macdSignal[i],
			BollingerUpper: bollUp[i],
			BollingerMid:   bollMid[i],
			BollingerLower: bollLow[i],
			VolumeSMA20:    volSMA[i],
		}
	}
	return snapshots, nil
}

// Latest computes the snapshot for the most recent bar only.
func Latest(candles []models.Candle) (models.MarketSnapshot, error) {
	series, err := BuildSeries(candles)
	if err != nil {
		return models.MarketSnapshot{}, err
	}
	return series[len(series)-1], nil
}

func checkOrdering(candles []models.Candle) error {
	for i := 1; i < len(candles); i++ {
		if candles[i].Timestamp.Equal(candles[i-1].Timestamp) {
			return fmt.Errorf("%w: %s", ErrDuplicateTimestamp, candles[i].Timestamp)
		}
		if candles[i].Timestamp.Before(candles[i-1].Timestamp) {
			return fmt.Errorf("%w: %s after %s", ErrOutOfOrder, candles[i].Timestamp, candles[i-1].Timestamp)
		}
	}
	return nil
}

func closes(candles []models.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

func volumes(candles []models.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Volume
	}
	return out
}

// rollingSMA returns the simple moving average per bar; bars before the
// window fills are invalid.
func rollingSMA(values []float64, period int) []models.Indicator {
	out := make([]models.Indicator, len(values))
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = models.NewIndicator(sum / float64(period))
		}
	}
	return out
}

// exponentialMA seeds the EMA with the SMA of the first window, the same way
// every charting package does.
func exponentialMA(values []float64, period int) []models.Indicator {
	out := make([]models.Indicator, len(values))
	if len(values) < period {
		return out
	}

	multiplier := 2.0 / (float64(period) + 1.0)
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += values[i]
	}
	ema := sum / float64(period)
	out[period-1] = models.NewIndicator(ema)

	for i := period; i < len(values); i++ {
		ema = values[i]*multiplier + ema*(1-multiplier)
		out[i] = models.NewIndicator(ema)
	}
	return out
}

// rollingATR is a rolling mean of the true range. True range needs a previous
// close, so the first TR exists at bar 1 and ATR(14) becomes valid at bar 14.
func rollingATR(candles []models.Candle) []models.Indicator {
	out := make([]models.Indicator, len(candles))
	if len(candles) < atrPeriod+1 {
		return out
	}

	trueRanges := make([]float64, len(candles))
	for i := 1; i < len(candles); i++ {
		highLow := candles[i].High - candles[i].Low
		highClose := math.Abs(candles[i].High - candles[i-1].Close)
		lowClose := math.Abs(candles[i].Low - candles[i-1].Close)
		trueRanges[i] = math.Max(highLow, math.Max(highClose, lowClose))
	}

	sum := 0.0
	for i := 1; i < len(candles); i++ {
		sum += trueRanges[i]
		if i > atrPeriod {
			sum -= trueRanges[i-atrPeriod]
		}
		if i >= atrPeriod {
			out[i] = models.NewIndicator(sum / float64(atrPeriod))
		}
	}
	return out
}

// wilderRSI computes RSI with Wilder smoothing of average gain/loss.
func wilderRSI(candles []models.Candle) []models.Indicator {
	out := make([]models.Indicator, len(candles))
	if len(candles) < rsiPeriod+1 {
		return out
	}

	var avgGain, avgLoss float64
	for i := 1; i <= rsiPeriod; i++ {
		change := candles[i].Close - candles[i-1].Close
		if change > 0 {
			avgGain += change
		} else {
			avgLoss += -change
		}
	}
	avgGain /= float64(rsiPeriod)
	avgLoss /= float64(rsiPeriod)
	out[rsiPeriod] = models.NewIndicator(rsiFromAverages(avgGain, avgLoss))

	for i := rsiPeriod + 1; i < len(candles); i++ {
		change := candles[i].Close - candles[i-1].Close
		var gain, loss float64
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(rsiPeriod-1) + gain) / float64(rsiPeriod)
		avgLoss = (avgLoss*float64(rsiPeriod-1) + loss) / float64(rsiPeriod)
		out[i] = models.NewIndicator(rsiFromAverages(avgGain, avgLoss))
	}
	return out
}

func rsiFromAverages(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// macdLines derives MACD = EMA12 - EMA26 and its EMA9 signal line from the
// already-computed EMAs.
func macdLines(ema12, ema26 []models.Indicator) (macd, signal []models.Indicator) {
	n := len(ema12)
	macd = make([]models.Indicator, n)
	signal = make([]models.Indicator, n)

	firstMACD := -1
	for i := 0; i < n; i++ {
		if ema12[i].Valid && ema26[i].Valid {
			macd[i] = models.NewIndicator(ema12[i].Value - ema26[i].Value)
			if firstMACD < 0 {
				firstMACD = i
			}
		}
	}
	if firstMACD < 0 || firstMACD+macdSignalPeriod > n {
		return macd, signal
	}

	multiplier := 2.0 / (float64(macdSignalPeriod) + 1.0)
	sum := 0.0
	for i := firstMACD; i < firstMACD+macdSignalPeriod; i++ {
		sum += macd[i].Value
	}
	ema := sum / float64(macdSignalPeriod)
	signal[firstMACD+macdSignalPeriod-1] = models.NewIndicator(ema)

	for i := firstMACD + macdSignalPeriod; i < n; i++ {
		ema = macd[i].Value*multiplier + ema*(1-multiplier)
		signal[i] = models.NewIndicator(ema)
	}
	return macd, signal
}

// bollingerBands is SMA20 +/- 2 population standard deviations.
func bollingerBands(values []float64) (upper, mid, lower []models.Indicator) {
	n := len(values)
	upper = make([]models.Indicator, n)
	mid = make([]models.Indicator, n)
	lower = make([]models.Indicator, n)

	for i := bollingerPeriod - 1; i < n; i++ {
		sum := 0.0
		for j := i - bollingerPeriod + 1; j <= i; j++ {
			sum += values[j]
		}
		sma := sum / float64(bollingerPeriod)

		var variance float64
		for j := i - bollingerPeriod + 1; j <= i; j++ {
			diff := values[j] - sma
			variance += diff * diff
		}
		variance /= float64(bollingerPeriod)
		stdDev := math.Sqrt(variance)

		mid[i] = models.NewIndicator(sma)
		upper[i] = models.NewIndicator(sma + bollingerWidth*stdDev)
		lower[i] = models.NewIndicator(sma - bollingerWidth*stdDev)
	}
	return upper, mid, lower
}
