package marketdata

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"dcapilot/internal/models"
)

var csvHeader = []string{"timestamp", "open", "high", "low", "close", "volume"}

// WriteCandlesCSV writes candles to path with a header row. Timestamps are
// RFC3339 UTC so the files diff cleanly and load back exactly.
func WriteCandlesCSV(path string, candles []models.Candle) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("marketdata: create csv dir: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("marketdata: create csv: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	defer w.Flush()

	if err := w.Write(csvHeader); err != nil {
		return fmt.Errorf("marketdata: write csv header: %w", err)
	}
	for _, c := range candles {
		row := []string{
			c.Timestamp.UTC().Format(time.RFC3339),
			strconv.FormatFloat(c.Open, 'f', -1, 64),
			strconv.FormatFloat(c.High, 'f', -1, 64),
			strconv.FormatFloat(c.Low, 'f', -1, 64),
			strconv.FormatFloat(c.Close, 'f', -1, 64),
			strconv.FormatFloat(c.Volume, 'f', -1, 64),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("marketdata: write csv row: %w", err)
		}
	}
	if err := w.Error(); err != nil {
		return fmt.Errorf("marketdata: flush csv: %w", err)
	}
	return nil
}

// LoadCandlesCSV reads candles written by WriteCandlesCSV (or hand-prepared
// files with the same header), oldest first as stored.
func LoadCandlesCSV(path string) ([]models.Candle, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("marketdata: open csv: %w", err)
	}
	defer file.Close()

	r := csv.NewReader(file)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("marketdata: read csv: %w", err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("marketdata: csv %s has no data rows", path)
	}

	candles := make([]models.Candle, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if len(row) != len(csvHeader) {
			return nil, fmt.Errorf("marketdata: csv row %d: %d fields, want %d", i+2, len(row), len(csvHeader))
		}
		ts, err := time.Parse(time.RFC3339, row[0])
		if err != nil {
			return nil, fmt.Errorf("marketdata: csv row %d timestamp: %w", i+2, err)
		}
		vals := make([]float64, 5)
		for j := 1; j <= 5; j++ {
			vals[j-1], err = strconv.ParseFloat(row[j], 64)
			if err != nil {
				return nil, fmt.Errorf("marketdata: csv row %d field %s: %w", i+2, csvHeader[j], err)
			}
		}
		candles = append(candles, models.Candle{
			Timestamp: ts.UTC(),
			Open:      vals[0],
			High:      vals[1],
			Low:       vals[2],
			Close:     vals[3],
			Volume:    vals[4],
		})
	}
	return candles, nil
}
