package data

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// csvTimeLayouts are tried in order when parsing the timestamp column.
var csvTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// LoadCSV reads one symbol's candle history from a CSV file with header
// timestamp,open,high,low,close,volume. Rows must be in chronological
// order; malformed rows abort the load with row context.
func LoadCSV(path string) ([]Candle, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open candle file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = 6

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header of %s: %w", path, err)
	}
	if strings.ToLower(strings.TrimSpace(header[0])) != "timestamp" {
		return nil, fmt.Errorf("unexpected header in %s: %q", path, strings.Join(header, ","))
	}

	var candles []Candle
	row := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s row %d: %w", path, row, err)
		}
		row++

		candle, err := parseCandleRow(record)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", path, row, err)
		}
		if len(candles) > 0 && !candle.Timestamp.After(candles[len(candles)-1].Timestamp) {
			return nil, fmt.Errorf("%s row %d: timestamps not strictly increasing", path, row)
		}
		candles = append(candles, candle)
	}

	if len(candles) == 0 {
		return nil, fmt.Errorf("%s contains no candle rows", path)
	}
	return candles, nil
}

// LoadCSVDir loads every *.csv file in dir as one symbol, keyed by the
// upper-cased file stem (aapl.csv -> AAPL).
func LoadCSVDir(dir string) (map[string][]Candle, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read candle directory: %w", err)
	}

	series := make(map[string][]Candle)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(strings.ToLower(entry.Name()), ".csv") {
			continue
		}

		symbol := strings.ToUpper(strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name())))
		candles, err := LoadCSV(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", symbol, err)
		}
		series[symbol] = candles

		log.Debug().
			Str("symbol", symbol).
			Int("candles", len(candles)).
			Msg("loaded candle series")
	}

	if len(series) == 0 {
		return nil, fmt.Errorf("no CSV candle files found in %s", dir)
	}
	return series, nil
}

func parseCandleRow(record []string) (Candle, error) {
	ts, err := parseTimestamp(strings.TrimSpace(record[0]))
	if err != nil {
		return Candle{}, err
	}

	fields := make([]float64, 5)
	names := []string{"open", "high", "low", "close", "volume"}
	for i := 0; i < 5; i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(record[i+1]), 64)
		if err != nil {
			return Candle{}, fmt.Errorf("parse %s: %w", names[i], err)
		}
		fields[i] = v
	}

	return Candle{
		Timestamp: ts,
		Open:      fields[0],
		High:      fields[1],
		Low:       fields[2],
		Close:     fields[3],
		Volume:    fields[4],
	}, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	for _, layout := range csvTimeLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}
