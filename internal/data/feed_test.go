package data

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(n int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func candle(ts time.Time, close float64) Candle {
	return Candle{Timestamp: ts, Open: close, High: close, Low: close, Close: close, Volume: 1000}
}

func TestNewFrame_AlignsUnionOfTimestamps(t *testing.T) {
	series := map[string][]Candle{
		"BBB": {candle(day(0), 50), candle(day(1), 51), candle(day(2), 52)},
		"AAA": {candle(day(0), 100), candle(day(2), 104)}, // gap on day 1
	}

	frame, err := NewFrame(series)
	require.NoError(t, err)

	assert.Equal(t, []string{"AAA", "BBB"}, frame.Symbols(), "symbols should come back sorted")
	assert.Equal(t, 3, frame.Len())

	price, ok := frame.Price("AAA", 0)
	require.True(t, ok)
	assert.Equal(t, 100.0, price)

	_, ok = frame.Price("AAA", 1)
	assert.False(t, ok, "missing quote should report not-ok")

	price, ok = frame.Price("BBB", 1)
	require.True(t, ok)
	assert.Equal(t, 51.0, price)
}

func TestNewFrame_RejectsEmptyAndBadCloses(t *testing.T) {
	_, err := NewFrame(nil)
	require.Error(t, err)

	_, err = NewFrame(map[string][]Candle{"AAA": {candle(day(0), -5)}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-positive close")
}

func TestWindowIndices(t *testing.T) {
	frame, err := NewFrame(map[string][]Candle{
		"AAA": {candle(day(0), 1), candle(day(1), 2), candle(day(2), 3), candle(day(3), 4)},
	})
	require.NoError(t, err)

	lo, hi := frame.WindowIndices(day(1), day(3))
	assert.Equal(t, 1, lo)
	assert.Equal(t, 3, hi)

	lo, hi = frame.WindowIndices(day(10), day(20))
	assert.Equal(t, lo, hi, "window outside the index should be empty")
}

func TestReturnsWindow_SimpleReturns(t *testing.T) {
	frame, err := NewFrame(map[string][]Candle{
		"AAA": {candle(day(0), 100), candle(day(1), 110), candle(day(2), 99)},
	})
	require.NoError(t, err)

	symbols, series := frame.ReturnsWindow(2, 2)
	require.Equal(t, []string{"AAA"}, symbols)
	require.Len(t, series[0], 2)
	assert.InDelta(t, 0.10, series[0][0], 1e-12)
	assert.InDelta(t, -0.10, series[0][1], 1e-12)
}

func TestReturnsWindow_CarriesForwardMissingQuotes(t *testing.T) {
	frame, err := NewFrame(map[string][]Candle{
		"AAA": {candle(day(0), 100), candle(day(1), 110), candle(day(2), 121)},
		"BBB": {candle(day(0), 50), candle(day(2), 55)}, // gap on day 1
	})
	require.NoError(t, err)

	_, series := frame.ReturnsWindow(2, 2)

	// BBB's day-1 quote carries forward the day-0 price: zero return,
	// then the full move lands on day 2.
	assert.InDelta(t, 0.0, series[1][0], 1e-12)
	assert.InDelta(t, 0.10, series[1][1], 1e-12)
}

func TestReturnsWindow_ClampsAtSeriesStart(t *testing.T) {
	frame, err := NewFrame(map[string][]Candle{
		"AAA": {candle(day(0), 100), candle(day(1), 101)},
	})
	require.NoError(t, err)

	_, series := frame.ReturnsWindow(1, 30)
	assert.Len(t, series[0], 1, "window larger than history should clamp to available steps")
}
