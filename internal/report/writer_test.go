package report

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/portrun/internal/perf"
	"github.com/sawpanic/portrun/internal/sim"
)

func sampleHistory() []perf.Snapshot {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return []perf.Snapshot{
		{Timestamp: base, Cash: 0, PositionsValue: 100_000, TotalValue: 100_000, Weights: map[string]float64{"AAA": 0.5, "BBB": 0.5}},
		{Timestamp: base.AddDate(0, 0, 1), Cash: 0, PositionsValue: 101_000, TotalValue: 101_000, Weights: map[string]float64{"AAA": 0.5, "BBB": 0.5}},
	}
}

func TestWriteRun_ProducesArtifacts(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)

	history := sampleHistory()
	orders := []sim.Order{
		{Timestamp: history[0].Timestamp, Symbol: "AAA", Side: sim.SideBuy, Quantity: 500, Price: 100},
	}
	summary := Summary{
		RunID:       uuid.NewString(),
		Policy:      "equal_weight",
		Frequency:   "monthly",
		InitialCash: 100_000,
		FinalValue:  101_000,
		Orders:      len(orders),
		Rebalances:  1,
		GeneratedAt: time.Now().UTC(),
	}

	summaryPath, err := w.WriteRun(summary, history, orders)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "equal_weight_summary.json"), summaryPath)

	raw, err := os.ReadFile(summaryPath)
	require.NoError(t, err)
	var decoded Summary
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, summary.RunID, decoded.RunID)
	assert.Equal(t, 101_000.0, decoded.FinalValue)

	f, err := os.Open(filepath.Join(dir, "equal_weight_snapshots.jsonl"))
	require.NoError(t, err)
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var snap perf.Snapshot
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &snap))
		count++
	}
	assert.Equal(t, len(history), count)

	_, err = os.Stat(filepath.Join(dir, "equal_weight_orders.jsonl"))
	assert.NoError(t, err)
}

func TestWriteComparison_RendersRankedTable(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)

	rows := []perf.ComparisonRow{
		{Rank: 1, Policy: "max_sharpe", Report: perf.Report{TotalReturn: 0.12, Sharpe: 1.4}},
		{Rank: 2, Policy: "equal_weight", Report: perf.Report{TotalReturn: 0.08, Sharpe: 0.9}},
	}

	mdPath, err := w.WriteComparison(rows)
	require.NoError(t, err)

	raw, err := os.ReadFile(mdPath)
	require.NoError(t, err)
	md := string(raw)
	assert.Contains(t, md, "| 1 | max_sharpe |")
	assert.Contains(t, md, "| 2 | equal_weight |")
	assert.True(t, strings.Index(md, "max_sharpe") < strings.Index(md, "equal_weight"))

	raw, err = os.ReadFile(filepath.Join(dir, "comparison.json"))
	require.NoError(t, err)
	var decoded []perf.ComparisonRow
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "max_sharpe", decoded[0].Policy)
}

func TestAtomicWrite_NoTempFileLeftBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.json")

	require.NoError(t, writeJSONAtomic(path, map[string]int{"a": 1}))

	_, err := os.Stat(path)
	assert.NoError(t, err)
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}
