// Package report writes run artifacts: per-step snapshot JSONL, order
// logs, summary JSON, and markdown comparison tables.
package report

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/portrun/internal/perf"
	"github.com/sawpanic/portrun/internal/sim"
)

// Summary is the machine-readable digest of one simulation run.
type Summary struct {
	RunID       string      `json:"run_id"`
	Policy      string      `json:"policy"`
	Frequency   string      `json:"frequency"`
	InitialCash float64     `json:"initial_cash"`
	FinalValue  float64     `json:"final_value"`
	Orders      int         `json:"orders"`
	Rebalances  int         `json:"rebalances"`
	Fallbacks   int         `json:"fallbacks"`
	Performance perf.Report `json:"performance"`
	GeneratedAt time.Time   `json:"generated_at"`
}

// Writer persists run artifacts under a base directory.
type Writer struct {
	dir string
}

// NewWriter creates a Writer rooted at dir.
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

// WriteRun writes the snapshot history, order log, and summary for one
// run. Files are named after the policy. Returns the summary path.
func (w *Writer) WriteRun(summary Summary, history []perf.Snapshot, orders []sim.Order) (string, error) {
	snapLines := make([][]byte, 0, len(history))
	for _, snap := range history {
		raw, err := json.Marshal(snap)
		if err != nil {
			return "", fmt.Errorf("encode snapshot: %w", err)
		}
		snapLines = append(snapLines, raw)
	}
	snapPath := filepath.Join(w.dir, summary.Policy+"_snapshots.jsonl")
	if err := writeLinesAtomic(snapPath, snapLines); err != nil {
		return "", fmt.Errorf("write snapshots: %w", err)
	}

	orderLines := make([][]byte, 0, len(orders))
	for _, o := range orders {
		raw, err := json.Marshal(o)
		if err != nil {
			return "", fmt.Errorf("encode order: %w", err)
		}
		orderLines = append(orderLines, raw)
	}
	ordersPath := filepath.Join(w.dir, summary.Policy+"_orders.jsonl")
	if err := writeLinesAtomic(ordersPath, orderLines); err != nil {
		return "", fmt.Errorf("write orders: %w", err)
	}

	summaryPath := filepath.Join(w.dir, summary.Policy+"_summary.json")
	if err := writeJSONAtomic(summaryPath, summary); err != nil {
		return "", fmt.Errorf("write summary: %w", err)
	}

	log.Info().
		Str("run_id", summary.RunID).
		Str("policy", summary.Policy).
		Str("dir", w.dir).
		Msg("run artifacts written")
	return summaryPath, nil
}

// WriteComparison writes the ranked policy comparison as both JSON and a
// markdown table. Returns the markdown path.
func (w *Writer) WriteComparison(rows []perf.ComparisonRow) (string, error) {
	jsonPath := filepath.Join(w.dir, "comparison.json")
	if err := writeJSONAtomic(jsonPath, rows); err != nil {
		return "", fmt.Errorf("write comparison json: %w", err)
	}

	lines := [][]byte{
		[]byte("# Policy Comparison"),
		[]byte(""),
		[]byte(fmt.Sprintf("Generated %s", time.Now().UTC().Format(time.RFC3339))),
		[]byte(""),
		[]byte("| Rank | Policy | Total Return | Ann. Return | Ann. Vol | Sharpe | Max Drawdown |"),
		[]byte("|------|--------|--------------|-------------|----------|--------|--------------|"),
	}
	for _, row := range rows {
		r := row.Report
		lines = append(lines, []byte(fmt.Sprintf(
			"| %d | %s | %.2f%% | %.2f%% | %.2f%% | %.2f | %.2f%% |",
			row.Rank, row.Policy,
			r.TotalReturn*100, r.AnnualizedReturn*100, r.AnnualizedVol*100,
			r.Sharpe, r.MaxDrawdown*100,
		)))
	}

	mdPath := filepath.Join(w.dir, "comparison.md")
	if err := writeLinesAtomic(mdPath, lines); err != nil {
		return "", fmt.Errorf("write comparison markdown: %w", err)
	}

	log.Info().Int("policies", len(rows)).Str("path", mdPath).Msg("comparison written")
	return mdPath, nil
}
