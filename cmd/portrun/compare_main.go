package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	progresslog "github.com/sawpanic/portrun/internal/log"
	"github.com/sawpanic/portrun/internal/metrics"
	"github.com/sawpanic/portrun/internal/perf"
	"github.com/sawpanic/portrun/internal/policy"
	"github.com/sawpanic/portrun/internal/report"
	"github.com/sawpanic/portrun/internal/sim"
)

// compareResult carries one finished policy run back to the collector.
type compareResult struct {
	policyName string
	summary    report.Summary
	history    []perf.Snapshot
	orders     []sim.Order
	err        error
}

func runCompare(cmd *cobra.Command, args []string) error {
	cfg, err := loadRunConfig(cmd)
	if err != nil {
		return err
	}
	fallback, err := cfg.FallbackPolicy()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	frame, err := loadFrame(ctx, cfg)
	if err != nil {
		return err
	}
	start, end := runWindow(cfg, frame)

	m := metrics.NewRegistry()
	names := policy.Names()
	results := make(chan compareResult, len(names))

	// One independent portfolio per policy; the frame is read-only and
	// shared.
	for _, name := range names {
		go func(name string) {
			pol, err := policy.New(name, cfg.PolicyParams())
			if err != nil {
				results <- compareResult{policyName: name, err: err}
				return
			}

			// No progress bars: interleaved output from five goroutines
			// is unreadable.
			simCfg := simConfig(cfg, fallback, m, progresslog.NewTracker(name, nil))
			p, err := sim.NewPortfolio(pol, simCfg)
			if err != nil {
				results <- compareResult{policyName: name, err: err}
				return
			}

			if err := p.Simulate(ctx, frame, start, end, cfg.Simulation.Frequency); err != nil {
				results <- compareResult{policyName: name, err: err}
				return
			}
			result, err := p.Results()
			if err != nil {
				results <- compareResult{policyName: name, err: err}
				return
			}

			results <- compareResult{
				policyName: name,
				summary:    runSummary(p, cfg, result),
				history:    p.History(),
				orders:     p.Orders(),
			}
		}(name)
	}

	writer := report.NewWriter(cfg.Output.Dir)
	histories := make(map[string][]perf.Snapshot, len(names))
	for range names {
		res := <-results
		if res.err != nil {
			return fmt.Errorf("policy %s: %w", res.policyName, res.err)
		}
		if _, err := writer.WriteRun(res.summary, res.history, res.orders); err != nil {
			return err
		}
		histories[res.policyName] = res.history
		log.Info().
			Str("policy", res.policyName).
			Float64("final_value", res.summary.FinalValue).
			Msg("policy run finished")
	}

	rows, err := perf.ComparePortfolioPerformance(histories, cfg.Simulation.RiskFreeRate, cfg.Simulation.PeriodsPerYear)
	if err != nil {
		return err
	}

	mdPath, err := writer.WriteComparison(rows)
	if err != nil {
		return err
	}

	fmt.Printf("%-5s %-15s %12s %10s %8s %10s\n", "Rank", "Policy", "Total Ret", "Ann. Vol", "Sharpe", "Max DD")
	for _, row := range rows {
		r := row.Report
		fmt.Printf("%-5d %-15s %11.2f%% %9.2f%% %8.2f %9.2f%%\n",
			row.Rank, row.Policy, r.TotalReturn*100, r.AnnualizedVol*100, r.Sharpe, r.MaxDrawdown*100)
	}
	fmt.Printf("\nReport: %s\n", mdPath)
	return nil
}
