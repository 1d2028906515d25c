package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sawpanic/portrun/internal/config"
	"github.com/sawpanic/portrun/internal/data"
	"github.com/sawpanic/portrun/internal/data/postgres"
	progresslog "github.com/sawpanic/portrun/internal/log"
	"github.com/sawpanic/portrun/internal/metrics"
	"github.com/sawpanic/portrun/internal/perf"
	"github.com/sawpanic/portrun/internal/policy"
	"github.com/sawpanic/portrun/internal/report"
	"github.com/sawpanic/portrun/internal/sim"
)

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg, err := loadRunConfig(cmd)
	if err != nil {
		return err
	}

	pol, err := policy.New(cfg.Policy.Name, cfg.PolicyParams())
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
	tracker := newTracker(cmd, "simulate "+pol.Name())

	simCfg := simConfig(cfg, fallback, m, tracker)
	p, err := sim.NewPortfolio(pol, simCfg)
	if err != nil {
		return err
	}

	if err := p.Simulate(ctx, frame, start, end, cfg.Simulation.Frequency); err != nil {
		tracker.Fail(err.Error())
		return err
	}
	tracker.Finish()

	result, err := p.Results()
	if err != nil {
		return err
	}

	writer := report.NewWriter(cfg.Output.Dir)
	summaryPath, err := writer.WriteRun(runSummary(p, cfg, result), p.History(), p.Orders())
	if err != nil {
		return err
	}

	fmt.Printf("Policy:        %s\n", pol.Name())
	fmt.Printf("Final value:   %.2f\n", p.TotalValue())
	fmt.Printf("Total return:  %.2f%%\n", result.TotalReturn*100)
	fmt.Printf("Sharpe:        %.2f\n", result.Sharpe)
	fmt.Printf("Max drawdown:  %.2f%%\n", result.MaxDrawdown*100)
	fmt.Printf("Summary:       %s\n", summaryPath)
	return nil
}

// loadRunConfig loads the YAML config and layers CLI flag overrides on
// top.
func loadRunConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}

	if v, _ := cmd.Flags().GetString("policy"); v != "" {
		cfg.Policy.Name = v
	}
	if v, _ := cmd.Flags().GetString("frequency"); v != "" {
		cfg.Simulation.Frequency = v
	}
	if v, _ := cmd.Flags().GetString("data"); v != "" {
		cfg.Data.CSVDir = v
	}
	if v, _ := cmd.Flags().GetString("out"); v != "" {
		cfg.Output.Dir = v
	}
	if v, _ := cmd.Flags().GetFloat64("cash"); v > 0 {
		cfg.Simulation.InitialCash = v
	}
	for flag, dst := range map[string]*time.Time{
		"start": &cfg.Simulation.Start,
		"end":   &cfg.Simulation.End,
	} {
		if v, _ := cmd.Flags().GetString(flag); v != "" {
			ts, err := time.Parse("2006-01-02", v)
			if err != nil {
				return config.Config{}, fmt.Errorf("invalid --%s date %q: %w", flag, v, err)
			}
			*dst = ts
		}
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// loadFrame builds the price frame from the configured source: a CSV
// directory, or Postgres optionally fronted by the Redis series cache
// and a circuit breaker.
func loadFrame(ctx context.Context, cfg config.Config) (*data.Frame, error) {
	if cfg.Data.PostgresDSN == "" {
		series, err := data.LoadCSVDir(cfg.Data.CSVDir)
		if err != nil {
			return nil, err
		}
		return data.NewFrame(series)
	}

	db, err := postgres.Connect(cfg.Data.PostgresDSN)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	var repo data.CandleRepo = data.NewBreakerRepo(postgres.NewCandlesRepo(db, 10*time.Second), "candles")
	if cfg.Data.RedisAddr != "" {
		cache := data.NewRedisSeriesCache(cfg.Data.RedisAddr, "", cfg.Data.RedisDB, cfg.Data.CacheTTL)
		defer cache.Close()
		repo = data.NewCachedRepo(repo, cache)
	}

	tr := data.TimeRange{From: cfg.Simulation.Start, To: cfg.Simulation.End}
	if tr.To.IsZero() {
		tr.To = time.Now()
	}

	series := make(map[string][]data.Candle, len(cfg.Data.Symbols))
	for _, symbol := range cfg.Data.Symbols {
		candles, err := repo.ListCandles(ctx, symbol, tr, 0)
		if err != nil {
			return nil, fmt.Errorf("load candles for %s: %w", symbol, err)
		}
		if len(candles) == 0 {
			log.Warn().Str("symbol", symbol).Msg("no candles in range, skipping symbol")
			continue
		}
		series[symbol] = candles
	}
	return data.NewFrame(series)
}

// runWindow resolves the simulation window, defaulting to the full
// extent of the loaded frame.
func runWindow(cfg config.Config, frame *data.Frame) (time.Time, time.Time) {
	start := cfg.Simulation.Start
	end := cfg.Simulation.End
	if start.IsZero() {
		start = frame.Timestamp(0)
	}
	if end.IsZero() {
		end = frame.Timestamp(frame.Len() - 1).Add(time.Second)
	}
	return start, end
}

func simConfig(cfg config.Config, fallback policy.AllocationPolicy, m *metrics.Registry, tracker *progresslog.Tracker) sim.Config {
	return sim.Config{
		InitialCash:    cfg.Simulation.InitialCash,
		CostRate:       cfg.Simulation.CostRate,
		CostInTarget:   cfg.Simulation.CostInTarget,
		Frequency:      cfg.Simulation.Frequency,
		ReturnWindow:   cfg.Simulation.ReturnWindow,
		RiskFreeRate:   cfg.Simulation.RiskFreeRate,
		PeriodsPerYear: cfg.Simulation.PeriodsPerYear,
		Fallback:       fallback,
		Recorder:       m,
		Progress:       tracker.Update,
	}
}

// newTracker picks the progress destination from --progress: auto uses
// the terminal when stdout is a TTY, plain always renders, off disables.
func newTracker(cmd *cobra.Command, name string) *progresslog.Tracker {
	mode, _ := cmd.Flags().GetString("progress")
	switch mode {
	case "off":
		return progresslog.NewTracker(name, nil)
	case "plain":
		return progresslog.NewTracker(name, os.Stdout)
	default:
		if term.IsTerminal(int(os.Stdout.Fd())) {
			return progresslog.NewTracker(name, os.Stdout)
		}
		return progresslog.NewTracker(name, nil)
	}
}

func runSummary(p *sim.Portfolio, cfg config.Config, result perf.Report) report.Summary {
	rebalances, fallbacks := p.Rebalances()
	return report.Summary{
		RunID:       p.ID(),
		Policy:      p.PolicyName(),
		Frequency:   cfg.Simulation.Frequency,
		InitialCash: cfg.Simulation.InitialCash,
		FinalValue:  p.TotalValue(),
		Orders:      len(p.Orders()),
		Rebalances:  rebalances,
		Fallbacks:   fallbacks,
		Performance: result,
		GeneratedAt: time.Now().UTC(),
	}
}
