package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"
)

const (
	appName = "PortRun"
	version = "v1.0.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd := &cobra.Command{
		Use:     "portrun",
		Short:   "Portfolio simulation engine",
		Version: version,
		Long: `PortRun walks historical price data step by step, rebalancing a
simulated portfolio toward allocation policy targets and reporting
performance statistics.`,
		Run: runDefaultEntry,
	}

	// Accept underscore flag spellings (--log_level) alongside dashes.
	rootCmd.SetGlobalNormalizationFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	rootCmd.PersistentFlags().String("config", "", "Path to YAML configuration file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug|info|warn|error)")

	simulateCmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a single-policy simulation",
		Long:  "Simulates one portfolio under the configured allocation policy and writes run artifacts",
		RunE:  runSimulate,
	}

	compareCmd := &cobra.Command{
		Use:   "compare",
		Short: "Run all policies and rank them",
		Long:  "Simulates one portfolio per allocation policy over the same data, ranks the results, and writes a comparison report",
		RunE:  runCompare,
	}

	for _, cmd := range []*cobra.Command{simulateCmd, compareCmd} {
		cmd.Flags().String("policy", "", "Allocation policy (simulate only; empty uses config)")
		cmd.Flags().String("frequency", "", "Rebalance frequency (daily|weekly|monthly|quarterly)")
		cmd.Flags().String("data", "", "Directory of per-symbol CSV candle files")
		cmd.Flags().String("out", "", "Artifact output directory")
		cmd.Flags().String("start", "", "Simulation start date (YYYY-MM-DD)")
		cmd.Flags().String("end", "", "Simulation end date (YYYY-MM-DD)")
		cmd.Flags().Float64("cash", 0, "Initial cash (0 uses config)")
		cmd.Flags().String("progress", "auto", "Progress output mode (auto|plain|off)")
	}

	monitorCmd := &cobra.Command{
		Use:   "monitor",
		Short: "Start the monitor HTTP server",
		Long:  "Serves /health, /runs, and /metrics for completed simulation runs",
		RunE:  runMonitor,
	}

	monitorCmd.Flags().String("host", "127.0.0.1", "HTTP server host")
	monitorCmd.Flags().Int("port", 8090, "HTTP server port")

	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(compareCmd)
	rootCmd.AddCommand(monitorCmd)

	cobra.OnInitialize(func() {
		level, err := zerolog.ParseLevel(mustString(rootCmd, "log-level"))
		if err != nil {
			level = zerolog.InfoLevel
		}
		zerolog.SetGlobalLevel(level)
	})

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// runDefaultEntry prints usage guidance; the subcommands are the
// interface.
func runDefaultEntry(cmd *cobra.Command, args []string) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprintf(os.Stderr, "%s requires a subcommand in non-interactive use:\n\n", appName)
		fmt.Fprintf(os.Stderr, "  portrun simulate --policy max_sharpe --data data/\n")
		fmt.Fprintf(os.Stderr, "  portrun compare --frequency monthly --out out/\n")
		fmt.Fprintf(os.Stderr, "  portrun monitor --port 8090\n\n")
		os.Exit(2)
	}
	_ = cmd.Help()
}

func mustString(cmd *cobra.Command, name string) string {
	v, _ := cmd.PersistentFlags().GetString(name)
	return v
}
