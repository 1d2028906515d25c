package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/portrun/internal/config"
	httpserver "github.com/sawpanic/portrun/internal/interfaces/http"
	"github.com/sawpanic/portrun/internal/metrics"
	"github.com/sawpanic/portrun/internal/report"
)

func runMonitor(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := loadMonitorConfig(path)
	if err != nil {
		return err
	}

	serverCfg := httpserver.DefaultServerConfig()
	if v, _ := cmd.Flags().GetString("host"); v != "" {
		serverCfg.Host = v
	}
	if v, _ := cmd.Flags().GetInt("port"); v > 0 {
		serverCfg.Port = v
	}

	runs := httpserver.NewRunStore()
	loadExistingRuns(runs, cfg)

	srv, err := httpserver.NewServer(serverCfg, metrics.NewRegistry(), runs)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// loadMonitorConfig resolves the artifact directory the monitor serves
// runs from. With no config file it uses the default output directory.
func loadMonitorConfig(path string) (string, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return "", err
	}
	return cfg.Output.Dir, nil
}

// loadExistingRuns publishes summaries already on disk so a restarted
// monitor serves previous runs.
func loadExistingRuns(runs *httpserver.RunStore, dir string) {
	matches, err := filepath.Glob(filepath.Join(dir, "*_summary.json"))
	if err != nil {
		return
	}
	for _, path := range matches {
		raw, err := os.ReadFile(path)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("skipping unreadable summary")
			continue
		}
		var summary report.Summary
		if err := json.Unmarshal(raw, &summary); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("skipping malformed summary")
			continue
		}
		runs.Put(summary)
	}
	log.Info().Int("runs", len(runs.List())).Str("dir", dir).Msg("loaded existing run summaries")
}
