package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/surveykit/fieldsync/internal/dashboard"
	"github.com/surveykit/fieldsync/internal/engine"
	"github.com/surveykit/fieldsync/internal/form"
	"github.com/surveykit/fieldsync/internal/spool"
	"github.com/surveykit/fieldsync/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run the sync engine as a foreground daemon",
	Long: `Run the full sync engine until interrupted.

The daemon:
  1. Reconciles with the gateway on startup (server answers win)
  2. Watches the spool directory for JSON edit drops
  3. Debounces and pushes edits, falling back to the local cache
  4. Retries pending answers and snapshots unconfirmed values
  5. Optionally serves the WebSocket dashboard and /metrics

Edits are dropped into the spool as one JSON file per change:
  {"fieldId": "q1", "value": "42"}`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.SpoolDir == "" {
			return fmt.Errorf("spool_dir must be configured for daemon mode")
		}

		logger := log.New(os.Stderr, "[fieldsync] ", log.LstdFlags)
		if cfg.LogFile != "" {
			logger.SetOutput(&lumberjack.Logger{
				Filename:   cfg.LogFile,
				MaxSize:    10, // megabytes
				MaxBackups: 3,
				MaxAge:     28, // days
				Compress:   true,
			})
		}

		s, err := openSession(cfg, logger)
		if err != nil {
			return err
		}
		defer s.close()

		registry := prometheus.NewRegistry()
		s.engine.SetMetrics(engine.NewMetrics(registry))

		var dash *dashboard.Server
		if cfg.DashboardPort > 0 {
			dash = dashboard.NewServer(&dashboard.Config{
				Port:     cfg.DashboardPort,
				Registry: registry,
				Logger:   log.New(logger.Writer(), "[dashboard] ", log.LstdFlags),
			})
			if err := dash.Start(); err != nil {
				return err
			}
			defer func() {
				if err := dash.Stop(); err != nil {
					logger.Printf("Dashboard shutdown error: %v", err)
				}
			}()

			s.engine.SetNotifier(dash)
			s.engine.SetProgressWatcher(form.NewWatcher(
				s.model, form.DefaultRecomputeDebounce, dash.BroadcastProgress))
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		fmt.Printf("%s Starting fieldsync daemon...\n", ui.RenderAccent("🚀"))
		fmt.Printf("   Gateway: %s\n", cfg.GatewayURL)
		fmt.Printf("   Spool: %s\n", cfg.SpoolDir)
		fmt.Printf("   Cache: %s\n", cfg.StorePath)
		if dash != nil {
			fmt.Printf("   Dashboard: ws://localhost:%d/ws\n", cfg.DashboardPort)
		}
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		if err := s.engine.Reconcile(ctx); err != nil {
			logger.Printf("Startup reconciliation failed: %v", err)
		}

		s.engine.Start(ctx)
		defer s.engine.Stop()

		watcher, err := spool.NewWatcher(cfg.SpoolDir, s.engine, logger)
		if err != nil {
			return err
		}
		if err := watcher.Start(); err != nil {
			return err
		}
		defer func() {
			if err := watcher.Stop(); err != nil {
				logger.Printf("Spool shutdown error: %v", err)
			}
		}()

		<-ctx.Done()

		fmt.Println("\nShutting down, flushing pending answers...")
		flushed, failed := s.engine.FlushPending(context.Background(), true)
		if failed > 0 {
			fmt.Printf("%s %d answers remain in the local cache\n", ui.RenderWarn("⚠"), failed)
		} else if flushed > 0 {
			fmt.Printf("%s All pending answers confirmed\n", ui.RenderPass("✓"))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
