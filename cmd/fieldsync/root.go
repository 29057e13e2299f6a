package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/surveykit/fieldsync/internal/config"
	"github.com/surveykit/fieldsync/internal/engine"
	"github.com/surveykit/fieldsync/internal/form"
	"github.com/surveykit/fieldsync/internal/gateway"
	"github.com/surveykit/fieldsync/internal/store"
	"github.com/surveykit/fieldsync/internal/tracker"
)

var (
	cfgFile string
	userID  string
)

var rootCmd = &cobra.Command{
	Use:   "fieldsync",
	Short: "Offline-first answer sync for field surveys",
	Long: `fieldsync keeps survey answers safe on unreliable connections.

Every answer is pushed to the answer gateway after a short debounce.
When the gateway is unreachable, answers fall back to a durable local
SQLite cache and are retried with backoff until the gateway confirms
them. On startup the gateway's copy wins over stale local records.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ./fieldsync.yaml)")
	rootCmd.PersistentFlags().StringVar(&userID, "user", "", "User ID for gateway requests (overrides config)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "cache", Title: "Cache Commands:"},
	)
}

// loadConfig resolves configuration with the --user flag on top.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if userID != "" {
		cfg.UserID = userID
	}
	return cfg, nil
}

// session bundles the wired components for one CLI invocation.
type session struct {
	cfg     *config.Config
	store   *store.Store
	tracker *tracker.Tracker
	model   *form.Model
	engine  *engine.Engine
}

// openSession wires store, form model, gateway, and engine from config.
func openSession(cfg *config.Config, logger *log.Logger) (*session, error) {
	def, err := form.Load(cfg.FormPath)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.StorePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open local answer store: %w", err)
	}

	tr := tracker.New()
	model := form.NewModel(def)
	gw := gateway.NewClient(cfg.GatewayURL, cfg.UserID, logger)

	eng := engine.New(st, tr, model, gw, &engine.Config{
		Debounce:         cfg.Debounce,
		FeedbackDelay:    cfg.FeedbackDelay,
		RetryInterval:    cfg.RetryInterval,
		SnapshotInterval: cfg.SnapshotInterval,
		BackoffBase:      cfg.BackoffBase,
		BackoffCap:       cfg.BackoffCap,
		UserID:           cfg.UserID,
		Logger:           logger,
	})

	return &session{
		cfg:     cfg,
		store:   st,
		tracker: tr,
		model:   model,
		engine:  eng,
	}, nil
}

func (s *session) close() {
	if err := s.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close answer store: %v\n", err)
	}
}
