package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/surveykit/fieldsync/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Reconcile with the gateway and flush pending answers",
	Long: `Run one full sync pass against the answer gateway.

This performs:
  1. Database-first reconciliation (server answers win, stale local
     copies are evicted, gateway gaps are filled from the local cache)
  2. A forced flush of every answer still waiting in local state`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		s, err := openSession(cfg, nil)
		if err != nil {
			return err
		}
		defer s.close()

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		fmt.Printf("%s Reconciling with %s...\n", ui.RenderAccent("🔄"), cfg.GatewayURL)
		start := time.Now()

		if err := s.engine.Reconcile(ctx); err != nil {
			return err
		}
		if !s.engine.Online() {
			fmt.Printf("%s Gateway unreachable; restored answers from local cache\n", ui.RenderWarn("⚠"))
		}

		flushed, failed := s.engine.FlushPending(ctx, true)

		elapsed := time.Since(start).Round(time.Millisecond)
		if failed > 0 {
			fmt.Printf("%s Sync incomplete in %v: %d confirmed, %d still local\n",
				ui.RenderWarn("⚠"), elapsed, flushed, failed)
			os.Exit(1)
		}

		fmt.Printf("%s Sync complete in %v\n", ui.RenderPass("✓"), elapsed)
		fmt.Printf("   Confirmed: %d\n", flushed)
		fmt.Printf("   Cache: %s\n", cfg.StorePath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
