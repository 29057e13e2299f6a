package main

import (
	"context"
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/surveykit/fieldsync/internal/store"
	"github.com/surveykit/fieldsync/internal/ui"
)

var clearForce bool

var clearCmd = &cobra.Command{
	Use:     "clear",
	GroupID: "cache",
	Short:   "Delete all locally cached answers",
	Long: `Delete every answer from the local cache.

Answers that were never confirmed by the gateway are lost permanently.
Use 'fieldsync sync' first to push them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		st, err := store.Open(cfg.StorePath)
		if err != nil {
			return fmt.Errorf("failed to open cache: %w", err)
		}
		defer st.Close()

		count, err := st.Count()
		if err != nil {
			return fmt.Errorf("failed to read cache: %w", err)
		}
		if count == 0 {
			fmt.Printf("%s Local answer cache is already empty\n", ui.RenderPass("✓"))
			return nil
		}

		if !clearForce {
			var confirmed bool
			form := huh.NewForm(huh.NewGroup(
				huh.NewConfirm().
					Title(fmt.Sprintf("Delete %d cached answers?", count)).
					Description("Unsynced answers will be lost permanently.").
					Value(&confirmed),
			))
			if err := form.Run(); err != nil {
				return err
			}
			if !confirmed {
				fmt.Println("Aborted")
				return nil
			}
		}

		if err := st.ClearContext(context.Background()); err != nil {
			return fmt.Errorf("failed to clear cache: %w", err)
		}

		fmt.Printf("%s Deleted %d cached answers\n", ui.RenderPass("✓"), count)
		return nil
	},
}

func init() {
	clearCmd.Flags().BoolVarP(&clearForce, "force", "f", false, "Skip confirmation prompt")
	rootCmd.AddCommand(clearCmd)
}
