package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/surveykit/fieldsync/internal/store"
	"github.com/surveykit/fieldsync/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "cache",
	Short:   "Show local answer cache status",
	Long: `Display the current state of the local answer cache.

Shows:
  - Cache file location and size
  - Number of cached answers by save state
  - The fields still waiting for gateway confirmation`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		info, err := os.Stat(cfg.StorePath)
		if os.IsNotExist(err) {
			fmt.Printf("\n%s Local answer cache not initialized\n", ui.RenderWarn("⚠"))
			fmt.Printf("   It is created on the first unsynced answer\n\n")
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to check cache: %w", err)
		}

		st, err := store.Open(cfg.StorePath)
		if err != nil {
			return fmt.Errorf("failed to open cache: %w", err)
		}
		defer st.Close()

		records, err := st.GetAll()
		if err != nil {
			return fmt.Errorf("failed to read cache: %w", err)
		}

		byState := make(map[string]int)
		ids := make([]string, 0, len(records))
		for id, rec := range records {
			byState[string(rec.SaveState)]++
			ids = append(ids, id)
		}
		sort.Strings(ids)

		size := info.Size()
		sizeStr := fmt.Sprintf("%d bytes", size)
		if size > 1024*1024 {
			sizeStr = fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
		} else if size > 1024 {
			sizeStr = fmt.Sprintf("%.1f KB", float64(size)/1024)
		}

		fmt.Printf("\n%s Local Answer Cache\n\n", ui.RenderAccent("📊"))
		fmt.Printf("Location: %s\n", cfg.StorePath)
		fmt.Printf("Size: %s\n", sizeStr)
		fmt.Printf("Cached answers: %d\n", len(records))
		for state, n := range byState {
			fmt.Printf("  %s %s: %d\n", ui.StateIcon(state), state, n)
		}
		fmt.Printf("Modified: %s\n", info.ModTime().Format("2006-01-02 15:04:05"))

		if len(ids) > 0 {
			fmt.Printf("\nPending fields:\n")
			for _, id := range ids {
				rec := records[id]
				fmt.Printf("  %s %s = %q\n", ui.StateIcon(string(rec.SaveState)), id, rec.Value)
			}
		}
		fmt.Println()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
