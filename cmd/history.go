package cmd

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/labhub/uploadq/internal/config"
	"github.com/labhub/uploadq/internal/history"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recently finished uploads",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := config.LoadSettings()
		if err != nil {
			settings = config.DefaultSettings()
		}

		store, err := history.Open(settings.GetHistoryPath())
		if err != nil {
			return err
		}
		defer store.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		entries, err := store.Recent(limit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("no uploads recorded yet")
			return nil
		}

		for _, e := range entries {
			line := fmt.Sprintf("%s  %-9s  %-30s  %8s  %s",
				e.CreatedAt.Format("2006-01-02 15:04:05"),
				e.Status,
				e.Name,
				humanize.Bytes(uint64(e.Size)),
				e.Duration.Round(10*time.Millisecond).String(),
			)
			if e.Error != "" {
				line += "  (" + e.Error + ")"
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().Int("limit", 20, "maximum entries to show")
}
