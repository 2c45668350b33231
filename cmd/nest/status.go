package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/nestlog/nestlog/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "setup",
	Short:   "Show profiles, record counts and sync state",
	Run: func(cmd *cobra.Command, args []string) {
		s := mustReadySession(cmd)
		p := ui.New(os.Stdout)

		p.Status(s.store.Status())

		stats, err := s.cache.Stats()
		if err != nil {
			fatalf("%v", err)
		}
		p.Println()
		p.Cache(s.cache.Path(), stats)
		if cfg.SyncEnabled() {
			state := "connected"
			if s.client == nil {
				state = "offline"
			}
			p.Println("  Mirror", cfg.Mirror.URL, "("+state+")")
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
