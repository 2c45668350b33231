package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/nestlog/nestlog/internal/badge"
	"github.com/nestlog/nestlog/internal/schema"
	"github.com/nestlog/nestlog/internal/ui"
)

var badgeCmd = &cobra.Command{
	Use:     "badge",
	GroupID: "data",
	Short:   "Food milestones",
}

var badgeCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Unlock earned badges for the active profile",
	Long: `Count the distinct foods the active profile has tried and unlock every
badge whose threshold is met. Unlocked badges are saved on the profile.`,
	Run: func(cmd *cobra.Command, args []string) {
		s := mustReadySession(cmd)

		res, err := s.store.EvaluateBadges(cmd.Context())
		if err != nil {
			fatalf("%v", err)
		}
		tried, err := s.store.Records(schema.KeyTriedFoods)
		if err != nil {
			fatalf("%v", err)
		}
		ui.New(os.Stdout).Badges(res, badge.Distinct(tried))
	},
}

// newlyUnlocked returns the highest threshold badge unlocked in after but
// not in before.
func newlyUnlocked(before, after []schema.Badge) *schema.Badge {
	had := make(map[string]bool, len(before))
	for _, b := range before {
		if b.Unlocked {
			had[b.ID] = true
		}
	}
	var top *schema.Badge
	for i, b := range after {
		if !b.Unlocked || had[b.ID] || b.Threshold == 0 {
			continue
		}
		if top == nil || b.Threshold > top.Threshold {
			top = &after[i]
		}
	}
	return top
}

func init() {
	badgeCmd.AddCommand(badgeCheckCmd)
	rootCmd.AddCommand(badgeCmd)
}
