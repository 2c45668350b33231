package main

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nestlog/nestlog/internal/partition"
	"github.com/nestlog/nestlog/internal/schema"
	"github.com/nestlog/nestlog/internal/store"
	"github.com/nestlog/nestlog/internal/ui"
)

var profileCmd = &cobra.Command{
	Use:     "profile",
	GroupID: "data",
	Short:   "Manage tracked children",
	Long: `Create, list and switch between profiles. Every record belongs to one
profile; records written before profiles existed belong to the first one.`,
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List profiles",
	Run: func(cmd *cobra.Command, args []string) {
		s := mustReadySession(cmd)
		p := ui.New(os.Stdout)

		profiles := s.store.Profiles()
		active, _ := s.store.ActiveProfile()

		counts := make(map[string]int, len(profiles))
		for _, key := range schema.RecordKeys {
			records, err := s.store.AllRecords(key)
			if err != nil {
				fatalf("%v", err)
			}
			for id, n := range partition.Counts(records, profiles) {
				counts[id] += n
			}
		}
		p.Profiles(profiles, active.ID, counts)
	},
}

var profileAddCmd = &cobra.Command{
	Use:   "add [name]",
	Short: "Add a profile",
	Long: `Add a profile. The first profile becomes the active one.

Without a name on an interactive terminal a short form asks for the
details.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		s := mustReadySession(cmd)
		p := ui.New(os.Stdout)

		prof := profileFromFlags(cmd)
		if len(args) == 1 {
			prof.BabyName = strings.TrimSpace(args[0])
		}
		if prof.BabyName == "" {
			if !ui.IsTerminal() {
				fatalf("a name is required")
			}
			var err error
			prof, err = ui.ProfileForm(prof)
			if err != nil {
				fatalf("%v", err)
			}
		}

		created, err := s.store.CreateProfile(cmd.Context(), prof)
		if err != nil {
			fatalf("%v", err)
		}
		p.Success("Added %s (%s)", created.BabyName, created.ID)

		if active, ok := s.store.ActiveProfile(); ok && active.ID == created.ID {
			p.Println("   Active profile is now", created.BabyName)
		}
	},
}

var profileUseCmd = &cobra.Command{
	Use:   "use <name-or-id>",
	Short: "Switch the active profile",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		s := mustReadySession(cmd)

		prof, err := findProfile(s.store, args[0])
		if err != nil {
			fatalf("%v", err)
		}
		if err := s.store.SetActiveProfile(cmd.Context(), prof.ID); err != nil {
			fatalf("%v", err)
		}
		ui.New(os.Stdout).Success("Active profile is now %s", prof.BabyName)
	},
}

var profileUpdateCmd = &cobra.Command{
	Use:   "update [name-or-id]",
	Short: "Change a profile's details",
	Long:  `Change a profile's details. Without an argument the active profile is updated.`,
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		s := mustReadySession(cmd)

		var prof schema.Profile
		if len(args) == 1 {
			var err error
			if prof, err = findProfile(s.store, args[0]); err != nil {
				fatalf("%v", err)
			}
		} else {
			var ok bool
			if prof, ok = s.store.ActiveProfile(); !ok {
				fatalf("%v", store.ErrNoProfile)
			}
		}

		var patch schema.ProfilePatch
		flags := cmd.Flags()
		fields := map[string]**string{
			"name":       &patch.BabyName,
			"birth-date": &patch.BirthDate,
			"sex":        &patch.Sex,
			"notes":      &patch.Notes,
		}
		changed := false
		for name, field := range fields {
			if flags.Changed(name) {
				v, _ := flags.GetString(name)
				*field = &v
				changed = true
			}
		}
		if !changed {
			fatalf("nothing to update; use --name, --birth-date, --sex or --notes")
		}

		updated, err := s.store.UpdateProfile(cmd.Context(), prof.ID, patch)
		if err != nil {
			fatalf("%v", err)
		}
		ui.New(os.Stdout).Success("Updated %s", updated.BabyName)
	},
}

func profileFromFlags(cmd *cobra.Command) schema.Profile {
	var p schema.Profile
	p.BabyName, _ = cmd.Flags().GetString("name")
	p.BirthDate, _ = cmd.Flags().GetString("birth-date")
	p.Sex, _ = cmd.Flags().GetString("sex")
	p.Notes, _ = cmd.Flags().GetString("notes")
	return p
}

// findProfile resolves an id, or a case-insensitive name when it is unique.
func findProfile(s *store.Store, ref string) (schema.Profile, error) {
	profiles := s.Profiles()
	if i := schema.FindProfile(profiles, ref); i >= 0 {
		return profiles[i], nil
	}

	var match []schema.Profile
	for _, p := range profiles {
		if strings.EqualFold(p.BabyName, ref) {
			match = append(match, p)
		}
	}
	switch len(match) {
	case 0:
		return schema.Profile{}, errors.New("no profile named " + ref)
	case 1:
		return match[0], nil
	default:
		return schema.Profile{}, errors.New("several profiles are named " + ref + "; use the id")
	}
}

// mustReadySession opens the session and, with a mirror, waits briefly for
// its current state so writes do not start from a stale cache.
func mustReadySession(cmd *cobra.Command) *session {
	s := mustSession(cmd)
	if s.client == nil {
		return s
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Second)
	defer cancel()
	if err := s.store.WaitReady(ctx); err != nil {
		logs.For("nest").Printf("Warning: %v; continuing with cached data", err)
	}
	return s
}

func init() {
	for _, c := range []*cobra.Command{profileAddCmd, profileUpdateCmd} {
		c.Flags().String("name", "", "Baby's name")
		c.Flags().String("birth-date", "", "Birth date (YYYY-MM-DD)")
		c.Flags().String("sex", "", "Sex (female, male or empty)")
		c.Flags().String("notes", "", "Free-form notes")
	}

	profileCmd.AddCommand(profileListCmd)
	profileCmd.AddCommand(profileAddCmd)
	profileCmd.AddCommand(profileUseCmd)
	profileCmd.AddCommand(profileUpdateCmd)
	rootCmd.AddCommand(profileCmd)
}
