package main

import (
	"encoding/json"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nestlog/nestlog/internal/schema"
	"github.com/nestlog/nestlog/internal/store"
	"github.com/nestlog/nestlog/internal/ui"
)

var recordCmd = &cobra.Command{
	Use:     "record",
	GroupID: "data",
	Short:   "Add, list and edit records",
	Long: `Records live in collections: ` + collectionList() + `.

Records are owned by the active profile. Switch profiles with 'nest profile use'.`,
}

var recordAddCmd = &cobra.Command{
	Use:   "add <collection>",
	Short: "Add a record to a collection",
	Long: `Add a record owned by the active profile.

Examples:
  nest record add triedFoods --field name=avocado --field liked=true
  nest record add feedLogs --field amountMl=120 --at "today 6:30am"
  nest record add growthLogs --json '{"weightKg": 7.4, "heightCm": 66}'`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		key := mustCollection(args[0])
		s := mustReadySession(cmd)

		r, err := recordFromFlags(cmd, time.Now())
		if err != nil {
			fatalf("%v", err)
		}

		before, _ := s.store.ActiveProfile()
		added, err := s.store.AddRecord(cmd.Context(), key, r)
		if errors.Is(err, store.ErrNoProfile) {
			fatalf("no profile yet; create one with 'nest profile add'")
		}
		if err != nil {
			fatalf("%v", err)
		}
		p := ui.New(os.Stdout)
		p.Success("Added %s %s", key, added.ID)

		if key == schema.KeyTriedFoods {
			after, _ := s.store.ActiveProfile()
			if b := newlyUnlocked(before.Badges, after.Badges); b != nil {
				p.Success("New badge: %d foods tried!", b.Threshold)
			}
		}
	},
}

var recordListCmd = &cobra.Command{
	Use:   "list [collection...]",
	Short: "List records of the active profile",
	Long: `List records of the active profile. Without arguments every collection
that has records is shown. --all includes records of every profile.`,
	Run: func(cmd *cobra.Command, args []string) {
		keys := schema.RecordKeys
		if len(args) > 0 {
			keys = make([]schema.Key, len(args))
			for i, a := range args {
				keys[i] = mustCollection(a)
			}
		}
		all, _ := cmd.Flags().GetBool("all")

		s := mustReadySession(cmd)
		p := ui.New(os.Stdout)

		for _, key := range keys {
			var records schema.Collection
			var err error
			if all {
				records, err = s.store.AllRecords(key)
			} else {
				records, err = s.store.Records(key)
			}
			if err != nil {
				fatalf("%v", err)
			}
			if len(records) == 0 && len(args) == 0 {
				continue
			}
			p.Records(key, records)
		}
	},
}

var recordUpdateCmd = &cobra.Command{
	Use:   "update <collection> <id>",
	Short: "Change fields of a record",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		key := mustCollection(args[0])
		s := mustReadySession(cmd)

		records, err := s.store.Records(key)
		if err != nil {
			fatalf("%v", err)
		}
		i := records.Index(args[1])
		if i < 0 {
			fatalf("%s %s not found", key, args[1])
		}

		r := records[i]
		changes, err := recordFromFlags(cmd, time.Now())
		if err != nil {
			fatalf("%v", err)
		}
		if r.Fields == nil {
			r.Fields = make(map[string]json.RawMessage)
		}
		for name, v := range changes.Fields {
			r.Fields[name] = v
		}
		if unset, _ := cmd.Flags().GetStringSlice("unset"); len(unset) > 0 {
			for _, name := range unset {
				delete(r.Fields, name)
			}
		}

		if err := s.store.UpdateRecord(cmd.Context(), key, r); err != nil {
			fatalf("%v", err)
		}
		ui.New(os.Stdout).Success("Updated %s %s", key, r.ID)
	},
}

var recordDeleteCmd = &cobra.Command{
	Use:   "delete <collection> <id>",
	Short: "Delete a record",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		key := mustCollection(args[0])
		s := mustReadySession(cmd)

		err := s.store.DeleteRecord(cmd.Context(), key, args[1])
		if errors.Is(err, store.ErrNotFound) {
			fatalf("%s %s not found", key, args[1])
		}
		if err != nil {
			fatalf("%v", err)
		}
		ui.New(os.Stdout).Success("Deleted %s %s", key, args[1])
	},
}

// recordFromFlags builds a record from --json, --field and --at.
func recordFromFlags(cmd *cobra.Command, now time.Time) (schema.Record, error) {
	var r schema.Record

	if raw, _ := cmd.Flags().GetString("json"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return schema.Record{}, err
		}
	}
	if r.Fields == nil {
		r.Fields = make(map[string]json.RawMessage)
	}

	pairs, _ := cmd.Flags().GetStringArray("field")
	if err := applyFields(&r, pairs); err != nil {
		return schema.Record{}, err
	}

	if at, _ := cmd.Flags().GetString("at"); at != "" {
		t, err := parseAt(at, now)
		if err != nil {
			return schema.Record{}, err
		}
		if err := r.SetField("date", t.Format(time.RFC3339)); err != nil {
			return schema.Record{}, err
		}
	}
	return r, nil
}

func mustCollection(name string) schema.Key {
	key, err := schema.ParseRecordKey(name)
	if err != nil {
		fatalf("%v (collections: %s)", err, collectionList())
	}
	return key
}

func collectionList() string {
	names := make([]string, len(schema.RecordKeys))
	for i, k := range schema.RecordKeys {
		names[i] = k.String()
	}
	return strings.Join(names, ", ")
}

func init() {
	for _, c := range []*cobra.Command{recordAddCmd, recordUpdateCmd} {
		c.Flags().StringArrayP("field", "f", nil, "Field as name=value (repeatable)")
		c.Flags().String("json", "", "Record fields as a JSON object")
		c.Flags().String("at", "", `When it happened, e.g. "2026-01-02 14:00" or "yesterday 3pm"`)
	}
	recordUpdateCmd.Flags().StringSlice("unset", nil, "Fields to remove")
	recordListCmd.Flags().Bool("all", false, "Include records of every profile")

	recordCmd.AddCommand(recordAddCmd)
	recordCmd.AddCommand(recordListCmd)
	recordCmd.AddCommand(recordUpdateCmd)
	recordCmd.AddCommand(recordDeleteCmd)
	rootCmd.AddCommand(recordCmd)
}
