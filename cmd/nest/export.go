package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nestlog/nestlog/internal/schema"
)

var exportCmd = &cobra.Command{
	Use:     "export",
	GroupID: "data",
	Short:   "Write profiles and records as JSON or YAML",
	Long: `Write profiles and records to stdout or a file.

By default only the active profile's records are exported; --all exports
every profile's records with their owner tags.`,
	Run: func(cmd *cobra.Command, args []string) {
		format, _ := cmd.Flags().GetString("format")
		all, _ := cmd.Flags().GetBool("all")
		out, _ := cmd.Flags().GetString("output")

		s := mustReadySession(cmd)

		doc, err := buildExport(s, all)
		if err != nil {
			fatalf("%v", err)
		}

		var w io.Writer = os.Stdout
		if out != "" {
			f, err := os.Create(out)
			if err != nil {
				fatalf("failed to create %s: %v", out, err)
			}
			defer f.Close()
			w = f
		}

		if err := writeExport(w, doc, format); err != nil {
			fatalf("%v", err)
		}
	},
}

// exportDoc is the exported shape. Records are converted to plain values so
// both encoders see ordinary maps.
type exportDoc struct {
	ActiveProfileID string           `json:"activeProfileId" yaml:"activeProfileId"`
	Profiles        []any            `json:"profiles" yaml:"profiles"`
	Collections     map[string][]any `json:"collections" yaml:"collections"`
}

func buildExport(s *session, all bool) (*exportDoc, error) {
	active, _ := s.store.ActiveProfile()
	doc := &exportDoc{
		ActiveProfileID: active.ID,
		Collections:     make(map[string][]any),
	}

	for _, p := range s.store.Profiles() {
		v, err := plain(p)
		if err != nil {
			return nil, err
		}
		doc.Profiles = append(doc.Profiles, v)
	}

	for _, key := range schema.RecordKeys {
		var records schema.Collection
		var err error
		if all {
			records, err = s.store.AllRecords(key)
		} else {
			records, err = s.store.Records(key)
		}
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			continue
		}
		values := make([]any, 0, len(records))
		for _, r := range records {
			v, err := plain(r)
			if err != nil {
				return nil, err
			}
			values = append(values, v)
		}
		doc.Collections[key.String()] = values
	}
	return doc, nil
}

func writeExport(w io.Writer, doc *exportDoc, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q (use json or yaml)", format)
	}
}

// plain round-trips v through JSON into maps and slices.
func plain(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func init() {
	exportCmd.Flags().String("format", "json", "Output format: json or yaml")
	exportCmd.Flags().Bool("all", false, "Export records of every profile")
	exportCmd.Flags().StringP("output", "o", "", "Write to a file instead of stdout")
	rootCmd.AddCommand(exportCmd)
}
