package ui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nestlog/nestlog/internal/badge"
	"github.com/nestlog/nestlog/internal/cache"
	"github.com/nestlog/nestlog/internal/schema"
	"github.com/nestlog/nestlog/internal/store"
)

// Profiles lists profiles, marking the active one. counts maps profile id to
// the number of records it owns.
func (p *Printer) Profiles(profiles []schema.Profile, activeID string, counts map[string]int) {
	if len(profiles) == 0 {
		p.Println(p.dim.Render("No profiles yet. Run `nest profile add` to get started."))
		return
	}

	fmt.Fprintln(p.w, p.header.Render("Profiles"))
	for _, prof := range profiles {
		marker := "  "
		name := prof.BabyName
		if prof.ID == activeID {
			marker = "* "
			name = p.current.Render(name)
		}
		line := marker + name
		if prof.BirthDate != "" {
			line += p.dim.Render("  born " + prof.BirthDate)
		}
		line += p.dim.Render(fmt.Sprintf("  %d records  %s", counts[prof.ID], prof.ID))
		fmt.Fprintln(p.w, line)
	}
}

// Records lists a collection, one record per line with fields in key order.
func (p *Printer) Records(key schema.Key, records schema.Collection) {
	fmt.Fprintln(p.w, p.header.Render(fmt.Sprintf("%s (%d)", key, len(records))))
	if len(records) == 0 {
		fmt.Fprintln(p.w, p.dim.Render("  (none)"))
		return
	}
	for _, r := range records {
		fmt.Fprintf(p.w, "  %s  %s\n", p.dim.Render(r.ID), FormatFields(r))
	}
}

// FormatFields renders a record's fields as space separated name=value
// pairs in sorted order.
func FormatFields(r schema.Record) string {
	names := make([]string, 0, len(r.Fields))
	for name := range r.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+r.Field(name))
	}
	return strings.Join(parts, " ")
}

// Status prints a store summary.
func (p *Printer) Status(st store.Status) {
	fmt.Fprintln(p.w, p.header.Render("nestlog status"))

	active := st.ActiveName
	if st.Onboarding {
		active = p.warn.Render("none (onboarding)")
	}
	p.row("Active profile", active)
	p.row("Profiles", fmt.Sprint(st.Profiles))
	p.row("Migration", st.Migration.String())

	fmt.Fprintln(p.w)
	fmt.Fprintln(p.w, p.header.Render("Records"))
	for _, key := range schema.RecordKeys {
		if n := st.Records[key]; n > 0 {
			p.row(key.String(), fmt.Sprint(n))
		}
	}

	if len(st.Mirror) == 0 {
		return
	}
	fmt.Fprintln(p.w)
	fmt.Fprintln(p.w, p.header.Render("Sync"))
	for _, key := range schema.SyncedKeys() {
		if state, ok := st.Mirror[key]; ok {
			p.row(key.String(), state.String())
		}
	}
	s := st.Sync
	p.row("Pushed", fmt.Sprintf("%d (%d coalesced, %d dropped)", s.Pushed, s.Coalesced, s.Dropped))
	p.row("Adopted", fmt.Sprintf("%d (%d echoes discarded, %d rejected)", s.Adopted, s.Discarded, s.Rejected))
}

// Badges prints every badge slot with progress toward the next one.
func (p *Printer) Badges(res badge.Result, distinct int) {
	fmt.Fprintln(p.w, p.header.Render("Badges"))
	for _, b := range res.Badges {
		if b.Unlocked {
			when := ""
			if b.UnlockedAt != nil {
				when = p.dim.Render("  " + b.UnlockedAt.Local().Format("2006-01-02"))
			}
			fmt.Fprintf(p.w, "  %s%s\n", p.badge.Render(fmt.Sprintf("★ %d foods", b.Threshold)), when)
			continue
		}
		fmt.Fprintln(p.w, p.dim.Render(fmt.Sprintf("  ☆ %d foods", b.Threshold)))
	}

	next, remaining, done := badge.Progress(distinct)
	if done {
		p.Println(p.ok.Render(fmt.Sprintf("%d foods tried. Every badge unlocked!", distinct)))
	} else {
		p.Println(p.dim.Render(fmt.Sprintf("%d foods tried, %d more to reach %d.", distinct, remaining, next)))
	}

	if res.NewlyUnlocked != nil {
		p.Println(p.badge.Render(fmt.Sprintf("New badge: %d foods tried!", res.NewlyUnlocked.Threshold)))
	}
}

// Cache prints where the local cache lives and how much it holds.
func (p *Printer) Cache(path string, st cache.Stats) {
	p.row("Cache", path)
	detail := fmt.Sprintf("%d keys, %d bytes", st.Keys, st.TotalBytes)
	if st.LastWrite != nil {
		detail += ", last write " + st.LastWrite.Local().Format("2006-01-02 15:04:05")
	}
	p.row("", detail)
}

func (p *Printer) row(label, value string) {
	fmt.Fprintf(p.w, "  %s %s\n", p.label.Render(label), value)
}
