// Package partition scopes record collections to the active profile.
//
// A record belongs to the profile named by its owner tag. Records written
// before multi-profile support have no tag and belong to the first profile
// in the list. Nothing here mutates its inputs.
package partition

import "github.com/nestlog/nestlog/internal/schema"

// Owns reports whether the profile activeID sees record r.
func Owns(r schema.Record, activeID string, profiles []schema.Profile) bool {
	if activeID == "" {
		return false
	}
	if r.Owner.Tagged {
		return r.Owner.ChildID == activeID
	}
	return len(profiles) > 0 && profiles[0].ID == activeID
}

// Scope returns the records visible to activeID, in collection order. With
// no active profile the result is empty, never the unscoped collection.
func Scope(records schema.Collection, activeID string, profiles []schema.Profile) schema.Collection {
	out := make(schema.Collection, 0, len(records))
	for _, r := range records {
		if Owns(r, activeID, profiles) {
			out = append(out, r)
		}
	}
	return out
}

// RepairActive returns a pointer that references an existing profile. Empty
// or dangling pointers are moved to the first profile; changed reports
// whether the result differs from activeID. With no profiles the pointer is
// returned unchanged.
func RepairActive(activeID string, profiles []schema.Profile) (repaired string, changed bool) {
	if len(profiles) == 0 {
		return activeID, false
	}
	if activeID != "" && schema.FindProfile(profiles, activeID) >= 0 {
		return activeID, false
	}
	return profiles[0].ID, true
}

// Tag returns r owned by activeID. Records that already carry an owner keep
// it; ownership is never reassigned.
func Tag(r schema.Record, activeID string) schema.Record {
	if r.Owner.Tagged || activeID == "" {
		return r
	}
	r.Owner = schema.OwnedBy(activeID)
	return r
}

// Counts returns how many records each profile owns. Untagged records are
// counted for the first profile.
func Counts(records schema.Collection, profiles []schema.Profile) map[string]int {
	counts := make(map[string]int, len(profiles))
	for _, p := range profiles {
		counts[p.ID] = 0
	}
	for _, r := range records {
		switch {
		case r.Owner.Tagged:
			counts[r.Owner.ChildID]++
		case len(profiles) > 0:
			counts[profiles[0].ID]++
		}
	}
	return counts
}
