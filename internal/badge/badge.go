// Package badge evaluates the tried-records milestones of a profile.
package badge

import (
	"fmt"
	"strings"
	"time"

	"github.com/nestlog/nestlog/internal/schema"
)

// Thresholds are the distinct-record counts that unlock a badge, ascending.
var Thresholds = []int{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}

// Result is the outcome of one evaluation.
type Result struct {
	Badges []schema.Badge

	// NewlyUnlocked is the highest badge unlocked by this call, if any.
	NewlyUnlocked *schema.Badge
}

// ID returns the badge id for a threshold.
func ID(threshold int) string {
	return fmt.Sprintf("tried-%d", threshold)
}

// Catalog returns every badge in its locked state.
func Catalog() []schema.Badge {
	out := make([]schema.Badge, len(Thresholds))
	for i, n := range Thresholds {
		out[i] = schema.Badge{ID: ID(n), Threshold: n}
	}
	return out
}

// Distinct counts records by lowercased name, falling back to the id for
// records without one.
func Distinct(tried schema.Collection) int {
	seen := make(map[string]struct{}, len(tried))
	for _, r := range tried {
		key := strings.ToLower(strings.TrimSpace(r.Field("name")))
		if key == "" {
			key = "id:" + r.ID
		}
		seen[key] = struct{}{}
	}
	return len(seen)
}

// Evaluate unlocks every badge whose threshold the distinct count of tried
// meets. When several unlock in one call the highest is reported. current is
// not modified; threshold badges missing from it start locked, and badges
// that are not tried-record milestones are carried over unchanged after them.
func Evaluate(tried schema.Collection, current []schema.Badge, now time.Time) Result {
	count := Distinct(tried)

	byID := make(map[string]schema.Badge, len(current))
	for _, b := range current {
		byID[b.ID] = b
	}

	var newly *schema.Badge
	out := make([]schema.Badge, 0, len(Thresholds)+len(current))
	milestone := make(map[string]bool, len(Thresholds))
	for _, n := range Thresholds {
		milestone[ID(n)] = true
		b, ok := byID[ID(n)]
		if !ok {
			b = schema.Badge{ID: ID(n), Threshold: n}
		}
		b = cloneBadge(b)

		if count >= n && !b.Unlocked {
			at := now
			b.Unlocked = true
			b.UnlockedAt = &at
			unlocked := b
			newly = &unlocked
		}
		out = append(out, b)
	}

	for _, b := range current {
		if !milestone[b.ID] {
			out = append(out, cloneBadge(b))
		}
	}

	return Result{Badges: out, NewlyUnlocked: newly}
}

func cloneBadge(b schema.Badge) schema.Badge {
	if b.UnlockedAt != nil {
		t := *b.UnlockedAt
		b.UnlockedAt = &t
	}
	return b
}

// Progress reports the next locked threshold for count and how many more
// distinct records it needs. done is true once every threshold is met.
func Progress(count int) (next, remaining int, done bool) {
	for _, n := range Thresholds {
		if count < n {
			return n, n - count, false
		}
	}
	return 0, 0, true
}
