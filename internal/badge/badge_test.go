package badge

import (
	"fmt"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/nestlog/nestlog/internal/schema"
)

var testNow = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func foods(n int) schema.Collection {
	out := make(schema.Collection, n)
	for i := range out {
		r, _ := schema.NewRecord(fmt.Sprintf("f%d", i), map[string]any{"name": fmt.Sprintf("food %d", i)})
		out[i] = r
	}
	return out
}

func unlockedIDs(badges []schema.Badge) []string {
	var ids []string
	for _, b := range badges {
		if b.Unlocked {
			ids = append(ids, b.ID)
		}
	}
	return ids
}

func TestEvaluate_BelowFirstThreshold(t *testing.T) {
	res := Evaluate(foods(9), nil, testNow)

	if res.NewlyUnlocked != nil {
		t.Errorf("NewlyUnlocked = %+v, want nil", res.NewlyUnlocked)
	}
	if len(res.Badges) != len(Thresholds) {
		t.Errorf("got %d badges, want the full catalog", len(res.Badges))
	}
	if ids := unlockedIDs(res.Badges); len(ids) != 0 {
		t.Errorf("unlocked %v, want none", ids)
	}
}

func TestEvaluate_SurfacesHighestNewlyQualifying(t *testing.T) {
	// 49 tried: 10..40 already unlocked.
	first := Evaluate(foods(49), nil, testNow)
	if first.NewlyUnlocked == nil || first.NewlyUnlocked.ID != "tried-40" {
		t.Fatalf("NewlyUnlocked at 49 = %+v, want tried-40", first.NewlyUnlocked)
	}

	// Jumping to 51 unlocks exactly 50.
	later := testNow.Add(24 * time.Hour)
	second := Evaluate(foods(51), first.Badges, later)

	if second.NewlyUnlocked == nil || second.NewlyUnlocked.ID != "tried-50" {
		t.Fatalf("NewlyUnlocked at 51 = %+v, want tried-50", second.NewlyUnlocked)
	}
	if !second.NewlyUnlocked.UnlockedAt.Equal(later) {
		t.Errorf("UnlockedAt = %v, want %v", second.NewlyUnlocked.UnlockedAt, later)
	}

	// Earlier unlock dates are kept.
	for _, b := range second.Badges {
		if b.ID == "tried-10" && !b.UnlockedAt.Equal(testNow) {
			t.Errorf("tried-10 UnlockedAt moved to %v", b.UnlockedAt)
		}
	}
}

func TestEvaluate_JumpUnlocksAllButReportsTop(t *testing.T) {
	res := Evaluate(foods(35), nil, testNow)

	if ids := unlockedIDs(res.Badges); len(ids) != 3 {
		t.Errorf("unlocked %v, want tried-10..30", ids)
	}
	if res.NewlyUnlocked == nil || res.NewlyUnlocked.ID != "tried-30" {
		t.Errorf("NewlyUnlocked = %+v, want tried-30", res.NewlyUnlocked)
	}
}

func TestEvaluate_NothingNewWhenAlreadyUnlocked(t *testing.T) {
	first := Evaluate(foods(20), nil, testNow)
	second := Evaluate(foods(20), first.Badges, testNow.Add(time.Hour))

	if second.NewlyUnlocked != nil {
		t.Errorf("NewlyUnlocked = %+v, want nil", second.NewlyUnlocked)
	}
}

func TestEvaluate_DoesNotMutateInput(t *testing.T) {
	current := Catalog()
	_ = Evaluate(foods(100), current, testNow)

	for _, b := range current {
		if b.Unlocked || b.UnlockedAt != nil {
			t.Fatalf("input badge %s was mutated", b.ID)
		}
	}
}

func TestEvaluate_KeepsOtherBadges(t *testing.T) {
	earned := testNow.Add(-48 * time.Hour)
	current := []schema.Badge{
		{ID: "first-sleep-log", Unlocked: true, UnlockedAt: &earned},
		{ID: "tried-10", Threshold: 10},
	}

	res := Evaluate(foods(12), current, testNow)

	if len(res.Badges) != len(Thresholds)+1 {
		t.Fatalf("got %d badges, want the catalog plus first-sleep-log", len(res.Badges))
	}
	last := res.Badges[len(res.Badges)-1]
	if last.ID != "first-sleep-log" || !last.Unlocked || !last.UnlockedAt.Equal(earned) {
		t.Errorf("carried badge = %+v, want first-sleep-log unlocked at %v", last, earned)
	}
	if last.UnlockedAt == current[0].UnlockedAt {
		t.Error("carried badge shares its UnlockedAt with the input")
	}
	if res.NewlyUnlocked == nil || res.NewlyUnlocked.ID != "tried-10" {
		t.Errorf("NewlyUnlocked = %+v, want tried-10", res.NewlyUnlocked)
	}

	// Nothing new: the count matches, so the store persists nothing.
	again := Evaluate(foods(12), res.Badges, testNow)
	if again.NewlyUnlocked != nil || len(again.Badges) != len(res.Badges) {
		t.Errorf("re-evaluation = %d badges, newly %+v", len(again.Badges), again.NewlyUnlocked)
	}
}

func TestDistinct(t *testing.T) {
	a, _ := schema.NewRecord("1", map[string]any{"name": "Banana"})
	b, _ := schema.NewRecord("2", map[string]any{"name": " banana "})
	c, _ := schema.NewRecord("3", map[string]any{"name": "Kiwi"})
	d, _ := schema.NewRecord("4", nil)
	e, _ := schema.NewRecord("5", nil)

	if got := Distinct(schema.Collection{a, b, c, d, e}); got != 4 {
		t.Errorf("Distinct() = %d, want 4", got)
	}
}

func TestProgress(t *testing.T) {
	tests := []struct {
		count, next, remaining int
		done                   bool
	}{
		{0, 10, 10, false},
		{10, 20, 10, false},
		{57, 60, 3, false},
		{100, 0, 0, true},
		{140, 0, 0, true},
	}
	for _, tt := range tests {
		next, remaining, done := Progress(tt.count)
		if next != tt.next || remaining != tt.remaining || done != tt.done {
			t.Errorf("Progress(%d) = (%d, %d, %v), want (%d, %d, %v)",
				tt.count, next, remaining, done, tt.next, tt.remaining, tt.done)
		}
	}
}

// The surfaced badge is always the highest threshold crossed by moving from
// count a to count b.
func TestEvaluate_TieBreakProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		a := rapid.IntRange(0, 110).Draw(rt, "a")
		b := rapid.IntRange(a, 120).Draw(rt, "b")

		before := Evaluate(foods(a), nil, testNow).Badges
		res := Evaluate(foods(b), before, testNow)

		want := ""
		for _, n := range Thresholds {
			if a < n && n <= b {
				want = ID(n)
			}
		}

		got := ""
		if res.NewlyUnlocked != nil {
			got = res.NewlyUnlocked.ID
		}
		if got != want {
			rt.Fatalf("%d -> %d surfaced %q, want %q", a, b, got, want)
		}
	})
}
