package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/nestlog/nestlog/internal/schema"
)

func TestParseAt(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		in   string
		want time.Time
	}{
		{"2026-03-09T08:30:00Z", time.Date(2026, 3, 9, 8, 30, 0, 0, time.UTC)},
		{"2026-03-09 08:30", time.Date(2026, 3, 9, 8, 30, 0, 0, time.UTC)},
		{"2026-03-09", time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := parseAt(tt.in, now)
		if err != nil {
			t.Errorf("parseAt(%q) failed: %v", tt.in, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("parseAt(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	got, err := parseAt("yesterday", now)
	if err != nil {
		t.Fatalf("parseAt(yesterday) failed: %v", err)
	}
	if got.YearDay() != now.YearDay()-1 {
		t.Errorf("parseAt(yesterday) = %v, want the day before %v", got, now)
	}

	if _, err := parseAt("", now); err == nil {
		t.Error("parseAt(\"\") should fail")
	}
	if _, err := parseAt("purple elephant", now); err == nil {
		t.Error("parseAt() of nonsense should fail")
	}
}

func TestParseField(t *testing.T) {
	tests := []struct {
		in      string
		name    string
		json    string
		wantErr bool
	}{
		{"name=avocado", "name", `"avocado"`, false},
		{"amountMl=120", "amountMl", `120`, false},
		{"liked=true", "liked", `true`, false},
		{`tags=["a","b"]`, "tags", `["a","b"]`, false},
		{"note=a=b", "note", `"a=b"`, false},
		{"empty=", "empty", `""`, false},
		{"noequals", "", "", true},
		{"=value", "", "", true},
	}
	for _, tt := range tests {
		var r schema.Record
		err := applyFields(&r, []string{tt.in})
		if (err != nil) != tt.wantErr {
			t.Errorf("applyFields(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if tt.wantErr {
			continue
		}
		if got := string(r.Fields[tt.name]); got != tt.json {
			t.Errorf("applyFields(%q) stored %s, want %s", tt.in, got, tt.json)
		}
	}

	var r schema.Record
	if err := applyFields(&r, []string{"childId=x"}); err == nil {
		t.Error("applyFields() should refuse the owner tag")
	}
}

func TestWriteExport(t *testing.T) {
	doc := &exportDoc{
		ActiveProfileID: "p1",
		Profiles:        []any{map[string]any{"id": "p1", "babyName": "Alex"}},
		Collections: map[string][]any{
			"triedFoods": {map[string]any{"id": "r1", "name": "pear", "childId": "p1"}},
		},
	}

	var js bytes.Buffer
	if err := writeExport(&js, doc, "json"); err != nil {
		t.Fatalf("writeExport(json) failed: %v", err)
	}
	if !strings.Contains(js.String(), `"activeProfileId": "p1"`) || !strings.Contains(js.String(), `"name": "pear"`) {
		t.Errorf("json export = %s", js.String())
	}

	var ym bytes.Buffer
	if err := writeExport(&ym, doc, "yaml"); err != nil {
		t.Fatalf("writeExport(yaml) failed: %v", err)
	}
	if !strings.Contains(ym.String(), "activeProfileId: p1") || !strings.Contains(ym.String(), "name: pear") {
		t.Errorf("yaml export = %s", ym.String())
	}

	if err := writeExport(&bytes.Buffer{}, doc, "xml"); err == nil {
		t.Error("writeExport() with an unknown format should fail")
	}
}

func TestPlain(t *testing.T) {
	r, err := schema.NewRecord("r1", map[string]any{"amountMl": 120})
	if err != nil {
		t.Fatalf("NewRecord() failed: %v", err)
	}
	r.Owner = schema.OwnedBy("p1")

	v, err := plain(r)
	if err != nil {
		t.Fatalf("plain() failed: %v", err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("plain() = %T, want a map", v)
	}
	if m["id"] != "r1" || m["childId"] != "p1" || m["amountMl"] != float64(120) {
		t.Errorf("plain() = %v", m)
	}
}

func TestNewlyUnlocked(t *testing.T) {
	before := []schema.Badge{
		{ID: "tried-10", Threshold: 10, Unlocked: true},
		{ID: "tried-20", Threshold: 20},
		{ID: "tried-30", Threshold: 30},
	}
	after := []schema.Badge{
		{ID: "tried-10", Threshold: 10, Unlocked: true},
		{ID: "tried-20", Threshold: 20, Unlocked: true},
		{ID: "tried-30", Threshold: 30, Unlocked: true},
		{ID: "first-sleep-log", Unlocked: true},
	}

	if b := newlyUnlocked(before, after); b == nil || b.ID != "tried-30" {
		t.Errorf("newlyUnlocked() = %+v, want tried-30", b)
	}
	if b := newlyUnlocked(after, after); b != nil {
		t.Errorf("newlyUnlocked() with nothing new = %+v, want nil", b)
	}
}
