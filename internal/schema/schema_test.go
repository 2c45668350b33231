package schema

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestRecordUnmarshal_Tagged(t *testing.T) {
	var r Record
	data := `{"id":"r-1","childId":"kid-a","name":"banana","count":3}`
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}

	if r.ID != "r-1" {
		t.Errorf("ID = %q, want r-1", r.ID)
	}
	if !r.Owner.Tagged || r.Owner.ChildID != "kid-a" {
		t.Errorf("Owner = %+v, want tagged kid-a", r.Owner)
	}
	if _, ok := r.Fields["childId"]; ok {
		t.Error("childId should be lifted out of Fields")
	}
	if got := r.Field("name"); got != "banana" {
		t.Errorf("Field(name) = %q, want banana", got)
	}
	if got := r.Field("count"); got != "3" {
		t.Errorf("Field(count) = %q, want 3", got)
	}
}

func TestRecordUnmarshal_Untagged(t *testing.T) {
	cases := []string{
		`{"id":"r-1","name":"banana"}`,
		`{"id":"r-1","childId":null}`,
		`{"id":"r-1","childId":""}`,
		`{"id":"r-1","childId":42}`,
	}

	for _, data := range cases {
		var r Record
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			t.Fatalf("Unmarshal(%s) failed: %v", data, err)
		}
		if r.Owner.Tagged {
			t.Errorf("Unmarshal(%s): Owner = %+v, want untagged", data, r.Owner)
		}
	}
}

func TestRecordUnmarshal_NotObject(t *testing.T) {
	for _, data := range []string{`null`, `[1,2]`, `"x"`} {
		var r Record
		if err := json.Unmarshal([]byte(data), &r); err == nil {
			t.Errorf("Unmarshal(%s) should fail", data)
		}
	}
}

func TestRecordMarshal_PreservesUnknownFields(t *testing.T) {
	in := `{"childId":"kid-a","extra":{"nested":[1,2]},"id":"r-1","name":"pear"}`

	var r Record
	if err := json.Unmarshal([]byte(in), &r); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}
	out, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}
	if string(out) != in {
		t.Errorf("Marshal() = %s, want %s", out, in)
	}
}

func TestRecordMarshal_UntaggedOmitsOwner(t *testing.T) {
	r, err := NewRecord("r-1", map[string]any{"name": "plum"})
	if err != nil {
		t.Fatalf("NewRecord() failed: %v", err)
	}
	out, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}
	if strings.Contains(string(out), "childId") {
		t.Errorf("untagged record should not emit childId: %s", out)
	}
}

func TestRecordSetField_Reserved(t *testing.T) {
	var r Record
	if err := r.SetField("childId", "x"); err == nil {
		t.Error("SetField(childId) should fail")
	}
	if err := r.SetField("id", "x"); err == nil {
		t.Error("SetField(id) should fail")
	}
}

func TestRecordClone_Independent(t *testing.T) {
	r, _ := NewRecord("r-1", map[string]any{"name": "kiwi"})
	c := r.Clone()
	_ = c.SetField("name", "lime")

	if r.Field("name") != "kiwi" {
		t.Errorf("original mutated through clone: %q", r.Field("name"))
	}
}

func TestCollectionIndex(t *testing.T) {
	c := Collection{{ID: "a"}, {ID: "b"}}
	if got := c.Index("b"); got != 1 {
		t.Errorf("Index(b) = %d, want 1", got)
	}
	if got := c.Index("zz"); got != -1 {
		t.Errorf("Index(zz) = %d, want -1", got)
	}
}

func TestProfile_ExtraRoundTrip(t *testing.T) {
	in := `{"babyName":"Alex","favouriteColour":"green","id":"p-1"}`

	var p Profile
	if err := json.Unmarshal([]byte(in), &p); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}
	if p.BabyName != "Alex" {
		t.Errorf("BabyName = %q, want Alex", p.BabyName)
	}
	if _, ok := p.Extra["favouriteColour"]; !ok {
		t.Fatal("unknown field should be kept in Extra")
	}

	out, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}
	if string(out) != in {
		t.Errorf("Marshal() = %s, want %s", out, in)
	}
}

func TestProfileValidate(t *testing.T) {
	tests := []struct {
		name    string
		profile Profile
		wantErr bool
	}{
		{"valid", Profile{ID: "p", BabyName: "Alex"}, false},
		{"valid with date", Profile{ID: "p", BabyName: "Alex", BirthDate: "2025-03-01"}, false},
		{"missing id", Profile{BabyName: "Alex"}, true},
		{"missing name", Profile{ID: "p"}, true},
		{"bad date", Profile{ID: "p", BabyName: "Alex", BirthDate: "March"}, true},
		{"long name", Profile{ID: "p", BabyName: strings.Repeat("a", 201)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.profile.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestProfileApply(t *testing.T) {
	p := Profile{ID: "p-1", BabyName: "Alex", Notes: "keep"}
	name := "Sam"
	p.Apply(ProfilePatch{BabyName: &name})

	if p.ID != "p-1" {
		t.Errorf("ID changed to %q", p.ID)
	}
	if p.BabyName != "Sam" {
		t.Errorf("BabyName = %q, want Sam", p.BabyName)
	}
	if p.Notes != "keep" {
		t.Errorf("Notes = %q, want keep", p.Notes)
	}
}

func TestNewProfile_UniqueIDs(t *testing.T) {
	a := NewProfile("A")
	b := NewProfile("B")
	if a.ID == "" || a.ID == b.ID {
		t.Errorf("NewProfile ids not unique: %q %q", a.ID, b.ID)
	}
}

func TestParseRecordKey(t *testing.T) {
	if _, err := ParseRecordKey("triedFoods"); err != nil {
		t.Errorf("ParseRecordKey(triedFoods) failed: %v", err)
	}
	for _, bad := range []string{"profiles", "activeProfileId", "nope", ""} {
		if _, err := ParseRecordKey(bad); err == nil {
			t.Errorf("ParseRecordKey(%q) should fail", bad)
		}
	}
}

func TestCanonical_SortsAndKeepsNumbers(t *testing.T) {
	got, err := Canonical([]byte(`{ "b": 1.50, "a": {"y": 2, "x": [3, 1]} }`))
	if err != nil {
		t.Fatalf("Canonical() failed: %v", err)
	}
	want := `{"a":{"x":[3,1],"y":2},"b":1.50}`
	if string(got) != want {
		t.Errorf("Canonical() = %s, want %s", got, want)
	}

	if _, err := Canonical([]byte(`{"a":1} {"b":2}`)); err == nil {
		t.Error("Canonical() with trailing data should fail")
	}
}

func TestHash_OrderIndependent(t *testing.T) {
	h1, err := Hash([]byte(`{"a":1,"b":[1,2]}`))
	if err != nil {
		t.Fatalf("Hash() failed: %v", err)
	}
	h2, _ := Hash([]byte(`{"b":[1,2],  "a":1}`))
	h3, _ := Hash([]byte(`{"b":[2,1],"a":1}`))

	if h1 != h2 {
		t.Error("key order must not change the hash")
	}
	if h1 == h3 {
		t.Error("array order must change the hash")
	}
}

func TestNewEnvelope(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))
	env, err := NewEnvelope([]map[string]any{{"name": "pear", "id": "1"}}, "session-1", now)
	if err != nil {
		t.Fatalf("NewEnvelope() failed: %v", err)
	}

	if string(env.Value) != `[{"id":"1","name":"pear"}]` {
		t.Errorf("Value = %s", env.Value)
	}
	if env.Hash != HashBytes(env.Value) {
		t.Error("Hash must match the canonical value")
	}
	if env.UpdatedAt.Location() != time.UTC || !env.UpdatedAt.Equal(now) {
		t.Errorf("UpdatedAt = %v, want %v in UTC", env.UpdatedAt, now)
	}
	if env.Origin != "session-1" {
		t.Errorf("Origin = %q", env.Origin)
	}
}

func TestIsNull(t *testing.T) {
	for _, in := range []string{"", "null", "  null\n"} {
		if !IsNull([]byte(in)) {
			t.Errorf("IsNull(%q) = false", in)
		}
	}
	for _, in := range []string{"[]", "{}", `"null"`, "0"} {
		if IsNull([]byte(in)) {
			t.Errorf("IsNull(%q) = true", in)
		}
	}
}
