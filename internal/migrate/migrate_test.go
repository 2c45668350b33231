package migrate

import (
	"bytes"
	"context"
	"log"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nestlog/nestlog/internal/cache"
	"github.com/nestlog/nestlog/internal/partition"
	"github.com/nestlog/nestlog/internal/schema"
)

func setupCache(t *testing.T) (*cache.Cache, *bytes.Buffer) {
	t.Helper()

	var buf bytes.Buffer
	c, err := cache.Open(filepath.Join(t.TempDir(), "nest.db"), log.New(&buf, "", 0))
	if err != nil {
		t.Fatalf("cache.Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, &buf
}

func seedRaw(t *testing.T, c *cache.Cache, key schema.Key, raw string) {
	t.Helper()
	if err := c.SetRaw(string(key), []byte(raw)); err != nil {
		t.Fatalf("SetRaw(%s) failed: %v", key, err)
	}
}

func TestRun_FreshInstall(t *testing.T) {
	c, buf := setupCache(t)

	result, err := Run(context.Background(), c, Options{}, log.New(buf, "", 0))
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if result.State != StateOnboarding || result.Legacy != StateNoLegacy {
		t.Errorf("result = %v via %v, want onboarding via no-legacy", result.State, result.Legacy)
	}
	if keys, _ := c.Keys(); len(keys) != 0 {
		t.Errorf("fresh install wrote keys: %v", keys)
	}
}

func TestRun_MigratesLegacyProfile(t *testing.T) {
	c, buf := setupCache(t)
	seedRaw(t, c, schema.KeyLegacyProfile, `{"babyName":"Alex","birthDate":"2025-01-01","allergies":["egg"]}`)
	seedRaw(t, c, schema.KeyTriedFoods, `[{"id":"f1","name":"pear"},{"id":"f2","name":"kiwi"}]`)

	result, err := Run(context.Background(), c, Options{}, log.New(buf, "", 0))
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if result.State != StateMigrated || result.Legacy != StateLegacyFound {
		t.Fatalf("result = %v via %v, want migrated via legacy-found", result.State, result.Legacy)
	}

	profiles := cache.Get(c, string(schema.KeyProfiles), []schema.Profile(nil))
	if len(profiles) != 1 {
		t.Fatalf("got %d profiles, want 1", len(profiles))
	}
	alex := profiles[0]
	if alex.BabyName != "Alex" || alex.ID == "" {
		t.Errorf("profile = %+v", alex)
	}
	if _, ok := alex.Extra["allergies"]; !ok {
		t.Error("unknown legacy fields should survive migration")
	}
	if active := cache.Get(c, string(schema.KeyActiveProfile), ""); active != alex.ID {
		t.Errorf("active = %q, want %q", active, alex.ID)
	}

	// Alex sees every pre-existing untagged record.
	tried := cache.Get(c, string(schema.KeyTriedFoods), schema.Collection(nil))
	if got := partition.Scope(tried, alex.ID, profiles); len(got) != 2 {
		t.Errorf("Alex sees %d records, want 2", len(got))
	}

	// The legacy key is left in place for older clients.
	if _, ok, _ := c.Load(string(schema.KeyLegacyProfile)); !ok {
		t.Error("legacy key should not be removed")
	}
}

func TestRun_KeepsLegacyID(t *testing.T) {
	c, _ := setupCache(t)
	seedRaw(t, c, schema.KeyLegacyProfile, `{"id":"legacy-1","babyName":"Sam"}`)

	result, err := Run(context.Background(), c, Options{}, log.New(&bytes.Buffer{}, "", 0))
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if result.Profile.ID != "legacy-1" {
		t.Errorf("ID = %q, want legacy-1", result.Profile.ID)
	}
}

func TestRun_Idempotent(t *testing.T) {
	c, _ := setupCache(t)
	seedRaw(t, c, schema.KeyLegacyProfile, `{"babyName":"Alex"}`)
	quiet := log.New(&bytes.Buffer{}, "", 0)

	first, err := Run(context.Background(), c, Options{}, quiet)
	if err != nil {
		t.Fatalf("first Run() failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		again, err := Run(context.Background(), c, Options{}, quiet)
		if err != nil {
			t.Fatalf("Run() #%d failed: %v", i+2, err)
		}
		if again.State != StateSkipped {
			t.Errorf("Run() #%d state = %v, want skipped", i+2, again.State)
		}
	}

	profiles := cache.Get(c, string(schema.KeyProfiles), []schema.Profile(nil))
	if len(profiles) != 1 || profiles[0].ID != first.Profile.ID {
		t.Errorf("profiles = %+v, want only the migrated one", profiles)
	}
}

func TestRun_SkipsWhenProfilesExist(t *testing.T) {
	c, _ := setupCache(t)
	seedRaw(t, c, schema.KeyProfiles, `[{"id":"p1","babyName":"Robin"}]`)
	seedRaw(t, c, schema.KeyLegacyProfile, `{"babyName":"Alex"}`)

	result, err := Run(context.Background(), c, Options{}, nil)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if result.State != StateSkipped || result.Legacy != StateUnchecked {
		t.Errorf("result = %v via %v, want skipped without a legacy check", result.State, result.Legacy)
	}
	if profiles := cache.Get(c, string(schema.KeyProfiles), []schema.Profile(nil)); len(profiles) != 1 {
		t.Errorf("legacy profile was duplicated: %+v", profiles)
	}
}

func TestRun_UnreadableLegacyRoutesToOnboarding(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"array", `[1,2,3]`},
		{"string", `"Alex"`},
		{"wrong field type", `{"babyName":42}`},
		{"no name", `{"birthDate":"2025-01-01"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := setupCache(t)
			seedRaw(t, c, schema.KeyLegacyProfile, tt.raw)

			var buf bytes.Buffer
			result, err := Run(context.Background(), c, Options{}, log.New(&buf, "", 0))
			if err != nil {
				t.Fatalf("Run() failed: %v", err)
			}
			if result.State != StateOnboarding || result.Legacy != StateNoLegacy {
				t.Errorf("result = %v via %v, want onboarding via no-legacy", result.State, result.Legacy)
			}
			if !strings.Contains(buf.String(), "legacy profile") {
				t.Errorf("expected the failure to be logged, got %q", buf.String())
			}
			if _, ok, _ := c.Load(string(schema.KeyProfiles)); ok {
				t.Error("no profiles should be written")
			}
		})
	}
}

func TestRun_DryRun(t *testing.T) {
	c, _ := setupCache(t)
	seedRaw(t, c, schema.KeyLegacyProfile, `{"babyName":"Alex"}`)

	result, err := Run(context.Background(), c, Options{DryRun: true}, log.New(&bytes.Buffer{}, "", 0))
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if result.State != StateLegacyFound || result.Profile == nil {
		t.Errorf("result = %+v, want legacy-found with profile", result)
	}
	if _, ok, _ := c.Load(string(schema.KeyProfiles)); ok {
		t.Error("dry run must not write profiles")
	}
}

func TestRun_WithBackup(t *testing.T) {
	c, _ := setupCache(t)
	seedRaw(t, c, schema.KeyLegacyProfile, `{"babyName":"Alex"}`)

	orig := now
	now = func() time.Time { return time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC) }
	defer func() { now = orig }()

	result, err := Run(context.Background(), c, Options{Backup: true}, log.New(&bytes.Buffer{}, "", 0))
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	want := "babyProfile.backup.20260203T040506Z"
	if result.BackupCreated != want {
		t.Errorf("BackupCreated = %q, want %q", result.BackupCreated, want)
	}
	entry, ok, err := c.Load(want)
	if err != nil || !ok {
		t.Fatalf("backup missing: ok=%v err=%v", ok, err)
	}
	if string(entry.Value) != `{"babyName":"Alex"}` {
		t.Errorf("backup = %s", entry.Value)
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{
		StateUnchecked:   "unchecked",
		StateLegacyFound: "legacy-found",
		StateMigrated:    "migrated",
		StateNoLegacy:    "no-legacy",
		StateOnboarding:  "onboarding",
		StateSkipped:     "skipped",
		State(99):        "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
