// Package migrate converts the legacy single-profile layout into the
// multi-profile layout.
//
// Before multi-profile support the cache held one profile object under
// "babyProfile" and every record was implicitly that child's. Migration
// copies the object into a one-element "profiles" list and points the
// active profile at it. Records are not rewritten: untagged records belong
// to the first profile, which is the migrated one.
//
// The step only runs while the profile list is empty, so it can be invoked
// on every startup.
package migrate

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/nestlog/nestlog/internal/cache"
	"github.com/nestlog/nestlog/internal/schema"
)

// State is the outcome of one migration check.
type State int

const (
	// StateUnchecked means Run has not completed.
	StateUnchecked State = iota
	// StateLegacyFound means a legacy profile parsed but was not written
	// (dry run).
	StateLegacyFound
	// StateMigrated means the legacy profile is now the sole profile.
	StateMigrated
	// StateNoLegacy means there was nothing usable to migrate. It leads to
	// StateOnboarding and is reported in Result.Legacy.
	StateNoLegacy
	// StateOnboarding means the user must create a first profile.
	StateOnboarding
	// StateSkipped means profiles already existed.
	StateSkipped
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateUnchecked:
		return "unchecked"
	case StateLegacyFound:
		return "legacy-found"
	case StateMigrated:
		return "migrated"
	case StateNoLegacy:
		return "no-legacy"
	case StateOnboarding:
		return "onboarding"
	case StateSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Options configures a migration run.
type Options struct {
	DryRun bool // Parse and report without writing
	Backup bool // Copy the legacy value to a timestamped key first
}

// Result describes what Run did. Legacy records how the legacy check went
// (StateLegacyFound or StateNoLegacy) and stays StateUnchecked when the run
// was skipped.
type Result struct {
	State         State
	Legacy        State
	Profile       *schema.Profile // the migrated (or would-be migrated) profile
	BackupCreated string          // backup key, if any
}

// now is a package-level var to allow test injection.
var now = time.Now

// BackupKey returns the key a legacy backup taken at t is stored under.
func BackupKey(t time.Time) string {
	return string(schema.KeyLegacyProfile) + ".backup." + t.UTC().Format("20060102T150405Z")
}

// Run performs the migration check against c.
//
// Parse failures of the legacy value are logged and reported as
// StateOnboarding; only cache write failures are returned as errors.
//
// If logger is nil, a default logger writing to stderr is used.
func Run(ctx context.Context, c *cache.Cache, opts Options, logger *log.Logger) (*Result, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[migrate] ", log.LstdFlags)
	}

	profiles := cache.Get(c, string(schema.KeyProfiles), []schema.Profile(nil))
	if len(profiles) > 0 {
		return &Result{State: StateSkipped}, nil
	}

	profile, ok := loadLegacy(ctx, c, logger)
	if !ok {
		return &Result{State: StateOnboarding, Legacy: StateNoLegacy}, nil
	}

	if opts.DryRun {
		return &Result{State: StateLegacyFound, Legacy: StateLegacyFound, Profile: profile}, nil
	}

	result := &Result{State: StateMigrated, Legacy: StateLegacyFound, Profile: profile}

	if opts.Backup {
		entry, _, err := c.LoadContext(ctx, string(schema.KeyLegacyProfile))
		if err != nil {
			return nil, fmt.Errorf("failed to read legacy profile for backup: %w", err)
		}
		key := BackupKey(now())
		if err := c.SetRawContext(ctx, key, entry.Value); err != nil {
			return nil, fmt.Errorf("failed to create backup: %w", err)
		}
		result.BackupCreated = key
	}

	if err := c.SetContext(ctx, string(schema.KeyProfiles), []schema.Profile{*profile}); err != nil {
		return nil, fmt.Errorf("failed to write profiles: %w", err)
	}
	if err := c.SetContext(ctx, string(schema.KeyActiveProfile), profile.ID); err != nil {
		return nil, fmt.Errorf("failed to write active profile: %w", err)
	}

	logger.Printf("Migrated legacy profile %q (%s)", profile.BabyName, profile.ID)
	return result, nil
}

// loadLegacy reads and parses the legacy profile. ok is false when there is
// nothing usable; the reason is logged.
func loadLegacy(ctx context.Context, c *cache.Cache, logger *log.Logger) (*schema.Profile, bool) {
	entry, ok, err := c.LoadContext(ctx, string(schema.KeyLegacyProfile))
	if err != nil {
		logger.Printf("Warning: failed to read legacy profile: %v", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}

	var p schema.Profile
	if err := json.Unmarshal(entry.Value, &p); err != nil {
		logger.Printf("Warning: legacy profile is unreadable, starting onboarding: %v", err)
		return nil, false
	}
	if p.BabyName == "" {
		logger.Printf("Warning: legacy profile has no name, starting onboarding")
		return nil, false
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return &p, true
}
