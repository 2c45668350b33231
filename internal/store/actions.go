package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/nestlog/nestlog/internal/badge"
	"github.com/nestlog/nestlog/internal/partition"
	"github.com/nestlog/nestlog/internal/schema"
)

// Profiles returns a copy of every profile, in list order.
func (s *Store) Profiles() []schema.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]schema.Profile(nil), s.profiles...)
}

// ActiveProfile returns the profile records are currently scoped to.
func (s *Store) ActiveProfile() (schema.Profile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := schema.FindProfile(s.profiles, s.active())
	if i < 0 {
		return schema.Profile{}, false
	}
	return s.profiles[i], true
}

// CreateProfile validates p, assigns an id if it has none and appends it.
// The first profile ever created becomes the active one.
func (s *Store) CreateProfile(ctx context.Context, p schema.Profile) (schema.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return schema.Profile{}, ErrClosed
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if err := p.Validate(); err != nil {
		return schema.Profile{}, fmt.Errorf("invalid profile: %w", err)
	}
	if schema.FindProfile(s.profiles, p.ID) >= 0 {
		return schema.Profile{}, fmt.Errorf("profile %s already exists", p.ID)
	}

	s.profiles = append(append([]schema.Profile(nil), s.profiles...), p)
	s.persist(ctx, schema.KeyProfiles, s.profiles)

	if len(s.profiles) == 1 {
		s.activeID = p.ID
		s.persist(ctx, schema.KeyActiveProfile, s.activeID)
	}

	s.logger.Printf("Created profile %q (%s)", p.BabyName, p.ID)
	return p, nil
}

// UpdateProfile merges patch into the profile with the given id.
func (s *Store) UpdateProfile(ctx context.Context, id string, patch schema.ProfilePatch) (schema.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return schema.Profile{}, ErrClosed
	}
	i := schema.FindProfile(s.profiles, id)
	if i < 0 {
		return schema.Profile{}, fmt.Errorf("profile %s: %w", id, ErrNotFound)
	}

	updated := s.profiles[i]
	updated.Apply(patch)
	if err := updated.Validate(); err != nil {
		return schema.Profile{}, fmt.Errorf("invalid profile: %w", err)
	}

	s.profiles = append([]schema.Profile(nil), s.profiles...)
	s.profiles[i] = updated
	s.persist(ctx, schema.KeyProfiles, s.profiles)
	return updated, nil
}

// SetActiveProfile points record reads and writes at profile id.
func (s *Store) SetActiveProfile(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if schema.FindProfile(s.profiles, id) < 0 {
		return fmt.Errorf("profile %s: %w", id, ErrNotFound)
	}
	if s.activeID == id {
		return nil
	}

	s.activeID = id
	s.persist(ctx, schema.KeyActiveProfile, s.activeID)
	return nil
}

// Records returns the records of key visible to the active profile.
func (s *Store) Records(key schema.Key) (schema.Collection, error) {
	if !schema.IsRecordKey(key) {
		return nil, fmt.Errorf("unknown collection %q", key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return partition.Scope(s.collections[key], s.active(), s.profiles).Clone(), nil
}

// AllRecords returns every record of key regardless of owner.
func (s *Store) AllRecords(key schema.Key) (schema.Collection, error) {
	if !schema.IsRecordKey(key) {
		return nil, fmt.Errorf("unknown collection %q", key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collections[key].Clone(), nil
}

// AddRecords appends records to key, owned by the active profile. Records
// without an id get one. Returns the stored records.
func (s *Store) AddRecords(ctx context.Context, key schema.Key, records ...schema.Record) (schema.Collection, error) {
	if !schema.IsRecordKey(key) {
		return nil, fmt.Errorf("unknown collection %q", key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	active := s.active()
	if active == "" {
		return nil, ErrNoProfile
	}

	current := s.collections[key]
	next := make(schema.Collection, len(current), len(current)+len(records))
	copy(next, current)

	added := make(schema.Collection, 0, len(records))
	for _, r := range records {
		r = r.Clone()
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		r = partition.Tag(r, active)
		next = append(next, r)
		added = append(added, r)
	}

	s.collections[key] = next
	s.persist(ctx, key, next)
	if key == schema.KeyTriedFoods {
		s.evaluateBadges(ctx)
	}
	return added.Clone(), nil
}

// AddRecord appends one record. See AddRecords.
func (s *Store) AddRecord(ctx context.Context, key schema.Key, r schema.Record) (schema.Record, error) {
	added, err := s.AddRecords(ctx, key, r)
	if err != nil {
		return schema.Record{}, err
	}
	return added[0], nil
}

// UpdateRecord replaces the visible record with r's id, in place. The
// stored owner is kept whatever r carries.
func (s *Store) UpdateRecord(ctx context.Context, key schema.Key, r schema.Record) error {
	if !schema.IsRecordKey(key) {
		return fmt.Errorf("unknown collection %q", key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	i, err := s.visibleIndex(key, r.ID)
	if err != nil {
		return err
	}

	current := s.collections[key]
	replacement := r.Clone()
	replacement.Owner = current[i].Owner

	next := make(schema.Collection, 0, len(current))
	for j, existing := range current {
		if j == i {
			next = append(next, replacement)
			continue
		}
		next = append(next, existing)
	}

	s.collections[key] = next
	s.persist(ctx, key, next)
	if key == schema.KeyTriedFoods {
		s.evaluateBadges(ctx)
	}
	return nil
}

// DeleteRecord removes the visible record with the given id.
func (s *Store) DeleteRecord(ctx context.Context, key schema.Key, id string) error {
	if !schema.IsRecordKey(key) {
		return fmt.Errorf("unknown collection %q", key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	i, err := s.visibleIndex(key, id)
	if err != nil {
		return err
	}

	current := s.collections[key]
	next := make(schema.Collection, 0, len(current)-1)
	next = append(next, current[:i]...)
	next = append(next, current[i+1:]...)

	s.collections[key] = next
	s.persist(ctx, key, next)
	return nil
}

// visibleIndex finds id among the records the active profile can see.
// Caller holds s.mu.
func (s *Store) visibleIndex(key schema.Key, id string) (int, error) {
	active := s.active()
	if active == "" {
		return -1, ErrNoProfile
	}
	for i, r := range s.collections[key] {
		if r.ID == id && partition.Owns(r, active, s.profiles) {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%s record %s: %w", key, id, ErrNotFound)
}

// EvaluateBadges recomputes the active profile's badges from its tried
// records and persists them when anything unlocked. Adding or updating
// triedFoods records already does this; adopted remote values do not, since
// the device that wrote them evaluated and pushed the profile itself.
func (s *Store) EvaluateBadges(ctx context.Context) (badge.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return badge.Result{}, ErrClosed
	}
	return s.evaluateBadgesLocked(ctx)
}

// evaluateBadges runs the evaluator after a local triedFoods write. Caller
// holds s.mu.
func (s *Store) evaluateBadges(ctx context.Context) {
	if _, err := s.evaluateBadgesLocked(ctx); err != nil && !errors.Is(err, ErrNoProfile) {
		s.logger.Printf("Warning: failed to evaluate badges: %v", err)
	}
}

func (s *Store) evaluateBadgesLocked(ctx context.Context) (badge.Result, error) {
	active := s.active()
	i := schema.FindProfile(s.profiles, active)
	if i < 0 {
		return badge.Result{}, ErrNoProfile
	}

	tried := partition.Scope(s.collections[schema.KeyTriedFoods], active, s.profiles)
	result := badge.Evaluate(tried, s.profiles[i].Badges, s.now())

	if result.NewlyUnlocked == nil {
		return result, nil
	}

	s.profiles = append([]schema.Profile(nil), s.profiles...)
	s.profiles[i].Badges = result.Badges
	s.persist(ctx, schema.KeyProfiles, s.profiles)

	s.logger.Printf("Unlocked %s for %q", result.NewlyUnlocked.ID, s.profiles[i].BabyName)
	return result, nil
}
