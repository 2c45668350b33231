// Package store is the single owner of nestlog's in-memory state.
//
// A Store loads every collection from the local cache at startup, runs the
// legacy migration, repairs the active profile pointer and mounts one sync
// reconciler per key. All mutation goes through the named actions on Store;
// each action updates memory first, then writes through the cache and offers
// the new value to the mirror.
//
// Remote snapshots enter through the same mutex as local actions, so the
// store behaves as a single logical writer no matter which goroutine the
// mirror delivers on.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	gosync "sync"
	"time"

	"github.com/nestlog/nestlog/internal/cache"
	"github.com/nestlog/nestlog/internal/migrate"
	"github.com/nestlog/nestlog/internal/mirror"
	"github.com/nestlog/nestlog/internal/partition"
	"github.com/nestlog/nestlog/internal/schema"
	"github.com/nestlog/nestlog/internal/sync"
)

var (
	// ErrNoProfile is returned by record actions when no profile exists yet.
	ErrNoProfile = errors.New("no active profile")

	// ErrNotFound is returned when an id does not match a visible record or
	// an existing profile.
	ErrNotFound = errors.New("not found")

	// ErrClosed is returned by actions after Close.
	ErrClosed = errors.New("store is closed")
)

// Config wires a Store to its collaborators.
type Config struct {
	// Cache is the local cache. Required.
	Cache *cache.Cache

	// Channel is the remote mirror. Nil keeps the store local-only.
	Channel mirror.Channel

	// Migrate controls the legacy migration run during Open.
	Migrate migrate.Options

	// Logger for store activity (default: stderr with a [store] prefix)
	Logger *log.Logger

	// Now returns the current time (default: time.Now)
	Now func() time.Time
}

// ChangeFunc is notified after a remote value for key has been adopted. It
// runs with the store locked and must not call back into the Store.
type ChangeFunc func(key schema.Key)

// Store holds profiles, the active pointer and every record collection.
type Store struct {
	cache  *cache.Cache
	logger *log.Logger
	now    func() time.Time

	mu          gosync.Mutex
	channel     mirror.Channel
	profiles    []schema.Profile
	activeID    string
	collections map[schema.Key]schema.Collection
	recs        map[schema.Key]*sync.Reconciler
	retired     sync.Stats
	migration   *migrate.Result
	listeners   []ChangeFunc
	closed      bool
}

// Open loads state from the cache and starts synchronization.
//
// Startup order: legacy migration, load, pointer repair, mount. The
// migrated profile and a repaired pointer are written through the
// reconcilers so they reach the mirror; everything else loaded from the
// cache is mounted without being pushed.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Cache == nil {
		return nil, fmt.Errorf("cache is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &Store{
		cache:       cfg.Cache,
		logger:      cfg.Logger,
		now:         cfg.Now,
		channel:     cfg.Channel,
		collections: make(map[schema.Key]schema.Collection, len(schema.RecordKeys)),
	}

	result, err := migrate.Run(ctx, s.cache, cfg.Migrate, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to migrate legacy profile: %w", err)
	}
	s.migration = result

	s.mu.Lock()
	defer s.mu.Unlock()

	s.load()
	repaired, changed := partition.RepairActive(s.activeID, s.profiles)
	if changed {
		s.logger.Printf("Active profile %q is missing, switching to %q", s.activeID, repaired)
		s.activeID = repaired
	}

	if err := s.mount(); err != nil {
		s.closeReconcilers()
		return nil, err
	}

	if result.State == migrate.StateMigrated {
		s.persist(ctx, schema.KeyProfiles, s.profiles)
		changed = true
	}
	if changed {
		s.persist(ctx, schema.KeyActiveProfile, s.activeID)
	}

	return s, nil
}

// load reads every key from the cache. Caller holds s.mu.
func (s *Store) load() {
	s.profiles = cache.Get(s.cache, string(schema.KeyProfiles), []schema.Profile{})
	s.activeID = cache.Get(s.cache, string(schema.KeyActiveProfile), "")
	for _, key := range schema.RecordKeys {
		s.collections[key] = cache.Get(s.cache, string(key), schema.Collection{})
	}
}

// mount creates and mounts a reconciler per synced key. Caller holds s.mu.
func (s *Store) mount() error {
	s.recs = make(map[schema.Key]*sync.Reconciler, len(schema.SyncedKeys()))
	for _, key := range schema.SyncedKeys() {
		r := sync.New(key, s.cache, s.channel, s.logger)
		if err := r.Mount(&s.mu, s.applier(key)); err != nil {
			return fmt.Errorf("failed to mount %s: %w", key, err)
		}
		s.recs[key] = r
	}
	return nil
}

// applier returns the function that installs an adopted remote value.
func (s *Store) applier(key schema.Key) sync.ApplyFunc {
	return func(value json.RawMessage) error {
		switch key {
		case schema.KeyProfiles:
			var profiles []schema.Profile
			if err := json.Unmarshal(value, &profiles); err != nil {
				return err
			}
			s.profiles = profiles
		case schema.KeyActiveProfile:
			var id string
			if err := json.Unmarshal(value, &id); err != nil {
				return err
			}
			s.activeID = id
		default:
			var c schema.Collection
			if err := json.Unmarshal(value, &c); err != nil {
				return err
			}
			s.collections[key] = c
		}

		for _, fn := range s.listeners {
			fn(key)
		}
		return nil
	}
}

// persist writes value through the reconciler for key. Caller holds s.mu.
func (s *Store) persist(ctx context.Context, key schema.Key, value any) {
	r, ok := s.recs[key]
	if !ok {
		return
	}
	if err := r.Local(ctx, value); err != nil {
		s.logger.Printf("Warning: failed to write %s: %v", key, err)
	}
}

// OnChange registers fn for remote adoptions.
func (s *Store) OnChange(fn ChangeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// SetIdentity tears down every subscription and remounts on channel. A nil
// channel makes the store local-only. The caller owns both channels.
func (s *Store) SetIdentity(channel mirror.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	s.closeReconcilers()
	s.channel = channel
	if err := s.mount(); err != nil {
		s.logger.Printf("Warning: mirror unavailable, continuing local-only: %v", err)
		s.closeReconcilers()
		s.channel = nil
		if mountErr := s.mount(); mountErr != nil {
			return mountErr
		}
		return err
	}
	return nil
}

// closeReconcilers closes and drops every reconciler, folding its counters
// into retired. Caller holds s.mu.
func (s *Store) closeReconcilers() {
	for key, r := range s.recs {
		if err := r.Close(); err != nil {
			s.logger.Printf("Warning: failed to close %s: %v", key, err)
		}
		s.retired = s.retired.Add(r.Stats())
	}
	s.recs = nil
}

// WaitReady blocks until every mirrored key has handled its first remote
// snapshot, so a write made afterwards starts from the mirror's state. It
// returns immediately for a local-only store.
func (s *Store) WaitReady(ctx context.Context) error {
	s.mu.Lock()
	ready := make([]<-chan struct{}, 0, len(s.recs))
	for _, r := range s.recs {
		ready = append(ready, r.Ready())
	}
	s.mu.Unlock()

	for _, ch := range ready {
		select {
		case <-ch:
		case <-ctx.Done():
			return fmt.Errorf("failed to sync initial state: %w", ctx.Err())
		}
	}
	return nil
}

// Flush waits for every in-flight push to finish.
func (s *Store) Flush() {
	s.mu.Lock()
	recs := make([]*sync.Reconciler, 0, len(s.recs))
	for _, r := range s.recs {
		recs = append(recs, r)
	}
	s.mu.Unlock()

	for _, r := range recs {
		r.Flush()
	}
}

// Close stops synchronization and waits for queued pushes. It does not close
// the channel; callers close it after Close returns.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	recs := make([]*sync.Reconciler, 0, len(s.recs))
	for _, r := range s.recs {
		recs = append(recs, r)
	}
	for _, r := range recs {
		if err := r.Close(); err != nil {
			s.logger.Printf("Warning: failed to close %s: %v", r.Key(), err)
		}
	}
	s.mu.Unlock()

	for _, r := range recs {
		r.Flush()
	}
	return nil
}

// Onboarding reports whether the user still has to create a first profile.
func (s *Store) Onboarding() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.profiles) == 0
}

// Migration returns the result of the startup migration check.
func (s *Store) Migration() migrate.Result {
	return *s.migration
}

// Status summarizes the store for display.
type Status struct {
	Profiles   int
	ActiveID   string
	ActiveName string
	Onboarding bool
	Migration  migrate.State
	Records    map[schema.Key]int // visible to the active profile
	Mirror     map[schema.Key]mirror.State
	Sync       sync.Stats
}

// Status returns a snapshot of counts and sync state.
func (s *Store) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := s.active()
	st := Status{
		Profiles:   len(s.profiles),
		ActiveID:   active,
		Onboarding: len(s.profiles) == 0,
		Migration:  s.migration.State,
		Records:    make(map[schema.Key]int, len(schema.RecordKeys)),
		Mirror:     make(map[schema.Key]mirror.State, len(s.recs)),
		Sync:       s.retired,
	}
	if i := schema.FindProfile(s.profiles, active); i >= 0 {
		st.ActiveName = s.profiles[i].BabyName
	}
	for _, key := range schema.RecordKeys {
		st.Records[key] = len(partition.Scope(s.collections[key], active, s.profiles))
	}
	for key, r := range s.recs {
		st.Mirror[key] = r.State()
		st.Sync = st.Sync.Add(r.Stats())
	}
	return st
}

// active returns the pointer as reads should see it: a dangling pointer
// resolves to the first profile. Caller holds s.mu.
func (s *Store) active() string {
	id, _ := partition.RepairActive(s.activeID, s.profiles)
	return id
}
