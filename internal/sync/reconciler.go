package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nestlog/nestlog/internal/cache"
	"github.com/nestlog/nestlog/internal/mirror"
	"github.com/nestlog/nestlog/internal/schema"
)

// ErrClosed is returned by Local after Close.
var ErrClosed = errors.New("reconciler is closed")

// ApplyFunc installs an adopted remote value into the owner's in-memory
// state. Returning an error rejects the value; nothing is persisted.
type ApplyFunc func(value json.RawMessage) error

// Stats counts what a reconciler has done since it was created.
type Stats struct {
	Adopted   int64 // remote values installed
	Discarded int64 // remote values equal to local state, or our own echoes
	Rejected  int64 // remote values that failed to decode or apply
	Pushed    int64 // pushes the mirror accepted
	Coalesced int64 // pending pushes replaced by a newer value
	Dropped   int64 // pushes abandoned after an error
}

type counters struct {
	adopted, discarded, rejected atomic.Int64
	pushed, coalesced, dropped   atomic.Int64
}

// Reconciler keeps one key consistent between the cache and the mirror.
type Reconciler struct {
	key     schema.Key
	cache   *cache.Cache
	channel mirror.Channel
	logger  *log.Logger
	origin  string

	// Guarded by lock (see Mount).
	lock     gosync.Locker
	own      gosync.Mutex
	apply    ApplyFunc
	lastHash string
	sub      mirror.Subscription
	closed   bool

	pusher    *pusher
	stats     counters
	ready     chan struct{}
	readyOnce gosync.Once
}

// New creates a reconciler for key. A nil channel disables mirroring; the
// reconciler then only writes through to the cache.
//
// If logger is nil, a default logger writing to stderr is used.
func New(key schema.Key, c *cache.Cache, channel mirror.Channel, logger *log.Logger) *Reconciler {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}

	r := &Reconciler{
		key:     key,
		cache:   c,
		channel: channel,
		logger:  logger,
		origin:  uuid.NewString(),
		ready:   make(chan struct{}),
	}
	if channel != nil {
		r.pusher = newPusher(string(key), channel, logger, &r.stats)
	} else {
		r.markReady()
	}
	return r
}

// Key returns the collection key this reconciler owns.
func (r *Reconciler) Key() schema.Key {
	return r.key
}

// Origin identifies the values this reconciler pushes. It is carried in the
// envelope for diagnostics; echo detection compares content only.
func (r *Reconciler) Origin() string {
	return r.origin
}

// Mount records the hash of the cached value and, when mirroring is enabled,
// subscribes to the remote document. The mounted value is never pushed.
//
// lock serializes Local, Remote and Close; a nil lock uses a private mutex.
// Mount itself must be called with lock held when the caller shares it.
func (r *Reconciler) Mount(lock gosync.Locker, apply ApplyFunc) error {
	if apply == nil {
		return fmt.Errorf("apply callback is required")
	}
	if lock == nil {
		lock = &r.own
	}
	r.lock = lock
	r.apply = apply

	entry, ok, err := r.cache.Load(string(r.key))
	if err != nil {
		r.logger.Printf("Warning: failed to read %s hash: %v", r.key, err)
	}
	if ok {
		r.lastHash = entry.Hash
	}

	if r.channel == nil {
		return nil
	}

	sub, err := r.channel.Subscribe(string(r.key), r.onSnapshot)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", r.key, err)
	}
	r.sub = sub
	return nil
}

// onSnapshot is the mirror callback. It runs on the channel's goroutine.
func (r *Reconciler) onSnapshot(s mirror.Snapshot) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.Remote(s)
	r.markReady()
}

// Ready is closed once the first remote snapshot (including "absent") has
// been handled, or immediately when mirroring is disabled. Close also
// closes it.
func (r *Reconciler) Ready() <-chan struct{} {
	return r.ready
}

func (r *Reconciler) markReady() {
	r.readyOnce.Do(func() { close(r.ready) })
}

// Local persists value and offers it to the mirror. Cache write failures are
// logged and do not fail the call; only values that cannot be encoded do.
func (r *Reconciler) Local(ctx context.Context, value any) error {
	if r.closed {
		return ErrClosed
	}

	env, err := schema.NewEnvelope(value, r.origin, time.Now())
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", r.key, err)
	}

	if schema.IsNull(env.Value) {
		if err := r.cache.DeleteContext(ctx, string(r.key)); err != nil {
			r.logger.Printf("Warning: failed to persist %s: %v", r.key, err)
		}
		r.lastHash = ""
		return nil
	}

	if err := r.cache.SetRawContext(ctx, string(r.key), env.Value); err != nil {
		r.logger.Printf("Warning: failed to persist %s: %v", r.key, err)
	}
	r.lastHash = env.Hash

	if r.pusher != nil {
		doc, err := json.Marshal(env)
		if err != nil {
			return fmt.Errorf("failed to encode %s envelope: %w", r.key, err)
		}
		r.pusher.offer(doc)
	}
	return nil
}

// Remote handles one snapshot. Absent documents and values equal to the
// last applied state are discarded; anything else is applied and written
// through to the cache. Adopted values are not pushed back.
func (r *Reconciler) Remote(s mirror.Snapshot) {
	if r.closed || r.apply == nil {
		return
	}
	if !s.Exists {
		return
	}

	env, err := s.Envelope()
	if err != nil {
		r.stats.rejected.Add(1)
		r.logger.Printf("Warning: ignoring remote %s: %v", r.key, err)
		return
	}
	if schema.IsNull(env.Value) {
		r.stats.discarded.Add(1)
		return
	}

	canonical, err := schema.Canonical(env.Value)
	if err != nil {
		r.stats.rejected.Add(1)
		r.logger.Printf("Warning: ignoring remote %s: %v", r.key, err)
		return
	}
	hash := schema.HashBytes(canonical)

	if hash == r.lastHash {
		r.stats.discarded.Add(1)
		return
	}

	if err := r.apply(canonical); err != nil {
		r.stats.rejected.Add(1)
		r.logger.Printf("Warning: rejected remote %s: %v", r.key, err)
		return
	}
	r.lastHash = hash

	if err := r.cache.SetRaw(string(r.key), canonical); err != nil {
		r.logger.Printf("Warning: failed to persist %s: %v", r.key, err)
	}
	r.stats.adopted.Add(1)
	r.logger.Printf("Adopted remote %s (%s)", r.key, shortHash(hash))
}

// LastHash returns the hash of the last value applied locally or remotely.
func (r *Reconciler) LastHash() string {
	return r.lastHash
}

// State reports the mirror lifecycle of this key.
func (r *Reconciler) State() mirror.State {
	switch {
	case r.channel == nil:
		return mirror.StateDisabled
	case r.closed:
		return mirror.StateClosed
	case r.sub == nil:
		return mirror.StateIdle
	default:
		return r.sub.State()
	}
}

// Close tears down the subscription and stops accepting local values. A push
// already queued still goes out; use Flush to wait for it. Idempotent.
func (r *Reconciler) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.markReady()

	if r.pusher != nil {
		r.pusher.close()
	}
	if r.sub != nil {
		if err := r.sub.Close(); err != nil {
			return fmt.Errorf("failed to close %s subscription: %w", r.key, err)
		}
	}
	return nil
}

// Flush blocks until no push for this key is in flight. It must be called
// without the Mount lock held.
func (r *Reconciler) Flush() {
	if r.pusher != nil {
		r.pusher.wait()
	}
}

// Stats returns a snapshot of the counters. Safe to call without the lock.
func (r *Reconciler) Stats() Stats {
	return Stats{
		Adopted:   r.stats.adopted.Load(),
		Discarded: r.stats.discarded.Load(),
		Rejected:  r.stats.rejected.Load(),
		Pushed:    r.stats.pushed.Load(),
		Coalesced: r.stats.coalesced.Load(),
		Dropped:   r.stats.dropped.Load(),
	}
}

// Add returns the field-wise sum of two stats.
func (s Stats) Add(o Stats) Stats {
	return Stats{
		Adopted:   s.Adopted + o.Adopted,
		Discarded: s.Discarded + o.Discarded,
		Rejected:  s.Rejected + o.Rejected,
		Pushed:    s.Pushed + o.Pushed,
		Coalesced: s.Coalesced + o.Coalesced,
		Dropped:   s.Dropped + o.Dropped,
	}
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
