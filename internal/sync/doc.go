// Package sync reconciles one collection key between the local cache and the
// remote mirror.
//
// Overview
//
// Every synced key gets its own Reconciler. Local mutations always land in
// the cache first and are then offered to a per-key pusher; remote snapshots
// are compared against the hash of the last value this session applied and
// adopted only when the content differs.
//
//	user action ──> Local() ──> cache.SetRaw ──> pusher ──> mirror.Push
//	                                                            │
//	mirror snapshot ──> Remote() ──> hash == last? ──> discard  │
//	                                     │                      │
//	                                     └──> apply + cache <───┘ (echo)
//
// Usage
//
//	var mu sync.Mutex
//	r := sync.New(schema.KeyTriedFoods, c, client, nil)
//	if err := r.Mount(&mu, func(value json.RawMessage) error {
//	    return json.Unmarshal(value, &state.triedFoods)
//	}); err != nil {
//	    return err
//	}
//	defer r.Close()
//
//	mu.Lock()
//	_ = r.Local(ctx, state.triedFoods)
//	mu.Unlock()
//
// Locking
//
// Local, Remote and Close expect the Locker passed to Mount to be held;
// snapshots arriving from the mirror take that Locker before reaching Remote.
// The owning store passes its state mutex, so remote adoption and local
// mutation are serialized with every other state change. Mount(nil, ...)
// falls back to a mutex private to the reconciler.
//
// Echoes
//
// The mirror fans a push back to its sender. A snapshot is discarded when its
// canonical hash equals the hash of the last value applied, local or remote;
// anything else is adopted, whoever sent it. A late echo of one of our own
// older values is therefore adopted briefly, and the echo of the newer value
// that follows it restores the latest state. Once pushes settle, local state
// equals the last snapshot the mirror broadcast.
//
// Pushes
//
// Pushes are fire-and-forget. At most one push per key is in flight; while
// it runs, newer values replace a single pending slot so only the latest is
// sent next. Failed pushes are logged and never retried.
package sync
