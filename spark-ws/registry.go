package sparkws

import "sync"

// Handle is a live transport endpoint for a single socket.
type Handle interface {
	// Send enqueues a payload for delivery without blocking. It returns an
	// error if the handle is closed or its outbound queue is full; callers
	// skip the handle rather than retry.
	Send(payload []byte) error

	// Open reports whether the transport is still writable.
	Open() bool
}

type connKey struct {
	sparkID string
	userID  string
}

// Registry maps (sparkID, userID) to the live transport handle for that
// member. It holds at most one handle per key; a later Set for the same key
// replaces the previous handle, which is then treated as superseded. The
// registry is in-memory only and rebuilt from scratch on restart, since it
// mirrors actually-open sockets.
type Registry struct {
	mu      sync.RWMutex
	handles map[connKey]Handle
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{
		handles: make(map[connKey]Handle),
	}
}

// Set registers a handle under (sparkID, userID), overwriting any previous
// handle for the key.
func (r *Registry) Set(sparkID, userID string, h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handles[connKey{sparkID, userID}] = h
}

// Get returns the current handle for (sparkID, userID).
func (r *Registry) Get(sparkID, userID string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handles[connKey{sparkID, userID}]
	return h, ok
}

// Remove deletes the entry for (sparkID, userID), whatever handle it holds.
func (r *Registry) Remove(sparkID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.handles, connKey{sparkID, userID})
}

// CompareAndRemove deletes the entry for (sparkID, userID) only if it still
// holds the given handle instance, and reports whether it removed anything.
// A close event from a superseded handle must not evict the newer entry.
func (r *Registry) CompareAndRemove(sparkID, userID string, h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := connKey{sparkID, userID}
	if current, ok := r.handles[k]; ok && current == h {
		delete(r.handles, k)
		return true
	}
	return false
}

// ForEachInSession calls fn for every registered handle in the given spark.
// Iteration order is unspecified.
func (r *Registry) ForEachInSession(sparkID string, fn func(userID string, h Handle)) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for k, h := range r.handles {
		if k.sparkID == sparkID {
			fn(k.userID, h)
		}
	}
}

// Len returns the total number of registered handles.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.handles)
}
