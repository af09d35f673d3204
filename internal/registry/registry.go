// Package registry implements Babble's client registration table (§4.A):
// a reader-writer-protected map from client key to client bundle.
package registry

import (
	"errors"
	"sync"
)

// Sentinel errors returned by Insert/Lookup, matching spec.md §4.A and
// §7's error taxonomy.
var (
	ErrDuplicate = errors.New("registry: key already registered")
	ErrFull      = errors.New("registry: max clients reached")
	ErrNotFound  = errors.New("registry: key not registered")
)

// Client is one registered session's bundle. Followers/Followed are
// guarded by their own mutex rather than the registry's RWMutex: a FOLLOW
// command looks both bundles up under the registry's read lock, then
// writes the *target's* Followers set and the *follower's* Followed set
// holding only each bundle's own mutex (§4.A Design Notes, option (a) —
// per-bundle locking for cross-client fields avoids promoting every
// FOLLOW to a registry write lock).
type Client struct {
	Key  uint64
	Name string

	mu        sync.Mutex
	followers map[uint64]struct{}
	followed  map[uint64]struct{}
}

func newClient(key uint64, name string) *Client {
	return &Client{
		Key:       key,
		Name:      name,
		followers: make(map[uint64]struct{}),
		followed:  make(map[uint64]struct{}),
	}
}

// AddFollower registers follower as following this client. Idempotent.
func (c *Client) AddFollower(follower uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.followers[follower] = struct{}{}
}

// RemoveFollower drops follower from this client's follower set. Unregister
// does not call it: a client that unregisters stays in the follower sets
// of the clients it followed.
func (c *Client) RemoveFollower(follower uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.followers, follower)
}

// FollowerCount returns the current number of followers.
func (c *Client) FollowerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.followers)
}

// AddFollowed registers target as someone this client follows. Idempotent.
func (c *Client) AddFollowed(target uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.followed[target] = struct{}{}
}

// RemoveFollowed drops target from this client's followed set.
func (c *Client) RemoveFollowed(target uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.followed, target)
}

// FollowedKeys returns the keys of every client this client currently
// follows, the set Timeline merges publications across.
func (c *Client) FollowedKeys() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]uint64, 0, len(c.followed))
	for k := range c.followed {
		keys = append(keys, k)
	}
	return keys
}

// Registry is the process-wide client table. A sync.RWMutex is used
// directly rather than a hand-rolled or third-party rwlock: Go's
// implementation is writer-preferring (a blocked Lock call stalls new
// RLock callers), matching the writer-preferring pthread_rwlock default
// confirmed in the source (see DESIGN.md).
type Registry struct {
	mu         sync.RWMutex
	clients    map[uint64]*Client
	maxClients int
}

// New creates an empty registry bounded at maxClients entries.
func New(maxClients int) *Registry {
	return &Registry{
		clients:    make(map[uint64]*Client),
		maxClients: maxClients,
	}
}

// Insert registers a new client under key. It fails with ErrDuplicate if
// key is already registered (spec.md Testable Property 3 — the source's
// silent-replace behavior is intentionally not reproduced, see
// DESIGN.md), or ErrFull if the registry is at capacity.
func (r *Registry) Insert(key uint64, name string) (*Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.clients[key]; exists {
		return nil, ErrDuplicate
	}
	if len(r.clients) >= r.maxClients {
		return nil, ErrFull
	}

	c := newClient(key, name)
	r.clients[key] = c
	return c, nil
}

// Lookup returns the client registered under key, or ErrNotFound.
func (r *Registry) Lookup(key uint64) (*Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.clients[key]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

// Remove unregisters key, returning ErrNotFound if it was never present.
func (r *Registry) Remove(key uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[key]; !ok {
		return ErrNotFound
	}
	delete(r.clients, key)
	return nil
}

// Len reports the current number of registered clients.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
