// Package business implements Babble's business logic (§6's "external
// collaborator"): the semantics behind each command once it has been
// dispatched to a shard's executor. It holds no knowledge of sockets,
// queues, or shards — only the registry and per-client timelines.
package business

import (
	"fmt"
	"sort"
	"sync"

	"github.com/babblehq/babble/internal/registry"
)

// post is one publication, stamped with a monotonic sequence number so
// publications from different authors can be merged into a single
// chronological timeline (§1 Purpose, Glossary "Timeline": "a merged
// timeline of posts from the people they follow").
type post struct {
	seq  uint64
	text string
}

// Logic implements Login/Publish/Follow/Timeline/FollowCount/Rdv against
// a shared Registry. A single Logic instance is safe for concurrent use
// across every shard's executor goroutine; concurrency safety comes from
// the registry's RWMutex plus one mutex guarding every client's timeline, not from
// confining Logic to one goroutine.
type Logic struct {
	registry           *registry.Registry
	maxTimelineEntries int

	mu        sync.Mutex
	timelines map[uint64][]post
	nextSeq   uint64
}

// New creates business logic bound to reg, bounding every client's
// timeline at maxTimelineEntries publications (oldest dropped first).
func New(reg *registry.Registry, maxTimelineEntries int) *Logic {
	return &Logic{
		registry:           reg,
		maxTimelineEntries: maxTimelineEntries,
		timelines:          make(map[uint64][]post),
	}
}

// Login registers name under key. Fails with registry.ErrDuplicate if
// key is already registered, or registry.ErrFull at capacity (§4.A).
func (l *Logic) Login(key uint64, name string) error {
	_, err := l.registry.Insert(key, name)
	if err != nil {
		return fmt.Errorf("login %q: %w", name, err)
	}

	l.mu.Lock()
	l.timelines[key] = nil
	l.mu.Unlock()
	return nil
}

// Publish appends text to key's own post history, trimming the oldest
// entry once it exceeds maxTimelineEntries (§3: "bounded by business
// layer").
func (l *Logic) Publish(key uint64, text string) error {
	if _, err := l.registry.Lookup(key); err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextSeq++
	tl := append(l.timelines[key], post{seq: l.nextSeq, text: text})
	if over := len(tl) - l.maxTimelineEntries; over > 0 {
		tl = tl[over:]
	}
	l.timelines[key] = tl
	return nil
}

// Follow registers the client under followerKey as a follower of name,
// and records name's key in the follower's own Followed set so Timeline
// can later merge across it.
func (l *Logic) Follow(followerKey uint64, name string, keyOf func(string) uint64) error {
	targetKey := keyOf(name)
	target, err := l.registry.Lookup(targetKey)
	if err != nil {
		return fmt.Errorf("follow %q: %w", name, err)
	}
	follower, err := l.registry.Lookup(followerKey)
	if err != nil {
		return fmt.Errorf("follow: follower not registered: %w", err)
	}

	target.AddFollower(followerKey)
	follower.AddFollowed(targetKey)
	return nil
}

// Timeline returns the merged publications of every client key follows,
// most recent first and bounded at maxTimelineEntries (§1 Purpose,
// Glossary "Timeline", Testable Property 8/S1: "a merged timeline of
// posts from the people they follow").
func (l *Logic) Timeline(key uint64) ([]string, error) {
	client, err := l.registry.Lookup(key)
	if err != nil {
		return nil, fmt.Errorf("timeline: %w", err)
	}
	followed := client.FollowedKeys()

	l.mu.Lock()
	merged := make([]post, 0, l.maxTimelineEntries)
	for _, targetKey := range followed {
		merged = append(merged, l.timelines[targetKey]...)
	}
	l.mu.Unlock()

	sort.Slice(merged, func(i, j int) bool { return merged[i].seq > merged[j].seq })
	if len(merged) > l.maxTimelineEntries {
		merged = merged[:l.maxTimelineEntries]
	}

	out := make([]string, len(merged))
	for i, p := range merged {
		out[i] = p.text
	}
	return out, nil
}

// FollowCount returns the number of followers registered against key.
func (l *Logic) FollowCount(key uint64) (int, error) {
	c, err := l.registry.Lookup(key)
	if err != nil {
		return 0, fmt.Errorf("follow_count: %w", err)
	}
	return c.FollowerCount(), nil
}

// Rdv ("rendez-vous") returns whether key is currently registered,
// Babble's liveness probe command.
func (l *Logic) Rdv(key uint64) (bool, error) {
	_, err := l.registry.Lookup(key)
	if err != nil {
		return false, nil
	}
	return true, nil
}

// Unregister removes key from the registry and discards its timeline,
// the terminal step of the CLOSING state (§4.D).
func (l *Logic) Unregister(key uint64) error {
	if err := l.registry.Remove(key); err != nil {
		return fmt.Errorf("unregister: %w", err)
	}

	l.mu.Lock()
	delete(l.timelines, key)
	l.mu.Unlock()
	return nil
}
