package business

import (
	"errors"
	"testing"

	"github.com/babblehq/babble/internal/protocol"
	"github.com/babblehq/babble/internal/registry"
)

func keyOf(name string) uint64 { return protocol.HashKey(name) }

func TestLoginDuplicateFails(t *testing.T) {
	l := New(registry.New(4), 10)
	if err := l.Login(1, "alice"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := l.Login(1, "mallory"); !errors.Is(err, registry.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestTimelineMergesFollowedPublicationsMostRecentFirst(t *testing.T) {
	l := New(registry.New(4), 10)
	aliceKey, bobKey := keyOf("alice"), keyOf("bob")
	if err := l.Login(aliceKey, "alice"); err != nil {
		t.Fatalf("Login alice: %v", err)
	}
	if err := l.Login(bobKey, "bob"); err != nil {
		t.Fatalf("Login bob: %v", err)
	}
	if err := l.Follow(bobKey, "alice", keyOf); err != nil {
		t.Fatalf("Follow: %v", err)
	}

	for _, msg := range []string{"first", "second", "third"} {
		if err := l.Publish(aliceKey, msg); err != nil {
			t.Fatalf("Publish(%q): %v", msg, err)
		}
	}

	// alice follows nobody, so her timeline is empty: she never sees her
	// own posts back since Timeline merges *followed* clients, not the
	// caller.
	tl, err := l.Timeline(aliceKey)
	if err != nil {
		t.Fatalf("Timeline: %v", err)
	}
	if len(tl) != 0 {
		t.Fatalf("expected alice's own timeline (no follows) to be empty, got %v", tl)
	}

	tl, err = l.Timeline(bobKey)
	if err != nil {
		t.Fatalf("Timeline: %v", err)
	}
	want := []string{"third", "second", "first"}
	if len(tl) != len(want) {
		t.Fatalf("expected %d entries, got %d (%v)", len(want), len(tl), tl)
	}
	for i := range want {
		if tl[i] != want[i] {
			t.Fatalf("entry %d: expected %q, got %q", i, want[i], tl[i])
		}
	}
}

func TestTimelineMergesMultipleFollowedAuthorsBySequence(t *testing.T) {
	l := New(registry.New(4), 10)
	aliceKey, bobKey, carolKey := keyOf("alice"), keyOf("bob"), keyOf("carol")
	for key, name := range map[uint64]string{aliceKey: "alice", bobKey: "bob", carolKey: "carol"} {
		if err := l.Login(key, name); err != nil {
			t.Fatalf("Login %s: %v", name, err)
		}
	}
	if err := l.Follow(carolKey, "alice", keyOf); err != nil {
		t.Fatalf("Follow alice: %v", err)
	}
	if err := l.Follow(carolKey, "bob", keyOf); err != nil {
		t.Fatalf("Follow bob: %v", err)
	}

	if err := l.Publish(aliceKey, "alice-1"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := l.Publish(bobKey, "bob-1"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := l.Publish(aliceKey, "alice-2"); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	tl, err := l.Timeline(carolKey)
	if err != nil {
		t.Fatalf("Timeline: %v", err)
	}
	want := []string{"alice-2", "bob-1", "alice-1"}
	if len(tl) != len(want) {
		t.Fatalf("expected %d entries, got %d (%v)", len(want), len(tl), tl)
	}
	for i := range want {
		if tl[i] != want[i] {
			t.Fatalf("entry %d: expected %q, got %q (%v)", i, want[i], tl[i], tl)
		}
	}
}

func TestPublishBoundsMergedTimeline(t *testing.T) {
	l := New(registry.New(4), 2)
	aliceKey, bobKey := keyOf("alice"), keyOf("bob")
	if err := l.Login(aliceKey, "alice"); err != nil {
		t.Fatalf("Login alice: %v", err)
	}
	if err := l.Login(bobKey, "bob"); err != nil {
		t.Fatalf("Login bob: %v", err)
	}
	if err := l.Follow(bobKey, "alice", keyOf); err != nil {
		t.Fatalf("Follow: %v", err)
	}

	for _, msg := range []string{"a", "b", "c"} {
		if err := l.Publish(aliceKey, msg); err != nil {
			t.Fatalf("Publish(%q): %v", msg, err)
		}
	}
	tl, err := l.Timeline(bobKey)
	if err != nil {
		t.Fatalf("Timeline: %v", err)
	}
	if len(tl) != 2 {
		t.Fatalf("expected timeline bounded to 2 entries, got %d (%v)", len(tl), tl)
	}
	if tl[0] != "c" || tl[1] != "b" {
		t.Fatalf("expected [c b], got %v", tl)
	}
}

func TestFollowAndFollowCount(t *testing.T) {
	l := New(registry.New(4), 10)
	aliceKey, bobKey := keyOf("alice"), keyOf("bob")
	if err := l.Login(aliceKey, "alice"); err != nil {
		t.Fatalf("Login alice: %v", err)
	}
	if err := l.Login(bobKey, "bob"); err != nil {
		t.Fatalf("Login bob: %v", err)
	}

	if err := l.Follow(bobKey, "alice", keyOf); err != nil {
		t.Fatalf("Follow: %v", err)
	}

	count, err := l.FollowCount(aliceKey)
	if err != nil {
		t.Fatalf("FollowCount: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 follower, got %d", count)
	}
}

func TestFollowUnknownTargetFails(t *testing.T) {
	l := New(registry.New(4), 10)
	bobKey := keyOf("bob")
	if err := l.Login(bobKey, "bob"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := l.Follow(bobKey, "ghost", keyOf); err == nil {
		t.Fatalf("expected an error following an unregistered name")
	}
}

func TestRdv(t *testing.T) {
	l := New(registry.New(4), 10)
	live, err := l.Rdv(42)
	if err != nil {
		t.Fatalf("Rdv: %v", err)
	}
	if live {
		t.Fatalf("expected Rdv false for an unregistered key")
	}

	if err := l.Login(42, "alice"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	live, err = l.Rdv(42)
	if err != nil {
		t.Fatalf("Rdv: %v", err)
	}
	if !live {
		t.Fatalf("expected Rdv true for a registered key")
	}
}

func TestUnregisterRemovesClientAndTimeline(t *testing.T) {
	l := New(registry.New(4), 10)
	if err := l.Login(1, "alice"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := l.Publish(1, "hi"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := l.Unregister(1); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	if _, err := l.Timeline(1); err == nil {
		t.Fatalf("expected Timeline to fail after unregister")
	}
	// re-login must succeed, proving the key is fully free again
	if err := l.Login(1, "alice2"); err != nil {
		t.Fatalf("re-Login after unregister: %v", err)
	}
}
