package lock

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Veraticus/linkboard/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startLockHub(t *testing.T) string {
	t.Helper()
	_, url := serveLocks(t, NewMemoryService(MemoryConfig{}))
	return url
}

// serveLocks serves svc on a fresh hub. Sweeping is left to the test.
func serveLocks(t *testing.T, svc Service) (*Server, string) {
	t.Helper()
	hub, err := transport.NewHub(&transport.HubConfig{})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	server := Serve(ctx, hub, svc, &ServeConfig{Sweep: time.Hour})

	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		cancel()
		_ = hub.Close()
		srv.Close()
	})
	return server, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialNode(t *testing.T, url, node string) *transport.Client {
	t.Helper()
	c, err := transport.Dial(context.Background(), &transport.ClientConfig{URL: url, NodeID: node})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRemoteService(t *testing.T) {
	url := startLockHub(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alice := NewRemoteService(dialNode(t, url, "alice"), nil)
	bob := NewRemoteService(dialNode(t, url, "bob"), nil)
	require.NoError(t, bob.Watch(ctx, "doc"))

	l, err := alice.Acquire(ctx, "doc", AcquireRequest{Holder: "spoofed", Attributes: Attributes{IDs: []string{"x"}}})
	require.NoError(t, err)
	assert.Equal(t, "alice", l.Holder, "holder must be the authenticated node")

	_, err = bob.Acquire(ctx, "doc", AcquireRequest{Holder: "bob", Attributes: Attributes{IDs: []string{"x"}}})
	assert.ErrorIs(t, err, ErrLockHeld)

	// Bob's cache follows alice's lease through the hub broadcast.
	assert.Eventually(t, func() bool {
		locks, err := bob.Get(ctx, "doc")
		if err != nil {
			return false
		}
		holder, ok := HolderOf(locks, "x", time.Now())
		return ok && holder == "alice"
	}, 2*time.Second, 10*time.Millisecond)

	// Bob cannot release alice's lease.
	assert.ErrorIs(t, bob.Release(ctx, "doc", "alice"), ErrNotHeld)

	require.NoError(t, alice.Release(ctx, "doc", "alice"))
	assert.Eventually(t, func() bool {
		locks, err := bob.Get(ctx, "doc")
		return err == nil && len(locks) == 0
	}, 2*time.Second, 10*time.Millisecond)

	locks, err := alice.Get(ctx, "doc")
	require.NoError(t, err)
	assert.Empty(t, locks)
}

func TestRemoteManagerRace(t *testing.T) {
	url := startLockHub(t)
	ctx := context.Background()

	alice, err := NewManager(&Config{Service: NewRemoteService(dialNode(t, url, "alice"), nil), Room: "doc"})
	require.NoError(t, err)
	defer alice.Close(ctx)
	bob, err := NewManager(&Config{Service: NewRemoteService(dialNode(t, url, "bob"), nil), Room: "doc"})
	require.NoError(t, err)
	defer bob.Close(ctx)

	done := make(chan error, 2)
	go func() { done <- alice.Select(ctx, "alice", []string{"shape"}) }()
	go func() { done <- bob.Select(ctx, "bob", []string{"shape"}) }()

	failures := 0
	for i := 0; i < 2; i++ {
		if err := <-done; err != nil {
			assert.ErrorIs(t, err, ErrLockHeld)
			failures++
		}
	}
	assert.Equal(t, 1, failures)
	assert.True(t, alice.Attributed("alice") != bob.Attributed("bob"))
}

func TestRemoteServiceLapsedLeases(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	server, url := serveLocks(t, NewMemoryService(MemoryConfig{TTL: time.Minute, Clock: clock.Now}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alice := NewRemoteService(dialNode(t, url, "alice"), nil)
	bob := NewRemoteService(dialNode(t, url, "bob"), nil)
	require.NoError(t, bob.Watch(ctx, "doc"))

	_, err := alice.Acquire(ctx, "doc", AcquireRequest{Attributes: Attributes{IDs: []string{"x"}}})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		locks, err := bob.Get(ctx, "doc")
		return err == nil && len(locks) == 1
	}, 2*time.Second, 10*time.Millisecond)

	t.Run("CacheSkipsExpired", func(t *testing.T) {
		stale := &RemoteService{
			clock: func() time.Time { return time.Now().Add(2 * time.Minute) },
			cache: map[string][]Lock{"doc": mustRemoteLocks(t, bob)},
		}
		locks, err := stale.Get(ctx, "doc")
		require.NoError(t, err)
		assert.Empty(t, locks)
	})

	t.Run("SweepAnnouncesLapse", func(t *testing.T) {
		clock.Advance(61 * time.Second)
		server.Sweep(ctx)

		assert.Eventually(t, func() bool {
			locks, err := bob.Get(ctx, "doc")
			return err == nil && len(locks) == 0
		}, 2*time.Second, 10*time.Millisecond)

		_, err := bob.Acquire(ctx, "doc", AcquireRequest{Attributes: Attributes{IDs: []string{"x"}}})
		assert.NoError(t, err)
	})
}

func TestRemoteServiceDisconnectReleases(t *testing.T) {
	_, url := serveLocks(t, NewMemoryService(MemoryConfig{}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	aliceConn := dialNode(t, url, "alice")
	alice := NewRemoteService(aliceConn, nil)
	bob := NewRemoteService(dialNode(t, url, "bob"), nil)
	require.NoError(t, bob.Watch(ctx, "doc"))

	_, err := alice.Acquire(ctx, "doc", AcquireRequest{Attributes: Attributes{IDs: []string{"x"}}})
	require.NoError(t, err)

	require.NoError(t, aliceConn.Close())
	assert.Eventually(t, func() bool {
		locks, err := bob.Get(ctx, "doc")
		return err == nil && len(locks) == 0
	}, 2*time.Second, 10*time.Millisecond)

	_, err = bob.Acquire(ctx, "doc", AcquireRequest{Attributes: Attributes{IDs: []string{"x"}}})
	assert.NoError(t, err)
}

func mustRemoteLocks(t *testing.T, svc *RemoteService) []Lock {
	t.Helper()
	locks, err := svc.Get(context.Background(), "doc")
	require.NoError(t, err)
	return locks
}
