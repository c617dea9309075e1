package rbac_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkboard/inkboard/internal/rbac"
)

// stubResolver counts resolutions and can hold them until released.
type stubResolver struct {
	mu    sync.Mutex
	calls int
	perms map[string]rbac.PermissionSet
	err   error

	started chan struct{}
	release chan struct{}
}

func newStubResolver() *stubResolver {
	return &stubResolver{perms: make(map[string]rbac.PermissionSet)}
}

func (s *stubResolver) Resolve(ctx context.Context, userID string) (rbac.PermissionSet, error) {
	s.mu.Lock()
	s.calls++
	set, err := s.perms[userID], s.err
	started, release := s.started, s.release
	s.mu.Unlock()
	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		<-release
	}
	return set, err
}

func (s *stubResolver) set(userID string, names ...string) {
	s.mu.Lock()
	s.perms[userID] = rbac.NewPermissionSet(names...)
	s.mu.Unlock()
}

func (s *stubResolver) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *stubResolver) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestCache(t *testing.T, r rbac.PermissionResolver, clock *fakeClock, max int) *rbac.DecisionCache {
	t.Helper()
	c, err := rbac.NewDecisionCache(r, rbac.CacheConfig{TTL: time.Minute, MaxEntries: max, Clock: clock.Now})
	require.NoError(t, err)
	return c
}

func TestDecisionCacheServesFreshEntries(t *testing.T) {
	r := newStubResolver()
	r.set("u1", "notes.read")
	clock := newFakeClock()
	c := newTestCache(t, r, clock, 0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		set, err := c.Permissions(ctx, "u1")
		require.NoError(t, err)
		assert.True(t, set.Has("notes.read"))
	}
	assert.Equal(t, 1, r.count())
	assert.Equal(t, time.Minute, c.TTL())

	clock.Advance(59 * time.Second)
	_, err := c.Permissions(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, r.count())
}

func TestDecisionCacheRefreshesAfterTTL(t *testing.T) {
	r := newStubResolver()
	r.set("u1", "notes.read")
	clock := newFakeClock()
	c := newTestCache(t, r, clock, 0)
	ctx := context.Background()

	_, err := c.Permissions(ctx, "u1")
	require.NoError(t, err)

	r.set("u1", "notes.read", "notes.update")
	clock.Advance(time.Minute)
	set, err := c.Permissions(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, r.count())
	assert.True(t, set.Has("notes.update"))
}

func TestDecisionCacheInvalidate(t *testing.T) {
	r := newStubResolver()
	r.set("u1", "notes.read")
	r.set("u2", "todos.read")
	c := newTestCache(t, r, newFakeClock(), 0)
	ctx := context.Background()

	_, err := c.Permissions(ctx, "u1")
	require.NoError(t, err)
	_, err = c.Permissions(ctx, "u2")
	require.NoError(t, err)
	require.Equal(t, 2, c.Len())

	c.Invalidate("u1")
	c.Invalidate("u1")
	c.Invalidate("missing")
	assert.Equal(t, 1, c.Len())

	r.set("u1")
	set, err := c.Permissions(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, set.Len())
	assert.Equal(t, 3, r.count())

	c.Purge()
	assert.Zero(t, c.Len())
}

func TestDecisionCacheDoesNotCacheErrors(t *testing.T) {
	r := newStubResolver()
	r.set("u1", "notes.read")
	r.fail(rbac.ErrStorage)
	c := newTestCache(t, r, newFakeClock(), 0)
	ctx := context.Background()

	_, err := c.Permissions(ctx, "u1")
	require.ErrorIs(t, err, rbac.ErrStorage)
	assert.Zero(t, c.Len())

	r.fail(nil)
	set, err := c.Permissions(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, set.Has("notes.read"))
	assert.Equal(t, 2, r.count())
}

func TestDecisionCacheBoundsEntries(t *testing.T) {
	r := newStubResolver()
	c := newTestCache(t, r, newFakeClock(), 2)
	ctx := context.Background()

	for _, u := range []string{"u1", "u2", "u3"} {
		_, err := c.Permissions(ctx, u)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, c.Len())

	// u1 was least recently used and got evicted.
	_, err := c.Permissions(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 4, r.count())
}

func TestDecisionCacheCollapsesConcurrentMisses(t *testing.T) {
	r := newStubResolver()
	r.set("u1", "notes.read")
	r.started = make(chan struct{}, 1)
	r.release = make(chan struct{})
	c := newTestCache(t, r, newFakeClock(), 0)

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			set, err := c.Permissions(context.Background(), "u1")
			if err == nil && !set.Has("notes.read") {
				err = errors.New("missing permission")
			}
			errs <- err
		}()
	}

	<-r.started
	close(r.release)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, r.count())
}

func TestDecisionCacheDropsFillRacingInvalidation(t *testing.T) {
	r := newStubResolver()
	r.set("u1", "notes.read")
	r.started = make(chan struct{}, 1)
	r.release = make(chan struct{})
	c := newTestCache(t, r, newFakeClock(), 0)

	done := make(chan rbac.PermissionSet, 1)
	go func() {
		set, err := c.Permissions(context.Background(), "u1")
		assert.NoError(t, err)
		done <- set
	}()

	<-r.started
	// A grant mutation lands while the old set is still being resolved.
	c.Invalidate("u1")
	close(r.release)
	<-done

	assert.Zero(t, c.Len(), "a fill that raced an invalidation must not be stored")

	r.mu.Lock()
	r.started, r.release = nil, nil
	r.mu.Unlock()
	_, err := c.Permissions(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, r.count())
	assert.Equal(t, 1, c.Len())
}

func TestDecisionCacheKeepsFillAcrossUnrelatedInvalidation(t *testing.T) {
	r := newStubResolver()
	r.set("alice", "notes.read")
	r.started = make(chan struct{}, 1)
	r.release = make(chan struct{})
	c := newTestCache(t, r, newFakeClock(), 0)

	done := make(chan error, 1)
	go func() {
		_, err := c.Permissions(context.Background(), "alice")
		done <- err
	}()

	<-r.started
	c.Invalidate("bob")
	close(r.release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, c.Len())

	set, err := c.Permissions(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, set.Has("notes.read"))
	assert.Equal(t, 1, r.count())
}

func TestDecisionCacheDropsFillRacingPurge(t *testing.T) {
	r := newStubResolver()
	r.set("u1", "notes.read")
	r.started = make(chan struct{}, 1)
	r.release = make(chan struct{})
	c := newTestCache(t, r, newFakeClock(), 0)

	done := make(chan error, 1)
	go func() {
		_, err := c.Permissions(context.Background(), "u1")
		done <- err
	}()

	<-r.started
	c.Purge()
	close(r.release)
	require.NoError(t, <-done)
	assert.Zero(t, c.Len())
}

func TestDecisionCacheInvalidationBookkeepingStaysBounded(t *testing.T) {
	r := newStubResolver()
	r.set("u1", "notes.read")
	c := newTestCache(t, r, newFakeClock(), 2)
	ctx := context.Background()

	for _, u := range []string{"u1", "u2", "u3", "u4"} {
		c.Invalidate(u)
	}

	_, err := c.Permissions(ctx, "u1")
	require.NoError(t, err)
	_, err = c.Permissions(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, r.count())

	c.Invalidate("u1")
	assert.Zero(t, c.Len())
}

func TestDecisionCacheCallerCancellation(t *testing.T) {
	r := newStubResolver()
	r.set("u1", "notes.read")
	r.started = make(chan struct{}, 1)
	r.release = make(chan struct{})
	c := newTestCache(t, r, newFakeClock(), 0)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.Permissions(ctx, "u1")
		errCh <- err
	}()
	<-r.started
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	// The flight itself keeps running and still populates the cache.
	close(r.release)
	assert.Eventually(t, func() bool { return c.Len() == 1 }, time.Second, 5*time.Millisecond)
}

func TestNewDecisionCacheRequiresResolver(t *testing.T) {
	_, err := rbac.NewDecisionCache(nil, rbac.CacheConfig{})
	assert.Error(t, err)
}
