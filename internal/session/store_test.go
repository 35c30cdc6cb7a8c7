package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"deanalyse/domain/core"
	"deanalyse/domain/profile"
	"deanalyse/domain/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(retention time.Duration) (*MemoryStore, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	return NewMemoryStore(retention, WithClock(clock.Now)), clock
}

func TestPutGetReplace(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(time.Hour)

	first := &profile.Profile{RowCount: 1}
	second := &profile.Profile{RowCount: 2}

	require.NoError(t, store.Put(ctx, "s1", &session.Entry{Profile: first}))
	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Same(t, first, got.Profile)
	assert.Equal(t, "s1", got.ID)

	require.NoError(t, store.Put(ctx, "s1", &session.Entry{Profile: second}))
	replaced, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Same(t, second, replaced.Profile)

	// the previously returned entry is untouched
	assert.Same(t, first, got.Profile)
}

func TestLatestAlias(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(time.Hour)

	_, err := store.Get(ctx, session.LatestKey)
	assert.ErrorIs(t, err, core.ErrSessionNotFound)

	require.NoError(t, store.Put(ctx, "a", &session.Entry{Filename: "a.csv"}))
	require.NoError(t, store.Put(ctx, "b", &session.Entry{Filename: "b.csv"}))

	latest, err := store.Get(ctx, session.LatestKey)
	require.NoError(t, err)
	assert.Equal(t, "b.csv", latest.Filename)

	require.NoError(t, store.Delete(ctx, "b"))
	_, err = store.Latest(ctx)
	assert.ErrorIs(t, err, core.ErrSessionNotFound)

	a, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a.csv", a.Filename)
}

func TestExpiredEntriesAreHiddenBeforeSweep(t *testing.T) {
	ctx := context.Background()
	store, clock := newTestStore(24 * time.Hour)

	require.NoError(t, store.Put(ctx, "old", &session.Entry{}))
	clock.Advance(23 * time.Hour)
	require.NoError(t, store.Put(ctx, "new", &session.Entry{}))
	clock.Advance(2 * time.Hour)

	_, err := store.Get(ctx, "old")
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
	assert.Equal(t, 2, store.Len())

	_, err = store.Get(ctx, "new")
	require.NoError(t, err)

	assert.Equal(t, 1, store.Sweep(clock.Now()))
	assert.Equal(t, 1, store.Len())
}

func TestGetHonoursCancelledContext(t *testing.T) {
	store, _ := newTestStore(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Get(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConcurrentPutGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			_ = store.Put(ctx, "shared", &session.Entry{Profile: &profile.Profile{RowCount: n}})
		}(i)
		go func() {
			defer wg.Done()
			if e, err := store.Get(ctx, "shared"); err == nil {
				assert.NotNil(t, e.Profile)
			}
		}()
	}
	wg.Wait()
}

func TestSweeperStops(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := NewMemoryStore(time.Millisecond)
	require.NoError(t, store.Put(context.Background(), "s", &session.Entry{}))

	store.StartSweeper(context.Background(), 5*time.Millisecond)
	assert.Eventually(t, func() bool { return store.Len() == 0 }, time.Second, 5*time.Millisecond)
	store.Stop()
	store.Stop()
}
