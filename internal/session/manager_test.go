package session

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
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

type failingStore struct {
	*MemoryStore
	getErr    error
	deleteErr error
	saveErr   error
}

func (s *failingStore) Save(ctx context.Context, sess *Session) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	return s.MemoryStore.Save(ctx, sess)
}

func (s *failingStore) Get(ctx context.Context, token string) (*Session, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.MemoryStore.Get(ctx, token)
}

func (s *failingStore) Delete(ctx context.Context, token string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	return s.MemoryStore.Delete(ctx, token)
}

func TestCreateAndValidate(t *testing.T) {
	clock := newFakeClock()
	m := NewManager(NewMemoryStore(), WithClock(clock.Now))
	ctx := context.Background()

	s, err := m.Create(ctx, Identity{Username: "alice"})
	require.NoError(t, err)
	assert.Len(t, s.Token, 64)
	assert.Equal(t, clock.Now(), s.CreatedAt)
	assert.Equal(t, s.CreatedAt.Add(TTL), s.ExpiresAt)

	user, ok := m.Validate(ctx, s.Token)
	require.True(t, ok)
	assert.Equal(t, "alice", user.Username)
}

func TestCreateIssuesDistinctTokens(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()

	a, err := m.Create(ctx, Identity{Username: "alice"})
	require.NoError(t, err)
	b, err := m.Create(ctx, Identity{Username: "alice"})
	require.NoError(t, err)
	assert.NotEqual(t, a.Token, b.Token)
}

func TestCreateRequiresUsername(t *testing.T) {
	m := NewManager(NewMemoryStore())
	_, err := m.Create(context.Background(), Identity{})
	assert.Error(t, err)
}

func TestCreateSurfacesStoreError(t *testing.T) {
	store := &failingStore{MemoryStore: NewMemoryStore(), saveErr: errors.New("disk full")}
	m := NewManager(store)
	_, err := m.Create(context.Background(), Identity{Username: "alice"})
	assert.Error(t, err)
}

func TestValidateUnknownToken(t *testing.T) {
	m := NewManager(NewMemoryStore())
	_, ok := m.Validate(context.Background(), "nope")
	assert.False(t, ok)

	_, ok = m.Validate(context.Background(), "")
	assert.False(t, ok)
}

func TestValidateAroundExpiry(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore()
	m := NewManager(store, WithClock(clock.Now))
	ctx := context.Background()

	s, err := m.Create(ctx, Identity{Username: "alice"})
	require.NoError(t, err)

	clock.Advance(TTL - time.Second)
	_, ok := m.Validate(ctx, s.Token)
	assert.True(t, ok, "session must be valid just before TTL")

	clock.Advance(2 * time.Second)
	_, ok = m.Validate(ctx, s.Token)
	assert.False(t, ok, "session must be invalid just after TTL")
	assert.Equal(t, 0, store.Len(), "expired session is removed lazily")
}

func TestValidateExactlyAtExpiry(t *testing.T) {
	clock := newFakeClock()
	m := NewManager(NewMemoryStore(), WithClock(clock.Now))
	ctx := context.Background()

	s, err := m.Create(ctx, Identity{Username: "alice"})
	require.NoError(t, err)

	clock.Advance(TTL)
	_, ok := m.Validate(ctx, s.Token)
	assert.False(t, ok)
}

func TestValidateStoreErrorIsAbsent(t *testing.T) {
	store := &failingStore{MemoryStore: NewMemoryStore()}
	m := NewManager(store)
	ctx := context.Background()

	s, err := m.Create(ctx, Identity{Username: "alice"})
	require.NoError(t, err)

	store.getErr = errors.New("connection refused")
	_, ok := m.Validate(ctx, s.Token)
	assert.False(t, ok)
}

func TestDestroy(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()

	s, err := m.Create(ctx, Identity{Username: "alice"})
	require.NoError(t, err)

	require.NoError(t, m.Destroy(ctx, s.Token))
	_, ok := m.Validate(ctx, s.Token)
	assert.False(t, ok)

	assert.NoError(t, m.Destroy(ctx, s.Token), "destroying twice is not an error")
}

func TestDestroySurfacesStoreError(t *testing.T) {
	boom := errors.New("io failure")
	store := &failingStore{MemoryStore: NewMemoryStore(), deleteErr: boom}
	m := NewManager(store)

	err := m.Destroy(context.Background(), "token")
	assert.ErrorIs(t, err, boom)
}

func TestDestroyVisibleToConcurrentValidate(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()

	tokens := make([]string, 50)
	for i := range tokens {
		s, err := m.Create(ctx, Identity{Username: "alice"})
		require.NoError(t, err)
		tokens[i] = s.Token
	}

	var wg sync.WaitGroup
	for _, token := range tokens {
		wg.Add(1)
		go func(token string) {
			defer wg.Done()
			if err := m.Destroy(ctx, token); err != nil {
				t.Errorf("destroy: %v", err)
				return
			}
			if _, ok := m.Validate(ctx, token); ok {
				t.Errorf("token %s still valid after destroy", token)
			}
		}(token)
	}
	wg.Wait()
}

func TestSweepRemovesExpired(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore()
	m := NewManager(store, WithClock(clock.Now))
	ctx := context.Background()

	_, err := m.Create(ctx, Identity{Username: "old"})
	require.NoError(t, err)
	clock.Advance(TTL / 2)
	fresh, err := m.Create(ctx, Identity{Username: "new"})
	require.NoError(t, err)

	clock.Advance(TTL/2 + time.Second)
	assert.Equal(t, 1, m.Sweep(ctx))
	assert.Equal(t, 1, store.Len())

	_, ok := m.Validate(ctx, fresh.Token)
	assert.True(t, ok)
}

func TestRunSweeperStopsOnCancel(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		m.RunSweeper(ctx, time.Millisecond)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestRedisStoreRoundTrip(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opt, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	store := NewRedisStore(rdb, "test-sess:")
	m := NewManager(store)
	ctx := context.Background()

	s, err := m.Create(ctx, Identity{Username: "alice"})
	require.NoError(t, err)

	ttl, err := rdb.TTL(ctx, "test-sess:"+s.Token).Result()
	require.NoError(t, err)
	assert.InDelta(t, TTL.Seconds(), ttl.Seconds(), 5)

	user, ok := m.Validate(ctx, s.Token)
	require.True(t, ok)
	assert.Equal(t, "alice", user.Username)

	require.NoError(t, m.Destroy(ctx, s.Token))
	_, ok = m.Validate(ctx, s.Token)
	assert.False(t, ok)
}
