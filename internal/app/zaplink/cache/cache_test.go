package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gdg-charusat/zaplink/internal/app/zaplink"
	"github.com/gdg-charusat/zaplink/internal/app/zaplink/repo"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

// countingStore 记录回源次数
type countingStore struct {
	*repo.MemoryStore
	gets atomic.Int32
}

func (c *countingStore) Get(ctx context.Context, code string) (zaplink.Link, error) {
	c.gets.Add(1)
	return c.MemoryStore.Get(ctx, code)
}

func newInner(t *testing.T) *countingStore {
	t.Helper()
	codec, err := zaplink.NewCodec(6)
	require.NoError(t, err)
	return &countingStore{MemoryStore: repo.NewMemoryStore(codec)}
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func newLocal(t *testing.T) *LocalCache {
	t.Helper()
	local, err := NewLocalCache(1000, time.Minute)
	require.NoError(t, err)
	t.Cleanup(local.Close)
	return local
}

func sampleLink(p zaplink.Policy) zaplink.NewLink {
	return zaplink.NewLink{Name: "doc", ArtifactRef: "file://doc.pdf", FileName: "doc.pdf", Policy: p, CreatedAt: base}
}

func TestLinkCache_RedisRoundTrip(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)
	c := NewLinkCache(client, nil, time.Hour)

	_, lookup, err := c.Get(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, Miss, lookup)

	owner := int64(7)
	l := zaplink.Link{Code: "abc123", Name: "doc", Policy: zaplink.ExpiresAt(base.Add(time.Hour)), OwnerID: &owner, CreatedAt: base, PasswordHash: "$2a$hash"}
	require.NoError(t, c.Set(ctx, l))
	assert.Equal(t, time.Hour, mr.TTL(keyPrefix+"abc123"))

	got, lookup, err := c.Get(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, Hit, lookup)
	assert.Equal(t, l.Name, got.Name)
	assert.True(t, l.Policy.ExpiresAt.Equal(got.Policy.ExpiresAt))
	assert.Equal(t, l.PasswordHash, got.PasswordHash)
	require.NotNil(t, got.OwnerID)
	assert.Equal(t, owner, *got.OwnerID)

	require.NoError(t, c.SetNotFound(ctx, "gone99"))
	_, lookup, err = c.Get(ctx, "gone99")
	require.NoError(t, err)
	assert.Equal(t, HitNegative, lookup)
	assert.Equal(t, 30*time.Second, mr.TTL(keyPrefix+"gone99"))

	require.NoError(t, c.Delete(ctx, "abc123", "gone99"))
	assert.False(t, mr.Exists(keyPrefix+"abc123"))

	// 损坏的条目视为未命中并被删除
	require.NoError(t, mr.Set(keyPrefix+"bad123", "{not json"))
	_, lookup, err = c.Get(ctx, "bad123")
	require.NoError(t, err)
	assert.Equal(t, Miss, lookup)
	assert.False(t, mr.Exists(keyPrefix+"bad123"))
}

func TestLinkCache_L2BackfillsL1(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)
	local := newLocal(t)
	c := NewLinkCache(client, local, time.Hour)

	l := zaplink.Link{Code: "abc123", Name: "doc", CreatedAt: base}
	b := NewLinkCache(client, nil, time.Hour)
	require.NoError(t, b.Set(ctx, l))

	_, lookup, err := c.Get(ctx, "abc123")
	require.NoError(t, err)
	require.Equal(t, Hit, lookup)
	local.Wait()

	// Redis 挂了也能从 L1 读到
	mr.Close()
	got, lookup, err := c.Get(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, Hit, lookup)
	assert.Equal(t, "doc", got.Name)

	_, _, err = c.Get(ctx, "other1")
	assert.Error(t, err)
}

func TestCachedStore_GetIsCached(t *testing.T) {
	ctx := context.Background()
	inner := newInner(t)
	_, client := newRedis(t)
	s := NewCachedStore(inner, NewLinkCache(client, nil, time.Hour), nil)

	l, err := s.Create(ctx, sampleLink(zaplink.Unlimited()))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		got, err := s.Get(ctx, l.Code)
		require.NoError(t, err)
		assert.Equal(t, l.Code, got.Code)
	}
	assert.Zero(t, inner.gets.Load(), "create warms the cache")

	// 负缓存
	_, err = s.Get(ctx, "nosuch")
	assert.ErrorIs(t, err, zaplink.ErrNotFound)
	_, err = s.Get(ctx, "nosuch")
	assert.ErrorIs(t, err, zaplink.ErrNotFound)
	assert.EqualValues(t, 1, inner.gets.Load())
}

func TestCachedStore_ConsumeViewRefreshesCache(t *testing.T) {
	ctx := context.Background()
	inner := newInner(t)
	_, client := newRedis(t)
	s := NewCachedStore(inner, NewLinkCache(client, nil, time.Hour), nil)

	l, err := s.Create(ctx, sampleLink(zaplink.MaxViews(1)))
	require.NoError(t, err)

	granted, err := s.ConsumeView(ctx, l.Code, base)
	require.NoError(t, err)
	assert.True(t, granted.Tombstoned())

	cached, err := s.Get(ctx, l.Code)
	require.NoError(t, err)
	assert.True(t, cached.Tombstoned(), "cache holds the post-consume state")
	assert.EqualValues(t, 1, cached.ViewCount)

	_, err = s.ConsumeView(ctx, l.Code, base)
	assert.ErrorIs(t, err, zaplink.ErrExpired)
}

func TestCachedStore_RevokeAndInvalidate(t *testing.T) {
	ctx := context.Background()
	inner := newInner(t)
	_, client := newRedis(t)
	s := NewCachedStore(inner, NewLinkCache(client, nil, time.Hour), nil)

	l, err := s.Create(ctx, sampleLink(zaplink.ExpiresAt(base.Add(time.Minute))))
	require.NoError(t, err)
	_, err = s.Get(ctx, l.Code)
	require.NoError(t, err)

	// 底层被别人（sweeper）打了墓碑，Invalidate 之后 Get 回源
	swept, err := inner.SweepExpired(ctx, base.Add(time.Hour), 10)
	require.NoError(t, err)
	require.Equal(t, []string{l.Code}, swept)
	stale, err := s.Get(ctx, l.Code)
	require.NoError(t, err)
	assert.False(t, stale.Tombstoned())

	s.Invalidate(ctx, swept...)
	fresh, err := s.Get(ctx, l.Code)
	require.NoError(t, err)
	assert.True(t, fresh.Tombstoned())

	other, err := s.Create(ctx, sampleLink(zaplink.Unlimited()))
	require.NoError(t, err)
	require.NoError(t, s.Revoke(ctx, other.Code, base))
	got, err := s.Get(ctx, other.Code)
	require.NoError(t, err)
	assert.True(t, got.Tombstoned())
	assert.ErrorIs(t, s.Revoke(ctx, other.Code, base), zaplink.ErrAlreadyExhausted)
}

func TestCachedStore_SingleflightCollapsesMisses(t *testing.T) {
	ctx := context.Background()
	inner := newInner(t)
	l, err := inner.Create(ctx, sampleLink(zaplink.Unlimited()))
	require.NoError(t, err)

	_, client := newRedis(t)
	s := NewCachedStore(inner, NewLinkCache(client, nil, time.Hour), nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Get(ctx, l.Code)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, inner.gets.Load(), int32(20))
	assert.GreaterOrEqual(t, inner.gets.Load(), int32(1))

	before := inner.gets.Load()
	_, err = s.Get(ctx, l.Code)
	require.NoError(t, err)
	assert.Equal(t, before, inner.gets.Load(), "served from cache after the first load")
}

func TestBloom_WarmAndReject(t *testing.T) {
	ctx := context.Background()
	inner := newInner(t)
	var codes []string
	for i := 0; i < 10; i++ {
		l, err := inner.Create(ctx, sampleLink(zaplink.Unlimited()))
		require.NoError(t, err)
		codes = append(codes, l.Code)
	}

	bloom := NewBloomFilter(1000, 0.001)
	n, err := bloom.Warm(ctx, inner)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	for _, code := range codes {
		assert.True(t, bloom.MightExist(code))
	}
	assert.InDelta(t, 10, float64(bloom.Count()), 1)

	_, client := newRedis(t)
	s := NewCachedStore(inner, NewLinkCache(client, nil, time.Minute), bloom)
	_, err = s.Get(ctx, "zzzzzzzz")
	assert.ErrorIs(t, err, zaplink.ErrNotFound)
	assert.Zero(t, inner.gets.Load(), "bloom rejects before the store")

	// 新建的 code 立刻可见
	l, err := s.Create(ctx, sampleLink(zaplink.Unlimited()))
	require.NoError(t, err)
	got, err := s.Get(ctx, l.Code)
	require.NoError(t, err)
	assert.Equal(t, l.Code, got.Code)
}

// 两个实例共用一个 RedisStore，各自只有 L1：B 的布隆过滤器不认识 A 新建的 code，也不能报不存在。
func TestBloom_WithoutSharedL2FallsThroughToStore(t *testing.T) {
	ctx := context.Background()
	_, client := newRedis(t)
	codec, err := zaplink.NewCodec(6)
	require.NoError(t, err)
	shared := repo.NewRedisStore(client, codec)

	newInstance := func() *CachedStore {
		bloom := NewBloomFilter(1000, 0.001)
		_, err := bloom.Warm(ctx, shared)
		require.NoError(t, err)
		return NewCachedStore(shared, NewLinkCache(nil, newLocal(t), time.Minute), bloom)
	}
	a, b := newInstance(), newInstance()

	l, err := a.Create(ctx, sampleLink(zaplink.MaxViews(2)))
	require.NoError(t, err)

	got, err := b.Get(ctx, l.Code)
	require.NoError(t, err)
	assert.Equal(t, l.Code, got.Code)

	enforcer := zaplink.NewEnforcer(b, nil)
	granted, err := enforcer.TryAccess(ctx, zaplink.AccessRequest{Code: l.Code, Now: base.Add(time.Minute)})
	require.NoError(t, err)
	assert.EqualValues(t, 1, granted.ViewCount)

	// 真正不存在的 code 仍然是 ErrNotFound
	_, err = b.Get(ctx, "zzzzzzzz")
	assert.ErrorIs(t, err, zaplink.ErrNotFound)
}
