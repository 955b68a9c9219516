package cache

import (
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/gdg-charusat/zaplink/internal/app/zaplink"
)

// localEntry 存进 ristretto 的值；notFound=true 是负缓存。
type localEntry struct {
	link     zaplink.Link
	notFound bool
}

// LocalCache 基于 ristretto 的本地内存缓存（L1）
type LocalCache struct {
	cache    *ristretto.Cache
	ttl      time.Duration
	emptyTTL time.Duration
}

// NewLocalCache 创建本地缓存
// maxItems: 最大缓存条目数（建议 10000-100000）
// ttl: 正缓存 TTL，多实例部署时要短，L1 之间没有失效广播
func NewLocalCache(maxItems int64, ttl time.Duration) (*LocalCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxItems * 10, // 计数器数量，建议为 maxItems 的 10 倍
		MaxCost:     maxItems,      // cost=1，按条目数限制
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &LocalCache{
		cache:    cache,
		ttl:      ttl,
		emptyTTL: 10 * time.Second,
	}, nil
}

func (l *LocalCache) Get(code string) (localEntry, bool) {
	if v, ok := l.cache.Get(code); ok {
		return v.(localEntry), true
	}
	return localEntry{}, false
}

func (l *LocalCache) Set(link zaplink.Link) {
	l.cache.SetWithTTL(link.Code, localEntry{link: link}, 1, l.ttl)
}

func (l *LocalCache) SetNotFound(code string) {
	l.cache.SetWithTTL(code, localEntry{notFound: true}, 1, l.emptyTTL)
}

func (l *LocalCache) Del(code string) {
	l.cache.Del(code)
}

// Wait 等待异步写入生效（ristretto 的 Set 走缓冲区），测试里用。
func (l *LocalCache) Wait() {
	l.cache.Wait()
}

func (l *LocalCache) Close() {
	l.cache.Close()
}
