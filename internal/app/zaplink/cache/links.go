package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/gdg-charusat/zaplink/internal/app/zaplink"
	"github.com/gdg-charusat/zaplink/internal/platform/metrics"
	"github.com/redis/go-redis/v9"
)

const (
	notFoundSentinel = "__nil__"
	keyPrefix        = "zl:cache:"
)

// Lookup 缓存查询结果
type Lookup int

const (
	Miss Lookup = iota
	Hit
	HitNegative // 命中负缓存：确定不存在
)

// LinkCache 两级缓存：L1 ristretto（可选）+ L2 Redis（可选）。
//
// 缓存的 Link 只用于“是否存在 / 是否要密码 / 是否已打墓碑”的快速判断和元数据展示，
// view_count 可能略旧；真正放行永远以 Store.ConsumeView 为准。
type LinkCache struct {
	client   *redis.Client
	local    *LocalCache
	ttl      time.Duration
	emptyTTL time.Duration
}

func NewLinkCache(client *redis.Client, local *LocalCache, ttl time.Duration) *LinkCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &LinkCache{
		client:   client,
		local:    local,
		ttl:      ttl,
		emptyTTL: 30 * time.Second,
	}
}

// Shared 是否有多实例共享的 L2
func (c *LinkCache) Shared() bool { return c.client != nil }

func (c *LinkCache) Get(ctx context.Context, code string) (zaplink.Link, Lookup, error) {
	// L1: 本地缓存
	if c.local != nil {
		if e, ok := c.local.Get(code); ok {
			if e.notFound {
				metrics.CacheOperations.WithLabelValues("l1", "hit_negative").Inc()
				return zaplink.Link{}, HitNegative, nil
			}
			metrics.CacheOperations.WithLabelValues("l1", "hit").Inc()
			return e.link, Hit, nil
		}
	}
	if c.client == nil {
		metrics.CacheOperations.WithLabelValues("l1", "miss").Inc()
		return zaplink.Link{}, Miss, nil
	}

	// L2: Redis
	res, err := c.client.Get(ctx, keyPrefix+code).Result()
	if errors.Is(err, redis.Nil) {
		metrics.CacheOperations.WithLabelValues("l2", "miss").Inc()
		return zaplink.Link{}, Miss, nil
	}
	if err != nil {
		return zaplink.Link{}, Miss, err
	}
	if res == notFoundSentinel {
		metrics.CacheOperations.WithLabelValues("l2", "hit_negative").Inc()
		if c.local != nil {
			c.local.SetNotFound(code)
		}
		return zaplink.Link{}, HitNegative, nil
	}

	var link zaplink.Link
	if err := json.Unmarshal([]byte(res), &link); err != nil {
		// 格式不对就当没命中，顺手删掉
		slog.Warn("link cache: corrupt entry", "code", code, "err", err)
		_ = c.client.Del(ctx, keyPrefix+code).Err()
		return zaplink.Link{}, Miss, nil
	}
	metrics.CacheOperations.WithLabelValues("l2", "hit").Inc()

	// 回填本地缓存
	if c.local != nil {
		c.local.Set(link)
	}
	return link, Hit, nil
}

func (c *LinkCache) Set(ctx context.Context, link zaplink.Link) error {
	if c.local != nil {
		c.local.Set(link)
	}
	if c.client == nil {
		return nil
	}
	b, err := json.Marshal(link)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, keyPrefix+link.Code, b, c.ttl).Err()
}

func (c *LinkCache) Delete(ctx context.Context, codes ...string) error {
	if len(codes) == 0 {
		return nil
	}
	keys := make([]string, 0, len(codes))
	for _, code := range codes {
		if c.local != nil {
			c.local.Del(code)
		}
		keys = append(keys, keyPrefix+code)
	}
	if c.client == nil {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// SetNotFound 用明确哨兵值做"负缓存"，避免缓存穿透。
func (c *LinkCache) SetNotFound(ctx context.Context, code string) error {
	if c.local != nil {
		c.local.SetNotFound(code)
	}
	if c.client == nil {
		return nil
	}
	return c.client.Set(ctx, keyPrefix+code, notFoundSentinel, c.emptyTTL).Err()
}

// Close 关闭本地缓存
func (c *LinkCache) Close() {
	if c.local != nil {
		c.local.Close()
		slog.Info("本地缓存已关闭")
	}
}
