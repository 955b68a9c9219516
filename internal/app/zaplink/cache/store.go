package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gdg-charusat/zaplink/internal/app/zaplink"
	"github.com/gdg-charusat/zaplink/internal/platform/metrics"
	"golang.org/x/sync/singleflight"
)

// CachedStore 给任意 zaplink.Store 加上布隆过滤器 + 两级缓存 + singleflight。
//
// 只有 Get 走缓存。ConsumeView/Revoke 每次都落到底层 Store，
// 成功后再用返回的最新状态刷新缓存。
type CachedStore struct {
	inner zaplink.Store
	cache *LinkCache
	bloom *BloomFilter
	group singleflight.Group
}

// NewCachedStore cache 与 bloom 都可以为 nil。
func NewCachedStore(inner zaplink.Store, cache *LinkCache, bloom *BloomFilter) *CachedStore {
	return &CachedStore{inner: inner, cache: cache, bloom: bloom}
}

// bloomRejects 布隆过滤器未命中是否足以返回 ErrNotFound
func (s *CachedStore) bloomRejects() bool {
	return s.bloom != nil && s.cache != nil && s.cache.Shared()
}

func (s *CachedStore) Create(ctx context.Context, nl zaplink.NewLink) (zaplink.Link, error) {
	link, err := s.inner.Create(ctx, nl)
	if err != nil {
		return zaplink.Link{}, err
	}
	if s.bloom != nil {
		s.bloom.Add(link.Code)
	}
	// 写缓存/覆盖负缓存：创建成功后立刻写入，避免此前命中 "__nil__" 导致短码暂时不可用。
	s.setCache(ctx, link)
	return link, nil
}

func (s *CachedStore) Get(ctx context.Context, code string) (zaplink.Link, error) {
	if s.cache != nil {
		link, lookup, err := s.cache.Get(ctx, code)
		if err != nil {
			slog.Warn("link cache get failed", "code", code, "err", err)
		}
		switch lookup {
		case Hit:
			return link, nil
		case HitNegative:
			return zaplink.Link{}, zaplink.ErrNotFound
		}
	}

	// 其它实例刚创建的 code 只有共享 L2 里有，本实例的布隆过滤器要等下次重建才知道。
	// 没有共享 L2 时布隆过滤器不能用来判定不存在。
	if s.bloomRejects() && !s.bloom.MightExist(code) {
		metrics.CacheOperations.WithLabelValues("bloom", "reject").Inc()
		return zaplink.Link{}, zaplink.ErrNotFound
	}

	v, err, _ := s.group.Do(code, func() (any, error) {
		link, err := s.inner.Get(ctx, code)
		if err != nil {
			if errors.Is(err, zaplink.ErrNotFound) && s.cache != nil {
				if err := s.cache.SetNotFound(ctx, code); err != nil {
					slog.Warn("link cache set negative failed", "code", code, "err", err)
				}
			}
			return nil, err
		}
		s.setCache(ctx, link)
		return link, nil
	})
	if err != nil {
		return zaplink.Link{}, err
	}
	return v.(zaplink.Link), nil
}

func (s *CachedStore) ConsumeView(ctx context.Context, code string, now time.Time) (zaplink.Link, error) {
	link, err := s.inner.ConsumeView(ctx, code, now)
	switch {
	case err == nil:
		s.setCache(ctx, link)
	case errors.Is(err, zaplink.ErrExpired):
		// 底层刚打了墓碑（或早就打了），缓存里可能还是旧状态
		s.Invalidate(ctx, code)
	}
	return link, err
}

func (s *CachedStore) Revoke(ctx context.Context, code string, now time.Time) error {
	err := s.inner.Revoke(ctx, code, now)
	if err == nil || errors.Is(err, zaplink.ErrAlreadyExhausted) {
		s.Invalidate(ctx, code)
	}
	return err
}

// Invalidate 删掉缓存，下一次 Get 回源。Sweeper 打完墓碑后调用。
func (s *CachedStore) Invalidate(ctx context.Context, codes ...string) {
	if s.cache == nil || len(codes) == 0 {
		return
	}
	cacheCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 200*time.Millisecond)
	defer cancel()
	if err := s.cache.Delete(cacheCtx, codes...); err != nil {
		slog.Warn("link cache delete failed", "codes", len(codes), "err", err)
	}
}

func (s *CachedStore) setCache(ctx context.Context, link zaplink.Link) {
	if s.cache == nil {
		return
	}
	cacheCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 200*time.Millisecond)
	defer cancel()
	if err := s.cache.Set(cacheCtx, link); err != nil {
		slog.Warn("link cache set failed", "code", link.Code, "err", err)
	}
}
