package zaplink

import (
	"context"
	"time"
)

// Store 是 Link Registry 的持久化能力。
//
// 约定：
// - Create 只在上传完成后调用一次；之后除了 view_count 与墓碑（exhausted_at）以外不再修改
// - ConsumeView 必须是“单条链接粒度”的原子操作：检查策略 + view_count+1 在同一步完成，
//   两个并发的“最后一次访问”只能有一个成功；不同链接之间不能共用一把全局锁
// - 已耗尽的链接只打墓碑，不物理删除，保留审计历史
//
// 实现：repo.PostgresStore / repo.RedisStore / repo.MemoryStore，以及带缓存的 cache.CachedStore。
type Store interface {
	Create(ctx context.Context, nl NewLink) (Link, error)
	Get(ctx context.Context, code string) (Link, error)
	ConsumeView(ctx context.Context, code string, now time.Time) (Link, error)
	Revoke(ctx context.Context, code string, now time.Time) error
}

// OwnerIndex 查询某个用户名下的链接（个人面板）。
type OwnerIndex interface {
	ListByOwner(ctx context.Context, ownerID int64, limit int) ([]Link, error)
	OwnsLink(ctx context.Context, ownerID int64, code string) (bool, error)
}

// Sweeper 把已过期但还没打墓碑的链接批量标记为耗尽，返回被标记的 code。
type Sweeper interface {
	SweepExpired(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// CodeLister 遍历所有已分配的 code，用于预热布隆过滤器。
type CodeLister interface {
	EachCode(ctx context.Context, fn func(code string)) error
}
