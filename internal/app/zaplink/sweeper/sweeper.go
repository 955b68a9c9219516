// Package sweeper 定期把时间到期的链接打上墓碑。
//
// 访问路径本身就会在第一次过期访问时打墓碑，这里只是让
// 没人再访问的过期链接也尽快从缓存和个人面板的“可用”状态里消失。
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/gdg-charusat/zaplink/internal/app/zaplink"
	"github.com/gdg-charusat/zaplink/internal/platform/metrics"
)

// Invalidator 打完墓碑后清理缓存。
type Invalidator interface {
	Invalidate(ctx context.Context, codes ...string)
}

type Sweeper struct {
	store       zaplink.Sweeper
	invalidator Invalidator
	interval    time.Duration
	batch       int
	now         func() time.Time
}

func New(store zaplink.Sweeper, invalidator Invalidator, interval time.Duration, batch int) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if batch <= 0 {
		batch = 500
	}
	return &Sweeper{
		store:       store,
		invalidator: invalidator,
		interval:    interval,
		batch:       batch,
		now:         time.Now,
	}
}

// Run 阻塞，直到 ctx 结束。
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				slog.Error("sweeper: sweep failed", "err", err)
			}
		}
	}
}

// SweepOnce 按批次循环，直到某一批不满为止；返回本轮打墓碑的数量。
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	now := s.now()
	total := 0
	for {
		codes, err := s.store.SweepExpired(ctx, now, s.batch)
		if err != nil {
			return total, err
		}
		if len(codes) > 0 {
			total += len(codes)
			metrics.LinksTombstoned.WithLabelValues("expired").Add(float64(len(codes)))
			if s.invalidator != nil {
				s.invalidator.Invalidate(ctx, codes...)
			}
		}
		if len(codes) < s.batch || ctx.Err() != nil {
			break
		}
	}
	if total > 0 {
		slog.Info("sweeper: tombstoned expired links", "count", total)
	}
	return total, nil
}
