package zaplink

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gdg-charusat/zaplink/internal/app/zaplink/audit"
	"github.com/gdg-charusat/zaplink/internal/platform/metrics"
	"github.com/gdg-charusat/zaplink/internal/platform/trace"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// AccessRequest 一次访问尝试。
//
// Password 为 nil 或空串都视为“没有提供密码”。
// Now 由调用方传入，便于测试（避免在逻辑内部直接 time.Now()）。
type AccessRequest struct {
	Code      string
	Password  *string
	Now       time.Time
	IP        string
	UserAgent string
	Referer   string
}

// Enforcer 是 Expiry Enforcer：每次访问都检查密码与自毁策略，
// 放行时通过 Store.ConsumeView 原子地 +1。
//
// 计数发生在“访问被放行”的时刻，而不是下载完成时：
// 下载中途放弃也算一次，不会因为客户端断开而留下可以无限重试的窗口。
type Enforcer struct {
	store     Store
	collector audit.Collector
}

func NewEnforcer(store Store, collector audit.Collector) *Enforcer {
	if collector == nil {
		collector = audit.Discard{}
	}
	return &Enforcer{store: store, collector: collector}
}

// TryAccess 返回放行后的 Link（ArtifactRef 即访问结果，ViewCount 为本次计数后的值）。
//
// 拒绝原因按顺序判断：
//  1. ErrNotFound：code 不存在
//  2. ErrPasswordRequired：设置了密码但没有提供
//  3. ErrPasswordMismatch：密码不对
//  4. ErrExpired：时间已过，或次数已用完（与 +1 在同一个原子步骤中判断）
func (e *Enforcer) TryAccess(ctx context.Context, req AccessRequest) (link Link, err error) {
	ctx, span := trace.Tracer().Start(ctx, "zaplink.TryAccess")
	span.SetAttributes(attribute.String("link.code", req.Code))
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.Int64("link.view_count", link.ViewCount))
		}
		span.End()
	}()

	if req.Now.IsZero() {
		req.Now = time.Now()
	}
	if err := ValidateCode(req.Code); err != nil {
		e.record(req, audit.OutcomeNotFound, 0)
		return Link{}, ErrNotFound
	}

	link, err = e.store.Get(ctx, req.Code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			e.record(req, audit.OutcomeNotFound, 0)
			return Link{}, ErrNotFound
		}
		slog.Error("enforcer: load link failed", "code", req.Code, "err", err)
		e.record(req, audit.OutcomeError, 0)
		return Link{}, err
	}

	if link.Protected() {
		if req.Password == nil || *req.Password == "" {
			e.record(req, audit.OutcomePasswordRequired, 0)
			return Link{}, ErrPasswordRequired
		}
		if err := CheckPassword(link.PasswordHash, *req.Password); err != nil {
			if errors.Is(err, ErrPasswordMismatch) {
				e.record(req, audit.OutcomePasswordMismatch, 0)
				return Link{}, ErrPasswordMismatch
			}
			slog.Error("enforcer: corrupt password hash", "code", req.Code, "err", err)
			e.record(req, audit.OutcomeError, 0)
			return Link{}, err
		}
	}

	// 墓碑是永久的，缓存里看到墓碑可以直接拒绝
	if link.Tombstoned() {
		e.record(req, audit.OutcomeExpired, 0)
		return Link{}, ErrExpired
	}

	granted, err := e.store.ConsumeView(ctx, req.Code, req.Now)
	if err != nil {
		switch {
		case errors.Is(err, ErrExpired):
			e.record(req, audit.OutcomeExpired, 0)
			return Link{}, ErrExpired
		case errors.Is(err, ErrNotFound):
			e.record(req, audit.OutcomeNotFound, 0)
			return Link{}, ErrNotFound
		}
		slog.Error("enforcer: consume view failed", "code", req.Code, "err", err)
		e.record(req, audit.OutcomeError, 0)
		return Link{}, err
	}

	e.record(req, audit.OutcomeGranted, granted.ViewCount)
	if granted.Tombstoned() {
		metrics.LinksTombstoned.WithLabelValues("views_exhausted").Inc()
	}
	return granted, nil
}

func (e *Enforcer) record(req AccessRequest, outcome audit.Outcome, viewCount int64) {
	metrics.LinkAccesses.WithLabelValues(string(outcome)).Inc()
	e.collector.Collect(audit.Event{
		Code:       req.Code,
		Outcome:    outcome,
		ViewCount:  viewCount,
		AccessedAt: req.Now,
		IP:         req.IP,
		UserAgent:  req.UserAgent,
		Referer:    req.Referer,
	})
}
