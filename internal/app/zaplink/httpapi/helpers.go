package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gdg-charusat/zaplink/gee"
	"github.com/gdg-charusat/zaplink/internal/app/zaplink"
	"github.com/gdg-charusat/zaplink/internal/platform/auth"
)

// mustGetUserID 从上下文中获取用户ID，失败时已写入错误响应
func mustGetUserID(ctx *gee.Context) (int64, bool) {
	identity, ok := auth.GetIdentity(ctx.Req.Context())
	if !ok {
		ctx.AbortWithError(http.StatusUnauthorized, "not login")
		return 0, false
	}
	return identity.UserID, true
}

// tryGetUserID 可选认证场景，未登录时返回 nil
func tryGetUserID(ctx *gee.Context) *int64 {
	identity, ok := auth.GetIdentity(ctx.Req.Context())
	if !ok {
		return nil
	}
	id := identity.UserID
	return &id
}

// abortDenied 把领域错误翻译成 HTTP 状态码。未知错误记一次日志，对外只给 500。
func abortDenied(ctx *gee.Context, err error) {
	switch {
	case errors.Is(err, zaplink.ErrNotFound), errors.Is(err, zaplink.ErrInvalidCode):
		ctx.AbortWithError(http.StatusNotFound, zaplink.ErrNotFound.Error())
	case errors.Is(err, zaplink.ErrPasswordRequired):
		ctx.AbortWithError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, zaplink.ErrPasswordMismatch):
		ctx.AbortWithError(http.StatusForbidden, err.Error())
	case errors.Is(err, zaplink.ErrExpired):
		ctx.AbortWithError(http.StatusGone, err.Error())
	case errors.Is(err, zaplink.ErrAlreadyExhausted):
		ctx.AbortWithError(http.StatusConflict, err.Error())
	default:
		slog.Error("request failed",
			"request_id", ctx.RequestID(),
			"method", ctx.Method,
			"path", ctx.Path,
			"err", err)
		ctx.AbortWithError(http.StatusInternalServerError, "internal error")
	}
}

// shortURL 优先用配置的 PUBLIC_BASE_URL；否则按请求的 Host + X-Forwarded-Proto 拼。
func (d *Deps) shortURL(ctx *gee.Context, code string) string {
	path := "/" + code
	if d.PublicBaseURL != "" {
		return d.PublicBaseURL + path
	}
	scheme := ctx.Req.Header.Get("X-Forwarded-Proto")
	if scheme == "" {
		scheme = "http"
		if ctx.Req.TLS != nil {
			scheme = "https"
		}
	}
	if host := ctx.Req.Host; host != "" {
		return scheme + "://" + host + path
	}
	return path
}

// 列表类接口的 limit/cursor 参数
func parsePaging(ctx *gee.Context, def, max int) (limit int, cursor int64, ok bool) {
	limit = def
	if l := ctx.Query("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 || n > max {
			ctx.AbortWithError(http.StatusBadRequest, "invalid limit")
			return 0, 0, false
		}
		limit = n
	}
	if c := ctx.Query("cursor"); c != "" {
		n, err := strconv.ParseInt(c, 10, 64)
		if err != nil || n <= 0 {
			ctx.AbortWithError(http.StatusBadRequest, "invalid cursor")
			return 0, 0, false
		}
		cursor = n
	}
	return limit, cursor, true
}

// PolicyView 自毁策略的对外表示。
type PolicyView struct {
	Kind      string     `json:"kind"`
	MaxViews  int64      `json:"max_views,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// LinkView 链接元数据。不包含密码哈希与存储引用。
type LinkView struct {
	Code           string     `json:"code"`
	ShortURL       string     `json:"short_url"`
	Name           string     `json:"name"`
	FileName       string     `json:"file_name"`
	ContentType    string     `json:"content_type"`
	Size           int64      `json:"size"`
	Protected      bool       `json:"protected"`
	Policy         PolicyView `json:"policy"`
	ViewCount      int64      `json:"view_count"`
	RemainingViews *int64     `json:"remaining_views,omitempty"`
	Accessible     bool       `json:"accessible"`
	CreatedAt      time.Time  `json:"created_at"`
	ExhaustedAt    *time.Time `json:"exhausted_at,omitempty"`
}

func (d *Deps) linkView(ctx *gee.Context, l zaplink.Link) LinkView {
	v := LinkView{
		Code:        l.Code,
		ShortURL:    d.shortURL(ctx, l.Code),
		Name:        l.Name,
		FileName:    l.FileName,
		ContentType: l.ContentType,
		Size:        l.Size,
		Protected:   l.Protected(),
		Policy:      PolicyView{Kind: l.Policy.Kind.String()},
		ViewCount:   l.ViewCount,
		Accessible:  l.Accessible(d.now()),
		CreatedAt:   l.CreatedAt,
		ExhaustedAt: l.ExhaustedAt,
	}
	switch l.Policy.Kind {
	case zaplink.PolicyMaxViews:
		v.Policy.MaxViews = l.Policy.MaxViews
	case zaplink.PolicyExpiresAt:
		t := l.Policy.ExpiresAt
		v.Policy.ExpiresAt = &t
	}
	if left, ok := l.RemainingViews(); ok {
		v.RemainingViews = &left
	}
	return v
}
