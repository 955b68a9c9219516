package httpapi

import (
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/gdg-charusat/zaplink/gee"
	"github.com/gdg-charusat/zaplink/internal/app/zaplink"
	"github.com/gdg-charusat/zaplink/internal/app/zaplink/audit"
	"github.com/gdg-charusat/zaplink/internal/platform/auth"
	"github.com/gdg-charusat/zaplink/internal/platform/httpmiddleware"
	"github.com/gdg-charusat/zaplink/internal/platform/metrics"
)

const passwordHeader = "X-Link-Password"

// NewArtifactHandler GET /{code}：密码放在 X-Link-Password 头里。
func NewArtifactHandler(d *Deps) gee.HandlerFunc {
	return func(ctx *gee.Context) {
		var password *string
		if v, ok := ctx.Req.Header[passwordHeader]; ok && len(v) > 0 {
			password = &v[0]
		}
		serveArtifact(ctx, d, password)
	}
}

type unlockRequest struct {
	Password string `json:"password"`
}

// NewUnlockHandler POST /{code}/unlock：密码放在 JSON body 里（网页表单提交用）。
func NewUnlockHandler(d *Deps) gee.HandlerFunc {
	return func(ctx *gee.Context) {
		var req unlockRequest
		if err := ctx.BindJSON(&req); err != nil {
			return
		}
		serveArtifact(ctx, d, &req.Password)
	}
}

func serveArtifact(ctx *gee.Context, d *Deps, password *string) {
	link, err := d.Enforcer.TryAccess(ctx.Req.Context(), zaplink.AccessRequest{
		Code:      ctx.Param("code"),
		Password:  password,
		Now:       d.now(),
		IP:        httpmiddleware.ClientIP(ctx.Req),
		UserAgent: ctx.Req.UserAgent(),
		Referer:   ctx.Req.Referer(),
	})
	if err != nil {
		abortDenied(ctx, err)
		return
	}

	// 这次访问已经计过数了；之后打开失败也不退还
	body, err := d.Uploads.Open(ctx.Req.Context(), link.ArtifactRef)
	if err != nil {
		abortDenied(ctx, err)
		return
	}
	defer body.Close()

	n, err := ctx.Stream(http.StatusOK, setArtifactHeaders(ctx, link), body)
	if err != nil {
		// 头已经写出去了，只能记录
		slog.Warn("artifact stream interrupted",
			"request_id", ctx.RequestID(),
			"code", link.Code,
			"written", n,
			"err", err)
	}
}

// setArtifactHeaders 写下载相关的头，返回 Content-Type。
func setArtifactHeaders(ctx *gee.Context, link zaplink.Link) string {
	contentType := link.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": link.FileName})
	if disposition == "" {
		disposition = "attachment"
	}
	ctx.SetHeader("Content-Disposition", disposition)
	ctx.SetHeader("Cache-Control", "no-store")
	ctx.SetHeader("X-Content-Type-Options", "nosniff")
	if link.Size > 0 {
		ctx.SetHeader("Content-Length", strconv.FormatInt(link.Size, 10))
	}
	if left, ok := link.RemainingViews(); ok {
		ctx.SetHeader("X-Views-Remaining", strconv.FormatInt(left, 10))
	}
	return contentType
}

// NewArtifactHeadHandler HEAD /{code}：只读元数据，不计数，也不校验密码。
// 链接预览爬虫会先发 HEAD，不能让它们消耗 MaxViews。
func NewArtifactHeadHandler(d *Deps) gee.HandlerFunc {
	return func(ctx *gee.Context) {
		code := ctx.Param("code")
		if err := zaplink.ValidateCode(code); err != nil {
			abortDenied(ctx, zaplink.ErrNotFound)
			return
		}
		link, err := d.Links.Get(ctx.Req.Context(), code)
		if err != nil {
			abortDenied(ctx, err)
			return
		}
		// 与 GET 的判断顺序一致：受保护的链接不透露是否已失效
		switch {
		case link.Protected():
			abortDenied(ctx, zaplink.ErrPasswordRequired)
			return
		case !link.Accessible(d.now()):
			abortDenied(ctx, zaplink.ErrExpired)
			return
		}
		ctx.SetHeader("Content-Type", setArtifactHeaders(ctx, link))
		ctx.Status(http.StatusOK)
	}
}

// NewLinkMetadataHandler GET /api/v1/links/{code}：不计数、不需要密码，只返回公开元数据。
func NewLinkMetadataHandler(d *Deps) gee.HandlerFunc {
	return func(ctx *gee.Context) {
		code := ctx.Param("code")
		if err := zaplink.ValidateCode(code); err != nil {
			abortDenied(ctx, zaplink.ErrNotFound)
			return
		}
		link, err := d.Links.Get(ctx.Req.Context(), code)
		if err != nil {
			abortDenied(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, d.linkView(ctx, link))
	}
}

func NewMyLinksHandler(d *Deps) gee.HandlerFunc {
	return func(ctx *gee.Context) {
		userID, ok := mustGetUserID(ctx)
		if !ok {
			return
		}
		limit, _, ok := parsePaging(ctx, 50, 200)
		if !ok {
			return
		}
		list, err := d.Owners.ListByOwner(ctx.Req.Context(), userID, limit)
		if err != nil {
			abortDenied(ctx, err)
			return
		}
		views := make([]LinkView, 0, len(list))
		for _, l := range list {
			views = append(views, d.linkView(ctx, l))
		}
		ctx.JSON(http.StatusOK, views)
	}
}

// requireOwner 管理员可以操作任何链接。
func requireOwner(ctx *gee.Context, d *Deps, code string) bool {
	identity, ok := auth.GetIdentity(ctx.Req.Context())
	if !ok {
		ctx.AbortWithError(http.StatusUnauthorized, "not login")
		return false
	}
	if err := zaplink.ValidateCode(code); err != nil {
		abortDenied(ctx, zaplink.ErrNotFound)
		return false
	}
	if identity.IsAdmin() {
		return true
	}
	userID := identity.UserID
	owns, err := d.Owners.OwnsLink(ctx.Req.Context(), userID, code)
	if err != nil {
		abortDenied(ctx, err)
		return false
	}
	if !owns {
		ctx.AbortWithError(http.StatusForbidden, "no permission")
		return false
	}
	return true
}

// NewRevokeHandler 所有者主动作废链接：打墓碑，保留记录。
func NewRevokeHandler(d *Deps) gee.HandlerFunc {
	return func(ctx *gee.Context) {
		code := ctx.Param("code")
		if !requireOwner(ctx, d, code) {
			return
		}
		revoke(ctx, d, code, "revoked")
	}
}

func NewDisableHandler(d *Deps) gee.HandlerFunc {
	return func(ctx *gee.Context) {
		code := ctx.Param("code")
		if err := zaplink.ValidateCode(code); err != nil {
			abortDenied(ctx, zaplink.ErrNotFound)
			return
		}
		revoke(ctx, d, code, "disabled")
	}
}

func revoke(ctx *gee.Context, d *Deps, code, reason string) {
	if err := d.Links.Revoke(ctx.Req.Context(), code, d.now()); err != nil {
		abortDenied(ctx, err)
		return
	}
	metrics.LinksTombstoned.WithLabelValues(reason).Inc()
	slog.Info("link tombstoned", "request_id", ctx.RequestID(), "code", code, "reason", reason)
	ctx.Status(http.StatusNoContent)
}

type AccessLogResponse struct {
	Code      string      `json:"code"`
	ViewCount int64       `json:"view_count"`
	Log       *audit.Page `json:"log"`
}

// NewAccessLogHandler 所有者查看访问记录：当前计数来自 Link，明细来自审计日志（倒序、cursor 分页）。
func NewAccessLogHandler(d *Deps) gee.HandlerFunc {
	return func(ctx *gee.Context) {
		code := ctx.Param("code")
		if !requireOwner(ctx, d, code) {
			return
		}
		limit, cursor, ok := parsePaging(ctx, 20, 100)
		if !ok {
			return
		}
		link, err := d.Links.Get(ctx.Req.Context(), code)
		if err != nil {
			abortDenied(ctx, err)
			return
		}
		page, err := d.AccessLog.ListByCode(ctx.Req.Context(), code, limit, cursor)
		if err != nil {
			abortDenied(ctx, fmt.Errorf("list access log: %w", err))
			return
		}
		if page.Entries == nil {
			page.Entries = []audit.Entry{}
		}
		ctx.JSON(http.StatusOK, AccessLogResponse{Code: code, ViewCount: link.ViewCount, Log: page})
	}
}
