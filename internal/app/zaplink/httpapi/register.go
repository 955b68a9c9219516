package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gdg-charusat/zaplink/gee"
	"github.com/gdg-charusat/zaplink/internal/app/zaplink"
	"github.com/gdg-charusat/zaplink/internal/app/zaplink/audit"
	"github.com/gdg-charusat/zaplink/internal/app/zaplink/repo"
	"github.com/gdg-charusat/zaplink/internal/app/zaplink/storage"
	"github.com/gdg-charusat/zaplink/internal/platform/auth"
	"github.com/gdg-charusat/zaplink/internal/platform/httpmiddleware"
	"github.com/gdg-charusat/zaplink/internal/platform/ratelimit"
)

// UserStore 用户表（Postgres 或内存）。
type UserStore interface {
	FindByUsername(ctx context.Context, username string) (repo.User, error)
	Register(ctx context.Context, name string, password string) (int64, error)
}

// Limits 每个窗口内每个 IP 允许的请求数，0 表示不限。
type Limits struct {
	Window time.Duration
	Upload int
	Unlock int
	Login  int
}

// Deps 是 handler 需要的全部依赖，由 cmd/api 组装。
type Deps struct {
	Links     zaplink.Store
	Owners    zaplink.OwnerIndex
	Enforcer  *zaplink.Enforcer
	Uploads   storage.Store
	Users     UserStore
	AccessLog audit.Reader
	Tokens    auth.TokenService
	Limiter   ratelimit.Limiter // nil 不限流
	Limits    Limits

	PublicBaseURL  string // 为空时由请求的 Host 推导
	MaxUploadBytes int64
	PasswordCost   int

	Now func() time.Time
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d *Deps) limit(prefix string, n int) gee.HandlerFunc {
	return httpmiddleware.RateLimit(d.Limiter, prefix, n, d.Limits.Window)
}

// limitPasswordAttempts GET /{code} 带了 X-Link-Password 时与 /unlock 共用同一个限额；
// 不带密码的普通下载不限流。
func (d *Deps) limitPasswordAttempts() gee.HandlerFunc {
	limit := d.limit("unlock", d.Limits.Unlock)
	return func(ctx *gee.Context) {
		if _, ok := ctx.Req.Header[passwordHeader]; !ok {
			ctx.Next()
			return
		}
		limit(ctx)
	}
}

// RegisterAPIRoutes 在给定分组（/api/v1）下挂载 JSON API。
//
// 本包只做传输层：参数校验、错误映射、响应格式；策略判断在 zaplink.Enforcer。
func RegisterAPIRoutes(api *gee.RouterGroup, d *Deps) {
	api.Use(httpmiddleware.AuthOptional(d.Tokens))

	api.POST("/uploads", d.limit("upload", d.Limits.Upload), NewUploadHandler(d))
	api.GET("/links/:code", NewLinkMetadataHandler(d))
	api.GET("/links/:code/qr", NewQRHandler(d))
	api.POST("/links/:code/qr", NewQRHandler(d))

	api.POST("/register", d.limit("register", d.Limits.Login), NewRegisterHandler(d.Users))
	api.POST("/login", d.limit("login", d.Limits.Login), NewLoginHandler(d.Users, d.Tokens))

	users := api.Group("/users")
	users.Use(httpmiddleware.AuthRequired(d.Tokens))
	users.GET("/me", NewUserMeHandler())
	users.GET("/links", NewMyLinksHandler(d))
	users.DELETE("/links/:code", NewRevokeHandler(d))
	users.GET("/links/:code/access", NewAccessLogHandler(d))

	admin := api.Group("/admin")
	admin.Use(httpmiddleware.AuthRequired(d.Tokens), httpmiddleware.RequireRole(auth.RoleAdmin))
	admin.GET("/ping", func(ctx *gee.Context) {
		ctx.String(http.StatusOK, "pong")
	})
	admin.POST("/links/:code/disable", NewDisableHandler(d))
}

// RegisterPublicRoutes 挂载根路径上的短链入口 /{code}，方便直接在浏览器打开。
func RegisterPublicRoutes(engine *gee.Engine, d *Deps) {
	healthz := func(ctx *gee.Context) {
		ctx.String(http.StatusOK, "ok")
	}
	engine.GET("/healthz", healthz)
	// 显式注册：否则 HEAD /healthz 会落到 HEAD /:code
	engine.HEAD("/healthz", healthz)
	engine.GET("/:code", d.limitPasswordAttempts(), NewArtifactHandler(d))
	engine.HEAD("/:code", NewArtifactHeadHandler(d))
	engine.POST("/:code/unlock", d.limit("unlock", d.Limits.Unlock), NewUnlockHandler(d))
}
