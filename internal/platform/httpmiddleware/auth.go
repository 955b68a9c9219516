package httpmiddleware

import (
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/gdg-charusat/zaplink/gee"
	"github.com/gdg-charusat/zaplink/internal/platform/auth"
)

// parseBearer 解析 Authorization header 中的 Bearer token，格式不对返回空串
func parseBearer(header string) string {
	fields := strings.Fields(header)
	if len(fields) != 2 || !strings.EqualFold(fields[0], "Bearer") {
		return ""
	}
	return fields[1]
}

// identify 从请求中解析身份。没有 header 时 reason 为空。
func identify(ctx *gee.Context, ts auth.TokenService) (id auth.Identity, ok bool, reason string) {
	header := ctx.Header("Authorization")
	if header == "" {
		return auth.Identity{}, false, ""
	}
	token := parseBearer(header)
	if token == "" {
		return auth.Identity{}, false, "invalid authorization format"
	}
	claims, err := ts.Verify(token)
	if err != nil {
		slog.Debug("jwt rejected", "request_id", ctx.RequestID(), "err", err)
		return auth.Identity{}, false, "invalid token"
	}
	return auth.Identity{UserID: claims.UserID, Role: claims.Role}, true, ""
}

func unauthorized(ctx *gee.Context, message string) {
	ctx.SetHeader("WWW-Authenticate", `Bearer realm="zaplink"`)
	ctx.AbortWithError(http.StatusUnauthorized, message)
}

// AuthRequired 要求请求必须携带有效的 JWT。
// 前面已经挂了 AuthOptional 时直接复用解析结果。
func AuthRequired(ts auth.TokenService) gee.HandlerFunc {
	return func(ctx *gee.Context) {
		if _, ok := auth.GetIdentity(ctx.Req.Context()); ok {
			ctx.Next()
			return
		}
		id, ok, reason := identify(ctx, ts)
		if !ok {
			if reason == "" {
				reason = "missing authorization header"
			}
			unauthorized(ctx, reason)
			return
		}
		ctx.Req = ctx.Req.WithContext(auth.WithIdentity(ctx.Req.Context(), id))
		ctx.Next()
	}
}

// AuthOptional 有合法 token 就解析身份，否则按匿名请求继续
func AuthOptional(ts auth.TokenService) gee.HandlerFunc {
	return func(ctx *gee.Context) {
		if id, ok, _ := identify(ctx, ts); ok {
			ctx.Req = ctx.Req.WithContext(auth.WithIdentity(ctx.Req.Context(), id))
		}
		ctx.Next()
	}
}

// RequireRole 要求用户具有其中一个角色
func RequireRole(roles ...string) gee.HandlerFunc {
	return func(ctx *gee.Context) {
		id, ok := auth.GetIdentity(ctx.Req.Context())
		if !ok {
			unauthorized(ctx, "unauthorized")
			return
		}
		if !slices.Contains(roles, id.Role) {
			ctx.AbortWithError(http.StatusForbidden, "forbidden")
			return
		}
		ctx.Next()
	}
}
