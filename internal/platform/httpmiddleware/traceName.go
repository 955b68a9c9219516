package httpmiddleware

import (
	"github.com/gdg-charusat/zaplink/gee"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// TraceName 用路由模板给 otelhttp 的 span 改名，并带上 request id 方便和日志对上。
func TraceName() gee.HandlerFunc {
	return func(ctx *gee.Context) {
		span := trace.SpanFromContext(ctx.Req.Context())
		if span.IsRecording() {
			route := ctx.RoutePattern
			if route == "" {
				route = unmatchedRoute
			}
			span.SetName(ctx.Method + " " + route)
			span.SetAttributes(
				attribute.String("http.route", route),
				attribute.String("request.id", ctx.RequestID()),
			)
		}
		ctx.Next()
	}
}
