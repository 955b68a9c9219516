package httpmiddleware

import (
	"strconv"
	"time"

	"github.com/gdg-charusat/zaplink/gee"
	"github.com/gdg-charusat/zaplink/internal/platform/metrics"
)

// unmatchedRoute 未命中任何路由时的 route label，避免把扫描器的随机 path 变成 label
const unmatchedRoute = "unmatched"

func Metrics() gee.HandlerFunc {
	return func(ctx *gee.Context) {
		start := time.Now()
		metrics.HTTPInflightRequests.Inc()
		defer metrics.HTTPInflightRequests.Dec()

		route := ctx.RoutePattern
		if route == "" {
			route = unmatchedRoute
		}
		defer func() {
			status := strconv.Itoa(ctx.Writer.Status())
			metrics.HTTPRequestsTotal.WithLabelValues(ctx.Method, route, status).Inc()
			metrics.HTTPRequestDurationSeconds.WithLabelValues(ctx.Method, route).Observe(time.Since(start).Seconds())
			metrics.HTTPResponseBytes.WithLabelValues(ctx.Method, route).Observe(float64(ctx.Writer.Size()))
		}()
		ctx.Next()
	}
}
