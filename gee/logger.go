package gee

import (
	"log/slog"
	"time"
)

func Logger() HandlerFunc {
	return func(ctx *Context) {
		t := time.Now()
		ctx.Next()
		slog.Debug("request",
			"status", ctx.Writer.Status(),
			"uri", ctx.Req.RequestURI,
			"latency_us", time.Since(t).Microseconds(),
			"bytes", ctx.Writer.Size())
	}
}
