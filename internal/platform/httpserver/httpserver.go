package httpserver

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/gdg-charusat/zaplink/internal/platform/config"
)

// errorLog 把 net/http 自身的错误（TLS 握手、header 过大等）转进 slog。
func errorLog(server string) *log.Logger {
	return slog.NewLogLogger(slog.Default().Handler().WithAttrs([]slog.Attr{slog.String("server", server)}), slog.LevelWarn)
}

// New 面向公网的 API 服务。上传走同一个端口，WriteTimeout 要覆盖大文件下载。
func New(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Handler:           handler,
		ErrorLog:          errorLog("api"),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		Addr:              cfg.Addr,
	}
}

// NewAdmin 管理端口（/metrics、/readyz、pprof），只应监听本机或内网。
// pprof 的 profile 默认采样 30s，写超时要比它长。
func NewAdmin(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadHeaderTimeout,
		ErrorLog:          errorLog("admin"),
		WriteTimeout:      max(cfg.WriteTimeout, 45*time.Second),
		IdleTimeout:       cfg.IdleTimeout,
		Addr:              cfg.AdminAddr,
	}
}

// Run 启动服务，stopCtx 结束后在 shutdownTimeout 内优雅关闭。
// 正常关闭返回 nil；监听失败等错误原样返回。
func Run(stopCtx context.Context, srv *http.Server, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-stopCtx.Done():
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		slog.Info("http server stopped", "addr", srv.Addr)
	}
	return nil
}
