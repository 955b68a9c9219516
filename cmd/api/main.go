package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gdg-charusat/zaplink/gee"
	"github.com/gdg-charusat/zaplink/gee/middleware"
	"github.com/gdg-charusat/zaplink/internal/app/zaplink"
	"github.com/gdg-charusat/zaplink/internal/app/zaplink/audit"
	"github.com/gdg-charusat/zaplink/internal/app/zaplink/bootstrap"
	"github.com/gdg-charusat/zaplink/internal/app/zaplink/cache"
	"github.com/gdg-charusat/zaplink/internal/app/zaplink/httpapi"
	"github.com/gdg-charusat/zaplink/internal/app/zaplink/sweeper"
	"github.com/gdg-charusat/zaplink/internal/platform/auth"
	"github.com/gdg-charusat/zaplink/internal/platform/config"
	"github.com/gdg-charusat/zaplink/internal/platform/httpmiddleware"
	"github.com/gdg-charusat/zaplink/internal/platform/httpserver"
	"github.com/gdg-charusat/zaplink/internal/platform/metrics"
	"github.com/gdg-charusat/zaplink/internal/platform/migrate"
	"github.com/gdg-charusat/zaplink/internal/platform/ratelimit"
	"github.com/gdg-charusat/zaplink/internal/platform/trace"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cfg := config.Load()

	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	var h slog.Handler = slog.NewJSONHandler(os.Stdout, opts)
	if cfg.LogFormat == "text" {
		h = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(h).With("service", cfg.ServiceName))

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "err", err)
		os.Exit(1)
	}
	if err := run(cfg); err != nil {
		slog.Error("zaplink exited", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	stopCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	if cfg.TracingEnabled {
		shutdown, err := trace.InitTrace(cfg.OtlpGrpcEndpoint, cfg.OtlpServiceName)
		if err != nil {
			slog.Error("trace init failed", "err", err)
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()
				if err := shutdown(ctx); err != nil {
					slog.Error("trace shutdown failed", "err", err)
				}
			}()
		}
	} else {
		slog.Warn("Tracing disabled by config", "TRACING_ENABLED", false)
	}

	openCtx, cancelOpen := context.WithTimeout(stopCtx, 10*time.Second)
	defer cancelOpen()

	backend, err := bootstrap.Open(openCtx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	if backend.DB != nil && cfg.MigrateOnStart {
		res, err := migrate.Up(openCtx, backend.DB, migrate.Options{Dir: cfg.MigrationsDir})
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		slog.Info("migrations done", "source", res.Source, "applied", res.AppliedFiles, "skipped", len(res.SkippedFiles))
	}

	uploads, pingUploads, err := bootstrap.Uploads(openCtx, cfg)
	if err != nil {
		return err
	}

	// 缓存 + 布隆过滤器
	var store zaplink.Store = backend.Links
	var cached *cache.CachedStore
	var bloom *cache.BloomFilter
	if cfg.CacheEnabled || cfg.BloomEnabled {
		var linkCache *cache.LinkCache
		if cfg.CacheEnabled {
			local, err := cache.NewLocalCache(cfg.LocalCacheItems, cfg.LocalCacheTTL)
			if err != nil {
				return err
			}
			// 链接本身就在 Redis 里时不再套一层 L2
			var l2 *redis.Client
			if cfg.StoreDriver != config.StoreRedis {
				l2 = backend.Redis
			}
			linkCache = cache.NewLinkCache(l2, local, cfg.CacheTTL)
			defer linkCache.Close()
		}
		switch {
		case cfg.BloomEnabled && (linkCache == nil || !linkCache.Shared()):
			// 布隆过滤器只在共享 L2 之后拦截，没有 L2 时建了也不会用
			slog.Warn("bloom filter disabled: needs a shared redis L2 cache", "store", cfg.StoreDriver, "redis", backend.Redis != nil)
		case cfg.BloomEnabled:
			bloom = cache.NewBloomFilter(cfg.BloomExpected, 0.01)
			n, err := bloom.Warm(openCtx, backend.Links)
			if err != nil {
				return fmt.Errorf("bloom warm: %w", err)
			}
			slog.Info("bloom filter warmed", "codes", n)
		}
		cached = cache.NewCachedStore(backend.Links, linkCache, bloom)
		store = cached
	}

	// 审计：Channel 或 Kafka
	var collector audit.Collector
	var kafkaConsumer *audit.KafkaConsumer
	consumerDone := make(chan struct{})
	if cfg.KafkaEnabled {
		slog.Info("audit via kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
		collector = audit.NewKafkaCollector(cfg.KafkaBrokers, cfg.KafkaTopic)
		kafkaConsumer = audit.NewKafkaConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, backend.Sink)
		close(consumerDone)
	} else {
		channelCollector := audit.NewChannelCollector(cfg.AuditBuffer)
		collector = channelCollector
		consumer := audit.NewConsumer(backend.Sink, channelCollector)
		// 不跟随 stopCtx：等 HTTP 服务停下、collector 关闭后再把剩余事件写完
		go func() {
			consumer.Run(context.Background())
			close(consumerDone)
		}()
	}

	tokens, err := auth.NewHS256Service(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL)
	if err != nil {
		return err
	}

	var limiter ratelimit.Limiter
	var memLimiter *ratelimit.MemoryLimiter
	switch {
	case !cfg.RateLimitEnabled:
		slog.Warn("RateLimit disabled by config", "RATELIMIT_ENABLED", false)
	case backend.Redis != nil:
		limiter = ratelimit.NewRedisLimiter(backend.Redis)
	default:
		memLimiter = ratelimit.NewMemoryLimiter()
		limiter = memLimiter
		slog.Warn("rate limit is per instance without redis")
	}

	deps := &httpapi.Deps{
		Links:     store,
		Owners:    backend.Links,
		Enforcer:  zaplink.NewEnforcer(store, collector),
		Uploads:   uploads,
		Users:     backend.Users,
		AccessLog: backend.AccessLog,
		Tokens:    tokens,
		Limiter:   limiter,
		Limits: httpapi.Limits{
			Window: cfg.RateLimitWindow,
			Upload: cfg.UploadRateLimit,
			Unlock: cfg.UnlockRateLimit,
			Login:  cfg.LoginRateLimit,
		},
		PublicBaseURL:  cfg.PublicBaseURL,
		MaxUploadBytes: cfg.UploadMaxBytes,
		PasswordCost:   cfg.LinkPasswordCost,
	}

	// 对外业务
	r := gee.New()
	r.Use(gee.Recovery(), middleware.ReqID(), middleware.AccessLog(), httpmiddleware.Metrics(), httpmiddleware.TraceName())
	httpapi.RegisterPublicRoutes(r, deps)
	httpapi.RegisterAPIRoutes(r.Group("/api/v1"), deps)
	for _, rt := range r.Routes() {
		slog.Debug("route", "method", rt.Method, "pattern", rt.Pattern)
	}

	publicHandler := http.Handler(r)
	if cfg.TracingEnabled {
		publicHandler = otelhttp.NewHandler(r, "http")
	}
	publicSrv := httpserver.New(cfg, publicHandler)
	adminSrv := httpserver.NewAdmin(cfg, adminMux(cfg, backend, pingUploads))

	var invalidator sweeper.Invalidator
	if cached != nil {
		invalidator = cached
	}
	sw := sweeper.New(backend.Links, invalidator, cfg.SweepInterval, cfg.SweepBatch)

	g, gctx := errgroup.WithContext(stopCtx)
	g.Go(func() error { return httpserver.Run(gctx, publicSrv, cfg.ShutdownTimeout) })
	g.Go(func() error { return httpserver.Run(gctx, adminSrv, cfg.ShutdownTimeout) })
	g.Go(func() error {
		sw.Run(gctx)
		return nil
	})
	if kafkaConsumer != nil {
		g.Go(func() error {
			defer kafkaConsumer.Close()
			kafkaConsumer.Run(gctx)
			return nil
		})
	}
	if bloom != nil && cfg.BloomRefresh > 0 {
		g.Go(func() error {
			every(gctx, cfg.BloomRefresh, func() {
				if _, err := bloom.Warm(gctx, backend.Links); err != nil && gctx.Err() == nil {
					slog.Warn("bloom refresh failed", "err", err)
				}
			})
			return nil
		})
	}
	if memLimiter != nil {
		g.Go(func() error {
			every(gctx, cfg.RateLimitWindow, func() { memLimiter.Cleanup(cfg.RateLimitWindow) })
			return nil
		})
	}

	err = g.Wait()

	// HTTP 已停止，不会再有新事件
	collector.Close()
	select {
	case <-consumerDone:
	case <-time.After(cfg.ShutdownTimeout):
		slog.Warn("audit consumer did not finish in time")
	}
	return err
}

func every(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// 仅本机/内网
func adminMux(cfg config.Config, backend *bootstrap.Backend, pingUploads func(context.Context) error) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		err := backend.Ping(ctx)
		if err == nil && pingUploads != nil {
			err = pingUploads(ctx)
		}
		if err != nil {
			slog.Warn("readiness check failed", "err", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})

	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"service_name": cfg.ServiceName,
			"version":      version,
			"commit":       commit,
			"build_time":   buildTime,
			"go_version":   runtime.Version(),
			"store":        cfg.StoreDriver,
			"storage":      cfg.StorageDriver,
		})
	})

	if cfg.PprofEnabled {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return mux
}
