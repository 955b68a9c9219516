// Package bootstrap 按配置打开 Link Registry 的各个后端，cmd/api 与 cmd/zaplinkctl 共用。
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gdg-charusat/zaplink/internal/app/zaplink"
	"github.com/gdg-charusat/zaplink/internal/app/zaplink/audit"
	"github.com/gdg-charusat/zaplink/internal/app/zaplink/httpapi"
	"github.com/gdg-charusat/zaplink/internal/app/zaplink/repo"
	"github.com/gdg-charusat/zaplink/internal/app/zaplink/storage"
	platformcache "github.com/gdg-charusat/zaplink/internal/platform/cache"
	"github.com/gdg-charusat/zaplink/internal/platform/config"
	"github.com/gdg-charusat/zaplink/internal/platform/db"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// registry 三种存储都实现的完整能力
type registry interface {
	zaplink.Store
	zaplink.OwnerIndex
	zaplink.Sweeper
	zaplink.CodeLister
}

// Backend 打开后的存储。DB / Redis 没有配置时为 nil。
type Backend struct {
	DB    *pgxpool.Pool
	Redis *redis.Client

	Links     registry
	Users     httpapi.UserStore
	AccessLog audit.Reader
	Sink      audit.Sink
}

// Open 按 STORE_DRIVER 选择存储：
//   - postgres：链接、用户、访问日志都在 Postgres
//   - redis：链接在 Redis；用户与访问日志在内存（进程重启即丢失）
//   - memory：全部在内存，只用于开发
//
// REDIS_ENABLED 时无论哪种存储都会连接 Redis（L2 缓存、限流）。
func Open(ctx context.Context, cfg config.Config) (*Backend, error) {
	codec, err := zaplink.NewCodec(cfg.CodeMinLength)
	if err != nil {
		return nil, err
	}

	b := &Backend{}
	if cfg.RedisEnabled {
		b.Redis, err = platformcache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
	}

	switch cfg.StoreDriver {
	case config.StorePostgres:
		b.DB, err = db.New(ctx, cfg.DBDSN)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.Links = repo.NewPostgresStore(b.DB, codec)
		b.Users = repo.NewUsersRepo(b.DB, 0)
		accessLog := repo.NewAccessLogRepo(b.DB)
		b.AccessLog, b.Sink = accessLog, accessLog
	case config.StoreRedis:
		b.Links = repo.NewRedisStore(b.Redis, codec)
		b.Users = repo.NewMemoryUsers(0)
		memLog := audit.NewMemoryLog()
		b.AccessLog, b.Sink = memLog, memLog
		slog.Warn("redis store keeps users and access log in memory")
	case config.StoreMemory:
		b.Links = repo.NewMemoryStore(codec)
		b.Users = repo.NewMemoryUsers(0)
		memLog := audit.NewMemoryLog()
		b.AccessLog, b.Sink = memLog, memLog
		slog.Warn("memory store: links are lost on restart")
	default:
		b.Close()
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
	slog.Info("link registry opened", "driver", cfg.StoreDriver, "redis", b.Redis != nil)
	return b, nil
}

// Ping 用于 /readyz。
func (b *Backend) Ping(ctx context.Context) error {
	var errs []error
	if b.DB != nil {
		if err := b.DB.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("db: %w", err))
		}
	}
	if b.Redis != nil {
		if err := b.Redis.Ping(ctx).Err(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (b *Backend) Close() {
	if b.DB != nil {
		b.DB.Close()
	}
	if b.Redis != nil {
		if err := b.Redis.Close(); err != nil {
			slog.Warn("redis close failed", "err", err)
		}
	}
}

// Uploads 打开上传存储。返回的 ping 可能为 nil（本地目录不需要探活）。
func Uploads(ctx context.Context, cfg config.Config) (storage.Store, func(context.Context) error, error) {
	switch cfg.StorageDriver {
	case config.StorageMinio:
		m, err := storage.NewMinioStore(ctx, storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			Region:    cfg.MinioRegion,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			return nil, nil, err
		}
		return m, m.Ping, nil
	case config.StorageDisk:
		d, err := storage.NewDiskStore(cfg.UploadDir)
		if err != nil {
			return nil, nil, err
		}
		return d, nil, nil
	}
	return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
}
