package migrate

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/gdg-charusat/zaplink/migrations"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Options
//   - Dir 非空时从磁盘目录读取迁移文件（运维临时加 hotfix 用）
//   - FS 非空时从给定文件系统读取（测试用）
//   - 都为空时使用编译进二进制的 migrations.FS
type Options struct {
	Dir string
	FS  fs.FS
}

type Result struct {
	Source       string
	AppliedFiles []string
	SkippedFiles []string
}

func Up(ctx context.Context, db *pgxpool.Pool, opts Options) (*Result, error) {
	fsys, source := resolveSource(opts)

	unlock, err := lock(ctx, db)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := ensureTable(ctx, db); err != nil {
		return nil, err
	}

	entries, err := ListSQLFiles(fsys)
	if err != nil {
		return nil, err
	}

	res := &Result{Source: source}
	for _, name := range entries {
		applied, err := isApplied(ctx, db, name)
		if err != nil {
			return nil, err
		}
		if applied {
			res.SkippedFiles = append(res.SkippedFiles, name)
			continue
		}
		if err := applyFile(ctx, db, fsys, name); err != nil {
			return nil, err
		}
		slog.Info("migration applied", "file", name, "source", source)
		res.AppliedFiles = append(res.AppliedFiles, name)
	}

	return res, nil
}

func ensureTable(ctx context.Context, db *pgxpool.Pool) error {
	_, err := db.Exec(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
  version TEXT PRIMARY KEY,
  applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`)
	return err
}

// ListSQLFiles 返回 fsys 中所有 .sql 文件名（不含目录），按字典序排序。
func ListSQLFiles(fsys fs.FS) ([]string, error) {
	entries := make([]string, 0, 32)
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(strings.ToLower(d.Name()), ".sql") {
			entries = append(entries, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return path.Base(entries[i]) < path.Base(entries[j]) })
	return entries, nil
}

func isApplied(ctx context.Context, db *pgxpool.Pool, version string) (bool, error) {
	var exists bool
	err := db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, path.Base(version)).Scan(&exists)
	return exists, err
}

func applyFile(ctx context.Context, db *pgxpool.Pool, fsys fs.FS, filename string) error {
	sqlBytes, err := fs.ReadFile(fsys, filename)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", filename, err)
	}

	// Execute as a single batch. Most files are idempotent via IF NOT EXISTS.
	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, string(sqlBytes)); err != nil {
		return fmt.Errorf("apply migration %s: %w", filename, err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version, applied_at) VALUES ($1,$2)`, path.Base(filename), time.Now()); err != nil {
		return fmt.Errorf("record migration %s: %w", filename, err)
	}

	return tx.Commit(ctx)
}

func resolveSource(opts Options) (fs.FS, string) {
	if strings.TrimSpace(opts.Dir) != "" {
		return os.DirFS(opts.Dir), opts.Dir
	}
	if opts.FS != nil {
		return opts.FS, "fs"
	}
	return migrations.FS, "embedded"
}

// advisoryLockKey 多个实例同时 MIGRATE_ON_START 时串行执行
const advisoryLockKey int64 = 0x7a61706c696e6b

func lock(ctx context.Context, db *pgxpool.Pool) (func(), error) {
	conn, err := db.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire conn for migrate lock: %w", err)
	}
	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", advisoryLockKey); err != nil {
		conn.Release()
		return nil, fmt.Errorf("migrate lock: %w", err)
	}
	return func() {
		if _, err := conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", advisoryLockKey); err != nil {
			slog.Warn("migrate unlock failed", "err", err)
		}
		conn.Release()
	}, nil
}
