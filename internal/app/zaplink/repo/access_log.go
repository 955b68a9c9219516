package repo

import (
	"context"
	"log/slog"
	"time"

	"github.com/gdg-charusat/zaplink/internal/app/zaplink/audit"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AccessLogRepo 访问审计的 Postgres 落地（audit.Sink + audit.Reader）。
type AccessLogRepo struct {
	db *pgxpool.Pool
}

func NewAccessLogRepo(db *pgxpool.Pool) *AccessLogRepo {
	return &AccessLogRepo{db: db}
}

// WriteBatch 一个批次一个事务，用 pgx.Batch 一次往返发完。
func (r *AccessLogRepo) WriteBatch(ctx context.Context, batch []audit.Event) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	b := &pgx.Batch{}
	for _, e := range batch {
		b.Queue(`INSERT INTO link_access_log (code,outcome,view_count,accessed_at,ip,user_agent,referer) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			e.Code, string(e.Outcome), e.ViewCount, e.AccessedAt, e.IP, e.UserAgent, e.Referer)
	}
	if err := tx.SendBatch(ctx, b).Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *AccessLogRepo) ListByCode(ctx context.Context, code string, limit int, cursor int64) (*audit.Page, error) {
	dbctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var rows pgx.Rows
	var err error
	if cursor == 0 {
		rows, err = r.db.Query(dbctx, `SELECT id,code,outcome,view_count,accessed_at,ip,user_agent,referer FROM link_access_log WHERE code = $1 ORDER BY id DESC LIMIT $2`, code, limit)
	} else {
		rows, err = r.db.Query(dbctx, `SELECT id,code,outcome,view_count,accessed_at,ip,user_agent,referer FROM link_access_log WHERE code = $1 AND id < $2 ORDER BY id DESC LIMIT $3`, code, cursor, limit)
	}
	if err != nil {
		slog.Error(err.Error())
		return nil, err
	}
	defer rows.Close()

	page := &audit.Page{}
	for rows.Next() {
		var item audit.Entry
		var outcome string
		if err := rows.Scan(&item.ID, &item.Code, &outcome, &item.ViewCount, &item.AccessedAt, &item.IP, &item.UserAgent, &item.Referer); err != nil {
			slog.Error(err.Error())
			return nil, err
		}
		item.Outcome = audit.Outcome(outcome)
		page.Entries = append(page.Entries, item)
	}
	if err := rows.Err(); err != nil {
		slog.Error(err.Error())
		return nil, err
	}
	if limit > 0 && len(page.Entries) == limit {
		//还有下一页
		next := page.Entries[len(page.Entries)-1].ID
		page.NextCursor = &next
	}
	return page, nil
}
