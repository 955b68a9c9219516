package repo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gdg-charusat/zaplink/internal/app/zaplink"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const linkColumns = `id, code, name, artifact_ref, file_name, content_type, size_bytes,
	COALESCE(password_hash, ''), policy_kind, max_views, expires_at, view_count, owner_id, created_at, exhausted_at`

// PostgresStore 是 Link Registry 的 Postgres 实现。
//
// ConsumeView 依赖单条 UPDATE ... WHERE ... RETURNING：
// 同一行的并发 UPDATE 会串行化，后到的那一个在拿到行锁后重新检查 WHERE，
// 所以最后一次访问只会有一个请求成功，不需要跨链接的全局锁。
type PostgresStore struct {
	db    *pgxpool.Pool
	codec *zaplink.Codec
}

func NewPostgresStore(db *pgxpool.Pool, codec *zaplink.Codec) *PostgresStore {
	return &PostgresStore{
		db:    db,
		codec: codec,
	}
}

func (s *PostgresStore) Create(ctx context.Context, nl zaplink.NewLink) (zaplink.Link, error) {
	if err := nl.Validate(); err != nil {
		return zaplink.Link{}, err
	}
	dbctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var id int64
	if err := s.db.QueryRow(dbctx, "SELECT nextval('links_id_seq')").Scan(&id); err != nil {
		slog.Error(err.Error())
		return zaplink.Link{}, err
	}
	code, err := s.codec.Encode(uint64(id))
	if err != nil {
		return zaplink.Link{}, err
	}

	var maxViews *int64
	var expiresAt *time.Time
	switch nl.Policy.Kind {
	case zaplink.PolicyMaxViews:
		maxViews = &nl.Policy.MaxViews
	case zaplink.PolicyExpiresAt:
		expiresAt = &nl.Policy.ExpiresAt
	}
	var passwordHash *string
	if nl.PasswordHash != "" {
		passwordHash = &nl.PasswordHash
	}

	row := s.db.QueryRow(dbctx, `
		INSERT INTO links (id, code, name, artifact_ref, file_name, content_type, size_bytes,
			password_hash, policy_kind, max_views, expires_at, owner_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING `+linkColumns,
		id, code, nl.Name, string(nl.ArtifactRef), nl.FileName, nl.ContentType, nl.Size,
		passwordHash, int16(nl.Policy.Kind), maxViews, expiresAt, nl.OwnerID, nl.CreatedAt)
	link, err := scanLink(row)
	if err != nil {
		slog.Error("create link failed", "err", err)
		return zaplink.Link{}, err
	}
	return link, nil
}

func (s *PostgresStore) Get(ctx context.Context, code string) (zaplink.Link, error) {
	dbctx, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()

	link, err := scanLink(s.db.QueryRow(dbctx, "SELECT "+linkColumns+" FROM links WHERE code=$1", code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return zaplink.Link{}, zaplink.ErrNotFound
		}
		slog.Error(err.Error())
		return zaplink.Link{}, err
	}
	return link, nil
}

func (s *PostgresStore) ConsumeView(ctx context.Context, code string, now time.Time) (zaplink.Link, error) {
	dbctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	// 检查 + 计数 + （最后一次时）打墓碑，一条语句完成。SET 里引用的 view_count 是更新前的值。
	link, err := scanLink(s.db.QueryRow(dbctx, `
		UPDATE links
		SET view_count = view_count + 1,
		    exhausted_at = CASE WHEN policy_kind = 1 AND view_count + 1 >= max_views THEN $2 ELSE exhausted_at END
		WHERE code = $1
		  AND exhausted_at IS NULL
		  AND (policy_kind <> 1 OR view_count < max_views)
		  AND (policy_kind <> 2 OR expires_at > $2)
		RETURNING `+linkColumns, code, now))
	if err == nil {
		return link, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		slog.Error("consume view failed", "code", code, "err", err)
		return zaplink.Link{}, err
	}

	// 没有更新到：要么不存在，要么已经不可访问。时间到期但还没打墓碑的顺手补上。
	var exists bool
	if err := s.db.QueryRow(dbctx, `
		WITH tomb AS (
			UPDATE links SET exhausted_at = $2
			WHERE code = $1 AND exhausted_at IS NULL AND policy_kind = 2 AND expires_at <= $2
			RETURNING 1
		)
		SELECT EXISTS(SELECT 1 FROM links WHERE code = $1)`, code, now).Scan(&exists); err != nil {
		slog.Error("consume view recheck failed", "code", code, "err", err)
		return zaplink.Link{}, err
	}
	if !exists {
		return zaplink.Link{}, zaplink.ErrNotFound
	}
	return zaplink.Link{}, zaplink.ErrExpired
}

func (s *PostgresStore) Revoke(ctx context.Context, code string, now time.Time) error {
	dbctx, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()

	var ok int
	err := s.db.QueryRow(dbctx, "UPDATE links SET exhausted_at=$2 WHERE code=$1 AND exhausted_at IS NULL RETURNING 1", code, now).Scan(&ok)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		slog.Error(err.Error())
		return err
	}

	// No rows updated: either not found, or already tombstoned.
	var exists bool
	if err := s.db.QueryRow(dbctx, "SELECT EXISTS(SELECT 1 FROM links WHERE code=$1)", code).Scan(&exists); err != nil {
		slog.Error(err.Error())
		return err
	}
	if !exists {
		return zaplink.ErrNotFound
	}
	return zaplink.ErrAlreadyExhausted
}

func (s *PostgresStore) SweepExpired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	dbctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := s.db.Query(dbctx, `
		UPDATE links SET exhausted_at = $1
		WHERE id IN (
			SELECT id FROM links
			WHERE exhausted_at IS NULL AND policy_kind = 2 AND expires_at <= $1
			ORDER BY expires_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING code`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("sweep expired: %w", err)
	}
	codes, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("sweep expired: %w", err)
	}
	return codes, nil
}

func (s *PostgresStore) ListByOwner(ctx context.Context, ownerID int64, limit int) ([]zaplink.Link, error) {
	dbctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rows, err := s.db.Query(dbctx, "SELECT "+linkColumns+" FROM links WHERE owner_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2", ownerID, limit)
	if err != nil {
		slog.Error(err.Error())
		return nil, err
	}
	defer rows.Close()

	var result []zaplink.Link
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			slog.Error(err.Error())
			return nil, err
		}
		result = append(result, link)
	}
	if err := rows.Err(); err != nil {
		slog.Error(err.Error())
		return nil, err
	}
	return result, nil
}

func (s *PostgresStore) OwnsLink(ctx context.Context, ownerID int64, code string) (bool, error) {
	dbctx, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()

	var exists bool
	err := s.db.QueryRow(dbctx, `SELECT EXISTS(SELECT 1 FROM links WHERE owner_id = $1 AND code = $2)`, ownerID, code).Scan(&exists)
	if err != nil {
		slog.Error(err.Error())
		return false, err
	}
	return exists, nil
}

func (s *PostgresStore) EachCode(ctx context.Context, fn func(code string)) error {
	rows, err := s.db.Query(ctx, "SELECT code FROM links")
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return err
		}
		fn(code)
	}
	return rows.Err()
}

func scanLink(row pgx.Row) (zaplink.Link, error) {
	var (
		l           zaplink.Link
		artifact    string
		kind        int16
		maxViews    *int64
		expiresAt   *time.Time
		exhaustedAt *time.Time
	)
	if err := row.Scan(&l.ID, &l.Code, &l.Name, &artifact, &l.FileName, &l.ContentType, &l.Size,
		&l.PasswordHash, &kind, &maxViews, &expiresAt, &l.ViewCount, &l.OwnerID, &l.CreatedAt, &exhaustedAt); err != nil {
		return zaplink.Link{}, err
	}
	l.ArtifactRef = zaplink.ArtifactRef(artifact)
	l.ExhaustedAt = exhaustedAt
	switch zaplink.PolicyKind(kind) {
	case zaplink.PolicyMaxViews:
		if maxViews == nil {
			return zaplink.Link{}, fmt.Errorf("link %s: max_views policy without max_views", l.Code)
		}
		l.Policy = zaplink.MaxViews(*maxViews)
	case zaplink.PolicyExpiresAt:
		if expiresAt == nil {
			return zaplink.Link{}, fmt.Errorf("link %s: expires_at policy without expires_at", l.Code)
		}
		l.Policy = zaplink.ExpiresAt(*expiresAt)
	default:
		l.Policy = zaplink.Unlimited()
	}
	return l, nil
}
