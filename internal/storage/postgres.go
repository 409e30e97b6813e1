package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/koopa0/system-design/14-link-redirector/internal/links"
	apperrors "github.com/koopa0/system-design/14-link-redirector/pkg/errors"
)

// uniqueViolation PostgreSQL 錯誤碼 23505
const uniqueViolation = "23505"

// Postgres PostgreSQL 存儲實現（唯一真實來源）
//
// 表結構見 internal/migrations：
//
//	links(link TEXT PRIMARY KEY, destination TEXT NOT NULL)
//	accounts(username TEXT PRIMARY KEY, password TEXT NOT NULL)
//
// 寫入方法把 RowsAffected 原樣返回，由呼叫方判斷是否恰好為 1。
// 主鍵衝突轉成 Conflict，其餘錯誤轉成 Unavailable。
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres 創建 PostgreSQL 存儲實例
//
// pool 的生命週期由呼叫方管理。
func NewPostgres(pool *pgxpool.Pool) (*Postgres, error) {
	if pool == nil {
		return nil, apperrors.Uninitialized("postgres pool")
	}
	return &Postgres{pool: pool}, nil
}

// Ping 檢查連線（/ready 使用）
func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return unavailable(err)
	}
	return nil
}

// InsertLink 新增連結
func (p *Postgres) InsertLink(ctx context.Context, code, destination string) (int64, error) {
	tag, err := p.pool.Exec(ctx,
		`INSERT INTO links (link, destination) VALUES ($1, $2)`,
		code, destination,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, apperrors.ErrLinkConflict
		}
		return 0, unavailable(err)
	}
	return tag.RowsAffected(), nil
}

// UpdateLink 修改連結目的地
func (p *Postgres) UpdateLink(ctx context.Context, code, destination string) (int64, error) {
	tag, err := p.pool.Exec(ctx,
		`UPDATE links SET destination = $2 WHERE link = $1`,
		code, destination,
	)
	if err != nil {
		return 0, unavailable(err)
	}
	return tag.RowsAffected(), nil
}

// DeleteLink 刪除連結
func (p *Postgres) DeleteLink(ctx context.Context, code string) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM links WHERE link = $1`, code)
	if err != nil {
		return 0, unavailable(err)
	}
	return tag.RowsAffected(), nil
}

// ListLinks 讀取所有連結（啟動時載入快取）
func (p *Postgres) ListLinks(ctx context.Context) ([]links.Link, error) {
	rows, err := p.pool.Query(ctx, `SELECT link, destination FROM links`)
	if err != nil {
		return nil, unavailable(err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (links.Link, error) {
		var l links.Link
		err := row.Scan(&l.Code, &l.Destination)
		return l, err
	})
	if err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}

// GetPassword 讀取帳號的 salt|hash
func (p *Postgres) GetPassword(ctx context.Context, username string) (string, error) {
	var password string
	err := p.pool.QueryRow(ctx,
		`SELECT password FROM accounts WHERE username = $1`, username,
	).Scan(&password)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", apperrors.New(apperrors.ErrCodeNotFound, "account not found")
		}
		return "", unavailable(err)
	}
	return password, nil
}

// InsertAccount 新增帳號
func (p *Postgres) InsertAccount(ctx context.Context, username, password string) (int64, error) {
	tag, err := p.pool.Exec(ctx,
		`INSERT INTO accounts (username, password) VALUES ($1, $2)`,
		username, password,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, apperrors.ErrAccountConflict
		}
		return 0, unavailable(err)
	}
	return tag.RowsAffected(), nil
}

// CountAccounts 返回帳號數量
func (p *Postgres) CountAccounts(ctx context.Context) (int64, error) {
	var n int64
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&n); err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

// isUniqueViolation 檢查是否為主鍵/唯一約束衝突
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func unavailable(err error) error {
	return apperrors.Wrap(fmt.Errorf("postgres: %w", err), apperrors.ErrCodeUnavailable, "database service unavailable")
}
