package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/planboard/internal/model"
)

const (
	sessionInsertSQL = `INSERT INTO sessions (id, user_id, expires_at, created_at) VALUES ($1, $2, $3, $4)`
	sessionSelectSQL = `SELECT id, user_id, expires_at, created_at FROM sessions WHERE id = $1 AND expires_at > $2`
	sessionDeleteSQL = `DELETE FROM sessions WHERE id = $1`
	sessionPurgeSQL  = `DELETE FROM sessions WHERE expires_at <= $1`
	// user_idはUUID型。UUIDでない値でもエラーにせず0件として扱うためtextで比較する
	sessionDeleteByUserSQL = `DELETE FROM sessions WHERE user_id::text = $1`
)

// PostgresSessionRepo はPostgreSQLのsessionsテーブルを使用したセッションリポジトリ。
// 期限判定にはデータベースのnow()ではなくアプリケーションの時計を使う。
type PostgresSessionRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db, now: time.Now}
}

// Create はセッションを作成する。ユーザーが存在しない場合はresource.ErrNotFoundを返す。
func (r *PostgresSessionRepo) Create(ctx context.Context, s *model.Session) error {
	if _, err := r.db.ExecContext(ctx, sessionInsertSQL, s.ID, s.UserID, s.ExpiresAt, s.CreatedAt); err != nil {
		return fmt.Errorf("failed to create session: %w", translatePQError(err))
	}
	return nil
}

// FindByID は有効期限内のセッションを返す。存在しないか期限切れの場合は(nil, nil)。
func (r *PostgresSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	var s model.Session
	err := r.db.QueryRowContext(ctx, sessionSelectSQL, id, r.now()).
		Scan(&s.ID, &s.UserID, &s.ExpiresAt, &s.CreatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	return &s, nil
}

// DeleteByID はセッションを削除する。存在しない場合もエラーにしない。
func (r *PostgresSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if _, err := r.exec(ctx, sessionDeleteSQL, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteByUserID はユーザーの全セッションを削除する。
func (r *PostgresSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	if _, err := r.exec(ctx, sessionDeleteByUserSQL, userID); err != nil {
		return fmt.Errorf("failed to delete user sessions: %w", err)
	}
	return nil
}

// DeleteExpired は期限切れのセッションを削除し、削除件数を返す。
func (r *PostgresSessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	n, err := r.exec(ctx, sessionPurgeSQL, r.now())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return n, nil
}

// exec は文を実行し、影響を受けた行数を返す。
func (r *PostgresSessionRepo) exec(ctx context.Context, query string, args ...any) (int64, error) {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

var _ SessionRepository = (*PostgresSessionRepo)(nil)
