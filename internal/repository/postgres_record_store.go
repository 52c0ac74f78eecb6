package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/hitoshi/planboard/internal/resource"
	"github.com/lib/pq"
)

// pgTable はPostgreSQLのテーブルと記録型の対応を表す。
// id, owner_id, created_at, updated_at は全テーブル共通のカラムとして扱う。
type pgTable[T any, PT recordPtr[T]] struct {
	name string
	// parent は親参照カラム名。作成時のみ書き込み、更新しない。
	parent string
	// columns は更新可能な内容カラム。
	columns []string
	// readOnly はサーバー側で別途更新され、読み取りのみ行うカラム。
	readOnly []string
	values   func(rec PT) []any
	// targets は columns、readOnly の順にScan先を返す。
	targets func(rec PT) []any
}

// PostgresStore はPostgreSQLを使用した汎用リソースストア。
// IDはデータベースが採番する（gen_random_uuid()）。
type PostgresStore[T any, PT recordPtr[T]] struct {
	db    *sql.DB
	table pgTable[T, PT]

	selectSQL string
	insertSQL string
	updateSQL string
	deleteSQL string
}

// newPostgresStore はテーブル定義からSQLを組み立ててPostgresStoreを生成する。
func newPostgresStore[T any, PT recordPtr[T]](db *sql.DB, table pgTable[T, PT]) *PostgresStore[T, PT] {
	insertCols := []string{"owner_id", "created_at", "updated_at"}
	if table.parent != "" {
		insertCols = append(insertCols, table.parent)
	}
	insertCols = append(insertCols, table.columns...)

	selectCols := append([]string{"id"}, insertCols...)
	selectCols = append(selectCols, table.readOnly...)

	sets := []string{"updated_at = $1"}
	for i, c := range table.columns {
		sets = append(sets, fmt.Sprintf("%s = $%d", c, i+2))
	}

	return &PostgresStore[T, PT]{
		db:    db,
		table: table,
		selectSQL: fmt.Sprintf(`SELECT %s FROM %s`,
			strings.Join(selectCols, ", "), table.name),
		insertSQL: fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) RETURNING id`,
			table.name, strings.Join(insertCols, ", "), placeholders(1, len(insertCols))),
		updateSQL: fmt.Sprintf(`UPDATE %s SET %s WHERE id = $%d`,
			table.name, strings.Join(sets, ", "), len(table.columns)+2),
		deleteSQL: fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, table.name),
	}
}

// Create は記録を挿入し、採番されたIDを設定して返す。
func (s *PostgresStore[T, PT]) Create(ctx context.Context, rec PT) (PT, error) {
	args := []any{rec.GetOwnerID(), rec.GetCreatedAt(), rec.GetUpdatedAt()}
	if s.table.parent != "" {
		args = append(args, parentIDOf(rec))
	}
	args = append(args, s.table.values(rec)...)

	var id string
	if err := s.db.QueryRowContext(ctx, s.insertSQL, args...).Scan(&id); err != nil {
		return nil, fmt.Errorf("failed to insert into %s: %w", s.table.name, translatePQError(err))
	}
	rec.SetID(id)
	return rec, nil
}

// Get は指定IDの記録を取得する。UUID形式でないIDは存在しないものとして扱う。
func (s *PostgresStore[T, PT]) Get(ctx context.Context, id string) (PT, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, resource.ErrNotFound
	}

	rec, err := s.scan(s.db.QueryRowContext(ctx, s.selectSQL+` WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, resource.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find %s: %w", s.table.name, err)
	}
	return rec, nil
}

// List は条件に一致する記録を作成日時の降順で取得する。
func (s *PostgresStore[T, PT]) List(ctx context.Context, q resource.Query) ([]PT, error) {
	var (
		where []string
		args  []any
	)
	if q.OwnerID != "" {
		args = append(args, q.OwnerID)
		where = append(where, fmt.Sprintf("owner_id = $%d", len(args)))
	}
	if q.ParentID != "" && s.table.parent != "" {
		if _, err := uuid.Parse(q.ParentID); err != nil {
			return []PT{}, nil
		}
		args = append(args, q.ParentID)
		where = append(where, fmt.Sprintf("%s = $%d", s.table.parent, len(args)))
	}

	query := s.selectSQL
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.table.name, err)
	}
	defer rows.Close()

	result := []PT{}
	for rows.Next() {
		rec, err := s.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", s.table.name, err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s: %w", s.table.name, err)
	}
	return result, nil
}

// Update はトランザクション内で行ロック（FOR UPDATE）を取得して記録を読み込み、
// fnを適用した内容カラムと更新日時を書き戻す。owner_id・created_at・親参照は更新しない。
func (s *PostgresStore[T, PT]) Update(ctx context.Context, id string, fn func(rec PT) error) (PT, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, resource.ErrNotFound
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stored, err := s.scan(tx.QueryRowContext(ctx, s.selectSQL+` WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, resource.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", s.table.name, err)
	}

	rec, err := modifyCopy[T, PT](stored, fn)
	if err != nil {
		return nil, err
	}

	args := append([]any{rec.GetUpdatedAt()}, s.table.values(rec)...)
	args = append(args, id)
	if _, err := tx.ExecContext(ctx, s.updateSQL, args...); err != nil {
		return nil, fmt.Errorf("failed to update %s: %w", s.table.name, translatePQError(err))
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit %s update: %w", s.table.name, err)
	}
	return rec, nil
}

// Delete は指定IDの記録を削除する。子リソースはON DELETE CASCADEで削除される。
func (s *PostgresStore[T, PT]) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return resource.ErrNotFound
	}

	result, err := s.db.ExecContext(ctx, s.deleteSQL, id)
	if err != nil {
		return fmt.Errorf("failed to delete from %s: %w", s.table.name, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return resource.ErrNotFound
	}
	return nil
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore[T, PT]) scan(row rowScanner) (PT, error) {
	rec := PT(new(T))

	var id, ownerID string
	var base struct {
		createdAt, updatedAt sql.NullTime
		parent               sql.NullString
	}
	dest := []any{&id, &ownerID, &base.createdAt, &base.updatedAt}
	if s.table.parent != "" {
		dest = append(dest, &base.parent)
	}
	dest = append(dest, s.table.targets(rec)...)

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	rec.SetID(id)
	rec.SetOwnerID(ownerID)
	rec.Stamp(base.createdAt.Time)
	rec.Touch(base.updatedAt.Time)
	if child, ok := any(rec).(resource.Child); ok {
		child.SetParentID(base.parent.String)
	}
	return rec, nil
}

// translatePQError はPostgreSQLのエラーコードをストアのエラーに変換する。
func translatePQError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505": // unique_violation
			return resource.ErrConflict
		case "23503", "22P02": // foreign_key_violation, invalid_text_representation
			return resource.ErrNotFound
		case "22001": // string_data_right_truncation
			return resource.ErrInvalid
		}
	}
	return err
}

// placeholders は $from から n 個のプレースホルダを生成する。
func placeholders(from, n int) string {
	ps := make([]string, n)
	for i := range ps {
		ps[i] = fmt.Sprintf("$%d", from+i)
	}
	return strings.Join(ps, ", ")
}
