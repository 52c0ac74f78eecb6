package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/planboard/internal/model"
	"github.com/hitoshi/planboard/internal/resource"
	"github.com/ncruces/go-sqlite3"
	"gorm.io/gorm"
)

// retryCodes はSQLiteのロック競合としてリトライ対象とするエラーコード。
var retryCodes = []sqlite3.ErrorCode{sqlite3.BUSY, sqlite3.LOCKED}

// withRetry はfnをトランザクション内で実行する。
// SQLiteのロック競合で失敗した場合は指数バックオフでリトライする。
func withRetry(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB) error) error {
	backoff := 100 * time.Millisecond
	const maxRetries = 8

	for retries := 0; ; retries++ {
		err := db.WithContext(ctx).Transaction(fn)
		if err == nil {
			return nil
		}

		var sqliteErr *sqlite3.Error
		if retries >= maxRetries || !errors.As(err, &sqliteErr) || !slices.Contains(retryCodes, sqliteErr.Code()) {
			return err
		}

		slog.DebugContext(ctx, "トランザクションが競合したため再試行します",
			slog.Int("retries", retries),
			slog.Duration("backoff", backoff),
			slog.String("error", err.Error()),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

// translateGormError はGORM・SQLiteのエラーをストアのエラーに変換する。
func translateGormError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return resource.ErrNotFound
	}
	var sqliteErr *sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.ExtendedCode() {
		case sqlite3.CONSTRAINT_UNIQUE, sqlite3.CONSTRAINT_PRIMARYKEY:
			return resource.ErrConflict
		case sqlite3.CONSTRAINT_FOREIGNKEY:
			return resource.ErrNotFound
		}
	}
	return err
}

// gormCascade は親の削除時に連鎖削除する子テーブルを表す。
type gormCascade struct {
	model  any
	column string
}

// GormStore はGORMを使用した汎用リソースストア。SQLiteでの利用を想定する。
// IDはUUIDv7をアプリケーション側で採番する。
type GormStore[T any, PT recordPtr[T]] struct {
	db *gorm.DB
	// readOnly は通常の更新で書き換えないカラム。
	readOnly []string
	children []gormCascade
}

// NewGormStore はGormStoreを生成する。
func NewGormStore[T any, PT recordPtr[T]](db *gorm.DB) *GormStore[T, PT] {
	return &GormStore[T, PT]{db: db}
}

// withReadOnly は更新対象から除外するカラムを追加する。
func (s *GormStore[T, PT]) withReadOnly(columns ...string) *GormStore[T, PT] {
	s.readOnly = append(s.readOnly, columns...)
	return s
}

// withCascade は削除時に連鎖削除する子テーブルを追加する。
func (s *GormStore[T, PT]) withCascade(childModel any, column string) *GormStore[T, PT] {
	s.children = append(s.children, gormCascade{model: childModel, column: column})
	return s
}

// Create は記録を挿入する。
func (s *GormStore[T, PT]) Create(ctx context.Context, rec PT) (PT, error) {
	if rec.GetID() == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("failed to generate record ID: %w", err)
		}
		rec.SetID(id.String())
	}

	err := withRetry(ctx, s.db, func(tx *gorm.DB) error {
		return tx.Create(rec).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create record: %w", translateGormError(err))
	}
	return rec, nil
}

// Get は指定IDの記録を取得する。
func (s *GormStore[T, PT]) Get(ctx context.Context, id string) (PT, error) {
	rec := PT(new(T))
	if err := s.db.WithContext(ctx).First(rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, resource.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find record: %w", err)
	}
	return rec, nil
}

// List は条件に一致する記録を作成日時の降順で取得する。
func (s *GormStore[T, PT]) List(ctx context.Context, q resource.Query) ([]PT, error) {
	query := s.db.WithContext(ctx).Model(PT(new(T)))
	if q.OwnerID != "" {
		query = query.Where("owner_id = ?", q.OwnerID)
	}
	if q.ParentID != "" {
		if column := parentColumnOf[T, PT](); column != "" {
			query = query.Where(column+" = ?", q.ParentID)
		}
	}

	var rows []T
	if err := query.Order("created_at DESC, id DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	result := make([]PT, len(rows))
	for i := range rows {
		result[i] = PT(&rows[i])
	}
	return result, nil
}

// Update はトランザクション内で記録を読み込み、fnを適用した内容カラムと更新日時を書き戻す。
// ID、所有者、作成日時、親参照は更新しない。
func (s *GormStore[T, PT]) Update(ctx context.Context, id string, fn func(rec PT) error) (PT, error) {
	omit := append([]string{"id", "owner_id", "created_at"}, s.readOnly...)
	if column := parentColumnOf[T, PT](); column != "" {
		omit = append(omit, column)
	}

	var (
		updated PT
		fnErr   error
	)
	err := withRetry(ctx, s.db, func(tx *gorm.DB) error {
		fnErr = nil
		stored := PT(new(T))
		if err := tx.First(stored, "id = ?", id).Error; err != nil {
			return err
		}
		rec, err := modifyCopy[T, PT](stored, fn)
		if err != nil {
			fnErr = err
			return err
		}
		if err := tx.Model(rec).Select("*").Omit(omit...).Updates(rec).Error; err != nil {
			return err
		}
		updated = rec
		return nil
	})
	if fnErr != nil {
		return nil, fnErr
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update record: %w", translateGormError(err))
	}
	return updated, nil
}

// Delete は指定IDの記録と子リソースを同一トランザクションで削除する。
func (s *GormStore[T, PT]) Delete(ctx context.Context, id string) error {
	var affected int64
	err := withRetry(ctx, s.db, func(tx *gorm.DB) error {
		for _, child := range s.children {
			if err := tx.Where(child.column+" = ?", id).Delete(child.model).Error; err != nil {
				return err
			}
		}
		result := tx.Delete(PT(new(T)), "id = ?", id)
		affected = result.RowsAffected
		return result.Error
	})
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	if affected == 0 {
		return resource.ErrNotFound
	}
	return nil
}

func parentColumnOf[T any, PT recordPtr[T]]() string {
	if child, ok := any(PT(new(T))).(resource.Child); ok {
		return child.ParentColumn()
	}
	return ""
}

// GormAnswerWriter は回答の登録と質問の回答済みフラグ更新を単一トランザクションで行う。
type GormAnswerWriter struct {
	db *gorm.DB
}

// NewGormAnswerWriter はGormAnswerWriterを生成する。
func NewGormAnswerWriter(db *gorm.DB) *GormAnswerWriter {
	return &GormAnswerWriter{db: db}
}

// CreateAnswer は回答を保存し、対象の質問を回答済みにする。
func (w *GormAnswerWriter) CreateAnswer(ctx context.Context, answer *model.Answer) (*model.Answer, error) {
	if answer.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("failed to generate answer ID: %w", err)
		}
		answer.ID = id.String()
	}

	err := withRetry(ctx, w.db, func(tx *gorm.DB) error {
		var question model.Question
		if err := tx.Select("id").First(&question, "id = ?", answer.QuestionID).Error; err != nil {
			return err
		}
		if err := tx.Create(answer).Error; err != nil {
			return err
		}
		return tx.Model(&model.Question{}).
			Where("id = ?", answer.QuestionID).
			Updates(map[string]any{"is_answered": true, "updated_at": answer.CreatedAt}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create answer: %w", translateGormError(err))
	}
	return answer, nil
}

// compile-time interface check
var (
	_ resource.Store[*model.Todo] = (*GormStore[model.Todo, *model.Todo])(nil)
	_ resource.AnswerWriter       = (*GormAnswerWriter)(nil)
)
