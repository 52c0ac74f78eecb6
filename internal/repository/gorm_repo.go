package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/planboard/internal/model"
	"github.com/hitoshi/planboard/internal/resource"
	"gorm.io/gorm"
)

// GormUserRepo はGORMを使用したユーザーリポジトリ。
type GormUserRepo struct {
	db *gorm.DB
}

// NewGormUserRepo はGormUserRepoを生成する。
func NewGormUserRepo(db *gorm.DB) *GormUserRepo {
	return &GormUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *GormUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return &user, nil
}

// FindByEmail はメールアドレスでユーザーを検索する。大文字小文字は区別しない。
func (r *GormUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).First(&user, "lower(email) = lower(?)", email).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return &user, nil
}

// Create はユーザーを作成する。
func (r *GormUserRepo) Create(ctx context.Context, user *model.User) error {
	err := withRetry(ctx, r.db, func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&model.User{}).Where("lower(email) = lower(?)", user.Email).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return resource.ErrConflict
		}
		return tx.Create(user).Error
	})
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", translateGormError(err))
	}
	return nil
}

// UpdateProfile はニックネームとパスワードハッシュを更新する。
func (r *GormUserRepo) UpdateProfile(ctx context.Context, user *model.User) error {
	var affected int64
	err := withRetry(ctx, r.db, func(tx *gorm.DB) error {
		result := tx.Model(&model.User{}).Where("id = ?", user.ID).Updates(map[string]any{
			"nickname":      user.Nickname,
			"password_hash": user.PasswordHash,
			"updated_at":    user.UpdatedAt,
		})
		affected = result.RowsAffected
		return result.Error
	})
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if affected == 0 {
		return resource.ErrNotFound
	}
	return nil
}

// DeleteByID は指定IDのユーザーを削除する。
// セッション、所有するリソース記録、その子リソースも同一トランザクションで削除する。
func (r *GormUserRepo) DeleteByID(ctx context.Context, id string) error {
	var affected int64
	err := withRetry(ctx, r.db, func(tx *gorm.DB) error {
		// 1. 所有する親リソースに付いた他ユーザーの子リソースを削除
		parents := []struct {
			parent any
			child  any
			column string
		}{
			{&model.Post{}, &model.Comment{}, "post_id"},
			{&model.Question{}, &model.Answer{}, "question_id"},
			{&model.Vote{}, &model.Ballot{}, "vote_id"},
		}
		for _, p := range parents {
			owned := tx.Model(p.parent).Select("id").Where("owner_id = ?", id)
			if err := tx.Where(p.column+" IN (?)", owned).Delete(p.child).Error; err != nil {
				return err
			}
		}

		// 2. 所有する記録とセッションを削除
		for _, m := range ownedModels() {
			if err := tx.Where("owner_id = ?", id).Delete(m).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("user_id = ?", id).Delete(&model.Session{}).Error; err != nil {
			return err
		}

		// 3. ユーザーを削除
		result := tx.Delete(&model.User{}, "id = ?", id)
		affected = result.RowsAffected
		return result.Error
	})
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if affected == 0 {
		return resource.ErrNotFound
	}
	return nil
}

// FindNicknames は指定ユーザーIDのニックネームをまとめて取得する。
func (r *GormUserRepo) FindNicknames(ctx context.Context, ids []string) (map[string]string, error) {
	result := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	var users []model.User
	if err := r.db.WithContext(ctx).Select("id", "nickname").Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to find nicknames: %w", err)
	}
	for _, u := range users {
		result[u.ID] = u.Nickname
	}
	return result, nil
}

// GormSessionRepo はGORMを使用したセッションリポジトリ。
type GormSessionRepo struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormSessionRepo はGormSessionRepoを生成する。
func NewGormSessionRepo(db *gorm.DB) *GormSessionRepo {
	return &GormSessionRepo{db: db, now: time.Now}
}

// Create はセッションを作成する。
// SQLiteでは日時を文字列として比較するため、UTCに揃えて保存する。
func (r *GormSessionRepo) Create(ctx context.Context, session *model.Session) error {
	s := *session
	s.ExpiresAt = s.ExpiresAt.UTC()
	s.CreatedAt = s.CreatedAt.UTC()
	err := withRetry(ctx, r.db, func(tx *gorm.DB) error {
		return tx.Create(&s).Error
	})
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
func (r *GormSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	var session model.Session
	err := r.db.WithContext(ctx).
		First(&session, "id = ? AND expires_at > ?", id, r.now().UTC()).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	return &session, nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *GormSessionRepo) DeleteByID(ctx context.Context, id string) error {
	err := withRetry(ctx, r.db, func(tx *gorm.DB) error {
		return tx.Delete(&model.Session{}, "id = ?", id).Error
	})
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteByUserID は指定ユーザーの全セッションを削除する。
func (r *GormSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	err := withRetry(ctx, r.db, func(tx *gorm.DB) error {
		return tx.Where("user_id = ?", userID).Delete(&model.Session{}).Error
	})
	if err != nil {
		return fmt.Errorf("failed to delete user sessions: %w", err)
	}
	return nil
}

// DeleteExpired は期限切れのセッションを削除し、削除件数を返す。
func (r *GormSessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	var n int64
	err := withRetry(ctx, r.db, func(tx *gorm.DB) error {
		result := tx.Where("expires_at <= ?", r.now().UTC()).Delete(&model.Session{})
		n = result.RowsAffected
		return result.Error
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return n, nil
}

// ownedModels は所有者を持つ全リソースのモデルを返す。
func ownedModels() []any {
	return []any{
		&model.Todo{},
		&model.Event{},
		&model.Post{},
		&model.Comment{},
		&model.Question{},
		&model.Answer{},
		&model.Notice{},
		&model.Vote{},
		&model.Ballot{},
	}
}

// GormModels はAutoMigrateの対象となる全モデルを返す。
func GormModels() []any {
	return append([]any{&model.User{}, &model.Session{}}, ownedModels()...)
}

// NewGormStores はGORMバックエンドのリポジトリ一式を生成する。
func NewGormStores(db *gorm.DB) *Stores {
	return &Stores{
		Users:        NewGormUserRepo(db),
		Sessions:     NewGormSessionRepo(db),
		Todos:        NewGormStore[model.Todo](db),
		Events:       NewGormStore[model.Event](db),
		Posts:        NewGormStore[model.Post](db).withCascade(&model.Comment{}, "post_id"),
		Comments:     NewGormStore[model.Comment](db),
		Questions:    NewGormStore[model.Question](db).withReadOnly("is_answered").withCascade(&model.Answer{}, "question_id"),
		Answers:      NewGormStore[model.Answer](db),
		Notices:      NewGormStore[model.Notice](db),
		Votes:        NewGormStore[model.Vote](db).withCascade(&model.Ballot{}, "vote_id"),
		Ballots:      NewGormStore[model.Ballot](db),
		AnswerWriter: NewGormAnswerWriter(db),
	}
}

// compile-time interface check
var (
	_ UserRepository    = (*GormUserRepo)(nil)
	_ SessionRepository = (*GormSessionRepo)(nil)
)
