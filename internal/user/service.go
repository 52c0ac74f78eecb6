// Package user はプロフィール管理と退会処理のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/planboard/internal/auth"
	"github.com/hitoshi/planboard/internal/model"
	"github.com/hitoshi/planboard/internal/repository"
	"github.com/hitoshi/planboard/internal/resource"
)

const maxNicknameLength = 50

// Profile はプロフィールAPIで返すユーザー情報。
type Profile struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	Nickname    string     `json:"nickname"`
	Role        model.Role `json:"role"`
	HasPassword bool       `json:"has_password"`
	CreatedAt   time.Time  `json:"created_at"`
}

// CacheInvalidator は表示名キャッシュの無効化インターフェース。
type CacheInvalidator interface {
	Invalidate(userID string)
}

// Service はユーザー管理のサービス層。
type Service struct {
	userRepo     repository.UserRepository
	sessionRepo  repository.SessionRepository
	names        auth.TagStripper
	cache        CacheInvalidator
	passwordCost int
	now          func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// namesとcacheはnilでもよい。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	names auth.TagStripper,
	cache CacheInvalidator,
	passwordCost int,
) *Service {
	return &Service{
		userRepo:     userRepo,
		sessionRepo:  sessionRepo,
		names:        names,
		cache:        cache,
		passwordCost: passwordCost,
		now:          time.Now,
	}
}

// GetProfile はユーザーのプロフィールを返す。
func (s *Service) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	user, err := s.findUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return toProfile(user), nil
}

// UpdateNickname はニックネームを変更する。HTMLタグは除去する。
func (s *Service) UpdateNickname(ctx context.Context, userID, nickname string) (*Profile, error) {
	if s.names != nil {
		nickname = s.names.StripTags(nickname)
	}
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		return nil, model.NewValidationError("nickname は必須です")
	}
	if len([]rune(nickname)) > maxNicknameLength {
		return nil, model.NewValidationError(fmt.Sprintf("nickname は%d文字以内で指定してください", maxNicknameLength))
	}

	user, err := s.findUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	user.Nickname = nickname
	user.UpdatedAt = s.now().UTC()
	if err := s.save(ctx, user); err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Invalidate(userID)
	}

	slog.Info("ニックネームを変更しました", slog.String("user_id", userID))
	return toProfile(user), nil
}

// ChangePassword は現在のパスワードを確認した上でパスワードを変更する。
// パスワード未設定のユーザー（外部認証のみ）は現在のパスワードなしで設定できる。
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	if err := auth.ValidatePassword(next); err != nil {
		return err
	}

	user, err := s.findUser(ctx, userID)
	if err != nil {
		return err
	}

	if user.PasswordHash != "" {
		ok, err := auth.ComparePassword(user.PasswordHash, current)
		if err != nil {
			return err
		}
		if !ok {
			return model.NewInvalidCredentialsError()
		}
	}

	hash, err := auth.HashPassword(next, s.passwordCost)
	if err != nil {
		return err
	}
	user.PasswordHash = hash
	user.UpdatedAt = s.now().UTC()
	if err := s.save(ctx, user); err != nil {
		return err
	}

	slog.Info("パスワードを変更しました", slog.String("user_id", userID))
	return nil
}

// Withdraw はユーザーの退会処理を実行する。
// 削除順序: sessions → user。所有するリソース記録はリポジトリ側で連鎖削除される。
func (s *Service) Withdraw(ctx context.Context, userID string) error {
	if _, err := s.findUser(ctx, userID); err != nil {
		return err
	}

	slog.Info("退会処理を開始します",
		slog.String("user_id", userID),
	)

	// 1. セッションを削除
	if s.sessionRepo != nil {
		if err := s.sessionRepo.DeleteByUserID(ctx, userID); err != nil {
			return fmt.Errorf("セッションの削除に失敗しました: %w", err)
		}
	}

	// 2. ユーザーを削除（所有記録とその子リソースも削除される）
	if err := s.userRepo.DeleteByID(ctx, userID); err != nil {
		if errors.Is(err, resource.ErrNotFound) {
			return model.NewUserNotFoundError()
		}
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}
	if s.cache != nil {
		s.cache.Invalidate(userID)
	}

	slog.Info("退会処理が完了しました",
		slog.String("user_id", userID),
	)

	return nil
}

func (s *Service) findUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

func (s *Service) save(ctx context.Context, user *model.User) error {
	if err := s.userRepo.UpdateProfile(ctx, user); err != nil {
		if errors.Is(err, resource.ErrNotFound) {
			return model.NewUserNotFoundError()
		}
		return fmt.Errorf("ユーザーの更新に失敗しました: %w", err)
	}
	return nil
}

func toProfile(u *model.User) *Profile {
	return &Profile{
		ID:          u.ID,
		Email:       u.Email,
		Nickname:    u.Nickname,
		Role:        u.Role,
		HasPassword: u.PasswordHash != "",
		CreatedAt:   u.CreatedAt,
	}
}
