// Package auth はパスワード認証、OAuth認証フロー、セッションとアクセストークンの管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/planboard/internal/model"
	"github.com/hitoshi/planboard/internal/repository"
	"github.com/hitoshi/planboard/internal/resource"
)

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	Name           string
	Provider       string
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// TagStripper は表示名からHTMLタグを除去する。
type TagStripper interface {
	StripTags(raw string) string
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int    // セッション有効期間（秒）
	AdminCode     string // 一致した場合に管理者として登録する。空の場合は無効
	PasswordCost  int    // bcryptのコスト。0の場合は既定値
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	oauth    OAuthProvider
	users    repository.UserRepository
	sessions repository.SessionRepository
	tokens   *TokenIssuer
	names    TagStripper
	config   ServiceConfig
	now      func() time.Time
}

// NewService はServiceを生成する。oauthがnilの場合はOAuthログインを提供しない。
func NewService(
	oauth OAuthProvider,
	users repository.UserRepository,
	sessions repository.SessionRepository,
	tokens *TokenIssuer,
	names TagStripper,
	config ServiceConfig,
) *Service {
	return &Service{
		oauth:    oauth,
		users:    users,
		sessions: sessions,
		tokens:   tokens,
		names:    names,
		config:   config,
		now:      time.Now,
	}
}

// SignupInput はユーザー登録の入力。
type SignupInput struct {
	Email     string
	Password  string
	Nickname  string
	AdminCode string
}

// LoginResult はログイン成功時に発行した認証情報。
type LoginResult struct {
	User        *model.User
	Session     *model.Session
	AccessToken string
	ExpiresAt   time.Time
}

// Signup はメールアドレスとパスワードでユーザーを登録する。
func (s *Service) Signup(ctx context.Context, in SignupInput) (*model.User, error) {
	// 1. 入力の整形と検証
	email := strings.TrimSpace(in.Email)
	nickname := s.cleanName(in.Nickname)
	if email == "" || in.Password == "" || nickname == "" {
		return nil, model.NewValidationError("email, password, nickname は必須です")
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return nil, model.NewValidationError("メールアドレスの形式が正しくありません")
	}
	if err := ValidatePassword(in.Password); err != nil {
		return nil, err
	}

	// 2. 重複確認
	existing, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if existing != nil {
		return nil, model.NewEmailTakenError()
	}

	// 3. ユーザーを作成
	hash, err := HashPassword(in.Password, s.config.PasswordCost)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	user := &model.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		Nickname:     nickname,
		Role:         s.roleFor(in.AdminCode),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, resource.ErrConflict) {
			return nil, model.NewEmailTakenError()
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("user signed up",
		slog.String("user_id", user.ID),
		slog.String("role", string(user.Role)),
	)
	return user, nil
}

// Login はメールアドレスとパスワードを検証し、セッションとアクセストークンを発行する。
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	user, err := s.users.FindByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if user == nil {
		return nil, model.NewInvalidCredentialsError()
	}

	ok, err := ComparePassword(user.PasswordHash, password)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, model.NewInvalidCredentialsError()
	}

	result, err := s.issue(ctx, user)
	if err != nil {
		return nil, err
	}

	slog.Info("user logged in", slog.String("user_id", user.ID))
	return result, nil
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	if s.oauth == nil {
		return ""
	}
	return s.oauth.GetLoginURL(state)
}

// HandleCallback はOAuthコールバックを処理し、セッションを発行する。
// メールアドレスが一致するユーザーがいればそのユーザーとしてログインし、
// いなければ一般ユーザーとして自動作成する。
func (s *Service) HandleCallback(ctx context.Context, code string) (*LoginResult, error) {
	if s.oauth == nil {
		return nil, errors.New("oauth login is not configured")
	}

	// 1. 認可コードをトークンに交換し、ユーザー情報を取得
	info, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	// 2. メールアドレスで既存ユーザーを検索
	user, err := s.users.FindByEmail(ctx, info.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}

	if user != nil {
		slog.Info("existing user logged in",
			slog.String("user_id", user.ID),
			slog.String("provider", info.Provider),
		)
	} else {
		// 3. 新規ユーザーを作成
		nickname := s.cleanName(info.Name)
		if nickname == "" {
			nickname, _, _ = strings.Cut(info.Email, "@")
		}
		now := s.now().UTC()
		user = &model.User{
			ID:        uuid.NewString(),
			Email:     info.Email,
			Nickname:  nickname,
			Role:      model.RoleUser,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.users.Create(ctx, user); err != nil {
			return nil, fmt.Errorf("failed to create user: %w", err)
		}
		slog.Info("new user created",
			slog.String("user_id", user.ID),
			slog.String("provider", info.Provider),
		)
	}

	// 4. セッションとトークンを発行
	return s.issue(ctx, user)
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessions.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out")
	return nil
}

// issue はセッションを作成し、アクセストークンを発行する。
func (s *Service) issue(ctx context.Context, user *model.User) (*LoginResult, error) {
	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	result := &LoginResult{User: user, Session: session}
	if s.tokens != nil {
		token, expiresAt, err := s.tokens.Issue(user)
		if err != nil {
			return nil, err
		}
		result.AccessToken = token
		result.ExpiresAt = expiresAt
	}
	return result, nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now().UTC()
	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// roleFor は登録時の管理者コードから権限区分を決める。
func (s *Service) roleFor(code string) model.Role {
	if s.config.AdminCode == "" || code == "" {
		return model.RoleUser
	}
	if subtle.ConstantTimeCompare([]byte(code), []byte(s.config.AdminCode)) == 1 {
		return model.RoleAdmin
	}
	return model.RoleUser
}

func (s *Service) cleanName(raw string) string {
	if s.names != nil {
		raw = s.names.StripTags(raw)
	}
	return strings.TrimSpace(raw)
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
