package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/hitoshi/planboard/internal/model"
)

// ErrNoSession は有効なセッションまたはトークンがないことを示す。
var ErrNoSession = errors.New("no valid session")

// SessionFinder はセッションの検索に必要なインターフェース。
// repository.SessionRepositoryの部分集合として定義する。
type SessionFinder interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
}

// UserFinder はユーザーの検索に必要なインターフェース。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// Guard はリクエストの認証情報から呼び出し元の主体を解決する。
// 解決に失敗しても副作用はなく、失敗結果をキャッシュしない。
type Guard struct {
	sessions SessionFinder
	users    UserFinder
	cookies  *CookieCodec
	tokens   *TokenIssuer
}

// NewGuard はGuardを生成する。tokensがnilの場合はBearerトークンを受け付けない。
func NewGuard(sessions SessionFinder, users UserFinder, cookies *CookieCodec, tokens *TokenIssuer) *Guard {
	return &Guard{
		sessions: sessions,
		users:    users,
		cookies:  cookies,
		tokens:   tokens,
	}
}

// Resolve はBearerトークンまたはセッションCookieから主体を解決する。
// 認証情報が無効な場合はErrNoSessionを、ストアの障害はそれ以外のエラーを返す。
func (g *Guard) Resolve(r *http.Request) (*model.Principal, error) {
	userID, err := g.resolveUserID(r)
	if err != nil {
		return nil, err
	}

	user, err := g.users.FindByID(r.Context(), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		// 退会済みユーザーのトークン
		return nil, ErrNoSession
	}
	return model.PrincipalFromUser(user), nil
}

func (g *Guard) resolveUserID(r *http.Request) (string, error) {
	if raw, ok := BearerToken(r); ok {
		if g.tokens == nil {
			return "", ErrNoSession
		}
		userID, err := g.tokens.Verify(raw)
		if err != nil {
			return "", ErrNoSession
		}
		return userID, nil
	}

	sessionID, ok := g.SessionID(r)
	if !ok {
		return "", ErrNoSession
	}
	session, err := g.sessions.FindByID(r.Context(), sessionID)
	if err != nil {
		return "", fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return "", ErrNoSession
	}
	return session.UserID, nil
}

// SessionID はセッションCookieを復号してセッションIDを返す。
func (g *Guard) SessionID(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	sessionID, err := g.cookies.Decode(cookie.Value)
	if err != nil || sessionID == "" {
		return "", false
	}
	return sessionID, true
}

// BearerToken はAuthorizationヘッダーからBearerトークンを取り出す。
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
