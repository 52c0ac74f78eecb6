// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/planboard/internal/auth"
	"github.com/hitoshi/planboard/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// principalContextKey はリクエストコンテキストに認証済み主体を格納するためのキー。
var principalContextKey = contextKey("principal")

// PrincipalResolver はリクエストの認証情報から主体を解決する。
// auth.Guardが実装する。
type PrincipalResolver interface {
	Resolve(r *http.Request) (*model.Principal, error)
}

// AuthFailureRecorder は認証失敗の件数を記録する。
type AuthFailureRecorder interface {
	RecordAuthFailure(reason string)
}

// NewSessionMiddleware はセッションCookieまたはBearerトークンから主体を解決し、
// リクエストコンテキストに注入するミドルウェアを返す。
// 未認証リクエストには401を返し、後続のハンドラーを呼び出さない。
// recorderはnilでもよい。
func NewSessionMiddleware(resolver PrincipalResolver, recorder AuthFailureRecorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. 認証情報から主体を解決
			principal, err := resolver.Resolve(r)

			// 2. 失敗時は後続を呼ばずに応答
			if errors.Is(err, auth.ErrNoSession) {
				if recorder != nil {
					recorder.RecordAuthFailure("no_session")
				}
				WriteUnauthorized(w)
				return
			}
			if err != nil {
				slog.Error("failed to resolve session",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}

			// 3. 主体をコンテキストに注入
			noteUserID(r.Context(), principal.UserID)
			next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), principal)))
		})
	}
}

// PrincipalFromContext はリクエストコンテキストから認証済み主体を取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func PrincipalFromContext(ctx context.Context) (*model.Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(*model.Principal)
	return p, ok && p != nil
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	p, ok := PrincipalFromContext(ctx)
	if !ok || p.UserID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return p.UserID, nil
}

// ContextWithPrincipal はコンテキストに主体を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithPrincipal(ctx context.Context, p *model.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}
