package middleware

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/planboard/internal/auth"
	"github.com/hitoshi/planboard/internal/model"
)

const (
	// csrfCookieName はダブルサブミット用トークンのCookie名。JavaScriptから読めるようHttpOnlyにしない。
	csrfCookieName = "csrf_token"
	csrfHeaderName = "X-CSRF-Token"

	csrfCookieMaxAge = 24 * 60 * 60
	csrfTokenBytes   = 32
)

var (
	errCSRFCookieMissing = errors.New("missing cookie token")
	errCSRFHeaderMissing = errors.New("missing header token")
	errCSRFMismatch      = errors.New("token mismatch")
)

// CSRFConfig はCSRF保護の設定。
type CSRFConfig struct {
	CookieSecure bool
	CookieDomain string
	// Failures は検証失敗の記録先。nilの場合は記録しない。
	Failures AuthFailureRecorder
}

// csrfGuard はダブルサブミットCookie方式でCookie認証の変更リクエストを保護する。
type csrfGuard struct {
	config CSRFConfig
}

// NewCSRFMiddleware はCSRF検証ミドルウェアを返す。
//
//   - GET/HEAD/OPTIONS: 検証せず、トークンCookieがなければ発行する
//   - Authorization: Bearer 付きのリクエスト: Cookieに依存しないため検証しない
//   - それ以外: Cookieと X-CSRF-Token ヘッダーの一致を要求し、不一致は403
func NewCSRFMiddleware(config CSRFConfig) func(next http.Handler) http.Handler {
	g := &csrfGuard{config: config}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case isSafeMethod(r.Method):
				if _, err := g.token(w, r); err != nil {
					slog.Error("failed to issue CSRF token", slog.String("error", err.Error()))
				}
			case isBearerRequest(r):
			default:
				if err := verifyCSRF(r); err != nil {
					g.reject(w, r, err)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// NewCSRFTokenHandler は GET /api/csrf-token のハンドラーを返す。
// Cookieに有効なトークンがあればそれを、なければ新しいトークンを返す。
func NewCSRFTokenHandler(config CSRFConfig) http.Handler {
	g := &csrfGuard{config: config}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := g.token(w, r)
		if err != nil {
			slog.Error("failed to issue CSRF token", slog.String("error", err.Error()))
			WriteInternalServerError(w)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		json.NewEncoder(w).Encode(map[string]string{"token": token})
	})
}

// token はリクエストのトークンCookieを返す。存在しない場合は発行してCookieに設定する。
func (g *csrfGuard) token(w http.ResponseWriter, r *http.Request) (string, error) {
	if c, err := r.Cookie(csrfCookieName); err == nil && c.Value != "" {
		return c.Value, nil
	}

	b := make([]byte, csrfTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	token := hex.EncodeToString(b)

	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    token,
		Path:     "/",
		Domain:   g.config.CookieDomain,
		MaxAge:   csrfCookieMaxAge,
		Secure:   g.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	return token, nil
}

func (g *csrfGuard) reject(w http.ResponseWriter, r *http.Request, reason error) {
	slog.Warn("CSRF validation failed",
		slog.String("reason", reason.Error()),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	)
	if g.config.Failures != nil {
		g.config.Failures.RecordAuthFailure("csrf")
	}
	WriteAPIError(w, model.NewForbiddenError("csrf_token"))
}

// verifyCSRF はCookieとヘッダーのトークンを定数時間で比較する。
func verifyCSRF(r *http.Request) error {
	c, err := r.Cookie(csrfCookieName)
	if err != nil || c.Value == "" {
		return errCSRFCookieMissing
	}
	header := r.Header.Get(csrfHeaderName)
	if header == "" {
		return errCSRFHeaderMissing
	}
	if subtle.ConstantTimeCompare([]byte(c.Value), []byte(header)) != 1 {
		return errCSRFMismatch
	}
	return nil
}

func isBearerRequest(r *http.Request) bool {
	_, ok := auth.BearerToken(r)
	return ok
}

// isSafeMethod は状態を変更しないHTTPメソッドかどうかを返す。
func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}
