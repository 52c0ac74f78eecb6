package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/planboard/internal/auth"
	"github.com/hitoshi/planboard/internal/middleware"
	"github.com/hitoshi/planboard/internal/model"
)

// --- モック定義 ---

type mockAuthService struct {
	signupFn         func(ctx context.Context, in auth.SignupInput) (*model.User, error)
	loginFn          func(ctx context.Context, email, password string) (*auth.LoginResult, error)
	getLoginURLFn    func(state string) string
	handleCallbackFn func(ctx context.Context, code string) (*auth.LoginResult, error)
	logoutFn         func(ctx context.Context, sessionID string) error
}

func (m *mockAuthService) Signup(ctx context.Context, in auth.SignupInput) (*model.User, error) {
	if m.signupFn != nil {
		return m.signupFn(ctx, in)
	}
	return nil, nil
}

func (m *mockAuthService) Login(ctx context.Context, email, password string) (*auth.LoginResult, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, email, password)
	}
	return nil, nil
}

func (m *mockAuthService) GetLoginURL(state string) string {
	if m.getLoginURLFn != nil {
		return m.getLoginURLFn(state)
	}
	return ""
}

func (m *mockAuthService) HandleCallback(ctx context.Context, code string) (*auth.LoginResult, error) {
	if m.handleCallbackFn != nil {
		return m.handleCallbackFn(ctx, code)
	}
	return nil, nil
}

func (m *mockAuthService) Logout(ctx context.Context, sessionID string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return nil
}

type mockGuard struct {
	resolveFn   func(r *http.Request) (*model.Principal, error)
	sessionIDFn func(r *http.Request) (string, bool)
}

func (m *mockGuard) Resolve(r *http.Request) (*model.Principal, error) {
	if m.resolveFn != nil {
		return m.resolveFn(r)
	}
	return nil, auth.ErrNoSession
}

func (m *mockGuard) SessionID(r *http.Request) (string, bool) {
	if m.sessionIDFn != nil {
		return m.sessionIDFn(r)
	}
	return "", false
}

// plainCookies はセッションIDに接頭辞を付けるだけのエンコーダー。
type plainCookies struct{ err error }

func (p plainCookies) Encode(sessionID string) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	return "enc:" + sessionID, nil
}

var testAuthConfig = AuthHandlerConfig{
	BaseURL:       "http://localhost:3000",
	SessionMaxAge: 86400,
}

func newTestAuthHandler(svc AuthServiceInterface, guard SessionGuard) *AuthHandler {
	return NewAuthHandler(svc, guard, plainCookies{}, testAuthConfig)
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// --- テスト ---

func TestAuthHandler_Signup_Created(t *testing.T) {
	var got auth.SignupInput
	svc := &mockAuthService{
		signupFn: func(ctx context.Context, in auth.SignupInput) (*model.User, error) {
			got = in
			return &model.User{ID: "u1", Email: in.Email, Nickname: in.Nickname, Role: model.RoleUser}, nil
		},
	}
	h := newTestAuthHandler(svc, &mockGuard{})

	body := `{"email":"a@example.com","password":"password1","nickname":"alice","admin_code":"x"}`
	req := httptest.NewRequest(http.MethodPost, "/auth/signup", strings.NewReader(body))
	w := httptest.NewRecorder()

	h.Signup(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	if got.Email != "a@example.com" || got.Nickname != "alice" || got.AdminCode != "x" {
		t.Errorf("signup input = %+v", got)
	}
	var user model.User
	if err := json.NewDecoder(w.Body).Decode(&user); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if user.ID != "u1" {
		t.Errorf("id = %q, want %q", user.ID, "u1")
	}
}

func TestAuthHandler_Signup_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"invalid json", `{`, nil, http.StatusBadRequest, model.ErrCodeInvalidRequest},
		{"email taken", `{"email":"a@example.com"}`, model.NewEmailTakenError(), http.StatusConflict, model.ErrCodeEmailTaken},
		{"validation", `{}`, model.NewValidationError("email は必須です"), http.StatusBadRequest, model.ErrCodeValidationFailed},
		{"unexpected", `{}`, errors.New("db down"), http.StatusInternalServerError, model.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockAuthService{
				signupFn: func(ctx context.Context, in auth.SignupInput) (*model.User, error) {
					return nil, tt.err
				},
			}
			h := newTestAuthHandler(svc, &mockGuard{})

			req := httptest.NewRequest(http.MethodPost, "/auth/signup", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			h.Signup(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var apiErr middleware.ErrorResponseBody
			json.NewDecoder(w.Body).Decode(&apiErr)
			if apiErr.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", apiErr.Code, tt.wantCode)
			}
		})
	}
}

func TestAuthHandler_Login_SetsCookieAndReturnsToken(t *testing.T) {
	svc := &mockAuthService{
		loginFn: func(ctx context.Context, email, password string) (*auth.LoginResult, error) {
			if email != "a@example.com" || password != "password1" {
				t.Errorf("login args = %q, %q", email, password)
			}
			return &auth.LoginResult{
				User:        &model.User{ID: "u1", Email: email},
				Session:     &model.Session{ID: "sess-1", UserID: "u1"},
				AccessToken: "jwt-token",
				ExpiresAt:   time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC),
			}, nil
		},
	}
	h := newTestAuthHandler(svc, &mockGuard{})
	h.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

	req := httptest.NewRequest(http.MethodPost, "/auth/login",
		strings.NewReader(`{"email":"a@example.com","password":"password1"}`))
	w := httptest.NewRecorder()
	h.Login(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	cookie := findCookie(resp, auth.SessionCookieName)
	if cookie == nil {
		t.Fatal("expected session cookie")
	}
	if cookie.Value != "enc:sess-1" {
		t.Errorf("cookie value = %q, want %q", cookie.Value, "enc:sess-1")
	}
	if !cookie.HttpOnly {
		t.Error("session cookie should be HttpOnly")
	}
	if cookie.SameSite != http.SameSiteLaxMode {
		t.Errorf("SameSite = %v, want Lax", cookie.SameSite)
	}

	var body loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.AccessToken != "jwt-token" || body.TokenType != "Bearer" {
		t.Errorf("token = %q/%q", body.AccessToken, body.TokenType)
	}
	if body.ExpiresIn != 3600 {
		t.Errorf("expires_in = %d, want 3600", body.ExpiresIn)
	}
}

func TestAuthHandler_Login_InvalidCredentials(t *testing.T) {
	svc := &mockAuthService{
		loginFn: func(ctx context.Context, email, password string) (*auth.LoginResult, error) {
			return nil, model.NewInvalidCredentialsError()
		},
	}
	h := newTestAuthHandler(svc, &mockGuard{})

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"email":"a@example.com","password":"x"}`))
	w := httptest.NewRecorder()
	h.Login(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if findCookie(w.Result(), auth.SessionCookieName) != nil {
		t.Error("session cookie must not be set on failure")
	}
}

func TestAuthHandler_Login_CookieEncodeFailure(t *testing.T) {
	svc := &mockAuthService{
		loginFn: func(ctx context.Context, email, password string) (*auth.LoginResult, error) {
			return &auth.LoginResult{User: &model.User{ID: "u1"}, Session: &model.Session{ID: "s"}}, nil
		},
	}
	h := NewAuthHandler(svc, &mockGuard{}, plainCookies{err: errors.New("boom")}, testAuthConfig)

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	h.Login(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

func TestAuthHandler_Logout_DeletesSessionAndClearsCookie(t *testing.T) {
	var deleted string
	svc := &mockAuthService{
		logoutFn: func(ctx context.Context, sessionID string) error {
			deleted = sessionID
			return nil
		},
	}
	guard := &mockGuard{
		sessionIDFn: func(r *http.Request) (string, bool) { return "sess-1", true },
	}
	h := newTestAuthHandler(svc, guard)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	w := httptest.NewRecorder()
	h.Logout(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}
	if deleted != "sess-1" {
		t.Errorf("deleted session = %q, want %q", deleted, "sess-1")
	}
	cookie := findCookie(resp, auth.SessionCookieName)
	if cookie == nil || cookie.MaxAge >= 0 {
		t.Errorf("expected session cookie to be cleared, got %+v", cookie)
	}
}

func TestAuthHandler_Logout_WithoutSession_StillClearsCookie(t *testing.T) {
	svc := &mockAuthService{
		logoutFn: func(ctx context.Context, sessionID string) error {
			t.Error("Logout should not be called without a session")
			return nil
		},
	}
	h := newTestAuthHandler(svc, &mockGuard{})

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	w := httptest.NewRecorder()
	h.Logout(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
}

func TestAuthHandler_Me(t *testing.T) {
	tests := []struct {
		name       string
		resolve    func(r *http.Request) (*model.Principal, error)
		wantStatus int
	}{
		{
			name: "authenticated",
			resolve: func(r *http.Request) (*model.Principal, error) {
				return &model.Principal{UserID: "u1", Email: "a@example.com", Role: model.RoleUser}, nil
			},
			wantStatus: http.StatusOK,
		},
		{
			name:       "no session",
			resolve:    func(r *http.Request) (*model.Principal, error) { return nil, auth.ErrNoSession },
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "store failure",
			resolve:    func(r *http.Request) (*model.Principal, error) { return nil, errors.New("db down") },
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestAuthHandler(&mockAuthService{}, &mockGuard{resolveFn: tt.resolve})

			req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
			w := httptest.NewRecorder()
			h.Me(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestAuthHandler_GoogleLogin_RedirectsWithState(t *testing.T) {
	var gotState string
	svc := &mockAuthService{
		getLoginURLFn: func(state string) string {
			gotState = state
			return "https://accounts.google.com/o/oauth2/auth?state=" + state
		},
	}
	h := newTestAuthHandler(svc, &mockGuard{})

	req := httptest.NewRequest(http.MethodGet, "/auth/google/login", nil)
	w := httptest.NewRecorder()
	h.GoogleLogin(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusTemporaryRedirect {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusTemporaryRedirect)
	}
	if !strings.Contains(resp.Header.Get("Location"), "accounts.google.com") {
		t.Errorf("Location = %q", resp.Header.Get("Location"))
	}
	cookie := findCookie(resp, oauthStateCookie)
	if cookie == nil {
		t.Fatal("expected oauth_state cookie")
	}
	if cookie.Value != gotState || len(gotState) != 32 {
		t.Errorf("state cookie = %q, state = %q", cookie.Value, gotState)
	}
}

func TestAuthHandler_GoogleCallback_StateMismatch(t *testing.T) {
	svc := &mockAuthService{
		handleCallbackFn: func(ctx context.Context, code string) (*auth.LoginResult, error) {
			t.Error("HandleCallback should not be called on state mismatch")
			return nil, nil
		},
	}
	h := newTestAuthHandler(svc, &mockGuard{})

	for _, cookie := range []*http.Cookie{nil, {Name: oauthStateCookie, Value: "other"}} {
		req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=c&state=s", nil)
		if cookie != nil {
			req.AddCookie(cookie)
		}
		w := httptest.NewRecorder()
		h.GoogleCallback(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
		}
	}
}

func TestAuthHandler_GoogleCallback_Success(t *testing.T) {
	svc := &mockAuthService{
		handleCallbackFn: func(ctx context.Context, code string) (*auth.LoginResult, error) {
			if code != "test-code" {
				t.Errorf("code = %q", code)
			}
			return &auth.LoginResult{
				User:    &model.User{ID: "u1"},
				Session: &model.Session{ID: "sess-oauth", UserID: "u1"},
			}, nil
		},
	}
	h := newTestAuthHandler(svc, &mockGuard{})

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=test-code&state=st", nil)
	req.AddCookie(&http.Cookie{Name: oauthStateCookie, Value: "st"})
	w := httptest.NewRecorder()
	h.GoogleCallback(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusTemporaryRedirect {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusTemporaryRedirect)
	}
	if loc := resp.Header.Get("Location"); loc != "http://localhost:3000" {
		t.Errorf("Location = %q", loc)
	}
	cookie := findCookie(resp, auth.SessionCookieName)
	if cookie == nil || cookie.Value != "enc:sess-oauth" {
		t.Errorf("session cookie = %+v", cookie)
	}
}
