package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/planboard/internal/auth"
	"github.com/hitoshi/planboard/internal/model"
)

// newProtectedRouter はセッション、書き込みレート制限、CSRFの順に適用したルーターを返す。
func newProtectedRouter() http.Handler {
	resolver := &mockResolver{
		resolveFn: func(r *http.Request) (*model.Principal, error) {
			if token, ok := auth.BearerToken(r); ok && token == "good-token" {
				return &model.Principal{UserID: "bearer-user"}, nil
			}
			if c, err := r.Cookie(auth.SessionCookieName); err == nil && c.Value == "sess" {
				return &model.Principal{UserID: "cookie-user"}, nil
			}
			return nil, auth.ErrNoSession
		},
	}
	limiter := NewRateLimiter(RateLimiterConfig{
		GeneralRate: 100, GeneralBurst: 100,
		WriteRate: 1.0 / 3600, WriteBurst: 1,
		LoginRate: 100, LoginBurst: 100,
	}, nil)
	csrf := CSRFConfig{}

	r := chi.NewRouter()
	r.Get("/api/csrf-token", NewCSRFTokenHandler(csrf).ServeHTTP)
	r.Group(func(r chi.Router) {
		r.Use(NewSessionMiddleware(resolver, nil))
		r.Use(limiter.WriteMiddleware())
		r.Use(NewCSRFMiddleware(csrf))

		echo := func(w http.ResponseWriter, r *http.Request) {
			userID, _ := UserIDFromContext(r.Context())
			json.NewEncoder(w).Encode(map[string]string{"user_id": userID})
		}
		r.Get("/api/todos", echo)
		r.Post("/api/todos", echo)
	})
	return r
}

func TestProtectedChain(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		session  string
		bearer   string
		csrf     string
		wantCode int
		wantUser string
	}{
		{name: "read with session", method: http.MethodGet, session: "sess", wantCode: http.StatusOK, wantUser: "cookie-user"},
		{name: "read without session", method: http.MethodGet, wantCode: http.StatusUnauthorized},
		{name: "write without session is 401 before csrf", method: http.MethodPost, wantCode: http.StatusUnauthorized},
		{name: "write without csrf", method: http.MethodPost, session: "sess", wantCode: http.StatusForbidden},
		{name: "write with csrf", method: http.MethodPost, session: "sess", csrf: "tok", wantCode: http.StatusOK, wantUser: "cookie-user"},
		{name: "bearer write skips csrf", method: http.MethodPost, bearer: "good-token", wantCode: http.StatusOK, wantUser: "bearer-user"},
		{name: "bad bearer", method: http.MethodPost, bearer: "bad-token", wantCode: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newProtectedRouter()

			req := httptest.NewRequest(tt.method, "/api/todos", nil)
			if tt.session != "" {
				req.AddCookie(&http.Cookie{Name: auth.SessionCookieName, Value: tt.session})
			}
			if tt.bearer != "" {
				req.Header.Set("Authorization", "Bearer "+tt.bearer)
			}
			if tt.csrf != "" {
				req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: tt.csrf})
				req.Header.Set(csrfHeaderName, tt.csrf)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if tt.wantUser != "" {
				var body map[string]string
				json.NewDecoder(w.Body).Decode(&body)
				if body["user_id"] != tt.wantUser {
					t.Errorf("user_id = %q, want %q", body["user_id"], tt.wantUser)
				}
			}
		})
	}
}

// TestProtectedChain_WriteLimitAppliesBeforeCSRF は書き込み上限超過が429になり、CSRF検証に到達しないことを検証する。
func TestProtectedChain_WriteLimitAppliesBeforeCSRF(t *testing.T) {
	h := newProtectedRouter()

	post := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/todos", nil)
		req.Header.Set("Authorization", "Bearer good-token")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}

	if code := post(); code != http.StatusOK {
		t.Fatalf("first write = %d, want 200", code)
	}
	if code := post(); code != http.StatusTooManyRequests {
		t.Errorf("second write = %d, want 429", code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/todos", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("reads are not limited by the write bucket: got %d", w.Code)
	}
}

func TestCSRFTokenEndpoint_IsPublic(t *testing.T) {
	w := httptest.NewRecorder()
	newProtectedRouter().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil || len(body.Token) != 2*csrfTokenBytes {
		t.Errorf("token = %q, err = %v", body.Token, err)
	}
}
