package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func newCORSHandler(called *bool) http.Handler {
	return NewCORSMiddleware("http://localhost:3000")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	}))
}

func TestCORSMiddleware_AllowedOrigin_SetsCredentialHeaders(t *testing.T) {
	called := false
	handler := newCORSHandler(&called)

	req := httptest.NewRequest(http.MethodGet, "/api/todos", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	resp := w.Result()
	if !called || resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, called = %v", resp.StatusCode, called)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
	if got := resp.Header.Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("Access-Control-Allow-Credentials = %q, want true", got)
	}
}

func TestCORSMiddleware_OtherOrigin_NoAllowHeader(t *testing.T) {
	called := false
	handler := newCORSHandler(&called)

	req := httptest.NewRequest(http.MethodGet, "/api/todos", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if got := w.Result().Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Access-Control-Allow-Origin = %q, want empty", got)
	}
}

func TestCORSMiddleware_Preflight_Returns204(t *testing.T) {
	called := false
	handler := newCORSHandler(&called)

	req := httptest.NewRequest(http.MethodOptions, "/api/todos", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPatch)
	// ブラウザはヘッダー名を小文字で列挙して送る
	req.Header.Set("Access-Control-Request-Headers", "x-csrf-token")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}
	if called {
		t.Error("preflight must not reach the handler")
	}
	if got := resp.Header.Get("Access-Control-Allow-Methods"); got != http.MethodPatch {
		t.Errorf("Access-Control-Allow-Methods = %q, want PATCH", got)
	}
	if got := resp.Header.Get("Access-Control-Allow-Headers"); got == "" {
		t.Error("expected X-CSRF-Token to be allowed")
	}
	if got := resp.Header.Get("Access-Control-Max-Age"); got != "86400" {
		t.Errorf("Access-Control-Max-Age = %q, want 86400", got)
	}
}
