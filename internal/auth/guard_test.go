package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hitoshi/planboard/internal/model"
)

type mockSessionFinder struct {
	findByIDFn func(ctx context.Context, id string) (*model.Session, error)
}

func (m *mockSessionFinder) FindByID(ctx context.Context, id string) (*model.Session, error) {
	return m.findByIDFn(ctx, id)
}

type mockUserFinder struct {
	findByIDFn func(ctx context.Context, id string) (*model.User, error)
}

func (m *mockUserFinder) FindByID(ctx context.Context, id string) (*model.User, error) {
	return m.findByIDFn(ctx, id)
}

var guardTestUser = &model.User{ID: "user-1", Email: "u1@example.com", Nickname: "u1", Role: model.RoleAdmin}

func newTestGuard(t *testing.T, sessions SessionFinder, users UserFinder) (*Guard, *CookieCodec, *TokenIssuer) {
	t.Helper()
	cookies, err := NewCookieCodec("guard-secret", 3600)
	if err != nil {
		t.Fatalf("NewCookieCodec() error = %v", err)
	}
	tokens, err := NewTokenIssuer("guard-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenIssuer() error = %v", err)
	}
	return NewGuard(sessions, users, cookies, tokens), cookies, tokens
}

func validSessions() *mockSessionFinder {
	return &mockSessionFinder{
		findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
			if id == "sess-1" {
				return &model.Session{ID: id, UserID: "user-1", ExpiresAt: time.Now().Add(time.Hour)}, nil
			}
			return nil, nil
		},
	}
}

func knownUsers() *mockUserFinder {
	return &mockUserFinder{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			if id == guardTestUser.ID {
				u := *guardTestUser
				return &u, nil
			}
			return nil, nil
		},
	}
}

func requestWithCookie(t *testing.T, cookies *CookieCodec, sessionID string) *http.Request {
	t.Helper()
	value, err := cookies.Encode(sessionID)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/todos", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: value})
	return req
}

func TestGuard_Resolve_Cookie(t *testing.T) {
	guard, cookies, _ := newTestGuard(t, validSessions(), knownUsers())

	p, err := guard.Resolve(requestWithCookie(t, cookies, "sess-1"))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if p.UserID != "user-1" || p.Nickname != "u1" || !p.IsAdmin() {
		t.Errorf("principal = %+v", p)
	}
}

// Bearerトークンとセッションは同じ主体に解決されること
func TestGuard_Resolve_BearerMatchesCookie(t *testing.T) {
	guard, cookies, tokens := newTestGuard(t, validSessions(), knownUsers())

	token, _, err := tokens.Issue(guardTestUser)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/todos", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	fromToken, err := guard.Resolve(req)
	if err != nil {
		t.Fatalf("Resolve(bearer) error = %v", err)
	}
	fromCookie, err := guard.Resolve(requestWithCookie(t, cookies, "sess-1"))
	if err != nil {
		t.Fatalf("Resolve(cookie) error = %v", err)
	}
	if *fromToken != *fromCookie {
		t.Errorf("bearer principal %+v != cookie principal %+v", fromToken, fromCookie)
	}
}

func TestGuard_Resolve_NoSession(t *testing.T) {
	guard, cookies, tokens := newTestGuard(t, validSessions(), knownUsers())

	otherIssuer, err := NewTokenIssuer("other-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenIssuer() error = %v", err)
	}
	forged, _, _ := otherIssuer.Issue(guardTestUser)

	expiredIssuer, _ := NewTokenIssuer("guard-secret", time.Hour)
	expiredIssuer.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _, _ := expiredIssuer.Issue(guardTestUser)

	ghostToken, _, _ := tokens.Issue(&model.User{ID: "deleted-user", Role: model.RoleUser})

	tampered := requestWithCookie(t, cookies, "sess-1")
	c, _ := tampered.Cookie(SessionCookieName)
	tampered.Header.Set("Cookie", SessionCookieName+"="+c.Value[:len(c.Value)-2]+"xx")

	tests := []struct {
		name string
		req  *http.Request
	}{
		{"認証情報なし", httptest.NewRequest(http.MethodGet, "/", nil)},
		{"未署名のCookie", func() *http.Request {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "sess-1"})
			return r
		}()},
		{"改ざんされたCookie", tampered},
		{"存在しないセッション", requestWithCookie(t, cookies, "sess-unknown")},
		{"別の鍵で署名されたトークン", bearerRequest(forged)},
		{"期限切れのトークン", bearerRequest(expired)},
		{"不正な形式のトークン", bearerRequest("not.a.jwt")},
		{"退会済みユーザーのトークン", bearerRequest(ghostToken)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := guard.Resolve(tt.req)
			if !errors.Is(err, ErrNoSession) {
				t.Errorf("Resolve() = (%v, %v), want ErrNoSession", p, err)
			}
		})
	}
}

func TestGuard_Resolve_StoreFailureIsNotNoSession(t *testing.T) {
	sessions := &mockSessionFinder{
		findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
			return nil, errors.New("connection refused")
		},
	}
	guard, cookies, _ := newTestGuard(t, sessions, knownUsers())

	_, err := guard.Resolve(requestWithCookie(t, cookies, "sess-1"))
	if err == nil || errors.Is(err, ErrNoSession) {
		t.Errorf("Resolve() error = %v, want a store error", err)
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer abc", "abc", true},
		{"Bearer ", "", false},
		{"Basic abc", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			r.Header.Set("Authorization", tt.header)
		}
		got, ok := BearerToken(r)
		if got != tt.want || ok != tt.ok {
			t.Errorf("BearerToken(%q) = (%q, %v), want (%q, %v)", tt.header, got, ok, tt.want, tt.ok)
		}
	}
}

func TestTokenIssuer_RejectsOtherAlgorithms(t *testing.T) {
	tokens, err := NewTokenIssuer("secret", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenIssuer() error = %v", err)
	}

	claims := jwt.RegisteredClaims{
		Subject:   "user-1",
		Issuer:    tokenIssuerName,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}

	if _, err := tokens.Verify(unsigned); err == nil {
		t.Error("expected alg=none token to be rejected")
	}
}

func TestTokenIssuer_Config(t *testing.T) {
	if _, err := NewTokenIssuer("", time.Hour); err == nil {
		t.Error("expected error for empty secret")
	}
	if _, err := NewTokenIssuer("secret", 0); err == nil {
		t.Error("expected error for zero TTL")
	}
}

func TestCookieCodec_RoundTripAndIsolation(t *testing.T) {
	a, err := NewCookieCodec("secret-a", 60)
	if err != nil {
		t.Fatalf("NewCookieCodec() error = %v", err)
	}
	b, _ := NewCookieCodec("secret-b", 60)

	value, err := a.Encode("sess-1")
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if strings.Contains(value, "sess-1") {
		t.Error("cookie value must not expose the session ID")
	}

	got, err := a.Decode(value)
	if err != nil || got != "sess-1" {
		t.Errorf("Decode() = (%q, %v), want sess-1", got, err)
	}
	if _, err := b.Decode(value); err == nil {
		t.Error("a codec with another secret must reject the value")
	}
}

func bearerRequest(token string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	return r
}
