package client

import (
	"context"
	"net/http"

	"github.com/hitoshi/planboard/internal/model"
)

// SignupInput は新規登録の入力。
type SignupInput struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	Nickname  string `json:"nickname"`
	AdminCode string `json:"admin_code,omitempty"`
}

// LoginResult はログイン応答。
type LoginResult struct {
	User        *model.User `json:"user"`
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	ExpiresIn   int         `json:"expires_in"`
}

// Signup はユーザーを登録する。
func (c *Client) Signup(ctx context.Context, in SignupInput) (*model.User, error) {
	var user model.User
	if err := c.request(ctx, http.MethodPost, "/auth/signup", in, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Login はログインし、以降のリクエストにセッションCookieを付与する。
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	in := map[string]string{"email": email, "password": password}

	var out LoginResult
	if err := c.request(ctx, http.MethodPost, "/auth/login", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Logout はセッションを破棄する。
func (c *Client) Logout(ctx context.Context) error {
	return c.request(ctx, http.MethodPost, "/auth/logout", nil, nil)
}

// Me は現在のセッションのユーザーを返す。
func (c *Client) Me(ctx context.Context) (*model.Principal, error) {
	var p model.Principal
	if err := c.request(ctx, http.MethodGet, "/auth/me", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
