package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
)

const csrfHeader = "X-CSRF-Token"

// request はAPIにリクエストを送信し、2xx応答のボディをresultへデコードする。
// resultがnilの場合はボディを破棄する。変更系メソッドではCSRFトークンを付与する。
func (c *Client) request(ctx context.Context, method, path string, body, result any) error {
	u, err := url.Parse(path)
	if err != nil {
		return fmt.Errorf("invalid path %q: %w", path, err)
	}
	u = c.baseURL.ResolveReference(u)

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if isMutation(method) {
		token, err := c.csrf(ctx)
		if err != nil {
			return err
		}
		req.Header.Set(csrfHeader, token)
	}

	slog.DebugContext(ctx, "client request",
		slog.String("method", method),
		slog.String("path", u.Path),
	)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, u.Path, err)
	}
	defer res.Body.Close()

	if res.StatusCode < http.StatusOK || res.StatusCode >= http.StatusMultipleChoices {
		return decodeAPIError(res)
	}

	if result == nil || res.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response of %s %s: %w", method, u.Path, err)
	}
	return nil
}

// csrf はCSRFトークンを返す。未取得の場合はサーバーから取得する。
func (c *Client) csrf(ctx context.Context) (string, error) {
	c.mu.Lock()
	token := c.csrfToken
	c.mu.Unlock()
	if token != "" {
		return token, nil
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := c.request(ctx, http.MethodGet, "/api/csrf-token", nil, &out); err != nil {
		return "", fmt.Errorf("failed to fetch csrf token: %w", err)
	}

	c.mu.Lock()
	c.csrfToken = out.Token
	c.mu.Unlock()
	return out.Token, nil
}

func isMutation(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}
