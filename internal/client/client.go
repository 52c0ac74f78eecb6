// Package client はplanboard APIのHTTPクライアントと、
// 変更結果をローカル一覧へ反映するView を提供する。
package client

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"
)

// Client はセッションCookieとCSRFトークンを保持してAPIを呼び出す。
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu        sync.Mutex
	csrfToken string
}

// Options はClientの生成オプション。
type Options struct {
	BaseURL    *url.URL
	HTTPClient *http.Client
	Timeout    time.Duration
	MaxRetries int
}

// OptionFunc はOptionsを変更する関数。
type OptionFunc func(opts *Options)

// WithBaseURL は接続先のベースURLを設定する。
func WithBaseURL(baseURL *url.URL) OptionFunc {
	return func(opts *Options) {
		opts.BaseURL = baseURL
	}
}

// WithHTTPClient は使用するhttp.Clientを設定する。Cookie Jarが未設定の場合は補完される。
func WithHTTPClient(httpClient *http.Client) OptionFunc {
	return func(opts *Options) {
		opts.HTTPClient = httpClient
	}
}

// WithMaxRetries は429応答時の最大再試行回数を設定する。
func WithMaxRetries(n int) OptionFunc {
	return func(opts *Options) {
		opts.MaxRetries = n
	}
}

// NewOptions はデフォルト値にOptionFuncを適用したOptionsを返す。
func NewOptions(funcs ...OptionFunc) *Options {
	opts := &Options{
		BaseURL: &url.URL{
			Scheme: "http",
			Host:   "localhost:8080",
		},
		Timeout:    30 * time.Second,
		MaxRetries: 3,
	}
	for _, fn := range funcs {
		fn(opts)
	}
	return opts
}

// New はClientを生成する。
func New(funcs ...OptionFunc) (*Client, error) {
	opts := NewOptions(funcs...)

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: opts.Timeout,
			Transport: &RetryTransport{
				Base:        http.DefaultTransport,
				MaxRetries:  opts.MaxRetries,
				DefaultWait: time.Second,
			},
		}
	}
	if httpClient.Jar == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("failed to create cookie jar: %w", err)
		}
		httpClient.Jar = jar
	}

	return &Client{
		baseURL:    opts.BaseURL,
		httpClient: httpClient,
	}, nil
}
