package client

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// RetryTransport は429応答をRetry-Afterに従って再試行するRoundTripper。
type RetryTransport struct {
	Base        http.RoundTripper
	MaxRetries  int
	DefaultWait time.Duration
	// MaxWait は1回の待機時間の上限。0の場合は上限なし。
	MaxWait time.Duration
}

// RoundTrip はリクエストを送信し、429の場合は待機して再送する。
func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	transport := t.Base
	if transport == nil {
		transport = http.DefaultTransport
	}

	for attempt := 0; ; attempt++ {
		resp, err := transport.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusTooManyRequests || attempt >= t.MaxRetries {
			return resp, nil
		}

		wait := t.waitTime(resp)
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		slog.WarnContext(req.Context(), "rate limited, retrying",
			slog.Duration("wait_time", wait),
			slog.Int("attempt", attempt+1),
			slog.Int("max_retries", t.MaxRetries),
		)

		select {
		case <-req.Context().Done():
			return nil, req.Context().Err()
		case <-time.After(wait):
		}

		if req.Body != nil && req.Body != http.NoBody {
			if req.GetBody == nil {
				return nil, fmt.Errorf("cannot retry request with one-time reader body")
			}
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("failed to rewind request body: %w", err)
			}
			req.Body = body
		}
	}
}

func (t *RetryTransport) waitTime(resp *http.Response) time.Duration {
	wait := t.DefaultWait
	if v := resp.Header.Get("Retry-After"); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil && seconds >= 0 {
			wait = time.Duration(seconds) * time.Second
		} else if date, err := http.ParseTime(v); err == nil {
			wait = time.Until(date)
		}
	}
	if t.MaxWait > 0 && wait > t.MaxWait {
		wait = t.MaxWait
	}
	return wait
}
