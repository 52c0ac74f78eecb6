package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// healthTimeout はストア疎通確認のタイムアウト。
const healthTimeout = 3 * time.Second

// Pinger はストアの疎通確認を行う。
type Pinger func(ctx context.Context) error

// NewHealthHandler はヘルスチェックハンドラーを返す。
// pingがnilの場合（メモリストア）は常に200を返す。
func NewHealthHandler(ping Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
			defer cancel()
			if err := ping(ctx); err != nil {
				slog.Warn("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
