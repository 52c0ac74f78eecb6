package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/hitoshi/planboard/internal/model"
	"golang.org/x/time/rate"
)

// レート制限の種別。ログとメトリクスのラベルに使う。
const (
	LimitGeneral = "general"
	LimitWrite   = "write"
	LimitLogin   = "login"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	GeneralRate  rate.Limit // API全般のレート（req/sec）
	GeneralBurst int
	WriteRate    rate.Limit // 変更操作のレート（req/sec）
	WriteBurst   int
	LoginRate    rate.Limit // ログイン試行のレート（req/sec、IP単位）
	LoginBurst   int

	// MaxKeys は種別ごとに保持するリミッターの上限数。
	MaxKeys int
	// IdleTTL は最後のアクセスからリミッターを破棄するまでの時間。
	IdleTTL time.Duration
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// API全般 120 req/min/user、変更操作 30 req/min/user、ログイン 10 req/min/IP。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfigPerMinute(120, 30, 10)
}

// RateLimiterConfigPerMinute は1分あたりのリクエスト数から設定を生成する。
// バーストサイズは1分あたりの上限と同じにする。
func RateLimiterConfigPerMinute(general, write, login int) RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:  rate.Limit(float64(general) / 60.0),
		GeneralBurst: general,
		WriteRate:    rate.Limit(float64(write) / 60.0),
		WriteBurst:   write,
		LoginRate:    rate.Limit(float64(login) / 60.0),
		LoginBurst:   login,
		MaxKeys:      10000,
		IdleTTL:      10 * time.Minute,
	}
}

// RateLimitRecorder はレート制限による拒否を記録する。
type RateLimitRecorder interface {
	RecordRateLimited(limitType string)
}

// limiterPool はキーごとのrate.Limiterを有効期限付きLRUで保持する。
type limiterPool struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, *rate.Limiter]
	limit rate.Limit
	burst int
}

func newLimiterPool(limit rate.Limit, burst, size int, ttl time.Duration) *limiterPool {
	return &limiterPool{
		cache: expirable.NewLRU[string, *rate.Limiter](size, nil, ttl),
		limit: limit,
		burst: burst,
	}
}

// get はキーのリミッターを取得または作成する。
func (p *limiterPool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if l, ok := p.cache.Get(key); ok {
		return l
	}
	l := rate.NewLimiter(p.limit, p.burst)
	p.cache.Add(key, l)
	return l
}

// RateLimiter はユーザー単位およびIP単位のレート制限を管理する。
// 無操作のエントリはIdleTTL経過後にLRUから自動的に破棄される。
type RateLimiter struct {
	config   RateLimiterConfig
	general  *limiterPool
	write    *limiterPool
	login    *limiterPool
	recorder RateLimitRecorder
}

// NewRateLimiter は新しいRateLimiterを生成する。recorderはnilでもよい。
func NewRateLimiter(config RateLimiterConfig, recorder RateLimitRecorder) *RateLimiter {
	if config.MaxKeys <= 0 {
		config.MaxKeys = 10000
	}
	if config.IdleTTL <= 0 {
		config.IdleTTL = 10 * time.Minute
	}
	return &RateLimiter{
		config:   config,
		general:  newLimiterPool(config.GeneralRate, config.GeneralBurst, config.MaxKeys, config.IdleTTL),
		write:    newLimiterPool(config.WriteRate, config.WriteBurst, config.MaxKeys, config.IdleTTL),
		login:    newLimiterPool(config.LoginRate, config.LoginBurst, config.MaxKeys, config.IdleTTL),
		recorder: recorder,
	}
}

// GeneralMiddleware はAPI全般のレート制限ミドルウェアを返す。
// リクエストコンテキストに主体が含まれている必要がある（SessionMiddlewareの後に配置）。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return rl.userMiddleware(LimitGeneral, rl.general, rl.config.GeneralRate, false)
}

// WriteMiddleware は変更操作（POST, PUT, PATCH, DELETE）専用のレート制限ミドルウェアを返す。
// API全般のレート制限とは独立に動作する。
func (rl *RateLimiter) WriteMiddleware() func(next http.Handler) http.Handler {
	return rl.userMiddleware(LimitWrite, rl.write, rl.config.WriteRate, true)
}

// LoginMiddleware はクライアントIP単位でログイン試行を制限するミドルウェアを返す。
func (rl *RateLimiter) LoginMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if !rl.login.get(ip).Allow() {
				rl.reject(w, LimitLogin, rl.config.LoginRate, slog.String("client_ip", ip))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) userMiddleware(kind string, pool *limiterPool, limit rate.Limit, writesOnly bool) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if writesOnly && isSafeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			userID, err := UserIDFromContext(r.Context())
			if err != nil {
				WriteUnauthorized(w)
				return
			}

			if !pool.get(userID).Allow() {
				rl.reject(w, kind, limit, slog.String("user_id", userID))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// LimiterCount は種別ごとに現在保持しているリミッター数を返す。
// テストおよびメトリクス用。
func (rl *RateLimiter) LimiterCount(kind string) int {
	switch kind {
	case LimitGeneral:
		return rl.general.cache.Len()
	case LimitWrite:
		return rl.write.cache.Len()
	case LimitLogin:
		return rl.login.cache.Len()
	default:
		return 0
	}
}

func (rl *RateLimiter) reject(w http.ResponseWriter, kind string, limit rate.Limit, key slog.Attr) {
	slog.Warn("rate limit exceeded",
		key,
		slog.String("limit_type", kind),
	)
	if rl.recorder != nil {
		rl.recorder.RecordRateLimited(kind)
	}
	writeRateLimitResponse(w, limit)
}

// clientIP はリクエスト元のIPアドレスを返す。
func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが補充されるまでの推定秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	retryAfterSec := 1
	if r > 0 {
		retryAfterSec = max(int(math.Ceil(1.0/float64(r))), 1)
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	WriteAPIError(w, model.NewRateLimitedError())
}
