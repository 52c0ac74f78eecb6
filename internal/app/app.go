// Package app はアプリケーションの初期化と依存関係のワイヤリングを行う。
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/hitoshi/planboard/internal/auth"
	"github.com/hitoshi/planboard/internal/config"
	"github.com/hitoshi/planboard/internal/database"
	"github.com/hitoshi/planboard/internal/handler"
	"github.com/hitoshi/planboard/internal/logger"
	"github.com/hitoshi/planboard/internal/metrics"
	"github.com/hitoshi/planboard/internal/middleware"
	"github.com/hitoshi/planboard/internal/repository"
	"github.com/hitoshi/planboard/internal/resource"
	"github.com/hitoshi/planboard/internal/security"
	"github.com/hitoshi/planboard/internal/user"
	"github.com/hitoshi/planboard/internal/worker/cleanup"
	"github.com/prometheus/client_golang/prometheus"
)

// shutdownTimeout はグレースフルシャットダウンの待機上限。
const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. ログレベルの反映
	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Backend は選択されたストアのリポジトリ一式と接続管理をまとめた構造体。
type Backend struct {
	Stores *repository.Stores
	// Ping はストアの疎通確認を行う。メモリストアではnil。
	Ping  handler.Pinger
	close func() error
}

// Close は接続を閉じる。
func (b *Backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// OpenBackend はSTORE_DRIVERに応じてストアを開く。
// SQLiteの場合はスキーマの作成も行う。
func OpenBackend(ctx context.Context, cfg *config.Config) (*Backend, error) {
	switch cfg.StoreDriver {
	case config.StoreMemory:
		slog.Warn("using in-memory store; data is lost on restart")
		return &Backend{Stores: repository.NewMemoryStores()}, nil

	case config.StorePostgres:
		db, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		slog.Info("database connection established",
			slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		)
		return &Backend{
			Stores: repository.NewPostgresStores(db),
			Ping:   db.PingContext,
			close:  db.Close,
		}, nil

	case config.StoreSQLite:
		gdb, err := database.OpenSQLite(cfg.SQLitePath, logger.Level())
		if err != nil {
			return nil, err
		}
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sqlite connection: %w", err)
		}
		if err := database.AutoMigrate(gdb, repository.GormModels()...); err != nil {
			sqlDB.Close()
			return nil, err
		}
		slog.Info("sqlite database opened", slog.String("path", cfg.SQLitePath))
		return &Backend{
			Stores: repository.NewGormStores(gdb),
			Ping:   sqlDB.PingContext,
			close:  sqlDB.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
}

// Server はHTTPルーターと周辺コンポーネントをまとめた構造体。
type Server struct {
	Router  http.Handler
	Metrics *metrics.Collector
	Cleanup *cleanup.CleanupJob
}

// BuildServer は設定とストアから全依存関係をワイヤリングする。
// regにはPrometheusメトリクスの登録先と取得元を渡す。
func BuildServer(cfg *config.Config, backend *Backend, reg *prometheus.Registry) (*Server, error) {
	stores := backend.Stores

	// 1. 観測性
	collector := metrics.NewCollector(reg)

	// 2. 認証基盤
	cookies, err := auth.NewCookieCodec(cfg.SessionSecret, cfg.SessionMaxAge)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie codec: %w", err)
	}
	tokens, err := auth.NewTokenIssuer(cfg.SessionSecret, cfg.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to create token issuer: %w", err)
	}
	guard := auth.NewGuard(stores.Sessions, stores.Users, cookies, tokens)

	sanitizer := security.NewContentSanitizer()

	var oauth auth.OAuthProvider
	if cfg.GoogleEnabled() {
		oauth = auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
		})
	}
	authService := auth.NewService(oauth, stores.Users, stores.Sessions, tokens, sanitizer, auth.ServiceConfig{
		SessionMaxAge: cfg.SessionMaxAge,
		AdminCode:     cfg.AdminCode,
	})

	// 3. ドメインサービス
	names := user.NewNicknameResolver(stores.Users, cfg.ProfileCacheSize, cfg.ProfileCacheTTL)
	userService := user.NewService(stores.Users, stores.Sessions, sanitizer, names, 0)
	set := resource.NewSet(stores.Backend(), sanitizer, resource.Deps{
		Authors: names,
		Metrics: collector,
	})

	// 4. ルーターの構築
	limiter := middleware.NewRateLimiter(
		middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral, cfg.RateLimitWrite, cfg.RateLimitLogin),
		collector,
	)

	deps := &handler.RouterDeps{
		Guard:        guard,
		AuthFailures: collector,
		RateLimiter:  limiter,
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
			Failures:     collector,
		},
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		Logger:            slog.Default(),

		RequestMetrics: collector.Middleware,
		MetricsHandler: metrics.Handler(reg),
		Ping:           backend.Ping,

		AuthService: authService,
		Cookies:     cookies,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:       cfg.BaseURL,
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},
		GoogleEnabled: cfg.GoogleEnabled(),

		UserService: userService,

		Resources: handler.ResourceServices{
			Todos:     set.Todos,
			Events:    set.Events,
			Posts:     set.Posts,
			Comments:  set.Comments,
			Questions: set.Questions,
			Answers:   set.Answers,
			Notices:   set.Notices,
			Votes:     set.Votes,
			Ballots:   set.Ballots,
			Tally:     set.Tally,
		},
	}

	return &Server{
		Router:  handler.NewRouter(deps),
		Metrics: collector,
		Cleanup: cleanup.NewCleanupJob(stores.Sessions, collector, slog.Default()),
	}, nil
}

// runServe はAPIサーバーモードで起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. ストアを開く
	backend, err := OpenBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	// 2. 依存関係のワイヤリング
	srv, err := BuildServer(cfg, backend, prometheus.NewRegistry())
	if err != nil {
		return err
	}

	// 3. セッションクリーンアップをバックグラウンドで実行
	jobCtx, stopJob := context.WithCancel(ctx)
	defer stopJob()
	go srv.Cleanup.Start(jobCtx, cfg.SessionCleanupInterval)

	// 4. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      srv.Router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れセッションの削除をctxがキャンセルされるまで定期実行する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	backend, err := OpenBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	reg := prometheus.NewRegistry()
	job := cleanup.NewCleanupJob(backend.Stores.Sessions, metrics.NewCollector(reg), slog.Default())

	slog.Info("worker starting", slog.Duration("cleanup_interval", cfg.SessionCleanupInterval))
	job.Start(ctx, cfg.SessionCleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// PostgreSQLは埋め込みSQLを、SQLiteはモデル定義からのAutoMigrateを適用する。
func runMigrate(ctx context.Context, cfg *config.Config) error {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		slog.Info("running database migrations",
			slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		)
		version, err := database.RunMigrations(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
		return nil

	case config.StoreSQLite:
		backend, err := OpenBackend(ctx, cfg)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		return backend.Close()

	default:
		slog.Info("store has no schema to migrate", slog.String("store_driver", cfg.StoreDriver))
		return nil
	}
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(ctx context.Context, port string) error {
	endpoint := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
