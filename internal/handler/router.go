package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/planboard/internal/middleware"
	"github.com/hitoshi/planboard/internal/model"
)

// ResourceServices はリソースごとのサービスをまとめた構造体。
type ResourceServices struct {
	Todos     RecordService[*model.Todo]
	Events    RecordService[*model.Event]
	Posts     RecordService[*model.Post]
	Comments  RecordService[*model.Comment]
	Questions RecordService[*model.Question]
	Answers   RecordService[*model.Answer]
	Notices   RecordService[*model.Notice]
	Votes     RecordService[*model.Vote]
	Ballots   RecordService[*model.Ballot]
	Tally     VoteTallyInterface
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Guard             SessionGuard
	AuthFailures      middleware.AuthFailureRecorder
	RateLimiter       *middleware.RateLimiter
	CSRF              middleware.CSRFConfig
	CORSAllowedOrigin string
	Logger            *slog.Logger

	// 運用
	RequestMetrics func(next http.Handler) http.Handler
	MetricsHandler http.Handler
	Ping           Pinger

	// 認証
	AuthService   AuthServiceInterface
	Cookies       SessionCookieEncoder
	AuthConfig    AuthHandlerConfig
	GoogleEnabled bool

	// ユーザー
	UserService UserServiceInterface

	Resources ResourceServices
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	SecurityHeaders → Recovery → Logging → Metrics → CORS
//	  /api/*: Session → RateLimit(General) → RateLimit(Write) → CSRF
//	  /auth/*: CSRF（login は RateLimit(Login) を追加）
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewSecurityHeadersMiddleware(deps.CSRF.CookieSecure))
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.RequestMetrics != nil {
		r.Use(deps.RequestMetrics)
	}
	// CORSはプリフライトに応答するため認証より前に置く
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.Guard, deps.Cookies, deps.AuthConfig)
	userHandler := NewUserHandler(deps.UserService, authHandler.clearSessionCookie)
	csrf := middleware.NewCSRFMiddleware(deps.CSRF)

	// --- 認証不要のルート ---

	r.Get("/health", NewHealthHandler(deps.Ping))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF))

	r.Route("/auth", func(r chi.Router) {
		r.Use(csrf)

		r.Post("/signup", authHandler.Signup)
		r.With(deps.RateLimiter.LoginMiddleware()).Post("/login", authHandler.Login)
		r.Post("/logout", authHandler.Logout)
		r.Get("/me", authHandler.Me)

		// OAuthフロー（設定されている場合のみ）
		if deps.GoogleEnabled {
			r.Get("/google/login", authHandler.GoogleLogin)
			r.Get("/google/callback", authHandler.GoogleCallback)
		}
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → RateLimit(General) → RateLimit(Write) → CSRF
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.Guard, deps.AuthFailures))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(deps.RateLimiter.WriteMiddleware())
		r.Use(csrf)

		mountResources(r, deps.Resources)

		// プロフィール
		r.Route("/api/profile", func(r chi.Router) {
			r.Get("/", userHandler.GetProfile)
			r.Patch("/", userHandler.UpdateProfile)
			r.Put("/password", userHandler.ChangePassword)
		})

		// 退会
		r.Delete("/api/users/me", userHandler.Withdraw)
	})

	return r
}

// mountResources は各リソースのルートを登録する。
func mountResources(r chi.Router, svc ResourceServices) {
	r.Route("/api/todos", func(r chi.Router) {
		NewResourceHandler(svc.Todos, TodoBinding()).Mount(r)
	})
	r.Route("/api/events", func(r chi.Router) {
		NewResourceHandler(svc.Events, EventBinding()).Mount(r)
	})
	r.Route("/api/notices", func(r chi.Router) {
		NewResourceHandler(svc.Notices, NoticeBinding()).Mount(r)
	})

	// 投稿とコメント
	comments := NewChildResourceHandler(svc.Comments, CommentBinding())
	r.Route("/api/posts", func(r chi.Router) {
		NewResourceHandler(svc.Posts, PostBinding()).Mount(r, func(r chi.Router) {
			r.Route("/comments", func(r chi.Router) { comments.Mount(r) })
		})
	})

	// 質問と回答
	answers := NewChildResourceHandler(svc.Answers, AnswerBinding())
	r.Route("/api/questions", func(r chi.Router) {
		NewResourceHandler(svc.Questions, QuestionBinding()).Mount(r, func(r chi.Router) {
			r.Route("/answers", func(r chi.Router) { answers.Mount(r) })
		})
	})

	// 投票、票、集計
	ballots := NewChildResourceHandler(svc.Ballots, BallotBinding())
	results := NewVoteResultsHandler(svc.Tally)
	r.Route("/api/votes", func(r chi.Router) {
		NewResourceHandler(svc.Votes, VoteBinding()).Mount(r,
			func(r chi.Router) {
				r.Route("/ballots", func(r chi.Router) { ballots.Mount(r) })
			},
			results.Mount,
		)
	})
}
