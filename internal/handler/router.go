package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/librarian/internal/metrics"
	"github.com/hitoshi/librarian/internal/middleware"
	"github.com/hitoshi/librarian/internal/model"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
// 同じサービスが複数のインターフェースを満たす場合は、それぞれのフィールドに同じ値を渡す。
type RouterDeps struct {
	// ミドルウェア依存
	HealthChecker     HealthChecker
	PrincipalFinder   middleware.PrincipalFinder
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// メトリクス（nilの場合は/metricsを公開しない）
	Metrics        metrics.MetricsCollector
	MetricsHandler http.Handler

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// 書籍・貸出
	BookReader  BookReaderInterface
	Lending     LendingServiceInterface
	BookReviews BookReviewsInterface

	// レビュー
	Reviews ReviewServiceInterface

	// 管理者
	Catalog   CatalogServiceInterface
	Inventory InventoryServiceInterface
	Members   MemberServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → RequestID → RealIP → Logging → Metrics → SecurityHeaders → CORS
//	  /health, /metrics, /api/csrf-token: そのまま
//	  /auth/*: + CSRF（signup, loginは + RateLimit(Auth)）
//	  /api/*:  + CSRF → Session → RateLimit(General) [→ RequireRole(admin)]
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.Nop{}
	}

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(metrics.Middleware(collector))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	bookHandler := NewBookHandler(deps.BookReader, deps.Lending, deps.BookReviews)
	reviewHandler := NewReviewHandler(deps.Reviews)
	adminHandler := NewAdminHandler(deps.Catalog, deps.Inventory, deps.Members)

	// --- 認証不要のルート ---

	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

	csrf := middleware.NewCSRFMiddleware(deps.CSRFConfig)

	r.Route("/auth", func(r chi.Router) {
		r.Use(csrf)
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.AuthMiddleware())
			r.Post("/signup", authHandler.Signup)
			r.Post("/login", authHandler.Login)
		})
		r.Post("/logout", authHandler.Logout)
		r.Get("/me", authHandler.Me)
	})

	// --- 認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(csrf)
		r.Use(middleware.NewSessionMiddleware(deps.PrincipalFinder))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/api/books", func(r chi.Router) {
			r.Get("/", bookHandler.Browse)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", bookHandler.GetBook)
				r.Put("/borrow", bookHandler.Borrow)
				r.Put("/reserve", bookHandler.Reserve)
				r.Put("/return", bookHandler.Return)
				r.Put("/reservation/cancel", bookHandler.CancelReservation)
				r.Put("/reservation/checkout", bookHandler.CheckoutReservation)
				r.Get("/reviews", bookHandler.ListReviews)
			})
		})

		r.Route("/api/me", func(r chi.Router) {
			r.Get("/books", bookHandler.MyBooks)
			r.Get("/returned", bookHandler.MyReturned)
		})

		r.Post("/api/reviews", reviewHandler.AddReview)

		// 管理者専用
		r.Route("/api/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(model.RoleAdmin))

			r.Route("/books", func(r chi.Router) {
				r.Get("/", adminHandler.ListBooks)
				r.Post("/", adminHandler.CreateBook)
				r.Patch("/{id}", adminHandler.UpdateBook)
				r.Delete("/{id}", adminHandler.DeleteBook)
			})

			r.Get("/members", adminHandler.ListMembers)
			r.Get("/members/{id}", adminHandler.GetMember)
			r.Post("/members/{id}/reconcile", adminHandler.Reconcile)
			r.Get("/dashboard", adminHandler.Dashboard)

			r.Get("/reviews", reviewHandler.ListAll)
			r.Delete("/reviews/{id}", reviewHandler.DeleteReview)
		})
	})

	return r
}
