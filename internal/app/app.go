// Package app はコンポーネントの組み立てと各サブコマンドの実行を担う。
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/librarian/internal/auth"
	"github.com/hitoshi/librarian/internal/catalog"
	"github.com/hitoshi/librarian/internal/config"
	"github.com/hitoshi/librarian/internal/database"
	"github.com/hitoshi/librarian/internal/handler"
	"github.com/hitoshi/librarian/internal/lending"
	"github.com/hitoshi/librarian/internal/logger"
	"github.com/hitoshi/librarian/internal/metrics"
	"github.com/hitoshi/librarian/internal/middleware"
	"github.com/hitoshi/librarian/internal/model"
	"github.com/hitoshi/librarian/internal/repository"
	"github.com/hitoshi/librarian/internal/review"
	"github.com/hitoshi/librarian/internal/security"
	"github.com/hitoshi/librarian/internal/user"
	"github.com/hitoshi/librarian/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再初期化する
	logger.SetupDefault(w, cfg.LogLevel)
	return cfg, nil
}

// openDB はDB接続を開き、疎通を確認する。
func openDB(ctx context.Context, cfg *config.Config) (*sqlx.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")
	return db, nil
}

// components はserveで使う組み立て済みの依存関係。
type components struct {
	router      http.Handler
	rateLimiter *middleware.RateLimiter
}

// buildComponents はDB接続から全依存関係をワイヤリングする。
func buildComponents(db *sqlx.DB, cfg *config.Config) *components {
	// 1. リポジトリ
	userRepo := repository.NewPostgresUserRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	bookRepo := repository.NewPostgresBookRepo(db)
	lendingRepo := repository.NewPostgresLendingRepo(db)
	reviewRepo := repository.NewPostgresReviewRepo(db)

	// 2. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 3. セキュリティ
	sanitizer := security.NewTextSanitizer()
	covers := security.NewCoverImageVerifier(cfg.CoverImageVerify, cfg.CoverImageTimeout)

	// 4. ドメインサービス
	authService := auth.NewService(
		userRepo, sessionRepo, auth.NewBcryptHasher(cfg.BcryptCost),
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
	)
	lendingService := lending.NewService(bookRepo, lendingRepo, collector)
	catalogService := catalog.NewService(bookRepo, userRepo, sanitizer, covers)
	reviewService := review.NewService(reviewRepo, bookRepo, lendingRepo, sanitizer, collector,
		review.Config{RequireReturned: cfg.ReviewRequireReturned})
	memberService := user.NewService(userRepo, bookRepo)

	// 5. ルーター
	rateLimiter := middleware.NewRateLimiter(
		middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral, cfg.RateLimitAuth),
	)

	router := handler.NewRouter(&handler.RouterDeps{
		HealthChecker:     db,
		PrincipalFinder:   sessionRepo,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		RateLimiter: rateLimiter,
		Logger:      slog.Default(),

		Metrics:        collector,
		MetricsHandler: metrics.Handler(registry),

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		BookReader:  catalogService,
		Lending:     lendingService,
		BookReviews: reviewService,
		Reviews:     reviewService,
		Catalog:     catalogService,
		Inventory:   lendingService,
		Members:     memberService,
	})

	return &components{router: router, rateLimiter: rateLimiter}
}

// Serve はAPIサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func Serve(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	c := buildComponents(db, cfg)
	defer c.rateLimiter.Stop()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      c.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
			slog.String("base_url", cfg.BaseURL),
		)
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
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// Migrate は未適用のマイグレーションをすべて適用する。
func Migrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// MigrateDown は直近steps件のマイグレーションを取り消す。
func MigrateDown(cfg *config.Config, steps int) error {
	if err := database.RollbackMigrations(cfg.DatabaseURL, steps); err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}
	slog.Info("database migrations rolled back", slog.Int("steps", steps))
	return nil
}

// MigrationStatus は現在のスキーマバージョンを書き出す。
func MigrationStatus(cfg *config.Config, w io.Writer) error {
	version, dirty, err := database.MigrationVersion(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "version=%d dirty=%t\n", version, dirty)
	return err
}

// Healthcheck はローカルで動作中のサーバーの/healthを叩く。
// distroless環境でのDockerヘルスチェック用。
func Healthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// AdminCreator は管理者アカウントを作成する。auth.Service が満たす。
type AdminCreator interface {
	CreateAdmin(ctx context.Context, input auth.SignupInput) (*model.User, error)
}

// CreateAdmin は管理者アカウントを作成する。
// 管理者は会員登録APIからは作れないため、このCLI経路のみが入口になる。
func CreateAdmin(ctx context.Context, cfg *config.Config, input auth.SignupInput) (*model.User, error) {
	db, err := openDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	svc := auth.NewService(
		repository.NewPostgresUserRepo(db),
		repository.NewPostgresSessionRepo(db),
		auth.NewBcryptHasher(cfg.BcryptCost),
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
	)
	return createAdmin(ctx, svc, input)
}

func createAdmin(ctx context.Context, creator AdminCreator, input auth.SignupInput) (*model.User, error) {
	u, err := creator.CreateAdmin(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create admin: %w", err)
	}
	slog.Info("admin created", slog.String("user_id", u.ID), slog.String("email", u.Email))
	return u, nil
}

// CleanupSessions は期限切れセッションをバッチ削除し、削除件数を返す。
func CleanupSessions(ctx context.Context, cfg *config.Config) (int64, error) {
	db, err := openDB(ctx, cfg)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	job := cleanup.NewCleanupJob(repository.NewPostgresSessionRepo(db), slog.Default(), nil)
	job.BatchSize = cfg.SessionCleanupBatch
	return job.Run(ctx)
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
