package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/atelier/internal/metrics"
	"github.com/hitoshi/atelier/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector
	TokenVerifier     *middleware.TokenVerifier
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	// TrustProxy がtrueの場合、X-Forwarded-For等からクライアントIPを決定する。
	TrustProxy bool

	// 運用エンドポイント
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// サービス
	LicenseService  LicenseServiceInterface
	ProjectCreator  ProjectCreator
	WorkflowService WorkflowServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → (RealIP) → Logging → SecurityHeaders → CORS
//	  → 公開ルート: RedeemRateLimit
//	  → 認証ルート: Auth → RateLimit(General) [→ RequireAdmin]
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// 全ルート共通のミドルウェア（CORSプリフライトにも効くよう最上位に適用）
	r.Use(middleware.NewRecoveryMiddleware())
	if deps.TrustProxy {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	licenseHandler := NewLicenseHandler(deps.LicenseService)
	projectHandler := NewProjectHandler(deps.ProjectCreator, deps.WorkflowService)
	eventHandler := NewEventHandler(deps.WorkflowService)

	// --- 運用エンドポイント ---
	if deps.HealthChecker != nil {
		r.Get("/health", NewHealthHandler(deps.HealthChecker))
	}
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- 認証不要のルート ---
	r.With(deps.RateLimiter.RedeemMiddleware()).Post("/redeem-license", licenseHandler.Redeem)

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Auth → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.TokenVerifier))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// 管理者
		r.Route("/admin-license-codes", func(r chi.Router) {
			r.Use(middleware.RequireAdmin)
			r.Get("/", licenseHandler.ListCodes)
			r.Post("/", licenseHandler.IssueCode)
		})

		// プロジェクト
		r.Route("/api/projects", func(r chi.Router) {
			r.Post("/", projectHandler.CreateProject)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", projectHandler.GetProject)
				r.Post("/advance", projectHandler.AdvanceProject)
			})
		})

		// ワークフローイベント
		r.Post("/api/events", eventHandler.PostEvent)
	})

	return r
}
