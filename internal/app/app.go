package app

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/hitoshi/atelier/internal/config"
	"github.com/hitoshi/atelier/internal/database"
	"github.com/hitoshi/atelier/internal/handler"
	"github.com/hitoshi/atelier/internal/license"
	"github.com/hitoshi/atelier/internal/logger"
	"github.com/hitoshi/atelier/internal/metrics"
	"github.com/hitoshi/atelier/internal/middleware"
	"github.com/hitoshi/atelier/internal/notify"
	"github.com/hitoshi/atelier/internal/project"
	"github.com/hitoshi/atelier/internal/repository"
	"github.com/hitoshi/atelier/internal/workflow"
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

	// 3. LOG_LEVELを反映する
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to parse LOG_LEVEL: %w", err)
	}
	logger.SetupDefault(w, level)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandToken:
		return runToken(cfg, os.Stdout, commandArgs(args))
	default:
		slog.Info("starting application",
			slog.String("command", string(cmd)),
			slog.String("port", cfg.ServerPort),
			slog.String("store_driver", cfg.StoreDriver),
		)
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, cfg)
	}
}

// stores はストアドライバーに応じて生成したリポジトリ群を保持する。
type stores struct {
	codes    repository.SignupCodeRepository
	projects repository.ProjectRepository
	health   repository.HealthChecker
	close    func() error
}

// openStores はSTORE_DRIVERに応じたバックエンドに接続し、リポジトリを生成する。
func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := database.Ping(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		slog.Info("database connection established")
		return postgresStores(db), nil

	case config.StoreDriverRedis:
		client, err := database.OpenRedis(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		if err := database.PingRedis(ctx, client); err != nil {
			client.Close()
			return nil, err
		}
		slog.Info("redis connection established", slog.String("key_prefix", cfg.RedisKeyPrefix))
		codes := repository.NewRedisSignupCodeRepo(client, cfg.RedisKeyPrefix)
		return &stores{
			codes:    codes,
			projects: repository.NewRedisProjectRepo(client, cfg.RedisKeyPrefix),
			health:   codes,
			close:    client.Close,
		}, nil

	case config.StoreDriverMemory:
		slog.Warn("in-memory store is enabled; data will be lost on restart")
		codes := repository.NewMemorySignupCodeRepo()
		return &stores{
			codes:    codes,
			projects: repository.NewMemoryProjectRepo(),
			health:   codes,
			close:    func() error { return nil },
		}, nil

	default:
		return nil, fmt.Errorf("unsupported store driver: %q", cfg.StoreDriver)
	}
}

func postgresStores(db *sql.DB) *stores {
	return &stores{
		codes:    repository.NewPostgresSignupCodeRepo(db),
		projects: repository.NewPostgresProjectRepo(db),
		health:   db,
		close:    db.Close,
	}
}

// newNotifier はPUSH_ENDPOINTが設定されていればプッシュ通知を、
// 未設定であればログ出力のみのNotifierを生成する。
func newNotifier(cfg *config.Config, collector metrics.MetricsCollector) *notify.AsyncNotifier {
	var sender notify.Sender
	if cfg.PushEndpoint != "" {
		sender = notify.NewPushClient(
			&http.Client{Timeout: cfg.NotifySendTimeout},
			slog.Default(),
			cfg.PushEndpoint,
			cfg.PushAPIKey,
		)
	} else {
		slog.Info("PUSH_ENDPOINT is not set; notifications will only be logged")
		sender = notify.NewLogNotifier(slog.Default())
	}

	return notify.NewAsyncNotifier(sender, slog.Default(), collector, notify.AsyncConfig{
		QueueSize:     cfg.NotifyQueueSize,
		Workers:       cfg.NotifyWorkers,
		RatePerSecond: cfg.NotifyRatePerSec,
		SendTimeout:   cfg.NotifySendTimeout,
	})
}

// rateLimiterConfig はreq/min単位の設定値をreq/secのリミッター設定に変換する。
func rateLimiterConfig(cfg *config.Config) middleware.RateLimiterConfig {
	rl := middleware.DefaultRateLimiterConfig()
	rl.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	rl.GeneralBurst = cfg.RateLimitGeneral
	rl.RedeemRate = rate.Limit(float64(cfg.RateLimitRedeem) / 60.0)
	rl.RedeemBurst = cfg.RateLimitRedeem
	return rl
}

// buildRouter はリポジトリ群から全依存関係をワイヤリングしたHTTPハンドラーを構築する。
func buildRouter(cfg *config.Config, st *stores, notifier notify.Notifier, limiter *middleware.RateLimiter, collector metrics.MetricsCollector, gatherer prometheus.Gatherer) http.Handler {
	licenseService := license.NewService(st.codes, collector)
	projectService := project.NewService(st.projects, collector)
	workflowService := workflow.NewService(projectService, notifier, cfg.PhaseAdvanceMaxAttempts)

	return handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		Metrics:           collector,
		TokenVerifier:     middleware.NewTokenVerifier(cfg.AuthJWTSecret),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       limiter,
		TrustProxy:        cfg.TrustProxy,

		HealthChecker:  st.health,
		MetricsHandler: metrics.Handler(gatherer),

		LicenseService:  licenseService,
		ProjectCreator:  projectService,
		WorkflowService: workflowService,
	})
}

// runServe はAPIサーバーモードで起動する。
// ストアに接続し、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. ストア接続
	st, err := openStores(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.close()

	// 2. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	// 3. 通知とレート制限
	notifier := newNotifier(cfg, collector)
	limiter := middleware.NewRateLimiter(rateLimiterConfig(cfg))
	defer limiter.Stop()

	// 4. ルーターの構築
	router := buildRouter(cfg, st, notifier, limiter, collector, reg)

	// 5. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
	case <-ctx.Done():
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	if err := notifier.Close(shutdownCtx); err != nil {
		slog.Warn("notification queue was not drained", slog.String("error", err.Error()))
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
// PostgreSQL以外のストアではスキーマを持たないため何もしない。
func runMigrate(cfg *config.Config) error {
	if cfg.StoreDriver != config.StoreDriverPostgres {
		slog.Info("migrations are only required for the postgres store; skipping",
			slog.String("store_driver", cfg.StoreDriver),
		)
		return nil
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runToken は運用者向けにベアラートークンを発行し、outに書き出す。
// 例: atelier token -user u-1 -role admin -ttl 1h
func runToken(cfg *config.Config, out io.Writer, args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	userID := fs.String("user", "", "トークンのsub（ユーザーID）")
	role := fs.String("role", "", "トークンのロール（admin等）")
	ttl := fs.Duration("ttl", cfg.TokenTTL, "トークンの有効期間")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("failed to parse token flags: %w", err)
	}

	token, err := middleware.IssueToken(cfg.AuthJWTSecret, *userID, *role, *ttl, time.Now())
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}

	slog.Info("token issued",
		slog.String("user_id", *userID),
		slog.String("role", *role),
		slog.Duration("ttl", *ttl),
	)
	_, err = fmt.Fprintln(out, token)
	return err
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
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

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
