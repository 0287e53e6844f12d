package app

import (
	"context"
	"database/sql"
	"errors"
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

	"github.com/hitoshi/usermigrator/internal/config"
	"github.com/hitoshi/usermigrator/internal/database"
	"github.com/hitoshi/usermigrator/internal/event"
	"github.com/hitoshi/usermigrator/internal/handler"
	"github.com/hitoshi/usermigrator/internal/legacy"
	"github.com/hitoshi/usermigrator/internal/logger"
	"github.com/hitoshi/usermigrator/internal/metrics"
	"github.com/hitoshi/usermigrator/internal/middleware"
	"github.com/hitoshi/usermigrator/internal/migration"
	"github.com/hitoshi/usermigrator/internal/repository"
	"github.com/hitoshi/usermigrator/internal/worker/importer"
)

// emitterShutdownTimeout は終了時に未送信の移行イベントを待つ上限。
const emitterShutdownTimeout = 10 * time.Second

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

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

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("provider_id", cfg.ProviderID),
		slog.String("event_bus", cfg.EventBusDriver),
	)

	switch cmd {
	case CommandImport:
		path, realm, err := ParseImportArgs(args, cfg.DefaultRealm)
		if err != nil {
			return err
		}
		return runImport(w, cfg, path, realm)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// components は移行処理に必要な依存関係をまとめたもの。
type components struct {
	registry *prometheus.Registry
	emitter  *event.Emitter
	service  *migration.Service
	importer *importer.Importer
}

// buildComponents はDB接続から移行処理の依存関係をワイヤリングする。
// 移行イベント送信ワーカーはバックグラウンドで起動済みの状態で返す。
func buildComponents(cfg *config.Config, db *sql.DB, log *slog.Logger) (*components, error) {
	// 1. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 2. リポジトリの初期化
	userStore := repository.NewPostgresUserStore(db)
	realmStore := repository.NewPostgresRealmStore(db)

	// 3. 移行元APIクライアント
	legacyClient := legacy.NewClient(
		&http.Client{Timeout: cfg.LegacyAPITimeout},
		log,
		legacy.ClientConfig{
			BaseURL: cfg.LegacyAPIURL,
			Token:   cfg.LegacyAPIToken,
			RPS:     cfg.LegacyAPIRPS,
		},
	)

	// 4. 移行イベント送信
	producer, err := event.NewProducer(cfg.EventBusDriver, cfg.KafkaBrokers, cfg.RedisAddr, cfg.RedisPassword, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create event producer: %w", err)
	}
	emitter := event.NewEmitter(producer, log, collector, event.EmitterConfig{
		Topic:       cfg.EventTopic,
		QueueSize:   cfg.EventQueueSize,
		SendTimeout: cfg.EventSendTimeout,
	})
	go emitter.Start(context.Background())

	// 5. ドメインサービスの初期化
	mapper := migration.NewMapper(realmStore, cfg.Mapping, log, collector)
	reconciler := migration.NewReconciler(userStore, mapper, emitter, cfg.ProviderID, log, collector)
	service := migration.NewService(userStore, legacyClient, reconciler, log)

	return &components{
		registry: registry,
		emitter:  emitter,
		service:  service,
		importer: importer.NewImporter(reconciler, log, cfg.ImportMaxConcurrent),
	}, nil
}

// close は未送信の移行イベントを待ってから送信ワーカーを停止する。
func (c *components) close() {
	ctx, cancel := context.WithTimeout(context.Background(), emitterShutdownTimeout)
	defer cancel()

	if err := c.emitter.Shutdown(ctx); err != nil {
		slog.Warn("移行イベントの送信完了を待たずに終了します",
			slog.Int("pending", c.emitter.Pending()),
			slog.String("error", err.Error()),
		)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")
	return db, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	log := slog.Default()

	comps, err := buildComponents(cfg, db, log)
	if err != nil {
		return err
	}
	defer comps.close()

	// ログイン移行のレート制限（req/min -> req/sec に変換）
	limiterCfg := middleware.DefaultRateLimiterConfig()
	if cfg.LoginRateLimit > 0 {
		limiterCfg.Rate = rate.Limit(float64(cfg.LoginRateLimit) / 60.0)
		limiterCfg.Burst = cfg.LoginRateLimit
	}
	loginLimiter := middleware.NewRateLimiter(limiterCfg, log)
	defer loginLimiter.Stop()

	if cfg.AdminToken == "" {
		slog.Warn("ADMIN_TOKENが未設定のため移行APIは無効です")
	}

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:           log,
		AdminToken:       cfg.AdminToken,
		LoginRateLimiter: loginLimiter,
		HealthChecker:    db,
		MigrationService: comps.service,
		Importer:         comps.importer,
		MetricsHandler:   metrics.SetupMetricsRoute(comps.registry),
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // 一括インポートを許容する
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serveErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runImport はJSONファイルの移行元ユーザーを一括移行し、集計結果をwに出力する。
// SIGINTまたはSIGTERMシグナルを受信すると未着手のユーザーをスキップして終了する。
func runImport(w io.Writer, cfg *config.Config, path, realm string) error {
	users, err := importer.LoadFile(path)
	if err != nil {
		return err
	}

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	comps, err := buildComponents(cfg, db, slog.Default())
	if err != nil {
		return err
	}
	defer comps.close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("一括インポートを開始します",
		slog.String("file", path),
		slog.String("realm", realm),
		slog.Int("users", len(users)),
	)

	summary := comps.importer.Run(ctx, realm, users)

	if err := writeSummary(w, summary); err != nil {
		return err
	}

	if summary.Failed > 0 {
		return fmt.Errorf("import finished with %d failures out of %d users", summary.Failed, summary.Total)
	}
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
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
