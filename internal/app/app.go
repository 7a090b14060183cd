// Package app はアプリケーションの初期化と起動モードの制御を提供する。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/cookfed/internal/config"
	"github.com/hitoshi/cookfed/internal/crawler"
	"github.com/hitoshi/cookfed/internal/database"
	"github.com/hitoshi/cookfed/internal/feedsync"
	"github.com/hitoshi/cookfed/internal/github"
	"github.com/hitoshi/cookfed/internal/logger"
	"github.com/hitoshi/cookfed/internal/metrics"
	"github.com/hitoshi/cookfed/internal/repository"
	"github.com/hitoshi/cookfed/internal/search"
	"github.com/hitoshi/cookfed/internal/security"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 設定読み込み前にログを使えるようにする
	logger.SetupDefault(w)

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
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandSync:
		return runSync(cfg)
	default:
		return runWorker(cfg)
	}
}

// runWorker はクロールワーカーモードで起動する。
// フィードクローラとGitHubリポジトリインデクサのスケジューラ、
// 運用HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := database.Ping(context.Background(), db); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")

	// 検索インデックスを開く（存在しない場合は新規作成）
	index, err := search.Open(cfg.IndexPath)
	if err != nil {
		return fmt.Errorf("failed to open search index: %w", err)
	}
	defer index.Close()

	// メトリクス
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// リポジトリ
	feedRepo := repository.NewPostgresFeedRepo(db)
	recipeRepo := repository.NewPostgresRecipeRepo(db)
	tagRepo := repository.NewPostgresTagRepo(db)
	ingredientRepo := repository.NewPostgresIngredientRepo(db)
	sourceRepo := repository.NewPostgresRepoSourceRepo(db)

	// セキュリティサービス
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewContentSanitizer()

	// フィードクローラ
	limiters := crawler.NewLimiterRegistry(cfg.CrawlRateLimit)
	defer limiters.Stop()

	fetcher := crawler.NewFetcher(
		ssrfGuard, limiters, collector, slog.Default(),
		cfg.FetchTimeout, cfg.UserAgent, cfg.MaxFeedSize,
	)
	feedCrawler := crawler.NewCrawler(
		feedRepo, recipeRepo, tagRepo, ingredientRepo,
		fetcher, index, sanitizer, nil, collector, slog.Default(),
		cfg.MaxRecipeSize,
	)
	crawlScheduler := crawler.NewScheduler(feedRepo, feedCrawler, tagRepo, ingredientRepo, slog.Default())

	// GitHubリポジトリインデクサ
	quota := github.NewQuotaLimiter(cfg.GitHubRateLimitBuffer, collector, slog.Default())
	ghClient := github.NewClient(
		&http.Client{Timeout: cfg.FetchTimeout}, quota, slog.Default(),
		cfg.GitHubToken, cfg.UserAgent, cfg.GitHubMaxFileSize,
	)
	ghIndexer := github.NewIndexer(
		ghClient, feedRepo, recipeRepo, tagRepo, ingredientRepo, sourceRepo,
		index, nil, collector, slog.Default(), cfg.RecipeConcurrency,
	)
	ghScheduler := github.NewScheduler(sourceRepo, ghIndexer, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	// 起動時にfeeds.tomlを同期する（失敗してもワーカーは起動する）
	if cfg.FeedsConfigPath != "" {
		syncer := feedsync.NewSyncer(feedRepo, ghIndexer, ssrfGuard, slog.Default())
		if _, err := syncer.SyncFromFile(ctx, cfg.FeedsConfigPath); err != nil {
			slog.Error("feeds config sync failed",
				slog.String("path", cfg.FeedsConfigPath),
				slog.String("error", err.Error()),
			)
		}
	}

	// 運用HTTPサーバーをバックグラウンドで起動
	opsServer := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      NewOpsRouter(db, registry),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		slog.Info("ops server starting", slog.String("addr", opsServer.Addr))
		if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("ops server listen error", slog.String("error", err.Error()))
		}
	}()

	slog.Info("worker starting",
		slog.Duration("crawl_interval", cfg.CrawlInterval),
		slog.Duration("github_update_interval", cfg.GitHubUpdateInterval),
		slog.Int("recipe_concurrency", cfg.RecipeConcurrency),
	)

	// リポジトリインデクサをバックグラウンドで起動
	go ghScheduler.Start(ctx, cfg.GitHubUpdateInterval)

	// フィードクローラをメインgoroutineで実行（ブロッキング）
	crawlScheduler.Start(ctx, cfg.CrawlInterval)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ops server shutdown failed: %w", err)
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runServe は運用HTTPサーバー単独モードで起動する。
// ヘルスチェックとメトリクスのみを提供する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := database.Ping(context.Background(), db); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")

	registry := prometheus.NewRegistry()
	metrics.NewCollector(registry)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      NewOpsRouter(db, registry),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("ops server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down ops server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("ops server stopped gracefully")
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

// runSync はfeeds.tomlの同期のみを実行して終了する。
func runSync(cfg *config.Config) error {
	if cfg.FeedsConfigPath == "" {
		return fmt.Errorf("FEEDS_CONFIG_PATH is not set")
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := database.Ping(context.Background(), db); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	feedRepo := repository.NewPostgresFeedRepo(db)
	sourceRepo := repository.NewPostgresRepoSourceRepo(db)
	recipeRepo := repository.NewPostgresRecipeRepo(db)
	tagRepo := repository.NewPostgresTagRepo(db)
	ingredientRepo := repository.NewPostgresIngredientRepo(db)
	ssrfGuard := security.NewSSRFGuard()

	quota := github.NewQuotaLimiter(cfg.GitHubRateLimitBuffer, nil, slog.Default())
	ghClient := github.NewClient(
		&http.Client{Timeout: cfg.FetchTimeout}, quota, slog.Default(),
		cfg.GitHubToken, cfg.UserAgent, cfg.GitHubMaxFileSize,
	)

	// 同期はインデックスへの書き込みを行わないためインデックスは開かない
	ghIndexer := github.NewIndexer(
		ghClient, feedRepo, recipeRepo, tagRepo, ingredientRepo, sourceRepo,
		nil, nil, nil, slog.Default(), cfg.RecipeConcurrency,
	)

	syncer := feedsync.NewSyncer(feedRepo, ghIndexer, ssrfGuard, slog.Default())
	report, err := syncer.SyncFromFile(context.Background(), cfg.FeedsConfigPath)
	if err != nil {
		return fmt.Errorf("feeds config sync failed: %w", err)
	}

	slog.Info("feeds config sync completed",
		slog.Int("added", report.Added),
		slog.Int("updated", report.Updated),
		slog.Int("disabled", report.Disabled),
		slog.Int("re_enabled", report.ReEnabled),
		slog.Int("unchanged", report.Unchanged),
		slog.Int("errors", len(report.Errors)),
	)
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
