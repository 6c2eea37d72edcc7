// Package app はアプリケーションの起動とワイヤリングを提供する。
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

	"github.com/chirpbot/chirpboard/internal/auth"
	"github.com/chirpbot/chirpboard/internal/botapi"
	"github.com/chirpbot/chirpboard/internal/cache"
	"github.com/chirpbot/chirpboard/internal/config"
	"github.com/chirpbot/chirpboard/internal/discord"
	"github.com/chirpbot/chirpboard/internal/handler"
	"github.com/chirpbot/chirpboard/internal/logger"
	"github.com/chirpbot/chirpboard/internal/metrics"
	"github.com/chirpbot/chirpboard/internal/middleware"
	"github.com/chirpbot/chirpboard/internal/session"
)

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
		slog.String("public_site_url", cfg.PublicSiteURL),
	)

	return runServe(cfg)
}

// runServe はAPIサーバーモードで起動する。
// 全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 2. 上流クライアントの初期化
	discordClient := discord.NewClient(
		&http.Client{Timeout: 10 * time.Second},
		slog.Default(),
		discord.ClientConfig{
			ClientID:     cfg.DiscordClientID,
			ClientSecret: cfg.DiscordClientSecret,
		},
	).WithMetrics(collector)

	botClient := botapi.NewClient(
		&http.Client{Timeout: 10 * time.Second},
		slog.Default(),
		cfg.BotAPIBaseURL,
		cfg.BotAPIToken,
	).WithMetrics(collector)

	// 3. 認証サービスとセッション検証の初期化
	authService := auth.NewService(discordClient, auth.ServiceConfig{
		CookieSecret:  cfg.CookieSecret,
		SessionDays:   cfg.SessionDays,
		RefreshWindow: cfg.TokenRefreshWindow,
		PublicSiteURL: cfg.PublicSiteURL,
	}).WithMetrics(collector)

	validator := session.NewValidator(cfg.CookieSecret)

	// 4. キャッシュ層の初期化
	// Bot API未設定時はヘルスキャッシュを持たず、/healthは設定エラーを返す
	var health *cache.Upstream[*botapi.HealthResult]
	if botClient.Configured() {
		health = cache.NewUpstream(func(ctx context.Context, _ string) (*botapi.HealthResult, error) {
			return botClient.Health(ctx)
		}, cfg.HealthCacheTTL, cfg.UpstreamTimeout)
	} else {
		slog.Warn("bot api is not configured; health endpoint and bot presence are disabled")
	}
	presence := cache.NewPresence(botClient, slog.Default(), cfg.BotGuildCacheTTL)

	// 5. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(cfg.RateLimitGeneral))
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		Validator:         validator,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),

		AuthService:   authService,
		SessionMaxAge: cfg.SessionMaxAge(),

		Guilds:   discordClient,
		Bot:      botClient,
		Presence: presence,
		Health:   health,

		Collector: collector,
	}

	router := handler.NewRouter(deps)

	// 6. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Prometheusスクレイプは外部公開ポートと分離する
	metricsServer := &http.Server{
		Addr:        ":" + cfg.MetricsPort,
		Handler:     metrics.SetupMetricsRoute(registry),
		ReadTimeout: 15 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("metrics server starting", slog.String("addr", metricsServer.Addr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server listen error", slog.String("error", err.Error()))
		}
	}()

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := metricsServer.Shutdown(ctx); err != nil {
		slog.Error("metrics server shutdown failed", slog.String("error", err.Error()))
	}

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
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
