package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/sumire/buildd/internal/abbs"
	"github.com/sumire/buildd/internal/chat"
	"github.com/sumire/buildd/internal/config"
	"github.com/sumire/buildd/internal/dispatch"
	"github.com/sumire/buildd/internal/domain"
	"github.com/sumire/buildd/internal/github"
	"github.com/sumire/buildd/internal/handler"
	"github.com/sumire/buildd/internal/queue"
	"github.com/sumire/buildd/internal/registry"
	"github.com/sumire/buildd/internal/report"
	"github.com/sumire/buildd/internal/repository"
	"github.com/sumire/buildd/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker := queue.NewBroker(cfg.AMQPURL)
	workers := registry.New()
	renderer := report.Renderer{Owner: cfg.GitHubOwner, Repo: cfg.GitHubRepo}

	var store *repository.Store
	if cfg.DatabaseURL != "" {
		db, err := sqlx.Connect("pgx", cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer db.Close()

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		store = repository.New(db)
		slog.Info("database connected")
	}

	gh, err := githubClient(cfg)
	if err != nil {
		return err
	}

	var notifier chat.Notifier = noopNotifier{}
	if cfg.TelegramToken != "" {
		notifier = chat.NewTelegram(cfg.TelegramToken)
	}

	var tree *abbs.Tree
	if cfg.ABBSPath != "" {
		tree, err = abbs.Open(cfg.ABBSPath)
		if err != nil {
			return fmt.Errorf("open abbs tree: %w", err)
		}
	}

	dispatcher := &sessionDispatcher{broker: broker}
	reporter := service.NewStatusReporter(broker, workers, cfg.QueueAPIURL, cfg.HeartbeatTimeout)
	commands := service.NewChatCommands(dispatcher, reporter, notifier, renderer)

	heartbeats := service.NewHeartbeatConsumer(broker, workers, store)
	go heartbeats.Run(ctx)

	var commentHost service.CommentHost
	var pullHost service.PullHost
	if gh != nil {
		commentHost = gh
		pullHost = gh
	}

	completions := service.NewCompletionConsumer(broker, notifier, commentHost, store, renderer, cfg.BotLogin)
	go completions.Run(ctx)

	var archResolver service.ArchResolver
	if tree != nil {
		archResolver = tree
	}
	webhooks := service.NewWebhookProcessor(broker, dispatcher, pullHost, archResolver, store, renderer, cfg.BotLogin)
	go webhooks.Run(ctx)

	e := echo.New()
	e.HideBanner = true
	e.Validator = handler.NewAppValidator()
	e.HTTPErrorHandler = handler.HTTPErrorHandler
	e.Use(middleware.RequestID())
	e.Use(handler.RequestLogger())
	e.Use(middleware.Recover())

	e.GET("/health", func(c echo.Context) error {
		return handler.JSON(c, http.StatusOK, map[string]string{"status": "ok"})
	})

	webhookHandler := handler.NewWebhookHandler(broker, cfg.WebhookSecret)
	e.POST("/webhook", webhookHandler.Receive)

	telegramHandler := handler.NewTelegramHandler(commands)
	e.POST("/telegram", telegramHandler.Update)

	api := handler.NewAPIHandler(dispatcher, reporter, store)
	v1 := e.Group("/api/v1")
	v1.POST("/build", api.Build)
	v1.GET("/status", api.Status)
	v1.GET("/pipelines/:id", api.Pipeline)

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		slog.Info("server starting", "addr", addr)
		errCh <- e.Start(addr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("shutdown signal received", "signal", sig)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

func githubClient(cfg config.Config) (*github.Client, error) {
	switch {
	case cfg.GitHubAccessToken != "":
		tokens := github.NewStaticTokenSource(cfg.GitHubAccessToken)
		return github.NewClient(cfg.GitHubOwner, cfg.GitHubRepo, tokens), nil
	case cfg.GitHubAppID != "":
		tokens, err := github.NewAppTokenSource(cfg.GitHubAppID, cfg.GitHubAppKeyPEMPath)
		if err != nil {
			return nil, fmt.Errorf("load github app credential: %w", err)
		}
		return github.NewClient(cfg.GitHubOwner, cfg.GitHubRepo, tokens), nil
	default:
		slog.Warn("no github credential configured, pull request features disabled")
		return nil, nil
	}
}

// sessionDispatcher opens a fresh broker session for every dispatch so
// a stale connection cannot wedge the publish path.
type sessionDispatcher struct {
	broker *queue.Broker
}

func (d *sessionDispatcher) Dispatch(ctx context.Context, req dispatch.Request) ([]domain.Job, error) {
	sess, err := d.broker.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	return dispatch.New(sess).Dispatch(ctx, req)
}

// noopNotifier drops chat messages when no chat token is configured.
type noopNotifier struct{}

func (noopNotifier) SendMessage(_ context.Context, chatID int64, _ string) error {
	slog.Debug("chat notifier not configured, dropping message", "chat_id", chatID)
	return nil
}
