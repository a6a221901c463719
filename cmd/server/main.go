package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"stock_agent/internal/app/di"
	"stock_agent/internal/app/router"
	"stock_agent/internal/config"
	jwtmw "stock_agent/internal/platform/jwt"
	"stock_agent/internal/platform/logger"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML config file")
	issueToken := flag.String("issue-token", "", "print a bearer token for the given subject and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	// オペレーター向けトークン発行
	if *issueToken != "" {
		token, err := jwtmw.NewGenerator(cfg.Auth.Secret, 24*time.Hour).GenerateToken(*issueToken)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(token)
		return
	}

	// JWT_SECRETチェック（開発中の注意喚起）
	if cfg.Auth.Secret == "" {
		log.Println("[WARN] JWT_SECRET is not set. POST /api/tasks/download is unauthenticated.")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := di.Build(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}

	r := router.NewRouter(app.TaskHandler, app.PriceHandler, app.HealthChecks, router.Options{
		JWTSecret:   cfg.Auth.Secret,
		CORSEnabled: cfg.Server.CORSEnabled,
		CORSOrigins: cfg.Server.CORSOrigins,
	})

	if app.Scheduler != nil {
		app.Scheduler.Start()
		if cfg.Download.Schedule.RunOnStart {
			if err := app.Scheduler.RunAll(); err != nil {
				log.Println("[WARN] initial scheduled run:", err)
			}
		}
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("http server listening", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	// 実行中のタスクは中断され failed として記録される。記録できなかった行は次回起動時に stale として回収される
	if err := app.Close(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
