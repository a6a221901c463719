package di

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"stock_agent/internal/config"
	ingest "stock_agent/internal/feature/ingest/usecase"
	priceadapters "stock_agent/internal/feature/prices/adapters"
	pricehandler "stock_agent/internal/feature/prices/transport/handler"
	pricesusecase "stock_agent/internal/feature/prices/usecase"
	symboladapters "stock_agent/internal/feature/symbols/adapters"
	symbolsusecase "stock_agent/internal/feature/symbols/usecase"
	taskadapters "stock_agent/internal/feature/tasks/adapters"
	taskentity "stock_agent/internal/feature/tasks/domain/entity"
	taskhandler "stock_agent/internal/feature/tasks/transport/handler"
	tasksusecase "stock_agent/internal/feature/tasks/usecase"
	"stock_agent/internal/platform/cache"
	infradb "stock_agent/internal/platform/db"
	healthhandler "stock_agent/internal/platform/http/handler"
	"stock_agent/internal/platform/lock"
	infraredis "stock_agent/internal/platform/redis"
	"stock_agent/internal/platform/scheduler"
	"stock_agent/internal/shared/market"
	"stock_agent/internal/shared/ratelimiter"
	"stock_agent/internal/shared/retry"
	"stock_agent/internal/shared/workerpool"
)

// lockTTL は Redis ロックの有効期限です。タスク起動の判定処理より十分長くします。
const lockTTL = 30 * time.Second

// 機能間の接続に使うインターフェースの充足確認
var (
	_ ingest.SymbolResolver       = (*symbolsusecase.Catalog)(nil)
	_ ingest.Fetcher              = (*ingest.BatchFetcher)(nil)
	_ ingest.Processor            = (*pricesusecase.BarProcessor)(nil)
	_ ingest.ResumeWriter         = (*symboladapters.ResumeFile)(nil)
	_ tasksusecase.Runner         = (*ingest.DownloadRunner)(nil)
	_ tasksusecase.Submitter      = (*workerpool.Pool)(nil)
	_ symbolsusecase.SymbolSource = Provider(nil)
)

// App は組み立て済みのアプリケーションです。
type App struct {
	Config       *config.Config
	DB           *gorm.DB
	Redis        *redis.Client // 未設定または接続失敗時は nil
	Pool         *workerpool.Pool
	Tasks        *tasksusecase.TaskManager
	TaskHandler  *taskhandler.TaskHandler
	PriceHandler *pricehandler.PricesHandler
	HealthChecks map[string]healthhandler.Check
	Scheduler    *scheduler.Scheduler // スケジュール無効時は nil
}

// Build は設定からアプリケーションの依存関係を組み立てます。
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	gdb, err := infradb.OpenDB(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Redis（任意）
	var rdb *redis.Client
	if cfg.Redis.Enabled() {
		if tmp, err := infraredis.NewRedisClient(ctx, cfg.Redis); err != nil {
			log.Println("[WARN] Redis unavailable. Running without cache and with in-process locks.")
		} else {
			rdb = tmp
		}
	}

	var locker lock.Locker = lock.NewLocalLocker()
	if rdb != nil {
		locker = lock.NewRedisLocker(rdb, "stock_agent:lock", lockTTL)
	}

	loc := scheduleLocation(cfg.Download.Schedule.Timezone)

	// Repository
	priceRepo := priceadapters.NewPriceRepository(gdb)
	symbolRepo := symboladapters.NewSymbolRepository(gdb)
	taskRepo := taskadapters.NewTaskRepository(gdb)
	resume := symboladapters.NewResumeFile(cfg.Download.ResumeDir)

	// Redisキャッシュでラップ。次回の定期取得を越えてキャッシュしない
	cachedPrices := cache.NewCachingBarRepository(rdb, 0, priceRepo, "bars")
	if cfg.Download.Schedule.Enabled {
		cachedPrices.WithRefreshDeadline(cache.RefreshDeadline(cfg.Download.Schedule.At, loc))
	}

	// Provider
	providers, err := NewMarketProviders(cfg)
	if err != nil {
		return nil, err
	}
	routes := make(map[market.Market]ingest.Route, len(providers))
	sources := make(map[market.Market]symbolsusecase.SymbolSource, len(providers))
	for m, p := range providers {
		mc, _ := cfg.MarketConfig(m)
		routes[m] = ingest.Route{Provider: p, Shape: ingest.FetchShape(mc.FetchShape), BatchSize: mc.BatchSize}
		sources[m] = p
	}

	// Usecase
	policy := retry.Policy{MaxRetries: cfg.Download.Retry.MaxRetries, BaseDelay: cfg.Download.Retry.BaseDelay}
	limiter := ratelimiter.NewRegistry(cfg.Download.RateLimits, nil)
	fetcher := ingest.NewBatchFetcher(limiter, policy, routes)
	catalog := symbolsusecase.NewCatalog(symbolRepo, sources, resume, retry.Policy{
		MaxRetries: cfg.Download.CatalogRetries,
		BaseDelay:  cfg.Download.Retry.BaseDelay,
	})
	runner := ingest.NewDownloadRunner(catalog, fetcher, pricesusecase.NewBarProcessor(), cachedPrices, taskRepo, resume,
		ingest.RunnerConfig{Start: cfg.Download.StartTime(), BatchDelay: cfg.Download.BatchDelay})

	pool := workerpool.New(cfg.Download.Workers, cfg.Download.QueueSize)
	manager := tasksusecase.NewTaskManager(taskRepo, locker, pool,
		map[taskentity.TaskType]tasksusecase.Runner{taskentity.TaskTypeDownload: runner},
		tasksusecase.ManagerConfig{
			StalenessWindow: cfg.Download.StalenessWindow,
			StaleAfter:      cfg.Download.StaleAfter,
		})

	app := &App{
		Config:       cfg,
		DB:           gdb,
		Redis:        rdb,
		Pool:         pool,
		Tasks:        manager,
		TaskHandler:  taskhandler.NewTaskHandler(manager),
		PriceHandler: pricehandler.NewPricesHandler(pricesusecase.NewPricesUsecase(cachedPrices)),
		HealthChecks: healthChecks(gdb, rdb),
	}

	if cfg.Download.Schedule.Enabled {
		s, err := newScheduler(cfg, loc, manager)
		if err != nil {
			return nil, err
		}
		app.Scheduler = s
	}
	return app, nil
}

// newScheduler は設定された市場ごとに日次のダウンロード起動を登録します。
// force なしで起動するため、直近に完了済みの市場はスキップされます。
func newScheduler(cfg *config.Config, loc *time.Location, manager *tasksusecase.TaskManager) (*scheduler.Scheduler, error) {
	s := scheduler.New(loc)
	for _, m := range market.All() {
		m := m
		if _, ok := cfg.MarketConfig(m); !ok {
			continue
		}
		err := s.Daily("download:"+m.String(), cfg.Download.Schedule.At, func(ctx context.Context) error {
			res, err := manager.StartDownloadTask(ctx, tasksusecase.StartRequest{Market: m})
			if errors.Is(err, tasksusecase.ErrTaskAlreadyRunning) {
				slog.Info("scheduled download skipped, task already running", "market", m)
				return nil
			}
			if err != nil {
				return err
			}
			slog.Info("scheduled download", "market", m, "status", res.Status, "task_id", res.TaskID)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

func healthChecks(gdb *gorm.DB, rdb *redis.Client) map[string]healthhandler.Check {
	checks := map[string]healthhandler.Check{
		"database": func(ctx context.Context) error {
			sqlDB, err := gdb.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	return checks
}

func scheduleLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		slog.Warn("unknown schedule timezone, using UTC", "timezone", name, "error", err)
		return time.UTC
	}
	return loc
}

// Close はバックグラウンド処理を停止し、接続を閉じます。
func (a *App) Close(ctx context.Context) error {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	var errs []error
	if err := a.Pool.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown worker pool: %w", err))
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	return errors.Join(errs...)
}
