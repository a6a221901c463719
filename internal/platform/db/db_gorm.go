package db

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"stock_agent/internal/config"
	priceadapters "stock_agent/internal/feature/prices/adapters"
	symboladapters "stock_agent/internal/feature/symbols/adapters"
	taskadapters "stock_agent/internal/feature/tasks/adapters"
	"stock_agent/internal/shared/market"
	"stock_agent/internal/shared/retry"
)

// connectTimeout は起動時に DB 接続を待つ最大時間です。
const connectTimeout = 60 * time.Second

// retryInterval は接続リトライの間隔です。
const retryInterval = 3 * time.Second

// Config は PostgreSQL 接続に必要な値です。
type Config struct {
	User         string
	Password     string
	Name         string
	Host         string
	Port         string
	InstanceName string
}

// Opener は DSN から *gorm.DB を開く関数です。
type Opener func(dsn string) (*gorm.DB, error)

// FromAppConfig はアプリケーション設定から DB 設定を組み立てます。
func FromAppConfig(c config.Database) Config {
	return Config{
		User:         c.User,
		Password:     c.Password,
		Name:         c.Name,
		Host:         c.Host,
		Port:         c.Port,
		InstanceName: c.InstanceName,
	}
}

// BuildDSN は PostgreSQL のキーワード形式 DSN を生成します。
// InstanceName が設定されている場合は Cloud SQL の Unix ソケットを優先します。
func BuildDSN(cfg Config) string {
	if cfg.InstanceName != "" {
		return fmt.Sprintf("host=/cloudsql/%s user=%s password=%s dbname=%s sslmode=disable TimeZone=UTC",
			cfg.InstanceName, cfg.User, cfg.Password, cfg.Name)
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable TimeZone=UTC",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name)
}

// OpenPostgres は pgx の database/sql ドライバ経由で gorm の接続を開きます。
func OpenPostgres(dsn string) (*gorm.DB, error) {
	pgxCfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	sqlDB := stdlib.OpenDB(*pgxCfg)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
}

// OpenSQLite はローカル実行用に SQLite ファイルを開きます。
func OpenSQLite(path string) (*gorm.DB, error) {
	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	// SQLite は単一ライターのため接続を 1 本に絞る
	sqlDB.SetMaxOpenConns(1)
	return gdb, nil
}

// ConnectWithRetry は timeout まで retryInterval 間隔で接続を試みます。
// コンテナ起動直後など DB がまだ受け付けていない場合を想定しています。
func ConnectWithRetry(ctx context.Context, dsn string, timeout time.Duration, open Opener, sleep retry.Sleeper) (*gorm.DB, error) {
	if sleep == nil {
		sleep = retry.Sleep
	}
	var waited time.Duration
	for attempt := 1; ; attempt++ {
		db, err := open(dsn)
		if err == nil {
			return db, nil
		}
		if waited+retryInterval > timeout {
			return nil, fmt.Errorf("db connect failed after %d attempts: %w", attempt, err)
		}
		log.Printf("[WARN] DB connect failed, retrying...: %v", err)
		if err := sleep(ctx, retryInterval); err != nil {
			return nil, fmt.Errorf("db connect aborted: %w", err)
		}
		waited += retryInterval
	}
}

// OpenDB は設定に応じて DB を開き、必要ならマイグレーションを実行します。
func OpenDB(ctx context.Context, c config.Database) (*gorm.DB, error) {
	var (
		gdb *gorm.DB
		err error
	)
	switch c.Driver {
	case "sqlite":
		gdb, err = OpenSQLite(c.SQLitePath)
	default:
		gdb, err = ConnectWithRetry(ctx, BuildDSN(FromAppConfig(c)), connectTimeout, OpenPostgres, nil)
	}
	if err != nil {
		return nil, err
	}

	if c.RunMigrations {
		if err := Migrate(gdb); err != nil {
			return nil, fmt.Errorf("failed to migrate: %w", err)
		}
	}
	return gdb, nil
}

// Migrate はタスクテーブルと市場ごとの価格・銘柄テーブルを作成します。
func Migrate(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(&taskadapters.TaskModel{}); err != nil {
		return err
	}
	for _, m := range market.All() {
		if err := priceadapters.EnsureSchema(gdb, m); err != nil {
			return fmt.Errorf("%s prices: %w", m, err)
		}
		if err := symboladapters.EnsureSchema(gdb, m); err != nil {
			return fmt.Errorf("%s symbols: %w", m, err)
		}
	}
	return nil
}
