// Package config はアプリケーション全体の設定を読み込みます。
//
// 読み込み順序（後勝ち）:
//  1. Default() の組み込み既定値
//  2. YAML 設定ファイル（パスが空、またはファイルが存在しない場合はスキップ）
//  3. .env ファイル（存在する場合のみ OS 環境変数へ展開）
//  4. 環境変数（DB_HOST, REDIS_HOST, TWELVE_DATA_API_KEY など）
//
// 環境変数名は各フィールドの envconfig タグに完全な名前で書きます。
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"stock_agent/internal/shared/market"
)

// 取得方式
const (
	// FetchVectorized は 1 リクエストでバッチ内の全銘柄を取得する方式です。
	FetchVectorized = "vectorized"
	// FetchPerSymbol は銘柄ごとに 1 リクエストを並行実行する方式です。
	FetchPerSymbol = "per_symbol"
)

// minBatchDelay はバッチ間待機の下限です。プロバイダー側のバースト制限を守るため。
const minBatchDelay = time.Second

// Config はアプリケーション全体の設定です。
type Config struct {
	Database  Database          `yaml:"database"`
	Redis     Redis             `yaml:"redis"`
	Server    Server            `yaml:"server"`
	Auth      Auth              `yaml:"auth"`
	Logging   Logging           `yaml:"logging"`
	Download  Download          `yaml:"download"`
	Markets   map[string]Market `yaml:"markets" ignored:"true"`
	Providers Providers         `yaml:"providers"`
}

// Database はデータベース接続設定です。
type Database struct {
	Driver        string `yaml:"driver" envconfig:"DB_DRIVER"` // "postgres" または "sqlite"
	Host          string `yaml:"host" envconfig:"DB_HOST"`
	Port          string `yaml:"port" envconfig:"DB_PORT"`
	User          string `yaml:"user" envconfig:"DB_USER"`
	Password      string `yaml:"password" envconfig:"DB_PASSWORD"`
	Name          string `yaml:"name" envconfig:"DB_NAME"`
	InstanceName  string `yaml:"instance_connection_name" envconfig:"INSTANCE_CONNECTION_NAME"`
	SQLitePath    string `yaml:"sqlite_path" envconfig:"DB_SQLITE_PATH"`
	RunMigrations bool   `yaml:"run_migrations" envconfig:"RUN_MIGRATIONS"`
}

// Redis は Redis 接続設定です。Host が空の場合 Redis は使用しません。
type Redis struct {
	Host     string `yaml:"host" envconfig:"REDIS_HOST"`
	Port     string `yaml:"port" envconfig:"REDIS_PORT"`
	Password string `yaml:"password" envconfig:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" envconfig:"REDIS_DB"`
}

// Addr は host:port 形式のアドレスを返します。
func (r Redis) Addr() string { return r.Host + ":" + r.Port }

// Enabled は Redis が設定されているかを返します。
func (r Redis) Enabled() bool { return r.Host != "" }

// Server は HTTP サーバーの設定です。
type Server struct {
	Addr        string   `yaml:"addr" envconfig:"SERVER_ADDR"`
	CORSEnabled bool     `yaml:"cors_enabled" envconfig:"CORS_ENABLED"`
	CORSOrigins []string `yaml:"cors_origins" envconfig:"CORS_ORIGINS"`
}

// Auth はタスク起動 API を保護する JWT の設定です。Secret が空の場合は認証を行いません。
type Auth struct {
	Secret string `yaml:"secret" envconfig:"JWT_SECRET"`
}

// Logging はロガーの設定です。
type Logging struct {
	Level  string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format string `yaml:"format" envconfig:"LOG_FORMAT"` // "json" または "text"
}

// Retry は指数バックオフの設定です。
type Retry struct {
	MaxRetries int           `yaml:"max_retries" envconfig:"DOWNLOAD_MAX_RETRIES"`
	BaseDelay  time.Duration `yaml:"base_delay" envconfig:"DOWNLOAD_BASE_DELAY"`
}

// Download はデータ取得処理全体の設定です。
type Download struct {
	StartDate       string         `yaml:"start_date" envconfig:"DOWNLOAD_START_DATE"`
	RateLimits      map[string]int `yaml:"rate_limits" envconfig:"DOWNLOAD_RATE_LIMITS"` // プロバイダー名 -> 1 秒あたりの呼び出し回数
	Retry           Retry          `yaml:"retry"`
	BatchDelay      time.Duration  `yaml:"batch_delay" envconfig:"DOWNLOAD_BATCH_DELAY"`
	StalenessWindow time.Duration  `yaml:"staleness_window" envconfig:"DOWNLOAD_STALENESS_WINDOW"`
	StaleAfter      time.Duration  `yaml:"stale_after" envconfig:"DOWNLOAD_STALE_AFTER"`
	CatalogRetries  int            `yaml:"catalog_retries" envconfig:"DOWNLOAD_CATALOG_RETRIES"`
	ResumeDir       string         `yaml:"resume_dir" envconfig:"DOWNLOAD_RESUME_DIR"`
	Workers         int            `yaml:"workers" envconfig:"DOWNLOAD_WORKERS"`
	QueueSize       int            `yaml:"queue_size" envconfig:"DOWNLOAD_QUEUE_SIZE"`
	Schedule        Schedule       `yaml:"schedule"`
}

// Schedule は定期実行の設定です。
type Schedule struct {
	Enabled  bool   `yaml:"enabled" envconfig:"SCHEDULE_ENABLED"`
	At       string `yaml:"at" envconfig:"SCHEDULE_AT"` // "HH:MM"
	Timezone string `yaml:"timezone" envconfig:"SCHEDULE_TIMEZONE"`
	// RunOnStart が true の場合、サーバー起動直後にも 1 回実行します（直近の完了済み市場はスキップ）。
	RunOnStart bool `yaml:"run_on_start" envconfig:"SCHEDULE_RUN_ON_START"`
}

// Market は市場ごとの取得設定です。
type Market struct {
	Provider   string `yaml:"provider"`
	BatchSize  int    `yaml:"batch_size"`
	FetchShape string `yaml:"fetch_shape"`
}

// Providers は外部データプロバイダーの接続設定です。
type Providers struct {
	TwelveData TwelveData `yaml:"twelvedata"`
	Alpaca     Alpaca     `yaml:"alpaca"`
	EastMoney  EastMoney  `yaml:"eastmoney"`
}

// TwelveData は Twelve Data API の設定です。
type TwelveData struct {
	APIKey  string        `yaml:"api_key" envconfig:"TWELVE_DATA_API_KEY"`
	BaseURL string        `yaml:"base_url" envconfig:"TWELVE_DATA_BASE_URL"`
	Timeout time.Duration `yaml:"timeout" envconfig:"TWELVE_DATA_TIMEOUT"`
}

// Alpaca は Alpaca API の設定です。
type Alpaca struct {
	APIKey    string `yaml:"api_key" envconfig:"APCA_API_KEY_ID"`
	APISecret string `yaml:"api_secret" envconfig:"APCA_API_SECRET_KEY"`
	BaseURL   string `yaml:"base_url" envconfig:"APCA_API_BASE_URL"`
	DataURL   string `yaml:"data_url" envconfig:"APCA_API_DATA_URL"`
	Feed      string `yaml:"feed" envconfig:"APCA_FEED"`
}

// EastMoney は東方財富 API の設定です。
type EastMoney struct {
	HistoryURL string        `yaml:"history_url" envconfig:"EASTMONEY_HISTORY_URL"`
	ListURL    string        `yaml:"list_url" envconfig:"EASTMONEY_LIST_URL"`
	Timeout    time.Duration `yaml:"timeout" envconfig:"EASTMONEY_TIMEOUT"`
}

// Default は組み込みの既定設定を返します。
func Default() *Config {
	return &Config{
		Database: Database{
			Driver: "postgres",
			Host:   "localhost",
			Port:   "5432",
			Name:   "stock_db",
		},
		Redis: Redis{Port: "6379"},
		Server: Server{
			Addr:        ":8080",
			CORSEnabled: true,
			CORSOrigins: []string{"*"},
		},
		Logging: Logging{Level: "info", Format: "json"},
		Download: Download{
			StartDate:       "2020-01-01",
			RateLimits:      map[string]int{"alpaca": 1, "twelvedata": 1, "eastmoney": 2},
			Retry:           Retry{MaxRetries: 3, BaseDelay: 5 * time.Second},
			BatchDelay:      time.Second,
			StalenessWindow: 24 * time.Hour,
			StaleAfter:      time.Hour,
			CatalogRetries:  3,
			ResumeDir:       "stock_lists",
			Workers:         2,
			QueueSize:       4,
			Schedule:        Schedule{Enabled: false, At: "06:30", Timezone: "Asia/Shanghai"},
		},
		Markets: map[string]Market{
			string(market.US): {Provider: "alpaca", BatchSize: 100, FetchShape: FetchVectorized},
			string(market.CN): {Provider: "eastmoney", BatchSize: 5, FetchShape: FetchPerSymbol},
		},
		Providers: Providers{
			TwelveData: TwelveData{BaseURL: "https://api.twelvedata.com", Timeout: 10 * time.Second},
			Alpaca: Alpaca{
				BaseURL: "https://api.alpaca.markets",
				DataURL: "https://data.alpaca.markets",
				Feed:    "iex",
			},
			EastMoney: EastMoney{
				HistoryURL: "https://push2his.eastmoney.com",
				ListURL:    "https://82.push2.eastmoney.com",
				Timeout:    10 * time.Second,
			},
		},
	}
}

// Load は path の YAML ファイルと環境変数から設定を読み込みます。
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
			// ファイルがなければ既定値と環境変数のみで動かす
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	// .env は存在しない環境もあるためエラーは無視する
	_ = godotenv.Load()

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate は設定値の整合性を検証し、下限を下回る値を補正します。
func (c *Config) Validate() error {
	if _, err := time.Parse("2006-01-02", c.Download.StartDate); err != nil {
		return fmt.Errorf("download.start_date %q: %w", c.Download.StartDate, err)
	}
	if c.Download.BatchDelay < minBatchDelay {
		return fmt.Errorf("download.batch_delay must be at least %v, got %v", minBatchDelay, c.Download.BatchDelay)
	}
	if c.Download.Retry.MaxRetries < 1 {
		return fmt.Errorf("download.retry.max_retries must be positive, got %d", c.Download.Retry.MaxRetries)
	}
	if c.Download.Workers < 1 {
		c.Download.Workers = 1
	}
	if c.Download.CatalogRetries < 1 {
		c.Download.CatalogRetries = 1
	}
	for name, m := range c.Markets {
		if _, err := market.Parse(name); err != nil {
			return fmt.Errorf("markets.%s: %w", name, err)
		}
		if m.BatchSize < 1 {
			return fmt.Errorf("markets.%s.batch_size must be positive, got %d", name, m.BatchSize)
		}
		switch m.FetchShape {
		case FetchVectorized, FetchPerSymbol:
		default:
			return fmt.Errorf("markets.%s.fetch_shape %q is not supported", name, m.FetchShape)
		}
		if m.Provider == "" {
			return fmt.Errorf("markets.%s.provider is required", name)
		}
	}
	return nil
}

// StartTime は取得開始日を time.Time で返します。Validate 済みであることが前提です。
func (d Download) StartTime() time.Time {
	t, _ := time.Parse("2006-01-02", d.StartDate)
	return t
}

// MarketConfig は市場の取得設定を返します。
func (c *Config) MarketConfig(m market.Market) (Market, bool) {
	mc, ok := c.Markets[string(m)]
	return mc, ok
}
