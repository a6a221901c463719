package router

import (
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	pricehandler "stock_agent/internal/feature/prices/transport/handler"
	taskhandler "stock_agent/internal/feature/tasks/transport/handler"
	"stock_agent/internal/platform/http/handler"
	jwtmw "stock_agent/internal/platform/jwt"
)

// Options はルーター生成時の設定です。
type Options struct {
	// JWTSecret が空の場合、タスク起動 API は認証なしで公開されます。
	JWTSecret   string
	CORSEnabled bool
	CORSOrigins []string
}

func NewRouter(tasks *taskhandler.TaskHandler, prices *pricehandler.PricesHandler,
	checks map[string]handler.Check, opts Options) *gin.Engine {
	r := gin.Default()

	if opts.CORSEnabled {
		r.Use(cors.New(corsConfig(opts.CORSOrigins)))
	}

	// 導通確認用
	health := handler.Health(checks)
	r.GET("/healthz", health)
	r.HEAD("/healthz", health)
	r.OPTIONS("/healthz", health)

	api := r.Group("/api")
	{
		api.GET("/tasks/status", tasks.GetStatus)
		api.GET("/stocks/:market/:symbol/bars", prices.GetBarsHandler)
	}

	// タスク起動は外部 API を大量に呼ぶため、シークレット設定時は JWT を要求する
	start := api.Group("/tasks")
	if opts.JWTSecret != "" {
		start.Use(jwtmw.AuthRequired(opts.JWTSecret))
	}
	start.POST("/download", tasks.StartDownload)

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}
