package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/spf13/cobra"

	"stock_agent/internal/app/di"
	"stock_agent/internal/config"
	"stock_agent/internal/feature/tasks/domain/entity"
	"stock_agent/internal/feature/tasks/usecase"
	"stock_agent/internal/platform/logger"
	"stock_agent/internal/shared/market"
)

var (
	configPath string
	marketName string
	force      bool
	mode       string
)

var errTaskFailed = errors.New("download task failed")

// rootCmd は 1 市場分のダウンロードを同期的に実行する。
var rootCmd = &cobra.Command{
	Use:          "ingest",
	Short:        "Download daily bars for one market and wait for completion",
	SilenceUsage: true,
	RunE:         runIngest,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "config.yaml", "path to YAML config file")
	rootCmd.Flags().StringVar(&marketName, "market", "cn", "market to download (us or cn)")
	rootCmd.Flags().BoolVar(&force, "force", false, "run even if a recent download completed")
	rootCmd.Flags().StringVar(&mode, "mode", "", "symbol source: live, backfill or stored (default: live)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runIngest(cmd *cobra.Command, _ []string) error {
	m, err := market.Parse(marketName)
	if err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := di.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer closeCancel()
		if err := app.Close(closeCtx); err != nil {
			log.Println("[ERROR] shutdown:", err)
		}
	}()

	res, err := app.Tasks.StartDownloadTask(ctx, usecase.StartRequest{Market: m, Force: force, Mode: mode})
	if err != nil {
		return err
	}
	log.Println(res.Message)
	if res.Status != entity.StartStarted {
		return nil
	}

	if err := app.Tasks.Wait(ctx, res.TaskID); err != nil {
		log.Println("[ERROR] download failed:", err)
	}

	snap, err := app.Tasks.GetTaskStatus(context.Background(), &res.TaskID, nil)
	if err != nil {
		return fmt.Errorf("read task status: %w", err)
	}
	t := snap.Task
	fmt.Fprintf(cmd.OutOrStdout(), "task %d %s: total=%d processed=%d failed=%d progress=%.2f%%\n",
		t.ID, t.Status, t.TotalSymbols, t.ProcessedSymbols, t.FailedSymbols, t.Progress())
	if t.Status == entity.StatusFailed {
		return errTaskFailed
	}
	return nil
}
