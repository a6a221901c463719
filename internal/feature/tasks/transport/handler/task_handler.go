// Package handler は tasks フィーチャーのHTTPハンドラーを提供します。
package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"stock_agent/internal/feature/tasks/domain/entity"
	"stock_agent/internal/feature/tasks/transport/http/dto"
	"stock_agent/internal/feature/tasks/usecase"
	"stock_agent/internal/shared/market"
	"stock_agent/internal/shared/workerpool"
)

// defaultMarket は market 未指定時の対象市場です。
const defaultMarket = "cn"

// TaskService はタスク操作のユースケースを定義します。
// Goの慣例に従い、インターフェースは利用者（handler）側で定義します。
type TaskService interface {
	StartDownloadTask(ctx context.Context, req usecase.StartRequest) (entity.StartResult, error)
	GetTaskStatus(ctx context.Context, taskID *int64, m *market.Market) (entity.TaskSnapshot, error)
}

// TaskHandler はタスクの起動・状態参照のHTTPリクエストを処理します。
type TaskHandler struct {
	svc TaskService
}

// NewTaskHandler は TaskHandler の新しいインスタンスを生成します。
func NewTaskHandler(svc TaskService) *TaskHandler {
	return &TaskHandler{svc: svc}
}

// StartDownload はダウンロードタスクを起動します。
// - 起動時は202、直近に完了済みでスキップした場合は200
// - 同じ市場のタスクが実行中の場合は409、キューが満杯の場合は503
//
// エンドポイント例:
// POST /api/tasks/download {"market":"us","force":false}
func (h *TaskHandler) StartDownload(c *gin.Context) {
	var req dto.DownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		slog.Warn("download request validation failed", "error", err, "remote_addr", c.ClientIP())
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid request"})
		return
	}
	if req.Market == "" {
		req.Market = defaultMarket
	}
	m, err := market.Parse(req.Market)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid market parameter"})
		return
	}

	res, err := h.svc.StartDownloadTask(c.Request.Context(), usecase.StartRequest{Market: m, Force: req.Force, Mode: req.Mode})

	status := http.StatusOK
	switch {
	case errors.Is(err, usecase.ErrTaskAlreadyRunning):
		status = http.StatusConflict
	case errors.Is(err, workerpool.ErrPoolFull):
		status = http.StatusServiceUnavailable
	case err != nil:
		slog.Error("failed to start download task", "market", m, "error", err)
		status = http.StatusInternalServerError
	case res.Status == entity.StartStarted:
		status = http.StatusAccepted
	}
	c.JSON(status, toStartResponse(res))
}

// GetStatus はタスクの状態を返します。
// task_id 指定時はそのタスク、market 指定時はその市場の最新タスク、いずれもなければ最新タスクです。
//
// エンドポイント例:
// GET /api/tasks/status?task_id=12
// GET /api/tasks/status?market=us
func (h *TaskHandler) GetStatus(c *gin.Context) {
	var (
		taskID *int64
		mk     *market.Market
	)
	if v := c.Query("task_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "task_id must be an integer"})
			return
		}
		taskID = &id
	}
	if v := c.Query("market"); v != "" {
		m, err := market.Parse(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid market parameter"})
			return
		}
		mk = &m
	}

	snap, err := h.svc.GetTaskStatus(c.Request.Context(), taskID, mk)
	if err != nil {
		if errors.Is(err, usecase.ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "task not found"})
			return
		}
		slog.Error("failed to get task status", "error", err)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(http.StatusOK, toStatusResponse(snap))
}

func toStartResponse(res entity.StartResult) dto.StartResponse {
	out := dto.StartResponse{Status: string(res.Status), Message: res.Message}
	if res.TaskID != 0 {
		id := res.TaskID
		if res.Status == entity.StartSkipped {
			out.LastTaskID = &id
		} else {
			out.TaskID = &id
		}
	}
	return out
}

func toStatusResponse(s entity.TaskSnapshot) dto.TaskStatusResponse {
	t := s.Task
	out := dto.TaskStatusResponse{
		TaskID:           t.ID,
		TaskType:         string(t.TaskType),
		Market:           t.Market.String(),
		Status:           string(t.Status),
		StartTime:        t.StartTime.UTC().Format(time.RFC3339),
		LastUpdateTime:   t.LastUpdateTime.UTC().Format(time.RFC3339),
		TotalSymbols:     t.TotalSymbols,
		ProcessedSymbols: t.ProcessedSymbols,
		FailedSymbols:    t.FailedSymbols,
		Progress:         math.Round(t.Progress()*100) / 100,
		ErrorMessage:     t.ErrorMessage,
		RunnerState:      string(s.RunnerState),
	}
	if t.EndTime != nil {
		end := t.EndTime.UTC().Format(time.RFC3339)
		out.EndTime = &end
	}
	return out
}
