package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/labstack/echo/v4"

	serviceStore "github.com/hewenyu/service-registry/internal/store/service"
)

// 应用启动时间
var startTime = time.Now()

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// HealthHandler 处理注册中心自身的健康检查请求
type HealthHandler struct {
	store serviceStore.ServiceStore
}

// NewHealthHandler 创建一个新的健康检查处理器
func NewHealthHandler(store serviceStore.ServiceStore) *HealthHandler {
	return &HealthHandler{
		store: store,
	}
}

// RegisterRoutes 注册健康检查路由
func (h *HealthHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.healthCheck)
}

// healthCheck 检查存储连通性并报告进程状态
func (h *HealthHandler) healthCheck(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	details := map[string]interface{}{
		"uptime":     time.Since(startTime).String(),
		"goroutines": runtime.NumGoroutine(),
	}

	if err := h.store.Ping(ctx); err != nil {
		details["component"] = "storage"
		return c.JSON(http.StatusServiceUnavailable, HealthResponse{
			Status:    "unhealthy",
			Timestamp: time.Now(),
			Details:   details,
		})
	}

	return c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Details:   details,
	})
}
