package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ConnectionCounter 当前在线连接数（由连接注册表实现）
type ConnectionCounter interface {
	Count() int
}

// HealthHandler 健康检查处理器
type HealthHandler struct {
	connections ConnectionCounter
	db          *sql.DB
	redisClient *redis.Client
	logger      *zap.Logger
}

// NewHealthHandler 创建健康检查处理器；db / redisClient 可为 nil
func NewHealthHandler(connections ConnectionCounter, db *sql.DB, redisClient *redis.Client, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		connections: connections,
		db:          db,
		redisClient: redisClient,
		logger:      logger,
	}
}

// HealthStatus 健康检查结果
type HealthStatus struct {
	Status      string            `json:"status"`
	Connections int               `json:"connections"`
	Timestamp   time.Time         `json:"timestamp"`
	Services    map[string]string `json:"services"`
}

// HealthCheck 健康检查端点
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	status := HealthStatus{
		Status:      "healthy",
		Connections: h.connections.Count(),
		Timestamp:   time.Now(),
		Services:    make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.redisClient != nil {
		if err := h.redisClient.Ping(ctx).Err(); err != nil {
			status.Status = "unhealthy"
			status.Services["redis"] = "unhealthy: " + err.Error()
		} else {
			status.Services["redis"] = "healthy"
		}
	} else {
		status.Services["redis"] = "not configured"
	}

	if h.db != nil {
		if err := h.db.PingContext(ctx); err != nil {
			status.Status = "unhealthy"
			status.Services["database"] = "unhealthy: " + err.Error()
		} else {
			status.Services["database"] = "healthy"
		}
	} else {
		status.Services["database"] = "not configured"
	}

	if status.Status != "healthy" {
		h.logger.Warn("Health check failed", zap.Any("services", status.Services))
		writeJSON(w, http.StatusServiceUnavailable, FailWith("unhealthy", status))
		return
	}
	writeJSON(w, http.StatusOK, Ok(status))
}

// RegisterHealthRoutes 注册健康检查路由
func (r *Router) RegisterHealthRoutes(h *HealthHandler) {
	r.Handle("/health", h.HealthCheck)
	r.Handle("/healthz", h.HealthCheck)
}
