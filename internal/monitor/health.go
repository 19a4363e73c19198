package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// HealthStatus 网关健康检查结果
type HealthStatus struct {
	Status      string            `json:"status"`
	Connections int               `json:"connections"`
	Timestamp   time.Time         `json:"timestamp"`
	Services    map[string]string `json:"services"`
}

type healthResponse struct {
	Code    int          `json:"code"`
	Type    string       `json:"type"`
	Message string       `json:"message"`
	Result  HealthStatus `json:"result"`
}

// HealthClient 网关健康检查客户端
type HealthClient struct {
	httpClient *resty.Client
	url        string
	logger     *zap.Logger
}

// newGatewayHTTPClient 网关 HTTP 端点共用的 resty 客户端配置
func newGatewayHTTPClient() *resty.Client {
	return resty.New().
		SetTimeout(5 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Accept", "application/json")
}

// NewHealthClient 创建健康检查客户端
func NewHealthClient(url string, logger *zap.Logger) *HealthClient {
	return &HealthClient{
		httpClient: newGatewayHTTPClient(),
		url:        url,
		logger:     logger,
	}
}

// SetRetryCount 覆盖重试次数
func (h *HealthClient) SetRetryCount(n int) *HealthClient {
	h.httpClient.SetRetryCount(n)
	return h
}

// Check 请求健康检查端点；网关返回 503 时同样解析结果并返回错误
func (h *HealthClient) Check(ctx context.Context) (*HealthStatus, error) {
	var response healthResponse
	resp, err := h.httpClient.R().
		SetContext(ctx).
		SetResult(&response).
		SetError(&response).
		Get(h.url)
	if err != nil {
		return nil, fmt.Errorf("failed to call health endpoint: %w", err)
	}

	if resp.IsError() {
		h.logger.Warn("Gateway reported unhealthy",
			zap.Int("status_code", resp.StatusCode()),
			zap.Any("services", response.Result.Services),
		)
		return &response.Result, fmt.Errorf("gateway unhealthy: status %d", resp.StatusCode())
	}

	h.logger.Debug("Gateway healthy",
		zap.Int("connections", response.Result.Connections),
	)
	return &response.Result, nil
}
