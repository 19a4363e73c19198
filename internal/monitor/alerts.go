package monitor

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"wisefido-vitals/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

type alertsResponse struct {
	Code    int             `json:"code"`
	Type    string          `json:"type"`
	Message string          `json:"message"`
	Result  []*models.Alert `json:"result"`
}

// AlertsClient 未解决报警查询客户端（启动时拉取积压报警）
type AlertsClient struct {
	httpClient *resty.Client
	url        string
	logger     *zap.Logger
}

// NewAlertsClient 创建报警查询客户端
func NewAlertsClient(url string, logger *zap.Logger) *AlertsClient {
	return &AlertsClient{
		httpClient: newGatewayHTTPClient(),
		url:        url,
		logger:     logger,
	}
}

// SetRetryCount 覆盖重试次数
func (c *AlertsClient) SetRetryCount(n int) *AlertsClient {
	c.httpClient.SetRetryCount(n)
	return c
}

// Unresolved 查询未解决报警；patientIDs 为空时查询全部患者
func (c *AlertsClient) Unresolved(ctx context.Context, patientIDs []string, limit int) ([]*models.Alert, error) {
	params := url.Values{}
	for _, id := range patientIDs {
		params.Add("patientId", id)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var response alertsResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParamsFromValues(params).
		SetResult(&response).
		SetError(&response).
		Get(c.url)
	if err != nil {
		return nil, fmt.Errorf("failed to call alerts endpoint: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("list unresolved alerts: status %d: %s", resp.StatusCode(), response.Message)
	}

	c.logger.Debug("Fetched unresolved alerts",
		zap.Strings("patient_ids", patientIDs),
		zap.Int("count", len(response.Result)),
	)
	return response.Result, nil
}
