package consumer

import (
	"context"
	"fmt"

	rediscommon "wisefido-vitals/common/redis"
	"wisefido-vitals/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// AlertPublisher 将已提交的报警写入输出 Stream，供下游通知服务消费
type AlertPublisher struct {
	stream      string
	redisClient *redis.Client
	logger      *zap.Logger
}

// NewAlertPublisher 创建报警发布器
func NewAlertPublisher(stream string, redisClient *redis.Client, logger *zap.Logger) *AlertPublisher {
	return &AlertPublisher{
		stream:      stream,
		redisClient: redisClient,
		logger:      logger,
	}
}

// PublishAlert 发布报警（字段 data 为报警 JSON）
func (p *AlertPublisher) PublishAlert(ctx context.Context, alert *models.Alert) error {
	if alert == nil {
		return fmt.Errorf("alert is required")
	}

	streamID, err := rediscommon.PublishJSONToStream(ctx, p.redisClient, p.stream, alert)
	if err != nil {
		return fmt.Errorf("failed to publish alert to %s: %w", p.stream, err)
	}

	p.logger.Debug("Published alert to stream",
		zap.String("alert_id", alert.ID),
		zap.String("stream", p.stream),
		zap.String("stream_id", streamID),
	)
	return nil
}
