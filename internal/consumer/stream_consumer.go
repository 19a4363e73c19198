package consumer

import (
	"context"
	"fmt"
	"time"

	rediscommon "wisefido-vitals/common/redis"
	"wisefido-vitals/internal/config"
	"wisefido-vitals/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// StreamConsumer Redis Streams 消费者（上游转换服务写入的 vitals_data）
type StreamConsumer struct {
	config      *config.IngestConfig
	redisClient *redis.Client
	ingester    Ingester
	logger      *zap.Logger
}

// NewStreamConsumer 创建 Streams 消费者
func NewStreamConsumer(
	cfg *config.IngestConfig,
	redisClient *redis.Client,
	ingester Ingester,
	logger *zap.Logger,
) *StreamConsumer {
	return &StreamConsumer{
		config:      cfg,
		redisClient: redisClient,
		ingester:    ingester,
		logger:      logger,
	}
}

// Start 创建消费者组并循环消费，直到 ctx 取消
func (c *StreamConsumer) Start(ctx context.Context) error {
	if err := rediscommon.CreateConsumerGroup(ctx, c.redisClient, c.config.InputStream, c.config.ConsumerGroup); err != nil {
		return fmt.Errorf("failed to create consumer group for %s: %w", c.config.InputStream, err)
	}

	c.logger.Info("Stream consumer started",
		zap.String("stream", c.config.InputStream),
		zap.String("consumer_group", c.config.ConsumerGroup),
		zap.String("consumer_name", c.config.ConsumerName),
	)

	backoff := initialBackoff
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if _, err := c.consume(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("Failed to consume stream",
				zap.String("stream", c.config.InputStream),
				zap.Duration("backoff", backoff),
				zap.Error(err),
			)

			// 指数退避
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
			}
			continue
		}
		backoff = initialBackoff
	}
}

// consume 读取一批消息并逐条处理，返回处理条数
// 无法解析的消息同样确认，避免重复投递
func (c *StreamConsumer) consume(ctx context.Context) (int, error) {
	messages, err := rediscommon.ReadFromStream(
		ctx,
		c.redisClient,
		c.config.InputStream,
		c.config.ConsumerGroup,
		c.config.ConsumerName,
		c.config.BatchSize,
		c.config.Block,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to read from stream %s: %w", c.config.InputStream, err)
	}

	for _, msg := range messages {
		if err := c.processMessage(ctx, msg); err != nil {
			c.logger.Warn("Dropped stream message",
				zap.String("stream", msg.Stream),
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
		}
		if err := rediscommon.Ack(ctx, c.redisClient, c.config.InputStream, c.config.ConsumerGroup, msg.ID); err != nil {
			c.logger.Error("Failed to ack message",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
		}
	}
	return len(messages), nil
}

func (c *StreamConsumer) processMessage(ctx context.Context, msg rediscommon.StreamMessage) error {
	raw, ok := msg.Values["data"].(string)
	if !ok {
		return fmt.Errorf("missing data field")
	}

	data, err := models.DecodeVitalsData([]byte(raw))
	if err != nil {
		return err
	}

	c.ingester.IngestVitals(ctx, data)
	return nil
}
