package consumer

import (
	"context"
	"fmt"
	"strings"

	mqttcommon "wisefido-vitals/common/mqtt"
	"wisefido-vitals/internal/config"
	"wisefido-vitals/internal/models"

	"go.uber.org/zap"
)

// Ingester 样本处理入口（由网关实现）
type Ingester interface {
	IngestVitals(ctx context.Context, data *models.VitalsData)
}

// BatteryUpdater 设备电量写入
type BatteryUpdater interface {
	UpdateBatteryLevel(ctx context.Context, deviceID string, level int) (*models.Device, error)
}

// Subscriber MQTT 订阅能力（*mqttcommon.Client 实现）
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// MQTTConsumer 设备直连上报的 MQTT 消费者
// vitals/{deviceId}/data → 样本流水线；devices/{deviceId}/battery → 电量更新
type MQTTConsumer struct {
	config     *config.IngestConfig
	qos        byte
	subscriber Subscriber
	ingester   Ingester
	battery    BatteryUpdater
	logger     *zap.Logger
}

// NewMQTTConsumer 创建MQTT消费者；battery 为 nil 时不订阅电量主题
func NewMQTTConsumer(
	cfg *config.IngestConfig,
	qos byte,
	subscriber Subscriber,
	ingester Ingester,
	battery BatteryUpdater,
	logger *zap.Logger,
) *MQTTConsumer {
	return &MQTTConsumer{
		config:     cfg,
		qos:        qos,
		subscriber: subscriber,
		ingester:   ingester,
		battery:    battery,
		logger:     logger,
	}
}

// Start 订阅主题并阻塞到 ctx 取消
func (c *MQTTConsumer) Start(ctx context.Context) error {
	if err := c.subscriber.Subscribe(c.config.MQTTTopic, c.qos, c.handleVitals); err != nil {
		return fmt.Errorf("failed to subscribe to vitals topic: %w", err)
	}
	if c.battery != nil && c.config.BatteryTopic != "" {
		if err := c.subscriber.Subscribe(c.config.BatteryTopic, c.qos, c.handleBattery); err != nil {
			return fmt.Errorf("failed to subscribe to battery topic: %w", err)
		}
	}

	c.logger.Info("MQTT consumer started",
		zap.String("topic", c.config.MQTTTopic),
		zap.String("battery_topic", c.config.BatteryTopic),
	)

	<-ctx.Done()
	return nil
}

// Stop 取消订阅
func (c *MQTTConsumer) Stop() {
	topics := []string{c.config.MQTTTopic}
	if c.battery != nil && c.config.BatteryTopic != "" {
		topics = append(topics, c.config.BatteryTopic)
	}
	if err := c.subscriber.Unsubscribe(topics...); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.Error(err))
	}
	c.logger.Info("MQTT consumer stopped")
}

// handleVitals 处理样本消息，主题格式: vitals/{deviceId}/data
func (c *MQTTConsumer) handleVitals(topic string, payload []byte) error {
	c.logger.Debug("Received MQTT message",
		zap.String("topic", topic),
		zap.Int("payload_size", len(payload)),
	)

	deviceID, err := deviceFromTopic(topic)
	if err != nil {
		return err
	}

	data, err := models.DecodeVitalsData(payload)
	if err != nil {
		return fmt.Errorf("failed to decode vitals from %s: %w", topic, err)
	}

	if data.DeviceID == nil {
		data.DeviceID = &deviceID
	} else if *data.DeviceID != deviceID {
		return fmt.Errorf("deviceId %s does not match topic %s", *data.DeviceID, topic)
	}

	c.ingester.IngestVitals(context.Background(), data)
	return nil
}

// handleBattery 处理电量消息，主题格式: devices/{deviceId}/battery
func (c *MQTTConsumer) handleBattery(topic string, payload []byte) error {
	deviceID, err := deviceFromTopic(topic)
	if err != nil {
		return err
	}

	report, err := models.DecodeBatteryReport(payload)
	if err != nil {
		return fmt.Errorf("failed to decode battery report from %s: %w", topic, err)
	}

	if _, err := c.battery.UpdateBatteryLevel(context.Background(), deviceID, *report.BatteryLevel); err != nil {
		return fmt.Errorf("failed to update battery level: %w", err)
	}

	c.logger.Debug("Updated battery level",
		zap.String("device_id", deviceID),
		zap.Int("battery_level", *report.BatteryLevel),
	)
	return nil
}

func deviceFromTopic(topic string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[1] == "" {
		return "", fmt.Errorf("invalid topic format: %s", topic)
	}
	return parts[1], nil
}
