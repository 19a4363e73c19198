package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"wisefido-vitals/internal/config"
	"wisefido-vitals/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ErrCacheMiss 缓存中没有该患者的数据
var ErrCacheMiss = errors.New("cache miss")

// CacheManager 患者实时缓存（最新样本 + 最近一次评估产生的报警）
type CacheManager struct {
	config      *config.CacheConfig
	redisClient *redis.Client
	logger      *zap.Logger
}

// NewCacheManager 创建缓存管理器
func NewCacheManager(
	cfg *config.CacheConfig,
	redisClient *redis.Client,
	logger *zap.Logger,
) *CacheManager {
	return &CacheManager{
		config:      cfg,
		redisClient: redisClient,
		logger:      logger,
	}
}

func (c *CacheManager) realtimeKey(patientID string) string {
	return fmt.Sprintf("%s%s%s", c.config.KeyPrefix, patientID, c.config.RealtimeSuffix)
}

func (c *CacheManager) alertsKey(patientID string) string {
	return fmt.Sprintf("%s%s%s", c.config.KeyPrefix, patientID, c.config.AlertsSuffix)
}

// UpdateRealtimeData 写入最新样本
func (c *CacheManager) UpdateRealtimeData(ctx context.Context, sample *models.StoredSample) error {
	if sample == nil || sample.PatientID == "" {
		return fmt.Errorf("sample with patient_id is required")
	}

	jsonData, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("failed to marshal realtime data: %w", err)
	}

	key := c.realtimeKey(sample.PatientID)
	if err := c.redisClient.Set(ctx, key, jsonData, c.config.TTL).Err(); err != nil {
		return fmt.Errorf("failed to set realtime cache: %w", err)
	}

	c.logger.Debug("Updated realtime cache",
		zap.String("patient_id", sample.PatientID),
		zap.String("key", key),
	)
	return nil
}

// GetRealtimeData 读取最新样本
func (c *CacheManager) GetRealtimeData(ctx context.Context, patientID string) (*models.StoredSample, error) {
	val, err := c.redisClient.Get(ctx, c.realtimeKey(patientID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("realtime data for patient %s: %w", patientID, ErrCacheMiss)
		}
		return nil, fmt.Errorf("failed to get cache: %w", err)
	}

	var sample models.StoredSample
	if err := json.Unmarshal([]byte(val), &sample); err != nil {
		return nil, fmt.Errorf("failed to unmarshal realtime data: %w", err)
	}
	return &sample, nil
}

// UpdateAlerts 覆盖写入患者最近的报警列表
func (c *CacheManager) UpdateAlerts(ctx context.Context, patientID string, alerts []*models.Alert) error {
	if patientID == "" {
		return fmt.Errorf("patient_id is required")
	}

	jsonData, err := json.Marshal(alerts)
	if err != nil {
		return fmt.Errorf("failed to marshal alert data: %w", err)
	}

	key := c.alertsKey(patientID)
	if err := c.redisClient.Set(ctx, key, jsonData, c.config.TTL).Err(); err != nil {
		return fmt.Errorf("failed to set alert cache: %w", err)
	}

	c.logger.Debug("Updated alert cache",
		zap.String("patient_id", patientID),
		zap.String("key", key),
		zap.Int("alert_count", len(alerts)),
	)
	return nil
}

// GetAlerts 读取患者最近的报警列表
func (c *CacheManager) GetAlerts(ctx context.Context, patientID string) ([]*models.Alert, error) {
	val, err := c.redisClient.Get(ctx, c.alertsKey(patientID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("alerts for patient %s: %w", patientID, ErrCacheMiss)
		}
		return nil, fmt.Errorf("failed to get cache: %w", err)
	}

	var alerts []*models.Alert
	if err := json.Unmarshal([]byte(val), &alerts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal alert data: %w", err)
	}
	return alerts, nil
}
