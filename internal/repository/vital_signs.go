package repository

import (
	"context"
	"database/sql"
	"fmt"

	"wisefido-vitals/internal/models"

	"go.uber.org/zap"
)

// VitalSignsRepository 生命体征样本仓库（vital_signs 表）
type VitalSignsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewVitalSignsRepository 创建样本仓库
func NewVitalSignsRepository(db *sql.DB, logger *zap.Logger) *VitalSignsRepository {
	return &VitalSignsRepository{
		db:     db,
		logger: logger,
	}
}

// Insert 原样写入样本，返回数据库分配的 id 与 created_at
func (r *VitalSignsRepository) Insert(ctx context.Context, sample *models.VitalsSample) (*models.StoredSample, error) {
	if sample == nil {
		return nil, fmt.Errorf("sample is required")
	}
	if sample.PatientID == "" {
		return nil, fmt.Errorf("patient_id is required")
	}

	query := `
		INSERT INTO vital_signs (
			patient_id,
			device_id,
			heart_rate,
			systolic_bp,
			diastolic_bp,
			temperature,
			oxygen_saturation,
			respiratory_rate,
			steps,
			calories,
			sleep_score,
			stress_level,
			hrv,
			vo2_max,
			timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id, created_at
	`

	v := sample.Vitals
	stored := &models.StoredSample{VitalsSample: *sample}
	var createdAt sql.NullTime

	err := r.db.QueryRowContext(ctx, query,
		sample.PatientID,
		sample.DeviceID,
		v.HeartRate,
		v.SystolicBP,
		v.DiastolicBP,
		v.Temperature,
		v.OxygenSaturation,
		v.RespiratoryRate,
		v.Steps,
		v.Calories,
		v.SleepScore,
		v.StressLevel,
		v.HRV,
		v.VO2Max,
		sample.Timestamp,
	).Scan(&stored.ID, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert vital signs: %w", translatePQError(err))
	}

	if createdAt.Valid {
		stored.CreatedAt = &createdAt.Time
	}

	r.logger.Debug("Vital signs stored",
		zap.String("id", stored.ID),
		zap.String("patient_id", sample.PatientID),
	)
	return stored, nil
}
