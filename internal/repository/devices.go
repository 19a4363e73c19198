package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"wisefido-vitals/internal/models"

	"go.uber.org/zap"
)

const deviceColumns = `
			id,
			name,
			type,
			serial_number,
			battery_level,
			is_connected,
			patient_id,
			last_seen`

// DevicesRepository 设备仓库（devices 表）
type DevicesRepository struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewDevicesRepository 创建设备仓库
func NewDevicesRepository(db *sql.DB, logger *zap.Logger) *DevicesRepository {
	return &DevicesRepository{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// GetDevice 查询设备
func (r *DevicesRepository) GetDevice(ctx context.Context, deviceID string) (*models.Device, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device_id is required")
	}

	query := `
		SELECT ` + deviceColumns + `
		FROM devices
		WHERE id = $1
	`
	return r.queryDevice(ctx, "get device", deviceID, query, deviceID)
}

// ConnectToPatient 绑定设备到患者：patient_id、is_connected=true、last_seen=now
func (r *DevicesRepository) ConnectToPatient(ctx context.Context, deviceID, patientID string) (*models.Device, error) {
	if deviceID == "" || patientID == "" {
		return nil, fmt.Errorf("device_id and patient_id are required")
	}

	query := `
		UPDATE devices
		SET patient_id = $2,
		    is_connected = true,
		    last_seen = $3
		WHERE id = $1
		RETURNING ` + deviceColumns + `
	`
	device, err := r.queryDevice(ctx, "connect device", deviceID, query, deviceID, patientID, r.now())
	if err != nil {
		return nil, err
	}

	r.logger.Info("Device connected to patient",
		zap.String("device_id", deviceID),
		zap.String("patient_id", patientID),
	)
	return device, nil
}

// Disconnect 解绑设备：patient_id=NULL、is_connected=false
func (r *DevicesRepository) Disconnect(ctx context.Context, deviceID string) (*models.Device, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device_id is required")
	}

	query := `
		UPDATE devices
		SET patient_id = NULL,
		    is_connected = false
		WHERE id = $1
		RETURNING ` + deviceColumns + `
	`
	device, err := r.queryDevice(ctx, "disconnect device", deviceID, query, deviceID)
	if err != nil {
		return nil, err
	}

	r.logger.Info("Device disconnected", zap.String("device_id", deviceID))
	return device, nil
}

// UpdateBatteryLevel 更新电量（0-100）并刷新 last_seen
func (r *DevicesRepository) UpdateBatteryLevel(ctx context.Context, deviceID string, level int) (*models.Device, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device_id is required")
	}
	if level < 0 || level > 100 {
		return nil, fmt.Errorf("battery level out of range: %d", level)
	}

	query := `
		UPDATE devices
		SET battery_level = $2,
		    last_seen = $3
		WHERE id = $1
		RETURNING ` + deviceColumns + `
	`
	return r.queryDevice(ctx, "update battery level", deviceID, query, deviceID, level, r.now())
}

func (r *DevicesRepository) queryDevice(ctx context.Context, op, deviceID, query string, args ...interface{}) (*models.Device, error) {
	var device models.Device
	var serial sql.NullString
	var battery sql.NullInt64
	var patientID sql.NullString
	var lastSeen sql.NullTime

	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&device.ID,
		&device.Name,
		&device.Type,
		&serial,
		&battery,
		&device.IsConnected,
		&patientID,
		&lastSeen,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("device %s: %w", deviceID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to %s: %w", op, translatePQError(err))
	}

	device.SerialNumber = serial.String
	if battery.Valid {
		level := int(battery.Int64)
		device.BatteryLevel = &level
	}
	if patientID.Valid {
		device.PatientID = &patientID.String
	}
	if lastSeen.Valid {
		device.LastSeen = &lastSeen.Time
	}
	return &device, nil
}
