package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"wisefido-vitals/internal/models"

	"go.uber.org/zap"
)

// PatientsRepository 患者仓库（只读，用于广播时补充患者信息）
type PatientsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPatientsRepository 创建患者仓库
func NewPatientsRepository(db *sql.DB, logger *zap.Logger) *PatientsRepository {
	return &PatientsRepository{
		db:     db,
		logger: logger,
	}
}

// GetPatient 查询患者
func (r *PatientsRepository) GetPatient(ctx context.Context, patientID string) (*models.Patient, error) {
	if patientID == "" {
		return nil, fmt.Errorf("patient_id is required")
	}

	query := `
		SELECT id, first_name, last_name, room
		FROM patients
		WHERE id = $1
	`

	var patient models.Patient
	var room sql.NullString
	err := r.db.QueryRowContext(ctx, query, patientID).Scan(
		&patient.ID,
		&patient.FirstName,
		&patient.LastName,
		&room,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("patient %s: %w", patientID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get patient: %w", err)
	}
	patient.Room = room.String
	return &patient, nil
}
