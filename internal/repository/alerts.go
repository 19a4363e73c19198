package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"wisefido-vitals/internal/models"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

const alertColumns = `
			id,
			type,
			severity,
			title,
			message,
			patient_id,
			is_read,
			is_resolved,
			resolved_at,
			triggered_at`

// AlertsRepository 报警仓库（alerts 表）
type AlertsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlertsRepository 创建报警仓库
func NewAlertsRepository(db *sql.DB, logger *zap.Logger) *AlertsRepository {
	return &AlertsRepository{
		db:     db,
		logger: logger,
	}
}

// Create 写入已构建的报警（ID 由 AlertBuilder 分配）
func (r *AlertsRepository) Create(ctx context.Context, alert *models.Alert) error {
	if alert == nil {
		return fmt.Errorf("alert is required")
	}
	if alert.ID == "" || alert.PatientID == "" {
		return fmt.Errorf("alert id and patient_id are required")
	}
	if !alert.Type.Valid() {
		return fmt.Errorf("invalid alert type: %s", alert.Type)
	}
	if alert.IsResolved != (alert.ResolvedAt != nil) {
		return fmt.Errorf("resolved_at must be set if and only if is_resolved is true")
	}

	query := `
		INSERT INTO alerts (` + alertColumns + `
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.ExecContext(ctx, query,
		alert.ID,
		string(alert.Type),
		string(alert.Severity),
		alert.Title,
		alert.Message,
		alert.PatientID,
		alert.IsRead,
		alert.IsResolved,
		alert.ResolvedAt,
		alert.TriggeredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create alert: %w", translatePQError(err))
	}
	return nil
}

// MarkRead 标记为已读
// 操作员动作：由报警存储方（运营端）调用，本服务不暴露写接口
func (r *AlertsRepository) MarkRead(ctx context.Context, alertID string) error {
	result, err := r.db.ExecContext(ctx, `UPDATE alerts SET is_read = true WHERE id = $1`, alertID)
	if err != nil {
		return fmt.Errorf("failed to mark alert read: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to mark alert read: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("alert %s: %w", alertID, ErrNotFound)
	}
	return nil
}

// MarkResolved 标记为已解决（同时写入 resolved_at）
// 操作员动作，同 MarkRead
func (r *AlertsRepository) MarkResolved(ctx context.Context, alertID string, at time.Time) (*models.Alert, error) {
	query := `
		UPDATE alerts
		SET is_resolved = true,
		    resolved_at = $2
		WHERE id = $1
		RETURNING ` + alertColumns + `
	`

	alert, err := scanAlert(r.db.QueryRowContext(ctx, query, alertID, at))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("alert %s: %w", alertID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to resolve alert: %w", err)
	}
	return alert, nil
}

// ListUnresolved 未解决报警，按触发时间倒序（GET /alerts/unresolved）
// patientIDs 为空时不按患者过滤
func (r *AlertsRepository) ListUnresolved(ctx context.Context, patientIDs []string, limit int) ([]*models.Alert, error) {
	if limit <= 0 {
		limit = 100
	}

	var filter interface{}
	if len(patientIDs) > 0 {
		filter = pq.Array(patientIDs)
	}

	query := `
		SELECT ` + alertColumns + `
		FROM alerts
		WHERE is_resolved = false
		  AND ($1::text[] IS NULL OR patient_id = ANY($1))
		ORDER BY triggered_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, filter, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unresolved alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*models.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alerts: %w", err)
	}
	return alerts, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAlert(row rowScanner) (*models.Alert, error) {
	var alert models.Alert
	var alertType, severity string
	var resolvedAt sql.NullTime

	err := row.Scan(
		&alert.ID,
		&alertType,
		&severity,
		&alert.Title,
		&alert.Message,
		&alert.PatientID,
		&alert.IsRead,
		&alert.IsResolved,
		&resolvedAt,
		&alert.TriggeredAt,
	)
	if err != nil {
		return nil, err
	}

	alert.Type = models.AlertType(alertType)
	alert.Severity = models.Severity(severity)
	if resolvedAt.Valid {
		alert.ResolvedAt = &resolvedAt.Time
	}
	return &alert, nil
}
