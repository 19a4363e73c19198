package evaluator

import (
	"time"

	"wisefido-vitals/internal/models"

	"github.com/google/uuid"
)

// AlertBuilder 报警构建器：为候选报警分配 ID 与触发时间
type AlertBuilder struct {
	now func() time.Time
}

// NewAlertBuilder 创建报警构建器
func NewAlertBuilder() *AlertBuilder {
	return &AlertBuilder{now: time.Now}
}

// NewAlertBuilderWithClock 使用指定时钟（测试用）
func NewAlertBuilderWithClock(now func() time.Time) *AlertBuilder {
	return &AlertBuilder{now: now}
}

// Build 构建报警（未读、未解决）
func (b *AlertBuilder) Build(c models.AlertCandidate) *models.Alert {
	return &models.Alert{
		ID:          uuid.New().String(),
		Type:        c.Type,
		Severity:    c.Severity,
		Title:       c.Title,
		Message:     c.Message,
		PatientID:   c.PatientID,
		IsRead:      false,
		IsResolved:  false,
		TriggeredAt: b.now(),
	}
}
