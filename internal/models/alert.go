package models

import (
	"time"
)

// AlertType 报警类型（固定枚举）
type AlertType string

const (
	AlertTypeVitalSigns         AlertType = "VITAL_SIGNS"
	AlertTypeDeviceDisconnected AlertType = "DEVICE_DISCONNECTED"
	AlertTypeDeviceLowBattery   AlertType = "DEVICE_LOW_BATTERY"
	AlertTypeMissedReading      AlertType = "MISSED_READING"
)

// Valid 是否为已知类型
func (t AlertType) Valid() bool {
	switch t {
	case AlertTypeVitalSigns, AlertTypeDeviceDisconnected, AlertTypeDeviceLowBattery, AlertTypeMissedReading:
		return true
	}
	return false
}

// Severity 报警级别：LOW < MEDIUM < HIGH < CRITICAL
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Rank 级别序号，未知级别返回 0
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// AtLeast s >= other
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// AlertCandidate 规则引擎产出的待提交报警
type AlertCandidate struct {
	Type      AlertType `json:"type"`
	Severity  Severity  `json:"severity"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	PatientID string    `json:"patientId"`
}

// Alert 已提交的报警（对应 alerts 表）
// 约束：ResolvedAt 非空 当且仅当 IsResolved 为 true
type Alert struct {
	ID          string     `json:"id" db:"id"`
	Type        AlertType  `json:"type" db:"type"`
	Severity    Severity   `json:"severity" db:"severity"`
	Title       string     `json:"title" db:"title"`
	Message     string     `json:"message" db:"message"`
	PatientID   string     `json:"patientId" db:"patient_id"`
	IsRead      bool       `json:"isRead" db:"is_read"`
	IsResolved  bool       `json:"isResolved" db:"is_resolved"`
	ResolvedAt  *time.Time `json:"resolvedAt,omitempty" db:"resolved_at"`
	TriggeredAt time.Time  `json:"triggeredAt" db:"triggered_at"`
}

// Resolve 标记为已解决（同时设置 ResolvedAt）
func (a *Alert) Resolve(at time.Time) {
	a.IsResolved = true
	a.ResolvedAt = &at
}
