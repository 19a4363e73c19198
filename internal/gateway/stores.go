package gateway

import (
	"context"

	"wisefido-vitals/internal/models"
)

// VitalSignsStore 样本持久化
type VitalSignsStore interface {
	Insert(ctx context.Context, sample *models.VitalsSample) (*models.StoredSample, error)
}

// AlertStore 报警持久化
type AlertStore interface {
	Create(ctx context.Context, alert *models.Alert) error
}

// DeviceStore 设备查询与绑定
type DeviceStore interface {
	GetDevice(ctx context.Context, deviceID string) (*models.Device, error)
	ConnectToPatient(ctx context.Context, deviceID, patientID string) (*models.Device, error)
	Disconnect(ctx context.Context, deviceID string) (*models.Device, error)
}

// PatientStore 患者查询
type PatientStore interface {
	GetPatient(ctx context.Context, patientID string) (*models.Patient, error)
}

// RealtimeCache 患者实时缓存（可选）
type RealtimeCache interface {
	UpdateRealtimeData(ctx context.Context, sample *models.StoredSample) error
	UpdateAlerts(ctx context.Context, patientID string, alerts []*models.Alert) error
}

// AlertPublisher 已提交报警的下游发布（可选）
type AlertPublisher interface {
	PublishAlert(ctx context.Context, alert *models.Alert) error
}

// Stores 网关依赖的外部协作者
// Vitals / Alerts 必填；其余为空时跳过对应步骤
type Stores struct {
	Vitals    VitalSignsStore
	Alerts    AlertStore
	Devices   DeviceStore
	Patients  PatientStore
	Cache     RealtimeCache
	Publisher AlertPublisher
}
