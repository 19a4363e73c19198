package monitor

import (
	"encoding/json"
	"sync"

	"wisefido-vitals/internal/models"
	"wisefido-vitals/internal/transport"

	"go.uber.org/zap"
)

// Transport 网关客户端能力（*transport.Client 实现）
type Transport interface {
	On(event string, h transport.Handler)
	OnStateChange(fn func(transport.State))
	Send(event string, data interface{}) error
}

var _ Transport = (*transport.Client)(nil)

// Stats 收到的事件计数
type Stats struct {
	Vitals     int
	Alerts     map[models.Severity]int
	DeviceUps  int
	DeviceDown int
	Errors     int
	Backlog    int // 启动时拉取的未解决报警数
}

// Monitor 订阅端：连上网关后加入患者房间，记录样本与报警
type Monitor struct {
	transport  Transport
	patientIDs []string
	logger     *zap.Logger

	mu          sync.Mutex
	stats       Stats
	onAlert     func(*models.Alert)
	onConnected func()
}

// NewMonitor 创建订阅端并注册事件处理函数
// patientIDs 为空时接收全局事件，否则只接收这些患者房间内的事件
func NewMonitor(t Transport, patientIDs []string, logger *zap.Logger) *Monitor {
	m := &Monitor{
		transport:  t,
		patientIDs: patientIDs,
		logger:     logger,
		stats:      Stats{Alerts: make(map[models.Severity]int)},
	}

	t.OnStateChange(m.handleState)
	t.On(models.EventConnection, m.handleConnection)
	t.On(models.EventJoinedRoom, m.handleRoomAck)
	t.On(models.EventLeftRoom, m.handleRoomAck)
	t.On(models.EventDeviceDisconnected, m.handleDeviceDisconnected)
	if len(patientIDs) == 0 {
		t.On(models.EventVitalsUpdate, m.handleVitals)
		t.On(models.EventNewAlert, m.handleAlert)
		t.On(models.EventDeviceConnected, m.handleDeviceConnected)
	} else {
		t.On(models.EventPatientVitalsUpdate, m.handleVitals)
		t.On(models.EventPatientAlert, m.handleAlert)
		t.On(models.EventPatientDeviceConnected, m.handleDeviceConnected)
	}
	t.On(models.EventError, m.handleError)
	return m
}

// OnAlert 注册报警回调
func (m *Monitor) OnAlert(fn func(*models.Alert)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onAlert = fn
}

// OnConnected 注册连接建立回调（加入房间之后调用，重连后同样触发）
func (m *Monitor) OnConnected(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConnected = fn
}

// Stats 事件计数快照
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	alerts := make(map[models.Severity]int, len(m.stats.Alerts))
	for k, v := range m.stats.Alerts {
		alerts[k] = v
	}
	s := m.stats
	s.Alerts = alerts
	return s
}

// SendVitals 代设备上报样本（设备代理模式）
func (m *Monitor) SendVitals(data *models.VitalsData) error {
	return m.transport.Send(models.EventVitalsData, data)
}

// handleState 每次连上都重新加入房间：网关断线后不保留房间成员关系
func (m *Monitor) handleState(state transport.State) {
	m.logger.Info("Gateway connection state changed", zap.String("state", string(state)))
	if state != transport.StateConnected {
		return
	}
	for _, id := range m.patientIDs {
		if err := m.transport.Send(models.EventJoinRoom, models.RoomRequest{PatientID: id}); err != nil {
			m.logger.Warn("Failed to join patient room",
				zap.String("patient_id", id),
				zap.Error(err),
			)
		}
	}

	m.mu.Lock()
	fn := m.onConnected
	m.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (m *Monitor) handleConnection(data json.RawMessage) {
	var msg struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(data, &msg)
	m.logger.Info("Gateway greeting", zap.String("message", msg.Message))
}

func (m *Monitor) handleRoomAck(data json.RawMessage) {
	var msg struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(data, &msg)
	m.logger.Debug("Room membership changed", zap.String("message", msg.Message))
}

func (m *Monitor) handleVitals(data json.RawMessage) {
	var msg struct {
		VitalSigns models.StoredSample `json:"vitalSigns"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		m.logger.Warn("Malformed vitals update", zap.Error(err))
		return
	}

	m.mu.Lock()
	m.stats.Vitals++
	m.mu.Unlock()

	m.logger.Debug("Vitals update",
		zap.String("patient_id", msg.VitalSigns.PatientID),
		zap.String("sample_id", msg.VitalSigns.ID),
	)
}

func (m *Monitor) handleAlert(data json.RawMessage) {
	var msg struct {
		Alert models.Alert `json:"alert"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		m.logger.Warn("Malformed alert", zap.Error(err))
		return
	}
	alert := &msg.Alert

	m.mu.Lock()
	m.stats.Alerts[alert.Severity]++
	fn := m.onAlert
	m.mu.Unlock()

	m.logAlert("Patient alert", alert)

	if fn != nil {
		fn(alert)
	}
}

// ReportBacklog 记录启动前已触发但仍未解决的报警（不计入实时报警统计，不触发 OnAlert）
func (m *Monitor) ReportBacklog(alerts []*models.Alert) {
	m.mu.Lock()
	m.stats.Backlog += len(alerts)
	m.mu.Unlock()

	for _, alert := range alerts {
		m.logAlert("Unresolved alert", alert)
	}
}

func (m *Monitor) logAlert(msg string, alert *models.Alert) {
	fields := []zap.Field{
		zap.String("alert_id", alert.ID),
		zap.String("patient_id", alert.PatientID),
		zap.String("severity", string(alert.Severity)),
		zap.String("title", alert.Title),
		zap.String("message", alert.Message),
		zap.Time("triggered_at", alert.TriggeredAt),
	}
	if alert.Severity.AtLeast(models.SeverityHigh) {
		m.logger.Error(msg, fields...)
	} else {
		m.logger.Warn(msg, fields...)
	}
}

func (m *Monitor) handleDeviceConnected(data json.RawMessage) {
	var msg struct {
		Device models.Device `json:"device"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		m.logger.Warn("Malformed device event", zap.Error(err))
		return
	}

	m.mu.Lock()
	m.stats.DeviceUps++
	m.mu.Unlock()

	m.logger.Info("Device connected", zap.String("device_id", msg.Device.ID))
}

func (m *Monitor) handleDeviceDisconnected(data json.RawMessage) {
	var msg struct {
		Device models.Device `json:"device"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		m.logger.Warn("Malformed device event", zap.Error(err))
		return
	}

	m.mu.Lock()
	m.stats.DeviceDown++
	m.mu.Unlock()

	m.logger.Info("Device disconnected", zap.String("device_id", msg.Device.ID))
}

func (m *Monitor) handleError(data json.RawMessage) {
	var msg struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(data, &msg)

	m.mu.Lock()
	m.stats.Errors++
	m.mu.Unlock()

	m.logger.Warn("Gateway rejected message", zap.String("message", msg.Message))
}
