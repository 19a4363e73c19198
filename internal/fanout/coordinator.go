package fanout

import (
	"encoding/json"
	"time"

	"wisefido-vitals/internal/models"
	"wisefido-vitals/internal/registry"

	"go.uber.org/zap"
)

// Directory 连接目录（由 registry.Registry 实现）
type Directory interface {
	AllConnections() []registry.ConnID
	MembersOf(room string) []registry.ConnID
	Lookup(id registry.ConnID) (registry.Sender, bool)
}

// Coordinator 报警 / 样本 / 设备事件分发器
// 单个接收方发送失败只记录日志，不影响其他接收方，也不返回给调用方
type Coordinator struct {
	dir    Directory
	logger *zap.Logger
	now    func() time.Time
}

// NewCoordinator 创建分发器
func NewCoordinator(dir Directory, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		dir:    dir,
		logger: logger,
		now:    time.Now,
	}
}

// SetClock 替换分发时间来源（测试用）
func (c *Coordinator) SetClock(now func() time.Time) {
	c.now = now
}

// BroadcastVitals vitals_update（全局）+ patient_vitals_update（患者房间）
func (c *Coordinator) BroadcastVitals(sample *models.StoredSample) {
	c.dispatch(sample.PatientID, models.EventVitalsUpdate, models.EventPatientVitalsUpdate, "vitalSigns", sample)
}

// BroadcastAlert new_alert（全局）+ patient_alert（患者房间）
func (c *Coordinator) BroadcastAlert(alert *models.Alert) {
	c.dispatch(alert.PatientID, models.EventNewAlert, models.EventPatientAlert, "alert", alert)
}

// BroadcastDeviceConnected device_connected（全局）+ patient_device_connected（患者房间）
func (c *Coordinator) BroadcastDeviceConnected(device *models.Device, patientID string) {
	c.dispatch(patientID, models.EventDeviceConnected, models.EventPatientDeviceConnected, "device", device)
}

// BroadcastDeviceDisconnected device_disconnected（仅全局）
func (c *Coordinator) BroadcastDeviceDisconnected(device *models.Device) {
	c.dispatch("", models.EventDeviceDisconnected, "", "device", device)
}

func (c *Coordinator) dispatch(room, globalEvent, roomEvent, key string, payload interface{}) {
	ts := c.now()

	if globalEvent != "" {
		c.sendAll(c.dir.AllConnections(), globalEvent, key, payload, ts)
	}
	if roomEvent != "" && room != "" {
		c.sendAll(c.dir.MembersOf(room), roomEvent, key, payload, ts)
	}
}

func (c *Coordinator) sendAll(targets []registry.ConnID, event, key string, payload interface{}, ts time.Time) {
	if len(targets) == 0 {
		return
	}

	msg, err := Encode(event, map[string]interface{}{
		key:         payload,
		"timestamp": ts,
	})
	if err != nil {
		c.logger.Error("Failed to encode outbound event",
			zap.String("event", event),
			zap.Error(err),
		)
		return
	}

	for _, id := range targets {
		sender, ok := c.dir.Lookup(id)
		if !ok {
			continue
		}
		if err := sender.Send(msg); err != nil {
			c.logger.Debug("Failed to deliver event, skipping recipient",
				zap.String("event", event),
				zap.String("conn_id", string(id)),
				zap.Error(err),
			)
		}
	}
}

// Encode 编码出站消息 {"event": ..., "data": ...}
func Encode(event string, data interface{}) ([]byte, error) {
	return json.Marshal(struct {
		Event string      `json:"event"`
		Data  interface{} `json:"data"`
	}{Event: event, Data: data})
}
