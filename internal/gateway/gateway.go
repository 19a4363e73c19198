package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"wisefido-vitals/internal/config"
	"wisefido-vitals/internal/evaluator"
	"wisefido-vitals/internal/fanout"
	"wisefido-vitals/internal/models"
	"wisefido-vitals/internal/registry"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const welcomeMessage = "Connected to vitals monitoring gateway"

// Gateway websocket 接入网关：连接登记、消息分发、样本处理流水线
type Gateway struct {
	cfg       *config.GatewayConfig
	registry  *registry.Registry
	fanout    *fanout.Coordinator
	evaluator *evaluator.Evaluator
	builder   *evaluator.AlertBuilder
	stores    Stores
	upgrader  websocket.Upgrader
	logger    *zap.Logger
	now       func() time.Time
}

// NewGateway 创建网关；注册表由网关持有，通过 Registry() 暴露给其他组件
func NewGateway(cfg *config.GatewayConfig, stores Stores, logger *zap.Logger) *Gateway {
	reg := registry.NewRegistry()
	return &Gateway{
		cfg:       cfg,
		registry:  reg,
		fanout:    fanout.NewCoordinator(reg, logger),
		evaluator: evaluator.NewEvaluator(),
		builder:   evaluator.NewAlertBuilder(),
		stores:    stores,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// 跨域由反向代理处理
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
		now:    time.Now,
	}
}

// Registry 连接注册表
func (g *Gateway) Registry() *registry.Registry {
	return g.registry
}

// Fanout 事件分发器
func (g *Gateway) Fanout() *fanout.Coordinator {
	return g.fanout
}

// ServeHTTP 升级为 websocket 并服务该连接，阻塞直到连接关闭
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader 已写回错误响应
		g.logger.Debug("Websocket upgrade failed", zap.Error(err))
		return
	}

	c := newConn(registry.ConnID(uuid.New().String()), ws, g.cfg.SendBufferSize)
	g.registry.Register(c.id, c)
	defer func() {
		g.registry.Unregister(c.id)
		c.close()
		g.logger.Info("Client disconnected", zap.String("conn_id", string(c.id)))
	}()

	g.logger.Info("Client connected",
		zap.String("conn_id", string(c.id)),
		zap.String("remote_addr", r.RemoteAddr),
	)

	g.reply(c.id, models.EventConnection, map[string]interface{}{
		"message":   welcomeMessage,
		"timestamp": g.now(),
	})

	go c.writePump(g.cfg.WriteTimeout, pingPeriod(g.cfg.PongWait))

	ctx := r.Context()
	c.readPump(g.cfg.ReadLimit, g.cfg.PongWait, func(raw []byte) {
		g.HandleMessage(ctx, c.id, raw)
	})
}

// CloseAll 关闭所有连接（服务停止时调用）
func (g *Gateway) CloseAll() {
	for _, id := range g.registry.AllConnections() {
		sender, ok := g.registry.Lookup(id)
		if !ok {
			continue
		}
		if c, ok := sender.(*conn); ok {
			c.close()
		}
	}
}

// HandleMessage 分发单条入站消息；解析或校验失败时只回复该连接 error 事件
func (g *Gateway) HandleMessage(ctx context.Context, id registry.ConnID, raw []byte) {
	env, err := models.DecodeEnvelope(raw)
	if err != nil {
		g.rejectMessage(id, "", err)
		return
	}

	switch env.Event {
	case models.EventJoinRoom:
		req, err := models.DecodeRoomRequest(env.Data)
		if err != nil {
			g.rejectMessage(id, env.Event, err)
			return
		}
		g.registry.Join(id, req.PatientID)
		g.reply(id, models.EventJoinedRoom, map[string]interface{}{
			"patientId": req.PatientID,
			"message":   fmt.Sprintf("Joined patient room: %s", req.PatientID),
		})

	case models.EventLeaveRoom:
		req, err := models.DecodeRoomRequest(env.Data)
		if err != nil {
			g.rejectMessage(id, env.Event, err)
			return
		}
		g.registry.Leave(id, req.PatientID)
		g.reply(id, models.EventLeftRoom, map[string]interface{}{
			"patientId": req.PatientID,
			"message":   fmt.Sprintf("Left patient room: %s", req.PatientID),
		})

	case models.EventDeviceConnect:
		req, err := models.DecodeDeviceConnect(env.Data)
		if err != nil {
			g.rejectMessage(id, env.Event, err)
			return
		}
		g.ConnectDevice(ctx, req.DeviceID, req.PatientID)

	case models.EventDeviceDisconnect:
		req, err := models.DecodeDeviceDisconnect(env.Data)
		if err != nil {
			g.rejectMessage(id, env.Event, err)
			return
		}
		g.DisconnectDevice(ctx, req.DeviceID)

	case models.EventVitalsData:
		data, err := models.DecodeVitalsData(env.Data)
		if err != nil {
			g.rejectMessage(id, env.Event, err)
			return
		}
		g.IngestVitals(ctx, data)

	default:
		g.rejectMessage(id, env.Event, fmt.Errorf("%w: unknown event %q", models.ErrInvalidPayload, env.Event))
	}
}

// ConnectDevice 绑定设备到患者并广播；协作者失败时只记录日志
func (g *Gateway) ConnectDevice(ctx context.Context, deviceID, patientID string) {
	if g.stores.Devices == nil {
		g.logger.Warn("Device store not configured, ignoring device_connect",
			zap.String("device_id", deviceID))
		return
	}

	device, err := g.stores.Devices.ConnectToPatient(ctx, deviceID, patientID)
	if err != nil {
		g.logger.Error("Failed to connect device",
			zap.String("device_id", deviceID),
			zap.String("patient_id", patientID),
			zap.Error(err),
		)
		return
	}
	g.fanout.BroadcastDeviceConnected(device, patientID)
}

// DisconnectDevice 解绑设备并全局广播
func (g *Gateway) DisconnectDevice(ctx context.Context, deviceID string) {
	if g.stores.Devices == nil {
		g.logger.Warn("Device store not configured, ignoring device_disconnect",
			zap.String("device_id", deviceID))
		return
	}

	device, err := g.stores.Devices.Disconnect(ctx, deviceID)
	if err != nil {
		g.logger.Error("Failed to disconnect device",
			zap.String("device_id", deviceID),
			zap.Error(err),
		)
		return
	}
	g.fanout.BroadcastDeviceDisconnected(device)
}

// IngestVitals 样本处理流水线（websocket / MQTT / Redis Streams 共用）
// 持久化失败不阻塞评估与广播；单个报警写入失败不影响其他报警
func (g *Gateway) IngestVitals(ctx context.Context, data *models.VitalsData) {
	sample := data.ToSample(g.now())

	// 1. 持久化样本
	stored, err := g.stores.Vitals.Insert(ctx, sample)
	if err != nil {
		g.logger.Error("Failed to persist vital sample, broadcasting unpersisted",
			zap.String("patient_id", sample.PatientID),
			zap.Error(err),
		)
		stored = &models.StoredSample{VitalsSample: *sample}
	}

	// 2. 补充患者 / 设备信息（仅用于展示）
	g.enrich(ctx, stored)

	// 3. 更新实时缓存
	if g.stores.Cache != nil {
		if err := g.stores.Cache.UpdateRealtimeData(ctx, stored); err != nil {
			g.logger.Warn("Failed to update realtime cache",
				zap.String("patient_id", sample.PatientID),
				zap.Error(err),
			)
		}
	}

	// 4. 广播样本
	g.fanout.BroadcastVitals(stored)

	// 5. 评估阈值
	candidates := g.evaluator.Evaluate(sample)

	// 6. 提交并广播报警；无报警时同样覆盖缓存，使其只反映最新样本
	alerts := make([]*models.Alert, 0, len(candidates))
	for _, candidate := range candidates {
		alerts = append(alerts, g.commitAlert(ctx, candidate))
	}

	if g.stores.Cache != nil {
		if err := g.stores.Cache.UpdateAlerts(ctx, sample.PatientID, alerts); err != nil {
			g.logger.Warn("Failed to update alert cache",
				zap.String("patient_id", sample.PatientID),
				zap.Error(err),
			)
		}
	}
}

func (g *Gateway) commitAlert(ctx context.Context, candidate models.AlertCandidate) *models.Alert {
	alert := g.builder.Build(candidate)

	if err := g.stores.Alerts.Create(ctx, alert); err != nil {
		g.logger.Error("Failed to persist alert",
			zap.String("alert_id", alert.ID),
			zap.String("patient_id", alert.PatientID),
			zap.String("severity", string(alert.Severity)),
			zap.Error(err),
		)
		// 继续广播，观察者可能看到未持久化的报警
	}

	if g.stores.Publisher != nil {
		if err := g.stores.Publisher.PublishAlert(ctx, alert); err != nil {
			g.logger.Warn("Failed to publish alert",
				zap.String("alert_id", alert.ID),
				zap.Error(err),
			)
		}
	}

	g.fanout.BroadcastAlert(alert)

	g.logger.Info("Alert triggered",
		zap.String("alert_id", alert.ID),
		zap.String("patient_id", alert.PatientID),
		zap.String("severity", string(alert.Severity)),
		zap.String("title", alert.Title),
	)
	return alert
}

func (g *Gateway) enrich(ctx context.Context, stored *models.StoredSample) {
	if g.stores.Patients != nil {
		patient, err := g.stores.Patients.GetPatient(ctx, stored.PatientID)
		if err != nil {
			g.logger.Debug("Patient lookup failed",
				zap.String("patient_id", stored.PatientID),
				zap.Error(err),
			)
		} else {
			stored.Patient = patient
		}
	}

	if g.stores.Devices != nil && stored.DeviceID != nil {
		device, err := g.stores.Devices.GetDevice(ctx, *stored.DeviceID)
		if err != nil {
			g.logger.Debug("Device lookup failed",
				zap.String("device_id", *stored.DeviceID),
				zap.Error(err),
			)
		} else {
			stored.Device = device.Summary()
		}
	}
}

func (g *Gateway) rejectMessage(id registry.ConnID, event string, err error) {
	g.logger.Warn("Rejected inbound message",
		zap.String("conn_id", string(id)),
		zap.String("event", event),
		zap.Error(err),
	)

	message := "invalid message"
	if errors.Is(err, models.ErrInvalidPayload) {
		message = err.Error()
	}
	g.reply(id, models.EventError, map[string]interface{}{
		"message":   message,
		"timestamp": g.now(),
	})
}

// reply 只发给指定连接
func (g *Gateway) reply(id registry.ConnID, event string, data interface{}) {
	sender, ok := g.registry.Lookup(id)
	if !ok {
		return
	}
	msg, err := fanout.Encode(event, data)
	if err != nil {
		g.logger.Error("Failed to encode reply", zap.String("event", event), zap.Error(err))
		return
	}
	if err := sender.Send(msg); err != nil {
		g.logger.Debug("Failed to send reply",
			zap.String("conn_id", string(id)),
			zap.String("event", event),
			zap.Error(err),
		)
	}
}

func pingPeriod(pongWait time.Duration) time.Duration {
	return (pongWait * 9) / 10
}
