package models

import (
	"encoding/json"
	"fmt"
)

// 入站事件
const (
	EventJoinRoom         = "join_room"
	EventLeaveRoom        = "leave_room"
	EventDeviceConnect    = "device_connect"
	EventDeviceDisconnect = "device_disconnect"
	EventVitalsData       = "vitals_data"
)

// 出站事件
const (
	EventConnection             = "connection"
	EventJoinedRoom             = "joined_room"
	EventLeftRoom               = "left_room"
	EventDeviceConnected        = "device_connected"
	EventPatientDeviceConnected = "patient_device_connected"
	EventDeviceDisconnected     = "device_disconnected"
	EventVitalsUpdate           = "vitals_update"
	EventPatientVitalsUpdate    = "patient_vitals_update"
	EventNewAlert               = "new_alert"
	EventPatientAlert           = "patient_alert"
	EventError                  = "error"
)

// Envelope websocket 消息外壳
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// DecodeEnvelope 解析消息外壳，event 不能为空
func DecodeEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := decodeStrict(raw, &env); err != nil {
		return nil, err
	}
	if env.Event == "" {
		return nil, fmt.Errorf("%w: event is required", ErrInvalidPayload)
	}
	return &env, nil
}

// RoomRequest join_room / leave_room
type RoomRequest struct {
	PatientID string `json:"patientId"`
}

// DeviceConnectRequest device_connect
type DeviceConnectRequest struct {
	DeviceID  string `json:"deviceId"`
	PatientID string `json:"patientId"`
}

// DeviceDisconnectRequest device_disconnect
type DeviceDisconnectRequest struct {
	DeviceID string `json:"deviceId"`
}

// DecodeRoomRequest 解析房间请求
func DecodeRoomRequest(raw []byte) (*RoomRequest, error) {
	var req RoomRequest
	if err := decodeStrict(raw, &req); err != nil {
		return nil, err
	}
	if req.PatientID == "" {
		return nil, fmt.Errorf("%w: patientId is required", ErrInvalidPayload)
	}
	return &req, nil
}

// DecodeDeviceConnect 解析设备绑定请求
func DecodeDeviceConnect(raw []byte) (*DeviceConnectRequest, error) {
	var req DeviceConnectRequest
	if err := decodeStrict(raw, &req); err != nil {
		return nil, err
	}
	if req.DeviceID == "" || req.PatientID == "" {
		return nil, fmt.Errorf("%w: deviceId and patientId are required", ErrInvalidPayload)
	}
	return &req, nil
}

// DecodeDeviceDisconnect 解析设备解绑请求
func DecodeDeviceDisconnect(raw []byte) (*DeviceDisconnectRequest, error) {
	var req DeviceDisconnectRequest
	if err := decodeStrict(raw, &req); err != nil {
		return nil, err
	}
	if req.DeviceID == "" {
		return nil, fmt.Errorf("%w: deviceId is required", ErrInvalidPayload)
	}
	return &req, nil
}
