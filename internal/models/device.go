package models

import (
	"fmt"
	"time"
)

// Device 设备查询投影（对应 devices 表）
type Device struct {
	ID           string     `json:"id" db:"id"`
	Name         string     `json:"name" db:"name"`
	Type         string     `json:"type" db:"type"`
	SerialNumber string     `json:"serialNumber" db:"serial_number"`
	BatteryLevel *int       `json:"batteryLevel,omitempty" db:"battery_level"`
	IsConnected  bool       `json:"isConnected" db:"is_connected"`
	PatientID    *string    `json:"patientId,omitempty" db:"patient_id"`
	LastSeen     *time.Time `json:"lastSeen,omitempty" db:"last_seen"`
}

// DeviceSummary 广播样本时附带的设备摘要
type DeviceSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// Summary 设备摘要
func (d *Device) Summary() *DeviceSummary {
	return &DeviceSummary{ID: d.ID, Name: d.Name, Type: d.Type}
}

// Patient 患者查询投影（对应 patients 表）
type Patient struct {
	ID        string `json:"id" db:"id"`
	FirstName string `json:"firstName" db:"first_name"`
	LastName  string `json:"lastName" db:"last_name"`
	Room      string `json:"room" db:"room"`
}

// BatteryReport 设备电量上报（MQTT devices/{deviceId}/battery）
type BatteryReport struct {
	BatteryLevel *int `json:"batteryLevel"`
}

// DecodeBatteryReport 严格解码电量上报，电量必须在 0-100
func DecodeBatteryReport(raw []byte) (*BatteryReport, error) {
	var report BatteryReport
	if err := decodeStrict(raw, &report); err != nil {
		return nil, err
	}
	if report.BatteryLevel == nil {
		return nil, fmt.Errorf("%w: batteryLevel is required", ErrInvalidPayload)
	}
	if *report.BatteryLevel < 0 || *report.BatteryLevel > 100 {
		return nil, fmt.Errorf("%w: batteryLevel out of range", ErrInvalidPayload)
	}
	return &report, nil
}
