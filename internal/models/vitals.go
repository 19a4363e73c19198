package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidPayload 入站数据未通过边界校验
var ErrInvalidPayload = errors.New("invalid payload")

// Vitals 生命体征测量值（全部可选；未上报的字段为 nil）
type Vitals struct {
	HeartRate        *int     `json:"heartRate,omitempty"`
	SystolicBP       *int     `json:"systolicBP,omitempty"`
	DiastolicBP      *int     `json:"diastolicBP,omitempty"`
	Temperature      *float64 `json:"temperature,omitempty"` // °F
	OxygenSaturation *int     `json:"oxygenSaturation,omitempty"`
	RespiratoryRate  *int     `json:"respiratoryRate,omitempty"`
	Steps            *int     `json:"steps,omitempty"`
	Calories         *int     `json:"calories,omitempty"`
	SleepScore       *int     `json:"sleepScore,omitempty"`
	StressLevel      *int     `json:"stressLevel,omitempty"`
	HRV              *int     `json:"hrv,omitempty"`
	VO2Max           *int     `json:"vo2Max,omitempty"`
}

// IsEmpty 所有字段均未上报
func (v Vitals) IsEmpty() bool {
	return v == Vitals{}
}

// Validate 测量值不能为负数，体温必须是有限值
func (v Vitals) Validate() error {
	ints := []struct {
		name  string
		value *int
	}{
		{"heartRate", v.HeartRate},
		{"systolicBP", v.SystolicBP},
		{"diastolicBP", v.DiastolicBP},
		{"oxygenSaturation", v.OxygenSaturation},
		{"respiratoryRate", v.RespiratoryRate},
		{"steps", v.Steps},
		{"calories", v.Calories},
		{"sleepScore", v.SleepScore},
		{"stressLevel", v.StressLevel},
		{"hrv", v.HRV},
		{"vo2Max", v.VO2Max},
	}
	for _, f := range ints {
		if f.value != nil && *f.value < 0 {
			return fmt.Errorf("%w: %s must not be negative", ErrInvalidPayload, f.name)
		}
	}
	if v.Temperature != nil {
		t := *v.Temperature
		if math.IsNaN(t) || math.IsInf(t, 0) || t < 0 {
			return fmt.Errorf("%w: temperature out of range", ErrInvalidPayload)
		}
	}
	return nil
}

// VitalsSample 一次测量样本（构造后不可修改，原样持久化）
type VitalsSample struct {
	PatientID string    `json:"patientId"`
	DeviceID  *string   `json:"deviceId,omitempty"`
	Vitals    Vitals    `json:"vitals"`
	Timestamp time.Time `json:"timestamp"`
}

// StoredSample 已写入（或写入失败但仍需广播）的样本
// ID 为空表示持久化失败
type StoredSample struct {
	ID string `json:"id,omitempty"`
	VitalsSample
	CreatedAt *time.Time     `json:"createdAt,omitempty"`
	Patient   *Patient       `json:"patient,omitempty"`
	Device    *DeviceSummary `json:"device,omitempty"`
}

// VitalsData vitals_data 消息体（websocket / MQTT / Redis Streams 共用）
type VitalsData struct {
	PatientID string     `json:"patientId"`
	DeviceID  *string    `json:"deviceId,omitempty"`
	Vitals    Vitals     `json:"vitals"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// DecodeVitalsData 严格解码 vitals_data：未知字段、类型错误、缺少 patientId 均拒绝
func DecodeVitalsData(raw []byte) (*VitalsData, error) {
	var data VitalsData
	if err := decodeStrict(raw, &data); err != nil {
		return nil, err
	}
	if data.PatientID == "" {
		return nil, fmt.Errorf("%w: patientId is required", ErrInvalidPayload)
	}
	if data.DeviceID != nil && *data.DeviceID == "" {
		data.DeviceID = nil
	}
	if err := data.Vitals.Validate(); err != nil {
		return nil, err
	}
	return &data, nil
}

// ToSample 构造样本；未携带时间戳时使用接收时间
func (d *VitalsData) ToSample(receivedAt time.Time) *VitalsSample {
	ts := receivedAt
	if d.Timestamp != nil && !d.Timestamp.IsZero() {
		ts = *d.Timestamp
	}
	return &VitalsSample{
		PatientID: d.PatientID,
		DeviceID:  d.DeviceID,
		Vitals:    d.Vitals,
		Timestamp: ts,
	}
}

func decodeStrict(raw []byte, dest interface{}) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return fmt.Errorf("%w: empty body", ErrInvalidPayload)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data", ErrInvalidPayload)
	}
	return nil
}
