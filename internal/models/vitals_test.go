package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeVitalsData_Success(t *testing.T) {
	raw := []byte(`{"patientId":"p-1","deviceId":"d-1","vitals":{"heartRate":72,"temperature":98.6}}`)

	data, err := DecodeVitalsData(raw)

	require.NoError(t, err)
	assert.Equal(t, "p-1", data.PatientID)
	require.NotNil(t, data.DeviceID)
	assert.Equal(t, "d-1", *data.DeviceID)
	assert.Equal(t, 72, *data.Vitals.HeartRate)
	assert.Equal(t, 98.6, *data.Vitals.Temperature)
	assert.Nil(t, data.Vitals.SystolicBP)
	assert.Nil(t, data.Timestamp)
}

func TestDecodeVitalsData_RejectsUnknownField(t *testing.T) {
	raw := []byte(`{"patientId":"p-1","vitals":{"heartRate":72,"bloodSugar":5}}`)

	_, err := DecodeVitalsData(raw)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidPayload))
}

func TestDecodeVitalsData_RejectsWrongType(t *testing.T) {
	_, err := DecodeVitalsData([]byte(`{"patientId":"p-1","vitals":{"heartRate":"fast"}}`))
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = DecodeVitalsData([]byte(`{"patientId":"p-1","vitals":{"heartRate":72.5}}`))
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestDecodeVitalsData_RequiresPatientID(t *testing.T) {
	_, err := DecodeVitalsData([]byte(`{"vitals":{"heartRate":72}}`))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "patientId is required")
}

func TestDecodeVitalsData_RejectsNegative(t *testing.T) {
	_, err := DecodeVitalsData([]byte(`{"patientId":"p-1","vitals":{"oxygenSaturation":-1}}`))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "oxygenSaturation")
}

func TestDecodeVitalsData_EmptyDeviceIDBecomesNil(t *testing.T) {
	data, err := DecodeVitalsData([]byte(`{"patientId":"p-1","deviceId":"","vitals":{}}`))

	require.NoError(t, err)
	assert.Nil(t, data.DeviceID)
	assert.True(t, data.Vitals.IsEmpty())
}

func TestVitalsData_ToSample(t *testing.T) {
	received := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	data := &VitalsData{PatientID: "p-1"}
	sample := data.ToSample(received)
	assert.Equal(t, received, sample.Timestamp)

	reported := received.Add(-time.Minute)
	data.Timestamp = &reported
	sample = data.ToSample(received)
	assert.Equal(t, reported, sample.Timestamp)
}

func TestDecodeEnvelope(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"event":"join_room","data":{"patientId":"p-1"}}`))
	require.NoError(t, err)
	assert.Equal(t, EventJoinRoom, env.Event)

	req, err := DecodeRoomRequest(env.Data)
	require.NoError(t, err)
	assert.Equal(t, "p-1", req.PatientID)

	_, err = DecodeEnvelope([]byte(`not json`))
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = DecodeEnvelope([]byte(`{"data":{}}`))
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestAlert_Resolve(t *testing.T) {
	alert := &Alert{ID: "a-1"}
	at := time.Now()

	alert.Resolve(at)

	assert.True(t, alert.IsResolved)
	require.NotNil(t, alert.ResolvedAt)
	assert.Equal(t, at, *alert.ResolvedAt)
}

func TestSeverity_Order(t *testing.T) {
	assert.True(t, SeverityCritical.AtLeast(SeverityHigh))
	assert.True(t, SeverityHigh.AtLeast(SeverityMedium))
	assert.True(t, SeverityMedium.AtLeast(SeverityLow))
	assert.False(t, SeverityLow.AtLeast(SeverityMedium))
	assert.Equal(t, 0, Severity("UNKNOWN").Rank())
}

func TestDecodeBatteryReport(t *testing.T) {
	report, err := DecodeBatteryReport([]byte(`{"batteryLevel":42}`))
	require.NoError(t, err)
	assert.Equal(t, 42, *report.BatteryLevel)

	_, err = DecodeBatteryReport([]byte(`{"batteryLevel":101}`))
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = DecodeBatteryReport([]byte(`{}`))
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = DecodeBatteryReport([]byte(`{"batteryLevel":50,"voltage":3.7}`))
	assert.ErrorIs(t, err, ErrInvalidPayload)
}
