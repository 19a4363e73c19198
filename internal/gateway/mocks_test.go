package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"wisefido-vitals/internal/models"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockVitalSignsStore is a mock implementation of VitalSignsStore
type MockVitalSignsStore struct {
	mock.Mock
}

func (m *MockVitalSignsStore) Insert(ctx context.Context, sample *models.VitalsSample) (*models.StoredSample, error) {
	args := m.Called(ctx, sample)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	if fn, ok := args.Get(0).(func(*models.VitalsSample) *models.StoredSample); ok {
		return fn(sample), args.Error(1)
	}
	return args.Get(0).(*models.StoredSample), args.Error(1)
}

// MockAlertStore is a mock implementation of AlertStore
type MockAlertStore struct {
	mock.Mock
}

func (m *MockAlertStore) Create(ctx context.Context, alert *models.Alert) error {
	args := m.Called(ctx, alert)
	return args.Error(0)
}

// MockDeviceStore is a mock implementation of DeviceStore
type MockDeviceStore struct {
	mock.Mock
}

func (m *MockDeviceStore) GetDevice(ctx context.Context, deviceID string) (*models.Device, error) {
	args := m.Called(ctx, deviceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Device), args.Error(1)
}

func (m *MockDeviceStore) ConnectToPatient(ctx context.Context, deviceID, patientID string) (*models.Device, error) {
	args := m.Called(ctx, deviceID, patientID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Device), args.Error(1)
}

func (m *MockDeviceStore) Disconnect(ctx context.Context, deviceID string) (*models.Device, error) {
	args := m.Called(ctx, deviceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Device), args.Error(1)
}

// MockPatientStore is a mock implementation of PatientStore
type MockPatientStore struct {
	mock.Mock
}

func (m *MockPatientStore) GetPatient(ctx context.Context, patientID string) (*models.Patient, error) {
	args := m.Called(ctx, patientID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Patient), args.Error(1)
}

// MockRealtimeCache is a mock implementation of RealtimeCache
type MockRealtimeCache struct {
	mock.Mock
}

func (m *MockRealtimeCache) UpdateRealtimeData(ctx context.Context, sample *models.StoredSample) error {
	args := m.Called(ctx, sample)
	return args.Error(0)
}

func (m *MockRealtimeCache) UpdateAlerts(ctx context.Context, patientID string, alerts []*models.Alert) error {
	args := m.Called(ctx, patientID, alerts)
	return args.Error(0)
}

// MockAlertPublisher is a mock implementation of AlertPublisher
type MockAlertPublisher struct {
	mock.Mock
}

func (m *MockAlertPublisher) PublishAlert(ctx context.Context, alert *models.Alert) error {
	args := m.Called(ctx, alert)
	return args.Error(0)
}

// recordingSender 记录发给某个连接的消息
type recordingSender struct {
	mu       sync.Mutex
	messages [][]byte
}

func (s *recordingSender) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, payload)
	return nil
}

type outbound struct {
	Event string                 `json:"event"`
	Data  map[string]interface{} `json:"data"`
}

func (s *recordingSender) events(t *testing.T) []outbound {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]outbound, 0, len(s.messages))
	for _, m := range s.messages {
		var o outbound
		require.NoError(t, json.Unmarshal(m, &o))
		out = append(out, o)
	}
	return out
}

func (s *recordingSender) eventNames(t *testing.T) []string {
	var names []string
	for _, e := range s.events(t) {
		names = append(names, e.Event)
	}
	return names
}
