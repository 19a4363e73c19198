package fanout

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"wisefido-vitals/internal/models"
	"wisefido-vitals/internal/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingSender struct {
	mu       sync.Mutex
	messages [][]byte
	err      error
}

func (s *recordingSender) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.messages = append(s.messages, payload)
	return nil
}

func (s *recordingSender) events(t *testing.T) []map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]interface{}, 0, len(s.messages))
	for _, m := range s.messages {
		var decoded map[string]interface{}
		require.NoError(t, json.Unmarshal(m, &decoded))
		out = append(out, decoded)
	}
	return out
}

func setupCoordinator() (*registry.Registry, *Coordinator) {
	reg := registry.NewRegistry()
	c := NewCoordinator(reg, zap.NewNop())
	return reg, c
}

func TestCoordinator_BroadcastAlert_GlobalAndRoom(t *testing.T) {
	reg, c := setupCoordinator()
	dispatched := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c.SetClock(func() time.Time { return dispatched })

	watcher := &recordingSender{}
	dashboard := &recordingSender{}
	reg.Register("watcher", watcher)
	reg.Register("dashboard", dashboard)
	reg.Join("watcher", "patient-1")

	c.BroadcastAlert(&models.Alert{
		ID:        "alert-1",
		PatientID: "patient-1",
		Message:   "Heart rate is 125 bpm",
	})

	watcherEvents := watcher.events(t)
	require.Len(t, watcherEvents, 2)
	assert.Equal(t, models.EventNewAlert, watcherEvents[0]["event"])
	assert.Equal(t, models.EventPatientAlert, watcherEvents[1]["event"])

	data := watcherEvents[1]["data"].(map[string]interface{})
	assert.Equal(t, "2024-05-01T12:00:00Z", data["timestamp"])
	alert := data["alert"].(map[string]interface{})
	assert.Equal(t, "alert-1", alert["id"])

	dashboardEvents := dashboard.events(t)
	require.Len(t, dashboardEvents, 1)
	assert.Equal(t, models.EventNewAlert, dashboardEvents[0]["event"])
}

func TestCoordinator_FailingRecipientIsolated(t *testing.T) {
	reg, c := setupCoordinator()

	broken := &recordingSender{err: errors.New("connection closed")}
	healthy := &recordingSender{}
	reg.Register("a", broken)
	reg.Register("b", healthy)
	reg.Join("a", "patient-1")
	reg.Join("b", "patient-1")

	assert.NotPanics(t, func() {
		c.BroadcastAlert(&models.Alert{ID: "alert-1", PatientID: "patient-1"})
	})

	events := healthy.events(t)
	require.Len(t, events, 2)
	assert.Equal(t, models.EventNewAlert, events[0]["event"])
	assert.Equal(t, models.EventPatientAlert, events[1]["event"])
}

func TestCoordinator_BroadcastVitals(t *testing.T) {
	reg, c := setupCoordinator()
	member := &recordingSender{}
	reg.Register("m", member)
	reg.Join("m", "patient-1")

	hr := 72
	c.BroadcastVitals(&models.StoredSample{
		ID: "vs-1",
		VitalsSample: models.VitalsSample{
			PatientID: "patient-1",
			Vitals:    models.Vitals{HeartRate: &hr},
			Timestamp: time.Now(),
		},
	})

	events := member.events(t)
	require.Len(t, events, 2)
	assert.Equal(t, models.EventVitalsUpdate, events[0]["event"])
	assert.Equal(t, models.EventPatientVitalsUpdate, events[1]["event"])
	vs := events[0]["data"].(map[string]interface{})["vitalSigns"].(map[string]interface{})
	assert.Equal(t, "vs-1", vs["id"])
	assert.Equal(t, float64(72), vs["vitals"].(map[string]interface{})["heartRate"])
}

func TestCoordinator_DeviceEvents(t *testing.T) {
	reg, c := setupCoordinator()
	member := &recordingSender{}
	reg.Register("m", member)
	reg.Join("m", "patient-1")

	device := &models.Device{ID: "dev-1", Name: "Watch"}
	c.BroadcastDeviceConnected(device, "patient-1")
	c.BroadcastDeviceDisconnected(device)

	events := member.events(t)
	require.Len(t, events, 3)
	assert.Equal(t, models.EventDeviceConnected, events[0]["event"])
	assert.Equal(t, models.EventPatientDeviceConnected, events[1]["event"])
	assert.Equal(t, models.EventDeviceDisconnected, events[2]["event"])
}

func TestCoordinator_SkipsConnectionsGoneSinceSnapshot(t *testing.T) {
	c := NewCoordinator(&staleDirectory{}, zap.NewNop())

	assert.NotPanics(t, func() {
		c.BroadcastAlert(&models.Alert{ID: "alert-1", PatientID: "patient-1"})
	})
}

type staleDirectory struct{}

func (staleDirectory) AllConnections() []registry.ConnID { return []registry.ConnID{"gone"} }
func (staleDirectory) MembersOf(string) []registry.ConnID {
	return []registry.ConnID{"gone"}
}
func (staleDirectory) Lookup(registry.ConnID) (registry.Sender, bool) { return nil, false }

func TestEncode(t *testing.T) {
	raw, err := Encode("error", map[string]string{"message": "bad"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"error","data":{"message":"bad"}}`, string(raw))
}
