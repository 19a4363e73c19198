package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	rediscommon "wisefido-vitals/common/redis"
	"wisefido-vitals/internal/config"
	"wisefido-vitals/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type wsMessage struct {
	Event string                 `json:"event"`
	Data  map[string]interface{} `json:"data"`
}

func setupService(t *testing.T, mutate func(cfg *config.Config)) (*VitalsService, sqlmock.Sqlmock, *miniredis.Miniredis, *redis.Client) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.MatchExpectationsInOrder(false)
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := config.Default()
	cfg.Gateway.ListenAddr = "127.0.0.1:0"
	cfg.Ingest.Block = 20 * time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}

	return newVitalsService(cfg, db, redisClient, nil, zap.NewNop()), mock, mr, redisClient
}

func expectStoredSample(mock sqlmock.Sqlmock, id string) {
	mock.ExpectQuery("INSERT INTO vital_signs").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(id, time.Now()))
	mock.ExpectQuery("SELECT id, first_name, last_name, room").
		WillReturnError(sql.ErrNoRows)
}

func readUntil(t *testing.T, ws *websocket.Conn, event string) wsMessage {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var msg wsMessage
		require.NoError(t, ws.ReadJSON(&msg))
		if msg.Event == event {
			return msg
		}
	}
}

func TestVitalsService_WebsocketPipeline(t *testing.T) {
	svc, mock, mr, redisClient := setupService(t, nil)

	expectStoredSample(mock, "vs-1")
	mock.ExpectExec("INSERT INTO alerts").WillReturnResult(sqlmock.NewResult(0, 1))

	server := httptest.NewServer(svc.Handler())
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer ws.Close()

	readUntil(t, ws, models.EventConnection)

	require.NoError(t, ws.WriteJSON(map[string]interface{}{
		"event": "join_room",
		"data":  map[string]string{"patientId": "patient-1"},
	}))
	readUntil(t, ws, models.EventJoinedRoom)

	require.NoError(t, ws.WriteJSON(map[string]interface{}{
		"event": "vitals_data",
		"data": map[string]interface{}{
			"patientId": "patient-1",
			"vitals":    map[string]int{"systolicBP": 160, "diastolicBP": 100},
		},
	}))

	msg := readUntil(t, ws, models.EventPatientAlert)
	alert := msg.Data["alert"].(map[string]interface{})
	assert.Equal(t, "HIGH", alert["severity"])
	assert.Equal(t, "Blood pressure is 160/100 mmHg", alert["message"])

	require.Eventually(t, func() bool {
		return mr.Exists("vitals:patient:patient-1:realtime") && mr.Exists("vitals:patient:patient-1:alerts")
	}, 2*time.Second, 10*time.Millisecond)

	entries, err := redisClient.XRange(context.Background(), "vitals:alerts:stream", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVitalsService_Health(t *testing.T) {
	svc, _, _, _ := setupService(t, nil)

	rec := httptest.NewRecorder()
	svc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Code   int `json:"code"`
		Result struct {
			Connections int `json:"connections"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2000, body.Code)
	assert.Equal(t, 0, body.Result.Connections)
}

func TestVitalsService_UnresolvedAlerts(t *testing.T) {
	svc, mock, _, _ := setupService(t, nil)

	mock.ExpectQuery("FROM alerts").
		WithArgs(sqlmock.AnyArg(), 50).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "type", "severity", "title", "message", "patient_id",
			"is_read", "is_resolved", "resolved_at", "triggered_at",
		}).AddRow("a-1", "VITAL_SIGNS", "CRITICAL", "Abnormal Heart Rate", "Heart rate is 130 bpm", "patient-1",
			false, false, nil, time.Now()))

	rec := httptest.NewRecorder()
	svc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/alerts/unresolved?patientId=patient-1", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Code   int             `json:"code"`
		Result []*models.Alert `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2000, body.Code)
	require.Len(t, body.Result, 1)
	assert.Equal(t, "a-1", body.Result[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVitalsService_CacheDisabled(t *testing.T) {
	svc, _, _, _ := setupService(t, func(cfg *config.Config) {
		cfg.Cache.Enabled = false
		cfg.Ingest.AlertStream = ""
	})

	assert.Nil(t, svc.cacheManager)
	assert.Nil(t, svc.alertPublisher)
	assert.Nil(t, svc.streamConsumer)
	assert.Nil(t, svc.mqttConsumer)
}

func TestVitalsService_StartStreamIngestion(t *testing.T) {
	svc, mock, _, redisClient := setupService(t, func(cfg *config.Config) {
		cfg.Ingest.StreamEnabled = true
	})
	require.NotNil(t, svc.streamConsumer)

	expectStoredSample(mock, "vs-2")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()

	require.Eventually(t, func() bool {
		return redisClient.Exists(context.Background(), "vitals:data:stream").Val() == 1
	}, 2*time.Second, 10*time.Millisecond)

	_, err := rediscommon.PublishJSONToStream(context.Background(), redisClient, "vitals:data:stream", map[string]interface{}{
		"patientId": "patient-2",
		"vitals":    map[string]int{"heartRate": 72},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return mock.ExpectationsWereMet() == nil
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("service did not stop")
	}

	assert.NoError(t, svc.Stop())
}

func TestVitalsService_ShutdownClosesWebsockets(t *testing.T) {
	svc, _, _, _ := setupService(t, func(cfg *config.Config) {
		cfg.Cache.Enabled = false
		cfg.Ingest.AlertStream = ""
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()

	require.Eventually(t, func() bool { return svc.Addr() != nil }, 2*time.Second, 10*time.Millisecond)
	wsURL := "ws://" + svc.Addr().String() + "/ws"

	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer ws.Close()
	readUntil(t, ws, models.EventConnection)
	require.Eventually(t, func() bool { return svc.Gateway().Registry().Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("service did not stop")
	}

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			assert.False(t, errors.Is(err, os.ErrDeadlineExceeded), "websocket should be closed by shutdown")
			break
		}
	}

	_, _, err = websocket.DefaultDialer.Dial(wsURL, nil)
	assert.Error(t, err)
}

func TestNeedsRedis(t *testing.T) {
	cfg := config.Default()
	assert.True(t, needsRedis(cfg))

	cfg.Cache.Enabled = false
	cfg.Ingest.AlertStream = ""
	assert.False(t, needsRedis(cfg))

	cfg.Ingest.StreamEnabled = true
	assert.True(t, needsRedis(cfg))
}
