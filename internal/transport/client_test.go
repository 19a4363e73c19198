package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeConn 可控的 websocket 连接
type fakeConn struct {
	inbound chan []byte
	closed  chan struct{}
	once    sync.Once

	mu      sync.Mutex
	written [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 8),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case msg := <-c.inbound:
		return websocket.TextMessage, msg, nil
	case <-c.closed:
		return 0, nil, errors.New("connection closed")
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, data)
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.written...)
}

// fakeDialer 按顺序返回预置结果，超出部分返回错误
type fakeDialer struct {
	mu      sync.Mutex
	results []*fakeConn
	calls   int
}

func (d *fakeDialer) dial(context.Context, string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := d.calls
	d.calls++
	if i < len(d.results) && d.results[i] != nil {
		return d.results[i], nil
	}
	return nil, errors.New("connection refused")
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type fakeTimer struct {
	stopped atomic.Bool
}

func (t *fakeTimer) Stop() bool {
	return !t.stopped.Swap(true)
}

// fakeScheduler 记录重连延迟，由测试手动触发
type fakeScheduler struct {
	mu     sync.Mutex
	delays []time.Duration
	funcs  []func()
	timers []*fakeTimer
}

func (s *fakeScheduler) after(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{}
	s.delays = append(s.delays, d)
	s.funcs = append(s.funcs, f)
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.delays)
}

func (s *fakeScheduler) fire(i int) {
	s.mu.Lock()
	f := s.funcs[i]
	s.mu.Unlock()
	f()
}

func (s *fakeScheduler) delay(i int) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delays[i]
}

func newTestClient(d *fakeDialer, s *fakeScheduler) *Client {
	c := NewClient("ws://gateway.test/ws", zap.NewNop())
	c.dialFn = d.dial
	c.afterFn = s.after
	return c
}

func waitState(t *testing.T, c *Client, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return c.State() == want }, time.Second, 5*time.Millisecond,
		"state never became %s (last %s)", want, c.State())
}

func waitScheduled(t *testing.T, s *fakeScheduler, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return s.count() == n }, time.Second, 5*time.Millisecond)
}

func TestClient_InitialStateDisconnected(t *testing.T) {
	c := NewClient("ws://gateway.test/ws", zap.NewNop())

	assert.Equal(t, StateDisconnected, c.State())
	assert.NoError(t, c.Send("join_room", map[string]string{"patientId": "p-1"}))
}

func TestClient_ConnectResetsRetries(t *testing.T) {
	first, second := newFakeConn(), newFakeConn()
	d := &fakeDialer{results: []*fakeConn{first, second}}
	s := &fakeScheduler{}
	c := newTestClient(d, s)

	c.Connect()
	waitState(t, c, StateConnected)

	first.Close()
	waitScheduled(t, s, 1)
	assert.Equal(t, 3*time.Second, s.delay(0))
	assert.Equal(t, 1, c.Retries())

	s.fire(0)
	waitState(t, c, StateConnected)
	assert.Equal(t, 0, c.Retries())

	c.Disconnect()
}

func TestClient_LinearBackoffSchedule(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{results: []*fakeConn{conn}}
	s := &fakeScheduler{}
	c := newTestClient(d, s)

	c.Connect()
	waitState(t, c, StateConnected)

	// 连接关闭，之后每次拨号都失败
	conn.Close()
	waitScheduled(t, s, 1)
	s.fire(0)
	waitScheduled(t, s, 2)
	s.fire(1)
	waitScheduled(t, s, 3)

	assert.Equal(t, 3*time.Second, s.delay(0))
	assert.Equal(t, 6*time.Second, s.delay(1))
	assert.Equal(t, 9*time.Second, s.delay(2))

	s.fire(2)
	waitScheduled(t, s, 4)
	assert.Equal(t, 12*time.Second, s.delay(3))
	s.fire(3)
	waitScheduled(t, s, 5)
	assert.Equal(t, 15*time.Second, s.delay(4))

	// 第 5 次重连失败后不再调度
	s.fire(4)
	require.Eventually(t, func() bool { return d.count() == 6 }, time.Second, 5*time.Millisecond)
	waitState(t, c, StateDisconnected)
	assert.Never(t, func() bool { return s.count() > 5 }, 100*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, StateDisconnected, c.State())
	assert.Equal(t, 5, c.Retries())
}

func TestClient_ConnectAfterGivingUp(t *testing.T) {
	revived := newFakeConn()
	// 首次拨号失败并耗尽 5 次重连，第 7 次成功
	d := &fakeDialer{results: []*fakeConn{nil, nil, nil, nil, nil, nil, revived}}
	s := &fakeScheduler{}
	c := newTestClient(d, s)

	c.Connect()
	for i := 0; i < 5; i++ {
		waitScheduled(t, s, i+1)
		s.fire(i)
	}
	require.Eventually(t, func() bool { return d.count() == 6 }, time.Second, 5*time.Millisecond)
	waitState(t, c, StateDisconnected)

	c.Connect()
	waitState(t, c, StateConnected)
	assert.Equal(t, 0, c.Retries())
	c.Disconnect()
}

func TestClient_DisconnectCancelsPendingReconnect(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{results: []*fakeConn{conn}}
	s := &fakeScheduler{}
	c := newTestClient(d, s)

	c.Connect()
	waitState(t, c, StateConnected)
	conn.Close()
	waitScheduled(t, s, 1)

	c.Disconnect()
	assert.True(t, s.timers[0].stopped.Load())

	// 即使定时器已经触发也不会重连
	s.fire(0)
	assert.Equal(t, StateDisconnected, c.State())
	assert.Equal(t, 1, d.count())
}

func TestClient_SendWhenConnected(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{results: []*fakeConn{conn}}
	c := newTestClient(d, &fakeScheduler{})

	c.Connect()
	waitState(t, c, StateConnected)

	require.NoError(t, c.Send("join_room", map[string]string{"patientId": "p-1"}))

	writes := conn.writes()
	require.Len(t, writes, 1)
	assert.JSONEq(t, `{"event":"join_room","data":{"patientId":"p-1"}}`, string(writes[0]))

	c.Disconnect()
	require.NoError(t, c.Send("join_room", map[string]string{"patientId": "p-2"}))
	assert.Len(t, conn.writes(), 1)
}

func TestClient_MalformedInboundDiscarded(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{results: []*fakeConn{conn}}
	c := newTestClient(d, &fakeScheduler{})

	received := make(chan string, 4)
	c.On("new_alert", func(data json.RawMessage) {
		var payload struct {
			Alert struct {
				Message string `json:"message"`
			} `json:"alert"`
		}
		if err := json.Unmarshal(data, &payload); err == nil {
			received <- payload.Alert.Message
		}
	})

	c.Connect()
	waitState(t, c, StateConnected)

	conn.inbound <- []byte("not json")
	conn.inbound <- []byte(`{"data":{}}`)
	conn.inbound <- []byte(`{"event":"new_alert","data":{"alert":{"message":"Heart rate is 125 bpm"}}}`)

	select {
	case msg := <-received:
		assert.Equal(t, "Heart rate is 125 bpm", msg)
	case <-time.After(time.Second):
		t.Fatal("handler not called")
	}
	assert.Equal(t, StateConnected, c.State())
	c.Disconnect()
}

func TestClient_OnStateChange(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{results: []*fakeConn{conn}}
	s := &fakeScheduler{}
	c := newTestClient(d, s)

	c.Connect()
	waitState(t, c, StateConnected)

	var mu sync.Mutex
	var states []State
	snapshot := func() []State {
		mu.Lock()
		defer mu.Unlock()
		return append([]State(nil), states...)
	}
	c.OnStateChange(func(st State) {
		mu.Lock()
		states = append(states, st)
		mu.Unlock()
	})

	conn.Close()
	require.Eventually(t, func() bool { return len(snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []State{StateDisconnected, StateReconnecting}, snapshot())

	c.Disconnect()
	assert.Equal(t, []State{StateDisconnected, StateReconnecting, StateDisconnected}, snapshot())
}

func TestClient_WebsocketServer(t *testing.T) {
	upgrader := websocket.Upgrader{}
	joined := make(chan string, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		ws.WriteJSON(map[string]interface{}{ //nolint:errcheck
			"event": "connection",
			"data":  map[string]string{"message": "welcome"},
		})
		var msg struct {
			Event string `json:"event"`
			Data  struct {
				PatientID string `json:"patientId"`
			} `json:"data"`
		}
		if err := ws.ReadJSON(&msg); err == nil {
			joined <- msg.Data.PatientID
		}
		ws.ReadMessage() //nolint:errcheck
	}))
	defer srv.Close()

	c := NewClient("ws"+strings.TrimPrefix(srv.URL, "http"), zap.NewNop())
	welcomed := make(chan struct{}, 1)
	c.On("connection", func(json.RawMessage) { welcomed <- struct{}{} })

	c.Connect()
	select {
	case <-welcomed:
	case <-time.After(3 * time.Second):
		t.Fatal("welcome not received")
	}
	require.Equal(t, StateConnected, c.State())

	require.NoError(t, c.Send("join_room", map[string]string{"patientId": "patient-1"}))
	select {
	case id := <-joined:
		assert.Equal(t, "patient-1", id)
	case <-time.After(3 * time.Second):
		t.Fatal("join_room not received by server")
	}

	c.Disconnect()
	assert.Equal(t, StateDisconnected, c.State())
}
