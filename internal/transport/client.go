package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// State 连接状态
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

const (
	// DefaultMaxRetries 自动重连次数上限
	DefaultMaxRetries = 5
	// DefaultRetryDelay 线性退避步长：第 n 次重连等待 n × 3s
	DefaultRetryDelay = 3 * time.Second

	dialTimeout = 10 * time.Second
)

// Handler 入站事件处理函数
type Handler func(data json.RawMessage)

// Conn 客户端使用的 websocket 连接子集
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Timer 可取消的定时任务
type Timer interface {
	Stop() bool
}

type dialFunc func(ctx context.Context, url string) (Conn, error)

type afterFunc func(d time.Duration, f func()) Timer

func defaultDial(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func defaultAfter(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Client 带自动重连的 websocket 客户端
//
// 状态机：disconnected → connecting → connected → disconnected → reconnecting → connecting ...
// 连接关闭或拨号失败后按 3s、6s、9s、12s、15s 线性退避重连，5 次后停在 disconnected，
// 直到调用方再次 Connect。未连接时 Send 直接丢弃。
type Client struct {
	url    string
	logger *zap.Logger

	dialFn     dialFunc  // injectable for tests
	afterFn    afterFunc // injectable for tests
	maxRetries int
	retryDelay time.Duration

	mu            sync.Mutex
	state         State
	retries       int
	generation    uint64
	conn          Conn
	timer         Timer
	stopped       bool
	handlers      map[string]Handler
	onStateChange func(State)
	pending       []State

	writeMu sync.Mutex
}

// NewClient 创建客户端（初始状态 disconnected，不会自动连接）
func NewClient(url string, logger *zap.Logger) *Client {
	return &Client{
		url:        url,
		logger:     logger,
		dialFn:     defaultDial,
		afterFn:    defaultAfter,
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
		state:      StateDisconnected,
		handlers:   make(map[string]Handler),
	}
}

// On 注册事件处理函数；同一事件重复注册时覆盖
func (c *Client) On(event string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = h
}

// OnStateChange 注册状态变化回调（在状态锁之外调用）
// 同一次转换产生的多个状态按顺序回调；不同 goroutine 触发的回调之间不保证顺序
func (c *Client) OnStateChange(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStateChange = fn
}

// State 当前状态
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Retries 当前连续重连计数
func (c *Client) Retries() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retries
}

// Connect 发起连接（后台拨号）；已连接或正在连接时为 no-op
func (c *Client) Connect() {
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return
	}
	c.stopped = false
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.startLocked()
	c.unlockAndNotify()
}

// Disconnect 主动断开：取消待执行的重连并禁止后续自动重连
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.stopped = true
	c.generation++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	conn := c.conn
	c.conn = nil
	c.retries = 0
	c.setStateLocked(StateDisconnected)
	c.unlockAndNotify()

	if conn != nil {
		conn.Close()
	}
}

// Send 发送事件 {"event": event, "data": data}；未连接时静默丢弃
func (c *Client) Send(event string, data interface{}) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == StateConnected && conn != nil
	c.mu.Unlock()

	if !connected {
		c.logger.Debug("Not connected, dropping outbound event", zap.String("event", event))
		return nil
	}

	payload, err := json.Marshal(struct {
		Event string      `json:"event"`
		Data  interface{} `json:"data"`
	}{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("failed to encode event %s: %w", event, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("failed to send event %s: %w", event, err)
	}
	return nil
}

// caller holds c.mu
func (c *Client) startLocked() {
	c.generation++
	gen := c.generation
	c.setStateLocked(StateConnecting)
	go c.run(gen)
}

func (c *Client) run(gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	conn, err := c.dialFn(ctx, c.url)
	cancel()

	c.mu.Lock()
	if gen != c.generation || c.stopped {
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		c.logger.Warn("Failed to connect to gateway",
			zap.String("url", c.url),
			zap.Int("retries", c.retries),
			zap.Error(err),
		)
		c.handleCloseLocked()
		c.unlockAndNotify()
		return
	}

	c.conn = conn
	c.retries = 0
	c.setStateLocked(StateConnected)
	c.unlockAndNotify()

	c.logger.Info("Connected to gateway", zap.String("url", c.url))
	c.readLoop(gen, conn)
}

func (c *Client) readLoop(gen uint64, conn Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if gen == c.generation && !c.stopped {
				c.logger.Warn("Gateway connection closed", zap.Error(err))
				c.handleCloseLocked()
			}
			c.unlockAndNotify()
			conn.Close()
			return
		}
		c.dispatch(raw)
	}
}

// caller holds c.mu
func (c *Client) handleCloseLocked() {
	c.conn = nil
	c.setStateLocked(StateDisconnected)
	if c.stopped {
		return
	}
	if c.retries >= c.maxRetries {
		c.logger.Error("Giving up reconnecting to gateway",
			zap.String("url", c.url),
			zap.Int("attempts", c.retries),
		)
		return
	}

	c.retries++
	delay := c.retryDelay * time.Duration(c.retries)
	c.setStateLocked(StateReconnecting)
	c.logger.Info("Scheduling reconnect",
		zap.Int("attempt", c.retries),
		zap.Duration("delay", delay),
	)
	gen := c.generation
	c.timer = c.afterFn(delay, func() { c.reconnect(gen) })
}

func (c *Client) reconnect(gen uint64) {
	c.mu.Lock()
	if gen != c.generation || c.stopped || c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.startLocked()
	c.unlockAndNotify()
}

func (c *Client) dispatch(raw []byte) {
	var env struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
		c.logger.Warn("Discarding malformed inbound message",
			zap.Int("size", len(raw)),
			zap.Error(err),
		)
		return
	}

	c.mu.Lock()
	h := c.handlers[env.Event]
	c.mu.Unlock()

	if h != nil {
		h(env.Data)
	}
}

// caller holds c.mu
func (c *Client) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	c.pending = append(c.pending, s)
}

// unlockAndNotify 释放状态锁后依次回调
func (c *Client) unlockAndNotify() {
	pending := c.pending
	c.pending = nil
	fn := c.onStateChange
	c.mu.Unlock()

	if fn == nil {
		return
	}
	for _, s := range pending {
		fn(s)
	}
}
