package gateway

import (
	"errors"
	"sync"
	"time"

	"wisefido-vitals/internal/registry"

	"github.com/gorilla/websocket"
)

var (
	// ErrConnClosed 连接已关闭
	ErrConnClosed = errors.New("connection closed")
	// ErrSendBufferFull 发送缓冲区已满（慢消费者）
	ErrSendBufferFull = errors.New("send buffer full")
)

// conn 单个 websocket 连接：读循环 + 写循环 + 有界发送队列
type conn struct {
	id registry.ConnID
	ws *websocket.Conn

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func newConn(id registry.ConnID, ws *websocket.Conn, bufSize int) *conn {
	return &conn{
		id:   id,
		ws:   ws,
		send: make(chan []byte, bufSize),
	}
}

// Send 非阻塞入队；与 close 互斥，关闭后返回 ErrConnClosed
func (c *conn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// close 关闭发送队列，写循环随后发送 close 帧并退出
func (c *conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *conn) writePump(writeTimeout, pingPeriod time.Duration) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump 按到达顺序逐条处理入站消息，直到连接断开
func (c *conn) readPump(readLimit int64, pongWait time.Duration, handle func([]byte)) {
	defer c.ws.Close()

	c.ws.SetReadLimit(readLimit)
	c.ws.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, raw, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		handle(raw)
	}
}
