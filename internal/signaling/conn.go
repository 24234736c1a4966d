package signaling

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const wsWriteWait = 1 * time.Second

// wsConn adapts a WebSocket to relay.Transport. Send only queues; writeLoop is
// the single writer of data frames. Pings go out through WriteControl, which
// gorilla allows concurrently with the writer.
type wsConn struct {
	conn         *websocket.Conn
	queue        *sendQueue
	pingInterval time.Duration

	closeOnce sync.Once
	done      chan struct{}
	finished  chan struct{}

	mu          sync.Mutex
	closeCode   int
	closeReason string
}

func newWSConn(conn *websocket.Conn, queueBytes int, pingInterval time.Duration) *wsConn {
	return &wsConn{
		conn:         conn,
		queue:        newSendQueue(queueBytes),
		pingInterval: pingInterval,
		done:         make(chan struct{}),
		finished:     make(chan struct{}),
		closeCode:    websocket.CloseNormalClosure,
	}
}

func (c *wsConn) Send(payload []byte) error {
	return c.queue.Enqueue(payload)
}

func (c *wsConn) Close() error {
	c.CloseWith(websocket.CloseNormalClosure, "")
	return nil
}

// CloseWith stops the connection; the writer sends a close frame carrying code
// and reason before tearing the socket down. Only the first call has effect.
func (c *wsConn) CloseWith(code int, reason string) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closeCode, c.closeReason = code, reason
		c.mu.Unlock()
		close(c.done)
		c.queue.Close()
	})
}

func (c *wsConn) writeLoop() {
	defer close(c.finished)
	for {
		frame, ok := c.queue.Dequeue()
		if !ok {
			break
		}
		_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			c.CloseWith(websocket.CloseAbnormalClosure, "")
			break
		}
	}

	c.mu.Lock()
	code, reason := c.closeCode, c.closeReason
	c.mu.Unlock()
	if code != websocket.CloseAbnormalClosure {
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
	}
	_ = c.conn.Close()
}

func (c *wsConn) pingLoop() {
	if c.pingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				c.CloseWith(websocket.CloseAbnormalClosure, "")
				return
			}
		}
	}
}

// wait blocks until the socket has been torn down.
func (c *wsConn) wait() {
	<-c.finished
}
