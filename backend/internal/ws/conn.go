package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 256
)

type Conn struct {
	id  string
	ws  *websocket.Conn
	hub *Hub
	// 已编码的下行帧队列，由 writeLoop 独占消费
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	// 只在读循环里使用
	limiter *RateLimiter

	// 以下字段受 hub.mu 保护
	roomID string
	gone   bool
}

func (c *Conn) ID() string { return c.id }

// enqueue 非阻塞入队
// 易失消息队列满直接丢弃；必达消息队列满说明对端太慢，关闭连接让客户端重连追平
func (c *Conn) enqueue(frame []byte, mode Mode) bool {
	select {
	case c.send <- frame:
		return true
	case <-c.done:
		return false
	default:
	}
	if mode == Reliable {
		c.hub.log.Warn("relay: send queue full, closing slow connection", "conn", c.id)
		c.close()
	}
	return false
}

// close 通知 writeLoop 退出；writeLoop 关闭底层连接后读循环随之结束
func (c *Conn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Conn) readLoop() {
	defer func() {
		c.hub.Disconnect(c)
		c.close()
	}()

	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.hub.log.Debug("relay: read error", "conn", c.id, "err", err)
			}
			return
		}
		msg, err := DecodeClientMessage(data)
		if err != nil {
			// 边界校验失败直接忽略，不回错误帧
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Conn) dispatch(msg Inbound) {
	switch m := msg.(type) {
	case JoinRoom:
		c.hub.Join(c, m.RoomID)
	case Broadcast:
		c.hub.Relay(c, m.RoomID, m.Payload, m.IV, m.Mode)
	case FollowChange:
		c.hub.FollowChange(c, m.Payload)
	}
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}
