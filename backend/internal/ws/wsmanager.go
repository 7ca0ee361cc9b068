package ws

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type Manager struct {
	h          *Hub
	upgrader   websocket.Upgrader
	maxPayload int64
	log        *slog.Logger
}

// NewManager allowedOrigins 为空或包含 "*" 时不校验来源
func NewManager(h *Hub, allowedOrigins []string, maxPayload int64, logger *slog.Logger) *Manager {
	m := &Manager{h: h, maxPayload: maxPayload, log: logger}
	m.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return m
}

func originChecker(allowed []string) func(r *http.Request) bool {
	allowAll := len(allowed) == 0
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			allowAll = true
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// 非浏览器客户端可能不带 Origin
		if allowAll || origin == "" {
			return true
		}
		_, ok := set[strings.TrimRight(origin, "/")]
		return ok
	}
}

// WebSocketConnect 升级连接并阻塞到连接结束
func (m *Manager) WebSocketConnect(c *gin.Context) {
	conn, err := m.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		m.log.Warn("websocket upgrade error", "origin", c.Request.Header.Get("Origin"), "err", err)
		return
	}
	// 超过上限的帧在传输层被拒绝，连接以 1009 关闭
	conn.SetReadLimit(m.maxPayload)

	wsConn := m.h.Register(conn)

	// 先启动写循环，再发 init-room，最后进入读循环（阻塞至连接关闭）
	go wsConn.writeLoop()
	wsConn.enqueue(encodeFrame(ServerMessage{Type: TypeInitRoom}), Reliable)
	wsConn.readLoop()
}
