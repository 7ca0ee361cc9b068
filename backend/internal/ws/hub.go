package ws

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"canvasCollab/backend/internal/cache"
	"canvasCollab/backend/internal/share"
)

const busTimeout = 2 * time.Second

// 房间：成员按加入顺序排列，leader 总是某个当前成员
type room struct {
	members []*Conn
	leader  *Conn
}

// 总线订阅变更，按发生顺序异步执行
type subChange struct {
	roomID    string
	subscribe bool
}

// Hub 房间注册表
// 所有成员/leader 变更都在 mu 下串行执行；向各接收方的投递走各自的发送队列，互不阻塞
type Hub struct {
	mu    sync.Mutex
	rooms map[string]*room
	conns map[*Conn]struct{}

	bus     cache.RoomBus
	pending []subChange
	wake    chan struct{}

	stats  Stats
	limits [numClasses]Limit
	now    func() time.Time
	newID  func() string
	log    *slog.Logger
}

func NewHub(bus cache.RoomBus, logger *slog.Logger) *Hub {
	return &Hub{
		rooms:  make(map[string]*room),
		conns:  make(map[*Conn]struct{}),
		bus:    bus,
		wake:   make(chan struct{}, 1),
		limits: DefaultLimits,
		now:    time.Now,
		newID:  uuid.NewString,
		log:    logger,
	}
}

// Register 接受一个新连接（状态：已连接、未进房间）
func (h *Hub) Register(ws *websocket.Conn) *Conn {
	c := &Conn{
		id:      h.newID(),
		ws:      ws,
		hub:     h,
		send:    make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
		limiter: NewRateLimiter(h.now, h.limits),
	}
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
	h.stats.ConnectionsAccepted.Add(1)
	return c
}

// Join 加入房间；非法 token 静默忽略
// 已在其他房间的连接先离开原房间
func (h *Hub) Join(c *Conn, roomID string) {
	if !share.ValidRoomID(roomID) {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if c.gone || c.roomID == roomID {
		return
	}
	if c.roomID != "" {
		h.leaveLocked(c)
	}

	r := h.rooms[roomID]
	if r == nil {
		r = &room{}
		h.rooms[roomID] = r
		h.queueSubLocked(roomID, true)
	}
	r.members = append(r.members, c)
	c.roomID = roomID

	if r.leader == nil {
		r.leader = c
		c.enqueue(encodeFrame(ServerMessage{Type: TypeFirstInRoom}), Reliable)
	} else {
		frame := encodeFrame(ServerMessage{Type: TypeNewUser, SocketID: c.id})
		for _, m := range r.members {
			if m != c {
				m.enqueue(frame, Reliable)
			}
		}
	}
	h.broadcastRosterLocked(r)
}

// Disconnect 连接终止；可重复调用
func (h *Hub) Disconnect(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.gone {
		return
	}
	c.gone = true
	delete(h.conns, c)
	if c.roomID != "" {
		h.leaveLocked(c)
	}
}

func (h *Hub) leaveLocked(c *Conn) {
	roomID := c.roomID
	c.roomID = ""
	r := h.rooms[roomID]
	if r == nil {
		return
	}
	r.members = slices.DeleteFunc(r.members, func(m *Conn) bool { return m == c })

	if len(r.members) == 0 {
		delete(h.rooms, roomID)
		h.queueSubLocked(roomID, false)
		return
	}
	if r.leader == c {
		// 交给加入最早的剩余成员
		r.leader = r.members[0]
		r.leader.enqueue(encodeFrame(ServerMessage{Type: TypeFirstInRoom}), Reliable)
	}
	h.broadcastRosterLocked(r)
}

func (h *Hub) broadcastRosterLocked(r *room) {
	ids := make([]string, len(r.members))
	for i, m := range r.members {
		ids[i] = m.id
	}
	frame := encodeFrame(ServerMessage{Type: TypeRoomUserChange, Members: ids})
	for _, m := range r.members {
		m.enqueue(frame, Reliable)
	}
}

// Relay 把密文原样转发给同房间其他成员
// 没有房间 token、不在该房间或超过限流的消息直接丢弃，不通知发送方
func (h *Hub) Relay(c *Conn, roomID string, payload, iv []byte, mode Mode) {
	if roomID == "" {
		return
	}
	class := ClassReliable
	if mode == Volatile {
		class = ClassVolatile
	}
	if !c.limiter.Allow(class) {
		return
	}

	h.mu.Lock()
	if c.roomID != roomID {
		h.mu.Unlock()
		return
	}
	recipients := h.othersLocked(roomID, c.id)
	h.mu.Unlock()

	frame := encodeFrame(BroadcastMessage{Type: TypeClientBroadcast, Payload: payload, IV: iv})
	fanOut(recipients, frame, mode)
	h.stats.MessagesRelayed.Add(1)
	h.publish(cache.Envelope{RoomID: roomID, SenderID: c.id, Volatile: mode == Volatile, Frame: frame})
}

// FollowChange 通知同房间其他成员发送者的跟随状态变化；不在房间时不做任何事
func (h *Hub) FollowChange(c *Conn, payload []byte) {
	h.mu.Lock()
	roomID := c.roomID
	if roomID == "" {
		h.mu.Unlock()
		return
	}
	recipients := h.othersLocked(roomID, c.id)
	h.mu.Unlock()

	frame := encodeFrame(FollowMessage{Type: TypeFollowRoomChange, SocketID: c.id, Payload: payload})
	fanOut(recipients, frame, Reliable)
	h.publish(cache.Envelope{RoomID: roomID, SenderID: c.id, Frame: frame})
}

// 拷贝一份接收方列表，投递在锁外进行
func (h *Hub) othersLocked(roomID, senderID string) []*Conn {
	r := h.rooms[roomID]
	if r == nil {
		return nil
	}
	out := make([]*Conn, 0, len(r.members))
	for _, m := range r.members {
		if m.id != senderID {
			out = append(out, m)
		}
	}
	return out
}

// 每个接收方独立投递，某个接收方失败不影响其他人
func fanOut(recipients []*Conn, frame []byte, mode Mode) {
	for _, m := range recipients {
		m.enqueue(frame, mode)
	}
}

func (h *Hub) publish(env cache.Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), busTimeout)
	defer cancel()
	if err := h.bus.Publish(ctx, env); err != nil {
		h.log.Warn("relay: bus publish failed", "room", env.RoomID, "err", err)
	}
}

func (h *Hub) queueSubLocked(roomID string, subscribe bool) {
	h.pending = append(h.pending, subChange{roomID: roomID, subscribe: subscribe})
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// Run 维护总线订阅并把其他实例的帧投递给本地成员，直到 ctx 结束
func (h *Hub) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.syncSubscriptions(ctx) })
	g.Go(func() error { return h.consumeBus(ctx) })
	return g.Wait()
}

func (h *Hub) syncSubscriptions(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-h.wake:
		}

		h.mu.Lock()
		batch := h.pending
		h.pending = nil
		h.mu.Unlock()

		for _, ch := range batch {
			opCtx, cancel := context.WithTimeout(ctx, busTimeout)
			var err error
			if ch.subscribe {
				err = h.bus.Subscribe(opCtx, ch.roomID)
			} else {
				err = h.bus.Unsubscribe(opCtx, ch.roomID)
			}
			cancel()
			if err != nil {
				h.log.Warn("relay: bus subscription change failed", "room", ch.roomID, "subscribe", ch.subscribe, "err", err)
			}
		}
	}
}

func (h *Hub) consumeBus(ctx context.Context) error {
	deliveries := h.bus.Deliveries()
	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-deliveries:
			if !ok {
				return nil
			}
			h.mu.Lock()
			recipients := h.othersLocked(env.RoomID, env.SenderID)
			h.mu.Unlock()

			mode := Reliable
			if env.Volatile {
				mode = Volatile
			}
			fanOut(recipients, env.Frame, mode)
		}
	}
}

// Members 房间当前成员 ID（按加入顺序）
func (h *Hub) Members(roomID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.rooms[roomID]
	if r == nil {
		return nil
	}
	ids := make([]string, len(r.members))
	for i, m := range r.members {
		ids[i] = m.id
	}
	return ids
}

// Leader 房间 leader 的 ID，房间不存在时为空
func (h *Hub) Leader(roomID string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r := h.rooms[roomID]; r != nil && r.leader != nil {
		return r.leader.id
	}
	return ""
}

func (h *Hub) Stats() *Stats { return &h.stats }

func (h *Hub) Snapshot() StatsSnapshot {
	h.mu.Lock()
	rooms, conns := len(h.rooms), len(h.conns)
	h.mu.Unlock()
	return StatsSnapshot{
		ConnectionsAccepted: h.stats.ConnectionsAccepted.Load(),
		MessagesRelayed:     h.stats.MessagesRelayed.Load(),
		RoomsActive:         rooms,
		ConnectionsActive:   conns,
	}
}
