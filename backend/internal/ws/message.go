package ws

import (
	"encoding/json"
	"errors"
	"fmt"
)

// 上行消息类型
const (
	TypeJoinRoom                = "join-room"
	TypeServerBroadcast         = "server-broadcast"
	TypeServerVolatileBroadcast = "server-volatile-broadcast"
	TypeUserFollow              = "user-follow"
)

// 下行消息类型
const (
	TypeInitRoom         = "init-room"
	TypeFirstInRoom      = "first-in-room"
	TypeNewUser          = "new-user"
	TypeRoomUserChange   = "room-user-change"
	TypeClientBroadcast  = "client-broadcast"
	TypeFollowRoomChange = "user-follow-room-change"
)

// Mode 中继投递方式
type Mode int

const (
	Reliable Mode = iota // 必达：接收方队列满时断开接收方，让其重连追平
	Volatile             // 尽力而为：队列满直接丢弃（如指针位置）
)

// ClientMessage 上行帧的线上格式；解码后转换为具体的 Inbound 变体
type ClientMessage struct {
	Type    string          `json:"type"`
	RoomID  string          `json:"roomId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	IV      []byte          `json:"iv,omitempty"`
}

// Inbound 上行消息的封闭集合
type Inbound interface {
	inbound()
}

type JoinRoom struct {
	RoomID string
}

// Broadcast 密文中继；Payload/IV 服务端不解析
type Broadcast struct {
	RoomID  string
	Payload []byte
	IV      []byte
	Mode    Mode
}

type FollowChange struct {
	Payload json.RawMessage
}

func (JoinRoom) inbound()     {}
func (Broadcast) inbound()    {}
func (FollowChange) inbound() {}

var ErrUnknownType = errors.New("unknown message type")

// DecodeClientMessage 在边界处校验并转换上行帧
func DecodeClientMessage(data []byte) (Inbound, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	switch msg.Type {
	case TypeJoinRoom:
		return JoinRoom{RoomID: msg.RoomID}, nil
	case TypeServerBroadcast, TypeServerVolatileBroadcast:
		var payload []byte
		if len(msg.Payload) > 0 {
			// payload 是 base64 字符串
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				return nil, fmt.Errorf("broadcast payload: %w", err)
			}
		}
		mode := Reliable
		if msg.Type == TypeServerVolatileBroadcast {
			mode = Volatile
		}
		return Broadcast{RoomID: msg.RoomID, Payload: payload, IV: msg.IV, Mode: mode}, nil
	case TypeUserFollow:
		if len(msg.Payload) == 0 || !json.Valid(msg.Payload) {
			return nil, errors.New("follow payload must be json")
		}
		return FollowChange{Payload: msg.Payload}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, msg.Type)
}

// 出站消息接口
type OutboundMessage interface {
	MessageType() string
}

// ServerMessage 房间生命周期类下行消息
type ServerMessage struct {
	Type     string   `json:"type"`
	SocketID string   `json:"socketId,omitempty"`
	Members  []string `json:"members,omitempty"`
}

// BroadcastMessage 转发给其他成员的密文
type BroadcastMessage struct {
	Type    string `json:"type"` // 固定 "client-broadcast"
	Payload []byte `json:"payload"`
	IV      []byte `json:"iv,omitempty"`
}

// FollowMessage 跟随状态变化通知，SocketID 为发送者
type FollowMessage struct {
	Type     string          `json:"type"` // 固定 "user-follow-room-change"
	SocketID string          `json:"socketId"`
	Payload  json.RawMessage `json:"payload"`
}

func (m ServerMessage) MessageType() string    { return m.Type }
func (m BroadcastMessage) MessageType() string { return m.Type }
func (m FollowMessage) MessageType() string    { return m.Type }

// 帧只编码一次，再分发给所有接收方
func encodeFrame(msg OutboundMessage) []byte {
	b, err := json.Marshal(msg)
	if err != nil {
		// 下行结构体都是可序列化的，走到这里说明代码有误
		panic(fmt.Sprintf("ws: encode %s: %v", msg.MessageType(), err))
	}
	return b
}
