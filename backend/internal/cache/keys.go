package cache

import "fmt"

// 键语义：
// - roomChannel(roomID):  房间中继频道（Pub/Sub），跨实例转发加密帧
// 房间 token 放进 {} 作为 hash tag，集群模式下同房间落在同一 slot

const (
	keyRoomChannelFmt = "relay:room:{%s}"
	keyRoomChannelPfx = "relay:room:{"
)

func roomChannel(roomID string) string { return fmt.Sprintf(keyRoomChannelFmt, roomID) }

// roomFromChannel 从频道名解析房间 token，格式不符返回空串
func roomFromChannel(channel string) string {
	if len(channel) <= len(keyRoomChannelPfx)+1 || channel[:len(keyRoomChannelPfx)] != keyRoomChannelPfx {
		return ""
	}
	if channel[len(channel)-1] != '}' {
		return ""
	}
	return channel[len(keyRoomChannelPfx) : len(channel)-1]
}
