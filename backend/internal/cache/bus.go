package cache

import (
	"context"
	"sync"
)

// Envelope 跨实例转发的一帧：已编码的下行消息 + 路由信息
// 服务端不解析 Frame 内容（密文原样转发）
type Envelope struct {
	Origin   string `json:"origin"` // 发布实例 ID，订阅方据此丢弃自己发出的帧
	RoomID   string `json:"roomId"`
	SenderID string `json:"senderId"`
	Volatile bool   `json:"volatile,omitempty"`
	Frame    []byte `json:"frame"`
}

// RoomBus 房间中继总线
// 本实例成员之间的投递由 Hub 直接完成，总线只负责把帧带到其他实例
type RoomBus interface {
	Publish(ctx context.Context, env Envelope) error
	Subscribe(ctx context.Context, roomID string) error
	Unsubscribe(ctx context.Context, roomID string) error
	// Deliveries 其他实例发来的帧；Close 之后关闭
	Deliveries() <-chan Envelope
	Close() error
}

// LocalBus 单实例部署：没有其他实例，发布即丢弃
type LocalBus struct {
	out  chan Envelope
	once sync.Once
}

func NewLocalBus() *LocalBus {
	return &LocalBus{out: make(chan Envelope)}
}

func (b *LocalBus) Publish(context.Context, Envelope) error   { return nil }
func (b *LocalBus) Subscribe(context.Context, string) error   { return nil }
func (b *LocalBus) Unsubscribe(context.Context, string) error { return nil }
func (b *LocalBus) Deliveries() <-chan Envelope               { return b.out }

func (b *LocalBus) Close() error {
	b.once.Do(func() { close(b.out) })
	return nil
}
