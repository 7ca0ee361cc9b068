package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	redis "github.com/redis/go-redis/v9"
)

const busChannelSize = 1024

// RedisBus 基于 Redis Pub/Sub 的房间中继总线，每个房间一个频道
// 只在本实例有成员的房间上订阅
type RedisBus struct {
	rdb        redis.UniversalClient
	instanceID string
	ps         *redis.PubSub
	out        chan Envelope
	done       chan struct{}
	closeOnce  sync.Once
	log        *slog.Logger
}

func NewRedisBus(ctx context.Context, rdb redis.UniversalClient, instanceID string, logger *slog.Logger) *RedisBus {
	b := &RedisBus{
		rdb:        rdb,
		instanceID: instanceID,
		// 先建一个空订阅，房间出现时再追加频道
		ps:   rdb.Subscribe(ctx),
		out:  make(chan Envelope, busChannelSize),
		done: make(chan struct{}),
		log:  logger,
	}
	go b.pump()
	return b
}

func (b *RedisBus) pump() {
	defer close(b.out)
	for msg := range b.ps.Channel(redis.WithChannelSize(busChannelSize)) {
		var env Envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			b.log.Warn("relay bus: bad envelope", "channel", msg.Channel, "err", err)
			continue
		}
		if env.Origin == b.instanceID {
			continue
		}
		if env.RoomID == "" {
			env.RoomID = roomFromChannel(msg.Channel)
		}
		select {
		case b.out <- env:
		case <-b.done:
			return
		}
	}
}

func (b *RedisBus) Publish(ctx context.Context, env Envelope) error {
	env.Origin = b.instanceID
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, roomChannel(env.RoomID), data).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context, roomID string) error {
	return b.ps.Subscribe(ctx, roomChannel(roomID))
}

func (b *RedisBus) Unsubscribe(ctx context.Context, roomID string) error {
	return b.ps.Unsubscribe(ctx, roomChannel(roomID))
}

func (b *RedisBus) Deliveries() <-chan Envelope { return b.out }

func (b *RedisBus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.done)
		err = b.ps.Close()
	})
	return err
}
