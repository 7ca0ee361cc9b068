package cache

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) redis.UniversalClient {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRedisBusDeliversAcrossInstances(t *testing.T) {
	ctx := context.Background()
	rdb := newTestRedis(t)

	a := NewRedisBus(ctx, rdb, "instance-a", discardLogger())
	b := NewRedisBus(ctx, rdb, "instance-b", discardLogger())
	t.Cleanup(func() { _ = a.Close(); _ = b.Close() })

	require.NoError(t, b.Subscribe(ctx, "room1"))

	var got Envelope
	// 订阅确认是异步的，反复发布直到对端收到
	require.Eventually(t, func() bool {
		require.NoError(t, a.Publish(ctx, Envelope{RoomID: "room1", SenderID: "s1", Frame: []byte(`{"type":"client-broadcast"}`)}))
		select {
		case got = <-b.Deliveries():
			return true
		case <-time.After(20 * time.Millisecond):
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, "instance-a", got.Origin)
	require.Equal(t, "room1", got.RoomID)
	require.Equal(t, "s1", got.SenderID)
	require.JSONEq(t, `{"type":"client-broadcast"}`, string(got.Frame))
}

func TestRedisBusSkipsOwnFrames(t *testing.T) {
	ctx := context.Background()
	rdb := newTestRedis(t)

	a := NewRedisBus(ctx, rdb, "instance-a", discardLogger())
	t.Cleanup(func() { _ = a.Close() })
	require.NoError(t, a.Subscribe(ctx, "room1"))

	// 等订阅生效：miniredis 上能看到订阅者
	require.Eventually(t, func() bool {
		n, err := rdb.PubSubNumSub(ctx, roomChannel("room1")).Result()
		return err == nil && n[roomChannel("room1")] == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, a.Publish(ctx, Envelope{RoomID: "room1", Frame: []byte("x")}))
	select {
	case env := <-a.Deliveries():
		t.Fatalf("unexpected self delivery: %+v", env)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRedisBusCloseEndsDeliveries(t *testing.T) {
	a := NewRedisBus(context.Background(), newTestRedis(t), "instance-a", discardLogger())
	require.NoError(t, a.Close())

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-a.Deliveries():
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestLocalBus(t *testing.T) {
	ctx := context.Background()
	b := NewLocalBus()
	require.NoError(t, b.Subscribe(ctx, "r"))
	require.NoError(t, b.Publish(ctx, Envelope{RoomID: "r"}))
	require.NoError(t, b.Unsubscribe(ctx, "r"))
	require.NoError(t, b.Close())
	_, ok := <-b.Deliveries()
	require.False(t, ok)
}

func TestRoomChannelRoundTrip(t *testing.T) {
	require.Equal(t, "relay:room:{abc}", roomChannel("abc"))
	require.Equal(t, "abc", roomFromChannel(roomChannel("abc")))
	require.Equal(t, "", roomFromChannel("presence:room:abc"))
}
