package ws

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeClientMessage(t *testing.T) {
	msg, err := DecodeClientMessage([]byte(`{"type":"join-room","roomId":"abc"}`))
	require.NoError(t, err)
	require.Equal(t, JoinRoom{RoomID: "abc"}, msg)

	msg, err = DecodeClientMessage([]byte(`{"type":"server-broadcast","roomId":"abc","payload":"aGVsbG8=","iv":"AQI="}`))
	require.NoError(t, err)
	require.Equal(t, Broadcast{RoomID: "abc", Payload: []byte("hello"), IV: []byte{1, 2}, Mode: Reliable}, msg)

	msg, err = DecodeClientMessage([]byte(`{"type":"server-volatile-broadcast","roomId":"abc","payload":"aGVsbG8="}`))
	require.NoError(t, err)
	require.Equal(t, Volatile, msg.(Broadcast).Mode)

	msg, err = DecodeClientMessage([]byte(`{"type":"user-follow","payload":{"userToFollow":{"socketId":"x"},"action":"FOLLOW"}}`))
	require.NoError(t, err)
	require.JSONEq(t, `{"userToFollow":{"socketId":"x"},"action":"FOLLOW"}`, string(msg.(FollowChange).Payload))
}

func TestDecodeClientMessageRejects(t *testing.T) {
	for _, raw := range []string{
		`not json`,
		`{"type":"shutdown"}`,
		`{"type":"server-broadcast","roomId":"abc","payload":123}`,
		`{"type":"user-follow"}`,
	} {
		_, err := DecodeClientMessage([]byte(raw))
		require.Error(t, err, raw)
	}
}

func TestEncodeFrameShapes(t *testing.T) {
	require.JSONEq(t, `{"type":"first-in-room"}`, string(encodeFrame(ServerMessage{Type: TypeFirstInRoom})))
	require.JSONEq(t, `{"type":"room-user-change","members":["a","b"]}`,
		string(encodeFrame(ServerMessage{Type: TypeRoomUserChange, Members: []string{"a", "b"}})))
	require.JSONEq(t, `{"type":"client-broadcast","payload":"aGk="}`,
		string(encodeFrame(BroadcastMessage{Type: TypeClientBroadcast, Payload: []byte("hi")})))
	require.JSONEq(t, `{"type":"user-follow-room-change","socketId":"s","payload":{"a":1}}`,
		string(encodeFrame(FollowMessage{Type: TypeFollowRoomChange, SocketID: "s", Payload: json.RawMessage(`{"a":1}`)})))
}
