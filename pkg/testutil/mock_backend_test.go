package testutil

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/lightforgemedia/go-sessionmux/pkg/ergosockets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockBackendRecordsHandshakeAndFrames(t *testing.T) {
	b := NewMockBackend(t, AckJoins())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, b.WsURL+"?client_id=c1&server_id=s1", &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer tok"}},
	})
	require.NoError(t, err)
	defer conn.CloseNow()

	join, err := ergosockets.NewMessageFrame(ergosockets.KindRoomJoining, ergosockets.JoinPayload{
		ChannelID: "abc", RoomID: "abc", EntityID: "c1", ServerID: "s1", RequestID: "join-1",
	})
	require.NoError(t, err)
	require.NoError(t, wsjson.Write(ctx, conn, join))

	var ack ergosockets.Frame
	require.NoError(t, wsjson.Read(ctx, conn, &ack))
	env, err := ack.DecodeMessage()
	require.NoError(t, err)
	assert.Equal(t, ergosockets.KindAck, env.Type)

	var payload ergosockets.AckPayload
	require.NoError(t, env.DecodePayload(&payload))
	assert.Equal(t, "join-1", payload.RequestID)

	hs := b.Handshakes()
	require.Len(t, hs, 1)
	assert.Equal(t, "c1", hs[0].ClientID)
	assert.Equal(t, "s1", hs[0].ServerID)
	assert.Equal(t, "Bearer tok", hs[0].Authorization)

	joins := b.Joins()
	require.Len(t, joins, 1)
	assert.Equal(t, "abc", joins[0].ChannelID)
}

func TestMockBackendRejectHandshakes(t *testing.T) {
	b := NewMockBackend(t)
	b.RejectHandshakes(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, b.WsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	conn, _, err := websocket.Dial(ctx, b.WsURL, nil)
	require.NoError(t, err)
	defer conn.CloseNow()
	require.NoError(t, b.WaitForConnections(1, 2*time.Second))
}

func TestMockBackendDropConnection(t *testing.T) {
	b := NewMockBackend(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, b.WsURL, nil)
	require.NoError(t, err)
	defer conn.CloseNow()
	require.NoError(t, b.WaitForConnections(1, 2*time.Second))

	b.DropConnection(true)

	var frame ergosockets.Frame
	err = wsjson.Read(ctx, conn, &frame)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
	assert.False(t, b.Connected())
}
