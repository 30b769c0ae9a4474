package main

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lightforgemedia/go-sessionmux/pkg/ergosockets"
	"github.com/lightforgemedia/go-sessionmux/pkg/events"
	"github.com/lightforgemedia/go-sessionmux/pkg/testutil"
	"github.com/lightforgemedia/go-sessionmux/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArgs(t *testing.T) {
	t.Setenv("SESSIONMUX_CHANNEL", "from-env")
	t.Setenv("SESSIONMUX_SAMPLE_INTERVAL", "5s")

	args, err := parseArgs([]string{"--user", "u1", "-t", "tok", "--verbose"})
	require.NoError(t, err)
	assert.Equal(t, "from-env", args.channel)
	assert.Equal(t, "u1", args.user)
	assert.Equal(t, "tok", args.token)
	assert.Equal(t, 5*time.Second, args.sampleInterval)
	assert.True(t, args.verbose)

	args, err = parseArgs([]string{"-c", "abc", "--sample-interval", "1m"})
	require.NoError(t, err)
	assert.Equal(t, "abc", args.channel)
	assert.Equal(t, time.Minute, args.sampleInterval)
	assert.Equal(t, "user", args.senderName)
}

func TestParseArgsRequiresChannel(t *testing.T) {
	t.Setenv("SESSIONMUX_CHANNEL", "")
	_, err := parseArgs(nil)
	require.ErrorIs(t, err, errNoChannel)

	_, err = parseArgs([]string{"--channel", "abc", "--sample-interval", "0s"})
	require.Error(t, err)
}

func TestFormatEvent(t *testing.T) {
	at := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	header := events.Header{ChannelID: "abc", CreatedAt: at.UnixMilli()}

	tests := []struct {
		name string
		ev   events.Event
		want string
	}{
		{
			name: "broadcast with name",
			ev:   events.MessageBroadcast{Header: header, SenderName: "Eliza", Text: "hi"},
			want: "#abc <Eliza> hi",
		},
		{
			name: "broadcast falls back to sender id",
			ev:   events.MessageBroadcast{Header: header, SenderID: "agent-1", Text: "hi"},
			want: "#abc <agent-1> hi",
		},
		{
			name: "thinking",
			ev:   events.MessageState{Header: header, MessageID: "m1", State: events.StateThinking},
			want: "#abc m1 is thinking",
		},
		{
			name: "control",
			ev:   events.ControlMessage{Header: header, Action: "disable_input"},
			want: "#abc control: disable_input",
		},
		{
			name: "connection",
			ev:   events.ConnectionStateChanged{Previous: transport.StateConnecting, Current: transport.StateConnected, At: at},
			want: "connection connecting -> connected",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, formatEvent(tt.ev), tt.want)
		})
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRunChatsUntilQuit(t *testing.T) {
	backend := testutil.NewMockBackend(t, testutil.AckJoins())
	in, stdin := io.Pipe()
	defer stdin.Close()
	out := &syncBuffer{}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- run(ctx, cliArgs{
			url:            backend.WsURL,
			user:           "client-1",
			channel:        "abc",
			senderName:     "tester",
			sampleInterval: time.Hour,
		}, testutil.DefaultLogger, in, out)
	}()

	require.NoError(t, testutil.WaitFor(t, "joined banner", 5*time.Second, func() bool {
		return strings.Contains(out.String(), "joined abc as client-1")
	}))

	_, err := io.WriteString(stdin, "hello there\n")
	require.NoError(t, err)
	require.NoError(t, testutil.WaitFor(t, "message sent", 2*time.Second, func() bool {
		return len(backend.FramesOfKind(ergosockets.KindSendMessage)) == 1
	}))

	_, err = io.WriteString(stdin, "/report\n")
	require.NoError(t, err)
	require.NoError(t, testutil.WaitFor(t, "report printed", 2*time.Second, func() bool {
		return strings.Contains(out.String(), "Connection health: connected")
	}))

	_, err = io.WriteString(stdin, "/quit\n")
	require.NoError(t, err)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after /quit")
	}
	require.Len(t, backend.Joins(), 1)
	assert.Equal(t, "abc", backend.Joins()[0].ChannelID)
}
