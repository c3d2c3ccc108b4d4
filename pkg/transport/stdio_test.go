package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ryandielhenn/zephyrgossip/pkg/protocol"
)

func drain(t *testing.T, ch <-chan protocol.Message) []protocol.Message {
	t.Helper()
	var out []protocol.Message
	timeout := time.After(2 * time.Second)
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, msg)
		case <-timeout:
			t.Fatal("inbox was not closed at EOF")
		}
	}
}

func TestStdioReadsEnvelopesAndSkipsGarbage(t *testing.T) {
	input := strings.Join([]string{
		`{"src":"c1","dest":"n1","body":{"type":"read","msg_id":1}}`,
		`this is not json`,
		``,
		`{"src":"c1","dest":"n1","body":{"type":"broadcast","msg_id":2,"message":7}}`,
		`{"src":"c2","dest":"n1","body":{"type":"read","msg_id":3}}`, // no trailing newline
	}, "\n")

	s := NewStdio(strings.NewReader(input), &bytes.Buffer{}, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	msgs := drain(t, s.Inbox())
	require.Len(t, msgs, 3)
	assert.Equal(t, "c1", msgs[0].Src)
	assert.JSONEq(t, `{"type":"broadcast","msg_id":2,"message":7}`, string(msgs[1].Body))
	assert.Equal(t, "c2", msgs[2].Src)
}

func TestStdioWritesOneEnvelopePerLine(t *testing.T) {
	var out bytes.Buffer
	s := NewStdio(strings.NewReader(""), &out, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	for i := 1; i <= 3; i++ {
		msg, err := protocol.New("n1", "n2", i, protocol.Gossip{Values: nil})
		require.NoError(t, err)
		require.NoError(t, s.Send(msg))
	}
	cancel()
	require.NoError(t, <-done)

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	for _, line := range lines {
		var msg protocol.Message
		require.NoError(t, json.Unmarshal([]byte(line), &msg))
		assert.Equal(t, "n2", msg.Dest)
	}

	assert.ErrorIs(t, s.Send(protocol.Message{}), ErrClosed)
}

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestStdioWriteFailureIsFatal(t *testing.T) {
	s := NewStdio(strings.NewReader(""), brokenWriter{}, zaptest.NewLogger(t))

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	msg, err := protocol.New("n1", "c1", 1, protocol.BroadcastOK{})
	require.NoError(t, err)
	require.NoError(t, s.Send(msg))

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after a write failure")
	}
}
