package libp2p

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func collectLines(t *testing.T, lines <-chan string) []string {
	t.Helper()
	var got []string
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return got
			}
			got = append(got, line)
		case <-time.After(5 * time.Second):
			t.Fatal("line reader never closed")
			return nil
		}
	}
}

func TestReadLines(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lines := readLines(ctx, strings.NewReader("  padded  \n\nlast"), 64)
	require.Equal(t, []string{"  padded  ", "", "last"}, collectLines(t, lines))
	require.Nil(t, readLines(ctx, nil, 64))
}

func TestReadLinesStopsAtOverlongLine(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	input := "short\n" + strings.Repeat("x", 100) + "\nnever\n"
	lines := readLines(ctx, strings.NewReader(input), 16)
	require.Equal(t, []string{"short"}, collectLines(t, lines))
}

func TestPublishRejectsOversizedFrame(t *testing.T) {
	out := &syncBuffer{}
	cfg := testConfig("alice", out)
	cfg.MaxMessageSize = 128
	n, err := NewNode(cfg)
	require.NoError(t, err)
	defer n.Close()
	n.router.Subscribe(n.topic)

	// Fits the line limit but not the frame once the envelope is added.
	require.NoError(t, n.handleInput(strings.Repeat("x", 120)))
	require.Contains(t, out.String(), "❌ Message too long")
	require.Zero(t, n.router.CacheLen())

	require.NoError(t, n.handleInput("short"))
	require.Equal(t, 1, n.router.CacheLen())
}

func TestCommandsIgnoreSurroundingSpace(t *testing.T) {
	out := &syncBuffer{}
	n, err := NewNode(testConfig("alice", out))
	require.NoError(t, err)
	defer n.Close()
	n.router.Subscribe(n.topic)

	require.NoError(t, n.handleInput("  /join news  "))
	require.Equal(t, "news", n.topic)
	require.ErrorIs(t, n.handleInput(" /quit "), ErrQuit)
}
