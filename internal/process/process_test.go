package process

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputTail_last(t *testing.T) {
	tail := newOutputTail(3)
	assert.Empty(t, tail.last(5))

	tail.add("a")
	tail.add("b")
	assert.Equal(t, []string{"a", "b"}, tail.last(5))

	tail.add("c")
	tail.add("d")
	assert.Equal(t, []string{"b", "c", "d"}, tail.last(3))
	assert.Equal(t, []string{"c", "d"}, tail.last(2))
	assert.Equal(t, []string{"d"}, tail.last(1))
	assert.Nil(t, tail.last(0))
}

func TestOutputTail_keeps_empty_lines(t *testing.T) {
	tail := newOutputTail(2)
	tail.add("")
	tail.add("x")
	assert.Equal(t, []string{"", "x"}, tail.last(2))
}

func TestOutputTail_default_size(t *testing.T) {
	tail := newOutputTail(0)
	for i := 0; i < defaultTailLines+5; i++ {
		tail.add("line")
	}
	assert.Len(t, tail.last(1000), defaultTailLines)
}

func TestExit_Outcome(t *testing.T) {
	assert.Equal(t, "clean", Exit{}.Outcome())
	assert.Equal(t, "interrupted", Exit{Code: 255, Err: errors.New("x"), Signaled: true}.Outcome())
	assert.Equal(t, "error", Exit{Code: 1, Err: errors.New("x")}.Outcome())
}

func TestScanLinesCR(t *testing.T) {
	data := []byte("frame=1\rframe=2\nInput #0, mpegts\n")
	var got []string
	for len(data) > 0 {
		adv, tok, err := scanLinesCR(data, true)
		require.NoError(t, err)
		got = append(got, string(tok))
		data = data[adv:]
	}
	assert.Equal(t, []string{"frame=1", "frame=2", "Input #0, mpegts"}, got)
}

func TestExecLauncher_spawn_failure(t *testing.T) {
	l := NewExecLauncher(nil, nil)
	_, err := l.Launch(context.Background(), Command{Role: RoleTranscoder, Path: "/nonexistent/ffmpeg-binary"})
	assert.ErrorIs(t, err, ErrSpawn)
}

func TestExecLauncher_cancelled_context(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewExecLauncher(nil, nil).Launch(ctx, Command{Role: RolePackager, Path: "true"})
	assert.ErrorIs(t, err, ErrSpawn)
}
