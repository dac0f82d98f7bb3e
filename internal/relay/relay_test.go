package relay

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/answerd/internal/chat"
	"github.com/fyrsmithlabs/answerd/internal/completion"
)

// scriptedStream plays back a fixed sequence of chunks, then a final error.
type scriptedStream struct {
	chunks   []completion.Chunk
	finalErr error
	pos      int
	closed   bool
}

func (s *scriptedStream) Recv() (completion.Chunk, error) {
	if s.pos >= len(s.chunks) {
		if s.finalErr != nil {
			return completion.Chunk{}, s.finalErr
		}
		return completion.Chunk{}, io.EOF
	}
	chunk := s.chunks[s.pos]
	s.pos++
	return chunk, nil
}

func (s *scriptedStream) Close() error {
	s.closed = true
	return nil
}

// collect runs the relay and gathers every emitted frame.
func collect(t *testing.T, stream *scriptedStream, messages []chat.Message) ([]Frame, error) {
	t.Helper()
	var frames []Frame
	err := Run(context.Background(), messages, stream, func(f Frame) error {
		frames = append(frames, f)
		return nil
	}, zap.NewNop())
	return frames, err
}

func TestRun(t *testing.T) {
	history := []chat.Message{
		{Role: chat.RoleUser, Content: "q"},
		{Role: chat.RoleSystem, Content: "ctx"},
	}

	t.Run("forwards content in order then terminal frame", func(t *testing.T) {
		stream := &scriptedStream{chunks: []completion.Chunk{
			{Content: "A"},
			{Content: "B"},
			{Finish: true},
		}}

		frames, err := collect(t, stream, history)
		require.NoError(t, err)

		require.Len(t, frames, 3)
		assert.Equal(t, Frame{Kind: FrameContent, Content: "A"}, frames[0])
		assert.Equal(t, Frame{Kind: FrameContent, Content: "B"}, frames[1])
		assert.Equal(t, FrameEnd, frames[2].Kind)
		assert.Equal(t, history, frames[2].Messages)
		assert.True(t, stream.closed)
	})

	t.Run("empty chunks are skipped silently", func(t *testing.T) {
		stream := &scriptedStream{chunks: []completion.Chunk{
			{Content: "A"},
			{},
			{Content: "B"},
			{Finish: true},
		}}

		frames, err := collect(t, stream, history)
		require.NoError(t, err)

		require.Len(t, frames, 3)
		assert.Equal(t, "A", frames[0].Content)
		assert.Equal(t, "B", frames[1].Content)
		assert.Equal(t, FrameEnd, frames[2].Kind)
	})

	t.Run("natural exhaustion emits terminal frame", func(t *testing.T) {
		stream := &scriptedStream{chunks: []completion.Chunk{{Content: "only"}}}

		frames, err := collect(t, stream, history)
		require.NoError(t, err)

		require.Len(t, frames, 2)
		assert.Equal(t, FrameEnd, frames[1].Kind)
	})

	t.Run("mid-stream error degrades to one error frame", func(t *testing.T) {
		stream := &scriptedStream{
			chunks:   []completion.Chunk{{Content: "partial"}},
			finalErr: errors.New("upstream reset"),
		}

		frames, err := collect(t, stream, history)
		require.NoError(t, err)

		require.Len(t, frames, 2)
		assert.Equal(t, FrameContent, frames[0].Kind)
		assert.Equal(t, FrameError, frames[1].Kind)
		assert.Equal(t, "An error occurred on the server.", frames[1].Error)
		assert.True(t, stream.closed)
	})

	t.Run("sink error aborts the relay", func(t *testing.T) {
		stream := &scriptedStream{chunks: []completion.Chunk{
			{Content: "A"},
			{Content: "B"},
		}}
		sinkErr := errors.New("client gone")

		var calls int
		err := Run(context.Background(), history, stream, func(Frame) error {
			calls++
			return sinkErr
		}, zap.NewNop())

		assert.ErrorIs(t, err, sinkErr)
		assert.Equal(t, 1, calls)
		assert.True(t, stream.closed)
	})

	t.Run("cancellation stops relaying between chunks", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		stream := &scriptedStream{chunks: []completion.Chunk{{Content: "never"}}}

		var frames int
		err := Run(ctx, history, stream, func(Frame) error {
			frames++
			return nil
		}, zap.NewNop())

		assert.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, frames)
		assert.True(t, stream.closed)
	})
}
