// Package relay converts a completion chunk stream into an ordered, finite
// sequence of server-sent-event frames.
package relay

import (
	"context"
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/answerd/internal/chat"
	"github.com/fyrsmithlabs/answerd/internal/completion"
)

// streamErrorMessage is the only error text forwarded to clients mid-stream.
// Upstream detail is logged, never surfaced.
const streamErrorMessage = "An error occurred on the server."

// FrameKind discriminates the three frame shapes.
type FrameKind int

const (
	// FrameContent carries one incremental token.
	FrameContent FrameKind = iota
	// FrameEnd is the terminal frame carrying the full message history.
	// When present it is always the last frame before the stream closes.
	FrameEnd
	// FrameError reports a mid-stream failure in-band and terminates the
	// sequence.
	FrameError
)

// Frame is one server-sent-event record.
type Frame struct {
	Kind     FrameKind
	Content  string
	Messages []chat.Message
	Error    string
}

// Sink consumes frames in emission order. A sink error aborts the relay;
// the usual cause is a disconnected client.
type Sink func(Frame) error

// Run drains the completion stream into the sink.
//
// Each chunk with non-empty content is forwarded immediately as one content
// frame, in arrival order and without buffering. Chunks lacking a content
// delta are skipped silently. An explicit finish signal or natural stream
// exhaustion emits one terminal frame carrying the full message list, after
// which the sequence is closed. A mid-stream upstream error degrades to a
// single error frame; it is never raised past the relay boundary because the
// client must receive a well-formed, if truncated, event stream.
//
// Context cancellation (caller disconnected) stops relaying between chunks.
// The stream handle is always closed before Run returns.
func Run(ctx context.Context, messages []chat.Message, stream completion.Stream, sink Sink, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	defer func() {
		if err := stream.Close(); err != nil {
			logger.Warn("closing completion stream", zap.Error(err))
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return sink(Frame{Kind: FrameEnd, Messages: messages})
		}
		if err != nil {
			logger.Error("completion stream failed mid-relay", zap.Error(err))
			return sink(Frame{Kind: FrameError, Error: streamErrorMessage})
		}

		if chunk.Finish {
			return sink(Frame{Kind: FrameEnd, Messages: messages})
		}
		if chunk.Content == "" {
			continue
		}
		if err := sink(Frame{Kind: FrameContent, Content: chunk.Content}); err != nil {
			return err
		}
	}
}
