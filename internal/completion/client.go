// Package completion wraps the hosted chat-completion model.
package completion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/fyrsmithlabs/answerd/internal/chat"
)

// ErrInvalidConfig indicates invalid configuration.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds configuration for the completion client.
type Config struct {
	// APIKey authenticates against the completions API.
	APIKey string

	// BaseURL overrides the API endpoint. Empty uses the provider default.
	BaseURL string

	// Model is the chat model name.
	Model string

	// Timeout is the per-call deadline for synchronous completions.
	// Streaming calls inherit the caller's context instead; a fixed deadline
	// would cut long answers off mid-stream.
	Timeout time.Duration
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("%w: API key required", ErrInvalidConfig)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	return nil
}

// Chunk is one increment of a streamed completion.
type Chunk struct {
	// Content is the incremental token text. May be empty.
	Content string

	// Finish reports the model's explicit finish signal.
	Finish bool
}

// Stream is a finite, non-restartable sequence of completion chunks.
// Recv returns io.EOF on natural exhaustion.
type Stream interface {
	Recv() (Chunk, error)
	Close() error
}

// chatAPI is the slice of the OpenAI client the completion client uses.
type chatAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (*openai.ChatCompletionStream, error)
}

// Client submits message histories to the chat model.
type Client struct {
	config Config
	api    chatAPI
}

// NewClient creates a completion client with the given configuration.
func NewClient(config Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &Client{
		config: config,
		api:    openai.NewClientWithConfig(clientConfig),
	}, nil
}

// request builds the completion request shared by both modes. Sampling runs
// at temperature 0 for minimal-variance output; the SDK drops a literal zero
// because of omitempty, so the smallest positive float stands in for it.
func (c *Client) request(messages []chat.Message, stream bool) openai.ChatCompletionRequest {
	converted := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		converted[i] = openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		}
	}

	return openai.ChatCompletionRequest{
		Model:       c.config.Model,
		Messages:    converted,
		Stream:      stream,
		Temperature: math.SmallestNonzeroFloat32,
	}
}

// Complete submits the full message list and returns the single completed
// assistant message. Errors are classified into the package taxonomy.
func (c *Client) Complete(ctx context.Context, messages []chat.Message) (chat.Message, error) {
	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	resp, err := c.api.CreateChatCompletion(ctx, c.request(messages, false))
	if err != nil {
		return chat.Message{}, classifyError(err)
	}
	if len(resp.Choices) == 0 {
		return chat.Message{}, fmt.Errorf("%w: no completion choices returned", ErrUpstream)
	}

	choice := resp.Choices[0].Message
	return chat.Message{Role: choice.Role, Content: choice.Content}, nil
}

// CompleteStream submits the full message list and returns an iterable
// stream of incremental chunks. The caller owns the handle and must Close it.
func (c *Client) CompleteStream(ctx context.Context, messages []chat.Message) (Stream, error) {
	stream, err := c.api.CreateChatCompletionStream(ctx, c.request(messages, true))
	if err != nil {
		return nil, classifyError(err)
	}
	return &openaiStream{stream: stream}, nil
}

// openaiStream adapts the SDK stream handle to the Stream contract.
type openaiStream struct {
	stream *openai.ChatCompletionStream
}

func (s *openaiStream) Recv() (Chunk, error) {
	resp, err := s.stream.Recv()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Chunk{}, io.EOF
		}
		return Chunk{}, classifyError(err)
	}

	// Chunks without a choice carry no delta; surface them as empty so the
	// relay can skip them silently.
	if len(resp.Choices) == 0 {
		return Chunk{}, nil
	}

	choice := resp.Choices[0]
	return Chunk{
		Content: choice.Delta.Content,
		Finish:  choice.FinishReason != "",
	}, nil
}

func (s *openaiStream) Close() error {
	return s.stream.Close()
}
