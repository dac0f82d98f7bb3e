// Package embeddings converts free text into fixed-length vectors via a
// hosted embedding model, chunking long input by token count.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pkoukk/tiktoken-go"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// chunkTokenLimit is the per-request token ceiling of the hosted model.
// Inputs are split at this boundary and embedded per chunk so oversized
// text degrades into extra calls instead of an invalid-request failure.
const chunkTokenLimit = 8192

// encodingName is the tokenizer encoding matching the embedding model family.
const encodingName = "cl100k_base"

// Config holds configuration for the embedding service.
type Config struct {
	// APIKey authenticates against the embeddings API.
	APIKey string

	// BaseURL overrides the API endpoint. Empty uses the provider default.
	BaseURL string

	// Model is the embedding model name.
	Model string

	// Timeout is the per-call deadline. Zero disables the extra deadline.
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

// embeddingAPI is the slice of the OpenAI client the service uses.
// Narrow so tests can substitute a fake.
type embeddingAPI interface {
	CreateEmbeddings(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// tokenizer is the slice of the tiktoken encoder the service uses.
// Satisfied by *tiktoken.Tiktoken; tests substitute a fake to avoid
// fetching the BPE vocabulary.
type tokenizer interface {
	Encode(text string, allowedSpecial, disallowedSpecial []string) []int
	Decode(tokens []int) string
}

// Service generates embeddings with token-aware chunking.
type Service struct {
	config  Config
	client  embeddingAPI
	encoder tokenizer
	metrics *Metrics
}

// NewService creates an embedding service with the given configuration.
func NewService(config Config, logger *zap.Logger) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	encoder, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("loading %s encoding: %w", encodingName, err)
	}

	return &Service{
		config:  config,
		client:  openai.NewClientWithConfig(clientConfig),
		encoder: encoder,
		metrics: NewMetrics(logger),
	}, nil
}

// Vectorize converts text into one embedding vector.
//
// The input is tokenized and split into chunks of at most chunkTokenLimit
// tokens; each chunk is embedded independently and the result is the
// element-wise arithmetic mean of the chunk vectors, preserving
// dimensionality. Degenerate input that yields no chunks returns (nil, nil):
// callers must branch on the absent vector, never receive a zero vector.
//
// Remote failures propagate; no retry is performed here.
func (s *Service) Vectorize(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	var genErr error
	chunks := s.splitTokens(text)
	defer func() {
		s.metrics.RecordVectorize(ctx, s.config.Model, time.Since(start), len(chunks), genErr)
	}()

	if len(chunks) == 0 {
		return nil, nil
	}

	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}

	vectors := make([][]float32, 0, len(chunks))
	for _, chunk := range chunks {
		resp, err := s.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
			Input: []string{s.encoder.Decode(chunk)},
			Model: openai.EmbeddingModel(s.config.Model),
		})
		if err != nil {
			genErr = fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
			return nil, genErr
		}
		if len(resp.Data) == 0 {
			genErr = fmt.Errorf("%w: empty response", ErrEmbeddingFailed)
			return nil, genErr
		}
		vectors = append(vectors, resp.Data[0].Embedding)
	}

	return meanVector(vectors)
}

// splitTokens tokenizes text and splits the tokens into fixed-size chunks.
func (s *Service) splitTokens(text string) [][]int {
	tokens := s.encoder.Encode(text, nil, nil)
	if len(tokens) == 0 {
		return nil
	}

	chunks := make([][]int, 0, (len(tokens)+chunkTokenLimit-1)/chunkTokenLimit)
	for i := 0; i < len(tokens); i += chunkTokenLimit {
		end := i + chunkTokenLimit
		if end > len(tokens) {
			end = len(tokens)
		}
		chunks = append(chunks, tokens[i:end])
	}
	return chunks
}

// meanVector reduces chunk vectors to their element-wise arithmetic mean.
// All vectors must share one dimensionality.
func meanVector(vectors [][]float32) ([]float32, error) {
	dim := len(vectors[0])
	sums := make([]float64, dim)
	for _, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("%w: dimension mismatch: %d != %d", ErrEmbeddingFailed, len(v), dim)
		}
		for i, x := range v {
			sums[i] += float64(x)
		}
	}

	mean := make([]float32, dim)
	for i, sum := range sums {
		mean[i] = float32(sum / float64(len(vectors)))
	}
	return mean, nil
}
