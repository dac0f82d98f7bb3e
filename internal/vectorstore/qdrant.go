// Package vectorstore provides nearest-neighbor retrieval over Qdrant.
package vectorstore

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/grpc"
)

// Tracer for OpenTelemetry instrumentation.
var tracer = otel.Tracer("answerd.vectorstore.qdrant")

// indexNamePattern validates index (collection) names.
// Pattern: lowercase letters, numbers, underscores and hyphens, 1-64 characters.
var indexNamePattern = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// Defaults for the two result-bounding knobs.
const (
	DefaultK   = 3
	DefaultTop = 100
)

// QdrantConfig holds configuration for the Qdrant gRPC client.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP address.
	Host string

	// Port is the Qdrant gRPC port (6334), not the HTTP REST port.
	Port int

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// Timeout is the per-search deadline. Zero disables the extra deadline.
	Timeout time.Duration

	// MaxMessageSize is the maximum gRPC message size in bytes.
	// Defaults to 50MB to handle large payloads.
	MaxMessageSize int
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	return nil
}

// ValidateIndexName validates an index name against naming rules.
// Rejects uppercase, special characters, path traversal and spaces.
func ValidateIndexName(name string) error {
	if !indexNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidIndexName, name)
	}
	return nil
}

// QdrantStore implements Searcher over the Qdrant gRPC API.
type QdrantStore struct {
	client *qdrant.Client
	config QdrantConfig
}

// NewQdrantStore creates a store connected to the configured Qdrant server.
func NewQdrantStore(config QdrantConfig) (*QdrantStore, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	maxMessageSize := config.MaxMessageSize
	if maxMessageSize == 0 {
		maxMessageSize = 50 * 1024 * 1024
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(maxMessageSize),
				grpc.MaxCallSendMsgSize(maxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant at %s:%d: %w", config.Host, config.Port, err)
	}

	return &QdrantStore{client: client, config: config}, nil
}

// Close releases the underlying gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// Search runs one nearest-neighbor query and projects the selected payload
// fields into Documents, ordered by score.
//
// The vector clause is issued as a prefetch bounded by q.K candidates; the
// outer query caps total results at q.Top. Remote errors propagate without
// partial results.
func (s *QdrantStore) Search(ctx context.Context, q Query) ([]Document, error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.Search")
	defer span.End()

	if err := ValidateIndexName(q.Index); err != nil {
		return nil, err
	}
	if len(q.Vector) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", ErrInvalidConfig)
	}
	if q.K <= 0 {
		q.K = DefaultK
	}
	if q.Top <= 0 {
		q.Top = DefaultTop
	}

	span.SetAttributes(
		attribute.String("index", q.Index),
		attribute.Int("k", q.K),
		attribute.Int("top", q.Top),
	)

	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}

	prefetch := &qdrant.PrefetchQuery{
		Query: qdrant.NewQuery(q.Vector...),
		Limit: qdrant.PtrOf(uint64(q.K)),
	}
	if q.VectorField != "" {
		prefetch.Using = qdrant.PtrOf(q.VectorField)
	}

	withPayload := qdrant.NewWithPayload(true)
	if len(q.SelectFields) > 0 {
		withPayload = qdrant.NewWithPayloadInclude(q.SelectFields...)
	}

	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.Index,
		Prefetch:       []*qdrant.PrefetchQuery{prefetch},
		Query:          qdrant.NewQueryFusion(qdrant.Fusion_RRF),
		Limit:          qdrant.PtrOf(uint64(q.Top)),
		WithPayload:    withPayload,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: index %s: %v", ErrSearchFailed, q.Index, err)
	}

	docs := make([]Document, 0, len(points))
	for _, point := range points {
		docs = append(docs, documentFromPayload(point))
	}

	span.SetAttributes(attribute.Int("results_count", len(docs)))
	span.SetStatus(codes.Ok, "success")
	return docs, nil
}

// documentFromPayload extracts the title and content payload fields from a
// scored point. Missing fields default to empty strings.
func documentFromPayload(point *qdrant.ScoredPoint) Document {
	doc := Document{Score: point.GetScore()}
	for key, value := range point.GetPayload() {
		sv, ok := value.GetKind().(*qdrant.Value_StringValue)
		if !ok {
			continue
		}
		switch key {
		case "title":
			doc.Title = sv.StringValue
		case "content":
			doc.Content = sv.StringValue
		}
	}
	return doc
}
