package vectorstore

import (
	"context"
	"errors"
)

var (
	// ErrInvalidConfig indicates invalid configuration or query input.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidIndexName indicates an index name that fails validation.
	ErrInvalidIndexName = errors.New("invalid index name")

	// ErrSearchFailed indicates a remote search failure.
	ErrSearchFailed = errors.New("search failed")
)

// Document is one retrieved search result.
type Document struct {
	// Title is the document's title payload field. May be empty.
	Title string

	// Content is the document's body payload field.
	Content string

	// Score is the retrieval relevance score.
	Score float32
}

// Query is one nearest-neighbor search.
type Query struct {
	// Vector is the embedding the search matches against.
	Vector []float32

	// Index names the collection searched.
	Index string

	// VectorField names the stored vector matched against. Empty uses the
	// collection's default vector.
	VectorField string

	// SelectFields are the payload fields projected into results. Empty
	// selects the full payload.
	SelectFields []string

	// K bounds nearest-neighbor candidates. Zero applies DefaultK.
	K int

	// Top caps total results. Zero applies DefaultTop.
	Top int
}

// Searcher runs nearest-neighbor queries.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Document, error)
}
