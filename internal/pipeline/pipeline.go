// Package pipeline orchestrates the augment-and-complete flow for one chat
// request: vectorize the question, retrieve context, append it as a system
// turn, and invoke the completion model.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/answerd/internal/chat"
	"github.com/fyrsmithlabs/answerd/internal/completion"
	"github.com/fyrsmithlabs/answerd/internal/summarize"
	"github.com/fyrsmithlabs/answerd/internal/tenant"
	"github.com/fyrsmithlabs/answerd/internal/vectorstore"
)

// Vectorizer converts text into an embedding vector. A (nil, nil) return
// means "no vector" for degenerate input.
type Vectorizer interface {
	Vectorize(ctx context.Context, text string) ([]float32, error)
}

// Completer submits message histories to the chat model.
type Completer interface {
	Complete(ctx context.Context, messages []chat.Message) (chat.Message, error)
	CompleteStream(ctx context.Context, messages []chat.Message) (completion.Stream, error)
}

// IndexResolver maps a principal to a search index.
type IndexResolver interface {
	Resolve(p tenant.Principal) (string, error)
}

// Config holds the retrieval knobs applied to every search.
type Config struct {
	// VectorField names the stored vector matched against.
	VectorField string

	// SelectFields are the payload fields projected into results.
	SelectFields []string

	// K bounds nearest-neighbor candidates per query.
	K int

	// Top caps total search results.
	Top int
}

// Pipeline wires the collaborator clients for the per-request flow. All
// collaborators are injected so tests can substitute fakes; the pipeline
// itself holds no per-request state.
type Pipeline struct {
	vectorizer Vectorizer
	searcher   vectorstore.Searcher
	completer  Completer
	resolver   IndexResolver
	config     Config
	logger     *zap.Logger
}

// New creates a pipeline from its collaborators.
func New(vectorizer Vectorizer, searcher vectorstore.Searcher, completer Completer, resolver IndexResolver, config Config, logger *zap.Logger) (*Pipeline, error) {
	if vectorizer == nil || searcher == nil || completer == nil || resolver == nil {
		return nil, errors.New("all pipeline collaborators are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		vectorizer: vectorizer,
		searcher:   searcher,
		completer:  completer,
		resolver:   resolver,
		config:     config,
		logger:     logger,
	}, nil
}

// Augment extends the history with one system turn carrying retrieved
// context for the opening user question.
//
// The degraded paths are deliberate: a history without a user turn augments
// against an empty question, and a missing vector or unresolvable index
// skips retrieval and appends an empty context turn instead of failing the
// request. Remote search failures do propagate.
func (p *Pipeline) Augment(ctx context.Context, principal tenant.Principal, messages []chat.Message) ([]chat.Message, error) {
	question := chat.FirstUserQuestion(messages)

	summary, err := p.retrieveContext(ctx, principal, question)
	if err != nil {
		return nil, err
	}
	return chat.AppendSystemContext(messages, summary), nil
}

// retrieveContext runs vectorize → search → summarize, returning "" on the
// skippable degraded paths.
func (p *Pipeline) retrieveContext(ctx context.Context, principal tenant.Principal, question string) (string, error) {
	index, err := p.resolver.Resolve(principal)
	if err != nil {
		if errors.Is(err, tenant.ErrNoIndex) {
			p.logger.Debug("no search index for principal, skipping augmentation",
				zap.String("username", principal.Username))
			return "", nil
		}
		return "", fmt.Errorf("resolving search index: %w", err)
	}

	vector, err := p.vectorizer.Vectorize(ctx, question)
	if err != nil {
		return "", fmt.Errorf("vectorizing question: %w", err)
	}
	if vector == nil {
		p.logger.Debug("question produced no vector, skipping augmentation")
		return "", nil
	}

	docs, err := p.searcher.Search(ctx, vectorstore.Query{
		Vector:       vector,
		Index:        index,
		VectorField:  p.config.VectorField,
		SelectFields: p.config.SelectFields,
		K:            p.config.K,
		Top:          p.config.Top,
	})
	if err != nil {
		return "", fmt.Errorf("searching index %s: %w", index, err)
	}

	return summarize.Documents(docs), nil
}

// Respond runs the full non-streaming flow and returns the augmented
// history alongside the completed assistant message.
func (p *Pipeline) Respond(ctx context.Context, principal tenant.Principal, messages []chat.Message) ([]chat.Message, chat.Message, error) {
	augmented, err := p.Augment(ctx, principal, messages)
	if err != nil {
		return nil, chat.Message{}, err
	}

	answer, err := p.completer.Complete(ctx, augmented)
	if err != nil {
		return nil, chat.Message{}, err
	}
	return augmented, answer, nil
}

// RespondStream runs the full streaming flow. The caller owns the returned
// stream handle.
func (p *Pipeline) RespondStream(ctx context.Context, principal tenant.Principal, messages []chat.Message) ([]chat.Message, completion.Stream, error) {
	augmented, err := p.Augment(ctx, principal, messages)
	if err != nil {
		return nil, nil, err
	}

	stream, err := p.completer.CompleteStream(ctx, augmented)
	if err != nil {
		return nil, nil, err
	}
	return augmented, stream, nil
}
