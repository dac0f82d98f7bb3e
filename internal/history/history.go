// Package history persists conversation records per tenant and user.
package history

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/answerd/internal/chat"
)

// ErrNotFound indicates the requested conversation record is absent.
var ErrNotFound = errors.New("conversation not found")

// titleRuneLimit bounds the auto-generated title length.
const titleRuneLimit = 30

// defaultTitle is used when the question carries no content.
const defaultTitle = "新規チャット"

// Conversation is one saved question/answer exchange.
type Conversation struct {
	ID        string       `json:"id"`
	TenantID  string       `json:"tenantId"`
	UserID    string       `json:"userId"`
	Title     string       `json:"title"`
	Question  chat.Message `json:"question"`
	Answer    chat.Message `json:"answer"`
	CreatedAt time.Time    `json:"createdAt"`
}

// Summary is the list-view projection of a conversation.
type Summary struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// FindConversation filters lookups. TenantID and UserID are always required;
// records are never visible across tenant or user boundaries.
type FindConversation struct {
	TenantID string
	UserID   string
	ID       *string
}

// Driver is the persistence backend contract.
type Driver interface {
	EnsureSchema(ctx context.Context) error
	CreateConversation(ctx context.Context, conversation *Conversation) error
	ListConversations(ctx context.Context, find FindConversation) ([]Summary, error)
	GetConversation(ctx context.Context, find FindConversation) (*Conversation, error)
	CountConversations(ctx context.Context, find FindConversation, from, to time.Time) (int, error)
	Close() error
}

// Store is the driver-independent facade the handlers use.
type Store struct {
	driver Driver
}

// NewStore wraps a driver.
func NewStore(driver Driver) *Store {
	return &Store{driver: driver}
}

// EnsureSchema creates missing tables and indexes.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.driver.EnsureSchema(ctx)
}

// CreateConversation saves a new question/answer exchange and returns the
// stored record. A missing id is generated; the title derives from the
// question's leading runes.
func (s *Store) CreateConversation(ctx context.Context, tenantID, userID, conversationID string, question, answer chat.Message) (*Conversation, error) {
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	conversation := &Conversation{
		ID:        conversationID,
		TenantID:  tenantID,
		UserID:    userID,
		Title:     titleFromQuestion(question),
		Question:  question,
		Answer:    answer,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.driver.CreateConversation(ctx, conversation); err != nil {
		return nil, err
	}
	return conversation, nil
}

// ListConversations returns the user's conversation summaries, newest first.
func (s *Store) ListConversations(ctx context.Context, tenantID, userID string) ([]Summary, error) {
	return s.driver.ListConversations(ctx, FindConversation{TenantID: tenantID, UserID: userID})
}

// GetConversation returns one full record or ErrNotFound.
func (s *Store) GetConversation(ctx context.Context, tenantID, userID, id string) (*Conversation, error) {
	return s.driver.GetConversation(ctx, FindConversation{TenantID: tenantID, UserID: userID, ID: &id})
}

// CountThisMonth returns how many conversations the user created in the
// current calendar month, in UTC.
func (s *Store) CountThisMonth(ctx context.Context, tenantID, userID string, now time.Time) (int, error) {
	now = now.UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return s.driver.CountConversations(ctx, FindConversation{TenantID: tenantID, UserID: userID}, monthStart, now)
}

// Close releases the driver's resources.
func (s *Store) Close() error {
	return s.driver.Close()
}

// titleFromQuestion derives a list title from the question's first runes.
func titleFromQuestion(question chat.Message) string {
	content := question.Content
	if content == "" {
		return defaultTitle
	}
	if utf8.RuneCountInString(content) <= titleRuneLimit {
		return content
	}
	runes := []rune(content)
	return string(runes[:titleRuneLimit])
}
