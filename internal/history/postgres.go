package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	// Postgres driver registration.
	_ "github.com/lib/pq"
)

// PostgresDriver implements Driver on Postgres.
type PostgresDriver struct {
	db *sql.DB
}

// NewPostgresDriver opens a connection pool against the given DSN.
func NewPostgresDriver(dsn string) (*PostgresDriver, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &PostgresDriver{db: db}, nil
}

// EnsureSchema creates the conversation table and its lookup index.
func (d *PostgresDriver) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversation (
			id         TEXT        PRIMARY KEY,
			tenant_id  TEXT        NOT NULL,
			user_id    TEXT        NOT NULL,
			title      TEXT        NOT NULL,
			question   JSONB       NOT NULL,
			answer     JSONB       NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversation_user ON conversation(tenant_id, user_id, created_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensuring schema: %w", err)
		}
	}
	return nil
}

func (d *PostgresDriver) CreateConversation(ctx context.Context, conversation *Conversation) error {
	question, err := json.Marshal(conversation.Question)
	if err != nil {
		return fmt.Errorf("encoding question: %w", err)
	}
	answer, err := json.Marshal(conversation.Answer)
	if err != nil {
		return fmt.Errorf("encoding answer: %w", err)
	}

	stmt := `INSERT INTO conversation (id, tenant_id, user_id, title, question, answer, created_at)
	         VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := d.db.ExecContext(ctx, stmt,
		conversation.ID, conversation.TenantID, conversation.UserID,
		conversation.Title, question, answer, conversation.CreatedAt,
	); err != nil {
		return fmt.Errorf("inserting conversation: %w", err)
	}
	return nil
}

func (d *PostgresDriver) ListConversations(ctx context.Context, find FindConversation) ([]Summary, error) {
	where, args := d.where(find)
	query := fmt.Sprintf(
		`SELECT id, title FROM conversation WHERE %s ORDER BY created_at DESC`,
		strings.Join(where, " AND "),
	)
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	list := []Summary{}
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.ID, &s.Title); err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

func (d *PostgresDriver) GetConversation(ctx context.Context, find FindConversation) (*Conversation, error) {
	where, args := d.where(find)
	query := fmt.Sprintf(
		`SELECT id, tenant_id, user_id, title, question, answer, created_at
		 FROM conversation WHERE %s`,
		strings.Join(where, " AND "),
	)

	var (
		conversation Conversation
		questionRaw  []byte
		answerRaw    []byte
	)
	row := d.db.QueryRowContext(ctx, query, args...)
	if err := row.Scan(
		&conversation.ID, &conversation.TenantID, &conversation.UserID,
		&conversation.Title, &questionRaw, &answerRaw, &conversation.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetching conversation: %w", err)
	}

	if err := json.Unmarshal(questionRaw, &conversation.Question); err != nil {
		return nil, fmt.Errorf("decoding question: %w", err)
	}
	if err := json.Unmarshal(answerRaw, &conversation.Answer); err != nil {
		return nil, fmt.Errorf("decoding answer: %w", err)
	}
	return &conversation, nil
}

func (d *PostgresDriver) CountConversations(ctx context.Context, find FindConversation, from, to time.Time) (int, error) {
	where, args := d.where(find)
	where = append(where, fmt.Sprintf("created_at >= $%d", len(args)+1))
	args = append(args, from)
	where = append(where, fmt.Sprintf("created_at <= $%d", len(args)+1))
	args = append(args, to)

	query := fmt.Sprintf(
		`SELECT COUNT(1) FROM conversation WHERE %s`,
		strings.Join(where, " AND "),
	)

	var count int
	if err := d.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting conversations: %w", err)
	}
	return count, nil
}

// Close closes the connection pool.
func (d *PostgresDriver) Close() error {
	return d.db.Close()
}

// where builds the tenant/user scoped filter shared by all lookups.
func (d *PostgresDriver) where(find FindConversation) ([]string, []any) {
	where := []string{"tenant_id = $1", "user_id = $2"}
	args := []any{find.TenantID, find.UserID}
	if find.ID != nil {
		where = append(where, fmt.Sprintf("id = $%d", len(args)+1))
		args = append(args, *find.ID)
	}
	return where, args
}
