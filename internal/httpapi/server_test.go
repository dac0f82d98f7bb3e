package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/answerd/internal/chat"
	"github.com/fyrsmithlabs/answerd/internal/completion"
	"github.com/fyrsmithlabs/answerd/internal/config"
	"github.com/fyrsmithlabs/answerd/internal/history"
	"github.com/fyrsmithlabs/answerd/internal/pipeline"
	"github.com/fyrsmithlabs/answerd/internal/tenant"
	"github.com/fyrsmithlabs/answerd/internal/vectorstore"
)

const testToken = "valid-token"

var testPrincipal = tenant.Principal{
	TenantID: "tenant-1",
	ObjectID: "object-1",
	Username: "tanaka@example.com",
}

// fakeVerifier accepts exactly one token.
type fakeVerifier struct{}

func (fakeVerifier) Verify(_ context.Context, rawToken string) (tenant.Principal, error) {
	if rawToken != testToken {
		return tenant.Principal{}, errors.New("unknown token")
	}
	return testPrincipal, nil
}

type fakeVectorizer struct{ vector []float32 }

func (f fakeVectorizer) Vectorize(context.Context, string) ([]float32, error) {
	return f.vector, nil
}

type fakeSearcher struct{ docs []vectorstore.Document }

func (f fakeSearcher) Search(context.Context, vectorstore.Query) ([]vectorstore.Document, error) {
	return f.docs, nil
}

type fakeResolver struct{}

func (fakeResolver) Resolve(tenant.Principal) (string, error) { return "tanaka", nil }

// scriptedStream plays back fixed chunks then io.EOF.
type scriptedStream struct {
	chunks []completion.Chunk
	pos    int
}

func (s *scriptedStream) Recv() (completion.Chunk, error) {
	if s.pos >= len(s.chunks) {
		return completion.Chunk{}, io.EOF
	}
	chunk := s.chunks[s.pos]
	s.pos++
	return chunk, nil
}

func (s *scriptedStream) Close() error { return nil }

type fakeCompleter struct {
	answer chat.Message
	chunks []completion.Chunk
	err    error
}

func (f *fakeCompleter) Complete(context.Context, []chat.Message) (chat.Message, error) {
	return f.answer, f.err
}

func (f *fakeCompleter) CompleteStream(context.Context, []chat.Message) (completion.Stream, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &scriptedStream{chunks: f.chunks}, nil
}

// fakeHistoryDriver is an in-memory history backend.
type fakeHistoryDriver struct {
	conversations []*history.Conversation
	count         int
	err           error
}

func (f *fakeHistoryDriver) EnsureSchema(context.Context) error { return nil }

func (f *fakeHistoryDriver) CreateConversation(_ context.Context, c *history.Conversation) error {
	if f.err != nil {
		return f.err
	}
	f.conversations = append(f.conversations, c)
	return nil
}

func (f *fakeHistoryDriver) ListConversations(_ context.Context, find history.FindConversation) ([]history.Summary, error) {
	if f.err != nil {
		return nil, f.err
	}
	var summaries []history.Summary
	for _, c := range f.conversations {
		if c.TenantID == find.TenantID && c.UserID == find.UserID {
			summaries = append(summaries, history.Summary{ID: c.ID, Title: c.Title})
		}
	}
	return summaries, nil
}

func (f *fakeHistoryDriver) GetConversation(_ context.Context, find history.FindConversation) (*history.Conversation, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, c := range f.conversations {
		if c.TenantID == find.TenantID && c.UserID == find.UserID && find.ID != nil && c.ID == *find.ID {
			return c, nil
		}
	}
	return nil, history.ErrNotFound
}

func (f *fakeHistoryDriver) CountConversations(context.Context, history.FindConversation, time.Time, time.Time) (int, error) {
	return f.count, f.err
}

func (f *fakeHistoryDriver) Close() error { return nil }

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.RateLimit = 0
	cfg.Auth.TenantID = "tenant-1"
	cfg.Auth.ClientID = "client-1"
	cfg.Chat.UsageLimit = 100
	return cfg
}

func setupTestServer(t *testing.T, completer *fakeCompleter, driver *fakeHistoryDriver) *Server {
	t.Helper()

	p, err := pipeline.New(
		fakeVectorizer{vector: []float32{0.1}},
		fakeSearcher{docs: []vectorstore.Document{{Title: "規程", Content: "本文"}}},
		completer,
		fakeResolver{},
		pipeline.Config{K: 3, Top: 100},
		zap.NewNop(),
	)
	require.NoError(t, err)

	server, err := NewServer(testConfig(), fakeVerifier{}, p, history.NewStore(driver), zap.NewNop())
	require.NoError(t, err)
	return server
}

// doRequest serves one request with an optional bearer token.
func doRequest(server *Server, method, path, body, token string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	server.echo.ServeHTTP(rec, req)
	return rec
}

func TestNewServer(t *testing.T) {
	t.Run("rejects missing collaborators", func(t *testing.T) {
		_, err := NewServer(nil, fakeVerifier{}, nil, nil, zap.NewNop())
		assert.Error(t, err)

		_, err = NewServer(testConfig(), nil, nil, nil, zap.NewNop())
		assert.Error(t, err)
	})
}

func TestHandleHealth(t *testing.T) {
	server := setupTestServer(t, &fakeCompleter{}, &fakeHistoryDriver{})

	rec := doRequest(server, http.MethodGet, "/health", "", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHandleAuthSetup(t *testing.T) {
	server := setupTestServer(t, &fakeCompleter{}, &fakeHistoryDriver{})

	// No token required: the SPA fetches this before sign-in.
	rec := doRequest(server, http.MethodGet, "/api/auth_setup", "", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"clientId": "client-1",
		"authority": "https://login.microsoftonline.com/tenant-1",
		"scopes": ["api://client-1/.default"]
	}`, rec.Body.String())
}

func TestAuthMiddleware(t *testing.T) {
	server := setupTestServer(t, &fakeCompleter{}, &fakeHistoryDriver{})

	t.Run("missing token", func(t *testing.T) {
		rec := doRequest(server, http.MethodGet, "/api/history", "", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("invalid token", func(t *testing.T) {
		rec := doRequest(server, http.MethodGet, "/api/history", "", "forged")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("non-bearer scheme", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
		req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		rec := httptest.NewRecorder()
		server.echo.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestHandleChat(t *testing.T) {
	t.Run("malformed body", func(t *testing.T) {
		server := setupTestServer(t, &fakeCompleter{}, &fakeHistoryDriver{})

		rec := doRequest(server, http.MethodPost, "/api/chat", "{not json", testToken)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("empty messages", func(t *testing.T) {
		server := setupTestServer(t, &fakeCompleter{}, &fakeHistoryDriver{})

		rec := doRequest(server, http.MethodPost, "/api/chat", `{"messages":[]}`, testToken)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("streams content frames then terminal frame", func(t *testing.T) {
		completer := &fakeCompleter{chunks: []completion.Chunk{
			{Content: "回"},
			{Content: "答"},
			{Finish: true},
		}}
		server := setupTestServer(t, completer, &fakeHistoryDriver{})

		rec := doRequest(server, http.MethodPost, "/api/chat", `{"messages":[{"role":"user","content":"質問"}]}`, testToken)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

		body := rec.Body.String()
		assert.Contains(t, body, "data: {\"content\":\"回\"}\n\n")
		assert.Contains(t, body, "data: {\"content\":\"答\"}\n\n")
		assert.Contains(t, body, `"messages":[{"role":"user","content":"質問"},{"role":"system","content":"以下は関連情報です:\n- 規程\n  本文"}]`)
		assert.True(t, strings.HasSuffix(body, "event: end\n\n"))
	})

	t.Run("non-streaming returns json body", func(t *testing.T) {
		completer := &fakeCompleter{answer: chat.Message{Role: chat.RoleAssistant, Content: "回答です"}}
		server := setupTestServer(t, completer, &fakeHistoryDriver{})

		rec := doRequest(server, http.MethodPost, "/api/chat", `{"messages":[{"role":"user","content":"質問"}],"stream":false}`, testToken)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{
			"message": {"role":"assistant","content":"回答です"},
			"context": {},
			"session_state": null,
			"delta": null
		}`, rec.Body.String())
	})

	t.Run("content filter maps to fixed message", func(t *testing.T) {
		completer := &fakeCompleter{err: fmt.Errorf("%w: blocked", completion.ErrContentFiltered)}
		server := setupTestServer(t, completer, &fakeHistoryDriver{})

		rec := doRequest(server, http.MethodPost, "/api/chat", `{"messages":[{"role":"user","content":"質問"}]}`, testToken)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.JSONEq(t, fmt.Sprintf(`{"message":%q}`, contentFilterMessage), rec.Body.String())
	})

	t.Run("rate limited maps to 429", func(t *testing.T) {
		completer := &fakeCompleter{err: fmt.Errorf("%w: quota", completion.ErrRateLimited)}
		server := setupTestServer(t, completer, &fakeHistoryDriver{})

		rec := doRequest(server, http.MethodPost, "/api/chat", `{"messages":[{"role":"user","content":"質問"}]}`, testToken)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	})

	t.Run("forbidden maps to 403", func(t *testing.T) {
		completer := &fakeCompleter{err: fmt.Errorf("%w", completion.ErrForbidden)}
		server := setupTestServer(t, completer, &fakeHistoryDriver{})

		rec := doRequest(server, http.MethodPost, "/api/chat", `{"messages":[{"role":"user","content":"質問"}]}`, testToken)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("other failures map to 500 with generic message", func(t *testing.T) {
		completer := &fakeCompleter{err: errors.New("socket reset")}
		server := setupTestServer(t, completer, &fakeHistoryDriver{})

		rec := doRequest(server, http.MethodPost, "/api/chat", `{"messages":[{"role":"user","content":"質問"}]}`, testToken)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "socket reset")
	})
}

func TestHandleHistory(t *testing.T) {
	saved := &history.Conversation{
		ID:       "conv-1",
		TenantID: testPrincipal.TenantID,
		UserID:   testPrincipal.ObjectID,
		Title:    "経費精算について",
		Question: chat.Message{Role: chat.RoleUser, Content: "経費精算について"},
		Answer:   chat.Message{Role: chat.RoleAssistant, Content: "回答"},
	}

	t.Run("list returns summaries", func(t *testing.T) {
		driver := &fakeHistoryDriver{conversations: []*history.Conversation{saved}}
		server := setupTestServer(t, &fakeCompleter{}, driver)

		rec := doRequest(server, http.MethodGet, "/api/history", "", testToken)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `[{"id":"conv-1","title":"経費精算について"}]`, rec.Body.String())
	})

	t.Run("list is empty array not null", func(t *testing.T) {
		server := setupTestServer(t, &fakeCompleter{}, &fakeHistoryDriver{})

		rec := doRequest(server, http.MethodGet, "/api/history", "", testToken)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "[]\n", rec.Body.String())
	})

	t.Run("get returns full record", func(t *testing.T) {
		driver := &fakeHistoryDriver{conversations: []*history.Conversation{saved}}
		server := setupTestServer(t, &fakeCompleter{}, driver)

		rec := doRequest(server, http.MethodGet, "/api/history/conv-1", "", testToken)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"id":"conv-1"`)
		assert.Contains(t, rec.Body.String(), `"title":"経費精算について"`)
	})

	t.Run("get unknown id is 404", func(t *testing.T) {
		server := setupTestServer(t, &fakeCompleter{}, &fakeHistoryDriver{})

		rec := doRequest(server, http.MethodGet, "/api/history/missing", "", testToken)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("save creates a record scoped to the principal", func(t *testing.T) {
		driver := &fakeHistoryDriver{}
		server := setupTestServer(t, &fakeCompleter{}, driver)

		body := `{"question":{"role":"user","content":"質問"},"answer":{"role":"assistant","content":"回答"}}`
		rec := doRequest(server, http.MethodPost, "/api/history", body, testToken)

		assert.Equal(t, http.StatusCreated, rec.Code)
		require.Len(t, driver.conversations, 1)
		assert.Equal(t, testPrincipal.TenantID, driver.conversations[0].TenantID)
		assert.Equal(t, testPrincipal.ObjectID, driver.conversations[0].UserID)
		assert.Equal(t, "質問", driver.conversations[0].Title)
	})
}

func TestHandleCheckCount(t *testing.T) {
	driver := &fakeHistoryDriver{count: 7}
	server := setupTestServer(t, &fakeCompleter{}, driver)

	rec := doRequest(server, http.MethodGet, "/api/checkcount", "", testToken)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"count":7,"limit":100}`, rec.Body.String())
}
