// Package chat defines the conversation message model shared by the
// completion pipeline and the HTTP API.
package chat

// Message roles. Order within a conversation is semantically meaningful:
// the opening user turn is the one the pipeline augments against.
const (
	RoleUser      = "user"
	RoleSystem    = "system"
	RoleAssistant = "assistant"
)

// Message is a single conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// FirstUserQuestion returns the content of the first user-role message in
// the history. Returns "" when no user message exists; callers proceed with
// an empty question rather than failing.
func FirstUserQuestion(messages []Message) string {
	for _, m := range messages {
		if m.Role == RoleUser {
			return m.Content
		}
	}
	return ""
}

// AppendSystemContext appends one system-role turn carrying retrieved
// context to the history and returns the extended slice.
func AppendSystemContext(messages []Message, context string) []Message {
	return append(messages, Message{
		Role:    RoleSystem,
		Content: "以下は関連情報です:\n" + context,
	})
}
