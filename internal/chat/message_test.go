package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirstUserQuestion(t *testing.T) {
	tests := []struct {
		name     string
		messages []Message
		want     string
	}{
		{
			name:     "empty history",
			messages: nil,
			want:     "",
		},
		{
			name: "single user message",
			messages: []Message{
				{Role: RoleUser, Content: "経費精算の締め切りは?"},
			},
			want: "経費精算の締め切りは?",
		},
		{
			name: "first user message wins",
			messages: []Message{
				{Role: RoleSystem, Content: "prelude"},
				{Role: RoleUser, Content: "first"},
				{Role: RoleAssistant, Content: "answer"},
				{Role: RoleUser, Content: "second"},
			},
			want: "first",
		},
		{
			name: "no user message",
			messages: []Message{
				{Role: RoleSystem, Content: "prelude"},
				{Role: RoleAssistant, Content: "answer"},
			},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FirstUserQuestion(tt.messages))
		})
	}
}

func TestAppendSystemContext(t *testing.T) {
	t.Run("appends system turn with prefix", func(t *testing.T) {
		history := []Message{{Role: RoleUser, Content: "question"}}

		got := AppendSystemContext(history, "- doc\n  body")

		require.Len(t, got, 2)
		assert.Equal(t, RoleSystem, got[1].Role)
		assert.Equal(t, "以下は関連情報です:\n- doc\n  body", got[1].Content)
	})

	t.Run("empty context still appends the turn", func(t *testing.T) {
		got := AppendSystemContext(nil, "")

		require.Len(t, got, 1)
		assert.Equal(t, RoleSystem, got[0].Role)
		assert.Equal(t, "以下は関連情報です:\n", got[0].Content)
	})
}
