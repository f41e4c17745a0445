package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/iamvkosarev/ca-study-chat/internal/model"
)

func TestDefault(t *testing.T) {
	c := Default()
	if len(c.Suggestions) != 4 {
		t.Fatalf("suggestions = %d, want 4", len(c.Suggestions))
	}
	if c.Suggestions[0] != "Explain Section 44AD provisions" {
		t.Errorf("first suggestion = %q", c.Suggestions[0])
	}
	if c.Subjects[0] != model.AllSubjects {
		t.Errorf("first subject = %q, want %q", c.Subjects[0], model.AllSubjects)
	}
}

func TestParse(t *testing.T) {
	data := []byte(`
suggestions:
  - What is Ind AS 115?
subjects:
  - Taxation
chats:
  - title: Revenue recognition
    subject: Accounting
    timestamp: 2024-02-01T09:00:00Z
    messages:
      - role: user
        content: Explain the five step model
      - role: bot
        content: Identify the contract, the obligations, the price, allocate it and recognise revenue.
`)
	c, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(c.Suggestions) != 1 || c.Suggestions[0] != "What is Ind AS 115?" {
		t.Errorf("suggestions = %v", c.Suggestions)
	}
	if len(c.Subjects) != 2 || c.Subjects[0] != model.AllSubjects {
		t.Errorf("subjects = %v, want All Subjects prepended", c.Subjects)
	}

	chat := c.Chats[0].Chat()
	if chat.Title != "Revenue recognition" {
		t.Errorf("title = %q", chat.Title)
	}
	if len(chat.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(chat.Messages))
	}
	if chat.Messages[1].Role != model.RoleAssistant {
		t.Errorf("role = %q, want assistant", chat.Messages[1].Role)
	}
	if !chat.Messages[1].CreatedAt.After(chat.Messages[0].CreatedAt) {
		t.Error("seed messages are not in creation order")
	}
	if !strings.HasPrefix(chat.Preview, "Identify the contract") {
		t.Errorf("preview = %q", chat.Preview)
	}
}

func TestParse_Defaults(t *testing.T) {
	c, err := Parse([]byte("chats: []\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(c.Suggestions) != len(Default().Suggestions) {
		t.Errorf("suggestions = %v", c.Suggestions)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{
			name:    "unknown role",
			data:    "chats:\n  - messages:\n      - role: system\n        content: hi\n",
			wantErr: `unknown role "system"`,
		},
		{
			name:    "empty content",
			data:    "chats:\n  - messages:\n      - role: user\n        content: '  '\n",
			wantErr: "content is empty",
		},
		{
			name:    "empty suggestion",
			data:    "suggestions:\n  - ''\n",
			wantErr: "suggestions[0] is empty",
		},
		{
			name:    "bad yaml",
			data:    "suggestions: [",
			wantErr: "catalog: parse",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte("suggestions:\n  - Explain SA 230\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Suggestions[0] != "Explain SA 230" {
		t.Errorf("suggestion = %q", c.Suggestions[0])
	}

	if _, err = Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestSuggestion(t *testing.T) {
	c := Default()
	got, err := c.Suggestion(3)
	if err != nil {
		t.Fatalf("Suggestion: %v", err)
	}
	if got != "Audit standards under SA 700" {
		t.Errorf("suggestion = %q", got)
	}
	if _, err = c.Suggestion(4); !errors.Is(err, model.ErrSuggestionDoesNotExist) {
		t.Errorf("err = %v, want ErrSuggestionDoesNotExist", err)
	}
}
