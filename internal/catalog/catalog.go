// Package catalog provides the static content offered to a new view: the
// suggested prompts, the subject filter list and the seed chat history.
package catalog

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/iamvkosarev/ca-study-chat/internal/model"
	"gopkg.in/yaml.v3"
)

type Catalog struct {
	Suggestions []string   `yaml:"suggestions"`
	Subjects    []string   `yaml:"subjects"`
	Chats       []SeedChat `yaml:"chats"`
}

// SeedChat is a chat stored on first start when the chat storage is empty.
type SeedChat struct {
	Title     string        `yaml:"title"`
	Subject   string        `yaml:"subject"`
	Timestamp time.Time     `yaml:"timestamp"`
	Messages  []SeedMessage `yaml:"messages"`
}

type SeedMessage struct {
	Role    string `yaml:"role"`
	Content string `yaml:"content"`
}

// Default mirrors the content shipped with the web client.
func Default() *Catalog {
	day := func(d int) time.Time {
		return time.Date(2024, time.January, d, 10, 0, 0, 0, time.UTC)
	}
	return &Catalog{
		Suggestions: []string{
			"Explain Section 44AD provisions",
			"What is depreciation under Companies Act?",
			"GST return filing due dates",
			"Audit standards under SA 700",
		},
		Subjects: []string{
			model.AllSubjects,
			"Taxation",
			"Accounting",
			"Audit",
			"Law",
			"Costing",
			"Financial Management",
		},
		Chats: []SeedChat{
			{
				Title:     "Section 44AD presumptive taxation",
				Subject:   "Taxation",
				Timestamp: day(15),
				Messages: []SeedMessage{
					{Role: "user", Content: "What is presumptive taxation under Section 44AD?"},
					{Role: "assistant", Content: "Section 44AD lets eligible small businesses declare 8% of turnover (6% for digital receipts) as income without maintaining detailed books."},
				},
			},
			{
				Title:     "AS 10 Property, Plant and Equipment",
				Subject:   "Accounting",
				Timestamp: day(14),
				Messages: []SeedMessage{
					{Role: "user", Content: "When is an item recognised as property, plant and equipment?"},
					{Role: "assistant", Content: "An item is recognised when future economic benefits are probable and its cost can be measured reliably."},
				},
			},
			{
				Title:     "SA 700 audit report format",
				Subject:   "Audit",
				Timestamp: day(13),
				Messages: []SeedMessage{
					{Role: "user", Content: "What are the elements of an auditor's report under SA 700?"},
					{Role: "assistant", Content: "Title, addressee, opinion, basis for opinion, key audit matters where applicable, responsibilities of management and the auditor, signature, place and date."},
				},
			},
		},
	}
}

// Load reads a YAML catalog from path. Sections missing from the file are
// taken from Default.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("catalog: parse: %w", err)
	}
	c.applyDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) applyDefaults() {
	def := Default()
	if len(c.Suggestions) == 0 {
		c.Suggestions = def.Suggestions
	}
	if len(c.Subjects) == 0 {
		c.Subjects = def.Subjects
	}
	if c.Subjects[0] != model.AllSubjects {
		c.Subjects = append([]string{model.AllSubjects}, c.Subjects...)
	}
}

func (c *Catalog) validate() error {
	var errs []string
	for i, s := range c.Suggestions {
		if strings.TrimSpace(s) == "" {
			errs = append(errs, fmt.Sprintf("suggestions[%d] is empty", i))
		}
	}
	for i, chat := range c.Chats {
		for j, msg := range chat.Messages {
			if _, ok := model.ParseRole(msg.Role); !ok {
				errs = append(errs, fmt.Sprintf("chats[%d].messages[%d]: unknown role %q", i, j, msg.Role))
			}
			if strings.TrimSpace(msg.Content) == "" {
				errs = append(errs, fmt.Sprintf("chats[%d].messages[%d]: content is empty", i, j))
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("catalog: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Suggestion returns the suggested prompt at index.
func (c *Catalog) Suggestion(index int) (string, error) {
	if index < 0 || index >= len(c.Suggestions) {
		return "", fmt.Errorf("suggestion %d: %w", index, model.ErrSuggestionDoesNotExist)
	}
	return c.Suggestions[index], nil
}

// Chat converts the seed into a stored chat. Message timestamps are spread
// one minute apart starting at the seed timestamp.
func (s SeedChat) Chat() model.Chat {
	created := s.Timestamp
	if created.IsZero() {
		created = time.Now()
	}
	chat := model.Chat{
		ChatID:    model.NewID(),
		Title:     model.DefaultChatTitle,
		Subject:   s.Subject,
		CreatedAt: created,
		UpdatedAt: created,
	}
	for i, m := range s.Messages {
		role, _ := model.ParseRole(m.Role)
		msg := model.NewMessage(role, strings.TrimSpace(m.Content), created.Add(time.Duration(i)*time.Minute))
		chat = chat.WithMessage(msg)
	}
	if s.Title != "" {
		chat.Title = model.Truncate(s.Title, model.ChatTitleLimit)
	}
	return chat
}
