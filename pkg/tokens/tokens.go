// Package tokens counts chat completion tokens the way the OpenAI models do.
package tokens

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/sashabaranov/go-openai"
)

const fallbackEncoding = "cl100k_base"

// Every message is wrapped as <|start|>{role}\n{content}<|end|>\n and every
// reply is primed with <|start|>assistant<|message|>.
const (
	tokensPerMessage = 3
	tokensPerName    = 1
	tokensPerReply   = 3
)

type Counter struct {
	mu  sync.Mutex
	enc *tiktoken.Tiktoken
}

// NewCounter loads the encoding of model, falling back to cl100k_base for
// models tiktoken does not know.
func NewCounter(model string) (*Counter, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			return nil, fmt.Errorf("failed to get encoding for %s: %w", model, err)
		}
	}
	return &Counter{enc: enc}, nil
}

func (c *Counter) Count(text string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.enc.Encode(text, nil, nil))
}

func (c *Counter) CountMessages(messages []openai.ChatCompletionMessage) int {
	total := tokensPerReply
	for _, msg := range messages {
		total += tokensPerMessage
		total += c.Count(msg.Role)
		total += c.Count(msg.Content)
		if msg.Name != "" {
			total += c.Count(msg.Name) + tokensPerName
		}
	}
	return total
}

// Trim drops the oldest messages until count fits into budget. The last
// message is always kept. It reports whether anything was dropped.
func Trim[T any](messages []T, budget int, count func([]T) int) ([]T, bool) {
	trimmed := false
	for len(messages) > 1 && count(messages) > budget {
		messages = messages[1:]
		trimmed = true
	}
	return messages, trimmed
}
