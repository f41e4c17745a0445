package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/iamvkosarev/ca-study-chat/config"
	"github.com/iamvkosarev/ca-study-chat/internal/model"
	"github.com/iamvkosarev/ca-study-chat/pkg/tokens"
	"github.com/sashabaranov/go-openai"
)

const (
	OpenAIRoleSystem    = "system"
	OpenAIRoleUser      = "user"
	OpenAIRoleAssistant = "assistant"
	OpenAIRoleUnknown   = "unknown"

	SystemPrompt = "You are CAgpt, a study companion for Chartered Accountancy students in India. Answer questions " +
		"on taxation, accounting, audit, law, costing and financial management concisely, cite the relevant " +
		"section or standard, and say so when you are not sure."
)

// OpenAIUsecase answers through the OpenAI chat completion API. The history
// sent with a request is trimmed to the configured token budget.
type OpenAIUsecase struct {
	cfg    config.OpenAI
	client *openai.Client
	logger *slog.Logger

	counterOnce sync.Once
	counter     *tokens.Counter
	now         func() time.Time
}

func NewOpenAIUsecase(cfg config.OpenAI, logger *slog.Logger) *OpenAIUsecase {
	clientConfig := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.OpenAIBaseURL != "" {
		clientConfig.BaseURL = strings.TrimSuffix(cfg.OpenAIBaseURL, "/")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIUsecase{
		cfg:    cfg,
		client: openai.NewClientWithConfig(clientConfig),
		logger: logger,
		now:    time.Now,
	}
}

// NewProvider binds the usecase to the history of one view.
func (gpt *OpenAIUsecase) NewProvider(history HistoryFunc) ResponseProvider {
	return ResponseProviderFunc(
		func(ctx context.Context, userText string) (model.Message, error) {
			return gpt.SendMessage(ctx, history(), userText)
		},
	)
}

// SendMessage streams a chat completion for userText after history and
// returns the complete answer.
func (gpt *OpenAIUsecase) SendMessage(ctx context.Context, history []model.Message, userText string) (
	model.Message,
	error,
) {
	messageHistory := withPrompt(history, userText)
	chatMessages := make([]openai.ChatCompletionMessage, 0, len(messageHistory))
	for _, message := range messageHistory {
		chatMessages = append(
			chatMessages, openai.ChatCompletionMessage{
				Role:    parseRoleToOpenAIRole(message.Role),
				Content: message.Content,
			},
		)
	}
	systemMessage := openai.ChatCompletionMessage{Role: OpenAIRoleSystem, Content: SystemPrompt}
	if syllabus, ok := SyllabusFromContext(ctx); ok {
		systemMessage.Content += "\n\n" + syllabusInstruction(syllabus)
	}

	if gpt.cfg.MaxContextTokens > 0 {
		var trimmed bool
		chatMessages, trimmed = tokens.Trim(
			chatMessages, gpt.cfg.MaxContextTokens, func(msgs []openai.ChatCompletionMessage) int {
				return gpt.countTokens(append([]openai.ChatCompletionMessage{systemMessage}, msgs...))
			},
		)
		if trimmed {
			gpt.logger.Debug("history trimmed due to token limit", "messages", len(chatMessages))
		}
	}

	req := openai.ChatCompletionRequest{
		Model:       gpt.cfg.OpenAIModel,
		Temperature: gpt.cfg.ModelTemperature,
		TopP:        1,
		N:           1,
		Messages:    append([]openai.ChatCompletionMessage{systemMessage}, chatMessages...),
		Stream:      true,
	}

	stream, err := gpt.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return model.Message{}, fmt.Errorf("failed to create chat completion stream: %w", err)
	}
	defer stream.Close()

	var answer strings.Builder
	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return model.Message{}, fmt.Errorf("stream error: %w", err)
		}
		if len(response.Choices) == 0 {
			continue
		}
		answer.WriteString(response.Choices[0].Delta.Content)
	}
	return model.NewMessage(model.RoleAssistant, answer.String(), gpt.now()), nil
}

func (gpt *OpenAIUsecase) countTokens(messages []openai.ChatCompletionMessage) int {
	gpt.counterOnce.Do(
		func() {
			counter, err := tokens.NewCounter(gpt.cfg.OpenAIModel)
			if err != nil {
				gpt.logger.Warn("token counter unavailable, estimating by length", "error", err)
				return
			}
			gpt.counter = counter
		},
	)
	if gpt.counter != nil {
		return gpt.counter.CountMessages(messages)
	}
	total := 0
	for _, msg := range messages {
		total += len(msg.Content)/4 + 4
	}
	return total
}

// withPrompt returns history ending with the user prompt. The session history
// already holds the prompt when the provider is called from a turn.
func withPrompt(history []model.Message, userText string) []model.Message {
	n := len(history)
	if n > 0 && history[n-1].Role == model.RoleUser && history[n-1].Content == userText {
		return history
	}
	out := make([]model.Message, 0, n+1)
	out = append(out, history...)
	return append(out, model.Message{Role: model.RoleUser, Content: userText})
}

func parseRoleToOpenAIRole(role model.Role) string {
	switch role {
	case model.RoleUser:
		return OpenAIRoleUser
	case model.RoleAssistant:
		return OpenAIRoleAssistant
	default:
		return OpenAIRoleUnknown
	}
}
