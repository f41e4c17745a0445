package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/iamvkosarev/ca-study-chat/config"
	"github.com/iamvkosarev/ca-study-chat/internal/model"
	"google.golang.org/genai"
)

// GeminiUsecase answers through the Gemini API.
type GeminiUsecase struct {
	cfg    config.Gemini
	client *genai.Client
	now    func() time.Time
}

func NewGeminiUsecase(ctx context.Context, cfg config.Gemini) (*GeminiUsecase, error) {
	client, err := genai.NewClient(
		ctx, &genai.ClientConfig{
			APIKey:  cfg.APIKey,
			Backend: genai.BackendGeminiAPI,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiUsecase{
		cfg:    cfg,
		client: client,
		now:    time.Now,
	}, nil
}

func (g *GeminiUsecase) NewProvider(history HistoryFunc) ResponseProvider {
	return ResponseProviderFunc(
		func(ctx context.Context, userText string) (model.Message, error) {
			return g.SendMessage(ctx, history(), userText)
		},
	)
}

func (g *GeminiUsecase) SendMessage(ctx context.Context, history []model.Message, userText string) (
	model.Message,
	error,
) {
	var syllabus *model.Syllabus
	if s, ok := SyllabusFromContext(ctx); ok {
		syllabus = &s
	}
	contents := geminiContents(history, userText, syllabus)
	res, err := g.client.Models.GenerateContent(ctx, g.cfg.Model, contents, g.generateConfig())
	if err != nil {
		return model.Message{}, fmt.Errorf("gemini generate content: %w", err)
	}
	text := res.Text()
	if text == "" {
		return model.Message{}, ErrEmptyReply
	}
	return model.NewMessage(model.RoleAssistant, text, g.now()), nil
}

func (g *GeminiUsecase) generateConfig() *genai.GenerateContentConfig {
	temperature := g.cfg.ModelTemperature
	return &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(SystemPrompt, genai.RoleUser),
		Temperature:       &temperature,
		MaxOutputTokens:   g.cfg.MaxOutputTokens,
	}
}

// geminiContents maps the conversation to Gemini contents. The syllabus PDF,
// when given, is attached to the last user prompt.
func geminiContents(history []model.Message, userText string, syllabus *model.Syllabus) []*genai.Content {
	messages := withPrompt(history, userText)
	contents := make([]*genai.Content, 0, len(messages))
	for i, m := range messages {
		var role genai.Role = genai.RoleUser
		if m.Role == model.RoleAssistant {
			role = genai.RoleModel
		}
		if syllabus != nil && i == len(messages)-1 {
			contents = append(
				contents, genai.NewContentFromParts(
					[]*genai.Part{
						genai.NewPartFromBytes(syllabus.Data, model.SyllabusContentType),
						genai.NewPartFromText(syllabusInstruction(*syllabus)),
						genai.NewPartFromText(m.Content),
					}, role,
				),
			)
			continue
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	return contents
}
