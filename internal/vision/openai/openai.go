package openai

import (
	"context"
	"encoding/base64"
	"fmt"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/vbonduro/siteoptic/internal/domain"
	"github.com/vbonduro/siteoptic/internal/vision"
)

const maxTokens = 2048

type OpenAIAnalyzer struct {
	client *goopenai.Client
	model  string
}

// NewOpenAIAnalyzer builds an analyzer for the OpenAI chat completions API.
// baseURL may point at any compatible server; empty keeps the default.
func NewOpenAIAnalyzer(apiKey, model, baseURL string) *OpenAIAnalyzer {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIAnalyzer{
		client: goopenai.NewClientWithConfig(cfg),
		model:  model,
	}
}

func dataURL(mimeType string, image []byte) string {
	return "data:" + vision.NormaliseMIME(mimeType) + ";base64," + base64.StdEncoding.EncodeToString(image)
}

func buildMessages(req vision.Request) []goopenai.ChatCompletionMessage {
	messages := make([]goopenai.ChatCompletionMessage, 0, len(req.Turns)+1)
	messages = append(messages, goopenai.ChatCompletionMessage{
		Role: goopenai.ChatMessageRoleUser,
		MultiContent: []goopenai.ChatMessagePart{
			{Type: goopenai.ChatMessagePartTypeText, Text: req.Prompt},
			{
				Type: goopenai.ChatMessagePartTypeImageURL,
				ImageURL: &goopenai.ChatMessageImageURL{
					URL:    dataURL(req.MimeType, req.Image),
					Detail: goopenai.ImageURLDetailAuto,
				},
			},
		},
	})
	for _, t := range req.Turns {
		r := goopenai.ChatMessageRoleUser
		if t.Role == domain.RoleAssistant {
			r = goopenai.ChatMessageRoleAssistant
		}
		messages = append(messages, goopenai.ChatCompletionMessage{Role: r, Content: t.Content})
	}
	return messages
}

func (a *OpenAIAnalyzer) Generate(ctx context.Context, req vision.Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}

	resp, err := a.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:     a.model,
		MaxTokens: maxTokens,
		Messages:  buildMessages(req),
	})
	if err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: %w", vision.ErrEmptyResponse)
	}

	text := vision.CleanResponse(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("openai: %w", vision.ErrEmptyResponse)
	}
	return text, nil
}

func (a *OpenAIAnalyzer) ListModels(ctx context.Context) ([]vision.ModelInfo, error) {
	list, err := a.client.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("openai: list models: %w", err)
	}
	models := make([]vision.ModelInfo, 0, len(list.Models))
	for _, m := range list.Models {
		models = append(models, vision.ModelInfo{Name: m.ID, DisplayName: m.ID})
	}
	return models, nil
}
