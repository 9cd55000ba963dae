// Package gemini adapts Google's Gemini generative API to vision.Analyzer.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/vbonduro/siteoptic/internal/domain"
	"github.com/vbonduro/siteoptic/internal/vision"
)

const temperature = 0.4

type GeminiAnalyzer struct {
	client *genai.Client
	model  string
}

func NewGeminiAnalyzer(ctx context.Context, apiKey, model string, opts ...option.ClientOption) (*GeminiAnalyzer, error) {
	opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiAnalyzer{client: client, model: model}, nil
}

func (a *GeminiAnalyzer) Close() error {
	return a.client.Close()
}

func (a *GeminiAnalyzer) Generate(ctx context.Context, req vision.Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", fmt.Errorf("gemini: %w", err)
	}

	model := a.client.GenerativeModel(a.model)
	model.SetTemperature(temperature)

	history, last := buildContents(req)
	cs := model.StartChat()
	cs.History = history

	resp, err := cs.SendMessage(ctx, last...)
	if err != nil {
		return "", fmt.Errorf("gemini: %w", err)
	}

	text := vision.CleanResponse(extractText(resp))
	if text == "" {
		return "", fmt.Errorf("gemini: %w%s", vision.ErrEmptyResponse, blockReason(resp))
	}
	return text, nil
}

// ListModels enumerates the models visible to the API key, as the original
// diagnostics page did.
func (a *GeminiAnalyzer) ListModels(ctx context.Context) ([]vision.ModelInfo, error) {
	var models []vision.ModelInfo
	it := a.client.ListModels(ctx)
	for {
		m, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("gemini: list models: %w", err)
		}
		models = append(models, vision.ModelInfo{
			Name:        m.Name,
			DisplayName: m.DisplayName,
			Methods:     m.SupportedGenerationMethods,
		})
	}
	return models, nil
}

// buildContents splits a request into chat history and the parts of the
// message to send now. The image always travels in the first user message.
func buildContents(req vision.Request) ([]*genai.Content, []genai.Part) {
	first := []genai.Part{
		genai.ImageData(strings.TrimPrefix(vision.NormaliseMIME(req.MimeType), "image/"), req.Image),
		genai.Text(req.Prompt),
	}
	if len(req.Turns) == 0 {
		return nil, first
	}

	history := make([]*genai.Content, 0, len(req.Turns))
	history = append(history, &genai.Content{Role: "user", Parts: first})
	for _, t := range req.Turns[:len(req.Turns)-1] {
		history = append(history, &genai.Content{
			Role:  role(t.Role),
			Parts: []genai.Part{genai.Text(t.Content)},
		})
	}
	last := req.Turns[len(req.Turns)-1]
	return history, []genai.Part{genai.Text(last.Content)}
}

func role(r domain.Role) string {
	if r == domain.RoleAssistant {
		return "model"
	}
	return "user"
}

func extractText(resp *genai.GenerateContentResponse) string {
	var text strings.Builder
	if resp == nil {
		return ""
	}
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				text.WriteString(string(t))
			}
		}
		// Only the first candidate is shown.
		break
	}
	return text.String()
}

func blockReason(resp *genai.GenerateContentResponse) string {
	if resp == nil || resp.PromptFeedback == nil || resp.PromptFeedback.BlockReason == genai.BlockReasonUnspecified {
		return ""
	}
	return fmt.Sprintf(" (blocked: %s)", resp.PromptFeedback.BlockReason)
}
