package claude

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/liushuangls/go-anthropic/v2"

	"github.com/vbonduro/siteoptic/internal/domain"
	"github.com/vbonduro/siteoptic/internal/vision"
)

// maxTokens leaves room for a full multi-section inspection report.
const maxTokens = 2048

type ClaudeAnalyzer struct {
	client *anthropic.Client
	model  string
}

func NewClaudeAnalyzer(apiKey, model string, opts ...anthropic.ClientOption) *ClaudeAnalyzer {
	return &ClaudeAnalyzer{
		client: anthropic.NewClient(apiKey, opts...),
		model:  model,
	}
}

// buildMessages converts a vision request into the Messages API shape: the
// image and prompt as the opening user message, then the transcript.
func buildMessages(req vision.Request) []anthropic.Message {
	messages := make([]anthropic.Message, 0, len(req.Turns)+1)
	messages = append(messages, anthropic.Message{
		Role: anthropic.RoleUser,
		Content: []anthropic.MessageContent{
			anthropic.NewImageMessageContent(anthropic.MessageContentSource{
				Type:      anthropic.MessagesContentSourceTypeBase64,
				MediaType: vision.NormaliseMIME(req.MimeType),
				Data:      base64.StdEncoding.EncodeToString(req.Image),
			}),
			anthropic.NewTextMessageContent(req.Prompt),
		},
	})
	for _, t := range req.Turns {
		if t.Role == domain.RoleAssistant {
			messages = append(messages, anthropic.NewAssistantTextMessage(t.Content))
		} else {
			messages = append(messages, anthropic.NewUserTextMessage(t.Content))
		}
	}
	return messages
}

func (a *ClaudeAnalyzer) Generate(ctx context.Context, req vision.Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", fmt.Errorf("claude: %w", err)
	}

	resp, err := a.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:     anthropic.Model(a.model),
		MaxTokens: maxTokens,
		Messages:  buildMessages(req),
	})
	if err != nil {
		return "", fmt.Errorf("claude: %w", err)
	}

	var sb strings.Builder
	for _, c := range resp.Content {
		if c.Type == anthropic.MessagesContentTypeText {
			sb.WriteString(c.GetText())
		}
	}

	text := vision.CleanResponse(sb.String())
	if text == "" {
		return "", fmt.Errorf("claude: %w", vision.ErrEmptyResponse)
	}
	return text, nil
}
