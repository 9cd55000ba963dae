package ollama

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/vbonduro/siteoptic/internal/vision"
)

type chatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

type OllamaAnalyzer struct {
	host   string
	model  string
	client *http.Client
}

func NewOllamaAnalyzer(host, model string) *OllamaAnalyzer {
	return &OllamaAnalyzer{
		host:   host,
		model:  model,
		client: &http.Client{},
	}
}

func buildMessages(req vision.Request) []chatMessage {
	messages := make([]chatMessage, 0, len(req.Turns)+1)
	messages = append(messages, chatMessage{
		Role:    "user",
		Content: req.Prompt,
		Images:  []string{base64.StdEncoding.EncodeToString(req.Image)},
	})
	for _, t := range req.Turns {
		messages = append(messages, chatMessage{Role: string(t.Role), Content: t.Content})
	}
	return messages
}

func (a *OllamaAnalyzer) Generate(ctx context.Context, req vision.Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", fmt.Errorf("ollama: %w", err)
	}

	payload, err := json.Marshal(chatRequest{
		Model:    a.model,
		Messages: buildMessages(req),
		Stream:   false,
	})
	if err != nil {
		return "", fmt.Errorf("ollama: failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.host+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("ollama: failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var respBody chatResponse
	if err := a.do(httpReq, &respBody); err != nil {
		return "", err
	}

	text := vision.CleanResponse(respBody.Message.Content)
	if text == "" {
		return "", fmt.Errorf("ollama: %w", vision.ErrEmptyResponse)
	}
	return text, nil
}

// ListModels returns the models pulled into the local Ollama instance.
func (a *OllamaAnalyzer) ListModels(ctx context.Context) ([]vision.ModelInfo, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.host+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("ollama: failed to create request: %w", err)
	}

	var tags tagsResponse
	if err := a.do(httpReq, &tags); err != nil {
		return nil, err
	}

	models := make([]vision.ModelInfo, 0, len(tags.Models))
	for _, m := range tags.Models {
		models = append(models, vision.ModelInfo{Name: m.Name, DisplayName: m.Name})
	}
	return models, nil
}

func (a *OllamaAnalyzer) do(req *http.Request, out any) error {
	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("ollama: returned status %d: %s", resp.StatusCode, bytes.TrimSpace(errBody))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("ollama: failed to decode response: %w", err)
	}
	return nil
}
