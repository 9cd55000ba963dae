package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbonduro/siteoptic/internal/domain"
	"github.com/vbonduro/siteoptic/internal/vision"
)

func TestOllamaGenerate(t *testing.T) {
	var got chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&got)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":   got.Model,
			"message": map[string]string{"role": "assistant", "content": "Rebar is exposed at the column base."},
			"done":    true,
		})
	}))
	defer server.Close()

	analyzer := NewOllamaAnalyzer(server.URL, "llava")

	text, err := analyzer.Generate(context.Background(), vision.Request{
		Image:    []byte{0xFF, 0xD8, 0xFF, 0xE0},
		MimeType: "image/jpeg",
		Prompt:   "inspect",
		Turns: []domain.Turn{
			{Role: domain.RoleAssistant, Content: "analysis"},
			{Role: domain.RoleUser, Content: "which column?"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Rebar is exposed at the column base.", text)

	assert.Equal(t, "llava", got.Model)
	assert.False(t, got.Stream)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, "user", got.Messages[0].Role)
	assert.Len(t, got.Messages[0].Images, 1)
	assert.Equal(t, "assistant", got.Messages[1].Role)
	assert.Equal(t, "which column?", got.Messages[2].Content)
	assert.Empty(t, got.Messages[2].Images)
}

func TestOllamaGenerateNetworkError(t *testing.T) {
	analyzer := NewOllamaAnalyzer("http://localhost:99999", "llava")

	_, err := analyzer.Generate(context.Background(), vision.Request{Image: []byte{0xFF}, Prompt: "p"})

	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "ollama: "), err.Error())
}

func TestOllamaGenerateStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer server.Close()

	analyzer := NewOllamaAnalyzer(server.URL, "llava")

	_, err := analyzer.Generate(context.Background(), vision.Request{Image: []byte{0xFF}, Prompt: "p"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not found")
	assert.True(t, strings.HasPrefix(err.Error(), "ollama: "), err.Error())
}

func TestOllamaListModelsBadJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"models":`))
	}))
	defer server.Close()

	_, err := NewOllamaAnalyzer(server.URL, "llava").ListModels(context.Background())

	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "ollama: "), err.Error())
}

func TestOllamaGenerateEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":""}}`))
	}))
	defer server.Close()

	analyzer := NewOllamaAnalyzer(server.URL, "llava")

	_, err := analyzer.Generate(context.Background(), vision.Request{Image: []byte{0xFF}, Prompt: "p"})

	assert.ErrorIs(t, err, vision.ErrEmptyResponse)
}

func TestOllamaListModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		_, _ = w.Write([]byte(`{"models":[{"name":"llava:latest"},{"name":"moondream:latest"}]}`))
	}))
	defer server.Close()

	models, err := NewOllamaAnalyzer(server.URL, "llava").ListModels(context.Background())

	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "llava:latest", models[0].Name)
	assert.True(t, vision.SupportsGeneration(models[1]))
}
