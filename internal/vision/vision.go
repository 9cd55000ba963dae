package vision

import (
	"context"
	"errors"
	"fmt"

	"github.com/vbonduro/siteoptic/internal/domain"
)

// ErrEmptyResponse is returned by adapters when the model answers with no text.
var ErrEmptyResponse = errors.New("model returned an empty response")

// Request is one call to a hosted model. Every adapter sends the same
// conversation shape: a user message holding Image and Prompt, followed by
// Turns in order. Turns is empty for a fresh analysis; for a follow-up it
// starts with the assistant's analysis and ends with the user's question.
type Request struct {
	Image    []byte
	MimeType string
	Prompt   string
	Turns    []domain.Turn
}

// Validate checks the request has an image, a prompt, and a transcript that
// alternates assistant/user and ends on a user turn.
func (r Request) Validate() error {
	if len(r.Image) == 0 {
		return errors.New("request has no image")
	}
	if r.Prompt == "" {
		return errors.New("request has no prompt")
	}
	for i, t := range r.Turns {
		want := domain.RoleAssistant
		if i%2 == 1 {
			want = domain.RoleUser
		}
		if t.Role != want {
			return fmt.Errorf("turn %d has role %q, want %q", i, t.Role, want)
		}
	}
	if len(r.Turns)%2 == 1 {
		return errors.New("transcript must end with a user turn")
	}
	return nil
}

type Analyzer interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// ModelInfo describes a model offered by a backend.
type ModelInfo struct {
	Name        string
	DisplayName string
	// Methods lists supported generation methods when the backend reports
	// them; nil means the backend does not say.
	Methods []string
}

// ModelLister is an optional extension of Analyzer for backends that can
// enumerate their models.
type ModelLister interface {
	ListModels(ctx context.Context) ([]ModelInfo, error)
}

// SupportsGeneration reports whether m can be used for content generation.
func SupportsGeneration(m ModelInfo) bool {
	if m.Methods == nil {
		return true
	}
	for _, method := range m.Methods {
		if method == "generateContent" {
			return true
		}
	}
	return false
}
