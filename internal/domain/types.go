package domain

import (
	"strings"
	"time"
)

type Role string

const (
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
)

// Language is the response language toggle shown next to the upload form.
type Language string

const (
	LanguageEnglish Language = "en"
	LanguageSpanish Language = "es"
)

// Languages lists the toggle values in display order.
var Languages = []Language{LanguageEnglish, LanguageSpanish}

func (l Language) DisplayName() string {
	switch l {
	case LanguageSpanish:
		return "Español"
	default:
		return "English"
	}
}

// ParseLanguage maps a form value to a Language, falling back to def for
// anything unrecognised.
func ParseLanguage(s string, def Language) Language {
	switch Language(strings.ToLower(strings.TrimSpace(s))) {
	case LanguageEnglish:
		return LanguageEnglish
	case LanguageSpanish:
		return LanguageSpanish
	default:
		return def
	}
}

// Focus is the radio choice that biases the inspection prompt.
type Focus string

const (
	FocusGeneral    Focus = "general"
	FocusSafety     Focus = "safety"
	FocusStructural Focus = "structural"
	FocusProgress   Focus = "progress"
	FocusQuality    Focus = "quality"
)

var Foci = []Focus{FocusGeneral, FocusSafety, FocusStructural, FocusProgress, FocusQuality}

func (f Focus) Label() string {
	switch f {
	case FocusSafety:
		return "Safety hazards"
	case FocusStructural:
		return "Structural defects"
	case FocusProgress:
		return "Construction progress"
	case FocusQuality:
		return "Workmanship quality"
	default:
		return "General overview"
	}
}

func ParseFocus(s string) Focus {
	f := Focus(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Foci {
		if f == known {
			return f
		}
	}
	return FocusGeneral
}

type AnalysisOptions struct {
	Language      Language `json:"language"`
	Focus         Focus    `json:"focus"`
	CustomRequest string   `json:"custom_request"`
}

type Photo struct {
	StorageKey string `json:"storage_key"`
	MimeType   string `json:"mime_type"`
	Filename   string `json:"filename"`
}

// Session is one browser's workspace: the latest analysed photo, the options
// it was analysed with, and (separately stored) its transcript.
type Session struct {
	ID        string
	Photo     *Photo
	Options   AnalysisOptions
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Analyzed reports whether a photo has been analysed in this session.
func (s *Session) Analyzed() bool {
	return s != nil && s.Photo != nil
}

type Turn struct {
	ID        int64
	SessionID string
	Role      Role
	Content   string
	CreatedAt time.Time
}
