package vision

import (
	"strings"
)

// CleanResponse trims model output and unwraps an answer the model fenced as
// a single ``` or ```markdown block.
func CleanResponse(raw string) string {
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, "```") || !strings.HasSuffix(text, "```") || len(text) < 6 {
		return text
	}

	inner := strings.TrimSuffix(text[3:], "```")
	// Drop the info string ("markdown", "md", ...) on the opening fence line.
	if nl := strings.IndexByte(inner, '\n'); nl >= 0 {
		if info := strings.TrimSpace(inner[:nl]); !strings.ContainsAny(info, " \t") {
			inner = inner[nl+1:]
		}
	}
	if strings.Contains(inner, "```") {
		// More than one fenced block: the fences are content, not wrapping.
		return text
	}
	return strings.TrimSpace(inner)
}

// NormaliseMIME maps upload MIME types onto the two formats every adapter
// accepts. Callers validate uploads before they reach this layer.
func NormaliseMIME(mimeType string) string {
	if mimeType == "image/png" {
		return mimeType
	}
	return "image/jpeg"
}
