// Package prompt renders the instruction sent alongside every site photo.
package prompt

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/vbonduro/siteoptic/internal/domain"
)

// MaxCustomRequest caps the user's free-text addition to the prompt.
const MaxCustomRequest = 1000

const inspectorTemplate = `You are SiteOptic, an experienced construction site inspector reviewing a photograph taken on site.
Describe what the photograph shows, then report your findings.
{{.FocusInstruction}}
For every finding give: what you see, where in the image it is, how serious it is (low / medium / high) and a recommended action.
If something cannot be judged from the photograph, say so instead of guessing.
Use short markdown headings and bullet points.
{{- if .CustomRequest}}
The site manager also asks: {{.CustomRequest}}
{{- end}}
Write the whole answer in {{.Language}}.`

var tmpl = template.Must(template.New("inspector").Parse(inspectorTemplate))

var focusInstructions = map[domain.Focus]string{
	domain.FocusGeneral:    "Give a balanced overview covering safety, structure, progress and workmanship.",
	domain.FocusSafety:     "Concentrate on safety hazards: missing PPE, fall risks, unguarded edges, unsafe scaffolding, trip hazards, electrical and fire risks.",
	domain.FocusStructural: "Concentrate on structural condition: cracks, deflection, corrosion, exposed reinforcement, water damage and unsupported elements.",
	domain.FocusProgress:   "Concentrate on construction progress: which stage the work has reached, what is complete, and what appears to be next.",
	domain.FocusQuality:    "Concentrate on workmanship quality: alignment, finishes, joints, fixings and deviations from good practice.",
}

type templateData struct {
	FocusInstruction string
	CustomRequest    string
	Language         string
}

// Build renders the inspection prompt for opts. It is rebuilt for every
// request; nothing is cached between calls.
func Build(opts domain.AnalysisOptions) (string, error) {
	instruction, ok := focusInstructions[opts.Focus]
	if !ok {
		instruction = focusInstructions[domain.FocusGeneral]
	}

	data := templateData{
		FocusInstruction: instruction,
		CustomRequest:    CleanRequest(opts.CustomRequest),
		Language:         opts.Language.DisplayName(),
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return sb.String(), nil
}

// CleanRequest trims the custom request and truncates it to MaxCustomRequest
// runes.
func CleanRequest(s string) string {
	s = strings.TrimSpace(s)
	if r := []rune(s); len(r) > MaxCustomRequest {
		s = string(r[:MaxCustomRequest])
	}
	return s
}
