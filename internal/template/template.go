package template

import (
	"bytes"
	"embed"
	"fmt"
	"sort"
	"strings"
	"text/template"
)

//go:embed templates/*.tmpl
var embeddedTemplates embed.FS

// Template names
const (
	ClassifySystem   = "classify_system"
	ClassifyUser     = "classify_user"
	NextActionSystem = "next_action_system"
	NextActionUser   = "next_action_user"
	DraftSystem      = "draft_system"
	DraftUser        = "draft_user"
)

// PromptData contains all data available to prompt and draft templates
type PromptData struct {
	// Lead and conversation
	LeadName        string
	LeadCompany     string
	OriginalSubject string
	OriginalBody    string
	ReplyText       string

	// Classification
	Intent   string
	Priority string
	Score    int

	// Drafting
	Tone          string
	ToneGuidance  string
	Steps         []string
	Attachments   []string
	Greeting      string
	SenderName    string
	SenderCompany string
}

var toneGuidance = map[string]string{
	"FORMAL":   "Use professional, formal language. Address as Mr./Ms. Be polite and structured.",
	"FRIENDLY": "Use warm, conversational tone. Be professional but approachable. Use first name.",
	"SHORT":    "Be concise and to-the-point. Keep under 8 lines. Direct but polite.",
}

// ToneGuidance returns the writing instruction for a tone.
func ToneGuidance(tone string) string {
	if g, ok := toneGuidance[tone]; ok {
		return g
	}
	return toneGuidance["FRIENDLY"]
}

// Engine handles prompt and draft template rendering
type Engine struct {
	root  *template.Template
	names []string
}

// NewEngine creates a new template engine
func NewEngine() (*Engine, error) {
	funcs := template.FuncMap{"join": strings.Join}

	root, err := template.New("").Funcs(funcs).ParseFS(embeddedTemplates, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to parse embedded templates: %w", err)
	}

	e := &Engine{root: root}
	for _, t := range root.Templates() {
		if name, ok := strings.CutSuffix(t.Name(), ".tmpl"); ok {
			e.names = append(e.names, name)
		}
	}
	sort.Strings(e.names)
	return e, nil
}

// Render executes the named template
func (e *Engine) Render(name string, data PromptData) (string, error) {
	tmpl := e.root.Lookup(name + ".tmpl")
	if tmpl == nil {
		return "", fmt.Errorf("unknown template: %s", name)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// RenderDraft renders the canned reply body for an intent and tone. SHORT
// drops blank lines and caps the length.
func (e *Engine) RenderDraft(intent string, data PromptData) (string, error) {
	name := "draft_" + strings.ToLower(intent)
	switch intent {
	case "ASKING_PRICE", "MEETING", "INTERESTED", "NOT_INTERESTED":
	default:
		name = "draft_generic"
	}

	if data.Greeting == "" {
		data.Greeting = greeting(data.Tone, data.LeadName)
	}
	body, err := e.Render(name, data)
	if err != nil {
		return "", err
	}

	if data.Tone == "SHORT" {
		var lines []string
		for _, l := range strings.Split(body, "\n") {
			if strings.TrimSpace(l) != "" {
				lines = append(lines, l)
			}
		}
		body = strings.Join(lines, "\n")
		if r := []rune(body); len(r) > 300 {
			body = string(r[:300])
		}
	}
	return body, nil
}

func greeting(tone, name string) string {
	if name == "" {
		name = "there"
	}
	if tone == "FORMAL" {
		return "Dear " + name + ","
	}
	return "Hi " + name + ","
}

// AvailableTemplates returns the list of available template names
func (e *Engine) AvailableTemplates() []string {
	return append([]string(nil), e.names...)
}
