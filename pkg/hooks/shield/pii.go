package shield

import (
	"context"
	"strings"

	"github.com/entrhq/forge-hooks/pkg/hook"
)

// PIIName is the registry name of the PII redactor.
const PIIName = "pii_redactor"

// contentKeys are the tool input fields that carry text written to disk.
var contentKeys = []string{"content", "new_string", "new_str"}

// PIIRedactor warns about personal data and secrets in prompts and in file
// content. For file writes it also hands back a redacted tool input. It
// never denies.
type PIIRedactor struct{}

// NewPIIRedactor creates the redactor.
func NewPIIRedactor() *PIIRedactor { return &PIIRedactor{} }

// Name implements hook.Handler.
func (p *PIIRedactor) Name() string { return PIIName }

// Handle implements hook.Handler.
func (p *PIIRedactor) Handle(_ context.Context, req *hook.Request) (*hook.Decision, error) {
	switch req.ToolName {
	case "Write", "Edit", "MultiEdit":
		return p.handleWrite(req), nil
	default:
		prompt := req.SessionContext.Prompt
		if prompt == "" {
			prompt = req.InputString("prompt", "user_prompt")
		}
		kinds := detect(piiDetectors, prompt)
		if len(kinds) == 0 {
			return hook.Allow(), nil
		}
		return hook.Warn("PII detection warning: prompt contains %s; avoid sharing personal data or credentials", strings.Join(kinds, ", ")), nil
	}
}

func (p *PIIRedactor) handleWrite(req *hook.Request) *hook.Decision {
	input := hook.CloneInput(req.ToolInput)
	seen := map[string]bool{}
	var kinds []string
	scrub := func(m map[string]any) {
		for _, key := range contentKeys {
			text, ok := m[key].(string)
			if !ok || text == "" {
				continue
			}
			found := detect(piiDetectors, text)
			if len(found) == 0 {
				continue
			}
			for _, k := range found {
				if !seen[k] {
					seen[k] = true
					kinds = append(kinds, k)
				}
			}
			m[key] = redact(piiDetectors, text)
		}
	}

	scrub(input)
	if edits, ok := input["edits"].([]any); ok {
		for _, e := range edits {
			if m, ok := e.(map[string]any); ok {
				scrub(m)
			}
		}
	}

	if len(kinds) == 0 {
		return hook.Allow()
	}
	target := req.FilePath()
	if target == "" {
		target = "file content"
	}
	return hook.Warn("PII detection warning: %s contains %s; the content was redacted", target, strings.Join(kinds, ", ")).WithInput(input)
}
