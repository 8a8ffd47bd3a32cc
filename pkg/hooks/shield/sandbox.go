// Package shield holds the security hooks: the sandbox boundary guard, git
// hygiene, the dependency sentinel and the PII redactor. They run first in
// every dispatch.
package shield

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/entrhq/forge-hooks/pkg/hook"
	"github.com/entrhq/forge-hooks/pkg/security/workspace"
)

// SandboxName is the registry name of the sandbox boundary guard.
const SandboxName = "sandbox_boundary_guard"

var fileTools = map[string]bool{
	"Read":         true,
	"Write":        true,
	"Edit":         true,
	"MultiEdit":    true,
	"NotebookEdit": true,
	"Glob":         true,
	"Grep":         true,
	"LS":           true,
}

var (
	dangerousHomeRe = regexp.MustCompile(`(?:~|\$HOME|\$\{HOME\}|/root|/home/[^/\s]+|/Users/[^/\s]+)/\.(?:ssh|gnupg|aws|kube|docker|config|bashrc|bash_profile|zshrc|profile)\b`)
	systemFileRe    = regexp.MustCompile(`/etc/(?:passwd|shadow|sudoers|hosts)\b`)
	destructiveRmRe = regexp.MustCompile(`\brm\s+(?:-\S+\s+)*-[a-zA-Z]*[rR][a-zA-Z]*\s+(?:-\S+\s+)*(?:/\*?|~/?|\$HOME/?)(?:\s|$)`)
)

// Sandbox keeps file tools inside the project directory and keeps shell
// commands away from credentials and system files.
type Sandbox struct{}

// NewSandbox creates the guard.
func NewSandbox() *Sandbox { return &Sandbox{} }

// Name implements hook.Handler.
func (s *Sandbox) Name() string { return SandboxName }

// Handle implements hook.Handler. It returns an error when the project
// directory cannot be resolved, which the dispatcher turns into a deny.
func (s *Sandbox) Handle(_ context.Context, req *hook.Request) (*hook.Decision, error) {
	switch {
	case fileTools[req.ToolName]:
		return s.checkPath(req)
	case req.ToolName == "Bash":
		return checkCommand(req.Command()), nil
	default:
		return hook.Allow(), nil
	}
}

func (s *Sandbox) checkPath(req *hook.Request) (*hook.Decision, error) {
	p := req.InputString("file_path", "path", "filePath", "notebook_path")
	if p == "" {
		return hook.Allow(), nil
	}

	guard, err := workspace.NewProjectGuard(req.Cwd())
	if err != nil {
		return nil, fmt.Errorf("sandbox: %w", err)
	}
	if err := guard.ValidatePath(p); err != nil {
		var be *workspace.BoundaryError
		if errors.As(err, &be) {
			return hook.Deny("sandbox boundary: %v (%s)", be, guard.WorkspaceDir()), nil
		}
		return nil, fmt.Errorf("sandbox: %w", err)
	}

	if IsSensitiveFile(p) {
		return hook.Deny("sandbox boundary: '%s' may contain secrets or credentials; access is blocked", p), nil
	}
	return hook.Allow(), nil
}

func checkCommand(command string) *hook.Decision {
	if command == "" {
		return hook.Allow()
	}
	if m := destructiveRmRe.FindString(command); m != "" {
		return hook.Deny("sandbox boundary: refusing destructive command '%s'", m)
	}
	if m := dangerousHomeRe.FindString(command); m != "" {
		return hook.Deny("sandbox boundary: command references '%s', which holds secrets or credentials", m)
	}
	if m := systemFileRe.FindString(command); m != "" {
		return hook.Deny("sandbox boundary: command references system file '%s'", m)
	}
	for _, tok := range tokens(command) {
		if IsSensitiveFile(tok) {
			return hook.Deny("sandbox boundary: command references '%s', which may contain secrets or credentials", tok)
		}
	}
	return hook.Allow()
}
