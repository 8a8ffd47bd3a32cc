package foreman

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/entrhq/forge-hooks/pkg/hook"
)

// Name is the registry name of the hook.
const Name = "workflow_constraints"

// Hook enforces Constraints on PreToolUse.
type Hook struct {
	constraints Constraints
	matcher     *PatternMatcher
	mu          sync.Mutex
}

// New creates the hook.
func New(c Constraints) (*Hook, error) {
	pm, err := NewPatternMatcher(c.AllowedPatterns, c.DeniedPatterns)
	if err != nil {
		return nil, err
	}
	return &Hook{constraints: c, matcher: pm}, nil
}

// Name implements hook.Handler.
func (h *Hook) Name() string { return Name }

// Handle implements hook.Handler.
func (h *Hook) Handle(_ context.Context, req *hook.Request) (*hook.Decision, error) {
	if err := h.Check(req); err != nil {
		var v *ConstraintViolation
		if errors.As(err, &v) {
			if v.Type == ViolationFileCount {
				return hook.Warn("%s", v.Error()), nil
			}
			return hook.Deny("%s", v.Error()), nil
		}
		return nil, err
	}
	return hook.Allow(), nil
}

// Check validates the tool call. It returns a *ConstraintViolation when a
// constraint is broken; ViolationFileCount is advisory.
func (h *Hook) Check(req *hook.Request) error {
	tool := req.ToolName
	if isControlTool(tool) {
		return nil
	}

	if h.constraints.ReadOnly && isFileModifyingTool(tool) {
		return &ConstraintViolation{
			Type:    ViolationReadOnlyMode,
			Message: fmt.Sprintf("tool '%s' is not allowed in read-only mode", tool),
			Details: map[string]any{"tool": tool},
		}
	}

	if len(h.constraints.AllowedTools) > 0 && !contains(h.constraints.AllowedTools, tool) {
		return &ConstraintViolation{
			Type:    ViolationToolRestriction,
			Message: fmt.Sprintf("tool '%s' is not in allowed tools list", tool),
			Details: map[string]any{
				"tool":          tool,
				"allowed_tools": h.constraints.AllowedTools,
			},
		}
	}

	if !isFileModifyingTool(tool) {
		return nil
	}
	path := req.FilePath()
	if path == "" {
		return nil
	}
	cwd := req.Cwd()
	rel := relativeTo(cwd, path)
	if !h.matcher.IsAllowed(rel) {
		return &ConstraintViolation{
			Type:    ViolationFilePattern,
			Message: fmt.Sprintf("file '%s' does not match allowed patterns", rel),
			Details: map[string]any{
				"file":             rel,
				"allowed_patterns": h.constraints.AllowedPatterns,
				"denied_patterns":  h.constraints.DeniedPatterns,
			},
		}
	}

	if h.constraints.MaxFiles <= 0 {
		return nil
	}
	count, err := h.recordModification(cwd, req.SessionContext.SessionID, rel)
	if err != nil {
		return fmt.Errorf("foreman: track modified files: %w", err)
	}
	if count > h.constraints.MaxFiles {
		return &ConstraintViolation{
			Type:    ViolationFileCount,
			Message: fmt.Sprintf("maximum file count exceeded (%d modified, budget %d)", count, h.constraints.MaxFiles),
			Details: map[string]any{
				"max_files":      h.constraints.MaxFiles,
				"current_count":  count,
				"attempted_file": rel,
			},
		}
	}
	return nil
}

var unsafeSessionRe = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// SessionFile is where the modified-file set of a session is kept, one path
// per line. Hook processes are short-lived, so the budget lives on disk.
func SessionFile(cwd, sessionID string) string {
	if sessionID == "" {
		sessionID = "default"
	}
	return filepath.Join(cwd, ".forge", "foreman", unsafeSessionRe.ReplaceAllString(sessionID, "_")+".files")
}

// recordModification adds path to the session's set and returns the set size.
func (h *Hook) recordModification(cwd, sessionID, path string) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	file := SessionFile(cwd, sessionID)
	seen, err := readLines(file)
	if err != nil {
		return 0, err
	}
	path = filepath.Clean(path)
	if seen[path] {
		return len(seen), nil
	}

	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return 0, err
	}
	f, err := os.OpenFile(file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	if _, err := fmt.Fprintln(f, path); err != nil {
		return 0, err
	}
	return len(seen) + 1, nil
}

func readLines(path string) (map[string]bool, error) {
	seen := make(map[string]bool)
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return seen, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			seen[line] = true
		}
	}
	return seen, sc.Err()
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
