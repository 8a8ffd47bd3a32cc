// Package foreman enforces workflow constraints on tool calls: a read-only
// mode, an allowed-tools list, file pattern rules and a per-session budget
// of modified files.
package foreman

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// Constraints configures the workflow_constraints hook.
type Constraints struct {
	// ReadOnly denies every file-modifying tool.
	ReadOnly bool `json:"readOnly,omitempty" yaml:"readOnly,omitempty" toml:"readOnly,omitempty"`

	// AllowedTools, when non-empty, is the complete list of permitted tools.
	AllowedTools []string `json:"allowedTools,omitempty" yaml:"allowedTools,omitempty" toml:"allowedTools,omitempty"`

	// File patterns are globs relative to the project directory. Denied
	// patterns take precedence.
	AllowedPatterns []string `json:"allowedPatterns,omitempty" yaml:"allowedPatterns,omitempty" toml:"allowedPatterns,omitempty"`
	DeniedPatterns  []string `json:"deniedPatterns,omitempty" yaml:"deniedPatterns,omitempty" toml:"deniedPatterns,omitempty"`

	// MaxFiles is the number of distinct files a session may modify before
	// further modifications warn. Zero disables the budget.
	MaxFiles int `json:"maxFiles,omitempty" yaml:"maxFiles,omitempty" toml:"maxFiles,omitempty"`
}

// Validate compiles the patterns and checks the budget.
func (c Constraints) Validate() error {
	if c.MaxFiles < 0 {
		return fmt.Errorf("foreman: maxFiles must not be negative, got %d", c.MaxFiles)
	}
	_, err := NewPatternMatcher(c.AllowedPatterns, c.DeniedPatterns)
	return err
}

// ConstraintViolation represents a constraint violation error
type ConstraintViolation struct {
	Type    ViolationType
	Message string
	Details map[string]any
}

func (e *ConstraintViolation) Error() string {
	return fmt.Sprintf("constraint violation (%s): %s", e.Type, e.Message)
}

// ViolationType identifies the type of constraint that was violated
type ViolationType string

const (
	ViolationFileCount       ViolationType = "file_count"
	ViolationFilePattern     ViolationType = "file_pattern"
	ViolationToolRestriction ViolationType = "tool_restriction"
	ViolationReadOnlyMode    ViolationType = "read_only_mode"
)

// isFileModifyingTool returns true if the tool modifies files or executes commands
func isFileModifyingTool(toolName string) bool {
	switch toolName {
	case "Write", "Edit", "MultiEdit", "NotebookEdit", "Bash":
		return true
	default:
		return false
	}
}

// isControlTool reports tools the agent needs to talk to the user or end its
// turn. They are never restricted.
func isControlTool(toolName string) bool {
	switch toolName {
	case "AskUserQuestion", "ExitPlanMode", "TodoWrite":
		return true
	default:
		return false
	}
}

// PatternMatcher handles glob pattern matching for file access control
type PatternMatcher struct {
	allowedPatterns []glob.Glob
	deniedPatterns  []glob.Glob
}

// NewPatternMatcher creates a new pattern matcher
func NewPatternMatcher(allowed, denied []string) (*PatternMatcher, error) {
	pm := &PatternMatcher{}

	for _, pattern := range allowed {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("foreman: invalid allowed pattern '%s': %w", pattern, err)
		}
		pm.allowedPatterns = append(pm.allowedPatterns, g)
	}

	for _, pattern := range denied {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("foreman: invalid denied pattern '%s': %w", pattern, err)
		}
		pm.deniedPatterns = append(pm.deniedPatterns, g)
	}

	return pm, nil
}

// IsAllowed returns true if the path is allowed by the pattern rules
func (pm *PatternMatcher) IsAllowed(path string) bool {
	path = filepath.ToSlash(filepath.Clean(path))

	// Denied patterns take precedence
	for _, pattern := range pm.deniedPatterns {
		if pattern.Match(path) {
			return false
		}
	}

	if len(pm.allowedPatterns) == 0 {
		return true
	}

	for _, pattern := range pm.allowedPatterns {
		if pattern.Match(path) {
			return true
		}
	}

	return false
}

// relativeTo expresses path relative to dir when it lies inside it, so
// project-relative patterns apply to absolute tool paths.
func relativeTo(dir, path string) string {
	if dir == "" || !filepath.IsAbs(path) {
		return path
	}
	rel, err := filepath.Rel(dir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, "../") {
		return path
	}
	return rel
}
