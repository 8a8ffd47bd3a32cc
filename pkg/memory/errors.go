package memory

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by MustGet when no entry exists. Get itself reports
// a missing entry as (nil, nil).
var ErrNotFound = errors.New("memory: entry not found")

// ValidationError reports a write rejected by the quality gate. Nothing was
// written.
type ValidationError struct {
	Path    string
	Reasons []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("memory: %s rejected by quality gate: %s", e.Path, strings.Join(e.Reasons, "; "))
}

// LimitExceededError reports content that cannot be pruned under its ceiling
// because the lines that must be kept already exceed it.
type LimitExceededError struct {
	Type     EntryType
	Ceiling  int
	MinLines int
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("memory: %s needs at least %d lines after pruning but its ceiling is %d; shrink it manually",
		e.Type, e.MinLines, e.Ceiling)
}
