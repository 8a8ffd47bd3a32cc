// Package chronicle holds the memory lifecycle hooks: freshness checks on
// read, quality checks and timestamping after writes, and pruning when a
// session ends.
package chronicle

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/entrhq/forge-hooks/pkg/hook"
	"github.com/entrhq/forge-hooks/pkg/memory"
)

// FreshnessName is the registry name of the freshness enforcer.
const FreshnessName = "memory_freshness_enforcer"

var timeNow = time.Now

// Freshness classifies memory files as they are read. Aging and stale files
// warn; archived and ghost files are denied until refreshed.
type Freshness struct {
	classifier memory.Classifier
}

// NewFreshness creates the enforcer.
func NewFreshness(c memory.Classifier) *Freshness {
	return &Freshness{classifier: c}
}

// Name implements hook.Handler.
func (f *Freshness) Name() string { return FreshnessName }

// Handle implements hook.Handler.
func (f *Freshness) Handle(_ context.Context, req *hook.Request) (*hook.Decision, error) {
	path, ok := memoryFile(req)
	if !ok {
		return hook.Allow(), nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return hook.Allow(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("chronicle: read %s: %w", path, err)
	}

	name := filepath.Base(path)
	updated, ok := memory.ParseTimestamp(string(data))
	if !ok {
		return hook.Deny("memory file %s is missing Last Updated timestamp (ghost memory); verify its content and add '%s' as the first line",
			name, memory.TimestampLine(timeNow())), nil
	}

	now := timeNow()
	age := memory.AgeDays(updated, now)
	switch state := f.classifier.ClassifyType(memory.TypeOf(path), updated, now); state {
	case memory.StateArchived:
		return hook.Deny("memory file %s is stale (%d days old, last updated %s); refresh it against the current code before relying on it",
			name, age, updated.Format(memory.DateLayout)), nil
	case memory.StateAging, memory.StateStale:
		return hook.Warn("memory file %s is %s (%d days old); verify it before relying on it", name, state, age), nil
	default:
		return hook.Allow(), nil
	}
}

// memoryFile returns the absolute path of the memory file a tool call
// targets. Operational files and anything outside a memory directory are
// not memory files.
func memoryFile(req *hook.Request) (string, bool) {
	p := req.FilePath()
	if p == "" || !memory.IsMemoryPath(p) || memory.IsOperationalFile(p) {
		return "", false
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(req.Cwd(), p)
	}
	return p, true
}
