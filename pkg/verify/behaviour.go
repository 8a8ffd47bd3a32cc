package verify

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/entrhq/forge-hooks/pkg/config"
	"github.com/entrhq/forge-hooks/pkg/hook"
	"github.com/entrhq/forge-hooks/pkg/hooks/builtin"
	"github.com/entrhq/forge-hooks/pkg/hooktest"
	"github.com/entrhq/forge-hooks/pkg/memory"
)

//go:embed fixtures/*.yaml
var fixtureFS embed.FS

// FixturePattern selects the embedded fixture files.
const FixturePattern = "fixtures/*.yaml"

// BehaviourLayer runs the built-in hooks through the hooktest harness
// against declared fixtures, then simulates a memory lifecycle in a
// scratch directory.
type BehaviourLayer struct {
	policy   *config.Policy
	fixtures fs.FS
	pattern  string
}

// NewBehaviourLayer creates layer 2 with the embedded fixtures.
func NewBehaviourLayer(p *config.Policy) *BehaviourLayer {
	return &BehaviourLayer{policy: p, fixtures: fixtureFS, pattern: FixturePattern}
}

// WithFixtures replaces the fixture set.
func (l *BehaviourLayer) WithFixtures(fsys fs.FS, pattern string) *BehaviourLayer {
	l.fixtures, l.pattern = fsys, pattern
	return l
}

// Name implements Layer.
func (l *BehaviourLayer) Name() string { return "Layer 2: behavioural" }

// Required implements Layer.
func (l *BehaviourLayer) Required() bool { return true }

// Run implements Layer.
func (l *BehaviourLayer) Run(ctx context.Context) []Check {
	dir, err := os.MkdirTemp("", "forge-verify-*")
	if err != nil {
		return []Check{fail("scratch project", "%v", err)}
	}
	defer os.RemoveAll(dir)

	checks := l.runFixtures(ctx, dir)
	return append(checks, simulateMemory(ctx, filepath.Join(dir, "memory-sim"))...)
}

func (l *BehaviourLayer) runFixtures(ctx context.Context, dir string) []Check {
	fixtures, err := hooktest.LoadFixtures(l.fixtures, l.pattern)
	if err != nil {
		return []Check{fail("load fixtures", "%v", err)}
	}
	handlers, err := builtin.Handlers(l.policy, nil)
	if err != nil {
		return []Check{fail("build hooks", "%v", err)}
	}
	byName := make(map[string]hook.Handler, len(handlers))
	for _, h := range handlers {
		byName[h.Name()] = h
	}

	checks := make([]Check, 0, len(fixtures))
	for _, fx := range fixtures {
		name := fx.Hook + ": " + fx.Name
		h, ok := byName[fx.Hook]
		if !ok {
			checks = append(checks, fail(name, "no built-in hook named %q", fx.Hook))
			continue
		}
		req := fx.Request.Clone()
		if req.SessionContext.Cwd == "" {
			req.SessionContext.Cwd = dir
		}
		if req.SessionContext.SessionID == "" {
			req.SessionContext.SessionID = "verify"
		}
		res, err := hooktest.NewRunner(hooktest.Handler(h)).Exec(ctx, req)
		if err != nil {
			checks = append(checks, fail(name, "%v", err))
			continue
		}
		if problems := fx.Check(res); len(problems) > 0 {
			checks = append(checks, fail(name, "%s", strings.Join(problems, "; ")))
			continue
		}
		checks = append(checks, pass(name))
	}
	return checks
}

// simulateMemory exercises the store with the default ceilings and
// thresholds so the outcome does not depend on the project's policy.
func simulateMemory(ctx context.Context, root string) []Check {
	now := time.Now()
	store, err := memory.NewFileStore(root)
	if err != nil {
		return []Check{fail("memory: open store", "%v", err)}
	}

	var checks []Check

	const putName = "memory: put of 250 lines respects the 200-line ceiling"
	var b strings.Builder
	b.WriteString("# Verification Overview\n\n")
	for i := 1; i <= 248; i++ {
		fmt.Fprintf(&b, "Recorded fact %d about the verification project.\n", i)
	}
	entry, err := store.Put(ctx, "verify", "simulation", string(memory.TypeProjectOverview), b.String(), memory.PutOptions{})
	switch {
	case err != nil:
		checks = append(checks, fail(putName, "%v", err))
	case entry.SizeLines > memory.ProjectOverviewCeiling:
		checks = append(checks, fail(putName, "stored %d lines", entry.SizeLines))
	case len(entry.PruneMarkers) == 0:
		checks = append(checks, fail(putName, "no prune marker recorded"))
	default:
		checks = append(checks, pass(putName))
	}

	const classifyName = "memory: classification at 5 and 95 days"
	c := memory.NewClassifier(memory.DefaultThresholds(), nil)
	fresh := c.Classify(now.AddDate(0, 0, -5), now)
	archived := c.Classify(now.AddDate(0, 0, -95), now)
	if fresh != memory.StateFresh || archived != memory.StateArchived {
		checks = append(checks, fail(classifyName, "5 days is %s, 95 days is %s", fresh, archived))
	} else {
		checks = append(checks, pass(classifyName))
	}

	const idempotentName = "memory: pruning is idempotent"
	if entry == nil {
		checks = append(checks, fail(idempotentName, "no entry to prune"))
		return checks
	}
	res, err := memory.NewPruner(memory.DefaultCeilings()).Prune(entry.Content, entry.Type, now)
	switch {
	case err != nil:
		checks = append(checks, fail(idempotentName, "%v", err))
	case res.Pruned || res.Content != entry.Content:
		checks = append(checks, fail(idempotentName, "second prune removed %d more lines", res.LinesRemoved))
	default:
		checks = append(checks, pass(idempotentName))
	}
	return checks
}
