package verify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/forge-hooks/pkg/config"
	"github.com/entrhq/forge-hooks/pkg/dispatch"
	"github.com/entrhq/forge-hooks/pkg/hook"
	"github.com/entrhq/forge-hooks/pkg/hooks/builtin"
)

type fakeLayer struct {
	name     string
	required bool
	checks   []Check
}

func (f fakeLayer) Name() string                { return f.name }
func (f fakeLayer) Required() bool              { return f.required }
func (f fakeLayer) Run(context.Context) []Check { return f.checks }

func TestRunnerRunAll(t *testing.T) {
	ok := []Check{pass("a"), pass("b")}
	bad := []Check{pass("a"), fail("b", "broken")}
	tests := []struct {
		name          string
		layers        []Layer
		wantAllPassed bool
		wantFailedLen int
	}{
		{"no layers", nil, true, 0},
		{"all layers pass", []Layer{fakeLayer{"one", true, ok}, fakeLayer{"two", false, ok}}, true, 0},
		{"required layer fails", []Layer{fakeLayer{"one", false, ok}, fakeLayer{"two", true, bad}}, false, 1},
		{"optional layer fails", []Layer{fakeLayer{"one", true, ok}, fakeLayer{"two", false, bad}}, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := NewRunner(tt.layers...).RunAll(t.Context())
			assert.Equal(t, tt.wantAllPassed, results.AllPassed)
			assert.Len(t, results.GetFailedLayers(), tt.wantFailedLen)
			assert.Len(t, results.Layers, len(tt.layers))
		})
	}
}

func TestResultsFormatting(t *testing.T) {
	results := NewRunner(fakeLayer{"Layer X", true, []Check{pass("fine"), fail("matchers compile", "bad matcher")}}).RunAll(t.Context())

	msg := results.FormatErrorMessage()
	assert.Contains(t, msg, "Layer X")
	assert.Contains(t, msg, "matchers compile: bad matcher")
	assert.NotContains(t, msg, "fine")

	out := results.Render(true)
	assert.Contains(t, out, "fine")
	assert.Contains(t, out, "1 required layer(s) failed")
	assert.NotContains(t, results.Render(false), "fine")

	assert.Empty(t, NewRunner().RunAll(t.Context()).FormatErrorMessage())
}

func TestRunnerCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	results := NewRunner(fakeLayer{"one", true, []Check{pass("a")}}).RunAll(ctx)
	assert.False(t, results.AllPassed)
}

func checkByName(t *testing.T, checks []Check, name string) Check {
	t.Helper()
	for _, c := range checks {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("no check named %q", name)
	return Check{}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestStaticLayerDefaultPolicy(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "memory/skills/analyze/proj/notes.md"), "<!-- Last Updated: 2026-01-01 -->\n# Notes\n\nFact.\n")
	writeFile(t, filepath.Join(dir, "memory/skills/analyze/proj/legacy.md"), "**Last Updated**: 2026-01-01\n# Legacy\n\nFact.\n")
	writeFile(t, filepath.Join(dir, "memory/index.md"), "# Index\n")

	layer := NewStaticLayer(config.DefaultPolicy(), dir, builtin.Names())
	for _, c := range layer.Run(t.Context()) {
		assert.True(t, c.Passed, "%s: %s", c.Name, c.Detail)
	}
}

func TestStaticLayerMemoryProblems(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "memory/skills/analyze/proj/ghost.md"), "# Ghost\n\nNo timestamp.\n")
	var big strings.Builder
	big.WriteString("<!-- Last Updated: 2026-01-01 -->\n# Overview\n")
	for i := 0; i < 210; i++ {
		fmt.Fprintf(&big, "line %d\n", i)
	}
	writeFile(t, filepath.Join(dir, "memory/skills/analyze/proj/project_overview.md"), big.String())

	checks := NewStaticLayer(config.DefaultPolicy(), dir, builtin.Names()).Run(t.Context())
	c := checkByName(t, checks, "memory files are timestamped and within ceilings")
	require.False(t, c.Passed)
	assert.Contains(t, c.Detail, "ghost.md: missing Last Updated timestamp")
	assert.Contains(t, c.Detail, "project_overview.md: 212 lines exceeds the 200-line ceiling")
}

func TestStaticLayerPolicyProblems(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "hooks/present.sh"), "#!/bin/sh\n")

	p := config.DefaultPolicy()
	p.BaseDir = dir
	p.Hooks = map[hook.Event][]dispatch.MatcherBlock{
		hook.EventPreToolUse: {
			{Category: dispatch.CategoryShield, Matcher: "Bash", Hooks: []dispatch.HookSpec{
				{Name: "sandbox_boundary_guard"},
				{Name: "sandbox_boundary_guard"},
				{Name: "no_such_hook"},
				{Command: "hooks/present.sh"},
				{Command: "hooks/missing.sh --flag"},
			}},
			{Category: dispatch.CategoryShield, Matcher: "[unclosed", Hooks: []dispatch.HookSpec{{Name: "pii_redactor"}}},
		},
		"PreLunch": {{Category: dispatch.CategoryShield, Hooks: []dispatch.HookSpec{{Name: "pii_redactor"}}}},
	}

	checks := NewStaticLayer(p, dir, builtin.Names()).Run(t.Context())

	c := checkByName(t, checks, "event types are valid")
	assert.False(t, c.Passed)
	assert.Contains(t, c.Detail, "PreLunch")

	c = checkByName(t, checks, "matchers compile")
	assert.False(t, c.Passed)
	assert.Contains(t, c.Detail, "[unclosed")

	c = checkByName(t, checks, "named hooks are built in")
	assert.False(t, c.Passed)
	assert.Contains(t, c.Detail, "PreToolUse/no_such_hook")

	c = checkByName(t, checks, "command hooks exist")
	assert.False(t, c.Passed)
	assert.Contains(t, c.Detail, "hooks/missing.sh")
	assert.NotContains(t, c.Detail, "present.sh")

	c = checkByName(t, checks, "no duplicate hooks in a matcher block")
	assert.False(t, c.Passed)
	assert.Contains(t, c.Detail, "sandbox_boundary_guard")

	assert.True(t, checkByName(t, checks, "memory files are timestamped and within ceilings").Passed)
}

func TestBehaviourLayerEmbeddedFixtures(t *testing.T) {
	checks := NewBehaviourLayer(config.DefaultPolicy()).Run(t.Context())
	require.NotEmpty(t, checks)
	for _, c := range checks {
		assert.True(t, c.Passed, "%s: %s", c.Name, c.Detail)
	}
	assert.True(t, checkByName(t, checks, "memory: put of 250 lines respects the 200-line ceiling").Passed)
}

func TestBehaviourLayerReportsMismatches(t *testing.T) {
	fsys := fstest.MapFS{"cases.yaml": {Data: []byte(`
- name: wrong expectation
  hook: dependency_sentinel
  request:
    toolName: Bash
    toolInput: {command: "pip install colourama"}
  expect:
    verdict: allow
- name: unknown hook
  hook: nothing_here
  request:
    toolName: Read
  expect:
    verdict: allow
`)}}
	checks := NewBehaviourLayer(config.DefaultPolicy()).WithFixtures(fsys, "*.yaml").Run(t.Context())

	c := checkByName(t, checks, "dependency_sentinel: wrong expectation")
	assert.False(t, c.Passed)
	assert.Contains(t, c.Detail, "verdict = deny, want allow")

	c = checkByName(t, checks, "nothing_here: unknown hook")
	assert.False(t, c.Passed)
	assert.Contains(t, c.Detail, "no built-in hook")
}

func TestSimulateMemory(t *testing.T) {
	checks := simulateMemory(t.Context(), t.TempDir())
	require.Len(t, checks, 3)
	for _, c := range checks {
		assert.True(t, c.Passed, "%s: %s", c.Name, c.Detail)
	}
}
