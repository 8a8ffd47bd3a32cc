package verify

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/entrhq/forge-hooks/pkg/config"
	"github.com/entrhq/forge-hooks/pkg/dispatch"
	"github.com/entrhq/forge-hooks/pkg/hook"
	"github.com/entrhq/forge-hooks/pkg/memory"
)

// StaticLayer checks the policy and the memory tree without running any
// hook.
type StaticLayer struct {
	policy     *config.Policy
	projectDir string
	builtins   map[string]bool
}

// NewStaticLayer creates layer 1 for the project at projectDir. builtins
// are the names the in-process registry provides.
func NewStaticLayer(p *config.Policy, projectDir string, builtins []string) *StaticLayer {
	known := make(map[string]bool, len(builtins))
	for _, n := range builtins {
		known[n] = true
	}
	return &StaticLayer{policy: p, projectDir: projectDir, builtins: known}
}

// Name implements Layer.
func (l *StaticLayer) Name() string { return "Layer 1: static" }

// Required implements Layer.
func (l *StaticLayer) Required() bool { return true }

// Run implements Layer.
func (l *StaticLayer) Run(ctx context.Context) []Check {
	return []Check{
		l.checkEvents(),
		l.checkMatchers(),
		l.checkBuiltins(),
		l.checkCommands(),
		l.checkDuplicates(),
		l.checkMemory(ctx),
	}
}

// events returns the policy's events in a stable order.
func (l *StaticLayer) events() []hook.Event {
	out := make([]hook.Event, 0, len(l.policy.Hooks))
	for e := range l.policy.Hooks {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (l *StaticLayer) checkEvents() Check {
	const name = "event types are valid"
	var bad []string
	for _, e := range l.events() {
		if !e.Valid() {
			bad = append(bad, string(e))
		}
	}
	if len(bad) > 0 {
		return fail(name, "unknown events: %s", strings.Join(bad, ", "))
	}
	return pass(name)
}

func (l *StaticLayer) checkMatchers() Check {
	const name = "matchers compile"
	var problems []string
	for _, e := range l.events() {
		if !e.Valid() {
			continue
		}
		for _, block := range l.policy.Hooks[e] {
			spec := dispatch.TableSpec{Hooks: map[hook.Event][]dispatch.MatcherBlock{e: {block}}}
			if _, err := dispatch.NewTable(spec, l.policy.Timeout()); err != nil {
				problems = append(problems, err.Error())
			}
		}
	}
	if len(problems) > 0 {
		return fail(name, "%s", strings.Join(problems, "; "))
	}
	return pass(name)
}

func (l *StaticLayer) checkBuiltins() Check {
	const name = "named hooks are built in"
	var missing []string
	l.eachHook(func(e hook.Event, h dispatch.HookSpec) {
		if h.Name != "" && !l.builtins[h.Name] {
			missing = append(missing, string(e)+"/"+h.Name)
		}
	})
	if len(missing) > 0 {
		return fail(name, "no built-in hook for %s", strings.Join(missing, ", "))
	}
	return pass(name)
}

func (l *StaticLayer) checkCommands() Check {
	const name = "command hooks exist"
	var missing []string
	l.eachHook(func(e hook.Event, h dispatch.HookSpec) {
		if h.Command == "" {
			return
		}
		if !l.commandExists(h.Command) {
			missing = append(missing, h.Command)
		}
	})
	if len(missing) > 0 {
		return fail(name, "not found: %s", strings.Join(missing, ", "))
	}
	return pass(name)
}

// commandExists resolves the first word of command the way the dispatch
// table does: relative script paths against the policy directory, bare
// names on PATH.
func (l *StaticLayer) commandExists(command string) bool {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return false
	}
	prog := fields[0]
	if !strings.Contains(prog, "/") {
		_, err := exec.LookPath(prog)
		return err == nil
	}
	if !filepath.IsAbs(prog) {
		base := l.policy.BaseDir
		if base == "" {
			base = l.projectDir
		}
		prog = filepath.Join(base, prog)
	}
	info, err := os.Stat(prog)
	return err == nil && !info.IsDir()
}

func (l *StaticLayer) checkDuplicates() Check {
	const name = "no duplicate hooks in a matcher block"
	var dups []string
	for _, e := range l.events() {
		for _, block := range l.policy.Hooks[e] {
			seen := make(map[string]bool)
			for _, h := range block.Hooks {
				key := h.Name + h.Command
				if seen[key] {
					dups = append(dups, string(e)+"["+block.Matcher+"]: "+key)
				}
				seen[key] = true
			}
		}
	}
	if len(dups) > 0 {
		return fail(name, "duplicated: %s", strings.Join(dups, ", "))
	}
	return pass(name)
}

func (l *StaticLayer) eachHook(fn func(hook.Event, dispatch.HookSpec)) {
	for _, e := range l.events() {
		for _, block := range l.policy.Hooks[e] {
			for _, h := range block.Hooks {
				fn(e, h)
			}
		}
	}
}

func (l *StaticLayer) memoryRoot() string {
	root := l.policy.MemoryRoot
	if !filepath.IsAbs(root) {
		root = filepath.Join(l.projectDir, root)
	}
	return root
}

func (l *StaticLayer) checkMemory(ctx context.Context) Check {
	const name = "memory files are timestamped and within ceilings"
	root := l.memoryRoot()
	pruner := l.policy.Pruner()

	var problems []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == root {
				return fs.SkipAll
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".md" || memory.IsOperationalFile(path) {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		content := string(data)
		if !memory.HasAnyTimestamp(content) {
			problems = append(problems, rel+": missing Last Updated timestamp")
		}
		if over, ceiling := pruner.Exceeds(content, memory.TypeOf(path)); over {
			problems = append(problems, fmt.Sprintf("%s: %d lines exceeds the %d-line ceiling", rel, memory.CountLines(content), ceiling))
		}
		return nil
	})
	if err != nil {
		return fail(name, "scan %s: %v", root, err)
	}
	if len(problems) > 0 {
		return fail(name, "%s", strings.Join(problems, "; "))
	}
	return pass(name)
}
