package dispatch

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gobwas/glob"

	"github.com/entrhq/forge-hooks/pkg/hook"
)

// DefaultTimeout is the per-hook budget when neither the hook nor the
// policy sets one.
const DefaultTimeout = 10 * time.Second

// Category groups hooks. Categories run in a fixed order regardless of how
// the table declares them.
type Category string

const (
	CategoryShield    Category = "shield"
	CategoryChronicle Category = "chronicle"
	CategoryForeman   Category = "foreman"
	CategoryTownCrier Category = "towncrier"
)

// Rank orders categories: shield, chronicle, foreman, towncrier. Unknown
// categories report -1.
func (c Category) Rank() int {
	switch c {
	case CategoryShield:
		return 0
	case CategoryChronicle:
		return 1
	case CategoryForeman:
		return 2
	case CategoryTownCrier:
		return 3
	}
	return -1
}

// HookSpec is one hook in a matcher block. Exactly one of Name (an
// in-process handler) or Command (a subprocess) is set. Timeout is in
// seconds.
type HookSpec struct {
	Name    string `json:"name,omitempty" yaml:"name,omitempty" toml:"name,omitempty"`
	Command string `json:"command,omitempty" yaml:"command,omitempty" toml:"command,omitempty"`
	Timeout int    `json:"timeout,omitempty" yaml:"timeout,omitempty" toml:"timeout,omitempty"`
}

// MatcherBlock binds hooks to the tool names an event applies to.
type MatcherBlock struct {
	Category Category   `json:"category" yaml:"category" toml:"category"`
	Matcher  string     `json:"matcher,omitempty" yaml:"matcher,omitempty" toml:"matcher,omitempty"`
	Hooks    []HookSpec `json:"hooks" yaml:"hooks" toml:"hooks"`
}

// TableSpec is the declarative registration table.
type TableSpec struct {
	Hooks map[hook.Event][]MatcherBlock `json:"hooks" yaml:"hooks" toml:"hooks"`

	// BaseDir resolves relative command paths. It is the directory of the
	// file the table was loaded from.
	BaseDir string `json:"-" yaml:"-" toml:"-"`
}

// Registration is one resolved hook.
type Registration struct {
	Event    hook.Event
	Category Category
	Matcher  string
	Name     string
	Command  string
	Timeout  time.Duration

	order int
}

// ID names the registration in traces and logs.
func (r Registration) ID() string {
	if r.Name != "" {
		return r.Name
	}
	fields := strings.Fields(r.Command)
	if len(fields) == 0 {
		return r.Command
	}
	return filepath.Base(fields[0])
}

// InProcess reports whether the registration runs a built-in handler.
func (r Registration) InProcess() bool { return r.Name != "" }

type compiledBlock struct {
	matcher glob.Glob // nil matches every tool
	regs    []Registration
}

// Table is an immutable, validated registration table.
type Table struct {
	events map[hook.Event][]compiledBlock
}

// NewTable validates spec and compiles its matchers.
func NewTable(spec TableSpec, defaultTimeout time.Duration) (*Table, error) {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultTimeout
	}
	t := &Table{events: make(map[hook.Event][]compiledBlock)}
	for event, blocks := range spec.Hooks {
		if !event.Valid() {
			return nil, fmt.Errorf("dispatch: unknown event %q", event)
		}
		order := 0 // declaration order across the event's blocks
		for bi, block := range blocks {
			if block.Category.Rank() < 0 {
				return nil, fmt.Errorf("dispatch: %s block %d: unknown category %q", event, bi, block.Category)
			}
			g, err := compileMatcher(block.Matcher)
			if err != nil {
				return nil, fmt.Errorf("dispatch: %s block %d: bad matcher %q: %w", event, bi, block.Matcher, err)
			}
			cb := compiledBlock{matcher: g}
			for hi, h := range block.Hooks {
				if (h.Name == "") == (h.Command == "") {
					return nil, fmt.Errorf("dispatch: %s block %d hook %d: exactly one of name or command is required", event, bi, hi)
				}
				if h.Timeout < 0 {
					return nil, fmt.Errorf("dispatch: %s block %d hook %d: negative timeout", event, bi, hi)
				}
				timeout := defaultTimeout
				if h.Timeout > 0 {
					timeout = time.Duration(h.Timeout) * time.Second
				}
				cb.regs = append(cb.regs, Registration{
					Event:    event,
					Category: block.Category,
					Matcher:  block.Matcher,
					Name:     h.Name,
					Command:  resolveCommand(spec.BaseDir, h.Command),
					Timeout:  timeout,
					order:    order,
				})
				order++
			}
			t.events[event] = append(t.events[event], cb)
		}
	}
	return t, nil
}

// compileMatcher turns a hooks.json style matcher into a glob. "A|B"
// alternation becomes {A,B}; "" and "*" match everything.
func compileMatcher(m string) (glob.Glob, error) {
	m = strings.TrimSpace(m)
	if m == "" || m == "*" {
		return nil, nil
	}
	if strings.Contains(m, "|") && !strings.ContainsAny(m, "{}") {
		parts := strings.Split(m, "|")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		m = "{" + strings.Join(parts, ",") + "}"
	}
	return glob.Compile(m)
}

// resolveCommand makes a relative script path in the first word of command
// absolute against baseDir.
func resolveCommand(baseDir, command string) string {
	if command == "" || baseDir == "" {
		return command
	}
	first, rest, _ := strings.Cut(command, " ")
	if filepath.IsAbs(first) || !strings.Contains(first, "/") {
		return command
	}
	resolved := filepath.Join(baseDir, first)
	if rest == "" {
		return resolved
	}
	return resolved + " " + rest
}

// Resolve returns the hooks registered for event whose matcher accepts
// toolName, ordered by category rank and then declaration order.
func (t *Table) Resolve(event hook.Event, toolName string) []Registration {
	var out []Registration
	for _, b := range t.events[event] {
		if b.matcher != nil && !b.matcher.Match(toolName) {
			continue
		}
		out = append(out, b.regs...)
	}
	sortRegistrations(out)
	return out
}

// Registrations returns every hook registered for event, in dispatch order.
func (t *Table) Registrations(event hook.Event) []Registration {
	var out []Registration
	for _, b := range t.events[event] {
		out = append(out, b.regs...)
	}
	sortRegistrations(out)
	return out
}

// Events returns the events that have at least one block, in canonical
// order.
func (t *Table) Events() []hook.Event {
	var out []hook.Event
	for _, e := range hook.Events {
		if len(t.events[e]) > 0 {
			out = append(out, e)
		}
	}
	return out
}

// Len is the total number of registrations.
func (t *Table) Len() int {
	n := 0
	for _, blocks := range t.events {
		for _, b := range blocks {
			n += len(b.regs)
		}
	}
	return n
}

func sortRegistrations(regs []Registration) {
	sort.SliceStable(regs, func(i, j int) bool {
		if ri, rj := regs[i].Category.Rank(), regs[j].Category.Rank(); ri != rj {
			return ri < rj
		}
		return regs[i].order < regs[j].order
	})
}
