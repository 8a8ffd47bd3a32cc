// Package config holds the hook policy: the registration table plus every
// tunable the built-in hooks read. Policies load from JSON, YAML or TOML,
// take FORGE_HOOKS_* environment overrides, and can be watched for changes.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/entrhq/forge-hooks/pkg/dispatch"
	"github.com/entrhq/forge-hooks/pkg/hook"
	"github.com/entrhq/forge-hooks/pkg/hooks/foreman"
	"github.com/entrhq/forge-hooks/pkg/logging"
	"github.com/entrhq/forge-hooks/pkg/memory"
)

// Defaults.
const (
	DefaultMemoryRoot = "memory"
	DefaultAuditDB    = ".forge/audit.db"
	DefaultLogLevel   = "info"
)

// Policy is the complete hook policy.
type Policy struct {
	// Hooks is the registration table, keyed by event.
	Hooks map[hook.Event][]dispatch.MatcherBlock `json:"hooks" yaml:"hooks" toml:"hooks"`

	// MemoryRoot is the memory store root. Relative roots are resolved
	// against the session working directory.
	MemoryRoot string `json:"memoryRoot" yaml:"memoryRoot" toml:"memoryRoot"`

	Ceilings        memory.Ceilings                      `json:"ceilings" yaml:"ceilings" toml:"ceilings"`
	Freshness       memory.Thresholds                    `json:"freshness" yaml:"freshness" toml:"freshness"`
	FreshnessByType map[memory.EntryType]memory.Thresholds `json:"freshnessByType,omitempty" yaml:"freshnessByType,omitempty" toml:"freshnessByType,omitempty"`

	// RequiredSections lists, per entry type, the section titles the
	// quality gate requires.
	RequiredSections map[memory.EntryType][]string `json:"requiredSections,omitempty" yaml:"requiredSections,omitempty" toml:"requiredSections,omitempty"`

	// HookTimeout is the default per-hook budget in seconds.
	HookTimeout int `json:"hookTimeout" yaml:"hookTimeout" toml:"hookTimeout"`

	Foreman foreman.Constraints `json:"foreman" yaml:"foreman" toml:"foreman"`

	// DenyList extends the dependency sentinel's embedded list. Entries are
	// package names, optionally scoped as "pip:name" or "npm:name".
	DenyList []string `json:"denyList,omitempty" yaml:"denyList,omitempty" toml:"denyList,omitempty"`

	AuditDB  string `json:"auditDb" yaml:"auditDb" toml:"auditDb"`
	LogLevel string `json:"logLevel" yaml:"logLevel" toml:"logLevel"`

	// BaseDir is the directory of the file the policy was loaded from.
	BaseDir string `json:"-" yaml:"-" toml:"-"`
}

// DefaultPolicy returns the built-in policy: every built-in hook registered
// on its usual event.
func DefaultPolicy() *Policy {
	return &Policy{
		Hooks:       DefaultHooks(),
		MemoryRoot:  DefaultMemoryRoot,
		Ceilings:    memory.DefaultCeilings(),
		Freshness:   memory.DefaultThresholds(),
		HookTimeout: int(dispatch.DefaultTimeout / time.Second),
		AuditDB:     DefaultAuditDB,
		LogLevel:    DefaultLogLevel,
	}
}

// DefaultHooks is the built-in registration table.
func DefaultHooks() map[hook.Event][]dispatch.MatcherBlock {
	named := func(names ...string) []dispatch.HookSpec {
		out := make([]dispatch.HookSpec, len(names))
		for i, n := range names {
			out[i] = dispatch.HookSpec{Name: n}
		}
		return out
	}
	return map[hook.Event][]dispatch.MatcherBlock{
		hook.EventPreToolUse: {
			{Category: dispatch.CategoryShield, Matcher: "Read|Write|Edit|Bash", Hooks: named("sandbox_boundary_guard")},
			{Category: dispatch.CategoryShield, Matcher: "Bash", Hooks: named("git_hygiene_enforcer", "pre_commit_quality", "dependency_sentinel")},
			{Category: dispatch.CategoryShield, Matcher: "Write|Edit", Hooks: named("pii_redactor")},
			{Category: dispatch.CategoryChronicle, Matcher: "Read", Hooks: named("memory_freshness_enforcer")},
			{Category: dispatch.CategoryForeman, Matcher: "*", Hooks: named("workflow_constraints")},
		},
		hook.EventPostToolUse: {
			{Category: dispatch.CategoryChronicle, Matcher: "Write|Edit", Hooks: named("memory_quality_gate", "memory_cross_pollinator")},
			{Category: dispatch.CategoryTownCrier, Matcher: "*", Hooks: named("system_health_emitter")},
		},
		hook.EventUserPromptSubmit: {
			{Category: dispatch.CategoryShield, Hooks: named("pii_redactor")},
		},
		hook.EventSessionEnd: {
			{Category: dispatch.CategoryChronicle, Hooks: named("memory_pruning_daemon")},
		},
		hook.EventStop: {
			{Category: dispatch.CategoryTownCrier, Hooks: named("forge_telemetry")},
		},
		hook.EventPreCompact: {
			{Category: dispatch.CategoryTownCrier, Hooks: named("context_usage_tracker")},
		},
		hook.EventTaskCompleted: {
			{Category: dispatch.CategoryForeman, Hooks: named("command_chain_context")},
		},
	}
}

// Validate checks every section and reports all problems at once.
func (p *Policy) Validate() error {
	var errs []error
	if strings.TrimSpace(p.MemoryRoot) == "" {
		errs = append(errs, errors.New("memoryRoot is required"))
	}
	if p.Ceilings.Default <= memory.HeaderLines {
		errs = append(errs, fmt.Errorf("ceilings.default must exceed %d header lines, got %d", memory.HeaderLines, p.Ceilings.Default))
	}
	for typ, n := range p.Ceilings.ByType {
		if n <= memory.HeaderLines {
			errs = append(errs, fmt.Errorf("ceilings.byType.%s must exceed %d header lines, got %d", typ, memory.HeaderLines, n))
		}
	}
	if err := p.Freshness.Validate(); err != nil {
		errs = append(errs, err)
	}
	for typ, th := range p.FreshnessByType {
		if err := th.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("freshnessByType.%s: %w", typ, err))
		}
	}
	if p.HookTimeout < 0 {
		errs = append(errs, fmt.Errorf("hookTimeout must not be negative, got %d", p.HookTimeout))
	}
	if err := p.Foreman.Validate(); err != nil {
		errs = append(errs, err)
	}
	for i, entry := range p.DenyList {
		if strings.TrimSpace(entry) == "" {
			errs = append(errs, fmt.Errorf("denyList[%d] is empty", i))
		}
	}
	if _, err := logging.ParseLevel(p.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if _, err := p.Table(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: invalid policy: %w", errors.Join(errs...))
	}
	return nil
}

// Timeout is the default per-hook budget.
func (p *Policy) Timeout() time.Duration {
	if p.HookTimeout <= 0 {
		return dispatch.DefaultTimeout
	}
	return time.Duration(p.HookTimeout) * time.Second
}

// Table compiles the registration table.
func (p *Policy) Table() (*dispatch.Table, error) {
	return dispatch.NewTable(dispatch.TableSpec{Hooks: p.Hooks, BaseDir: p.BaseDir}, p.Timeout())
}

// Classifier builds the freshness classifier.
func (p *Policy) Classifier() memory.Classifier {
	return memory.NewClassifier(p.Freshness, p.FreshnessByType)
}

// QualityGate builds the memory quality gate.
func (p *Policy) QualityGate() *memory.QualityGate {
	return memory.NewQualityGate(p.RequiredSections, p.Ceilings)
}

// Pruner builds the pruning engine.
func (p *Policy) Pruner() *memory.Pruner {
	return memory.NewPruner(p.Ceilings)
}

// Level parses LogLevel, defaulting to info.
func (p *Policy) Level() logging.Level {
	lvl, err := logging.ParseLevel(p.LogLevel)
	if err != nil {
		return logging.LevelInfo
	}
	return lvl
}
