// Package builtin wires the built-in hooks to a policy and exposes them to
// the dispatcher by name.
package builtin

import (
	"fmt"
	"sort"

	"github.com/entrhq/forge-hooks/pkg/audit"
	"github.com/entrhq/forge-hooks/pkg/config"
	"github.com/entrhq/forge-hooks/pkg/dispatch"
	"github.com/entrhq/forge-hooks/pkg/hook"
	"github.com/entrhq/forge-hooks/pkg/hooks/chronicle"
	"github.com/entrhq/forge-hooks/pkg/hooks/foreman"
	"github.com/entrhq/forge-hooks/pkg/hooks/shield"
	"github.com/entrhq/forge-hooks/pkg/hooks/towncrier"
	"github.com/entrhq/forge-hooks/pkg/logging"
)

// Handlers builds every built-in hook configured from p.
func Handlers(p *config.Policy, logger *logging.Logger) ([]hook.Handler, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	constraints, err := foreman.New(p.Foreman)
	if err != nil {
		return nil, fmt.Errorf("builtin: %s: %w", foreman.Name, err)
	}
	return []hook.Handler{
		shield.NewSandbox(),
		shield.NewGitHygiene(),
		shield.NewPreCommit(),
		shield.NewDependencySentinel(p.DenyList...),
		shield.NewPIIRedactor(),
		chronicle.NewFreshness(p.Classifier()),
		chronicle.NewQuality(p.QualityGate()),
		chronicle.NewPruning(p.MemoryRoot, p.Pruner(), logger.With("chronicle")),
		chronicle.NewCrossPollinator(logger.With("chronicle")),
		constraints,
		foreman.NewChain(logger.With("foreman")),
		towncrier.NewTelemetry(),
		towncrier.NewEmitter(),
		towncrier.NewContextUsage(),
	}, nil
}

// Names lists the registry names of the built-in hooks, sorted.
func Names() []string {
	names := []string{
		shield.SandboxName,
		shield.GitName,
		shield.PreCommitName,
		shield.DependencyName,
		shield.PIIName,
		chronicle.FreshnessName,
		chronicle.QualityName,
		chronicle.PruningName,
		chronicle.CrossPollinatorName,
		foreman.Name,
		foreman.ChainName,
		towncrier.TelemetryName,
		towncrier.EmitterName,
		towncrier.ContextUsageName,
	}
	sort.Strings(names)
	return names
}

// Lookup returns the built-in hook called name.
func Lookup(p *config.Policy, name string) (hook.Handler, error) {
	hs, err := Handlers(p, nil)
	if err != nil {
		return nil, err
	}
	for _, h := range hs {
		if h.Name() == name {
			return h, nil
		}
	}
	return nil, fmt.Errorf("builtin: no hook named %q", name)
}

// NewDispatcher builds a dispatcher for p. Named registrations run in
// process; command registrations run as subprocesses.
func NewDispatcher(p *config.Policy, recorder audit.Recorder, logger *logging.Logger) (*dispatch.Dispatcher, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	if recorder == nil {
		recorder = audit.Nop{}
	}
	table, err := p.Table()
	if err != nil {
		return nil, err
	}
	hs, err := Handlers(p, logger)
	if err != nil {
		return nil, err
	}
	exec := dispatch.Router{
		InProcess:  dispatch.NewInProcessExecutor(hs...),
		Subprocess: dispatch.NewSubprocessExecutor(),
	}
	return dispatch.New(table, exec, dispatch.WithRecorder(recorder), dispatch.WithLogger(logger.With("dispatch"))), nil
}
