package chronicle

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/entrhq/forge-hooks/pkg/hook"
	"github.com/entrhq/forge-hooks/pkg/hooks/towncrier"
	"github.com/entrhq/forge-hooks/pkg/logging"
	"github.com/entrhq/forge-hooks/pkg/memory"
	"github.com/entrhq/forge-hooks/pkg/security/workspace"
)

// PruningName is the registry name of the pruning daemon.
const PruningName = "memory_pruning_daemon"

// Pruning trims the memory files touched in a session back under their
// ceilings when the session ends. Results go to the health buffer; the
// hook itself always allows.
type Pruning struct {
	root   string
	pruner *memory.Pruner
	logger *logging.Logger
}

// NewPruning creates the daemon for the memory tree at root. A relative
// root is resolved against the session working directory.
func NewPruning(root string, p *memory.Pruner, logger *logging.Logger) *Pruning {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Pruning{root: root, pruner: p, logger: logger}
}

// Name implements hook.Handler.
func (p *Pruning) Name() string { return PruningName }

// Handle implements hook.Handler.
func (p *Pruning) Handle(ctx context.Context, req *hook.Request) (*hook.Decision, error) {
	cwd := req.Cwd()
	root := p.root
	if !filepath.IsAbs(root) {
		root = filepath.Join(cwd, root)
	}
	buffer := towncrier.NewHealthBuffer(cwd)
	now := timeNow()
	project, _ := workspace.NewGuard(cwd)

	candidates, err := memory.FindCandidates(root, req.SessionContext.TranscriptPath, now.Add(-memory.RecentWindow))
	if err != nil {
		p.logger.Warnf("find pruning candidates: %v", err)
		p.note(buffer, fmt.Sprintf("Memory pruning skipped: %v", err))
		return hook.Allow(), nil
	}

	for _, path := range candidates {
		if ctx.Err() != nil {
			break
		}
		res, err := p.pruner.PruneFile(path, now)
		name := displayPath(project, path)
		switch {
		case err != nil:
			p.logger.Warnf("prune %s: %v", name, err)
			p.note(buffer, fmt.Sprintf("Memory file %s could not be pruned: %v", name, err))
		case res.Pruned:
			p.logger.Infof("pruned %s: %d -> %d lines", name, res.LinesBefore, res.LinesAfter)
			p.note(buffer, fmt.Sprintf("Memory file %s pruned from %d to %d lines (%d removed, ceiling %d)",
				name, res.LinesBefore, res.LinesAfter, res.LinesRemoved, p.pruner.Ceiling(memory.TypeOf(path))))
		}
	}
	return hook.Allow(), nil
}

func (p *Pruning) note(b *towncrier.HealthBuffer, msg string) {
	if err := b.Append(msg); err != nil {
		p.logger.Errorf("health buffer: %v", err)
	}
}

// displayPath shortens path to its project-relative form when it lies in
// the project.
func displayPath(project *workspace.Guard, path string) string {
	if project == nil {
		return path
	}
	if rel, err := project.MakeRelative(path); err == nil && rel != "." {
		return rel
	}
	return path
}
