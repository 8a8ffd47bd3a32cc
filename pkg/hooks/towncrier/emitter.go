package towncrier

import (
	"context"
	"strings"

	"github.com/entrhq/forge-hooks/pkg/hook"
)

// EmitterName is the registry name of the health report hook.
const EmitterName = "system_health_emitter"

// Emitter flushes the health buffer after each tool call and surfaces its
// entries as a warning, so messages left by background hooks reach the
// agent.
type Emitter struct{}

// NewEmitter creates the hook.
func NewEmitter() *Emitter { return &Emitter{} }

// Name implements hook.Handler.
func (e *Emitter) Name() string { return EmitterName }

// Handle implements hook.Handler.
func (e *Emitter) Handle(_ context.Context, req *hook.Request) (*hook.Decision, error) {
	lines, err := NewHealthBuffer(req.Cwd()).Flush()
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return hook.Allow(), nil
	}
	noun := "events"
	if len(lines) == 1 {
		noun = "event"
	}
	return hook.Warn("Forge Health Report (%d %s):\n%s", len(lines), noun, strings.Join(lines, "\n")), nil
}

