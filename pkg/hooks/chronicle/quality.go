package chronicle

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/entrhq/forge-hooks/pkg/hook"
	"github.com/entrhq/forge-hooks/pkg/memory"
)

// QualityName is the registry name of the post-write quality gate.
const QualityName = "memory_quality_gate"

// Quality runs after a memory file was written. It stamps the Last Updated
// header and reports quality problems as warnings; the write already
// happened, so it never denies.
type Quality struct {
	gate *memory.QualityGate
}

// NewQuality creates the hook.
func NewQuality(g *memory.QualityGate) *Quality {
	return &Quality{gate: g}
}

// Name implements hook.Handler.
func (q *Quality) Name() string { return QualityName }

// Handle implements hook.Handler.
func (q *Quality) Handle(_ context.Context, req *hook.Request) (*hook.Decision, error) {
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

	content := string(data)
	_, stamped := memory.ParseTimestamp(content)
	updated := memory.Stamp(content, timeNow(), !stamped)
	if updated != content {
		if err := memory.WriteFileAtomic(path, []byte(updated)); err != nil {
			return nil, fmt.Errorf("chronicle: stamp %s: %w", path, err)
		}
	}

	report := q.gate.Validate(memory.TypeOf(path), updated)
	problems := append(append([]string{}, report.Reasons...), report.Warnings...)
	if len(problems) == 0 {
		return hook.Allow(), nil
	}
	return hook.Warn("memory quality for %s:\n- %s", filepath.Base(path), strings.Join(problems, "\n- ")), nil
}
