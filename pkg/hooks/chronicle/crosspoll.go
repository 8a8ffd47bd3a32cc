package chronicle

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/entrhq/forge-hooks/pkg/hook"
	"github.com/entrhq/forge-hooks/pkg/logging"
	"github.com/entrhq/forge-hooks/pkg/memory"
)

// CrossPollinatorName is the registry name of the cross-skill insight
// propagator.
const CrossPollinatorName = "memory_cross_pollinator"

// InsightsFile is the per-project file that collects critical findings
// from every skill.
const InsightsFile = "cross_skill_insights.md"

var criticalTitleRe = regexp.MustCompile(`(?i)\b(critical|security|breaking|performance)\b`)

// CrossPollinator copies critical sections of a skill memory file into the
// project's cross-skill insights, so the next skill run on the same project
// sees them. It is informational and always allows.
type CrossPollinator struct {
	logger *logging.Logger
}

// NewCrossPollinator creates the hook.
func NewCrossPollinator(logger *logging.Logger) *CrossPollinator {
	if logger == nil {
		logger = logging.Discard()
	}
	return &CrossPollinator{logger: logger}
}

// Name implements hook.Handler.
func (c *CrossPollinator) Name() string { return CrossPollinatorName }

// Handle implements hook.Handler.
func (c *CrossPollinator) Handle(_ context.Context, req *hook.Request) (*hook.Decision, error) {
	path, ok := memoryFile(req)
	if !ok {
		return hook.Allow(), nil
	}
	ref, ok := parseSkillPath(path)
	if !ok {
		return hook.Allow(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.Warnf("read %s: %v", path, err)
		}
		return hook.Allow(), nil
	}

	var critical []memory.Section
	for _, s := range memory.Sections(string(data)) {
		if len(s.Body) > 0 && criticalTitleRe.MatchString(s.Title) {
			critical = append(critical, s)
		}
	}
	if len(critical) == 0 {
		return hook.Allow(), nil
	}

	target := filepath.Join(ref.memoryDir, "projects", ref.project, InsightsFile)
	if err := mergeInsights(target, ref, critical); err != nil {
		c.logger.Errorf("%v", err)
		return hook.Allow(), nil
	}
	c.logger.Infof("propagated %d section(s) from %s/%s to %s", len(critical), ref.skill, ref.file, ref.project)
	return hook.Allow(), nil
}

// skillRef locates memory/skills/{skill}/{project}/{file}.md.
type skillRef struct {
	memoryDir string
	skill     string
	project   string
	file      string
}

func parseSkillPath(path string) (skillRef, bool) {
	slashed := filepath.ToSlash(path)
	i := strings.LastIndex(slashed, "memory/skills/")
	if i < 0 {
		return skillRef{}, false
	}
	parts := strings.Split(slashed[i+len("memory/skills/"):], "/")
	if len(parts) < 3 || parts[0] == "" || parts[1] == "" {
		return skillRef{}, false
	}
	return skillRef{
		memoryDir: filepath.FromSlash(slashed[:i+len("memory")]),
		skill:     parts[0],
		project:   parts[1],
		file:      strings.TrimSuffix(parts[len(parts)-1], ".md"),
	}, true
}

func mergeInsights(target string, ref skillRef, sections []memory.Section) error {
	now := timeNow()
	data, err := os.ReadFile(target)
	var content string
	switch {
	case errors.Is(err, fs.ErrNotExist):
		content = memory.TimestampLine(now) + "\n# Cross-Skill Insights\n"
	case err != nil:
		return fmt.Errorf("chronicle: read insights: %w", err)
	default:
		content = string(data)
	}

	for _, s := range sections {
		heading := fmt.Sprintf("## %s (from %s/%s)", s.Title, ref.skill, ref.file)
		content = upsertBlock(content, heading, s.Body)
	}
	content = memory.Stamp(content, now, false)

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("chronicle: create insights dir: %w", err)
	}
	if err := memory.WriteFileAtomic(target, []byte(content)); err != nil {
		return fmt.Errorf("chronicle: write insights: %w", err)
	}
	return nil
}

// upsertBlock replaces the block under heading, up to the next "## "
// heading, or appends it.
func upsertBlock(content, heading string, body []string) string {
	block := append([]string{heading, ""}, body...)
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")

	start := -1
	for i, l := range lines {
		if strings.TrimSpace(l) == heading {
			start = i
			break
		}
	}
	if start < 0 {
		lines = append(lines, "")
		lines = append(lines, block...)
		return strings.Join(lines, "\n") + "\n"
	}

	end := len(lines)
	for i := start + 1; i < len(lines); i++ {
		if strings.HasPrefix(lines[i], "## ") {
			end = i
			break
		}
	}
	var out []string
	out = append(out, lines[:start]...)
	out = append(out, block...)
	if end < len(lines) {
		out = append(out, "")
		out = append(out, lines[end:]...)
	}
	return strings.Join(out, "\n") + "\n"
}
