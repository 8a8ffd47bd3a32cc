package towncrier

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/entrhq/forge-hooks/pkg/hook"
)

// ContextUsageName is the registry name of the pre-compaction context
// usage analyzer.
const ContextUsageName = "context_usage_tracker"

// ContextUsageKind tags context usage documents in the telemetry log.
const ContextUsageKind = "context_usage_report"

// DefaultContextTokens is the estimate for a context file that cannot be
// read and declares no estimatedTokens.
const DefaultContextTokens = 500

// ContextUsageReport is the telemetry document written before compaction.
type ContextUsageReport struct {
	Kind         string   `yaml:"kind"`
	Timestamp    string   `yaml:"timestamp"`
	Session      string   `yaml:"session"`
	Trigger      string   `yaml:"trigger,omitempty"`
	Loaded       int      `yaml:"loaded"`
	Active       []string `yaml:"active"`
	Unused       []string `yaml:"unused"`
	Utilization  int      `yaml:"utilization_pct"`
	WastedTokens int      `yaml:"wasted_tokens"`
}

// ContextUsage runs before the host compacts the conversation. It reports
// which loaded context files were actually used, so the next session can
// load less.
type ContextUsage struct{}

// NewContextUsage creates the hook.
func NewContextUsage() *ContextUsage { return &ContextUsage{} }

// Name implements hook.Handler.
func (c *ContextUsage) Name() string { return ContextUsageName }

// Handle implements hook.Handler. It never blocks compaction; without a
// transcript or context references it allows silently.
func (c *ContextUsage) Handle(_ context.Context, req *hook.Request) (*hook.Decision, error) {
	sc := req.SessionContext
	if sc.TranscriptPath == "" {
		return hook.Allow(), nil
	}
	data, err := os.ReadFile(sc.TranscriptPath)
	if errors.Is(err, fs.ErrNotExist) {
		return hook.Allow(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("towncrier: read transcript: %w", err)
	}

	cwd := req.Cwd()
	trigger, _ := sc.Extra["trigger"].(string)
	report, tokens := AnalyzeContextUsage(cwd, string(data))
	if report.Loaded == 0 {
		return hook.Allow(), nil
	}
	report.Session = sc.SessionID
	report.Trigger = trigger

	if err := appendDocument(filepath.Join(cwd, TelemetryFile), report); err != nil {
		return nil, err
	}
	return hook.Warn("%s", report.render(tokens)), nil
}

// AnalyzeContextUsage classifies the context files a transcript loaded. A
// file counts as active when its name comes up again after loading. The
// returned map holds the token estimate of each unused file.
func AnalyzeContextUsage(projectDir, transcript string) (*ContextUsageReport, map[string]int) {
	report := &ContextUsageReport{
		Kind:      ContextUsageKind,
		Timestamp: timeNow().UTC().Format("2006-01-02T15:04:05Z"),
		Active:    []string{},
		Unused:    []string{},
	}
	tokens := make(map[string]int)
	lower := strings.ToLower(transcript)

	for _, ref := range ScanRefs(transcript).Context {
		report.Loaded++
		stem := strings.ToLower(strings.TrimSuffix(filepath.Base(ref), ".md"))
		if strings.Count(lower, stem) > 1 {
			report.Active = append(report.Active, ref)
			continue
		}
		report.Unused = append(report.Unused, ref)
		n := estimateTokens(projectDir, ref)
		tokens[ref] = n
		report.WastedTokens += n
	}
	if report.Loaded > 0 {
		report.Utilization = len(report.Active) * 100 / report.Loaded
	}
	return report, tokens
}

func (r *ContextUsageReport) render(tokens map[string]int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Context Usage: %d of %d context files active (%d%% utilization)",
		len(r.Active), r.Loaded, r.Utilization)
	for _, ref := range r.Active {
		fmt.Fprintf(&b, "\n- active: %s", ref)
	}
	for _, ref := range r.Unused {
		fmt.Fprintf(&b, "\n- unused: %s (~%d tokens)", ref, tokens[ref])
	}
	if r.WastedTokens > 0 {
		fmt.Fprintf(&b, "\nEstimated wasted tokens: %d", r.WastedTokens)
	}
	return b.String()
}

// estimateTokens reads estimatedTokens from the context file's front
// matter. The file is looked up in the project and one directory below it,
// where plugin checkouts usually keep their context tree.
func estimateTokens(projectDir, ref string) int {
	candidates := []string{filepath.Join(projectDir, ref)}
	if nested, err := filepath.Glob(filepath.Join(projectDir, "*", ref)); err == nil {
		candidates = append(candidates, nested...)
	}
	for _, p := range candidates {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		if n := frontMatterTokens(string(data)); n > 0 {
			return n
		}
		return len(data)/4 + 1
	}
	return DefaultContextTokens
}

func frontMatterTokens(content string) int {
	rest, ok := strings.CutPrefix(content, "---\n")
	if !ok {
		return 0
	}
	fm, _, ok := strings.Cut(rest, "\n---")
	if !ok {
		return 0
	}
	var meta struct {
		EstimatedTokens int `yaml:"estimatedTokens"`
	}
	if err := yaml.Unmarshal([]byte(fm), &meta); err != nil {
		return 0
	}
	return meta.EstimatedTokens
}
