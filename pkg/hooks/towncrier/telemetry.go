package towncrier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/entrhq/forge-hooks/pkg/hook"
)

// TelemetryName is the registry name of the session telemetry hook.
const TelemetryName = "forge_telemetry"

// TelemetryFile is the telemetry log location relative to a project.
const TelemetryFile = ".forge/telemetry.log"

var (
	toolNameRe = regexp.MustCompile(`"tool_name"\s*:?\s*"([A-Za-z_][\w-]*)"`)
	toolUseRe  = regexp.MustCompile(`"type"\s*:\s*"tool_use"[^{}]*?"name"\s*:\s*"([A-Za-z_][\w-]*)"`)
	skillRe    = regexp.MustCompile(`skills/([\w-]+)/SKILL\.md`)
	memoryRe   = regexp.MustCompile(`memory/[^\s"'(),\]]+\.md`)
	contextRe  = regexp.MustCompile(`(?:^|[\s"'/])context/[^\s"'(),\]]+\.md`)
	commandRe  = regexp.MustCompile(`(?m)(?:^|["\s])/([a-z][\w-]*)(?:\s|"|$)`)
	writeOpRe  = regexp.MustCompile(`\b(?:Write|Edit|MultiEdit)\b`)
)

// MemoryOps counts memory file references by kind of access.
type MemoryOps struct {
	Reads  int `yaml:"reads"`
	Writes int `yaml:"writes"`
}

// SessionReport is one telemetry document.
type SessionReport struct {
	Timestamp string         `yaml:"timestamp"`
	Session   string         `yaml:"session"`
	Tools     map[string]int `yaml:"tools"`
	Skills    map[string]int `yaml:"skills"`
	Memory    MemoryOps      `yaml:"memory"`
	Context   int            `yaml:"context"`
	Commands  map[string]int `yaml:"commands"`
}

// ToolCalls is the total number of tool calls.
func (r *SessionReport) ToolCalls() int {
	n := 0
	for _, c := range r.Tools {
		n += c
	}
	return n
}

// Summary is the one-line form written to the health buffer.
func (r *SessionReport) Summary() string {
	return fmt.Sprintf("Telemetry: session %s made %d tool calls, loaded %d skills and %d context files, %d memory reads, %d memory writes, %d commands",
		r.Session, r.ToolCalls(), len(r.Skills), r.Context, r.Memory.Reads, r.Memory.Writes, len(r.Commands))
}

// AnalyzeTranscript extracts session metrics from a transcript. It works on
// raw text, so it accepts both JSONL transcripts and plain logs.
func AnalyzeTranscript(session, transcript string) *SessionReport {
	r := &SessionReport{
		Timestamp: timeNow().UTC().Format("2006-01-02T15:04:05Z"),
		Session:   session,
		Tools:     map[string]int{},
		Skills:    map[string]int{},
		Commands:  map[string]int{},
	}
	for _, re := range []*regexp.Regexp{toolNameRe, toolUseRe} {
		for _, m := range re.FindAllStringSubmatch(transcript, -1) {
			r.Tools[m[1]]++
		}
	}
	for _, m := range skillRe.FindAllStringSubmatch(transcript, -1) {
		r.Skills[m[1]]++
	}
	for _, line := range strings.Split(transcript, "\n") {
		n := len(memoryRe.FindAllString(line, -1))
		if n == 0 {
			continue
		}
		if writeOpRe.MatchString(line) {
			r.Memory.Writes += n
		} else {
			r.Memory.Reads += n
		}
	}
	r.Context = len(contextRe.FindAllString(transcript, -1))
	for _, m := range commandRe.FindAllStringSubmatch(transcript, -1) {
		r.Commands[m[1]]++
	}
	return r
}

// Telemetry records per-session metrics when the agent stops.
type Telemetry struct{}

// NewTelemetry creates the hook.
func NewTelemetry() *Telemetry { return &Telemetry{} }

// Name implements hook.Handler.
func (t *Telemetry) Name() string { return TelemetryName }

// Handle implements hook.Handler. It always allows; a missing transcript
// records nothing.
func (t *Telemetry) Handle(_ context.Context, req *hook.Request) (*hook.Decision, error) {
	sc := req.SessionContext
	if sc.StopHookActive || sc.TranscriptPath == "" {
		return hook.Allow(), nil
	}
	data, err := os.ReadFile(sc.TranscriptPath)
	if errors.Is(err, fs.ErrNotExist) {
		return hook.Allow(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("towncrier: read transcript: %w", err)
	}

	report := AnalyzeTranscript(sc.SessionID, string(data))
	cwd := req.Cwd()
	if err := AppendReport(filepath.Join(cwd, TelemetryFile), report); err != nil {
		return nil, err
	}
	if err := NewHealthBuffer(cwd).Append(report.Summary()); err != nil {
		return nil, err
	}
	return hook.Allow(), nil
}

// AppendReport adds report to the log as a YAML document.
func AppendReport(path string, report *SessionReport) error {
	return appendDocument(path, report)
}

func appendDocument(path string, doc any) error {
	var buf bytes.Buffer
	buf.WriteString("---\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("towncrier: encode report: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("towncrier: encode report: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("towncrier: create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("towncrier: open telemetry log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("towncrier: write telemetry log: %w", err)
	}
	return nil
}

// ReadReports parses the session reports in a telemetry log. Documents of
// other kinds, such as context usage reports, are skipped.
func ReadReports(path string) ([]SessionReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("towncrier: open telemetry log: %w", err)
	}
	defer f.Close()

	var out []SessionReport
	dec := yaml.NewDecoder(f)
	for {
		var doc yaml.Node
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("towncrier: decode telemetry log: %w", err)
		}
		if documentKind(&doc) != "" {
			continue
		}
		var r SessionReport
		if err := doc.Decode(&r); err != nil {
			return nil, fmt.Errorf("towncrier: decode telemetry log: %w", err)
		}
		out = append(out, r)
	}
}

// documentKind returns the top-level "kind" of a YAML document, if any.
func documentKind(doc *yaml.Node) string {
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return ""
	}
	m := doc.Content[0]
	if m.Kind != yaml.MappingNode {
		return ""
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == "kind" {
			return m.Content[i+1].Value
		}
	}
	return ""
}
