package hooktest

import (
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/entrhq/forge-hooks/pkg/hook"
)

// Fixture is one declared hook case.
//
//	name: push to main is denied
//	hook: git_hygiene_enforcer
//	request:
//	  toolName: Bash
//	  toolInput: {command: git push origin main}
//	expect:
//	  verdict: deny
//	  reasonContains: [main]
type Fixture struct {
	Name    string       `yaml:"name"`
	Hook    string       `yaml:"hook"`
	Request hook.Request `yaml:"-"`
	Expect  Expectation  `yaml:"expect"`

	// File is the fixture file the case was loaded from.
	File string `yaml:"-"`
}

// Expectation is what a fixture asserts.
type Expectation struct {
	Verdict        hook.Verdict `yaml:"verdict"`
	ReasonContains []string     `yaml:"reasonContains"`
	ModifiesInput  bool         `yaml:"modifiesInput"`
}

type rawFixture struct {
	Fixture `yaml:",inline"`
	Req     struct {
		ToolName       string         `yaml:"toolName"`
		ToolInput      map[string]any `yaml:"toolInput"`
		SessionContext map[string]any `yaml:"sessionContext"`
	} `yaml:"request"`
}

// LoadFixtures reads every file in fsys matching pattern. A file holds a
// YAML sequence of fixtures. Fixtures are returned in file then declaration
// order.
func LoadFixtures(fsys fs.FS, pattern string) ([]Fixture, error) {
	files, err := fs.Glob(fsys, pattern)
	if err != nil {
		return nil, fmt.Errorf("hooktest: %w", err)
	}
	sort.Strings(files)

	var out []Fixture
	for _, f := range files {
		data, err := fs.ReadFile(fsys, f)
		if err != nil {
			return nil, fmt.Errorf("hooktest: read %s: %w", f, err)
		}
		var raws []rawFixture
		if err := yaml.Unmarshal(data, &raws); err != nil {
			return nil, fmt.Errorf("hooktest: parse %s: %w", f, err)
		}
		for i, r := range raws {
			fx := r.Fixture
			fx.File = f
			if fx.Name == "" {
				fx.Name = fmt.Sprintf("%s#%d", f, i)
			}
			if !fx.Expect.Verdict.Valid() {
				return nil, fmt.Errorf("hooktest: %s: fixture %q: unknown verdict %q", f, fx.Name, fx.Expect.Verdict)
			}
			fx.Request = hook.Request{
				ToolName:  r.Req.ToolName,
				ToolInput: normalize(r.Req.ToolInput),
			}
			if fx.Request.ToolInput == nil {
				fx.Request.ToolInput = map[string]any{}
			}
			if sc := r.Req.SessionContext; sc != nil {
				fx.Request.SessionContext.SessionID, _ = sc["sessionId"].(string)
				fx.Request.SessionContext.Cwd, _ = sc["cwd"].(string)
				fx.Request.SessionContext.TranscriptPath, _ = sc["transcriptPath"].(string)
				fx.Request.SessionContext.StopHookActive, _ = sc["stopHookActive"].(bool)
				fx.Request.SessionContext.Prompt, _ = sc["prompt"].(string)
				ev, _ := sc["event"].(string)
				fx.Request.SessionContext.Event = hook.Event(ev)
				for k, v := range normalize(sc) {
					switch k {
					case "sessionId", "cwd", "transcriptPath", "stopHookActive", "prompt", "event":
						continue
					}
					if fx.Request.SessionContext.Extra == nil {
						fx.Request.SessionContext.Extra = make(map[string]any)
					}
					fx.Request.SessionContext.Extra[k] = v
				}
			}
			out = append(out, fx)
		}
	}
	return out, nil
}

// normalize converts yaml's map[string]interface{} trees into the shapes
// encoding/json produces, so fixture inputs compare like wire inputs.
func normalize(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return normalize(x)
	case []any:
		for i := range x {
			x[i] = normalizeValue(x[i])
		}
		return x
	case int:
		return float64(x)
	default:
		return v
	}
}

// Check compares a result against the fixture's expectation and returns
// every mismatch.
func (f Fixture) Check(r *Result) []string {
	var problems []string
	if err := r.Conforms(); err != nil {
		return []string{fmt.Sprintf("hook broke the contract: %v", err)}
	}
	if r.Decision.Verdict != f.Expect.Verdict {
		problems = append(problems, fmt.Sprintf("verdict = %s, want %s (reason %q)", r.Decision.Verdict, f.Expect.Verdict, r.Decision.Reason))
	}
	for _, want := range f.Expect.ReasonContains {
		if !strings.Contains(strings.ToLower(r.Decision.Reason), strings.ToLower(want)) {
			problems = append(problems, fmt.Sprintf("reason %q does not mention %q", r.Decision.Reason, want))
		}
	}
	if f.Expect.ModifiesInput && r.Decision.ModifiedInput == nil {
		problems = append(problems, "expected modifiedInput")
	}
	return problems
}

// RunFixtures runs every fixture as a subtest. lookup maps a fixture's hook
// name to the runner to use; fixtures without a runner fail.
func RunFixtures(t *testing.T, fixtures []Fixture, lookup func(hook string) *Runner) {
	t.Helper()
	for _, fx := range fixtures {
		t.Run(fx.Name, func(t *testing.T) {
			runner := lookup(fx.Hook)
			if runner == nil {
				t.Fatalf("no runner for hook %q", fx.Hook)
			}
			req := fx.Request.Clone()
			res := runner.Run(t, req)
			for _, p := range fx.Check(res) {
				t.Errorf("%s: %s", fx.File, p)
			}
		})
	}
}
