package hooktest

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/entrhq/forge-hooks/pkg/hook"
)

// HealthBufferPath is the health buffer location relative to a project.
const HealthBufferPath = ".forge/health_buffer"

// Env is a disposable project directory with a .forge runtime directory.
type Env struct {
	t         testing.TB
	Dir       string
	SessionID string
}

// EnvOption configures NewEnv.
type EnvOption func(*envConfig)

type envConfig struct {
	git bool
}

// WithGit initialises a git repository on branch develop with one commit.
// The test is skipped when git is not installed.
func WithGit() EnvOption {
	return func(c *envConfig) { c.git = true }
}

// NewEnv creates the environment under t.TempDir.
func NewEnv(t testing.TB, opts ...EnvOption) *Env {
	t.Helper()
	var cfg envConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	e := &Env{t: t, Dir: t.TempDir(), SessionID: uuid.NewString()}
	forgeDir := filepath.Join(e.Dir, ".forge")
	if err := os.MkdirAll(forgeDir, 0o755); err != nil {
		t.Fatalf("hooktest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(e.Dir, HealthBufferPath), nil, 0o644); err != nil {
		t.Fatalf("hooktest: %v", err)
	}

	if cfg.git {
		if _, err := exec.LookPath("git"); err != nil {
			t.Skip("git not installed")
		}
		e.git("init", "--initial-branch=develop")
		e.git("config", "user.email", "test@forge.dev")
		e.git("config", "user.name", "Forge Test")
		e.CreateFile(".gitkeep", "")
		e.git("add", ".")
		e.git("commit", "-m", "chore: initial commit")
	}
	return e
}

func (e *Env) git(args ...string) {
	e.t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = e.Dir
	if out, err := cmd.CombinedOutput(); err != nil {
		e.t.Fatalf("hooktest: git %v: %v\n%s", args, err, out)
	}
}

// Path joins rel onto the project directory.
func (e *Env) Path(rel string) string {
	return filepath.Join(e.Dir, rel)
}

// CreateFile writes content to rel, creating parent directories, and
// returns the absolute path.
func (e *Env) CreateFile(rel, content string) string {
	e.t.Helper()
	p := e.Path(rel)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		e.t.Fatalf("hooktest: %v", err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		e.t.Fatalf("hooktest: %v", err)
	}
	return p
}

// StageFile creates the file and adds it to the git index. The Env must
// have been created WithGit.
func (e *Env) StageFile(rel, content string) string {
	e.t.Helper()
	p := e.CreateFile(rel, content)
	e.git("add", rel)
	return p
}

// ReadFile returns the content of rel, or "" if it does not exist.
func (e *Env) ReadFile(rel string) string {
	data, err := os.ReadFile(e.Path(rel))
	if err != nil {
		return ""
	}
	return string(data)
}

// HealthBuffer returns the health buffer content.
func (e *Env) HealthBuffer() string {
	return e.ReadFile(HealthBufferPath)
}

// Request builds a request rooted in the environment.
func (e *Env) Request(tool string, input map[string]any) *hook.Request {
	if input == nil {
		input = map[string]any{}
	}
	return &hook.Request{
		ToolName:  tool,
		ToolInput: input,
		SessionContext: hook.SessionContext{
			SessionID: e.SessionID,
			Cwd:       e.Dir,
		},
	}
}
