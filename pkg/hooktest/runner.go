// Package hooktest runs hooks the way the host does, stdin JSON in and
// stdout JSON plus exit code out, and returns a Result with typed
// assertions. A hook under test is either an executable command or an
// in-process hook.Handler; both go through the same wire protocol.
package hooktest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/entrhq/forge-hooks/pkg/hook"
)

// DefaultTimeout bounds a single hook invocation.
const DefaultTimeout = 10 * time.Second

// Target is something the Runner can invoke with a raw stdin payload.
type Target interface {
	invoke(ctx context.Context, stdin []byte, dir string, env []string) (exitCode int, stdout, stderr string, err error)
	String() string
}

type commandTarget struct {
	path string
	args []string
}

// Command targets an executable. args are passed after path.
func Command(path string, args ...string) Target {
	return commandTarget{path: path, args: args}
}

func (c commandTarget) String() string { return c.path }

func (c commandTarget) invoke(ctx context.Context, stdin []byte, dir string, env []string) (int, string, string, error) {
	cmd := exec.CommandContext(ctx, c.path, c.args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(stdin)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	var exitErr *exec.ExitError
	switch {
	case ctx.Err() != nil:
		return -1, stdout.String(), stderr.String(), ctx.Err()
	case err == nil:
		return 0, stdout.String(), stderr.String(), nil
	case errors.As(err, &exitErr):
		return exitErr.ExitCode(), stdout.String(), stderr.String(), nil
	default:
		return -1, stdout.String(), stderr.String(), err
	}
}

type handlerTarget struct {
	h hook.Handler
}

// Handler targets an in-process hook through hook.Run, so the handler's
// decision is encoded and decoded exactly as a subprocess's would be.
func Handler(h hook.Handler) Target {
	return handlerTarget{h: h}
}

func (t handlerTarget) String() string { return t.h.Name() }

func (t handlerTarget) invoke(ctx context.Context, stdin []byte, _ string, _ []string) (int, string, string, error) {
	type result struct {
		code           int
		stdout, stderr string
	}
	done := make(chan result, 1)
	go func() {
		var stdout, stderr bytes.Buffer
		code := hook.Run(ctx, t.h, bytes.NewReader(stdin), &stdout, &stderr)
		done <- result{code, stdout.String(), stderr.String()}
	}()
	select {
	case r := <-done:
		return r.code, r.stdout, r.stderr, nil
	case <-ctx.Done():
		return -1, "", "", ctx.Err()
	}
}

// Option configures a Runner.
type Option func(*Runner)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) { r.timeout = d }
}

// WithDir sets the working directory of command targets.
func WithDir(dir string) Option {
	return func(r *Runner) { r.dir = dir }
}

// WithEnv adds KEY=VALUE pairs to the environment of command targets.
func WithEnv(kv ...string) Option {
	return func(r *Runner) { r.env = append(r.env, kv...) }
}

// Runner invokes one hook.
type Runner struct {
	target  Target
	timeout time.Duration
	dir     string
	env     []string
}

// NewRunner creates a runner for target.
func NewRunner(target Target, opts ...Option) *Runner {
	r := &Runner{target: target, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run encodes req and invokes the hook.
func (r *Runner) Run(t testing.TB, req *hook.Request) *Result {
	t.Helper()
	payload, err := hook.EncodeRequest(req)
	if err != nil {
		t.Fatalf("hooktest: %v", err)
	}
	return r.invoke(t, payload)
}

// RunJSON feeds raw to the hook verbatim, for malformed-input tests.
func (r *Runner) RunJSON(t testing.TB, raw string) *Result {
	t.Helper()
	return r.invoke(t, []byte(raw))
}

// RunMap encodes m as the request document.
func (r *Runner) RunMap(t testing.TB, m map[string]any) *Result {
	t.Helper()
	payload, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("hooktest: encode request map: %v", err)
	}
	return r.invoke(t, payload)
}

func (r *Runner) invoke(t testing.TB, payload []byte) *Result {
	t.Helper()
	res, err := r.exec(context.Background(), payload)
	if err != nil {
		t.Fatalf("%v", err)
	}
	return res
}

// Exec runs req outside a test. Failures to start the hook are returned
// rather than failing a test; a timeout is still a Result with exit -1.
func (r *Runner) Exec(ctx context.Context, req *hook.Request) (*Result, error) {
	payload, err := hook.EncodeRequest(req)
	if err != nil {
		return nil, fmt.Errorf("hooktest: %w", err)
	}
	return r.exec(ctx, payload)
}

func (r *Runner) exec(ctx context.Context, payload []byte) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	code, stdout, stderr, err := r.target.invoke(ctx, payload, r.dir, r.env)
	if errors.Is(err, context.DeadlineExceeded) {
		return &Result{ExitCode: -1, Stderr: fmt.Sprintf("hook timed out after %s", r.timeout)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("hooktest: run %s: %w", r.target, err)
	}
	return newResult(code, stdout, stderr), nil
}
