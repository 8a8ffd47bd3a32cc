package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/entrhq/forge-hooks/pkg/hook"
)

// Outcome is the result of running one hook: a decision, or a fault.
type Outcome struct {
	Decision *hook.Decision
	Fault    error
	ExitCode int
	Duration time.Duration
	Stderr   string
}

// Executor runs a single registered hook.
type Executor interface {
	Execute(ctx context.Context, reg Registration, req *hook.Request) Outcome
}

// SubprocessExecutor runs command hooks through sh -c, speaking the JSON
// protocol over stdin and stdout.
type SubprocessExecutor struct {
	// Env is appended to the parent environment.
	Env []string

	// WaitDelay bounds how long Execute waits for output pipes after the
	// process is killed.
	WaitDelay time.Duration
}

// NewSubprocessExecutor returns an executor that adds env to each hook's
// environment.
func NewSubprocessExecutor(env ...string) *SubprocessExecutor {
	return &SubprocessExecutor{Env: env, WaitDelay: time.Second}
}

// Execute implements Executor.
func (e *SubprocessExecutor) Execute(ctx context.Context, reg Registration, req *hook.Request) Outcome {
	start := time.Now()
	payload, err := hook.EncodeRequest(req)
	if err != nil {
		return Outcome{Fault: err, ExitCode: -1}
	}

	execCtx, cancel := context.WithTimeout(ctx, budget(reg))
	defer cancel()

	cmd := exec.CommandContext(execCtx, "sh", "-c", reg.Command)
	if dir := req.SessionContext.Cwd; dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			cmd.Dir = dir
		}
	}
	cmd.Env = append(os.Environ(), e.Env...)
	cmd.Env = append(cmd.Env, "FORGE_HOOK_EVENT="+string(reg.Event), "FORGE_HOOK_NAME="+reg.ID())
	cmd.WaitDelay = e.WaitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	out := Outcome{Duration: time.Since(start), Stderr: stderr.String(), ExitCode: -1}

	if execCtx.Err() != nil {
		if ctx.Err() != nil {
			out.Fault = &ExecError{Hook: reg.ID(), ExitCode: -1, Err: ctx.Err()}
		} else {
			out.Fault = &TimeoutError{Hook: reg.ID(), After: budget(reg)}
		}
		return out
	}

	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
		out.ExitCode = 0
	case errors.As(runErr, &exitErr):
		out.ExitCode = exitErr.ExitCode()
	default:
		out.Fault = &ExecError{Hook: reg.ID(), ExitCode: -1, Err: runErr}
		return out
	}

	if _, ok := hook.VerdictForExit(out.ExitCode); !ok {
		out.Fault = &ExecError{Hook: reg.ID(), ExitCode: out.ExitCode}
		return out
	}
	d, err := hook.DecodeDecision(stdout.Bytes())
	if err != nil {
		out.Fault = err
		return out
	}
	if err := hook.Reconcile(d, out.ExitCode); err != nil {
		out.Fault = err
		return out
	}
	out.Decision = d
	return out
}

func budget(reg Registration) time.Duration {
	if reg.Timeout > 0 {
		return reg.Timeout
	}
	return DefaultTimeout
}

// InProcessExecutor runs registered hook.Handler values by name.
type InProcessExecutor struct {
	mu       sync.RWMutex
	handlers map[string]hook.Handler
}

// NewInProcessExecutor registers handlers under their names.
func NewInProcessExecutor(handlers ...hook.Handler) *InProcessExecutor {
	e := &InProcessExecutor{handlers: make(map[string]hook.Handler, len(handlers))}
	for _, h := range handlers {
		e.Register(h)
	}
	return e
}

// Register adds or replaces a handler.
func (e *InProcessExecutor) Register(h hook.Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[h.Name()] = h
}

// Handler looks up a handler by name.
func (e *InProcessExecutor) Handler(name string) (hook.Handler, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h, ok := e.handlers[name]
	return h, ok
}

type handlerResult struct {
	decision *hook.Decision
	err      error
}

// Execute implements Executor. The handler runs in its own goroutine so a
// timeout is enforced even if the handler ignores ctx.
func (e *InProcessExecutor) Execute(ctx context.Context, reg Registration, req *hook.Request) Outcome {
	start := time.Now()
	h, ok := e.Handler(reg.Name)
	if !ok {
		return Outcome{Fault: &ExecError{Hook: reg.ID(), ExitCode: -1, Err: fmt.Errorf("no built-in hook named %q", reg.Name)}, ExitCode: -1}
	}

	execCtx, cancel := context.WithTimeout(ctx, budget(reg))
	defer cancel()

	done := make(chan handlerResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- handlerResult{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		d, err := h.Handle(execCtx, req.Clone())
		done <- handlerResult{decision: d, err: err}
	}()

	out := Outcome{ExitCode: -1}
	select {
	case r := <-done:
		out.Duration = time.Since(start)
		switch {
		case r.err != nil:
			out.Fault = &ExecError{Hook: reg.ID(), ExitCode: hook.ExitFault, Err: r.err}
			out.ExitCode = hook.ExitFault
		case r.decision == nil:
			out.Fault = &hook.ProtocolError{Op: "decode decision", Msg: "handler returned no decision"}
		default:
			if err := r.decision.Validate(); err != nil {
				out.Fault = err
				return out
			}
			out.Decision = r.decision
			out.ExitCode = hook.ExitCode(r.decision.Verdict)
		}
	case <-execCtx.Done():
		out.Duration = time.Since(start)
		if ctx.Err() != nil {
			out.Fault = &ExecError{Hook: reg.ID(), ExitCode: -1, Err: ctx.Err()}
		} else {
			out.Fault = &TimeoutError{Hook: reg.ID(), After: budget(reg)}
		}
	}
	return out
}

// Router sends named registrations to the in-process executor and command
// registrations to the subprocess executor.
type Router struct {
	InProcess  Executor
	Subprocess Executor
}

// Execute implements Executor.
func (r Router) Execute(ctx context.Context, reg Registration, req *hook.Request) Outcome {
	if reg.InProcess() {
		if r.InProcess == nil {
			return Outcome{Fault: &ExecError{Hook: reg.ID(), ExitCode: -1, Err: errors.New("no in-process executor configured")}, ExitCode: -1}
		}
		return r.InProcess.Execute(ctx, reg, req)
	}
	if r.Subprocess == nil {
		return Outcome{Fault: &ExecError{Hook: reg.ID(), ExitCode: -1, Err: errors.New("no subprocess executor configured")}, ExitCode: -1}
	}
	return r.Subprocess.Execute(ctx, reg, req)
}
