package dispatch

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/forge-hooks/pkg/audit"
	"github.com/entrhq/forge-hooks/pkg/hook"
	"github.com/entrhq/forge-hooks/pkg/logging"
)

type memRecorder struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (m *memRecorder) Record(_ context.Context, e audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memRecorder) last() audit.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[len(m.entries)-1]
}

// fixed returns a handler that always answers d and counts its calls.
func fixed(name string, d *hook.Decision, calls *int) hook.Handler {
	return hook.HandlerFunc{HookName: name, Fn: func(context.Context, *hook.Request) (*hook.Decision, error) {
		if calls != nil {
			*calls++
		}
		return d, nil
	}}
}

func shieldTable(t *testing.T, timeout time.Duration, hooks ...HookSpec) *Table {
	t.Helper()
	tbl, err := NewTable(TableSpec{Hooks: map[hook.Event][]MatcherBlock{
		hook.EventPreToolUse: {{Category: CategoryShield, Matcher: "*", Hooks: hooks}},
	}}, timeout)
	require.NoError(t, err)
	return tbl
}

func bashRequest() *hook.Request {
	return &hook.Request{
		ToolName:       "Bash",
		ToolInput:      map[string]any{"command": "git status"},
		SessionContext: hook.SessionContext{SessionID: "s-1"},
	}
}

// Two hooks, the first allows and the second denies.
func TestDispatchFirstDenyWins(t *testing.T) {
	exec := NewInProcessExecutor(
		fixed("first", hook.Allow(), nil),
		fixed("second", hook.Deny("push to main is blocked"), nil),
	)
	rec := &memRecorder{}
	d := New(shieldTable(t, time.Second, HookSpec{Name: "first"}, HookSpec{Name: "second"}), exec, WithRecorder(rec))

	res, err := d.Dispatch(context.Background(), hook.EventPreToolUse, bashRequest())
	require.NoError(t, err)
	assert.Equal(t, hook.VerdictDeny, res.Decision.Verdict)
	assert.Equal(t, "push to main is blocked", res.Decision.Reason)
	require.Len(t, res.Traces, 2)
	assert.Equal(t, TraceVerdict, res.Traces[1].Kind)
	assert.False(t, res.Faulted())
	assert.NotEmpty(t, res.ID)

	e := rec.last()
	assert.Equal(t, "deny", e.Verdict)
	assert.Equal(t, "s-1", e.SessionID)
	assert.False(t, e.HasFault())
}

// A hook that prints invalid JSON is a fault, recorded differently from a
// hook that denies.
func TestDispatchMalformedJSONFaultsToDeny(t *testing.T) {
	rec := &memRecorder{}
	var logBuf bytes.Buffer
	tbl := shieldTable(t, 5*time.Second, HookSpec{Command: "printf 'this is not json'; exit 1"})
	d := New(tbl, NewSubprocessExecutor(), WithRecorder(rec), WithLogger(logging.NewWithWriter("dispatch", &logBuf)))

	res, err := d.Dispatch(context.Background(), hook.EventPreToolUse, bashRequest())
	require.NoError(t, err)
	assert.Equal(t, hook.VerdictDeny, res.Decision.Verdict)
	assert.Contains(t, res.Decision.Reason, "fault:")
	require.Len(t, res.Traces, 1)
	assert.Equal(t, TraceFault, res.Traces[0].Kind)
	assert.True(t, res.Faulted())

	assert.Contains(t, res.Traces[0].Fault, "malformed JSON")

	faultEntry := rec.last()
	assert.True(t, faultEntry.HasFault())
	assert.Equal(t, "fault", faultEntry.Hooks[0].Kind)
	assert.Contains(t, logBuf.String(), "[ERROR]")

	// A hook-issued deny is recorded as a verdict.
	tbl = shieldTable(t, 5*time.Second, HookSpec{Command: `printf '{"verdict":"deny","reason":"nope"}'; exit 1`})
	d.SetTable(tbl)
	res, err = d.Dispatch(context.Background(), hook.EventPreToolUse, bashRequest())
	require.NoError(t, err)
	assert.Equal(t, hook.VerdictDeny, res.Decision.Verdict)
	assert.Equal(t, "nope", res.Decision.Reason)
	verdictEntry := rec.last()
	assert.False(t, verdictEntry.HasFault())
	assert.Equal(t, "verdict", verdictEntry.Hooks[0].Kind)
}

func TestDispatchFirstDenyShortCircuits(t *testing.T) {
	var after int
	exec := NewInProcessExecutor(
		fixed("deny", hook.Deny("blocked"), nil),
		fixed("after", hook.Allow(), &after),
	)
	d := New(shieldTable(t, time.Second, HookSpec{Name: "deny"}, HookSpec{Name: "after"}), exec)

	res, err := d.Dispatch(context.Background(), hook.EventPreToolUse, bashRequest())
	require.NoError(t, err)
	assert.Equal(t, hook.VerdictDeny, res.Decision.Verdict)
	assert.Equal(t, 0, after)
	assert.Len(t, res.Traces, 1)
}

func TestDispatchAggregatesWarns(t *testing.T) {
	exec := NewInProcessExecutor(
		fixed("w1", hook.Warn("commit message is not conventional"), nil),
		fixed("ok", hook.Allow(), nil),
		fixed("w2", hook.Warn("memory file is aging"), nil),
	)
	d := New(shieldTable(t, time.Second, HookSpec{Name: "w1"}, HookSpec{Name: "ok"}, HookSpec{Name: "w2"}), exec)

	res, err := d.Dispatch(context.Background(), hook.EventPreToolUse, bashRequest())
	require.NoError(t, err)
	assert.Equal(t, hook.VerdictWarn, res.Decision.Verdict)
	assert.Equal(t, "commit message is not conventional\nmemory file is aging", res.Decision.Reason)
	assert.Len(t, res.Traces, 3)
}

func TestDispatchAllowWhenNothingMatches(t *testing.T) {
	d := New(shieldTable(t, time.Second), NewInProcessExecutor())
	res, err := d.Dispatch(context.Background(), hook.EventStop, bashRequest())
	require.NoError(t, err)
	assert.Equal(t, hook.VerdictAllow, res.Decision.Verdict)
	assert.Empty(t, res.Traces)
}

func TestDispatchModifiedInputFlowsForward(t *testing.T) {
	var seen string
	rewrite := hook.HandlerFunc{HookName: "rewrite", Fn: func(_ context.Context, req *hook.Request) (*hook.Decision, error) {
		in := hook.CloneInput(req.ToolInput)
		in["command"] = "git status --short"
		return hook.Allow().WithInput(in), nil
	}}
	observe := hook.HandlerFunc{HookName: "observe", Fn: func(_ context.Context, req *hook.Request) (*hook.Decision, error) {
		seen = req.Command()
		return hook.Allow(), nil
	}}
	d := New(shieldTable(t, time.Second, HookSpec{Name: "rewrite"}, HookSpec{Name: "observe"}), NewInProcessExecutor(rewrite, observe))

	req := bashRequest()
	res, err := d.Dispatch(context.Background(), hook.EventPreToolUse, req)
	require.NoError(t, err)
	assert.Equal(t, "git status --short", seen)
	assert.Equal(t, "git status --short", res.ToolInput["command"])
	assert.Equal(t, "git status --short", res.Decision.ModifiedInput["command"])
	assert.Equal(t, "git status", req.ToolInput["command"], "caller's request untouched")
}

func TestDispatchHandlerMutationIsIsolated(t *testing.T) {
	mutate := hook.HandlerFunc{HookName: "mutate", Fn: func(_ context.Context, req *hook.Request) (*hook.Decision, error) {
		req.ToolInput["command"] = "rm -rf /"
		return hook.Allow(), nil
	}}
	var seen string
	observe := hook.HandlerFunc{HookName: "observe", Fn: func(_ context.Context, req *hook.Request) (*hook.Decision, error) {
		seen = req.Command()
		return hook.Allow(), nil
	}}
	d := New(shieldTable(t, time.Second, HookSpec{Name: "mutate"}, HookSpec{Name: "observe"}), NewInProcessExecutor(mutate, observe))

	_, err := d.Dispatch(context.Background(), hook.EventPreToolUse, bashRequest())
	require.NoError(t, err)
	assert.Equal(t, "git status", seen)
}

func TestDispatchInProcessFaults(t *testing.T) {
	tests := []struct {
		name    string
		handler hook.Handler
		want    string
	}{
		{"error", hook.HandlerFunc{HookName: "h", Fn: func(context.Context, *hook.Request) (*hook.Decision, error) {
			return nil, errors.New("git not installed")
		}}, "git not installed"},
		{"panic", hook.HandlerFunc{HookName: "h", Fn: func(context.Context, *hook.Request) (*hook.Decision, error) {
			panic("boom")
		}}, "panic: boom"},
		{"nil decision", hook.HandlerFunc{HookName: "h", Fn: func(context.Context, *hook.Request) (*hook.Decision, error) {
			return nil, nil
		}}, "no decision"},
		{"deny without reason", hook.HandlerFunc{HookName: "h", Fn: func(context.Context, *hook.Request) (*hook.Decision, error) {
			return &hook.Decision{Verdict: hook.VerdictDeny}, nil
		}}, "requires a reason"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(shieldTable(t, time.Second, HookSpec{Name: "h"}), NewInProcessExecutor(tt.handler))
			res, err := d.Dispatch(context.Background(), hook.EventPreToolUse, bashRequest())
			require.NoError(t, err)
			assert.Equal(t, hook.VerdictDeny, res.Decision.Verdict)
			assert.Contains(t, res.Decision.Reason, "hook h fault:")
			assert.Contains(t, res.Decision.Reason, tt.want)
			assert.Equal(t, TraceFault, res.Traces[0].Kind)
		})
	}
}

func TestDispatchUnknownHandlerFaults(t *testing.T) {
	d := New(shieldTable(t, time.Second, HookSpec{Name: "missing"}), NewInProcessExecutor())
	res, err := d.Dispatch(context.Background(), hook.EventPreToolUse, bashRequest())
	require.NoError(t, err)
	assert.Equal(t, hook.VerdictDeny, res.Decision.Verdict)
	assert.Contains(t, res.Decision.Reason, "no built-in hook")
}

func TestDispatchInProcessTimeout(t *testing.T) {
	slow := hook.HandlerFunc{HookName: "slow", Fn: func(context.Context, *hook.Request) (*hook.Decision, error) {
		time.Sleep(2 * time.Second)
		return hook.Allow(), nil
	}}
	d := New(shieldTable(t, 50*time.Millisecond, HookSpec{Name: "slow"}), NewInProcessExecutor(slow))

	start := time.Now()
	res, err := d.Dispatch(context.Background(), hook.EventPreToolUse, bashRequest())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, hook.VerdictDeny, res.Decision.Verdict)
	assert.Contains(t, res.Decision.Reason, "timed out after 50ms")
}

func TestDispatchSubprocessTimeout(t *testing.T) {
	d := New(shieldTable(t, 100*time.Millisecond, HookSpec{Command: "exec sleep 5"}), NewSubprocessExecutor())

	res, err := d.Dispatch(context.Background(), hook.EventPreToolUse, bashRequest())
	require.NoError(t, err)
	assert.Equal(t, hook.VerdictDeny, res.Decision.Verdict)
	assert.Contains(t, res.Decision.Reason, "timed out")
}

func TestDispatchSubprocessContract(t *testing.T) {
	tests := []struct {
		name    string
		command string
		verdict hook.Verdict
		fault   string
	}{
		{"allow", `cat >/dev/null; printf '{"verdict":"allow"}'`, hook.VerdictAllow, ""},
		{"warn", `printf '{"verdict":"warn","reason":"aging"}'; exit 2`, hook.VerdictWarn, ""},
		{"mismatch", `printf '{"verdict":"allow"}'; exit 1`, hook.VerdictDeny, "disagrees"},
		{"non-contract exit", `exit 7`, hook.VerdictDeny, "non-contract code 7"},
		{"fault exit", `exit 3`, hook.VerdictDeny, "non-contract code 3"},
		{"empty stdout", `exit 0`, hook.VerdictDeny, "hook protocol error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(shieldTable(t, 5*time.Second, HookSpec{Command: tt.command}), NewSubprocessExecutor())
			res, err := d.Dispatch(context.Background(), hook.EventPreToolUse, bashRequest())
			require.NoError(t, err)
			assert.Equal(t, tt.verdict, res.Decision.Verdict)
			if tt.fault != "" {
				require.True(t, res.Faulted())
				assert.Contains(t, res.Traces[0].Fault, tt.fault)
			} else {
				assert.False(t, res.Faulted())
			}
		})
	}
}

func TestDispatchSubprocessReceivesRequest(t *testing.T) {
	// The hook echoes a deny only if it sees the tool name on stdin.
	cmd := `if grep -q '"toolName":"Bash"'; then printf '{"verdict":"deny","reason":"saw Bash"}'; exit 1; fi; printf '{"verdict":"allow"}'`
	d := New(shieldTable(t, 5*time.Second, HookSpec{Command: cmd}), NewSubprocessExecutor())

	res, err := d.Dispatch(context.Background(), hook.EventPreToolUse, bashRequest())
	require.NoError(t, err)
	assert.Equal(t, "saw Bash", res.Decision.Reason)
}

func TestDispatchCancelled(t *testing.T) {
	var calls int
	d := New(shieldTable(t, time.Second, HookSpec{Name: "a"}), NewInProcessExecutor(fixed("a", hook.Allow(), &calls)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := d.Dispatch(ctx, hook.EventPreToolUse, bashRequest())
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, hook.VerdictDeny, res.Decision.Verdict)
	assert.Equal(t, 0, calls)
}

func TestDispatchCancelledMidHook(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	blocking := hook.HandlerFunc{HookName: "block", Fn: func(hctx context.Context, _ *hook.Request) (*hook.Decision, error) {
		cancel()
		<-hctx.Done()
		return nil, hctx.Err()
	}}
	d := New(shieldTable(t, 5*time.Second, HookSpec{Name: "block"}), NewInProcessExecutor(blocking))

	res, err := d.Dispatch(ctx, hook.EventPreToolUse, bashRequest())
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, hook.VerdictDeny, res.Decision.Verdict)
	assert.Contains(t, res.Decision.Reason, "cancelled")
}

func TestDispatchRejectsBadInput(t *testing.T) {
	d := New(shieldTable(t, time.Second), NewInProcessExecutor())
	_, err := d.Dispatch(context.Background(), "Lunch", bashRequest())
	assert.Error(t, err)
	_, err = d.Dispatch(context.Background(), hook.EventPreToolUse, nil)
	assert.Error(t, err)
}

func TestRouter(t *testing.T) {
	r := Router{InProcess: NewInProcessExecutor(fixed("builtin", hook.Warn("from builtin"), nil)), Subprocess: NewSubprocessExecutor()}

	out := r.Execute(context.Background(), Registration{Name: "builtin", Timeout: time.Second}, bashRequest())
	require.NoError(t, out.Fault)
	assert.Equal(t, hook.VerdictWarn, out.Decision.Verdict)
	assert.Equal(t, hook.ExitWarn, out.ExitCode)

	out = r.Execute(context.Background(), Registration{Command: `printf '{"verdict":"allow"}'`, Timeout: 5 * time.Second}, bashRequest())
	require.NoError(t, out.Fault)
	assert.Equal(t, hook.VerdictAllow, out.Decision.Verdict)

	out = Router{}.Execute(context.Background(), Registration{Name: "x"}, bashRequest())
	var execErr *ExecError
	assert.ErrorAs(t, out.Fault, &execErr)
}

func TestErrorsUnwrap(t *testing.T) {
	base := errors.New("exec: \"sh\": not found")
	err := error(&ExecError{Hook: "h", Err: base})
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "hook h timed out after 2s", (&TimeoutError{Hook: "h", After: 2 * time.Second}).Error())
	assert.Equal(t, "hook h exited with non-contract code 9", (&ExecError{Hook: "h", ExitCode: 9}).Error())
}
