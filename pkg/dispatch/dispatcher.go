// Package dispatch runs the hooks registered for an event and folds their
// decisions into one: first deny wins, warns accumulate, faults deny.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/entrhq/forge-hooks/pkg/audit"
	"github.com/entrhq/forge-hooks/pkg/hook"
	"github.com/entrhq/forge-hooks/pkg/logging"
)

// TraceKind distinguishes a hook that answered from one that faulted.
type TraceKind string

const (
	TraceVerdict TraceKind = "verdict"
	TraceFault   TraceKind = "fault"
)

// Trace records one invoked hook.
type Trace struct {
	Hook     string        `json:"hook"`
	Category Category      `json:"category"`
	Kind     TraceKind     `json:"kind"`
	Verdict  hook.Verdict  `json:"verdict"`
	Reason   string        `json:"reason,omitempty"`
	Fault    string        `json:"fault,omitempty"`
	Stderr   string        `json:"stderr,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Result is the outcome of a dispatch.
type Result struct {
	ID        string         `json:"id"`
	Event     hook.Event     `json:"event"`
	ToolName  string         `json:"toolName"`
	Decision  *hook.Decision `json:"decision"`
	Traces    []Trace        `json:"traces"`
	ToolInput map[string]any `json:"toolInput"`
}

// Faulted reports whether any hook faulted.
func (r *Result) Faulted() bool {
	for _, t := range r.Traces {
		if t.Kind == TraceFault {
			return true
		}
	}
	return false
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRecorder sets the audit recorder.
func WithRecorder(r audit.Recorder) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

// WithLogger sets the logger used for warns and faults.
func WithLogger(l *logging.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// Dispatcher resolves hooks from its table and runs them sequentially.
type Dispatcher struct {
	table    atomic.Pointer[Table]
	exec     Executor
	recorder audit.Recorder
	logger   *logging.Logger
}

// New creates a dispatcher.
func New(table *Table, exec Executor, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		exec:     exec,
		recorder: audit.Nop{},
		logger:   logging.Discard(),
	}
	d.table.Store(table)
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Table returns the current registration table.
func (d *Dispatcher) Table() *Table { return d.table.Load() }

// SetTable swaps the registration table. Dispatches already running keep
// the table they started with.
func (d *Dispatcher) SetTable(t *Table) { d.table.Store(t) }

// Dispatch runs every hook registered for event that matches the request's
// tool, in order, and returns the aggregate decision.
//
// Each hook sees the tool input as modified by the hooks before it. The first
// deny ends the dispatch. A fault is treated as a deny. If ctx is cancelled
// the dispatch stops, returns a deny and reports ctx's error.
func (d *Dispatcher) Dispatch(ctx context.Context, event hook.Event, req *hook.Request) (*Result, error) {
	if !event.Valid() {
		return nil, fmt.Errorf("dispatch: unknown event %q", event)
	}
	if req == nil {
		return nil, errors.New("dispatch: nil request")
	}

	current := req.Clone()
	if current.SessionContext.Event == "" {
		current.SessionContext.Event = event
	}
	res := &Result{
		ID:       uuid.NewString(),
		Event:    event,
		ToolName: req.ToolName,
	}

	var (
		warns    []string
		modified bool
		final    *hook.Decision
		ctxErr   error
	)

	for _, reg := range d.Table().Resolve(event, req.ToolName) {
		if err := ctx.Err(); err != nil {
			ctxErr = err
			final = hook.Deny("dispatch cancelled: %v", err)
			break
		}

		out := d.exec.Execute(ctx, reg, current)
		if out.Fault == nil && out.Decision == nil {
			out.Fault = &hook.ProtocolError{Op: "execute", Msg: "executor returned neither decision nor fault"}
		}
		tr := Trace{
			Hook:     reg.ID(),
			Category: reg.Category,
			Duration: out.Duration,
			Stderr:   out.Stderr,
		}

		if out.Fault != nil {
			tr.Kind = TraceFault
			tr.Verdict = hook.VerdictDeny
			tr.Fault = out.Fault.Error()
			res.Traces = append(res.Traces, tr)
			if err := ctx.Err(); err != nil {
				ctxErr = err
				final = hook.Deny("dispatch cancelled: %v", err)
				break
			}
			d.logger.Errorf("hook %s fault on %s/%s: %v", reg.ID(), event, req.ToolName, out.Fault)
			final = hook.Deny("hook %s fault: %v", reg.ID(), out.Fault)
			break
		}

		dec := out.Decision
		tr.Kind = TraceVerdict
		tr.Verdict = dec.Verdict
		tr.Reason = dec.Reason
		res.Traces = append(res.Traces, tr)

		if dec.ModifiedInput != nil {
			current.ToolInput = hook.CloneInput(dec.ModifiedInput)
			modified = true
		}

		if dec.Verdict == hook.VerdictDeny {
			d.logger.Infof("hook %s denied %s/%s: %s", reg.ID(), event, req.ToolName, dec.Reason)
			final = &hook.Decision{Verdict: hook.VerdictDeny, Reason: dec.Reason}
			break
		}
		if dec.Verdict == hook.VerdictWarn {
			d.logger.Warnf("hook %s warned on %s/%s: %s", reg.ID(), event, req.ToolName, dec.Reason)
			warns = append(warns, dec.Reason)
		}
	}

	if final == nil {
		switch {
		case len(warns) > 0:
			final = &hook.Decision{Verdict: hook.VerdictWarn, Reason: strings.Join(warns, "\n")}
		default:
			final = hook.Allow()
		}
		if modified {
			final.ModifiedInput = hook.CloneInput(current.ToolInput)
		}
	}

	res.Decision = final
	res.ToolInput = current.ToolInput
	d.record(ctx, res, current.SessionContext.SessionID)
	return res, ctxErr
}

func (d *Dispatcher) record(ctx context.Context, res *Result, sessionID string) {
	e := audit.Entry{
		DispatchID: res.ID,
		Time:       time.Now(),
		Event:      string(res.Event),
		ToolName:   res.ToolName,
		SessionID:  sessionID,
		Verdict:    string(res.Decision.Verdict),
		Reason:     res.Decision.Reason,
	}
	for _, t := range res.Traces {
		e.Hooks = append(e.Hooks, audit.HookRecord{
			Hook:       t.Hook,
			Category:   string(t.Category),
			Kind:       string(t.Kind),
			Verdict:    string(t.Verdict),
			Reason:     t.Reason,
			Fault:      t.Fault,
			DurationMS: t.Duration.Milliseconds(),
		})
	}
	// A cancelled dispatch is still recorded.
	if err := d.recorder.Record(context.WithoutCancel(ctx), e); err != nil {
		d.logger.Warnf("audit record for dispatch %s failed: %v", res.ID, err)
	}
}
