// Package audit records every dispatch: the aggregate verdict plus one row
// per hook that ran.
package audit

import (
	"context"
	"strings"
	"time"

	"github.com/entrhq/forge-hooks/pkg/logging"
)

// HookRecord is the audited outcome of one hook.
type HookRecord struct {
	Hook       string `json:"hook"`
	Category   string `json:"category"`
	Kind       string `json:"kind"`
	Verdict    string `json:"verdict"`
	Reason     string `json:"reason,omitempty"`
	Fault      string `json:"fault,omitempty"`
	DurationMS int64  `json:"durationMs"`
}

// Entry is one dispatch.
type Entry struct {
	ID         string       `json:"id"`
	DispatchID string       `json:"dispatchId"`
	Time       time.Time    `json:"time"`
	Event      string       `json:"event"`
	ToolName   string       `json:"toolName"`
	SessionID  string       `json:"sessionId,omitempty"`
	Verdict    string       `json:"verdict"`
	Reason     string       `json:"reason,omitempty"`
	Hooks      []HookRecord `json:"hooks"`
}

// HasFault reports whether any hook in the dispatch faulted.
func (e Entry) HasFault() bool {
	for _, h := range e.Hooks {
		if h.Kind == "fault" {
			return true
		}
	}
	return false
}

// Recorder persists dispatch entries. Implementations must be safe for
// concurrent use.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// Nop discards everything.
type Nop struct{}

// Record implements Recorder.
func (Nop) Record(context.Context, Entry) error { return nil }

// LogRecorder writes each entry as one log line.
type LogRecorder struct {
	Logger *logging.Logger
}

// Record implements Recorder.
func (r LogRecorder) Record(_ context.Context, e Entry) error {
	hooks := make([]string, 0, len(e.Hooks))
	for _, h := range e.Hooks {
		hooks = append(hooks, h.Hook+"="+h.Verdict)
	}
	r.Logger.Infof("dispatch %s event=%s tool=%s verdict=%s hooks=[%s]",
		e.DispatchID, e.Event, e.ToolName, e.Verdict, strings.Join(hooks, " "))
	return nil
}
