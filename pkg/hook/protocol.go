// Package hook defines the contract every Forge hook honors: one JSON request
// on stdin, one JSON decision on stdout, and an exit code that mirrors the
// verdict.
package hook

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Verdict is the three-valued outcome of a hook or of a whole dispatch.
type Verdict string

const (
	VerdictAllow Verdict = "allow" // VerdictAllow lets the tool call proceed unchanged.
	VerdictDeny  Verdict = "deny"  // VerdictDeny blocks the tool call.
	VerdictWarn  Verdict = "warn"  // VerdictWarn lets the call proceed and surfaces the reason.
)

// Valid reports whether v is one of the three known verdicts.
func (v Verdict) Valid() bool {
	switch v {
	case VerdictAllow, VerdictDeny, VerdictWarn:
		return true
	default:
		return false
	}
}

// Event names the host lifecycle point a hook is attached to.
type Event string

const (
	EventPreToolUse       Event = "PreToolUse"
	EventPostToolUse      Event = "PostToolUse"
	EventSessionStart     Event = "SessionStart"
	EventUserPromptSubmit Event = "UserPromptSubmit"
	EventStop             Event = "Stop"
	EventPreCompact       Event = "PreCompact"
	EventTaskCompleted    Event = "TaskCompleted"
	EventSubagentStart    Event = "SubagentStart"
	EventSessionEnd       Event = "SessionEnd"
)

// Events lists every event a registration table may use.
var Events = []Event{
	EventPreToolUse,
	EventPostToolUse,
	EventSessionStart,
	EventUserPromptSubmit,
	EventStop,
	EventPreCompact,
	EventTaskCompleted,
	EventSubagentStart,
	EventSessionEnd,
}

// Valid reports whether e is a known event.
func (e Event) Valid() bool {
	for _, known := range Events {
		if e == known {
			return true
		}
	}
	return false
}

// SessionContext is host-supplied pass-through data. Hooks read only the
// fields their category needs; unknown keys are preserved in Extra.
type SessionContext struct {
	SessionID      string
	Cwd            string
	TranscriptPath string
	Event          Event
	StopHookActive bool
	Prompt         string
	Extra          map[string]any
}

var sessionContextKeys = map[string]bool{
	"sessionId":      true,
	"cwd":            true,
	"transcriptPath": true,
	"event":          true,
	"stopHookActive": true,
	"prompt":         true,
}

// MarshalJSON flattens Extra alongside the known keys.
func (s SessionContext) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Extra)+6)
	for k, v := range s.Extra {
		if !sessionContextKeys[k] {
			out[k] = v
		}
	}
	if s.SessionID != "" {
		out["sessionId"] = s.SessionID
	}
	if s.Cwd != "" {
		out["cwd"] = s.Cwd
	}
	if s.TranscriptPath != "" {
		out["transcriptPath"] = s.TranscriptPath
	}
	if s.Event != "" {
		out["event"] = s.Event
	}
	if s.StopHookActive {
		out["stopHookActive"] = true
	}
	if s.Prompt != "" {
		out["prompt"] = s.Prompt
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads the known keys and keeps everything else in Extra.
func (s *SessionContext) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = SessionContext{}
	for k, v := range raw {
		switch k {
		case "sessionId":
			s.SessionID, _ = v.(string)
		case "cwd":
			s.Cwd, _ = v.(string)
		case "transcriptPath":
			s.TranscriptPath, _ = v.(string)
		case "event":
			ev, _ := v.(string)
			s.Event = Event(ev)
		case "stopHookActive":
			s.StopHookActive, _ = v.(bool)
		case "prompt":
			s.Prompt, _ = v.(string)
		default:
			if s.Extra == nil {
				s.Extra = make(map[string]any)
			}
			s.Extra[k] = v
		}
	}
	return nil
}

// Request is what a hook receives on stdin. It is never mutated once
// dispatched; hooks that want a different tool input return it in
// Decision.ModifiedInput.
type Request struct {
	ToolName       string         `json:"toolName"`
	ToolInput      map[string]any `json:"toolInput"`
	SessionContext SessionContext `json:"sessionContext"`
}

// Clone returns a deep copy of the request.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	c := *r
	c.ToolInput = CloneInput(r.ToolInput)
	if r.SessionContext.Extra != nil {
		c.SessionContext.Extra = CloneInput(r.SessionContext.Extra)
	}
	return &c
}

// InputString returns the first non-empty string value among keys in the
// tool input. Hosts disagree on "path" vs "file_path", so callers pass both.
func (r *Request) InputString(keys ...string) string {
	for _, k := range keys {
		if v, ok := r.ToolInput[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// FilePath returns the target file of a file tool call.
func (r *Request) FilePath() string {
	return r.InputString("file_path", "path", "filePath")
}

// Command returns the shell command of a Bash tool call.
func (r *Request) Command() string {
	return strings.TrimSpace(r.InputString("command", "cmd"))
}

// Cwd returns the session working directory, falling back to the process
// working directory.
func (r *Request) Cwd() string {
	if r.SessionContext.Cwd != "" {
		return r.SessionContext.Cwd
	}
	if wd, err := os.Getwd(); err == nil {
		return wd
	}
	return "."
}

// Decision is what a hook writes on stdout.
type Decision struct {
	Verdict       Verdict        `json:"verdict"`
	Reason        string         `json:"reason,omitempty"`
	ModifiedInput map[string]any `json:"modifiedInput,omitempty"`
}

// Allow returns a pass-through decision.
func Allow() *Decision {
	return &Decision{Verdict: VerdictAllow}
}

// Deny returns a blocking decision with a formatted reason.
func Deny(format string, args ...any) *Decision {
	return &Decision{Verdict: VerdictDeny, Reason: fmt.Sprintf(format, args...)}
}

// Warn returns a non-blocking decision with a formatted reason.
func Warn(format string, args ...any) *Decision {
	return &Decision{Verdict: VerdictWarn, Reason: fmt.Sprintf(format, args...)}
}

// WithInput attaches a replacement tool input to the decision.
func (d *Decision) WithInput(input map[string]any) *Decision {
	d.ModifiedInput = input
	return d
}

// Validate checks the decision invariants: a known verdict, and a reason
// whenever the verdict is deny or warn.
func (d *Decision) Validate() error {
	if d == nil {
		return &ProtocolError{Op: "validate decision", Msg: "decision is nil"}
	}
	if !d.Verdict.Valid() {
		return &ProtocolError{Op: "validate decision", Msg: fmt.Sprintf("unknown verdict %q", d.Verdict)}
	}
	if d.Verdict != VerdictAllow && strings.TrimSpace(d.Reason) == "" {
		return &ProtocolError{Op: "validate decision", Msg: fmt.Sprintf("%s verdict requires a reason", d.Verdict)}
	}
	return nil
}

// CloneInput deep-copies a JSON-shaped map.
func CloneInput(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneInput(t)
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = cloneValue(e)
		}
		return s
	default:
		return v
	}
}
