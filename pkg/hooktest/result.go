package hooktest

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/entrhq/forge-hooks/pkg/hook"
)

// Result is one hook invocation.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string

	// Decision is the decoded stdout, nil when stdout is not a valid
	// decision document.
	Decision *hook.Decision

	// DecodeErr explains a nil Decision.
	DecodeErr error
}

func newResult(code int, stdout, stderr string) *Result {
	r := &Result{ExitCode: code, Stdout: stdout, Stderr: stderr}
	if len(bytes.TrimSpace([]byte(stdout))) == 0 {
		return r
	}
	r.Decision, r.DecodeErr = hook.DecodeDecision([]byte(stdout))
	return r
}

// Conforms reports whether the invocation honoured the contract: a valid
// decision whose verdict agrees with the exit code.
func (r *Result) Conforms() error {
	if r.Decision == nil {
		if r.DecodeErr != nil {
			return r.DecodeErr
		}
		return fmt.Errorf("no decision on stdout (exit %d, stderr %q)", r.ExitCode, r.Stderr)
	}
	return hook.Reconcile(r.Decision, r.ExitCode)
}

func (r *Result) verdict() hook.Verdict {
	if r.Conforms() != nil {
		return ""
	}
	return r.Decision.Verdict
}

// IsAllow reports a conforming allow.
func (r *Result) IsAllow() bool { return r.verdict() == hook.VerdictAllow }

// IsDeny reports a conforming deny.
func (r *Result) IsDeny() bool { return r.verdict() == hook.VerdictDeny }

// IsWarn reports a conforming warn.
func (r *Result) IsWarn() bool { return r.verdict() == hook.VerdictWarn }

// HasWarning is IsWarn with a non-empty reason.
func (r *Result) HasWarning() bool { return r.IsWarn() && r.Decision.Reason != "" }

// DenyReason is the reason of a deny, or "".
func (r *Result) DenyReason() string {
	if !r.IsDeny() {
		return ""
	}
	return r.Decision.Reason
}

// WarnReason is the reason of a warn, or "".
func (r *Result) WarnReason() string {
	if !r.IsWarn() {
		return ""
	}
	return r.Decision.Reason
}

// ModifiedInput is the replacement tool input, if any.
func (r *Result) ModifiedInput() map[string]any {
	if r.Decision == nil {
		return nil
	}
	return r.Decision.ModifiedInput
}

// JSON parses stdout generically, nil when it is not a JSON object.
func (r *Result) JSON() map[string]any {
	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace([]byte(r.Stdout)), &m); err != nil {
		return nil
	}
	return m
}

func (r *Result) String() string {
	status := "FAULT"
	switch {
	case r.IsDeny():
		status = "DENY"
	case r.IsWarn():
		status = "WARN"
	case r.IsAllow():
		status = "ALLOW"
	}
	return fmt.Sprintf("<hook result exit=%d %s>", r.ExitCode, status)
}
