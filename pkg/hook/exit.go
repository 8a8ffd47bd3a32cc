package hook

import "fmt"

// Exit codes. ExitFault is never produced by a well-behaved hook; Run returns
// it when the handler itself failed so callers see a fault, not an allow.
const (
	ExitAllow = 0
	ExitDeny  = 1
	ExitWarn  = 2
	ExitFault = 3
)

// ExitCode maps a verdict to the exit code a hook process must use.
func ExitCode(v Verdict) int {
	switch v {
	case VerdictAllow:
		return ExitAllow
	case VerdictDeny:
		return ExitDeny
	case VerdictWarn:
		return ExitWarn
	default:
		return ExitFault
	}
}

// VerdictForExit maps an exit code back to a verdict. The second result is
// false for codes outside the contract.
func VerdictForExit(code int) (Verdict, bool) {
	switch code {
	case ExitAllow:
		return VerdictAllow, true
	case ExitDeny:
		return VerdictDeny, true
	case ExitWarn:
		return VerdictWarn, true
	default:
		return "", false
	}
}

// Reconcile checks the exit code and the JSON verdict as two independent
// signals. Disagreement is a ProtocolError; neither source wins.
func Reconcile(d *Decision, exitCode int) error {
	exitVerdict, ok := VerdictForExit(exitCode)
	if !ok {
		return &ProtocolError{Op: "reconcile", Msg: fmt.Sprintf("exit code %d is outside the hook contract", exitCode)}
	}
	if d == nil {
		return &ProtocolError{Op: "reconcile", Msg: "no decision on stdout"}
	}
	if d.Verdict != exitVerdict {
		return &ProtocolError{
			Op:  "reconcile",
			Msg: fmt.Sprintf("exit code %d (%s) disagrees with JSON verdict %q", exitCode, exitVerdict, d.Verdict),
		}
	}
	return nil
}
