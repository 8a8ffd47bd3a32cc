package hook

import "fmt"

// ProtocolError reports a hook that broke the stdin/stdout contract:
// malformed JSON, an unknown verdict, a schema violation, or an exit code that
// disagrees with the JSON verdict. It is a fault, never a verdict.
type ProtocolError struct {
	Op  string
	Msg string
	Err error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("hook protocol error (%s): %s: %v", e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("hook protocol error (%s): %s", e.Op, e.Msg)
}

// Unwrap returns the underlying error
func (e *ProtocolError) Unwrap() error {
	return e.Err
}
