package hook

import (
	"context"
	"fmt"
	"io"
)

// Handler is an in-process hook. Implementations must not mutate req.
type Handler interface {
	Name() string
	Handle(ctx context.Context, req *Request) (*Decision, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc struct {
	HookName string
	Fn       func(ctx context.Context, req *Request) (*Decision, error)
}

// Name returns the hook name.
func (f HandlerFunc) Name() string { return f.HookName }

// Handle calls the wrapped function.
func (f HandlerFunc) Handle(ctx context.Context, req *Request) (*Decision, error) {
	return f.Fn(ctx, req)
}

// Run is the process entrypoint for a hook. It decodes one request from
// stdin, invokes h, writes the decision to stdout, and returns the exit code
// the process should use.
//
// A decode failure, a handler error, a handler panic or an invalid decision
// produce no decision on stdout and return ExitFault, so the caller treats the
// invocation as a fault rather than an allow.
func Run(ctx context.Context, h Handler, stdin io.Reader, stdout, stderr io.Writer) (code int) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(stderr, "hook %s: panic: %v\n", h.Name(), r)
			code = ExitFault
		}
	}()

	req, err := DecodeRequest(stdin)
	if err != nil {
		fmt.Fprintf(stderr, "hook %s: %v\n", h.Name(), err)
		return ExitFault
	}

	decision, err := h.Handle(ctx, req)
	if err != nil {
		fmt.Fprintf(stderr, "hook %s: %v\n", h.Name(), err)
		return ExitFault
	}
	if err := EncodeDecision(stdout, decision); err != nil {
		fmt.Fprintf(stderr, "hook %s: %v\n", h.Name(), err)
		return ExitFault
	}
	return ExitCode(decision.Verdict)
}
