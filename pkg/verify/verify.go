// Package verify is the layer test runner. Layer 1 checks the hook policy
// and memory tree statically; layer 2 runs the built-in hooks against
// embedded fixtures and simulates the memory lifecycle.
package verify

import (
	"context"
	"fmt"
	"strings"
)

// Check is one assertion inside a layer.
type Check struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

func pass(name string) Check { return Check{Name: name, Passed: true} }

func fail(name, format string, args ...any) Check {
	return Check{Name: name, Detail: fmt.Sprintf(format, args...)}
}

// Layer is a group of checks run together.
type Layer interface {
	// Name returns the name of the layer
	Name() string

	// Required returns true if a failing check fails the whole run
	Required() bool

	// Run executes the layer's checks
	Run(ctx context.Context) []Check
}

// LayerResult is the outcome of one layer.
type LayerResult struct {
	Name     string  `json:"name"`
	Required bool    `json:"required"`
	Passed   bool    `json:"passed"`
	Checks   []Check `json:"checks"`
}

// Failed returns the checks that did not pass.
func (r LayerResult) Failed() []Check {
	var out []Check
	for _, c := range r.Checks {
		if !c.Passed {
			out = append(out, c)
		}
	}
	return out
}

// Results contains results from running every layer.
type Results struct {
	AllPassed bool          `json:"allPassed"`
	Layers    []LayerResult `json:"layers"`
}

// Runner manages execution of multiple layers.
type Runner struct {
	layers []Layer
}

// NewRunner creates a runner for layers, run in the given order.
func NewRunner(layers ...Layer) *Runner {
	return &Runner{layers: layers}
}

// RunAll executes every layer. AllPassed is false when any required layer
// has a failing check; optional layers are reported but never fail the run.
func (r *Runner) RunAll(ctx context.Context) *Results {
	results := &Results{AllPassed: true, Layers: make([]LayerResult, 0, len(r.layers))}
	for _, layer := range r.layers {
		lr := LayerResult{Name: layer.Name(), Required: layer.Required(), Passed: true}
		if err := ctx.Err(); err != nil {
			lr.Checks = []Check{fail("run", "cancelled: %v", err)}
		} else {
			lr.Checks = layer.Run(ctx)
		}
		for _, c := range lr.Checks {
			if !c.Passed {
				lr.Passed = false
				break
			}
		}
		if !lr.Passed && lr.Required {
			results.AllPassed = false
		}
		results.Layers = append(results.Layers, lr)
	}
	return results
}

// GetFailedLayers returns the required layers that failed.
func (r *Results) GetFailedLayers() []LayerResult {
	var failed []LayerResult
	for _, l := range r.Layers {
		if l.Required && !l.Passed {
			failed = append(failed, l)
		}
	}
	return failed
}

// FormatErrorMessage lists every failing check of the failed layers, or
// returns "" when nothing failed.
func (r *Results) FormatErrorMessage() string {
	failed := r.GetFailedLayers()
	if len(failed) == 0 {
		return ""
	}
	var msg strings.Builder
	msg.WriteString("Verification failures:\n\n")
	for _, l := range failed {
		fmt.Fprintf(&msg, "%s\n", l.Name)
		for _, c := range l.Failed() {
			fmt.Fprintf(&msg, "   %s: %s\n", c.Name, c.Detail)
		}
	}
	return msg.String()
}
