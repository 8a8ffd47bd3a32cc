package verify

import (
	"fmt"
	"strings"

	"github.com/entrhq/forge-hooks/pkg/ui"
)

// Render formats the results for a terminal. verbose lists passing checks
// as well as failing ones.
func (r *Results) Render(verbose bool) string {
	var b strings.Builder
	for _, l := range r.Layers {
		passed := 0
		for _, c := range l.Checks {
			if c.Passed {
				passed++
			}
		}
		title := l.Name
		if !l.Required {
			title += " (optional)"
		}
		fmt.Fprintf(&b, "%s %s %s\n", ui.Status(l.Passed), ui.HeaderStyle.Render(title),
			ui.MutedStyle.Render(fmt.Sprintf("%d/%d checks", passed, len(l.Checks))))
		for _, c := range l.Checks {
			if c.Passed && !verbose {
				continue
			}
			fmt.Fprintf(&b, "  %s %s\n", ui.Mark(c.Passed), c.Name)
			if c.Detail != "" {
				fmt.Fprintf(&b, "    %s\n", ui.MutedStyle.Render(c.Detail))
			}
		}
	}
	summary := "all layers passed"
	if !r.AllPassed {
		summary = fmt.Sprintf("%d required layer(s) failed", len(r.GetFailedLayers()))
	}
	b.WriteString(ui.BoxStyle.Render(ui.Status(r.AllPassed) + " " + summary))
	b.WriteByte('\n')
	return b.String()
}
