package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/entrhq/forge-hooks/pkg/audit"
	"github.com/entrhq/forge-hooks/pkg/hook"
	"github.com/entrhq/forge-hooks/pkg/ui"
)

func newAuditCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the dispatch audit log",
	}
	cmd.AddCommand(newAuditTailCmd(a))
	return cmd
}

func newAuditTailCmd(a *app) *cobra.Command {
	var (
		n          int
		faultsOnly bool
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the most recent dispatches, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if n <= 0 {
				return fmt.Errorf("-n must be positive, got %d", n)
			}
			p, err := a.loadPolicy()
			if err != nil {
				return err
			}
			r, err := a.openRecorder(p)
			if err != nil {
				return err
			}
			defer r.Close()

			entries, err := r.Tail(cmd.Context(), n, faultsOnly)
			if err != nil {
				return err
			}
			if asJSON {
				if entries == nil {
					entries = []audit.Entry{}
				}
				return printJSON(cmd.OutOrStdout(), entries)
			}

			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, ui.MutedStyle.Render("no dispatches recorded"))
				return nil
			}
			for _, e := range entries {
				fmt.Fprintf(out, "%s %s %s/%s %s\n",
					ui.MutedStyle.Render(e.Time.Local().Format(time.DateTime)),
					verdictStyle(e.Verdict), e.Event, e.ToolName,
					ui.MutedStyle.Render(e.Reason))
				for _, h := range e.Hooks {
					detail := h.Reason
					if h.Kind == "fault" {
						detail = ui.FailStyle.Render("fault: ") + h.Fault
					}
					fmt.Fprintf(out, "    %-28s %-5s %4dms %s\n", h.Hook, h.Verdict, h.DurationMS, detail)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&n, "lines", "n", 20, "Number of dispatches to show")
	cmd.Flags().BoolVar(&faultsOnly, "faults", false, "Only show dispatches where a hook faulted")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print entries as JSON")
	return cmd
}

func verdictStyle(v string) string {
	switch hook.Verdict(v) {
	case hook.VerdictAllow:
		return ui.PassStyle.Render(v)
	case hook.VerdictWarn:
		return ui.WarnStyle.Render(v)
	default:
		return ui.FailStyle.Render(v)
	}
}
