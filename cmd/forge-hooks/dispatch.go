package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/entrhq/forge-hooks/pkg/audit"
	"github.com/entrhq/forge-hooks/pkg/hook"
	"github.com/entrhq/forge-hooks/pkg/hooks/builtin"
)

func newDispatchCmd(a *app) *cobra.Command {
	var (
		event   string
		trace   bool
		noAudit bool
	)
	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Run every hook registered for an event and print the aggregate decision",
		Long: "Reads a hook request from stdin, runs the matching registrations in category order and writes " +
			"the aggregate decision to stdout. The exit code follows the verdict, as for a single hook.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := a.loadPolicy()
			if err != nil {
				return err
			}
			req, err := hook.DecodeRequest(cmd.InOrStdin())
			if err != nil {
				return &exitError{code: hook.ExitFault, err: err}
			}
			ev := hook.Event(event)
			if ev == "" {
				ev = req.SessionContext.Event
			}
			if !ev.Valid() {
				return &exitError{code: hook.ExitFault, err: fmt.Errorf("unknown event %q (set --event)", ev)}
			}

			var recorder audit.Recorder = audit.Nop{}
			if !noAudit {
				r, err := a.openRecorder(p)
				if err != nil {
					return err
				}
				defer r.Close()
				recorder = r
			}

			logger := a.logger("forge-hooks")
			defer logger.Close()
			d, err := builtin.NewDispatcher(p, recorder, logger)
			if err != nil {
				return err
			}

			res, err := d.Dispatch(cmd.Context(), ev, req)
			if err != nil {
				return &exitError{code: hook.ExitFault, err: err}
			}
			if trace {
				enc := json.NewEncoder(cmd.ErrOrStderr())
				enc.SetIndent("", "  ")
				if err := enc.Encode(res.Traces); err != nil {
					return err
				}
			}
			if err := hook.EncodeDecision(cmd.OutOrStdout(), res.Decision); err != nil {
				return &exitError{code: hook.ExitFault, err: err}
			}
			return withExitCode(hook.ExitCode(res.Decision.Verdict))
		},
	}
	cmd.Flags().StringVarP(&event, "event", "e", "", "Hook event (default: the request's sessionContext.event)")
	cmd.Flags().BoolVar(&trace, "trace", false, "Write the per-hook trace to stderr")
	cmd.Flags().BoolVar(&noAudit, "no-audit", false, "Do not record the dispatch in the audit database")
	return cmd
}
