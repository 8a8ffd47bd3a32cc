package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/entrhq/forge-hooks/pkg/hook"
	"github.com/entrhq/forge-hooks/pkg/hooks/builtin"
)

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run <hook>",
		Short: "Run one built-in hook as a contract-conforming process",
		Long: "Reads a hook request from stdin, runs the named built-in hook and writes its decision to stdout. " +
			"The exit code is 0 for allow, 1 for deny and 2 for warn; a fault exits 3 with nothing on stdout.\n\n" +
			"Built-in hooks: " + strings.Join(builtin.Names(), ", "),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.loadPolicy()
			if err != nil {
				return err
			}
			h, err := builtin.Lookup(p, args[0])
			if err != nil {
				return fmt.Errorf("%w (see forge-hooks run --help)", err)
			}
			code := hook.Run(cmd.Context(), h, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
			return withExitCode(code)
		},
	}
}
