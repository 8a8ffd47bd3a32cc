package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/entrhq/forge-hooks/pkg/hooks/builtin"
	"github.com/entrhq/forge-hooks/pkg/verify"
)

func newVerifyCmd(a *app) *cobra.Command {
	var (
		layer1, layer2, all bool
		verbose, asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Run the layer tests against the policy and memory tree",
		Long: "Layer 1 checks the policy and the memory tree statically. Layer 2 runs every built-in hook " +
			"against its fixtures and simulates the memory lifecycle in a scratch directory. " +
			"Exits 0 only when every selected layer passes.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := a.loadPolicy()
			if err != nil {
				return err
			}
			if !layer1 && !layer2 {
				all = true
			}

			var layers []verify.Layer
			if layer1 || all {
				layers = append(layers, verify.NewStaticLayer(p, a.projectDir, builtin.Names()))
			}
			if layer2 || all {
				layers = append(layers, verify.NewBehaviourLayer(p))
			}
			results := verify.NewRunner(layers...).RunAll(cmd.Context())

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(results); err != nil {
					return err
				}
			} else {
				fmt.Fprint(out, results.Render(verbose))
			}
			if !results.AllPassed {
				return withExitCode(1)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&layer1, "layer1", false, "Run the static layer")
	cmd.Flags().BoolVar(&layer2, "layer2", false, "Run the behavioural layer")
	cmd.Flags().BoolVar(&all, "all", false, "Run every layer (the default)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "List passing checks too")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print results as JSON")
	return cmd
}
