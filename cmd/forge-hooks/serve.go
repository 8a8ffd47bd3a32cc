package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/entrhq/forge-hooks/pkg/config"
	"github.com/entrhq/forge-hooks/pkg/hooks/builtin"
	"github.com/entrhq/forge-hooks/pkg/mcpserver"
	"github.com/entrhq/forge-hooks/pkg/memory"
)

func newMCPCmd(a *app) *cobra.Command {
	var noDispatch bool
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the memory and dispatch tools over MCP (stdio transport)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := a.loadPolicy()
			if err != nil {
				return err
			}
			store, err := a.openStore(p)
			if err != nil {
				return err
			}

			// stdout carries the protocol, so logs go to the session file.
			logger := a.logger("mcp")
			defer logger.Close()

			var s *server.MCPServer
			if noDispatch {
				s = mcpserver.New(store, nil, version)
			} else {
				r, err := a.openRecorder(p)
				if err != nil {
					return err
				}
				defer r.Close()
				d, err := builtin.NewDispatcher(p, r, logger)
				if err != nil {
					return err
				}
				s = mcpserver.New(store, d, version)
			}
			logger.Infof("serving MCP over stdio (memory root %s)", store.Root())
			return server.ServeStdio(s)
		},
	}
	cmd.Flags().BoolVar(&noDispatch, "no-dispatch", false, "Expose only the memory tools")
	return cmd
}

func newWatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Watch the policy file and report each reload",
		Long: "Loads the policy, then reloads it whenever the file changes. A change that fails to load or " +
			"compile is reported and the previous table stays in effect.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := a.resolvePolicyPath()
			if path == "" {
				return errors.New("no policy file to watch (set --policy or run forge-hooks init)")
			}
			loader := config.NewLoader(path)
			p, err := loader.Load()
			if err != nil {
				return err
			}
			d, err := builtin.NewDispatcher(p, nil, nil)
			if err != nil {
				return err
			}

			logger := a.logger("watch")
			defer logger.Close()
			out := cmd.OutOrStdout()

			loader.OnChange(func(p *config.Policy) {
				table, err := p.Table()
				if err != nil {
					logger.Errorf("reload rejected: %v", err)
					fmt.Fprintf(out, "reload rejected: %v\n", err)
					return
				}
				d.SetTable(table)
				logger.Infof("policy reloaded from %s: %d registrations", path, table.Len())
				fmt.Fprintf(out, "reloaded %s: %d registrations\n", path, table.Len())
			})
			if err := loader.Watch(); err != nil {
				return err
			}
			defer loader.Close()

			fmt.Fprintf(out, "watching %s: %d registrations\n", path, d.Table().Len())
			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case err := <-loader.Errors():
					logger.Warnf("%v", err)
					fmt.Fprintf(out, "%v\n", err)
				}
			}
		},
	}
}

func newInitCmd(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default policy and create the memory root",
		Long: "Writes the built-in policy to --policy (default .forge/hooks.yaml) in the format its extension " +
			"names, and creates the memory root with an index.md.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := a.policyPath
			if path == "" {
				path = filepath.Join(a.projectDir, policyCandidates[0])
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			p := config.DefaultPolicy()
			if err := config.Save(p, path); err != nil {
				return err
			}

			root := a.projectPath(p.MemoryRoot)
			if err := os.MkdirAll(filepath.Join(root, "skills"), 0o750); err != nil {
				return fmt.Errorf("create memory root: %w", err)
			}
			index := filepath.Join(root, "index.md")
			if _, err := os.Stat(index); errors.Is(err, os.ErrNotExist) {
				if err := memory.WriteFileAtomic(index, []byte(indexTemplate)); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "wrote %s\n", path)
			fmt.Fprintf(out, "memory root %s\n", root)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing policy file")
	return cmd
}

const indexTemplate = `# Memory Index

Entries live under skills/{skill}/{project}/{file}.md. Each starts with a
Last Updated timestamp; entries older than 90 days are archived.
`
