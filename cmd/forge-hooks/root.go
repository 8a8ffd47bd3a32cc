package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/entrhq/forge-hooks/pkg/audit"
	"github.com/entrhq/forge-hooks/pkg/config"
	"github.com/entrhq/forge-hooks/pkg/logging"
	"github.com/entrhq/forge-hooks/pkg/memory"
)

// EnvPolicy names the policy file when --policy is not given.
const EnvPolicy = "FORGE_HOOKS_POLICY"

// policyCandidates are tried, in order, under the project directory.
var policyCandidates = []string{
	".forge/hooks.yaml",
	".forge/hooks.yml",
	".forge/hooks.toml",
	".forge/hooks.json",
}

// app carries the persistent flags shared by every command.
type app struct {
	policyPath string
	projectDir string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "forge-hooks",
		Short:         "Hook policy gate and memory lifecycle for coding agents",
		Long:          "forge-hooks evaluates agent tool calls against a hook policy and keeps the project's memory files fresh, timestamped and within their line ceilings.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&a.policyPath, "policy", "p", "", "Policy file (default: $FORGE_HOOKS_POLICY or .forge/hooks.{yaml,toml,json})")
	root.PersistentFlags().StringVarP(&a.projectDir, "dir", "C", ".", "Project directory")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn or error (overrides the policy)")

	root.AddCommand(
		newRunCmd(a),
		newDispatchCmd(a),
		newMemoryCmd(a),
		newVerifyCmd(a),
		newAuditCmd(a),
		newMCPCmd(a),
		newWatchCmd(a),
		newInitCmd(a),
	)
	return root
}

// resolvePolicyPath returns the policy file to load, or "" for the
// built-in defaults.
func (a *app) resolvePolicyPath() string {
	if a.policyPath != "" {
		return a.policyPath
	}
	if env := os.Getenv(EnvPolicy); env != "" {
		return env
	}
	for _, c := range policyCandidates {
		p := filepath.Join(a.projectDir, c)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func (a *app) loadPolicy() (*config.Policy, error) {
	p, err := config.Load(a.resolvePolicyPath())
	if err != nil {
		return nil, err
	}
	if a.logLevel != "" {
		p.LogLevel = a.logLevel
	}
	logging.SetDefaultLevel(p.Level())
	return p, nil
}

// projectPath resolves rel against the project directory.
func (a *app) projectPath(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(a.projectDir, rel)
}

// logger opens the session log file, falling back to stderr.
func (a *app) logger(component string) *logging.Logger {
	l, _ := logging.NewLogger(component)
	return l
}

func (a *app) openStore(p *config.Policy) (*memory.FileStore, error) {
	return memory.NewFileStore(a.projectPath(p.MemoryRoot),
		memory.WithQualityGate(p.QualityGate()),
		memory.WithPruner(p.Pruner()),
		memory.WithClassifier(p.Classifier()),
	)
}

func (a *app) openRecorder(p *config.Policy) (*audit.SQLiteRecorder, error) {
	return audit.NewSQLiteRecorder(a.projectPath(p.AuditDB))
}
