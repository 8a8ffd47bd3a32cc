package shield

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/entrhq/forge-hooks/pkg/hook"
	"github.com/entrhq/forge-hooks/pkg/memory"
)

// PreCommitName is the registry name of the pre-commit quality gate.
const PreCommitName = "pre_commit_quality"

// CommitSecretPatterns match base names of staged files that block a commit.
var CommitSecretPatterns = []string{
	".env",
	".env.*",
	"credentials.json",
	"secrets.json",
	"*.pem",
	"*.key",
	"id_rsa",
	"id_rsa.*",
}

var (
	commitSecretGlobs = mustCompile(CommitSecretPatterns)
	versionHistoryRe  = regexp.MustCompile(`(?mi)^#{1,6}\s+version history\s*$`)
)

// PreCommit inspects the staged files of a git commit. Secret files deny
// the commit; generated output, skills without a version history and
// memory files with absolute paths only warn.
type PreCommit struct{}

// NewPreCommit creates the gate.
func NewPreCommit() *PreCommit { return &PreCommit{} }

// Name implements hook.Handler.
func (p *PreCommit) Name() string { return PreCommitName }

// Handle implements hook.Handler.
func (p *PreCommit) Handle(ctx context.Context, req *hook.Request) (*hook.Decision, error) {
	if req.ToolName != "Bash" || !isCommit(req.Command()) {
		return hook.Allow(), nil
	}
	cwd := req.Cwd()
	out, err := execGit(ctx, cwd, "diff", "--cached", "--name-only", "--diff-filter=ACMR")
	if err != nil {
		// not a repository, or nothing git can tell us
		return hook.Allow(), nil
	}
	staged := strings.Fields(out)

	var secrets []string
	for _, name := range staged {
		if isCommitSecret(name) {
			secrets = append(secrets, name)
		}
	}
	if len(secrets) > 0 {
		return hook.Deny("Pre-commit BLOCKED: staged files look like secrets: %s; unstage them with `git reset HEAD <file>`",
			strings.Join(secrets, ", ")), nil
	}

	var warnings []string
	for _, name := range staged {
		switch {
		case strings.HasPrefix(name, "claudedocs/") || strings.Contains(name, "/claudedocs/"):
			warnings = append(warnings, fmt.Sprintf("%s is generated claudedocs output; it usually should not be committed", name))
		case path.Base(name) == "SKILL.md":
			if content, err := execGit(ctx, cwd, "show", ":"+name); err == nil && !versionHistoryRe.MatchString(content) {
				warnings = append(warnings, fmt.Sprintf("%s has no ## Version History section", name))
			}
		case memory.IsMemoryPath(name):
			content, err := execGit(ctx, cwd, "show", ":"+name)
			if err != nil {
				continue
			}
			if paths := memory.AbsoluteUserPaths(content); len(paths) > 0 {
				warnings = append(warnings, fmt.Sprintf("%s contains absolute user paths (%s); use project-relative paths",
					name, strings.Join(paths, ", ")))
			}
		}
	}
	if len(warnings) == 0 {
		return hook.Allow(), nil
	}
	return hook.Warn("pre-commit quality:\n- %s", strings.Join(warnings, "\n- ")), nil
}

func isCommit(command string) bool {
	for _, seg := range segments(command) {
		words := program(seg)
		if len(words) == 0 || words[0] != "git" {
			continue
		}
		if sub, _ := gitSubcommand(words[1:]); sub == "commit" {
			return true
		}
	}
	return false
}

func isCommitSecret(name string) bool {
	base := strings.ToLower(path.Base(name))
	for _, g := range commitSecretGlobs {
		if g.Match(base) {
			return true
		}
	}
	return false
}
