package shield

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/entrhq/forge-hooks/pkg/hook"
)

// GitName is the registry name of the git hygiene enforcer.
const GitName = "git_hygiene_enforcer"

// ProtectedBranches may not be pushed to directly.
var ProtectedBranches = []string{"main", "master"}

const gitTimeout = 10 * time.Second

var conventionalRe = regexp.MustCompile(`^(feat|fix|docs|style|refactor|perf|test|build|ci|chore|revert)(\([^)]+\))?!?: \S`)

// GitHygiene guards git usage in Bash commands: no direct or forced pushes
// to protected branches, conventional commit messages, and no secrets in
// staged changes.
type GitHygiene struct {
	protected []string
}

// NewGitHygiene creates the enforcer for ProtectedBranches.
func NewGitHygiene() *GitHygiene {
	return &GitHygiene{protected: ProtectedBranches}
}

// Name implements hook.Handler.
func (g *GitHygiene) Name() string { return GitName }

// Handle implements hook.Handler.
func (g *GitHygiene) Handle(ctx context.Context, req *hook.Request) (*hook.Decision, error) {
	if req.ToolName != "Bash" {
		return hook.Allow(), nil
	}

	var warnings []string
	for _, seg := range segments(req.Command()) {
		words := program(seg)
		if len(words) == 0 || words[0] != "git" {
			continue
		}
		sub, args := gitSubcommand(words[1:])
		switch sub {
		case "push":
			if d := g.checkPush(ctx, req.Cwd(), args); d != nil {
				return d, nil
			}
		case "commit":
			if kind := stagedSecret(ctx, req.Cwd()); kind != "" {
				return hook.Deny("git hygiene: staged changes contain a secret (%s); remove it before committing", kind), nil
			}
			if msg, ok := commitMessage(args); ok && !conventionalRe.MatchString(firstLine(msg)) {
				warnings = append(warnings, fmt.Sprintf("git hygiene: commit message %q does not follow conventional commits (type(scope): subject)", firstLine(msg)))
			}
		}
	}
	if len(warnings) > 0 {
		return hook.Warn("%s", strings.Join(warnings, "\n")), nil
	}
	return hook.Allow(), nil
}

func (g *GitHygiene) checkPush(ctx context.Context, cwd string, args []string) *hook.Decision {
	var positional []string
	for _, a := range args {
		switch {
		case a == "--force" || a == "-f" || a == "--force-with-lease" || strings.HasPrefix(a, "--force-with-lease="):
			return hook.Deny("git hygiene: force push ('%s') is not allowed", a)
		case strings.HasPrefix(a, "-"):
			continue
		default:
			positional = append(positional, a)
		}
	}

	var refspecs []string
	if len(positional) > 1 {
		refspecs = positional[1:]
	}
	for _, ref := range refspecs {
		if strings.HasPrefix(ref, "+") {
			return hook.Deny("git hygiene: force push ('%s') is not allowed", ref)
		}
		if branch := destination(ref); g.isProtected(branch) {
			return hook.Deny("git hygiene: direct push to protected branch '%s' is not allowed; push a feature branch and open a pull request", branch)
		}
	}

	// A bare push goes to the upstream of the current branch.
	if len(refspecs) == 0 {
		out, err := execGit(ctx, cwd, "branch", "--show-current")
		if branch := strings.TrimSpace(out); err == nil && g.isProtected(branch) {
			return hook.Deny("git hygiene: direct push to protected branch '%s' is not allowed; push a feature branch and open a pull request", branch)
		}
	}
	return nil
}

func (g *GitHygiene) isProtected(branch string) bool {
	for _, p := range g.protected {
		if branch == p {
			return true
		}
	}
	return false
}

// gitSubcommand skips global options such as -C dir and -c key=value.
func gitSubcommand(words []string) (string, []string) {
	for i := 0; i < len(words); i++ {
		w := words[i]
		switch {
		case w == "-C" || w == "-c" || w == "--git-dir" || w == "--work-tree":
			i++
		case strings.HasPrefix(w, "-"):
		default:
			return w, words[i+1:]
		}
	}
	return "", nil
}

// destination returns the remote branch a refspec writes to.
func destination(ref string) string {
	if i := strings.LastIndex(ref, ":"); i >= 0 {
		ref = ref[i+1:]
	}
	return strings.TrimPrefix(ref, "refs/heads/")
}

// commitMessage extracts the -m / --message argument of git commit.
// Combined short flags such as -am are recognised.
func commitMessage(args []string) (string, bool) {
	for i, a := range args {
		switch {
		case a == "--message" || (strings.HasPrefix(a, "-") && !strings.HasPrefix(a, "--") && strings.HasSuffix(a, "m")):
			if i+1 < len(args) {
				return args[i+1], true
			}
		case strings.HasPrefix(a, "--message="):
			return strings.TrimPrefix(a, "--message="), true
		case strings.HasPrefix(a, "-m") && len(a) > 2:
			return a[2:], true
		}
	}
	return "", false
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// stagedSecret scans the added lines of the staged diff and returns the
// kind of the first secret found. Outside a repository it returns "".
func stagedSecret(ctx context.Context, dir string) string {
	diff, err := execGit(ctx, dir, "diff", "--cached", "--no-color", "-U0")
	if err != nil {
		return ""
	}
	var added strings.Builder
	for _, line := range strings.Split(diff, "\n") {
		if strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++") {
			added.WriteString(line[1:])
			added.WriteByte('\n')
		}
	}
	if kinds := detect(secretDetectors, added.String()); len(kinds) > 0 {
		return kinds[0]
	}
	return ""
}

func execGit(ctx context.Context, dir string, args ...string) (string, error) {
	execCtx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "git", args...)
	cmd.Dir = dir

	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return string(output), nil
}
