package shield

import (
	"bufio"
	"context"
	_ "embed"
	"fmt"
	"regexp"
	"strings"

	"github.com/entrhq/forge-hooks/pkg/hook"
)

// DependencyName is the registry name of the dependency sentinel.
const DependencyName = "dependency_sentinel"

// Ecosystems understood by the sentinel.
const (
	EcosystemPip = "pip"
	EcosystemNpm = "npm"
)

//go:embed deny_list.txt
var defaultDenyList string

// pip options that consume the following word.
var pipValueFlags = map[string]bool{
	"-r": true, "--requirement": true,
	"-c": true, "--constraint": true,
	"-e": true, "--editable": true,
	"-i": true, "--index-url": true,
	"--extra-index-url": true,
	"-f": true, "--find-links": true,
	"-t": true, "--target": true,
	"--prefix": true, "--root": true,
	"--python-version": true, "--platform": true,
}

var (
	pythonRe     = regexp.MustCompile(`^python(\d+(\.\d+)?)?$`)
	pipVersionRe = regexp.MustCompile(`[\[<>=!~;@ ]`)
	pipNormRe    = regexp.MustCompile(`[-_.]+`)
)

// DenyList is a set of package names keyed by ecosystem. The empty
// ecosystem holds entries that apply everywhere.
type DenyList map[string]map[string]bool

// ParseDenyList reads one entry per line; blank lines and # comments are
// ignored.
func ParseDenyList(text string) DenyList {
	dl := DenyList{}
	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		dl.Add(sc.Text())
	}
	return dl
}

// Add inserts one entry such as "colourama" or "npm:kernel".
func (dl DenyList) Add(entry string) {
	entry = strings.TrimSpace(entry)
	if entry == "" || strings.HasPrefix(entry, "#") {
		return
	}
	eco := ""
	if i := strings.Index(entry, ":"); i > 0 {
		if e := strings.ToLower(entry[:i]); e == EcosystemPip || e == EcosystemNpm {
			eco, entry = e, entry[i+1:]
		}
	}
	if dl[eco] == nil {
		dl[eco] = map[string]bool{}
	}
	dl[eco][normalizePackage(eco, entry)] = true
}

// Contains reports whether pkg is denied for the ecosystem.
func (dl DenyList) Contains(eco, pkg string) bool {
	if dl[eco][normalizePackage(eco, pkg)] {
		return true
	}
	// Bare entries are only lowercased; pip names are also tried normalized.
	return dl[""][normalizePackage("", pkg)] || dl[""][normalizePackage(eco, pkg)]
}

// Len returns the number of entries.
func (dl DenyList) Len() int {
	n := 0
	for _, set := range dl {
		n += len(set)
	}
	return n
}

func normalizePackage(eco, name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if eco == EcosystemPip {
		name = pipNormRe.ReplaceAllString(name, "-")
	}
	return name
}

// Install is a package install found in a command.
type Install struct {
	Ecosystem string
	Packages  []string
}

// ParseInstalls finds pip, npm, yarn and pnpm installs in a command line.
func ParseInstalls(command string) []Install {
	var out []Install
	for _, seg := range segments(command) {
		words := program(seg)
		if len(words) < 2 {
			continue
		}
		switch {
		case (words[0] == "pip" || words[0] == "pip3") && words[1] == "install":
			out = appendInstall(out, EcosystemPip, pipPackages(words[2:]))
		case pythonRe.MatchString(words[0]) && len(words) >= 4 && words[1] == "-m" &&
			(words[2] == "pip" || words[2] == "pip3") && words[3] == "install":
			out = appendInstall(out, EcosystemPip, pipPackages(words[4:]))
		case words[0] == "npm" && (words[1] == "install" || words[1] == "i" || words[1] == "add"):
			out = appendInstall(out, EcosystemNpm, npmPackages(words[2:]))
		case (words[0] == "yarn" || words[0] == "pnpm") && (words[1] == "add" || (words[0] == "pnpm" && (words[1] == "install" || words[1] == "i"))):
			out = appendInstall(out, EcosystemNpm, npmPackages(words[2:]))
		}
	}
	return out
}

func appendInstall(out []Install, eco string, pkgs []string) []Install {
	if len(pkgs) == 0 {
		return out
	}
	return append(out, Install{Ecosystem: eco, Packages: pkgs})
}

func pipPackages(args []string) []string {
	var pkgs []string
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case pipValueFlags[a]:
			i++
		case strings.HasPrefix(a, "-"), strings.HasPrefix(a, "."), strings.Contains(a, "/"):
		default:
			if j := pipVersionRe.FindStringIndex(a); j != nil {
				a = a[:j[0]]
			}
			if a != "" {
				pkgs = append(pkgs, a)
			}
		}
	}
	return pkgs
}

func npmPackages(args []string) []string {
	var pkgs []string
	for _, a := range args {
		if strings.HasPrefix(a, "-") || strings.HasPrefix(a, ".") || strings.Contains(a, "://") {
			continue
		}
		// @scope/name@1.2.3 keeps its leading @.
		if i := strings.LastIndex(a, "@"); i > 0 {
			a = a[:i]
		}
		if strings.Contains(a, "/") && !strings.HasPrefix(a, "@") {
			continue
		}
		if a != "" {
			pkgs = append(pkgs, a)
		}
	}
	return pkgs
}

// DependencySentinel blocks installs of typosquatted or malicious packages.
type DependencySentinel struct {
	deny DenyList
}

// NewDependencySentinel loads the embedded deny list and adds extra entries.
func NewDependencySentinel(extra ...string) *DependencySentinel {
	dl := ParseDenyList(defaultDenyList)
	for _, e := range extra {
		dl.Add(e)
	}
	return &DependencySentinel{deny: dl}
}

// DenyList returns the active list.
func (s *DependencySentinel) DenyList() DenyList { return s.deny }

// Name implements hook.Handler.
func (s *DependencySentinel) Name() string { return DependencyName }

// Handle implements hook.Handler.
func (s *DependencySentinel) Handle(_ context.Context, req *hook.Request) (*hook.Decision, error) {
	if req.ToolName != "Bash" {
		return hook.Allow(), nil
	}
	var denied []string
	for _, inst := range ParseInstalls(req.Command()) {
		for _, pkg := range inst.Packages {
			if s.deny.Contains(inst.Ecosystem, pkg) {
				denied = append(denied, fmt.Sprintf("'%s' (%s)", pkg, inst.Ecosystem))
			}
		}
	}
	if len(denied) > 0 {
		return hook.Deny("Dependency Sentinel: %s on the deny list of known typosquats and malicious packages",
			strings.Join(denied, ", ")+pluralIs(len(denied))), nil
	}
	return hook.Allow(), nil
}

func pluralIs(n int) string {
	if n == 1 {
		return " is"
	}
	return " are"
}
