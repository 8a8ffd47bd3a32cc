package memory

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	vaguePhraseRe  = regexp.MustCompile(`(?i)\b(custom|some|various|interesting)\b`)
	absolutePathRe = regexp.MustCompile(`(/home/[^\s/]+|/Users/[^\s/]+)`)
	commentLineRe  = regexp.MustCompile(`^<!--.*-->$`)
)

var placeholders = map[string]bool{
	"todo":        true,
	"tbd":         true,
	"...":         true,
	"…":           true,
	"lorem ipsum": true,
	"placeholder": true,
	"n/a":         true,
}

// Report is the outcome of a quality check. Reasons block the write;
// Warnings are advisory.
type Report struct {
	Valid    bool
	Reasons  []string
	Warnings []string
}

// QualityGate validates the structure of a candidate memory write. It never
// modifies content.
type QualityGate struct {
	required map[EntryType][]string
	ceilings Ceilings
}

// NewQualityGate creates a gate. required maps an entry type to section
// titles that must be present and non-empty.
func NewQualityGate(required map[EntryType][]string, ceilings Ceilings) *QualityGate {
	return &QualityGate{required: required, ceilings: ceilings}
}

type section struct {
	title string
	body  []string
}

// Validate checks content intended for an entry of type typ.
func (g *QualityGate) Validate(typ EntryType, content string) Report {
	r := Report{Valid: true}
	fail := func(format string, args ...any) {
		r.Valid = false
		r.Reasons = append(r.Reasons, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(content) == "" {
		fail("content is empty")
		return r
	}

	body, frontMatter, hasFrontMatter := splitFrontMatter(content)
	if hasFrontMatter {
		var meta any
		if err := yaml.Unmarshal([]byte(frontMatter), &meta); err != nil {
			fail("front-matter is not valid YAML: %v", err)
		} else if _, ok := meta.(map[string]any); !ok && meta != nil {
			fail("front-matter must be a YAML mapping")
		}
	}

	sections, prose := parseSections(body)
	if len(prose) == 0 {
		fail("content has no text beyond headings and markers")
	} else if allPlaceholders(prose) {
		fail("content is placeholder text only")
	}

	if typ == TypeProjectOverview && !hasTitle(sections) {
		fail("%s requires a top-level '# ' title", typ)
	}
	for _, want := range g.required[typ] {
		s, ok := findSection(sections, want)
		if !ok {
			fail("required section %q is missing", want)
			continue
		}
		if len(nonBlank(s.body)) == 0 {
			fail("required section %q is empty", want)
		}
	}

	if over, ceiling := CountLines(content) > g.ceilings.For(typ), g.ceilings.For(typ); over {
		r.Warnings = append(r.Warnings, fmt.Sprintf("%d lines exceeds the %d-line limit for %s; it will be pruned",
			CountLines(content), ceiling, typ))
	}
	if phrases := uniqueMatches(vaguePhraseRe, prose); len(phrases) > 0 {
		r.Warnings = append(r.Warnings, fmt.Sprintf("vague phrasing (%s); prefer concrete names and values", strings.Join(phrases, ", ")))
	}
	if paths := uniqueMatches(absolutePathRe, prose); len(paths) > 0 {
		r.Warnings = append(r.Warnings, fmt.Sprintf("absolute user paths (%s); use project-relative paths", strings.Join(paths, ", ")))
	}
	return r
}

// splitFrontMatter separates a leading YAML front-matter block. The
// timestamp comment may precede it.
func splitFrontMatter(content string) (body, frontMatter string, ok bool) {
	lines := splitLines(content)
	start := 0
	for start < len(lines) && commentLineRe.MatchString(strings.TrimSpace(lines[start])) {
		start++
	}
	if start >= len(lines) || strings.TrimSpace(lines[start]) != "---" {
		return content, "", false
	}
	for end := start + 1; end < len(lines); end++ {
		if strings.TrimSpace(lines[end]) == "---" {
			fm := strings.Join(lines[start+1:end], "\n")
			rest := append(append([]string{}, lines[:start]...), lines[end+1:]...)
			return joinLines(rest), fm, true
		}
	}
	return content, "", false
}

// parseSections groups body lines under their headings and returns the prose
// lines (not headings, comments or blanks).
func parseSections(content string) ([]section, []string) {
	var sections []section
	var prose []string
	current := -1
	for _, line := range splitLines(content) {
		trimmed := strings.TrimSpace(line)
		if headingRe.MatchString(trimmed) {
			sections = append(sections, section{title: trimmed})
			current = len(sections) - 1
			continue
		}
		if trimmed == "" || commentLineRe.MatchString(trimmed) || boldTimestampRe.MatchString(trimmed) {
			continue
		}
		prose = append(prose, trimmed)
		if current >= 0 {
			sections[current].body = append(sections[current].body, trimmed)
		}
	}
	return sections, prose
}

// Section is a heading of a memory file with its non-blank body lines.
// Title is the heading text without the leading #s.
type Section struct {
	Title string
	Body  []string
}

// Sections returns the headed sections of content in order.
func Sections(content string) []Section {
	parsed, _ := parseSections(content)
	out := make([]Section, 0, len(parsed))
	for _, s := range parsed {
		out = append(out, Section{Title: strings.TrimSpace(strings.TrimLeft(s.title, "#")), Body: s.body})
	}
	return out
}

// AbsoluteUserPaths returns the distinct home-directory paths in the prose
// of content.
func AbsoluteUserPaths(content string) []string {
	_, prose := parseSections(content)
	return uniqueMatches(absolutePathRe, prose)
}

func hasTitle(sections []section) bool {
	for _, s := range sections {
		if strings.HasPrefix(s.title, "# ") {
			return true
		}
	}
	return false
}

func findSection(sections []section, want string) (section, bool) {
	want = strings.ToLower(strings.TrimSpace(want))
	for _, s := range sections {
		title := strings.ToLower(strings.TrimSpace(strings.TrimLeft(s.title, "#")))
		if title == want {
			return s, true
		}
	}
	return section{}, false
}

func nonBlank(lines []string) []string {
	var out []string
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return out
}

func allPlaceholders(prose []string) bool {
	for _, line := range prose {
		l := strings.ToLower(strings.TrimSpace(strings.TrimLeft(line, "-*> ")))
		if placeholders[l] || placeholders[strings.TrimRight(l, ".:")] {
			continue
		}
		return false
	}
	return true
}

func uniqueMatches(re *regexp.Regexp, lines []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, line := range lines {
		for _, m := range re.FindAllString(line, -1) {
			key := strings.ToLower(m)
			if !seen[key] {
				seen[key] = true
				out = append(out, m)
			}
		}
	}
	return out
}
