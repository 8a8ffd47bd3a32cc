package memory

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"
)

var headingRe = regexp.MustCompile(`^#{1,6}\s+\S`)

// lowValueSectionRe matches section titles whose body is pruned before
// anything else.
var lowValueSectionRe = regexp.MustCompile(`(?i)\b(history|archive|archived|old|changelog|log)\b`)

// PruneResult describes one pruning pass.
type PruneResult struct {
	Content      string
	Pruned       bool
	LinesBefore  int
	LinesAfter   int
	LinesRemoved int
	Marker       *PruneMarker
}

// Pruner enforces per-type line ceilings.
type Pruner struct {
	ceilings Ceilings
}

// NewPruner creates a pruner for the given ceilings.
func NewPruner(ceilings Ceilings) *Pruner {
	return &Pruner{ceilings: ceilings}
}

// Ceiling returns the line ceiling for typ.
func (p *Pruner) Ceiling(typ EntryType) int {
	return p.ceilings.For(typ)
}

type prunable struct {
	index    int
	priority int
}

// Prune trims content to the ceiling for typ.
//
// Content already within the ceiling is returned unchanged with no marker.
// Otherwise the header, existing prune markers and section headings are kept,
// body lines are dropped oldest first (low-value sections before the rest),
// and one marker is inserted after the header. If the kept lines alone exceed
// the ceiling a *LimitExceededError is returned.
func (p *Pruner) Prune(content string, typ EntryType, now time.Time) (PruneResult, error) {
	ceiling := p.ceilings.For(typ)
	lines := splitLines(content)
	res := PruneResult{Content: content, LinesBefore: len(lines), LinesAfter: len(lines)}
	if len(lines) <= ceiling {
		return res, nil
	}

	headerEnd := HeaderLines
	if headerEnd > len(lines) {
		headerEnd = len(lines)
	}

	// The last heading inside the header defines the section the body opens in.
	priority := 1
	for i := 0; i < headerEnd; i++ {
		if headingRe.MatchString(lines[i]) {
			priority = sectionPriority(lines[i])
		}
	}

	var candidates []prunable
	keep := headerEnd + 1 // header plus the new marker
	for i := headerEnd; i < len(lines); i++ {
		line := lines[i]
		switch {
		case isMarkerLine(line):
			keep++
		case headingRe.MatchString(line):
			keep++
			priority = sectionPriority(line)
		default:
			candidates = append(candidates, prunable{index: i, priority: priority})
		}
	}

	if keep > ceiling {
		return res, &LimitExceededError{Type: typ, Ceiling: ceiling, MinLines: keep}
	}

	need := len(lines) + 1 - ceiling
	sort.SliceStable(candidates, func(a, b int) bool {
		if candidates[a].priority != candidates[b].priority {
			return candidates[a].priority < candidates[b].priority
		}
		return candidates[a].index < candidates[b].index
	})
	drop := make(map[int]bool, need)
	for _, c := range candidates[:need] {
		drop[c.index] = true
	}

	marker := PruneMarker{
		Timestamp:    now,
		LinesRemoved: need,
		Reason:       fmt.Sprintf("%s exceeded %d-line ceiling", typ, ceiling),
	}

	out := make([]string, 0, ceiling)
	out = append(out, lines[:headerEnd]...)
	i := headerEnd
	for ; i < len(lines) && isMarkerLine(lines[i]); i++ {
		out = append(out, lines[i])
	}
	out = append(out, MarkerLine(marker))
	for ; i < len(lines); i++ {
		if !drop[i] {
			out = append(out, lines[i])
		}
	}

	res.Content = joinLines(out)
	res.Pruned = true
	res.LinesAfter = len(out)
	res.LinesRemoved = need
	res.Marker = &marker
	return res, nil
}

// sectionPriority ranks a section heading: 0 for history-like sections that
// are pruned first, 1 otherwise.
func sectionPriority(heading string) int {
	if lowValueSectionRe.MatchString(heading) {
		return 0
	}
	return 1
}

// PruneFile prunes a memory file in place. Operational files are skipped.
func (p *Pruner) PruneFile(path string, now time.Time) (PruneResult, error) {
	if IsOperationalFile(path) {
		return PruneResult{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return PruneResult{}, fmt.Errorf("memory: read %s: %w", path, err)
	}
	res, err := p.Prune(string(data), TypeOf(path), now)
	if err != nil || !res.Pruned {
		return res, err
	}
	if err := WriteFileAtomic(path, []byte(res.Content)); err != nil {
		return res, err
	}
	return res, nil
}

// Exceeds reports whether content is over the ceiling for typ, and the
// ceiling.
func (p *Pruner) Exceeds(content string, typ EntryType) (bool, int) {
	ceiling := p.ceilings.For(typ)
	return CountLines(content) > ceiling, ceiling
}

// IsOperationalFile reports whether name is one of the memory system's own
// bookkeeping files, which freshness, quality and pruning checks skip.
func IsOperationalFile(name string) bool {
	base := strings.ToLower(baseName(name))
	switch base {
	case "index.md", "lifecycle.md", "quality_guidance.md", "readme.md", "sync_log.md", ".gitkeep":
		return true
	}
	return false
}

// IsMemoryPath reports whether path is a markdown file under a memory/
// directory.
func IsMemoryPath(path string) bool {
	p := strings.ReplaceAll(path, "\\", "/")
	if !strings.HasSuffix(strings.ToLower(p), ".md") {
		return false
	}
	return strings.HasPrefix(p, "memory/") || strings.Contains(p, "/memory/")
}

func baseName(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}
