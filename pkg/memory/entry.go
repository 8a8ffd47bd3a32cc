// Package memory implements the file-backed knowledge store used by the
// Chronicle hooks: entries keyed by (skill, project, file), their freshness
// lifecycle, size ceilings with auditable pruning, and a structural quality
// gate applied before every write.
package memory

import (
	"path/filepath"
	"strings"
	"time"
)

// EntryType is derived from the file stem: project_overview.md has type
// "project_overview". Each type maps to a line ceiling.
type EntryType string

const (
	TypeProjectOverview EntryType = "project_overview"
	TypeReviewHistory   EntryType = "review_history"
)

// Default line ceilings.
const (
	DefaultCeiling         = 500
	ProjectOverviewCeiling = 200
	ReviewHistoryCeiling   = 300
)

// HeaderLines is the number of leading lines pruning never touches.
const HeaderLines = 5

// TypeOf returns the entry type for a memory file name.
func TypeOf(fileName string) EntryType {
	base := filepath.Base(fileName)
	return EntryType(strings.TrimSuffix(base, filepath.Ext(base)))
}

// Ceilings maps entry types to maximum line counts.
type Ceilings struct {
	Default int               `json:"default" yaml:"default" toml:"default"`
	ByType  map[EntryType]int `json:"byType,omitempty" yaml:"byType,omitempty" toml:"byType,omitempty"`
}

// DefaultCeilings returns 200 for project_overview, 300 for review_history and
// 500 for everything else.
func DefaultCeilings() Ceilings {
	return Ceilings{
		Default: DefaultCeiling,
		ByType: map[EntryType]int{
			TypeProjectOverview: ProjectOverviewCeiling,
			TypeReviewHistory:   ReviewHistoryCeiling,
		},
	}
}

// For returns the ceiling for t.
func (c Ceilings) For(t EntryType) int {
	if n, ok := c.ByType[t]; ok && n > 0 {
		return n
	}
	if c.Default > 0 {
		return c.Default
	}
	return DefaultCeiling
}

// PruneMarker is one audit record left behind by the pruner.
type PruneMarker struct {
	Timestamp    time.Time `json:"timestamp"`
	LinesRemoved int       `json:"linesRemoved"`
	Reason       string    `json:"reason,omitempty"`
}

// Entry is a persisted memory file plus the metadata derived from it.
type Entry struct {
	SkillID   string    `json:"skill"`
	ProjectID string    `json:"project"`
	FileName  string    `json:"file"`
	Type      EntryType `json:"type"`
	Path      string    `json:"path"`
	Content   string    `json:"content"`

	SizeLines int `json:"sizeLines"`
	SizeBytes int `json:"sizeBytes"`

	CreatedAt     time.Time `json:"createdAt"`
	LastUpdatedAt time.Time `json:"lastUpdatedAt"`

	// State is computed on read from LastUpdatedAt; it is never stored.
	State State `json:"state"`

	// Ghost is set when the file carries no Last Updated timestamp.
	Ghost bool `json:"ghost,omitempty"`

	PruneMarkers []PruneMarker `json:"pruneMarkers,omitempty"`
}

// newEntry derives an Entry from raw file content.
func newEntry(skill, project, file, path, content string, modTime, now time.Time, c Classifier) *Entry {
	e := &Entry{
		SkillID:   skill,
		ProjectID: project,
		FileName:  file,
		Type:      TypeOf(file),
		Path:      path,
		Content:   content,
		SizeLines: CountLines(content),
		SizeBytes: len(content),
	}

	if ts, ok := ParseTimestamp(content); ok {
		e.LastUpdatedAt = ts
	} else {
		e.Ghost = true
		e.LastUpdatedAt = modTime
	}
	if created, ok := ParseCreated(content); ok {
		e.CreatedAt = created
	} else {
		e.CreatedAt = modTime
	}
	e.PruneMarkers = ParseMarkers(content)
	e.State = c.ClassifyType(e.Type, e.LastUpdatedAt, now)
	return e
}

// CountLines counts lines the way wc -l does, plus a trailing unterminated
// line.
func CountLines(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}

// splitLines splits content into lines without the trailing newline.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}

// joinLines is the inverse of splitLines; output always ends in a newline.
func joinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}
