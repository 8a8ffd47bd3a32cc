package memory

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the on-disk date format for every marker.
const DateLayout = "2006-01-02"

var (
	timestampRe     = regexp.MustCompile(`^<!--\s*Last Updated:\s*(\d{4}-\d{2}-\d{2})\s*-->\s*$`)
	boldTimestampRe = regexp.MustCompile(`^\*\*Last Updated\*\*:\s*(\d{4}-\d{2}-\d{2})`)
	createdRe       = regexp.MustCompile(`^<!--\s*Created:\s*(\d{4}-\d{2}-\d{2})\s*-->\s*$`)
	pruneMarkerRe   = regexp.MustCompile(`^<!--\s*Pruned:\s*(\d{4}-\d{2}-\d{2}),\s*(\d+) lines? removed(?:,\s*reason:\s*(.*?))?\s*-->\s*$`)
)

// TimestampLine formats the Last Updated header for t.
func TimestampLine(t time.Time) string {
	return fmt.Sprintf("<!-- Last Updated: %s -->", t.Format(DateLayout))
}

// CreatedLine formats the Created header for t.
func CreatedLine(t time.Time) string {
	return fmt.Sprintf("<!-- Created: %s -->", t.Format(DateLayout))
}

// MarkerLine formats a prune marker.
func MarkerLine(m PruneMarker) string {
	if m.Reason != "" {
		return fmt.Sprintf("<!-- Pruned: %s, %d lines removed, reason: %s -->", m.Timestamp.Format(DateLayout), m.LinesRemoved, m.Reason)
	}
	return fmt.Sprintf("<!-- Pruned: %s, %d lines removed -->", m.Timestamp.Format(DateLayout), m.LinesRemoved)
}

// ParseTimestamp reads the HTML-comment Last Updated marker from the first
// line. Only that form is authoritative for freshness.
func ParseTimestamp(content string) (time.Time, bool) {
	first, _, _ := strings.Cut(content, "\n")
	m := timestampRe.FindStringSubmatch(strings.TrimSpace(first))
	if m == nil {
		return time.Time{}, false
	}
	t, err := time.Parse(DateLayout, m[1])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// HasAnyTimestamp reports whether the header carries a timestamp in either
// the comment form or the bold **Last Updated** form.
func HasAnyTimestamp(content string) bool {
	lines := splitLines(content)
	for i := 0; i < len(lines) && i < HeaderLines; i++ {
		line := strings.TrimSpace(lines[i])
		if timestampRe.MatchString(line) || boldTimestampRe.MatchString(line) {
			return true
		}
	}
	return false
}

// ParseCreated reads the Created marker from the header.
func ParseCreated(content string) (time.Time, bool) {
	lines := splitLines(content)
	for i := 0; i < len(lines) && i < HeaderLines; i++ {
		if m := createdRe.FindStringSubmatch(strings.TrimSpace(lines[i])); m != nil {
			if t, err := time.Parse(DateLayout, m[1]); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// ParseMarkers returns every prune marker in document order.
func ParseMarkers(content string) []PruneMarker {
	var out []PruneMarker
	for _, line := range splitLines(content) {
		m, ok := parseMarker(line)
		if ok {
			out = append(out, m)
		}
	}
	return out
}

func parseMarker(line string) (PruneMarker, bool) {
	m := pruneMarkerRe.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return PruneMarker{}, false
	}
	ts, err := time.Parse(DateLayout, m[1])
	if err != nil {
		return PruneMarker{}, false
	}
	n, _ := strconv.Atoi(m[2])
	return PruneMarker{Timestamp: ts, LinesRemoved: n, Reason: m[3]}, true
}

func isMarkerLine(line string) bool {
	return pruneMarkerRe.MatchString(strings.TrimSpace(line))
}

// Stamp sets the Last Updated marker on the first line to now, inserting it if
// absent. When created is true a Created marker is added below it unless one
// exists already.
func Stamp(content string, now time.Time, created bool) string {
	lines := splitLines(content)
	if len(lines) > 0 && timestampRe.MatchString(strings.TrimSpace(lines[0])) {
		lines[0] = TimestampLine(now)
	} else {
		lines = append([]string{TimestampLine(now)}, lines...)
	}
	if created {
		if _, ok := ParseCreated(joinLines(lines)); !ok {
			lines = append(lines[:1], append([]string{CreatedLine(now)}, lines[1:]...)...)
		}
	}
	return joinLines(lines)
}
