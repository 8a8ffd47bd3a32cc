package memory

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/entrhq/forge-hooks/pkg/security/workspace"
)

// RecentWindow is how far back FindCandidates looks when no transcript is
// available.
const RecentWindow = 120 * time.Minute

var transcriptPathRe = regexp.MustCompile(`[^\s"'(){}\[\],]*memory/[^\s"'(){}\[\],]+\.md`)

// FindCandidates returns the memory files under root worth checking against
// their ceilings. Paths mentioned in the transcript are preferred; with no
// usable transcript, files modified at or after since are returned.
// Operational files and files outside root are never candidates.
func FindCandidates(root, transcriptPath string, since time.Time) ([]string, error) {
	if transcriptPath != "" {
		data, err := os.ReadFile(transcriptPath)
		if err == nil {
			return fromTranscript(root, string(data)), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("memory: read transcript %s: %w", transcriptPath, err)
		}
	}
	return recentlyModified(root, since)
}

func fromTranscript(root, transcript string) []string {
	// Only files inside root are candidates, however the transcript names them.
	guard, err := workspace.NewGuard(root)
	if err != nil {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, ref := range transcriptPathRe.FindAllString(transcript, -1) {
		path := resolveMemoryRef(root, ref)
		if path == "" || seen[path] || IsOperationalFile(path) {
			continue
		}
		if err := guard.ValidatePath(path); err != nil {
			continue
		}
		if info, err := os.Stat(path); err != nil || info.IsDir() {
			continue
		}
		seen[path] = true
		out = append(out, path)
	}
	sort.Strings(out)
	return out
}

// resolveMemoryRef maps a transcript reference onto root. Absolute paths
// that exist are used as they are and left to the caller to confine;
// anything else is resolved from the part following the last "memory/"
// segment.
func resolveMemoryRef(root, ref string) string {
	if filepath.IsAbs(ref) {
		if _, err := os.Stat(ref); err == nil {
			return filepath.Clean(ref)
		}
	}
	ref = filepath.ToSlash(ref)
	i := strings.LastIndex(ref, "memory/")
	if i < 0 {
		return ""
	}
	rel := ref[i+len("memory/"):]
	if rel == "" || strings.Contains(rel, "..") {
		return ""
	}
	return filepath.Join(root, filepath.FromSlash(rel))
}

func recentlyModified(root string, since time.Time) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == root {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".md" || IsOperationalFile(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if !info.ModTime().Before(since) {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("memory: scan %s: %w", root, err)
	}
	return out, nil
}
