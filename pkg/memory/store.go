package memory

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

var timeNow = time.Now // injected for testability

// PutMode selects how Put combines new content with an existing entry.
type PutMode int

const (
	// Replace overwrites the entry body.
	Replace PutMode = iota
	// Append adds the new content after the existing body.
	Append
)

// PutOptions configures a single Put.
type PutOptions struct {
	Mode PutMode
}

// Option configures a FileStore.
type Option func(*FileStore)

// WithQualityGate sets the gate applied before every write.
func WithQualityGate(g *QualityGate) Option {
	return func(s *FileStore) { s.gate = g }
}

// WithPruner sets the pruner applied before every write.
func WithPruner(p *Pruner) Option {
	return func(s *FileStore) { s.pruner = p }
}

// WithClassifier sets the freshness classifier used on read.
func WithClassifier(c Classifier) Option {
	return func(s *FileStore) { s.classifier = c }
}

// WithClock overrides the store's clock.
func WithClock(now func() time.Time) Option {
	return func(s *FileStore) { s.now = now }
}

// FileStore keeps memory entries as markdown files under
// <root>/skills/{skill}/{project}/{file}.md. Writes are atomic per file;
// concurrent writers to the same entry resolve last-writer-wins.
type FileStore struct {
	root       string
	gate       *QualityGate
	pruner     *Pruner
	classifier Classifier
	now        func() time.Time
}

// NewFileStore creates a store rooted at root, creating the directory if
// needed.
func NewFileStore(root string, opts ...Option) (*FileStore, error) {
	if root == "" {
		return nil, fmt.Errorf("memory: store root is empty")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("memory: init directory %s: %w", root, err)
	}
	s := &FileStore{
		root:   root,
		gate:   NewQualityGate(nil, DefaultCeilings()),
		pruner: NewPruner(DefaultCeilings()),
		now:    timeNow,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Root returns the store's root directory.
func (s *FileStore) Root() string { return s.root }

// Get returns the entry, or (nil, nil) when it does not exist.
func (s *FileStore) Get(ctx context.Context, skill, project, file string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.pathFor(skill, project, file)
	if err != nil {
		return nil, err
	}
	e, err := s.load(skill, project, path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return e, err
}

// MustGet is Get but reports a missing entry as ErrNotFound.
func (s *FileStore) MustGet(ctx context.Context, skill, project, file string) (*Entry, error) {
	e, err := s.Get(ctx, skill, project, file)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("%w: %s/%s/%s", ErrNotFound, skill, project, file)
	}
	return e, nil
}

// Put validates, stamps, prunes and atomically writes an entry. A
// *ValidationError or *LimitExceededError means nothing was written.
func (s *FileStore) Put(ctx context.Context, skill, project, file, content string, opts PutOptions) (*Entry, error) {
	path, err := s.pathFor(skill, project, file)
	if err != nil {
		return nil, err
	}
	typ := TypeOf(path)

	existing, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		existing = nil
	case err != nil:
		return nil, fmt.Errorf("memory: read %s: %w", path, err)
	}
	isNew := existing == nil

	if opts.Mode == Append && !isNew {
		content = appendBody(string(existing), content)
	}

	report := s.gate.Validate(typ, content)
	if !report.Valid {
		return nil, &ValidationError{Path: path, Reasons: report.Reasons}
	}
	for _, w := range report.Warnings {
		slog.Debug("memory: quality warning", "path", path, "warning", w)
	}

	now := s.now()
	stamped := Stamp(content, now, true)
	if !isNew {
		if created, ok := ParseCreated(string(existing)); ok {
			stamped = Stamp(setCreated(content, created), now, true)
		}
	}

	res, err := s.pruner.Prune(stamped, typ, now)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("memory: put %s aborted: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("memory: create directory for %s: %w", path, err)
	}
	if err := WriteFileAtomic(path, []byte(res.Content)); err != nil {
		return nil, err
	}
	return newEntry(skill, project, filepath.Base(path), path, res.Content, now, now, s.classifier), nil
}

// List yields the entries of one project in file-name order. Unreadable
// files are skipped.
func (s *FileStore) List(ctx context.Context, skill, project string) iter.Seq2[*Entry, error] {
	return func(yield func(*Entry, error) bool) {
		dir, err := s.dirFor(skill, project)
		if err != nil {
			yield(nil, err)
			return
		}
		dirEntries, err := os.ReadDir(dir)
		if errors.Is(err, fs.ErrNotExist) {
			return
		}
		if err != nil {
			yield(nil, fmt.Errorf("memory: list %s: %w", dir, err))
			return
		}
		names := make([]string, 0, len(dirEntries))
		for _, de := range dirEntries {
			if de.IsDir() || filepath.Ext(de.Name()) != ".md" || IsOperationalFile(de.Name()) {
				continue
			}
			names = append(names, de.Name())
		}
		sort.Strings(names)
		for _, name := range names {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			path := filepath.Join(dir, name)
			e, err := s.load(skill, project, path)
			if err != nil {
				slog.Debug("memory: skipping unreadable memory file", "path", path, "err", err)
				continue
			}
			if !yield(e, nil) {
				return
			}
		}
	}
}

// Walk calls fn for every entry in the store, in path order.
func (s *FileStore) Walk(ctx context.Context, fn func(*Entry) error) error {
	base := filepath.Join(s.root, "skills")
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == base {
				return fs.SkipAll
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".md" || IsOperationalFile(path) {
			return nil
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) != 3 {
			return nil
		}
		e, err := s.load(parts[0], parts[1], path)
		if err != nil {
			slog.Debug("memory: skipping unreadable memory file", "path", path, "err", err)
			return nil
		}
		return fn(e)
	})
	if err != nil {
		return fmt.Errorf("memory: walk %s: %w", base, err)
	}
	return nil
}

// StatusReport summarises the lifecycle state of the whole store.
type StatusReport struct {
	Total     int           `json:"total"`
	Counts    map[State]int `json:"counts"`
	Ghosts    []string      `json:"ghosts,omitempty"`
	OverLimit []string      `json:"overLimit,omitempty"`
}

// Status classifies every entry as of now.
func (s *FileStore) Status(ctx context.Context, now time.Time) (*StatusReport, error) {
	report := &StatusReport{Counts: make(map[State]int)}
	err := s.Walk(ctx, func(e *Entry) error {
		report.Total++
		e.State = s.classifier.ClassifyType(e.Type, e.LastUpdatedAt, now)
		report.Counts[e.State]++
		if e.Ghost {
			report.Ghosts = append(report.Ghosts, e.Path)
		}
		if over, _ := s.pruner.Exceeds(e.Content, e.Type); over {
			report.OverLimit = append(report.OverLimit, e.Path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

func (s *FileStore) load(skill, project, path string) (*Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("memory: read %s: %w", path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("memory: stat %s: %w", path, err)
	}
	return newEntry(skill, project, filepath.Base(path), path, string(data), info.ModTime(), s.now(), s.classifier), nil
}

func (s *FileStore) dirFor(skill, project string) (string, error) {
	for _, seg := range []string{skill, project} {
		if err := validateSegment(seg); err != nil {
			return "", err
		}
	}
	return filepath.Join(s.root, "skills", skill, project), nil
}

func (s *FileStore) pathFor(skill, project, file string) (string, error) {
	dir, err := s.dirFor(skill, project)
	if err != nil {
		return "", err
	}
	if err := validateSegment(file); err != nil {
		return "", err
	}
	if filepath.Ext(file) != ".md" {
		file += ".md"
	}
	return filepath.Join(dir, file), nil
}

func validateSegment(seg string) error {
	switch {
	case seg == "":
		return fmt.Errorf("memory: invalid id (empty)")
	case seg == "." || seg == "..":
		return fmt.Errorf("memory: invalid id %q", seg)
	case strings.ContainsAny(seg, "/\\"):
		return fmt.Errorf("memory: invalid id %q (contains path separator)", seg)
	}
	return nil
}

// appendBody joins new content onto an existing entry. Stamp rewrites the
// timestamp line afterwards.
func appendBody(existing, addition string) string {
	existing = strings.TrimRight(existing, "\n")
	addition = strings.TrimLeft(addition, "\n")
	if existing == "" {
		return addition
	}
	return existing + "\n" + addition
}

// setCreated carries an existing Created marker into replacement content.
func setCreated(content string, created time.Time) string {
	if _, ok := ParseCreated(content); ok {
		return content
	}
	lines := splitLines(content)
	if len(lines) > 0 && timestampRe.MatchString(strings.TrimSpace(lines[0])) {
		return joinLines(append(lines[:1], append([]string{CreatedLine(created)}, lines[1:]...)...))
	}
	return joinLines(append([]string{CreatedLine(created)}, lines...))
}

// WriteFileAtomic writes data to a temp file beside path and renames it
// over path. An existing file keeps its permissions.
func WriteFileAtomic(path string, data []byte) error {
	perm := os.FileMode(0o644)
	if fi, err := os.Stat(path); err == nil {
		perm = fi.Mode().Perm()
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return fmt.Errorf("memory: write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp) // best-effort cleanup
		return fmt.Errorf("memory: atomic rename %s: %w", path, err)
	}
	return nil
}
