// Package workspace enforces project boundaries on file paths. It resolves
// relative paths, tilde and symlinks before deciding, so traversal through
// ".." or a symlink cannot escape the project.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultAllowedDirs are reachable from every project: scratch space and
// the null device.
var DefaultAllowedDirs = []string{"/tmp", "/var/tmp", "/dev/null"}

// BoundaryError reports a path that resolves outside the project.
type BoundaryError struct {
	Path     string
	Resolved string
}

func (e *BoundaryError) Error() string {
	return fmt.Sprintf("path '%s' is outside the project directory", e.Path)
}

// Guard enforces project boundary restrictions on file paths.
type Guard struct {
	workspaceDir    string   // Absolute path to project root
	whitelistedDirs []string // Additional allowed directories outside the project
}

// NewGuard creates a guard for the given directory. The directory is made
// absolute and its symlinks are evaluated; it must exist.
func NewGuard(workspaceDir string) (*Guard, error) {
	if workspaceDir == "" {
		return nil, fmt.Errorf("workspace: directory cannot be empty")
	}

	absPath, err := filepath.Abs(workspaceDir)
	if err != nil {
		return nil, fmt.Errorf("workspace: resolve directory: %w", err)
	}

	evalPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		return nil, fmt.Errorf("workspace: evaluate directory symlinks: %w", err)
	}

	return &Guard{
		workspaceDir:    evalPath,
		whitelistedDirs: make([]string, 0),
	}, nil
}

// NewProjectGuard is NewGuard with DefaultAllowedDirs whitelisted.
func NewProjectGuard(projectDir string) (*Guard, error) {
	g, err := NewGuard(projectDir)
	if err != nil {
		return nil, err
	}
	for _, dir := range DefaultAllowedDirs {
		if err := g.AddWhitelist(dir); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// ValidatePath checks if the given path is within the project boundaries or
// a whitelisted directory. It returns a *BoundaryError when it is not.
func (g *Guard) ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("workspace: path cannot be empty")
	}

	resolvedPath, err := g.ResolvePath(path)
	if err != nil {
		return err
	}

	if !g.IsWithinWorkspace(resolvedPath) {
		return &BoundaryError{Path: path, Resolved: resolvedPath}
	}

	return nil
}

// ResolvePath converts a relative or absolute path to an absolute path
// within the project context. It cleans the path, expands a leading ~/ and
// resolves symbolic links. Paths that do not exist yet resolve through
// their nearest existing ancestor.
func (g *Guard) ResolvePath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("workspace: path cannot be empty")
	}

	expandedPath, err := ExpandHome(path)
	if err != nil {
		return "", err
	}

	cleanPath := filepath.Clean(expandedPath)

	var absPath string
	if filepath.IsAbs(cleanPath) {
		absPath = cleanPath
	} else {
		absPath = filepath.Join(g.workspaceDir, cleanPath)
	}

	return resolveSymlinks(filepath.Clean(absPath)), nil
}

// ExpandHome replaces a leading ~ or ~/ with the user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("workspace: expand ~: %w", err)
	}
	if path == "~" {
		return homeDir, nil
	}
	return filepath.Join(homeDir, path[2:]), nil
}

// IsWithinWorkspace checks if an absolute path is the project, a child of
// it, or within any whitelisted directory.
func (g *Guard) IsWithinWorkspace(absPath string) bool {
	// /var -> /private/var on macOS
	evalPath := resolveSymlinks(absPath)

	if within(evalPath, g.workspaceDir) {
		return true
	}

	for _, whitelisted := range g.whitelistedDirs {
		if within(evalPath, whitelisted) {
			return true
		}
	}

	return false
}

func within(path, dir string) bool {
	return path == dir || strings.HasPrefix(path+string(filepath.Separator), dir+string(filepath.Separator))
}

// resolveSymlinks resolves symlinks in a path, handling non-existent paths
// by resolving the nearest existing ancestor and re-appending the rest.
func resolveSymlinks(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}

	var components []string
	currentPath := path

	for {
		if resolved, err := filepath.EvalSymlinks(currentPath); err == nil {
			result := resolved
			for i := len(components) - 1; i >= 0; i-- {
				result = filepath.Join(result, components[i])
			}
			return result
		}

		dir := filepath.Dir(currentPath)
		if dir == currentPath || dir == "." || dir == "/" {
			return filepath.Clean(path)
		}

		components = append(components, filepath.Base(currentPath))
		currentPath = dir
	}
}

// WorkspaceDir returns the absolute path of the project directory.
func (g *Guard) WorkspaceDir() string {
	return g.workspaceDir
}

// MakeRelative converts an absolute path to a path relative to the project.
// Returns an error if the path is not within the project.
func (g *Guard) MakeRelative(absPath string) (string, error) {
	evalPath := resolveSymlinks(absPath)
	if !within(evalPath, g.workspaceDir) {
		return "", fmt.Errorf("workspace: path '%s' is not within the project", absPath)
	}

	relPath, err := filepath.Rel(g.workspaceDir, evalPath)
	if err != nil {
		return "", fmt.Errorf("workspace: make path relative: %w", err)
	}

	return relPath, nil
}
