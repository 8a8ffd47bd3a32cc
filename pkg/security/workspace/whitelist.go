package workspace

import (
	"fmt"
	"path/filepath"
)

// AddWhitelist allows paths within dir even though it lies outside the
// project. dir may not exist yet.
func (g *Guard) AddWhitelist(dir string) error {
	if dir == "" {
		return fmt.Errorf("workspace: whitelist directory cannot be empty")
	}

	absPath, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("workspace: resolve whitelist directory: %w", err)
	}

	evalPath := resolveSymlinks(absPath)

	for _, existing := range g.whitelistedDirs {
		if existing == evalPath {
			return nil // Already whitelisted
		}
	}

	g.whitelistedDirs = append(g.whitelistedDirs, evalPath)
	return nil
}
