// Package workspace enforces the workspace boundary for patch application.
// Every path a patch touches is resolved under a single root directory and
// refused if it, or any symlink along the way, leads outside that root.
package workspace

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/entrhq/forge-patch/pkg/patch"
)

// Guard enforces workspace boundary restrictions on file paths.
type Guard struct {
	workspaceDir string // Absolute, symlink-resolved path to workspace root
}

// BoundaryError reports a path that resolves outside the workspace.
type BoundaryError struct {
	Path string
}

func (e *BoundaryError) Error() string {
	return fmt.Sprintf("path '%s' is outside workspace boundaries", e.Path)
}

// Reason returns the failure code.
func (e *BoundaryError) Reason() patch.Reason { return patch.ReasonOutsideWorkspace }

// NewGuard creates a new workspace guard for the given directory.
// The directory path is converted to an absolute path, cleaned, and symlinks are evaluated.
func NewGuard(workspaceDir string) (*Guard, error) {
	if workspaceDir == "" {
		return nil, fmt.Errorf("workspace directory cannot be empty")
	}

	absPath, err := filepath.Abs(workspaceDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace directory: %w", err)
	}

	evalPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate workspace directory symlinks: %w", err)
	}

	return &Guard{workspaceDir: evalPath}, nil
}

// ValidatePath checks if the given path is within the workspace boundaries.
//
// Returns an error if:
// - The path is empty
// - The resolved path is outside the workspace
// - The path attempts directory traversal, directly or through a symlink
func (g *Guard) ValidatePath(path string) error {
	_, err := g.Resolve(path)
	return err
}

// Resolve returns the absolute, symlink-resolved location of path and
// fails with a *BoundaryError if that location is outside the workspace.
func (g *Guard) Resolve(path string) (string, error) {
	resolved, err := g.ResolvePath(path)
	if err != nil {
		return "", err
	}
	if !g.IsWithinWorkspace(resolved) {
		return "", &BoundaryError{Path: path}
	}
	return resolved, nil
}

// ResolvePath converts a relative or absolute path to an absolute path
// within the workspace context. It cleans the path and resolves any
// symbolic links, including those in parents of paths that do not exist yet.
// It does not check the boundary; use Resolve for that.
func (g *Guard) ResolvePath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path cannot be empty")
	}

	cleanPath := filepath.Clean(filepath.FromSlash(path))

	var absPath string
	if filepath.IsAbs(cleanPath) {
		absPath = cleanPath
	} else {
		absPath = filepath.Join(g.workspaceDir, cleanPath)
	}

	return resolveSymlinks(absPath), nil
}

// IsWithinWorkspace checks if an absolute path is the workspace itself or
// a child of it.
func (g *Guard) IsWithinWorkspace(absPath string) bool {
	// Evaluate symlinks to ensure consistent path comparison
	// This is important on systems like macOS where /var -> /private/var
	evalPath := resolveSymlinks(absPath)

	return evalPath == g.workspaceDir ||
		strings.HasPrefix(evalPath+string(filepath.Separator), g.workspaceDir+string(filepath.Separator))
}

// resolveSymlinks resolves symlinks in a path, handling non-existent paths
// by recursively resolving parent directories until an existing one is found.
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
		if dir == currentPath || dir == "." {
			// Reached root without finding existing path, return original
			return path
		}

		components = append(components, filepath.Base(currentPath))
		currentPath = dir
	}
}

// WorkspaceDir returns the absolute path of the workspace directory.
func (g *Guard) WorkspaceDir() string {
	return g.workspaceDir
}

// MakeRelative converts an absolute path to a slash-separated path relative
// to the workspace. Returns an error if the path is not within the workspace.
func (g *Guard) MakeRelative(absPath string) (string, error) {
	if !g.IsWithinWorkspace(absPath) {
		return "", fmt.Errorf("path '%s' is not within workspace", absPath)
	}

	relPath, err := filepath.Rel(g.workspaceDir, resolveSymlinks(absPath))
	if err != nil {
		return "", fmt.Errorf("failed to make path relative: %w", err)
	}

	return filepath.ToSlash(relPath), nil
}
