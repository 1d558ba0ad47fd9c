package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/entrhq/forge-patch/pkg/patch"
)

// FS is a guarded view of the workspace directory on disk. All paths are
// workspace-relative; anything resolving outside the root is refused.
type FS struct {
	guard *Guard
}

// NewFS creates a filesystem workspace backed by guard.
func NewFS(guard *Guard) *FS {
	return &FS{guard: guard}
}

// Guard returns the boundary guard used by this workspace.
func (w *FS) Guard() *Guard {
	return w.guard
}

// Root returns the absolute workspace directory.
func (w *FS) Root() string {
	return w.guard.WorkspaceDir()
}

// Read returns the current content of path. A missing file is not an error:
// the snapshot simply reports Exists == false.
func (w *FS) Read(path string) (patch.Snapshot, error) {
	absPath, err := w.guard.Resolve(path)
	if err != nil {
		return patch.Snapshot{}, err
	}

	info, err := os.Stat(absPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return patch.Snapshot{}, nil
		}
		return patch.Snapshot{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return patch.Snapshot{}, fmt.Errorf("%s is a directory", path)
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		return patch.Snapshot{}, fmt.Errorf("failed to read file: %w", err)
	}

	return patch.Snapshot{
		Exists:  true,
		Content: string(content),
		Version: versionOf(info),
		Mode:    info.Mode().Perm(),
	}, nil
}

// Version returns the current version token of path, or "" if it does not
// exist. It matches the Version of a Snapshot taken when nothing changed.
func (w *FS) Version(path string) (string, error) {
	absPath, err := w.guard.Resolve(path)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(absPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return versionOf(info), nil
}

// Write replaces path with content, creating parent directories as needed.
// A zero mode keeps the permission bits of an existing file and uses 0644
// for a new one.
func (w *FS) Write(path string, content string, mode fs.FileMode) error {
	absPath, err := w.guard.Resolve(path)
	if err != nil {
		return err
	}

	if mode == 0 {
		mode = 0644
		if info, statErr := os.Stat(absPath); statErr == nil {
			mode = info.Mode().Perm()
		}
	}

	if err := os.MkdirAll(filepath.Dir(absPath), 0750); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}

	return atomicWrite(absPath, []byte(content), mode)
}

// Remove deletes path. Removing a path that is already gone is not an error.
func (w *FS) Remove(path string) error {
	absPath, err := w.guard.Resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(absPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove file: %w", err)
	}
	return nil
}

func versionOf(info fs.FileInfo) string {
	return fmt.Sprintf("%d:%d", info.ModTime().UnixNano(), info.Size())
}

// atomicWrite writes data to a temporary file next to path and renames it
// into place so readers never observe a half-written file.
func atomicWrite(path string, data []byte, mode fs.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	name := tmp.Name()
	defer os.Remove(name)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync temporary file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temporary file: %w", err)
	}
	if err := os.Chmod(name, mode); err != nil {
		return fmt.Errorf("failed to set file mode: %w", err)
	}
	if err := os.Rename(name, path); err != nil {
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}
	return nil
}
