package transaction

import (
	"fmt"
	"io/fs"
	"maps"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/entrhq/forge-patch/pkg/patch"
)

// memWorkspace is an in-memory Workspace with failure injection.
type memWorkspace struct {
	files    map[string]string
	versions map[string]int

	readErrs map[string]error

	// writeLimit caps the number of successful writes per path. Paths
	// without an entry are unlimited.
	writeLimit map[string]int
	writeCount map[string]int

	// beforeVersion runs at the start of every Version call.
	beforeVersion func(path string)

	mutations int
}

func newMemWorkspace(files map[string]string) *memWorkspace {
	m := &memWorkspace{
		files:      make(map[string]string),
		versions:   make(map[string]int),
		readErrs:   make(map[string]error),
		writeLimit: make(map[string]int),
		writeCount: make(map[string]int),
	}
	for p, c := range files {
		m.files[p] = c
		m.versions[p] = 1
	}
	return m
}

func (m *memWorkspace) Read(path string) (patch.Snapshot, error) {
	if err := m.readErrs[path]; err != nil {
		return patch.Snapshot{}, err
	}
	content, ok := m.files[path]
	if !ok {
		return patch.Snapshot{}, nil
	}
	return patch.Snapshot{Exists: true, Content: content, Version: m.version(path)}, nil
}

func (m *memWorkspace) Version(path string) (string, error) {
	if m.beforeVersion != nil {
		m.beforeVersion(path)
	}
	return m.version(path), nil
}

func (m *memWorkspace) version(path string) string {
	if _, ok := m.files[path]; !ok {
		return ""
	}
	return fmt.Sprintf("v%d", m.versions[path])
}

func (m *memWorkspace) Write(path, content string, _ fs.FileMode) error {
	if limit, ok := m.writeLimit[path]; ok && m.writeCount[path] >= limit {
		return fmt.Errorf("write %s: permission denied", path)
	}
	m.writeCount[path]++
	m.files[path] = content
	m.versions[path]++
	m.mutations++
	return nil
}

func (m *memWorkspace) Remove(path string) error {
	delete(m.files, path)
	m.versions[path]++
	m.mutations++
	return nil
}

func (m *memWorkspace) snapshot() map[string]string {
	return maps.Clone(m.files)
}

func parseDoc(t *testing.T, lines ...string) *patch.Document {
	t.Helper()
	doc, err := patch.Parse(strings.Join(lines, "\n") + "\n")
	require.NoError(t, err)
	return doc
}
