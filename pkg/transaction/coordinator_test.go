package transaction

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/forge-patch/pkg/patch"
	"github.com/entrhq/forge-patch/pkg/security/workspace"
	"github.com/entrhq/forge-patch/pkg/types"
)

func newDiskWorkspace(t *testing.T, files map[string]string) (*workspace.FS, string) {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		full := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0644))
	}
	guard, err := workspace.NewGuard(dir)
	require.NoError(t, err)
	return workspace.NewFS(guard), guard.WorkspaceDir()
}

func readDisk(t *testing.T, root, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(name)))
	require.NoError(t, err)
	return string(data)
}

func TestCommit_AddDeleteUpdate(t *testing.T) {
	ws, root := newDiskWorkspace(t, map[string]string{
		"b.txt": "obsolete\n",
		"c.txt": "x\nfoo\ny\n",
	})

	doc := parseDoc(t,
		"*** Begin Patch",
		"*** Add File: a.txt",
		"+hello",
		"*** Delete File: b.txt",
		"*** Update File: c.txt",
		" x",
		"-foo",
		"+bar",
		" y",
		"*** End Patch",
	)

	outcome := NewCoordinator().Commit(context.Background(), doc, ws)
	require.True(t, outcome.Applied(), "unexpected failure: %v", outcome.Err())
	assert.Equal(t, []string{"a.txt", "b.txt", "c.txt"}, outcome.Touched)
	assert.NotEmpty(t, outcome.CommitID)
	assert.Nil(t, outcome.Failure)

	assert.Equal(t, "hello\n", readDisk(t, root, "a.txt"))
	_, err := os.Stat(filepath.Join(root, "b.txt"))
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, "x\nbar\ny\n", readDisk(t, root, "c.txt"))

	added, removed := outcome.LineCounts()
	assert.Equal(t, 2, added)
	assert.Equal(t, 2, removed)
}

func TestCommit_ContextNotFoundLeavesFileUnchanged(t *testing.T) {
	ws, root := newDiskWorkspace(t, map[string]string{"c.txt": "x\nfoo\ny\n"})
	before, err := os.Stat(filepath.Join(root, "c.txt"))
	require.NoError(t, err)

	doc := parseDoc(t,
		"*** Begin Patch",
		"*** Update File: c.txt",
		"-zzz",
		"+bar",
		"*** End Patch",
	)

	outcome := NewCoordinator().Commit(context.Background(), doc, ws)
	require.Equal(t, StatusFailed, outcome.Status)
	require.NotNil(t, outcome.Failure)
	assert.Equal(t, 0, outcome.Failure.OperationIndex)
	assert.Equal(t, 0, outcome.Failure.HunkIndex)
	assert.Equal(t, "c.txt", outcome.Failure.Path)
	assert.Equal(t, patch.ReasonContextNotFound, outcome.Failure.Code)
	assert.False(t, outcome.Failure.Mutated())

	assert.Equal(t, "x\nfoo\ny\n", readDisk(t, root, "c.txt"))
	after, err := os.Stat(filepath.Join(root, "c.txt"))
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime())
}

func TestCommit_AddOnlyCreatesExactlyThoseFiles(t *testing.T) {
	ws := newMemWorkspace(map[string]string{"keep.txt": "unchanged\n"})

	doc := parseDoc(t,
		"*** Begin Patch",
		"*** Add File: one.txt",
		"+1",
		"*** Add File: dir/two.txt",
		"+2",
		"+2",
		"*** End Patch",
	)

	outcome := NewCoordinator().Commit(context.Background(), doc, ws)
	require.True(t, outcome.Applied())
	assert.Equal(t, map[string]string{
		"keep.txt":    "unchanged\n",
		"one.txt":     "1\n",
		"dir/two.txt": "2\n2\n",
	}, ws.files)
}

func TestCommit_FailureNeverMutates(t *testing.T) {
	files := map[string]string{
		"a.txt": "alpha\n",
		"b.txt": "one\ntwo\none\ntwo\n",
		"c.txt": "x\nfoo\ny\n",
	}

	tests := []struct {
		name   string
		lines  []string
		opIdx  int
		hunk   int
		reason patch.Reason
	}{
		{
			name: "last operation fails",
			lines: []string{
				"*** Begin Patch",
				"*** Update File: a.txt",
				"-alpha",
				"+ALPHA",
				"*** Add File: new.txt",
				"+new",
				"*** Delete File: missing.txt",
				"*** End Patch",
			},
			opIdx:  2,
			hunk:   -1,
			reason: patch.ReasonNotFound,
		},
		{
			name: "add over existing file",
			lines: []string{
				"*** Begin Patch",
				"*** Add File: c.txt",
				"+clobber",
				"*** End Patch",
			},
			opIdx:  0,
			hunk:   -1,
			reason: patch.ReasonAlreadyExists,
		},
		{
			name: "ambiguous second hunk",
			lines: []string{
				"*** Begin Patch",
				"*** Update File: c.txt",
				"-foo",
				"+bar",
				"*** Update File: b.txt",
				"@@",
				"-two",
				"+TWO",
				"*** End Patch",
			},
			opIdx:  1,
			hunk:   0,
			reason: patch.ReasonAmbiguousMatch,
		},
		{
			name: "anchor not found",
			lines: []string{
				"*** Begin Patch",
				"*** Update File: c.txt",
				"@@ func main()",
				"-foo",
				"+bar",
				"*** End Patch",
			},
			opIdx:  0,
			hunk:   0,
			reason: patch.ReasonAnchorNotFound,
		},
		{
			name: "second hunk misses after first applied",
			lines: []string{
				"*** Begin Patch",
				"*** Update File: c.txt",
				"@@",
				"-foo",
				"+bar",
				"@@",
				"-foo",
				"+baz",
				"*** End Patch",
			},
			opIdx:  0,
			hunk:   1,
			reason: patch.ReasonContextNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ws := newMemWorkspace(files)
			before := ws.snapshot()

			outcome := NewCoordinator().Commit(context.Background(), parseDoc(t, tt.lines...), ws)

			require.Equal(t, StatusFailed, outcome.Status)
			assert.Equal(t, tt.opIdx, outcome.Failure.OperationIndex)
			assert.Equal(t, tt.hunk, outcome.Failure.HunkIndex)
			assert.Equal(t, tt.reason, outcome.Failure.Code)
			assert.Equal(t, tt.reason, patch.ReasonOf(outcome.Err()))
			assert.Equal(t, before, ws.files)
			assert.Zero(t, ws.mutations)
		})
	}
}

func TestCommit_ReapplyFailsWithContextNotFound(t *testing.T) {
	ws := newMemWorkspace(map[string]string{"c.txt": "x\nfoo\ny\n"})
	doc := parseDoc(t,
		"*** Begin Patch",
		"*** Update File: c.txt",
		" x",
		"-foo",
		"+bar",
		"*** End Patch",
	)

	coordinator := NewCoordinator()
	require.True(t, coordinator.Commit(context.Background(), doc, ws).Applied())

	second := coordinator.Commit(context.Background(), doc, ws)
	require.Equal(t, StatusFailed, second.Status)
	assert.Equal(t, patch.ReasonContextNotFound, second.Failure.Code)
	assert.Equal(t, "x\nbar\ny\n", ws.files["c.txt"])
}

func TestCommit_RollsBackOnWriteFailure(t *testing.T) {
	ws := newMemWorkspace(map[string]string{
		"a.txt": "a\n",
		"b.txt": "b\n",
	})
	ws.writeLimit["b.txt"] = 0

	doc := parseDoc(t,
		"*** Begin Patch",
		"*** Update File: a.txt",
		"-a",
		"+A",
		"*** Add File: new.txt",
		"+fresh",
		"*** Update File: b.txt",
		"-b",
		"+B",
		"*** End Patch",
	)

	outcome := NewCoordinator().Commit(context.Background(), doc, ws)
	require.Equal(t, StatusFailed, outcome.Status)

	f := outcome.Failure
	assert.Equal(t, patch.ReasonWriteFailed, f.Code)
	assert.Equal(t, 2, f.OperationIndex)
	assert.Equal(t, "b.txt", f.Path)
	assert.True(t, f.Mutated())
	assert.Equal(t, []string{"a.txt", "new.txt"}, f.Recovered)
	assert.Empty(t, f.Unrecovered)

	var commitErr *CommitError
	require.ErrorAs(t, outcome.Err(), &commitErr)
	assert.Contains(t, commitErr.Error(), "permission denied")

	assert.Equal(t, map[string]string{"a.txt": "a\n", "b.txt": "b\n"}, ws.files)
}

func TestCommit_ReportsPartialCommit(t *testing.T) {
	ws := newMemWorkspace(map[string]string{
		"a.txt": "a\n",
		"b.txt": "b\n",
	})
	ws.writeLimit["a.txt"] = 1
	ws.writeLimit["b.txt"] = 0

	doc := parseDoc(t,
		"*** Begin Patch",
		"*** Update File: a.txt",
		"-a",
		"+A",
		"*** Update File: b.txt",
		"-b",
		"+B",
		"*** End Patch",
	)

	var events []types.PatchEvent
	coordinator := NewCoordinator(WithObserver(ObserverFunc(func(e types.PatchEvent) {
		events = append(events, e)
	})))

	outcome := coordinator.Commit(context.Background(), doc, ws)
	require.Equal(t, StatusPartial, outcome.Status)
	assert.Equal(t, patch.ReasonPartialCommit, outcome.Failure.Code)
	assert.Equal(t, []string{"a.txt"}, outcome.Failure.Unrecovered)
	assert.Empty(t, outcome.Failure.Recovered)
	assert.Equal(t, "A\n", ws.files["a.txt"])

	require.Len(t, events, 2)
	assert.Equal(t, types.EventTypePatchPlanned, events[0].Type)
	assert.Equal(t, types.EventTypePatchPartial, events[1].Type)
	assert.Equal(t, []string{"a.txt"}, events[1].Unrecovered)
}

func TestCommit_DetectsStaleSnapshot(t *testing.T) {
	ws := newMemWorkspace(map[string]string{"c.txt": "x\nfoo\ny\n"})
	ws.beforeVersion = func(path string) {
		if path == "c.txt" && ws.files[path] == "x\nfoo\ny\n" {
			ws.files[path] = "x\nfoo\ny\nappended elsewhere\n"
			ws.versions[path]++
		}
	}

	doc := parseDoc(t,
		"*** Begin Patch",
		"*** Update File: c.txt",
		"-foo",
		"+bar",
		"*** End Patch",
	)

	outcome := NewCoordinator().Commit(context.Background(), doc, ws)
	require.Equal(t, StatusFailed, outcome.Status)
	assert.Equal(t, patch.ReasonStaleSnapshot, outcome.Failure.Code)
	assert.Equal(t, "c.txt", outcome.Failure.Path)
	assert.Equal(t, "x\nfoo\ny\nappended elsewhere\n", ws.files["c.txt"])
	assert.Zero(t, ws.mutations)
}

func TestCommit_Canceled(t *testing.T) {
	ws := newMemWorkspace(map[string]string{"c.txt": "foo\n"})
	doc := parseDoc(t,
		"*** Begin Patch",
		"*** Update File: c.txt",
		"-foo",
		"+bar",
		"*** End Patch",
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome := NewCoordinator().Commit(ctx, doc, ws)
	require.Equal(t, StatusFailed, outcome.Status)
	assert.Equal(t, patch.ReasonCanceled, outcome.Failure.Code)
	assert.True(t, errors.Is(outcome.Err(), context.Canceled))
	assert.Equal(t, "foo\n", ws.files["c.txt"])
}

func TestCommit_ReadFailure(t *testing.T) {
	ws := newMemWorkspace(map[string]string{"c.txt": "foo\n"})
	ws.readErrs["c.txt"] = errors.New("input/output error")

	doc := parseDoc(t,
		"*** Begin Patch",
		"*** Delete File: c.txt",
		"*** End Patch",
	)

	outcome := NewCoordinator().Commit(context.Background(), doc, ws)
	require.Equal(t, StatusFailed, outcome.Status)
	assert.Equal(t, patch.ReasonReadFailed, outcome.Failure.Code)
	assert.Contains(t, outcome.Failure.Message(), "input/output error")
}

func TestCommit_Move(t *testing.T) {
	ws := newMemWorkspace(map[string]string{"old.go": "package old\n"})
	doc := parseDoc(t,
		"*** Begin Patch",
		"*** Update File: old.go",
		"*** Move to: pkg/new.go",
		"-package old",
		"+package new",
		"*** End Patch",
	)

	outcome := NewCoordinator().Commit(context.Background(), doc, ws)
	require.True(t, outcome.Applied(), "unexpected failure: %v", outcome.Err())
	assert.Equal(t, []string{"old.go", "pkg/new.go"}, outcome.Touched)
	assert.Equal(t, map[string]string{"pkg/new.go": "package new\n"}, ws.files)
}

func TestCommit_MoveKeepsFileMode(t *testing.T) {
	ws, root := newDiskWorkspace(t, map[string]string{"run.sh": "#!/bin/sh\necho old\n"})
	require.NoError(t, os.Chmod(filepath.Join(root, "run.sh"), 0755))

	doc := parseDoc(t,
		"*** Begin Patch",
		"*** Update File: run.sh",
		"*** Move to: bin/run.sh",
		" #!/bin/sh",
		"-echo old",
		"+echo new",
		"*** End Patch",
	)

	outcome := NewCoordinator().Commit(context.Background(), doc, ws)
	require.True(t, outcome.Applied(), "unexpected failure: %v", outcome.Err())
	assert.Equal(t, "#!/bin/sh\necho new\n", readDisk(t, root, "bin/run.sh"))

	info, err := os.Stat(filepath.Join(root, "bin", "run.sh"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0755), info.Mode().Perm())
	assert.NoFileExists(t, filepath.Join(root, "run.sh"))
}

// failingFS is a disk workspace whose writes to one path always fail.
type failingFS struct {
	*workspace.FS
	failPath string
}

func (f *failingFS) Write(path, content string, mode fs.FileMode) error {
	if path == f.failPath {
		return fmt.Errorf("write %s: no space left on device", path)
	}
	return f.FS.Write(path, content, mode)
}

func TestCommit_RollbackRestoresDeletedFileMode(t *testing.T) {
	disk, root := newDiskWorkspace(t, map[string]string{"run.sh": "#!/bin/sh\n"})
	require.NoError(t, os.Chmod(filepath.Join(root, "run.sh"), 0755))
	ws := &failingFS{FS: disk, failPath: "blocked.txt"}

	doc := parseDoc(t,
		"*** Begin Patch",
		"*** Delete File: run.sh",
		"*** Add File: blocked.txt",
		"+never written",
		"*** End Patch",
	)

	outcome := NewCoordinator().Commit(context.Background(), doc, ws)
	require.Equal(t, StatusFailed, outcome.Status)
	assert.Equal(t, patch.ReasonWriteFailed, outcome.Failure.Code)
	assert.Equal(t, []string{"run.sh"}, outcome.Failure.Recovered)

	assert.Equal(t, "#!/bin/sh\n", readDisk(t, root, "run.sh"))
	info, err := os.Stat(filepath.Join(root, "run.sh"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0755), info.Mode().Perm())
	assert.NoFileExists(t, filepath.Join(root, "blocked.txt"))
}

func TestCommit_MoveOntoExistingFile(t *testing.T) {
	ws := newMemWorkspace(map[string]string{
		"a.go": "package a\n",
		"b.go": "package b\n",
	})
	doc := parseDoc(t,
		"*** Begin Patch",
		"*** Update File: a.go",
		"*** Move to: b.go",
		"*** End Patch",
	)

	outcome := NewCoordinator().Commit(context.Background(), doc, ws)
	require.Equal(t, StatusFailed, outcome.Status)
	assert.Equal(t, patch.ReasonAlreadyExists, outcome.Failure.Code)
	assert.Equal(t, "b.go", outcome.Failure.Path)
	assert.Zero(t, ws.mutations)
}

func TestCommit_RefusesSymlinkEscape(t *testing.T) {
	outside := t.TempDir()
	ws, root := newDiskWorkspace(t, nil)
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "link")))

	doc := parseDoc(t,
		"*** Begin Patch",
		"*** Add File: link/escape.txt",
		"+gotcha",
		"*** End Patch",
	)

	outcome := NewCoordinator().Commit(context.Background(), doc, ws)
	require.Equal(t, StatusFailed, outcome.Status)
	assert.Equal(t, patch.ReasonOutsideWorkspace, outcome.Failure.Code)

	_, err := os.Stat(filepath.Join(outside, "escape.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestCommit_Policy(t *testing.T) {
	files := map[string]string{
		"src/a.go":     "a\n",
		"src/b.go":     "b\n",
		"vendor/x.go":  "x\n",
		"docs/read.md": "doc\n",
	}

	tests := []struct {
		name   string
		config PolicyConfig
		lines  []string
		opIdx  int
	}{
		{
			name:   "denied pattern",
			config: PolicyConfig{DeniedPatterns: []string{"vendor/**"}},
			lines: []string{
				"*** Begin Patch",
				"*** Update File: src/a.go",
				"-a",
				"+A",
				"*** Delete File: vendor/x.go",
				"*** End Patch",
			},
			opIdx: 1,
		},
		{
			name:   "outside allowed patterns",
			config: PolicyConfig{AllowedPatterns: []string{"src/**"}},
			lines: []string{
				"*** Begin Patch",
				"*** Update File: docs/read.md",
				"-doc",
				"+DOC",
				"*** End Patch",
			},
			opIdx: 0,
		},
		{
			name:   "too many files",
			config: PolicyConfig{MaxFiles: 1},
			lines: []string{
				"*** Begin Patch",
				"*** Update File: src/a.go",
				"-a",
				"+A",
				"*** Update File: src/b.go",
				"-b",
				"+B",
				"*** End Patch",
			},
			opIdx: 1,
		},
		{
			name:   "too many lines",
			config: PolicyConfig{MaxLinesChanged: 3},
			lines: []string{
				"*** Begin Patch",
				"*** Update File: src/a.go",
				"-a",
				"+A",
				"*** Update File: src/b.go",
				"-b",
				"+B",
				"*** End Patch",
			},
			opIdx: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy, err := NewPolicy(tt.config)
			require.NoError(t, err)

			ws := newMemWorkspace(files)
			outcome := NewCoordinator(WithPolicy(policy)).Commit(context.Background(), parseDoc(t, tt.lines...), ws)

			require.Equal(t, StatusFailed, outcome.Status)
			assert.Equal(t, patch.ReasonPolicyViolation, outcome.Failure.Code)
			assert.Equal(t, tt.opIdx, outcome.Failure.OperationIndex)
			assert.Equal(t, files, ws.files)

			var violation *PolicyViolation
			assert.ErrorAs(t, outcome.Err(), &violation)
		})
	}
}

func TestCommit_NotifiesObservers(t *testing.T) {
	ws := newMemWorkspace(map[string]string{"c.txt": "foo\n"})
	doc := parseDoc(t,
		"*** Begin Patch",
		"*** Update File: c.txt",
		"-foo",
		"+bar",
		"*** End Patch",
	)

	var events []types.PatchEvent
	observer := ObserverFunc(func(e types.PatchEvent) { events = append(events, e) })
	coordinator := NewCoordinator(WithObserver(observer), WithObserver(nil))

	outcome := coordinator.Commit(context.Background(), doc, ws)
	require.True(t, outcome.Applied())
	require.Len(t, events, 2)

	assert.Equal(t, types.EventTypePatchPlanned, events[0].Type)
	assert.Equal(t, 1, events[0].LinesAdded)
	assert.Equal(t, 1, events[0].LinesRemoved)
	assert.Equal(t, types.EventTypePatchApplied, events[1].Type)
	assert.Equal(t, []string{"c.txt"}, events[1].Touched)
	assert.Equal(t, outcome.CommitID, events[1].CommitID)

	events = nil
	failed := coordinator.Commit(context.Background(), doc, ws)
	require.False(t, failed.Applied())
	require.Len(t, events, 1)
	assert.Equal(t, types.EventTypePatchFailed, events[0].Type)
	assert.Equal(t, string(patch.ReasonContextNotFound), events[0].Reason)
	assert.True(t, events[0].IsFailure())
}

func TestPlan_StagesWithoutWriting(t *testing.T) {
	ws := newMemWorkspace(map[string]string{"c.txt": "x\nfoo\ny\n"})
	doc := parseDoc(t,
		"*** Begin Patch",
		"*** Update File: c.txt",
		"-foo",
		"+bar",
		"*** Add File: d.txt",
		"+d",
		"*** End Patch",
	)

	plan, err := NewCoordinator().Plan(context.Background(), doc, ws)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 2)
	assert.Equal(t, "x\nbar\ny\n", plan.Changes[0].Content)
	assert.Equal(t, []string{"c.txt", "d.txt"}, plan.Touched())

	snap, ok := plan.Snapshot("c.txt")
	require.True(t, ok)
	assert.Equal(t, "x\nfoo\ny\n", snap.Content)
	assert.Zero(t, ws.mutations)

	bad := parseDoc(t,
		"*** Begin Patch",
		"*** Delete File: nope.txt",
		"*** End Patch",
	)
	_, err = NewCoordinator().Plan(context.Background(), bad, ws)
	var failure *Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, patch.ReasonNotFound, failure.Code)
	assert.Equal(t, "operation 0: nope.txt: file does not exist", err.Error())
}
