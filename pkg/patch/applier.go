package patch

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
)

// Snapshot is the content of a path as observed once at the start of a
// transaction. Version is an opaque token the workspace uses to detect
// changes between the read and the write. Mode holds the permission bits,
// or 0 when the workspace does not track them.
type Snapshot struct {
	Exists  bool
	Content string
	Version string
	Mode    fs.FileMode
}

// ChangeKind describes what committing a Change does to the workspace.
type ChangeKind string

const (
	ChangeCreate ChangeKind = "create"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

// Change is the staged result of applying one operation. A delete is a
// tombstone: Content is empty and the path is removed on commit.
type Change struct {
	Path    string
	Kind    ChangeKind
	Content string

	// MoveTo, when set, means Content is written to MoveTo and Path removed.
	MoveTo string

	Edits        []ResolvedEdit
	LinesAdded   int
	LinesRemoved int
}

// Apply computes the new content for op against the current snapshot of its
// path. It performs no I/O.
func Apply(op FileOperation, current Snapshot) (*Change, error) {
	switch o := op.(type) {
	case *AddFile:
		return applyAdd(o, current)
	case *DeleteFile:
		return applyDelete(o, current)
	case *UpdateFile:
		return applyUpdate(o, current)
	default:
		return nil, fmt.Errorf("unsupported file operation %T", op)
	}
}

func applyAdd(op *AddFile, current Snapshot) (*Change, error) {
	if current.Exists {
		return nil, &ApplyError{Code: ReasonAlreadyExists, Path: op.Path, HunkIndex: -1}
	}
	return &Change{
		Path:       op.Path,
		Kind:       ChangeCreate,
		Content:    op.Content,
		LinesAdded: len(SplitText(op.Content).Lines),
	}, nil
}

func applyDelete(op *DeleteFile, current Snapshot) (*Change, error) {
	if !current.Exists {
		return nil, &ApplyError{Code: ReasonNotFound, Path: op.Path, HunkIndex: -1}
	}
	return &Change{
		Path:         op.Path,
		Kind:         ChangeDelete,
		LinesRemoved: len(SplitText(current.Content).Lines),
	}, nil
}

func applyUpdate(op *UpdateFile, current Snapshot) (*Change, error) {
	if !current.Exists {
		return nil, &ApplyError{Code: ReasonNotFound, Path: op.Path, HunkIndex: -1}
	}

	text := SplitText(current.Content)
	buf := append([]string(nil), text.Lines...)
	eols := append([]string(nil), text.EOLs...)
	change := &Change{Path: op.Path, Kind: ChangeUpdate, MoveTo: op.MoveTo}

	cursor := 0
	for i, h := range op.Hunks {
		edit, err := Locate(h, buf, cursor)
		if err != nil {
			var le *LocateError
			if errors.As(err, &le) {
				le.Path = op.Path
				le.HunkIndex = i
				return nil, &ApplyError{Code: le.Code, Path: op.Path, HunkIndex: i, Err: le}
			}
			return nil, err
		}

		after := h.After()
		next := make([]string, 0, len(buf)-(edit.End-edit.Start)+len(after))
		next = append(next, buf[:edit.Start]...)
		next = append(next, after...)
		next = append(next, buf[edit.End:]...)
		buf = next

		nextEOLs := make([]string, 0, len(next))
		nextEOLs = append(nextEOLs, eols[:edit.Start]...)
		nextEOLs = append(nextEOLs, hunkEOLs(h, eols, edit.Start)...)
		nextEOLs = append(nextEOLs, eols[edit.End:]...)
		eols = nextEOLs
		cursor = edit.Start + len(after)

		added, removed := h.Counts()
		change.LinesAdded += added
		change.LinesRemoved += removed
		change.Edits = append(change.Edits, edit)
	}

	text.Lines = buf
	text.EOLs = eols
	change.Content = text.String()
	return change, nil
}

// Summary returns a one-line description such as "M path (+3/-1)".
func (c *Change) Summary() string {
	var b strings.Builder
	switch {
	case c.MoveTo != "":
		fmt.Fprintf(&b, "R %s -> %s", c.Path, c.MoveTo)
	case c.Kind == ChangeCreate:
		fmt.Fprintf(&b, "A %s", c.Path)
	case c.Kind == ChangeDelete:
		fmt.Fprintf(&b, "D %s", c.Path)
	default:
		fmt.Fprintf(&b, "M %s", c.Path)
	}
	fmt.Fprintf(&b, " (+%d/-%d)", c.LinesAdded, c.LinesRemoved)
	return b.String()
}
