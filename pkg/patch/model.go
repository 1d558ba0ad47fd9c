package patch

// Document is a parsed patch: an ordered, non-empty list of file operations
// where every path appears at most once.
type Document struct {
	Operations []FileOperation
}

// Paths returns every path the document references, in document order.
// Move destinations follow their source path.
func (d *Document) Paths() []string {
	paths := make([]string, 0, len(d.Operations))
	for _, op := range d.Operations {
		paths = append(paths, op.FilePath())
		if u, ok := op.(*UpdateFile); ok && u.MoveTo != "" {
			paths = append(paths, u.MoveTo)
		}
	}
	return paths
}

// OperationKind identifies the variant of a FileOperation.
type OperationKind string

const (
	OperationAdd    OperationKind = "add"
	OperationDelete OperationKind = "delete"
	OperationUpdate OperationKind = "update"
)

// FileOperation is one file section of a patch. The set of implementations
// is closed: *AddFile, *DeleteFile and *UpdateFile.
type FileOperation interface {
	Kind() OperationKind
	FilePath() string
	isFileOperation()
}

// AddFile creates a new file with the given content.
type AddFile struct {
	Path    string
	Content string
}

// DeleteFile removes an existing file.
type DeleteFile struct {
	Path string
}

// UpdateFile edits an existing file hunk by hunk and optionally renames it.
type UpdateFile struct {
	Path   string
	MoveTo string
	Hunks  []Hunk
}

func (*AddFile) Kind() OperationKind    { return OperationAdd }
func (*DeleteFile) Kind() OperationKind { return OperationDelete }
func (*UpdateFile) Kind() OperationKind { return OperationUpdate }

func (o *AddFile) FilePath() string    { return o.Path }
func (o *DeleteFile) FilePath() string { return o.Path }
func (o *UpdateFile) FilePath() string { return o.Path }

func (*AddFile) isFileOperation()    {}
func (*DeleteFile) isFileOperation() {}
func (*UpdateFile) isFileOperation() {}

// Hunk is one contiguous edit region inside an UpdateFile.
type Hunk struct {
	// Anchor is an optional free-text hint (typically an enclosing
	// declaration) that narrows where the hunk is searched for.
	Anchor string

	// Lines holds the context, removed and added lines in patch order.
	Lines []LineOp

	// EndOfFile requires the hunk to match at the very end of the file.
	EndOfFile bool
}

// LineKind tags a LineOp.
type LineKind int

const (
	LineContext LineKind = iota
	LineRemove
	LineAdd
)

// String returns the sigil-free name of the kind.
func (k LineKind) String() string {
	switch k {
	case LineContext:
		return "context"
	case LineRemove:
		return "remove"
	case LineAdd:
		return "add"
	default:
		return "unknown"
	}
}

// LineOp is a single sigil-prefixed line of a hunk with the sigil stripped.
type LineOp struct {
	Kind LineKind
	Text string
}

// Before returns the lines the hunk expects to find in the file:
// context and removed lines, in order.
func (h Hunk) Before() []string {
	lines := make([]string, 0, len(h.Lines))
	for _, op := range h.Lines {
		if op.Kind != LineAdd {
			lines = append(lines, op.Text)
		}
	}
	return lines
}

// After returns the lines that replace the matched region:
// context and added lines, in order.
func (h Hunk) After() []string {
	lines := make([]string, 0, len(h.Lines))
	for _, op := range h.Lines {
		if op.Kind != LineRemove {
			lines = append(lines, op.Text)
		}
	}
	return lines
}

// Counts returns the number of added and removed lines in the hunk.
func (h Hunk) Counts() (added, removed int) {
	for _, op := range h.Lines {
		switch op.Kind {
		case LineAdd:
			added++
		case LineRemove:
			removed++
		}
	}
	return added, removed
}
