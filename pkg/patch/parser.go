package patch

import (
	"fmt"
	pathpkg "path"
	"strings"
)

// Envelope and section markers of the patch format.
const (
	BeginMarker  = "*** Begin Patch"
	EndMarker    = "*** End Patch"
	AddPrefix    = "*** Add File: "
	DeletePrefix = "*** Delete File: "
	UpdatePrefix = "*** Update File: "
	MovePrefix   = "*** Move to: "
	EOFMarker    = "*** End of File"
	HunkPrefix   = "@@"
)

// Parse turns patch text into a Document. It is purely syntactic and never
// touches the filesystem.
//
// The text must be wrapped in BeginMarker/EndMarker lines. Leading and
// trailing blank lines and CRLF line endings are tolerated.
func Parse(text string) (*Document, error) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	start, end := 0, len(lines)
	for start < end && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	for end > start && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}

	if start == end {
		return nil, &ParseError{Code: ReasonMalformedEnvelope, Message: "patch is empty"}
	}
	if strings.TrimSpace(lines[start]) != BeginMarker {
		return nil, &ParseError{
			Code:    ReasonMalformedEnvelope,
			Line:    start + 1,
			Text:    lines[start],
			Message: fmt.Sprintf("patch must start with %q", BeginMarker),
		}
	}
	if end-start < 2 || strings.TrimSpace(lines[end-1]) != EndMarker {
		return nil, &ParseError{
			Code:    ReasonMalformedEnvelope,
			Line:    end,
			Text:    lines[end-1],
			Message: fmt.Sprintf("patch must end with %q", EndMarker),
		}
	}

	p := &parser{
		lines: lines,
		pos:   start + 1,
		end:   end - 1,
		seen:  make(map[string]int),
	}
	return p.parse()
}

// parser walks the lines between the envelope markers once, left to right.
type parser struct {
	lines []string
	pos   int
	end   int // index of the end marker
	seen  map[string]int
}

func (p *parser) parse() (*Document, error) {
	doc := &Document{}

	for p.pos < p.end {
		line := p.lines[p.pos]
		lineNo := p.pos + 1

		var (
			op  FileOperation
			err error
		)
		switch {
		case strings.TrimSpace(line) == "":
			p.pos++
			continue
		case strings.HasPrefix(line, AddPrefix):
			op, err = p.parseAdd(line, lineNo)
		case strings.HasPrefix(line, DeletePrefix):
			op, err = p.parseDelete(line, lineNo)
		case strings.HasPrefix(line, UpdatePrefix):
			op, err = p.parseUpdate(line, lineNo)
		default:
			return nil, &ParseError{
				Code:    ReasonUnknownOperation,
				Line:    lineNo,
				Text:    line,
				Message: "expected an Add File, Delete File or Update File header",
			}
		}
		if err != nil {
			return nil, err
		}
		doc.Operations = append(doc.Operations, op)
	}

	if len(doc.Operations) == 0 {
		return nil, &ParseError{Code: ReasonMalformedEnvelope, Message: "patch contains no file operations"}
	}
	return doc, nil
}

func (p *parser) parseAdd(header string, lineNo int) (*AddFile, error) {
	path, err := p.claimPath(strings.TrimPrefix(header, AddPrefix), header, lineNo)
	if err != nil {
		return nil, err
	}
	p.pos++

	var content strings.Builder
	for p.pos < p.end {
		line := p.lines[p.pos]
		if isSectionHeader(line) || p.blankToSectionEnd() {
			break
		}
		if !strings.HasPrefix(line, "+") {
			return nil, &ParseError{
				Code:    ReasonMalformedHunk,
				Line:    p.pos + 1,
				Text:    line,
				Message: "lines of an added file must start with '+'",
			}
		}
		content.WriteString(line[1:])
		content.WriteByte('\n')
		p.pos++
	}

	return &AddFile{Path: path, Content: content.String()}, nil
}

// blankToSectionEnd reports whether every line from the current position to
// the next section header, or to the end marker, is blank.
func (p *parser) blankToSectionEnd() bool {
	for i := p.pos; i < p.end; i++ {
		line := p.lines[i]
		if isSectionHeader(line) {
			return true
		}
		if strings.TrimSpace(line) != "" {
			return false
		}
	}
	return true
}

func (p *parser) parseDelete(header string, lineNo int) (*DeleteFile, error) {
	path, err := p.claimPath(strings.TrimPrefix(header, DeletePrefix), header, lineNo)
	if err != nil {
		return nil, err
	}
	p.pos++
	return &DeleteFile{Path: path}, nil
}

func (p *parser) parseUpdate(header string, lineNo int) (*UpdateFile, error) {
	path, err := p.claimPath(strings.TrimPrefix(header, UpdatePrefix), header, lineNo)
	if err != nil {
		return nil, err
	}
	op := &UpdateFile{Path: path}
	p.pos++

	if p.pos < p.end && strings.HasPrefix(p.lines[p.pos], MovePrefix) {
		line := p.lines[p.pos]
		dest, err := p.claimPath(strings.TrimPrefix(line, MovePrefix), line, p.pos+1)
		if err != nil {
			return nil, err
		}
		op.MoveTo = dest
		p.pos++
	}

	var (
		cur     *Hunk
		curLine int
	)
	flush := func() error {
		if cur == nil {
			return nil
		}
		if len(cur.Lines) == 0 {
			return &ParseError{
				Code:    ReasonMalformedHunk,
				Line:    curLine,
				Text:    p.lines[curLine-1],
				Message: "hunk has no lines",
			}
		}
		op.Hunks = append(op.Hunks, *cur)
		cur = nil
		return nil
	}
	open := func() {
		if cur == nil {
			cur = &Hunk{}
			curLine = p.pos + 1
		}
	}

	for p.pos < p.end {
		line := p.lines[p.pos]
		if isSectionHeader(line) {
			break
		}

		switch {
		case strings.TrimSpace(line) == EOFMarker:
			if cur == nil || len(cur.Lines) == 0 {
				return nil, &ParseError{
					Code:    ReasonMalformedHunk,
					Line:    p.pos + 1,
					Text:    line,
					Message: "end of file marker must follow a hunk",
				}
			}
			cur.EndOfFile = true
			if err := flush(); err != nil {
				return nil, err
			}
		case strings.HasPrefix(line, HunkPrefix):
			if err := flush(); err != nil {
				return nil, err
			}
			cur = &Hunk{Anchor: parseAnchor(line)}
			curLine = p.pos + 1
		case line == "":
			open()
			cur.Lines = append(cur.Lines, LineOp{Kind: LineContext})
		case line[0] == ' ':
			open()
			cur.Lines = append(cur.Lines, LineOp{Kind: LineContext, Text: line[1:]})
		case line[0] == '-':
			open()
			cur.Lines = append(cur.Lines, LineOp{Kind: LineRemove, Text: line[1:]})
		case line[0] == '+':
			open()
			cur.Lines = append(cur.Lines, LineOp{Kind: LineAdd, Text: line[1:]})
		case strings.HasPrefix(line, "***"):
			return nil, &ParseError{
				Code:    ReasonUnknownOperation,
				Line:    p.pos + 1,
				Text:    line,
				Message: "unrecognized directive inside an update section",
			}
		default:
			return nil, &ParseError{
				Code:    ReasonMalformedHunk,
				Line:    p.pos + 1,
				Text:    line,
				Message: "hunk lines must start with ' ', '-', '+' or '@@'",
			}
		}
		p.pos++
	}

	if err := flush(); err != nil {
		return nil, err
	}
	if len(op.Hunks) == 0 && op.MoveTo == "" {
		return nil, &ParseError{
			Code:    ReasonMalformedHunk,
			Line:    lineNo,
			Text:    header,
			Message: "update section has no hunks",
		}
	}
	return op, nil
}

// claimPath validates a header path and records it so no path is used twice.
func (p *parser) claimPath(raw, line string, lineNo int) (string, error) {
	path, err := CleanPath(raw)
	if err != nil {
		return "", &ParseError{Code: ReasonUnsafePath, Line: lineNo, Text: line, Message: err.Error()}
	}
	if prev, dup := p.seen[path]; dup {
		return "", &ParseError{
			Code:    ReasonDuplicatePath,
			Line:    lineNo,
			Text:    line,
			Message: fmt.Sprintf("%s is already used at line %d", path, prev),
		}
	}
	p.seen[path] = lineNo
	return path, nil
}

// CleanPath validates a patch path and returns it in clean, slash-separated
// form. Absolute paths and any ".." segment are rejected.
func CleanPath(raw string) (string, error) {
	path := strings.TrimSpace(raw)
	if path == "" {
		return "", fmt.Errorf("path is required")
	}

	slashed := strings.ReplaceAll(path, "\\", "/")
	if strings.HasPrefix(slashed, "/") || hasDriveLetter(slashed) {
		return "", fmt.Errorf("absolute path %q is not allowed", path)
	}
	for _, segment := range strings.Split(slashed, "/") {
		if segment == ".." {
			return "", fmt.Errorf("path %q escapes the workspace", path)
		}
	}

	cleaned := pathpkg.Clean(slashed)
	if cleaned == "." {
		return "", fmt.Errorf("path %q does not name a file", path)
	}
	return cleaned, nil
}

func hasDriveLetter(path string) bool {
	if len(path) < 2 || path[1] != ':' {
		return false
	}
	c := path[0]
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isSectionHeader(line string) bool {
	return strings.HasPrefix(line, AddPrefix) ||
		strings.HasPrefix(line, DeletePrefix) ||
		strings.HasPrefix(line, UpdatePrefix)
}

// parseAnchor extracts the free text after "@@". A closing "@@" is dropped.
func parseAnchor(line string) string {
	anchor := strings.TrimSpace(strings.TrimPrefix(line, HunkPrefix))
	anchor = strings.TrimSuffix(anchor, HunkPrefix)
	return strings.TrimSpace(anchor)
}
