package patch

import (
	"strings"
)

// Text is file content split into lines. Each line keeps its own
// terminator so mixed line endings survive an edit untouched.
type Text struct {
	Lines []string

	// EOLs is parallel to Lines: "\n", "\r\n", or "" for a final line
	// without a terminator.
	EOLs []string

	// EOL is the terminator used for a line that has none of its own.
	// It is the terminator of the first line, or "\n".
	EOL string

	// TrailingNewline records whether the content ended with a terminator.
	// Empty content counts as newline-terminated so lines added to an
	// empty file end with a newline.
	TrailingNewline bool
}

// SplitText splits content into lines on "\n", recording "\r\n" per line.
func SplitText(content string) Text {
	t := Text{EOL: "\n", TrailingNewline: true}
	if content == "" {
		return t
	}

	t.TrailingNewline = strings.HasSuffix(content, "\n")
	parts := strings.Split(strings.TrimSuffix(content, "\n"), "\n")
	t.Lines = make([]string, len(parts))
	t.EOLs = make([]string, len(parts))
	for i, line := range parts {
		last := i == len(parts)-1
		switch {
		case last && !t.TrailingNewline:
			t.EOLs[i] = ""
		case strings.HasSuffix(line, "\r"):
			line = strings.TrimSuffix(line, "\r")
			t.EOLs[i] = "\r\n"
		default:
			t.EOLs[i] = "\n"
		}
		t.Lines[i] = line
	}
	if t.EOLs[0] != "" {
		t.EOL = t.EOLs[0]
	}
	return t
}

// String joins the lines back together.
func (t Text) String() string {
	var b strings.Builder
	for i, line := range t.Lines {
		b.WriteString(line)
		if i == len(t.Lines)-1 && !t.TrailingNewline {
			break
		}
		b.WriteString(t.eolAt(i))
	}
	return b.String()
}

func (t Text) eolAt(i int) string {
	if i < len(t.EOLs) && t.EOLs[i] != "" {
		return t.EOLs[i]
	}
	if t.EOL != "" {
		return t.EOL
	}
	return "\n"
}

// hunkEOLs returns the terminators of the lines h writes in place of the
// region starting at start. Context lines keep their own. An added line
// takes the terminator of the line it replaces, else of the line before it,
// else of the line after it.
func hunkEOLs(h Hunk, eols []string, start int) []string {
	out := make([]string, 0, len(h.Lines))
	k := start
	replaced := ""
	for _, op := range h.Lines {
		switch op.Kind {
		case LineContext:
			out = append(out, eols[k])
			replaced = ""
			k++
		case LineRemove:
			replaced = eols[k]
			k++
		case LineAdd:
			switch {
			case replaced != "":
				out = append(out, replaced)
			case k > 0:
				out = append(out, eols[k-1])
			case k < len(eols):
				out = append(out, eols[k])
			default:
				out = append(out, "")
			}
		}
	}
	return out
}

// trimTrailing is the single normalization tier: trailing whitespace only.
func trimTrailing(s string) string {
	return strings.TrimRight(s, " \t\r\f\v")
}
