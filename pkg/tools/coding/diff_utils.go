package coding

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// diffContextLines is the number of unchanged lines shown around each change.
const diffContextLines = 3

// devNull names the missing side of a created or deleted file.
const devNull = "/dev/null"

type diffLine struct {
	op   byte // ' ', '-' or '+'
	text string
}

// GenerateUnifiedDiff renders the change from oldContent to newContent as
// a unified diff of path.
func GenerateUnifiedDiff(oldContent, newContent, path string) string {
	return generateUnifiedDiff(oldContent, newContent, "a/"+path, "b/"+path)
}

// generateUnifiedDiff renders a unified diff with explicit header names.
// It returns "" when the contents are identical.
func generateUnifiedDiff(oldContent, newContent, oldName, newName string) string {
	lines := lineDiff(oldContent, newContent)

	changed := false
	for _, l := range lines {
		if l.op != ' ' {
			changed = true
			break
		}
	}
	if !changed {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "--- %s\n+++ %s\n", oldName, newName)
	writeHunks(&b, lines, diffContextLines)
	return b.String()
}

// lineDiff computes a line-level diff of the two contents.
func lineDiff(oldContent, newContent string) []diffLine {
	dmp := diffmatchpatch.New()
	oldChars, newChars, lineArray := dmp.DiffLinesToChars(oldContent, newContent)
	diffs := dmp.DiffMain(oldChars, newChars, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	var lines []diffLine
	for _, d := range diffs {
		op := byte(' ')
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			op = '-'
		case diffmatchpatch.DiffInsert:
			op = '+'
		}
		for _, text := range splitLines(d.Text) {
			lines = append(lines, diffLine{op: op, text: text})
		}
	}
	return lines
}

// writeHunks groups changes that are within 2*context lines of each other
// into one hunk.
func writeHunks(b *strings.Builder, lines []diffLine, context int) {
	n := len(lines)

	// oldAt[k] and newAt[k] count old and new lines before index k.
	oldAt := make([]int, n+1)
	newAt := make([]int, n+1)
	for k, l := range lines {
		oldAt[k+1] = oldAt[k]
		newAt[k+1] = newAt[k]
		if l.op != '+' {
			oldAt[k+1]++
		}
		if l.op != '-' {
			newAt[k+1]++
		}
	}

	i := 0
	for i < n {
		for i < n && lines[i].op == ' ' {
			i++
		}
		if i == n {
			return
		}

		start := max(i-context, 0)
		end := i
		for {
			for end < n && lines[end].op != ' ' {
				end++
			}
			next := end
			for next < n && lines[next].op == ' ' {
				next++
			}
			if next < n && next-end <= 2*context {
				end = next
				continue
			}
			end = min(end+context, n)
			break
		}

		oldStart, oldCount := oldAt[start]+1, oldAt[end]-oldAt[start]
		newStart, newCount := newAt[start]+1, newAt[end]-newAt[start]
		if oldCount == 0 {
			oldStart--
		}
		if newCount == 0 {
			newStart--
		}

		fmt.Fprintf(b, "@@ -%d,%d +%d,%d @@\n", oldStart, oldCount, newStart, newCount)
		for _, l := range lines[start:end] {
			b.WriteByte(l.op)
			b.WriteString(l.text)
			b.WriteByte('\n')
		}

		i = end
	}
}

// splitLines splits content into lines, handling different line ending styles.
// Empty content returns an empty slice (not a slice with one empty string).
func splitLines(content string) []string {
	if content == "" {
		return []string{}
	}

	normalized := strings.ReplaceAll(content, "\r\n", "\n")
	lines := strings.Split(normalized, "\n")

	// A trailing newline yields an empty final element; drop it.
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	return lines
}
