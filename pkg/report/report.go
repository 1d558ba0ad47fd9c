// Package report turns transaction outcomes into observations suitable for
// returning to an agent loop or printing on a terminal.
package report

import (
	"fmt"
	"strings"

	"github.com/entrhq/forge-patch/pkg/patch"
	"github.com/entrhq/forge-patch/pkg/transaction"
)

// Observation is the text result of applying a patch together with its
// ternary status.
type Observation struct {
	Text   string             `json:"text"`
	Status transaction.Status `json:"status"`
}

// IsError reports whether the observation should be surfaced as an error
// event rather than a normal tool result.
func (o Observation) IsError() bool {
	return o.Status != transaction.StatusApplied
}

// Format renders outcome as an Observation.
func Format(outcome *transaction.Outcome) Observation {
	if outcome.Applied() {
		return Observation{Text: formatApplied(outcome), Status: transaction.StatusApplied}
	}
	return Observation{Text: formatFailure(outcome.Failure), Status: outcome.Status}
}

// FormatError renders an error that occurred before a transaction started,
// such as a parse error.
func FormatError(err error) Observation {
	var b strings.Builder
	b.WriteString("Failed to apply patch")
	if reason := patch.ReasonOf(err); reason != "" {
		fmt.Fprintf(&b, " (%s)", reason)
	}
	fmt.Fprintf(&b, ": %v\nNo files were changed.", err)
	return Observation{Text: b.String(), Status: transaction.StatusFailed}
}

func formatApplied(outcome *transaction.Outcome) string {
	var lines []string
	if len(outcome.Changes) > 0 {
		for _, ch := range outcome.Changes {
			lines = append(lines, "  "+changeLine(ch))
		}
	} else {
		for _, p := range outcome.Touched {
			lines = append(lines, "  M "+p)
		}
	}

	return fmt.Sprintf("Done! Applied patch to %d file(s):\n%s", len(lines), strings.Join(lines, "\n"))
}

func changeLine(ch *patch.Change) string {
	switch {
	case ch.MoveTo != "":
		return fmt.Sprintf("R %s -> %s", ch.Path, ch.MoveTo)
	case ch.Kind == patch.ChangeCreate:
		return "A " + ch.Path
	case ch.Kind == patch.ChangeDelete:
		return "D " + ch.Path
	default:
		return "M " + ch.Path
	}
}

func formatFailure(f *transaction.Failure) string {
	if f == nil {
		return "Failed to apply patch: unknown error"
	}

	var b strings.Builder
	if f.Code == patch.ReasonPartialCommit {
		b.WriteString("Patch partially applied")
	} else {
		b.WriteString("Failed to apply patch")
	}

	var where []string
	if f.OperationIndex >= 0 {
		where = append(where, fmt.Sprintf("operation %d", f.OperationIndex+1))
	}
	if f.Path != "" {
		where = append(where, f.Path)
	}
	if f.HunkIndex >= 0 {
		where = append(where, fmt.Sprintf("hunk %d", f.HunkIndex+1))
	}
	if len(where) > 0 {
		fmt.Fprintf(&b, " at %s", strings.Join(where, ", "))
	}
	fmt.Fprintf(&b, " [%s]\n%s\n", f.Code, f.Message())

	switch {
	case len(f.Unrecovered) > 0:
		fmt.Fprintf(&b, "WARNING: could not restore %s; the workspace may be inconsistent.", strings.Join(f.Unrecovered, ", "))
		if len(f.Recovered) > 0 {
			fmt.Fprintf(&b, "\nRestored: %s", strings.Join(f.Recovered, ", "))
		}
	case f.Mutated():
		b.WriteString("All written files were restored.")
		if len(f.Recovered) > 0 {
			fmt.Fprintf(&b, " Restored: %s", strings.Join(f.Recovered, ", "))
		}
	default:
		b.WriteString("No files were changed.")
	}

	return b.String()
}
