package patch

import (
	"errors"
	"fmt"
	"strings"
)

// Reason is a stable, machine-readable failure code. Callers use it to decide
// whether to retry, ask the model for a new patch, or abort.
type Reason string

const (
	// Parse failures.
	ReasonMalformedEnvelope Reason = "malformed_envelope"
	ReasonUnknownOperation  Reason = "unknown_operation"
	ReasonUnsafePath        Reason = "unsafe_path"
	ReasonMalformedHunk     Reason = "malformed_hunk"
	ReasonDuplicatePath     Reason = "duplicate_path"

	// Locate failures.
	ReasonContextNotFound Reason = "context_not_found"
	ReasonAmbiguousMatch  Reason = "ambiguous_match"
	ReasonAnchorNotFound  Reason = "anchor_not_found"

	// Apply and plan failures. None of these mutate the workspace.
	ReasonAlreadyExists    Reason = "already_exists"
	ReasonNotFound         Reason = "not_found"
	ReasonOutsideWorkspace Reason = "outside_workspace"
	ReasonReadFailed       Reason = "read_failed"
	ReasonPolicyViolation  Reason = "policy_violation"
	ReasonStaleSnapshot    Reason = "stale_snapshot"
	ReasonCanceled         Reason = "canceled"

	// Commit failures. The workspace was mutated at least once.
	ReasonWriteFailed   Reason = "write_failed"
	ReasonPartialCommit Reason = "partial_commit"
)

// Reasoned is implemented by every error the engine produces.
type Reasoned interface {
	error
	Reason() Reason
}

// ReasonOf extracts the reason code from err, or "" if err carries none.
func ReasonOf(err error) Reason {
	var r Reasoned
	if errors.As(err, &r) {
		return r.Reason()
	}
	return ""
}

// ParseError reports a syntactic problem in the patch text.
type ParseError struct {
	Code    Reason
	Line    int    // 1-based line number in the patch text, 0 if not line specific
	Text    string // offending line, if any
	Message string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse error (%s) at line %d: %s: %q", e.Code, e.Line, e.Message, e.Text)
	}
	return fmt.Sprintf("parse error (%s): %s", e.Code, e.Message)
}

// Reason returns the failure code.
func (e *ParseError) Reason() Reason { return e.Code }

// LocateError reports that a hunk could not be bound to a unique location.
type LocateError struct {
	Code      Reason
	Path      string
	HunkIndex int
	Anchor    string
	Before    []string // the text the hunk expected to find
	Matches   int      // number of candidate locations, for ambiguous matches
}

func (e *LocateError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "hunk %d in %s: ", e.HunkIndex, e.Path)
	switch e.Code {
	case ReasonAnchorNotFound:
		fmt.Fprintf(&b, "anchor %q not found", e.Anchor)
	case ReasonAmbiguousMatch:
		fmt.Fprintf(&b, "context matches %d locations, add an anchor or more context", e.Matches)
	default:
		b.WriteString("context not found")
	}
	if len(e.Before) > 0 && e.Code != ReasonAnchorNotFound {
		b.WriteString("; expected:\n")
		b.WriteString(strings.Join(e.Before, "\n"))
	}
	return b.String()
}

// Reason returns the failure code.
func (e *LocateError) Reason() Reason { return e.Code }

// ApplyError reports why an operation could not be staged. HunkIndex is -1
// when the failure is not tied to a hunk.
type ApplyError struct {
	Code      Reason
	Path      string
	HunkIndex int
	Err       error
}

func (e *ApplyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Path, e.Err)
	}
	switch e.Code {
	case ReasonAlreadyExists:
		return fmt.Sprintf("%s: file already exists", e.Path)
	case ReasonNotFound:
		return fmt.Sprintf("%s: file does not exist", e.Path)
	default:
		return fmt.Sprintf("%s: %s", e.Path, e.Code)
	}
}

// Reason returns the failure code.
func (e *ApplyError) Reason() Reason { return e.Code }

// Unwrap exposes the underlying error, typically a *LocateError.
func (e *ApplyError) Unwrap() error { return e.Err }
