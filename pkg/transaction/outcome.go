package transaction

import (
	"fmt"
	"strings"

	"github.com/entrhq/forge-patch/pkg/patch"
)

// Status is the ternary result of a commit.
type Status string

const (
	// StatusApplied means every change was committed.
	StatusApplied Status = "applied"
	// StatusFailed means nothing was committed, or every committed path
	// was rolled back.
	StatusFailed Status = "failed"
	// StatusPartial means the workspace may be inconsistent: a commit
	// failed and rollback could not restore every path.
	StatusPartial Status = "partial"
)

// Outcome is the result of Coordinator.Commit.
type Outcome struct {
	Status   Status
	CommitID string

	// Touched lists affected paths in document order when applied.
	Touched []string

	// Changes holds the staged changes, parallel to the document's
	// operations. It is empty when planning failed.
	Changes []*patch.Change

	// Failure is set unless Status is StatusApplied.
	Failure *Failure
}

// Applied reports whether the patch was committed in full.
func (o *Outcome) Applied() bool {
	return o.Status == StatusApplied
}

// Err returns the failure as an error, or nil when applied.
func (o *Outcome) Err() error {
	if o.Failure == nil {
		return nil
	}
	return o.Failure
}

// LineCounts sums added and removed lines over the staged changes.
func (o *Outcome) LineCounts() (added, removed int) {
	for _, ch := range o.Changes {
		added += ch.LinesAdded
		removed += ch.LinesRemoved
	}
	return added, removed
}

// Failure locates and explains why a commit did not apply.
type Failure struct {
	// OperationIndex is the 0-based index of the failing operation, or -1
	// when the failure is not tied to one (for example cancellation).
	OperationIndex int

	// HunkIndex is the 0-based hunk index inside an update, or -1.
	HunkIndex int

	Path string
	Code patch.Reason
	Err  error

	// Recovered and Unrecovered are set for commit-phase failures.
	Recovered   []string
	Unrecovered []string
}

// Message returns the human-readable failure description.
func (f *Failure) Message() string {
	if f.Err == nil {
		return string(f.Code)
	}
	return f.Err.Error()
}

func (f *Failure) Error() string {
	if f.OperationIndex < 0 {
		return f.Message()
	}
	return fmt.Sprintf("operation %d: %s", f.OperationIndex, f.Message())
}

// Reason returns the failure code.
func (f *Failure) Reason() patch.Reason { return f.Code }

// Unwrap exposes the underlying error.
func (f *Failure) Unwrap() error { return f.Err }

// Mutated reports whether the workspace was written before the failure.
func (f *Failure) Mutated() bool {
	return f.Code == patch.ReasonWriteFailed || f.Code == patch.ReasonPartialCommit
}

// CommitError reports a write or delete that failed after planning
// succeeded, together with the rollback result.
type CommitError struct {
	Code        patch.Reason
	Path        string
	Err         error
	Recovered   []string
	Unrecovered []string
}

func (e *CommitError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "commit failed at %s: %v", e.Path, e.Err)
	if len(e.Unrecovered) > 0 {
		fmt.Fprintf(&b, "; rollback could not restore %s", strings.Join(e.Unrecovered, ", "))
	} else if len(e.Recovered) > 0 {
		fmt.Fprintf(&b, "; rolled back %s", strings.Join(e.Recovered, ", "))
	}
	return b.String()
}

// Reason returns the failure code.
func (e *CommitError) Reason() patch.Reason { return e.Code }

// Unwrap exposes the write or delete error.
func (e *CommitError) Unwrap() error { return e.Err }

// PlanError wraps a failure that happened before any mutation and is not
// already a reasoned engine error (an unreadable file, a stale snapshot).
type PlanError struct {
	Code patch.Reason
	Path string
	Err  error
}

func (e *PlanError) Error() string {
	if e.Path == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

// Reason returns the failure code.
func (e *PlanError) Reason() patch.Reason { return e.Code }

// Unwrap exposes the underlying error.
func (e *PlanError) Unwrap() error { return e.Err }
