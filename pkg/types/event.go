package types

import "time"

// PatchEventType defines the type of event emitted by the patch engine.
type PatchEventType string

const (
	EventTypePatchPlanned PatchEventType = "patch_planned" // EventTypePatchPlanned indicates every operation validated and changes are staged.
	EventTypePatchApplied PatchEventType = "patch_applied" // EventTypePatchApplied indicates all staged changes were committed.
	EventTypePatchFailed  PatchEventType = "patch_failed"  // EventTypePatchFailed indicates the patch was rejected and the workspace is unchanged.
	EventTypePatchPartial PatchEventType = "patch_partial" // EventTypePatchPartial indicates a commit failed and rollback could not restore every path.
)

// PatchEvent describes one step of a patch transaction. Observers receive
// it by value and must not retain the slices beyond the call.
type PatchEvent struct {
	// Metadata holds optional additional information about the event.
	Metadata map[string]interface{}

	// Type indicates the kind of event.
	Type PatchEventType

	// CommitID uniquely identifies the transaction that emitted the event.
	CommitID string

	// Touched lists the paths affected, in document order.
	Touched []string

	// OperationIndex and HunkIndex locate a failure. Both are -1 when unknown.
	OperationIndex int
	HunkIndex      int

	// Path is the file involved in a failure.
	Path string

	// Reason is the machine-readable failure code.
	Reason string

	// Message is the human-readable failure description.
	Message string

	// Recovered and Unrecovered list rollback results for partial commits.
	Recovered   []string
	Unrecovered []string

	// LinesAdded and LinesRemoved summarize the staged changes.
	LinesAdded   int
	LinesRemoved int

	// Duration is how long the transaction took up to this event.
	Duration time.Duration
}

// IsFailure reports whether the event describes a failed transaction.
func (e PatchEvent) IsFailure() bool {
	return e.Type == EventTypePatchFailed || e.Type == EventTypePatchPartial
}

// NewPatchPlannedEvent creates a planned event for the staged paths.
func NewPatchPlannedEvent(commitID string, touched []string, linesAdded, linesRemoved int) PatchEvent {
	return PatchEvent{
		Type:           EventTypePatchPlanned,
		CommitID:       commitID,
		Touched:        touched,
		OperationIndex: -1,
		HunkIndex:      -1,
		LinesAdded:     linesAdded,
		LinesRemoved:   linesRemoved,
		Metadata:       make(map[string]interface{}),
	}
}

// NewPatchAppliedEvent creates an applied event.
func NewPatchAppliedEvent(commitID string, touched []string, duration time.Duration) PatchEvent {
	return PatchEvent{
		Type:           EventTypePatchApplied,
		CommitID:       commitID,
		Touched:        touched,
		OperationIndex: -1,
		HunkIndex:      -1,
		Duration:       duration,
		Metadata:       make(map[string]interface{}),
	}
}

// NewPatchFailedEvent creates a failed event. Use NewPatchPartialEvent when
// the workspace may have been left inconsistent.
func NewPatchFailedEvent(commitID string, operationIndex, hunkIndex int, path, reason, message string) PatchEvent {
	return PatchEvent{
		Type:           EventTypePatchFailed,
		CommitID:       commitID,
		OperationIndex: operationIndex,
		HunkIndex:      hunkIndex,
		Path:           path,
		Reason:         reason,
		Message:        message,
		Metadata:       make(map[string]interface{}),
	}
}

// NewPatchPartialEvent creates a partial-commit event.
func NewPatchPartialEvent(commitID string, operationIndex int, path, reason, message string, recovered, unrecovered []string) PatchEvent {
	return PatchEvent{
		Type:           EventTypePatchPartial,
		CommitID:       commitID,
		OperationIndex: operationIndex,
		HunkIndex:      -1,
		Path:           path,
		Reason:         reason,
		Message:        message,
		Recovered:      recovered,
		Unrecovered:    unrecovered,
		Metadata:       make(map[string]interface{}),
	}
}
