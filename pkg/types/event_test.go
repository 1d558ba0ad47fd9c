package types

import (
	"testing"
	"time"
)

func TestPatchEventType(t *testing.T) {
	tests := []struct {
		eventType PatchEventType
		name      string
		expected  string
	}{
		{
			name:      "patch_planned",
			eventType: EventTypePatchPlanned,
			expected:  "patch_planned",
		},
		{
			name:      "patch_applied",
			eventType: EventTypePatchApplied,
			expected:  "patch_applied",
		},
		{
			name:      "patch_failed",
			eventType: EventTypePatchFailed,
			expected:  "patch_failed",
		},
		{
			name:      "patch_partial",
			eventType: EventTypePatchPartial,
			expected:  "patch_partial",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if string(tt.eventType) != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, string(tt.eventType))
			}
		})
	}
}

func TestNewPatchAppliedEvent(t *testing.T) {
	event := NewPatchAppliedEvent("c1", []string{"a.txt", "b.txt"}, time.Second)

	if event.Type != EventTypePatchApplied {
		t.Errorf("expected type %s, got %s", EventTypePatchApplied, event.Type)
	}
	if len(event.Touched) != 2 {
		t.Errorf("expected 2 touched paths, got %d", len(event.Touched))
	}
	if event.OperationIndex != -1 || event.HunkIndex != -1 {
		t.Errorf("expected unset indexes, got %d/%d", event.OperationIndex, event.HunkIndex)
	}
	if event.IsFailure() {
		t.Error("applied event should not be a failure")
	}
	if event.Metadata == nil {
		t.Error("expected metadata to be initialized")
	}
}

func TestNewPatchFailedEvent(t *testing.T) {
	event := NewPatchFailedEvent("c2", 0, 1, "c.txt", "context_not_found", "hunk 1 in c.txt: context not found")

	if !event.IsFailure() {
		t.Error("failed event should be a failure")
	}
	if event.HunkIndex != 1 {
		t.Errorf("expected hunk index 1, got %d", event.HunkIndex)
	}
	if event.Reason != "context_not_found" {
		t.Errorf("expected reason context_not_found, got %s", event.Reason)
	}
}

func TestNewPatchPartialEvent(t *testing.T) {
	event := NewPatchPartialEvent("c3", 2, "z.txt", "partial_commit", "disk full", []string{"x.txt"}, []string{"y.txt"})

	if !event.IsFailure() {
		t.Error("partial event should be a failure")
	}
	if len(event.Recovered) != 1 || event.Recovered[0] != "x.txt" {
		t.Errorf("unexpected recovered paths: %v", event.Recovered)
	}
	if len(event.Unrecovered) != 1 || event.Unrecovered[0] != "y.txt" {
		t.Errorf("unexpected unrecovered paths: %v", event.Unrecovered)
	}
}

func TestNewPatchPlannedEvent(t *testing.T) {
	event := NewPatchPlannedEvent("c4", []string{"a.txt"}, 3, 1)

	if event.Type != EventTypePatchPlanned {
		t.Errorf("expected type %s, got %s", EventTypePatchPlanned, event.Type)
	}
	if event.LinesAdded != 3 || event.LinesRemoved != 1 {
		t.Errorf("unexpected line counts +%d/-%d", event.LinesAdded, event.LinesRemoved)
	}
}
