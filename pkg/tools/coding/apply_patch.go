package coding

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"

	"github.com/entrhq/forge-patch/pkg/agent/tools"
	"github.com/entrhq/forge-patch/pkg/patch"
	"github.com/entrhq/forge-patch/pkg/report"
	"github.com/entrhq/forge-patch/pkg/security/workspace"
	"github.com/entrhq/forge-patch/pkg/transaction"
)

var (
	_ tools.Tool        = (*ApplyPatchTool)(nil)
	_ tools.Previewable = (*ApplyPatchTool)(nil)
)

// ApplyPatchTool applies multi-file, context-anchored patches to the
// workspace as a single all-or-nothing transaction.
type ApplyPatchTool struct {
	fs          *workspace.FS
	coordinator *transaction.Coordinator
}

// NewApplyPatchTool creates a new ApplyPatchTool. A nil coordinator gets a
// default one with no policy and no observers.
func NewApplyPatchTool(fs *workspace.FS, coordinator *transaction.Coordinator) *ApplyPatchTool {
	if coordinator == nil {
		coordinator = transaction.NewCoordinator()
	}
	return &ApplyPatchTool{
		fs:          fs,
		coordinator: coordinator,
	}
}

// ApplyPatchRequest is the typed input of the tool. It has exactly one
// field; any aliasing of argument names belongs in the caller.
type ApplyPatchRequest struct {
	XMLName xml.Name `xml:"arguments" json:"-"`
	Patch   string   `xml:"patch" json:"patch"`
}

// ApplyPatchResult is the outcome of Run.
type ApplyPatchResult struct {
	Observation report.Observation

	// Outcome is nil when the patch text did not parse.
	Outcome *transaction.Outcome

	// ParseErr is set when the patch text did not parse.
	ParseErr error
}

// Metadata returns the structured result carried alongside the observation
// text in tool result events.
func (r *ApplyPatchResult) Metadata() map[string]interface{} {
	metadata := map[string]interface{}{
		"status": string(r.Observation.Status),
	}

	if r.ParseErr != nil {
		metadata["reason"] = string(patch.ReasonOf(r.ParseErr))
		metadata["operation_index"] = -1
		metadata["hunk_index"] = -1
		var pe *patch.ParseError
		if errors.As(r.ParseErr, &pe) && pe.Line > 0 {
			metadata["line"] = pe.Line
		}
		return metadata
	}

	outcome := r.Outcome
	metadata["commit_id"] = outcome.CommitID
	added, removed := outcome.LineCounts()
	metadata["lines_added"] = added
	metadata["lines_removed"] = removed

	if outcome.Applied() {
		metadata["touched"] = outcome.Touched
		return metadata
	}

	f := outcome.Failure
	metadata["reason"] = string(f.Code)
	metadata["operation_index"] = f.OperationIndex
	metadata["hunk_index"] = f.HunkIndex
	if f.Path != "" {
		metadata["path"] = f.Path
	}
	if len(f.Recovered) > 0 {
		metadata["recovered"] = f.Recovered
	}
	if len(f.Unrecovered) > 0 {
		metadata["unrecovered"] = f.Unrecovered
	}
	return metadata
}

// Name returns the tool name.
func (t *ApplyPatchTool) Name() string {
	return "apply_patch"
}

// Description returns the tool description.
func (t *ApplyPatchTool) Description() string {
	return `Apply a patch that adds, deletes, updates or renames one or more files. The patch is applied atomically: if any file section fails, no file is changed.

Format:
*** Begin Patch
*** Add File: path/to/new.txt
+every line of the new file prefixed with +
*** Delete File: path/to/old.txt
*** Update File: path/to/file.go
*** Move to: path/to/renamed.go   (optional)
@@ func name() {                  (optional anchor line to narrow the search)
 unchanged context line
-removed line
+added line
*** End Patch

Paths are relative to the workspace. Include enough context lines for each change to be unique; a change that matches more than one location is rejected.`
}

// Schema returns the JSON schema for the tool's input parameters.
func (t *ApplyPatchTool) Schema() map[string]interface{} {
	return tools.ObjectSchema([]tools.Property{{
		Name:        "patch",
		Type:        "string",
		Description: "The full patch text, from *** Begin Patch to *** End Patch",
	}}, "patch")
}

// Execute decodes the XML arguments and applies the patch. Patch failures
// are not Go errors: they are described in the result text and in the
// "status" and "reason" metadata.
func (t *ApplyPatchTool) Execute(ctx context.Context, argsXML []byte) (string, map[string]interface{}, error) {
	req, err := decodeRequest(argsXML)
	if err != nil {
		return "", nil, err
	}

	result := t.Run(ctx, req)
	return result.Observation.Text, result.Metadata(), nil
}

// Run parses and commits req.Patch.
func (t *ApplyPatchTool) Run(ctx context.Context, req ApplyPatchRequest) *ApplyPatchResult {
	doc, err := patch.Parse(req.Patch)
	if err != nil {
		return &ApplyPatchResult{
			Observation: report.FormatError(err),
			ParseErr:    err,
		}
	}

	outcome := t.coordinator.Commit(ctx, doc, t.fs)
	return &ApplyPatchResult{
		Observation: report.Format(outcome),
		Outcome:     outcome,
	}
}

// XMLExample provides a concrete XML usage example for this tool.
func (t *ApplyPatchTool) XMLExample() string {
	return `<tool>
<server_name>local</server_name>
<tool_name>apply_patch</tool_name>
<arguments>
  <patch><![CDATA[*** Begin Patch
*** Add File: docs/NOTES.md
+# Notes
*** Update File: src/main.go
@@ func main() {
-	fmt.Println("old")
+	fmt.Println("new")
 }
*** Delete File: src/unused.go
*** End Patch]]></patch>
</arguments>
</tool>`
}

// GeneratePreview implements the Previewable interface to show a diff preview.
func (t *ApplyPatchTool) GeneratePreview(ctx context.Context, argsXML []byte) (*tools.ToolPreview, error) {
	req, err := decodeRequest(argsXML)
	if err != nil {
		return nil, err
	}
	return t.Preview(ctx, req)
}

// Preview plans req.Patch against the workspace without writing and
// returns a unified diff of every staged change.
func (t *ApplyPatchTool) Preview(ctx context.Context, req ApplyPatchRequest) (*tools.ToolPreview, error) {
	doc, err := patch.Parse(req.Patch)
	if err != nil {
		return nil, err
	}

	plan, err := t.coordinator.Plan(ctx, doc, t.fs)
	if err != nil {
		return nil, fmt.Errorf("patch would not apply: %w", err)
	}

	var diff strings.Builder
	added, removed := 0, 0
	for _, ch := range plan.Changes {
		before, _ := plan.Snapshot(ch.Path)
		diff.WriteString(changeDiff(ch, before.Content))
		added += ch.LinesAdded
		removed += ch.LinesRemoved
	}

	files := plan.Touched()
	return &tools.ToolPreview{
		Type:        tools.PreviewTypeDiff,
		Title:       fmt.Sprintf("Apply patch to %d file(s)", len(plan.Changes)),
		Description: fmt.Sprintf("This will change %s (+%d/-%d)", strings.Join(files, ", "), added, removed),
		Content:     diff.String(),
		Metadata: map[string]interface{}{
			"files":         files,
			"lines_added":   added,
			"lines_removed": removed,
		},
	}, nil
}

// changeDiff renders one staged change as a unified diff with git-style
// headers for created, deleted and renamed files.
func changeDiff(ch *patch.Change, before string) string {
	switch {
	case ch.Kind == patch.ChangeCreate:
		return generateUnifiedDiff("", ch.Content, devNull, "b/"+ch.Path)
	case ch.Kind == patch.ChangeDelete:
		return generateUnifiedDiff(before, "", "a/"+ch.Path, devNull)
	case ch.MoveTo != "":
		d := generateUnifiedDiff(before, ch.Content, "a/"+ch.Path, "b/"+ch.MoveTo)
		if d == "" {
			return fmt.Sprintf("--- a/%s\n+++ b/%s\n", ch.Path, ch.MoveTo)
		}
		return d
	default:
		return GenerateUnifiedDiff(before, ch.Content, ch.Path)
	}
}

func decodeRequest(argsXML []byte) (ApplyPatchRequest, error) {
	var req ApplyPatchRequest
	if err := tools.UnmarshalXMLWithFallback(argsXML, &req); err != nil {
		return req, fmt.Errorf("invalid arguments: %w", err)
	}
	if strings.TrimSpace(req.Patch) == "" {
		return req, fmt.Errorf("patch is required")
	}
	return req, nil
}
