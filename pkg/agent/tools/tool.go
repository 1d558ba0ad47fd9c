package tools

import (
	"context"
	"fmt"
)

// Tool is an operation a host agent can invoke by name. Arguments arrive as
// the <arguments> element of an XML tool call.
type Tool interface {
	Name() string
	Description() string

	// Schema describes the arguments as a JSON schema object.
	Schema() map[string]interface{}

	// Execute returns the observation text and its metadata. The error is
	// reserved for calls that cannot be decoded; a tool that ran and failed
	// reports that in the text and metadata.
	Execute(ctx context.Context, argumentsXML []byte) (string, map[string]interface{}, error)
}

// ToolCall is one tool invocation extracted from model output.
type ToolCall struct {
	ServerName string
	ToolName   string

	// Arguments is the complete <arguments>...</arguments> element.
	Arguments []byte
}

// Decode unmarshals the arguments element into v.
func (tc *ToolCall) Decode(v interface{}) error {
	if err := UnmarshalXMLWithFallback(tc.Arguments, v); err != nil {
		return fmt.Errorf("invalid %s arguments: %w", tc.ToolName, err)
	}
	return nil
}

// Previewable is implemented by tools that can describe their effect
// without performing it.
type Previewable interface {
	GeneratePreview(ctx context.Context, argumentsXML []byte) (*ToolPreview, error)
}

// PreviewType names the format of ToolPreview.Content.
type PreviewType string

// PreviewTypeDiff is a unified diff.
const PreviewTypeDiff PreviewType = "diff"

// ToolPreview is what a Previewable tool would do.
type ToolPreview struct {
	Type        PreviewType
	Title       string
	Description string
	Content     string
	Metadata    map[string]interface{}
}

// Property is one named argument in an object schema.
type Property struct {
	Name        string
	Type        string
	Description string
}

// ObjectSchema builds a JSON schema object from props. Every name in
// required must be one of the properties.
func ObjectSchema(props []Property, required ...string) map[string]interface{} {
	properties := make(map[string]interface{}, len(props))
	for _, p := range props {
		properties[p.Name] = map[string]interface{}{
			"type":        p.Type,
			"description": p.Description,
		}
	}

	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
