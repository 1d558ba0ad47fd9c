package tools

import (
	"encoding/xml"
	"fmt"
	"regexp"
	"strings"
)

const (
	defaultServerName = "local"
	maxXMLSize        = 10 * 1024 * 1024 // 10MB limit for XML tool calls
)

var toolRegex = regexp.MustCompile(`(?s)<tool>.*?</tool>`)

// ampersandEntityRegex matches ampersands that are already part of XML entities
// to avoid double-escaping them. Matches: &amp; &lt; &gt; &quot; &apos; &#123; &#xAB;
var ampersandEntityRegex = regexp.MustCompile(`&(?:amp|lt|gt|quot|apos|#\d+|#x[0-9a-fA-F]+);`)

// ParseToolCall extracts the first XML tool call from text, such as a saved
// model response.
//
// Expected format:
//
//	<tool>
//	<server_name>local</server_name>
//	<tool_name>apply_patch</tool_name>
//	<arguments>
//	  <patch><![CDATA[*** Begin Patch
//	...
//	*** End Patch]]></patch>
//	</arguments>
//	</tool>
//
// Returns the parsed ToolCall and the remaining text after removing the tool call,
// or an error if parsing fails.
func ParseToolCall(text string) (*ToolCall, string, error) {
	if len(text) > maxXMLSize {
		return nil, text, fmt.Errorf("tool call XML exceeds maximum size of %d bytes", maxXMLSize)
	}

	match := toolRegex.FindString(text)
	if match == "" {
		return nil, text, fmt.Errorf("no tool call found in text")
	}

	toolXML := strings.TrimSpace(match)

	var wire wireToolCall
	if err := UnmarshalXMLWithFallback([]byte(toolXML), &wire); err != nil {
		snippet := toolXML
		if len(snippet) > 200 {
			snippet = snippet[:200] + "..."
		}
		return nil, text, fmt.Errorf("failed to unmarshal tool call XML: %w\nXML snippet: %s", err, snippet)
	}

	if wire.ToolName == "" {
		return nil, text, fmt.Errorf("tool_name is required in tool call")
	}

	call := &ToolCall{
		ServerName: wire.ServerName,
		ToolName:   wire.ToolName,
		Arguments:  wrapArguments(wire.Arguments.InnerXML),
	}
	if call.ServerName == "" {
		call.ServerName = defaultServerName
	}

	remainingText := strings.TrimSpace(toolRegex.ReplaceAllString(text, ""))
	return call, remainingText, nil
}

// wireToolCall is the XML shape of a tool call.
type wireToolCall struct {
	XMLName    xml.Name `xml:"tool"`
	ServerName string   `xml:"server_name"`
	ToolName   string   `xml:"tool_name"`
	Arguments  struct {
		InnerXML []byte `xml:",innerxml"`
	} `xml:"arguments"`
}

// wrapArguments restores the <arguments> element around its inner XML so
// argument structs can be decoded with their own XMLName.
func wrapArguments(inner []byte) []byte {
	const prefix = "<arguments>"
	const suffix = "</arguments>"

	out := make([]byte, 0, len(prefix)+len(inner)+len(suffix))
	out = append(out, prefix...)
	out = append(out, inner...)
	return append(out, suffix...)
}

// HasToolCall checks if the text contains a tool call.
func HasToolCall(text string) bool {
	return toolRegex.MatchString(text)
}

// UnmarshalXMLWithFallback attempts to unmarshal XML, with fallback to
// escape unescaped ampersands if the initial parse fails.
// LLMs frequently emit bare & characters outside CDATA sections.
func UnmarshalXMLWithFallback(data []byte, v interface{}) error {
	err := xml.Unmarshal(data, v)
	if err == nil {
		return nil
	}

	return xml.Unmarshal(escapeUnescapedAmpersands(data), v)
}

// escapeUnescapedAmpersands replaces bare & with &amp; while preserving
// existing entities (&amp;, &lt;, &gt;, &quot;, &apos;, &#..;)
func escapeUnescapedAmpersands(data []byte) []byte {
	text := string(data)

	entityPositions := make(map[int]bool)
	for _, match := range ampersandEntityRegex.FindAllStringIndex(text, -1) {
		entityPositions[match[0]] = true
	}

	var result strings.Builder
	result.Grow(len(text) + 20)

	for i := 0; i < len(text); i++ {
		if text[i] == '&' && !entityPositions[i] {
			result.WriteString("&amp;")
		} else {
			result.WriteByte(text[i])
		}
	}

	return []byte(result.String())
}
