// Package extract turns host tool-call payloads into ordered artifact lists.
// The host adapter has already mapped its native tool name onto one of the
// canonical tool names below; this package only understands the canonical
// shapes. Unknown tools yield an empty list, which the evaluator resolves
// per sensitivity.
package extract

import (
	"fmt"
	"strings"

	"github.com/sage-hq/sage/core/artifact"
)

// Canonical tool names understood by the extractor.
const (
	ToolBash       = "Bash"
	ToolWebFetch   = "WebFetch"
	ToolWrite      = "Write"
	ToolEdit       = "Edit"
	ToolRead       = "Read"
	ToolApplyPatch = "Apply-Patch"
	ToolDelete     = "Delete"
	ToolList       = "List"
	ToolSearch     = "Search"
)

// maxContentBytes caps how much file content is inspected. Larger payloads
// are truncated and the content artifact records the truncation in its
// Context so downstream consumers can see the flag.
const maxContentBytes = 64 * 1024

// FromToolCall extracts artifacts from a canonical tool call. The returned
// list is ordered and deduplicated on (type, value).
func FromToolCall(tool string, input map[string]any) *artifact.List {
	list := artifact.NewList()

	switch tool {
	case ToolBash:
		extractBash(list, str(input, "command"))
	case ToolWebFetch:
		if u := str(input, "url"); u != "" {
			list.Add(artifact.Artifact{Type: artifact.TypeURL, Value: u})
		}
	case ToolWrite:
		extractFileWithContent(list, str(input, "file_path"), str(input, "content"))
	case ToolEdit:
		extractFileWithContent(list, str(input, "file_path"), str(input, "new_string"))
	case ToolRead:
		if p := str(input, "file_path"); p != "" {
			list.Add(artifact.Artifact{Type: artifact.TypeFilePath, Value: artifact.NormalizeFilePath(p)})
		}
		if c := str(input, "content"); c != "" {
			addContent(list, c)
		}
	case ToolApplyPatch:
		extractPatch(list, str(input, "patch"))
	case ToolDelete, ToolList, ToolSearch:
		for _, field := range []string{"file_path", "path"} {
			if p := str(input, field); p != "" {
				list.Add(artifact.Artifact{Type: artifact.TypeFilePath, Value: artifact.NormalizeFilePath(p)})
				break
			}
		}
	}
	return list
}

// extractBash emits one command artifact containing the full command text,
// then URL artifacts for every literal URL in it. Heredoc bodies are part of
// the command text and are deliberately NOT stripped: a heredoc body is
// executable input and must stay visible to heuristic matching.
func extractBash(list *artifact.List, command string) {
	if command == "" {
		return
	}
	list.Add(artifact.Artifact{Type: artifact.TypeCommand, Value: command})
	for _, u := range ExtractURLs(command) {
		list.Add(artifact.Artifact{Type: artifact.TypeURL, Value: u, Context: "from command"})
	}
}

// extractFileWithContent handles Write/Edit payloads: one normalized
// file_path artifact, one capped content artifact, and URLs from content.
func extractFileWithContent(list *artifact.List, path, content string) {
	if path != "" {
		list.Add(artifact.Artifact{Type: artifact.TypeFilePath, Value: artifact.NormalizeFilePath(path)})
	}
	if content != "" {
		addContent(list, content)
	}
}

// addContent appends a content artifact capped at maxContentBytes plus URL
// artifacts found in the (capped) content.
func addContent(list *artifact.List, content string) {
	ctx := ""
	if len(content) > maxContentBytes {
		content = content[:maxContentBytes]
		ctx = "truncated=true"
	}
	list.Add(artifact.Artifact{Type: artifact.TypeContent, Value: content, Context: ctx})
	for _, u := range ExtractURLs(content) {
		list.Add(artifact.Artifact{Type: artifact.TypeURL, Value: u, Context: "from content"})
	}
}

// str reads a string field from a tool input map, tolerating absent or
// non-string values. Numeric values are rendered with fmt so adapters that
// send numbers where strings are expected still produce usable artifacts.
func str(input map[string]any, key string) string {
	v, ok := input[key]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	case float64, int, int64, bool:
		return fmt.Sprint(s)
	default:
		return ""
	}
}

// Summary renders a short, single-line description of a tool input for audit
// entries, truncated at 200 characters. Bash shows the command, WebFetch the
// URL, Write/Edit the file path; everything else falls back to a compact
// key=value rendering.
func Summary(tool string, input map[string]any) string {
	var s string
	switch tool {
	case ToolBash:
		s = str(input, "command")
	case ToolWebFetch:
		s = str(input, "url")
	case ToolWrite, ToolEdit, ToolRead:
		s = str(input, "file_path")
	default:
		parts := make([]string, 0, len(input))
		for k, v := range input {
			parts = append(parts, fmt.Sprintf("%s=%v", k, v))
		}
		s = strings.Join(parts, " ")
	}
	s = strings.ReplaceAll(s, "\n", " ")
	return Truncate(s, 200)
}

// Truncate shortens s to at most n bytes, appending an ellipsis marker when
// content was dropped.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
