package extract

import (
	"strings"

	"github.com/sage-hq/sage/core/artifact"
)

// extractPatch parses a unified diff. Each --- a/<path> / +++ b/<path> header
// yields a file_path artifact (excluding /dev/null). Added lines are also
// collected into a content artifact and scanned for URLs so that payloads
// smuggled into a patch body are not a blind spot.
func extractPatch(list *artifact.List, patch string) {
	if patch == "" {
		return
	}

	var added strings.Builder
	for _, line := range strings.Split(patch, "\n") {
		switch {
		case strings.HasPrefix(line, "--- "), strings.HasPrefix(line, "+++ "):
			if p := patchHeaderPath(line[4:]); p != "" {
				list.Add(artifact.Artifact{
					Type:    artifact.TypeFilePath,
					Value:   artifact.NormalizeFilePath(p),
					Context: "from patch header",
				})
			}
		case strings.HasPrefix(line, "+"):
			added.WriteString(line[1:])
			added.WriteByte('\n')
		}
	}

	body := strings.TrimRight(added.String(), "\n")
	if body == "" {
		return
	}
	ctx := "patch additions"
	if len(body) > maxContentBytes {
		body = body[:maxContentBytes]
		ctx = "patch additions truncated=true"
	}
	list.Add(artifact.Artifact{Type: artifact.TypeContent, Value: body, Context: ctx})
	for _, u := range ExtractURLs(body) {
		list.Add(artifact.Artifact{Type: artifact.TypeURL, Value: u, Context: "from patch"})
	}
}

// patchHeaderPath strips diff prefixes (a/, b/) and timestamp suffixes from a
// unified-diff header path. /dev/null marks a created or deleted file and
// yields no artifact.
func patchHeaderPath(raw string) string {
	// Headers may carry a tab-separated timestamp.
	if i := strings.IndexByte(raw, '\t'); i >= 0 {
		raw = raw[:i]
	}
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "/dev/null" {
		return ""
	}
	if strings.HasPrefix(raw, "a/") || strings.HasPrefix(raw, "b/") {
		raw = raw[2:]
	}
	return raw
}
