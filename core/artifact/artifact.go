// Package artifact defines the canonical artifact model used across the Sage
// evaluation pipeline. Every extractor produces Artifact values which are
// consumed by the heuristics engine, the allowlist store, and the decision
// engine. The package also owns the normalizers that keep allowlist and cache
// keys stable between writers and readers.
package artifact

// Type identifies the kind of value an artifact carries.
type Type string

// Artifact type constants.
const (
	TypeURL      Type = "url"
	TypeCommand  Type = "command"
	TypeFilePath Type = "file_path"
	TypeContent  Type = "content"
)

// Artifact is a single typed string extracted from a tool call. Value is
// always non-empty; Context carries optional free-text describing where the
// value came from (e.g. "heredoc body", "truncated=true").
type Artifact struct {
	Type    Type   `json:"type"`
	Value   string `json:"value"`
	Context string `json:"context,omitempty"`
}

// List is an ordered, deduplicated collection of artifacts. Deduplication is
// on (Type, Value); the first occurrence wins and order is preserved.
type List struct {
	items []Artifact
	seen  map[[2]string]struct{}
}

// NewList returns an empty List ready for use.
func NewList() *List {
	return &List{seen: make(map[[2]string]struct{})}
}

// Add appends an artifact unless an artifact with the same type and value is
// already present. Artifacts with an empty value are silently dropped.
func (l *List) Add(a Artifact) {
	if a.Value == "" {
		return
	}
	key := [2]string{string(a.Type), a.Value}
	if _, dup := l.seen[key]; dup {
		return
	}
	l.seen[key] = struct{}{}
	l.items = append(l.items, a)
}

// Items returns the artifacts in insertion order. The caller must not modify
// the returned slice.
func (l *List) Items() []Artifact {
	return l.items
}

// Len returns the number of artifacts in the list.
func (l *List) Len() int { return len(l.items) }

// Values returns the values of all artifacts of the given type, in order.
func (l *List) Values(t Type) []string {
	var out []string
	for _, a := range l.items {
		if a.Type == t {
			out = append(out, a.Value)
		}
	}
	return out
}
