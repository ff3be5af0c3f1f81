// Package allowlist persists per-artifact-type user overrides. Three disjoint
// keyed maps cover URLs, commands, and file paths; membership testing applies
// the anti-smuggling rule so that one benign allowlisted artifact can never
// short-circuit evaluation of an unrelated suspicious one.
package allowlist

import (
	"os"
	"time"

	"github.com/sage-hq/sage/core/artifact"
	"github.com/sage-hq/sage/core/statefile"
)

// Entry records why and when a value was allowlisted.
type Entry struct {
	AddedAt         time.Time `json:"added_at"`
	Reason          string    `json:"reason"`
	OriginalVerdict string    `json:"original_verdict"`
}

// Store is the in-memory allowlist. URLs are keyed by normalized URL,
// commands by SHA-256 of the exact command text, file paths by the
// normalized path.
type Store struct {
	URLs      map[string]Entry `json:"urls"`
	Commands  map[string]Entry `json:"commands"`
	FilePaths map[string]Entry `json:"file_paths"`

	path string
}

// newStore returns an empty Store bound to path.
func newStore(path string) *Store {
	return &Store{
		URLs:      make(map[string]Entry),
		Commands:  make(map[string]Entry),
		FilePaths: make(map[string]Entry),
		path:      path,
	}
}

// Load reads the allowlist from path. A missing or unparseable file yields an
// empty store with no error: the allowlist is a user convenience, never a
// reason to fail a hook call. Keys are re-normalized on load so entries
// written by older versions keep matching.
func Load(path string) *Store {
	s := newStore(path)
	if err := statefile.ReadJSON(path, s); err != nil {
		if !os.IsNotExist(err) {
			// Corrupt file: start empty, the next save repairs it.
			return newStore(path)
		}
		return s
	}
	s.path = path

	renormalized := make(map[string]Entry, len(s.URLs))
	for k, v := range s.URLs {
		renormalized[artifact.NormalizeURL(k)] = v
	}
	s.URLs = renormalized

	paths := make(map[string]Entry, len(s.FilePaths))
	for k, v := range s.FilePaths {
		paths[artifact.NormalizeFilePath(k)] = v
	}
	s.FilePaths = paths

	if s.Commands == nil {
		s.Commands = make(map[string]Entry)
	}
	return s
}

// Save persists the store atomically to its path.
func (s *Store) Save() error {
	return statefile.WriteJSON(s.path, s)
}

// AddURL allowlists a URL under its normalized key.
func (s *Store) AddURL(raw, reason, originalVerdict string) {
	s.URLs[artifact.NormalizeURL(raw)] = Entry{AddedAt: time.Now().UTC(), Reason: reason, OriginalVerdict: originalVerdict}
}

// AddCommand allowlists a command under its SHA-256 key.
func (s *Store) AddCommand(cmd, reason, originalVerdict string) {
	s.Commands[artifact.HashCommand(cmd)] = Entry{AddedAt: time.Now().UTC(), Reason: reason, OriginalVerdict: originalVerdict}
}

// AddFilePath allowlists a file path under its normalized key.
func (s *Store) AddFilePath(p, reason, originalVerdict string) {
	s.FilePaths[artifact.NormalizeFilePath(p)] = Entry{AddedAt: time.Now().UTC(), Reason: reason, OriginalVerdict: originalVerdict}
}

// RemoveURL deletes a URL entry. Returns true if it existed.
func (s *Store) RemoveURL(raw string) bool {
	k := artifact.NormalizeURL(raw)
	_, ok := s.URLs[k]
	delete(s.URLs, k)
	return ok
}

// RemoveCommand deletes a command entry. Returns true if it existed.
func (s *Store) RemoveCommand(cmd string) bool {
	k := artifact.HashCommand(cmd)
	_, ok := s.Commands[k]
	delete(s.Commands, k)
	return ok
}

// RemoveFilePath deletes a file path entry. Returns true if it existed.
func (s *Store) RemoveFilePath(p string) bool {
	k := artifact.NormalizeFilePath(p)
	_, ok := s.FilePaths[k]
	delete(s.FilePaths, k)
	return ok
}

// IsAllowlisted applies the anti-smuggling membership rule to a full artifact
// list:
//
//   - any command artifact whose hash is allowlisted short-circuits, or
//   - any file_path artifact whose normalized path is allowlisted, or
//   - the list is non-empty, every artifact is a URL, and every URL is
//     allowlisted.
//
// Mixing an allowlisted URL with any non-URL artifact never short-circuits,
// and a URL-only list with any non-allowlisted member never short-circuits.
func (s *Store) IsAllowlisted(artifacts []artifact.Artifact) bool {
	if len(artifacts) == 0 {
		return false
	}

	allURLs := true
	allURLsListed := true
	for _, a := range artifacts {
		switch a.Type {
		case artifact.TypeCommand:
			allURLs = false
			if _, ok := s.Commands[artifact.HashCommand(a.Value)]; ok {
				return true
			}
		case artifact.TypeFilePath:
			allURLs = false
			if _, ok := s.FilePaths[artifact.NormalizeFilePath(a.Value)]; ok {
				return true
			}
		case artifact.TypeURL:
			if _, ok := s.URLs[artifact.NormalizeURL(a.Value)]; !ok {
				allURLsListed = false
			}
		default:
			allURLs = false
		}
	}
	return allURLs && allURLsListed
}
