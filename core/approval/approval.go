// Package approval tracks ask-verdict approvals across hook invocations.
// A pending record is written when a tool call is held for approval; once the
// user approves, the pending record is consumed into short-lived per-artifact
// entries that let the identical retry through without re-prompting.
package approval

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sage-hq/sage/core/artifact"
	"github.com/sage-hq/sage/core/statefile"
)

const (
	// PendingTTL bounds how long a held tool call stays approvable.
	PendingTTL = time.Hour

	// ConsumedTTL is the replay window after an approval. ParanoidConsumedTTL
	// halves it for users who opted into the strictest preset.
	ConsumedTTL         = 10 * time.Minute
	ParanoidConsumedTTL = 5 * time.Minute

	// staleFileAge is how long an approvals file may sit untouched before the
	// startup sweep rewrites or removes it.
	staleFileAge = 2 * time.Hour
)

// Pending is a held tool call awaiting user approval.
type Pending struct {
	ThreatID    string              `json:"threat_id,omitempty"`
	ThreatTitle string              `json:"threat_title,omitempty"`
	Artifacts   []artifact.Artifact `json:"artifacts"`
	CreatedAt   time.Time           `json:"created_at"`
}

// Consumed is one approved artifact, valid until ExpiresAt.
type Consumed struct {
	ArtifactType artifact.Type `json:"artifact_type"`
	Value        string        `json:"value"`
	ThreatID     string        `json:"threat_id,omitempty"`
	ApprovedAt   time.Time     `json:"approved_at"`
	ExpiresAt    time.Time     `json:"expires_at"`
}

// Store reads and writes per-session approval files in dir.
type Store struct {
	dir         string
	consumedTTL time.Duration
	now         func() time.Time
}

// NewStore returns a store over dir using the default consumed TTL.
func NewStore(dir string) *Store {
	return &Store{dir: dir, consumedTTL: ConsumedTTL, now: time.Now}
}

// WithConsumedTTL overrides the replay window, e.g. under the paranoid
// preset.
func (s *Store) WithConsumedTTL(ttl time.Duration) *Store {
	s.consumedTTL = ttl
	return s
}

func (s *Store) pendingPath(sid string) string {
	return filepath.Join(s.dir, "pending-approvals-"+sanitizeSID(sid)+".json")
}

func (s *Store) consumedPath(sid string) string {
	return filepath.Join(s.dir, "consumed-approvals-"+sanitizeSID(sid)+".json")
}

// sanitizeSID keeps session ids path-safe.
func sanitizeSID(sid string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, sid)
}

// ActionID derives a stable key for a tool call from its name and raw
// parameters, so an identical retry maps to the same approval.
func ActionID(tool string, params map[string]any) string {
	// json.Marshal sorts map keys, making the digest stable across retries.
	raw, err := json.Marshal(map[string]any{"tool": tool, "params": params})
	if err != nil {
		raw = []byte(tool)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// AddPending records a held tool call, pruning entries past the pending TTL
// first.
func (s *Store) AddPending(sid, toolUseID string, p Pending) error {
	path := s.pendingPath(sid)
	m := map[string]Pending{}
	if err := statefile.ReadJSON(path, &m); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading pending approvals: %w", err)
	}

	cutoff := s.now().Add(-PendingTTL)
	for k, v := range m {
		if v.CreatedAt.Before(cutoff) {
			delete(m, k)
		}
	}

	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	m[toolUseID] = p
	return statefile.WriteJSON(path, m)
}

// ConsumePending removes the pending record for toolUseID and writes one
// consumed entry per artifact. Returns nil when no live pending record
// exists. One-shot: a second call for the same id finds nothing.
func (s *Store) ConsumePending(sid, toolUseID string) (*Pending, error) {
	path := s.pendingPath(sid)
	m := map[string]Pending{}
	if err := statefile.ReadJSON(path, &m); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading pending approvals: %w", err)
	}

	p, ok := m[toolUseID]
	if !ok || p.CreatedAt.Before(s.now().Add(-PendingTTL)) {
		return nil, nil
	}
	delete(m, toolUseID)
	if err := statefile.WriteJSON(path, m); err != nil {
		return nil, fmt.Errorf("removing pending approval: %w", err)
	}

	consumed := map[string]Consumed{}
	cpath := s.consumedPath(sid)
	if err := statefile.ReadJSON(cpath, &consumed); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading consumed approvals: %w", err)
	}
	now := s.now()
	for _, a := range p.Artifacts {
		key := string(a.Type) + ":" + a.Value
		consumed[key] = Consumed{
			ArtifactType: a.Type,
			Value:        a.Value,
			ThreatID:     p.ThreatID,
			ApprovedAt:   now,
			ExpiresAt:    now.Add(s.consumedTTL),
		}
	}
	if err := statefile.WriteJSON(cpath, consumed); err != nil {
		return nil, fmt.Errorf("writing consumed approvals: %w", err)
	}
	return &p, nil
}

// FindConsumed returns the live consumed entry for an artifact in one
// session, pruning expired entries as a side effect.
func (s *Store) FindConsumed(sid string, typ artifact.Type, value string) (*Consumed, error) {
	return s.findIn(s.consumedPath(sid), typ, value)
}

// FindConsumedAnySession scans every consumed-approvals file in the state
// directory. Used when the host does not thread a stable session id through
// retries.
func (s *Store) FindConsumedAnySession(typ artifact.Type, value string) (*Consumed, error) {
	paths, err := filepath.Glob(filepath.Join(s.dir, "consumed-approvals-*.json"))
	if err != nil {
		return nil, err
	}
	for _, p := range paths {
		c, err := s.findIn(p, typ, value)
		if err != nil {
			continue
		}
		if c != nil {
			return c, nil
		}
	}
	return nil, nil
}

func (s *Store) findIn(path string, typ artifact.Type, value string) (*Consumed, error) {
	m := map[string]Consumed{}
	if err := statefile.ReadJSON(path, &m); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading consumed approvals: %w", err)
	}

	now := s.now()
	changed := false
	for k, v := range m {
		if !v.ExpiresAt.After(now) {
			delete(m, k)
			changed = true
		}
	}
	if changed {
		if err := statefile.WriteJSON(path, m); err != nil {
			return nil, fmt.Errorf("pruning consumed approvals: %w", err)
		}
	}

	if c, ok := m[string(typ)+":"+value]; ok {
		return &c, nil
	}
	return nil, nil
}

// PendingRecord is one held tool call surfaced by ListPending, carrying the
// session and action id needed to approve it.
type PendingRecord struct {
	SessionID string
	ActionID  string
	Pending
}

// ConsumedRecord is one live consumed entry surfaced by ListConsumed.
type ConsumedRecord struct {
	SessionID string
	Consumed
}

// ListPending returns every live pending approval across sessions, oldest
// first. Expired entries are skipped but left on disk for the sweep.
func (s *Store) ListPending() ([]PendingRecord, error) {
	paths, err := filepath.Glob(filepath.Join(s.dir, "pending-approvals-*.json"))
	if err != nil {
		return nil, err
	}
	cutoff := s.now().Add(-PendingTTL)
	var out []PendingRecord
	for _, path := range paths {
		m := map[string]Pending{}
		if statefile.ReadJSON(path, &m) != nil {
			continue
		}
		sid := sessionOf(path, "pending-approvals-")
		for id, v := range m {
			if v.CreatedAt.Before(cutoff) {
				continue
			}
			out = append(out, PendingRecord{SessionID: sid, ActionID: id, Pending: v})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ListConsumed returns every live consumed entry across sessions, soonest
// expiry first.
func (s *Store) ListConsumed() ([]ConsumedRecord, error) {
	paths, err := filepath.Glob(filepath.Join(s.dir, "consumed-approvals-*.json"))
	if err != nil {
		return nil, err
	}
	now := s.now()
	var out []ConsumedRecord
	for _, path := range paths {
		m := map[string]Consumed{}
		if statefile.ReadJSON(path, &m) != nil {
			continue
		}
		sid := sessionOf(path, "consumed-approvals-")
		for _, v := range m {
			if !v.ExpiresAt.After(now) {
				continue
			}
			out = append(out, ConsumedRecord{SessionID: sid, Consumed: v})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}

// sessionOf recovers the (sanitized) session id from an approvals file name.
func sessionOf(path, prefix string) string {
	name := strings.TrimPrefix(filepath.Base(path), prefix)
	return strings.TrimSuffix(name, ".json")
}

// SweepStale rewrites approvals files untouched for over two hours with
// their expired entries dropped, deleting files that end up empty. Runs at
// hook startup and via `sage approvals sweep`; failures are ignored. Returns
// the number of files removed.
func (s *Store) SweepStale() int {
	pending, _ := filepath.Glob(filepath.Join(s.dir, "pending-approvals-*.json"))
	consumed, _ := filepath.Glob(filepath.Join(s.dir, "consumed-approvals-*.json"))
	cutoff := s.now().Add(-staleFileAge)

	removed := 0
	for _, p := range pending {
		if !staleFile(p, cutoff) {
			continue
		}
		m := map[string]Pending{}
		if statefile.ReadJSON(p, &m) != nil {
			os.Remove(p)
			removed++
			continue
		}
		ttlCutoff := s.now().Add(-PendingTTL)
		for k, v := range m {
			if v.CreatedAt.Before(ttlCutoff) {
				delete(m, k)
			}
		}
		if rewriteOrRemove(p, len(m), m) {
			removed++
		}
	}
	for _, p := range consumed {
		if !staleFile(p, cutoff) {
			continue
		}
		m := map[string]Consumed{}
		if statefile.ReadJSON(p, &m) != nil {
			os.Remove(p)
			removed++
			continue
		}
		now := s.now()
		for k, v := range m {
			if !v.ExpiresAt.After(now) {
				delete(m, k)
			}
		}
		if rewriteOrRemove(p, len(m), m) {
			removed++
		}
	}
	return removed
}

func staleFile(path string, cutoff time.Time) bool {
	info, err := os.Stat(path)
	return err == nil && info.ModTime().Before(cutoff)
}

// rewriteOrRemove reports whether the file was removed.
func rewriteOrRemove(path string, n int, m any) bool {
	if n == 0 {
		os.Remove(path)
		return true
	}
	_ = statefile.WriteJSON(path, m)
	return false
}
