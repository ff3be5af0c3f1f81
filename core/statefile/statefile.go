// Package statefile owns Sage's on-disk mutable state discipline: locating
// the state directory, writing files atomically, and cleaning up temp files
// left behind by crashed processes. Every store in the pipeline (allowlist,
// verdict cache, plugin scan cache, approvals) persists through this package
// so that concurrent short-lived hook processes never observe a half-written
// file.
package statefile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// tmpMaxAge is how long an orphaned .tmp file may survive before the startup
// sweep removes it.
const tmpMaxAge = 5 * time.Minute

// Home returns the Sage state directory, respecting SAGE_HOME.
func Home() string {
	if h := os.Getenv("SAGE_HOME"); h != "" {
		return h
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".sage")
}

// WriteAtomic writes data to path via a uniquely named temp file in the same
// directory followed by a rename. The temp file is created with mode 0600.
// On rename failure the temp file is unlinked.
func WriteAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating state dir %s: %w", dir, err)
	}

	tmp := fmt.Sprintf("%s.%s.tmp", path, uuid.NewString()[:8])
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("renaming %s: %w", tmp, err)
	}
	return nil
}

// WriteJSON marshals v with indentation and writes it atomically to path.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling %s: %w", path, err)
	}
	return WriteAtomic(path, data)
}

// ReadJSON reads path into v. A missing file leaves v untouched and returns
// os.ErrNotExist wrapped; callers that fail open should treat that case as
// an empty store.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// PruneTemp removes .tmp files in dir older than five minutes. It is called
// once at hook startup to clean up after crashed processes; errors are
// swallowed because pruning is best-effort.
func PruneTemp(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-tmpMaxAge)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".tmp") {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		_ = os.Remove(filepath.Join(dir, e.Name()))
	}
}
