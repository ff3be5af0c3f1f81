package statefile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestWriteAtomic_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.json")

	if err := WriteAtomic(path, []byte(`{"a":1}`)); err != nil {
		t.Fatalf("WriteAtomic: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading back: %v", err)
	}
	if string(data) != `{"a":1}` {
		t.Fatalf("unexpected content %q", data)
	}

	// No temp files may remain after a successful write.
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Fatalf("leftover temp file %s", e.Name())
		}
	}
}

func TestWriteAtomic_CreatesParentDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "store.json")
	if err := WriteAtomic(path, []byte("x")); err != nil {
		t.Fatalf("WriteAtomic: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file to exist: %v", err)
	}
}

func TestWriteJSON_ReadJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "v.json")

	type payload struct {
		Name string `json:"name"`
	}
	if err := WriteJSON(path, payload{Name: "sage"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	var got payload
	if err := ReadJSON(path, &got); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if got.Name != "sage" {
		t.Fatalf("expected sage, got %q", got.Name)
	}
}

func TestReadJSON_MissingFile(t *testing.T) {
	var v map[string]any
	err := ReadJSON(filepath.Join(t.TempDir(), "missing.json"), &v)
	if !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestPruneTemp_RemovesOnlyStaleTempFiles(t *testing.T) {
	dir := t.TempDir()

	stale := filepath.Join(dir, "cache.json.abc123.tmp")
	fresh := filepath.Join(dir, "cache.json.def456.tmp")
	keep := filepath.Join(dir, "cache.json")
	for _, p := range []string{stale, fresh, keep} {
		if err := os.WriteFile(p, []byte("x"), 0o600); err != nil {
			t.Fatalf("writing fixture: %v", err)
		}
	}
	old := time.Now().Add(-10 * time.Minute)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	PruneTemp(dir)

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatal("stale temp file should have been removed")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatal("fresh temp file should survive")
	}
	if _, err := os.Stat(keep); err != nil {
		t.Fatal("non-temp file should survive")
	}
}

func TestHome_RespectsEnv(t *testing.T) {
	t.Setenv("SAGE_HOME", "/tmp/sage-test-home")
	if got := Home(); got != "/tmp/sage-test-home" {
		t.Fatalf("expected SAGE_HOME override, got %q", got)
	}
}
