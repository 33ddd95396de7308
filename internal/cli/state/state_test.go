package state_test

import (
	"os"
	"path/filepath"
	"testing"

	"ojeval/internal/cli/state"
)

func TestSaveLoadClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")

	st, err := state.Load(path)
	if err != nil || st.AccessToken != "" {
		t.Fatalf("missing file should be empty state: %+v %v", st, err)
	}

	in := state.TokenState{AccessToken: "tok", Watching: map[string]int64{"s1": 2}}
	if err := state.Save(path, in); err != nil {
		t.Fatalf("save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("state must be private, got %v", info.Mode().Perm())
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %v", entries)
	}

	out, err := state.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if out.AccessToken != "tok" || out.Watching["s1"] != 2 {
		t.Fatalf("unexpected state: %+v", out)
	}

	if err := state.Clear(path); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := state.Clear(path); err != nil {
		t.Fatalf("clearing twice: %v", err)
	}
}

func TestLoadRejectsCorruptState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{"), 0o600); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := state.Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}
