package command_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"ojeval/internal/cli/command"
)

func TestBuildRequest(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	source := filepath.Join(dir, "main.py")
	if err := os.WriteFile(source, []byte("print(input())"), 0o600); err != nil {
		t.Fatalf("write source: %v", err)
	}
	registry := command.Registry()

	tests := []struct {
		name     string
		key      string
		params   command.Params
		wantPath string
		wantBody map[string]any
		wantErr  bool
	}{
		{
			name:     "create from file",
			key:      "submission create",
			params:   command.Params{"problem": "p1", "lang": "python", "file": source, "code": "_file_", "contest": "c1"},
			wantPath: "/api/v1/submissions",
			wantBody: map[string]any{"problemId": "p1", "language": "python", "code": "print(input())", "contestId": "c1"},
		},
		{
			name:     "rerun escapes id",
			key:      "submission rerun",
			params:   command.Params{"id": "a/b"},
			wantPath: "/api/v1/submissions/a%2Fb/rerun",
		},
		{
			name:     "leaderboard query",
			key:      "contest leaderboard",
			params:   command.Params{"contest_id": "c1", "limit": "5", "detail": "true"},
			wantPath: "/api/v1/contests/c1/leaderboard?detail=true&limit=5",
		},
		{name: "bad limit", key: "contest leaderboard", params: command.Params{"id": "c1", "limit": "x"}, wantErr: true},
		{name: "missing id", key: "submission status", params: command.Params{}, wantErr: true},
		{name: "missing code", key: "submission create", params: command.Params{"problem_id": "p1", "language": "c"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req, err := command.BuildRequest(registry[tt.key], tt.params)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", req)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if req.Path != tt.wantPath {
				t.Fatalf("expected path %s, got %s", tt.wantPath, req.Path)
			}
			if tt.wantBody == nil {
				if len(req.Body) != 0 {
					t.Fatalf("unexpected body %s", req.Body)
				}
				return
			}
			var body map[string]any
			if err := json.Unmarshal(req.Body, &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			for k, v := range tt.wantBody {
				if body[k] != v {
					t.Fatalf("body[%s]: expected %v, got %v", k, v, body[k])
				}
			}
		})
	}
}

func TestWantsWatch(t *testing.T) {
	t.Parallel()
	registry := command.Registry()
	if !command.WantsWatch(registry["submission watch"], command.Params{}) {
		t.Fatalf("watch command should always watch")
	}
	if command.WantsWatch(registry["submission create"], command.Params{"watch": "no"}) {
		t.Fatalf("invalid flag should not watch")
	}
	if !command.WantsWatch(registry["submission rerun"], command.Params{"watch": "true"}) {
		t.Fatalf("watch=true should watch")
	}
}

func TestCanonicalizePrefersFieldName(t *testing.T) {
	t.Parallel()
	fields := []command.Field{{Name: "problem_id", Aliases: []string{"problem", "pid"}}}

	params := command.Params{"Problem": "p1"}
	params.Canonicalize(fields)
	if got := params.Get("problem_id"); got != "p1" {
		t.Fatalf("alias not renamed: %q", got)
	}
	if params.Has("problem") {
		t.Fatalf("alias key kept: %v", params)
	}

	params = command.Params{"problem_id": "p2", "pid": "p3"}
	params.Canonicalize(fields)
	if got := params.Get("problem_id"); got != "p2" {
		t.Fatalf("explicit name overridden: %q", got)
	}

	params = command.Params{" Problem_ID ": "p4", "PID": "p5"}
	params.Canonicalize(fields)
	if got := params.Get("problem_id"); got != "p4" || len(params) != 1 {
		t.Fatalf("mixed-case keys not folded: %v", params)
	}
}

func TestReadFileRejectsLargeSources(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "big.cpp")
	if err := os.WriteFile(path, make([]byte, 1<<20+1), 0o600); err != nil {
		t.Fatalf("write source: %v", err)
	}
	if _, err := command.ReadFile(path); err == nil {
		t.Fatal("expected size error")
	}
	if _, err := command.ReadFile(filepath.Join(t.TempDir(), "missing.cpp")); err == nil {
		t.Fatal("expected missing file error")
	}
}
