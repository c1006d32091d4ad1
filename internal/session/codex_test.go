package session

import (
	"path/filepath"
	"testing"
)

const codexFixture = `{"type":"session_meta","payload":{"id":"abc123","cwd":"/work/proj","timestamp":"2026-01-02T09:00:00Z","git_branch":"feature/x"}}
{"type":"response_item","payload":{"id":"m1","type":"message","role":"user","content":"add a test","timestamp":"2026-01-02T09:00:01Z"}}
{"type":"response_item","payload":{"id":"f1","type":"function_call","name":"shell","arguments":"{\"command\":\"go test ./...\"}","timestamp":"2026-01-02T09:00:02Z"}}
{"type":"response_item","payload":{"id":"f1","type":"function_call_output","output":"ok","timestamp":"2026-01-02T09:00:03Z"}}
`

func TestCodexAdapterParse(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rollout-abc123.jsonl")
	writeFile(t, path, codexFixture)

	rec, err := (codexAdapter{}).Parse(path)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if rec.OriginalID != "abc123" {
		t.Errorf("OriginalID = %q", rec.OriginalID)
	}
	if rec.Branch != "feature/x" {
		t.Errorf("Branch = %q", rec.Branch)
	}
	if len(rec.Timeline) != 3 {
		t.Fatalf("len(Timeline) = %d, want 3", len(rec.Timeline))
	}
	if rec.Timeline[1].Tool != ToolShell {
		t.Errorf("tool = %v, want shell", rec.Timeline[1].Tool)
	}
	if rec.Timeline[2].Kind != EntryToolResult || rec.Timeline[2].ToolOutput != "ok" {
		t.Errorf("tool result entry = %+v", rec.Timeline[2])
	}
}

func TestCodexAdapterDiscover(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "rollout-1.jsonl"), codexFixture)
	writeFile(t, filepath.Join(dir, "rollout-2.jsonl"), codexFixture)

	paths, err := (codexAdapter{}).Discover(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 2 {
		t.Fatalf("len(paths) = %d, want 2", len(paths))
	}
}
