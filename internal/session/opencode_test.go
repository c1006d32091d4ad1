package session

import (
	"path/filepath"
	"testing"
)

const opencodeFixture = `{
  "id": "ses_1",
  "path": "/work/proj",
  "time": {"created": 1767340800000, "updated": 1767340860000},
  "vcs": {"branch": "main", "commit": "deadbeef", "remote": "origin"},
  "messages": [
    {
      "id": "msg_1",
      "role": "user",
      "time": {"created": 1767340800000},
      "parts": [{"type": "text", "text": "refactor the parser"}]
    },
    {
      "id": "msg_2",
      "role": "assistant",
      "time": {"created": 1767340810000},
      "parts": [
        {"type": "text", "text": "Done."},
        {"type": "tool", "tool": "bash", "input": "go build ./...", "state": {"status": "completed", "output": "ok"}}
      ]
    }
  ]
}`

func TestOpencodeAdapterParse(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ses_1.json")
	writeFile(t, path, opencodeFixture)

	rec, err := (opencodeAdapter{}).Parse(path)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if rec.OriginalID != "ses_1" {
		t.Errorf("OriginalID = %q", rec.OriginalID)
	}
	if rec.Branch != "main" || rec.Commit != "deadbeef" {
		t.Errorf("vcs fields = %q %q", rec.Branch, rec.Commit)
	}
	if rec.Title() != "refactor the parser" {
		t.Errorf("Title() = %q", rec.Title())
	}
	var sawToolCall, sawToolResult bool
	for _, e := range rec.Timeline {
		if e.Kind == EntryToolCall && e.Tool == ToolShell {
			sawToolCall = true
		}
		if e.Kind == EntryToolResult && e.ToolOutput == "ok" {
			sawToolResult = true
		}
	}
	if !sawToolCall || !sawToolResult {
		t.Errorf("missing expected tool entries: %+v", rec.Timeline)
	}
}

func TestOpencodeAdapterDiscover(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "ses_1.json"), opencodeFixture)
	writeFile(t, filepath.Join(dir, "ses_2.json"), opencodeFixture)

	paths, err := (opencodeAdapter{}).Discover(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 2 {
		t.Fatalf("len(paths) = %d, want 2", len(paths))
	}
}
