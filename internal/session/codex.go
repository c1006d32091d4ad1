package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// codexAdapter parses Codex CLI's rollout transcripts: one JSONL file per
// session under <root>/rollout-*.jsonl, each line a {"type", "payload"}
// envelope.
type codexAdapter struct{}

func (codexAdapter) Source() Source { return SourceCodex }

func (codexAdapter) Discover(root string) ([]string, error) {
	return discoverFiles(root, ".jsonl")
}

var codexToolMap = map[string]Tool{
	"shell":        ToolShell,
	"apply_patch":  ToolEdit,
	"read_file":    ToolRead,
	"write_file":   ToolWrite,
	"grep":         ToolSearch,
	"glob":         ToolGlob,
	"list_dir":     ToolList,
	"web_search":   ToolWebSearch,
	"fetch":        ToolFetch,
}

type codexLine struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type codexSessionMeta struct {
	ID        string `json:"id"`
	CWD       string `json:"cwd"`
	Timestamp string `json:"timestamp"`
	GitBranch string `json:"git_branch"`
}

type codexResponseItem struct {
	Type      string          `json:"type"`
	Role      string          `json:"role"`
	Content   json.RawMessage `json:"content"`
	Name      string          `json:"name"`
	Arguments string          `json:"arguments"`
	Output    string          `json:"output"`
	ID        string          `json:"id"`
	Timestamp string          `json:"timestamp"`
}

func (codexAdapter) Parse(path string) (Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return Record{}, invalidFormat(path, err.Error())
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Record{}, invalidFormat(path, err.Error())
	}

	sessionID := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	rec := Record{
		ID:                  "codex:" + sessionID,
		Source:              SourceCodex,
		OriginalID:          sessionID,
		SourcePath:          path,
		LastModified:        info.ModTime().UTC(),
		MessageCountsByRole: map[string]int{},
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024*8)
	var firstTimestamp time.Time
	entryIdx := 0
	for scanner.Scan() {
		entryIdx++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var line codexLine
		if err := json.Unmarshal([]byte(raw), &line); err != nil {
			return Record{}, invalidJSON(path, fmt.Errorf("line %d: %w", entryIdx, err))
		}

		switch line.Type {
		case "session_meta":
			var meta codexSessionMeta
			if err := json.Unmarshal(line.Payload, &meta); err == nil {
				if meta.ID != "" {
					rec.OriginalID = meta.ID
				}
				rec.ProjectPath = meta.CWD
				rec.Branch = meta.GitBranch
				if ts, err := time.Parse(time.RFC3339Nano, meta.Timestamp); err == nil {
					firstTimestamp = ts
				}
			}
		case "response_item":
			var item codexResponseItem
			if err := json.Unmarshal(line.Payload, &item); err != nil {
				return Record{}, invalidJSON(path, fmt.Errorf("line %d payload: %w", entryIdx, err))
			}
			ts, _ := time.Parse(time.RFC3339Nano, item.Timestamp)
			if firstTimestamp.IsZero() && !ts.IsZero() {
				firstTimestamp = ts
			}
			id := item.ID
			if id == "" {
				id = fmt.Sprintf("%s-%d", sessionID, entryIdx)
			}
			switch item.Type {
			case "message":
				text := extractText(item.Content)
				kind := EntryAssistantMessage
				if item.Role == "user" {
					kind = EntryUserMessage
				}
				rec.Timeline = append(rec.Timeline, Entry{ID: id, Kind: kind, Timestamp: ts, Text: text})
				rec.MessageCountsByRole[item.Role]++
			case "function_call":
				tool, ok := codexToolMap[item.Name]
				if !ok {
					tool = ToolUnknown
				}
				rec.Timeline = append(rec.Timeline, Entry{ID: id, Kind: EntryToolCall, Timestamp: ts, Tool: tool, OriginalTool: item.Name, ToolInput: item.Arguments})
			case "function_call_output":
				rec.Timeline = append(rec.Timeline, Entry{ID: id, Kind: EntryToolResult, Timestamp: ts, ToolOutput: item.Output})
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return Record{}, invalidFormat(path, err.Error())
	}
	rec.CreatedAt = firstTimestamp
	return rec, nil
}
