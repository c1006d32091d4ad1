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

// claudeAdapter parses Claude Code's on-disk session transcripts: one
// JSONL file per session under <root>/<project-slug>/<session-id>.jsonl,
// each line a discriminated-by-"type" record.
type claudeAdapter struct{}

func (claudeAdapter) Source() Source { return SourceClaude }

func (claudeAdapter) Discover(root string) ([]string, error) {
	return discoverFiles(root, ".jsonl")
}

var claudeToolMap = map[string]Tool{
	"Read":      ToolRead,
	"Write":     ToolWrite,
	"Edit":      ToolEdit,
	"Bash":      ToolShell,
	"Grep":      ToolSearch,
	"Glob":      ToolGlob,
	"LS":        ToolList,
	"AskHuman":  ToolAsk,
	"Task":      ToolSpawnAgent,
	"WebFetch":  ToolFetch,
	"WebSearch": ToolWebSearch,
}

type claudeLine struct {
	Type      string          `json:"type"`
	UUID      string          `json:"uuid"`
	Timestamp string          `json:"timestamp"`
	CWD       string          `json:"cwd"`
	GitBranch string          `json:"gitBranch"`
	Message   json.RawMessage `json:"message"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
}

type claudeMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

func (claudeAdapter) Parse(path string) (Record, error) {
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
		ID:                  "claude:" + sessionID,
		Source:              SourceClaude,
		OriginalID:          sessionID,
		SourcePath:          path,
		LastModified:        info.ModTime().UTC(),
		MessageCountsByRole: map[string]int{},
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024*8)
	var firstTimestamp time.Time
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var line claudeLine
		if err := json.Unmarshal([]byte(raw), &line); err != nil {
			return Record{}, invalidJSON(path, fmt.Errorf("line %d: %w", lineNo, err))
		}
		ts, _ := time.Parse(time.RFC3339Nano, line.Timestamp)
		if firstTimestamp.IsZero() && !ts.IsZero() {
			firstTimestamp = ts
		}
		if rec.ProjectPath == "" && line.CWD != "" {
			rec.ProjectPath = line.CWD
		}
		if rec.Branch == "" && line.GitBranch != "" {
			rec.Branch = line.GitBranch
		}

		switch line.Type {
		case "user":
			var msg claudeMessage
			if err := json.Unmarshal(line.Message, &msg); err == nil {
				rec.Timeline = append(rec.Timeline, Entry{ID: line.UUID, Kind: EntryUserMessage, Timestamp: ts, Text: extractText(msg.Content)})
				rec.MessageCountsByRole["user"]++
			}
		case "assistant":
			var msg claudeMessage
			if err := json.Unmarshal(line.Message, &msg); err == nil {
				rec.Timeline = append(rec.Timeline, Entry{ID: line.UUID, Kind: EntryAssistantMessage, Timestamp: ts, Text: extractText(msg.Content)})
				rec.MessageCountsByRole["assistant"]++
			}
		case "tool_use":
			tool, ok := claudeToolMap[line.Name]
			if !ok {
				tool = ToolUnknown
			}
			rec.Timeline = append(rec.Timeline, Entry{
				ID: line.UUID, Kind: EntryToolCall, Timestamp: ts,
				Tool: tool, OriginalTool: line.Name, ToolInput: string(line.Input),
			})
		case "tool_result":
			rec.Timeline = append(rec.Timeline, Entry{
				ID: line.UUID, Kind: EntryToolResult, Timestamp: ts,
				ToolOutput: string(line.Content),
			})
		case "system":
			rec.Timeline = append(rec.Timeline, Entry{ID: line.UUID, Kind: EntrySystemMessage, Timestamp: ts, Text: extractText(line.Content)})
		}
	}
	if err := scanner.Err(); err != nil {
		return Record{}, invalidFormat(path, err.Error())
	}
	rec.CreatedAt = firstTimestamp
	return rec, nil
}

// extractText pulls a flat text value out of either a plain JSON string or
// Claude's content-block array shape ([{"type":"text","text":"..."}]).
func extractText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var sb strings.Builder
		for _, b := range blocks {
			if b.Type == "text" {
				sb.WriteString(b.Text)
			}
		}
		return sb.String()
	}
	return ""
}
