package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// opencodeAdapter parses OpenCode's on-disk session snapshots: one JSON
// file per session under <root>/<session-id>.json, holding the full
// message list rather than an append-only log.
type opencodeAdapter struct{}

func (opencodeAdapter) Source() Source { return SourceOpencode }

func (opencodeAdapter) Discover(root string) ([]string, error) {
	return discoverFiles(root, ".json")
}

var opencodeToolMap = map[string]Tool{
	"read":       ToolRead,
	"write":      ToolWrite,
	"edit":       ToolEdit,
	"bash":       ToolShell,
	"grep":       ToolSearch,
	"glob":       ToolGlob,
	"list":       ToolList,
	"task":       ToolSpawnAgent,
	"webfetch":   ToolFetch,
	"websearch":  ToolWebSearch,
}

type opencodeSession struct {
	ID   string `json:"id"`
	Path string `json:"path"`
	Time struct {
		Created int64 `json:"created"`
		Updated int64 `json:"updated"`
	} `json:"time"`
	VCS struct {
		Branch string `json:"branch"`
		Commit string `json:"commit"`
		Remote string `json:"remote"`
	} `json:"vcs"`
	Messages []opencodeMessage `json:"messages"`
}

type opencodeMessage struct {
	ID   string `json:"id"`
	Role string `json:"role"`
	Time struct {
		Created int64 `json:"created"`
	} `json:"time"`
	Parts []opencodePart `json:"parts"`
}

type opencodePart struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Tool  string `json:"tool"`
	Input string `json:"input"`
	State struct {
		Status string `json:"status"`
		Output string `json:"output"`
	} `json:"state"`
}

func (opencodeAdapter) Parse(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, invalidFormat(path, err.Error())
	}
	var doc opencodeSession
	if err := json.Unmarshal(data, &doc); err != nil {
		return Record{}, invalidJSON(path, err)
	}

	sessionID := doc.ID
	if sessionID == "" {
		sessionID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	info, err := os.Stat(path)
	if err != nil {
		return Record{}, invalidFormat(path, err.Error())
	}

	rec := Record{
		ID:                  "opencode:" + sessionID,
		Source:              SourceOpencode,
		OriginalID:          sessionID,
		SourcePath:          path,
		ProjectPath:         doc.Path,
		Branch:              doc.VCS.Branch,
		Commit:              doc.VCS.Commit,
		Remote:              doc.VCS.Remote,
		CreatedAt:           millisToTime(doc.Time.Created),
		LastModified:        millisToTime(doc.Time.Updated),
		MessageCountsByRole: map[string]int{},
	}
	if rec.LastModified.IsZero() {
		rec.LastModified = info.ModTime().UTC()
	}

	for _, msg := range doc.Messages {
		kind := EntryAssistantMessage
		switch msg.Role {
		case "user":
			kind = EntryUserMessage
		case "system":
			kind = EntrySystemMessage
		}
		ts := millisToTime(msg.Time.Created)
		for partIdx, part := range msg.Parts {
			id := fmt.Sprintf("%s-%d", msg.ID, partIdx)
			switch part.Type {
			case "text":
				rec.Timeline = append(rec.Timeline, Entry{ID: id, Kind: kind, Timestamp: ts, Text: part.Text})
				rec.MessageCountsByRole[msg.Role]++
			case "tool":
				tool, ok := opencodeToolMap[strings.ToLower(part.Tool)]
				if !ok {
					tool = ToolUnknown
				}
				rec.Timeline = append(rec.Timeline, Entry{ID: id, Kind: EntryToolCall, Timestamp: ts, Tool: tool, OriginalTool: part.Tool, ToolInput: part.Input})
				if part.State.Output != "" {
					rec.Timeline = append(rec.Timeline, Entry{ID: id + "-result", Kind: EntryToolResult, Timestamp: ts, ToolOutput: part.State.Output})
				}
			}
		}
	}
	return rec, nil
}

func millisToTime(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
