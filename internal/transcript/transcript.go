// Package transcript extracts short message snippets from the assistant's
// session transcripts to enrich registry records. Everything here is
// read-only and best-effort: a missing or unreadable transcript just leaves
// the field unset.
package transcript

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

const (
	snippetMaxRunes = 120
	titleScanLines  = 25
	scanBufferSize  = 256 * 1024
)

type Reader struct {
	projectsDir string
}

// NewReader reads transcripts from the assistant's default project layout:
// one JSONL file per session under a directory derived from the working
// directory.
func NewReader() *Reader {
	home, err := os.UserHomeDir()
	if err != nil {
		return &Reader{}
	}
	return &Reader{projectsDir: filepath.Join(home, ".claude", "projects")}
}

// NewReaderAt is the test hook for a custom projects directory.
func NewReaderAt(projectsDir string) *Reader {
	return &Reader{projectsDir: projectsDir}
}

// TaskTitle returns the session's first user message, trimmed to a display
// snippet.
func (r *Reader) TaskTitle(sessionID, cwd string) (string, bool) {
	path, ok := r.sessionPath(sessionID, cwd)
	if !ok {
		return "", false
	}
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, scanBufferSize), scanBufferSize)

	// Transcripts can open with snapshot or metadata lines; scan a bounded
	// prefix for the first real user message.
	for i := 0; i < titleScanLines && scanner.Scan(); i++ {
		var line transcriptLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			continue
		}
		if line.Type != "user" {
			continue
		}
		if text := line.text(); text != "" {
			return snippet(text), true
		}
	}
	return "", false
}

// LastMessage returns the most recent assistant message in the transcript.
func (r *Reader) LastMessage(sessionID, cwd string) (string, bool) {
	path, ok := r.sessionPath(sessionID, cwd)
	if !ok {
		return "", false
	}
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, scanBufferSize), scanBufferSize)

	last := ""
	for scanner.Scan() {
		var line transcriptLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			continue
		}
		if line.Type != "assistant" {
			continue
		}
		if text := line.text(); text != "" {
			last = text
		}
	}
	if last == "" {
		return "", false
	}
	return snippet(last), true
}

func (r *Reader) sessionPath(sessionID, cwd string) (string, bool) {
	if r.projectsDir == "" || sessionID == "" {
		return "", false
	}
	path := filepath.Join(r.projectsDir, encodeProjectDir(cwd), sessionID+".jsonl")
	if _, err := os.Stat(path); err != nil {
		return "", false
	}
	return path, true
}

// encodeProjectDir mirrors the runtime's transcript layout: path separators
// and dots collapse to dashes.
func encodeProjectDir(cwd string) string {
	var b strings.Builder
	for _, r := range cwd {
		switch r {
		case '/', '\\', '.', '_', ' ':
			b.WriteRune('-')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

type transcriptLine struct {
	Type    string `json:"type"`
	Message struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

// text flattens the message content, which is either a plain string or an
// array of typed blocks.
func (l transcriptLine) text() string {
	raw := l.Message.Content
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	var parts []string
	for _, b := range blocks {
		if b.Type == "text" && strings.TrimSpace(b.Text) != "" {
			parts = append(parts, strings.TrimSpace(b.Text))
		}
	}
	return strings.Join(parts, " ")
}

func snippet(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.Join(strings.Fields(s), " ")

	runes := []rune(s)
	if len(runes) <= snippetMaxRunes {
		return s
	}
	return string(runes[:snippetMaxRunes-2]) + ".."
}
