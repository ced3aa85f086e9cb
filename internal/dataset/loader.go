// Package dataset parses JSONL / JSON-array / ShareGPT / OpenAI-messages
// dataset content into a shared round-robin queue of prompt records.
package dataset

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/lmeterx/st-engine/internal/domain"
)

// Loader resolves dataset pointers into prompt queues. BaseDirs are the
// well-known roots tried when an image path is relative.
type Loader struct {
	BaseDirs []string
}

// Load turns a task's test_data pointer into a queue:
//   - ""          -> empty queue (no dataset; payload template used verbatim)
//   - "default"   -> built-in dataset selected by chat type
//   - "{"/"[" ... -> inline JSONL or JSON-array content
//   - otherwise   -> filesystem path to such a file
func (l Loader) Load(testData string, chatType int) (*Queue, error) {
	trimmed := strings.TrimSpace(testData)
	switch {
	case trimmed == "":
		return NewQueue(nil), nil
	case trimmed == "default":
		content, err := builtinContent(chatType)
		if err != nil {
			return nil, err
		}
		return NewQueue(l.parseContent(content)), nil
	case strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "["):
		return NewQueue(l.parseContent(trimmed)), nil
	default:
		raw, err := os.ReadFile(trimmed)
		if err != nil {
			return nil, fmt.Errorf("op=dataset.Load path=%s: %w", trimmed, err)
		}
		return NewQueue(l.parseContent(string(raw))), nil
	}
}

// parseContent accepts a JSON array blob or JSONL. Records with no
// extractable prompt are skipped silently.
func (l Loader) parseContent(content string) []domain.PromptRecord {
	trimmed := strings.TrimSpace(content)
	var objects []map[string]any
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal([]byte(trimmed), &objects); err != nil {
			slog.Warn("dataset array parse failed", slog.Any("error", err))
			return nil
		}
	} else {
		for _, line := range strings.Split(trimmed, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			var obj map[string]any
			if err := json.Unmarshal([]byte(line), &obj); err != nil {
				slog.Debug("dataset line skipped", slog.Any("error", err))
				continue
			}
			objects = append(objects, obj)
		}
	}

	records := make([]domain.PromptRecord, 0, len(objects))
	for i, obj := range objects {
		rec, ok := l.extract(obj)
		if !ok {
			continue
		}
		if rec.ID == "" {
			rec.ID = fmt.Sprintf("%d", i)
		}
		records = append(records, rec)
	}
	return records
}

// extract pulls prompt and image out of one dataset object. Prompt priority:
// top-level prompt, then ShareGPT conversations, then OpenAI messages.
func (l Loader) extract(obj map[string]any) (domain.PromptRecord, bool) {
	var rec domain.PromptRecord
	if id, ok := obj["id"]; ok {
		rec.ID = normalizeText(id)
	}

	if v, ok := obj["prompt"]; ok {
		rec.Prompt = normalizeText(v)
	}
	if rec.Prompt == "" {
		rec.Prompt = fromConversations(obj["conversations"])
	}
	if rec.Prompt == "" {
		rec.Prompt = fromMessages(obj["messages"])
	}
	if rec.Prompt == "" {
		return domain.PromptRecord{}, false
	}

	img := firstString(obj["image"])
	if img == "" {
		img = firstString(obj["image_path"])
	}
	if img != "" {
		if isURL(img) {
			rec.ImageURL = img
		} else {
			l.attachLocalImage(&rec, img)
		}
	}
	return rec, true
}

// fromConversations handles the ShareGPT shape: the first entry whose "from"
// role is human or user.
func fromConversations(v any) string {
	list, ok := v.([]any)
	if !ok {
		return ""
	}
	for _, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		role, _ := entry["from"].(string)
		switch strings.ToLower(role) {
		case "human", "user":
			if s := normalizeText(entry["value"]); s != "" {
				return s
			}
		}
	}
	return ""
}

// fromMessages handles the OpenAI shape: the first entry whose role is user
// or human.
func fromMessages(v any) string {
	list, ok := v.([]any)
	if !ok {
		return ""
	}
	for _, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		role, _ := entry["role"].(string)
		switch strings.ToLower(role) {
		case "user", "human":
			if s := normalizeText(entry["content"]); s != "" {
				return s
			}
		}
	}
	return ""
}

// normalizeText coerces a prompt value: strings pass through, one-element
// arrays unwrap, anything else is JSON-serialized.
func normalizeText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []any:
		if len(t) == 0 {
			return ""
		}
		if s, ok := t[0].(string); ok {
			return s
		}
		raw, err := json.Marshal(t[0])
		if err != nil {
			return ""
		}
		return string(raw)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}

// firstString unwraps a string or one-element array-of-string value.
func firstString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		if len(t) > 0 {
			if s, ok := t[0].(string); ok {
				return s
			}
		}
	}
	return ""
}

func isURL(s string) bool {
	for _, p := range []string{"http://", "https://", "ftp://", "ftps://"} {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// attachLocalImage resolves an image path against the loader roots,
// base64-encodes the bytes, and sniffs the media type. A missing file keeps
// the record text-only.
func (l Loader) attachLocalImage(rec *domain.PromptRecord, path string) {
	candidates := []string{path}
	if !filepath.IsAbs(path) {
		for _, dir := range l.BaseDirs {
			candidates = append(candidates, filepath.Join(dir, path))
		}
	}
	for _, c := range candidates {
		raw, err := os.ReadFile(c)
		if err != nil {
			continue
		}
		rec.ImageBase64 = base64.StdEncoding.EncodeToString(raw)
		rec.ImageMIME = mimetype.Detect(raw).String()
		return
	}
	slog.Warn("dataset image not found", slog.String("path", path))
}
