// Package payload merges a request template with a dataset record according
// to the API flavor, producing a ready-to-send request body.
package payload

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lmeterx/st-engine/internal/domain"
	"github.com/lmeterx/st-engine/internal/fieldmap"
)

// Body is the built request body. Exactly one of JSON or Raw is used: JSON
// when the template (or the default) is a JSON document, Raw otherwise.
type Body struct {
	JSON   map[string]any
	Raw    string
	IsJSON bool
}

// Bytes serializes the body for the wire.
func (b Body) Bytes() ([]byte, error) {
	if !b.IsJSON {
		return []byte(b.Raw), nil
	}
	raw, err := json.Marshal(b.JSON)
	if err != nil {
		return nil, fmt.Errorf("op=payload.Bytes: %w", err)
	}
	return raw, nil
}

// Builder holds the per-run immutable request parameters.
type Builder struct {
	APIType  string
	Model    string
	Stream   bool
	Template string
	Mapping  fieldmap.Mapping
}

const defaultPrompt = "Hi"

// Build produces the request body for one call, substituting the dataset
// record when present. Non-targeted template fields are preserved.
func (b Builder) Build(rec domain.PromptRecord) (Body, error) {
	tmpl := strings.TrimSpace(b.Template)
	if tmpl == "" {
		return b.buildFromDefault(rec)
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(tmpl), &doc); err != nil {
		// Raw-text templates are sent verbatim.
		return Body{Raw: b.Template}, nil
	}
	b.ensureBaseFields(doc)
	if rec.Prompt == "" && rec.ImageURL == "" && rec.ImageBase64 == "" {
		return Body{JSON: doc, IsJSON: true}, nil
	}
	if err := b.substitute(doc, rec); err != nil {
		return Body{}, err
	}
	return Body{JSON: doc, IsJSON: true}, nil
}

func (b Builder) buildFromDefault(rec domain.PromptRecord) (Body, error) {
	doc := map[string]any{
		"model":  b.Model,
		"stream": b.Stream,
		"messages": []any{
			map[string]any{"role": "user", "content": defaultPrompt},
		},
	}
	if b.APIType == domain.APITypeEmbeddings {
		doc = map[string]any{"model": b.Model, "input": defaultPrompt}
	}
	if rec.Prompt == "" && rec.ImageURL == "" && rec.ImageBase64 == "" {
		return Body{JSON: doc, IsJSON: true}, nil
	}
	if err := b.substitute(doc, rec); err != nil {
		return Body{}, err
	}
	return Body{JSON: doc, IsJSON: true}, nil
}

// ensureBaseFields fills model and stream only when the template omits them.
func (b Builder) ensureBaseFields(doc map[string]any) {
	if _, ok := doc["model"]; !ok && b.Model != "" {
		doc["model"] = b.Model
	}
	if b.APIType == domain.APITypeOpenAIChat || b.APIType == domain.APITypeClaudeChat {
		if _, ok := doc["stream"]; !ok {
			doc["stream"] = b.Stream
		}
	}
}

func (b Builder) substitute(doc map[string]any, rec domain.PromptRecord) error {
	switch b.APIType {
	case domain.APITypeOpenAIChat:
		return b.substituteOpenAI(doc, rec)
	case domain.APITypeClaudeChat:
		return b.substituteClaude(doc, rec)
	case domain.APITypeEmbeddings:
		doc["input"] = rec.Prompt
		return nil
	default:
		return b.substituteCustom(doc, rec)
	}
}

// substituteOpenAI replaces (or appends) the first user message. With an
// image the content becomes a block array; a base64 image wins over a URL.
func (b Builder) substituteOpenAI(doc map[string]any, rec domain.PromptRecord) error {
	var content any = rec.Prompt
	if rec.ImageURL != "" || rec.ImageBase64 != "" {
		url := rec.ImageURL
		if rec.ImageBase64 != "" {
			url = dataURI(rec)
		}
		content = []any{
			map[string]any{"type": "text", "text": rec.Prompt},
			map[string]any{"type": "image_url", "image_url": map[string]any{"url": url}},
		}
	}
	setFirstUserMessage(doc, content)
	return nil
}

// substituteClaude replaces the first user message's content with a text
// block plus one image block per image source; URL and base64 blocks are
// independent entries.
func (b Builder) substituteClaude(doc map[string]any, rec domain.PromptRecord) error {
	blocks := []any{map[string]any{"type": "text", "text": rec.Prompt}}
	if rec.ImageURL != "" {
		blocks = append(blocks, map[string]any{
			"type":   "image",
			"source": map[string]any{"type": "url", "url": rec.ImageURL},
		})
	}
	if rec.ImageBase64 != "" {
		mime := rec.ImageMIME
		if mime == "" {
			mime = "image/png"
		}
		blocks = append(blocks, map[string]any{
			"type":   "image",
			"source": map[string]any{"type": "base64", "media_type": mime, "data": rec.ImageBase64},
		})
	}
	setFirstUserMessage(doc, blocks)
	return nil
}

// substituteCustom writes through the mapping's prompt and image paths.
func (b Builder) substituteCustom(doc map[string]any, rec domain.PromptRecord) error {
	if b.Mapping.Prompt == "" {
		return fmt.Errorf("op=payload.substituteCustom: %w: mapping has no prompt path", domain.ErrInvalidArgument)
	}
	if _, ok := fieldmap.SetPath(doc, b.Mapping.Prompt, rec.Prompt); !ok {
		return fmt.Errorf("op=payload.substituteCustom: prompt path %q not writable", b.Mapping.Prompt)
	}
	if (rec.ImageURL != "" || rec.ImageBase64 != "") && b.Mapping.Image != "" {
		img := rec.ImageURL
		if rec.ImageBase64 != "" {
			img = dataURI(rec)
		}
		if _, ok := fieldmap.SetPath(doc, b.Mapping.Image, img); !ok {
			return fmt.Errorf("op=payload.substituteCustom: image path %q not writable", b.Mapping.Image)
		}
	}
	return nil
}

func dataURI(rec domain.PromptRecord) string {
	mime := rec.ImageMIME
	if mime == "" {
		mime = "image/jpeg"
	}
	return "data:" + mime + ";base64," + rec.ImageBase64
}

// setFirstUserMessage rewrites the content of the first user-role message,
// appending a new user message when none exists.
func setFirstUserMessage(doc map[string]any, content any) {
	msgs, _ := doc["messages"].([]any)
	for _, m := range msgs {
		entry, ok := m.(map[string]any)
		if !ok {
			continue
		}
		if role, _ := entry["role"].(string); role == "user" {
			entry["content"] = content
			return
		}
	}
	doc["messages"] = append(msgs, map[string]any{"role": "user", "content": content})
}
