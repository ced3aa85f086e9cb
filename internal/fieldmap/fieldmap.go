// Package fieldmap resolves API-flavor field mappings: where to read content,
// reasoning, prompt, and token-usage fields from arbitrary JSON response
// shapes, plus the stream framing descriptor.
package fieldmap

import (
	"encoding/json"
	"fmt"

	"github.com/lmeterx/st-engine/internal/domain"
)

// Mapping names the dotted JSON paths for the semantic fields of one API
// flavor, plus the stream framing descriptor. Empty path means "absent".
type Mapping struct {
	StreamPrefix     string `json:"stream_prefix"`
	DataFormat       string `json:"data_format"`
	StopFlag         string `json:"stop_flag"`
	EndPrefix        string `json:"end_prefix"`
	EndField         string `json:"end_field"`
	Content          string `json:"content"`
	ReasoningContent string `json:"reasoning_content"`
	Prompt           string `json:"prompt"`
	Image            string `json:"image"`
	PromptTokens     string `json:"prompt_tokens"`
	CompletionTokens string `json:"completion_tokens"`
	TotalTokens      string `json:"total_tokens"`
}

// DefaultFor returns the built-in mapping for an API flavor. The content and
// reasoning paths differ between stream and non-stream responses.
func DefaultFor(apiType string, stream bool) Mapping {
	switch apiType {
	case domain.APITypeClaudeChat:
		m := Mapping{
			StreamPrefix:     "data:",
			DataFormat:       "json",
			StopFlag:         "message_stop",
			EndField:         "type",
			Prompt:           "messages.0.content.0.text",
			Image:            "messages.0.content.-1.source.url",
			PromptTokens:     "usage.input_tokens",
			CompletionTokens: "usage.output_tokens",
		}
		if stream {
			m.Content = "delta.text"
			m.ReasoningContent = "delta.thinking"
		} else {
			m.Content = "content.-1.text"
			m.ReasoningContent = "content.0.thinking"
		}
		return m
	case domain.APITypeEmbeddings:
		return Mapping{
			StreamPrefix: "data:",
			DataFormat:   "json",
			Prompt:       "input",
		}
	default: // openai-chat and the custom baseline
		m := Mapping{
			StreamPrefix:     "data:",
			DataFormat:       "json",
			StopFlag:         "[DONE]",
			Prompt:           "messages.0.content.0.text",
			Image:            "messages.0.content.-1.image_url.url",
			PromptTokens:     "usage.prompt_tokens",
			CompletionTokens: "usage.completion_tokens",
			TotalTokens:      "usage.total_tokens",
		}
		if stream {
			m.Content = "choices.0.delta.content"
			m.ReasoningContent = "choices.0.delta.reasoning_content"
		} else {
			m.Content = "choices.0.message.content"
			m.ReasoningContent = "choices.0.message.reasoning_content"
		}
		return m
	}
}

// Resolve merges an optional user-supplied JSON override over the flavor's
// defaults. Only fields present in the override replace defaults.
func Resolve(apiType string, stream bool, overrideJSON string) (Mapping, error) {
	m := DefaultFor(apiType, stream)
	if overrideJSON == "" {
		return m, nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(overrideJSON), &raw); err != nil {
		return Mapping{}, fmt.Errorf("op=fieldmap.Resolve: %w: %w", domain.ErrInvalidArgument, err)
	}
	set := func(key string, dst *string) error {
		v, ok := raw[key]
		if !ok {
			return nil
		}
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return fmt.Errorf("op=fieldmap.Resolve field=%s: %w", key, err)
		}
		*dst = s
		return nil
	}
	for key, dst := range map[string]*string{
		"stream_prefix":     &m.StreamPrefix,
		"data_format":       &m.DataFormat,
		"stop_flag":         &m.StopFlag,
		"end_prefix":        &m.EndPrefix,
		"end_field":         &m.EndField,
		"content":           &m.Content,
		"reasoning_content": &m.ReasoningContent,
		"prompt":            &m.Prompt,
		"image":             &m.Image,
		"prompt_tokens":     &m.PromptTokens,
		"completion_tokens": &m.CompletionTokens,
		"total_tokens":      &m.TotalTokens,
	} {
		if err := set(key, dst); err != nil {
			return Mapping{}, err
		}
	}
	return m, nil
}
