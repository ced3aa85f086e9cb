package payload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmeterx/st-engine/internal/domain"
	"github.com/lmeterx/st-engine/internal/fieldmap"
)

func TestBuildDefaultTemplate(t *testing.T) {
	b := Builder{APIType: domain.APITypeOpenAIChat, Model: "gpt-4", Stream: true}
	body, err := b.Build(domain.PromptRecord{})
	require.NoError(t, err)
	require.True(t, body.IsJSON)
	assert.Equal(t, "gpt-4", body.JSON["model"])
	assert.Equal(t, true, body.JSON["stream"])
	msgs := body.JSON["messages"].([]any)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Hi", msgs[0].(map[string]any)["content"])
}

func TestBuildPreservesNonTargetedFields(t *testing.T) {
	tmpl := `{"model":"m","stream":false,"temperature":0.7,"max_tokens":256,"messages":[{"role":"system","content":"s"},{"role":"user","content":"old"}]}`
	b := Builder{APIType: domain.APITypeOpenAIChat, Model: "other", Stream: true, Template: tmpl}
	body, err := b.Build(domain.PromptRecord{Prompt: "new"})
	require.NoError(t, err)
	assert.Equal(t, 0.7, body.JSON["temperature"])
	assert.Equal(t, float64(256), body.JSON["max_tokens"])
	// Template's explicit model/stream are preserved.
	assert.Equal(t, "m", body.JSON["model"])
	assert.Equal(t, false, body.JSON["stream"])
	msgs := body.JSON["messages"].([]any)
	assert.Equal(t, "s", msgs[0].(map[string]any)["content"])
	assert.Equal(t, "new", msgs[1].(map[string]any)["content"])
}

func TestBuildOpenAIImageBase64WinsOverURL(t *testing.T) {
	b := Builder{APIType: domain.APITypeOpenAIChat, Model: "gpt-4o", Stream: true}
	rec := domain.PromptRecord{Prompt: "look", ImageURL: "https://ex/i.jpg", ImageBase64: "QUJD", ImageMIME: "image/jpeg"}
	body, err := b.Build(rec)
	require.NoError(t, err)
	msgs := body.JSON["messages"].([]any)
	content := msgs[0].(map[string]any)["content"].([]any)
	require.Len(t, content, 2)
	assert.Equal(t, "text", content[0].(map[string]any)["type"])
	imgBlock := content[1].(map[string]any)
	assert.Equal(t, "image_url", imgBlock["type"])
	url := imgBlock["image_url"].(map[string]any)["url"].(string)
	assert.Equal(t, "data:image/jpeg;base64,QUJD", url)
}

func TestBuildClaudeImageBlocks(t *testing.T) {
	b := Builder{APIType: domain.APITypeClaudeChat, Model: "claude", Stream: false}
	rec := domain.PromptRecord{Prompt: "describe", ImageURL: "https://ex/i.jpg", ImageBase64: "QUJD", ImageMIME: "image/png"}
	body, err := b.Build(rec)
	require.NoError(t, err)
	msgs := body.JSON["messages"].([]any)
	blocks := msgs[0].(map[string]any)["content"].([]any)
	require.Len(t, blocks, 3)
	assert.Equal(t, map[string]any{"type": "text", "text": "describe"}, blocks[0])
	assert.Equal(t, map[string]any{"type": "image", "source": map[string]any{"type": "url", "url": "https://ex/i.jpg"}}, blocks[1])
	assert.Equal(t, map[string]any{"type": "image", "source": map[string]any{"type": "base64", "media_type": "image/png", "data": "QUJD"}}, blocks[2])
}

func TestBuildClaudeURLOnly(t *testing.T) {
	b := Builder{APIType: domain.APITypeClaudeChat, Model: "claude", Stream: false}
	body, err := b.Build(domain.PromptRecord{Prompt: "see", ImageURL: "https://ex/i.jpg"})
	require.NoError(t, err)
	blocks := body.JSON["messages"].([]any)[0].(map[string]any)["content"].([]any)
	require.Len(t, blocks, 2)
	assert.Equal(t, "url", blocks[1].(map[string]any)["source"].(map[string]any)["type"])
}

func TestBuildEmbeddings(t *testing.T) {
	b := Builder{APIType: domain.APITypeEmbeddings, Model: "text-embedding-3-small", Template: `{"model":"text-embedding-3-small","input":"old"}`}
	body, err := b.Build(domain.PromptRecord{Prompt: "embed me"})
	require.NoError(t, err)
	assert.Equal(t, "embed me", body.JSON["input"])
}

func TestBuildCustomMappingPaths(t *testing.T) {
	m, err := fieldmap.Resolve(domain.APITypeCustom, false, `{"prompt":"query.text","image":"query.image"}`)
	require.NoError(t, err)
	b := Builder{APIType: domain.APITypeCustom, Model: "m", Template: `{"query":{"text":"old"},"top_k":3}`, Mapping: m}
	body, err := b.Build(domain.PromptRecord{Prompt: "hello", ImageURL: "https://ex/p.png"})
	require.NoError(t, err)
	q := body.JSON["query"].(map[string]any)
	assert.Equal(t, "hello", q["text"])
	assert.Equal(t, "https://ex/p.png", q["image"])
	assert.Equal(t, float64(3), body.JSON["top_k"])
}

func TestBuildRawTextTemplate(t *testing.T) {
	b := Builder{APIType: domain.APITypeCustom, Template: "plain text body"}
	body, err := b.Build(domain.PromptRecord{Prompt: "ignored for raw"})
	require.NoError(t, err)
	assert.False(t, body.IsJSON)
	assert.Equal(t, "plain text body", body.Raw)
	raw, err := body.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("plain text body"), raw)
}

func TestBuildAppendsUserMessageWhenMissing(t *testing.T) {
	tmpl := `{"messages":[{"role":"system","content":"s"}]}`
	b := Builder{APIType: domain.APITypeOpenAIChat, Model: "m", Stream: false, Template: tmpl}
	body, err := b.Build(domain.PromptRecord{Prompt: "added"})
	require.NoError(t, err)
	msgs := body.JSON["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "added", msgs[1].(map[string]any)["content"])
}
