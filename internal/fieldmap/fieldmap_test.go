package fieldmap

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmeterx/st-engine/internal/domain"
)

func TestDefaultForOpenAIStream(t *testing.T) {
	m := DefaultFor(domain.APITypeOpenAIChat, true)
	assert.Equal(t, "data:", m.StreamPrefix)
	assert.Equal(t, "[DONE]", m.StopFlag)
	assert.Equal(t, "choices.0.delta.content", m.Content)
	assert.Equal(t, "choices.0.delta.reasoning_content", m.ReasoningContent)
	assert.Equal(t, "usage.prompt_tokens", m.PromptTokens)
	assert.Equal(t, "usage.total_tokens", m.TotalTokens)
}

func TestDefaultForOpenAINonStream(t *testing.T) {
	m := DefaultFor(domain.APITypeOpenAIChat, false)
	assert.Equal(t, "choices.0.message.content", m.Content)
}

func TestDefaultForClaude(t *testing.T) {
	stream := DefaultFor(domain.APITypeClaudeChat, true)
	assert.Equal(t, "message_stop", stream.StopFlag)
	assert.Equal(t, "type", stream.EndField)
	assert.Equal(t, "delta.text", stream.Content)
	assert.Equal(t, "delta.thinking", stream.ReasoningContent)
	assert.Equal(t, "usage.input_tokens", stream.PromptTokens)
	assert.Empty(t, stream.TotalTokens)

	block := DefaultFor(domain.APITypeClaudeChat, false)
	assert.Equal(t, "content.-1.text", block.Content)
	assert.Equal(t, "content.0.thinking", block.ReasoningContent)
}

func TestDefaultForEmbeddings(t *testing.T) {
	m := DefaultFor(domain.APITypeEmbeddings, false)
	assert.Equal(t, "input", m.Prompt)
	assert.Empty(t, m.Content)
	assert.Empty(t, m.StopFlag)
}

func TestResolveOverride(t *testing.T) {
	over := `{"content":"result.text","stop_flag":"<END>","stream_prefix":""}`
	m, err := Resolve(domain.APITypeCustom, true, over)
	require.NoError(t, err)
	assert.Equal(t, "result.text", m.Content)
	assert.Equal(t, "<END>", m.StopFlag)
	// Explicit empty string clears the default prefix.
	assert.Equal(t, "", m.StreamPrefix)
	// Untouched fields keep defaults.
	assert.Equal(t, "usage.prompt_tokens", m.PromptTokens)
}

func TestResolveBadJSON(t *testing.T) {
	_, err := Resolve(domain.APITypeOpenAIChat, true, "{not json")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func decode(t *testing.T, s string) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(s), &v))
	return v
}

func TestGetPath(t *testing.T) {
	root := decode(t, `{"choices":[{"delta":{"content":"Hi"}},{"delta":{"content":"Yo"}}],"usage":{"total_tokens":7}}`)

	v, ok := GetString(root, "choices.0.delta.content")
	assert.True(t, ok)
	assert.Equal(t, "Hi", v)

	v, ok = GetString(root, "choices.-1.delta.content")
	assert.True(t, ok)
	assert.Equal(t, "Yo", v)

	n, ok := GetNumber(root, "usage.total_tokens")
	assert.True(t, ok)
	assert.Equal(t, float64(7), n)

	_, ok = GetPath(root, "choices.5.delta")
	assert.False(t, ok)
	_, ok = GetPath(root, "missing.path")
	assert.False(t, ok)
	_, ok = GetPath(root, "")
	assert.False(t, ok)
}

func TestGetPathListKeyFallthrough(t *testing.T) {
	// A non-int key on a list descends into element 0 when it is an object.
	root := decode(t, `{"content":[{"text":"hello"}]}`)
	v, ok := GetString(root, "content.text")
	assert.True(t, ok)
	assert.Equal(t, "hello", v)
}

func TestSetPathCreatesIntermediates(t *testing.T) {
	root, ok := SetPath(map[string]any{}, "a.b.c", "x")
	require.True(t, ok)
	v, found := GetString(root, "a.b.c")
	assert.True(t, found)
	assert.Equal(t, "x", v)
}

func TestSetPathArrayIndex(t *testing.T) {
	root := decode(t, `{"messages":[{"role":"user","content":"old"}]}`)
	_, ok := SetPath(root, "messages.0.content", "new")
	require.True(t, ok)
	v, _ := GetString(root, "messages.0.content")
	assert.Equal(t, "new", v)

	_, ok = SetPath(root, "messages.3.content", "oob")
	assert.False(t, ok)
}

func TestSetPathNegativeIndex(t *testing.T) {
	root := decode(t, `{"content":[{"text":"a"},{"text":"b"}]}`)
	_, ok := SetPath(root, "content.-1.text", "z")
	require.True(t, ok)
	v, _ := GetString(root, "content.1.text")
	assert.Equal(t, "z", v)
}

func TestSetPathNilRoot(t *testing.T) {
	root, ok := SetPath(nil, "input", "hello")
	require.True(t, ok)
	v, _ := GetString(root, "input")
	assert.Equal(t, "hello", v)
}
