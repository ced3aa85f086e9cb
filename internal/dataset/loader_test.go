package dataset

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEmptyMeansNoDataset(t *testing.T) {
	q, err := Loader{}.Load("", 0)
	require.NoError(t, err)
	assert.Equal(t, 0, q.Len())
	_, ok := q.Next()
	assert.False(t, ok)
}

func TestLoadInlineJSONL(t *testing.T) {
	content := `{"id": "a", "prompt": "first"}
{"id": "b", "prompt": "second"}
not json, skipped
{"no_prompt_here": true}`
	q, err := Loader{}.Load(content, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, q.Len())
}

func TestLoadInlineJSONArray(t *testing.T) {
	content := `[{"id":"x","prompt":"array prompt"},{"id":"y","prompt":"another"}]`
	q, err := Loader{}.Load(content, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, q.Len())
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"id":"f1","prompt":"from file"}`), 0o600))
	q, err := Loader{}.Load(path, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, q.Len())
	rec, ok := q.Next()
	require.True(t, ok)
	assert.Equal(t, "from file", rec.Prompt)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Loader{}.Load(filepath.Join(t.TempDir(), "nope.jsonl"), 0)
	require.Error(t, err)
}

func TestLoadBuiltinDefault(t *testing.T) {
	for _, chatType := range []int{0, 1, 2} {
		q, err := Loader{}.Load("default", chatType)
		require.NoError(t, err)
		assert.Greater(t, q.Len(), 0, "chat_type %d", chatType)
	}
}

func TestPromptPriority(t *testing.T) {
	l := Loader{}

	// ShareGPT: first human/user entry wins.
	recs := l.parseContent(`[{"id":"a","conversations":[{"from":"gpt","value":"skip"},{"from":"human","value":"hi"}]},{"id":"b","conversations":[{"from":"user","value":"yo"}]}]`)
	require.Len(t, recs, 2)
	assert.Equal(t, "hi", recs[0].Prompt)
	assert.Equal(t, "yo", recs[1].Prompt)

	// OpenAI messages.
	recs = l.parseContent(`{"messages":[{"role":"system","content":"sys"},{"role":"user","content":"question"}]}`)
	require.Len(t, recs, 1)
	assert.Equal(t, "question", recs[0].Prompt)

	// Top-level prompt wins over conversations.
	recs = l.parseContent(`{"prompt":"top","conversations":[{"from":"human","value":"nested"}]}`)
	require.Len(t, recs, 1)
	assert.Equal(t, "top", recs[0].Prompt)
}

func TestPromptNormalization(t *testing.T) {
	l := Loader{}
	recs := l.parseContent(`{"prompt":["unwrapped"]}
{"prompt":{"complex":"object"}}`)
	require.Len(t, recs, 2)
	assert.Equal(t, "unwrapped", recs[0].Prompt)
	assert.JSONEq(t, `{"complex":"object"}`, recs[1].Prompt)
}

func TestImageURLDetection(t *testing.T) {
	recs := Loader{}.parseContent(`{"prompt":"see","image":"https://ex/i.jpg"}`)
	require.Len(t, recs, 1)
	assert.Equal(t, "https://ex/i.jpg", recs[0].ImageURL)
	assert.Empty(t, recs[0].ImageBase64)
}

func TestImagePathBase64(t *testing.T) {
	dir := t.TempDir()
	// Minimal PNG header so mimetype detection has something to sniff.
	png := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pic.png"), png, 0o600))

	recs := Loader{BaseDirs: []string{dir}}.parseContent(`{"prompt":"see","image_path":"pic.png"}`)
	require.Len(t, recs, 1)
	assert.Empty(t, recs[0].ImageURL)
	assert.Equal(t, base64.StdEncoding.EncodeToString(png), recs[0].ImageBase64)
	assert.Contains(t, recs[0].ImageMIME, "image/png")
}

func TestImagePathMissingKeepsPrompt(t *testing.T) {
	recs := Loader{}.parseContent(`{"prompt":"still here","image_path":"/does/not/exist.jpg"}`)
	require.Len(t, recs, 1)
	assert.Equal(t, "still here", recs[0].Prompt)
	assert.Empty(t, recs[0].ImageBase64)
}

func TestQueueRoundRobin(t *testing.T) {
	q, err := Loader{}.Load(`[{"id":"a","prompt":"pa"},{"id":"b","prompt":"pb"}]`, 0)
	require.NoError(t, err)

	seen := map[string]int{}
	for i := 0; i < 4; i++ {
		rec, ok := q.Next()
		require.True(t, ok)
		seen[rec.Prompt]++
	}
	// Two full cycles: each record visited exactly twice.
	assert.Equal(t, 2, seen["pa"])
	assert.Equal(t, 2, seen["pb"])
	assert.Equal(t, 2, q.Len())
}
