package tokencount

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeModelName(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"gpt-4o", "gpt-4"},
		{"GPT-3.5-Turbo", "gpt-3.5-turbo"},
		{"meta-llama/llama-3.1-8b-instruct:free", "gpt-4"},
		{"anthropic/claude-3-haiku", "gpt-4"},
		{"qwen2.5-72b", "gpt-4"},
		{"totally-unknown-model", "gpt-4"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, normalizeModelName(tc.in), tc.in)
	}
}

func TestCountTokens(t *testing.T) {
	c := NewCounter()
	n := c.CountTokens("Hello, world! This is a token counting test.", "gpt-4")
	assert.Greater(t, n, 5)
	assert.Less(t, n, 20)

	assert.Equal(t, 0, c.CountTokens("", "gpt-4"))
}

func TestEncodingCacheReuse(t *testing.T) {
	c := NewCounter()
	_ = c.CountTokens("warm the cache", "gpt-4o")
	_ = c.CountTokens("second call hits the cache", "gpt-4-turbo")
	c.mu.RLock()
	defer c.mu.RUnlock()
	// Both model IDs normalize to the same encoding entry.
	assert.Len(t, c.encodingCache, 1)
}
