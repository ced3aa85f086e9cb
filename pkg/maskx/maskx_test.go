package maskx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapMasksSensitiveKeys(t *testing.T) {
	in := map[string]string{
		"Authorization": "Bearer sk-123",
		"X-Api-Key":     "keep", // not in the deny list
		"api_key":       "abc",
		"Content-Type":  "application/json",
	}
	out := Map(in)
	assert.Equal(t, "****", out["Authorization"])
	assert.Equal(t, "****", out["api_key"])
	assert.Equal(t, "application/json", out["Content-Type"])
	assert.Equal(t, "keep", out["X-Api-Key"])
	// Input untouched.
	assert.Equal(t, "Bearer sk-123", in["Authorization"])
}

func TestCommandMasksAuthorizationInJSON(t *testing.T) {
	argv := []string{
		"loadrunner", "llm",
		"--headers", `{"Authorization": "Bearer sk-secret", "Accept": "text/event-stream"}`,
	}
	out := Command(argv)
	assert.Contains(t, out[3], `"Authorization": "********"`)
	assert.Contains(t, out[3], "text/event-stream")
}

func TestMapNil(t *testing.T) {
	assert.Nil(t, Map(nil))
}
