// Package maskx hides credential material before it reaches logs.
package maskx

import (
	"regexp"
	"strings"
)

var sensitiveKeys = map[string]struct{}{
	"authorization": {},
	"api_key":       {},
	"apikey":        {},
	"api-key":       {},
	"token":         {},
	"access_token":  {},
	"cookie":        {},
	"set-cookie":    {},
	"password":      {},
	"secret":        {},
}

var authInJSON = regexp.MustCompile(`(?i)("authorization"\s*:\s*").*?(")`)

// Map returns a copy of m with values of sensitive keys replaced by "****".
func Map(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if _, ok := sensitiveKeys[strings.ToLower(k)]; ok {
			out[k] = "****"
		} else {
			out[k] = v
		}
	}
	return out
}

// Command masks Authorization values embedded in serialized argv elements
// (headers are passed to the runner as JSON strings).
func Command(argv []string) []string {
	out := make([]string, len(argv))
	for i, a := range argv {
		out[i] = authInJSON.ReplaceAllString(a, `${1}********${2}`)
	}
	return out
}
