package stream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Simple issues plain REST calls for non-LLM load runs. No framing, no field
// mapping: status below 400 is a success.
type Simple struct {
	Client *http.Client
	Method string
	Name   string
	Stats  Recorder
}

// Do issues one request and records the outcome.
func (s *Simple) Do(ctx context.Context, url string, headers, cookies map[string]string, body []byte) Result {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	method := strings.ToUpper(s.Method)
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return s.fail(Result{}, 0, FailRequest, err.Error())
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	for k, v := range cookies {
		req.AddCookie(&http.Cookie{Name: k, Value: v})
	}

	start := time.Now()
	resp, err := s.Client.Do(req)
	if err != nil {
		return s.fail(Result{}, time.Since(start), classifyErr(err), err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	elapsed := time.Since(start)
	res := Result{StatusCode: resp.StatusCode, Elapsed: elapsed}
	if err != nil {
		return s.fail(res, elapsed, classifyErr(err), err.Error())
	}
	if resp.StatusCode >= 400 {
		detail := fmt.Sprintf("HTTP %d: %s", resp.StatusCode, preview(strings.TrimSpace(string(raw))))
		return s.fail(res, elapsed, FailHTTP, detail)
	}

	res.OK = true
	res.Content = string(raw)
	if s.Stats != nil {
		s.Stats.Success(s.Name, elapsed, len(raw))
	}
	return res
}

func (s *Simple) fail(res Result, elapsed time.Duration, category, detail string) Result {
	res.OK = false
	res.Elapsed = elapsed
	res.FailureCategory = category
	res.FailureDetail = detail
	if s.Stats != nil {
		s.Stats.Failure(s.Name, elapsed, category+": "+detail)
	}
	return res
}
