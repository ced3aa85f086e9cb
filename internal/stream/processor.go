package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/lmeterx/st-engine/internal/fieldmap"
	"github.com/lmeterx/st-engine/internal/metricbus"
	"github.com/lmeterx/st-engine/internal/payload"
	"github.com/lmeterx/st-engine/internal/tokencount"
)

// Failure categories recorded on the per-endpoint counters. Request-time
// failures never fail the whole run.
const (
	FailSSL      = "ssl_error"
	FailTimeout  = "timeout"
	FailConnect  = "connect_error"
	FailHTTP     = "http_error"
	FailJSON     = "json_parse_error"
	FailFraming  = "stream_framing_error"
	FailProvider = "provider_error"
	FailRequest  = "request_exception"
)

const previewLen = 200

// Recorder receives per-endpoint request outcomes. The swarm stats registry
// implements it.
type Recorder interface {
	Success(name string, latency time.Duration, contentLength int)
	Failure(name string, latency time.Duration, detail string)
}

// Usage holds the token accounting of one request.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Request is one call to issue.
type Request struct {
	URL     string
	Headers map[string]string
	Cookies map[string]string
	Body    payload.Body
	// PromptText is the raw prompt, kept for the local-tokenizer fallback
	// when the provider returns no usage fields.
	PromptText string
}

// Result is the outcome of one call.
type Result struct {
	OK              bool
	StatusCode      int
	Content         string
	Reasoning       string
	Usage           Usage
	FailureCategory string
	FailureDetail   string
	Elapsed         time.Duration
}

// Processor drives one HTTP call per Do and reports metrics. Immutable after
// construction; safe for concurrent use by many virtual users.
type Processor struct {
	Client  *http.Client
	Mapping fieldmap.Mapping
	Model   string
	Stream  bool
	Name    string
	Bus     *metricbus.Bus
	Stats   Recorder
	Counter *tokencount.Counter
}

// Do issues one POST and processes the response per the field mapping.
func (p *Processor) Do(ctx context.Context, req Request) Result {
	raw, err := req.Body.Bytes()
	if err != nil {
		return p.fail(Result{}, 0, FailRequest, err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(raw))
	if err != nil {
		return p.fail(Result{}, 0, FailRequest, err.Error())
	}
	if req.Body.IsJSON {
		httpReq.Header.Set("Content-Type", "application/json")
	} else {
		httpReq.Header.Set("Content-Type", "text/plain")
	}
	if p.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.Cookies {
		httpReq.AddCookie(&http.Cookie{Name: k, Value: v})
	}

	start := time.Now()
	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return p.fail(Result{}, time.Since(start), classifyErr(err), err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		preview, _ := io.ReadAll(io.LimitReader(resp.Body, previewLen))
		res := Result{StatusCode: resp.StatusCode}
		detail := fmt.Sprintf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(preview)))
		return p.fail(res, time.Since(start), FailHTTP, detail)
	}

	if p.Stream {
		return p.consumeStream(resp, req.PromptText, start)
	}
	return p.consumeBlocking(resp, req.PromptText, start)
}

func (p *Processor) consumeBlocking(resp *http.Response, promptText string, start time.Time) Result {
	res := Result{StatusCode: resp.StatusCode}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return p.fail(res, time.Since(start), classifyErr(err), err.Error())
	}

	var node any
	if err := json.Unmarshal(raw, &node); err != nil {
		return p.fail(res, time.Since(start), FailJSON, preview(string(raw)))
	}
	if detail, bad := providerError(node); bad {
		return p.fail(res, time.Since(start), FailProvider, detail)
	}

	res.Content, _ = fieldmap.GetString(node, p.Mapping.Content)
	res.Reasoning, _ = fieldmap.GetString(node, p.Mapping.ReasoningContent)
	mappedUsage(node, p.Mapping, &res.Usage)
	canonicalUsage(node, &res.Usage)

	res.Elapsed = time.Since(start)
	p.finalize(&res, promptText)
	p.fireMetric(metricbus.MetricTotalTime, res.Elapsed, len(res.Content))
	return p.succeed(res)
}

func (p *Processor) consumeStream(resp *http.Response, promptText string, start time.Time) Result {
	res := Result{StatusCode: resp.StatusCode}
	m := p.Mapping

	var (
		content        strings.Builder
		reasoning      strings.Builder
		firstContentAt time.Time
		reasoningSeen  bool
		reasoningDone  bool
	)

	finishClean := func() Result {
		now := time.Now()
		if !firstContentAt.IsZero() {
			p.fireMetric(metricbus.MetricOutputCompletion, now.Sub(firstContentAt), 0)
		}
		res.Content = content.String()
		res.Reasoning = reasoning.String()
		res.Elapsed = now.Sub(start)
		p.finalize(&res, promptText)
		p.fireMetric(metricbus.MetricTotalTime, res.Elapsed, len(res.Content))
		return p.succeed(res)
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(strings.ToValidUTF8(sc.Text(), "�"))
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "event:") || strings.HasPrefix(line, "id:") || strings.HasPrefix(line, "retry:") {
			continue
		}

		frame := line
		switch {
		case m.EndPrefix != "" && strings.HasPrefix(frame, m.EndPrefix):
			frame = strings.TrimSpace(strings.TrimPrefix(frame, m.EndPrefix))
		case m.StreamPrefix != "" && strings.HasPrefix(frame, m.StreamPrefix):
			frame = strings.TrimSpace(strings.TrimPrefix(frame, m.StreamPrefix))
		case strings.HasPrefix(frame, "data:"):
			frame = strings.TrimSpace(strings.TrimPrefix(frame, "data:"))
		}
		if frame == "" {
			continue
		}
		if m.StopFlag != "" && frame == m.StopFlag {
			return finishClean()
		}

		var node any
		if err := json.Unmarshal([]byte(frame), &node); err != nil {
			res.Content = content.String()
			res.Reasoning = reasoning.String()
			return p.fail(res, time.Since(start), FailFraming, preview(frame))
		}
		if m.EndField != "" {
			if v, ok := fieldmap.GetString(node, m.EndField); ok && v == m.StopFlag {
				return finishClean()
			}
		}
		if detail, bad := providerError(node); bad {
			res.Content = content.String()
			res.Reasoning = reasoning.String()
			return p.fail(res, time.Since(start), FailProvider, detail)
		}

		frameHasUsage := mappedUsage(node, m, &res.Usage)

		if chunk, ok := fieldmap.GetString(node, m.ReasoningContent); ok && chunk != "" {
			if !reasoningSeen {
				reasoningSeen = true
				p.fireMetric(metricbus.MetricFirstReasoningToken, time.Since(start), 0)
			}
			reasoning.WriteString(chunk)
		}
		if chunk, ok := fieldmap.GetString(node, m.Content); ok && chunk != "" {
			if firstContentAt.IsZero() {
				firstContentAt = time.Now()
				p.fireMetric(metricbus.MetricFirstOutputToken, firstContentAt.Sub(start), 0)
				if reasoningSeen && !reasoningDone {
					reasoningDone = true
					p.fireMetric(metricbus.MetricReasoningCompletion, firstContentAt.Sub(start), 0)
				}
			}
			// Final usage frames echo the full text on some gateways; do
			// not double-count it.
			if !frameHasUsage {
				content.WriteString(chunk)
			}
		}
	}
	if err := sc.Err(); err != nil {
		res.Content = content.String()
		res.Reasoning = reasoning.String()
		return p.fail(res, time.Since(start), classifyErr(err), err.Error())
	}
	// EOF without an explicit sentinel is a clean end.
	return finishClean()
}

// finalize completes the token accounting per the extraction priority:
// mapped fields, then derivation by subtraction, then the local tokenizer.
func (p *Processor) finalize(res *Result, promptText string) {
	u := &res.Usage
	if u.TotalTokens > 0 {
		if u.CompletionTokens == 0 && u.PromptTokens > 0 {
			u.CompletionTokens = u.TotalTokens - u.PromptTokens
		}
		if u.PromptTokens == 0 && u.CompletionTokens > 0 {
			u.PromptTokens = u.TotalTokens - u.CompletionTokens
		}
	}
	counter := p.Counter
	if counter == nil {
		counter = tokencount.DefaultCounter
	}
	if u.CompletionTokens == 0 && res.Content != "" {
		u.CompletionTokens = counter.CountTokens(res.Content, p.Model)
	}
	if u.PromptTokens == 0 && promptText != "" {
		u.PromptTokens = counter.CountTokens(promptText, p.Model)
	}
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	if u.PromptTokens > 0 {
		p.fireMetric(metricbus.MetricInputTokens, time.Duration(u.PromptTokens)*time.Millisecond, 0)
	}
	if u.CompletionTokens > 0 {
		p.fireMetric(metricbus.MetricCompletionTokens, time.Duration(u.CompletionTokens)*time.Millisecond, 0)
	}
}

func (p *Processor) fireMetric(name string, d time.Duration, contentLen int) {
	if p.Bus == nil {
		return
	}
	p.Bus.Fire(name, float64(d)/float64(time.Millisecond), contentLen)
}

func (p *Processor) succeed(res Result) Result {
	res.OK = true
	if p.Stats != nil {
		p.Stats.Success(p.Name, res.Elapsed, len(res.Content))
	}
	return res
}

func (p *Processor) fail(res Result, elapsed time.Duration, category, detail string) Result {
	res.OK = false
	res.Elapsed = elapsed
	res.FailureCategory = category
	res.FailureDetail = detail
	if p.Stats != nil {
		p.Stats.Failure(p.Name, elapsed, category+": "+detail)
	}
	return res
}

// mappedUsage reads token fields through the mapping paths. Reports whether
// the frame carried any token field.
func mappedUsage(node any, m fieldmap.Mapping, u *Usage) bool {
	seen := false
	if n, ok := fieldmap.GetNumber(node, m.PromptTokens); ok {
		u.PromptTokens = int(n)
		seen = true
	}
	if n, ok := fieldmap.GetNumber(node, m.CompletionTokens); ok {
		u.CompletionTokens = int(n)
		seen = true
	}
	if n, ok := fieldmap.GetNumber(node, m.TotalTokens); ok {
		u.TotalTokens = int(n)
		seen = true
	}
	return seen
}

// canonicalUsage fills gaps from the well-known usage field names.
func canonicalUsage(node any, u *Usage) {
	if u.PromptTokens == 0 {
		if n, ok := firstNumber(node, "usage.prompt_tokens", "usage.input_tokens"); ok {
			u.PromptTokens = n
		}
	}
	if u.CompletionTokens == 0 {
		if n, ok := firstNumber(node, "usage.completion_tokens", "usage.output_tokens"); ok {
			u.CompletionTokens = n
		}
	}
	if u.TotalTokens == 0 {
		if n, ok := firstNumber(node, "usage.total_tokens"); ok {
			u.TotalTokens = n
		}
	}
}

func firstNumber(node any, paths ...string) (int, bool) {
	for _, p := range paths {
		if n, ok := fieldmap.GetNumber(node, p); ok {
			return int(n), true
		}
	}
	return 0, false
}

// providerError detects an error embedded in an otherwise 2xx payload.
func providerError(node any) (string, bool) {
	doc, ok := node.(map[string]any)
	if !ok {
		return "", false
	}
	bad := false
	if obj, ok := doc["object"].(string); ok && obj == "error" {
		bad = true
	}
	if ev, ok := doc["event"].(string); ok && ev == "error" {
		bad = true
	}
	if code, ok := doc["code"].(float64); ok && code < 0 {
		bad = true
	}
	if e, present := doc["error"]; present && !bad {
		switch v := e.(type) {
		case nil:
		case map[string]any:
			bad = len(v) > 0
		case string:
			bad = v != ""
		default:
			bad = true
		}
	}
	if !bad {
		return "", false
	}
	raw, _ := json.Marshal(doc)
	return preview(string(raw)), true
}

func preview(s string) string {
	if len(s) > previewLen {
		return s[:previewLen]
	}
	return s
}

func classifyErr(err error) string {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return FailTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return FailConnect
	}
	msg := err.Error()
	if strings.Contains(msg, "tls:") || strings.Contains(msg, "x509:") {
		return FailSSL
	}
	return FailRequest
}
