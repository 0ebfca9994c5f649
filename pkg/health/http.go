package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

// maxProbeBody bounds how much of a response body is read
const maxProbeBody = 1 << 20

// HTTPChecker probes an HTTP dependency, typically the model server's
// /models listing.
type HTTPChecker struct {
	url       string
	header    http.Header
	minStatus int
	maxStatus int
	field     string
	client    *http.Client
}

// HTTPOption configures an HTTPChecker
type HTTPOption func(*HTTPChecker)

// WithBearerToken sends token as a bearer credential. An empty token is
// ignored.
func WithBearerToken(token string) HTTPOption {
	return func(h *HTTPChecker) {
		if token != "" {
			h.header.Set("Authorization", "Bearer "+token)
		}
	}
}

// WithHeader adds a request header
func WithHeader(key, value string) HTTPOption {
	return func(h *HTTPChecker) { h.header.Add(key, value) }
}

// WithStatusRange accepts response codes in [lo, hi]
func WithStatusRange(lo, hi int) HTTPOption {
	return func(h *HTTPChecker) {
		h.minStatus = lo
		h.maxStatus = hi
	}
}

// WithJSONField requires the response body to be JSON containing path
// (gjson syntax), e.g. "data" for an OpenAI-style model list.
func WithJSONField(path string) HTTPOption {
	return func(h *HTTPChecker) { h.field = path }
}

// WithTimeout bounds each request
func WithTimeout(d time.Duration) HTTPOption {
	return func(h *HTTPChecker) { h.client.Timeout = d }
}

// NewHTTPChecker creates a checker that GETs url and accepts 2xx and 3xx
func NewHTTPChecker(url string, opts ...HTTPOption) *HTTPChecker {
	h := &HTTPChecker{
		url:       url,
		header:    make(http.Header),
		minStatus: http.StatusOK,
		maxStatus: 399,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Check performs one GET
func (h *HTTPChecker) Check(ctx context.Context) Result {
	start := time.Now()
	result := func(healthy bool, format string, args ...any) Result {
		return Result{
			Healthy:   healthy,
			Message:   fmt.Sprintf(format, args...),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return result(false, "bad probe url: %v", err)
	}
	req.Header = h.header.Clone()

	resp, err := h.client.Do(req)
	if err != nil {
		return result(false, "request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < h.minStatus || resp.StatusCode > h.maxStatus {
		return result(false, "unexpected status %d (want %d-%d)", resp.StatusCode, h.minStatus, h.maxStatus)
	}
	if h.field == "" {
		return result(true, "status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProbeBody))
	if err != nil {
		return result(false, "failed to read body: %v", err)
	}
	if !gjson.ValidBytes(body) {
		return result(false, "response is not JSON")
	}
	if !gjson.GetBytes(body, h.field).Exists() {
		return result(false, "response has no %q field", h.field)
	}
	return result(true, "status %d", resp.StatusCode)
}

// Type returns CheckTypeHTTP
func (h *HTTPChecker) Type() CheckType {
	return CheckTypeHTTP
}
