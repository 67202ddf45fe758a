// Package upstream executes transformed HTTP requests against configured
// external REST APIs and normalizes the response envelope.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/toolbridge/toolbridge/internal/domain/catalog"
	"github.com/toolbridge/toolbridge/internal/domain/transform"
	"github.com/toolbridge/toolbridge/internal/port/outbound"
)

// defaultTimeout bounds a single upstream call so a slow upstream cannot
// hold a dispatcher handler indefinitely.
const defaultTimeout = 30 * time.Second

// maxResponseBodySize is the maximum response body size read from upstream.
// Prevents OOM from an upstream sending unbounded responses.
const maxResponseBodySize = 10 * 1024 * 1024 // 10MB

// ErrUpstreamUnreachable distinguishes transport failures (DNS, refused
// connection, timeout) from HTTP error statuses, which are passed through
// transparently as the proxied result.
var ErrUpstreamUnreachable = errors.New("upstream unreachable")

// ErrAPIDisabled is returned before any network I/O when the upstream API
// record is disabled.
var ErrAPIDisabled = errors.New("upstream API is disabled")

// bodyMethods are the HTTP methods that carry a JSON-encoded payload body.
var bodyMethods = map[string]bool{
	http.MethodPost:  true,
	http.MethodPut:   true,
	http.MethodPatch: true,
}

// Invoker executes upstream HTTP calls. It implements
// outbound.UpstreamInvoker.
type Invoker struct {
	client *http.Client
	logger *slog.Logger
}

// Option is a functional option for configuring an Invoker.
type Option func(*Invoker)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(i *Invoker) {
		i.client = client
	}
}

// WithTimeout sets the request timeout.
func WithTimeout(d time.Duration) Option {
	return func(i *Invoker) {
		if i.client != nil {
			i.client.Timeout = d
		}
	}
}

var _ outbound.UpstreamInvoker = (*Invoker)(nil)

// NewInvoker creates an upstream invoker.
func NewInvoker(logger *slog.Logger, opts ...Option) *Invoker {
	inv := &Invoker{
		client: &http.Client{Timeout: defaultTimeout},
		logger: logger,
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Invoke builds and executes the HTTP request described by the upstream
// API, the transformed payload, and the raw call arguments. Substitution
// warnings are returned alongside the response; they never fail the call.
func (i *Invoker) Invoke(ctx context.Context, api *catalog.UpstreamAPI, payload transform.Payload, args transform.Arguments) (*outbound.UpstreamResponse, []string, error) {
	if !api.Enabled {
		return nil, nil, ErrAPIDisabled
	}

	var warnings []string

	finalURL, urlWarnings := buildURL(api, args, payload)
	warnings = append(warnings, urlWarnings...)

	method := strings.ToUpper(api.Method)
	var body io.Reader
	if bodyMethods[method] {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, warnings, fmt.Errorf("encoding payload: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, finalURL, body)
	if err != nil {
		return nil, warnings, fmt.Errorf("building request: %w", err)
	}

	headerWarnings := applyHeaders(req, api, args, payload)
	warnings = append(warnings, headerWarnings...)

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, warnings, fmt.Errorf("%w: %v", ErrUpstreamUnreachable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return nil, warnings, fmt.Errorf("%w: reading body: %v", ErrUpstreamUnreachable, err)
	}

	out := &outbound.UpstreamResponse{
		Status:  resp.StatusCode,
		Data:    classifyBody(resp.Header.Get("Content-Type"), raw),
		Headers: flattenHeaders(resp.Header),
	}

	i.logger.Debug("upstream call completed",
		"method", method,
		"url", finalURL,
		"status", resp.StatusCode,
	)
	return out, warnings, nil
}

// buildURL substitutes the URL template and appends the query string built
// from the API's query-parameter templates. Parameter names are not
// substituted, only values.
func buildURL(api *catalog.UpstreamAPI, args transform.Arguments, payload transform.Payload) (string, []string) {
	finalURL, warnings := transform.Substitute(api.URL, args, payload, transform.EncodePath)

	if len(api.QueryParams) == 0 {
		return finalURL, warnings
	}

	var pairs []string
	for _, qp := range api.QueryParams {
		val, w := transform.Substitute(qp.Value, args, payload, transform.EncodeQuery)
		warnings = append(warnings, w...)
		pairs = append(pairs, url.QueryEscape(qp.Name)+"="+val)
	}

	sep := "?"
	if strings.Contains(finalURL, "?") {
		sep = "&"
	}
	return finalURL + sep + strings.Join(pairs, "&"), warnings
}

// applyHeaders sets header and cookie templates on the request after value
// substitution. Content-Type defaults to application/json when no header
// template sets it.
func applyHeaders(req *http.Request, api *catalog.UpstreamAPI, args transform.Arguments, payload transform.Payload) []string {
	var warnings []string

	for _, h := range api.Headers {
		val, w := transform.Substitute(h.Value, args, payload, transform.EncodeNone)
		warnings = append(warnings, w...)
		req.Header.Set(h.Name, val)
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	if len(api.Cookies) > 0 {
		var pairs []string
		for _, c := range api.Cookies {
			val, w := transform.Substitute(c.Value, args, payload, transform.EncodeQuery)
			warnings = append(warnings, w...)
			pairs = append(pairs, c.Name+"="+val)
		}
		req.Header.Set("Cookie", strings.Join(pairs, "; "))
	}

	return warnings
}

// classifyBody interprets the response body by Content-Type:
// application/json parses to structured data (degrading to raw text if the
// body is not actually JSON), text/* and everything else return best-effort
// text.
func classifyBody(contentType string, raw []byte) interface{} {
	mediaType := strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
	if mediaType == "application/json" || strings.HasSuffix(mediaType, "+json") {
		var data interface{}
		if err := json.Unmarshal(raw, &data); err == nil {
			return data
		}
	}
	return string(raw)
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name := range h {
		out[name] = h.Get(name)
	}
	return out
}
