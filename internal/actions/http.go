package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rendis/schedflow/pkg/schema"
)

// HTTPConfig configures the HTTP Request action.
type HTTPConfig struct {
	MaxResponseBody int64
	DefaultTimeout  time.Duration
	RetryDelay      time.Duration
	MaxRetryDelay   time.Duration
	Client          *http.Client
}

const (
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MiB
	defaultHTTPTimeout     = 30 * time.Second
	defaultRetryDelay      = 500 * time.Millisecond
	defaultMaxRetryDelay   = 10 * time.Second
	maxHTTPRetries         = 10
)

const httpRequestInputSchema = `{
  "type": "object",
  "properties": {
    "url": {"type": "string", "minLength": 1},
    "method": {"type": "string"},
    "payload": {},
    "headers": {"type": ["object", "null"]},
    "timeout": {"type": ["string", "number"]},
    "retries": {"type": ["integer", "string"]},
    "retryDelay": {"type": ["string", "number"]}
  },
  "required": ["url"]
}`

// HTTPRequestAction implements the "HTTP Request" action.
type HTTPRequestAction struct {
	config HTTPConfig
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewHTTPRequestAction creates a new HTTP Request action.
func NewHTTPRequestAction(cfg HTTPConfig) *HTTPRequestAction {
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = defaultMaxResponseBody
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultHTTPTimeout
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = defaultMaxRetryDelay
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}
	}
	return &HTTPRequestAction{config: cfg, sleep: WaitForBackoff}
}

func (a *HTTPRequestAction) Name() string { return "HTTP Request" }

func (a *HTTPRequestAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Send an HTTP request; 5xx responses and transport errors are retried with exponential backoff.",
		InputSchema: json.RawMessage(httpRequestInputSchema),
	}
}

// httpRequest is the parsed form of an HTTP Request config.
type httpRequest struct {
	method      string
	url         string
	body        []byte
	contentType string
	headers     map[string]string
	timeout     time.Duration
	retries     int
	retryDelay  time.Duration
}

func (a *HTTPRequestAction) parse(config map[string]any) (*httpRequest, error) {
	rawURL := stringParam(config, "url", "")
	if rawURL == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "HTTP Request: missing required param 'url'")
	}
	u, err := url.ParseRequestURI(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "HTTP Request: invalid url %q", rawURL)
	}

	req := &httpRequest{
		url:        rawURL,
		headers:    map[string]string{},
		timeout:    durationParam(config, "timeout", a.config.DefaultTimeout),
		retries:    min(max(intParam(config, "retries", 0), 0), maxHTTPRetries),
		retryDelay: durationParam(config, "retryDelay", a.config.RetryDelay),
	}

	switch payload := config["payload"].(type) {
	case nil:
	case string:
		req.body = []byte(payload)
		req.contentType = "text/plain; charset=utf-8"
		if json.Valid(req.body) {
			req.contentType = "application/json"
		}
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, schema.NewError(schema.ErrCodeValidation, "HTTP Request: payload is not JSON-encodable").WithCause(err)
		}
		req.body = b
		req.contentType = "application/json"
	}

	req.method = strings.ToUpper(stringParam(config, "method", ""))
	if req.method == "" {
		req.method = http.MethodGet
		if req.body != nil {
			req.method = http.MethodPost
		}
	}

	if hm, ok := config["headers"].(map[string]any); ok {
		for k, v := range hm {
			req.headers[k] = fmt.Sprint(v)
		}
	}
	return req, nil
}

func (a *HTTPRequestAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	req, err := a.parse(input.Config)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= req.retries; attempt++ {
		if attempt > 0 {
			delay := ComputeBackoff(req.retryDelay, attempt-1, a.config.MaxRetryDelay)
			if err := a.sleep(ctx, delay); err != nil {
				return nil, schema.NewError(schema.ErrCodeCancelled, "HTTP Request: cancelled during retry backoff").WithCause(err)
			}
		}

		result, err := a.do(ctx, req)
		if err == nil {
			return &ActionOutput{Data: result}, nil
		}
		lastErr = err
		if !IsRetryableError(err) {
			break
		}
	}

	var statusErr *StatusError
	if errors.As(lastErr, &statusErr) {
		return nil, schema.NewError(schema.ErrCodeAction, statusErr.Error()).
			WithCause(lastErr).
			WithDetails(map[string]any{"status": statusErr.StatusCode})
	}
	return nil, schema.NewErrorf(schema.ErrCodeAction, "HTTP Request: request failed: %v", lastErr).WithCause(lastErr)
}

// do performs a single attempt.
func (a *HTTPRequestAction) do(ctx context.Context, req *httpRequest) (map[string]any, error) {
	reqCtx, cancel := context.WithTimeout(ctx, req.timeout)
	defer cancel()

	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}
	httpReq, err := http.NewRequestWithContext(reqCtx, req.method, req.url, body)
	if err != nil {
		return nil, err
	}
	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}
	for k, v := range req.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := a.config.Client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, a.config.MaxResponseBody))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	var parsed any
	if len(bodyBytes) > 0 {
		if err := json.Unmarshal(bodyBytes, &parsed); err != nil {
			parsed = string(bodyBytes)
		}
	}

	headers := make(map[string]any, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	return map[string]any{
		"status":  resp.StatusCode,
		"headers": headers,
		"body":    parsed,
	}, nil
}
