package actions

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/schedflow/pkg/schema"
)

// httpAction returns an HTTP Request action that records backoff delays
// instead of sleeping.
func httpAction(delays *[]time.Duration) *HTTPRequestAction {
	a := NewHTTPRequestAction(HTTPConfig{})
	a.sleep = func(ctx context.Context, d time.Duration) error {
		if delays != nil {
			*delays = append(*delays, d)
		}
		return ctx.Err()
	}
	return a
}

func execHTTP(t *testing.T, a *HTTPRequestAction, config map[string]any) (map[string]any, error) {
	t.Helper()
	out, err := a.Execute(context.Background(), ActionInput{Config: config})
	if err != nil {
		return nil, err
	}
	return out.Data, nil
}

func TestHTTPRequest_GET_JSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Custom", "test-value")
		_ = json.NewEncoder(w).Encode(map[string]any{"greeting": "hello", "count": 42})
	}))
	defer srv.Close()

	result, err := execHTTP(t, httpAction(nil), map[string]any{"url": srv.URL})
	require.NoError(t, err)
	assert.Equal(t, 200, result["status"])

	body, ok := result["body"].(map[string]any)
	require.True(t, ok, "body should be decoded JSON")
	assert.Equal(t, "hello", body["greeting"])
	assert.Equal(t, float64(42), body["count"])

	hdrs, ok := result["headers"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "test-value", hdrs["X-Custom"])
}

func TestHTTPRequest_PayloadDefaultsToPOST(t *testing.T) {
	var received map[string]any
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		contentType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &received)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	result, err := execHTTP(t, httpAction(nil), map[string]any{
		"url":     srv.URL,
		"payload": map[string]any{"name": "test", "value": 123},
	})
	require.NoError(t, err)
	assert.Equal(t, 201, result["status"])
	assert.Nil(t, result["body"])
	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, "test", received["name"])
	assert.Equal(t, float64(123), received["value"])
}

func TestHTTPRequest_StringPayloadAndHeaders(t *testing.T) {
	var gotBody, gotType, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotType = r.Header.Get("Content-Type")
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte("plain text"))
	}))
	defer srv.Close()

	result, err := execHTTP(t, httpAction(nil), map[string]any{
		"url":     srv.URL,
		"method":  "put",
		"payload": "hello there",
		"headers": map[string]any{"Authorization": "Bearer abc"},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello there", gotBody)
	assert.Equal(t, "text/plain; charset=utf-8", gotType)
	assert.Equal(t, "Bearer abc", gotAuth)
	assert.Equal(t, "plain text", result["body"])
}

func TestHTTPRequest_ClientErrorNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	var delays []time.Duration
	_, err := execHTTP(t, httpAction(&delays), map[string]any{"url": srv.URL, "retries": 3})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeAction))
	assert.Equal(t, "http request failed with status 404", schema.Message(err))
	assert.Equal(t, int32(1), hits.Load())
	assert.Empty(t, delays)
}

func TestHTTPRequest_ServerErrorRetriedWithBackoff(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	var delays []time.Duration
	result, err := execHTTP(t, httpAction(&delays), map[string]any{
		"url":        srv.URL,
		"retries":    "4",
		"retryDelay": "100ms",
	})
	require.NoError(t, err)
	assert.Equal(t, 200, result["status"])
	assert.Equal(t, int32(3), hits.Load())
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, delays)
}

func TestHTTPRequest_RetriesExhausted(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := execHTTP(t, httpAction(nil), map[string]any{"url": srv.URL, "retries": 2})
	require.Error(t, err)
	assert.Equal(t, "http request failed with status 503", schema.Message(err))
	assert.Equal(t, int32(3), hits.Load())

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, 503, statusErr.StatusCode)
}

func TestHTTPRequest_TransportErrorRetried(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	var delays []time.Duration
	_, err := execHTTP(t, httpAction(&delays), map[string]any{"url": url, "retries": 1})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeAction))
	assert.True(t, strings.HasPrefix(schema.Message(err), "HTTP Request: request failed"))
	assert.Len(t, delays, 1)
}

func TestHTTPRequest_ResponseBodyCapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer srv.Close()

	a := NewHTTPRequestAction(HTTPConfig{MaxResponseBody: 16})
	out, err := a.Execute(context.Background(), ActionInput{Config: map[string]any{"url": srv.URL}})
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("x", 16), out.Data["body"])
}

func TestHTTPRequest_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	_, err := execHTTP(t, httpAction(nil), map[string]any{"url": srv.URL, "timeout": "20ms"})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeAction))
}

func TestHTTPRequest_InvalidURL(t *testing.T) {
	for _, u := range []any{nil, "", "not a url", "ftp://example.com/file"} {
		_, err := execHTTP(t, httpAction(nil), map[string]any{"url": u})
		require.Error(t, err, "%v", u)
		assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
	}
}

func TestHTTPRequest_CancelledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	a := NewHTTPRequestAction(HTTPConfig{})
	a.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}
	_, err := a.Execute(ctx, ActionInput{Config: map[string]any{"url": srv.URL, "retries": 5}})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeCancelled))
}
