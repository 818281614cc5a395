package httptool

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/skosovsky/toolwire"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var fastRetry = toolwire.RetryPolicy{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond, Multiplier: 1}

// serve starts a test server that counts requests.
func serve(t *testing.T, h http.HandlerFunc) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newEngine(t *testing.T, opts ...Option) (*Fetcher, *toolwire.Engine) {
	t.Helper()
	f, err := New(opts...)
	require.NoError(t, err)
	reg := toolwire.NewRegistry()
	require.NoError(t, f.Register(reg))
	eng := toolwire.New(reg,
		toolwire.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		toolwire.WithRetryPolicy(fastRetry),
	)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = eng.Shutdown(ctx)
	})
	return f, eng
}

func fetch(t *testing.T, eng *toolwire.Engine, params map[string]any) toolwire.ExecutionResult {
	t.Helper()
	res, err := eng.Invoke(context.Background(), ToolName, params)
	require.NoError(t, err)
	return res
}

func TestFetcher_Register(t *testing.T) {
	f, err := New()
	require.NoError(t, err)
	defer f.Close()
	reg := toolwire.NewRegistry()
	require.NoError(t, f.Register(reg))
	info, ok := reg.Info(ToolName)
	require.True(t, ok)
	assert.True(t, info.Network)
	assert.Equal(t, []string{"web", "network"}, info.Tags)
}

func TestFetch_HTMLToMarkdown(t *testing.T) {
	srv, _ := serve(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, `<html><body><h1>Title</h1><p>Hello <b>world</b></p></body></html>`)
	})
	_, eng := newEngine(t)

	res := fetch(t, eng, map[string]any{"url": srv.URL + "/page"})
	require.Equal(t, toolwire.StateSucceeded, res.State)
	page := res.Payload.(Page)
	assert.Equal(t, http.StatusOK, page.Status)
	assert.Contains(t, page.Content, "# Title")
	assert.Contains(t, page.Content, "**world**")
	assert.NotContains(t, page.Content, "<h1>")

	res = fetch(t, eng, map[string]any{"url": srv.URL + "/page", "format": FormatRaw})
	require.Equal(t, toolwire.StateSucceeded, res.State)
	assert.Contains(t, res.Payload.(Page).Content, "<h1>Title</h1>")
}

func TestFetch_PlainTextUnchanged(t *testing.T) {
	srv, _ := serve(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "<b>not html</b>")
	})
	_, eng := newEngine(t)
	res := fetch(t, eng, map[string]any{"url": srv.URL})
	require.Equal(t, toolwire.StateSucceeded, res.State)
	assert.Equal(t, "<b>not html</b>", res.Payload.(Page).Content)
}

func TestFetch_Truncated(t *testing.T) {
	srv, _ := serve(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "0123456789")
	})
	_, eng := newEngine(t, WithMaxBytes(4))
	page := fetch(t, eng, map[string]any{"url": srv.URL}).Payload.(Page)
	assert.Equal(t, "0123", page.Content)
	assert.True(t, page.Truncated)
}

func TestFetch_StatusFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		kind   toolwire.ErrorKind
	}{
		{"not found", http.StatusNotFound, toolwire.KindNotFound},
		{"forbidden", http.StatusForbidden, toolwire.KindPermission},
		{"bad request", http.StatusBadRequest, toolwire.KindExecution},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, hits := serve(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			})
			_, eng := newEngine(t)
			res := fetch(t, eng, map[string]any{"url": srv.URL})
			assert.Equal(t, toolwire.StateFailed, res.State)
			assert.Equal(t, tt.kind, res.Error.Kind)
			assert.Equal(t, int32(1), hits.Load(), "client errors are not retried")
		})
	}
}

func TestFetch_ServerErrorRetried(t *testing.T) {
	var n atomic.Int32
	srv, hits := serve(t, func(w http.ResponseWriter, _ *http.Request) {
		if n.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, "ok")
	})
	_, eng := newEngine(t)
	res := fetch(t, eng, map[string]any{"url": srv.URL})
	require.Equal(t, toolwire.StateSucceeded, res.State)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetch_ServerErrorExhausted(t *testing.T) {
	srv, hits := serve(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, eng := newEngine(t)
	res := fetch(t, eng, map[string]any{"url": srv.URL})
	assert.Equal(t, toolwire.StateFailed, res.State)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, int32(3), hits.Load())
	assert.Contains(t, res.Error.Message, "502")
}

func TestFetch_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, eng := newEngine(t)
	res := fetch(t, eng, map[string]any{"url": addr})
	assert.Equal(t, toolwire.StateFailed, res.State)
	assert.Equal(t, toolwire.KindConnectionRefused, res.Error.Kind)
	assert.Equal(t, 3, res.Attempts)
}

func TestFetch_Validation(t *testing.T) {
	_, eng := newEngine(t)
	tests := []struct {
		name   string
		params map[string]any
		field  string
	}{
		{"not a url", map[string]any{"url": "ftp://example.com/file"}, "url"},
		{"missing url", map[string]any{}, "url"},
		{"bad format", map[string]any{"url": "https://example.com", "format": "pdf"}, "format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := fetch(t, eng, tt.params)
			assert.Equal(t, toolwire.StateFailed, res.State)
			assert.Equal(t, toolwire.KindValidation, res.Error.Kind)
			assert.Equal(t, tt.field, res.Error.FieldPath)
		})
	}
}

func TestFetch_Cache(t *testing.T) {
	srv, hits := serve(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, r.URL.Path)
	})
	f, eng := newEngine(t, WithCacheSize(2), WithTTL(time.Minute))
	now := time.Now()
	f.now = func() time.Time { return now }

	first := fetch(t, eng, map[string]any{"url": srv.URL + "/a"}).Payload.(Page)
	assert.False(t, first.Cached)
	second := fetch(t, eng, map[string]any{"url": srv.URL + "/a"}).Payload.(Page)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Content, second.Content)
	assert.Equal(t, int32(1), hits.Load())

	// The format is part of the key.
	fetch(t, eng, map[string]any{"url": srv.URL + "/a", "format": FormatRaw})
	assert.Equal(t, int32(2), hits.Load())

	now = now.Add(2 * time.Minute)
	fetch(t, eng, map[string]any{"url": srv.URL + "/a"})
	assert.Equal(t, int32(3), hits.Load(), "expired entries are refetched")
	assert.LessOrEqual(t, f.Len(), 2)
}

func TestFetch_CacheEviction(t *testing.T) {
	srv, hits := serve(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, r.URL.Path)
	})
	_, eng := newEngine(t, WithCacheSize(1))
	fetch(t, eng, map[string]any{"url": srv.URL + "/a"})
	fetch(t, eng, map[string]any{"url": srv.URL + "/b"})
	fetch(t, eng, map[string]any{"url": srv.URL + "/a"})
	assert.Equal(t, int32(3), hits.Load())
}

func TestFetch_CacheDisabled(t *testing.T) {
	srv, hits := serve(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "x")
	})
	f, eng := newEngine(t, WithCacheSize(0))
	fetch(t, eng, map[string]any{"url": srv.URL})
	fetch(t, eng, map[string]any{"url": srv.URL})
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, 0, f.Len())
}

func TestFetcher_CloseThroughShutdown(t *testing.T) {
	srv, _ := serve(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "x")
	})
	f, err := New()
	require.NoError(t, err)
	reg := toolwire.NewRegistry()
	require.NoError(t, f.Register(reg))
	eng := toolwire.New(reg, toolwire.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	fetch(t, eng, map[string]any{"url": srv.URL})
	assert.Equal(t, 1, f.Len())
	require.NoError(t, eng.Shutdown(context.Background()))
	assert.Equal(t, 0, f.Len())

	out, err := f.Execute(context.Background(), toolwire.ValidatedCall{Params: toolwire.Params{"url": srv.URL}})
	require.NoError(t, err)
	require.Nil(t, out.Failure)
	assert.Equal(t, 0, f.Len(), "a closed fetcher no longer caches")
	require.NoError(t, f.Close())
	f.client.CloseIdleConnections()
}

func TestFetch_UserAgent(t *testing.T) {
	var ua atomic.Value
	srv, _ := serve(t, func(w http.ResponseWriter, r *http.Request) {
		ua.Store(r.Header.Get("User-Agent"))
	})
	_, eng := newEngine(t, WithUserAgent("tester/2"))
	fetch(t, eng, map[string]any{"url": srv.URL})
	assert.Equal(t, "tester/2", ua.Load())
}
