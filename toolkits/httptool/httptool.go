// Package httptool provides the web_fetch tool: an HTTP GET whose HTML responses are
// converted to markdown, with an LRU cache of recent pages.
package httptool

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/skosovsky/toolwire"
)

// ToolName is the registered name of the fetch tool.
const ToolName = "web_fetch"

// Output formats.
const (
	FormatMarkdown = "markdown"
	FormatRaw      = "raw"
)

const (
	defaultCacheSize = 64
	defaultTTL       = 5 * time.Minute
	defaultMaxBytes  = 1 << 20
	defaultUserAgent = "toolwire-web-fetch/1.0"
)

// Page is the web_fetch payload.
type Page struct {
	URL         string `json:"url"`
	FinalURL    string `json:"final_url,omitempty"`
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Content     string `json:"content"`
	Truncated   bool   `json:"truncated,omitempty"`
	Cached      bool   `json:"cached,omitempty"`
}

type cacheEntry struct {
	page    Page
	expires time.Time
}

type options struct {
	client    *http.Client
	cacheSize int
	ttl       time.Duration
	maxBytes  int64
	userAgent string
}

// Option configures a Fetcher.
type Option func(*options)

// WithHTTPClient replaces the HTTP client. The Fetcher does not close a client it was given.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.client = c }
}

// WithCacheSize sets how many pages are kept. Zero disables caching.
func WithCacheSize(n int) Option {
	return func(o *options) { o.cacheSize = n }
}

// WithTTL sets how long a cached page is served.
func WithTTL(d time.Duration) Option {
	return func(o *options) { o.ttl = d }
}

// WithMaxBytes caps the response body read per fetch.
func WithMaxBytes(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.maxBytes = n
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(o *options) { o.userAgent = ua }
}

// Fetcher is the web_fetch handler. It owns its cache; Close drops it. Registry.Close calls
// Close for registered fetchers.
type Fetcher struct {
	client    *http.Client
	ownClient bool
	cache     *lru.Cache[string, cacheEntry]
	ttl       time.Duration
	maxBytes  int64
	userAgent string
	now       func() time.Time

	mu     sync.Mutex
	closed bool
}

// New returns a Fetcher.
func New(opts ...Option) (*Fetcher, error) {
	o := options{cacheSize: defaultCacheSize, ttl: defaultTTL, maxBytes: defaultMaxBytes, userAgent: defaultUserAgent}
	for _, opt := range opts {
		opt(&o)
	}
	f := &Fetcher{
		client:    o.client,
		ttl:       o.ttl,
		maxBytes:  o.maxBytes,
		userAgent: o.userAgent,
		now:       time.Now,
	}
	if f.client == nil {
		f.client = &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}
		f.ownClient = true
	}
	if o.cacheSize > 0 && o.ttl > 0 {
		c, err := lru.New[string, cacheEntry](o.cacheSize)
		if err != nil {
			return nil, fmt.Errorf("httptool: %w", err)
		}
		f.cache = c
	}
	return f, nil
}

// Schema returns the web_fetch schema.
func Schema() toolwire.ToolSchema {
	return toolwire.ToolSchema{
		Name:        ToolName,
		Description: "Fetch a web page over HTTP(S). HTML is returned as markdown unless format is raw.",
		Fields: []toolwire.Field{
			{Name: "url", Shape: toolwire.ShapeString, Required: true, Format: toolwire.FormatURL, Description: "Absolute http or https URL"},
			{Name: "format", Shape: toolwire.ShapeString, Enum: []string{FormatMarkdown, FormatRaw}, Description: "Output format, markdown by default"},
		},
	}
}

// Register adds web_fetch to reg as a network tool.
func (f *Fetcher) Register(reg *toolwire.Registry, opts ...toolwire.ToolOption) error {
	opts = append([]toolwire.ToolOption{toolwire.WithNetwork(), toolwire.WithTags("web", "network")}, opts...)
	return reg.Register(Schema(), f, opts...)
}

// Execute fetches the page. Transport failures are returned as errors so the dispatcher can
// classify and retry them; HTTP error statuses are reported as failures.
func (f *Fetcher) Execute(ctx context.Context, call toolwire.ValidatedCall) (toolwire.Outcome, error) {
	target := call.Params.String("url")
	format := call.Params.String("format")
	if format == "" {
		format = FormatMarkdown
	}
	key := format + " " + target
	if page, ok := f.cached(key); ok {
		return toolwire.Success(page), nil
	}

	page, failure, err := f.fetch(ctx, target, format)
	if err != nil {
		return toolwire.Outcome{}, err
	}
	if failure != nil {
		return *failure, nil
	}
	f.store(key, page)
	return toolwire.Success(page), nil
}

func (f *Fetcher) fetch(ctx context.Context, target, format string) (Page, *toolwire.Outcome, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		out := toolwire.Failure(toolwire.KindValidation, err.Error(), "pass an absolute http or https URL")
		return Page{}, &out, nil
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return Page{}, nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	if out := statusFailure(resp); out != nil {
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return Page{}, nil, toolwire.Transient(toolwire.KindExecution,
				fmt.Errorf("fetch %s: %s", target, resp.Status))
		}
		return Page{}, out, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return Page{}, nil, fmt.Errorf("read %s: %w", target, err)
	}
	page := Page{
		URL:         target,
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
	}
	if final := resp.Request.URL.String(); final != target {
		page.FinalURL = final
	}
	if int64(len(body)) > f.maxBytes {
		body = body[:f.maxBytes]
		page.Truncated = true
	}
	page.Content = string(body)
	if format == FormatMarkdown && isHTML(page.ContentType) {
		md, err := htmltomarkdown.ConvertString(page.Content, converter.WithDomain(resp.Request.URL.String()))
		if err != nil {
			return Page{}, nil, fmt.Errorf("convert %s: %w", target, err)
		}
		page.Content = md
	}
	return page, nil, nil
}

func statusFailure(resp *http.Response) *toolwire.Outcome {
	if resp.StatusCode < 400 {
		return nil
	}
	var out toolwire.Outcome
	msg := "fetch returned " + resp.Status
	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		out = toolwire.Failure(toolwire.KindNotFound, msg, "check the URL")
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		out = toolwire.Failure(toolwire.KindPermission, msg, "the page needs credentials; try a public source")
	default:
		out = toolwire.Failure(toolwire.KindExecution, msg, "")
	}
	return &out
}

func isHTML(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(contentType, "html")
	}
	return mt == "text/html" || mt == "application/xhtml+xml"
}

func (f *Fetcher) cached(key string) (Page, bool) {
	if f.cache == nil {
		return Page{}, false
	}
	e, ok := f.cache.Get(key)
	if !ok {
		return Page{}, false
	}
	if !f.now().Before(e.expires) {
		f.cache.Remove(key)
		return Page{}, false
	}
	page := e.page
	page.Cached = true
	return page, true
}

func (f *Fetcher) store(key string, page Page) {
	if f.cache == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.cache.Add(key, cacheEntry{page: page, expires: f.now().Add(f.ttl)})
}

// Len returns the number of cached pages, expired ones included.
func (f *Fetcher) Len() int {
	if f.cache == nil {
		return 0
	}
	return f.cache.Len()
}

// Close drops the cache and idle connections of a client the Fetcher created.
func (f *Fetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	if f.cache != nil {
		f.cache.Purge()
	}
	if f.ownClient {
		f.client.CloseIdleConnections()
	}
	return nil
}

var (
	_ toolwire.Handler = (*Fetcher)(nil)
	_ io.Closer        = (*Fetcher)(nil)
)
