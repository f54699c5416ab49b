// Package webfetch implements the web_fetch and web_search tools: fetching
// a URL and extracting readable content, and searching the web through a
// pluggable provider chain. Neither tool's internal behavior is specified —
// spec.md leaves tool bodies as a Non-goal — so both are built fresh in the
// teacher's own idiom, reusing its constants and conversion helpers and
// borrowing the corpus's SSRF guard where the teacher's copy was missing.
package webfetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/agentforge/agentcore/internal/tool"
)

const (
	defaultFetchMaxChars    = 50000
	defaultFetchMaxRedirect = 3
	defaultErrorMaxChars    = 4000
	fetchTimeoutSeconds     = 30
	fetchUserAgent          = "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_7_2) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	defaultCacheTTL         = 5 * time.Minute
	defaultCacheMaxEntries  = 256
)

// FetchTool fetches a URL and converts HTML/JSON/plain-text content into
// markdown or plain text, behind an SSRF guard and a short-lived cache.
type FetchTool struct {
	maxChars int
	cache    *cache
	client   *http.Client
}

// FetchConfig configures FetchTool.
type FetchConfig struct {
	MaxChars int
	CacheTTL time.Duration
}

func NewFetchTool(cfg FetchConfig) *FetchTool {
	maxChars := cfg.MaxChars
	if maxChars <= 0 {
		maxChars = defaultFetchMaxChars
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &FetchTool{
		maxChars: maxChars,
		cache:    newCache(defaultCacheMaxEntries, ttl),
	}
}

func (t *FetchTool) ID() string          { return "web_fetch" }
func (t *FetchTool) Description() string { return "Fetch a URL and extract its content. Supports HTML (converted to markdown/text), JSON, and plain text. Includes SSRF protection." }

type fetchParams struct {
	URL         string `json:"url" jsonschema:"required,description=HTTP or HTTPS URL to fetch"`
	ExtractMode string `json:"extractMode,omitempty" jsonschema:"enum=markdown,enum=text,description=Extraction mode. Default: markdown"`
	MaxChars    int    `json:"maxChars,omitempty" jsonschema:"minimum=100,description=Maximum characters to return (truncates when exceeded)"`
	Render      bool   `json:"render,omitempty" jsonschema:"description=Render the page in a headless browser before extracting content, for pages that only populate via client-side JavaScript"`
}

func (t *FetchTool) ParameterSchema() map[string]any { return tool.SchemaFor(fetchParams{}) }

func (t *FetchTool) Execute(ctx context.Context, args map[string]any, _ tool.Context) (tool.Result, error) {
	rawURL, _ := args["url"].(string)
	if rawURL == "" {
		return tool.Result{Output: "url is required"}, nil
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return tool.Result{Output: fmt.Sprintf("invalid URL: %v", err)}, nil
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return tool.Result{Output: "only http and https URLs are supported"}, nil
	}
	if parsed.Host == "" {
		return tool.Result{Output: "missing hostname in URL"}, nil
	}
	if err := checkSSRF(rawURL); err != nil {
		return tool.Result{Output: fmt.Sprintf("SSRF protection: %v", err)}, nil
	}

	extractMode := "markdown"
	if em, _ := args["extractMode"].(string); em == "markdown" || em == "text" {
		extractMode = em
	}
	maxChars := t.maxChars
	if mc, ok := args["maxChars"].(float64); ok && int(mc) >= 100 {
		maxChars = int(mc)
	}
	render, _ := args["render"].(bool)

	cacheKey := fmt.Sprintf("fetch:%s:%s:%d:%v", rawURL, extractMode, maxChars, render)
	if cached, ok := t.cache.get(cacheKey); ok {
		slog.Debug("web_fetch cache hit", "url", rawURL)
		return tool.Result{Title: "web_fetch", Output: cached}, nil
	}

	var result string
	if render {
		result, err = t.doRenderedFetch(rawURL, extractMode, maxChars)
	} else {
		result, err = t.doFetch(ctx, rawURL, extractMode, maxChars)
	}
	if err != nil {
		return tool.Result{Title: "web_fetch", Output: fmt.Sprintf("fetch failed: %s", truncateStr(err.Error(), defaultErrorMaxChars))}, nil
	}

	wrapped := wrapExternalContent(result, "Web Fetch")
	t.cache.set(cacheKey, wrapped)
	return tool.Result{Title: "web_fetch", Output: wrapped}, nil
}

func (t *FetchTool) httpClient() *http.Client {
	if t.client != nil {
		return t.client
	}
	return &http.Client{
		Timeout: fetchTimeoutSeconds * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			IdleConnTimeout:     30 * time.Second,
			TLSHandshakeTimeout: 15 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > defaultFetchMaxRedirect {
				return fmt.Errorf("stopped after %d redirects", defaultFetchMaxRedirect)
			}
			return checkSSRF(req.URL.String())
		},
	}
}

func (t *FetchTool) doFetch(ctx context.Context, rawURL, extractMode string, maxChars int) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", fetchUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := t.httpClient().Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, int64(maxChars*4))
	body, err := io.ReadAll(limited)
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	var text, extractor string
	switch {
	case strings.Contains(contentType, "application/json"):
		text, extractor = extractJSON(body)
	case strings.Contains(contentType, "text/markdown"):
		text, extractor = string(body), "cf-markdown"
		if extractMode == "text" {
			text = markdownToText(text)
		}
	case strings.Contains(contentType, "text/html"), strings.Contains(contentType, "application/xhtml"):
		if extractMode == "markdown" {
			text, extractor = htmlToMarkdown(string(body)), "html-to-markdown"
		} else {
			text, extractor = htmlToText(string(body)), "html-to-text"
		}
	default:
		text, extractor = string(body), "raw"
	}

	truncated := false
	if len(text) > maxChars {
		text = text[:maxChars]
		truncated = true
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "URL: %s\n", finalURL)
	fmt.Fprintf(&sb, "Status: %d\n", resp.StatusCode)
	fmt.Fprintf(&sb, "Extractor: %s\n", extractor)
	if truncated {
		fmt.Fprintf(&sb, "Truncated: true (limit: %d chars)\n", maxChars)
	}
	fmt.Fprintf(&sb, "Length: %d\n\n", len(text))
	sb.WriteString(text)
	return sb.String(), nil
}

// doRenderedFetch loads rawURL in a headless browser first, then runs the
// same HTML conversion path doFetch uses for a directly-fetched page.
func (t *FetchTool) doRenderedFetch(rawURL, extractMode string, maxChars int) (string, error) {
	html, err := renderWithBrowser(rawURL)
	if err != nil {
		return "", err
	}

	var text, extractor string
	if extractMode == "markdown" {
		text, extractor = htmlToMarkdown(html), "rendered-html-to-markdown"
	} else {
		text, extractor = htmlToText(html), "rendered-html-to-text"
	}

	truncated := false
	if len(text) > maxChars {
		text = text[:maxChars]
		truncated = true
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "URL: %s\n", rawURL)
	fmt.Fprintf(&sb, "Extractor: %s\n", extractor)
	if truncated {
		fmt.Fprintf(&sb, "Truncated: true (limit: %d chars)\n", maxChars)
	}
	fmt.Fprintf(&sb, "Length: %d\n\n", len(text))
	sb.WriteString(text)
	return sb.String(), nil
}
