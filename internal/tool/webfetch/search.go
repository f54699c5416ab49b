package webfetch

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/agentforge/agentcore/internal/tool"
)

const (
	defaultSearchCount   = 5
	maxSearchCount       = 10
	searchTimeoutSeconds = 30
	braveSearchEndpoint  = "https://api.search.brave.com/res/v1/web/search"
	webSearchUserAgent   = fetchUserAgent
)

// SearchProvider abstracts one web-search backend; SearchTool tries each
// in order and returns the first success.
type SearchProvider interface {
	Search(ctx context.Context, params searchParams) ([]searchResult, error)
	Name() string
}

type searchParams struct {
	Query      string
	Count      int
	Country    string
	SearchLang string
	UILang     string
	Freshness  string
}

type searchResult struct {
	Title       string
	URL         string
	Description string
}

var (
	freshnessShortcuts = map[string]bool{"pd": true, "pw": true, "pm": true, "py": true}
	freshnessRangeRe   = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})to(\d{4}-\d{2}-\d{2})$`)
)

func normalizeFreshness(value string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return ""
	}
	if freshnessShortcuts[v] {
		return v
	}
	if m := freshnessRangeRe.FindStringSubmatch(v); len(m) == 3 {
		start, errS := time.Parse("2006-01-02", m[1])
		end, errE := time.Parse("2006-01-02", m[2])
		if errS == nil && errE == nil && !start.After(end) {
			return v
		}
	}
	return ""
}

// SearchTool searches the web via a priority-ordered provider chain
// (Brave first when configured, DuckDuckGo as the always-available
// fallback), behind a short-lived cache.
type SearchTool struct {
	providers []SearchProvider
	cache     *cache
}

// SearchConfig configures SearchTool's provider chain.
type SearchConfig struct {
	BraveAPIKey  string
	BraveEnabled bool
	DDGEnabled   bool
	CacheTTL     time.Duration
}

// NewSearchTool returns nil if no provider is configured — callers should
// skip registering the tool in that case.
func NewSearchTool(cfg SearchConfig) *SearchTool {
	var providers []SearchProvider
	if cfg.BraveEnabled && cfg.BraveAPIKey != "" {
		providers = append(providers, newBraveSearchProvider(cfg.BraveAPIKey))
	}
	if cfg.DDGEnabled {
		providers = append(providers, newDuckDuckGoSearchProvider())
	}
	if len(providers) == 0 {
		return nil
	}

	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &SearchTool{providers: providers, cache: newCache(defaultCacheMaxEntries, ttl)}
}

func (t *SearchTool) ID() string          { return "web_search" }
func (t *SearchTool) Description() string { return "Search the web for current information. Returns titles, URLs, and snippets from search results." }

type searchToolParams struct {
	Query      string `json:"query" jsonschema:"required,description=Search query string"`
	Count      int    `json:"count,omitempty" jsonschema:"minimum=1,maximum=10,description=Number of results to return (1-10)"`
	Country    string `json:"country,omitempty" jsonschema:"description=2-letter country code for region-specific results"`
	SearchLang string `json:"search_lang,omitempty" jsonschema:"description=ISO language code for search results"`
	UILang     string `json:"ui_lang,omitempty" jsonschema:"description=ISO language code for UI elements"`
	Freshness  string `json:"freshness,omitempty" jsonschema:"description=pd/pw/pm/py or YYYY-MM-DDtoYYYY-MM-DD"`
}

func (t *SearchTool) ParameterSchema() map[string]any { return tool.SchemaFor(searchToolParams{}) }

func (t *SearchTool) Execute(ctx context.Context, args map[string]any, _ tool.Context) (tool.Result, error) {
	query, _ := args["query"].(string)
	if query == "" {
		return tool.Result{Title: "web_search", Output: "query is required"}, nil
	}

	count := defaultSearchCount
	if c, ok := args["count"].(float64); ok && int(c) >= 1 && int(c) <= maxSearchCount {
		count = int(c)
	}
	country, _ := args["country"].(string)
	searchLang, _ := args["search_lang"].(string)
	uiLang, _ := args["ui_lang"].(string)
	freshness, _ := args["freshness"].(string)

	params := searchParams{Query: query, Count: count, Country: country, SearchLang: searchLang, UILang: uiLang, Freshness: freshness}

	cacheKey := buildSearchCacheKey(params)
	if cached, ok := t.cache.get(cacheKey); ok {
		slog.Debug("web_search cache hit", "query", query)
		return tool.Result{Title: "web_search", Output: cached}, nil
	}

	var lastErr error
	for _, provider := range t.providers {
		results, err := provider.Search(ctx, params)
		if err != nil {
			slog.Warn("web_search provider failed", "provider", provider.Name(), "error", err)
			lastErr = err
			continue
		}
		formatted := formatSearchResults(query, results, provider.Name())
		wrapped := wrapExternalContent(formatted, "Web Search")
		t.cache.set(cacheKey, wrapped)
		return tool.Result{Title: "web_search", Output: wrapped}, nil
	}

	if lastErr != nil {
		return tool.Result{Title: "web_search", Output: fmt.Sprintf("all search providers failed: %v", lastErr)}, nil
	}
	return tool.Result{Title: "web_search", Output: "no search providers configured"}, nil
}

func buildSearchCacheKey(p searchParams) string {
	parts := []string{
		p.Query,
		fmt.Sprintf("%d", p.Count),
		orDefault(p.Country, "default"),
		orDefault(p.SearchLang, "default"),
		orDefault(p.UILang, "default"),
		orDefault(p.Freshness, "default"),
	}
	return strings.Join(parts, ":")
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func formatSearchResults(query string, results []searchResult, provider string) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results found for: %s", query)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Search results for: %s (via %s)\n\n", query, provider)
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. %s\n   %s\n", i+1, r.Title, r.URL)
		if r.Description != "" {
			fmt.Fprintf(&sb, "   %s\n", r.Description)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
