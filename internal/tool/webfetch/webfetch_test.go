package webfetch

import (
	"context"
	"testing"
	"time"

	"github.com/agentforge/agentcore/internal/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckSSRFBlocksPrivateIP(t *testing.T) {
	assert.Error(t, checkSSRF("http://127.0.0.1/admin"))
	assert.Error(t, checkSSRF("http://10.0.0.5/"))
	assert.Error(t, checkSSRF("ftp://example.com/"))
}

func TestCheckSSRFAllowsPublicHostIP(t *testing.T) {
	assert.NoError(t, checkSSRF("http://93.184.216.34/"))
}

func TestCacheGetSetRoundTrip(t *testing.T) {
	c := newCache(10, time.Minute)
	_, ok := c.get("missing")
	assert.False(t, ok)

	c.set("k", "v")
	v, ok := c.get("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestCacheExpiresByTTL(t *testing.T) {
	c := newCache(10, time.Millisecond)
	c.set("k", "v")
	time.Sleep(5 * time.Millisecond)
	_, ok := c.get("k")
	assert.False(t, ok)
}

func TestCacheEvictsOldestOverMaxSize(t *testing.T) {
	c := newCache(2, time.Hour)
	c.set("a", "1")
	time.Sleep(time.Millisecond)
	c.set("b", "2")
	time.Sleep(time.Millisecond)
	c.set("c", "3")

	_, ok := c.get("a")
	assert.False(t, ok)
	_, ok = c.get("c")
	assert.True(t, ok)
}

func TestHTMLToMarkdownConvertsHeadingsAndLinks(t *testing.T) {
	out := htmlToMarkdown(`<h1>Title</h1><p>See <a href="https://x.test">here</a></p>`)
	assert.Contains(t, out, "# Title")
	assert.Contains(t, out, "[here](https://x.test)")
}

func TestHTMLToTextStripsTags(t *testing.T) {
	out := htmlToText(`<p>Hello <b>world</b></p>`)
	assert.Equal(t, "Hello world", out)
}

func TestFetchToolRejectsNonHTTPScheme(t *testing.T) {
	ft := NewFetchTool(FetchConfig{})
	res, err := ft.Execute(context.Background(), map[string]any{"url": "ftp://example.com"}, tool.Context{})
	require.NoError(t, err)
	assert.Contains(t, res.Output, "only http and https")
}

func TestFetchToolRejectsMissingURL(t *testing.T) {
	ft := NewFetchTool(FetchConfig{})
	res, err := ft.Execute(context.Background(), map[string]any{}, tool.Context{})
	require.NoError(t, err)
	assert.Contains(t, res.Output, "url is required")
}

func TestNewSearchToolReturnsNilWithoutConfiguredProvider(t *testing.T) {
	st := NewSearchTool(SearchConfig{})
	assert.Nil(t, st)
}

func TestSearchToolRequiresQuery(t *testing.T) {
	st := NewSearchTool(SearchConfig{DDGEnabled: true})
	require.NotNil(t, st)
	res, err := st.Execute(context.Background(), map[string]any{}, tool.Context{})
	require.NoError(t, err)
	assert.Contains(t, res.Output, "query is required")
}

func TestNormalizeFreshnessAcceptsShortcutsAndRanges(t *testing.T) {
	assert.Equal(t, "pd", normalizeFreshness("PD"))
	assert.Equal(t, "", normalizeFreshness("bogus"))
	assert.Equal(t, "2024-01-01to2024-02-01", normalizeFreshness("2024-01-01to2024-02-01"))
}
