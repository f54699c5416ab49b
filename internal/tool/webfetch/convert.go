package webfetch

import (
	"encoding/json"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

func extractJSON(body []byte) (text, extractor string) {
	var data any
	if err := json.Unmarshal(body, &data); err == nil {
		if formatted, err := json.MarshalIndent(data, "", "  "); err == nil {
			return string(formatted), "json"
		}
	}
	return string(body), "raw"
}

// skippedElements never contribute text or markdown to the conversion —
// their content is noise (scripts, styling) or chrome (site nav/footer)
// rather than article body.
var skippedElements = map[atom.Atom]bool{
	atom.Script: true,
	atom.Style:  true,
	atom.Nav:    true,
	atom.Footer: true,
	atom.Header: true,
}

var (
	reMultiNL = regexp.MustCompile(`\n{3,}`)
	reMultiSP = regexp.MustCompile(`[ \t]{2,}`)
)

// htmlToMarkdown walks the parsed DOM and renders a markdown approximation
// of the article body: headings, paragraphs, lists, links, emphasis,
// blockquotes and code blocks each get their usual markdown punctuation,
// everything else degrades to its text content. Not a full Readability
// implementation, but covers the common article patterns.
func htmlToMarkdown(src string) string {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return strings.TrimSpace(src)
	}
	var buf strings.Builder
	renderNode(&buf, doc, true)
	return cleanupWhitespace(buf.String())
}

// htmlToText is htmlToMarkdown minus any markdown punctuation — same walk,
// a plain-text renderer instead.
func htmlToText(src string) string {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return strings.TrimSpace(src)
	}
	var buf strings.Builder
	renderNode(&buf, doc, false)

	lines := strings.Split(cleanupWhitespace(buf.String()), "\n")
	clean := make([]string, 0, len(lines))
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			clean = append(clean, line)
		}
	}
	return strings.Join(clean, "\n")
}

var headingMarkdown = map[atom.Atom]string{
	atom.H1: "# ", atom.H2: "## ", atom.H3: "### ",
	atom.H4: "#### ", atom.H5: "##### ", atom.H6: "###### ",
}

// renderNode walks n depth-first, writing markdown (or, with markdown=false,
// plain text) for every text node and block/inline element it recognizes.
func renderNode(buf *strings.Builder, n *html.Node, markdown bool) {
	if n.Type == html.TextNode {
		buf.WriteString(n.Data)
		return
	}
	if n.Type != html.ElementNode {
		renderChildren(buf, n, markdown)
		return
	}
	if skippedElements[n.DataAtom] {
		return
	}

	switch n.DataAtom {
	case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		buf.WriteString("\n")
		if markdown {
			buf.WriteString(headingMarkdown[n.DataAtom])
		}
		renderChildren(buf, n, markdown)
		buf.WriteString("\n")
	case atom.P, atom.Div:
		buf.WriteString("\n")
		renderChildren(buf, n, markdown)
		buf.WriteString("\n")
	case atom.Br:
		buf.WriteString("\n")
	case atom.Li:
		buf.WriteString("\n")
		if markdown {
			buf.WriteString("- ")
		}
		renderChildren(buf, n, markdown)
	case atom.A:
		if !markdown {
			renderChildren(buf, n, markdown)
			return
		}
		href := attr(n, "href")
		var label strings.Builder
		renderChildren(&label, n, markdown)
		if href == "" {
			buf.WriteString(label.String())
		} else {
			buf.WriteString("[" + label.String() + "](" + href + ")")
		}
	case atom.Img:
		if markdown {
			buf.WriteString("![" + attr(n, "alt") + "]")
		}
	case atom.Strong, atom.B:
		wrapInline(buf, n, markdown, "**")
	case atom.Em, atom.I:
		wrapInline(buf, n, markdown, "*")
	case atom.Code:
		wrapInline(buf, n, markdown, "`")
	case atom.Pre:
		buf.WriteString("\n")
		if markdown {
			buf.WriteString("```\n")
		}
		renderChildren(buf, n, markdown)
		if markdown {
			buf.WriteString("\n```")
		}
		buf.WriteString("\n")
	case atom.Blockquote:
		var inner strings.Builder
		renderChildren(&inner, n, markdown)
		buf.WriteString("\n")
		if markdown {
			for _, line := range strings.Split(strings.TrimSpace(inner.String()), "\n") {
				buf.WriteString("> " + strings.TrimSpace(line) + "\n")
			}
		} else {
			buf.WriteString(inner.String())
		}
	default:
		renderChildren(buf, n, markdown)
	}
}

func renderChildren(buf *strings.Builder, n *html.Node, markdown bool) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		renderNode(buf, c, markdown)
	}
}

func wrapInline(buf *strings.Builder, n *html.Node, markdown bool, marker string) {
	if !markdown {
		renderChildren(buf, n, markdown)
		return
	}
	buf.WriteString(marker)
	renderChildren(buf, n, markdown)
	buf.WriteString(marker)
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func cleanupWhitespace(s string) string {
	s = reMultiSP.ReplaceAllString(s, " ")
	s = reMultiNL.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func markdownToText(md string) string {
	s := regexp.MustCompile(`(?m)^#{1,6}\s+`).ReplaceAllString(md, "")
	s = strings.ReplaceAll(s, "**", "")
	s = strings.ReplaceAll(s, "__", "")
	s = regexp.MustCompile("`[^`]+`").ReplaceAllStringFunc(s, func(m string) string {
		return strings.Trim(m, "`")
	})
	s = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`).ReplaceAllString(s, "$1")
	s = regexp.MustCompile(`!\[([^\]]*)\]\([^)]+\)`).ReplaceAllString(s, "$1")
	s = reMultiNL.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func truncateStr(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
