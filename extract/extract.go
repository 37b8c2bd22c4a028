// CLAUDE:SUMMARY Page content helpers: HTML to markdown, sanitising, truncation, link and main-content extraction.
// Package extract turns raw page HTML into what an agent can read: markdown,
// sanitised HTML, a link list, the main content region or the subtrees
// matching a simple CSS selector.
package extract

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// TruncatedMarker is appended to content cut by Truncate.
const TruncatedMarker = "\n\n[content truncated]"

var (
	mdConverter = sync.OnceValue(func() *converter.Converter {
		return converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		)
	})

	sanitizer = sync.OnceValue(func() *bluemonday.Policy {
		p := bluemonday.UGCPolicy()
		p.AllowAttrs("class", "id", "role", "aria-label", "name", "type", "value", "placeholder").Globally()
		p.AllowElements("form", "input", "button", "select", "option", "textarea", "label", "nav", "main", "header", "footer", "section", "article")
		return p
	})
)

// Markdown converts page HTML to markdown. Relative links are resolved
// against pageURL when it is set.
func Markdown(src, pageURL string) (string, error) {
	var (
		md  string
		err error
	)
	if pageURL != "" {
		md, err = mdConverter().ConvertString(src, converter.WithDomain(pageURL))
	} else {
		md, err = mdConverter().ConvertString(src)
	}
	if err != nil {
		return "", fmt.Errorf("extract: markdown: %w", err)
	}
	return strings.TrimSpace(md), nil
}

// Sanitize removes scripts, styles, event handlers and other active content,
// keeping the structure and the attributes an agent uses to locate elements.
func Sanitize(src string) string {
	return strings.TrimSpace(sanitizer().Sanitize(src))
}

// Truncate caps s at max bytes on a rune boundary. It reports whether s was
// cut; a cut result ends with TruncatedMarker. max <= 0 disables the cap.
func Truncate(s string, max int) (string, bool) {
	if max <= 0 || len(s) <= max {
		return s, false
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + TruncatedMarker, true
}

func parse(src string) (*html.Node, error) {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("extract: parse html: %w", err)
	}
	return doc, nil
}

func render(n *html.Node) string {
	var buf bytes.Buffer
	if err := html.Render(&buf, n); err != nil {
		return ""
	}
	return buf.String()
}

// textOf joins the visible text below n with single spaces.
func textOf(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Template:
				return
			}
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// walkElements calls fn for every element below root in document order.
// Returning false skips the element's children.
func walkElements(root *html.Node, fn func(*html.Node) bool) {
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && !fn(c) {
			continue
		}
		walkElements(c, fn)
	}
}
