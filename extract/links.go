package extract

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Link is one anchor of a page.
type Link struct {
	Text string `json:"text"`
	Href string `json:"href"`
}

// Links returns the http(s) anchors of a page in document order, resolved
// against pageURL and deduplicated by target. Fragment-only, javascript:
// and mailto: links are skipped.
func Links(src, pageURL string) ([]Link, error) {
	doc, err := parse(src)
	if err != nil {
		return nil, err
	}
	base, _ := url.Parse(pageURL)
	if b := findBase(doc); b != "" {
		if bu, err := url.Parse(b); err == nil {
			if base != nil {
				bu = base.ResolveReference(bu)
			}
			base = bu
		}
	}

	seen := make(map[string]bool)
	var out []Link
	walkElements(doc, func(n *html.Node) bool {
		if n.DataAtom != atom.A {
			return true
		}
		href, ok := attr(n, "href")
		href = strings.TrimSpace(href)
		if !ok || href == "" || strings.HasPrefix(href, "#") {
			return true
		}
		u, err := url.Parse(href)
		if err != nil {
			return true
		}
		if base != nil {
			u = base.ResolveReference(u)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return true
		}
		u.Fragment = ""
		target := u.String()
		if seen[target] {
			return true
		}
		seen[target] = true
		text := textOf(n)
		if text == "" {
			text, _ = attr(n, "title")
		}
		if text == "" {
			text, _ = attr(n, "aria-label")
		}
		out = append(out, Link{Text: text, Href: target})
		return true
	})
	return out, nil
}

func findBase(doc *html.Node) string {
	var href string
	walkElements(doc, func(n *html.Node) bool {
		if href != "" {
			return false
		}
		if n.DataAtom == atom.Base {
			href, _ = attr(n, "href")
		}
		return n.DataAtom != atom.Body
	})
	return href
}
