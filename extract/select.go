package extract

import (
	"slices"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Select returns the outer HTML of every element matching selector, in
// document order. Supported selectors are a subset of CSS:
//
//	tag, .class, #id, tag.class, tag#id, [attr], tag[attr=val]
//
// separated by spaces for descendants, and by commas for alternatives.
func Select(src, selector string) ([]string, error) {
	doc, err := parse(src)
	if err != nil {
		return nil, err
	}
	var (
		out  []string
		seen = make(map[*html.Node]bool)
	)
	for _, group := range strings.Split(selector, ",") {
		for _, n := range queryAll(doc, group) {
			if !seen[n] {
				seen[n] = true
				out = append(out, render(n))
			}
		}
	}
	return out, nil
}

func queryAll(root *html.Node, selector string) []*html.Node {
	parts := strings.Fields(selector)
	if len(parts) == 0 {
		return nil
	}
	matches := []*html.Node{root}
	for _, p := range parts {
		sel := parseCompound(p)
		var next []*html.Node
		seen := make(map[*html.Node]bool)
		for _, scope := range matches {
			walkElements(scope, func(n *html.Node) bool {
				if !seen[n] && sel.match(n) {
					seen[n] = true
					next = append(next, n)
				}
				return true
			})
		}
		matches = next
	}
	return matches
}

// compound is one space-free selector part.
type compound struct {
	tag     string
	id      string
	classes []string
	attrKey string
	attrVal *string
}

func parseCompound(s string) compound {
	var c compound
	if i := strings.IndexByte(s, '['); i >= 0 {
		inner := strings.TrimSuffix(s[i+1:], "]")
		s = s[:i]
		if k, v, ok := strings.Cut(inner, "="); ok {
			v = strings.Trim(v, `"'`)
			c.attrKey, c.attrVal = k, &v
		} else {
			c.attrKey = inner
		}
	}
	if i := strings.IndexByte(s, '#'); i >= 0 {
		c.id = s[i+1:]
		s = s[:i]
	}
	if i := strings.IndexByte(s, '.'); i >= 0 {
		c.classes = strings.Split(s[i+1:], ".")
		s = s[:i]
	}
	c.tag = strings.ToLower(s)
	return c
}

func (c compound) match(n *html.Node) bool {
	if c.tag != "" && c.tag != "*" && n.Data != c.tag {
		return false
	}
	if c.id != "" {
		if id, _ := attr(n, "id"); id != c.id {
			return false
		}
	}
	if len(c.classes) > 0 {
		v, _ := attr(n, "class")
		have := strings.Fields(v)
		for _, want := range c.classes {
			if !slices.Contains(have, want) {
				return false
			}
		}
	}
	if c.attrKey != "" {
		v, ok := attr(n, c.attrKey)
		if !ok || (c.attrVal != nil && v != *c.attrVal) {
			return false
		}
	}
	return true
}

// boilerplate reports whether n is page chrome rather than content.
func boilerplate(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Nav, atom.Footer, atom.Aside, atom.Header, atom.Script, atom.Style, atom.Noscript, atom.Form:
		return true
	}
	if role, _ := attr(n, "role"); role == "navigation" || role == "banner" || role == "contentinfo" || role == "complementary" {
		return true
	}
	cls, _ := attr(n, "class")
	id, _ := attr(n, "id")
	hint := strings.ToLower(cls + " " + id)
	for _, w := range []string{"cookie", "sidebar", "advert", "banner", "footer", "menu", "share"} {
		if strings.Contains(hint, w) {
			return true
		}
	}
	return false
}
