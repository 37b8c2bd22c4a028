package extract

import (
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// MainContent returns the outer HTML of the region of a page that holds its
// main content. <main> and <article> landmarks win; otherwise the block with
// the best text density and few links is picked. The whole body is returned
// when nothing scores.
func MainContent(src string) (string, error) {
	doc, err := parse(src)
	if err != nil {
		return "", err
	}
	for _, tag := range []atom.Atom{atom.Main, atom.Article} {
		if n := firstContent(doc, tag); n != nil {
			return render(n), nil
		}
	}
	body := firstContent(doc, atom.Body)
	if body == nil {
		body = doc
	}
	if best := densest(body); best != nil {
		return render(best), nil
	}
	return render(body), nil
}

// minContentText is the shortest text a candidate block may carry.
const minContentText = 80

func firstContent(root *html.Node, tag atom.Atom) *html.Node {
	var found *html.Node
	walkElements(root, func(n *html.Node) bool {
		if found != nil {
			return false
		}
		if n.DataAtom == tag && !boilerplate(n) && len(textOf(n)) >= minContentText {
			found = n
			return false
		}
		return !boilerplate(n)
	})
	return found
}

func densest(root *html.Node) *html.Node {
	var (
		best      *html.Node
		bestScore float64
	)
	walkElements(root, func(n *html.Node) bool {
		if boilerplate(n) {
			return false
		}
		switch n.DataAtom {
		case atom.Div, atom.Section, atom.Td, atom.Article, atom.Main:
		default:
			return true
		}
		text := textOf(n)
		if len(text) < minContentText {
			return true
		}
		markup := len(render(n))
		if markup == 0 {
			return true
		}
		links := float64(len(linkText(n))) / float64(len(text))
		if links > 0.5 {
			return true
		}
		score := float64(len(text)) / float64(markup) * lengthScale(len(text)) * (1 - links)
		if score > bestScore {
			best, bestScore = n, score
		}
		return true
	})
	return best
}

// lengthScale grows by one per doubling of n above 100.
func lengthScale(n int) float64 {
	scale := 1.0
	for n > 100 {
		scale++
		n /= 2
	}
	return scale
}

func linkText(n *html.Node) string {
	var out string
	walkElements(n, func(c *html.Node) bool {
		if c.DataAtom == atom.A {
			out += textOf(c)
			return false
		}
		return true
	})
	return out
}
