// CLAUDE:SUMMARY Filters an accessibility tree into a compact, deterministically numbered list of interactive elements.
// Package snapshot turns a page's accessibility tree into a compact element
// index an agent can act on.
//
// Filter walks the tree once in pre-order. Interactive nodes are kept and
// numbered 1, 2, 3... in visit order; structural nodes are elided but their
// children are still visited, so nesting never hides an actionable element.
// The numbering depends only on the tree shape, never on engine IDs, so an
// unchanged tree always yields the same refs.
package snapshot

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// Node is one accessibility node. Locator is the engine's raw handle used to
// re-find the element later (a CDP backend DOM node id); zero means none.
type Node struct {
	Role     string
	Name     string
	Value    string
	Locator  int64
	Children []*Node
}

// Element is one node kept by Filter.
type Element struct {
	Ref     int    `json:"ref"`
	Role    string `json:"role"`
	Name    string `json:"name"`
	Value   string `json:"value,omitempty"`
	Depth   int    `json:"depth"`
	Locator int64  `json:"-"`
}

// Options controls a filter pass.
type Options struct {
	// Unfiltered keeps every node, not just interactive ones. Refs are
	// still assigned.
	Unfiltered bool
	// MaxNameLen bounds names in Format output. Default 100 runes.
	MaxNameLen int
}

// DefaultMaxNameLen is the name truncation bound used when Options leaves it zero.
const DefaultMaxNameLen = 100

// firstRef is the ref given to the first kept element of every pass.
const firstRef = 1

// interactiveRoles are the ARIA roles an agent can act on.
var interactiveRoles = map[string]bool{
	"button":           true,
	"checkbox":         true,
	"combobox":         true,
	"link":             true,
	"listbox":          true,
	"menuitem":         true,
	"menuitemcheckbox": true,
	"menuitemradio":    true,
	"option":           true,
	"radio":            true,
	"scrollbar":        true,
	"searchbox":        true,
	"slider":           true,
	"spinbutton":       true,
	"switch":           true,
	"tab":              true,
	"textbox":          true,
	"treeitem":         true,
}

// readOnlyValueRoles carry a value the user cannot edit. Keys are lower case.
var readOnlyValueRoles = map[string]bool{
	"progressbar": true,
	"meter":       true,
	"timer":       true,
	"status":      true,
	"statictext":  true,
}

// IsInteractive reports whether Filter keeps n in filtered mode. Roles match
// case-insensitively.
func IsInteractive(n *Node) bool {
	if n == nil {
		return false
	}
	role := strings.ToLower(n.Role)
	if interactiveRoles[role] {
		return true
	}
	return strings.TrimSpace(n.Value) != "" && !readOnlyValueRoles[role]
}

// Filter returns the kept elements of tree in pre-order. A tree without
// interactive nodes yields an empty, non-nil slice.
func Filter(tree *Node, opts Options) []Element {
	out := make([]Element, 0)
	next := firstRef
	var walk func(n *Node, depth int)
	walk = func(n *Node, depth int) {
		if n == nil {
			return
		}
		childDepth := depth
		if opts.Unfiltered || IsInteractive(n) {
			out = append(out, Element{
				Ref:     next,
				Role:    n.Role,
				Name:    n.Name,
				Value:   n.Value,
				Depth:   depth,
				Locator: n.Locator,
			})
			next++
			childDepth = depth + 1
		}
		for _, c := range n.Children {
			walk(c, childDepth)
		}
	}
	walk(tree, 0)
	return out
}

// Format renders elements one per line, indented two spaces per depth:
//
//	[1] link "Home"
//	  [2] textbox "Search" value="shoes"
func Format(elems []Element, opts Options) string {
	maxName := opts.MaxNameLen
	if maxName <= 0 {
		maxName = DefaultMaxNameLen
	}
	var b strings.Builder
	for _, e := range elems {
		b.WriteString(strings.Repeat("  ", e.Depth))
		b.WriteByte('[')
		b.WriteString(strconv.Itoa(e.Ref))
		b.WriteString("] ")
		b.WriteString(e.Role)
		if e.Name != "" {
			b.WriteByte(' ')
			b.WriteString(strconv.Quote(truncate(e.Name, maxName)))
		}
		if e.Value != "" {
			b.WriteString(" value=")
			b.WriteString(strconv.Quote(truncate(e.Value, maxName)))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "…"
}

// Index maps refs to elements for one snapshot.
type Index map[int]Element

// NewIndex builds an Index from a filter pass.
func NewIndex(elems []Element) Index {
	idx := make(Index, len(elems))
	for _, e := range elems {
		idx[e.Ref] = e
	}
	return idx
}
