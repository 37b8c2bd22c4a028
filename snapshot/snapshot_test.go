package snapshot

import (
	"strings"
	"testing"

	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"
)

func sampleTree() *Node {
	return &Node{Role: "RootWebArea", Name: "Shop", Children: []*Node{
		{Role: "banner", Children: []*Node{
			{Role: "link", Name: "Home", Locator: 10},
			{Role: "generic", Children: []*Node{
				{Role: "searchbox", Name: "Search", Value: "shoes", Locator: 11},
				{Role: "button", Name: "Go", Locator: 12},
			}},
		}},
		{Role: "main", Children: []*Node{
			{Role: "StaticText", Name: "Welcome"},
			{Role: "list", Children: []*Node{
				{Role: "listitem", Children: []*Node{
					{Role: "button", Name: "Add to cart", Locator: 20, Children: []*Node{
						{Role: "StaticText", Name: "Add to cart"},
					}},
				}},
				{Role: "listitem", Children: []*Node{
					{Role: "button", Name: "Add to cart", Locator: 21},
				}},
			}},
			{Role: "progressbar", Value: "40"},
		}},
	}}
}

func TestFilter_KeepsOnlyInteractive(t *testing.T) {
	got := Filter(sampleTree(), Options{})
	want := []struct {
		role, name string
		depth      int
	}{
		{"link", "Home", 0},
		{"searchbox", "Search", 0},
		{"button", "Go", 0},
		{"button", "Add to cart", 0},
		{"button", "Add to cart", 0},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d elements, want %d: %+v", len(got), len(want), got)
	}
	for i, w := range want {
		e := got[i]
		if e.Ref != i+1 || e.Role != w.role || e.Name != w.name || e.Depth != w.depth {
			t.Errorf("element %d = %+v, want ref=%d %s %q depth=%d", i, e, i+1, w.role, w.name, w.depth)
		}
	}
	if got[1].Value != "shoes" || got[1].Locator != 11 {
		t.Errorf("searchbox lost value or locator: %+v", got[1])
	}
}

func TestIsInteractive_RoleCase(t *testing.T) {
	cases := []struct {
		node *Node
		want bool
	}{
		{&Node{Role: "Button"}, true},
		{&Node{Role: "TEXTBOX"}, true},
		{&Node{Role: "ProgressBar", Value: "40"}, false},
		{&Node{Role: "Status", Value: "Saved"}, false},
		{&Node{Role: "staticText", Value: "Hello"}, false},
		{&Node{Role: "generic", Value: "custom widget"}, true},
	}
	for _, tc := range cases {
		if got := IsInteractive(tc.node); got != tc.want {
			t.Errorf("IsInteractive(%s value=%q) = %v, want %v", tc.node.Role, tc.node.Value, got, tc.want)
		}
	}
}

func TestFilter_DepthCountsKeptAncestorsOnly(t *testing.T) {
	// button > (generic > generic > link), menuitem inside link.
	tree := &Node{Role: "generic", Children: []*Node{
		{Role: "button", Name: "outer", Children: []*Node{
			{Role: "generic", Children: []*Node{
				{Role: "generic", Children: []*Node{
					{Role: "link", Name: "inner", Children: []*Node{
						{Role: "StaticText", Name: "x"},
						{Role: "menuitem", Name: "deep"},
					}},
				}},
			}},
		}},
		{Role: "tab", Name: "sibling"},
	}}
	got := Filter(tree, Options{})
	depths := map[string]int{}
	for _, e := range got {
		depths[e.Name] = e.Depth
	}
	if len(got) != 4 {
		t.Fatalf("got %d elements, want 4", len(got))
	}
	want := map[string]int{"outer": 0, "inner": 1, "deep": 2, "sibling": 0}
	for name, d := range want {
		if depths[name] != d {
			t.Errorf("%s depth = %d, want %d", name, depths[name], d)
		}
	}
}

func TestFilter_Idempotent(t *testing.T) {
	tree := sampleTree()
	a := Format(Filter(tree, Options{}), Options{})
	b := Format(Filter(tree, Options{}), Options{})
	if a != b {
		t.Fatalf("second pass differs:\n%s\n---\n%s", a, b)
	}
}

func TestFilter_NoInteractiveNodes(t *testing.T) {
	tree := &Node{Role: "RootWebArea", Children: []*Node{
		{Role: "heading", Name: "Title"},
		{Role: "paragraph", Children: []*Node{{Role: "StaticText", Name: "hello"}}},
	}}
	got := Filter(tree, Options{})
	if got == nil || len(got) != 0 {
		t.Fatalf("want empty non-nil slice, got %#v", got)
	}
	if Filter(nil, Options{}) == nil {
		t.Fatal("nil tree should yield empty slice")
	}
}

func TestFilter_Unfiltered(t *testing.T) {
	tree := sampleTree()
	var count func(*Node) int
	count = func(n *Node) int {
		c := 1
		for _, ch := range n.Children {
			c += count(ch)
		}
		return c
	}
	got := Filter(tree, Options{Unfiltered: true})
	if len(got) != count(tree) {
		t.Fatalf("unfiltered kept %d of %d nodes", len(got), count(tree))
	}
	if got[0].Role != "RootWebArea" || got[0].Ref != 1 || got[0].Depth != 0 {
		t.Fatalf("first element = %+v", got[0])
	}
	if got[1].Role != "banner" || got[1].Depth != 1 {
		t.Fatalf("second element = %+v", got[1])
	}
}

func TestFormat(t *testing.T) {
	elems := []Element{
		{Ref: 1, Role: "link", Name: "Home", Depth: 0},
		{Ref: 2, Role: "textbox", Name: "Email", Value: "a@b.c", Depth: 1},
		{Ref: 3, Role: "button", Depth: 2},
	}
	got := Format(elems, Options{})
	want := "[1] link \"Home\"\n  [2] textbox \"Email\" value=\"a@b.c\"\n    [3] button\n"
	if got != want {
		t.Fatalf("Format:\n%q\nwant\n%q", got, want)
	}
}

func TestFormat_TruncatesNames(t *testing.T) {
	long := strings.Repeat("é", 300)
	out := Format([]Element{{Ref: 1, Role: "link", Name: long}}, Options{MaxNameLen: 10})
	if !strings.Contains(out, `"`+strings.Repeat("é", 10)+`…"`) {
		t.Fatalf("name not truncated to 10 runes: %q", out)
	}
}

func TestIndex(t *testing.T) {
	idx := NewIndex(Filter(sampleTree(), Options{}))
	if e, ok := idx[4]; !ok || e.Locator != 20 {
		t.Fatalf("ref 4 = %+v, %v", e, ok)
	}
	if _, ok := idx[99]; ok {
		t.Fatal("unexpected ref 99")
	}
}

func axVal(s string) *proto.AccessibilityAXValue {
	return &proto.AccessibilityAXValue{Type: proto.AccessibilityAXValueTypeString, Value: gson.New(s)}
}

func TestFromAXNodes(t *testing.T) {
	nodes := []*proto.AccessibilityAXNode{
		{NodeID: "1", Role: axVal("RootWebArea"), Name: axVal("Page"), ChildIDs: []proto.AccessibilityAXNodeID{"2", "3"}},
		{NodeID: "2", ParentID: "1", Ignored: true, ChildIDs: []proto.AccessibilityAXNodeID{"4"}},
		{NodeID: "3", ParentID: "1", Role: axVal("button"), Name: axVal("OK"), BackendDOMNodeID: 42},
		{NodeID: "4", ParentID: "2", Role: axVal("textbox"), Name: axVal("Name"), Value: axVal("bob"), BackendDOMNodeID: 43},
	}
	root := FromAXNodes(nodes)
	if root == nil || root.Role != "RootWebArea" {
		t.Fatalf("root = %+v", root)
	}
	if len(root.Children) != 2 {
		t.Fatalf("ignored node not collapsed: %d children", len(root.Children))
	}
	if c := root.Children[0]; c.Role != "textbox" || c.Value != "bob" || c.Locator != 43 {
		t.Fatalf("first child = %+v", c)
	}
	got := Filter(root, Options{})
	if len(got) != 2 || got[0].Name != "Name" || got[1].Name != "OK" {
		t.Fatalf("filtered = %+v", got)
	}
	if FromAXNodes(nil) != nil {
		t.Fatal("empty input should yield nil")
	}
}
