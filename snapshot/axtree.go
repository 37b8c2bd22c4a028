package snapshot

import (
	"github.com/go-rod/rod/lib/proto"
)

// FromAXNodes rebuilds the tree from the flat node list returned by
// Accessibility.getFullAXTree. Ignored nodes are collapsed into their
// parent: their children take their place in order. Returns nil for an
// empty list.
func FromAXNodes(nodes []*proto.AccessibilityAXNode) *Node {
	if len(nodes) == 0 {
		return nil
	}
	byID := make(map[proto.AccessibilityAXNodeID]*proto.AccessibilityAXNode, len(nodes))
	for _, n := range nodes {
		byID[n.NodeID] = n
	}

	root := nodes[0]
	for _, n := range nodes {
		if n.ParentID == "" {
			root = n
			break
		}
	}

	visited := make(map[proto.AccessibilityAXNodeID]bool, len(nodes))
	var build func(ax *proto.AccessibilityAXNode) []*Node
	build = func(ax *proto.AccessibilityAXNode) []*Node {
		if ax == nil || visited[ax.NodeID] {
			return nil
		}
		visited[ax.NodeID] = true

		var children []*Node
		for _, id := range ax.ChildIDs {
			children = append(children, build(byID[id])...)
		}
		if ax.Ignored {
			return children
		}
		return []*Node{{
			Role:     axString(ax.Role),
			Name:     axString(ax.Name),
			Value:    axString(ax.Value),
			Locator:  int64(ax.BackendDOMNodeID),
			Children: children,
		}}
	}

	out := build(root)
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	default:
		return &Node{Role: "RootWebArea", Children: out}
	}
}

func axString(v *proto.AccessibilityAXValue) string {
	if v == nil || v.Value.Nil() {
		return ""
	}
	if s, ok := v.Value.Val().(string); ok {
		return s
	}
	return v.Value.JSON("", "")
}
