package solver

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
)

// Node is one entry of a flattened DOM snapshot.
type Node struct {
	NodeID        cdp.NodeID
	BackendNodeID cdp.BackendNodeID
	ParentID      cdp.NodeID
	NodeName      string
	Attributes    []string
}

// Snapshot fetches the whole document, piercing shadow roots and frames, and
// flattens it in document order.
func Snapshot(ctx context.Context, exec cdp.Executor) ([]Node, error) {
	root, err := dom.GetDocument().WithDepth(-1).WithPierce(true).Do(cdp.WithExecutor(ctx, exec))
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return Flatten(root), nil
}

// Flatten walks children, shadow roots, template contents and frame content
// documents. ParentID is the node the walk came from, so a frame's content
// document reports the frame element as its parent.
func Flatten(root *cdp.Node) []Node {
	if root == nil {
		return nil
	}
	var out []Node
	var walk func(n *cdp.Node, parent cdp.NodeID)
	walk = func(n *cdp.Node, parent cdp.NodeID) {
		if n == nil {
			return
		}
		out = append(out, Node{
			NodeID:        n.NodeID,
			BackendNodeID: n.BackendNodeID,
			ParentID:      parent,
			NodeName:      n.NodeName,
			Attributes:    n.Attributes,
		})
		for _, c := range n.ShadowRoots {
			walk(c, n.NodeID)
		}
		walk(n.TemplateContent, n.NodeID)
		for _, c := range n.Children {
			walk(c, n.NodeID)
		}
		walk(n.ContentDocument, n.NodeID)
	}
	walk(root, root.ParentID)
	return out
}

// contentDocument returns the content document of a frame node when the
// snapshot carries one.
func contentDocument(nodes []Node, frame cdp.NodeID) (cdp.NodeID, bool) {
	for _, n := range nodes {
		if n.ParentID == frame && n.NodeName == "#document" {
			return n.NodeID, true
		}
	}
	return 0, false
}
