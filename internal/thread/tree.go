// Package thread turns a flat comment list into an ordered reply tree.
package thread

import (
	"sort"

	"zackhub/api/internal/ledger"
	"zackhub/api/internal/store"
)

// Node is a comment with its direct replies. MyVote is the requesting
// reactor's current vote, when one was supplied.
type Node struct {
	store.Comment
	MyVote  ledger.Kind `json:"myVote,omitempty"`
	Replies []*Node     `json:"replies"`
}

// BuildTree attaches every comment to its parent in one pass over the input.
// A comment whose parent is absent becomes a root. Roots are ordered newest
// first, replies oldest first at every depth.
//
// Parent chains are never followed, so corrupted data with cycles cannot
// loop; members of a cycle simply never reach the roots.
func BuildTree(comments []store.Comment) []*Node {
	byID := make(map[string]*Node, len(comments))
	nodes := make([]*Node, 0, len(comments))
	for _, c := range comments {
		if _, dup := byID[c.ID]; dup {
			continue
		}
		n := &Node{Comment: c, Replies: []*Node{}}
		byID[c.ID] = n
		nodes = append(nodes, n)
	}

	roots := make([]*Node, 0)
	for _, n := range nodes {
		parent, ok := byID[n.ParentID]
		if n.ParentID == "" || !ok || parent == n {
			roots = append(roots, n)
			continue
		}
		parent.Replies = append(parent.Replies, n)
	}

	sort.SliceStable(roots, func(i, j int) bool {
		return roots[i].CreatedAt.After(roots[j].CreatedAt)
	})
	for _, root := range roots {
		sortReplies(root)
	}
	return roots
}

func sortReplies(n *Node) {
	sort.SliceStable(n.Replies, func(i, j int) bool {
		return n.Replies[i].CreatedAt.Before(n.Replies[j].CreatedAt)
	})
	for _, reply := range n.Replies {
		sortReplies(reply)
	}
}

// Walk visits every node depth-first, parents before replies.
func Walk(roots []*Node, visit func(*Node)) {
	for _, n := range roots {
		visit(n)
		Walk(n.Replies, visit)
	}
}

// Count returns the number of nodes reachable from roots.
func Count(roots []*Node) int {
	total := 0
	Walk(roots, func(*Node) { total++ })
	return total
}
