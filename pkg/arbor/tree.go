package arbor

import (
	"fmt"

	"github.com/dd0wney/cluso-arbor/pkg/fields"
)

// Grow creates the nodes of the tree rooted at root's root by following
// descendant links. The returned slice is in tree order with the root first.
func (a *Arbor) Grow(root *Node) ([]*Node, error) {
	if err := a.begin(); err != nil {
		return nil, err
	}
	defer a.running.Unlock()
	return a.grow(root)
}

func (a *Arbor) grow(root *Node) ([]*Node, error) {
	root = root.Root()
	if root.nodes != nil {
		return root.nodes, nil
	}

	entries, err := a.resolve([]string{"uid", "desc_uid"})
	if err != nil {
		return nil, err
	}
	data, err := a.readTrees([]*Node{root}, entries)
	if err != nil {
		return nil, err
	}
	uids, descs := data[0]["uid"], data[0]["desc_uid"]
	n := uids.Len()
	if n == 0 {
		return nil, NewError("grow").Path(a.path).Cause(fmt.Errorf("tree %d has no records", root.UID)).Err()
	}

	index := make(map[int64]int, n)
	for i := 0; i < n; i++ {
		index[uids.Int64(i)] = i
	}

	nodes := make([]*Node, n)
	children := make([][]int, n)
	nodes[0] = root
	root.DescUID = descs.Int64(0)
	for i := 1; i < n; i++ {
		nodes[i] = &Node{
			UID:      uids.Int64(i),
			DescUID:  descs.Int64(i),
			FileID:   root.FileID,
			Start:    -1,
			End:      -1,
			AI:       root.AI,
			TreeID:   i,
			arbor:    a,
			root:     root,
			treeSize: -1,
		}
		if j, ok := index[descs.Int64(i)]; ok && j != i {
			children[j] = append(children[j], i)
		}
	}

	root.nodes = nodes
	root.children = children
	return nodes, nil
}

// Find returns the node with the given uid in root's tree.
func (a *Arbor) Find(root *Node, uid int64) (*Node, error) {
	nodes, err := a.Grow(root)
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		if n.UID == uid {
			return n, nil
		}
	}
	return nil, fmt.Errorf("uid %d not in tree %d", uid, root.Root().UID)
}

// Descendant returns the node's descendant within its tree, or nil.
func (n *Node) Descendant() *Node {
	if n.IsRoot() || n.DescUID == fields.NoDescendant {
		return nil
	}
	for _, other := range n.root.nodes {
		if other.UID == n.DescUID {
			return other
		}
	}
	return nil
}

// TreeSizes returns the size of each node's tree, or sub-tree for non-root
// nodes. Roots of unknown size are read together in one run and their
// caches dropped afterwards.
func (a *Arbor) TreeSizes(nodes []*Node) ([]int, error) {
	var unknown []*Node
	for _, n := range nodes {
		if n.IsRoot() && n.treeSize < 0 {
			unknown = append(unknown, n)
		}
	}
	if len(unknown) > 0 {
		if _, err := a.Trees(unknown, []string{"uid"}); err != nil {
			return nil, err
		}
		for _, n := range unknown {
			n.Reset()
		}
	}

	out := make([]int, len(nodes))
	for i, n := range nodes {
		size, err := n.TreeSize()
		if err != nil {
			return nil, err
		}
		out[i] = size
	}
	return out, nil
}
