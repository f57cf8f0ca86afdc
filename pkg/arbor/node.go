package arbor

import (
	"sort"

	"github.com/dd0wney/cluso-arbor/pkg/fields"
)

// Node is one tree record.
//
// Roots are created by the planter and own the cached field data of their
// whole tree. Non-root nodes are created by Grow and read through their
// root. The arbor and root pointers are lookups only; the Arbor owns every
// node.
type Node struct {
	UID     int64
	DescUID int64

	// FileID is the owning data file, or -1 when it is resolved through the
	// arbor's offset index using AI.
	FileID int
	// Start and End bound the tree within its data file: bytes for text
	// catalogs, records for containers. End is exclusive. Both are -1 until
	// known for lazily resolved formats.
	Start int64
	End   int64
	// AI is the position in the global I/O order.
	AI int
	// TreeID is the position within the root's tree, 0 for roots.
	TreeID int

	arbor    *Arbor
	root     *Node
	treeSize int

	// roots only
	treeFields map[string]fields.Array
	rootFields map[string]fields.Array
	records    [][]string
	nodes      []*Node
	children   [][]int

	// non-roots only
	subtree []int
}

func newRoot(a *Arbor, uid int64, fileID int, start, end int64, ai int) *Node {
	return &Node{
		UID:      uid,
		DescUID:  fields.NoDescendant,
		FileID:   fileID,
		Start:    start,
		End:      end,
		AI:       ai,
		arbor:    a,
		treeSize: -1,
	}
}

// IsRoot reports whether the node is the root of its tree.
func (n *Node) IsRoot() bool {
	return n.root == nil
}

// Root returns the root of the node's tree; a root returns itself.
func (n *Node) Root() *Node {
	if n.root == nil {
		return n
	}
	return n.root
}

// Arbor returns the collection the node belongs to.
func (n *Node) Arbor() *Arbor {
	return n.arbor
}

// TreeSize returns the number of records in the node's tree, or in its
// sub-tree for non-root nodes. It reads the tree when the size is unknown.
func (n *Node) TreeSize() (int, error) {
	if !n.IsRoot() {
		if err := n.arbor.begin(); err != nil {
			return 0, err
		}
		defer n.arbor.running.Unlock()
		if err := n.ensureGrown(); err != nil {
			return 0, err
		}
		return len(n.subtreeIndices()), nil
	}
	if n.treeSize >= 0 {
		return n.treeSize, nil
	}
	if _, err := n.arbor.Trees([]*Node{n}, []string{"uid"}); err != nil {
		return 0, err
	}
	return n.treeSize, nil
}

// Cached returns the cached tree array for field, if present.
func (n *Node) Cached(field string) (fields.Array, bool) {
	root := n.Root()
	a, ok := root.treeFields[field]
	if !ok {
		return fields.Array{}, false
	}
	if n.IsRoot() {
		return a, true
	}
	return a.Gather(n.subtreeIndices()), true
}

// Reset clears the cached field data, split records and grown nodes of the
// node's tree. Resolved offsets are kept.
func (n *Node) Reset() {
	root := n.Root()
	root.treeFields = nil
	root.rootFields = nil
	root.records = nil
	root.nodes = nil
	root.children = nil
}

func (n *Node) hasTreeFields(entries []fields.Entry) bool {
	for _, e := range entries {
		if _, ok := n.treeFields[e.Name]; !ok {
			return false
		}
	}
	return true
}

func (n *Node) hasRootFields(entries []fields.Entry) bool {
	for _, e := range entries {
		if _, ok := n.rootFields[e.Name]; ok {
			continue
		}
		if _, ok := n.treeFields[e.Name]; ok {
			continue
		}
		return false
	}
	return true
}

func (n *Node) setTreeField(name string, a fields.Array) {
	if n.treeFields == nil {
		n.treeFields = make(map[string]fields.Array)
	}
	n.treeFields[name] = a
	n.treeSize = a.Len()
}

func (n *Node) setRootField(name string, a fields.Array) {
	if n.rootFields == nil {
		n.rootFields = make(map[string]fields.Array)
	}
	n.rootFields[name] = a
}

// rootValue returns a one-element array holding the field at the node.
func (n *Node) rootValue(name string) (fields.Array, bool) {
	root := n.Root()
	if a, ok := root.treeFields[name]; ok {
		return a.Slice(n.TreeID, n.TreeID+1), true
	}
	if n.IsRoot() {
		a, ok := root.rootFields[name]
		return a, ok
	}
	return fields.Array{}, false
}

// treeView returns the node's tree, or sub-tree, arrays for the fields.
func (n *Node) treeView(entries []fields.Entry) map[string]fields.Array {
	out := make(map[string]fields.Array, len(entries))
	root := n.Root()
	if n.IsRoot() {
		for _, e := range entries {
			out[e.Name] = root.treeFields[e.Name]
		}
		return out
	}
	idx := n.subtreeIndices()
	for _, e := range entries {
		out[e.Name] = root.treeFields[e.Name].Gather(idx)
	}
	return out
}

// subtreeIndices returns the positions within the root's tree of this node
// and everything that descends into it, the node first and the rest in tree
// order.
func (n *Node) subtreeIndices() []int {
	if n.IsRoot() {
		idx := make([]int, max(n.treeSize, 0))
		for i := range idx {
			idx[i] = i
		}
		return idx
	}
	if n.subtree != nil {
		return n.subtree
	}

	children := n.root.children
	seen := make([]bool, len(children))
	seen[n.TreeID] = true
	var rest []int
	stack := append([]int(nil), children[n.TreeID]...)
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[i] {
			continue
		}
		seen[i] = true
		rest = append(rest, i)
		stack = append(stack, children[i]...)
	}
	sort.Ints(rest)
	n.subtree = append([]int{n.TreeID}, rest...)
	return n.subtree
}

// ensureGrown regrows the root's links for a non-root node whose root was
// reset before its sub-tree was computed. The caller holds the run lock.
func (n *Node) ensureGrown() error {
	if !n.needsGrow() {
		return nil
	}
	_, err := n.arbor.grow(n.root)
	return err
}

// needsGrow reports whether a non-root node has lost the links its sub-tree
// is computed from.
func (n *Node) needsGrow() bool {
	return !n.IsRoot() && n.subtree == nil && n.root.children == nil
}
