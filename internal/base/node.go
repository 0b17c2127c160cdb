package base

import "encoding/binary"

// ChildSize is the size of the child handle stored as separator data
const ChildSize = 8

// Node is a slotted page of separators. Each separator is the highest key
// reachable through the child it points to.
type Node struct {
	Slotted
}

// InitNode formats p as an empty node
func InitNode(p *Page, h Handle) *Node {
	p.Reset(h, PageTypeNode)
	n := AsNode(p)
	n.init()
	return n
}

// AsNode interprets an already formatted node page
func AsNode(p *Page) *Node {
	return &Node{Slotted{page: p, base: NodeHeaderSize}}
}

// Child returns the child handle of separator i
func (n *Node) Child(i int) Handle {
	return Handle(binary.LittleEndian.Uint64(n.Data(i)))
}

// SetChild repoints separator i
func (n *Node) SetChild(i int, h Handle) {
	var buf [ChildSize]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(h))
	n.SetData(i, buf[:])
}

// InsertSeparator adds key -> child in key order
func (n *Node) InsertSeparator(key []byte, child Handle) bool {
	var buf [ChildSize]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(child))
	i, _ := n.Search(key)
	return n.Insert(i, key, buf[:], 0)
}

// Route returns the separator to follow for key: the smallest separator
// >= key, or the highest one when key is above all of them.
func (n *Node) Route(key []byte) int {
	i, _ := n.Search(key)
	if i == n.Len() {
		i--
	}
	return i
}

// IndexOfChild returns the separator pointing at h, or -1
func (n *Node) IndexOfChild(h Handle) int {
	for i := 0; i < n.Len(); i++ {
		if n.Child(i) == h {
			return i
		}
	}
	return -1
}
