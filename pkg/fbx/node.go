package fbx

import (
	"fmt"
	"io"
	"strings"
)

// Node is one record of the FBX node tree. Children keep file order; siblings
// sharing a name are also indexed together so lookups always see a sequence.
type Node struct {
	Name       string
	Properties []Property
	Children   []*Node

	byName map[string][]*Node
}

// NewNode creates a node with the given name and properties.
func NewNode(name string, props ...Property) *Node {
	return &Node{Name: name, Properties: props}
}

// Add appends a child node.
func (n *Node) Add(child *Node) {
	if n.byName == nil {
		n.byName = make(map[string][]*Node)
	}
	n.Children = append(n.Children, child)
	n.byName[child.Name] = append(n.byName[child.Name], child)
}

// All returns every child with the given name, in file order.
func (n *Node) All(name string) []*Node {
	if n == nil {
		return nil
	}
	return n.byName[name]
}

// Child returns the first child with the given name, or nil.
func (n *Node) Child(name string) *Node {
	all := n.All(name)
	if len(all) == 0 {
		return nil
	}
	return all[0]
}

// Prop returns the i-th property.
func (n *Node) Prop(i int) (Property, bool) {
	if n == nil || i < 0 || i >= len(n.Properties) {
		return Property{}, false
	}
	return n.Properties[i], true
}

// ID returns the object ID stored as the first property.
func (n *Node) ID() (int64, bool) {
	p, ok := n.Prop(0)
	if !ok {
		return 0, false
	}
	return p.Int64()
}

// StringProp returns the i-th property if it is a string.
func (n *Node) StringProp(i int) string {
	p, ok := n.Prop(i)
	if !ok {
		return ""
	}
	s, _ := p.AsString()
	return s
}

// Dump writes an indented outline of the subtree to w.
func (n *Node) Dump(w io.Writer, depth int) {
	var props []string
	for _, p := range n.Properties {
		props = append(props, p.Summary())
	}
	fmt.Fprintf(w, "%s%s: %s\n", strings.Repeat("  ", depth), n.Name, strings.Join(props, ", "))
	for _, c := range n.Children {
		c.Dump(w, depth+1)
	}
}
