package pgraph

import "github.com/IntelLabs/vdms-go/cmn"

// ID is the monotonically increasing internal identifier assigned by the
// store to every node and edge. IDs are never reused and are
// stable for the lifetime of the database.
type ID uint64

// Properties is a node's or edge's property bag: an interned string key
// to a typed cmn.Value. Interning is modeled with a plain Go map - the
// string keys are already deduplicated by the Go runtime's string
// interning for small literal sets, which is all a single-process graph
// needs.
type Properties map[string]cmn.Value

// Clone returns a shallow copy suitable for handing to a reader without
// letting it observe subsequent in-place mutation.
func (p Properties) Clone() Properties {
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Node is a graph entity: a tag (class), a stable ID, and a property bag.
// Nodes are created by AddNode and never deleted by this core.
type Node struct {
	ID         ID
	Tag        string
	Properties Properties
}

// Edge is a directed, tagged arc between two node IDs, itself carrying a
// property bag.
type Edge struct {
	ID         ID
	Tag        string
	Src        ID
	Dst        ID
	Properties Properties
}

// Get returns a property value and whether it was present. A missing
// property always fails predicate evaluation - this is the single
// chokepoint that enforces that rule.
func (n *Node) Get(key string) (cmn.Value, bool) {
	v, ok := n.Properties[key]
	return v, ok
}

func (e *Edge) Get(key string) (cmn.Value, bool) {
	v, ok := e.Properties[key]
	return v, ok
}
