package pgraph

import (
	"sort"

	"github.com/IntelLabs/vdms-go/cmn"
)

// NodeIterator is the reusable node iterator: single-pass,
// explicit reset(), drained into memory up front so repeated scans in
// later commands of the same batch are cheap and deterministic. A
// cross-command `_ref` always names one of these.
type NodeIterator struct {
	txn *Transaction
	ids []ID
	pos int
}

func newNodeIterator(t *Transaction, ids []ID) *NodeIterator {
	return &NodeIterator{txn: t, ids: ids}
}

// Reset returns the iterator to its head without re-scanning the store.
func (it *NodeIterator) Reset() { it.pos = 0 }

// Next advances and returns the next node, or (nil,false) at the end.
func (it *NodeIterator) Next() (*Node, bool) {
	for it.pos < len(it.ids) {
		id := it.ids[it.pos]
		it.pos++
		if n, ok := it.txn.store.node(id); ok {
			return n, true
		}
	}
	return nil, false
}

func (it *NodeIterator) Len() int { return len(it.ids) }

// IDs returns a defensive copy of the materialized id set.
func (it *NodeIterator) IDs() []ID { return append([]ID(nil), it.ids...) }

// Sort performs a stable sort over the materialized set by the given
// property key and resets position to the head. Nodes missing the key
// sort after those that have it; the prior order is otherwise preserved
// among equals.
func (it *NodeIterator) Sort(key string) {
	nodes := make([]*Node, len(it.ids))
	for i, id := range it.ids {
		nodes[i], _ = it.txn.store.node(id)
	}
	sort.SliceStable(nodes, func(i, j int) bool {
		vi, oki := nodes[i].Get(key)
		vj, okj := nodes[j].Get(key)
		if !oki && !okj {
			return false
		}
		if !oki {
			return false
		}
		if !okj {
			return true
		}
		return vi.Compare(vj) < 0
	})
	for i, n := range nodes {
		it.ids[i] = n.ID
	}
	it.pos = 0
}

// EdgeIterator mirrors NodeIterator for edges, plus Append for the
// cartesian-product construction AddEdge performs over src/dst sets.
type EdgeIterator struct {
	txn *Transaction
	ids []ID
	pos int
}

func newEdgeIterator(t *Transaction, ids []ID) *EdgeIterator {
	return &EdgeIterator{txn: t, ids: ids}
}

func (it *EdgeIterator) Reset() { it.pos = 0 }

func (it *EdgeIterator) Next() (*Edge, bool) {
	for it.pos < len(it.ids) {
		id := it.ids[it.pos]
		it.pos++
		if e, ok := it.txn.store.edge(id); ok {
			return e, true
		}
	}
	return nil, false
}

func (it *EdgeIterator) Len() int { return len(it.ids) }

func (it *EdgeIterator) IDs() []ID { return append([]ID(nil), it.ids...) }

// Append adds an edge id produced mid-construction (e.g. one leg of a
// cartesian-product AddEdge) to this iterator's result set.
func (it *EdgeIterator) Append(id ID) { it.ids = append(it.ids, id) }

func (it *EdgeIterator) Sort(key string) {
	edges := make([]*Edge, len(it.ids))
	for i, id := range it.ids {
		edges[i], _ = it.txn.store.edge(id)
	}
	sort.SliceStable(edges, func(i, j int) bool {
		vi, oki := edges[i].Get(key)
		vj, okj := edges[j].Get(key)
		if !oki && !okj {
			return false
		}
		if !oki {
			return false
		}
		if !okj {
			return true
		}
		return vi.Compare(vj) < 0
	})
	for i, e := range edges {
		it.ids[i] = e.ID
	}
	it.pos = 0
}

// WithIDs rebuilds this iterator over a narrower explicit id set (e.g.
// after a limit has been applied), sharing the same backing transaction.
func (it *NodeIterator) WithIDs(ids []ID) *NodeIterator {
	return newNodeIterator(it.txn, ids)
}

// WithIDs mirrors NodeIterator.WithIDs for edges.
func (it *EdgeIterator) WithIDs(ids []ID) *EdgeIterator {
	return newEdgeIterator(it.txn, ids)
}

// NodeIteratorFromIDs builds a NodeIterator over an explicit id set, used
// by the query handler to declare a `_ref` over exactly the node(s) a
// command just touched (e.g. the node AddNode just inserted) rather than
// re-running a broader scan.
func (t *Transaction) NodeIteratorFromIDs(ids []ID) *NodeIterator {
	return newNodeIterator(t, append([]ID(nil), ids...))
}

// EdgeIteratorFromIDs mirrors NodeIteratorFromIDs for edges.
func (t *Transaction) EdgeIteratorFromIDs(ids []ID) *EdgeIterator {
	return newEdgeIterator(t, append([]ID(nil), ids...))
}

// Direction is a link/neighbor traversal direction.
type Direction int

const (
	DirOut Direction = iota
	DirIn
	DirAny
)

func ParseDirection(s string) Direction {
	switch s {
	case cmn.DirIn:
		return DirIn
	case cmn.DirAny:
		return DirAny
	default:
		return DirOut
	}
}

// QueryNodes materializes every node with the given tag matching preds,
// using a secondary index to narrow the candidate set when one exists for
// an ordering/range predicate on this tag. The final predicate check always
// re-validates every candidate, so an index is purely an optimization,
// never a correctness dependency.
func (t *Transaction) QueryNodes(tag string, preds Predicates) (*NodeIterator, error) {
	candidates := t.candidateNodeIDs(tag, preds)
	var ids []ID
	for _, id := range candidates {
		n, ok := t.store.node(id)
		if !ok {
			continue
		}
		if preds.Match(n.Properties) {
			ids = append(ids, id)
		}
	}
	return newNodeIterator(t, ids), nil
}

func (t *Transaction) candidateNodeIDs(tag string, preds Predicates) []ID {
	for _, p := range preds {
		if !p.Range && (p.Op1 == cmn.OpEQ) {
			continue
		}
		kind := p.V1.Kind
		if !t.store.HasIndex(tag, p.Key, kind) {
			continue
		}
		lo, hi := indexBounds(p)
		ids, err := t.store.idx.Scan(tag, p.Key, kind, lo, hi)
		if err == nil {
			return ids
		}
	}
	return t.store.tagNodes(tag)
}

// indexBounds translates a single ordering/range Predicate into the
// [lo,hi) bounds buntdb's Ascend* family expects. EQ predicates are left
// to the tag scan (bounds on an equal-sort-key pair are fiddly and an
// index candidate-narrowing is only an optimization, not required).
func indexBounds(p Predicate) (lo, hi *string) {
	mk := func(v cmn.Value) *string {
		s, err := sortKey(v)
		if err != nil {
			return nil
		}
		return &s
	}
	bound := func(op string, v cmn.Value) {
		switch op {
		case cmn.OpGE, cmn.OpGT:
			lo = mk(v)
		case cmn.OpLT:
			hi = mk(v)
		case cmn.OpLE:
			// Just past v's key, so keys equal to it stay inside [lo,hi).
			if s := mk(v); s != nil {
				up := *s + "\x00"
				hi = &up
			}
		}
	}
	bound(p.Op1, p.V1)
	if p.Range {
		bound(p.Op2, p.V2)
	}
	return lo, hi
}

// QueryEdges mirrors QueryNodes for edges, with optional endpoint
// constraints used by QueryEdge.
func (t *Transaction) QueryEdges(tag string, preds Predicates, srcSet, dstSet []ID) (*EdgeIterator, error) {
	var srcFilter, dstFilter map[ID]bool
	if srcSet != nil {
		srcFilter = toSet(srcSet)
	}
	if dstSet != nil {
		dstFilter = toSet(dstSet)
	}
	var ids []ID
	for _, id := range t.store.tagEdges(tag) {
		e, ok := t.store.edge(id)
		if !ok {
			continue
		}
		if srcFilter != nil && !srcFilter[e.Src] {
			continue
		}
		if dstFilter != nil && !dstFilter[e.Dst] {
			continue
		}
		if preds.Match(e.Properties) {
			ids = append(ids, id)
		}
	}
	return newEdgeIterator(t, ids), nil
}

func toSet(ids []ID) map[ID]bool {
	m := make(map[ID]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}

// Neighbors is the multi-neighbor iterator: given a source node
// set, a direction, an optional edge tag, and a neighbor predicate,
// produces the union of neighbor nodes satisfying the predicate. It emits
// duplicates unless unique is requested; uniqueness across more than one
// source node is explicitly not supported and is an error.
func (t *Transaction) Neighbors(sources []ID, dir Direction, edgeTag string, preds Predicates, unique bool) ([]ID, error) {
	if unique && len(sources) > 1 {
		return nil, cmn.NewErr(cmn.Error, "pgraph: unique neighbor traversal over more than one source is not supported")
	}
	var out []ID
	seen := make(map[ID]bool)
	for _, src := range sources {
		neighborIDs := t.edgeNeighbors(src, dir, edgeTag)
		for _, nid := range neighborIDs {
			n, ok := t.store.node(nid)
			if !ok || !preds.Match(n.Properties) {
				continue
			}
			if unique {
				if seen[nid] {
					return nil, cmn.NewErr(cmn.NotUnique, "pgraph: neighbor traversal matched more than one node under unique=true")
				}
				seen[nid] = true
			}
			out = append(out, nid)
		}
	}
	return out, nil
}

func (t *Transaction) edgeNeighbors(src ID, dir Direction, edgeTag string) []ID {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ID
	visit := func(edgeIDs []ID, other func(*Edge) ID) {
		for _, eid := range edgeIDs {
			e, ok := s.edges[eid]
			if !ok {
				continue
			}
			if edgeTag != "" && e.Tag != edgeTag {
				continue
			}
			out = append(out, other(e))
		}
	}
	if dir == DirOut || dir == DirAny {
		visit(s.outEdges[src], func(e *Edge) ID { return e.Dst })
	}
	if dir == DirIn || dir == DirAny {
		visit(s.inEdges[src], func(e *Edge) ID { return e.Src })
	}
	return out
}
