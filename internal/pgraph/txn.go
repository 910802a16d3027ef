package pgraph

import (
	"github.com/IntelLabs/vdms-go/cmn"
	"github.com/IntelLabs/vdms-go/cmn/debug"
)

// Transaction is the unit of atomicity for graph mutations. It is
// read-only or read-write, acquired through the Store's single
// process-global RWLock. Mutations are applied to the Store's live maps
// immediately while an undo log records how to reverse each
// one; Abort replays the undo log in reverse so "aborted transactions
// leave the store unchanged" holds exactly, not just
// approximately.
type Transaction struct {
	store    *Store
	readOnly bool
	done     bool
	undo     []func()
}

// Begin acquires a read-write transaction.
func (s *Store) Begin() (*Transaction, error) {
	if err := s.lock.WriteLock(); err != nil {
		return nil, err
	}
	return &Transaction{store: s}, nil
}

// BeginRO acquires a read-only transaction.
func (s *Store) BeginRO() (*Transaction, error) {
	if err := s.lock.ReadLock(); err != nil {
		return nil, err
	}
	return &Transaction{store: s, readOnly: true}, nil
}

func (t *Transaction) ReadOnly() bool { return t.readOnly }

// Commit finalizes the transaction: mutations are already live, so commit
// only releases the lock and discards the undo log.
func (t *Transaction) Commit() error {
	if t.done {
		return cmn.NewErr(cmn.Exception, "pgraph: commit on a finished transaction")
	}
	t.done = true
	t.undo = nil
	return t.unlock()
}

// Abort replays the undo log in reverse order, restoring the pre-
// transaction state, then releases the lock.
func (t *Transaction) Abort() error {
	if t.done {
		return cmn.NewErr(cmn.Exception, "pgraph: abort on a finished transaction")
	}
	t.done = true
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
	return t.unlock()
}

func (t *Transaction) unlock() error {
	if t.readOnly {
		return t.store.lock.ReadUnlock()
	}
	return t.store.lock.WriteUnlock()
}

func (t *Transaction) record(undo func()) {
	if !t.readOnly {
		t.undo = append(t.undo, undo)
	}
}

func (t *Transaction) requireWritable() error {
	if t.readOnly {
		return cmn.NewErr(cmn.Error, "pgraph: write operation issued on a read-only transaction")
	}
	return nil
}

// GetNode returns a node by id, visible to the holding transaction.
func (t *Transaction) GetNode(id ID) (*Node, bool) { return t.store.node(id) }

// GetEdge mirrors GetNode for edges.
func (t *Transaction) GetEdge(id ID) (*Edge, bool) { return t.store.edge(id) }

// AddNode inserts a new node and assigns it the next monotonically
// increasing ID.
func (t *Transaction) AddNode(tag string, props Properties) (*Node, error) {
	if err := t.requireWritable(); err != nil {
		return nil, err
	}
	s := t.store
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	debug.Assert(id > 0)
	n := &Node{ID: id, Tag: tag, Properties: props.Clone()}
	s.nodes[id] = n
	s.nodesByTag[tag] = append(s.nodesByTag[tag], id)
	s.mu.Unlock()

	t.record(func() {
		s.mu.Lock()
		delete(s.nodes, id)
		list := s.nodesByTag[tag]
		for i, x := range list {
			if x == id {
				s.nodesByTag[tag] = append(list[:i], list[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
		_ = s.idx.Upsert(tag, id, nil)
	})
	if err := s.idx.Upsert(tag, id, n.Properties); err != nil {
		return nil, cmn.WrapErr(cmn.Exception, err, "pgraph: indexing node %d", id)
	}
	return n, nil
}

// AddEdge forms a single edge between two extant nodes. The
// cartesian-product semantics over multi-node source/destination sets
// live in internal/query, which calls AddEdge once per pair.
func (t *Transaction) AddEdge(tag string, src, dst ID, props Properties) (*Edge, error) {
	if err := t.requireWritable(); err != nil {
		return nil, err
	}
	s := t.store
	if _, ok := s.node(src); !ok {
		return nil, cmn.NewErr(cmn.Error, "pgraph: AddEdge: source node %d does not exist", src)
	}
	if _, ok := s.node(dst); !ok {
		return nil, cmn.NewErr(cmn.Error, "pgraph: AddEdge: destination node %d does not exist", dst)
	}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	e := &Edge{ID: id, Tag: tag, Src: src, Dst: dst, Properties: props.Clone()}
	s.edges[id] = e
	s.edgesByTag[tag] = append(s.edgesByTag[tag], id)
	s.outEdges[src] = append(s.outEdges[src], id)
	s.inEdges[dst] = append(s.inEdges[dst], id)
	s.mu.Unlock()

	t.record(func() {
		s.mu.Lock()
		delete(s.edges, id)
		s.edgesByTag[tag] = removeID(s.edgesByTag[tag], id)
		s.outEdges[src] = removeID(s.outEdges[src], id)
		s.inEdges[dst] = removeID(s.inEdges[dst], id)
		s.mu.Unlock()
	})
	return e, nil
}

// UpdateNodeProps applies property sets then removals, in that order
//, recording the prior state for rollback.
func (t *Transaction) UpdateNodeProps(id ID, sets Properties, removes []string) error {
	if err := t.requireWritable(); err != nil {
		return err
	}
	s := t.store
	s.mu.Lock()
	n, ok := s.nodes[id]
	if !ok {
		s.mu.Unlock()
		return cmn.NewErr(cmn.Error, "pgraph: UpdateNode: node %d does not exist", id)
	}
	before := n.Properties.Clone()
	for k, v := range sets {
		n.Properties[k] = v
	}
	for _, k := range removes {
		delete(n.Properties, k)
	}
	tag := n.Tag
	props := n.Properties.Clone()
	s.mu.Unlock()

	if err := s.idx.Upsert(tag, id, props); err != nil {
		return cmn.WrapErr(cmn.Exception, err, "pgraph: updating secondary index for node %d", id)
	}

	t.record(func() {
		s.mu.Lock()
		if nn, ok := s.nodes[id]; ok {
			nn.Properties = before
		}
		s.mu.Unlock()
		_ = s.idx.Upsert(tag, id, before)
	})
	return nil
}

// UpdateEdgeProps mirrors UpdateNodeProps for edges.
func (t *Transaction) UpdateEdgeProps(id ID, sets Properties, removes []string) error {
	if err := t.requireWritable(); err != nil {
		return err
	}
	s := t.store
	s.mu.Lock()
	e, ok := s.edges[id]
	if !ok {
		s.mu.Unlock()
		return cmn.NewErr(cmn.Error, "pgraph: UpdateEdge: edge %d does not exist", id)
	}
	before := e.Properties.Clone()
	for k, v := range sets {
		e.Properties[k] = v
	}
	for _, k := range removes {
		delete(e.Properties, k)
	}
	s.mu.Unlock()

	t.record(func() {
		s.mu.Lock()
		if ee, ok := s.edges[id]; ok {
			ee.Properties = before
		}
		s.mu.Unlock()
	})
	return nil
}

func removeID(list []ID, id ID) []ID {
	for i, x := range list {
		if x == id {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
