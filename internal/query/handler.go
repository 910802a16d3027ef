// Package query implements the graph query handler: it translates one
// batch's AddNode/AddEdge/QueryNode/QueryEdge/UpdateNode/UpdateEdge
// commands into internal/pgraph engine operations, with per-batch
// cross-command `_ref` bookkeeping.
/*
 * Copyright (c) 2018-2026, VDMS-Go Authors. All rights reserved.
 */
package query

import (
	"github.com/IntelLabs/vdms-go/cmn"
	"github.com/IntelLabs/vdms-go/internal/pgraph"
)

// ref is whichever reusable iterator a `_ref` currently names. Exactly one of Node/Edge
// is non-nil.
type ref struct {
	Node *pgraph.NodeIterator
	Edge *pgraph.EdgeIterator
}

// Handler is the batch-scoped state the dispatcher drives one command at
// a time: the open transaction and the `_ref` table. A Handler is used for
// exactly one batch and discarded at commit/abort.
type Handler struct {
	Txn  *pgraph.Transaction
	refs map[int]*ref
}

func New(txn *pgraph.Transaction) *Handler {
	return &Handler{Txn: txn, refs: make(map[int]*ref)}
}

// declareRef registers a fresh `_ref`. Reuse within the same batch is a
// command error.
func (h *Handler) declareRef(id int, r *ref) error {
	if id == 0 {
		return nil
	}
	if _, exists := h.refs[id]; exists {
		return cmn.NewErr(cmn.Error, "query: _ref %d is already used in this batch", id)
	}
	h.refs[id] = r
	return nil
}

func (h *Handler) nodeRef(id int) (*pgraph.NodeIterator, error) {
	r, ok := h.refs[id]
	if !ok || r.Node == nil {
		return nil, cmn.NewErr(cmn.Error, "query: _ref %d does not name a node set", id)
	}
	return r.Node, nil
}

func (h *Handler) edgeRef(id int) (*pgraph.EdgeIterator, error) {
	r, ok := h.refs[id]
	if !ok || r.Edge == nil {
		return nil, cmn.NewErr(cmn.Error, "query: _ref %d does not name an edge set", id)
	}
	return r.Edge, nil
}

// AddNodeParams mirrors the AddEntity/AddImage/... JSON command shape
// once the dispatcher has peeled off its media-specific fields.
type AddNodeParams struct {
	Ref        int
	Tag        string
	Properties pgraph.Properties
	// Guard, if non-nil, is evaluated first; a unique match short-circuits
	// the insert and returns Exists.
	Guard *QueryNodeParams
}

type AddNodeResult struct {
	Status cmn.Status
	Info   string
	ID     pgraph.ID
}

// AddNode inserts a node: if Guard is present and matches
// exactly one node, return Exists without inserting; otherwise insert and
// assign a new id, caching the singleton result set under Ref if given.
func (h *Handler) AddNode(p AddNodeParams) (AddNodeResult, error) {
	if p.Guard != nil {
		res, it, err := h.queryNode(*p.Guard)
		if err != nil {
			return AddNodeResult{}, err
		}
		if res.Status == cmn.Success && it.Len() == 1 {
			ids := it.IDs()
			if err := h.declareRef(p.Ref, &ref{Node: it}); err != nil {
				return AddNodeResult{}, err
			}
			return AddNodeResult{Status: cmn.Exists, ID: ids[0]}, nil
		}
	}
	n, err := h.Txn.AddNode(p.Tag, p.Properties)
	if err != nil {
		return AddNodeResult{}, err
	}
	if p.Ref != 0 {
		narrowed := h.Txn.NodeIteratorFromIDs([]pgraph.ID{n.ID})
		if err := h.declareRef(p.Ref, &ref{Node: narrowed}); err != nil {
			return AddNodeResult{}, err
		}
	}
	return AddNodeResult{Status: cmn.Success, ID: n.ID}, nil
}

// AddEdgeParams mirrors the wire AddConnection command shape.
type AddEdgeParams struct {
	Ref        int
	SrcRef     int
	DstRef     int
	Tag        string
	Properties pgraph.Properties
}

type AddEdgeResult struct {
	Status Status
	Info   string
	IDs    []pgraph.ID
}

// Status is a thin alias kept local to avoid importing cmn.Status under
// two names in call sites that also use pgraph.ID.
type Status = cmn.Status

// AddEdge forms the cartesian product of the source and destination ref's
// node sets and creates one edge per pair. An empty source or
// destination set fails Empty.
func (h *Handler) AddEdge(p AddEdgeParams) (AddEdgeResult, error) {
	srcIt, err := h.nodeRef(p.SrcRef)
	if err != nil {
		return AddEdgeResult{}, err
	}
	dstIt, err := h.nodeRef(p.DstRef)
	if err != nil {
		return AddEdgeResult{}, err
	}
	srcIDs, dstIDs := srcIt.IDs(), dstIt.IDs()
	srcIt.Reset()
	dstIt.Reset()
	if len(srcIDs) == 0 || len(dstIDs) == 0 {
		return AddEdgeResult{Status: cmn.Empty, Info: "query: AddEdge source or destination set is empty"}, nil
	}
	var created []pgraph.ID
	for _, s := range srcIDs {
		for _, d := range dstIDs {
			e, err := h.Txn.AddEdge(p.Tag, s, d, p.Properties)
			if err != nil {
				return AddEdgeResult{}, err
			}
			created = append(created, e.ID)
		}
	}
	if p.Ref != 0 {
		edgeIt := h.Txn.EdgeIteratorFromIDs(created)
		if err := h.declareRef(p.Ref, &ref{Edge: edgeIt}); err != nil {
			return AddEdgeResult{}, err
		}
	}
	return AddEdgeResult{Status: cmn.Success, IDs: created}, nil
}
