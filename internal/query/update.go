package query

import (
	"github.com/IntelLabs/vdms-go/cmn"
	"github.com/IntelLabs/vdms-go/internal/pgraph"
)

// UpdateNodeParams selects an update target: either an
// existing `_ref` or an embedded QueryNode, plus the properties to set and
// remove.
type UpdateNodeParams struct {
	Ref     int // existing ref to update in place, mutually exclusive with Query
	Query   *QueryNodeParams
	Set     pgraph.Properties
	Remove  []string
}

type UpdateResult struct {
	Status cmn.Status
	Info   string
	Count  int
}

// UpdateNode iterates the selector's result set and applies Set then
// Remove to each element; the count reflects the selector's cardinality
// at commit time even when it is zero.
func (h *Handler) UpdateNode(p UpdateNodeParams) (UpdateResult, error) {
	it, err := h.resolveNodeSelector(p.Ref, p.Query)
	if err != nil {
		return UpdateResult{}, err
	}
	ids := it.IDs()
	it.Reset()
	for _, id := range ids {
		if err := h.Txn.UpdateNodeProps(id, p.Set, p.Remove); err != nil {
			return UpdateResult{}, err
		}
	}
	return UpdateResult{Status: cmn.Success, Count: len(ids)}, nil
}

func (h *Handler) resolveNodeSelector(ref int, q *QueryNodeParams) (*pgraph.NodeIterator, error) {
	if q != nil {
		_, it, err := h.queryNode(*q)
		if err != nil {
			return nil, err
		}
		return it, nil
	}
	return h.nodeRef(ref)
}

// UpdateEdgeParams mirrors UpdateNodeParams for edges.
type UpdateEdgeParams struct {
	Ref    int
	Query  *QueryEdgeParams
	Set    pgraph.Properties
	Remove []string
}

func (h *Handler) UpdateEdge(p UpdateEdgeParams) (UpdateResult, error) {
	var it *pgraph.EdgeIterator
	if p.Query != nil {
		var srcSet, dstSet []pgraph.ID
		if p.Query.SrcRef != 0 {
			srcIt, err := h.nodeRef(p.Query.SrcRef)
			if err != nil {
				return UpdateResult{}, err
			}
			srcSet = srcIt.IDs()
			srcIt.Reset()
		}
		if p.Query.DstRef != 0 {
			dstIt, err := h.nodeRef(p.Query.DstRef)
			if err != nil {
				return UpdateResult{}, err
			}
			dstSet = dstIt.IDs()
			dstIt.Reset()
		}
		var err error
		it, err = h.Txn.QueryEdges(p.Query.Tag, p.Query.Constraints, srcSet, dstSet)
		if err != nil {
			return UpdateResult{}, err
		}
	} else {
		var err error
		it, err = h.edgeRef(p.Ref)
		if err != nil {
			return UpdateResult{}, err
		}
	}
	ids := it.IDs()
	it.Reset()
	for _, id := range ids {
		if err := h.Txn.UpdateEdgeProps(id, p.Set, p.Remove); err != nil {
			return UpdateResult{}, err
		}
	}
	return UpdateResult{Status: cmn.Success, Count: len(ids)}, nil
}
