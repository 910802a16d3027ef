package query

import (
	"github.com/IntelLabs/vdms-go/cmn"
	"github.com/IntelLabs/vdms-go/internal/pgraph"
)

// LinkParams is the `link` clause: it turns a previously captured
// `_ref`'s node set into the start set via a neighbor traversal.
type LinkParams struct {
	Ref       int
	Class     string
	Direction string
}

// ResultParams mirrors the `results` object of the wire protocol.
type ResultParams struct {
	List    []string
	Mode    string // "" defaults to list; cmn.ResultCount/Sum/Average/NodeID otherwise
	Blob    bool
	Limit   int
	Sort    bool
	SortKey string
}

type QueryNodeParams struct {
	Ref         int
	Tag         string
	Constraints pgraph.Predicates
	Link        *LinkParams
	Results     ResultParams
	Unique      bool
}

// Row is one projected result row: a property-key to value map for List
// mode, as the response builder will marshal it.
type Row map[string]cmn.Value

// QueryResult is the shaped outcome of a QueryNode/QueryEdge, ready for
// the response builder to fold into the command's JSON body.
type QueryResult struct {
	Status  cmn.Status
	Info    string
	Rows    []Row
	Count   int
	Sum     float64
	Average float64
	NodeIDs []pgraph.ID
}

// QueryNode executes one node query: start-set selection (tag scan or
// link traversal of a prior ref), predicate filter, optional sort, limit,
// and result shaping (List/Count/Sum/Average/NodeID). Uniqueness is
// checked after the limit is applied.
func (h *Handler) QueryNode(p QueryNodeParams) (QueryResult, error) {
	res, it, err := h.queryNode(p)
	if err != nil {
		return QueryResult{}, err
	}
	if p.Ref != 0 && res.Status != cmn.NotUnique {
		if err := h.declareRef(p.Ref, &ref{Node: it}); err != nil {
			return QueryResult{}, err
		}
	}
	return res, nil
}

// queryNode is the shared implementation used directly by QueryNode and
// by AddNode's optional guard query; it additionally returns the live
// iterator so AddNode can cache it under its own Ref without re-querying.
func (h *Handler) queryNode(p QueryNodeParams) (QueryResult, *pgraph.NodeIterator, error) {
	var ids []pgraph.ID
	if p.Link != nil {
		srcIt, err := h.nodeRef(p.Link.Ref)
		if err != nil {
			return QueryResult{}, nil, err
		}
		neighbors, err := h.Txn.Neighbors(srcIt.IDs(), pgraph.ParseDirection(p.Link.Direction), p.Link.Class, p.Constraints, p.Unique)
		srcIt.Reset()
		if err != nil {
			return QueryResult{}, nil, err
		}
		ids = neighbors
		it := h.Txn.NodeIteratorFromIDs(ids)
		return shapeNodeResult(it, p)
	}
	it, err := h.Txn.QueryNodes(p.Tag, p.Constraints)
	if err != nil {
		return QueryResult{}, nil, err
	}
	return shapeNodeResult(it, p)
}

// shapeNodeResult applies sort, limit, uniqueness, and the requested result-shaping mode.
func shapeNodeResult(it *pgraph.NodeIterator, p QueryNodeParams) (QueryResult, *pgraph.NodeIterator, error) {
	if p.Results.Sort {
		it.Sort(p.Results.SortKey)
	}
	ids := it.IDs()
	if p.Results.Limit > 0 && len(ids) > p.Results.Limit {
		ids = ids[:p.Results.Limit]
	}
	it = it.WithIDs(ids)

	if p.Unique && len(ids) > 1 {
		return QueryResult{Status: cmn.NotUnique, Info: "query: unique=true but more than one node matched"}, it, nil
	}
	if len(ids) == 0 {
		return QueryResult{Status: cmn.Empty, NodeIDs: ids}, it, nil
	}

	// NodeIDs ride along in every success mode so the response builder can
	// crawl the matched nodes for blob attachment without re-querying.
	switch p.Results.Mode {
	case cmn.ResultCount:
		return QueryResult{Status: cmn.Success, Count: len(ids), NodeIDs: ids}, it, nil
	case cmn.ResultSum, cmn.ResultAverage:
		sum, err := sumNodes(it, p.Results.List)
		if err != nil {
			return QueryResult{}, it, err
		}
		if p.Results.Mode == cmn.ResultSum {
			return QueryResult{Status: cmn.Success, Sum: sum, NodeIDs: ids}, it, nil
		}
		return QueryResult{Status: cmn.Success, Average: sum / float64(len(ids)), NodeIDs: ids}, it, nil
	case cmn.ResultNodeID:
		return QueryResult{Status: cmn.Success, NodeIDs: ids}, it, nil
	default:
		rows, err := projectNodes(it, p.Results.List)
		if err != nil {
			return QueryResult{}, it, err
		}
		return QueryResult{Status: cmn.Success, Rows: rows, NodeIDs: ids}, it, nil
	}
}

// sumNodes accumulates the first result key over every row; Sum/Average
// require an integer or float property.
func sumNodes(it *pgraph.NodeIterator, keys []string) (float64, error) {
	if len(keys) == 0 {
		return 0, cmn.NewErr(cmn.Error, "query: sum/average requires a results.list key")
	}
	key := keys[0]
	it.Reset()
	defer it.Reset()
	var total float64
	for {
		n, ok := it.Next()
		if !ok {
			break
		}
		v, ok := n.Get(key)
		if !ok || !v.Numeric() {
			return 0, cmn.NewErr(cmn.Exception, "query: property %q is not numeric on node %d (PropertyTypeInvalid)", key, n.ID)
		}
		total += v.AsFloat()
	}
	return total, nil
}

func projectNodes(it *pgraph.NodeIterator, keys []string) ([]Row, error) {
	it.Reset()
	defer it.Reset()
	var rows []Row
	for {
		n, ok := it.Next()
		if !ok {
			break
		}
		rows = append(rows, projectProps(n.Properties, keys))
	}
	return rows, nil
}

func projectProps(props pgraph.Properties, keys []string) Row {
	row := make(Row)
	if len(keys) == 0 {
		// Default projection: every queryable property except the
		// underscore-prefixed internal keys (storage paths and formats).
		for k, v := range props {
			if v.Kind != cmn.KindBlob && (len(k) == 0 || k[0] != '_') {
				row[k] = v
			}
		}
		return row
	}
	for _, k := range keys {
		if v, ok := props[k]; ok && v.Kind != cmn.KindBlob {
			row[k] = v
		}
	}
	return row
}

// QueryEdgeParams mirrors QueryNodeParams for edges, with optional
// endpoint constraints resolved from prior refs.
type QueryEdgeParams struct {
	Ref         int
	SrcRef      int
	DstRef      int
	Tag         string
	Constraints pgraph.Predicates
	Results     ResultParams
	Unique      bool
}

func (h *Handler) QueryEdge(p QueryEdgeParams) (QueryResult, error) {
	var srcSet, dstSet []pgraph.ID
	if p.SrcRef != 0 {
		it, err := h.nodeRef(p.SrcRef)
		if err != nil {
			return QueryResult{}, err
		}
		srcSet = it.IDs()
		it.Reset()
	}
	if p.DstRef != 0 {
		it, err := h.nodeRef(p.DstRef)
		if err != nil {
			return QueryResult{}, err
		}
		dstSet = it.IDs()
		it.Reset()
	}
	it, err := h.Txn.QueryEdges(p.Tag, p.Constraints, srcSet, dstSet)
	if err != nil {
		return QueryResult{}, err
	}
	if p.Results.Sort {
		it.Sort(p.Results.SortKey)
	}
	ids := it.IDs()
	if p.Results.Limit > 0 && len(ids) > p.Results.Limit {
		ids = ids[:p.Results.Limit]
	}
	it = h.Txn.EdgeIteratorFromIDs(ids)

	if p.Unique && len(ids) > 1 {
		return QueryResult{Status: cmn.NotUnique}, nil
	}
	if p.Ref != 0 {
		if err := h.declareRef(p.Ref, &ref{Edge: it}); err != nil {
			return QueryResult{}, err
		}
	}
	if len(ids) == 0 {
		return QueryResult{Status: cmn.Empty}, nil
	}

	switch p.Results.Mode {
	case cmn.ResultCount:
		return QueryResult{Status: cmn.Success, Count: len(ids)}, nil
	case cmn.ResultNodeID:
		return QueryResult{Status: cmn.Success, NodeIDs: ids}, nil
	default:
		rows := make([]Row, 0, len(ids))
		it.Reset()
		for {
			e, ok := it.Next()
			if !ok {
				break
			}
			rows = append(rows, projectProps(e.Properties, p.Results.List))
		}
		return QueryResult{Status: cmn.Success, Rows: rows}, nil
	}
}
