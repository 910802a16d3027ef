package query

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/IntelLabs/vdms-go/cmn"
	"github.com/IntelLabs/vdms-go/internal/pgraph"
)

func newHandler(t *testing.T) (*Handler, *pgraph.Store) {
	t.Helper()
	s, err := pgraph.New(10)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	txn, err := s.Begin()
	require.NoError(t, err)
	return New(txn), s
}

func props(kv ...any) pgraph.Properties {
	p := make(pgraph.Properties, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		key := kv[i].(string)
		switch v := kv[i+1].(type) {
		case int:
			p[key] = cmn.IntValue(int64(v))
		case string:
			p[key] = cmn.StringValue(v)
		case float64:
			p[key] = cmn.FloatValue(v)
		}
	}
	return p
}

// S1: add-then-find within one batch.
func TestAddThenQueryNode(t *testing.T) {
	h, _ := newHandler(t)

	res, err := h.AddNode(AddNodeParams{Ref: 1, Tag: "Patient", Properties: props("name", "Jane", "age", 70)})
	require.NoError(t, err)
	require.Equal(t, cmn.Success, res.Status)

	q, err := h.QueryNode(QueryNodeParams{
		Tag:         "Patient",
		Constraints: pgraph.Predicates{{Key: "age", Op1: cmn.OpGE, V1: cmn.IntValue(65)}},
		Results:     ResultParams{List: []string{"name", "age"}},
	})
	require.NoError(t, err)
	require.Equal(t, cmn.Success, q.Status)
	require.Len(t, q.Rows, 1)
	require.Equal(t, "Jane", q.Rows[0]["name"].Str)
	require.EqualValues(t, 70, q.Rows[0]["age"].Int)
	require.NoError(t, h.Txn.Commit())
}

// S4: reusing a _ref in the same batch is a command error.
func TestRefReuseFails(t *testing.T) {
	h, _ := newHandler(t)
	defer h.Txn.Abort()

	_, err := h.AddNode(AddNodeParams{Ref: 1, Tag: "A"})
	require.NoError(t, err)
	_, err = h.AddNode(AddNodeParams{Ref: 1, Tag: "A"})
	require.Error(t, err)
	require.Equal(t, cmn.Error, cmn.AsErr(err).Status)
	require.Contains(t, cmn.AsErr(err).Info, "_ref")
}

// S6: AddEdge against unknown references aborts.
func TestAddEdgeUnknownRefs(t *testing.T) {
	h, _ := newHandler(t)
	defer h.Txn.Abort()

	_, err := h.AddEdge(AddEdgeParams{SrcRef: 99, DstRef: 100, Tag: "Related"})
	require.Error(t, err)
}

func TestAddEdgeCartesianProduct(t *testing.T) {
	h, _ := newHandler(t)
	defer h.Txn.Abort()

	for i := 0; i < 2; i++ {
		_, err := h.AddNode(AddNodeParams{Tag: "src", Properties: props("i", i)})
		require.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		_, err := h.AddNode(AddNodeParams{Tag: "dst", Properties: props("i", i)})
		require.NoError(t, err)
	}
	_, err := h.QueryNode(QueryNodeParams{Ref: 1, Tag: "src"})
	require.NoError(t, err)
	_, err = h.QueryNode(QueryNodeParams{Ref: 2, Tag: "dst"})
	require.NoError(t, err)

	res, err := h.AddEdge(AddEdgeParams{Ref: 3, SrcRef: 1, DstRef: 2, Tag: "rel"})
	require.NoError(t, err)
	require.Equal(t, cmn.Success, res.Status)
	require.Len(t, res.IDs, 6)
}

func TestAddEdgeEmptySet(t *testing.T) {
	h, _ := newHandler(t)
	defer h.Txn.Abort()

	_, err := h.AddNode(AddNodeParams{Ref: 1, Tag: "src"})
	require.NoError(t, err)
	_, err = h.QueryNode(QueryNodeParams{Ref: 2, Tag: "nothing-has-this-tag"})
	require.NoError(t, err)

	res, err := h.AddEdge(AddEdgeParams{SrcRef: 1, DstRef: 2, Tag: "rel"})
	require.NoError(t, err)
	require.Equal(t, cmn.Empty, res.Status)
}

func TestAddNodeGuardExists(t *testing.T) {
	h, _ := newHandler(t)
	defer h.Txn.Abort()

	guard := &QueryNodeParams{
		Tag:         "Patient",
		Constraints: pgraph.Predicates{{Key: "name", Op1: cmn.OpEQ, V1: cmn.StringValue("Jane")}},
		Unique:      true,
	}
	res, err := h.AddNode(AddNodeParams{Tag: "Patient", Properties: props("name", "Jane"), Guard: guard})
	require.NoError(t, err)
	require.Equal(t, cmn.Success, res.Status)

	res, err = h.AddNode(AddNodeParams{Tag: "Patient", Properties: props("name", "Jane"), Guard: guard})
	require.NoError(t, err)
	require.Equal(t, cmn.Exists, res.Status)

	q, err := h.QueryNode(QueryNodeParams{Tag: "Patient", Results: ResultParams{Mode: cmn.ResultCount}})
	require.NoError(t, err)
	require.Equal(t, 1, q.Count)
}

// unique=true returns exactly one row or NotUnique.
func TestUniqueOutcomes(t *testing.T) {
	h, _ := newHandler(t)
	defer h.Txn.Abort()

	for i := 0; i < 2; i++ {
		_, err := h.AddNode(AddNodeParams{Tag: "P", Properties: props("i", i)})
		require.NoError(t, err)
	}
	q, err := h.QueryNode(QueryNodeParams{Tag: "P", Unique: true})
	require.NoError(t, err)
	require.Equal(t, cmn.NotUnique, q.Status)

	q, err = h.QueryNode(QueryNodeParams{
		Tag:         "P",
		Constraints: pgraph.Predicates{{Key: "i", Op1: cmn.OpEQ, V1: cmn.IntValue(0)}},
		Unique:      true,
	})
	require.NoError(t, err)
	require.Equal(t, cmn.Success, q.Status)
	require.Len(t, q.Rows, 1)
}

// Uniqueness is checked only after the limit is applied.
func TestUniqueCheckedAfterLimit(t *testing.T) {
	h, _ := newHandler(t)
	defer h.Txn.Abort()

	for i := 0; i < 3; i++ {
		_, err := h.AddNode(AddNodeParams{Tag: "P", Properties: props("i", i)})
		require.NoError(t, err)
	}
	q, err := h.QueryNode(QueryNodeParams{Tag: "P", Unique: true, Results: ResultParams{Limit: 1}})
	require.NoError(t, err)
	require.Equal(t, cmn.Success, q.Status)
}

func TestSumAndAverage(t *testing.T) {
	h, _ := newHandler(t)
	defer h.Txn.Abort()

	for _, age := range []int{10, 20, 30} {
		_, err := h.AddNode(AddNodeParams{Tag: "P", Properties: props("age", age)})
		require.NoError(t, err)
	}
	q, err := h.QueryNode(QueryNodeParams{Tag: "P", Results: ResultParams{Mode: cmn.ResultSum, List: []string{"age"}}})
	require.NoError(t, err)
	require.EqualValues(t, 60, q.Sum)

	q, err = h.QueryNode(QueryNodeParams{Tag: "P", Results: ResultParams{Mode: cmn.ResultAverage, List: []string{"age"}}})
	require.NoError(t, err)
	require.EqualValues(t, 20, q.Average)

	// Sum over a non-numeric property is an engine exception.
	_, err = h.AddNode(AddNodeParams{Tag: "Q", Properties: props("name", "x")})
	require.NoError(t, err)
	_, err = h.QueryNode(QueryNodeParams{Tag: "Q", Results: ResultParams{Mode: cmn.ResultSum, List: []string{"name"}}})
	require.Error(t, err)
}

// The row set observed through a ref equals the set its
// declaring command produced, regardless of interleaved consumers.
func TestRefObservationStable(t *testing.T) {
	h, _ := newHandler(t)
	defer h.Txn.Abort()

	for i := 0; i < 3; i++ {
		_, err := h.AddNode(AddNodeParams{Tag: "P", Properties: props("i", i)})
		require.NoError(t, err)
	}
	q, err := h.QueryNode(QueryNodeParams{
		Ref: 1, Tag: "P",
		Constraints: pgraph.Predicates{{Key: "i", Op1: cmn.OpLE, V1: cmn.IntValue(1)}},
	})
	require.NoError(t, err)
	require.Len(t, q.Rows, 2)

	// Two consumers in sequence observe the same two-element set.
	for i := 0; i < 2; i++ {
		u, err := h.UpdateNode(UpdateNodeParams{Ref: 1, Set: props("seen", i)})
		require.NoError(t, err)
		require.Equal(t, 2, u.Count)
	}
}

func TestLinkTraversal(t *testing.T) {
	h, _ := newHandler(t)
	defer h.Txn.Abort()

	_, err := h.AddNode(AddNodeParams{Ref: 1, Tag: "image", Properties: props("name", "img1")})
	require.NoError(t, err)
	_, err = h.AddNode(AddNodeParams{Ref: 2, Tag: "region", Properties: props("w", 10)})
	require.NoError(t, err)
	_, err = h.AddEdge(AddEdgeParams{SrcRef: 1, DstRef: 2, Tag: "imageLink"})
	require.NoError(t, err)

	q, err := h.QueryNode(QueryNodeParams{
		Tag:  "region",
		Link: &LinkParams{Ref: 1, Class: "imageLink", Direction: cmn.DirOut},
	})
	require.NoError(t, err)
	require.Equal(t, cmn.Success, q.Status)
	require.Len(t, q.Rows, 1)
	require.EqualValues(t, 10, q.Rows[0]["w"].Int)
}

// Update count equals the selector's cardinality, zero
// included.
func TestUpdateCount(t *testing.T) {
	h, _ := newHandler(t)
	defer h.Txn.Abort()

	for i := 0; i < 3; i++ {
		_, err := h.AddNode(AddNodeParams{Tag: "P", Properties: props("i", i)})
		require.NoError(t, err)
	}
	u, err := h.UpdateNode(UpdateNodeParams{
		Query: &QueryNodeParams{Tag: "P", Constraints: pgraph.Predicates{{Key: "i", Op1: cmn.OpGE, V1: cmn.IntValue(1)}}},
		Set:   props("flag", 1),
	})
	require.NoError(t, err)
	require.Equal(t, 2, u.Count)

	u, err = h.UpdateNode(UpdateNodeParams{
		Query: &QueryNodeParams{Tag: "P", Constraints: pgraph.Predicates{{Key: "i", Op1: cmn.OpGE, V1: cmn.IntValue(99)}}},
		Set:   props("flag", 1),
	})
	require.NoError(t, err)
	require.Equal(t, 0, u.Count)
}

func TestUpdateSetThenRemove(t *testing.T) {
	h, _ := newHandler(t)
	defer h.Txn.Abort()

	_, err := h.AddNode(AddNodeParams{Ref: 1, Tag: "P", Properties: props("keep", 1, "drop", 2)})
	require.NoError(t, err)
	u, err := h.UpdateNode(UpdateNodeParams{Ref: 1, Set: props("added", 3), Remove: []string{"drop"}})
	require.NoError(t, err)
	require.Equal(t, 1, u.Count)

	q, err := h.QueryNode(QueryNodeParams{Tag: "P"})
	require.NoError(t, err)
	row := q.Rows[0]
	require.Contains(t, row, "keep")
	require.Contains(t, row, "added")
	require.NotContains(t, row, "drop")
}

func TestQueryEdgeWithEndpoints(t *testing.T) {
	h, _ := newHandler(t)
	defer h.Txn.Abort()

	_, err := h.AddNode(AddNodeParams{Ref: 1, Tag: "a"})
	require.NoError(t, err)
	_, err = h.AddNode(AddNodeParams{Ref: 2, Tag: "b"})
	require.NoError(t, err)
	_, err = h.AddNode(AddNodeParams{Ref: 3, Tag: "c"})
	require.NoError(t, err)
	_, err = h.AddEdge(AddEdgeParams{SrcRef: 1, DstRef: 2, Tag: "rel", Properties: props("k", 1)})
	require.NoError(t, err)
	_, err = h.AddEdge(AddEdgeParams{SrcRef: 1, DstRef: 3, Tag: "rel", Properties: props("k", 2)})
	require.NoError(t, err)

	q, err := h.QueryEdge(QueryEdgeParams{Tag: "rel", SrcRef: 1})
	require.NoError(t, err)
	require.Len(t, q.Rows, 2)

	q, err = h.QueryEdge(QueryEdgeParams{Tag: "rel", SrcRef: 1, DstRef: 3})
	require.NoError(t, err)
	require.Len(t, q.Rows, 1)
	require.EqualValues(t, 2, q.Rows[0]["k"].Int)
}
