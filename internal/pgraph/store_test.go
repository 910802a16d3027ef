package pgraph

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/IntelLabs/vdms-go/cmn"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(10)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func props(kv ...any) Properties {
	p := make(Properties, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		key := kv[i].(string)
		switch v := kv[i+1].(type) {
		case int:
			p[key] = cmn.IntValue(int64(v))
		case string:
			p[key] = cmn.StringValue(v)
		case float64:
			p[key] = cmn.FloatValue(v)
		case bool:
			p[key] = cmn.BoolValue(v)
		}
	}
	return p
}

func TestTransactionCommitVisibility(t *testing.T) {
	s := newTestStore(t)

	txn, err := s.Begin()
	require.NoError(t, err)
	n, err := txn.AddNode("Patient", props("name", "Jane", "age", 70))
	require.NoError(t, err)
	require.EqualValues(t, 1, n.ID)
	require.NoError(t, txn.Commit())

	ro, err := s.BeginRO()
	require.NoError(t, err)
	defer ro.Commit()
	it, err := ro.QueryNodes("Patient", nil)
	require.NoError(t, err)
	require.Equal(t, 1, it.Len())
}

// Aborted batches leave the store unchanged.
func TestTransactionAbortRestoresState(t *testing.T) {
	s := newTestStore(t)

	txn, err := s.Begin()
	require.NoError(t, err)
	a, err := txn.AddNode("A", nil)
	require.NoError(t, err)
	require.NoError(t, txn.Commit())

	txn, err = s.Begin()
	require.NoError(t, err)
	b, err := txn.AddNode("A", nil)
	require.NoError(t, err)
	_, err = txn.AddEdge("rel", a.ID, b.ID, nil)
	require.NoError(t, err)
	require.NoError(t, txn.UpdateNodeProps(a.ID, props("x", 1), nil))
	require.NoError(t, txn.Abort())

	ro, err := s.BeginRO()
	require.NoError(t, err)
	defer ro.Commit()
	it, err := ro.QueryNodes("A", nil)
	require.NoError(t, err)
	require.Equal(t, 1, it.Len())
	n, ok := ro.GetNode(a.ID)
	require.True(t, ok)
	_, hasX := n.Get("x")
	require.False(t, hasX)
	edges, err := ro.QueryEdges("rel", nil, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 0, edges.Len())
}

func TestAddEdgeRequiresEndpoints(t *testing.T) {
	s := newTestStore(t)
	txn, err := s.Begin()
	require.NoError(t, err)
	defer txn.Abort()
	_, err = txn.AddEdge("rel", 99, 100, nil)
	require.Error(t, err)
	require.Equal(t, cmn.Error, cmn.AsErr(err).Status)
}

func TestWriteOnReadOnlyTransaction(t *testing.T) {
	s := newTestStore(t)
	ro, err := s.BeginRO()
	require.NoError(t, err)
	defer ro.Commit()
	_, err = ro.AddNode("A", nil)
	require.Error(t, err)
}

func TestPredicateMatching(t *testing.T) {
	s := newTestStore(t)
	txn, err := s.Begin()
	require.NoError(t, err)
	for i, age := range []int{50, 65, 70, 80} {
		_, err := txn.AddNode("Patient", props("age", age, "idx", i))
		require.NoError(t, err)
	}
	require.NoError(t, txn.Commit())

	ro, err := s.BeginRO()
	require.NoError(t, err)
	defer ro.Commit()

	ge := Predicates{{Key: "age", Op1: cmn.OpGE, V1: cmn.IntValue(65)}}
	it, err := ro.QueryNodes("Patient", ge)
	require.NoError(t, err)
	require.Equal(t, 3, it.Len())

	rng := Predicates{{Key: "age", Op1: cmn.OpGT, V1: cmn.IntValue(50), Op2: cmn.OpLT, V2: cmn.IntValue(80), Range: true}}
	it, err = ro.QueryNodes("Patient", rng)
	require.NoError(t, err)
	require.Equal(t, 2, it.Len())

	// A predicate against a missing property never matches.
	missing := Predicates{{Key: "nope", Op1: cmn.OpEQ, V1: cmn.IntValue(1)}}
	it, err = ro.QueryNodes("Patient", missing)
	require.NoError(t, err)
	require.Equal(t, 0, it.Len())
}

func TestIteratorSortAndReset(t *testing.T) {
	s := newTestStore(t)
	txn, err := s.Begin()
	require.NoError(t, err)
	for _, age := range []int{70, 50, 60} {
		_, err := txn.AddNode("P", props("age", age))
		require.NoError(t, err)
	}

	it, err := txn.QueryNodes("P", nil)
	require.NoError(t, err)
	it.Sort("age")
	var ages []int64
	for {
		n, ok := it.Next()
		if !ok {
			break
		}
		v, _ := n.Get("age")
		ages = append(ages, v.Int)
	}
	require.Equal(t, []int64{50, 60, 70}, ages)

	// Reset replays the same set without re-scanning.
	it.Reset()
	n, ok := it.Next()
	require.True(t, ok)
	v, _ := n.Get("age")
	require.EqualValues(t, 50, v.Int)
	require.NoError(t, txn.Commit())
}

func TestNeighborsTraversal(t *testing.T) {
	s := newTestStore(t)
	txn, err := s.Begin()
	require.NoError(t, err)
	img, _ := txn.AddNode("image", nil)
	r1, _ := txn.AddNode("region", props("w", 10))
	r2, _ := txn.AddNode("region", props("w", 20))
	_, err = txn.AddEdge("imageLink", img.ID, r1.ID, nil)
	require.NoError(t, err)
	_, err = txn.AddEdge("imageLink", img.ID, r2.ID, nil)
	require.NoError(t, err)

	out, err := txn.Neighbors([]ID{img.ID}, DirOut, "imageLink", nil, false)
	require.NoError(t, err)
	require.Len(t, out, 2)

	// Reverse direction from a region finds the image.
	in, err := txn.Neighbors([]ID{r1.ID}, DirIn, "imageLink", nil, false)
	require.NoError(t, err)
	require.Equal(t, []ID{img.ID}, in)

	// Uniqueness across multiple sources is not supported.
	_, err = txn.Neighbors([]ID{r1.ID, r2.ID}, DirIn, "imageLink", nil, true)
	require.Error(t, err)
	require.NoError(t, txn.Commit())
}

func TestBuildIndexAndScan(t *testing.T) {
	s := newTestStore(t)
	txn, err := s.Begin()
	require.NoError(t, err)
	for _, age := range []int{10, 20, 30, 40} {
		_, err := txn.AddNode("P", props("age", age))
		require.NoError(t, err)
	}
	require.NoError(t, txn.Commit())

	require.NoError(t, s.BuildIndex("P", "age"))
	require.True(t, s.HasIndex("P", "age", cmn.KindInt))
	require.False(t, s.HasIndex("P", "height", cmn.KindInt))

	ro, err := s.BeginRO()
	require.NoError(t, err)
	defer ro.Commit()
	it, err := ro.QueryNodes("P", Predicates{{Key: "age", Op1: cmn.OpGE, V1: cmn.IntValue(25)}})
	require.NoError(t, err)
	require.Equal(t, 2, it.Len())
}

func TestUpdateKeepsIndexInSync(t *testing.T) {
	s := newTestStore(t)
	txn, err := s.Begin()
	require.NoError(t, err)
	n, err := txn.AddNode("P", props("age", 10))
	require.NoError(t, err)
	require.NoError(t, txn.Commit())
	require.NoError(t, s.BuildIndex("P", "age"))

	txn, err = s.Begin()
	require.NoError(t, err)
	require.NoError(t, txn.UpdateNodeProps(n.ID, props("age", 99), nil))
	require.NoError(t, txn.Commit())

	ro, err := s.BeginRO()
	require.NoError(t, err)
	defer ro.Commit()
	it, err := ro.QueryNodes("P", Predicates{{Key: "age", Op1: cmn.OpGE, V1: cmn.IntValue(50)}})
	require.NoError(t, err)
	require.Equal(t, 1, it.Len())
}
