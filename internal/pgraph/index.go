package pgraph

import (
	"fmt"
	"math"

	"github.com/tidwall/buntdb"

	"github.com/IntelLabs/vdms-go/cmn"
)

// indexKey identifies one secondary index: a (tag, property key, value
// kind) triple.
type indexKey struct {
	Tag  string
	Key  string
	Kind cmn.ValueKind
}

func (k indexKey) name() string    { return fmt.Sprintf("idx_%s_%s_%d", k.Tag, k.Key, k.Kind) }
func (k indexKey) pattern() string { return fmt.Sprintf("n:%s:%s:*", k.Tag, k.Key) }

// indices wraps an in-memory buntdb database used purely as the secondary
// index layer: the nodes/edges themselves live in the Store's Go maps
//, but range and
// ordering predicates against an indexed (tag,key) pair are served by
// buntdb's B-tree, so BuildIndex has a persistent-capable backing store
// rather than a hand-rolled tree.
type indices struct {
	db      *buntdb.DB
	built   map[indexKey]bool
}

func newIndices() (*indices, error) {
	db, err := buntdb.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("pgraph: opening index store: %w", err)
	}
	return &indices{db: db, built: make(map[indexKey]bool)}, nil
}

func (ix *indices) Close() error { return ix.db.Close() }

// Build creates the secondary index for (tag, key) over the current node
// set, driven by the value kind observed on the first matching property.
func (ix *indices) Build(tag, key string, nodes map[ID]*Node) error {
	var kind cmn.ValueKind
	found := false
	for _, n := range nodes {
		if n.Tag != tag {
			continue
		}
		if v, ok := n.Properties[key]; ok {
			kind = v.Kind
			found = true
			break
		}
	}
	if !found {
		return cmn.NewErr(cmn.Empty, "pgraph: no node of tag %q carries property %q, nothing to index", tag, key)
	}
	ik := indexKey{Tag: tag, Key: key, Kind: kind}
	if ix.built[ik] {
		return nil
	}
	if err := ix.db.CreateIndex(ik.name(), ik.pattern(), buntdb.IndexBinary); err != nil {
		return fmt.Errorf("pgraph: creating index %s: %w", ik.name(), err)
	}
	err := ix.db.Update(func(tx *buntdb.Tx) error {
		for id, n := range nodes {
			if n.Tag != tag {
				continue
			}
			v, ok := n.Properties[key]
			if !ok || v.Kind != kind {
				continue
			}
			sk, err := sortKey(v)
			if err != nil {
				return err
			}
			_, _, err = tx.Set(dbKey(tag, key, id), sk, nil)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	ix.built[ik] = true
	return nil
}

func (ix *indices) Has(tag, key string, kind cmn.ValueKind) bool {
	return ix.built[indexKey{Tag: tag, Key: key, Kind: kind}]
}

// Upsert keeps every built index of tag in sync with a node's properties
// (UpdateNode can change an indexed property's value); an index whose
// property is missing from props, or of another kind, drops the node.
func (ix *indices) Upsert(tag string, id ID, props Properties) error {
	return ix.db.Update(func(tx *buntdb.Tx) error {
		for ik := range ix.built {
			if ik.Tag != tag {
				continue
			}
			v, ok := props[ik.Key]
			if !ok || v.Kind != ik.Kind {
				_, _ = tx.Delete(dbKey(tag, ik.Key, id))
				continue
			}
			sk, err := sortKey(v)
			if err != nil {
				return err
			}
			if _, _, err := tx.Set(dbKey(tag, ik.Key, id), sk, nil); err != nil {
				return err
			}
		}
		return nil
	})
}

// Scan returns the ids of every node satisfying a single ordering/range
// predicate against an indexed (tag,key) pair, in ascending sort-key
// order. Callers fall back to a full tag scan when no index exists.
func (ix *indices) Scan(tag, key string, kind cmn.ValueKind, lo, hi *string) ([]ID, error) {
	ik := indexKey{Tag: tag, Key: key, Kind: kind}
	if !ix.built[ik] {
		return nil, cmn.NewErr(cmn.Empty, "pgraph: no index on %s.%s", tag, key)
	}
	var ids []ID
	err := ix.db.View(func(tx *buntdb.Tx) error {
		visit := func(k, v string) bool {
			id, ok := idFromDBKey(k)
			if ok {
				ids = append(ids, id)
			}
			return true
		}
		switch {
		case lo != nil && hi != nil:
			return tx.AscendRange(ik.name(), *lo, *hi, visit)
		case lo != nil:
			return tx.AscendGreaterOrEqual(ik.name(), *lo, visit)
		case hi != nil:
			return tx.AscendLessThan(ik.name(), *hi, visit)
		default:
			return tx.Ascend(ik.name(), visit)
		}
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func dbKey(tag, key string, id ID) string {
	return fmt.Sprintf("n:%s:%s:%020d", tag, key, uint64(id))
}

// idFromDBKey extracts the trailing "%020d" id field appended by dbKey.
func idFromDBKey(k string) (ID, bool) {
	idx := -1
	for i := len(k) - 1; i >= 0; i-- {
		if k[i] == ':' {
			idx = i
			break
		}
	}
	if idx < 0 {
		return 0, false
	}
	var id uint64
	if _, err := fmt.Sscanf(k[idx+1:], "%d", &id); err != nil {
		return 0, false
	}
	return ID(id), true
}

// sortKey renders a value into a string whose byte-lexicographic order
// matches the value's natural order, so buntdb's byte-wise string index
// (IndexBinary) can serve range predicates directly.
func sortKey(v cmn.Value) (string, error) {
	switch v.Kind {
	case cmn.KindBool:
		if v.Bool {
			return "1", nil
		}
		return "0", nil
	case cmn.KindInt:
		// Shift into the unsigned range so two's-complement ordering
		// becomes lexicographic ordering.
		u := uint64(v.Int) ^ (1 << 63)
		return fmt.Sprintf("%020d", u), nil
	case cmn.KindFloat:
		return fmt.Sprintf("%020d", floatSortKey(v.Float)), nil
	case cmn.KindString:
		return v.Str, nil
	case cmn.KindTime:
		return v.Time.UTC().Format("2006-01-02T15:04:05.000000000Z07:00"), nil
	default:
		return "", fmt.Errorf("pgraph: value of kind %s cannot be indexed", v.Kind)
	}
}

// floatSortKey maps a float64 onto a uint64 that preserves ordering,
// flipping all bits for negatives and just the sign bit for
// non-negatives (the standard float-to-sortable-uint trick).
func floatSortKey(f float64) uint64 {
	b := math.Float64bits(f)
	if b&(1<<63) != 0 {
		return ^b
	}
	return b | (1 << 63)
}
