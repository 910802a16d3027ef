package pgraph

import "github.com/IntelLabs/vdms-go/cmn"

// Predicate is one typed comparison on a property key: equality,
// ordering, or a two-sided range. A constraints clause is a set of
// named Predicates, all of which must hold (conjunction) for a node or
// edge to match.
type Predicate struct {
	Key string
	Op1 string
	V1  cmn.Value
	// Op2/V2 are set only for a two-sided range, e.g. {">=", 1, "<", 10}.
	Op2 string
	V2  cmn.Value
	Range bool
}

// Match evaluates the predicate against a property bag. A predicate
// against a non-existent property, or against a blob value, never
// matches.
func (p Predicate) Match(props Properties) bool {
	v, ok := props[p.Key]
	if !ok || v.Kind == cmn.KindBlob {
		return false
	}
	if !matchOp(p.Op1, v, p.V1) {
		return false
	}
	if p.Range {
		return matchOp(p.Op2, v, p.V2)
	}
	return true
}

func matchOp(op string, v, ref cmn.Value) bool {
	if v.Kind != ref.Kind {
		return false
	}
	c := v.Compare(ref)
	switch op {
	case cmn.OpEQ:
		return c == 0
	case cmn.OpNE:
		return c != 0
	case cmn.OpGT:
		return c > 0
	case cmn.OpGE:
		return c >= 0
	case cmn.OpLT:
		return c < 0
	case cmn.OpLE:
		return c <= 0
	default:
		return false
	}
}

// Predicates is a conjunction of Predicate, the compiled form of a
// command's `constraints` object.
type Predicates []Predicate

func (ps Predicates) Match(props Properties) bool {
	for _, p := range ps {
		if !p.Match(props) {
			return false
		}
	}
	return true
}
