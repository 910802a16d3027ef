package cmn

import (
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ValueKind tags the six property value types a graph Property may hold.
type ValueKind uint8

const (
	KindInvalid ValueKind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindTime
	KindBlob
)

func (k ValueKind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindTime:
		return "time"
	case KindBlob:
		return "blob"
	default:
		return "invalid"
	}
}

// Value is a tagged union over the six property value types. It is the
// in-memory representation of one property value, one constraint operand,
// or one result projection cell. Blob values are opaque and never
// queryable; Time values carry an explicit UTC-normalized instant
// plus the original timezone offset in seconds, since the wire format
// distinguishes "same instant" from "same wall-clock reading".
type Value struct {
	Kind     ValueKind
	Bool     bool
	Int      int64
	Float    float64
	Str      string
	Time     time.Time
	TZOffset int // seconds east of UTC, as presented on the wire
	Blob     []byte
}

func BoolValue(b bool) Value     { return Value{Kind: KindBool, Bool: b} }
func IntValue(i int64) Value     { return Value{Kind: KindInt, Int: i} }
func FloatValue(f float64) Value { return Value{Kind: KindFloat, Float: f} }
func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }
func BlobValue(b []byte) Value   { return Value{Kind: KindBlob, Blob: b} }

func TimeValue(t time.Time) Value {
	_, offset := t.Zone()
	return Value{Kind: KindTime, Time: t.UTC(), TZOffset: offset}
}

// Numeric reports whether this value's kind participates in Sum/Average
// result shaping.
func (v Value) Numeric() bool { return v.Kind == KindInt || v.Kind == KindFloat }

// AsFloat widens an Int or Float value for Sum/Average accumulation.
func (v Value) AsFloat() float64 {
	if v.Kind == KindInt {
		return float64(v.Int)
	}
	return v.Float
}

// Compare orders two values of the same kind; it is the comparator used by
// both property predicates and the stable sort over result sets. Blob
// values cannot be compared or predicated against and Compare
// panics if asked to - callers must reject blob predicates before this
// point.
func (v Value) Compare(other Value) int {
	if v.Kind != other.Kind {
		return int(v.Kind) - int(other.Kind)
	}
	switch v.Kind {
	case KindBool:
		if v.Bool == other.Bool {
			return 0
		}
		if !v.Bool {
			return -1
		}
		return 1
	case KindInt:
		switch {
		case v.Int < other.Int:
			return -1
		case v.Int > other.Int:
			return 1
		default:
			return 0
		}
	case KindFloat:
		switch {
		case v.Float < other.Float:
			return -1
		case v.Float > other.Float:
			return 1
		default:
			return 0
		}
	case KindString:
		switch {
		case v.Str < other.Str:
			return -1
		case v.Str > other.Str:
			return 1
		default:
			return 0
		}
	case KindTime:
		switch {
		case v.Time.Before(other.Time):
			return -1
		case v.Time.After(other.Time):
			return 1
		default:
			return 0
		}
	default:
		panic(fmt.Sprintf("cmn: value of kind %s is not comparable", v.Kind))
	}
}

// Equal is Compare(other) == 0, defined separately because blob values are
// allowed to participate in equality checks at the property-set level
// (two properties are "the same value") even though they can't be
// predicated on by a query.
func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind {
		return false
	}
	if v.Kind == KindBlob {
		if len(v.Blob) != len(other.Blob) {
			return false
		}
		for i := range v.Blob {
			if v.Blob[i] != other.Blob[i] {
				return false
			}
		}
		return true
	}
	return v.Compare(other) == 0
}

// MarshalJSON renders the value the way the wire protocol expects: the
// bare JSON scalar, not an envelope. Blob values never reach the wire as
// properties (callers must strip them before projecting into a response).
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindBool:
		return json.Marshal(v.Bool)
	case KindInt:
		return json.Marshal(v.Int)
	case KindFloat:
		return json.Marshal(v.Float)
	case KindString:
		return json.Marshal(v.Str)
	case KindTime:
		return json.Marshal(v.Time.Format(time.RFC3339Nano))
	default:
		return nil, fmt.Errorf("cmn: value of kind %s is not JSON-projectable", v.Kind)
	}
}
