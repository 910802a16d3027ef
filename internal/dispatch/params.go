package dispatch

import (
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/IntelLabs/vdms-go/cmn"
	"github.com/IntelLabs/vdms-go/internal/media/common"
	"github.com/IntelLabs/vdms-go/internal/pgraph"
	"github.com/IntelLabs/vdms-go/internal/query"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// rawCommand is one decoded batch element: the single top-level key and
// its body, still as raw JSON.
type rawCommand struct {
	Name string
	Body jsoniter.RawMessage
}

// decodeBatch splits the JSON array of single-command objects.
func decodeBatch(batch string) ([]rawCommand, error) {
	var arr []map[string]jsoniter.RawMessage
	if err := json.UnmarshalFromString(batch, &arr); err != nil {
		return nil, cmn.WrapErr(cmn.Error, err, "dispatch: request is not a JSON command array")
	}
	cmds := make([]rawCommand, 0, len(arr))
	for i, obj := range arr {
		if len(obj) != 1 {
			return nil, cmn.NewErr(cmn.Error, "dispatch: command %d has %d top-level keys, want exactly 1", i, len(obj))
		}
		for name, body := range obj {
			cmds = append(cmds, rawCommand{Name: name, Body: body})
		}
	}
	return cmds, nil
}

// cmdBody is the union of every command's fields; each command reads the
// subset the schema allows it.
type cmdBody struct {
	Ref         int                            `json:"_ref"`
	Class       string                         `json:"class"`
	Ref1        int                            `json:"ref1"`
	Ref2        int                            `json:"ref2"`
	Format      string                         `json:"format"`
	Name        string                         `json:"name"`
	Dimensions  int                            `json:"dimensions"`
	Set         string                         `json:"set"`
	Label       string                         `json:"label"`
	KNeighbors  int                            `json:"k_neighbors"`
	Image       int                            `json:"image"`
	Unique      bool                           `json:"unique"`
	Properties  map[string]jsoniter.RawMessage `json:"properties"`
	Constraints map[string][]jsoniter.RawMessage `json:"constraints"`
	RemoveProps []string                       `json:"remove_props"`
	Link        *linkBody                      `json:"link"`
	Results     *resultsBody                   `json:"results"`
	Rectangle   *rectBody                      `json:"rectangle"`
	Operations  []opBody                       `json:"operations"`
}

type linkBody struct {
	Ref       int    `json:"ref"`
	Class     string `json:"class"`
	Direction string `json:"direction"`
}

type resultsBody struct {
	List    []string `json:"list"`
	Blob    *bool    `json:"blob"`
	Limit   int      `json:"limit"`
	Count   bool     `json:"count"`
	Sum     bool     `json:"sum"`
	Average bool     `json:"average"`
	Sort    bool     `json:"sort"`
	SortKey string   `json:"sort_key"`
}

type rectBody struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

type opBody struct {
	Type     string                         `json:"type"`
	Height   int                            `json:"height"`
	Width    int                            `json:"width"`
	X        int                            `json:"x"`
	Y        int                            `json:"y"`
	Value    float64                        `json:"value"`
	Code     int                            `json:"code"`
	Angle    float64                        `json:"angle"`
	KeepSize bool                           `json:"keep_size"`
	URL      string                         `json:"url"`
	Options  map[string]jsoniter.RawMessage `json:"options"`
	Start    float64                        `json:"start"`
	Stop     float64                        `json:"stop"`
	ByTime   bool                           `json:"by_time"`
}

func parseBody(raw jsoniter.RawMessage) (*cmdBody, error) {
	b := &cmdBody{}
	if err := json.Unmarshal(raw, b); err != nil {
		return nil, cmn.WrapErr(cmn.Error, err, "dispatch: decoding command body")
	}
	return b, nil
}

// parseValue maps a JSON scalar onto the six-type property model:
// numbers without a fractional part become integers, `{"_date": ...}`
// objects become time values, everything else keeps its JSON type.
func parseValue(raw jsoniter.RawMessage) (cmn.Value, error) {
	var v any
	dec := jsoniter.ConfigCompatibleWithStandardLibrary
	if err := dec.Unmarshal(raw, &v); err != nil {
		return cmn.Value{}, cmn.WrapErr(cmn.Error, err, "dispatch: decoding property value")
	}
	switch tv := v.(type) {
	case bool:
		return cmn.BoolValue(tv), nil
	case string:
		return cmn.StringValue(tv), nil
	case float64:
		if tv == float64(int64(tv)) && !hasFraction(raw) {
			return cmn.IntValue(int64(tv)), nil
		}
		return cmn.FloatValue(tv), nil
	case map[string]any:
		if dateStr, ok := tv["_date"].(string); ok {
			t, err := time.Parse(time.RFC3339Nano, dateStr)
			if err != nil {
				t, err = time.Parse(time.RFC3339, dateStr)
			}
			if err != nil {
				return cmn.Value{}, cmn.WrapErr(cmn.Error, err, "dispatch: parsing _date value %q", dateStr)
			}
			return cmn.TimeValue(t), nil
		}
		return cmn.Value{}, cmn.NewErr(cmn.Error, "dispatch: object property values must carry _date")
	default:
		return cmn.Value{}, cmn.NewErr(cmn.Error, "dispatch: unsupported property value type")
	}
}

// hasFraction reports whether the raw number literal contains '.' or an
// exponent: "5.0" stays a float even though its value is integral.
func hasFraction(raw jsoniter.RawMessage) bool {
	for _, c := range raw {
		if c == '.' || c == 'e' || c == 'E' {
			return true
		}
	}
	return false
}

func parseProperties(m map[string]jsoniter.RawMessage) (pgraph.Properties, error) {
	if len(m) == 0 {
		return nil, nil
	}
	props := make(pgraph.Properties, len(m))
	for k, raw := range m {
		v, err := parseValue(raw)
		if err != nil {
			return nil, err
		}
		props[k] = v
	}
	return props, nil
}

// parseConstraints compiles a `constraints` object into predicates,
// re-checking arity (2 or 4) so callers that bypass the schema validator
// (embedded guard queries) still get the rule.
func parseConstraints(m map[string][]jsoniter.RawMessage) (pgraph.Predicates, error) {
	if len(m) == 0 {
		return nil, nil
	}
	preds := make(pgraph.Predicates, 0, len(m))
	for key, arr := range m {
		switch len(arr) {
		case 2:
			op, v, err := parseOpValue(arr[0], arr[1])
			if err != nil {
				return nil, err
			}
			preds = append(preds, pgraph.Predicate{Key: key, Op1: op, V1: v})
		case 4:
			op1, v1, err := parseOpValue(arr[0], arr[1])
			if err != nil {
				return nil, err
			}
			op2, v2, err := parseOpValue(arr[2], arr[3])
			if err != nil {
				return nil, err
			}
			preds = append(preds, pgraph.Predicate{Key: key, Op1: op1, V1: v1, Op2: op2, V2: v2, Range: true})
		default:
			return nil, cmn.NewErr(cmn.Error, "dispatch: constraint %q has %d elements, want 2 or 4", key, len(arr))
		}
	}
	return preds, nil
}

func parseOpValue(opRaw, valRaw jsoniter.RawMessage) (string, cmn.Value, error) {
	var op string
	if err := json.Unmarshal(opRaw, &op); err != nil {
		return "", cmn.Value{}, cmn.WrapErr(cmn.Error, err, "dispatch: constraint operator is not a string")
	}
	switch op {
	case cmn.OpEQ, cmn.OpNE, cmn.OpGT, cmn.OpGE, cmn.OpLT, cmn.OpLE:
	default:
		return "", cmn.Value{}, cmn.NewErr(cmn.Error, "dispatch: unrecognized constraint operator %q", op)
	}
	v, err := parseValue(valRaw)
	if err != nil {
		return "", cmn.Value{}, err
	}
	return op, v, nil
}

func parseResults(r *resultsBody) query.ResultParams {
	if r == nil {
		// results.blob defaults true for Find* commands; callers that
		// are not Find* ignore the Blob field entirely.
		return query.ResultParams{Blob: true}
	}
	p := query.ResultParams{
		List:    r.List,
		Blob:    true,
		Limit:   r.Limit,
		Sort:    r.Sort || r.SortKey != "",
		SortKey: r.SortKey,
	}
	if r.Blob != nil {
		p.Blob = *r.Blob
	}
	switch {
	case r.Count:
		p.Mode = cmn.ResultCount
	case r.Sum:
		p.Mode = cmn.ResultSum
	case r.Average:
		p.Mode = cmn.ResultAverage
	}
	return p
}

func parseLink(l *linkBody) *query.LinkParams {
	if l == nil {
		return nil
	}
	return &query.LinkParams{Ref: l.Ref, Class: l.Class, Direction: l.Direction}
}

// parseOperations maps the `operations` array onto the media pipeline's
// deferred operation model. The interval pseudo-operation is
// handled by the video path directly and mapped to a frame window here.
func parseOperations(ops []opBody) ([]common.Operation, error) {
	if len(ops) == 0 {
		return nil, nil
	}
	out := make([]common.Operation, 0, len(ops))
	for _, ob := range ops {
		op := common.Operation{
			Height:   ob.Height,
			Width:    ob.Width,
			Rect:     common.Rectangle{X: ob.X, Y: ob.Y, Width: ob.Width, Height: ob.Height},
			Value:    ob.Value,
			FlipCode: ob.Code,
			Angle:    ob.Angle,
			KeepSize: ob.KeepSize,
			URL:      ob.URL,
			Start:    ob.Start,
			Stop:     ob.Stop,
			ByTime:   ob.ByTime,
		}
		switch ob.Type {
		case cmn.OpRead:
			op.Kind = common.KindRead
		case cmn.OpWrite:
			op.Kind = common.KindWrite
		case cmn.OpResize:
			op.Kind = common.KindResize
		case cmn.OpCrop:
			op.Kind = common.KindCrop
		case cmn.OpThreshold:
			op.Kind = common.KindThreshold
		case cmn.OpFlip:
			op.Kind = common.KindFlip
		case cmn.OpRotate:
			op.Kind = common.KindRotate
		case cmn.OpSyncRemoteOp:
			op.Kind = common.KindSyncRemoteOp
		case cmn.OpRemoteOp:
			op.Kind = common.KindRemoteOp
		case cmn.OpUserOp:
			op.Kind = common.KindUserOp
		case "interval":
			op.Kind = kindInterval
		default:
			return nil, cmn.NewErr(cmn.Error, "dispatch: unrecognized operation type %q", ob.Type)
		}
		if len(ob.Options) > 0 {
			opts := make(map[string]cmn.Value, len(ob.Options))
			for k, raw := range ob.Options {
				v, err := parseValue(raw)
				if err != nil {
					return nil, err
				}
				opts[k] = v
			}
			op.Options = opts
		}
		out = append(out, op)
	}
	return out, nil
}

// kindInterval is the video-only frame-window trim. The schema accepts it
// in any operations list: addImage rejects it, and on FindImage it reaches
// the image pipeline, whose Drain fails on it as an unrecognized operation.
const kindInterval common.Kind = "interval"
