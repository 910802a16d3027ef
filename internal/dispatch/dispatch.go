// Package dispatch implements the command dispatcher and response
// builder: schema-validated JSON command batches, blob counting, the
// two-phase "construct graph / construct response" split, and ordered
// blob attachment.
/*
 * Copyright (c) 2018-2026, VDMS-Go Authors. All rights reserved.
 */
package dispatch

import (
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"

	"github.com/IntelLabs/vdms-go/cmn"
	"github.com/IntelLabs/vdms-go/internal/evloop"
	"github.com/IntelLabs/vdms-go/internal/pgraph"
	"github.com/IntelLabs/vdms-go/internal/query"
	"github.com/IntelLabs/vdms-go/internal/store"
	"github.com/IntelLabs/vdms-go/internal/wire"
)

// Dispatcher owns one database's command surface. It is safe for
// concurrent use: all shared state is read-only after New, and graph
// serialization happens inside pgraph's RW lock.
type Dispatcher struct {
	graph   *pgraph.Store
	blobs   store.ObjectStore
	schema  *validator
	remote  *evloop.RemoteClient
	udf     *evloop.UDFClient
	tempDir string
}

// Options carries the collaborators a Dispatcher needs. A nil Remote is
// replaced by a client with default timeouts; a nil UDF disables userOp.
type Options struct {
	Graph   *pgraph.Store
	Blobs   store.ObjectStore
	Remote  *evloop.RemoteClient
	UDF     *evloop.UDFClient
	TempDir string
}

func New(opts Options) (*Dispatcher, error) {
	v, err := newValidator()
	if err != nil {
		return nil, err
	}
	if opts.Remote == nil {
		opts.Remote = evloop.NewRemoteClient(0, 0)
	}
	return &Dispatcher{
		graph:   opts.Graph,
		blobs:   opts.Blobs,
		schema:  v,
		remote:  opts.Remote,
		udf:     opts.UDF,
		tempDir: opts.TempDir,
	}, nil
}

// Execute runs one batch: validate, count blobs, construct the graph
// transaction command by command, commit, then construct responses and
// attach blobs in command order.
func (d *Dispatcher) Execute(req *wire.Frame) *wire.Frame {
	batchID := uuid.NewString()
	started := time.Now()

	cmds, err := decodeBatch(req.Json)
	if err != nil {
		return errorFrame("", err)
	}
	glog.V(1).Infof("batch %s: %d commands, %d blobs", batchID, len(cmds), len(req.Blobs))

	if err := d.schema.validateBatch(cmds); err != nil {
		return errorFrame(firstName(cmds), err)
	}

	states, err := d.prepare(cmds, req.Blobs)
	if err != nil {
		return errorFrame(firstName(cmds), err)
	}

	resp := d.run(batchID, states)
	glog.V(1).Infof("batch %s: done in %v", batchID, time.Since(started))
	return resp
}

func firstName(cmds []rawCommand) string {
	if len(cmds) > 0 {
		return cmds[0].Name
	}
	return ""
}

// prepare parses every command body and assigns input blobs. A mismatch
// between the number of blob-consuming commands and provided blobs is a
// hard batch error, including zero-needed with non-zero-provided.
func (d *Dispatcher) prepare(cmds []rawCommand, blobs [][]byte) ([]*cmdState, error) {
	states := make([]*cmdState, len(cmds))
	need := 0
	for i, rc := range cmds {
		body, err := parseBody(rc.Body)
		if err != nil {
			return nil, err
		}
		st := &cmdState{raw: rc, body: body, group: i}
		if consumesBlob(rc.Name) {
			if need < len(blobs) {
				st.inBlob = blobs[need]
			}
			need++
		}
		states[i] = st
	}
	if need != len(blobs) {
		return nil, cmn.NewErr(cmn.Error, "dispatch: batch needs %d blobs, %d provided", need, len(blobs))
	}
	return states, nil
}

func consumesBlob(name string) bool {
	switch name {
	case cmn.CmdAddImage, cmn.CmdAddVideo, cmn.CmdAddBlob, cmn.CmdAddDescriptor, cmn.CmdClassifyDescriptor:
		return true
	}
	return false
}

func writes(name string) bool {
	switch name {
	case cmn.CmdFindImage, cmn.CmdFindVideo, cmn.CmdFindBoundingBox,
		cmn.CmdFindDescriptor, cmn.CmdFindBlob, cmn.CmdClassifyDescriptor:
		return false
	}
	return true
}

// run executes the two phases under one transaction.
func (d *Dispatcher) run(batchID string, states []*cmdState) *wire.Frame {
	readOnly := true
	for _, st := range states {
		if writes(st.raw.Name) {
			readOnly = false
			break
		}
	}
	var (
		txn *pgraph.Transaction
		err error
	)
	if readOnly {
		txn, err = d.graph.BeginRO()
	} else {
		txn, err = d.graph.Begin()
	}
	if err != nil {
		return errorFrame("", err)
	}
	h := query.New(txn)
	refs := newRefAllocator()

	// Phase 1: construct graph operations, in command order.
	for i, st := range states {
		if err := d.constructGraph(h, st, refs); err != nil {
			e := cmn.AsErr(err)
			glog.Errorf("batch %s: command %d (%s) failed: %v", batchID, i, st.raw.Name, e)
			if abortErr := txn.Abort(); abortErr != nil {
				glog.Errorf("batch %s: abort failed: %v", batchID, abortErr)
			}
			return abortedFrame(states, i, e)
		}
	}
	if err := txn.Commit(); err != nil {
		e := cmn.AsErr(err)
		return errorFrame("", e)
	}

	// Phase 2: construct responses and attach blobs, in command order.
	bodies := make([]map[string]any, len(states))
	var outBlobs [][]byte
	for _, st := range states {
		body, blobs := d.constructResponse(st)
		bodies[st.group] = map[string]any{st.raw.Name: body}
		outBlobs = append(outBlobs, blobs...)
	}
	js, err := json.MarshalToString(bodies)
	if err != nil {
		return errorFrame("", cmn.WrapErr(cmn.Exception, err, "dispatch: encoding response"))
	}
	return &wire.Frame{Json: js, Blobs: outBlobs}
}

// abortedFrame builds the truncated abort response: previously-buffered
// responses are discarded, the failing position carries the single error
// response, everything after it is omitted.
func abortedFrame(states []*cmdState, failIdx int, e *cmn.Err) *wire.Frame {
	bodies := make([]map[string]any, failIdx+1)
	for i := 0; i < failIdx; i++ {
		bodies[i] = map[string]any{}
	}
	bodies[failIdx] = map[string]any{
		states[failIdx].raw.Name: map[string]any{
			"status": int(e.Status),
			"info":   e.Info,
		},
	}
	js, _ := json.MarshalToString(bodies)
	return &wire.Frame{Json: js}
}

// errorFrame is the whole-request failure shape (schema validation, blob
// count, malformed JSON): a single-element response array.
func errorFrame(name string, err error) *wire.Frame {
	e := cmn.AsErr(err)
	body := map[string]any{
		"status": int(e.Status),
		"info":   e.Info,
	}
	var arr []map[string]any
	if name == "" {
		arr = []map[string]any{{"FailedCommand": body}}
	} else {
		arr = []map[string]any{{name: body}}
	}
	js, _ := json.MarshalToString(arr)
	return &wire.Frame{Json: js}
}

// rowToJSON converts a projected row into plain JSON-marshalable values.
func rowToJSON(row query.Row) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[k] = valueToJSON(v)
	}
	return out
}

func valueToJSON(v cmn.Value) any {
	switch v.Kind {
	case cmn.KindBool:
		return v.Bool
	case cmn.KindInt:
		return v.Int
	case cmn.KindFloat:
		return v.Float
	case cmn.KindString:
		return v.Str
	case cmn.KindTime:
		return map[string]any{"_date": v.Time.Format(time.RFC3339Nano)}
	default:
		return nil
	}
}
