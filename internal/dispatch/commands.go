package dispatch

import (
	"encoding/binary"
	"math"

	"github.com/IntelLabs/vdms-go/cmn"
	"github.com/IntelLabs/vdms-go/internal/evloop"
	"github.com/IntelLabs/vdms-go/internal/media/common"
	"github.com/IntelLabs/vdms-go/internal/pgraph"
	"github.com/IntelLabs/vdms-go/internal/query"
	"github.com/IntelLabs/vdms-go/internal/store"
)

// cmdState is one command's batch-scoped bookkeeping: the parsed body,
// its position (the command-group id responses correlate back to), the
// phase-1 graph results, and the media work phase 2 still owes.
type cmdState struct {
	raw   rawCommand
	body  *cmdBody
	group int

	inBlob []byte

	status cmn.Status
	info   string

	qres       query.QueryResult
	resultMode string
	rows       []map[string]any // pre-built rows (FindBoundingBox), else derived from qres
	updated    int

	// media blobs to attach in phase 2: stored key, stored format, an
	// optional pre-crop rectangle (bounding boxes), and the op list.
	media     []mediaRef
	ops       []common.Operation
	outFormat common.Format
	wantBlob  bool

	// store writes deferred to phase 2, after commit: graph metadata is
	// transactional, blob writes are best-effort.
	puts []pendingPut

	// ClassifyDescriptor working set.
	descs      []descRef
	queryVec   []byte
	kNeighbors int
	dimensions int
}

type mediaRef struct {
	key    string
	format common.Format
	rect   *common.Rectangle
}

type pendingPut struct {
	key  string
	data []byte
}

type descRef struct {
	key   string
	label string
}

// refAllocator hands out references for otherwise-unnamed intermediate
// results. Its refs start above 1<<20. The schema sets no upper bound on a
// client `_ref`, so a client ref in that range can collide with one of
// these.
type refAllocator struct{ next int }

func newRefAllocator() *refAllocator { return &refAllocator{next: 1 << 20} }

func (ra *refAllocator) alloc() int {
	ra.next++
	return ra.next
}

// constructGraph is phase 1 for one command: translate it into engine
// operations through the query handler. A returned error aborts the
// batch; per-command conditions (Empty/Exists/NotUnique) land in
// st.status instead.
func (d *Dispatcher) constructGraph(h *query.Handler, st *cmdState, refs *refAllocator) error {
	switch st.raw.Name {
	case cmn.CmdAddEntity:
		return d.addEntity(h, st)
	case cmn.CmdAddConnection:
		return d.addConnection(h, st)
	case cmn.CmdAddImage:
		return d.addImage(h, st)
	case cmn.CmdUpdateImage:
		return d.updateNodeCmd(h, st, cmn.TagImage)
	case cmn.CmdFindImage:
		return d.findMedia(h, st, cmn.TagImage)
	case cmn.CmdAddVideo:
		return d.addVideo(h, st)
	case cmn.CmdUpdateVideo:
		return d.updateNodeCmd(h, st, cmn.TagVideo)
	case cmn.CmdFindVideo:
		return d.findMedia(h, st, cmn.TagVideo)
	case cmn.CmdAddBoundingBox:
		return d.addBoundingBox(h, st, refs)
	case cmn.CmdUpdateBoundingBox:
		return d.updateBoundingBox(h, st)
	case cmn.CmdFindBoundingBox:
		return d.findBoundingBox(h, st)
	case cmn.CmdAddDescriptorSet:
		return d.addDescriptorSet(h, st)
	case cmn.CmdAddDescriptor:
		return d.addDescriptor(h, st, refs)
	case cmn.CmdFindDescriptor:
		return d.findDescriptor(h, st, refs)
	case cmn.CmdClassifyDescriptor:
		return d.classifyDescriptor(h, st, refs)
	case cmn.CmdAddBlob:
		return d.addBlob(h, st)
	case cmn.CmdUpdateBlob:
		return d.updateNodeCmd(h, st, cmn.TagBlob)
	case cmn.CmdFindBlob:
		return d.findMedia(h, st, cmn.TagBlob)
	default:
		return cmn.NewErr(cmn.Error, "dispatch: unrecognized command %q", st.raw.Name)
	}
}

func (d *Dispatcher) addEntity(h *query.Handler, st *cmdState) error {
	props, err := parseProperties(st.body.Properties)
	if err != nil {
		return err
	}
	var guard *query.QueryNodeParams
	if len(st.body.Constraints) > 0 {
		preds, err := parseConstraints(st.body.Constraints)
		if err != nil {
			return err
		}
		guard = &query.QueryNodeParams{Tag: st.body.Class, Constraints: preds, Unique: true}
	}
	res, err := h.AddNode(query.AddNodeParams{
		Ref: st.body.Ref, Tag: st.body.Class, Properties: props, Guard: guard,
	})
	if err != nil {
		return err
	}
	st.status, st.info = res.Status, res.Info
	return nil
}

func (d *Dispatcher) addConnection(h *query.Handler, st *cmdState) error {
	props, err := parseProperties(st.body.Properties)
	if err != nil {
		return err
	}
	res, err := h.AddEdge(query.AddEdgeParams{
		Ref: st.body.Ref, SrcRef: st.body.Ref1, DstRef: st.body.Ref2,
		Tag: st.body.Class, Properties: props,
	})
	if err != nil {
		return err
	}
	st.status, st.info = res.Status, res.Info
	return nil
}

// addMediaNode is the shared tail of AddImage/AddVideo/AddBlob: insert
// the node with the storage-linking internal properties and defer the
// store write to phase 2.
func (d *Dispatcher) addMediaNode(h *query.Handler, st *cmdState, tag, key, format string, data []byte) error {
	props, err := parseProperties(st.body.Properties)
	if err != nil {
		return err
	}
	if props == nil {
		props = make(pgraph.Properties, 2)
	}
	props[propPath] = cmn.StringValue(key)
	props[propFormat] = cmn.StringValue(format)
	res, err := h.AddNode(query.AddNodeParams{Ref: st.body.Ref, Tag: tag, Properties: props})
	if err != nil {
		return err
	}
	st.status, st.info = res.Status, res.Info
	st.puts = append(st.puts, pendingPut{key: key, data: data})
	return nil
}

func (d *Dispatcher) addImage(h *query.Handler, st *cmdState) error {
	format := common.Format(st.body.Format)
	if format == "" {
		format = common.FormatPNG
	}
	ops, err := parseOperations(st.body.Operations)
	if err != nil {
		return err
	}
	for _, op := range ops {
		if op.Kind == kindInterval {
			return cmn.NewErr(cmn.Error, "dispatch: interval is a video-only operation")
		}
	}
	img, err := d.runImagePipeline(st.inBlob, format, ops)
	if err != nil {
		return err
	}
	data, err := img.Encode(format)
	if err != nil {
		return err
	}
	key := store.KeyFor(string(format), data)
	return d.addMediaNode(h, st, cmn.TagImage, key, string(format), data)
}

func (d *Dispatcher) addVideo(h *query.Handler, st *cmdState) error {
	ops, err := parseOperations(st.body.Operations)
	if err != nil {
		return err
	}
	vid, err := d.runVideoPipeline(st.inBlob, ops)
	if err != nil {
		return err
	}
	defer vid.Cleanup()
	data, err := vid.Bytes()
	if err != nil {
		return err
	}
	key := store.KeyFor("video", data)
	return d.addMediaNode(h, st, cmn.TagVideo, key, "video", data)
}

func (d *Dispatcher) addBlob(h *query.Handler, st *cmdState) error {
	key := store.KeyFor("blob", st.inBlob)
	return d.addMediaNode(h, st, cmn.TagBlob, key, "blob", st.inBlob)
}

// updateNodeCmd covers UpdateImage/UpdateVideo/UpdateBlob: an update
// against either an existing ref or an embedded query on the tag.
func (d *Dispatcher) updateNodeCmd(h *query.Handler, st *cmdState, tag string) error {
	sets, err := parseProperties(st.body.Properties)
	if err != nil {
		return err
	}
	p := query.UpdateNodeParams{Set: sets, Remove: st.body.RemoveProps}
	if len(st.body.Constraints) > 0 || st.body.Ref == 0 {
		preds, err := parseConstraints(st.body.Constraints)
		if err != nil {
			return err
		}
		p.Query = &query.QueryNodeParams{Tag: tag, Constraints: preds}
	} else {
		p.Ref = st.body.Ref
	}
	res, err := h.UpdateNode(p)
	if err != nil {
		return err
	}
	st.status, st.info, st.updated = res.Status, res.Info, res.Count
	return nil
}

// findMedia covers FindImage/FindVideo/FindBlob: a QueryNode over the
// tag plus the phase-2 media bookkeeping for blob attachment.
func (d *Dispatcher) findMedia(h *query.Handler, st *cmdState, tag string) error {
	preds, err := parseConstraints(st.body.Constraints)
	if err != nil {
		return err
	}
	results := parseResults(st.body.Results)
	ops, err := parseOperations(st.body.Operations)
	if err != nil {
		return err
	}
	qres, err := h.QueryNode(query.QueryNodeParams{
		Ref: st.body.Ref, Tag: tag, Constraints: preds,
		Link: parseLink(st.body.Link), Results: results, Unique: st.body.Unique,
	})
	if err != nil {
		return err
	}
	st.qres = qres
	st.resultMode = results.Mode
	st.status, st.info = qres.Status, qres.Info
	st.ops = ops
	st.outFormat = common.Format(st.body.Format)
	st.wantBlob = results.Blob
	if qres.Status != cmn.Success || !st.wantBlob {
		return nil
	}
	for _, id := range qres.NodeIDs {
		n, ok := h.Txn.GetNode(id)
		if !ok {
			continue
		}
		key, kok := n.Get(propPath)
		format, fok := n.Get(propFormat)
		if !kok || !fok {
			return cmn.NewErr(cmn.Error, "dispatch: %s node %d carries no stored blob", tag, id)
		}
		st.media = append(st.media, mediaRef{key: key.Str, format: common.Format(format.Str)})
	}
	return nil
}

func (d *Dispatcher) addBoundingBox(h *query.Handler, st *cmdState, refs *refAllocator) error {
	props, err := parseProperties(st.body.Properties)
	if err != nil {
		return err
	}
	if props == nil {
		props = make(pgraph.Properties, 4)
	}
	r := st.body.Rectangle
	props["x"] = cmn.IntValue(int64(r.X))
	props["y"] = cmn.IntValue(int64(r.Y))
	props["w"] = cmn.IntValue(int64(r.W))
	props["h"] = cmn.IntValue(int64(r.H))

	nodeRef := st.body.Ref
	if nodeRef == 0 && st.body.Image != 0 {
		nodeRef = refs.alloc()
	}
	res, err := h.AddNode(query.AddNodeParams{Ref: nodeRef, Tag: cmn.TagRegion, Properties: props})
	if err != nil {
		return err
	}
	st.status, st.info = res.Status, res.Info
	if st.body.Image == 0 {
		return nil
	}
	eres, err := h.AddEdge(query.AddEdgeParams{
		SrcRef: st.body.Image, DstRef: nodeRef, Tag: cmn.EdgeTagImageLink,
	})
	if err != nil {
		return err
	}
	if eres.Status != cmn.Success {
		st.status, st.info = eres.Status, eres.Info
	}
	return nil
}

func (d *Dispatcher) updateBoundingBox(h *query.Handler, st *cmdState) error {
	sets, err := parseProperties(st.body.Properties)
	if err != nil {
		return err
	}
	if r := st.body.Rectangle; r != nil {
		if sets == nil {
			sets = make(pgraph.Properties, 4)
		}
		sets["x"] = cmn.IntValue(int64(r.X))
		sets["y"] = cmn.IntValue(int64(r.Y))
		sets["w"] = cmn.IntValue(int64(r.W))
		sets["h"] = cmn.IntValue(int64(r.H))
	}
	p := query.UpdateNodeParams{Set: sets, Remove: st.body.RemoveProps}
	if len(st.body.Constraints) > 0 || st.body.Ref == 0 {
		preds, err := parseConstraints(st.body.Constraints)
		if err != nil {
			return err
		}
		p.Query = &query.QueryNodeParams{Tag: cmn.TagRegion, Constraints: preds}
	} else {
		p.Ref = st.body.Ref
	}
	res, err := h.UpdateNode(p)
	if err != nil {
		return err
	}
	st.status, st.info, st.updated = res.Status, res.Info, res.Count
	return nil
}

// findBoundingBox runs the region query, applies the optional search-
// rectangle containment filter, shapes rows with their `_coordinates`,
// and records the implicit parent-image lookups blob attachment needs.
func (d *Dispatcher) findBoundingBox(h *query.Handler, st *cmdState) error {
	preds, err := parseConstraints(st.body.Constraints)
	if err != nil {
		return err
	}
	results := parseResults(st.body.Results)
	shaped := results
	shaped.Mode = cmn.ResultNodeID
	qres, err := h.QueryNode(query.QueryNodeParams{
		Ref: st.body.Ref, Tag: cmn.TagRegion, Constraints: preds,
		Link: parseLink(st.body.Link), Results: shaped, Unique: st.body.Unique,
	})
	if err != nil {
		return err
	}
	st.status, st.info = qres.Status, qres.Info
	st.wantBlob = results.Blob
	if qres.Status != cmn.Success {
		return nil
	}

	for _, id := range qres.NodeIDs {
		n, ok := h.Txn.GetNode(id)
		if !ok {
			continue
		}
		bbox, ok := regionRect(n)
		if !ok {
			continue
		}
		if sr := st.body.Rectangle; sr != nil && !containedIn(bbox, sr) {
			continue
		}
		row := rowToJSON(projectRow(n, results.List))
		row["_coordinates"] = map[string]any{
			"x": bbox.X, "y": bbox.Y, "w": bbox.Width, "h": bbox.Height,
		}
		st.rows = append(st.rows, row)

		if !st.wantBlob {
			continue
		}
		imgNode, err := d.parentImage(h, id)
		if err != nil {
			return err
		}
		if imgNode == nil {
			continue
		}
		key, kok := imgNode.Get(propPath)
		format, fok := imgNode.Get(propFormat)
		if !kok || !fok {
			continue
		}
		rect := bbox
		st.media = append(st.media, mediaRef{key: key.Str, format: common.Format(format.Str), rect: &rect})
	}
	if len(st.rows) == 0 {
		st.status = cmn.Empty
	}
	return nil
}

// parentImage resolves the image a region hangs off via its typed edge.
func (d *Dispatcher) parentImage(h *query.Handler, region pgraph.ID) (*pgraph.Node, error) {
	neighbors, err := h.Txn.Neighbors([]pgraph.ID{region}, pgraph.DirAny, cmn.EdgeTagImageLink, nil, false)
	if err != nil {
		return nil, err
	}
	for _, nid := range neighbors {
		if n, ok := h.Txn.GetNode(nid); ok && n.Tag == cmn.TagImage {
			return n, nil
		}
	}
	return nil, nil
}

func regionRect(n *pgraph.Node) (common.Rectangle, bool) {
	x, okx := n.Get("x")
	y, oky := n.Get("y")
	w, okw := n.Get("w")
	hh, okh := n.Get("h")
	if !okx || !oky || !okw || !okh {
		return common.Rectangle{}, false
	}
	return common.Rectangle{X: int(x.Int), Y: int(y.Int), Width: int(w.Int), Height: int(hh.Int)}, true
}

func containedIn(b common.Rectangle, sr *rectBody) bool {
	return b.X >= sr.X && b.Y >= sr.Y &&
		b.X+b.Width <= sr.X+sr.W && b.Y+b.Height <= sr.Y+sr.H
}

func projectRow(n *pgraph.Node, keys []string) query.Row {
	row := make(query.Row)
	if len(keys) == 0 {
		for k, v := range n.Properties {
			if v.Kind != cmn.KindBlob && (len(k) == 0 || k[0] != '_') {
				row[k] = v
			}
		}
		return row
	}
	for _, k := range keys {
		if v, ok := n.Get(k); ok && v.Kind != cmn.KindBlob {
			row[k] = v
		}
	}
	return row
}

func (d *Dispatcher) addDescriptorSet(h *query.Handler, st *cmdState) error {
	props, err := parseProperties(st.body.Properties)
	if err != nil {
		return err
	}
	if props == nil {
		props = make(pgraph.Properties, 2)
	}
	props["name"] = cmn.StringValue(st.body.Name)
	props["dimensions"] = cmn.IntValue(int64(st.body.Dimensions))
	guard := &query.QueryNodeParams{
		Tag: cmn.TagDescriptorSet,
		Constraints: pgraph.Predicates{{
			Key: "name", Op1: cmn.OpEQ, V1: cmn.StringValue(st.body.Name),
		}},
		Unique: true,
	}
	res, err := h.AddNode(query.AddNodeParams{
		Ref: st.body.Ref, Tag: cmn.TagDescriptorSet, Properties: props, Guard: guard,
	})
	if err != nil {
		return err
	}
	st.status, st.info = res.Status, res.Info
	return nil
}

// findSet captures a descriptor set's node under a fresh internal ref and
// returns its id, shared by the three descriptor commands.
func (d *Dispatcher) findSet(h *query.Handler, name string, refs *refAllocator) (int, pgraph.ID, error) {
	setRef := refs.alloc()
	qres, err := h.QueryNode(query.QueryNodeParams{
		Ref: setRef, Tag: cmn.TagDescriptorSet,
		Constraints: pgraph.Predicates{{Key: "name", Op1: cmn.OpEQ, V1: cmn.StringValue(name)}},
		Results:     query.ResultParams{Mode: cmn.ResultNodeID},
		Unique:      true,
	})
	if err != nil {
		return 0, 0, err
	}
	if qres.Status != cmn.Success || len(qres.NodeIDs) != 1 {
		return 0, 0, cmn.NewErr(cmn.Error, "dispatch: descriptor set %q not found", name)
	}
	return setRef, qres.NodeIDs[0], nil
}

func (d *Dispatcher) addDescriptor(h *query.Handler, st *cmdState, refs *refAllocator) error {
	setRef, setID, err := d.findSet(h, st.body.Set, refs)
	if err != nil {
		return err
	}
	setNode, _ := h.Txn.GetNode(setID)
	dims, ok := setNode.Get("dimensions")
	if !ok {
		return cmn.NewErr(cmn.Error, "dispatch: descriptor set %q has no dimensions", st.body.Set)
	}
	if int64(len(st.inBlob)) != dims.Int*4 {
		return cmn.NewErr(cmn.Error, "dispatch: descriptor blob is %d bytes, want %d (dim %d x float32)",
			len(st.inBlob), dims.Int*4, dims.Int)
	}

	props, err := parseProperties(st.body.Properties)
	if err != nil {
		return err
	}
	if props == nil {
		props = make(pgraph.Properties, 3)
	}
	key := store.KeyFor("descriptor", st.inBlob)
	props["label"] = cmn.StringValue(st.body.Label)
	props[propPath] = cmn.StringValue(key)
	props[propFormat] = cmn.StringValue("descriptor")

	nodeRef := st.body.Ref
	if nodeRef == 0 {
		nodeRef = refs.alloc()
	}
	res, err := h.AddNode(query.AddNodeParams{Ref: nodeRef, Tag: cmn.TagDescriptor, Properties: props})
	if err != nil {
		return err
	}
	if _, err := h.AddEdge(query.AddEdgeParams{
		SrcRef: setRef, DstRef: nodeRef, Tag: cmn.EdgeTagDescriptorLink,
	}); err != nil {
		return err
	}
	st.status, st.info = res.Status, res.Info
	st.puts = append(st.puts, pendingPut{key: key, data: st.inBlob})
	return nil
}

func (d *Dispatcher) findDescriptor(h *query.Handler, st *cmdState, refs *refAllocator) error {
	setRef, _, err := d.findSet(h, st.body.Set, refs)
	if err != nil {
		return err
	}
	preds, err := parseConstraints(st.body.Constraints)
	if err != nil {
		return err
	}
	results := parseResults(st.body.Results)
	qres, err := h.QueryNode(query.QueryNodeParams{
		Ref: st.body.Ref, Tag: cmn.TagDescriptor, Constraints: preds,
		Link:    &query.LinkParams{Ref: setRef, Class: cmn.EdgeTagDescriptorLink, Direction: cmn.DirOut},
		Results: results, Unique: st.body.Unique,
	})
	if err != nil {
		return err
	}
	st.qres = qres
	st.resultMode = results.Mode
	st.status, st.info = qres.Status, qres.Info
	st.wantBlob = results.Blob
	if qres.Status != cmn.Success || !st.wantBlob {
		return nil
	}
	for _, id := range qres.NodeIDs {
		n, ok := h.Txn.GetNode(id)
		if !ok {
			continue
		}
		if key, kok := n.Get(propPath); kok {
			st.media = append(st.media, mediaRef{key: key.Str, format: "descriptor"})
		}
	}
	return nil
}

func (d *Dispatcher) classifyDescriptor(h *query.Handler, st *cmdState, refs *refAllocator) error {
	setRef, setID, err := d.findSet(h, st.body.Set, refs)
	if err != nil {
		return err
	}
	setNode, _ := h.Txn.GetNode(setID)
	dims, _ := setNode.Get("dimensions")
	if int64(len(st.inBlob)) != dims.Int*4 {
		return cmn.NewErr(cmn.Error, "dispatch: query descriptor is %d bytes, want %d", len(st.inBlob), dims.Int*4)
	}
	qres, err := h.QueryNode(query.QueryNodeParams{
		Tag:     cmn.TagDescriptor,
		Link:    &query.LinkParams{Ref: setRef, Class: cmn.EdgeTagDescriptorLink, Direction: cmn.DirOut},
		Results: query.ResultParams{Mode: cmn.ResultNodeID},
	})
	if err != nil {
		return err
	}
	if qres.Status != cmn.Success {
		st.status = cmn.Empty
		st.info = "dispatch: descriptor set is empty"
		return nil
	}
	for _, id := range qres.NodeIDs {
		n, ok := h.Txn.GetNode(id)
		if !ok {
			continue
		}
		key, kok := n.Get(propPath)
		label, lok := n.Get("label")
		if !kok || !lok {
			continue
		}
		st.descs = append(st.descs, descRef{key: key.Str, label: label.Str})
	}
	st.queryVec = st.inBlob
	st.kNeighbors = st.body.KNeighbors
	st.dimensions = int(dims.Int)
	return nil
}

// constructResponse is phase 2 for one command: build the JSON body,
// perform deferred store writes, drive the media pipelines, and return
// the blobs to attach in order.
func (d *Dispatcher) constructResponse(st *cmdState) (map[string]any, [][]byte) {
	body := map[string]any{"status": int(st.status)}
	if st.info != "" {
		body["info"] = st.info
	}

	for _, put := range st.puts {
		if err := d.blobs.Write(put.key, put.data); err != nil {
			e := cmn.AsErr(err)
			body["status"] = int(e.Status)
			body["info"] = e.Info
			return body, nil
		}
	}

	switch st.raw.Name {
	case cmn.CmdUpdateImage, cmn.CmdUpdateVideo, cmn.CmdUpdateBlob, cmn.CmdUpdateBoundingBox:
		body["count"] = st.updated
	case cmn.CmdFindImage, cmn.CmdFindVideo, cmn.CmdFindBlob, cmn.CmdFindDescriptor:
		d.shapeFindBody(st, body)
	case cmn.CmdFindBoundingBox:
		if st.status == cmn.Success {
			body["entities"] = st.rows
			body["returned"] = len(st.rows)
		}
	case cmn.CmdClassifyDescriptor:
		if st.status == cmn.Success {
			label, err := d.classify(st)
			if err != nil {
				e := cmn.AsErr(err)
				body["status"] = int(e.Status)
				body["info"] = e.Info
				return body, nil
			}
			body["label"] = label
		}
	}

	if st.status != cmn.Success || !st.wantBlob || len(st.media) == 0 {
		return body, nil
	}
	blobs, err := d.attachBlobs(st)
	if err != nil {
		e := cmn.AsErr(err)
		body["status"] = int(e.Status)
		body["info"] = e.Info
		return body, nil
	}
	return body, blobs
}

func (d *Dispatcher) shapeFindBody(st *cmdState, body map[string]any) {
	if st.status != cmn.Success {
		return
	}
	q := st.qres
	switch st.resultMode {
	case cmn.ResultCount:
		body["count"] = q.Count
	case cmn.ResultSum:
		body["sum"] = q.Sum
	case cmn.ResultAverage:
		body["average"] = q.Average
	default:
		rows := make([]map[string]any, 0, len(q.Rows))
		for _, r := range q.Rows {
			rows = append(rows, rowToJSON(r))
		}
		body["entities"] = rows
		body["returned"] = len(rows)
	}
}

// attachBlobs crawls the command's media refs and runs each pipeline to
// completion, returning encoded payloads in row order.
func (d *Dispatcher) attachBlobs(st *cmdState) ([][]byte, error) {
	switch st.raw.Name {
	case cmn.CmdFindBlob, cmn.CmdFindDescriptor:
		// Raw payloads: no pipeline, just the stored bytes.
		out := make([][]byte, 0, len(st.media))
		for _, m := range st.media {
			data, err := d.blobs.Read(m.key)
			if err != nil {
				return nil, err
			}
			out = append(out, data)
		}
		return out, nil
	case cmn.CmdFindVideo:
		return d.attachVideoBlobs(st)
	default:
		return d.attachImageBlobs(st)
	}
}

func (d *Dispatcher) attachImageBlobs(st *cmdState) ([][]byte, error) {
	objs := make([]evloop.Object, 0, len(st.media))
	for _, m := range st.media {
		data, err := d.blobs.Read(m.key)
		if err != nil {
			return nil, err
		}
		ops := st.ops
		if m.rect != nil {
			// Bounding-box attachment: crop to the region first, then any
			// requested operations.
			ops = append([]common.Operation{{Kind: common.KindCrop, Rect: *m.rect}}, ops...)
		}
		img, err := newLoadedImage(data, m.format, ops)
		if err != nil {
			return nil, err
		}
		objs = append(objs, img)
	}
	errs := d.driveAll(objs)
	out := make([][]byte, 0, len(objs))
	for _, o := range objs {
		if err := errs[o.ID()]; err != nil {
			return nil, err
		}
		io := o.(*imageObject)
		format := st.outFormat
		if format == "" {
			format = io.img.Format
		}
		data, err := io.img.Encode(format)
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, nil
}

func (d *Dispatcher) attachVideoBlobs(st *cmdState) ([][]byte, error) {
	out := make([][]byte, 0, len(st.media))
	for _, m := range st.media {
		data, err := d.blobs.Read(m.key)
		if err != nil {
			return nil, err
		}
		vid, err := d.runVideoPipeline(data, st.ops)
		if err != nil {
			return nil, err
		}
		final, err := vid.Bytes()
		vid.Cleanup()
		if err != nil {
			return nil, err
		}
		out = append(out, final)
	}
	return out, nil
}

// classify runs the nearest-neighbor vote over the set's stored vectors:
// k=1 returns the closest label, k>1 the majority among the k closest.
func (d *Dispatcher) classify(st *cmdState) (string, error) {
	if len(st.descs) == 0 {
		return "", cmn.NewErr(cmn.Empty, "dispatch: descriptor set has no descriptors")
	}
	qv := decodeVector(st.queryVec, st.dimensions)
	type scored struct {
		label string
		dist  float64
	}
	ranked := make([]scored, 0, len(st.descs))
	for _, dr := range st.descs {
		data, err := d.blobs.Read(dr.key)
		if err != nil {
			return "", err
		}
		dist := l2(qv, decodeVector(data, st.dimensions))
		ranked = append(ranked, scored{label: dr.label, dist: dist})
	}
	k := st.kNeighbors
	if k <= 0 {
		k = 1
	}
	if k > len(ranked) {
		k = len(ranked)
	}
	// Partial selection sort: k is small.
	for i := 0; i < k; i++ {
		min := i
		for j := i + 1; j < len(ranked); j++ {
			if ranked[j].dist < ranked[min].dist {
				min = j
			}
		}
		ranked[i], ranked[min] = ranked[min], ranked[i]
	}
	votes := make(map[string]int, k)
	best, bestN := ranked[0].label, 0
	for i := 0; i < k; i++ {
		votes[ranked[i].label]++
		if votes[ranked[i].label] > bestN {
			best, bestN = ranked[i].label, votes[ranked[i].label]
		}
	}
	return best, nil
}

func decodeVector(data []byte, dims int) []float32 {
	out := make([]float32, 0, dims)
	for i := 0; i+4 <= len(data); i += 4 {
		out = append(out, math.Float32frombits(binary.LittleEndian.Uint32(data[i:i+4])))
	}
	return out
}

func l2(a, b []float32) float64 {
	var sum float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}

// newLoadedImage builds a ready-to-drain image object for attachment.
func newLoadedImage(data []byte, format common.Format, ops []common.Operation) (*imageObject, error) {
	img, err := loadImage(data, format, ops)
	if err != nil {
		return nil, err
	}
	return newImageObject(img), nil
}
