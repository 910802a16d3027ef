package dispatch

import (
	"bytes"
	gimage "image"
	"image/color"
	"image/png"
	"math"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/require"

	"github.com/IntelLabs/vdms-go/internal/pgraph"
	"github.com/IntelLabs/vdms-go/internal/store"
	"github.com/IntelLabs/vdms-go/internal/wire"
)

func newDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	graph, err := pgraph.New(10)
	require.NoError(t, err)
	t.Cleanup(func() { _ = graph.Close() })
	root := t.TempDir()
	local, err := store.NewLocal(root)
	require.NoError(t, err)
	d, err := New(Options{Graph: graph, Blobs: local, TempDir: local.TempDir()})
	require.NoError(t, err)
	return d
}

func exec(t *testing.T, d *Dispatcher, batch string, blobs ...[]byte) ([]map[string]jsoniter.RawMessage, *wire.Frame) {
	t.Helper()
	resp := d.Execute(&wire.Frame{Json: batch, Blobs: blobs})
	var arr []map[string]jsoniter.RawMessage
	require.NoError(t, json.UnmarshalFromString(resp.Json, &arr))
	return arr, resp
}

func body(t *testing.T, arr []map[string]jsoniter.RawMessage, i int, name string) map[string]jsoniter.RawMessage {
	t.Helper()
	require.Greater(t, len(arr), i)
	raw, ok := arr[i][name]
	require.True(t, ok, "response %d should carry %s", i, name)
	var m map[string]jsoniter.RawMessage
	require.NoError(t, json.Unmarshal(raw, &m))
	return m
}

func intField(t *testing.T, m map[string]jsoniter.RawMessage, key string) int {
	t.Helper()
	var v int
	require.Contains(t, m, key)
	require.NoError(t, json.Unmarshal(m[key], &v))
	return v
}

func testPNG(t *testing.T, h, w int) []byte {
	t.Helper()
	img := gimage.NewNRGBA(gimage.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: uint8(x + y), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func decodePNG(t *testing.T, data []byte) gimage.Image {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img
}

// S1: add an entity and observe it committed.
func TestAddEntityCommits(t *testing.T) {
	d := newDispatcher(t)
	arr, _ := exec(t, d, `[
		{"AddEntity":{"_ref":1,"class":"Patient","properties":{"name":"Jane","age":70}}}
	]`)
	require.Len(t, arr, 1)
	require.Zero(t, intField(t, body(t, arr, 0, "AddEntity"), "status"))

	txn, err := d.graph.BeginRO()
	require.NoError(t, err)
	defer txn.Commit()
	it, err := txn.QueryNodes("Patient", nil)
	require.NoError(t, err)
	require.Equal(t, 1, it.Len())
	n, _ := it.Next()
	name, _ := n.Get("name")
	require.Equal(t, "Jane", name.Str)
	age, _ := n.Get("age")
	require.EqualValues(t, 70, age.Int)
}

func TestAddEntityGuardExists(t *testing.T) {
	d := newDispatcher(t)
	exec(t, d, `[{"AddEntity":{"class":"P","properties":{"name":"x"}}}]`)
	arr, _ := exec(t, d, `[
		{"AddEntity":{"class":"P","properties":{"name":"x"},"constraints":{"name":["==","x"]}}}
	]`)
	require.Equal(t, 2, intField(t, body(t, arr, 0, "AddEntity"), "status")) // Exists
}

// S2/S3: AddImage with a crop pipeline, then FindImage with resize.
func TestImageStoreAndFind(t *testing.T) {
	d := newDispatcher(t)

	arr, _ := exec(t, d, `[
		{"AddImage":{"_ref":1,"format":"png",
			"operations":[{"type":"crop","x":0,"y":0,"width":150,"height":150}],
			"properties":{"tag":"test"}}}
	]`, testPNG(t, 200, 200))
	require.Zero(t, intField(t, body(t, arr, 0, "AddImage"), "status"))

	arr, resp := exec(t, d, `[
		{"FindImage":{"constraints":{"tag":["==","test"]},
			"operations":[{"type":"resize","height":100,"width":100}],
			"format":"png"}}
	]`)
	fb := body(t, arr, 0, "FindImage")
	require.Zero(t, intField(t, fb, "status"))
	require.Equal(t, 1, intField(t, fb, "returned"))
	require.Len(t, resp.Blobs, 1)
	img := decodePNG(t, resp.Blobs[0])
	require.Equal(t, 100, img.Bounds().Dx())
	require.Equal(t, 100, img.Bounds().Dy())
}

func TestFindImageStoredCropApplied(t *testing.T) {
	d := newDispatcher(t)
	exec(t, d, `[
		{"AddImage":{"format":"png",
			"operations":[{"type":"crop","x":0,"y":0,"width":150,"height":150}],
			"properties":{"tag":"cropped"}}}
	]`, testPNG(t, 200, 200))

	// No further ops: the stored blob itself must already be 150x150 (S2).
	arr, resp := exec(t, d, `[
		{"FindImage":{"constraints":{"tag":["==","cropped"]}}}
	]`)
	require.Zero(t, intField(t, body(t, arr, 0, "FindImage"), "status"))
	require.Len(t, resp.Blobs, 1)
	img := decodePNG(t, resp.Blobs[0])
	require.Equal(t, 150, img.Bounds().Dx())
	require.Equal(t, 150, img.Bounds().Dy())
}

// S4: _ref reuse aborts the batch and leaves the graph unchanged.
func TestRefReuseAbortsBatch(t *testing.T) {
	d := newDispatcher(t)
	arr, _ := exec(t, d, `[
		{"AddEntity":{"_ref":1,"class":"A"}},
		{"AddEntity":{"_ref":1,"class":"A"}}
	]`)
	require.Len(t, arr, 2)
	require.Empty(t, arr[0])
	eb := body(t, arr, 1, "AddEntity")
	require.Equal(t, -1, intField(t, eb, "status"))
	var info string
	require.NoError(t, json.Unmarshal(eb["info"], &info))
	require.Contains(t, info, "_ref")

	// Post-state equals pre-state: no "A" node exists.
	txn, err := d.graph.BeginRO()
	require.NoError(t, err)
	defer txn.Commit()
	it, err := txn.QueryNodes("A", nil)
	require.NoError(t, err)
	require.Zero(t, it.Len())
}

// S5: FindBoundingBox with image crop.
func TestFindBoundingBoxWithBlob(t *testing.T) {
	d := newDispatcher(t)
	exec(t, d, `[
		{"AddImage":{"_ref":1,"format":"png","properties":{"name":"scene"}}},
		{"AddBoundingBox":{"image":1,"rectangle":{"x":100,"y":100,"w":100,"h":100}}}
	]`, testPNG(t, 300, 300))

	arr, resp := exec(t, d, `[
		{"FindBoundingBox":{"results":{"blob":true},"rectangle":{"x":0,"y":0,"w":200,"h":200}}}
	]`)
	fb := body(t, arr, 0, "FindBoundingBox")
	require.Zero(t, intField(t, fb, "status"))
	require.Equal(t, 1, intField(t, fb, "returned"))

	var entities []map[string]jsoniter.RawMessage
	require.NoError(t, json.Unmarshal(fb["entities"], &entities))
	require.Len(t, entities, 1)
	require.Contains(t, entities[0], "_coordinates")

	require.Len(t, resp.Blobs, 1)
	img := decodePNG(t, resp.Blobs[0])
	require.Equal(t, 100, img.Bounds().Dx())
	require.Equal(t, 100, img.Bounds().Dy())
}

func TestFindBoundingBoxOutsideSearchRect(t *testing.T) {
	d := newDispatcher(t)
	exec(t, d, `[
		{"AddImage":{"_ref":1,"format":"png"}},
		{"AddBoundingBox":{"image":1,"rectangle":{"x":100,"y":100,"w":100,"h":100}}}
	]`, testPNG(t, 300, 300))

	arr, resp := exec(t, d, `[
		{"FindBoundingBox":{"rectangle":{"x":0,"y":0,"w":50,"h":50}}}
	]`)
	fb := body(t, arr, 0, "FindBoundingBox")
	require.Equal(t, 1, intField(t, fb, "status")) // Empty
	require.Empty(t, resp.Blobs)
}

// S6: AddConnection against unknown refs aborts the batch.
func TestAddConnectionUnknownRefsAborts(t *testing.T) {
	d := newDispatcher(t)
	arr, _ := exec(t, d, `[
		{"AddConnection":{"ref1":99,"ref2":100,"class":"Related"}}
	]`)
	require.Len(t, arr, 1)
	eb := body(t, arr, 0, "AddConnection")
	require.Equal(t, -1, intField(t, eb, "status"))
}

func TestSchemaValidationAggregatesErrors(t *testing.T) {
	d := newDispatcher(t)
	arr, _ := exec(t, d, `[
		{"AddEntity":{"properties":{}}},
		{"NoSuchCommand":{}}
	]`)
	require.Len(t, arr, 1)
	eb := body(t, arr, 0, "AddEntity")
	require.Equal(t, -1, intField(t, eb, "status"))
	var info string
	require.NoError(t, json.Unmarshal(eb["info"], &info))
	require.Contains(t, info, "command 0")
	require.Contains(t, info, "command 1")
}

func TestConstraintArityRejected(t *testing.T) {
	d := newDispatcher(t)
	arr, _ := exec(t, d, `[
		{"FindImage":{"constraints":{"tag":["==","a",">="]}}}
	]`)
	eb := body(t, arr, 0, "FindImage")
	require.Equal(t, -1, intField(t, eb, "status"))
}

// Blob-count mismatch is a hard error in all cases.
func TestBlobCountMismatch(t *testing.T) {
	d := newDispatcher(t)

	arr, _ := exec(t, d, `[{"AddImage":{"format":"png"}}]`) // needs 1, has 0
	require.Equal(t, -1, intField(t, body(t, arr, 0, "AddImage"), "status"))

	arr, _ = exec(t, d, `[{"AddEntity":{"class":"A"}}]`, []byte("stray")) // needs 0, has 1
	require.Equal(t, -1, intField(t, body(t, arr, 0, "AddEntity"), "status"))
}

func TestUpdateImageCount(t *testing.T) {
	d := newDispatcher(t)
	exec(t, d, `[
		{"AddImage":{"format":"png","properties":{"tag":"u"}}}
	]`, testPNG(t, 20, 20))

	arr, _ := exec(t, d, `[
		{"UpdateImage":{"constraints":{"tag":["==","u"]},"properties":{"seen":true}}}
	]`)
	ub := body(t, arr, 0, "UpdateImage")
	require.Zero(t, intField(t, ub, "status"))
	require.Equal(t, 1, intField(t, ub, "count"))
}

func TestAddBlobFindBlobRoundTrip(t *testing.T) {
	d := newDispatcher(t)
	payload := []byte("opaque bytes")
	arr, _ := exec(t, d, `[
		{"AddBlob":{"properties":{"kind":"model"}}}
	]`, payload)
	require.Zero(t, intField(t, body(t, arr, 0, "AddBlob"), "status"))

	arr, resp := exec(t, d, `[
		{"FindBlob":{"constraints":{"kind":["==","model"]}}}
	]`)
	require.Zero(t, intField(t, body(t, arr, 0, "FindBlob"), "status"))
	require.Len(t, resp.Blobs, 1)
	require.Equal(t, payload, resp.Blobs[0])
}

func TestDescriptorFlow(t *testing.T) {
	d := newDispatcher(t)

	arr, _ := exec(t, d, `[
		{"AddDescriptorSet":{"name":"faces","dimensions":2}}
	]`)
	require.Zero(t, intField(t, body(t, arr, 0, "AddDescriptorSet"), "status"))

	vec := func(x, y float32) []byte {
		b := make([]byte, 8)
		writeF32 := func(off int, f float32) {
			bits := math.Float32bits(f)
			b[off] = byte(bits)
			b[off+1] = byte(bits >> 8)
			b[off+2] = byte(bits >> 16)
			b[off+3] = byte(bits >> 24)
		}
		writeF32(0, x)
		writeF32(4, y)
		return b
	}

	arr, _ = exec(t, d, `[
		{"AddDescriptor":{"set":"faces","label":"alice"}}
	]`, vec(0, 0))
	require.Zero(t, intField(t, body(t, arr, 0, "AddDescriptor"), "status"))

	arr, _ = exec(t, d, `[
		{"AddDescriptor":{"set":"faces","label":"bob"}}
	]`, vec(10, 10))
	require.Zero(t, intField(t, body(t, arr, 0, "AddDescriptor"), "status"))

	// Wrong dimensionality is rejected.
	arr, _ = exec(t, d, `[
		{"AddDescriptor":{"set":"faces","label":"bad"}}
	]`, []byte{1, 2, 3})
	require.Equal(t, -1, intField(t, body(t, arr, 0, "AddDescriptor"), "status"))

	arr, _ = exec(t, d, `[
		{"ClassifyDescriptor":{"set":"faces"}}
	]`, vec(1, 1))
	cb := body(t, arr, 0, "ClassifyDescriptor")
	require.Zero(t, intField(t, cb, "status"))
	var label string
	require.NoError(t, json.Unmarshal(cb["label"], &label))
	require.Equal(t, "alice", label)

	arr, resp := exec(t, d, `[
		{"FindDescriptor":{"set":"faces","constraints":{"label":["==","bob"]}}}
	]`)
	fb := body(t, arr, 0, "FindDescriptor")
	require.Zero(t, intField(t, fb, "status"))
	require.Equal(t, 1, intField(t, fb, "returned"))
	require.Len(t, resp.Blobs, 1)
	require.Equal(t, vec(10, 10), resp.Blobs[0])
}

func TestInternalKeysHiddenFromProjection(t *testing.T) {
	d := newDispatcher(t)
	exec(t, d, `[
		{"AddImage":{"format":"png","properties":{"tag":"h"}}}
	]`, testPNG(t, 10, 10))

	arr, _ := exec(t, d, `[
		{"FindImage":{"constraints":{"tag":["==","h"]},"results":{"blob":false}}}
	]`)
	fb := body(t, arr, 0, "FindImage")
	var entities []map[string]jsoniter.RawMessage
	require.NoError(t, json.Unmarshal(fb["entities"], &entities))
	require.Len(t, entities, 1)
	require.NotContains(t, entities[0], "_path")
	require.NotContains(t, entities[0], "_format")
	require.Contains(t, entities[0], "tag")
}
