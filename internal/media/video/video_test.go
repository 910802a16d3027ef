package video

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/IntelLabs/vdms-go/internal/media/common"
)

// testStream synthesizes a frame stream where frame i is filled with
// byte value i+1, so window operations are easy to verify.
func testStream(frames, h, w, c int, fps float64) []byte {
	meta := Container{FrameCount: frames, FPS: fps, Height: h, Width: w, Channels: c}
	fs := make([][]uint8, frames)
	for i := range fs {
		f := make([]uint8, h*w*c)
		for j := range f {
			f[j] = uint8(i + 1)
		}
		fs[i] = f
	}
	return encode(meta, fs)
}

func TestLoadSniffsContainer(t *testing.T) {
	v := New(t.TempDir())
	require.NoError(t, v.Load(testStream(10, 4, 4, 1, 25)))
	require.Equal(t, 10, v.Meta.FrameCount)
	require.Equal(t, 25.0, v.Meta.FPS)
	require.InDelta(t, 0.4, v.Meta.Duration(), 1e-9)
	require.NotEmpty(t, v.OperatedPath())
}

func TestLoadRejectsGarbage(t *testing.T) {
	v := New(t.TempDir())
	require.Error(t, v.Load([]byte("not a container")))

	data := testStream(4, 4, 4, 1, 25)
	require.Error(t, v.Load(data[:len(data)-1]))
}

func TestThresholdWindowByFrame(t *testing.T) {
	v := New(t.TempDir())
	require.NoError(t, v.Load(testStream(6, 2, 2, 1, 10)))
	defer v.Cleanup()

	// Zero frames 0 and 1 only (their fill values 1,2 are <= 2).
	require.NoError(t, v.Enqueue(common.Operation{Kind: common.KindThreshold, Value: 2, Start: 0, Stop: 2}))
	op, err := v.Drain()
	require.NoError(t, err)
	require.Nil(t, op)

	data, err := v.Bytes()
	require.NoError(t, err)
	meta, err := sniff(data)
	require.NoError(t, err)
	require.Equal(t, 6, meta.FrameCount)
	frameLen := 2 * 2
	require.Equal(t, uint8(0), data[vidHeaderLen])            // frame 0 zeroed
	require.Equal(t, uint8(0), data[vidHeaderLen+frameLen])   // frame 1 zeroed
	require.Equal(t, uint8(3), data[vidHeaderLen+2*frameLen]) // frame 2 untouched
}

func TestThresholdWindowByTime(t *testing.T) {
	v := New(t.TempDir())
	require.NoError(t, v.Load(testStream(10, 2, 2, 1, 10)))
	defer v.Cleanup()

	// 0.0s-0.35s at 10fps = frames 0..2.
	require.NoError(t, v.Enqueue(common.Operation{Kind: common.KindThreshold, Value: 100, Start: 0, Stop: 0.35, ByTime: true}))
	_, err := v.Drain()
	require.NoError(t, err)

	data, err := v.Bytes()
	require.NoError(t, err)
	frameLen := 2 * 2
	require.Equal(t, uint8(0), data[vidHeaderLen+2*frameLen])
	require.Equal(t, uint8(4), data[vidHeaderLen+3*frameLen])
}

func TestResizeWholeStream(t *testing.T) {
	v := New(t.TempDir())
	require.NoError(t, v.Load(testStream(4, 8, 8, 3, 10)))
	defer v.Cleanup()

	require.NoError(t, v.Enqueue(common.Operation{Kind: common.KindResize, Height: 4, Width: 4}))
	_, err := v.Drain()
	require.NoError(t, err)
	require.Equal(t, 4, v.Meta.Height)
	require.Equal(t, 4, v.Meta.Width)
	require.Equal(t, 4, v.Meta.FrameCount)
}

func TestGeometryRejectsPartialWindow(t *testing.T) {
	v := New(t.TempDir())
	require.NoError(t, v.Load(testStream(10, 8, 8, 1, 10)))
	defer v.Cleanup()

	require.NoError(t, v.Enqueue(common.Operation{Kind: common.KindCrop, Rect: common.Rectangle{X: 0, Y: 0, Width: 4, Height: 4}, Start: 2, Stop: 5}))
	_, err := v.Drain()
	require.Error(t, err)
}

func TestInterval(t *testing.T) {
	v := New(t.TempDir())
	require.NoError(t, v.Load(testStream(10, 2, 2, 1, 10)))
	defer v.Cleanup()

	require.NoError(t, v.Interval(3, 7))
	require.Equal(t, 4, v.Meta.FrameCount)
	data, err := v.Bytes()
	require.NoError(t, err)
	require.Equal(t, uint8(4), data[vidHeaderLen]) // first kept frame was index 3

	require.Error(t, v.Interval(5, 3))
}

func TestFlipRotateNotImplemented(t *testing.T) {
	v := New(t.TempDir())
	require.Error(t, v.Enqueue(common.Operation{Kind: common.KindFlip}))
	require.Error(t, v.Enqueue(common.Operation{Kind: common.KindRotate}))
}

func TestRemoteHandoffAndRollback(t *testing.T) {
	v := New(t.TempDir())
	require.NoError(t, v.Load(testStream(4, 2, 2, 1, 10)))
	defer v.Cleanup()

	require.NoError(t, v.Enqueue(common.Operation{Kind: common.KindRemoteOp, URL: "http://example/op"}))
	require.True(t, v.HasRemote())
	op, err := v.Drain()
	require.NoError(t, err)
	require.NotNil(t, op)
	require.Equal(t, common.KindRemoteOp, op.Kind)

	before := v.OperatedPath()
	require.Error(t, v.ApplyRemoteResult([]byte("garbage")))
	require.Equal(t, before, v.OperatedPath())

	require.NoError(t, v.ApplyRemoteResult(testStream(2, 2, 2, 1, 10)))
	require.Equal(t, 2, v.Meta.FrameCount)
	require.NotEqual(t, before, v.OperatedPath())
}

func TestCleanupRemovesTemps(t *testing.T) {
	dir := t.TempDir()
	v := New(dir)
	require.NoError(t, v.Load(testStream(4, 2, 2, 1, 10)))
	require.NoError(t, v.Enqueue(common.Operation{Kind: common.KindThreshold, Value: 1}))
	_, err := v.Drain()
	require.NoError(t, err)

	v.Cleanup()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}
