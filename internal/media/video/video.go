// Package video implements the deferred video operation pipeline:
// the same lazy operation model as the image pipeline, but the working
// unit between operations is a temp file path rather than an in-memory
// matrix, operations carry frame/time windows, and remote stages upload
// the current working file and adopt the response as the next one.
/*
 * Copyright (c) 2018-2026, VDMS-Go Authors. All rights reserved.
 */
package video

import (
	"encoding/binary"
	"os"
	"path/filepath"

	"github.com/golang/glog"

	"github.com/IntelLabs/vdms-go/cmn"
	"github.com/IntelLabs/vdms-go/cmn/cos"
	"github.com/IntelLabs/vdms-go/internal/media/common"
	"github.com/IntelLabs/vdms-go/internal/media/tiledraw"
)

// Container holds the stream metadata the pipeline needs to validate
// frame/time windows: enough container awareness to bound operations,
// not to transcode.
type Container struct {
	FrameCount int
	FPS        float64
	Height     int
	Width      int
	Channels   int
}

// Duration returns the stream length in seconds.
func (c Container) Duration() float64 {
	if c.FPS <= 0 {
		return 0
	}
	return float64(c.FrameCount) / c.FPS
}

// Video is the in-process working state of one AddVideo/FindVideo's media
// object: container metadata, the current "operated video path"
// produced by local operations and carried into remote stages, a pending
// operation queue, and the temp files owed to end-of-batch cleanup.
type Video struct {
	Meta    Container
	Path    string // original on-disk or object key
	workDir string

	// operated is the current working file;
	// empty until the first operation materializes one.
	operated string

	pending []common.Operation
	done    int

	// temps accumulates every temp file this object created; Cleanup
	// unlinks them all at batch end.
	temps []string

	snapshot *snapshot
}

// snapshot is the pre-remote-op state: the operated path plus metadata.
// Restoring it is a field assignment, not a file copy - the prior temp
// file is still on disk until Cleanup.
type snapshot struct {
	operated string
	meta     Container
}

// New builds a Video working under tempDir for its intermediate files.
func New(tempDir string) *Video {
	return &Video{workDir: tempDir}
}

// vidMagic prefixes the interchange frame-stream format this pipeline
// reads and writes: a header (frame count, fps*1000, h, w, channels)
// followed by raw frames. Real container formats are an external
// concern; the pipeline only needs a working format that round-trips
// through temp files and remote stages.
const vidMagic = 0x56444d31 // "VDM1"

const vidHeaderLen = 6 * 4

// Load writes the incoming blob to a fresh temp file, sniffs the
// container header, and makes that file the current working path.
func (v *Video) Load(data []byte) error {
	meta, err := sniff(data)
	if err != nil {
		return err
	}
	v.Meta = meta
	path, err := v.newTemp()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return cmn.WrapErr(cmn.Exception, err, "video: writing working file %s", path)
	}
	v.operated = path
	return nil
}

func sniff(data []byte) (Container, error) {
	if len(data) < vidHeaderLen || binary.BigEndian.Uint32(data[0:4]) != vidMagic {
		return Container{}, cmn.NewErr(cmn.Exception, "video: unrecognized container")
	}
	c := Container{
		FrameCount: int(binary.BigEndian.Uint32(data[4:8])),
		FPS:        float64(binary.BigEndian.Uint32(data[8:12])) / 1000,
		Height:     int(binary.BigEndian.Uint32(data[12:16])),
		Width:      int(binary.BigEndian.Uint32(data[16:20])),
		Channels:   int(binary.BigEndian.Uint32(data[20:24])),
	}
	if c.FrameCount < 0 || c.Height <= 0 || c.Width <= 0 || (c.Channels != 1 && c.Channels != 3) {
		return Container{}, cmn.NewErr(cmn.Exception, "video: corrupt container header")
	}
	frameLen := c.Height * c.Width * c.Channels
	if len(data)-vidHeaderLen != c.FrameCount*frameLen {
		return Container{}, cmn.NewErr(cmn.Exception, "video: frame payload size mismatch")
	}
	return c, nil
}

func encode(meta Container, frames [][]uint8) []byte {
	frameLen := meta.Height * meta.Width * meta.Channels
	out := make([]byte, vidHeaderLen+len(frames)*frameLen)
	binary.BigEndian.PutUint32(out[0:4], vidMagic)
	binary.BigEndian.PutUint32(out[4:8], uint32(len(frames)))
	binary.BigEndian.PutUint32(out[8:12], uint32(meta.FPS*1000))
	binary.BigEndian.PutUint32(out[12:16], uint32(meta.Height))
	binary.BigEndian.PutUint32(out[16:20], uint32(meta.Width))
	binary.BigEndian.PutUint32(out[20:24], uint32(meta.Channels))
	off := vidHeaderLen
	for _, f := range frames {
		copy(out[off:], f)
		off += frameLen
	}
	return out
}

// Enqueue appends a deferred operation. Flip and rotate are not part of
// the video operation set; remote kinds are legal everywhere.
func (v *Video) Enqueue(op common.Operation) error {
	switch op.Kind {
	case common.KindFlip, common.KindRotate:
		return cmn.ErrNotImplemented(string(op.Kind), "video")
	}
	v.pending = append(v.pending, op)
	return nil
}

// HasRemote reports whether a remote-kind operation is still pending.
func (v *Video) HasRemote() bool {
	for _, op := range v.pending[v.done:] {
		if op.Kind.IsRemote() {
			return true
		}
	}
	return false
}

// Drain mirrors image.Drain: run local operations until the queue is
// empty or a remote op is next. On the remote case the snapshot has been
// taken and the returned operation is the one to hand to the event loop.
func (v *Video) Drain() (remote *common.Operation, err error) {
	for v.done < len(v.pending) {
		op := v.pending[v.done]
		if op.Kind.IsRemote() {
			v.snapshot = &snapshot{operated: v.operated, meta: v.Meta}
			v.done++
			return &op, nil
		}
		if err := v.applyLocal(op); err != nil {
			return nil, err
		}
		v.done++
	}
	return nil, nil
}

// OperatedPath returns the current working file, or the original path if
// no operation has produced one yet.
func (v *Video) OperatedPath() string {
	if v.operated != "" {
		return v.operated
	}
	return v.Path
}

// ApplyRemoteResult adopts a remote stage's response bytes as the next
// working file.
func (v *Video) ApplyRemoteResult(data []byte) error {
	meta, err := sniff(data)
	if err != nil {
		v.Rollback()
		return err
	}
	path, werr := v.newTemp()
	if werr != nil {
		v.Rollback()
		return werr
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		v.Rollback()
		return cmn.WrapErr(cmn.Exception, err, "video: writing remote result %s", path)
	}
	v.Meta = meta
	v.operated = path
	v.snapshot = nil
	return nil
}

// Rollback restores the pre-remote-op snapshot.
func (v *Video) Rollback() {
	if v.snapshot == nil {
		return
	}
	v.operated = v.snapshot.operated
	v.Meta = v.snapshot.meta
	v.snapshot = nil
}

// Bytes reads back the current working file.
func (v *Video) Bytes() ([]byte, error) {
	path := v.OperatedPath()
	if path == "" {
		return nil, cmn.NewErr(cmn.Error, "video: no working file")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, cmn.WrapErr(cmn.Exception, err, "video: reading working file %s", path)
	}
	return data, nil
}

// Cleanup unlinks every temp file this object created. Already-removed files are ignored: if two batches collide
// on a temp path the second wins and the first's cleanup is a no-op.
func (v *Video) Cleanup() {
	for _, p := range v.temps {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			glog.Errorf("video: removing temp %s: %v", p, err)
		}
	}
	v.temps = nil
	v.operated = ""
}

func (v *Video) newTemp() (string, error) {
	dir := v.workDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", cmn.WrapErr(cmn.Exception, err, "video: creating temp dir %s", dir)
	}
	name := filepath.Join(dir, "vid_"+cos.GenTie()+".vdm")
	v.temps = append(v.temps, name)
	return name, nil
}

// window converts an operation's (start, stop) bounds into a frame range,
// interpreting them as seconds when ByTime is set and frame indices
// otherwise. A zero window means the whole stream.
func (v *Video) window(op common.Operation) (lo, hi int, err error) {
	lo, hi = 0, v.Meta.FrameCount
	if op.Start == 0 && op.Stop == 0 {
		return lo, hi, nil
	}
	if op.ByTime {
		if v.Meta.FPS <= 0 {
			return 0, 0, cmn.NewErr(cmn.Error, "video: time window on a stream with unknown fps")
		}
		lo = int(op.Start * v.Meta.FPS)
		hi = int(op.Stop * v.Meta.FPS)
	} else {
		lo, hi = int(op.Start), int(op.Stop)
	}
	if hi == 0 || hi > v.Meta.FrameCount {
		hi = v.Meta.FrameCount
	}
	if lo < 0 || lo > hi {
		return 0, 0, cmn.NewErr(cmn.Error, "video: invalid frame window [%d,%d) for %d frames", lo, hi, v.Meta.FrameCount)
	}
	return lo, hi, nil
}

// applyLocal runs one non-remote operation: decode the working file,
// transform the frames inside the operation's window, and write a new
// working temp file.
func (v *Video) applyLocal(op common.Operation) error {
	switch op.Kind {
	case common.KindRead, common.KindWrite:
		return nil
	}
	data, err := v.Bytes()
	if err != nil {
		return err
	}
	meta, err := sniff(data)
	if err != nil {
		return err
	}
	lo, hi, err := v.window(op)
	if err != nil {
		return err
	}
	frameLen := meta.Height * meta.Width * meta.Channels
	frames := make([][]uint8, 0, meta.FrameCount)
	for i := 0; i < meta.FrameCount; i++ {
		off := vidHeaderLen + i*frameLen
		frames = append(frames, append([]uint8(nil), data[off:off+frameLen]...))
	}

	switch op.Kind {
	case common.KindCrop, common.KindResize:
		outMeta := meta
		for i := lo; i < hi && i < len(frames); i++ {
			m := tiledraw.PixelMatrix{Height: meta.Height, Width: meta.Width, Channels: meta.Channels, Data: frames[i]}
			if op.Kind == common.KindCrop {
				cropped, err := m.Crop(op.Rect.X, op.Rect.Y, op.Rect.Width, op.Rect.Height)
				if err != nil {
					return err
				}
				frames[i] = cropped.Data
				outMeta.Height, outMeta.Width = cropped.Height, cropped.Width
			} else {
				resized := m.BilinearResize(op.Height, op.Width)
				frames[i] = resized.Data
				outMeta.Height, outMeta.Width = resized.Height, resized.Width
			}
		}
		// Geometry ops must cover the whole stream: a container cannot
		// hold frames of two sizes.
		if lo != 0 || hi < meta.FrameCount {
			return cmn.NewErr(cmn.Error, "video: %s with a partial frame window is not supported", op.Kind)
		}
		meta = outMeta
	case common.KindThreshold:
		for i := lo; i < hi && i < len(frames); i++ {
			m := tiledraw.PixelMatrix{Height: meta.Height, Width: meta.Width, Channels: meta.Channels, Data: frames[i]}
			m.Threshold(op.Value)
		}
	default:
		return cmn.NewErr(cmn.Error, "video: unrecognized local operation %q", op.Kind)
	}

	path, err := v.newTemp()
	if err != nil {
		return err
	}
	meta.FrameCount = len(frames)
	if err := os.WriteFile(path, encode(meta, frames), 0o644); err != nil {
		return cmn.WrapErr(cmn.Exception, err, "video: writing working file %s", path)
	}
	v.operated = path
	v.Meta = meta
	return nil
}

// Interval trims the stream to the [lo,hi) frame window, used by the
// dispatcher's interval operation on FindVideo.
func (v *Video) Interval(lo, hi int) error {
	data, err := v.Bytes()
	if err != nil {
		return err
	}
	meta, err := sniff(data)
	if err != nil {
		return err
	}
	if lo < 0 || hi > meta.FrameCount || lo >= hi {
		return cmn.NewErr(cmn.Error, "video: invalid interval [%d,%d) for %d frames", lo, hi, meta.FrameCount)
	}
	frameLen := meta.Height * meta.Width * meta.Channels
	frames := make([][]uint8, 0, hi-lo)
	for i := lo; i < hi; i++ {
		off := vidHeaderLen + i*frameLen
		frames = append(frames, data[off:off+frameLen])
	}
	meta.FrameCount = len(frames)
	path, err := v.newTemp()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, encode(meta, frames), 0o644); err != nil {
		return cmn.WrapErr(cmn.Exception, err, "video: writing working file %s", path)
	}
	v.operated = path
	v.Meta = meta
	return nil
}
