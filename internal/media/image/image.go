// Package image implements the deferred image operation pipeline:
// a lazy queue of operations drained on demand, a format boundary between
// encoded (JPG/PNG), raw binary, and tiled-raw (TDB) representations, and
// the snapshot/rollback contract remote operations rely on.
/*
 * Copyright (c) 2018-2026, VDMS-Go Authors. All rights reserved.
 */
package image

import (
	"bytes"
	"image/jpeg"
	"image/png"

	"github.com/IntelLabs/vdms-go/cmn"
	"github.com/IntelLabs/vdms-go/internal/media/common"
	"github.com/IntelLabs/vdms-go/internal/media/tiledraw"
)

// Image is the in-process working state of one AddImage/FindImage's media
// object: dimensions, pixel type, format, an ordered pending-
// operation queue, and the completion counter the event loop advances.
type Image struct {
	Format   common.Format
	Height   int
	Width    int
	Channels int
	Path     string // on-disk or remote object key; blobs returned to clients carry none of this

	pending []common.Operation
	done    int // completion counter: index of the next operation to run

	pix tiledraw.PixelMatrix // decoded working buffer for JPG/PNG/BIN
	tdb *tiledraw.Tile       // populated when Format == FormatTDB

	snapshot *Image // pre-op deep copy taken at remote enqueue
}

// New builds an empty Image of the given format; Enqueue(Read) or Load
// populates its pixel data.
func New(format common.Format) *Image {
	return &Image{Format: format}
}

// Load decodes raw bytes according to the image's current format,
// populating dimensions, pixel type, and the working buffer. This is the
// non-deferred entry point a Read operation's step calls into.
func (img *Image) Load(data []byte) error {
	switch img.Format {
	case common.FormatJPG:
		decoded, err := jpeg.Decode(bytes.NewReader(data))
		if err != nil {
			return cmn.WrapErr(cmn.Exception, err, "image: decoding jpg (OpenCVError)")
		}
		img.pix = tiledraw.FromImage(decoded)
	case common.FormatPNG:
		decoded, err := png.Decode(bytes.NewReader(data))
		if err != nil {
			return cmn.WrapErr(cmn.Exception, err, "image: decoding png (OpenCVError)")
		}
		img.pix = tiledraw.FromImage(decoded)
	case common.FormatBIN:
		m, err := tiledraw.FromRaw(data)
		if err != nil {
			return err
		}
		img.pix = m
	case common.FormatTDB:
		t, err := tiledraw.Open(data)
		if err != nil {
			return err
		}
		img.tdb = t
		img.Height, img.Width, img.Channels = t.Height, t.Width, t.Channels
		return nil
	default:
		return cmn.NewErr(cmn.Error, "image: unrecognized format %q", img.Format)
	}
	img.Height, img.Width, img.Channels = img.pix.Height, img.pix.Width, img.pix.Channels
	return nil
}

// Enqueue appends an operation to the pending queue. Operations that
// are unsupported on the current format and detectable eagerly fail
// immediately; others are checked at execution time.
func (img *Image) Enqueue(op common.Operation) error {
	if img.Format == common.FormatTDB && (op.Kind == common.KindFlip || op.Kind == common.KindRotate) {
		return cmn.ErrNotImplemented(string(op.Kind), string(img.Format))
	}
	img.pending = append(img.pending, op)
	return nil
}

// HasRemote reports whether a remote-kind operation is still pending,
// which the event loop counts at batch start.
func (img *Image) HasRemote() bool {
	for _, op := range img.pending[img.done:] {
		if op.Kind.IsRemote() {
			return true
		}
	}
	return false
}

// StepResult reports what happened on one Drain step.
type StepResult int

const (
	StepLocalDone StepResult = iota // queue fully drained
	StepRemote                      // a remote op is next; caller must hand off to the event loop
)

// Drain executes queued operations until either the queue is empty or a
// remote-kind operation is next, which must be handed off to the event
// loop's remote queue instead of running inline. On StepRemote
// the returned *common.Operation is the remote op to perform; the image's
// snapshot has already been taken so a failed remote op can be rolled
// back.
func (img *Image) Drain() (StepResult, *common.Operation, error) {
	for img.done < len(img.pending) {
		op := img.pending[img.done]
		if op.Kind.IsRemote() {
			img.snapshot = img.clone()
			img.done++
			return StepRemote, &op, nil
		}
		if err := img.applyLocal(op); err != nil {
			return StepLocalDone, nil, err
		}
		img.done++
	}
	return StepLocalDone, nil, nil
}

// ApplyRemoteResult consumes a completed remote operation's response body
// as the new working image and clears the rollback snapshot. Callers
// continue draining afterward for any post-remote local ops.
func (img *Image) ApplyRemoteResult(data []byte, format common.Format) error {
	img.Format = format
	if err := img.Load(data); err != nil {
		img.Rollback()
		return err
	}
	img.snapshot = nil
	return nil
}

// Rollback restores the pre-operation snapshot taken at remote enqueue.
func (img *Image) Rollback() {
	if img.snapshot == nil {
		return
	}
	*img = *img.snapshot
	img.snapshot = nil
}

func (img *Image) clone() *Image {
	c := *img
	c.pix = img.pix.Clone()
	c.tdb = img.tdb.Clone()
	c.snapshot = nil
	return &c
}

// applyLocal executes one non-remote operation against the working
// buffer.
func (img *Image) applyLocal(op common.Operation) error {
	switch op.Kind {
	case common.KindRead:
		return nil // loading happens via Load before the queue is drained
	case common.KindWrite:
		return nil // persistence is the caller's responsibility via Encode + internal/store
	case common.KindResize:
		return img.resize(op.Height, op.Width)
	case common.KindCrop:
		return img.crop(op.Rect)
	case common.KindThreshold:
		return img.threshold(op.Value)
	case common.KindFlip:
		return img.flip(op.FlipCode)
	case common.KindRotate:
		return img.rotate(op.Angle, op.KeepSize)
	default:
		return cmn.NewErr(cmn.Error, "image: unrecognized local operation %q", op.Kind)
	}
}

func (img *Image) resize(h, w int) error {
	if img.Format == common.FormatTDB {
		if err := img.tdb.BilinearResize(h, w); err != nil {
			return err
		}
		img.Height, img.Width = img.tdb.Height, img.tdb.Width
		return nil
	}
	img.pix = img.pix.BilinearResize(h, w)
	img.Height, img.Width = h, w
	return nil
}

func (img *Image) crop(r common.Rectangle) error {
	if img.Format == common.FormatTDB {
		if err := img.tdb.Crop(r.X, r.Y, r.Width, r.Height); err != nil {
			return err
		}
		img.Height, img.Width = img.tdb.Height, img.tdb.Width
		return nil
	}
	cropped, err := img.pix.Crop(r.X, r.Y, r.Width, r.Height)
	if err != nil {
		return err
	}
	img.pix = cropped
	img.Height, img.Width = cropped.Height, cropped.Width
	return nil
}

func (img *Image) threshold(v float64) error {
	if img.Format == common.FormatTDB {
		img.tdb.Threshold(v)
		return nil
	}
	img.pix.Threshold(v)
	return nil
}

func (img *Image) flip(code int) error {
	if img.Format == common.FormatTDB {
		return cmn.ErrNotImplemented("flip", string(img.Format))
	}
	img.pix.Flip(code)
	return nil
}

func (img *Image) rotate(angle float64, keepSize bool) error {
	if img.Format == common.FormatTDB {
		return cmn.ErrNotImplemented("rotate", string(img.Format))
	}
	img.pix = img.pix.Rotate(angle, keepSize)
	img.Height, img.Width = img.pix.Height, img.pix.Width
	return nil
}

// Encode renders the working buffer into the requested output format
//. A tiled-raw source encoded to an image format
// defaults to PNG (lossless); callers that pass FormatJPG/PNG
// explicitly get that format instead.
func (img *Image) Encode(format common.Format) ([]byte, error) {
	if img.Format == common.FormatTDB {
		if format == common.FormatTDB {
			return img.tdb.Serialize(), nil
		}
		mat, err := img.tdb.ToPixelMatrix()
		if err != nil {
			return nil, err
		}
		return encodeMatrix(mat, chooseEncodeFormat(format))
	}
	return encodeMatrix(img.pix, format)
}

func chooseEncodeFormat(requested common.Format) common.Format {
	if requested == "" || requested == common.FormatTDB {
		return common.FormatPNG
	}
	return requested
}

func encodeMatrix(m tiledraw.PixelMatrix, format common.Format) ([]byte, error) {
	goImg := m.ToImage()
	var buf bytes.Buffer
	switch format {
	case common.FormatJPG:
		if err := jpeg.Encode(&buf, goImg, &jpeg.Options{Quality: 95}); err != nil {
			return nil, cmn.WrapErr(cmn.Exception, err, "image: encoding jpg")
		}
	case common.FormatPNG:
		if err := png.Encode(&buf, goImg); err != nil {
			return nil, cmn.WrapErr(cmn.Exception, err, "image: encoding png")
		}
	case common.FormatBIN:
		return m.ToRaw(), nil
	case common.FormatTDB:
		return tiledraw.NewTile(m).Serialize(), nil
	default:
		return nil, cmn.NewErr(cmn.Error, "image: cannot encode to format %q", format)
	}
	return buf.Bytes(), nil
}
