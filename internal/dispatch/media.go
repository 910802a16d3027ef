package dispatch

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/IntelLabs/vdms-go/cmn"
	"github.com/IntelLabs/vdms-go/internal/evloop"
	"github.com/IntelLabs/vdms-go/internal/media/common"
	"github.com/IntelLabs/vdms-go/internal/media/image"
	"github.com/IntelLabs/vdms-go/internal/media/video"
)

// Internal property keys linking a graph node to its stored blob. They
// never appear in a default projection (underscore-prefixed keys are
// stripped) and blob payloads returned to clients carry no path
// information.
const (
	propPath   = "_path"
	propFormat = "_format"
)

// imageObject adapts one image pipeline to the event loop's Object
// surface.
type imageObject struct {
	id  string
	img *image.Image
}

func newImageObject(img *image.Image) *imageObject {
	return &imageObject{id: uuid.NewString(), img: img}
}

func (o *imageObject) ID() string      { return o.id }
func (o *imageObject) HasRemote() bool { return o.img.HasRemote() }

func (o *imageObject) Step() (*common.Operation, error) {
	_, op, err := o.img.Drain()
	return op, err
}

func (o *imageObject) RemotePayload() ([]byte, string, error) {
	data, err := o.img.Encode(o.img.Format)
	if err != nil {
		return nil, "", err
	}
	return data, fmt.Sprintf("image.%s", o.img.Format), nil
}

func (o *imageObject) ApplyRemoteResult(data []byte) error {
	return o.img.ApplyRemoteResult(data, o.img.Format)
}

func (o *imageObject) Rollback() { o.img.Rollback() }

// videoObject adapts one video pipeline the same way; uploads carry the
// current working file and responses become the next working path.
type videoObject struct {
	id  string
	vid *video.Video
}

func newVideoObject(v *video.Video) *videoObject {
	return &videoObject{id: uuid.NewString(), vid: v}
}

func (o *videoObject) ID() string      { return o.id }
func (o *videoObject) HasRemote() bool { return o.vid.HasRemote() }

func (o *videoObject) Step() (*common.Operation, error) {
	return o.vid.Drain()
}

func (o *videoObject) RemotePayload() ([]byte, string, error) {
	data, err := o.vid.Bytes()
	if err != nil {
		return nil, "", err
	}
	return data, "video.vdm", nil
}

func (o *videoObject) ApplyRemoteResult(data []byte) error {
	return o.vid.ApplyRemoteResult(data)
}

func (o *videoObject) Rollback() { o.vid.Rollback() }

// loadImage decodes data into a fresh image of the given format and
// enqueues ops without draining them.
func loadImage(data []byte, format common.Format, ops []common.Operation) (*image.Image, error) {
	img := image.New(format)
	if err := img.Load(data); err != nil {
		return nil, err
	}
	for _, op := range ops {
		if err := img.Enqueue(op); err != nil {
			return nil, err
		}
	}
	return img, nil
}

// runImagePipeline loads data into a fresh image of the given format,
// enqueues ops, and drives them to completion - spinning up an event loop
// only when a remote hop is actually pending.
func (d *Dispatcher) runImagePipeline(data []byte, format common.Format, ops []common.Operation) (*image.Image, error) {
	img, err := loadImage(data, format, ops)
	if err != nil {
		return nil, err
	}
	return img, d.drive(newImageObject(img))
}

// runVideoPipeline is the video counterpart; interval trims are applied
// up front since they are a dispatcher-level pseudo-operation.
func (d *Dispatcher) runVideoPipeline(data []byte, ops []common.Operation) (*video.Video, error) {
	vid := video.New(d.tempDir)
	if err := vid.Load(data); err != nil {
		return nil, err
	}
	for _, op := range ops {
		if op.Kind == kindInterval {
			if err := vid.Interval(int(op.Start), int(op.Stop)); err != nil {
				return nil, err
			}
			continue
		}
		if err := vid.Enqueue(op); err != nil {
			return nil, err
		}
	}
	return vid, d.drive(newVideoObject(vid))
}

// drive runs one media object to completion. Local-only objects are
// drained inline; remote-bound objects get a dedicated dual-queue loop.
func (d *Dispatcher) drive(obj evloop.Object) error {
	if !obj.HasRemote() {
		op, err := obj.Step()
		if err != nil {
			return err
		}
		if op != nil {
			return cmn.NewErr(cmn.Error, "dispatch: unexpected remote operation on local-only object")
		}
		return nil
	}
	loop := evloop.New(d.remote, d.udf)
	defer loop.Close()
	errs := loop.Run([]evloop.Object{obj})
	return errs[obj.ID()]
}

// driveAll coalesces a whole command's media objects into one loop run,
// so their remote hops share a single multiplexed round.
func (d *Dispatcher) driveAll(objs []evloop.Object) map[string]error {
	anyRemote := false
	for _, o := range objs {
		if o.HasRemote() {
			anyRemote = true
			break
		}
	}
	errs := make(map[string]error, len(objs))
	if !anyRemote {
		for _, o := range objs {
			op, err := o.Step()
			if err == nil && op != nil {
				err = cmn.NewErr(cmn.Error, "dispatch: unexpected remote operation on local-only object")
			}
			errs[o.ID()] = err
		}
		return errs
	}
	loop := evloop.New(d.remote, d.udf)
	defer loop.Close()
	return loop.Run(objs)
}
