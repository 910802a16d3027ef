// Package evloop implements the dual-queue event loop: two
// cooperating workers per loop instance - one draining local media
// operations, one coalescing and multiplexing remote HTTP operations -
// with per-queue mutex/condvar handoff and batch-scoped termination.
/*
 * Copyright (c) 2018-2026, VDMS-Go Authors. All rights reserved.
 */
package evloop

import (
	"sync"

	"github.com/golang/glog"
	"golang.org/x/sync/errgroup"

	"github.com/IntelLabs/vdms-go/cmn"
	"github.com/IntelLabs/vdms-go/cmn/debug"
	"github.com/IntelLabs/vdms-go/internal/media/common"
)

// Object is one media object moving through the loop: the image and
// video pipelines adapt themselves to this surface. Step runs local
// operations until the queue is empty (nil op) or a remote operation is
// next; the loop then performs the remote hop and hands the result back.
type Object interface {
	// ID correlates the object across queues and in the remote request's
	// `?id=` query parameter.
	ID() string
	// Step advances local execution; a non-nil op means "async, handed
	// off to remote queue".
	Step() (op *common.Operation, err error)
	// HasRemote reports whether any remote-kind operation is still
	// pending; the loop counts these at batch start to know how many
	// objects the remote worker must wait for.
	HasRemote() bool
	// RemotePayload returns the object's current bytes and filename for
	// the multipart upload.
	RemotePayload() (data []byte, filename string, err error)
	// ApplyRemoteResult adopts a remote response as the new working state.
	ApplyRemoteResult(data []byte) error
	// Rollback restores the pre-remote-op snapshot.
	Rollback()
}

// RemoteParallelism bounds the degree of concurrent remote requests per
// sub-batch.
const RemoteParallelism = 10

// item wraps an object in flight; a nil obj is the sentinel that unblocks
// a worker's condition wait at shutdown.
type item struct {
	obj Object
	op  *common.Operation
	// retried marks that this remote op already consumed its one redo.
	retried bool
}

// Loop is one event-loop instance: created per media-returning query,
// destroyed when the batch completes.
type Loop struct {
	remoteClient *RemoteClient
	udf          *UDFClient

	localMu  sync.Mutex
	localCv  *sync.Cond
	localBuf []*item

	remoteMu  sync.Mutex
	remoteCv  *sync.Cond
	remoteBuf []*item
	// remoteDue counts the batch objects still en route to the remote
	// queue; the remote worker holds its read-buffer swap until this
	// reaches zero, which coalesces the whole batch's first remote hop
	// into one multiplexed round.
	remoteDue int

	running bool
	wg      sync.WaitGroup

	mu       sync.Mutex
	inFlight int
	errs     map[string]error
	doneCh   chan struct{}
}

// New starts the loop's two workers.
func New(rc *RemoteClient, udf *UDFClient) *Loop {
	l := &Loop{
		remoteClient: rc,
		udf:          udf,
		running:      true,
		errs:         make(map[string]error),
	}
	l.localCv = sync.NewCond(&l.localMu)
	l.remoteCv = sync.NewCond(&l.remoteMu)
	l.wg.Add(2)
	go l.runLocal()
	go l.runRemote()
	return l
}

// Run drives a batch of objects to completion and returns the per-object
// error map. Objects with no remote ops complete on the local
// worker alone.
func (l *Loop) Run(objs []Object) map[string]error {
	if len(objs) == 0 {
		return map[string]error{}
	}
	due := 0
	for _, o := range objs {
		if o.HasRemote() {
			due++
		}
	}
	l.remoteMu.Lock()
	l.remoteDue = due
	l.remoteMu.Unlock()

	l.mu.Lock()
	l.inFlight = len(objs)
	l.errs = make(map[string]error, len(objs))
	l.doneCh = make(chan struct{})
	done := l.doneCh
	l.mu.Unlock()

	for _, o := range objs {
		l.pushLocal(&item{obj: o})
	}
	<-done
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.errs
}

func (l *Loop) pushLocal(it *item) {
	l.localMu.Lock()
	l.localBuf = append(l.localBuf, it)
	l.localMu.Unlock()
	l.localCv.Signal()
}

// pushRemote delivers an object to the remote queue; arrived marks it as
// one of the batch objects the remote worker was waiting for.
func (l *Loop) pushRemote(it *item, arrived bool) {
	l.remoteMu.Lock()
	if arrived && l.remoteDue > 0 {
		l.remoteDue--
	}
	l.remoteBuf = append(l.remoteBuf, it)
	l.remoteMu.Unlock()
	l.remoteCv.Signal()
}

// remoteAbsent records that a remote-bound object will never arrive (it
// failed locally first), so the remote worker stops waiting for it.
func (l *Loop) remoteAbsent() {
	l.remoteMu.Lock()
	if l.remoteDue > 0 {
		l.remoteDue--
	}
	l.remoteMu.Unlock()
	l.remoteCv.Signal()
}

// swapRemote blocks until every expected batch object has arrived (or a
// sentinel is queued), then takes the whole buffer as the read buffer.
func (l *Loop) swapRemote() []*item {
	l.remoteMu.Lock()
	defer l.remoteMu.Unlock()
	for {
		if hasSentinel(l.remoteBuf) || (len(l.remoteBuf) > 0 && l.remoteDue == 0) {
			out := l.remoteBuf
			l.remoteBuf = nil
			return out
		}
		l.remoteCv.Wait()
	}
}

func (l *Loop) swapLocal() []*item {
	l.localMu.Lock()
	defer l.localMu.Unlock()
	for len(l.localBuf) == 0 {
		l.localCv.Wait()
	}
	out := l.localBuf
	l.localBuf = nil
	return out
}

func hasSentinel(items []*item) bool {
	for _, it := range items {
		if it.obj == nil {
			return true
		}
	}
	return false
}

// finish records an object's terminal state and signals batch completion
// when nothing remains in flight.
func (l *Loop) finish(obj Object, err error) {
	l.mu.Lock()
	l.errs[obj.ID()] = err
	l.inFlight--
	debug.Assert(l.inFlight >= 0)
	if l.inFlight == 0 && l.doneCh != nil {
		close(l.doneCh)
		l.doneCh = nil
	}
	l.mu.Unlock()
}

// runLocal is worker L: it drains the local queue, executes everything
// that needs no network I/O, and hands remote-bound objects to the
// remote queue.
func (l *Loop) runLocal() {
	defer l.wg.Done()
	for {
		for _, it := range l.swapLocal() {
			if it.obj == nil {
				return // sentinel
			}
			wasBound := it.obj.HasRemote()
			op, err := it.obj.Step()
			if err != nil {
				if wasBound {
					l.remoteAbsent()
				}
				l.finish(it.obj, err)
				continue
			}
			if op == nil {
				l.finish(it.obj, nil)
				continue
			}
			l.pushRemote(&item{obj: it.obj, op: op}, true)
		}
	}
}

// runRemote is worker R: it waits until the remote queue holds the whole
// batch's remote-bound objects, then processes them in bounded-
// parallelism sub-batches and re-enqueues completed objects to L for any
// post-remote local ops. Later arrivals (retries, second remote
// hops) are processed as they come; coalescing applies to the initial
// round, whose size is known at batch start.
func (l *Loop) runRemote() {
	defer l.wg.Done()
	for {
		items := l.swapRemote()
		var work []*item
		for _, it := range items {
			if it.obj == nil {
				return // sentinel
			}
			work = append(work, it)
		}
		if len(work) == 0 {
			continue
		}
		var redo []*item
		var redoMu sync.Mutex
		var g errgroup.Group
		g.SetLimit(RemoteParallelism)
		for _, it := range work {
			it := it
			g.Go(func() error {
				err := l.performRemote(it)
				if err == nil {
					l.pushLocal(&item{obj: it.obj}) // post-remote local ops
					return nil
				}
				if classify(err).Retryable() && !it.retried {
					glog.Warningf("evloop: transient failure for %s, rescheduling once: %v", it.obj.ID(), err)
					it.retried = true
					redoMu.Lock()
					redo = append(redo, it)
					redoMu.Unlock()
					return nil
				}
				it.obj.Rollback()
				l.finish(it.obj, err)
				return nil
			})
		}
		_ = g.Wait()
		for _, it := range redo {
			l.pushRemote(it, false)
		}
	}
}

// performRemote executes one remote-kind operation: sync and async
// remote ops go over HTTP, user ops over the local UDF socket.
func (l *Loop) performRemote(it *item) error {
	data, filename, err := it.obj.RemotePayload()
	if err != nil {
		return err
	}
	var result []byte
	switch it.op.Kind {
	case common.KindSyncRemoteOp, common.KindRemoteOp:
		if l.remoteClient == nil {
			return cmn.NewErr(cmn.Error, "evloop: no remote client configured")
		}
		result, err = l.remoteClient.Post(common.RemoteRequest{
			ID:       it.obj.ID(),
			URL:      it.op.URL,
			Data:     data,
			Filename: filename,
			JSON:     optionsJSON(it.op.Options),
		})
	case common.KindUserOp:
		if l.udf == nil {
			return cmn.NewErr(cmn.Error, "evloop: no UDF client configured")
		}
		result, err = l.udf.Call(optionsJSON(it.op.Options), data)
	default:
		return cmn.NewErr(cmn.Error, "evloop: %q is not a remote operation", it.op.Kind)
	}
	if err != nil {
		return err
	}
	return it.obj.ApplyRemoteResult(result)
}

// Close flips the running flag, unblocks both condition waits with a
// sentinel, and joins the workers. Remote work still in flight is
// abandoned, not cancelled.
func (l *Loop) Close() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	l.mu.Unlock()
	l.pushLocal(&item{})
	l.pushRemote(&item{}, false)
	l.wg.Wait()
}
