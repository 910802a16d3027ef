// Package pgraph implements the embedded, transactional property graph:
// typed nodes and edges, typed properties, secondary
// indices, a reader-writer lock with bounded exponential backoff, and the
// reusable iterator family the query handler compiles against.
/*
 * Copyright (c) 2018-2026, VDMS-Go Authors. All rights reserved.
 */
package pgraph

import (
	"math/rand"
	"runtime"
	"sync/atomic"

	"github.com/IntelLabs/vdms-go/cmn"
)

// RWLock packs its whole state into a single 16-bit word: the low 15
// bits count readers, the top bit flags an active writer. Both acquire
// paths retry with randomized exponential backoff between
// MinBackoffDelay and MaxBackoffDelay (expressed in spin-pause units)
// and give up after MaxAttempts retries.
type RWLock struct {
	word        atomic.Uint32 // only the low 16 bits are meaningful
	maxAttempts uint32
}

const (
	lockReaderMask uint32 = 0x7fff
	writeLockBit          = 15
	writeLock      uint32 = 1 << writeLockBit

	// MinBackoffDelay and MaxBackoffDelay bound the randomized backoff
	// window, expressed in spin-pause units.
	MinBackoffDelay = 100_000
	MaxBackoffDelay = 50_000_000
)

// NewRWLock builds a lock bounded by maxAttempts retries per acquire path;
// maxAttempts <= 0 falls back to cmn.DefaultMaxLockAttempts.
func NewRWLock(maxAttempts int) *RWLock {
	if maxAttempts <= 0 {
		maxAttempts = cmn.DefaultMaxLockAttempts
	}
	return &RWLock{maxAttempts: uint32(maxAttempts)}
}

func pause() { runtime.Gosched() }

// backoff doubles the wait window and picks a uniformly random delay
// inside it; cur is updated in place.
func backoff(cur *int) {
	delay := *cur
	next := 2 * delay
	if next > MaxBackoffDelay {
		next = MaxBackoffDelay
	}
	*cur = next
	n := delay
	if next > delay {
		n = delay + rand.Intn(next-delay+1)
	}
	for i := 0; i < n; i += 50_000 {
		pause()
	}
}

// ReadLock acquires the lock for a read-only transaction. Reader
// saturation (all 15 counter bits set) fails immediately with a
// LockError-flavored *cmn.Err; a writer holding the lock past
// MaxAttempts backoffs fails with LockTimeout.
func (l *RWLock) ReadLock() error {
	curDelay := MinBackoffDelay
	var attempts uint32
	for {
		r := l.word.Add(1)
		if r&lockReaderMask == lockReaderMask {
			l.word.Add(^uint32(0)) // undo the increment
			return cmn.NewErr(cmn.Exception, "pgraph: reader count saturated (LockError)")
		}
		if r&writeLock == 0 {
			return nil
		}
		l.word.Add(^uint32(0)) // release our speculative reader bit

		for l.word.Load()&writeLock != 0 {
			attempts++
			if attempts > l.maxAttempts {
				return cmn.NewErr(cmn.Exception, "pgraph: read_lock timed out (LockTimeout)")
			}
			backoff(&curDelay)
		}
	}
}

func (l *RWLock) ReadUnlock() error {
	for {
		old := l.word.Load()
		if old&lockReaderMask == 0 {
			return cmn.NewErr(cmn.Exception, "pgraph: read_unlock on unlocked reader count (LockError)")
		}
		if l.word.CompareAndSwap(old, old-1) {
			return nil
		}
	}
}

// WriteLock acquires the lock for a read-write transaction, waiting for
// all readers to drain once the writer bit is claimed.
func (l *RWLock) WriteLock() error {
	curDelay := MinBackoffDelay
	var attempts uint32
	for {
		old := l.word.Load()
		if old&writeLock == 0 {
			if l.word.CompareAndSwap(old, old|writeLock) {
				attempts = 0
				for l.word.Load()&lockReaderMask != 0 {
					attempts++
					if attempts > l.maxAttempts {
						l.word.Store(l.word.Load() & lockReaderMask) // give up: clear writer bit
						return cmn.NewErr(cmn.Exception, "pgraph: write_lock timed out (LockTimeout)")
					}
					backoff(&curDelay)
				}
				return nil
			}
			continue // lost the CAS race, retry without counting an attempt
		}
		attempts++
		if attempts > l.maxAttempts {
			return cmn.NewErr(cmn.Exception, "pgraph: write_lock timed out (LockTimeout)")
		}
		backoff(&curDelay)
	}
}

// UpgradeWriteLock upgrades a held read lock to a write lock in place; the
// caller must already hold a read lock (this is
// not recursive, correctness depends on the caller).
func (l *RWLock) UpgradeWriteLock() error {
	curDelay := MinBackoffDelay
	var attempts uint32
	for {
		old := l.word.Load()
		if old&writeLock == 0 {
			if l.word.CompareAndSwap(old, old|writeLock) {
				attempts = 0
				for l.word.Load()&lockReaderMask > 1 {
					attempts++
					if attempts > l.maxAttempts {
						l.word.Store(l.word.Load() & lockReaderMask)
						return cmn.NewErr(cmn.Exception, "pgraph: upgrade_write_lock timed out (LockTimeout)")
					}
					backoff(&curDelay)
				}
				l.word.Add(^uint32(0)) // drop our own reader bit, we're the writer now
				return nil
			}
			continue
		}
		attempts++
		if attempts > l.maxAttempts {
			return cmn.NewErr(cmn.Exception, "pgraph: upgrade_write_lock timed out (LockTimeout)")
		}
		backoff(&curDelay)
	}
}

func (l *RWLock) WriteUnlock() error {
	old := l.word.Load()
	if old&writeLock == 0 {
		return cmn.NewErr(cmn.Exception, "pgraph: write_unlock on unlocked writer bit (LockError)")
	}
	l.word.Store(old & lockReaderMask)
	return nil
}

func (l *RWLock) IsWriteLocked() bool { return l.word.Load()&writeLock != 0 }
func (l *RWLock) ReaderCount() uint32 { return l.word.Load() & lockReaderMask }
