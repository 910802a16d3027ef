package pgraph

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRWLockReadersShare(t *testing.T) {
	l := NewRWLock(10)
	require.NoError(t, l.ReadLock())
	require.NoError(t, l.ReadLock())
	require.EqualValues(t, 2, l.ReaderCount())
	require.NoError(t, l.ReadUnlock())
	require.NoError(t, l.ReadUnlock())
	require.EqualValues(t, 0, l.ReaderCount())
}

func TestRWLockWriterExcludesReaders(t *testing.T) {
	l := NewRWLock(2)
	require.NoError(t, l.WriteLock())
	require.True(t, l.IsWriteLocked())
	// A reader bounded by 2 attempts must time out while the writer holds.
	require.Error(t, l.ReadLock())
	require.NoError(t, l.WriteUnlock())
	require.NoError(t, l.ReadLock())
	require.NoError(t, l.ReadUnlock())
}

func TestRWLockWriterTimesOutOnWriter(t *testing.T) {
	l := NewRWLock(2)
	require.NoError(t, l.WriteLock())
	require.Error(t, l.WriteLock())
	require.True(t, l.IsWriteLocked(), "failed acquire must not clobber the holder")
	require.NoError(t, l.WriteUnlock())
}

func TestRWLockUnlockErrors(t *testing.T) {
	l := NewRWLock(2)
	require.Error(t, l.ReadUnlock())
	require.Error(t, l.WriteUnlock())
}

func TestRWLockUpgrade(t *testing.T) {
	l := NewRWLock(10)
	require.NoError(t, l.ReadLock())
	require.NoError(t, l.UpgradeWriteLock())
	require.True(t, l.IsWriteLocked())
	require.EqualValues(t, 0, l.ReaderCount())
	require.NoError(t, l.WriteUnlock())
}

// Liveness under contention: every acquire either
// succeeds or fails with a timeout in finite time.
func TestRWLockContention(t *testing.T) {
	l := NewRWLock(1000)
	var counter int
	var wg sync.WaitGroup
	const writers = 8
	const rounds = 50
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				if err := l.WriteLock(); err != nil {
					continue // LockTimeout is an allowed outcome
				}
				counter++
				_ = l.WriteUnlock()
			}
		}()
	}
	wg.Wait()
	require.LessOrEqual(t, counter, writers*rounds)
	require.Positive(t, counter)
	require.False(t, l.IsWriteLocked())
	require.EqualValues(t, 0, l.ReaderCount())
}
