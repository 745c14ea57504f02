package core

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDeduplicatorFindPreviousFirstTimeReturnsNil(t *testing.T) {
	d := NewDeduplicator(nil, time.Minute, time.Second)
	key := KeyID{MessageID: 1, Peer: "peer", Origin: OriginRemote}
	ex := &Exchange{Origin: OriginRemote, KeyID: key}

	prior := d.FindPrevious(key, ex)
	require.Nil(t, prior)
	require.Same(t, ex, d.Find(key))
}

func TestDeduplicatorFindPreviousDetectsDuplicate(t *testing.T) {
	d := NewDeduplicator(nil, time.Minute, time.Second)
	key := KeyID{MessageID: 1, Peer: "peer", Origin: OriginRemote}
	first := &Exchange{Origin: OriginRemote, KeyID: key}
	second := &Exchange{Origin: OriginRemote, KeyID: key}

	require.Nil(t, d.FindPrevious(key, first))
	prior := d.FindPrevious(key, second)
	require.Same(t, first, prior)
}

func TestDeduplicatorRemove(t *testing.T) {
	d := NewDeduplicator(nil, time.Minute, time.Second)
	key := KeyID{MessageID: 1, Peer: "peer", Origin: OriginLocal}
	ex := &Exchange{Origin: OriginLocal, KeyID: key}
	d.FindPrevious(key, ex)
	d.Remove(key)
	require.Nil(t, d.Find(key))
}

func TestDeduplicatorSweepEvictsExpiredEntries(t *testing.T) {
	d := NewDeduplicator(nil, 10*time.Millisecond, time.Hour)
	clock := time.Now()
	d.now = func() time.Time { return clock }

	key := KeyID{MessageID: 1, Peer: "peer", Origin: OriginRemote}
	d.FindPrevious(key, &Exchange{Origin: OriginRemote, KeyID: key})

	clock = clock.Add(time.Hour)
	d.sweep()

	require.Nil(t, d.Find(key))
}

func TestDeduplicatorConcurrentFindPrevious(t *testing.T) {
	d := NewDeduplicator(nil, time.Minute, time.Second)
	key := KeyID{MessageID: 9, Peer: "peer", Origin: OriginRemote}

	const n = 50
	var wg sync.WaitGroup
	var duplicates int32
	var mu sync.Mutex
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ex := &Exchange{Origin: OriginRemote, KeyID: key}
			if d.FindPrevious(key, ex) != nil {
				mu.Lock()
				duplicates++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.EqualValues(t, n-1, duplicates, "exactly one caller should have inserted first")
}

func TestDeduplicatorStartStop(t *testing.T) {
	d := NewDeduplicator(nil, time.Millisecond, time.Millisecond)
	invoker := NewWaitGroupInvoker()
	d.Start(invoker)
	time.Sleep(5 * time.Millisecond)
	d.Stop()
	invoker.Wait()
}
