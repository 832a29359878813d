package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptySnapshot(t *testing.T) {
	snap := NewCollector().Snapshot()
	assert.Nil(t, snap.Generation)
	assert.Nil(t, snap.HistoryLoad)
	assert.Empty(t, snap.Frames)
	assert.Zero(t, snap.Duplicates)
}

func TestRecordGeneration(t *testing.T) {
	c := NewCollector()
	c.RecordGeneration(100*time.Millisecond, 5, 2)
	c.RecordGeneration(300*time.Millisecond, 15, 8)

	snap := c.Snapshot()
	require.NotNil(t, snap.Generation)
	g := snap.Generation
	assert.Equal(t, int64(2), g.Count)
	assert.Equal(t, int64(400), g.TotalTimeMs)
	assert.Equal(t, 200.0, g.AvgTimeMs)
	assert.Equal(t, int64(100), g.MinTimeMs)
	assert.Equal(t, int64(300), g.MaxTimeMs)
	assert.Equal(t, int64(20), *g.TotalInputTokens)
	assert.Equal(t, int64(10), *g.TotalOutputTokens)
	assert.Equal(t, int64(5), *g.MinInputTokens)
	assert.Equal(t, int64(15), *g.MaxInputTokens)
	assert.Equal(t, 5.0, *g.AvgOutputTokens)
}

func TestTimingOnlyOperations(t *testing.T) {
	c := NewCollector()
	c.RecordTiming(OpHistoryLoad, 50*time.Millisecond)
	c.RecordTiming(OpStoreWrite, time.Millisecond)

	snap := c.Snapshot()
	require.NotNil(t, snap.HistoryLoad)
	assert.Nil(t, snap.HistoryLoad.TotalInputTokens)
	require.NotNil(t, snap.StoreWrite)
	assert.Equal(t, int64(1), snap.StoreWrite.Count)
}

func TestCountersAreConcurrencySafe(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RecordFrame("content_delta")
			c.RecordDuplicate()
			c.RecordMalformed()
			c.RecordReconnect()
		}()
	}
	wg.Wait()

	snap := c.Snapshot()
	assert.Equal(t, int64(50), snap.Frames["content_delta"])
	assert.Equal(t, int64(50), snap.Duplicates)
	assert.Equal(t, int64(50), snap.Malformed)
	assert.Equal(t, int64(50), snap.Reconnects)

	snap.Frames["content_delta"] = 0
	assert.Equal(t, int64(50), c.Snapshot().Frames["content_delta"])
}
