package pace

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBestRunRoundTrip(t *testing.T) {
	s := NewStore()
	assert.True(t, s.Put(completedRun(300, 12, 1500, true)))
	orig, ok := s.Best(300, 12)
	assert.True(t, ok)

	buf, err := json.Marshal(EncodeBestRun(orig))
	assert.NoError(t, err)
	var rec BestRunRecord
	assert.NoError(t, json.Unmarshal(buf, &rec))
	decoded := DecodeBestRun(rec, nil)

	assert.Equal(t, orig.DungeonID, decoded.DungeonID)
	assert.Equal(t, orig.Level, decoded.Level)
	assert.Equal(t, orig.TotalTime, decoded.TotalTime)
	assert.Equal(t, orig.Timeline.Samples(), decoded.Timeline.Samples())
	assert.Equal(t, orig.BossKills, decoded.BossKills)

	// comparisons against the decoded record are bit-identical
	for _, cur := range []CurrentState{
		{Elapsed: 100, Trash: 12},
		{Elapsed: 750, Trash: 48, Bosses: 1, Deaths: 2},
		{Elapsed: 1400, Trash: 97, Bosses: 1},
	} {
		a, okA := Compare(cur, &orig, DefaultConfig())
		b, okB := Compare(cur, &decoded, DefaultConfig())
		assert.Equal(t, okA, okB)
		assert.Equal(t, a, b)
	}
}

func TestDecodeDropsCorruptSamples(t *testing.T) {
	rec := BestRunRecord{
		DungeonID: 1,
		Level:     10,
		TotalTime: 400,
		InTime:    true,
		Samples: []TimelineSample{
			{Time: 100, Trash: 10},
			{Time: 200, Trash: 20},
			// duplicate time from an older writer: the earlier one goes
			{Time: 200, Trash: 22},
			{Time: 300, Trash: 30},
			// backsliding trash cannot be repaired; drop it
			{Time: 350, Trash: 5},
			{Time: 400, Trash: 40},
		},
	}
	run := DecodeBestRun(rec, nil)
	samples := run.Timeline.Samples()
	assert.Len(t, samples, 4)
	assert.InDelta(t, 22, samples[1].Trash, 1e-9)
	assert.InDelta(t, 30, samples[2].Trash, 1e-9)
	assert.InDelta(t, 40, samples[3].Trash, 1e-9)
}

func TestDecodeSortsUnorderedSamples(t *testing.T) {
	rec := BestRunRecord{
		DungeonID: 1,
		Level:     10,
		TotalTime: 300,
		InTime:    true,
		Samples: []TimelineSample{
			{Time: 300, Trash: 30},
			{Time: 100, Trash: 10},
			{Time: 200, Trash: 20},
		},
	}
	run := DecodeBestRun(rec, nil)
	samples := run.Timeline.Samples()
	assert.Len(t, samples, 3)
	assert.InDelta(t, 100, samples[0].Time, 1e-9)
	assert.InDelta(t, 300, samples[2].Time, 1e-9)
}

func TestStoreExportImport(t *testing.T) {
	s := NewStore()
	assert.True(t, s.Put(completedRun(100, 10, 1000, true)))
	assert.True(t, s.Put(completedRun(100, 12, 1300, true)))
	assert.True(t, s.Put(completedRun(200, 10, 1100, true)))

	recs := s.Export()
	assert.Len(t, recs, 3)
	// deterministic order for the host's serializer
	assert.Equal(t, uint32(100), recs[0].DungeonID)
	assert.Equal(t, uint32(10), recs[0].Level)
	assert.Equal(t, uint32(12), recs[1].Level)
	assert.Equal(t, uint32(200), recs[2].DungeonID)

	restored := NewStore()
	restored.Import(recs)
	assert.Equal(t, 3, restored.Len())
	a, ok := s.Best(100, 12)
	assert.True(t, ok)
	b, ok := restored.Best(100, 12)
	assert.True(t, ok)
	assert.Equal(t, a.Timeline.Samples(), b.Timeline.Samples())
	assert.Equal(t, a.TotalTime, b.TotalTime)
}

func TestStoreImportSkipsUnusableRuns(t *testing.T) {
	s := NewStore()
	s.Import([]BestRunRecord{
		{DungeonID: 1, Level: 10, TotalTime: 900, InTime: false, StoredAt: time.Now(),
			Samples: []TimelineSample{{Time: 900, Trash: 100}}},
		{DungeonID: 2, Level: 10, TotalTime: 900, InTime: true},
	})
	assert.Equal(t, 0, s.Len())
}

func TestStoreImportKeepsFasterIncumbent(t *testing.T) {
	s := NewStore()
	assert.True(t, s.Put(completedRun(100, 10, 1000, true)))
	s.Import([]BestRunRecord{
		{DungeonID: 100, Level: 10, TotalTime: 1200, InTime: true,
			Samples: []TimelineSample{{Time: 1200, Trash: 100}}},
	})
	best, ok := s.Best(100, 10)
	assert.True(t, ok)
	assert.InDelta(t, 1000, best.TotalTime, 1e-9)
}
