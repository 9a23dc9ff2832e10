package pace

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/zoobzio/clockz"
)

func completedRun(dungeonID, lvl uint32, totalTime float64, inTime bool) CompletedRun {
	var tl Timeline
	for i := 1; i <= 20; i++ {
		trash := float64(i) * 5
		if err := tl.Append(Sample{Time: totalTime * trash / 100, Trash: trash}); err != nil {
			panic(err)
		}
	}
	return CompletedRun{
		DungeonID:       dungeonID,
		Level:           lvl,
		TotalTime:       totalTime,
		CompletedInTime: inTime,
		Timeline:        tl,
		BossKills: []BossKill{
			{BossIndex: 1, Name: "first", KillTime: totalTime * 0.4},
		},
	}
}

func TestStoreReplacementPolicy(t *testing.T) {
	s := NewStore()

	assert.True(t, s.Put(completedRun(300, 12, 1500, true)))
	// slower run never replaces
	assert.False(t, s.Put(completedRun(300, 12, 1550, true)))
	// strictly faster replaces
	assert.True(t, s.Put(completedRun(300, 12, 1450, true)))
	// faster but over the timer never lands
	assert.False(t, s.Put(completedRun(300, 12, 1400, false)))

	best, ok := s.Best(300, 12)
	assert.True(t, ok)
	assert.InDelta(t, 1450, best.TotalTime, 1e-9)
}

func TestStoreEqualTimeDoesNotReplace(t *testing.T) {
	s := NewStore()
	assert.True(t, s.Put(completedRun(300, 12, 1500, true)))
	assert.False(t, s.Put(completedRun(300, 12, 1500, true)))
}

func TestStoreBestIsExactMatchOnly(t *testing.T) {
	s := NewStore(WithExtrapolation(true, nil))
	assert.True(t, s.Put(completedRun(200, 10, 1200, true)))

	_, ok := s.Best(200, 13)
	assert.False(t, ok)
	_, ok = s.Best(999, 10)
	assert.False(t, ok)
}

func TestStoreReferenceExtrapolates(t *testing.T) {
	s := NewStore(WithExtrapolation(true, nil))
	assert.True(t, s.Put(completedRun(200, 10, 1200, true)))

	ref, ok := s.Reference(200, 13)
	assert.True(t, ok)
	assert.True(t, ref.IsExtrapolated)
	assert.Equal(t, uint32(10), ref.SourceLevel)
	assert.Equal(t, uint32(13), ref.Level)
	assert.InDelta(t, 1200*math.Pow(1.10, 3), ref.TotalTime, 1e-6)

	// synthesized references are never written back
	assert.Equal(t, 1, s.Len())
	_, ok = s.Best(200, 13)
	assert.False(t, ok)
}

func TestStoreReferencePrefersHighestLowerLevel(t *testing.T) {
	s := NewStore(WithExtrapolation(true, nil))
	assert.True(t, s.Put(completedRun(200, 8, 1000, true)))
	assert.True(t, s.Put(completedRun(200, 11, 1300, true)))
	assert.True(t, s.Put(completedRun(200, 15, 1800, true)))

	ref, ok := s.Reference(200, 13)
	assert.True(t, ok)
	assert.Equal(t, uint32(11), ref.SourceLevel)
}

func TestStoreReferenceExactMatchWins(t *testing.T) {
	s := NewStore(WithExtrapolation(true, nil))
	assert.True(t, s.Put(completedRun(200, 10, 1200, true)))
	assert.True(t, s.Put(completedRun(200, 13, 1700, true)))

	ref, ok := s.Reference(200, 13)
	assert.True(t, ok)
	assert.False(t, ref.IsExtrapolated)
	assert.InDelta(t, 1700, ref.TotalTime, 1e-9)
}

func TestStoreReferenceDisabledExtrapolation(t *testing.T) {
	s := NewStore(WithExtrapolation(false, nil))
	assert.True(t, s.Put(completedRun(200, 10, 1200, true)))

	_, ok := s.Reference(200, 13)
	assert.False(t, ok)
}

func TestStoreReferenceIsPure(t *testing.T) {
	s := NewStore(WithExtrapolation(true, nil))
	assert.True(t, s.Put(completedRun(200, 10, 1200, true)))

	a, ok := s.Reference(200, 13)
	assert.True(t, ok)
	b, ok := s.Reference(200, 13)
	assert.True(t, ok)
	assert.Equal(t, a.TotalTime, b.TotalTime)
	assert.Equal(t, a.Timeline.Samples(), b.Timeline.Samples())
}

func TestStoreReadersGetCopies(t *testing.T) {
	s := NewStore()
	assert.True(t, s.Put(completedRun(300, 12, 1500, true)))

	best, ok := s.Best(300, 12)
	assert.True(t, ok)
	best.BossKills[0].KillTime = 1
	best.TotalTime = 1

	again, ok := s.Best(300, 12)
	assert.True(t, ok)
	assert.InDelta(t, 1500, again.TotalTime, 1e-9)
	assert.InDelta(t, 600, again.BossKills[0].KillTime, 1e-9)
}

func TestStoreDelete(t *testing.T) {
	s := NewStore()
	assert.True(t, s.Put(completedRun(300, 12, 1500, true)))
	assert.True(t, s.Put(completedRun(301, 12, 1500, true)))

	s.Delete(300, 12)
	_, ok := s.Best(300, 12)
	assert.False(t, ok)
	assert.Equal(t, 1, s.Len())

	s.DeleteAll()
	assert.Equal(t, 0, s.Len())
}

func TestStoreStampsStoredAt(t *testing.T) {
	clock := clockz.NewFakeClock()
	s := NewStore(WithStoreClock(clock))
	assert.True(t, s.Put(completedRun(300, 12, 1500, true)))
	best, ok := s.Best(300, 12)
	assert.True(t, ok)
	assert.Equal(t, clock.Now(), best.StoredAt)
}
