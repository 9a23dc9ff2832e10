package pace

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func referenceRun(dungeonID, lvl uint32, totalTime float64) BestRun {
	run := BestRun{
		DungeonID:       dungeonID,
		Level:           lvl,
		TotalTime:       totalTime,
		CompletedInTime: true,
		BossKills: []BossKill{
			{BossIndex: 1, Name: "first", KillTime: totalTime * 0.3},
			{BossIndex: 2, Name: "second", KillTime: totalTime * 0.7},
		},
	}
	// linear trash over the run, bosses credited at their kill samples
	for i := 1; i <= 20; i++ {
		trash := float64(i) * 5
		tm := totalTime * trash / 100
		bosses := 0.0
		if tm >= run.BossKills[0].KillTime {
			bosses = 1
		}
		if tm >= run.BossKills[1].KillTime {
			bosses = 2
		}
		if err := run.Timeline.Append(Sample{Time: tm, Trash: trash, Bosses: bosses}); err != nil {
			panic(err)
		}
	}
	return run
}

func TestExtrapolateScalesTimeOnly(t *testing.T) {
	src := referenceRun(200, 10, 1200)
	out, err := Extrapolate(&src, 13, nil)
	assert.NoError(t, err)

	r := math.Pow(1.10, 3)
	assert.InDelta(t, 1200*r, out.TotalTime, 1e-6)
	assert.True(t, out.IsExtrapolated)
	assert.Equal(t, uint32(10), out.SourceLevel)
	assert.Equal(t, uint32(13), out.Level)

	srcSamples := src.Timeline.Samples()
	outSamples := out.Timeline.Samples()
	assert.Equal(t, len(srcSamples), len(outSamples))
	for i := range srcSamples {
		assert.InDelta(t, srcSamples[i].Time*r, outSamples[i].Time, 1e-6)
		// progress shape is preserved, only time dilates
		assert.InDelta(t, srcSamples[i].Trash, outSamples[i].Trash, 1e-9)
		assert.InDelta(t, srcSamples[i].Bosses, outSamples[i].Bosses, 1e-9)
	}
	for i := range src.BossKills {
		assert.InDelta(t, src.BossKills[i].KillTime*r, out.BossKills[i].KillTime, 1e-6)
	}
}

func TestExtrapolateSameLevelIsIdentity(t *testing.T) {
	src := referenceRun(200, 10, 1200)
	out, err := Extrapolate(&src, 10, nil)
	assert.NoError(t, err)
	assert.InDelta(t, src.TotalTime, out.TotalTime, 1e-9)
	assert.Equal(t, src.Timeline.Samples(), out.Timeline.Samples())
	assert.True(t, out.IsExtrapolated)
}

func TestExtrapolateLinearity(t *testing.T) {
	src := referenceRun(200, 10, 1200)
	direct, err := Extrapolate(&src, 14, nil)
	assert.NoError(t, err)

	step1, err := Extrapolate(&src, 12, nil)
	assert.NoError(t, err)
	chained, err := Extrapolate(&step1, 14, nil)
	assert.NoError(t, err)

	assert.InDelta(t, direct.TotalTime, chained.TotalTime, 1e-6)
	ds, cs := direct.Timeline.Samples(), chained.Timeline.Samples()
	assert.Equal(t, len(ds), len(cs))
	for i := range ds {
		assert.InDelta(t, ds[i].Time, cs[i].Time, 1e-6)
	}
}

func TestExtrapolateFailModes(t *testing.T) {
	src := referenceRun(200, 10, 1200)

	_, err := Extrapolate(&src, 9, nil)
	assert.ErrorIs(t, err, ErrInvalidScale)

	_, err = Extrapolate(nil, 12, nil)
	assert.ErrorIs(t, err, ErrNoSource)

	empty := BestRun{Level: 10, TotalTime: 1200}
	_, err = Extrapolate(&empty, 12, nil)
	assert.ErrorIs(t, err, ErrNoSource)
}

func TestExtrapolateCustomScale(t *testing.T) {
	src := referenceRun(200, 10, 1000)
	double := func(a, b uint32) float64 { return 2.0 }
	out, err := Extrapolate(&src, 11, double)
	assert.NoError(t, err)
	assert.InDelta(t, 2000, out.TotalTime, 1e-9)
}
