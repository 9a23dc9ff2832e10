package pace

import "math"

// CurrentState is the live run state fed into a comparison. Bosses is the
// cumulative fractional boss credit; BossCredits optionally breaks that
// down per boss index (position i holds boss i+1) for the per-boss weight
// path.
type CurrentState struct {
	Elapsed     float64
	Trash       float64
	Bosses      float64
	Deaths      uint32
	BossCredits []float64
}

// Comparison is the read-only result handed to callers. Positive component
// deltas mean ahead of the best run; a negative time delta means ahead.
type Comparison struct {
	DungeonID        uint32
	Level            uint32
	TrashDelta       float64
	BossDelta        float64
	DeathDelta       int
	Efficiency       float64
	TimeDeltaSeconds float64
	Confidence       int
	IsExtrapolated   bool
	SourceLevel      uint32
}

// Compare measures the current state against a reference best run. The
// second return is false when the reference is absent or unusable, which
// callers surface as "no data" rather than an error.
func Compare(cur CurrentState, ref *BestRun, cfg Config) (Comparison, bool) {
	if ref == nil || ref.Timeline.Len() == 0 || ref.TotalTime <= 0 {
		return Comparison{}, false
	}

	// deaths cost time, not efficiency: shift our clock forward and compare
	// against where the reference was at that effective time
	effective := cur.Elapsed + float64(cur.Deaths)*cfg.deathPenalty()
	refAt := ref.Timeline.At(effective)

	c := Comparison{
		DungeonID:      ref.DungeonID,
		Level:          ref.Level,
		TrashDelta:     cur.Trash - refAt.Trash,
		BossDelta:      cur.Bosses - refAt.Bosses,
		DeathDelta:     int(cur.Deaths) - int(refAt.Deaths),
		IsExtrapolated: ref.IsExtrapolated,
		SourceLevel:    ref.SourceLevel,
	}

	w := cfg.bossWeight()
	if cfg.PerBossWeights && len(ref.BossKills) > 0 {
		c.Efficiency = (c.TrashDelta + perBossWeightedDelta(cur, ref, effective)) / 2
	} else {
		c.Efficiency = (c.TrashDelta + w*c.BossDelta) / 2
	}

	tRef, pastEnd := referenceTimeAtProgress(ref, cur.Trash+w*cur.Bosses, w)
	c.TimeDeltaSeconds = effective - tRef

	combined := cur.Trash + w*cur.Bosses
	c.Confidence = confidence(cur.Elapsed, combined, pastEnd)
	return c, true
}

// referenceTimeAtProgress inverts the reference timeline: at what time had
// the reference reached the given combined progress? Past the last sample
// the overall progress rate extrapolates; below the first sample the first
// sample anchors a line from zero.
func referenceTimeAtProgress(ref *BestRun, p, w float64) (t float64, pastEnd bool) {
	samples := ref.Timeline.Samples()
	combinedOf := func(s Sample) float64 { return s.Trash + w*s.Bosses }

	last := samples[len(samples)-1]
	pLast := combinedOf(last)
	if p > pLast {
		if pLast <= 0 {
			return ref.TotalTime, true
		}
		return p * ref.TotalTime / pLast, true
	}
	first := samples[0]
	pFirst := combinedOf(first)
	if p <= pFirst {
		if pFirst <= 0 {
			return 0, false
		}
		return p * first.Time / pFirst, false
	}
	for i := 1; i < len(samples); i++ {
		a, b := samples[i-1], samples[i]
		pa, pb := combinedOf(a), combinedOf(b)
		if p > pb {
			continue
		}
		if pb == pa {
			return a.Time, false
		}
		frac := (p - pa) / (pb - pa)
		return a.Time + frac*(b.Time-a.Time), false
	}
	return last.Time, false
}

// perBossWeightedDelta replaces W*boss_delta with a per-boss weighted sum,
// weights proportional to each boss's fight duration in the reference with
// the shortest fight normalized to 1.0.
func perBossWeightedDelta(cur CurrentState, ref *BestRun, effective float64) float64 {
	weights := WeightsFromReference(ref)
	sum := 0.0
	for i := range ref.BossKills {
		var curCredit float64
		if i < len(cur.BossCredits) {
			curCredit = cur.BossCredits[i]
		}
		sum += weights[i] * (curCredit - referenceBossCredit(ref.BossKills, i, effective))
	}
	return sum
}

// WeightsFromReference derives duration-proportional boss weights from a
// reference's kill times. Returns nil when the reference has no kills.
func WeightsFromReference(ref *BestRun) []float64 {
	if ref == nil || len(ref.BossKills) == 0 {
		return nil
	}
	durations := make([]float64, len(ref.BossKills))
	shortest := math.Inf(1)
	prev := 0.0
	for i, bk := range ref.BossKills {
		d := bk.KillTime - prev
		if d <= 0 {
			d = 1
		}
		durations[i] = d
		if d < shortest {
			shortest = d
		}
		prev = bk.KillTime
	}
	weights := make([]float64, len(durations))
	for i, d := range durations {
		weights[i] = d / shortest
	}
	return weights
}

// referenceBossCredit reconstructs the quarter-stepped credit the reference
// run would have shown for boss i at time t, treating the interval between
// kills as the fight window.
func referenceBossCredit(kills []BossKill, i int, t float64) float64 {
	prev := 0.0
	if i > 0 {
		prev = kills[i-1].KillTime
	}
	kill := kills[i].KillTime
	if t >= kill {
		return 1.0
	}
	if t <= prev || kill <= prev {
		return 0
	}
	quarters := math.Floor((t - prev) / (kill - prev) * 4)
	return math.Min(quarters, 3) * 0.25
}

func confidence(elapsed, combined float64, pastEnd bool) int {
	conf := 50
	if elapsed >= 300 {
		conf += 20
	}
	if elapsed >= 600 {
		conf += 15
	}
	if combined >= 50 {
		conf += 10
	}
	if conf > 95 {
		conf = 95
	}
	if conf < 0 {
		conf = 0
	}
	if pastEnd && conf > 60 {
		conf = 60
	}
	return conf
}
