package pace

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

var ErrInvalidInput = errors.New("invalid observation")

// Observation is one raw progress tuple pushed by the host each tick.
type Observation struct {
	Elapsed      float64
	TrashPct     float64
	BossesKilled uint32
	Deaths       uint32
}

// CompletedRun is the frozen product of a finished run, ready for the
// store's consideration.
type CompletedRun struct {
	DungeonID       uint32
	Level           uint32
	TotalTime       float64
	CompletedInTime bool
	Deaths          uint32
	Timeline        Timeline
	BossKills       []BossKill
}

type trackerPhase int

const (
	trackerIdle trackerPhase = iota
	trackerActive
	trackerDone
)

const (
	milestoneStep     = 5.0
	milestoneDebounce = 0.1
	// fight length assumed for an engaged boss when no reference exists
	defaultBossDuration = 90.0
)

// bossProgress tracks quarter-stepped credit for one engaged boss. The
// credit smooths efficiency reporting during long fights instead of
// snapping from 0 to 1 on the kill.
type bossProgress struct {
	bossIndex        uint32
	engageTime       float64
	expectedDuration float64
	credited         float64
}

// RunTracker is the state machine of the active run: milestone recording,
// fractional boss credit, and death accounting. It is fed already-throttled
// events by the engine and owns the run's growing timeline.
type RunTracker struct {
	logger log.Logger

	phase     trackerPhase
	dungeonID uint32
	level     uint32
	reference *BestRun

	timeline  Timeline
	bossKills []BossKill
	bosses    []bossProgress
	killCount uint32

	elapsed       float64
	trash         float64
	deaths        uint32
	nextThreshold float64
	prevElapsed   float64
	prevTrash     float64
}

func NewRunTracker(logger log.Logger) *RunTracker {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &RunTracker{logger: logger}
}

// Start arms the tracker for a new run. The reference, if any, supplies
// expected boss fight durations; it is held for the whole run.
func (rt *RunTracker) Start(dungeonID, level uint32, ref *BestRun) {
	*rt = RunTracker{
		logger:        rt.logger,
		phase:         trackerActive,
		dungeonID:     dungeonID,
		level:         level,
		reference:     ref,
		nextThreshold: milestoneStep,
	}
}

func (rt *RunTracker) Active() bool {
	return rt.phase == trackerActive
}

// Observe folds one raw observation into the run state. Out-of-range input
// is rejected with ErrInvalidInput and the last good state stands; noisy
// backwards trash readings are clamped rather than rejected.
func (rt *RunTracker) Observe(obs Observation) error {
	if rt.phase != trackerActive {
		return nil
	}
	if obs.Elapsed < 0 || obs.TrashPct < 0 || obs.TrashPct > 100 {
		return fmt.Errorf("%w: elapsed=%v trash=%v", ErrInvalidInput, obs.Elapsed, obs.TrashPct)
	}
	if obs.Elapsed < rt.elapsed {
		return fmt.Errorf("%w: elapsed went backwards (%v < %v)", ErrInvalidInput, obs.Elapsed, rt.elapsed)
	}

	rt.prevElapsed, rt.prevTrash = rt.elapsed, rt.trash
	rt.elapsed = obs.Elapsed
	if obs.TrashPct > rt.trash {
		rt.trash = obs.TrashPct
	}
	if obs.Deaths > rt.deaths {
		rt.deaths = obs.Deaths
	}
	rt.stepBossCredit(obs.Elapsed)

	return rt.recordMilestones()
}

// recordMilestones appends one sample per newly crossed 5% threshold. The
// recorded time solves the crossing point on the segment between the
// previous and current observation, which keeps sample times strictly
// increasing even when a single observation jumps several thresholds.
func (rt *RunTracker) recordMilestones() error {
	if last, ok := rt.timeline.Last(); ok && rt.elapsed-last.Time < milestoneDebounce {
		// bursty event sources can replay the same instant; ignore
		return nil
	}
	for rt.trash >= rt.nextThreshold && rt.nextThreshold <= 100 {
		t := rt.crossingTime(rt.nextThreshold)
		if last, ok := rt.timeline.Last(); ok && t <= last.Time {
			t = math.Nextafter(last.Time, math.Inf(1))
		}
		s := Sample{
			Time:   t,
			Trash:  rt.nextThreshold,
			Bosses: rt.BossCredit(),
			Deaths: rt.deaths,
		}
		if err := rt.timeline.Append(s); err != nil {
			return err
		}
		rt.nextThreshold += milestoneStep
	}
	return nil
}

// crossingTime estimates the first time trash reached the threshold,
// assuming linear progress between the two most recent observations.
func (rt *RunTracker) crossingTime(threshold float64) float64 {
	if rt.trash <= rt.prevTrash || threshold <= rt.prevTrash {
		return rt.elapsed
	}
	frac := (threshold - rt.prevTrash) / (rt.trash - rt.prevTrash)
	return rt.prevElapsed + frac*(rt.elapsed-rt.prevElapsed)
}

// EngageBoss opens a fight window for fractional credit. The expected
// duration comes from the reference's kill spacing when available.
func (rt *RunTracker) EngageBoss(bossIndex uint32, elapsed float64) {
	if rt.phase != trackerActive || bossIndex == 0 {
		return
	}
	for _, bp := range rt.bosses {
		if bp.bossIndex == bossIndex {
			return
		}
	}
	rt.bosses = append(rt.bosses, bossProgress{
		bossIndex:        bossIndex,
		engageTime:       elapsed,
		expectedDuration: rt.expectedBossDuration(bossIndex),
	})
}

func (rt *RunTracker) expectedBossDuration(bossIndex uint32) float64 {
	if rt.reference == nil {
		return defaultBossDuration
	}
	kills := rt.reference.BossKills
	i := int(bossIndex) - 1
	if i < 0 || i >= len(kills) {
		return defaultBossDuration
	}
	prev := 0.0
	if i > 0 {
		prev = kills[i-1].KillTime
	}
	d := kills[i].KillTime - prev
	if d <= 0 {
		return defaultBossDuration
	}
	return d
}

// stepBossCredit advances the quarter-step credit of every engaged boss.
// Credit only ever rises.
func (rt *RunTracker) stepBossCredit(now float64) {
	for i := range rt.bosses {
		bp := &rt.bosses[i]
		if bp.credited >= 1.0 || bp.expectedDuration <= 0 {
			continue
		}
		frac := (now - bp.engageTime) / bp.expectedDuration
		credit := math.Min(math.Floor(frac*4), 4) * 0.25
		if credit > bp.credited {
			bp.credited = credit
		}
	}
}

// KillBoss finalizes a boss: full credit and a kill record. Indexes must
// arrive in order, one past the previous kill count.
func (rt *RunTracker) KillBoss(bossIndex uint32, name string, elapsed float64) error {
	if rt.phase != trackerActive {
		return nil
	}
	if bossIndex != rt.killCount+1 {
		return fmt.Errorf("%w: boss index %d after %d kills", ErrInvalidInput, bossIndex, rt.killCount)
	}
	found := false
	for i := range rt.bosses {
		if rt.bosses[i].bossIndex == bossIndex {
			rt.bosses[i].credited = 1.0
			found = true
			break
		}
	}
	if !found {
		// kill without a preceding engage event still counts in full
		rt.bosses = append(rt.bosses, bossProgress{
			bossIndex:        bossIndex,
			engageTime:       elapsed,
			expectedDuration: rt.expectedBossDuration(bossIndex),
			credited:         1.0,
		})
	}
	rt.killCount++
	rt.bossKills = append(rt.bossKills, BossKill{BossIndex: bossIndex, Name: name, KillTime: elapsed})
	if elapsed > rt.elapsed {
		rt.elapsed = elapsed
	}
	return nil
}

func (rt *RunTracker) RecordDeath(elapsed float64) {
	if rt.phase != trackerActive {
		return
	}
	rt.deaths++
	if elapsed > rt.elapsed {
		rt.elapsed = elapsed
	}
}

// BossCredit is the cumulative fractional boss progress.
func (rt *RunTracker) BossCredit() float64 {
	sum := 0.0
	for _, bp := range rt.bosses {
		sum += bp.credited
	}
	return sum
}

func (rt *RunTracker) bossCredits() []float64 {
	n := 0
	for _, bp := range rt.bosses {
		if int(bp.bossIndex) > n {
			n = int(bp.bossIndex)
		}
	}
	credits := make([]float64, n)
	for _, bp := range rt.bosses {
		credits[bp.bossIndex-1] = bp.credited
	}
	return credits
}

// Current is the tracker state in the shape the comparison math wants.
func (rt *RunTracker) Current() CurrentState {
	return CurrentState{
		Elapsed:     rt.elapsed,
		Trash:       rt.trash,
		Bosses:      rt.BossCredit(),
		Deaths:      rt.deaths,
		BossCredits: rt.bossCredits(),
	}
}

func (rt *RunTracker) KillCount() uint32 {
	return rt.killCount
}

// Finish freezes the run. A final sample is appended at the completion time
// unless the last milestone already landed there.
func (rt *RunTracker) Finish(completed, inTime bool, elapsed float64) (CompletedRun, bool) {
	if rt.phase != trackerActive {
		return CompletedRun{}, false
	}
	if elapsed < rt.elapsed {
		elapsed = rt.elapsed
	}
	rt.stepBossCredit(elapsed)
	if last, ok := rt.timeline.Last(); !ok || elapsed > last.Time {
		s := Sample{Time: elapsed, Trash: rt.trash, Bosses: rt.BossCredit(), Deaths: rt.deaths}
		if err := rt.timeline.Append(s); err != nil {
			level.Warn(rt.logger).Log("msg", "dropping final sample", "err", err)
		}
	}
	rt.phase = trackerDone
	return CompletedRun{
		DungeonID:       rt.dungeonID,
		Level:           rt.level,
		TotalTime:       elapsed,
		CompletedInTime: completed && inTime,
		Deaths:          rt.deaths,
		Timeline:        rt.timeline.clone(),
		BossKills:       append([]BossKill(nil), rt.bossKills...),
	}, true
}
