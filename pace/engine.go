/*
 Copyright 2024 The Pace Exporter Authors.

 Licensed under the Apache License, Version 2.0 (the "License");
 you may not use this file except in compliance with the License.
 You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License.
*/

package pace

import (
	"errors"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/zoobzio/clockz"
)

var (
	ErrAlreadyActive = errors.New("a run is already active")
	ErrNotActive     = errors.New("no run is active")
)

const minCacheTTL = time.Second

// Engine is the facade over the whole analyzer: it owns the active run's
// tracker, consults the governor before admitting observations and boss
// engages (kills and deaths always pass), and serves
// cached comparisons. All methods must be called from one logical
// execution context; the engine takes no locks of its own.
type Engine struct {
	logger  log.Logger
	clock   clockz.Clock
	cfg     Config
	gov     Governor
	store   *Store
	metrics *Metrics

	tracker   *RunTracker
	active    bool
	startWall time.Time
	reference *BestRun
	lastTrash float64
	lastBoss  float64

	cache   *Comparison
	cacheAt time.Time
}

type EngineOption func(*Engine)

func WithLogger(logger log.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

func WithClock(clock clockz.Clock) EngineOption {
	return func(e *Engine) { e.clock = clock }
}

func WithConfig(cfg Config) EngineOption {
	return func(e *Engine) { e.cfg = cfg }
}

// WithRegisterer wires the engine's self-metrics into the given registry.
func WithRegisterer(reg prometheus.Registerer) EngineOption {
	return func(e *Engine) { e.metrics = NewMetrics(reg) }
}

func NewEngine(store *Store, opts ...EngineOption) *Engine {
	e := &Engine{
		logger: log.NewNopLogger(),
		clock:  clockz.RealClock,
		cfg:    DefaultConfig(),
		store:  store,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.gov = NewGovernor(e.cfg.governorProfile())
	e.tracker = NewRunTracker(e.logger)
	return e
}

// StartRun binds the reference for (dungeonID, level) and arms the
// tracker. The reference is captured by value here and never re-read, so
// store mutations mid-run cannot shift the goalposts.
func (e *Engine) StartRun(dungeonID, lvl uint32) error {
	if e.active {
		level.Warn(e.logger).Log("msg", "start ignored, run already active",
			"dungeon", dungeonID, "level", lvl)
		return ErrAlreadyActive
	}
	e.reference = nil
	if ref, ok := e.store.Reference(dungeonID, lvl); ok {
		e.reference = &ref
	}
	e.tracker.Start(dungeonID, lvl, e.reference)
	e.active = true
	e.startWall = e.clock.Now()
	e.lastTrash = -1
	e.lastBoss = -1
	e.invalidate()
	level.Info(e.logger).Log("msg", "run started", "dungeon", dungeonID, "level", lvl,
		"has_reference", e.reference != nil,
		"extrapolated", e.reference != nil && e.reference.IsExtrapolated)
	return nil
}

// UpdateProgress feeds one raw observation through the governor gate into
// the tracker. Rejected or throttled observations leave the last good
// state untouched.
func (e *Engine) UpdateProgress(obs Observation) {
	if !e.active {
		return
	}
	if !e.gov.Allow(KindTrash, e.lastTrash, obs.Elapsed) {
		e.metrics.observation("trash", resultThrottled)
		return
	}
	if err := e.tracker.Observe(obs); err != nil {
		if errors.Is(err, ErrInvalidInput) {
			e.metrics.observation("trash", resultRejected)
			level.Debug(e.logger).Log("msg", "observation rejected", "err", err)
			return
		}
		// the tracker checks before appending, so a timeline failure here
		// means engine state is corrupt; halt the run
		level.Error(e.logger).Log("msg", "internal invariant failed, abandoning run", "err", err)
		e.ResetRun()
		return
	}
	e.lastTrash = obs.Elapsed
	e.metrics.observation("trash", resultAdmitted)
	e.invalidate()
}

// RecordBossEngage opens a fight window. Engage events are throttled on
// the boss interval; kills and deaths are never dropped.
func (e *Engine) RecordBossEngage(bossIndex uint32, elapsed float64) {
	if !e.active {
		return
	}
	if !e.gov.Allow(KindBoss, e.lastBoss, elapsed) {
		e.metrics.observation("boss", resultThrottled)
		return
	}
	e.lastBoss = elapsed
	e.tracker.EngageBoss(bossIndex, elapsed)
	e.metrics.observation("boss", resultAdmitted)
	e.invalidate()
}

func (e *Engine) RecordBossKill(bossIndex uint32, name string, elapsed float64) {
	if !e.active {
		return
	}
	if err := e.tracker.KillBoss(bossIndex, name, elapsed); err != nil {
		e.metrics.observation("boss", resultRejected)
		level.Debug(e.logger).Log("msg", "boss kill rejected", "err", err)
		return
	}
	e.metrics.observation("boss", resultAdmitted)
	e.invalidate()
}

func (e *Engine) RecordDeath(elapsed float64) {
	if !e.active {
		return
	}
	e.tracker.RecordDeath(elapsed)
	e.invalidate()
}

// Comparison reports how the active run is pacing against its reference.
// Results are cached for one second or the governor's calc interval,
// whichever is longer; the cache drops whenever an admitted event lands.
func (e *Engine) Comparison() (Comparison, bool) {
	if !e.active || e.reference == nil {
		return Comparison{}, false
	}
	now := e.clock.Now()
	if e.cache != nil && now.Sub(e.cacheAt) <= e.cacheTTL() {
		e.metrics.comparison(sourceCached)
		return *e.cache, true
	}
	cmp, ok := Compare(e.tracker.Current(), e.reference, e.cfg)
	if !ok {
		return Comparison{}, false
	}
	if e.gov.Profile().Smoothing && e.cache != nil {
		// soften jitter between recomputes; deltas stay exact, only the
		// headline scalar is blended
		cmp.Efficiency = 0.7*cmp.Efficiency + 0.3*e.cache.Efficiency
	}
	e.cache = &cmp
	e.cacheAt = now
	e.metrics.comparison(sourceComputed)
	return cmp, true
}

func (e *Engine) cacheTTL() time.Duration {
	ttl := time.Duration(e.gov.Profile().CalcMinInterval * float64(time.Second))
	if ttl < minCacheTTL {
		ttl = minCacheTTL
	}
	return ttl
}

// EndRun freezes the run and, for completions that beat the timer, offers
// it to the store. Reports whether the store accepted a new best.
func (e *Engine) EndRun(completed, inTime bool, elapsed float64) bool {
	if !e.active {
		level.Warn(e.logger).Log("msg", "end ignored", "err", ErrNotActive)
		return false
	}
	run, ok := e.tracker.Finish(completed, inTime, elapsed)
	e.clearActive()
	if !ok {
		return false
	}
	outcome := outcomeAbandoned
	newBest := false
	if completed {
		outcome = outcomeOverTime
		if inTime {
			outcome = outcomeInTime
			newBest = e.store.Put(run)
		}
	}
	e.metrics.runFinished(outcome, run.TotalTime, newBest)
	level.Info(e.logger).Log("msg", "run ended", "dungeon", run.DungeonID, "level", run.Level,
		"outcome", outcome, "total", run.TotalTime, "new_best", newBest)
	return newBest
}

// ResetRun abandons the active run without touching the store.
func (e *Engine) ResetRun() {
	if !e.active {
		return
	}
	cur := e.tracker.Current()
	e.metrics.runFinished(outcomeAbandoned, cur.Elapsed, false)
	e.clearActive()
	level.Info(e.logger).Log("msg", "run reset")
}

func (e *Engine) clearActive() {
	e.active = false
	e.reference = nil
	e.tracker = NewRunTracker(e.logger)
	e.invalidate()
}

func (e *Engine) invalidate() {
	e.cache = nil
	e.cacheAt = time.Time{}
}

func (e *Engine) IsTracking() bool {
	return e.active
}

func (e *Engine) Store() *Store {
	return e.store
}

// Snapshot is a value-typed view of the active run for UI surfaces.
type Snapshot struct {
	Active         bool
	DungeonID      uint32
	Level          uint32
	StartedAt      time.Time
	Elapsed        float64
	Trash          float64
	BossCredit     float64
	KillCount      uint32
	Deaths         uint32
	HasReference   bool
	IsExtrapolated bool
	ReferenceTotal float64
}

func (e *Engine) Snapshot() Snapshot {
	if !e.active {
		return Snapshot{}
	}
	cur := e.tracker.Current()
	snap := Snapshot{
		Active:     true,
		DungeonID:  e.tracker.dungeonID,
		Level:      e.tracker.level,
		StartedAt:  e.startWall,
		Elapsed:    cur.Elapsed,
		Trash:      cur.Trash,
		BossCredit: cur.Bosses,
		KillCount:  e.tracker.KillCount(),
		Deaths:     cur.Deaths,
	}
	if e.reference != nil {
		snap.HasReference = true
		snap.IsExtrapolated = e.reference.IsExtrapolated
		snap.ReferenceTotal = e.reference.TotalTime
	}
	return snap
}

// ReferenceCurve resamples the bound reference at the profile's
// interpolation density, for UIs that want to draw the pace line without
// holding a reference into engine state.
func (e *Engine) ReferenceCurve() []Sample {
	if !e.active || e.reference == nil {
		return nil
	}
	n := e.gov.Profile().InterpolationSamples
	if n < 2 {
		n = 2
	}
	total := e.reference.TotalTime
	out := make([]Sample, 0, n)
	for i := 0; i < n; i++ {
		t := total * float64(i) / float64(n-1)
		p := e.reference.Timeline.At(t)
		out = append(out, Sample{Time: t, Trash: p.Trash, Bosses: p.Bosses, Deaths: p.Deaths})
	}
	return out
}
