package pace

import (
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/zoobzio/clockz"
)

// BestRun is the fastest successful completion of one (dungeon, level)
// slot, with its full sampled timeline and boss kill times. Records are
// replaced wholesale, never mutated in place.
type BestRun struct {
	DungeonID       uint32
	Level           uint32
	TotalTime       float64
	CompletedInTime bool
	Deaths          uint32
	StoredAt        time.Time
	IsExtrapolated  bool
	SourceLevel     uint32
	Timeline        Timeline
	BossKills       []BossKill
}

func (r *BestRun) clone() BestRun {
	out := *r
	out.Timeline = r.Timeline.clone()
	out.BossKills = append([]BossKill(nil), r.BossKills...)
	return out
}

type storeKey struct {
	dungeonID uint32
	level     uint32
}

// Store keeps at most one best run per (dungeon, level). It owns its
// records outright: readers get value-typed clones, and reference lookups
// may synthesize extrapolated records that are never written back.
type Store struct {
	logger        log.Logger
	clock         clockz.Clock
	extrapolation bool
	scale         ScaleFunc
	runs          map[storeKey]*BestRun
}

type StoreOption func(*Store)

func WithStoreLogger(logger log.Logger) StoreOption {
	return func(s *Store) { s.logger = logger }
}

func WithStoreClock(clock clockz.Clock) StoreOption {
	return func(s *Store) { s.clock = clock }
}

// WithExtrapolation gates the lower-level fallback of Reference and sets
// the scaling policy; a nil scale keeps the default.
func WithExtrapolation(enabled bool, scale ScaleFunc) StoreOption {
	return func(s *Store) {
		s.extrapolation = enabled
		if scale != nil {
			s.scale = scale
		}
	}
}

func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		logger: log.NewNopLogger(),
		clock:  clockz.RealClock,
		scale:  DefaultScale,
		runs:   map[storeKey]*BestRun{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put offers a completed run. It lands only when the slot is empty or the
// run is strictly faster than the incumbent, and only for runs completed
// in time; everything else is a logged no-op.
func (s *Store) Put(run CompletedRun) bool {
	if !run.CompletedInTime {
		level.Debug(s.logger).Log("msg", "not storing run that missed the timer",
			"dungeon", run.DungeonID, "level", run.Level, "total", run.TotalTime)
		return false
	}
	key := storeKey{dungeonID: run.DungeonID, level: run.Level}
	if existing, ok := s.runs[key]; ok && run.TotalTime >= existing.TotalTime {
		level.Debug(s.logger).Log("msg", "keeping existing best",
			"dungeon", run.DungeonID, "level", run.Level,
			"existing", existing.TotalTime, "offered", run.TotalTime)
		return false
	}
	s.runs[key] = &BestRun{
		DungeonID:       run.DungeonID,
		Level:           run.Level,
		TotalTime:       run.TotalTime,
		CompletedInTime: true,
		Deaths:          run.Deaths,
		StoredAt:        s.clock.Now(),
		Timeline:        run.Timeline.clone(),
		BossKills:       append([]BossKill(nil), run.BossKills...),
	}
	level.Info(s.logger).Log("msg", "new best run",
		"dungeon", run.DungeonID, "level", run.Level, "total", run.TotalTime)
	return true
}

// Best returns the exact-match record, if any.
func (s *Store) Best(dungeonID, level uint32) (BestRun, bool) {
	if r, ok := s.runs[storeKey{dungeonID: dungeonID, level: level}]; ok {
		return r.clone(), true
	}
	return BestRun{}, false
}

// Reference resolves the record a new run at (dungeonID, level) should be
// paced against: the exact match when present, otherwise the highest
// lower-level run dilated up, when extrapolation is enabled.
func (s *Store) Reference(dungeonID, lvl uint32) (BestRun, bool) {
	if r, ok := s.Best(dungeonID, lvl); ok {
		return r, true
	}
	if !s.extrapolation {
		return BestRun{}, false
	}
	var src *BestRun
	for key, r := range s.runs {
		if key.dungeonID != dungeonID || key.level >= lvl {
			continue
		}
		if src == nil || key.level > src.Level {
			src = r
		}
	}
	if src == nil {
		return BestRun{}, false
	}
	out, err := Extrapolate(src, lvl, s.scale)
	if err != nil {
		level.Warn(s.logger).Log("msg", "extrapolation failed, treating as no reference",
			"dungeon", dungeonID, "level", lvl, "source_level", src.Level, "err", err)
		return BestRun{}, false
	}
	return out, true
}

func (s *Store) Delete(dungeonID, level uint32) {
	delete(s.runs, storeKey{dungeonID: dungeonID, level: level})
}

func (s *Store) DeleteAll() {
	s.runs = map[storeKey]*BestRun{}
}

func (s *Store) Len() int {
	return len(s.runs)
}
