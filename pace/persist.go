package pace

import (
	"sort"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// BestRunRecord is the logical persistence shape of a best run. The host
// owns the bytes; this package only guarantees that an encode/decode round
// trip reproduces comparison behavior exactly. Extrapolated records are
// never encoded because the store never holds them.
type BestRunRecord struct {
	DungeonID uint32           `json:"dungeon_id"`
	Level     uint32           `json:"level"`
	TotalTime float64          `json:"total_time"`
	InTime    bool             `json:"in_time"`
	Deaths    uint32           `json:"deaths"`
	StoredAt  time.Time        `json:"stored_at"`
	BossKills []BossKillRecord `json:"boss_kills"`
	Samples   []TimelineSample `json:"timeline_samples"`
}

type BossKillRecord struct {
	Index    uint32  `json:"index"`
	Name     string  `json:"name"`
	KillTime float64 `json:"kill_time"`
}

type TimelineSample struct {
	Time   float64 `json:"time"`
	Trash  float64 `json:"trash"`
	Bosses float64 `json:"bosses"`
	Deaths uint32  `json:"deaths"`
}

func EncodeBestRun(run BestRun) BestRunRecord {
	rec := BestRunRecord{
		DungeonID: run.DungeonID,
		Level:     run.Level,
		TotalTime: run.TotalTime,
		InTime:    run.CompletedInTime,
		Deaths:    run.Deaths,
		StoredAt:  run.StoredAt,
	}
	for _, bk := range run.BossKills {
		rec.BossKills = append(rec.BossKills, BossKillRecord{
			Index: bk.BossIndex, Name: bk.Name, KillTime: bk.KillTime,
		})
	}
	for _, s := range run.Timeline.Samples() {
		rec.Samples = append(rec.Samples, TimelineSample{
			Time: s.Time, Trash: s.Trash, Bosses: s.Bosses, Deaths: s.Deaths,
		})
	}
	return rec
}

// DecodeBestRun rebuilds a best run from a persisted record. Data written
// by older versions can carry duplicate or backsliding samples; offending
// samples are dropped with a diagnostic instead of failing the load. On
// equal times the earlier sample is discarded.
func DecodeBestRun(rec BestRunRecord, logger log.Logger) BestRun {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	run := BestRun{
		DungeonID:       rec.DungeonID,
		Level:           rec.Level,
		TotalTime:       rec.TotalTime,
		CompletedInTime: rec.InTime,
		Deaths:          rec.Deaths,
		StoredAt:        rec.StoredAt,
	}
	for _, bk := range rec.BossKills {
		run.BossKills = append(run.BossKills, BossKill{
			BossIndex: bk.Index, Name: bk.Name, KillTime: bk.KillTime,
		})
	}

	samples := make([]TimelineSample, len(rec.Samples))
	copy(samples, rec.Samples)
	sort.SliceStable(samples, func(i, j int) bool { return samples[i].Time < samples[j].Time })
	for i, s := range samples {
		if i+1 < len(samples) && samples[i+1].Time == s.Time {
			level.Debug(logger).Log("msg", "discarding duplicate-time sample",
				"dungeon", rec.DungeonID, "level", rec.Level, "time", s.Time)
			continue
		}
		err := run.Timeline.Append(Sample{Time: s.Time, Trash: s.Trash, Bosses: s.Bosses, Deaths: s.Deaths})
		if err != nil {
			level.Warn(logger).Log("msg", "dropping persisted sample",
				"dungeon", rec.DungeonID, "level", rec.Level, "time", s.Time, "err", err)
		}
	}
	return run
}

// Export snapshots every stored best for the host to persist.
func (s *Store) Export() []BestRunRecord {
	out := make([]BestRunRecord, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, EncodeBestRun(*r))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DungeonID != out[j].DungeonID {
			return out[i].DungeonID < out[j].DungeonID
		}
		return out[i].Level < out[j].Level
	})
	return out
}

// Import loads persisted records through the sanitizing decode path. Runs
// that did not finish in time or decode to an empty timeline never made it
// into a store and are skipped.
func (s *Store) Import(recs []BestRunRecord) {
	for _, rec := range recs {
		run := DecodeBestRun(rec, s.logger)
		if !run.CompletedInTime || run.Timeline.Len() == 0 {
			level.Warn(s.logger).Log("msg", "skipping unusable persisted run",
				"dungeon", rec.DungeonID, "level", rec.Level)
			continue
		}
		key := storeKey{dungeonID: run.DungeonID, level: run.Level}
		if existing, ok := s.runs[key]; ok && run.TotalTime >= existing.TotalTime {
			continue
		}
		clone := run.clone()
		s.runs[key] = &clone
	}
}
