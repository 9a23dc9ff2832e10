package pace

import (
	"errors"
	"math"
)

var (
	ErrNoSource     = errors.New("no source timeline to extrapolate from")
	ErrInvalidScale = errors.New("destination level below source level")
)

// ScaleFunc maps a (source, destination) level pair to a time dilation
// ratio. Implementations must be pure: same levels in, same ratio out.
type ScaleFunc func(src, dst uint32) float64

// DefaultScale budgets roughly +10% time per key level.
func DefaultScale(src, dst uint32) float64 {
	return math.Pow(1.10, float64(dst)-float64(src))
}

// Extrapolate synthesizes a best run for level dst by dilating a run stored
// at a lower level. Progress percentages and kill counts are untouched;
// only the time axis stretches, so the shape of progress over time is
// preserved. A same-level call is the identity modulo the extrapolation
// markers.
func Extrapolate(src *BestRun, dst uint32, scale ScaleFunc) (BestRun, error) {
	if src == nil || src.Timeline.Len() == 0 {
		return BestRun{}, ErrNoSource
	}
	if dst < src.Level {
		return BestRun{}, ErrInvalidScale
	}
	if scale == nil {
		scale = DefaultScale
	}
	r := scale(src.Level, dst)

	out := src.clone()
	out.Level = dst
	out.TotalTime = src.TotalTime * r
	out.IsExtrapolated = true
	out.SourceLevel = src.Level

	scaled := make([]Sample, 0, src.Timeline.Len())
	for _, s := range src.Timeline.Samples() {
		s.Time *= r
		scaled = append(scaled, s)
	}
	out.Timeline = Timeline{samples: scaled}
	for i := range out.BossKills {
		out.BossKills[i].KillTime *= r
	}
	return out, nil
}
