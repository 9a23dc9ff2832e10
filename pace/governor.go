package pace

// ActivityKind names one of the three independently throttled activities.
type ActivityKind int

const (
	KindTrash ActivityKind = iota
	KindBoss
	KindCalc
)

// Profile bundles the throttle intervals (seconds) and comparison tuning of
// one performance tier.
type Profile struct {
	Name                 string
	TrashMinInterval     float64
	BossMinInterval      float64
	CalcMinInterval      float64
	InterpolationSamples int
	Smoothing            bool
}

const (
	ProfileLow      = "low"
	ProfileBalanced = "balanced"
	ProfileHigh     = "high"
	ProfileCustom   = "custom"
)

var profiles = map[string]Profile{
	ProfileLow: {
		Name:                 ProfileLow,
		TrashMinInterval:     0.50,
		BossMinInterval:      0.50,
		CalcMinInterval:      2.00,
		InterpolationSamples: 5,
	},
	ProfileBalanced: {
		Name:                 ProfileBalanced,
		TrashMinInterval:     0.25,
		BossMinInterval:      0.50,
		CalcMinInterval:      1.00,
		InterpolationSamples: 10,
		Smoothing:            true,
	},
	ProfileHigh: {
		Name:                 ProfileHigh,
		TrashMinInterval:     0.10,
		BossMinInterval:      0.25,
		CalcMinInterval:      0.50,
		InterpolationSamples: 20,
		Smoothing:            true,
	},
}

// ProfileByName resolves a profile name; anything unrecognized falls back
// to balanced.
func ProfileByName(name string) Profile {
	if p, ok := profiles[name]; ok {
		return p
	}
	return profiles[ProfileBalanced]
}

// Governor rate-limits the event path. It is stateless; callers own their
// own "last admitted" timestamps and pass them in, which keeps the limits
// in one discoverable place instead of sprinkled through the event path.
type Governor struct {
	profile Profile
}

func NewGovernor(p Profile) Governor {
	return Governor{profile: p}
}

func (g Governor) Profile() Profile {
	return g.profile
}

func (g Governor) minInterval(kind ActivityKind) float64 {
	switch kind {
	case KindTrash:
		return g.profile.TrashMinInterval
	case KindBoss:
		return g.profile.BossMinInterval
	case KindCalc:
		return g.profile.CalcMinInterval
	}
	return 0
}

// allowEpsilon absorbs float rounding in the gap, so a decimal timestamp
// such as 10.1 after 10 still counts as a full 0.1s interval.
const allowEpsilon = 1e-9

// Allow reports whether an activity of the given kind may run at now, given
// when it last ran.
func (g Governor) Allow(kind ActivityKind, last, now float64) bool {
	return now-last+allowEpsilon >= g.minInterval(kind)
}
