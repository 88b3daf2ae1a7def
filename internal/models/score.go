package models

// Score is a scalar confidence in [0,1]. NewScore clamps its input so the
// invariant "never negative, never NaN" (spec.md §3) holds unconditionally.
type Score struct {
	Value     float64
	Threshold float64
}

// NewScore clamps value into [0,1]; NaN is treated as 0 (neutral-low, never
// propagated).
func NewScore(value, threshold float64) Score {
	if value != value { // NaN
		value = 0
	}
	if value < 0 {
		value = 0
	}
	if value > 1 {
		value = 1
	}
	return Score{Value: value, Threshold: threshold}
}

// Pass reports whether the score meets or exceeds its threshold.
func (s Score) Pass() bool {
	return s.Value >= s.Threshold
}

// Result is the uniform outcome type every scorer/detector returns,
// replacing "exceptions as control flow" with an explicit result (spec.md
// §9): a neutral Score plus an optional non-fatal Warning.
type Result struct {
	Score   Score
	Warning string
	Details map[string]any
}
