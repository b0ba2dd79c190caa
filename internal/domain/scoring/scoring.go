// Package scoring converts an external packaging score into reward units.
package scoring

// Score mapping constants. A score of 0..19 earns the minimum, 80 and above
// earns the maximum.
const (
	MinUnits    = 1
	MaxUnits    = 5
	bucketWidth = 20
	MinScore    = 0
	MaxScore    = 100
)

// Map returns the reward units for an external score.
// It is total, pure and monotonic non-decreasing, and never returns less than MinUnits.
// Negative scores earn MinUnits; a missing score should be passed as 0.
func Map(score int) int64 {
	if score < 0 {
		return MinUnits
	}
	units := int64(score/bucketWidth) + 1
	if units > MaxUnits {
		return MaxUnits
	}
	return units
}

// Clamp bounds a raw score to [MinScore, MaxScore] for reporting.
func Clamp(score int) int {
	switch {
	case score < MinScore:
		return MinScore
	case score > MaxScore:
		return MaxScore
	default:
		return score
	}
}
