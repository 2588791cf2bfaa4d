package vitals

import "math"

// meaningfulVoltage separates a live phase from residual noise picked up
// on an unused leg.
const meaningfulVoltage = 100

// LineToLineVoltage estimates line-to-line voltage from up to three
// phase-to-neutral readings, any of which may be zero when no AC is
// present on that phase. A single live phase passes through unchanged,
// split-phase legs are summed, and three live phases average the three
// pairwise estimates sqrt(a*a + b*b + a*b). It never fails on any input
// and all-zero input yields exactly 0.
func LineToLineVoltage(phases ...float64) float64 {
	var live []float64
	var peak float64
	for _, v := range phases {
		if v > peak {
			peak = v
		}
		if v > meaningfulVoltage {
			live = append(live, v)
		}
	}
	switch len(live) {
	case 0, 1:
		return peak
	case 2:
		return live[0] + live[1]
	}
	ll := func(a, b float64) float64 {
		return math.Sqrt(a*a + b*b + a*b)
	}
	return (ll(live[0], live[1]) + ll(live[1], live[2]) + ll(live[0], live[2])) / 3
}
