package retraction

import "math"

// MaxZMargin is kept between the hopped nozzle and the top of Z travel.
const MaxZMargin = 0.1

// zhopMoveSpeedFraction scales max_z_velocity for hop and hop-return moves.
const zhopMoveSpeedFraction = 0.8

// LimitZHop returns the hop height that keeps currentZ+height at least
// MaxZMargin below maximumZ, and whether the requested height was reduced.
// The result is never negative.
func LimitZHop(requested, maximumZ, currentZ float64) (height float64, clamped bool) {
	margin := maximumZ - currentZ - MaxZMargin
	if requested > margin {
		return math.Max(0, margin), true
	}
	return requested, false
}
