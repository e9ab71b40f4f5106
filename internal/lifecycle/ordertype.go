package lifecycle

import (
	"math"

	"github.com/peycheff-com/titan-execution-core/internal/wire"
)

// VelocityTracker computes the short-horizon price velocity (percent per
// second) for a symbol from successive ticker observations, feeding the
// deterministic order-class selection in wire.SelectOrderClass.
type VelocityTracker struct {
	lastPrice float64
	lastAt    float64 // unix seconds
}

// Observe records a new price at unix-second timestamp t and returns the
// instantaneous velocity in percent-per-second since the prior
// observation. The first observation always returns 0.
func (v *VelocityTracker) Observe(price, t float64) float64 {
	if v.lastAt == 0 || v.lastPrice == 0 {
		v.lastPrice, v.lastAt = price, t
		return 0
	}
	dt := t - v.lastAt
	if dt <= 0 {
		return 0
	}
	pctChange := (price - v.lastPrice) / v.lastPrice * 100
	velocity := pctChange / dt
	v.lastPrice, v.lastAt = price, t
	return velocity
}

// ClassFor wraps wire.SelectOrderClass with the absolute-value convention
// the admission pipeline expects.
func ClassFor(velocityPctPerSec float64) wire.OrderClass {
	return wire.SelectOrderClass(math.Abs(velocityPctPerSec))
}
