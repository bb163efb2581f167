package supervisor

import (
	"math"
	"time"
)

// RestartPolicy spaces out repeated restarts of the same failed unit
type RestartPolicy interface {
	// Delay is the minimum time since the previous restart before the unit
	// may be restarted again, given how many restarts it has already had.
	Delay(restarts int) time.Duration
}

// RestartDelay grows the gap between restarts geometrically: the first
// restart waits Base, each further one Factor times longer, up to Max.
// A Factor below 1 keeps the gap constant. A zero Max means no cap.
type RestartDelay struct {
	Base   time.Duration
	Max    time.Duration
	Factor float64
}

// Delay implements RestartPolicy
func (d *RestartDelay) Delay(restarts int) time.Duration {
	if restarts < 1 || d.Base <= 0 {
		return 0
	}

	factor := d.Factor
	if factor < 1 {
		factor = 1
	}
	gap := float64(d.Base) * math.Pow(factor, float64(restarts-1))

	if d.Max > 0 && gap >= float64(d.Max) {
		return d.Max
	}
	if gap >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(gap)
}
