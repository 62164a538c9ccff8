package marketdata

import (
	"time"
)

// point is one spread observation inside a rolling window.
type point struct {
	spread float64
	at     time.Time
}

// Window is a rolling time window of cross-venue spread observations for one
// symbol. Eviction is lazy: old points are dropped on the next Add rather
// than by a background sweep; queries skip expired points without mutating.
type Window struct {
	horizon time.Duration
	points  []point
}

// NewWindow returns an empty window covering the given horizon.
func NewWindow(horizon time.Duration) *Window {
	return &Window{horizon: horizon}
}

// Add appends one spread observation. Observations must arrive in
// chronological order; the window evicts everything older than at-horizon.
func (w *Window) Add(spread float64, at time.Time) {
	w.evict(at)
	w.points = append(w.points, point{spread: spread, at: at})
}

// Avg returns the mean spread of the points still inside the horizon as of
// now, along with how many points contributed. A window with no live points
// returns (0, 0). Avg is read-only so snapshot readers can share a read
// lock; eviction happens on Add.
func (w *Window) Avg(now time.Time) (float64, int) {
	cutoff := now.Add(-w.horizon)
	var sum float64
	n := 0
	for _, p := range w.points {
		if p.at.After(cutoff) {
			sum += p.spread
			n++
		}
	}
	if n == 0 {
		return 0, 0
	}
	return sum / float64(n), n
}

// Len returns the number of points inside the horizon as of now. Read-only,
// like Avg.
func (w *Window) Len(now time.Time) int {
	cutoff := now.Add(-w.horizon)
	n := 0
	for _, p := range w.points {
		if p.at.After(cutoff) {
			n++
		}
	}
	return n
}

// evict drops points older than now-horizon. Points are ordered, so a single
// scan from the front suffices.
func (w *Window) evict(now time.Time) {
	cutoff := now.Add(-w.horizon)
	i := 0
	for i < len(w.points) && !w.points[i].at.After(cutoff) {
		i++
	}
	if i > 0 {
		w.points = append(w.points[:0], w.points[i:]...)
	}
}
