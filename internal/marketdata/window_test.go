package marketdata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWindowAvg(t *testing.T) {
	now := time.Now()
	w := NewWindow(time.Hour)

	w.Add(0.01, now.Add(-30*time.Minute))
	w.Add(0.02, now.Add(-20*time.Minute))
	w.Add(0.03, now.Add(-10*time.Minute))

	avg, n := w.Avg(now)
	assert.Equal(t, 3, n)
	assert.InDelta(t, 0.02, avg, 1e-12)
}

func TestWindowEvictsOldPoints(t *testing.T) {
	now := time.Now()
	w := NewWindow(time.Hour)

	w.Add(1.0, now.Add(-90*time.Minute))
	w.Add(0.5, now.Add(-61*time.Minute))
	w.Add(0.02, now.Add(-5*time.Minute))

	avg, n := w.Avg(now)
	assert.Equal(t, 1, n)
	assert.InDelta(t, 0.02, avg, 1e-12)
}

func TestWindowEmpty(t *testing.T) {
	w := NewWindow(time.Hour)
	avg, n := w.Avg(time.Now())
	assert.Zero(t, avg)
	assert.Zero(t, n)
}

func TestWindowQueriesAreReadOnly(t *testing.T) {
	now := time.Now()
	w := NewWindow(time.Hour)
	w.Add(0.01, now)

	// A query past the horizon sees nothing but must not drop the point.
	_, n := w.Avg(now.Add(2 * time.Hour))
	assert.Zero(t, n)
	assert.Zero(t, w.Len(now.Add(2*time.Hour)))
	assert.Equal(t, 1, len(w.points))

	avg, n := w.Avg(now.Add(30 * time.Minute))
	assert.Equal(t, 1, n)
	assert.InDelta(t, 0.01, avg, 1e-12)
}

func TestWindowEvictionIsLazyOnAdd(t *testing.T) {
	now := time.Now()
	w := NewWindow(time.Minute)

	w.Add(1.0, now.Add(-2*time.Minute))
	assert.Equal(t, 1, len(w.points))

	// The next Add drops the expired point.
	w.Add(2.0, now)
	assert.Equal(t, 1, len(w.points))
	assert.Equal(t, 2.0, w.points[0].spread)
}
