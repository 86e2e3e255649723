package pipeline

import (
	"strconv"
	"sync"
	"time"
)

// DurationAccumulator keeps a running total and count per function. Each
// slot has its own lock so concurrent predictions only contend on the same
// function. Statistics are never reset.
type DurationAccumulator struct {
	slots []durationSlot
}

type durationSlot struct {
	mu    sync.Mutex
	total time.Duration
	count int64
}

// NewDurationAccumulator creates n empty slots.
func NewDurationAccumulator(n int) *DurationAccumulator {
	return &DurationAccumulator{slots: make([]durationSlot, n)}
}

// Record adds d to slot i and returns the new average.
func (a *DurationAccumulator) Record(i int, d time.Duration) time.Duration {
	s := &a.slots[i]
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total += d
	s.count++
	return s.total / time.Duration(s.count)
}

// Average returns the mean duration of slot i and how many samples it has.
func (a *DurationAccumulator) Average(i int) (time.Duration, int64) {
	s := &a.slots[i]
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count == 0 {
		return 0, 0
	}
	return s.total / time.Duration(s.count), s.count
}

// AverageSeconds returns every slot's mean in seconds, or nil before the
// first prediction.
func (a *DurationAccumulator) AverageSeconds() []float64 {
	out := make([]float64, len(a.slots))
	seen := false
	for i := range a.slots {
		avg, n := a.Average(i)
		if n > 0 {
			seen = true
		}
		out[i] = avg.Seconds()
	}
	if !seen {
		return nil
	}
	return out
}

func itoa(i int) string { return strconv.Itoa(i) }
