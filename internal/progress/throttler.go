// Package progress rate-limits progress notifications for a single job run.
package progress

// DefaultMinDelta is the smallest change in percent that is delivered.
const DefaultMinDelta = 5

// Throttler suppresses intermediate progress values. It is meant for one
// execution context and is not safe for concurrent use.
type Throttler struct {
	minDelta  int
	last      int
	delivered bool
}

// NewThrottler creates a throttler. A minDelta below 1 is treated as 1.
func NewThrottler(minDelta int) *Throttler {
	if minDelta < 1 {
		minDelta = 1
	}
	return &Throttler{minDelta: minDelta}
}

// Emit calls deliver with percent when it is the first value, a terminal
// value (0 or 100), or at least minDelta above the last delivered value.
// Values are clamped to [0,100] and anything not above the last delivered
// value is dropped, so delivered values never decrease.
func (t *Throttler) Emit(percent int, deliver func(int)) {
	percent = clamp(percent)

	if t.delivered && percent <= t.last {
		return
	}

	if !t.delivered || percent == 0 || percent == 100 || percent-t.last >= t.minDelta {
		t.last = percent
		t.delivered = true
		deliver(percent)
	}
}

// Last returns the last delivered value and whether anything was delivered.
func (t *Throttler) Last() (int, bool) {
	return t.last, t.delivered
}

// Percent computes floor(done/total*100). An empty total is complete.
func Percent(done, total int) int {
	if total <= 0 {
		return 100
	}
	return clamp(done * 100 / total)
}

func clamp(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
