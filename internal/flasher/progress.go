package flasher

import "sync"

// ProgressPhase selects a band of the overall progress scale.
type ProgressPhase int

// Progress phases and their weight bands. Connect and erase share the
// first band because erase time dwarfs connect time on large regions and
// users read them as one "preparing" stretch.
const (
	PhaseConnectErase ProgressPhase = iota // 0% - 55%
	PhaseWrite                             // 55% - 90%
	PhaseFinalize                          // 90% - 100%
)

// phaseBands is the single weight table every progress value maps through.
var phaseBands = map[ProgressPhase]struct{ start, end float64 }{
	PhaseConnectErase: {0, 55},
	PhaseWrite:        {55, 90},
	PhaseFinalize:     {90, 100},
}

// mapProgress converts a phase-local percentage in [0,100] into the
// overall scale.
func mapProgress(phase ProgressPhase, pct float64) float64 {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	band := phaseBands[phase]
	return band.start + (band.end-band.start)*pct/100
}

// ProgressTracker holds the session's overall progress value.
//
// The value is monotonically non-decreasing for the duration of one flash;
// late or out-of-order phase updates can never move it backwards. Reset is
// called only at the start of a new flash.
//
// Thread Safety: all methods are safe for concurrent use.
type ProgressTracker struct {
	mu    sync.Mutex
	value float64

	// onChange is invoked with the new overall value after each increase.
	onChange func(percent float64)
}

// NewProgressTracker creates a tracker. onChange may be nil.
func NewProgressTracker(onChange func(percent float64)) *ProgressTracker {
	return &ProgressTracker{onChange: onChange}
}

// Update maps a phase-local percentage onto the overall scale and raises
// the tracked value if the result is higher. Returns the overall value.
func (t *ProgressTracker) Update(phase ProgressPhase, pct float64) float64 {
	overall := mapProgress(phase, pct)

	t.mu.Lock()
	changed := overall > t.value
	if changed {
		t.value = overall
	}
	current := t.value
	callback := t.onChange
	t.mu.Unlock()

	if changed && callback != nil {
		callback(current)
	}
	return current
}

// Value returns the current overall progress.
func (t *ProgressTracker) Value() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value
}

// Reset returns the tracker to zero for a new flash.
func (t *ProgressTracker) Reset() {
	t.mu.Lock()
	t.value = 0
	t.mu.Unlock()
}

// logBuckets throttles progress log events to 5-point bucket boundaries
// so the session log stays readable while the raw progress stream stays
// dense. One instance per written file; each file logs 0, 5, ..., 100.
type logBuckets struct {
	next float64 // next boundary not yet logged, in percent
}

// bucketStep is the log bucket width in percentage points.
const bucketStep = 5

// crossed returns the bucket boundaries passed by pct since the last call.
func (b *logBuckets) crossed(pct float64) []float64 {
	var out []float64
	for b.next <= 100 && b.next <= pct {
		out = append(out, b.next)
		b.next += bucketStep
	}
	return out
}
